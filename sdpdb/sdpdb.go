// Package sdpdb implements the SDP database: rtpmap/fmtp extraction
// from SDP bodies carried in SIP INVITEs or SAP announcements, indexed
// per input stream.
package sdpdb

import (
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// RtpMap is one rtpmap attribute: payload type to encoding name /
// clock rate / channel count.
type RtpMap struct {
	PayloadType uint8
	Encoding    string
	ClockRate   uint32
	Channels    int
}

// StreamEntry is one input stream's extracted SDP offer: its rtpmap
// table keyed by payload type, and the raw fmtp parameter string per
// payload type.
type StreamEntry struct {
	RtpMaps map[uint8]RtpMap
	Fmtp    map[uint8]string
}

func newStreamEntry() *StreamEntry {
	return &StreamEntry{RtpMaps: make(map[uint8]RtpMap), Fmtp: make(map[uint8]string)}
}

// DB is the per-input-stream SDP database, written by the app thread
// that owns the stream and read by the Session Manager on the same
// thread.
type DB struct {
	streams map[string]*StreamEntry
}

func New() *DB { return &DB{streams: make(map[string]*StreamEntry)} }

// Ingest parses an SDP body and merges its rtpmap/fmtp attributes into
// the database entry for streamKey: on INVITE or SAP/SDP, extract
// rtpmap and fmtp and insert into the per-stream SDP table when
// stream-SDP mode is enabled.
func (db *DB) Ingest(streamKey string, body []byte) error {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return err
	}

	entry, ok := db.streams[streamKey]
	if !ok {
		entry = newStreamEntry()
		db.streams[streamKey] = entry
	}

	for _, media := range desc.MediaDescriptions {
		for _, attr := range media.Attributes {
			switch attr.Key {
			case "rtpmap":
				if m, pt, ok := parseRtpMap(attr.Value); ok {
					entry.RtpMaps[pt] = m
				}
			case "fmtp":
				if pt, params, ok := parseFmtp(attr.Value); ok {
					entry.Fmtp[pt] = params
				}
			}
		}
	}
	return nil
}

// Lookup returns the stream's SDP entry, if any.
func (db *DB) Lookup(streamKey string) (*StreamEntry, bool) {
	e, ok := db.streams[streamKey]
	return e, ok
}

// parseRtpMap parses "96 opus/48000/2" into a RtpMap.
func parseRtpMap(value string) (RtpMap, uint8, bool) {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return RtpMap{}, 0, false
	}
	ptVal, err := strconv.Atoi(fields[0])
	if err != nil || ptVal < 0 || ptVal > 255 {
		return RtpMap{}, 0, false
	}
	pt := uint8(ptVal)

	parts := strings.Split(fields[1], "/")
	m := RtpMap{PayloadType: pt, Channels: 1}
	if len(parts) >= 1 {
		m.Encoding = parts[0]
	}
	if len(parts) >= 2 {
		if rate, err := strconv.ParseUint(parts[1], 10, 32); err == nil {
			m.ClockRate = uint32(rate)
		}
	}
	if len(parts) >= 3 {
		if ch, err := strconv.Atoi(parts[2]); err == nil {
			m.Channels = ch
		}
	}
	return m, pt, true
}

// parseFmtp parses "96 useinbandfec=1" into (payload type, params).
func parseFmtp(value string) (uint8, string, bool) {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return 0, "", false
	}
	ptVal, err := strconv.Atoi(fields[0])
	if err != nil || ptVal < 0 || ptVal > 255 {
		return 0, "", false
	}
	return uint8(ptVal), fields[1], true
}
