package iohandlers

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"time"
)

// RtpDumpRecord is one rtpdump binary-format record: a capture
// timestamp offset plus the raw RTP/RTCP packet bytes.
type RtpDumpRecord struct {
	OffsetMS int32
	Packet   []byte
}

var errBadRtpDumpHeader = errors.New("iohandlers: not an rtpdump file")

// RtpDumpReader parses the rtpdump binary format (the `#!rtpplay1.0`
// text header and a fixed 16-byte binary file header, followed by
// variable-length packet records, each led by its own 8-byte record
// header carrying the record and packet lengths). No known
// library reads this format (pion/rtp only frames a single RTP packet
// already in hand, gopacket has no rtpdump decoder), so this is
// hand-rolled, matching rtpdump's role as an input format alongside
// pcap.
type RtpDumpReader struct {
	r *bufio.Reader
}

func OpenRtpDump(r io.Reader) (*RtpDumpReader, error) {
	br := bufio.NewReader(r)

	line, err := br.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "#!rtpplay") {
		return nil, errBadRtpDumpHeader
	}

	// Fixed binary header: 4 bytes start sec, 4 bytes start usec,
	// 4 bytes source addr, 2 bytes source port, 2 bytes padding.
	header := make([]byte, 16)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, err
	}

	return &RtpDumpReader{r: br}, nil
}

// Next returns the next record, or io.EOF at end of file.
func (d *RtpDumpReader) Next() (RtpDumpRecord, error) {
	lenBuf := make([]byte, 8)
	if _, err := io.ReadFull(d.r, lenBuf); err != nil {
		return RtpDumpRecord{}, err
	}

	length := binary.BigEndian.Uint16(lenBuf[0:2])
	plen := binary.BigEndian.Uint16(lenBuf[2:4])
	offsetMS := int32(binary.BigEndian.Uint32(lenBuf[4:8]))

	if length < 8 {
		return RtpDumpRecord{}, errors.New("iohandlers: malformed rtpdump record length")
	}

	packet := make([]byte, plen)
	if _, err := io.ReadFull(d.r, packet); err != nil {
		return RtpDumpRecord{}, err
	}

	return RtpDumpRecord{OffsetMS: offsetMS, Packet: packet}, nil
}

// RtpDumpWriter writes the rtpdump binary format for pull-side output.
type RtpDumpWriter struct {
	w       io.Writer
	started time.Time
}

func NewRtpDumpWriter(w io.Writer, start time.Time) (*RtpDumpWriter, error) {
	if _, err := io.WriteString(w, "#!rtpplay1.0 0.0.0.0/0\n"); err != nil {
		return nil, err
	}
	header := make([]byte, 16)
	binary.BigEndian.PutUint32(header[0:4], uint32(start.Unix()))
	binary.BigEndian.PutUint32(header[4:8], uint32(start.Nanosecond()/1000))
	if _, err := w.Write(header); err != nil {
		return nil, err
	}
	return &RtpDumpWriter{w: w, started: start}, nil
}

func (d *RtpDumpWriter) WriteRecord(at time.Time, packet []byte) error {
	offset := int32(at.Sub(d.started).Milliseconds())

	rec := make([]byte, 8+len(packet))
	binary.BigEndian.PutUint16(rec[0:2], uint16(8+len(packet)))
	binary.BigEndian.PutUint16(rec[2:4], uint16(len(packet)))
	binary.BigEndian.PutUint32(rec[4:8], uint32(offset))
	copy(rec[8:], packet)

	_, err := d.w.Write(rec)
	return err
}
