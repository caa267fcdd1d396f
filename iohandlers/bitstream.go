package iohandlers

import (
	"io"

	"github.com/signalrtp/rtpengine/codec"
)

// annexBStartCode is the 4-byte Annex B NAL start code used between
// units in an elementary bitstream.
var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// H26xExtractor reassembles RTP-fragmented H.264 (RFC 6184) / H.265
// (RFC 7798) NAL units into an Annex B elementary bitstream for the
// video pull-output path.
type H26xExtractor struct {
	Type codec.Type // codec.TypeH264 or codec.TypeH265
	w    io.Writer

	fu []byte // in-progress fragmentation-unit reassembly buffer
}

func NewH26xExtractor(w io.Writer, t codec.Type) *H26xExtractor {
	return &H26xExtractor{Type: t, w: w}
}

// WritePayload consumes one RTP payload and writes any complete NAL
// units it produces to the underlying writer.
func (e *H26xExtractor) WritePayload(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if e.Type == codec.TypeH265 {
		return e.writeH265(payload)
	}
	return e.writeH264(payload)
}

func (e *H26xExtractor) writeNAL(nal []byte) error {
	if _, err := e.w.Write(annexBStartCode); err != nil {
		return err
	}
	_, err := e.w.Write(nal)
	return err
}

// writeH264 handles RFC 6184 single-NAL, STAP-A aggregation, and
// FU-A fragmentation packetization modes.
func (e *H26xExtractor) writeH264(payload []byte) error {
	nalType := payload[0] & 0x1F
	switch {
	case nalType >= 1 && nalType <= 23:
		return e.writeNAL(payload)

	case nalType == 24: // STAP-A
		buf := payload[1:]
		for len(buf) >= 2 {
			size := int(buf[0])<<8 | int(buf[1])
			buf = buf[2:]
			if size > len(buf) {
				return nil
			}
			if err := e.writeNAL(buf[:size]); err != nil {
				return err
			}
			buf = buf[size:]
		}
		return nil

	case nalType == 28: // FU-A
		if len(payload) < 2 {
			return nil
		}
		fuHeader := payload[1]
		start := fuHeader&0x80 != 0
		end := fuHeader&0x40 != 0
		fuType := fuHeader & 0x1F

		if start {
			reconstructedHeader := (payload[0] & 0xE0) | fuType
			e.fu = append([]byte{reconstructedHeader}, payload[2:]...)
		} else if e.fu != nil {
			e.fu = append(e.fu, payload[2:]...)
		}

		if end && e.fu != nil {
			err := e.writeNAL(e.fu)
			e.fu = nil
			return err
		}
		return nil

	default:
		return nil
	}
}

// writeH265 handles RFC 7798 single-NAL, aggregation-packet, and
// fragmentation-unit packetization modes.
func (e *H26xExtractor) writeH265(payload []byte) error {
	if len(payload) < 2 {
		return nil
	}
	nalType := (payload[0] >> 1) & 0x3F

	switch {
	case nalType < 48:
		return e.writeNAL(payload)

	case nalType == 48: // aggregation packet
		buf := payload[2:]
		for len(buf) >= 2 {
			size := int(buf[0])<<8 | int(buf[1])
			buf = buf[2:]
			if size > len(buf) {
				return nil
			}
			if err := e.writeNAL(buf[:size]); err != nil {
				return err
			}
			buf = buf[size:]
		}
		return nil

	case nalType == 49: // fragmentation unit
		if len(payload) < 3 {
			return nil
		}
		fuHeader := payload[2]
		start := fuHeader&0x80 != 0
		end := fuHeader&0x40 != 0
		realType := fuHeader & 0x3F

		if start {
			b0 := (payload[0] & 0x81) | (realType << 1)
			b1 := payload[1]
			e.fu = append([]byte{b0, b1}, payload[3:]...)
		} else if e.fu != nil {
			e.fu = append(e.fu, payload[3:]...)
		}

		if end && e.fu != nil {
			err := e.writeNAL(e.fu)
			e.fu = nil
			return err
		}
		return nil

	default:
		return nil
	}
}
