// Package iohandlers implements the Domain Stack I/O layer from
// (part of component C1/C8 external interfaces): pcap
// reading/writing via gopacket/pcapgo, a hand-rolled rtpdump reader,
// N-channel wav output for stream groups, and H.26x bitstream
// extraction for video pull output.
package iohandlers

import (
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PcapReader wraps pcapgo.Reader to yield raw link-layer frames plus
// their capture timestamps, feeding parser.Parse.
type PcapReader struct {
	r        *pcapgo.Reader
	LinkType layers.LinkType
}

func OpenPcap(r io.Reader) (*PcapReader, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &PcapReader{r: pr, LinkType: pr.LinkType()}, nil
}

// Next returns the next frame and its capture timestamp, or io.EOF.
func (p *PcapReader) Next() ([]byte, time.Time, error) {
	data, ci, err := p.r.ReadPacketData()
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, ci.Timestamp, nil
}

// PcapWriter wraps pcapgo.Writer for pull-side pcap output.
type PcapWriter struct {
	w        *pcapgo.Writer
	snaplen  uint32
	linkType layers.LinkType
}

func NewPcapWriter(w io.Writer, linkType layers.LinkType, snaplen uint32) (*PcapWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snaplen, linkType); err != nil {
		return nil, err
	}
	return &PcapWriter{w: pw, snaplen: snaplen, linkType: linkType}, nil
}

// WriteFrame writes one link-layer frame with a synthesized or
// cache-derived timestamp.
func (p *PcapWriter) WriteFrame(data []byte, ts time.Time) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}
	return p.w.WritePacket(ci, data)
}
