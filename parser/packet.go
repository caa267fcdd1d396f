// Package parser implements the link/IP/UDP/RTP header decoder and IP
// fragment reassembler. It is a pure decode/classify boundary: no
// session lookups, no queues.
package parser

import (
	"encoding/binary"
	"errors"
)

// LinkLayerKind identifies the capture link-layer type, analogous to a
// pcap DLT value.
type LinkLayerKind int

const (
	LinkEthernet LinkLayerKind = iota
	LinkRaw                    // no link layer, IP starts at offset 0
)

// Flags is the classification return bitmask.
type Flags uint16

const (
	FlagValid Flags = 1 << iota
	FlagMalformed
	FlagFragmentSaved
	FlagReassembledAvailable
	FlagDuplicate
	FlagNonIP
)

var (
	ErrTooShort    = errors.New("parser: buffer too short")
	ErrNotEthernet = errors.New("parser: unsupported link layer")
)

// PacketInfo is the decoded packet shape returned by Parse.
type PacketInfo struct {
	Flags Flags

	IPVersion  int
	IPHdrLen   int
	Protocol   uint8 // IP protocol number (6 TCP, 17 UDP)
	SrcIP      [16]byte
	DstIP      [16]byte
	IsIPv6     bool
	SrcPort    uint16
	DstPort    uint16
	PayloadLen int

	// UDPPayload is the full UDP body view, set for every UDP datagram
	// regardless of whether it parses as RTP -- non-RTP UDP traffic on
	// a session-control port is SIP or SAP signaling, classified by
	// sipfilter from this view.
	UDPPayload []byte

	// RTP fields, valid only when HasRTP is true.
	HasRTP         bool
	RTPVersion     uint8
	RTPPadding     bool
	RTPExtension   bool
	RTPMarker      bool
	RTPPayloadType uint8
	RTPSeq         uint16
	RTPTimestamp   uint32
	RTPSSRC        uint32
	RTPHeaderLen   int
	RTPPayload     []byte // view into the input buffer

	// Fragment bookkeeping.
	IsFragment     bool
	FragID         uint16
	FragOffset     uint16
	MoreFragments  bool
	DontFragment   bool
}

// Parse decodes buffer according to linkKind, filling a PacketInfo.
// Non-IP ethernet types (ARP, 802.2 LLC, capture meta) are tagged
// FlagNonIP and otherwise ignored.
func Parse(buffer []byte, linkKind LinkLayerKind) (PacketInfo, error) {
	var info PacketInfo

	ipOffset := 0
	switch linkKind {
	case LinkEthernet:
		if len(buffer) < 14 {
			info.Flags = FlagMalformed
			return info, ErrTooShort
		}
		etherType := binary.BigEndian.Uint16(buffer[12:14])
		switch etherType {
		case 0x0800: // IPv4
			ipOffset = 14
		case 0x86DD: // IPv6
			ipOffset = 14
		case 0x0806: // ARP
			info.Flags = FlagNonIP
			return info, nil
		default:
			// 802.2 LLC / SNAP / Wireshark capture meta and anything
			// else not carrying IP are tagged non-IP and ignored
			// upstream.
			info.Flags = FlagNonIP
			return info, nil
		}
	case LinkRaw:
		ipOffset = 0
	default:
		info.Flags = FlagMalformed
		return info, ErrNotEthernet
	}

	if len(buffer) <= ipOffset {
		info.Flags = FlagMalformed
		return info, ErrTooShort
	}

	b := buffer[ipOffset:]
	version := b[0] >> 4
	switch version {
	case 4:
		return parseIPv4(b, info)
	case 6:
		return parseIPv6(b, info)
	default:
		info.Flags = FlagMalformed
		return info, errors.New("parser: unrecognized IP version")
	}
}

func parseIPv4(b []byte, info PacketInfo) (PacketInfo, error) {
	if len(b) < 20 {
		info.Flags = FlagMalformed
		return info, ErrTooShort
	}

	ihl := int(b[0]&0x0F) * 4
	if ihl < 20 || len(b) < ihl {
		info.Flags = FlagMalformed
		return info, ErrTooShort
	}

	totalLen := int(binary.BigEndian.Uint16(b[2:4]))
	flagsFrag := binary.BigEndian.Uint16(b[6:8])
	fragOffset := (flagsFrag & 0x1FFF) * 8
	moreFragments := flagsFrag&0x2000 != 0
	dontFragment := flagsFrag&0x4000 != 0
	fragID := binary.BigEndian.Uint16(b[4:6])
	proto := b[9]

	info.IPVersion = 4
	info.IPHdrLen = ihl
	info.Protocol = proto
	copy(info.SrcIP[:4], b[12:16])
	copy(info.DstIP[:4], b[16:20])
	info.FragID = fragID
	info.FragOffset = fragOffset
	info.MoreFragments = moreFragments
	info.DontFragment = dontFragment
	info.IsFragment = moreFragments || fragOffset != 0

	end := totalLen
	if end > len(b) || end == 0 {
		end = len(b)
	}
	payload := b[ihl:end]

	if info.IsFragment && fragOffset != 0 {
		// Only the first fragment carries the L4 header; others are
		// opaque until reassembly completes.
		info.Flags = FlagValid | FlagFragmentSaved
		info.PayloadLen = len(payload)
		return info, nil
	}

	return parseL4(proto, payload, info, FlagValid)
}

func parseIPv6(b []byte, info PacketInfo) (PacketInfo, error) {
	if len(b) < 40 {
		info.Flags = FlagMalformed
		return info, ErrTooShort
	}
	payloadLen := int(binary.BigEndian.Uint16(b[4:6]))
	nextHeader := b[6]
	info.IPVersion = 6
	info.IPHdrLen = 40
	info.IsIPv6 = true
	info.Protocol = nextHeader
	copy(info.SrcIP[:], b[8:24])
	copy(info.DstIP[:], b[24:40])

	end := 40 + payloadLen
	if end > len(b) || payloadLen == 0 {
		end = len(b)
	}
	return parseL4(nextHeader, b[40:end], info, FlagValid)
}

const (
	protoTCP = 6
	protoUDP = 17
)

func parseL4(proto uint8, payload []byte, info PacketInfo, okFlags Flags) (PacketInfo, error) {
	switch proto {
	case protoUDP:
		if len(payload) < 8 {
			info.Flags = FlagMalformed
			return info, ErrTooShort
		}
		info.SrcPort = binary.BigEndian.Uint16(payload[0:2])
		info.DstPort = binary.BigEndian.Uint16(payload[2:4])
		udpLen := int(binary.BigEndian.Uint16(payload[4:6]))
		body := payload[8:]
		if udpLen >= 8 && udpLen-8 <= len(body) {
			body = body[:udpLen-8]
		}
		info.PayloadLen = len(body)
		info.UDPPayload = body

		if len(body) >= 12 && body[0]>>6 == 2 {
			parseRTP(body, &info)
		}
		info.Flags = okFlags
		return info, nil

	case protoTCP:
		if len(payload) < 20 {
			info.Flags = FlagMalformed
			return info, ErrTooShort
		}
		info.SrcPort = binary.BigEndian.Uint16(payload[0:2])
		info.DstPort = binary.BigEndian.Uint16(payload[2:4])
		dataOffset := int(payload[12]>>4) * 4
		if dataOffset < 20 || dataOffset > len(payload) {
			dataOffset = 20
		}
		info.PayloadLen = len(payload) - dataOffset
		info.Flags = okFlags
		return info, nil

	default:
		info.Flags = okFlags
		return info, nil
	}
}

// parseRTP fills RTP fields when the UDP payload looks like RTP:
// version==2 and length >= 12.
func parseRTP(b []byte, info *PacketInfo) {
	version := b[0] >> 6
	if version != 2 {
		return
	}
	padding := b[0]&0x20 != 0
	extension := b[0]&0x10 != 0
	csrcCount := int(b[0] & 0x0F)
	marker := b[1]&0x80 != 0
	pt := b[1] & 0x7F

	hdrLen := 12 + csrcCount*4
	if hdrLen > len(b) {
		return
	}

	if extension {
		if hdrLen+4 > len(b) {
			return
		}
		extLen := int(binary.BigEndian.Uint16(b[hdrLen+2 : hdrLen+4]))
		hdrLen += 4 + extLen*4
		if hdrLen > len(b) {
			return
		}
	}

	info.HasRTP = true
	info.RTPVersion = version
	info.RTPPadding = padding
	info.RTPExtension = extension
	info.RTPMarker = marker
	info.RTPPayloadType = pt
	info.RTPSeq = binary.BigEndian.Uint16(b[2:4])
	info.RTPTimestamp = binary.BigEndian.Uint32(b[4:8])
	info.RTPSSRC = binary.BigEndian.Uint32(b[8:12])
	info.RTPHeaderLen = hdrLen
	info.RTPPayload = b[hdrLen:]
}
