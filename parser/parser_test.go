package parser

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildEthIPUDPRTP(t *testing.T, payloadType uint8, seq uint16, payload []byte) []byte {
	t.Helper()
	rtp := make([]byte, 12+len(payload))
	rtp[0] = 0x80 // version 2
	rtp[1] = payloadType
	binary.BigEndian.PutUint16(rtp[2:4], seq)
	binary.BigEndian.PutUint32(rtp[4:8], 1000)
	binary.BigEndian.PutUint32(rtp[8:12], 0xCAFEBABE)
	copy(rtp[12:], payload)

	udp := make([]byte, 8+len(rtp))
	binary.BigEndian.PutUint16(udp[0:2], 5000)
	binary.BigEndian.PutUint16(udp[2:4], 6000)
	binary.BigEndian.PutUint16(udp[4:6], uint16(len(udp)))
	copy(udp[8:], rtp)

	ip := make([]byte, 20+len(udp))
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(len(ip)))
	ip[8] = 64
	ip[9] = protoUDP
	copy(ip[12:16], []byte{10, 0, 0, 1})
	copy(ip[16:20], []byte{10, 0, 0, 2})
	copy(ip[20:], udp)

	eth := make([]byte, 14+len(ip))
	binary.BigEndian.PutUint16(eth[12:14], 0x0800)
	copy(eth[14:], ip)
	return eth
}

func TestParseRTPOverUDP(t *testing.T) {
	buf := buildEthIPUDPRTP(t, 0, 1000, make([]byte, 160))
	info, err := Parse(buf, LinkEthernet)
	require.NoError(t, err)
	assert.True(t, info.Flags&FlagValid != 0)
	require.True(t, info.HasRTP)
	assert.Equal(t, uint8(0), info.RTPPayloadType)
	assert.Equal(t, uint16(1000), info.RTPSeq)
	assert.Equal(t, uint32(0xCAFEBABE), info.RTPSSRC)
	assert.Equal(t, 160, len(info.RTPPayload))
}

func TestParseNonIPIsTagged(t *testing.T) {
	eth := make([]byte, 20)
	binary.BigEndian.PutUint16(eth[12:14], 0x0806) // ARP
	info, err := Parse(eth, LinkEthernet)
	require.NoError(t, err)
	assert.True(t, info.Flags&FlagNonIP != 0)
}

func TestParseMalformedShort(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3}, LinkEthernet)
	assert.Error(t, err)
}

func TestReassemblerJoinsTwoFragments(t *testing.T) {
	r := NewReassembler(4, time.Minute)
	now := time.Now()

	info1 := PacketInfo{SrcIP: [16]byte{1}, DstIP: [16]byte{2}, FragID: 42, Protocol: protoUDP, MoreFragments: true, FragOffset: 0}
	first := []byte("hello, ")
	_, done := r.Add(info1, first, now)
	assert.False(t, done)

	info2 := PacketInfo{SrcIP: [16]byte{1}, DstIP: [16]byte{2}, FragID: 42, Protocol: protoUDP, MoreFragments: false, FragOffset: uint16(len(first))}
	second := []byte("world!")
	full, done := r.Add(info2, second, now)
	require.True(t, done)
	assert.Equal(t, "hello, world!", string(full))
	assert.Equal(t, 0, r.Len())
}

func TestReassemblerEvictsOldestWhenFull(t *testing.T) {
	r := NewReassembler(1, time.Minute)
	now := time.Now()

	info1 := PacketInfo{SrcIP: [16]byte{1}, FragID: 1, Protocol: protoUDP, MoreFragments: true}
	r.Add(info1, []byte("a"), now)
	require.Equal(t, 1, r.Len())

	info2 := PacketInfo{SrcIP: [16]byte{2}, FragID: 2, Protocol: protoUDP, MoreFragments: true}
	r.Add(info2, []byte("b"), now)
	assert.Equal(t, 1, r.Len())
}

func TestDupWindowRejectsExactDuplicate(t *testing.T) {
	w := NewDupWindow(8)
	sig := DupSignature{SrcPort: 5000, DstPort: 6000, Seq: 10, Length: 160}
	assert.False(t, w.Check(sig))
	assert.True(t, w.Check(sig))
}
