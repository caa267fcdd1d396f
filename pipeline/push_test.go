package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalrtp/rtpengine/parser"
)

type fakeResolver struct {
	q  SessionQueue
	ok bool
}

func (f fakeResolver) Resolve(info parser.PacketInfo) (SessionQueue, bool) {
	return f.q, f.ok
}

func TestPusherPushesWhenGateOpenAFAP(t *testing.T) {
	q := make(SessionQueue, 4)
	p := NewPusher(fakeResolver{q: q, ok: true}, nil)
	s := &StreamState{Name: "s1", Mode: PacingAFAP}
	p.AddStream(s)

	packets := []parser.PacketInfo{{RTPSeq: 1}, {RTPSeq: 2}}
	idx := 0
	next := func(st *StreamState) (parser.PacketInfo, uint32, bool) {
		if idx >= len(packets) {
			return parser.PacketInfo{}, 0, false
		}
		pkt := packets[idx]
		idx++
		return pkt, uint32(idx), true
	}

	now := time.Now()
	p.RunOnce(now, next)
	p.RunOnce(now, next)

	require.Len(t, q, 2)
	first := <-q
	second := <-q
	assert.Equal(t, uint16(1), first.Info.RTPSeq)
	assert.Equal(t, uint16(2), second.Info.RTPSeq)
}

func TestPusherArrivalTimestampGateHoldsPacket(t *testing.T) {
	q := make(SessionQueue, 4)
	p := NewPusher(fakeResolver{q: q, ok: true}, nil)
	s := &StreamState{Name: "s1", Mode: PacingArrivalTimestamp, TimeScale: 1}
	p.AddStream(s)

	served := false
	next := func(st *StreamState) (parser.PacketInfo, uint32, bool) {
		if served {
			return parser.PacketInfo{}, 0, false
		}
		served = true
		return parser.PacketInfo{RTPSeq: 5}, 1000, true
	}

	now := time.Now()
	p.RunOnce(now, next) // first packet always establishes baseline and should push through (elapsed 0 >= target 0? equal not less -> gate opens)
	assert.Len(t, q, 1)
}

func TestPusherDropsAfterMaxRetries(t *testing.T) {
	q := make(SessionQueue) // unbuffered, always full
	p := NewPusher(fakeResolver{q: q, ok: true}, nil)
	s := &StreamState{Name: "s1", Mode: PacingAFAP}
	p.AddStream(s)

	served := false
	next := func(st *StreamState) (parser.PacketInfo, uint32, bool) {
		if served {
			return parser.PacketInfo{}, 0, false
		}
		served = true
		return parser.PacketInfo{RTPSeq: 9}, 1, true
	}

	now := time.Now()
	for i := 0; i < maxPushRetries+2; i++ {
		p.RunOnce(now, next)
	}
	assert.Nil(t, s.cached)
}

func TestPusherDropsOnDuplicate(t *testing.T) {
	q := make(SessionQueue, 4)
	dedup := parser.NewDupWindow(8)
	p := NewPusher(fakeResolver{q: q, ok: true}, dedup)
	s := &StreamState{Name: "s1", Mode: PacingAFAP}
	p.AddStream(s)

	calls := 0
	next := func(st *StreamState) (parser.PacketInfo, uint32, bool) {
		if calls >= 2 {
			return parser.PacketInfo{}, 0, false
		}
		calls++
		return parser.PacketInfo{RTPSeq: 42, SrcPort: 1000, DstPort: 2000}, uint32(calls), true
	}

	now := time.Now()
	p.RunOnce(now, next)
	p.RunOnce(now, next)

	assert.Len(t, q, 1)
}
