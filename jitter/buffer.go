// Package jitter implements the per-endpoint adaptive jitter buffer
// 3/4.6 (part of component C6): a lazy sequence of
// {seq, timestamp, payload} slots keyed by RTP sequence number with
// wrap tracking, accepting packets out of order within a lookback
// window and releasing them in strict sequence order.
package jitter

import (
	"container/heap"
	"time"
)

// ContentFlag marks what kind of content a slot carries, mirroring
// the packet-history content-flags 3.
type ContentFlag uint8

const (
	ContentMedia ContentFlag = 1 << iota
	ContentSID
	ContentSIDReuse
	ContentSIDNoData
	ContentDTMF
	ContentDTMFEnd
	ContentRepairMedia
	ContentRepairSID
)

// Config controls jitter-buffer behavior: delays expressed as ptime
// multiples, plus the RFC 7198 lookback depth and OOO-holdoff flag.
type Config struct {
	Ptime               time.Duration
	TargetDelayPtimes   int
	MaxDelayPtimes      int
	MinDelayPtimes      int
	RFC7198LookbackPtimes int
	OOOHoldoff          bool
	MaxRepairPtimes     int
	DTXEnable           bool
	SIDRepairEnable     bool
	PacketRepairEnable  bool
}

// Packet is one jitter-buffer slot.
type Packet struct {
	Seq       uint16
	Timestamp uint32
	Payload   []byte
	Content   ContentFlag
	Arrival   time.Time
}

// Status reports what Pull produced.
type Status int

const (
	StatusEmpty Status = iota
	StatusPacket
	StatusRepaired
	StatusLoss
)

type slot struct {
	ext  uint64
	pkt  Packet
}

// slotHeap is a min-heap over extended sequence numbers.
type slotHeap []slot

func (h slotHeap) Len() int            { return len(h) }
func (h slotHeap) Less(i, j int) bool  { return h[i].ext < h[j].ext }
func (h slotHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *slotHeap) Push(x interface{}) { *h = append(*h, x.(slot)) }
func (h *slotHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Buffer is one termination endpoint's jitter buffer.
type Buffer struct {
	cfg Config

	seq        ExtendedSeq
	heap       slotHeap
	present    map[uint64]bool // recent-dup / RFC7198 lookback check
	lookback   []uint64

	expected   uint64
	started    bool

	firstPacketAt time.Time
	packetsIn     int

	// StatsLoss/StatsRepaired/StatsDuplicate/StatsOOO are running
	// counters surfaced to packet-history analytics.
	StatsLoss      int
	StatsRepaired  int
	StatsDuplicate int
	StatsOOO       int
}

func NewBuffer(cfg Config) *Buffer {
	if cfg.Ptime <= 0 {
		cfg.Ptime = 20 * time.Millisecond
	}
	b := &Buffer{cfg: cfg, present: make(map[uint64]bool)}
	heap.Init(&b.heap)
	return b
}

// Push inserts pkt. It tolerates any arrival order within the RFC 7198
// lookback window and rejects exact duplicates already emitted or
// already buffered.
func (b *Buffer) Push(pkt Packet) (accepted bool, duplicate bool) {
	ext := b.seq.Extended(pkt.Seq)
	if !b.started {
		b.expected = ext
		b.started = true
		b.firstPacketAt = pkt.Arrival
	}

	if ext < b.expected {
		// Already released -- RFC 7198 retransmission of an old
		// sequence number, or a stale duplicate.
		b.StatsDuplicate++
		return false, true
	}

	if b.present[ext] {
		b.StatsDuplicate++
		return false, true
	}

	b.present[ext] = true
	b.lookback = append(b.lookback, ext)
	if max := b.cfg.RFC7198LookbackPtimes + 8; len(b.lookback) > max {
		old := b.lookback[0]
		b.lookback = b.lookback[1:]
		delete(b.present, old)
	}

	heap.Push(&b.heap, slot{ext: ext, pkt: pkt})
	b.packetsIn++
	if ext < b.seq.maxExt {
		// Arrived after a higher sequence number was already seen.
		b.StatsOOO++
	}
	return true, false
}

// Ready reports whether a slot is eligible for release: either the
// expected sequence is present, or the buffer has accumulated target
// delay worth of packets and the max delay bound has elapsed since the
// packet right after the oldest hole arrived.
func (b *Buffer) Ready(now time.Time) bool {
	if len(b.heap) == 0 {
		return false
	}
	if b.heap[0].ext == b.expected {
		return true
	}
	// Max-delay forced release: if we've been waiting longer than
	// MaxDelayPtimes*ptime for the expected packet, give up on it.
	if b.packetsIn < b.cfg.TargetDelayPtimes {
		return false
	}
	waitLimit := time.Duration(b.cfg.MaxDelayPtimes) * b.cfg.Ptime
	return now.Sub(b.heap[0].pkt.Arrival) > waitLimit
}

// Pull releases the next eligible packet. When a gap is observed
// within MaxRepairPtimes, it synthesizes a repair packet tagged with
// the appropriate content flag (SID-repair vs media-repair); otherwise
// the missing position is reported as loss. Either way the expected
// counter advances by one, so a wider gap takes one Pull per position.
func (b *Buffer) Pull(now time.Time) (Packet, Status) {
	if !b.Ready(now) {
		return Packet{}, StatusEmpty
	}

	top := b.heap[0]
	if top.ext == b.expected {
		heap.Pop(&b.heap)
		delete(b.present, top.ext)
		b.expected++
		return top.pkt, StatusPacket
	}

	gap := top.ext - b.expected
	if b.cfg.OOOHoldoff && int(gap) <= b.cfg.MaxRepairPtimes {
		// Hold off: retain the hole and wait for a later Pull, unless
		// max delay already forced us here (Ready already accounted
		// for that via waitLimit).
	}

	if int(gap) <= b.cfg.MaxRepairPtimes && (b.cfg.SIDRepairEnable || b.cfg.PacketRepairEnable) {
		repaired := b.synthesizeRepair(top.pkt, b.expected)
		b.expected++
		b.StatsRepaired++
		return repaired, StatusRepaired
	}

	// Gap exceeds repair capability or repair is disabled: report
	// loss for this one sequence position and keep trying on the next
	// Pull for subsequent holes.
	b.StatsLoss++
	b.expected++
	return Packet{Seq: uint16(b.expected - 1)}, StatusLoss
}

func (b *Buffer) synthesizeRepair(reference Packet, ext uint64) Packet {
	flag := ContentRepairMedia
	if b.cfg.SIDRepairEnable && reference.Content&ContentSID != 0 {
		flag = ContentRepairSID
	}
	return Packet{
		Seq:       uint16(ext),
		Timestamp: reference.Timestamp,
		Payload:   append([]byte(nil), reference.Payload...),
		Content:   flag,
		Arrival:   reference.Arrival,
	}
}

// Len reports the current number of buffered packets (heap
// occupancy). Push places no cap on it; packets leave only via Pull.
func (b *Buffer) Len() int { return len(b.heap) }

// Reset clears the buffered packets, the lookback history, the release
// position and the statistics counters. The sequence-extension state
// is kept.
func (b *Buffer) Reset() {
	b.heap = nil
	b.present = make(map[uint64]bool)
	b.lookback = nil
	b.started = false
	b.expected = 0
	b.packetsIn = 0
	b.StatsLoss, b.StatsRepaired, b.StatsDuplicate, b.StatsOOO = 0, 0, 0, 0
}
