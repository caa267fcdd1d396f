package parser

import (
	"sort"
	"time"
)

// fragKey keys the saved-fragment table by {src, dst, id, proto}.
type fragKey struct {
	src, dst [16]byte
	id       uint16
	proto    uint8
}

type fragChunk struct {
	offset int
	data   []byte
	last   bool
}

type fragEntry struct {
	chunks   []fragChunk
	total    int // total length, known once the last fragment arrives
	created  time.Time
	lastSeen time.Time
}

// Reassembler holds in-flight IPv4 fragments in a bounded table,
// evicting oldest-first when full and self-destructing entries after a
// timeout.
type Reassembler struct {
	capacity int
	timeout  time.Duration
	entries  map[fragKey]*fragEntry
	order    []fragKey // insertion order, for oldest-first eviction
}

func NewReassembler(capacity int, timeout time.Duration) *Reassembler {
	return &Reassembler{
		capacity: capacity,
		timeout:  timeout,
		entries:  make(map[fragKey]*fragEntry),
	}
}

// Add records one fragment. It returns the reassembled packet and true
// once all fragments for its key have arrived (i.e. once a 0-offset
// chunk and a "last fragment" chunk are both present and the span is
// contiguous).
func (r *Reassembler) Add(info PacketInfo, fragPayload []byte, now time.Time) ([]byte, bool) {
	key := fragKey{src: info.SrcIP, dst: info.DstIP, id: info.FragID, proto: info.Protocol}

	r.evictExpired(now)

	e, ok := r.entries[key]
	if !ok {
		if len(r.entries) >= r.capacity {
			r.evictOldest()
		}
		e = &fragEntry{created: now}
		r.entries[key] = e
		r.order = append(r.order, key)
	}
	e.lastSeen = now

	chunk := fragChunk{offset: int(info.FragOffset), data: append([]byte(nil), fragPayload...), last: !info.MoreFragments}
	e.chunks = append(e.chunks, chunk)
	if chunk.last {
		e.total = chunk.offset + len(chunk.data)
	}

	reassembled, done := tryAssemble(e)
	if done {
		delete(r.entries, key)
		r.removeFromOrder(key)
	}
	return reassembled, done
}

func tryAssemble(e *fragEntry) ([]byte, bool) {
	if e.total == 0 {
		return nil, false
	}

	sorted := append([]fragChunk(nil), e.chunks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].offset < sorted[j].offset })

	buf := make([]byte, e.total)
	filled := 0
	next := 0
	for _, c := range sorted {
		if c.offset != next {
			return nil, false // gap, not ready yet
		}
		n := copy(buf[c.offset:], c.data)
		next = c.offset + n
		filled += n
	}
	if next != e.total {
		return nil, false
	}
	return buf, true
}

func (r *Reassembler) evictOldest() {
	if len(r.order) == 0 {
		return
	}
	oldest := r.order[0]
	r.order = r.order[1:]
	delete(r.entries, oldest)
}

func (r *Reassembler) evictExpired(now time.Time) {
	if r.timeout <= 0 {
		return
	}
	var kept []fragKey
	for _, k := range r.order {
		e, ok := r.entries[k]
		if !ok {
			continue
		}
		if now.Sub(e.lastSeen) > r.timeout {
			delete(r.entries, k)
			continue
		}
		kept = append(kept, k)
	}
	r.order = kept
}

func (r *Reassembler) removeFromOrder(key fragKey) {
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// Len reports the number of in-flight reassembly entries, for tests
// and diagnostics.
func (r *Reassembler) Len() int { return len(r.entries) }
