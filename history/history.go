// Package history implements the Packet-History Log & Analyzer: a
// per-thread bounded circular record array appended to at push and
// pull time, plus a post-run analyzer doing SSRC discovery, optional
// collation, per-SSRC stats, and input-vs-output correlation.
package history

import (
	"sort"
	"strconv"

	"github.com/signalrtp/rtpengine/jitter"
)

// Direction marks whether a record was captured on the push or pull
// side of the pipeline.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

// Record is one fixed-size packet-history entry: append-only per
// thread, merged only post-run, so no locking is needed on the hot
// path.
type Record struct {
	Direction Direction
	SSRC      uint32
	Seq       uint16
	Timestamp uint32
	Content   jitter.ContentFlag
	Channel   int
	GroupID   string
	Index     int // position within the owning thread's log, for ordering
}

const defaultCapacity = 300_000

// Log is one worker thread's bounded circular record array.
type Log struct {
	records []Record
	next    int
	full    bool
}

func NewLog() *Log { return NewLogWithCapacity(defaultCapacity) }

func NewLogWithCapacity(capacity int) *Log {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Log{records: make([]Record, capacity)}
}

// Append adds r to the log, overwriting the oldest record once full.
func (l *Log) Append(r Record) {
	r.Index = l.next
	l.records[l.next] = r
	l.next++
	if l.next == len(l.records) {
		l.next = 0
		l.full = true
	}
}

// Records returns the log contents in append order (oldest first).
func (l *Log) Records() []Record {
	if !l.full {
		out := make([]Record, l.next)
		copy(out, l.records[:l.next])
		return out
	}
	out := make([]Record, len(l.records))
	n := copy(out, l.records[l.next:])
	copy(out[n:], l.records[:l.next])
	return out
}

const ssrcLookaheadWindow = 30

// SSRCSpan is one SSRC's discovered extent within a record set.
type SSRCSpan struct {
	SSRC       uint32
	FirstIndex int
	LastIndex  int
}

// DiscoverSSRCs makes a single pass collecting unique SSRCs and their
// first/last indices, using a 30-packet lookahead to pick the true
// "first" seq under initial reordering.
func DiscoverSSRCs(records []Record) []SSRCSpan {
	firstSeen := make(map[uint32]int)
	lastSeen := make(map[uint32]int)
	order := []uint32{}

	for i, r := range records {
		if _, ok := firstSeen[r.SSRC]; !ok {
			firstSeen[r.SSRC] = i
			order = append(order, r.SSRC)
		}
		lastSeen[r.SSRC] = i
	}

	// Lookahead correction: within the first ssrcLookaheadWindow
	// records of an SSRC's appearance, if an earlier-arriving record
	// has a smaller sequence number, treat that one as "first".
	for _, ssrc := range order {
		start := firstSeen[ssrc]
		end := start + ssrcLookaheadWindow
		if end > len(records) {
			end = len(records)
		}
		best := start
		for i := start; i < end; i++ {
			if records[i].SSRC != ssrc {
				continue
			}
			if seqLess(records[i].Seq, records[best].Seq) {
				best = i
			}
		}
		firstSeen[ssrc] = best
	}

	spans := make([]SSRCSpan, 0, len(order))
	for _, ssrc := range order {
		spans = append(spans, SSRCSpan{SSRC: ssrc, FirstIndex: firstSeen[ssrc], LastIndex: lastSeen[ssrc]})
	}
	return spans
}

// seqLess compares RTP sequence numbers tolerating wraparound, true
// when a is "before" b within a half-range window.
func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}

// Collate rearranges records so all packets of one SSRC are
// contiguous, preserving relative order within each SSRC and ordering
// groups by first appearance.
func Collate(records []Record) []Record {
	order := []uint32{}
	seen := make(map[uint32]bool)
	byS := make(map[uint32][]Record)

	for _, r := range records {
		if !seen[r.SSRC] {
			seen[r.SSRC] = true
			order = append(order, r.SSRC)
		}
		byS[r.SSRC] = append(byS[r.SSRC], r)
	}

	out := make([]Record, 0, len(records))
	for _, ssrc := range order {
		out = append(out, byS[ssrc]...)
	}
	return out
}

// SSRCStats holds the per-SSRC analytics counters.
type SSRCStats struct {
	SSRC                  uint32
	OOO                   int
	Duplicates            int
	Missing               int
	MaxConsecutiveMissing int
	SID                   int
	SIDReuse              int
	SIDNoData             int
	DTX                   int
	DTMF                  int
	RepairedMedia         int
	RepairedSID           int
}

const oooSearchWindow = 16

// ComputeStats computes SSRCStats over one SSRC's records (already
// collated or filtered to this SSRC, in capture order).
func ComputeStats(records []Record) SSRCStats {
	var st SSRCStats
	if len(records) == 0 {
		return st
	}
	st.SSRC = records[0].SSRC

	seen := make(map[uint16]bool, len(records))
	var expected uint16
	haveExpected := false
	consecMissing := 0

	for i, r := range records {
		switch {
		case r.Content&jitter.ContentSID != 0:
			st.SID++
		case r.Content&jitter.ContentSIDReuse != 0:
			st.SIDReuse++
		case r.Content&jitter.ContentSIDNoData != 0:
			st.SIDNoData++
		case r.Content&jitter.ContentDTMF != 0, r.Content&jitter.ContentDTMFEnd != 0:
			st.DTMF++
		}
		if r.Content&jitter.ContentRepairMedia != 0 {
			st.RepairedMedia++
		}
		if r.Content&jitter.ContentRepairSID != 0 {
			st.RepairedSID++
		}

		if i > 0 && r.Seq == records[i-1].Seq && r.Content&jitter.ContentDTMF == 0 {
			st.Duplicates++
		}

		if !seen[r.Seq] {
			seen[r.Seq] = true
		}

		if !haveExpected {
			expected = r.Seq
			haveExpected = true
		}
		if r.Seq != expected {
			// search a bounded window forward for the expected seq;
			// if not found within the window it counts as missing.
			found := false
			for j := i; j < len(records) && j < i+oooSearchWindow; j++ {
				if records[j].Seq == expected {
					found = true
					break
				}
			}
			if found {
				st.OOO++
			} else if seqLess(expected, r.Seq) {
				gap := int(r.Seq - expected)
				st.Missing += gap
				if gap > consecMissing {
					consecMissing = gap
				}
				if consecMissing > st.MaxConsecutiveMissing {
					st.MaxConsecutiveMissing = consecMissing
				}
				consecMissing = 0
			}
		} else {
			consecMissing = 0
		}
		expected = r.Seq + 1
	}

	return st
}

// CorrelationResult is the input-vs-output comparison for one SSRC.
type CorrelationResult struct {
	SSRC              uint32
	Dropped           []uint16
	Duplicated        []uint16
	TimestampMismatch []uint16
}

// Correlate greedily maps input-SSRC groups to output-SSRC groups by
// SSRC equality, then for each mapped pair walks input records and
// searches for the expected seq in output (tolerating
// SID-reuse-inserted frames that raise the output seq space).
func Correlate(input, output []Record) []CorrelationResult {
	inBySSRC := groupBySSRC(input)
	outBySSRC := groupBySSRC(output)

	var results []CorrelationResult
	for ssrc, inRecs := range inBySSRC {
		outRecs, ok := outBySSRC[ssrc]
		if !ok {
			continue
		}
		results = append(results, correlateOne(ssrc, inRecs, outRecs))
	}
	sort.Slice(results, func(i, j int) bool { return results[i].SSRC < results[j].SSRC })
	return results
}

func groupBySSRC(records []Record) map[uint32][]Record {
	out := make(map[uint32][]Record)
	for _, r := range records {
		out[r.SSRC] = append(out[r.SSRC], r)
	}
	return out
}

func correlateOne(ssrc uint32, in, out []Record) CorrelationResult {
	res := CorrelationResult{SSRC: ssrc}

	outSeqCount := make(map[uint16]int)
	outSeqTimestamp := make(map[uint16]uint32)
	sidReuseOffset := 0
	for _, o := range out {
		outSeqCount[o.Seq]++
		outSeqTimestamp[o.Seq] = o.Timestamp
		if o.Content&jitter.ContentSIDReuse != 0 {
			sidReuseOffset++
		}
	}

	for _, r := range in {
		count := outSeqCount[r.Seq]
		switch {
		case count == 0 && sidReuseOffset == 0:
			res.Dropped = append(res.Dropped, r.Seq)
		case count == 0:
			sidReuseOffset--
		case count > 1:
			res.Duplicated = append(res.Duplicated, r.Seq)
		}
		if ts, ok := outSeqTimestamp[r.Seq]; ok && ts != r.Timestamp {
			res.TimestampMismatch = append(res.TimestampMismatch, r.Seq)
		}
	}
	return res
}

// OrganizeKey selects one of the three post-run record groupings.
type OrganizeKey int

const (
	OrganizeBySSRC OrganizeKey = iota
	OrganizeByChannel
	OrganizeByGroup
)

// Organize buckets records per the requested view.
func Organize(records []Record, by OrganizeKey) map[string][]Record {
	out := make(map[string][]Record)
	for _, r := range records {
		var key string
		switch by {
		case OrganizeByChannel:
			key = strconv.Itoa(r.Channel)
		case OrganizeByGroup:
			key = r.GroupID
		default:
			key = strconv.FormatUint(uint64(r.SSRC), 10)
		}
		out[key] = append(out[key], r)
	}
	return out
}
