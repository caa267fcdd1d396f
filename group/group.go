// Package group implements the Stream-Group Engine: per-ptime-slot
// time alignment, merge, deduplication and FLC (frame loss
// concealment) across a named set of contributor sessions, with one
// owner session defining the merged output codec.
package group

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Flags mirrors the group-level behavior toggles for a stream group.
type Flags uint32

const (
	FlagEnableMerging Flags = 1 << iota
	FlagEnableASR
	FlagEnableDeduplication
	FlagFLCDisable
	FlagFLCHoldoffs
	FlagWavOutputNChannel
	FlagPtimePeriodicMarkers
	FlagDisableContributorFlush
)

// Config parameterizes one stream group, defaulting to 20ms / 8kHz
// G.711 mu-law.
type Config struct {
	Ptime      time.Duration
	SampleRate uint32
	Flags      Flags
	// DedupCorrelationThreshold in [0,1]; above this, two contributor
	// frames are considered the same source and one is held to align
	// phase before merging.
	DedupCorrelationThreshold float64
	// FLCHoldoffSlots is how many extra slots a late contributor frame
	// may still land in, tolerating bounded late arrivals.
	FLCHoldoffSlots int
}

func DefaultConfig() Config {
	return Config{
		Ptime:                     20 * time.Millisecond,
		SampleRate:                8000,
		Flags:                     FlagEnableMerging,
		DedupCorrelationThreshold: 0.92,
		FLCHoldoffSlots:           1,
	}
}

// ContributorFrame is one decoded PCM frame from one contributor,
// tagged with its wall-clock-aligned timestamp.
type ContributorFrame struct {
	Contributor int
	At          time.Time
	PCM         []int16
}

type pendingSlot struct {
	index   int64
	frames  map[int][]int16
	created time.Time
}

// Group is one stream group's alignment/merge/dedup/emit state.
type Group struct {
	Name          string
	OwnerHandle   uint64
	Contributors  []int
	cfg           Config

	epoch   time.Time
	started bool

	slots []*pendingSlot // ordered oldest-first, small ring

	// AlignmentMarkers records slots where dedup held a stream to
	// align phase, when enabled via Flags.
	AlignmentMarkers []int64
}

func New(name string, ownerHandle uint64, cfg Config) *Group {
	return &Group{Name: name, OwnerHandle: ownerHandle, cfg: cfg}
}

// NewGroupID generates a disambiguating id for a stream group, used
// when a group's configured name collides across reruns or
// application threads.
func NewGroupID(configuredName string) string {
	if configuredName == "" {
		return uuid.NewString()
	}
	return configuredName + "-" + uuid.NewString()[:8]
}

func (g *Group) AddContributor(idx int) {
	for _, c := range g.Contributors {
		if c == idx {
			return
		}
	}
	g.Contributors = append(g.Contributors, idx)
}

func (g *Group) slotIndexFor(at time.Time) int64 {
	if !g.started {
		g.epoch = at
		g.started = true
	}
	return int64(at.Sub(g.epoch) / g.cfg.Ptime)
}

// Align places frame into the slot whose center is within ±½ ptime of
// its timestamp, creating the slot if needed.
// Frames arriving within FLCHoldoffSlots of an already-passed slot
// still land there (late-arrival tolerance).
func (g *Group) Align(frame ContributorFrame) {
	idx := g.slotIndexFor(frame.At)

	for _, s := range g.slots {
		if s.index == idx {
			s.frames[frame.Contributor] = frame.PCM
			return
		}
	}

	// Allow a bounded amount of lateness against the oldest pending
	// slot still held open.
	if len(g.slots) > 0 {
		oldest := g.slots[0].index
		if idx < oldest && oldest-idx <= int64(g.cfg.FLCHoldoffSlots) {
			idx = oldest
		}
	}

	for _, s := range g.slots {
		if s.index == idx {
			s.frames[frame.Contributor] = frame.PCM
			return
		}
	}

	g.slots = append(g.slots, &pendingSlot{index: idx, frames: map[int][]int16{frame.Contributor: frame.PCM}, created: frame.At})
	sort.Slice(g.slots, func(i, j int) bool { return g.slots[i].index < g.slots[j].index })
}

// Ready reports whether the oldest pending slot can be emitted: either
// all contributors present, or the FLC holdoff window for later
// contributors has elapsed.
func (g *Group) Ready(now time.Time) bool {
	if len(g.slots) == 0 {
		return false
	}
	s := g.slots[0]
	if len(s.frames) >= len(g.Contributors) {
		return true
	}
	holdoff := time.Duration(g.cfg.FLCHoldoffSlots+1) * g.cfg.Ptime
	return now.Sub(s.created) > holdoff
}

// Emit merges and dequeues the oldest pending slot. Missing
// contributors are replaced with silence unless FLCDisable is set, in
// which case the slot is dropped instead (no concealment).
func (g *Group) Emit(now time.Time) ([]int16, bool) {
	if !g.Ready(now) {
		return nil, false
	}

	s := g.slots[0]
	g.slots = g.slots[1:]

	if len(s.frames) < len(g.Contributors) && g.cfg.Flags&FlagFLCDisable != 0 {
		return nil, false
	}

	merged := g.mergeSlot(s)
	return merged, true
}

func (g *Group) mergeSlot(s *pendingSlot) []int16 {
	frameLen := 0
	for _, pcm := range s.frames {
		if len(pcm) > frameLen {
			frameLen = len(pcm)
		}
	}
	if frameLen == 0 {
		frameLen = int(float64(g.cfg.SampleRate) * g.cfg.Ptime.Seconds())
	}

	out := make([]int16, frameLen)

	contributed := g.dedupedFrames(s.index, s.frames)
	for _, pcm := range contributed {
		for i := 0; i < len(out) && i < len(pcm); i++ {
			out[i] = saturatingAdd(out[i], pcm[i])
		}
	}
	return out
}

// dedupedFrames cross-correlates contributor frames pairwise within
// the slot; when correlation exceeds the configured threshold, hold
// one stream (drop it from this merge) so the other is merged once,
// recording an alignment marker.
func (g *Group) dedupedFrames(slot int64, frames map[int][]int16) [][]int16 {
	if g.cfg.Flags&FlagEnableDeduplication == 0 || len(frames) < 2 {
		out := make([][]int16, 0, len(frames))
		for _, pcm := range frames {
			out = append(out, pcm)
		}
		return out
	}

	contributors := make([]int, 0, len(frames))
	for c := range frames {
		contributors = append(contributors, c)
	}
	sort.Ints(contributors)

	held := make(map[int]bool)
	for i := 0; i < len(contributors); i++ {
		if held[contributors[i]] {
			continue
		}
		for j := i + 1; j < len(contributors); j++ {
			if held[contributors[j]] {
				continue
			}
			corr := normalizedCrossCorrelation(frames[contributors[i]], frames[contributors[j]])
			if corr >= g.cfg.DedupCorrelationThreshold {
				held[contributors[j]] = true
				g.AlignmentMarkers = append(g.AlignmentMarkers, slot)
			}
		}
	}

	out := make([][]int16, 0, len(frames))
	for _, c := range contributors {
		if !held[c] {
			out = append(out, frames[c])
		}
	}
	return out
}

// Flush drains all remaining pending slots to the group output,
// called on contributor-end or session flush, unless
// FlagDisableContributorFlush is set.
func (g *Group) Flush() [][]int16 {
	if g.cfg.Flags&FlagDisableContributorFlush != 0 {
		return nil
	}
	var out [][]int16
	for _, s := range g.slots {
		out = append(out, g.mergeSlot(s))
	}
	g.slots = nil
	return out
}

func saturatingAdd(a, b int16) int16 {
	sum := int32(a) + int32(b)
	if sum > 32767 {
		return 32767
	}
	if sum < -32768 {
		return -32768
	}
	return int16(sum)
}

// normalizedCrossCorrelation returns the zero-lag normalized
// cross-correlation coefficient of two equal-rate PCM buffers, used by
// dedupedFrames to detect phase-aligned duplicate contributors.
func normalizedCrossCorrelation(a, b []int16) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var sumAB, sumAA, sumBB float64
	for i := 0; i < n; i++ {
		fa, fb := float64(a[i]), float64(b[i])
		sumAB += fa * fb
		sumAA += fa * fa
		sumBB += fb * fb
	}
	if sumAA == 0 || sumBB == 0 {
		return 0
	}
	return sumAB / (math.Sqrt(sumAA) * math.Sqrt(sumBB))
}
