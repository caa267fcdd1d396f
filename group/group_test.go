package group

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupMergesTwoContributorsSameSlot(t *testing.T) {
	cfg := DefaultConfig()
	g := New("g1", 1, cfg)
	g.AddContributor(0)
	g.AddContributor(1)

	now := time.Now()
	g.Align(ContributorFrame{Contributor: 0, At: now, PCM: []int16{100, 200, 300}})
	g.Align(ContributorFrame{Contributor: 1, At: now, PCM: []int16{10, 20, 30}})

	require.True(t, g.Ready(now))
	out, ok := g.Emit(now)
	require.True(t, ok)
	assert.Equal(t, []int16{110, 220, 330}, out)
}

func TestGroupSaturatingAddClips(t *testing.T) {
	cfg := DefaultConfig()
	g := New("g1", 1, cfg)
	g.AddContributor(0)
	g.AddContributor(1)

	now := time.Now()
	g.Align(ContributorFrame{Contributor: 0, At: now, PCM: []int16{32000}})
	g.Align(ContributorFrame{Contributor: 1, At: now, PCM: []int16{32000}})

	out, ok := g.Emit(now)
	require.True(t, ok)
	assert.Equal(t, int16(32767), out[0])
}

func TestGroupHoldoffEmitsAfterTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ptime = 20 * time.Millisecond
	cfg.FLCHoldoffSlots = 1
	g := New("g1", 1, cfg)
	g.AddContributor(0)
	g.AddContributor(1)

	now := time.Now()
	g.Align(ContributorFrame{Contributor: 0, At: now, PCM: []int16{5, 5}})

	assert.False(t, g.Ready(now))
	later := now.Add(50 * time.Millisecond)
	assert.True(t, g.Ready(later))

	out, ok := g.Emit(later)
	require.True(t, ok)
	assert.Equal(t, []int16{5, 5}, out)
}

func TestGroupDeduplicationHoldsCorrelatedContributor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Flags |= FlagEnableDeduplication
	g := New("g1", 1, cfg)
	g.AddContributor(0)
	g.AddContributor(1)

	now := time.Now()
	frame := []int16{100, -100, 200, -200, 300}
	g.Align(ContributorFrame{Contributor: 0, At: now, PCM: frame})
	g.Align(ContributorFrame{Contributor: 1, At: now, PCM: append([]int16(nil), frame...)})

	out, ok := g.Emit(now)
	require.True(t, ok)
	assert.Equal(t, frame, out)
	assert.Len(t, g.AlignmentMarkers, 1)
}

func TestNewGroupIDDisambiguatesConfiguredName(t *testing.T) {
	id1 := NewGroupID("confroom")
	id2 := NewGroupID("confroom")
	assert.NotEqual(t, id1, id2)
	assert.Contains(t, id1, "confroom-")
}

func TestGroupFlushDrainsPendingSlots(t *testing.T) {
	cfg := DefaultConfig()
	g := New("g1", 1, cfg)
	g.AddContributor(0)

	now := time.Now()
	g.Align(ContributorFrame{Contributor: 0, At: now, PCM: []int16{1, 2}})
	g.Align(ContributorFrame{Contributor: 0, At: now.Add(cfg.Ptime), PCM: []int16{3, 4}})

	out := g.Flush()
	require.Len(t, out, 2)
	assert.Equal(t, []int16{1, 2}, out[0])
	assert.Equal(t, []int16{3, 4}, out[1])
}
