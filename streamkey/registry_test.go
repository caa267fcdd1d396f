package streamkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOrInsertNewThenExisting(t *testing.T) {
	r := NewRegistry(0)
	key := NewMediaKey([16]byte{1}, [16]byte{2}, 1000, 2000, 0)

	next := 0
	newIdx := func() int { next++; return next }

	isNew, idx, err := r.FindOrInsert(key, newIdx)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, 1, idx)

	isNew2, idx2, err := r.FindOrInsert(key, newIdx)
	require.NoError(t, err)
	assert.False(t, isNew2)
	assert.Equal(t, 1, idx2)
}

func TestDTMFKeyIgnoresPayloadType(t *testing.T) {
	r := NewRegistry(0)
	mediaKey := NewMediaKey([16]byte{1}, [16]byte{2}, 1000, 2000, 8)
	_, idx, err := r.FindOrInsert(mediaKey, func() int { return 7 })
	require.NoError(t, err)

	dtmfKey := NewDTMFKey([16]byte{1}, [16]byte{2}, 1000, 2000)
	isNew, idx2, err := r.FindOrInsert(dtmfKey, func() int { return 99 })
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, idx, idx2)
}

func TestTableFullRejectsNewKey(t *testing.T) {
	r := NewRegistry(1) // raised to the 512-key floor
	next := 0
	newIdx := func() int { next++; return next }

	var err error
	for i := 0; i < 512; i++ {
		_, _, err = r.FindOrInsert(NewMediaKey([16]byte{1}, [16]byte{}, uint16(i), 1, 0), newIdx)
		require.NoError(t, err)
	}

	_, _, err = r.FindOrInsert(NewMediaKey([16]byte{2}, [16]byte{}, 2, 2, 0), newIdx)
	assert.ErrorIs(t, err, ErrTableFull)
}
