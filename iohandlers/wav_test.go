package iohandlers

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWavGroupWriterWritesFrames(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "group-*.wav")
	require.NoError(t, err)
	defer f.Close()

	w := NewWavGroupWriter(f, 8000, 1)
	require.NoError(t, w.WriteFrame([]int16{100, 200, 300}))
	require.NoError(t, w.WriteFrame([]int16{-100, -200}))
	require.NoError(t, w.Close())

	info, err := f.Stat()
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(44)) // header + some data
}
