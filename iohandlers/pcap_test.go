package iohandlers

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPcapWriteThenRead(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewPcapWriter(&buf, layers.LinkTypeEthernet, 65535)
	require.NoError(t, err)

	frame := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	ts := time.Now().Truncate(time.Microsecond)
	require.NoError(t, w.WriteFrame(frame, ts))

	r, err := OpenPcap(&buf)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType)

	data, readTS, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, frame, data)
	assert.WithinDuration(t, ts, readTS, time.Second)
}
