package iohandlers

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRtpDumpWriteThenRead(t *testing.T) {
	var buf bytes.Buffer
	start := time.Now()
	w, err := NewRtpDumpWriter(&buf, start)
	require.NoError(t, err)

	pkt := []byte{0x80, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0xA0, 0x00, 0x00, 0x00, 0x01, 0xDE, 0xAD}
	require.NoError(t, w.WriteRecord(start.Add(20*time.Millisecond), pkt))

	r, err := OpenRtpDump(&buf)
	require.NoError(t, err)

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, pkt, rec.Packet)
	assert.InDelta(t, 20, rec.OffsetMS, 1)

	_, err = r.Next()
	assert.Error(t, err)
}

func TestRtpDumpRejectsBadHeader(t *testing.T) {
	buf := bytes.NewBufferString("not an rtpdump file\n")
	_, err := OpenRtpDump(buf)
	assert.Error(t, err)
}
