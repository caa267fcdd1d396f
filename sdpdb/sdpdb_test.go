package sdpdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"c=IN IP4 127.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 49170 RTP/AVP 0 96\r\n" +
	"a=rtpmap:96 opus/48000/2\r\n" +
	"a=fmtp:96 useinbandfec=1\r\n"

func TestIngestExtractsRtpMapAndFmtp(t *testing.T) {
	db := New()
	require.NoError(t, db.Ingest("stream1", []byte(sampleSDP)))

	entry, ok := db.Lookup("stream1")
	require.True(t, ok)

	m, ok := entry.RtpMaps[96]
	require.True(t, ok)
	assert.Equal(t, "opus", m.Encoding)
	assert.EqualValues(t, 48000, m.ClockRate)
	assert.Equal(t, 2, m.Channels)

	assert.Equal(t, "useinbandfec=1", entry.Fmtp[96])
}

func TestLookupMissingStream(t *testing.T) {
	db := New()
	_, ok := db.Lookup("nope")
	assert.False(t, ok)
}
