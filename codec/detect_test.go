package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectStaticPayloadTypes(t *testing.T) {
	d := &Detector{}

	r := d.Detect(PTG711Ulaw, make([]byte, 160), SDPHint{})
	assert.Equal(t, TypeG711Ulaw, r.Type)
	assert.Equal(t, 64000, r.Bitrate)

	r = d.Detect(PTG711Alaw, make([]byte, 160), SDPHint{})
	assert.Equal(t, TypeG711Alaw, r.Type)

	r = d.Detect(PTG729, make([]byte, 20), SDPHint{})
	assert.Equal(t, TypeG729AB, r.Type)
}

func TestDetectIsIdempotent(t *testing.T) {
	d := &Detector{}
	payload := []byte{0xF1, 0x04, 0x1, 0x2, 0x3, 0x4}
	r1 := d.Detect(97, payload, SDPHint{})
	r2 := d.Detect(97, payload, SDPHint{})
	assert.Equal(t, r1, r2)
}

func TestDetectAMRCompact(t *testing.T) {
	d := &Detector{}
	payload := make([]byte, 14)
	payload[0] = 0xF1
	r := d.Detect(97, payload, SDPHint{})
	assert.Equal(t, TypeAMRNB, r.Type)
	assert.Equal(t, 7950, r.Bitrate)
}

func TestDetectAMROctetAligned(t *testing.T) {
	d := &Detector{}
	payload := make([]byte, 15) // 14 (compact AMRNB 7950) + 1 pad byte
	payload[0] = 0xF0
	r := d.Detect(97, payload, SDPHint{})
	assert.Equal(t, TypeAMRNB, r.Type)
}

func TestDetectEVSCompact(t *testing.T) {
	d := &Detector{}
	payload := make([]byte, 41)
	payload[0] = 0x00
	r := d.Detect(97, payload, SDPHint{})
	assert.Equal(t, TypeEVS, r.Type)
	assert.Equal(t, 16400, r.Bitrate)
}

func TestDetectSDPHintShortcuts(t *testing.T) {
	d := &Detector{}
	r := d.Detect(97, make([]byte, 33), SDPHint{Type: TypeAMRNB})
	assert.Equal(t, TypeAMRNB, r.Type)
}

func TestDetectUnknownCountsUnhandled(t *testing.T) {
	d := &Detector{}
	before := d.UnhandledRTP
	r := d.Detect(97, make([]byte, 3), SDPHint{})
	require.Equal(t, TypeNone, r.Type)
	assert.Equal(t, before+1, d.UnhandledRTP)
}
