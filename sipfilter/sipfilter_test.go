package sipfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyInviteExtractsBody(t *testing.T) {
	msg := "INVITE sip:bob@example.com SIP/2.0\r\nVia: x\r\n\r\nv=0\r\ns=-\r\n"
	kind, body := Classify([]byte(msg), false)
	assert.Equal(t, KindInvite, kind)
	assert.Equal(t, "v=0\r\ns=-\r\n", string(body))
}

func TestClassifyBye(t *testing.T) {
	msg := "BYE sip:bob@example.com SIP/2.0\r\n\r\n"
	kind, _ := Classify([]byte(msg), false)
	assert.Equal(t, KindBye, kind)
}

func TestClassifyOK(t *testing.T) {
	msg := "SIP/2.0 200 OK\r\n\r\nv=0\r\n"
	kind, body := Classify([]byte(msg), false)
	assert.Equal(t, KindOK, kind)
	assert.Equal(t, "v=0\r\n", string(body))
}

func TestClassifySAP(t *testing.T) {
	msg := "SAP header\r\n\r\nv=0\r\ns=-\r\n"
	kind, body := Classify([]byte(msg), true)
	assert.Equal(t, KindSAPSDP, kind)
	assert.Equal(t, "v=0\r\ns=-\r\n", string(body))
}

func TestShouldTerminateOnBYERespectsDisable(t *testing.T) {
	assert.True(t, ShouldTerminateOnBYE(KindBye, TerminatesOnBYE, false))
	assert.False(t, ShouldTerminateOnBYE(KindBye, TerminatesOnBYE, true))
	assert.False(t, ShouldTerminateOnBYE(KindInvite, TerminatesOnBYE, false))
}

func TestPortRangeDefaults(t *testing.T) {
	r := DefaultPortRange()
	assert.True(t, r.InSIPRange(5060))
	assert.False(t, r.InSIPRange(5090))
	assert.True(t, r.IsSAP(9875))
}
