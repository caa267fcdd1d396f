package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalrtp/rtpengine/codec"
	"github.com/signalrtp/rtpengine/config"
	"github.com/signalrtp/rtpengine/session"
)

func testTermination(localPort, remotePort uint16) session.TerminationEndpoint {
	return session.TerminationEndpoint{
		TermID:      1,
		Attrs:       codec.Attributes{Type: codec.TypeG711Ulaw, Bitrate: 64000, SampleRate: 8000},
		PayloadType: 0,
		LocalIP:     [16]byte{10, 0, 0, 1},
		LocalPort:   localPort,
		RemoteIP:    [16]byte{10, 0, 0, 2},
		RemotePort:  remotePort,
	}
}

func validCreateParams() session.CreateParams {
	return session.CreateParams{
		RTPVersion:   2,
		RTPHeaderLen: 12,
		PayloadLen:   160,
		PayloadType:  0,
	}
}

func TestCreateSessionAssignsWorkerAndQueues(t *testing.T) {
	e := New(config.Config{}, 2)

	h, err := e.CreateSession(validCreateParams(), testTermination(10000, 20000), session.TerminationEndpoint{}, nil, "call-1")
	require.NoError(t, err)
	assert.NotZero(t, h)

	e.mu.Lock()
	sw, ok := e.work[h]
	_, hasPushQueue := e.pushQueues[h]
	e.mu.Unlock()

	require.True(t, ok)
	assert.True(t, hasPushQueue)
	assert.NotNil(t, sw.Buffers[0])
	assert.NotNil(t, sw.Buffers[1])
	assert.NotNil(t, sw.Decoder)
	assert.NotNil(t, sw.Encoder)

	st, err := e.Sessions.GetInfo(h, session.FieldState)
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, st)
}

func TestCreateSessionBindsEncoderToTerm2Codec(t *testing.T) {
	e := New(config.Config{}, 1)

	term1 := testTermination(10000, 20000)
	term1.Attrs.Type = codec.TypeG711Ulaw
	term2 := testTermination(10002, 20002)
	term2.Attrs.Type = codec.TypeG711Alaw

	h, err := e.CreateSession(validCreateParams(), term1, term2, nil, "call-transcode")
	require.NoError(t, err)

	e.mu.Lock()
	sw := e.work[h]
	e.mu.Unlock()

	pcm, err := sw.Decoder.Decode(codec.Attributes{}, []byte{0xff})
	require.NoError(t, err)
	out, err := sw.Encoder.Encode(codec.Attributes{}, pcm)
	require.NoError(t, err)

	ulawCodec := newG711Codec(codec.TypeG711Ulaw)
	wrongLaw, err := ulawCodec.Encode(codec.Attributes{}, pcm)
	require.NoError(t, err)

	// The encoder must be bound to term2's law (alaw), not term1's
	// ingress law (ulaw): encoding the same PCM through both codecs
	// must disagree, or this assertion can't distinguish a correctly
	// wired encoder from the pre-fix term1-for-both-sides bug.
	assert.NotEqual(t, wrongLaw, out)
}

func TestCreateSessionEnablesQoSReporterWhenFlagSet(t *testing.T) {
	e := New(config.Config{}, 1)

	term1 := testTermination(10000, 20000)
	term1.Flags |= session.TermQoSReportEnable

	h, err := e.CreateSession(validCreateParams(), term1, session.TerminationEndpoint{}, nil, "call-qos")
	require.NoError(t, err)

	assert.NotNil(t, e.qosFor(h))
}

func TestCreateSessionRejectsInvalidParams(t *testing.T) {
	e := New(config.Config{}, 1)

	bad := validCreateParams()
	bad.RTPVersion = 1

	_, err := e.CreateSession(bad, testTermination(10000, 20000), session.TerminationEndpoint{}, nil, "bad-call")
	assert.ErrorIs(t, err, session.ErrBadRTPVersion)
}

func TestDeleteSessionTwoPhaseTeardown(t *testing.T) {
	e := New(config.Config{}, 1)

	h, err := e.CreateSession(validCreateParams(), testTermination(10000, 20000), session.TerminationEndpoint{}, nil, "call-2")
	require.NoError(t, err)

	err = e.DeleteSession(h)
	require.NoError(t, err)

	st, err := e.Sessions.GetInfo(h, session.FieldState)
	require.NoError(t, err)
	assert.Equal(t, session.StateDeleted, st)

	e.mu.Lock()
	_, stillWorked := e.work[h]
	_, stillQueued := e.pushQueues[h]
	e.mu.Unlock()
	assert.False(t, stillWorked)
	assert.False(t, stillQueued)
}

func TestDeleteSessionUnknownHandle(t *testing.T) {
	e := New(config.Config{}, 1)
	err := e.DeleteSession(session.Handle(9999))
	assert.Error(t, err)
}

func TestQuitIsIdempotent(t *testing.T) {
	e := New(config.Config{}, 1)
	assert.False(t, e.quitRequested())
	e.Quit()
	assert.True(t, e.quitRequested())
	assert.NotPanics(t, func() { e.Quit() })
}

func TestSweepDormantMarksInactiveSessions(t *testing.T) {
	e := New(config.Config{}, 1)
	h, err := e.CreateSession(validCreateParams(), testTermination(10000, 20000), session.TerminationEndpoint{}, nil, "call-3")
	require.NoError(t, err)

	e.SweepDormant(time.Now().Add(time.Hour))

	dormant, err := e.Sessions.GetInfo(h, session.FieldDormant)
	require.NoError(t, err)
	assert.Equal(t, true, dormant)
}
