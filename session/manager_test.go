package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() CreateParams {
	return CreateParams{RTPVersion: 2, RTPHeaderLen: 12, PayloadLen: 160, PayloadType: 0}
}

func TestCreateRejectsBadVersion(t *testing.T) {
	m := NewManager()
	p := validParams()
	p.RTPVersion = 1
	_, err := m.Create(p, TerminationEndpoint{}, TerminationEndpoint{}, nil, "s1")
	assert.ErrorIs(t, err, ErrBadRTPVersion)
}

func TestCreateAssignsTerm2Defaults(t *testing.T) {
	m := NewManager()
	term1 := TerminationEndpoint{PayloadType: 0, LocalPort: 10000}
	h, err := m.Create(validParams(), term1, TerminationEndpoint{}, nil, "s1")
	require.NoError(t, err)

	s, err := m.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 64000, s.Term2.Attrs.Bitrate)
	assert.NotZero(t, s.Term2.LocalPort)
}

func TestFlushThenDeleteLifecycle(t *testing.T) {
	m := NewManager()
	h, err := m.Create(validParams(), TerminationEndpoint{}, TerminationEndpoint{}, nil, "s1")
	require.NoError(t, err)

	require.NoError(t, m.Flush(h))
	st, err := m.GetInfo(h, FieldState)
	require.NoError(t, err)
	assert.Equal(t, StateFlushing, st)

	err = m.Delete(h, false)
	assert.Error(t, err)

	require.NoError(t, m.Delete(h, true))
	st, err = m.GetInfo(h, FieldState)
	require.NoError(t, err)
	assert.Equal(t, StateDeleted, st)

	err = m.SetInfo(h, FieldName, "renamed")
	assert.ErrorIs(t, err, ErrSessionDeleted)
}

func TestSweepDormantMarksInactiveSessions(t *testing.T) {
	m := NewManager()
	m.dormantWindow = time.Millisecond
	h, err := m.Create(validParams(), TerminationEndpoint{}, TerminationEndpoint{}, nil, "s1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	m.SweepDormant(time.Now())

	dormant, err := m.GetInfo(h, FieldDormant)
	require.NoError(t, err)
	assert.True(t, dormant.(bool))

	m.Touch(h, time.Now())
	dormant, err = m.GetInfo(h, FieldDormant)
	require.NoError(t, err)
	assert.False(t, dormant.(bool))
}

func TestRecordSSRCTransitionDedupsConsecutive(t *testing.T) {
	m := NewManager()
	h, err := m.Create(validParams(), TerminationEndpoint{}, TerminationEndpoint{}, nil, "s1")
	require.NoError(t, err)

	m.RecordSSRCTransition(h, 0, 1)
	m.RecordSSRCTransition(h, 0, 1)
	m.RecordSSRCTransition(h, 0, 2)

	s, err := m.Get(h)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, s.SSRCHistory[0])
}
