package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalrtp/rtpengine/codec"
	"github.com/signalrtp/rtpengine/rtplog"
)

// These errors enumerate the per-failure validation errors, each one
// a distinct error value rather than a single generic rejection.
var (
	ErrBadRTPVersion   = errors.New("session: rtp version != 2")
	ErrBadRTPHeaderLen = errors.New("session: rtp header length <= 0")
	ErrBadPayloadLen   = errors.New("session: payload length <= 0")
	ErrBadPayloadType  = errors.New("session: payload type < 0")
	ErrOutOfSpecPadding = errors.New("session: out-of-spec RTP padding")
)

// CreateParams is the minimal packet shape needed to validate session
// creation, independent of the parser package to avoid a dependency
// cycle between boundary components.
type CreateParams struct {
	RTPVersion        uint8
	RTPHeaderLen      int
	PayloadLen        int
	PayloadType       int
	HasOutOfSpecPad   bool
	AllowOutOfSpecPad bool
}

// Validate implements the session creation validation contract:
// version==2, rtp_hdr_len>0, pyld_len>0, pyld_type>=0.
func (p CreateParams) Validate() error {
	if p.RTPVersion != 2 {
		return ErrBadRTPVersion
	}
	if p.RTPHeaderLen <= 0 {
		return ErrBadRTPHeaderLen
	}
	if p.PayloadLen <= 0 {
		return ErrBadPayloadLen
	}
	if p.PayloadType < 0 {
		return ErrBadPayloadType
	}
	if p.HasOutOfSpecPad && !p.AllowOutOfSpecPad {
		return ErrOutOfSpecPadding
	}
	return nil
}

// Field identifies a gettable/settable session attribute for
// GetInfo/SetInfo.
type Field int

const (
	FieldState Field = iota
	FieldTerm1Flags
	FieldTerm2Flags
	FieldGroupID
	FieldDormant
	FieldName
)

var ErrSessionDeleted = errors.New("session: handle refers to a deleted session")
var ErrUnknownHandle = errors.New("session: unknown handle")
var ErrUnknownField = errors.New("session: unknown field")

// Manager exclusively owns the session table.
type Manager struct {
	mu       sync.RWMutex
	sessions map[Handle]*Session
	next     Handle

	dormantWindow     time.Duration
	slowDormantWindow time.Duration
}

func NewManager() *Manager {
	return &Manager{
		sessions:          make(map[Handle]*Session),
		next:              1,
		dormantWindow:     5 * time.Second,
		slowDormantWindow: 30 * time.Second,
	}
}

// Create validates params, assigns termination-2 defaults for
// unidirectional dynamic sessions when term2 is the zero value, and
// inserts a new ACTIVE session.
func (m *Manager) Create(params CreateParams, term1, term2 TerminationEndpoint, groupTerm *GroupTermination, name string) (Handle, error) {
	if err := params.Validate(); err != nil {
		rtplog.Logger.Warn().Err(err).Str("session", name).Msg("session create rejected")
		return 0, err
	}

	if term2.PayloadType == 0 && term2.Attrs.Type == 0 && term2.RemotePort == 0 {
		term2 = defaultUnidirectionalTerm2(term1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.next
	m.next++

	s := &Session{
		Handle:       h,
		Name:         name,
		State:        StateActive,
		Created:      time.Now(),
		LastActivity: time.Now(),
		Term1:        term1,
		Term2:        term2,
		GroupTerm:    groupTerm,
	}
	m.sessions[h] = s
	return h, nil
}

// defaultUnidirectionalTerm2 builds term2 defaults: incrementing
// 10.0.0.x addresses/ports, G.711u @ 64kbps, except under
// timestamp-match mode which forces L16 @128kbps transcoded output.
func defaultUnidirectionalTerm2(term1 TerminationEndpoint) TerminationEndpoint {
	t2 := TerminationEndpoint{
		TermID:      2,
		PayloadType: 0,
		LocalIP:     [16]byte{10, 0, 0, nextTerm2Octet()},
		LocalPort:   term1.LocalPort + 2,
	}
	if term1.Flags.Has(TermIgnoreArrivalTiming) {
		// timestamp-match mode forces L16 128kbps transcoded output.
		// codec has no L16 type; TypeISAC selects the engine's
		// passthroughCodec, which carries 16-bit linear samples.
		t2.Attrs.Type = codec.TypeISAC
		t2.Attrs.Bitrate = 128000
		t2.Attrs.SampleRate = 16000
	} else {
		t2.Attrs.Type = codec.TypeG711Ulaw
		t2.Attrs.Bitrate = 64000
		t2.Attrs.SampleRate = 8000
	}
	return t2
}

var term2OctetCounter byte = 1

func nextTerm2Octet() byte {
	term2OctetCounter++
	if term2OctetCounter == 0 {
		term2OctetCounter = 1
	}
	return term2OctetCounter
}

// Flush transitions a session to FLUSHING so workers drain queues
// instead of accepting new work.
func (m *Manager) Flush(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[h]
	if !ok {
		return ErrUnknownHandle
	}
	if s.State == StateDeleted {
		return ErrSessionDeleted
	}
	s.State = StateFlushing
	return nil
}

// Delete is legal only after all push/pull queues for the session
// report empty (enforced by the caller, typically the worker pool, via
// queuesEmpty). It marks the session DELETED; stats remain queryable.
func (m *Manager) Delete(h Handle, queuesEmpty bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[h]
	if !ok {
		return ErrUnknownHandle
	}
	if !queuesEmpty {
		return fmt.Errorf("session: cannot delete %d, queues not empty", h)
	}
	s.State = StateDeleted
	return nil
}

// GetInfo reads one field. A deleted session's stats remain queryable
// even though no further mutating operations accept it.
func (m *Manager) GetInfo(h Handle, f Field) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	switch f {
	case FieldState:
		return s.State, nil
	case FieldTerm1Flags:
		return s.Term1.Flags, nil
	case FieldTerm2Flags:
		return s.Term2.Flags, nil
	case FieldGroupID:
		return s.Term1.GroupID, nil
	case FieldDormant:
		return s.Dormant, nil
	case FieldName:
		return s.Name, nil
	default:
		return nil, ErrUnknownField
	}
}

// SetInfo writes one field. Deleted sessions reject further
// operations.
func (m *Manager) SetInfo(h Handle, f Field, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[h]
	if !ok {
		return ErrUnknownHandle
	}
	if s.State == StateDeleted {
		return ErrSessionDeleted
	}
	switch f {
	case FieldTerm1Flags:
		s.Term1.Flags = value.(TermFlags)
	case FieldTerm2Flags:
		s.Term2.Flags = value.(TermFlags)
	case FieldGroupID:
		s.Term1.GroupID = value.(string)
		s.Term2.GroupID = value.(string)
	case FieldDormant:
		s.Dormant = value.(bool)
	case FieldName:
		s.Name = value.(string)
	default:
		return ErrUnknownField
	}
	return nil
}

// Get returns a shallow snapshot-safe pointer for packages that need
// direct (read-mostly) access, such as the worker pool's hot path.
// Callers must not mutate fields outside of SetInfo/Manager methods.
func (m *Manager) Get(h Handle) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return s, nil
}

// Touch records packet activity for dormant-session detection.
func (m *Manager) Touch(h Handle, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[h]
	if !ok {
		return
	}
	s.LastActivity = now
	s.Dormant = false
}

// SweepDormant marks sessions dormant when they've had no activity
// within the configured window, honoring per-termination
// TermDormantDetectionDisable / TermSlowDormantDetection flags.
func (m *Manager) SweepDormant(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.State == StateDeleted {
			continue
		}
		if s.Term1.Flags.Has(TermDormantDetectionDisable) {
			continue
		}
		window := m.dormantWindow
		if s.Term1.Flags.Has(TermSlowDormantDetection) {
			window = m.slowDormantWindow
		}
		if now.Sub(s.LastActivity) > window {
			s.Dormant = true
		}
	}
}

// RecordSSRCTransition appends ssrc to the bounded per-termination
// SSRC history if it differs from the most recent entry (RFC 8108
// transition tracking).
func (m *Manager) RecordSSRCTransition(h Handle, termIdx int, ssrc uint32) {
	const maxTransitions = 128
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[h]
	if !ok || termIdx < 0 || termIdx > 1 {
		return
	}
	hist := s.SSRCHistory[termIdx]
	if len(hist) > 0 && hist[len(hist)-1] == ssrc {
		return
	}
	hist = append(hist, ssrc)
	if len(hist) > maxTransitions {
		hist = hist[len(hist)-maxTransitions:]
	}
	s.SSRCHistory[termIdx] = hist
}

// Sessions returns all handles currently known, including deleted
// ones, for diagnostics and analyzer correlation.
func (m *Manager) Sessions() []Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Handle, 0, len(m.sessions))
	for h := range m.sessions {
		out = append(out, h)
	}
	return out
}
