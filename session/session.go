// Package session implements the Session Manager: session/termination
// lifecycle, owning the ACTIVE -> FLUSHING -> DELETED state machine
// and jitter-buffer config attached to each termination endpoint.
package session

import (
	"time"

	"github.com/signalrtp/rtpengine/codec"
)

// Handle is a monotonic-within-process session identifier.
type Handle uint64

// State is the session lifecycle state.
type State int

const (
	StateActive State = iota
	StateFlushing
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateFlushing:
		return "FLUSHING"
	case StateDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// TermFlags mirrors a termination's per-session flags bitfield,
// covering DTX, SID repair, dormant-detection, and timing options.
type TermFlags uint32

const (
	TermDTXEnable TermFlags = 1 << iota
	TermSIDRepairEnable
	TermPktRepairEnable
	TermOverrunSyncEnable
	TermExpectBidirectionalTraffic
	TermIgnoreArrivalTiming
	TermOOOHoldoffEnable
	TermDormantDetectionDisable
	TermSlowDormantDetection
	TermAllowOutOfSpecPadding
	TermQoSReportEnable
)

// Has reports whether f is set in flags.
func (flags TermFlags) Has(f TermFlags) bool { return flags&f != 0 }

// JitterBufferConfig holds one termination's jitter-buffer delay
// settings, expressed as ptime multiples.
type JitterBufferConfig struct {
	TargetDelay      uint8
	MaxDelay         uint8
	MinDelay         uint8
	AttackCoeff      uint16
	DecayCoeff       uint16
	MaxDepthPtimes   uint32
}

// DefaultJitterBufferConfig matches the original SDK's common
// defaults (target 4 ptimes, max 14, min 0).
func DefaultJitterBufferConfig() JitterBufferConfig {
	return JitterBufferConfig{TargetDelay: 4, MaxDelay: 14, MinDelay: 0, AttackCoeff: 1, DecayCoeff: 1, MaxDepthPtimes: 20}
}

// TerminationEndpoint is one of a session's two termination points
// (ingress/egress).
type TerminationEndpoint struct {
	TermID int

	Attrs codec.Attributes

	PayloadType         uint8
	RFC7198LookbackDepth int
	Flags               TermFlags
	JitterBuffer        JitterBufferConfig

	RemoteIP   [16]byte
	RemotePort uint16
	LocalIP    [16]byte
	LocalPort  uint16

	MaxLossPtimes       uint16
	MaxPktRepairPtimes  uint16

	GroupID     string
	GroupMode   uint32
	GroupStatus uint32
}

// GroupTermination describes the merged-output encoding for a stream
// group owner session.
type GroupTermination struct {
	Attrs       codec.Attributes
	GroupID     string
	EnableMerge bool
	EnableASR   bool
	EnableDedup bool
	FLCDisable  bool
	FLCHoldoffs bool
	WavOutput   bool
}

// Session owns two termination endpoints and optionally a group
// termination.
type Session struct {
	Handle  Handle
	Name    string
	State   State
	Created time.Time

	Term1 TerminationEndpoint
	Term2 TerminationEndpoint

	// GroupTerm is non-nil only for the group owner session: the group
	// termination lives inside the owner session by value.
	GroupTerm *GroupTermination

	// LastActivity tracks the most recent packet seen on either
	// termination, for dormant-session detection.
	LastActivity time.Time
	Dormant      bool

	// SSRCHistory per termination, bounded: RFC 8108 transition
	// tracking.
	SSRCHistory [2][]uint32
}

// IsGroupOwner reports whether this session is the group owner: the
// one whose GroupTerm drives the merged output for its GroupID.
func (s *Session) IsGroupOwner() bool {
	return s.GroupTerm != nil
}
