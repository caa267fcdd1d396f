// Package pipeline implements the push/pull packet-processing
// pipeline: per-stream arrival-time pacing, duplicate suppression and
// dispatch to per-session push queues on the way in, and
// queue-draining with output routing on the way out. The main loop is
// cooperative and single-threaded per application thread, a
// select-driven event loop generalized to many streams instead of
// one.
package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/signalrtp/rtpengine/parser"
	"github.com/signalrtp/rtpengine/rtplog"
)

// PacingMode selects how the push loop throttles packet delivery.
type PacingMode int

const (
	PacingArrivalTimestamp PacingMode = iota
	PacingFixedInterval
	PacingAutoAdjust
	PacingAFAP // as fast as possible
)

// StreamState is the push-side cooperative-scheduling state for one
// input stream (one pcap file, rtpdump file, or live capture handle).
type StreamState struct {
	Name string

	Mode          PacingMode
	TimeScale     float64 // >1 = faster than real time
	IntervalMS    float64

	firstPacketWall time.Time
	baseTimestamp   uint32
	started         bool

	cached      *CachedPacket
	retries     int
	queueFullWarned map[string]bool
}

// CachedPacket holds a read-but-not-yet-pushed packet while the
// stream's pacing gate is closed: the stream yields, and on its next
// visit the cached packet is re-checked.
type CachedPacket struct {
	Info      parser.PacketInfo
	Timestamp uint32 // pcap/rtpdump capture timestamp in microseconds, for pacing math
}

// SessionQueue is the destination for pushed packets: an SPSC bounded
// channel. Overflow triggers application-thread backoff.
type SessionQueue chan PushPacket

// PushPacket is what crosses the push queue boundary into a worker.
type PushPacket struct {
	Info     parser.PacketInfo
	Received time.Time
}

// Resolver maps a parsed packet to a destination session queue,
// creating a new session on first-seen stream key when dynamic mode
// allows it. Returning ok=false means the packet has nowhere to go
// (non-media traffic dispatched elsewhere, or table-full rejection).
type Resolver interface {
	Resolve(info parser.PacketInfo) (q SessionQueue, ok bool)
}

const maxPushRetries = 3

// Pusher drives one application thread's cooperative event loop over
// a set of streams.
type Pusher struct {
	Streams  []*StreamState
	Resolver Resolver
	Dedup    *parser.DupWindow

	log zerolog.Logger
}

func NewPusher(resolver Resolver, dedup *parser.DupWindow) *Pusher {
	return &Pusher{Resolver: resolver, Dedup: dedup, log: rtplog.Logger.With().Str("component", "push").Logger()}
}

func (p *Pusher) AddStream(s *StreamState) {
	if s.queueFullWarned == nil {
		s.queueFullWarned = make(map[string]bool)
	}
	p.Streams = append(p.Streams, s)
}

// RunOnce walks every stream once, advancing each by at most one
// packet in a cooperative yield-to-next-stream model. next is called
// to obtain the next raw packet (and its capture timestamp) for a
// stream when it has no cached packet; it returns ok=false at end of
// input.
func (p *Pusher) RunOnce(now time.Time, next func(s *StreamState) (parser.PacketInfo, uint32, bool)) {
	for _, s := range p.Streams {
		p.stepStream(s, now, next)
	}
}

func (p *Pusher) stepStream(s *StreamState, now time.Time, next func(s *StreamState) (parser.PacketInfo, uint32, bool)) {
	if s.cached == nil {
		info, ts, ok := next(s)
		if !ok {
			return
		}
		s.cached = &CachedPacket{Info: info, Timestamp: ts}
	}

	if !s.started {
		s.firstPacketWall = now
		s.baseTimestamp = s.cached.Timestamp
		s.started = true
	}

	if p.gateClosed(s, now) {
		return // yield: try again on next visit
	}

	if p.Dedup != nil {
		sig := parser.DupSignature{
			SrcPort: s.cached.Info.SrcPort,
			DstPort: s.cached.Info.DstPort,
			Seq:     uint32(s.cached.Info.RTPSeq),
			Length:  len(s.cached.Info.RTPPayload),
		}
		if p.Dedup.Check(sig) {
			s.cached = nil
			s.retries = 0
			return
		}
	}

	q, ok := p.Resolver.Resolve(s.cached.Info)
	if !ok {
		// Non-media traffic, or table full: drop the cached packet and
		// move on (SIP/SAP dispatch happens before Resolve is called
		// in the full pipeline, via sipfilter/sdpdb).
		s.cached = nil
		s.retries = 0
		return
	}

	select {
	case q <- PushPacket{Info: s.cached.Info, Received: now}:
		s.cached = nil
		s.retries = 0
	default:
		s.retries++
		if s.retries > maxPushRetries {
			if !s.queueFullWarned[s.Name] {
				p.log.Warn().Str("stream", s.Name).Msg("push queue full after retries, dropping packet")
				s.queueFullWarned[s.Name] = true
			}
			s.cached = nil
			s.retries = 0
		} else {
			// Leave cached for the next visit and sleep
			// max(1ms, packet_interval), retrying up to maxPushRetries times.
			wait := time.Duration(s.IntervalMS * float64(time.Millisecond))
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
			time.Sleep(wait)
		}
	}
}

// gateClosed implements the pusher's pacing gate.
func (p *Pusher) gateClosed(s *StreamState, now time.Time) bool {
	switch s.Mode {
	case PacingArrivalTimestamp:
		scale := s.TimeScale
		if scale <= 0 {
			scale = 1
		}
		elapsedWall := float64(now.Sub(s.firstPacketWall).Microseconds())
		targetElapsed := float64(s.cached.Timestamp-s.baseTimestamp) / scale
		return elapsedWall*scale < float64(s.cached.Timestamp-s.baseTimestamp) && elapsedWall < targetElapsed
	case PacingFixedInterval:
		if s.IntervalMS <= 0 {
			return false
		}
		elapsedWall := now.Sub(s.firstPacketWall).Milliseconds()
		return float64(elapsedWall) < s.IntervalMS
	case PacingAutoAdjust:
		return false // no gate in this mode; AutoAdjustInterval is not applied here
	case PacingAFAP:
		return false
	default:
		return false
	}
}

// AutoAdjustInterval computes the push-every-interval for auto-adjust
// mode, driven by the fullness of transcoded output queues and
// clamped to [1, nSessionsActive*2].
func AutoAdjustInterval(queueFullness float64, nSessionsActive int) int {
	if nSessionsActive < 1 {
		nSessionsActive = 1
	}
	interval := int((1 - queueFullness) * float64(nSessionsActive))
	if interval < 1 {
		interval = 1
	}
	max := nSessionsActive * 2
	if interval > max {
		interval = max
	}
	return interval
}
