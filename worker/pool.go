// Package worker implements the fixed-size worker thread pool: each
// worker goroutine owns a disjoint set of sessions (fill-first or
// round-robin assignment, or one worker per whole group), draining
// each session's push queue into its jitter buffer, decoding, handing
// the frame to the stream-group engine, re-encoding, and enqueuing the
// result on the pull queue.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalrtp/rtpengine/codec"
	"github.com/signalrtp/rtpengine/group"
	"github.com/signalrtp/rtpengine/jitter"
	"github.com/signalrtp/rtpengine/pipeline"
	"github.com/signalrtp/rtpengine/rtplog"
	"github.com/signalrtp/rtpengine/session"
)

// AllocationMode selects how sessions are distributed across workers:
// "fill-first" vs "round-robin" assignment, plus a
// whole-group-per-thread pinning mode.
type AllocationMode int

const (
	AllocFillFirst AllocationMode = iota
	AllocRoundRobin
	AllocWholeGroupPerThread
)

// PreemptionThreshold is the per-iteration budget after which a
// worker logs a pre-emption-alarm warning.
const PreemptionThreshold = 40 * time.Millisecond

// Decoder turns an RTP payload into PCM samples for one termination.
type Decoder interface {
	Decode(attrs codec.Attributes, payload []byte) ([]int16, error)
}

// Encoder turns PCM samples back into an RTP payload for one
// termination.
type Encoder interface {
	Encode(attrs codec.Attributes, pcm []int16) ([]byte, error)
}

// PushItem is one inbound packet queued for a session's termination
// endpoint.
type PushItem struct {
	TermIndex int // 0 or 1
	Packet    jitter.Packet
	Attrs     codec.Attributes
}

// PullItem is one outbound encoded packet produced for a termination,
// carrying enough RTP header state for the pull pipeline to
// reconstruct a bit-exact frame on the way out.
type PullItem struct {
	TermIndex      int
	Kind           pipeline.QueueKind
	Payload        []byte
	Timestamp      uint32
	SequenceNumber uint16
	SSRC           uint32
	PayloadType    uint8
	Marker         bool
}

// SessionWork is the worker-visible binding of a session to its
// buffers, queues and codec transcoders.
type SessionWork struct {
	Handle      session.Handle
	Buffers     [2]*jitter.Buffer
	PushQueue   chan PushItem
	PullQueue   chan PullItem
	Decoder     Decoder
	Encoder     Encoder
	GroupEngine *group.Group // nil if not a group contributor or owner
	Contributor int          // this session's contributor index within GroupEngine

	// GroupEncoder is set only on the group-owner session, and
	// drives the encode of GroupEngine's merged output.
	GroupEncoder Encoder

	// OutSSRC/OutPayloadType/outSeq address the per-session
	// transcoded-output RTP stream; GroupOutSSRC/GroupPayloadType/
	// groupOutSeq/groupTimestamp do the same for the owner's merged
	// group-output stream.
	OutSSRC        uint32
	OutPayloadType uint8
	outSeq         uint16

	GroupOutSSRC     uint32
	GroupPayloadType uint8
	groupOutSeq      uint16
	groupTimestamp   uint32

	lastActivity time.Time
}

// Pool is the fixed worker thread pool.
type Pool struct {
	mu      sync.Mutex
	mode    AllocationMode
	workers []*workerState

	log zerolog.Logger

	// EnergySaverIdle is how long a worker with no active sessions
	// sleeps between scans.
	EnergySaverIdle time.Duration
}

type workerState struct {
	id       int
	sessions []*SessionWork
	mu       sync.Mutex
}

// New creates a pool of n workers, clamped to [1, 10].
func New(n int, mode AllocationMode) *Pool {
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	p := &Pool{mode: mode, log: rtplog.Logger.With().Str("component", "worker").Logger(), EnergySaverIdle: 5 * time.Millisecond}
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, &workerState{id: i})
	}
	return p
}

// Assign binds a session to a worker per the pool's allocation mode.
func (p *Pool) Assign(sw *SessionWork) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var target *workerState
	switch p.mode {
	case AllocFillFirst:
		target = p.leastLoaded()
	case AllocRoundRobin:
		total := 0
		for _, c := range p.sessionCountsUnlocked() {
			total += c
		}
		target = p.workers[total%len(p.workers)]
	case AllocWholeGroupPerThread:
		target = p.workerForGroup(sw)
	default:
		target = p.leastLoaded()
	}

	target.mu.Lock()
	sw.lastActivity = time.Now()
	target.sessions = append(target.sessions, sw)
	target.mu.Unlock()
}

func (p *Pool) leastLoaded() *workerState {
	best := p.workers[0]
	for _, w := range p.workers[1:] {
		if len(w.sessions) < len(best.sessions) {
			best = w
		}
	}
	return best
}

func (p *Pool) sessionCountsUnlocked() []int {
	counts := make([]int, 0, len(p.workers))
	for _, w := range p.workers {
		counts = append(counts, len(w.sessions))
	}
	return counts
}

// workerForGroup keeps every contributor of the same group pinned to
// one worker, so the group engine is never touched concurrently from
// two goroutines.
func (p *Pool) workerForGroup(sw *SessionWork) *workerState {
	if sw.GroupEngine == nil {
		return p.leastLoaded()
	}
	for _, w := range p.workers {
		for _, existing := range w.sessions {
			if existing.GroupEngine == sw.GroupEngine {
				return w
			}
		}
	}
	return p.leastLoaded()
}

// Run starts all worker goroutines; it blocks until ctx is canceled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *workerState) {
			defer wg.Done()
			p.runWorker(ctx, w)
		}(w)
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, w *workerState) {
	log := p.log.With().Int("worker", w.id).Logger()
	log.Debug().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("worker exiting")
			return
		default:
		}

		start := time.Now()
		active := p.iterateOnce(w, start)

		if elapsed := time.Since(start); elapsed > PreemptionThreshold {
			log.Warn().Dur("elapsed", elapsed).Msg("worker iteration exceeded pre-emption threshold")
		}

		if !active {
			time.Sleep(p.EnergySaverIdle)
		}
	}
}

// iterateOnce drains one round of push-queue work for every session
// owned by w, returning whether any session had work to do.
func (p *Pool) iterateOnce(w *workerState, now time.Time) bool {
	w.mu.Lock()
	sessions := append([]*SessionWork(nil), w.sessions...)
	w.mu.Unlock()

	active := false
	for _, sw := range sessions {
		if p.drainSession(sw, now) {
			active = true
			sw.lastActivity = now
		}
	}
	return active
}

func (p *Pool) drainSession(sw *SessionWork, now time.Time) bool {
	did := false
drain:
	for {
		select {
		case item, ok := <-sw.PushQueue:
			if !ok {
				break drain
			}
			did = true
			p.process(sw, item, now)
		default:
			break drain
		}
	}

	for idx, buf := range sw.Buffers {
		if buf == nil {
			continue
		}
		for buf.Ready(now) {
			pkt, status := buf.Pull(now)
			if status == jitter.StatusEmpty {
				break
			}
			did = true
			p.emit(sw, idx, pkt, status)
		}
	}

	if sw.GroupEngine != nil && sw.GroupEncoder != nil {
		for sw.GroupEngine.Ready(now) {
			merged, ok := sw.GroupEngine.Emit(now)
			if !ok {
				break
			}
			did = true
			p.emitGroup(sw, merged)
		}
	}
	return did
}

func (p *Pool) process(sw *SessionWork, item PushItem, now time.Time) {
	buf := sw.Buffers[item.TermIndex]
	if buf == nil {
		return
	}
	buf.Push(item.Packet)
}

func (p *Pool) emit(sw *SessionWork, termIndex int, pkt jitter.Packet, status jitter.Status) {
	if status == jitter.StatusLoss || sw.Decoder == nil {
		return
	}

	pcm, err := sw.Decoder.Decode(codec.Attributes{}, pkt.Payload)
	if err != nil {
		p.log.Warn().Err(err).Msg("decode failed, dropping frame")
		return
	}

	if sw.GroupEngine != nil {
		sw.GroupEngine.Align(group.ContributorFrame{
			Contributor: sw.Contributor,
			At:          pkt.Arrival,
			PCM:         pcm,
		})
		return
	}

	if sw.Encoder == nil {
		return
	}
	payload, err := sw.Encoder.Encode(codec.Attributes{}, pcm)
	if err != nil {
		p.log.Warn().Err(err).Msg("encode failed, dropping frame")
		return
	}

	sw.outSeq++
	select {
	case sw.PullQueue <- PullItem{
		TermIndex:      termIndex,
		Kind:           pipeline.QueueTranscodedOutput,
		Payload:        payload,
		Timestamp:      pkt.Timestamp,
		SequenceNumber: sw.outSeq,
		SSRC:           sw.OutSSRC,
		PayloadType:    sw.OutPayloadType,
	}:
	default:
		p.log.Warn().Msg("pull queue full, dropping encoded frame")
	}
}

// emitGroup encodes one merged PCM frame from the group owner's
// GroupEngine through GroupEncoder and enqueues it as group output,
// advancing the owner's own RTP sequence/timestamp state.
func (p *Pool) emitGroup(sw *SessionWork, merged []int16) {
	payload, err := sw.GroupEncoder.Encode(codec.Attributes{}, merged)
	if err != nil {
		p.log.Warn().Err(err).Msg("group encode failed, dropping frame")
		return
	}

	sw.groupOutSeq++
	sw.groupTimestamp += uint32(len(merged))
	select {
	case sw.PullQueue <- PullItem{
		Kind:           pipeline.QueueGroupOutput,
		Payload:        payload,
		Timestamp:      sw.groupTimestamp,
		SequenceNumber: sw.groupOutSeq,
		SSRC:           sw.GroupOutSSRC,
		PayloadType:    sw.GroupPayloadType,
	}:
	default:
		p.log.Warn().Msg("pull queue full, dropping group output frame")
	}
}

// FlushGroup drains every pending slot left in sw's GroupEngine at
// session teardown, so a partially-filled merge window still reaches
// the output sink instead of being silently discarded.
func (p *Pool) FlushGroup(sw *SessionWork) {
	if sw.GroupEngine == nil || sw.GroupEncoder == nil {
		return
	}
	for _, merged := range sw.GroupEngine.Flush() {
		p.emitGroup(sw, merged)
	}
}
