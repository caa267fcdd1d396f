// Package engine wires every component into one running process:
// session lifecycle, the worker pool, the push/pull pipeline,
// packet-history analytics, and the stream-group engine, driven by a
// config.Config parsed from the CLI flag surface or a static -CFILE
// document.
//
// It follows a signal-driven-context, zerolog-console-logging main
// loop generalized from one dialog per goroutine to many RTP sessions
// fanned out across a fixed worker pool.
package engine

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalrtp/rtpengine/codec"
	"github.com/signalrtp/rtpengine/config"
	"github.com/signalrtp/rtpengine/group"
	"github.com/signalrtp/rtpengine/history"
	"github.com/signalrtp/rtpengine/jitter"
	"github.com/signalrtp/rtpengine/metrics"
	"github.com/signalrtp/rtpengine/pipeline"
	"github.com/signalrtp/rtpengine/rtplog"
	"github.com/signalrtp/rtpengine/sdpdb"
	"github.com/signalrtp/rtpengine/session"
	"github.com/signalrtp/rtpengine/sipfilter"
	"github.com/signalrtp/rtpengine/streamkey"
	"github.com/signalrtp/rtpengine/worker"
)

// Engine owns every long-lived component and the session<->worker
// bindings needed to route a packet from Resolve through to output.
type Engine struct {
	Cfg config.Config

	Sessions  *session.Manager
	Keys      *streamkey.Registry
	Detector  *codec.Detector
	SDP       *sdpdb.DB
	SIPPorts  sipfilter.PortRange
	History   *history.Log
	Counters  *metrics.Counters
	Gauges    *metrics.Gauges
	Pool      *worker.Pool
	Pusher    *pipeline.Pusher
	Puller    *pipeline.Puller

	log zerolog.Logger

	mu         sync.Mutex
	work       map[session.Handle]*worker.SessionWork
	pushQueues map[session.Handle]pipeline.SessionQueue
	groups     map[string]*group.Group
	qos        map[session.Handle]*session.QoSReporter
	paused     bool
	debug      bool

	quit chan struct{}
}

// New builds an Engine from a parsed CLI/static config. The worker
// pool size and allocation mode follow: whole-group mode
// when stream groups are enabled, fill-first otherwise.
func New(cfg config.Config, workers int) *Engine {
	mode := worker.AllocFillFirst
	if cfg.Options.Has(config.EnableStreamGroups) {
		mode = worker.AllocWholeGroupPerThread
	}

	e := &Engine{
		Cfg:      cfg,
		Sessions: session.NewManager(),
		Keys:     streamkey.NewRegistry(512),
		Detector: &codec.Detector{},
		SDP:      sdpdb.New(),
		SIPPorts: sipfilter.DefaultPortRange(),
		History:  history.NewLog(),
		Counters: metrics.NewCounters(),
		Gauges:   metrics.NewGauges(),
		Pool:       worker.New(workers, mode),
		work:       make(map[session.Handle]*worker.SessionWork),
		pushQueues: make(map[session.Handle]pipeline.SessionQueue),
		groups:     make(map[string]*group.Group),
		qos:        make(map[session.Handle]*session.QoSReporter),
		quit:       make(chan struct{}),
		log:        rtplog.Logger.With().Str("component", "engine").Logger(),
	}
	e.Pusher = pipeline.NewPusher(&resolver{e: e}, nil)
	e.Puller = pipeline.NewPuller(nopSink{}, false)
	return e
}

// nopSink is the zero-value output sink until a caller wires a real
// one (pcap/wav/bitstream) via SetSink.
type nopSink struct{}

func (nopSink) Write(kind pipeline.QueueKind, frame pipeline.PulledFrame) error { return nil }

// SetSink replaces the puller's output destination.
func (e *Engine) SetSink(sink pipeline.Sink) {
	e.Puller = pipeline.NewPuller(sink, e.Puller.Timed)
}

// CreateSession validates and registers a new two-termination session,
// wiring its jitter buffers, transcoders, push/pull queues and
// optional stream-group membership, then assigns it to a worker.
func (e *Engine) CreateSession(params session.CreateParams, term1, term2 session.TerminationEndpoint, groupTerm *session.GroupTermination, name string) (session.Handle, error) {
	h, err := e.Sessions.Create(params, term1, term2, groupTerm, name)
	if err != nil {
		return 0, err
	}

	// term2 may have just been defaulted by Sessions.Create (e.g. a
	// dynamic unidirectional session); re-read the resolved session so
	// the jitter buffer and egress encoder are bound to the codec
	// actually in effect, not the caller's pre-default zero value.
	resolved, err := e.Sessions.Get(h)
	if err != nil {
		return 0, err
	}
	term1, term2 = resolved.Term1, resolved.Term2

	sw := &worker.SessionWork{
		Handle:    h,
		PushQueue: make(chan worker.PushItem, 256),
		PullQueue: make(chan worker.PullItem, 256),
	}
	sw.Buffers[0] = jitter.NewBuffer(jitterConfigFor(term1))
	sw.Buffers[1] = jitter.NewBuffer(jitterConfigFor(term2))

	dec, _ := transcoderFor(term1.Attrs.Type)
	_, enc := transcoderFor(term2.Attrs.Type)
	sw.Decoder = decoderAdapter{dec}
	sw.Encoder = encoderAdapter{enc}
	sw.OutSSRC = rand.Uint32()
	sw.OutPayloadType = term2.PayloadType

	groupID := term1.GroupID
	if groupTerm != nil && groupTerm.GroupID != "" {
		groupID = groupTerm.GroupID
	}
	if groupID != "" {
		g := e.groupFor(groupID)
		sw.GroupEngine = g
		if term1.GroupID != "" {
			sw.Contributor = len(g.Contributors)
			g.AddContributor(sw.Contributor)
		}
	}
	if groupTerm != nil {
		_, genc := transcoderFor(groupTerm.Attrs.Type)
		sw.GroupEncoder = encoderAdapter{genc}
		sw.GroupOutSSRC = rand.Uint32()
		sw.GroupPayloadType = term2.PayloadType
		if pt, ok := codec.StaticPayloadTypeFor(groupTerm.Attrs.Type); ok {
			sw.GroupPayloadType = pt
		}
	}

	pushQueue := make(pipeline.SessionQueue, 256)

	e.mu.Lock()
	e.work[h] = sw
	e.pushQueues[h] = pushQueue
	if term1.Flags.Has(session.TermQoSReportEnable) || term2.Flags.Has(session.TermQoSReportEnable) {
		e.qos[h] = &session.QoSReporter{}
	}
	e.mu.Unlock()

	go e.forwardPush(h, pushQueue, sw)
	e.Pool.Assign(sw)
	return h, nil
}

// groupFor returns the named stream group, creating it with engine
// defaults on first reference.
func (e *Engine) groupFor(name string) *group.Group {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.groups[name]; ok {
		return g
	}
	g := group.New(name, 0, group.DefaultConfig())
	e.groups[name] = g
	return g
}

// jitterConfigFor translates a session.TerminationEndpoint's
// jitter-buffer settings and flags into the jitter package's Config.
func jitterConfigFor(term session.TerminationEndpoint) jitter.Config {
	return jitter.Config{
		Ptime:                 term.Attrs.Ptime,
		TargetDelayPtimes:     int(term.JitterBuffer.TargetDelay),
		MaxDelayPtimes:        int(term.JitterBuffer.MaxDelay),
		MinDelayPtimes:        int(term.JitterBuffer.MinDelay),
		RFC7198LookbackPtimes: term.RFC7198LookbackDepth,
		OOOHoldoff:            term.Flags.Has(session.TermOOOHoldoffEnable),
		MaxRepairPtimes:       int(term.MaxPktRepairPtimes),
		DTXEnable:             term.Flags.Has(session.TermDTXEnable),
		SIDRepairEnable:       term.Flags.Has(session.TermSIDRepairEnable),
		PacketRepairEnable:    term.Flags.Has(session.TermPktRepairEnable),
	}
}

// decoderAdapter/encoderAdapter satisfy worker.Decoder/Encoder from the
// narrower interfaces transcoderFor returns, avoiding an import cycle
// between engine and worker over the codec function shape.
type decoderAdapter struct {
	d interface {
		Decode(codec.Attributes, []byte) ([]int16, error)
	}
}

func (a decoderAdapter) Decode(attrs codec.Attributes, payload []byte) ([]int16, error) {
	return a.d.Decode(attrs, payload)
}

type encoderAdapter struct {
	e interface {
		Encode(codec.Attributes, []int16) ([]byte, error)
	}
}

func (a encoderAdapter) Encode(attrs codec.Attributes, pcm []int16) ([]byte, error) {
	return a.e.Encode(attrs, pcm)
}

// DeleteSession performs the two-phase teardown: mark FLUSHING so the
// worker pool stops pushing new work and drains existing queues, then
// commit the DELETED transition once both queues and the jitter
// buffers are empty.
func (e *Engine) DeleteSession(h session.Handle) error {
	if err := e.Sessions.Flush(h); err != nil {
		return err
	}

	e.mu.Lock()
	sw, ok := e.work[h]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: no worker binding for session %d", h)
	}

	e.Pool.FlushGroup(sw)

	const maxWait = 2 * time.Second
	const pollEvery = time.Millisecond
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		if queuesEmpty(sw) {
			break
		}
		time.Sleep(pollEvery)
	}

	empty := queuesEmpty(sw)
	if !empty {
		e.log.Warn().Uint64("handle", uint64(h)).Msg("session queues still not empty after wait timeout, delete refused")
	}
	if err := e.Sessions.Delete(h, empty); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.work, h)
	delete(e.qos, h)
	if q, ok := e.pushQueues[h]; ok {
		close(q)
		delete(e.pushQueues, h)
	}
	e.mu.Unlock()
	return nil
}

func queuesEmpty(sw *worker.SessionWork) bool {
	if len(sw.PushQueue) != 0 || len(sw.PullQueue) != 0 {
		return false
	}
	for _, b := range sw.Buffers {
		if b != nil && b.Len() != 0 {
			return false
		}
	}
	return true
}

// SweepDormant runs one dormant-session detection pass, meant to be
// called on config.DormantSweepInterval by Run's ticker.
func (e *Engine) SweepDormant(now time.Time) {
	e.Sessions.SweepDormant(now)
}

// Quit signals Run's main loop to stop at its next loop iteration,
// without finishing the current repeat pass; the interactive "q" key
// calls it.
func (e *Engine) Quit() {
	select {
	case <-e.quit:
	default:
		close(e.quit)
	}
}

func (e *Engine) quitRequested() bool {
	select {
	case <-e.quit:
		return true
	default:
		return false
	}
}
