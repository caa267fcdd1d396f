package engine

import (
	"context"
	"time"

	"github.com/signalrtp/rtpengine/config"
	"github.com/signalrtp/rtpengine/metrics"
	"github.com/signalrtp/rtpengine/parser"
	"github.com/signalrtp/rtpengine/pipeline"
	"github.com/signalrtp/rtpengine/sipfilter"
	"github.com/signalrtp/rtpengine/worker"
)

// InputSource supplies raw captured frames to the engine's ingestion
// loop, decoupling Run from any one capture file format (pcap,
// rtpdump, or a live handle): callers wire iohandlers.PcapReader or
// iohandlers.RtpDumpReader behind this.
type InputSource interface {
	Name() string
	LinkKind() parser.LinkLayerKind
	Next() (raw []byte, capturedAt time.Time, ok bool)
}

// Run drives the full engine: interactive keys, the worker pool, the
// push pipeline over the given inputs, the pull pipeline into the
// engine's sink, and periodic dormant-session sweeps. It returns when
// ctx is canceled, a quit is requested, or every input is exhausted
// for the configured repeat count.
func (e *Engine) Run(ctx context.Context, inputs []InputSource) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go e.runInteractiveKeys(runCtx)
	go e.Pool.Run(runCtx)

	for _, in := range inputs {
		e.Pusher.AddStream(&pipeline.StreamState{
			Name: in.Name(),
			Mode: pacingModeFor(e.Cfg),
		})
	}

	sweep := time.NewTicker(config.DormantSweepInterval)
	defer sweep.Stop()

	infinite := e.Cfg.RepeatCount == 0
	for pass := 0; infinite || pass < e.Cfg.RepeatCount; pass++ {
		stop := e.runOnePass(runCtx, inputs, sweep.C)
		if stop {
			return
		}
		for _, in := range inputs {
			if resettable, ok := in.(interface{ Reset() }); ok {
				resettable.Reset()
			}
		}
	}
}

// runOnePass drives one full read of inputs to exhaustion, returning
// true if the caller should stop entirely (ctx canceled or quit
// requested) rather than continue to the next repeat pass.
func (e *Engine) runOnePass(ctx context.Context, inputs []InputSource, sweepC <-chan time.Time) bool {
	cursor := make(map[string]InputSource, len(inputs))
	exhausted := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		cursor[in.Name()] = in
	}

	next := func(s *pipeline.StreamState) (parser.PacketInfo, uint32, bool) {
		in := cursor[s.Name]
		raw, capturedAt, ok := in.Next()
		if !ok {
			exhausted[s.Name] = true
			return parser.PacketInfo{}, 0, false
		}
		info, err := parser.Parse(raw, in.LinkKind())
		if err != nil {
			return parser.PacketInfo{}, 0, false
		}
		if !info.HasRTP {
			e.handleNonRTP(info)
			return parser.PacketInfo{}, 0, false
		}
		return info, uint32(capturedAt.UnixMicro()), true
	}

	for {
		select {
		case <-ctx.Done():
			return true
		case <-sweepC:
			now := time.Now()
			e.SweepDormant(now)
			e.emitQoSReports(now)
		default:
		}

		if e.quitRequested() {
			return true
		}
		if e.Paused() {
			time.Sleep(time.Millisecond)
			continue
		}

		e.Pusher.RunOnce(time.Now(), next)
		e.drainPulls()

		if len(exhausted) == len(inputs) {
			return false
		}
	}
}

// handleNonRTP classifies non-media UDP traffic as SIP/SAP session
// control: INVITE/SAP-SDP bodies feed the SDP database, BYE flags the
// owning stream for termination.
func (e *Engine) handleNonRTP(info parser.PacketInfo) {
	if info.UDPPayload == nil {
		return
	}
	isSAP := e.SIPPorts.IsSAP(info.DstPort)
	if !isSAP && !e.SIPPorts.InSIPRange(info.DstPort) {
		return
	}

	kind, body := sipfilter.Classify(info.UDPPayload, isSAP)
	switch kind {
	case sipfilter.KindInvite, sipfilter.KindSAPSDP:
		if body != nil {
			if err := e.SDP.Ingest(streamKeyString(info), body); err != nil {
				e.log.Warn().Err(err).Msg("sdp ingest failed")
			}
		}
	case sipfilter.KindBye:
		if !e.Cfg.Options.Has(config.DisableTerminateStreamOnBYE) {
			e.terminateStreamsFor(info)
		}
	}
}

// terminateStreamsFor flushes and deletes every session whose term1
// remote/local IP addresses equal the BYE's source/destination
// addresses; ports are not compared.
func (e *Engine) terminateStreamsFor(info parser.PacketInfo) {
	for _, h := range e.Sessions.Sessions() {
		s, err := e.Sessions.Get(h)
		if err != nil {
			continue
		}
		if s.Term1.RemoteIP == info.SrcIP && s.Term1.LocalIP == info.DstIP {
			if err := e.DeleteSession(h); err != nil {
				e.log.Warn().Err(err).Uint64("handle", uint64(h)).Msg("BYE-triggered delete failed")
			}
		}
	}
}

// drainPulls walks every known session's encoded-output pull queue,
// reconstructs a bit-exact RTP/UDP/IP frame for each item, and writes
// it through the configured sink.
func (e *Engine) drainPulls() {
	e.mu.Lock()
	pending := make([]*worker.SessionWork, 0, len(e.work))
	for _, sw := range e.work {
		pending = append(pending, sw)
	}
	e.Gauges.Set("active_sessions", int64(len(e.work)))
	e.mu.Unlock()

	for _, sw := range pending {
		s, err := e.Sessions.Get(sw.Handle)
		if err != nil {
			continue
		}
	drain:
		for {
			select {
			case item, ok := <-sw.PullQueue:
				if !ok {
					break drain
				}
				if q := e.qosFor(sw.Handle); q != nil {
					q.RecordSend(item.SSRC, len(item.Payload), item.Timestamp)
				}
				raw, err := buildOutputFrame(s, item)
				if err != nil {
					e.log.Warn().Err(err).Msg("output frame construction failed")
					continue
				}
				frame := pipeline.PulledFrame{
					Kind:      item.Kind,
					Payload:   raw,
					Timestamp: item.Timestamp,
				}
				if err := e.Puller.Sink.Write(frame.Kind, frame); err != nil {
					e.log.Warn().Err(err).Msg("pull sink write failed")
					continue
				}
				e.Counters.Inc(metrics.CounterPulled)
			default:
				break drain
			}
		}
	}
}

func pacingModeFor(cfg config.Config) pipeline.PacingMode {
	switch {
	case cfg.Options.Has(config.UsePacketArrivalTimes):
		return pipeline.PacingArrivalTimestamp
	case cfg.Options.Has(config.AutoAdjustPushTiming):
		return pipeline.PacingAutoAdjust
	case cfg.PushIntervalMS == 0:
		return pipeline.PacingAFAP
	default:
		return pipeline.PacingFixedInterval
	}
}
