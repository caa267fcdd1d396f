package engine

import (
	"time"

	"github.com/signalrtp/rtpengine/codec"
	"github.com/signalrtp/rtpengine/config"
	"github.com/signalrtp/rtpengine/history"
	"github.com/signalrtp/rtpengine/jitter"
	"github.com/signalrtp/rtpengine/parser"
	"github.com/signalrtp/rtpengine/pipeline"
	"github.com/signalrtp/rtpengine/session"
	"github.com/signalrtp/rtpengine/streamkey"
	"github.com/signalrtp/rtpengine/worker"
)

// resolver implements pipeline.Resolver: it maps an
// already-parsed RTP packet to its session's push queue, creating a
// new dynamic session on first-seen stream key when the engine's
// config allows it.
type resolver struct {
	e       *Engine
	indexed []session.Handle // dense sessionIndex -> Handle, parallels streamkey.Registry
}

func (r *resolver) Resolve(info parser.PacketInfo) (pipeline.SessionQueue, bool) {
	e := r.e

	key := keyFor(info)
	isNew, idx, err := e.Keys.FindOrInsert(key, func() int {
		return len(r.indexed)
	})
	if err != nil {
		e.Counters.Inc(metricsKeyTableFull)
		return nil, false
	}

	var h session.Handle
	if isNew {
		if !e.Cfg.Options.Has(config.DynamicSessions) {
			// The registry already inserted the key; without dynamic
			// session support there's nowhere to route it, so back the
			// insert out and drop the packet.
			e.Keys.Remove(key)
			return nil, false
		}
		h, err = e.createDynamicSession(info)
		if err != nil {
			e.log.Warn().Err(err).Msg("dynamic session create failed")
			e.Keys.Remove(key)
			return nil, false
		}
		r.indexed = append(r.indexed, h)
	} else {
		if idx >= len(r.indexed) {
			return nil, false
		}
		h = r.indexed[idx]
	}

	e.mu.Lock()
	q, ok := e.pushQueues[h]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	return q, true
}

const metricsKeyTableFull = "streamkey_table_full"

func keyFor(info parser.PacketInfo) streamkey.Key {
	if len(info.RTPPayload) == 4 && info.RTPPayloadType >= 96 {
		return streamkey.NewDTMFKey(info.SrcIP, info.DstIP, info.SrcPort, info.DstPort)
	}
	return streamkey.NewMediaKey(info.SrcIP, info.DstIP, info.SrcPort, info.DstPort, info.RTPPayloadType)
}

// createDynamicSession builds a session from the first packet seen on
// a new stream key: term1 takes the packet's observed 5-tuple and an
// auto-detected codec, term2 is left zero-value so
// session.Manager.Create fills in the unidirectional defaults.
func (e *Engine) createDynamicSession(info parser.PacketInfo) (session.Handle, error) {
	sdpHint := codec.SDPHint{}
	if entry, ok := e.SDP.Lookup(streamKeyString(info)); ok {
		if rm, ok := entry.RtpMaps[info.RTPPayloadType]; ok {
			sdpHint = codec.SDPHint{SampleRate: rm.ClockRate}
		}
	}
	result := e.Detector.Detect(info.RTPPayloadType, info.RTPPayload, sdpHint)

	attrs, ok := codec.DefaultAttributesFor(info.RTPPayloadType)
	if !ok {
		attrs = codec.Attributes{Type: result.Type, Bitrate: result.Bitrate, SampleRate: 8000, Ptime: 20 * time.Millisecond}
	}

	term1 := session.TerminationEndpoint{
		TermID:      1,
		Attrs:       attrs,
		PayloadType: info.RTPPayloadType,
		RemoteIP:    info.SrcIP,
		RemotePort:  info.SrcPort,
		LocalIP:     info.DstIP,
		LocalPort:   info.DstPort,
	}

	params := session.CreateParams{
		RTPVersion:        info.RTPVersion,
		RTPHeaderLen:      info.RTPHeaderLen,
		PayloadLen:        info.PayloadLen,
		PayloadType:       int(info.RTPPayloadType),
		AllowOutOfSpecPad: e.Cfg.Options.Has(config.AllowOutOfSpecRTPPadding),
	}

	return e.CreateSession(params, term1, session.TerminationEndpoint{}, nil, "")
}

func streamKeyString(info parser.PacketInfo) string {
	return string(info.SrcIP[:]) + ":" + string(info.DstIP[:])
}

// termIndexFor decides which of a session's two terminations a packet
// belongs to by matching its destination port against termination 2's
// local port, falling back to termination 1.
func (e *Engine) termIndexFor(h session.Handle, info parser.PacketInfo) int {
	s, err := e.Sessions.Get(h)
	if err != nil {
		return 0
	}
	if s.Term2.LocalPort != 0 && info.DstPort == s.Term2.LocalPort {
		return 1
	}
	return 0
}

// forwardPush drains a session's pipeline-level push queue
// (parser.PacketInfo + arrival time) into its worker-level push queue
// (jitter.Packet + termination index), translating content flags and
// applying the termination-routing decision once per packet.
func (e *Engine) forwardPush(h session.Handle, in pipeline.SessionQueue, sw *worker.SessionWork) {
	for pp := range in {
		termIdx := e.termIndexFor(h, pp.Info)
		pkt := jitter.Packet{
			Seq:       pp.Info.RTPSeq,
			Timestamp: pp.Info.RTPTimestamp,
			Payload:   pp.Info.RTPPayload,
			Content:   contentFlagFor(pp.Info),
			Arrival:   pp.Received,
		}

		select {
		case sw.PushQueue <- worker.PushItem{TermIndex: termIdx, Packet: pkt}:
			e.Counters.Inc(metricsPacketsPushed)
		default:
			e.Counters.Inc(metricsPushQueueFull)
		}

		if q := e.qosFor(h); q != nil {
			q.RecordReceive(pp.Info.RTPSSRC, pp.Info.RTPSeq)
		}

		e.recordHistory(history.Record{
			Direction: history.DirectionInput,
			SSRC:      pp.Info.RTPSSRC,
			Seq:       pp.Info.RTPSeq,
			Timestamp: pp.Info.RTPTimestamp,
			Content:   pkt.Content,
			Channel:   termIdx,
		})
	}
}

// qosFor returns the session's QoS reporter, if QoS reporting was
// enabled on either of its terminations at creation time.
func (e *Engine) qosFor(h session.Handle) *session.QoSReporter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.qos[h]
}

// recordHistory appends to the shared packet-history log under the
// engine's lock: history.Log has no internal synchronization of its
// own, and Append is called concurrently from every session's
// forwardPush goroutine.
func (e *Engine) recordHistory(r history.Record) {
	e.mu.Lock()
	e.History.Append(r)
	e.mu.Unlock()
}

const (
	metricsPacketsPushed = "engine_packets_pushed"
	metricsPushQueueFull = "engine_push_queue_full"
)

// contentFlagFor classifies a packet's jitter-buffer content kind from
// its payload shape: a 4-byte payload on a dynamic (>=96) payload type
// is an RFC 4733 DTMF event.
func contentFlagFor(info parser.PacketInfo) jitter.ContentFlag {
	if len(info.RTPPayload) == 4 && info.RTPPayloadType >= 96 {
		return jitter.ContentDTMF
	}
	return jitter.ContentMedia
}
