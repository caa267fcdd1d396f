package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/signalrtp/rtpengine/rtplog"
)

// QueueKind identifies one of the four logical pull queues per
// session.
type QueueKind int

const (
	QueueJitterBufferOutput QueueKind = iota
	QueueTranscodedOutput
	QueueGroupOutput
	QueueQoSReport
)

// PulledFrame is one item drained from a pull queue.
type PulledFrame struct {
	Kind      QueueKind
	Payload   []byte
	Timestamp uint32
}

// Sink receives pulled frames for final output (pcap, wav, bitstream
// extraction), matching output routing.
type Sink interface {
	Write(kind QueueKind, frame PulledFrame) error
}

const maxMissedIntervalRetries = 8

// Puller drains the pull queues for a set of sessions. Timed mode
// receives at most one frame per Drain call; untimed mode drains
// everything currently queued.
type Puller struct {
	Timed bool
	Sink  Sink

	log zerolog.Logger

	missedIntervals map[string]int
}

func NewPuller(sink Sink, timed bool) *Puller {
	return &Puller{Sink: sink, Timed: timed, log: rtplog.Logger.With().Str("component", "pull").Logger(), missedIntervals: make(map[string]int)}
}

// Drain pulls from queue for one session (identified by name, for
// warning de-duplication and missed-interval accounting) and writes
// through the sink.
func (p *Puller) Drain(sessionName string, kind QueueKind, queue <-chan PulledFrame) (int, error) {
	n := 0
	for {
		select {
		case frame, ok := <-queue:
			if !ok {
				return n, nil
			}
			if err := p.Sink.Write(kind, frame); err != nil {
				return n, err
			}
			n++
			if p.Timed {
				return n, nil
			}
		default:
			return n, nil
		}
	}
}

// DrainGroupWithRetry implements arrival-timed stream-group retry:
// when Drain returns zero on a cycle where a frame was expected, sleep
// 1ms and retry up to 8 times, logging a "missed interval" stat on
// exhaustion.
func (p *Puller) DrainGroupWithRetry(sessionName string, queue <-chan PulledFrame) (PulledFrame, bool) {
	for attempt := 0; attempt <= maxMissedIntervalRetries; attempt++ {
		select {
		case frame, ok := <-queue:
			if ok {
				return frame, true
			}
			return PulledFrame{}, false
		default:
		}
		if attempt == maxMissedIntervalRetries {
			break
		}
		time.Sleep(time.Millisecond)
	}
	p.missedIntervals[sessionName]++
	p.log.Warn().Str("session", sessionName).Int("missed", p.missedIntervals[sessionName]).Msg("missed group output interval")
	return PulledFrame{}, false
}

// MissedIntervals reports the running missed-interval count for a
// session, surfaced to packet-history analytics.
func (p *Puller) MissedIntervals(sessionName string) int {
	return p.missedIntervals[sessionName]
}
