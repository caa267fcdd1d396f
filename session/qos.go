package session

import (
	"time"

	"github.com/pion/rtcp"
)

// QoSReporter tracks one termination's send/receive counters and
// builds periodic RTCP sender/receiver reports from them, independent
// of the jitter-buffer/group pipeline: enabled per termination via
// TermQoSReportEnable, it exists purely to surface call-quality data,
// never to gate media flow.
type QoSReporter struct {
	SSRCSend uint32
	SSRCRecv uint32

	PacketsSent uint32
	OctetsSent  uint32
	PacketsRecv uint32
	OctetsRecv  uint32

	lastSeq       uint16
	haveLastSeq   bool
	packetsLost   uint32
	lastTimestamp uint32
}

// RecordSend accounts one outbound RTP packet, feeding the sender
// report's packet/octet counts and RTP timestamp.
func (q *QoSReporter) RecordSend(ssrc uint32, payloadLen int, timestamp uint32) {
	q.SSRCSend = ssrc
	q.PacketsSent++
	q.OctetsSent += uint32(payloadLen)
	q.lastTimestamp = timestamp
}

// RecordReceive accounts one inbound RTP packet, tracking cumulative
// loss from sequence-number gaps for the reception-report block.
func (q *QoSReporter) RecordReceive(ssrc uint32, seq uint16) {
	q.SSRCRecv = ssrc
	q.PacketsRecv++
	if q.haveLastSeq {
		gap := seq - q.lastSeq - 1
		if gap > 0 && gap < 0x8000 {
			q.packetsLost += uint32(gap)
		}
	}
	q.lastSeq = seq
	q.haveLastSeq = true
}

// Report builds a sender report once this termination has sent any
// media (PacketsSent is cumulative and never reset), otherwise a
// receiver report, following RFC 3550 section 6.4's rule that only a
// sender emits SR.
func (q *QoSReporter) Report(now time.Time) rtcp.Packet {
	rr := rtcp.ReceptionReport{
		SSRC:               q.SSRCRecv,
		TotalLost:          q.packetsLost,
		LastSequenceNumber: uint32(q.lastSeq),
	}

	if q.PacketsSent == 0 {
		return &rtcp.ReceiverReport{
			SSRC:    q.SSRCRecv,
			Reports: []rtcp.ReceptionReport{rr},
		}
	}

	return &rtcp.SenderReport{
		SSRC:        q.SSRCSend,
		NTPTime:     ntpTimestamp(now),
		RTPTime:     q.lastTimestamp,
		PacketCount: q.PacketsSent,
		OctetCount:  q.OctetsSent,
		Reports:     []rtcp.ReceptionReport{rr},
	}
}

// ntpTimestamp converts a wall-clock time to the 64-bit NTP
// fixed-point format RTCP sender reports carry.
func ntpTimestamp(t time.Time) uint64 {
	const ntpEpochOffset = 2208988800 // seconds between 1900 and 1970 epochs
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) * (1 << 32) / 1e9
	return secs<<32 | frac
}
