package engine

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pion/rtcp"

	"github.com/signalrtp/rtpengine/pipeline"
	"github.com/signalrtp/rtpengine/session"
)

// emitQoSReports builds one RTCP SR/RR per session with QoS reporting
// enabled and writes it to the sink, tagged QueueQoSReport, on the
// same cadence as the dormant-session sweep.
func (e *Engine) emitQoSReports(now time.Time) {
	e.mu.Lock()
	reporters := make(map[session.Handle]*session.QoSReporter, len(e.qos))
	for h, q := range e.qos {
		reporters[h] = q
	}
	e.mu.Unlock()

	for h, q := range reporters {
		s, err := e.Sessions.Get(h)
		if err != nil {
			continue
		}

		pkt := q.Report(now)
		raw, err := buildQoSFrame(s, pkt)
		if err != nil {
			e.log.Warn().Err(err).Msg("qos report frame construction failed")
			continue
		}

		frame := pipeline.PulledFrame{Kind: pipeline.QueueQoSReport, Payload: raw, Timestamp: uint32(now.UnixMicro())}
		if err := e.Puller.Sink.Write(frame.Kind, frame); err != nil {
			e.log.Warn().Err(err).Msg("qos report sink write failed")
		}
	}
}

// buildQoSFrame wraps a marshaled RTCP compound packet in an
// Ethernet/IPv4/UDP frame addressed from the session's term1, the
// termination QoS reporting monitors.
func buildQoSFrame(s *session.Session, pkt rtcp.Packet) ([]byte, error) {
	rtcpBytes, err := rtcp.Marshal([]rtcp.Packet{pkt})
	if err != nil {
		return nil, err
	}

	term := s.Term1
	eth := &layers.Ethernet{
		SrcMAC:       placeholderSrcMAC,
		DstMAC:       placeholderDstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    ipv4From(term.LocalIP),
		DstIP:    ipv4From(term.RemoteIP),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(term.LocalPort),
		DstPort: layers.UDPPort(term.RemotePort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(rtcpBytes)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
