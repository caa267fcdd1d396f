package engine

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pion/rtp"

	"github.com/signalrtp/rtpengine/pipeline"
	"github.com/signalrtp/rtpengine/session"
	"github.com/signalrtp/rtpengine/worker"
)

// placeholderMAC addresses frame the RTP/UDP/IP payload inside an
// Ethernet header for pcap output; no real link-layer identity exists
// for a synthesized egress frame.
var (
	placeholderSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	placeholderDstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// ipv4From reads the first four bytes of a termination's stored
// address as an IPv4 address, matching parser.PacketInfo's convention
// of storing IPv4 octets at the front of its 16-byte address fields.
func ipv4From(addr [16]byte) net.IP {
	return net.IPv4(addr[0], addr[1], addr[2], addr[3])
}

// buildOutputFrame marshals item into an RFC 3550 RTP packet and wraps
// it in an Ethernet/IPv4/UDP frame addressed from the egress
// termination's local endpoint to its remote endpoint, matching the
// link type the pcap sink was opened with.
func buildOutputFrame(s *session.Session, item worker.PullItem) ([]byte, error) {
	term := s.Term2
	if item.Kind == pipeline.QueueTranscodedOutput && item.TermIndex == 1 {
		term = s.Term1
	}

	rtpPkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         item.Marker,
			PayloadType:    item.PayloadType,
			SequenceNumber: item.SequenceNumber,
			Timestamp:      item.Timestamp,
			SSRC:           item.SSRC,
		},
		Payload: item.Payload,
	}
	rtpBytes, err := rtpPkt.Marshal()
	if err != nil {
		return nil, err
	}

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
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(rtpBytes)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
