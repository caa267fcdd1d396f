// Package sipfilter implements session-control classification:
// filters TCP-SIP and UDP-SIP/SAP traffic and classifies it into
// INVITE/BYE/OK/SAP-SDP, driving SDP-database ingestion and
// BYE-triggered stream termination.
package sipfilter

import (
	"bytes"
	"strings"
)

// MessageKind is the session-control classification result.
type MessageKind int

const (
	KindNone MessageKind = iota
	KindInvite
	KindBye
	KindOK
	KindSAPSDP
)

// DefaultSIPPortLow/High bound the SIP signaling port range; DefaultSAPPort
// is the well-known SAP announcement port (RFC 2974).
const (
	DefaultSIPPortLow  = 5060
	DefaultSIPPortHigh = 5080
	DefaultSAPPort     = 9875
)

// PortRange controls which UDP/TCP ports this filter inspects.
type PortRange struct {
	SIPLow, SIPHigh uint16
	SAPPort         uint16
}

func DefaultPortRange() PortRange {
	return PortRange{SIPLow: DefaultSIPPortLow, SIPHigh: DefaultSIPPortHigh, SAPPort: DefaultSAPPort}
}

// InSIPRange reports whether port falls in the configured SIP range.
func (r PortRange) InSIPRange(port uint16) bool {
	return port >= r.SIPLow && port <= r.SIPHigh
}

// IsSAP reports whether port is the configured SAP port.
func (r PortRange) IsSAP(port uint16) bool {
	return port == r.SAPPort
}

// Classify inspects a UDP/TCP payload already known (by port) to carry
// SIP or SAP traffic and returns its kind plus, for INVITE/SAP-SDP
// messages, the embedded SDP body (split on the blank-line boundary).
func Classify(payload []byte, isSAP bool) (MessageKind, []byte) {
	if isSAP {
		if body, ok := splitSDPBody(payload); ok {
			return KindSAPSDP, body
		}
		return KindNone, nil
	}

	line := firstLine(payload)
	switch {
	case strings.HasPrefix(line, "INVITE "):
		body, _ := splitSDPBody(payload)
		return KindInvite, body
	case strings.HasPrefix(line, "BYE "):
		return KindBye, nil
	case strings.HasPrefix(line, "SIP/2.0 200"):
		body, _ := splitSDPBody(payload)
		return KindOK, body
	default:
		return KindNone, nil
	}
}

func firstLine(payload []byte) string {
	if i := bytes.IndexByte(payload, '\n'); i >= 0 {
		return strings.TrimRight(string(payload[:i]), "\r\n")
	}
	return string(payload)
}

// splitSDPBody finds the blank-line boundary between SIP/SAP headers
// and an embedded SDP body (CRLF-CRLF or LF-LF).
func splitSDPBody(payload []byte) ([]byte, bool) {
	if i := bytes.Index(payload, []byte("\r\n\r\n")); i >= 0 {
		return payload[i+4:], len(payload) > i+4
	}
	if i := bytes.Index(payload, []byte("\n\n")); i >= 0 {
		return payload[i+2:], len(payload) > i+2
	}
	return nil, false
}

// StreamTerminationFlag mirrors the dynamic_terminate_stream flag bit
// that marks a stream as terminating on a BYE message.
type StreamTerminationFlag uint32

const (
	TerminatesOnBYE StreamTerminationFlag = 1 << iota
)

// ShouldTerminateOnBYE reports whether a BYE classification should
// flag the stream for termination, honoring a disable override.
func ShouldTerminateOnBYE(kind MessageKind, flags StreamTerminationFlag, disabled bool) bool {
	return kind == KindBye && !disabled
}
