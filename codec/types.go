// Package codec models the termination-endpoint codec attributes and
// implements the single-payload codec auto-detector. The attribute
// layout generalizes a per-codec bitfield union (voice/amr/evrc/opus/
// evs/melpe attributes) into tagged Go structs, one struct per codec
// family instead of overlapping C bitfields.
package codec

import "time"

// Type is the voice/video codec type.
type Type int

const (
	TypeNone Type = iota
	TypeG711Ulaw
	TypeG711Alaw
	TypeG711WBUlaw
	TypeG711WBAlaw
	TypeG726
	TypeG729AB
	TypeG723
	TypeAMRNB
	TypeAMRWB
	TypeEVRC
	TypeILBC
	TypeISAC
	TypeOpus
	TypeEVRCB
	TypeGSMFR
	TypeGSMHR
	TypeGSMEFR
	TypeG722
	TypeEVRCNW
	TypeClearmode
	TypeEVS
	TypeMELPe
	TypeAMRWBPlus
	// video
	TypeMPEG2
	TypeH264
	TypeVP8
	TypeH265
	TypeInvalid
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeG711Ulaw:
		return "g711u"
	case TypeG711Alaw:
		return "g711a"
	case TypeG711WBUlaw:
		return "g711.1u"
	case TypeG711WBAlaw:
		return "g711.1a"
	case TypeG726:
		return "g726"
	case TypeG729AB:
		return "g729"
	case TypeG723:
		return "g723"
	case TypeAMRNB:
		return "amr-nb"
	case TypeAMRWB:
		return "amr-wb"
	case TypeEVRC:
		return "evrc"
	case TypeILBC:
		return "ilbc"
	case TypeISAC:
		return "isac"
	case TypeOpus:
		return "opus"
	case TypeEVRCB:
		return "evrc-b"
	case TypeGSMFR:
		return "gsm-fr"
	case TypeGSMHR:
		return "gsm-hr"
	case TypeGSMEFR:
		return "gsm-efr"
	case TypeG722:
		return "g722"
	case TypeEVRCNW:
		return "evrc-nw"
	case TypeClearmode:
		return "clearmode"
	case TypeEVS:
		return "evs"
	case TypeMELPe:
		return "melpe"
	case TypeAMRWBPlus:
		return "amr-wb+"
	case TypeMPEG2:
		return "mpeg2"
	case TypeH264:
		return "h264"
	case TypeVP8:
		return "vp8"
	case TypeH265:
		return "h265"
	default:
		return "invalid"
	}
}

// MediaType distinguishes voice from video termination, mirroring
// enum media_type.
type MediaType int

const (
	MediaVoice MediaType = iota
	MediaVideo
)

// Static RTP payload types that are deterministic per RFC 3551,
//
const (
	PTG711Ulaw = 0
	PTG726     = 2
	PTG723     = 4
	PTG711Alaw = 8
	PTL16      = 11
	PTG729     = 18
)

// Result is what the auto-detector returns for one payload.
type Result struct {
	Type    Type
	Bitrate int // bps
}

// AMRFlags mirrors enum amr_codec_flags.
type AMRFlags uint32

const (
	AMRChannels       AMRFlags = 0x00000007
	AMROctetAlign     AMRFlags = 0x00000008
	AMRCRC            AMRFlags = 0x00000010
	AMRRobustSorting  AMRFlags = 0x00000020
	AMRInterleaving   AMRFlags = 0x00000040
	AMRModeChangePer  AMRFlags = 0x00000080
	AMRModeChangeCap  AMRFlags = 0x00000100
	AMRModeChangeNeig AMRFlags = 0x00000200
)

// EVRCFlags mirrors enum evrc_codec_flags.
type EVRCFlags uint32

const (
	EVRCFrameSize     EVRCFlags = 0x00000001
	EVRCFixedRate     EVRCFlags = 0x00000002
	EVRCPacketFormat  EVRCFlags = 0x0000000C
	EVRCBitrate       EVRCFlags = 0x00000070
	EVRCMode          EVRCFlags = 0x00000700
	EVRCMaxInterleave EVRCFlags = 0x00007000
	EVRCDTMF          EVRCFlags = 0x00010000
	EVRCTTYMode       EVRCFlags = 0x00060000
	EVRCNoiseSupp     EVRCFlags = 0x00080000
	EVRCPostFilter    EVRCFlags = 0x00100000
)

// OpusFlags mirrors enum opus_codec_flags.
type OpusFlags uint32

const (
	OpusMaxAvgBitrate OpusFlags = 0x00FFFFFF
	OpusStereo        OpusFlags = 0x01000000
	OpusSpropStereo   OpusFlags = 0x02000000
	OpusCBR           OpusFlags = 0x04000000
	OpusFEC           OpusFlags = 0x08000000
)

// EVSFlags mirrors enum evs_codec_flags (x86 host build layout).
type EVSFlags uint32

const (
	EVSSampleRate    EVSFlags = 0x00000003
	EVSBitrateMask   EVSFlags = 0x0000003C
	EVSPacketFormat  EVSFlags = 0x00000040
	EVSRTCPAppEnable EVSFlags = 0x00000180
	EVSMaxRedundancy EVSFlags = 0x00001E00
	EVSCMR           EVSFlags = 0x00006000
	EVSChSend        EVSFlags = 0x00018000
	EVSChRecv        EVSFlags = 0x00060000
	EVSChAwRecv      EVSFlags = 0x00780000
	EVSDTXEnable     EVSFlags = 0x00020000
)

// EVSPacketFormatKind mirrors enum evs_packet_format.
type EVSPacketFormatKind int

const (
	EVSCompact EVSPacketFormatKind = iota
	EVSHeaderFull
)

// MELPeFlags mirrors enum melpe_codec_flags.
type MELPeFlags uint32

const (
	MELPeBitDensity MELPeFlags = 0x0000007F
	MELPeNPP        MELPeFlags = 0x00000080
	MELPePost       MELPeFlags = 0x00000100
)

// VoiceAttributes carries the per-codec parameter set as a tagged
// struct, one field per codec family instead of a single union.
type VoiceAttributes struct {
	VAD          bool
	ComfortNoise bool
	DTMFMode     int
	AMR          AMRFlags
	EVRC         EVRCFlags
	Opus         OpusFlags
	EVS          EVSFlags
	MELPe        MELPeFlags
}

// VideoAttributes carries the per-frame video parameters.
type VideoAttributes struct {
	Width, Height int
	FPS           int
}

// Attributes is the common+variant codec description attached to a
// termination endpoint.
type Attributes struct {
	Media      MediaType
	Type       Type
	Bitrate    int
	SampleRate uint32
	// InputSampleRate differs from SampleRate only for codecs with
	// independent input/decode rates (EVS, Opus).
	InputSampleRate uint32
	Ptime           time.Duration
	Voice           VoiceAttributes
	Video           VideoAttributes
}

func (a Attributes) SamplesPerPtime() uint32 {
	return uint32(float64(a.SampleRate) * a.Ptime.Seconds())
}

// DefaultAttributesFor returns baseline Attributes for statically
// known payload types.
func DefaultAttributesFor(pt uint8) (Attributes, bool) {
	switch pt {
	case PTG711Ulaw:
		return Attributes{Type: TypeG711Ulaw, Bitrate: 64000, SampleRate: 8000, Ptime: 20 * time.Millisecond}, true
	case PTG711Alaw:
		return Attributes{Type: TypeG711Alaw, Bitrate: 64000, SampleRate: 8000, Ptime: 20 * time.Millisecond}, true
	case PTG729:
		return Attributes{Type: TypeG729AB, Bitrate: 8000, SampleRate: 8000, Ptime: 20 * time.Millisecond}, true
	case PTG723:
		return Attributes{Type: TypeG723, Bitrate: 6300, SampleRate: 8000, Ptime: 30 * time.Millisecond}, true
	case PTL16:
		// RFC 3551 assumes 2048 Hz sampling for payload type 11 absent
		// an explicit SDP clock rate.
		return Attributes{Type: TypeISAC, Bitrate: 0, SampleRate: 2048, Ptime: 20 * time.Millisecond}, true
	default:
		return Attributes{}, false
	}
}

// StaticPayloadTypeFor returns the RFC 3551 static payload type for a
// codec type that has one. Dynamic-only codecs (AMR, Opus, EVS, video)
// report ok=false; callers fall back to a negotiated/default value.
func StaticPayloadTypeFor(t Type) (uint8, bool) {
	switch t {
	case TypeG711Ulaw:
		return PTG711Ulaw, true
	case TypeG711Alaw:
		return PTG711Alaw, true
	case TypeG726:
		return PTG726, true
	case TypeG723:
		return PTG723, true
	case TypeG729AB:
		return PTG729, true
	case TypeISAC:
		return PTL16, true
	default:
		return 0, false
	}
}

// g726RateTable maps payload size (bytes, 20ms ptime @ 8kHz) to
// bitrate for the size-to-rate table mentions for G.726.
var g726RateTable = map[int]int{
	40: 16000,
	60: 24000,
	80: 32000,
	100: 40000,
}

// G726BitrateForSize resolves a G.726 bitrate from a 20ms payload size.
func G726BitrateForSize(size int) (int, bool) {
	r, ok := g726RateTable[size]
	return r, ok
}
