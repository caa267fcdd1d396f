package codec

// Detector implements the single-payload codec auto-detector. It is
// deliberately free of session state: given the same payload bytes
// and the same SDPHint it always returns the same Result.
type Detector struct {
	// UnhandledRTP counts payload sizes that matched nothing: an
	// unknown payload size increments this counter rather than
	// erroring.
	UnhandledRTP uint64
}

// SDPHint is whatever the SDP database (sdpdb) has pinned for this
// payload type already; when Type != TypeNone the detector trusts it
// and only computes bitrate.
type SDPHint struct {
	Type       Type
	SampleRate uint32
}

// Detect returns the codec+bitrate hypothesis for one RTP payload.
// payloadType is the RTP PT field; payload is the RTP payload bytes.
func (d *Detector) Detect(payloadType uint8, payload []byte, hint SDPHint) Result {
	if attrs, ok := DefaultAttributesFor(payloadType); ok {
		return Result{Type: attrs.Type, Bitrate: attrs.Bitrate}
	}

	if payloadType == PTG726 {
		rate, ok := G726BitrateForSize(len(payload))
		if ok {
			return Result{Type: TypeG726, Bitrate: rate}
		}
	}

	if hint.Type != TypeNone {
		return Result{Type: hint.Type, Bitrate: bitrateForSize(hint.Type, len(payload))}
	}

	// Dynamic payload type: run the detection categories in order,
	// each refining or rejecting the hypothesis before falling
	// through to the next.
	if r, ok := d.detectVideo(payload); ok {
		// Cat 0: prefer audio over video when the payload exactly
		// matches a known audio signature.
		if ar, aok := d.detectAMRCompact(payload); aok {
			return ar
		}
		return r
	}

	if r, ok := d.detectAMRCompact(payload); ok {
		return r
	}

	if r, ok := d.detectAMROctetAligned(payload); ok {
		return r
	}

	if r, ok := d.detectEVS(payload); ok {
		return r
	}

	d.UnhandledRTP++
	return Result{Type: TypeNone}
}

func bitrateForSize(t Type, size int) int {
	switch t {
	case TypeAMRNB:
		return amrNBBitrateForSize(size)
	case TypeAMRWB:
		return amrWBBitrateForSize(size)
	case TypeEVS:
		return evsBitrateForSize(size)
	default:
		return 0
	}
}

// --- Cat 0: video probe -----------------------------------------------

// detectVideo tests NAL-unit header bit patterns for H.264/H.265
// candidacy and rejects on bitstream emulation-prevention sequences
// found past offset 2.
func (d *Detector) detectVideo(payload []byte) (Result, bool) {
	if len(payload) < 10 {
		return Result{}, false
	}

	// H.264: NAL unit header forbidden_zero_bit (bit 7) must be 0.
	// H.265: NAL unit header forbidden bit (bit 15 of 2-byte header)
	// must be 0 and the 6-bit type field must be in a plausible range.
	h264Candidate := payload[0]&0x80 == 0 && (payload[0]&0x1F) >= 1 && (payload[0]&0x1F) <= 29
	h265Candidate := len(payload) >= 2 && payload[0]&0x80 == 0

	if !h264Candidate && !h265Candidate {
		return Result{}, false
	}

	// Reject candidacy if raw emulation-prevention start-code
	// sequences appear past offset 2 -- these only occur in a real
	// annex-B bitstream being carried verbatim, not RTP-packetized
	// NAL units.
	for i := 2; i+2 < len(payload); i++ {
		if payload[i] == 0x00 && payload[i+1] == 0x00 {
			switch payload[i+2] {
			case 0x00, 0x01, 0x02:
				return Result{}, false
			}
			if i+3 < len(payload) && payload[i+2] == 0x03 && payload[i+3] == 0x00 {
				// 4-byte escape sequence 00 00 03 00 confirms H.26x.
				if h265Candidate {
					return Result{Type: TypeH265}, true
				}
				return Result{Type: TypeH264}, true
			}
		}
	}

	if h264Candidate {
		return Result{Type: TypeH264}, true
	}
	return Result{Type: TypeH265}, true
}

// --- Cat 1/2: AMR ------------------------------------------------------

// amrCompactSizes maps bandwidth-efficient (non-octet-aligned) AMR
// payload sizes to a (type, bitrate) hypothesis over the listed size
// set {6, 7, 14, 17-33, 37, 47, 51, 59-62}.
var amrCompactSizes = map[int]Result{
	6:  {Type: TypeAMRNB, Bitrate: 4750},
	7:  {Type: TypeAMRNB, Bitrate: 5150},
	14: {Type: TypeAMRNB, Bitrate: 7950},
	37: {Type: TypeAMRWB, Bitrate: 12650},
	47: {Type: TypeAMRWB, Bitrate: 15850},
	51: {Type: TypeAMRWB, Bitrate: 18250},
}

func init() {
	for size := 17; size <= 33; size++ {
		amrCompactSizes[size] = Result{Type: TypeAMRNB, Bitrate: 10200}
	}
	for size := 59; size <= 62; size++ {
		amrCompactSizes[size] = Result{Type: TypeAMRWB, Bitrate: 23850}
	}
}

// detectAMRCompact handles Cat 1: CMR byte 0xF1/0x21/0xF4/0x24 driving
// AMR-NB vs AMR-WB selection, disambiguated by payload size.
func (d *Detector) detectAMRCompact(payload []byte) (Result, bool) {
	if len(payload) == 0 {
		return Result{}, false
	}
	cmr := payload[0]
	switch cmr {
	case 0xF1, 0x21, 0xF4, 0x24:
		if r, ok := amrCompactSizes[len(payload)]; ok {
			// ToC F-bit (bit 7 of the byte following CMR, if present)
			// must be clear for a single-frame bundle; a set F-bit
			// rejects the compact-mode match.
			if len(payload) > 1 && payload[1]&0x80 != 0 {
				return Result{}, false
			}
			return r, true
		}
	}
	return Result{}, false
}

// detectAMROctetAligned handles Cat 2: CMR == 0xF0 (octet-aligned
// mode) with an exact payload-size match against the octet-aligned
// size table (one byte larger per frame than compact mode due to
// padding).
func (d *Detector) detectAMROctetAligned(payload []byte) (Result, bool) {
	if len(payload) == 0 || payload[0] != 0xF0 {
		return Result{}, false
	}
	if r, ok := amrCompactSizes[len(payload)-1]; ok {
		return r, true
	}
	return Result{}, false
}

func amrNBBitrateForSize(size int) int {
	if r, ok := amrCompactSizes[size]; ok && r.Type == TypeAMRNB {
		return r.Bitrate
	}
	return 12200
}

func amrWBBitrateForSize(size int) int {
	if r, ok := amrCompactSizes[size]; ok && r.Type == TypeAMRWB {
		return r.Bitrate
	}
	return 23850
}

// --- Cat 4: EVS ----------------------------------------------------------

// evsSizeTable dispatches payload size to an EVS primary-mode bitrate
// hypothesis for EVS compact format, Cat 4. Some
// sizes collide with AMR-WB octet-aligned sizes (notably 33 bytes);
// those collisions are resolved in detectEVS by inspecting the ToC
// F-bit / CMR fields before falling back to EVS.
var evsSizeTable = map[int]int{
	7:   5900,
	17:  7200,
	20:  8000,
	24:  9600,
	33:  13200,
	41:  16400,
	61:  24400,
	80:  32000,
	120: 48000,
	160: 64000,
	240: 96000,
	320: 128000,
}

// detectEVS resolves collisions (e.g. size 33 is both EVS-13.2-compact
// and AMR-12.2-octet-aligned) by combining bit-pattern checks with the
// size table: prefer the most recently seen SDP hint (already handled
// by the caller), else pick the codec whose ToC/CMR byte pattern
// matches, else fall through to EVS.
func (d *Detector) detectEVS(payload []byte) (Result, bool) {
	if len(payload) == 0 {
		return Result{}, false
	}

	rate, ok := evsSizeTable[len(payload)]
	if !ok {
		return Result{}, false
	}

	// Inspect the ToC F-bit (bit 7 of byte 0) / CMR to disambiguate
	// primary-mode compact (F-bit pattern consistent with an EVS
	// ToC) vs AMR-WB-IO header-full (CMR present as first byte with
	// high nibble 0xF).
	if payload[0]&0xF0 == 0xF0 {
		// Looks like an AMR-style CMR byte; only treat as AMR if the
		// exact compact/octet-aligned size tables also match,
		// otherwise keep the EVS hypothesis (header-full IO mode
		// also begins with a CMR-shaped byte).
		if _, isAMR := amrCompactSizes[len(payload)]; isAMR {
			return Result{}, false
		}
	}

	return Result{Type: TypeEVS, Bitrate: rate}, true
}

func evsBitrateForSize(size int) int {
	if r, ok := evsSizeTable[size]; ok {
		return r
	}
	return 13200
}
