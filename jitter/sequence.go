package jitter

// ExtendedSeq resolves RTP 16-bit sequence numbers to a monotonic
// 64-bit extended value across wraparound, tolerating out-of-order
// arrival the way a dejitter stage must: each new raw sequence number
// is placed relative to the highest extended value seen so far using
// signed 16-bit wrap arithmetic, generalized to also accept values
// that arrive before the current high-water mark.
type ExtendedSeq struct {
	init   bool
	maxSeq uint16
	maxExt uint64
}

func (e *ExtendedSeq) Init(seq uint16) {
	e.init = true
	e.maxSeq = seq
	e.maxExt = uint64(seq)
}

// Update is an alias for Extended kept for call sites that only care
// about advancing wrap state, not the returned value.
func (e *ExtendedSeq) Update(seq uint16) { e.Extended(seq) }

// Extended returns the extended sequence number for seq, updating the
// high-water mark if seq turns out to be the newest value seen.
func (e *ExtendedSeq) Extended(seq uint16) uint64 {
	if !e.init {
		e.Init(seq)
		return e.maxExt
	}

	delta := int32(seq) - int32(e.maxSeq)
	if delta > 0x8000 {
		delta -= 0x10000
	} else if delta < -0x8000 {
		delta += 0x10000
	}

	candidate := int64(e.maxExt) + int64(delta)
	if candidate < 0 {
		candidate = 0
	}
	if uint64(candidate) > e.maxExt {
		e.maxExt = uint64(candidate)
		e.maxSeq = seq
	}
	return uint64(candidate)
}
