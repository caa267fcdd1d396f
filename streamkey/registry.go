// Package streamkey implements the per-worker stream key registry: a
// lockless table mapping (src-ip, dst-ip, src-port, dst-port,
// payload-type) to a session index, owned exclusively by one worker.
package streamkey

import "errors"

// ErrTableFull is returned when the registry is at capacity and a
// genuinely new key is presented; the caller must drop the packet
// rather than create a new session.
var ErrTableFull = errors.New("streamkey: table full")

// Key is the 5-tuple stream identity. DTMF-event packets (payload size
// 4) omit PayloadType from the match so they stay attached to their
// media session -- callers achieve that by building the DTMF packet's
// key with NewDTMFKey, which marks it so matches skips the PayloadType
// comparison (media keys come from NewMediaKey).
type Key struct {
	SrcIP, DstIP     [16]byte
	SrcPort, DstPort uint16
	PayloadType      uint8
	// dtmfAttached marks a key built for a DTMF event packet: it
	// compares equal to any key sharing ports regardless of payload
	// type.
	dtmfAttached bool
}

// NewMediaKey builds a normal stream key that includes payload type in
// the match.
func NewMediaKey(srcIP, dstIP [16]byte, srcPort, dstPort uint16, pt uint8) Key {
	return Key{SrcIP: srcIP, DstIP: dstIP, SrcPort: srcPort, DstPort: dstPort, PayloadType: pt}
}

// NewDTMFKey builds a key for a DTMF-event packet (RTP payload size
// 4), which must attach to whichever media session shares its 5-tuple
// port pair regardless of payload type.
func NewDTMFKey(srcIP, dstIP [16]byte, srcPort, dstPort uint16) Key {
	return Key{SrcIP: srcIP, DstIP: dstIP, SrcPort: srcPort, DstPort: dstPort, dtmfAttached: true}
}

// matches reports whether two keys should be treated as the same
// stream, honoring the DTMF payload-type-agnostic rule.
func matches(a, b Key) bool {
	if a.SrcIP != b.SrcIP || a.DstIP != b.DstIP || a.SrcPort != b.SrcPort || a.DstPort != b.DstPort {
		return false
	}
	if a.dtmfAttached || b.dtmfAttached {
		return true
	}
	return a.PayloadType == b.PayloadType
}

// Registry is a single worker's find_or_insert table.
type Registry struct {
	capacity int
	entries  []Key
	sessions []int
}

// NewRegistry creates a registry sized to cap, enforcing a hard floor
// of 512 keys per worker.
func NewRegistry(cap int) *Registry {
	if cap < 512 {
		cap = 512
	}
	return &Registry{capacity: cap}
}

// FindOrInsert returns the session index for key, inserting a new
// entry if key has not been seen. isNew reports whether the entry was
// just created.
func (r *Registry) FindOrInsert(key Key, newSessionIndex func() int) (isNew bool, sessionIndex int, err error) {
	for i, k := range r.entries {
		if matches(k, key) {
			return false, r.sessions[i], nil
		}
	}

	if len(r.entries) >= r.capacity {
		return false, 0, ErrTableFull
	}

	idx := newSessionIndex()
	r.entries = append(r.entries, key)
	r.sessions = append(r.sessions, idx)
	return true, idx, nil
}

// Remove drops a key from the table (used when a session is deleted).
func (r *Registry) Remove(key Key) {
	for i, k := range r.entries {
		if matches(k, key) {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			return
		}
	}
}

// Len reports the current number of registered keys.
func (r *Registry) Len() int { return len(r.entries) }

// Perturb shifts a key's source and destination ports by portOffset so
// two identical pcap inputs pushed into one run don't collide on the
// same key. It changes ports only; the key carries no SSRC, and no SSRC
// is altered.
func Perturb(key Key, portOffset uint16) Key {
	key.SrcPort += portOffset
	key.DstPort += portOffset
	return key
}
