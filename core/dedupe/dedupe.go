// Package dedupe implements the MeshCore content-hash dedup cache (spec
// §4.D): a small ring of recently-seen packet fingerprints with a 60s
// expiry, used by the dispatcher's highest-priority processor to suppress
// re-processing of flood duplicates.
package dedupe

import (
	"github.com/mesh-repeater/repeater/core/codec"
)

const (
	// DefaultCacheSize is the dedup cache's ring capacity.
	DefaultCacheSize = 16
	// DefaultTimeoutMs is the entry expiry window in milliseconds.
	DefaultTimeoutMs = 60_000

	fnvOffsetBasis uint32 = 2166136261
	fnvPrime       uint32 = 16777619
)

type entry struct {
	hash      uint32
	timestamp uint32
	valid     bool
}

// Deduplicator is a fixed-capacity ring of (hash, timestamp) fingerprints.
// It is owned exclusively by the main loop's dispatch call; no locking is
// used or required (spec §5).
type Deduplicator struct {
	entries   []entry
	next      int
	timeoutMs uint32
}

// New creates a Deduplicator with the default 16-entry cache and 60s expiry.
func New() *Deduplicator {
	return NewWithConfig(DefaultCacheSize, DefaultTimeoutMs)
}

// NewWithConfig creates a Deduplicator with the given capacity and timeout.
func NewWithConfig(cacheSize int, timeoutMs uint32) *Deduplicator {
	return &Deduplicator{
		entries:   make([]entry, cacheSize),
		timeoutMs: timeoutMs,
	}
}

// ComputeHash fingerprints a packet with FNV-1a over (payload_type,
// payload_version, payload), additionally folding in pathLength last for
// DIRECT-routed TRACE frames so SNR-annotated copies of the same trace
// remain distinguishable per hop (spec §4.D).
func ComputeHash(p *codec.Packet) uint32 {
	h := fnvOffsetBasis
	h = fnv1a(h, p.PayloadType())
	h = fnv1a(h, p.PayloadVersion())
	for _, b := range p.Payload {
		h = fnv1a(h, b)
	}
	if p.PayloadType() == codec.PayloadTypeTrace && p.IsDirect() {
		h = fnv1a(h, p.PathLen)
	}
	return h
}

func fnv1a(h uint32, b byte) uint32 {
	h ^= uint32(b)
	h *= fnvPrime
	return h
}

// expireOlderThan invalidates every entry whose timestamp is more than
// d.timeoutMs behind nowMs.
func (d *Deduplicator) expireOlderThan(nowMs uint32) {
	for i := range d.entries {
		if d.entries[i].valid && nowMs-d.entries[i].timestamp > d.timeoutMs {
			d.entries[i].valid = false
		}
	}
}

// CheckAndInsert sweeps expired entries, then looks for hash. If found,
// reports true (duplicate) without disturbing the cache. If not found, it
// is inserted (overwriting the oldest ring slot on overflow) and
// CheckAndInsert returns false.
func (d *Deduplicator) CheckAndInsert(hash uint32, nowMs uint32) bool {
	d.expireOlderThan(nowMs)

	for i := range d.entries {
		if d.entries[i].valid && d.entries[i].hash == hash {
			return true
		}
	}

	d.entries[d.next] = entry{hash: hash, timestamp: nowMs, valid: true}
	d.next = (d.next + 1) % len(d.entries)
	return false
}

// Clear forgets every cached fingerprint.
func (d *Deduplicator) Clear() {
	for i := range d.entries {
		d.entries[i] = entry{}
	}
	d.next = 0
}
