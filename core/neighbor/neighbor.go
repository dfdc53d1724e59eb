// Package neighbor implements the MeshCore neighbor table (spec §4.K): an
// EMA-smoothed SNR table keyed by node_hash, used by the "!neighbors"
// command responder and general link-quality diagnostics.
package neighbor

import (
	"fmt"
	"sort"
	"strings"
)

// MaxNeighbors bounds the tracked table; a new arrival past this capacity
// only displaces the weakest existing entry, and only if strictly stronger.
const MaxNeighbors = 8

// Neighbor is one tracked node's smoothed link quality.
type Neighbor struct {
	NodeHash    byte
	AvgSNR      int8 // quarter-dB average, EMA-smoothed
	SampleCount uint8
}

// Tracker holds up to MaxNeighbors neighbors. It is owned exclusively by
// the main loop; no locking is used or required.
type Tracker struct {
	neighbors []Neighbor
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{neighbors: make([]Neighbor, 0, MaxNeighbors)}
}

// Update folds a new SNR sample for nodeHash into the table. Entries with
// the reserved node_hash values 0x00/0xFF are ignored. When the table is
// full and nodeHash is unseen, the new sample only displaces the current
// weakest entry if its SNR strictly exceeds that entry's average.
func (t *Tracker) Update(nodeHash byte, snr int8) {
	if nodeHash == 0x00 || nodeHash == 0xFF {
		return
	}

	if idx := t.find(nodeHash); idx >= 0 {
		n := &t.neighbors[idx]
		n.AvgSNR = int8((int32(snr) + int32(n.AvgSNR)*3) / 4)
		if n.SampleCount < 255 {
			n.SampleCount++
		}
		return
	}

	if len(t.neighbors) < MaxNeighbors {
		t.neighbors = append(t.neighbors, Neighbor{NodeHash: nodeHash, AvgSNR: snr, SampleCount: 1})
		return
	}

	weakest := t.findWeakest()
	if snr > t.neighbors[weakest].AvgSNR {
		t.neighbors[weakest] = Neighbor{NodeHash: nodeHash, AvgSNR: snr, SampleCount: 1}
	}
}

func (t *Tracker) find(nodeHash byte) int {
	for i, n := range t.neighbors {
		if n.NodeHash == nodeHash {
			return i
		}
	}
	return -1
}

func (t *Tracker) findWeakest() int {
	weakest := 0
	for i := range t.neighbors {
		if t.neighbors[i].AvgSNR < t.neighbors[weakest].AvgSNR {
			weakest = i
		}
	}
	return weakest
}

// Count returns the number of tracked neighbors.
func (t *Tracker) Count() int {
	return len(t.neighbors)
}

// All returns a copy of the tracked neighbors, unsorted.
func (t *Tracker) All() []Neighbor {
	out := make([]Neighbor, len(t.neighbors))
	copy(out, t.neighbors)
	return out
}

// BuildList formats the neighbor table as "HH:snr HH:snr ...", sorted by
// SNR descending, truncated to max bytes.
func (t *Tracker) BuildList(max int) string {
	if len(t.neighbors) == 0 {
		return "No neighbors"
	}

	sorted := make([]Neighbor, len(t.neighbors))
	copy(sorted, t.neighbors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AvgSNR > sorted[j].AvgSNR })

	var b strings.Builder
	for i, n := range sorted {
		part := fmt.Sprintf("%02X:%d", n.NodeHash, n.AvgSNR)
		candidate := part
		if i > 0 {
			candidate = " " + part
		}
		if b.Len()+len(candidate) > max {
			break
		}
		b.WriteString(candidate)
	}
	return b.String()
}

// Clear forgets every tracked neighbor.
func (t *Tracker) Clear() {
	t.neighbors = t.neighbors[:0]
}
