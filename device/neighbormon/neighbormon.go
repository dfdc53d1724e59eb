// Package neighbormon wires the neighbor table (spec §4.K) into the
// dispatch chain: an ADVERT-only processor that folds every received
// advert's sender hash and SNR into the tracker, so "!neighbors" reports
// on nodes even if they're never explicitly queried.
package neighbormon

import (
	"github.com/mesh-repeater/repeater/core/codec"
	"github.com/mesh-repeater/repeater/core/neighbor"
	"github.com/mesh-repeater/repeater/device/dispatch"
)

// Priority runs after every built-in processor that can drop or stop the
// chain, so those decisions have already been made by the time neighbor
// accounting happens; only the packet logger (priority 99) runs later.
const Priority = 50

// Processor is the dispatch.Processor adapter around a neighbor.Tracker.
type Processor struct {
	neighbors *neighbor.Tracker
}

// New creates a Processor around neighbors.
func New(neighbors *neighbor.Tracker) *Processor {
	return &Processor{neighbors: neighbors}
}

func (p *Processor) Name() string    { return "NeighborMonitor" }
func (p *Processor) Priority() uint8 { return Priority }

// Process implements dispatch.Processor. It never halts the chain: the
// tracking side effect is purely observational.
func (p *Processor) Process(event *dispatch.PacketEvent, ctx *dispatch.ProcessingContext) dispatch.Result {
	pkt := event.Packet
	if pkt.PayloadType() != codec.PayloadTypeAdvert || len(pkt.Payload) < 1 {
		return dispatch.Continue
	}

	// ADVERT payloads begin with the sender's 32-byte public key; its first
	// byte is the same value identity.Load derives a node's NodeHash from.
	nodeHash := pkt.Payload[0]
	snrDb := event.SNRQuarter / 4
	p.neighbors.Update(nodeHash, snrDb)

	return dispatch.Continue
}
