// Package dedup wires the content-hash dedup cache (spec §4.D) into the
// dispatch chain as its own processor with the lowest priority number, so it
// runs first: every other processor assumes a duplicate frame never reaches it.
package dedup

import (
	"github.com/mesh-repeater/repeater/core/clock"
	"github.com/mesh-repeater/repeater/core/codec"
	"github.com/mesh-repeater/repeater/core/dedupe"
	"github.com/mesh-repeater/repeater/device/dispatch"
)

// Priority runs before every other registered processor, matching the
// retrieved firmware's lowest-numbered processor slot.
const Priority = 10

// Processor is the dispatch.Processor adapter around a dedupe.Deduplicator.
// On a cache hit it marks the context IsDuplicate and drops the packet
// outright; on a miss it records the fingerprint and derives SourceNode
// from the packet's transport codes or path, for processors further down
// the chain that need to know who last relayed the frame.
type Processor struct {
	dedup *dedupe.Deduplicator
	clk   *clock.Clock

	DuplicateCount uint32
}

// New creates a Processor around dedup, using clk for cache-entry timing.
func New(dedup *dedupe.Deduplicator, clk *clock.Clock) *Processor {
	return &Processor{dedup: dedup, clk: clk}
}

func (p *Processor) Name() string    { return "Deduplicator" }
func (p *Processor) Priority() uint8 { return Priority }

// Process implements dispatch.Processor.
func (p *Processor) Process(event *dispatch.PacketEvent, ctx *dispatch.ProcessingContext) dispatch.Result {
	hash := dedupe.ComputeHash(event.Packet)
	ctx.DedupHash = hash

	if p.dedup.CheckAndInsert(hash, p.clk.Millis()) {
		ctx.IsDuplicate = true
		p.DuplicateCount++
		return dispatch.Drop
	}

	ctx.SourceNode = extractSourceNode(event.Packet)
	return dispatch.Continue
}

// extractSourceNode identifies the node hash that most recently relayed
// the packet to us: the transport-code low byte if the packet carries
// transport codes, else the last hop recorded in its path, else zero (a
// zero-hop direct frame from the frame's own origin).
func extractSourceNode(p *codec.Packet) byte {
	if p.HasTransportCodes() {
		return byte(p.TransportCodes[0])
	}
	if p.PathLen > 0 {
		return p.Path[p.PathLen-1]
	}
	return 0
}
