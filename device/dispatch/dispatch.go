// Package dispatch implements the MeshCore packet processing pipeline
// (spec §4.E): a priority-ordered chain of Processor stages invoked once
// per received packet, each able to continue, stop, or drop the chain.
package dispatch

import (
	"errors"
	"sort"

	"github.com/mesh-repeater/repeater/core/codec"
)

// MaxProcessors bounds the registered processor chain.
const MaxProcessors = 8

// ErrTooManyProcessors is returned by AddProcessor once MaxProcessors are
// already registered.
var ErrTooManyProcessors = errors.New("dispatch: too many processors registered")

// Result is a processor's verdict on whether the chain should continue.
type Result int

const (
	// Continue keeps the chain running; later processors still run.
	Continue Result = iota
	// Stop ends the chain, preserving whatever side effects ran so far.
	Stop
	// Drop ends the chain, indicating the packet is invalid or a duplicate.
	Drop
)

// PacketEvent is the immutable received-packet event handed to every
// processor in the chain.
type PacketEvent struct {
	Packet     *codec.Packet
	SNRQuarter int8 // received SNR in quarter-dB units
	ReceivedAt uint32
}

// ProcessingContext is the mutable scratchpad processors use to
// communicate with each other and with the dispatcher's caller. Exactly
// one ProcessingContext exists per PacketEvent dispatch.
type ProcessingContext struct {
	IsDuplicate   bool
	ShouldForward bool
	IsForUs       bool
	HopCount      uint8
	SourceNode    byte
	TargetNode    byte
	DedupHash     uint32
}

// Processor is a single pipeline stage.
type Processor interface {
	// Name identifies the processor for logging.
	Name() string
	// Priority orders processors ascending; smaller runs first.
	Priority() uint8
	// Process inspects event and may mutate ctx, returning how the
	// dispatcher should proceed. Implementations must not block the
	// dispatch goroutine for longer than a radio send takes.
	Process(event *PacketEvent, ctx *ProcessingContext) Result
}

// Dispatcher holds a priority-sorted chain of up to MaxProcessors
// Processors, run once per received packet by the main loop. It is owned
// exclusively by that loop; no locking is used or required (spec §5).
type Dispatcher struct {
	processors []Processor
}

// New creates an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// AddProcessor registers p, re-sorting the chain by ascending Priority().
// Re-adding a processor with the same Name() replaces the prior
// registration in place (idempotent).
func (d *Dispatcher) AddProcessor(p Processor) error {
	for i, existing := range d.processors {
		if existing.Name() == p.Name() {
			d.processors[i] = p
			d.resort()
			return nil
		}
	}
	if len(d.processors) >= MaxProcessors {
		return ErrTooManyProcessors
	}
	d.processors = append(d.processors, p)
	d.resort()
	return nil
}

func (d *Dispatcher) resort() {
	sort.SliceStable(d.processors, func(i, j int) bool {
		return d.processors[i].Priority() < d.processors[j].Priority()
	})
}

// Dispatch runs every registered processor in priority order against
// event, stopping early on Stop or Drop. It returns the final Result and
// the ProcessingContext accumulated along the way.
func (d *Dispatcher) Dispatch(event *PacketEvent) (Result, *ProcessingContext) {
	ctx := &ProcessingContext{}
	result := Continue

	for _, p := range d.processors {
		result = p.Process(event, ctx)
		if result != Continue {
			break
		}
	}

	return result, ctx
}

// Processors returns the current priority-ordered chain, for introspection
// and testing.
func (d *Dispatcher) Processors() []Processor {
	out := make([]Processor, len(d.processors))
	copy(out, d.processors)
	return out
}
