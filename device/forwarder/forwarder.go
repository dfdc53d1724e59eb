// Package forwarder implements PacketForwarder (spec §4.G), the central
// flood-relay algorithm: eligibility checks, SNR-weighted delay scheduling,
// and a small sorted delay queue drained by the engine's main loop.
package forwarder

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/mesh-repeater/repeater/core/clock"
	"github.com/mesh-repeater/repeater/core/codec"
	"github.com/mesh-repeater/repeater/device/dispatch"
	"github.com/mesh-repeater/repeater/device/transmitter"
)

const (
	// Priority is this processor's position in the dispatch chain.
	Priority = 20

	// MaxPathLength rejects packets whose path is already at the cap;
	// appending our own hash would overrun it.
	MaxPathLength = 64
	// MinRSSIToForward skips packets too weak to be worth repeating.
	MinRSSIToForward = -120
	// MinDelayThresholdMs is the boundary below which a forward is sent
	// immediately instead of queued.
	MinDelayThresholdMs = 20
	// DelayQueueSize bounds the sorted delayed-send queue.
	DelayQueueSize = 4

	rxDelayBase        = 2.5
	txDelayFactor      = 2.0
	txDelayJitterSlots = 6
)

// delayedEntry is one pending scheduled retransmission.
type delayedEntry struct {
	encoded     []byte
	scheduledAt uint32
}

// Forwarder is the dispatch.Processor that relays eligible FLOOD packets,
// plus the delayed-send queue the engine loop drains every iteration.
type Forwarder struct {
	clk         *clock.Clock
	arbiter     *transmitter.Arbiter
	ourNodeHash byte
	rssiOf      func(*dispatch.PacketEvent) int16

	queue []delayedEntry

	ForwardedCount uint32
	DroppedCount   uint32
	DelayedCount   uint32
}

// New creates a Forwarder. rssiOf extracts the received RSSI (dBm) for an
// event; the decoder's SNR field alone doesn't carry absolute RSSI, so the
// engine supplies it from the radio's per-frame report.
func New(clk *clock.Clock, arbiter *transmitter.Arbiter, ourNodeHash byte, rssiOf func(*dispatch.PacketEvent) int16) *Forwarder {
	return &Forwarder{clk: clk, arbiter: arbiter, ourNodeHash: ourNodeHash, rssiOf: rssiOf}
}

func (f *Forwarder) Name() string    { return "PacketForwarder" }
func (f *Forwarder) Priority() uint8 { return Priority }

// Process implements dispatch.Processor.
func (f *Forwarder) Process(event *dispatch.PacketEvent, ctx *dispatch.ProcessingContext) dispatch.Result {
	if !f.eligible(event, ctx) {
		return dispatch.Continue
	}

	ctx.ShouldForward = true

	fwd := event.Packet.Clone()
	if !f.appendNodeToPath(fwd) {
		f.DroppedCount++
		return dispatch.Continue
	}

	encoded := make([]byte, codec.MaxEncodedPacketSize)
	n, err := fwd.Encode(encoded)
	if err != nil || n == 0 {
		f.DroppedCount++
		return dispatch.Continue
	}
	encoded = encoded[:n]

	airtime := transmitter.EstimateAirtime(n)
	score := packetScore(event.SNRQuarter)
	rxDelay := rxDelayMs(score, airtime)
	txJitter := txJitterMs(airtime)
	totalDelay := rxDelay + txJitter

	if totalDelay < MinDelayThresholdMs {
		if f.send(encoded) {
			f.ForwardedCount++
		} else {
			f.DroppedCount++
		}
		return dispatch.Continue
	}

	scheduledAt := f.clk.Millis() + uint32(totalDelay)
	if !f.enqueue(encoded, scheduledAt) {
		f.DroppedCount++
	}
	return dispatch.Continue
}

// eligible runs the first-failure-wins checks from spec §4.G.
func (f *Forwarder) eligible(event *dispatch.PacketEvent, ctx *dispatch.ProcessingContext) bool {
	if ctx.IsDuplicate {
		return false
	}
	if !event.Packet.IsFlood() {
		return false
	}
	if event.Packet.PathLen >= MaxPathLength {
		return false
	}
	if f.rssiOf(event) < MinRSSIToForward {
		return false
	}
	for _, hop := range event.Packet.Path {
		if hop == f.ourNodeHash {
			return false
		}
	}
	return true
}

func (f *Forwarder) appendNodeToPath(p *codec.Packet) bool {
	if int(p.PathLen)+1 > codec.MaxPathSize {
		return false
	}
	p.Path = append(p.Path, f.ourNodeHash)
	p.PathLen++
	return true
}

func (f *Forwarder) send(encoded []byte) bool {
	if f.arbiter.IsTransmitting() {
		return false
	}
	ok, _ := f.arbiter.Transmit(context.Background(), encoded)
	return ok
}

// packetScore normalizes a quarter-dB SNR measurement to [0,1], where 0
// corresponds to -20 dB and 1 corresponds to +20 dB.
func packetScore(snrQuarter int8) float64 {
	snr := float64(snrQuarter) / 4.0
	normalized := (snr + 20.0) / 40.0
	return math.Max(0, math.Min(1, normalized))
}

// rxDelayMs computes the SNR-weighted reception delay: stronger signals
// (score near 1) are relayed sooner, weaker ones hang back.
func rxDelayMs(score, airtime float64) float64 {
	multiplier := math.Pow(rxDelayBase, 0.85-score) - 1.0
	if multiplier < 0 {
		multiplier = 0
	}
	return multiplier * airtime
}

// txJitterMs spreads simultaneous repeaters' transmissions across a
// handful of airtime-sized slots to reduce collisions.
func txJitterMs(airtime float64) float64 {
	slotTime := airtime * txDelayFactor
	slot := rand.IntN(txDelayJitterSlots)
	return float64(slot) * slotTime
}

// enqueue inserts (encoded, scheduledAt) into the sorted delay queue,
// earliest-due first. Returns false if the queue is already full.
func (f *Forwarder) enqueue(encoded []byte, scheduledAt uint32) bool {
	if len(f.queue) >= DelayQueueSize {
		return false
	}
	entry := delayedEntry{encoded: encoded, scheduledAt: scheduledAt}

	insertAt := len(f.queue)
	for i, e := range f.queue {
		if e.scheduledAt > scheduledAt {
			insertAt = i
			break
		}
	}
	f.queue = append(f.queue, delayedEntry{})
	copy(f.queue[insertAt+1:], f.queue[insertAt:])
	f.queue[insertAt] = entry
	f.DelayedCount++
	return true
}

// DrainDelayQueue is called once per main-loop iteration. It pops and
// sends at most one due entry; on transmit failure it reschedules that
// entry 2*airtime later (capacity permitting) and stops draining this
// iteration to avoid busy-looping against a stuck arbiter.
func (f *Forwarder) DrainDelayQueue() {
	if len(f.queue) == 0 {
		return
	}

	head := f.queue[0]
	if f.clk.Millis() < head.scheduledAt {
		return
	}
	if f.arbiter.IsTransmitting() {
		return
	}

	f.queue = f.queue[1:]

	if f.send(head.encoded) {
		f.ForwardedCount++
		return
	}

	airtime := transmitter.EstimateAirtime(len(head.encoded))
	f.enqueue(head.encoded, f.clk.Millis()+uint32(2*airtime))
}
