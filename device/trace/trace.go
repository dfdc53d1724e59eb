// Package trace implements TraceHandler (spec §4.H): the DIRECT-routed
// path-trace responder, which either logs a completed trace's per-hop SNR
// values or appends our own measurement and forwards it on immediately.
package trace

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/mesh-repeater/repeater/core/codec"
	"github.com/mesh-repeater/repeater/device/dispatch"
	"github.com/mesh-repeater/repeater/device/transmitter"
)

// Priority is this processor's position in the dispatch chain.
const Priority = 25

// headerSize is tag(4) + auth(4) + flags(1).
const headerSize = 9

// Handler processes TRACE/DIRECT packets.
type Handler struct {
	arbiter           *transmitter.Arbiter
	ourNodeHash       byte
	forwardingEnabled bool

	TracesHandled uint32
}

// New creates a Handler. forwardingEnabled mirrors the firmware's global
// Config::Forwarding::ENABLED switch; when false, in-flight traces are
// dropped rather than relayed.
func New(arbiter *transmitter.Arbiter, ourNodeHash byte, forwardingEnabled bool) *Handler {
	return &Handler{arbiter: arbiter, ourNodeHash: ourNodeHash, forwardingEnabled: forwardingEnabled}
}

func (h *Handler) Name() string    { return "TraceHandler" }
func (h *Handler) Priority() uint8 { return Priority }

// Process implements dispatch.Processor.
func (h *Handler) Process(event *dispatch.PacketEvent, ctx *dispatch.ProcessingContext) dispatch.Result {
	p := event.Packet
	if p.PayloadType() != codec.PayloadTypeTrace {
		return dispatch.Continue
	}
	if !p.IsDirect() {
		return dispatch.Drop
	}
	if len(p.Payload) < headerSize {
		return dispatch.Drop
	}

	pathHashesLen := len(p.Payload) - headerSize
	pathHashes := p.Payload[headerSize:]

	if int(p.PathLen) >= pathHashesLen {
		slog.Info("trace completed", "tag", TraceTag(p), "hop_snr_quarter_db", HopSNRs(p))
		h.TracesHandled++
		return dispatch.Stop
	}

	if ctx.IsDuplicate || !h.forwardingEnabled {
		return dispatch.Drop
	}

	nextHopHash := pathHashes[p.PathLen]
	if nextHopHash != h.ourNodeHash {
		return dispatch.Drop
	}

	fwd := p.Clone()
	if !h.appendSNRAndForward(fwd, event.SNRQuarter) {
		return dispatch.Stop
	}
	h.TracesHandled++
	ctx.ShouldForward = true
	return dispatch.Stop
}

// appendSNRAndForward appends our SNR measurement to the path, re-encodes,
// and transmits immediately — DIRECT frames carry their own addressing, so
// collision risk is low enough to skip the forwarder's delay scheduling.
func (h *Handler) appendSNRAndForward(p *codec.Packet, snrQuarter int8) bool {
	if int(p.PathLen) >= codec.MaxPathSize {
		return false
	}
	p.Path = append(p.Path, byte(snrQuarter))
	p.PathLen++

	buf := make([]byte, codec.MaxEncodedPacketSize)
	n, err := p.Encode(buf)
	if err != nil || n == 0 {
		return false
	}

	if h.arbiter.IsTransmitting() || !h.arbiter.CanTransmitNow() {
		return false
	}
	ok, _ := h.arbiter.Transmit(context.Background(), buf[:n])
	return ok
}

// HopSNRs decodes the per-hop signed quarter-dB SNR measurements recorded
// in a terminal (arrived-at-endpoint) trace's path, used by loggers and
// tests to inspect a completed trace.
func HopSNRs(p *codec.Packet) []int8 {
	out := make([]int8, p.PathLen)
	for i := 0; i < int(p.PathLen); i++ {
		out[i] = int8(p.Path[i])
	}
	return out
}

// TraceTag extracts the 4-byte trace tag from a TRACE payload.
func TraceTag(p *codec.Packet) uint32 {
	if len(p.Payload) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(p.Payload[0:4])
}
