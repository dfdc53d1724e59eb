// Package discovery implements the zero-hop DISCOVER_REQ/DISCOVER_RESP
// responder (spec §4.I's final paragraph): it makes this repeater visible
// to network-mapping tools by answering CONTROL packets carrying the
// discovery sub-type, gated by a type filter, a rate limit, and a
// dedup-by-tag window, with the same jitter-before-transmit contract used
// by the command responders.
package discovery

import (
	"context"
	"math/rand/v2"

	"github.com/mesh-repeater/repeater/core/clock"
	"github.com/mesh-repeater/repeater/core/codec"
	"github.com/mesh-repeater/repeater/core/identity"
	"github.com/mesh-repeater/repeater/device/dispatch"
	"github.com/mesh-repeater/repeater/device/transmitter"
)

// Priority runs alongside the command responders, after the dedupe/
// forwarder/trace stages that decide whether a frame is even worth
// inspecting.
const Priority = 36

const (
	discoverReqMinLen = 6 // flags(1) + type_filter(1) + tag(4)

	responseRateLimitMs = 60_000
	dedupTimeoutMs      = 30_000

	jitterRandomSlots = 10
	jitterDelayFactor = 2.0

	pubKeyPrefixLen = 8
	pubKeyFullLen   = 32
)

// Responder answers DISCOVER_REQ with a signed-free DISCOVER_RESP
// reflecting this node's tag, measured SNR, and public key (prefix or
// full, per the requester's flag).
type Responder struct {
	id      *identity.Identity
	clk     *clock.Clock
	arbiter *transmitter.Arbiter

	hasResponded   bool
	lastResponseMs uint32

	hasLastRequest bool
	lastRequestTag uint32
	lastRequestMs  uint32

	pending       bool
	pendingPacket []byte
	responseAtMs  uint32
}

// New creates a Responder for id, using clk for timing and arbiter for
// transmission.
func New(id *identity.Identity, clk *clock.Clock, arbiter *transmitter.Arbiter) *Responder {
	return &Responder{id: id, clk: clk, arbiter: arbiter}
}

func (r *Responder) Name() string    { return "DiscoveryResponder" }
func (r *Responder) Priority() uint8 { return Priority }

// Process implements dispatch.Processor.
func (r *Responder) Process(event *dispatch.PacketEvent, ctx *dispatch.ProcessingContext) dispatch.Result {
	pkt := event.Packet

	if !pkt.IsDirect() || pkt.PathLen != 0 {
		return dispatch.Continue
	}
	if pkt.PayloadType() != codec.PayloadTypeControl {
		return dispatch.Continue
	}
	if len(pkt.Payload) < discoverReqMinLen {
		return dispatch.Continue
	}

	ctrl, err := codec.ParseControlPayload(pkt.Payload)
	if err != nil {
		return dispatch.Continue
	}
	if ctrl.Subtype != codec.ControlSubtypeDiscoverReq {
		return dispatch.Continue
	}

	req, err := codec.ParseDiscoverReqFromControl(ctrl)
	if err != nil {
		return dispatch.Continue
	}
	if req.TypeFilter&codec.ADVTypeRepeaterBit == 0 {
		return dispatch.Continue
	}

	tag := req.Tag

	now := r.clk.Millis()
	if r.hasResponded && now-r.lastResponseMs < responseRateLimitMs {
		return dispatch.Continue
	}
	if r.hasLastRequest && tag == r.lastRequestTag && now-r.lastRequestMs < dedupTimeoutMs {
		return dispatch.Continue
	}
	r.hasLastRequest = true
	r.lastRequestTag = tag
	r.lastRequestMs = now

	resp := r.buildResponse(req.PrefixOnly, tag, event.SNRQuarter)

	encoded, err := resp.WriteTo()
	if err != nil {
		return dispatch.Continue
	}

	r.pendingPacket = encoded
	r.pending = true
	r.responseAtMs = now + r.calculateResponseDelay(len(encoded))

	return dispatch.Continue
}

func (r *Responder) buildResponse(prefixOnly bool, tag uint32, snr int8) *codec.Packet {
	keyLen := pubKeyFullLen
	if prefixOnly {
		keyLen = pubKeyPrefixLen
	}

	payload := codec.BuildDiscoverRespPayload(codec.NodeTypeRepeater, snr, tag, r.id.KeyPair.PublicKey[:keyLen])

	return &codec.Packet{
		Header:  (codec.PayloadTypeControl << codec.PHTypeShift) | codec.RouteTypeDirect,
		Payload: payload,
	}
}

// calculateResponseDelay mirrors the command responders' jitter formula:
// a random 0-9 slot count plus a node-hash-derived offset, scaled by twice
// the estimated airtime of the pending response.
func (r *Responder) calculateResponseDelay(pendingLen int) uint32 {
	airtime := transmitter.EstimateAirtime(pendingLen)
	slotTime := airtime * jitterDelayFactor
	randomSlot := rand.IntN(jitterRandomSlots)
	hashSlot := int(r.id.NodeHash) % jitterRandomSlots
	return uint32(float64(randomSlot+hashSlot) * slotTime)
}

// Drain transmits the pending response once responseAtMs is reached,
// called once per main-loop iteration.
func (r *Responder) Drain(now uint32) {
	if !r.pending || now < r.responseAtMs {
		return
	}
	if r.arbiter.IsTransmitting() {
		r.reschedule(now)
		return
	}

	ok, _ := r.arbiter.Transmit(context.Background(), r.pendingPacket)
	if !ok {
		r.reschedule(now)
		return
	}

	r.hasResponded = true
	r.lastResponseMs = now
	r.pending = false
}

func (r *Responder) reschedule(now uint32) {
	airtime := transmitter.EstimateAirtime(len(r.pendingPacket))
	r.responseAtMs = now + uint32(jitterDelayFactor*airtime)
}
