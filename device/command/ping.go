package command

import (
	"fmt"

	"github.com/mesh-repeater/repeater/core/channel"
	"github.com/mesh-repeater/repeater/core/clock"
	"github.com/mesh-repeater/repeater/core/codec"
	"github.com/mesh-repeater/repeater/device/dispatch"
	"github.com/mesh-repeater/repeater/device/transmitter"
)

// PingPriority runs just ahead of the unified CommandHandler; the two are
// independent processors (each decodes and checks its own command verb),
// so their relative order only matters for which one's counters move
// first when both happen to observe the same frame.
const PingPriority = 34

// PingResponder answers "!ping" with a compact uptime line. The retrieved
// firmware's own PingResponder class replies on the public channel with a
// battery-status line and a longer rate limit; this responder instead
// follows the private-channel, 60s-rate-limit, plain-text-reply contract
// used by the rest of the command table, with its own independent
// rate-limit/dedup state mirroring Handler's.
type PingResponder struct {
	responder
}

// NewPingResponder creates a PingResponder.
func NewPingResponder(nodeName string, nodeHash byte, clk *clock.Clock, arbiter *transmitter.Arbiter, channels *channel.Set) *PingResponder {
	return &PingResponder{responder: responder{nodeName: nodeName, nodeHash: nodeHash, clk: clk, arbiter: arbiter, channels: channels}}
}

func (p *PingResponder) Name() string    { return "PingResponder" }
func (p *PingResponder) Priority() uint8 { return PingPriority }

// Process implements dispatch.Processor.
func (p *PingResponder) Process(event *dispatch.PacketEvent, ctx *dispatch.ProcessingContext) dispatch.Result {
	pkt := event.Packet
	if pkt.PayloadType() != codec.PayloadTypeGrpTxt {
		return dispatch.Continue
	}

	msg, err := p.channels.Decode(pkt)
	if err != nil || msg.ChannelIndex < 0 {
		return dispatch.Continue
	}

	content := stripPrefix(msg.Text)
	cmd, args, ok := parseCommandAndArgs(content)
	if !ok || cmd != "!ping" {
		return dispatch.Continue
	}

	_, targeted := resolveTarget(args, p.nodeHash)
	if !targeted {
		return dispatch.Continue
	}

	now := p.clk.Millis()
	if p.rateLimited(now) {
		return dispatch.Continue
	}
	if p.duplicate(pkt.Payload, now) {
		return dispatch.Continue
	}

	uptimeSec := p.clk.Millis() / 1000
	message := fmt.Sprintf("%s %02X: pong up=%ds", p.nodeName, p.nodeHash, uptimeSec)
	p.queueMessage(message, msg.ChannelIndex, now)

	return dispatch.Continue
}
