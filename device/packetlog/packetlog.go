// Package packetlog implements a pure observability processor: it logs a
// one-line summary of every packet the dispatch chain sees and never
// influences the outcome. It runs last so every other processor's decision
// is already final by the time a packet is logged.
package packetlog

import (
	"log/slog"

	"github.com/mesh-repeater/repeater/core/codec"
	"github.com/mesh-repeater/repeater/device/dispatch"
)

// Priority runs after every other built-in processor (spec §4.E
// registration order): logging never competes with forwarding or
// dedup decisions, it just observes the final Packet.
const Priority = 99

// Processor logs a summary of each dispatched packet via its *slog.Logger.
type Processor struct {
	log *slog.Logger
}

// New creates a Processor that logs to log.
func New(log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{log: log}
}

func (p *Processor) Name() string    { return "PacketLogger" }
func (p *Processor) Priority() uint8 { return Priority }

// Process implements dispatch.Processor. It always returns Continue: it has
// no opinion on whether the packet should be forwarded, stopped, or dropped.
func (p *Processor) Process(event *dispatch.PacketEvent, ctx *dispatch.ProcessingContext) dispatch.Result {
	pkt := event.Packet

	p.log.Info("packet",
		"route", codec.RouteTypeName(pkt.RouteType()),
		"type", codec.PayloadTypeName(pkt.PayloadType()),
		"ver", pkt.PayloadVersion(),
	)

	if pkt.HasTransportCodes() {
		p.log.Debug("packet transport codes",
			"code0", pkt.TransportCodes[0], "code1", pkt.TransportCodes[1])
	}
	p.log.Debug("packet lengths",
		"path_len", pkt.PathLen, "payload_len", len(pkt.Payload))

	if pkt.PayloadType() == codec.PayloadTypeAdvert {
		p.logAdvert(pkt)
	}

	return dispatch.Continue
}

// logAdvert logs the decoded ADVERT fields when the payload parses cleanly.
// A parse failure is silently skipped: some other processor already
// validated the packet structurally, and the logger must never fail or
// alter dispatch because of malformed app data.
func (p *Processor) logAdvert(pkt *codec.Packet) {
	advert, err := codec.ParseAdvertPayload(pkt.Payload)
	if err != nil || advert.AppData == nil {
		return
	}
	app := advert.AppData

	p.log.Info("advert", "node_type", app.GetNodeTypeName())
	if app.Name != "" {
		p.log.Info("advert name", "name", app.Name)
	}
	if app.HasLocation() {
		p.log.Info("advert location", "lat", *app.Lat, "lon", *app.Lon)
	}
	if app.Feature1 != nil && *app.Feature1 != 0 {
		p.log.Debug("advert feature1", "value", *app.Feature1)
	}
	if app.Feature2 != nil && *app.Feature2 != 0 {
		p.log.Debug("advert feature2", "value", *app.Feature2)
	}
}
