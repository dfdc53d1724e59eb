// Package engine implements the single-threaded cooperative main loop
// (spec §5): it owns every process-wide singleton spec §9 calls out
// (identity, node config, transmitter, dispatcher, channel state) as an
// explicit, constructed aggregate, and drives one RX-pull / dispatch /
// drain / sleep cycle per iteration. None of the processors it owns uses
// locking; the shared clock.Clock and the radio backends guard their own
// state with a mutex.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/mesh-repeater/repeater/config"
	"github.com/mesh-repeater/repeater/core/channel"
	"github.com/mesh-repeater/repeater/core/clock"
	"github.com/mesh-repeater/repeater/core/codec"
	"github.com/mesh-repeater/repeater/core/dedupe"
	"github.com/mesh-repeater/repeater/core/identity"
	"github.com/mesh-repeater/repeater/core/neighbor"
	"github.com/mesh-repeater/repeater/device/command"
	"github.com/mesh-repeater/repeater/device/dedup"
	"github.com/mesh-repeater/repeater/device/discovery"
	"github.com/mesh-repeater/repeater/device/dispatch"
	"github.com/mesh-repeater/repeater/device/forwarder"
	"github.com/mesh-repeater/repeater/device/neighbormon"
	"github.com/mesh-repeater/repeater/device/packetlog"
	"github.com/mesh-repeater/repeater/device/trace"
	"github.com/mesh-repeater/repeater/device/transmitter"
	"github.com/mesh-repeater/repeater/transport"
)

// tickInterval is how often the loop services delay queues and pending-send
// timers when no RX frame is waiting; small enough that jitter-scheduled
// responses still fire close to their computed due time.
const tickInterval = 20 * time.Millisecond

// rxFrame is one raw frame handed from the radio's RX callback to the main
// loop via rxQueue.
type rxFrame struct {
	data []byte
	rssi int16
	snr  int8
}

// Engine is the constructed aggregate of every component spec §9 calls a
// process-wide singleton. It is owned exclusively by Run's goroutine.
type Engine struct {
	cfg   config.Config
	log   *slog.Logger
	id    *identity.Identity
	store identity.Store
	clk   *clock.Clock
	radio transport.Radio

	arbiter    *transmitter.Arbiter
	dispatcher *dispatch.Dispatcher
	channels   *channel.Set
	neighbors  *neighbor.Tracker
	dedup      *dedupe.Deduplicator

	forwarder *forwarder.Forwarder
	trace     *trace.Handler
	cmd       *command.Handler
	ping      *command.PingResponder
	discovery *discovery.Responder

	rxQueue     chan rxFrame
	currentRSSI int16

	rxPacketCount uint32
	rxAirtimeMs   uint32
	// RXDropped counts RX frames discarded because the queue was already
	// full (spec §5: "on overflow the newest frame is dropped").
	RXDropped uint32

	nextSelfAdvertMs uint32
}

// New constructs an Engine: loads (or generates) identity from store,
// builds the channel set, and wires every processor into the dispatcher
// in its spec-defined priority order.
func New(cfg config.Config, store identity.Store, radio transport.Radio, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}

	clk := clock.New()

	id, err := identity.Load(store, cfg.Node.NodeIDOverride)
	if err != nil {
		return nil, fmt.Errorf("engine: load identity: %w", err)
	}
	if cfg.Node.InitialLocationSet {
		if loc := identity.LoadLocation(store); !loc.Set {
			if err := identity.SetLocation(store, cfg.Node.InitialLatMicro, cfg.Node.InitialLonMicro); err != nil {
				log.Warn("persist initial location", "error", err)
			}
		}
	}

	channels, err := channel.NewSet(cfg.Node.PrivateChannelSecrets)
	if err != nil {
		return nil, fmt.Errorf("engine: build channel set: %w", err)
	}

	arbiter := transmitter.New(radio, clk)
	dedupCache := dedupe.NewWithConfig(cfg.Dedup.CacheSize, cfg.Dedup.TimeoutMs)
	neighbors := neighbor.New()

	e := &Engine{
		cfg:              cfg,
		log:              log,
		id:               id,
		store:            store,
		clk:              clk,
		radio:            radio,
		arbiter:          arbiter,
		dispatcher:       dispatch.New(),
		channels:         channels,
		neighbors:        neighbors,
		dedup:            dedupCache,
		rxQueue:          make(chan rxFrame, cfg.Engine.RXQueueSize),
		nextSelfAdvertMs: clk.Millis() + jitteredInterval(cfg.Engine.SelfAdvertIntervalMs),
	}

	e.forwarder = forwarder.New(clk, arbiter, id.NodeHash, e.rssiForCurrentEvent)
	e.trace = trace.New(arbiter, id.NodeHash, cfg.Forwarding.ForwardingEnabled)
	e.cmd = command.New(cfg.Node.NodeName, id, store, clk, arbiter, channels, neighbors, command.RXStats{
		PacketCount: func() uint32 { return e.rxPacketCount },
		AirtimeMs:   func() uint32 { return e.rxAirtimeMs },
		Reset:       func() { e.rxPacketCount, e.rxAirtimeMs = 0, 0 },
	})
	e.ping = command.NewPingResponder(cfg.Node.NodeName, id.NodeHash, clk, arbiter, channels)
	e.discovery = discovery.New(id, clk, arbiter)

	chain := []dispatch.Processor{
		dedup.New(dedupCache, clk),
		e.forwarder,
		e.trace,
		e.ping,
		e.cmd,
		e.discovery,
		neighbormon.New(neighbors),
		packetlog.New(log),
	}
	for _, p := range chain {
		if err := e.dispatcher.AddProcessor(p); err != nil {
			return nil, fmt.Errorf("engine: register %s: %w", p.Name(), err)
		}
	}

	return e, nil
}

// rssiForCurrentEvent supplies the forwarder's injected RSSI lookup. The
// radio reports RSSI per-frame, not per-PacketEvent, so the engine just
// remembers the value for whichever frame is currently being dispatched.
func (e *Engine) rssiForCurrentEvent(*dispatch.PacketEvent) int16 { return e.currentRSSI }

// Run drives the main loop until ctx is cancelled or the radio fails to
// start. It pulls RX frames pushed by onReceive, dispatches them, and on
// every tick drains the forwarder's delay queue and each responder's
// pending-send timer (spec §5 steps a-d; the battery monitor in step e is
// out of scope, see DESIGN.md).
func (e *Engine) Run(ctx context.Context) error {
	e.radio.SetRXHandler(e.onReceive)
	if err := e.radio.Start(ctx); err != nil {
		return fmt.Errorf("engine: start radio: %w", err)
	}
	defer e.radio.Stop()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-e.rxQueue:
			e.handleFrame(frame)
		case <-ticker.C:
			e.tick()
		}
	}
}

// onReceive is the transport.RXHandler registered with the radio. It must
// return quickly, so it only copies the frame into rxQueue, dropping the
// newest frame and counting it when the queue is already full.
func (e *Engine) onReceive(data []byte, rssiDBm int16, snrQuarterDB int8) {
	frame := rxFrame{data: append([]byte(nil), data...), rssi: rssiDBm, snr: snrQuarterDB}
	select {
	case e.rxQueue <- frame:
	default:
		e.RXDropped++
	}
}

// handleFrame decodes and dispatches one queued frame, then settles the
// arbiter if dispatch triggered a send.
func (e *Engine) handleFrame(frame rxFrame) {
	pkt, err := codec.Decode(frame.data)
	if err != nil {
		e.log.Debug("dropping undecodable frame", "error", err)
		return
	}

	e.currentRSSI = frame.rssi
	e.rxPacketCount++
	e.rxAirtimeMs += uint32(transmitter.EstimateAirtime(len(frame.data)))

	event := &dispatch.PacketEvent{Packet: pkt, SNRQuarter: frame.snr, ReceivedAt: e.clk.Millis()}
	e.dispatcher.Dispatch(event)
	e.settleArbiter()
}

// tick services every timer-driven duty once per main-loop iteration.
func (e *Engine) tick() {
	e.forwarder.DrainDelayQueue()
	e.settleArbiter()

	now := e.clk.Millis()
	e.ping.Drain(now)
	e.settleArbiter()
	e.cmd.Drain(now)
	e.settleArbiter()
	e.discovery.Drain(now)
	e.settleArbiter()

	e.checkSelfAdvert(now)
	e.settleArbiter()
}

// settleArbiter closes out transmit accounting after a send. Radio.Send is
// documented to block for the duration of the transmission, so by the time
// any Drain/Process call that triggered a Transmit returns, the send has
// already completed or failed — there is no asynchronous completion
// callback to wait for.
func (e *Engine) settleArbiter() {
	if e.arbiter.IsTransmitting() {
		e.arbiter.NotifyTxComplete()
	}
}

// checkSelfAdvert floods an unconditional signed ADVERT once per
// SelfAdvertIntervalMs (jittered), supplementing the command-triggered
// "!advert" with a periodic one so neighbor tables stay populated.
func (e *Engine) checkSelfAdvert(now uint32) {
	if e.cfg.Engine.SelfAdvertIntervalMs == 0 || now < e.nextSelfAdvertMs {
		return
	}
	e.nextSelfAdvertMs = now + jitteredInterval(e.cfg.Engine.SelfAdvertIntervalMs)

	pkt, err := command.BuildAdvertPacket(e.id, e.store, e.clk, e.cfg.Node.NodeName)
	if err != nil {
		e.log.Error("build periodic self-advert", "error", err)
		return
	}

	buf := make([]byte, codec.MaxEncodedPacketSize)
	n, err := pkt.Encode(buf)
	if err != nil || n == 0 {
		e.log.Error("encode periodic self-advert", "error", err)
		return
	}
	if e.arbiter.IsTransmitting() {
		return
	}
	if ok, err := e.arbiter.Transmit(context.Background(), buf[:n]); !ok {
		e.log.Warn("periodic self-advert not sent", "error", err)
	} else {
		e.log.Info("sent periodic self-advert")
	}
}

// jitteredInterval spreads baseMs by up to ±20%, so many repeaters booted
// together don't all self-advert in lockstep.
func jitteredInterval(baseMs uint32) uint32 {
	if baseMs == 0 {
		return 0
	}
	spread := int(baseMs) / 5
	offset := rand.IntN(2*spread+1) - spread
	return uint32(int(baseMs) + offset)
}
