// Package command implements the private-channel text command responders
// (spec §4.I): a unified status/advert/location/neighbors/help handler plus
// the supplemented !ping responder, sharing a common rate-limit/dedup/jitter
// contract against accidental response storms from forwarded duplicates.
package command

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/mesh-repeater/repeater/core/channel"
	"github.com/mesh-repeater/repeater/core/clock"
	"github.com/mesh-repeater/repeater/core/codec"
	"github.com/mesh-repeater/repeater/core/crypto"
	"github.com/mesh-repeater/repeater/core/identity"
	"github.com/mesh-repeater/repeater/core/neighbor"
	"github.com/mesh-repeater/repeater/device/dispatch"
	"github.com/mesh-repeater/repeater/device/transmitter"
)

const (
	// Priority is the unified command handler's position in the dispatch
	// chain, after forwarding and tracing but before discovery/logging.
	Priority = 35

	// ResponseRateLimitMs hard-caps every responder to one outbound
	// transmission per minute, shared across all of its commands.
	ResponseRateLimitMs = 60_000
	// DedupTimeoutMs absorbs forwarded duplicates of the same triggering
	// payload for one minute.
	DedupTimeoutMs = 60_000

	fnvOffsetBasis uint32 = 2166136261
	fnvPrime       uint32 = 16777619

	jitterRandomSlots = 10
	jitterDelayFactor = 2.0
)

// hashPayload fingerprints a command's triggering payload bytes with
// FNV-1a, mirroring CommandHandler::hashPayload in the retrieved firmware.
func hashPayload(payload []byte) uint32 {
	h := fnvOffsetBasis
	for _, b := range payload {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return h
}

// stripPrefix removes an optional "name: " sender prefix from a decoded
// channel message, returning the command text that follows.
func stripPrefix(text string) string {
	if idx := strings.IndexByte(text, ':'); idx >= 0 {
		return strings.TrimLeft(text[idx+1:], " ")
	}
	return text
}

// parseCommandAndArgs splits a command's verb from its argument string. ok
// is false if content does not begin with '!'.
func parseCommandAndArgs(content string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(content, "!") {
		return "", "", false
	}
	if sp := strings.IndexByte(content, ' '); sp >= 0 {
		return content[:sp], strings.TrimLeft(content[sp+1:], " "), true
	}
	return content, "", true
}

// resolveTarget consumes an optional "@XX" or "@all" addressing token from
// args. targeted is false if the command names a different node-hash or
// names one in an unparseable format.
func resolveTarget(args string, ourHash byte) (rest string, targeted bool) {
	if !strings.HasPrefix(args, "@") {
		return args, true
	}

	body := args[1:]
	target := body
	if sp := strings.IndexByte(body, ' '); sp >= 0 {
		target = body[:sp]
		rest = strings.TrimLeft(body[sp+1:], " ")
	}

	if target == "all" {
		return rest, true
	}

	val, err := strconv.ParseUint(target, 16, 8)
	if err != nil {
		return "", false
	}
	return rest, byte(val) == ourHash
}

// responder holds the rate-limit, dedup, and pending-send state shared by
// every command processor (spec §4.I). Each concrete responder embeds its
// own instance, so a PingResponder's rate limit is independent of the
// unified CommandHandler's, matching the original firmware's separate
// (un-retrieved) PingResponder class.
type responder struct {
	nodeName string
	nodeHash byte
	clk      *clock.Clock
	arbiter  *transmitter.Arbiter
	channels *channel.Set

	hasResponded   bool
	lastResponseMs uint32

	hasLastPayload  bool
	lastPayloadHash uint32
	lastPayloadMs   uint32

	pending       bool
	pendingPacket []byte
	responseAtMs  uint32
}

func (r *responder) rateLimited(now uint32) bool {
	return r.hasResponded && now-r.lastResponseMs < ResponseRateLimitMs
}

// duplicate reports whether payload matches the last seen triggering
// payload within the dedup window, then records payload as the new
// "last seen" fingerprint.
func (r *responder) duplicate(payload []byte, now uint32) bool {
	h := hashPayload(payload)
	dup := r.hasLastPayload && h == r.lastPayloadHash && now-r.lastPayloadMs < DedupTimeoutMs
	r.hasLastPayload = true
	r.lastPayloadHash = h
	r.lastPayloadMs = now
	return dup
}

func (r *responder) channelFor(index int) channel.Channel {
	if index < 0 {
		return r.channels.Public
	}
	return r.channels.Private[index]
}

// calculateResponseDelay spreads responses across a wide window while
// keeping each node deterministically offset by its own node-hash, so many
// nodes answering the same command don't collide on air.
func (r *responder) calculateResponseDelay(pendingLen int) uint32 {
	airtime := transmitter.EstimateAirtime(pendingLen)
	slotTime := airtime * jitterDelayFactor
	randomSlot := rand.IntN(jitterRandomSlots)
	hashSlot := int(r.nodeHash) % jitterRandomSlots
	return uint32(float64(randomSlot+hashSlot) * slotTime)
}

// queue encodes pkt and schedules it as the pending response, replacing
// whatever the responder may already have queued.
func (r *responder) queue(pkt *codec.Packet, now uint32) bool {
	buf := make([]byte, codec.MaxEncodedPacketSize)
	n, err := pkt.Encode(buf)
	if err != nil || n == 0 {
		return false
	}
	r.pendingPacket = buf[:n]
	r.pending = true
	r.responseAtMs = now + r.calculateResponseDelay(n)
	return true
}

// queueMessage builds and queues a GRP_TXT response on the channel the
// triggering command arrived on.
func (r *responder) queueMessage(text string, channelIndex int, now uint32) bool {
	ts := r.clk.GetCurrentTime()
	pkt, err := channel.BuildSendPacket(r.channelFor(channelIndex), text, ts)
	if err != nil {
		return false
	}
	return r.queue(pkt, now)
}

// Drain services the pending response timer. It is called once per
// main-loop iteration; on transmit failure or arbiter busy it reschedules
// one jitter slot later rather than retrying immediately.
func (r *responder) Drain(now uint32) {
	if !r.pending || now < r.responseAtMs {
		return
	}
	if r.arbiter.IsTransmitting() {
		r.reschedule(now)
		return
	}
	if ok, _ := r.arbiter.Transmit(context.Background(), r.pendingPacket); !ok {
		r.reschedule(now)
		return
	}
	r.pending = false
	r.hasResponded = true
	r.lastResponseMs = now
}

func (r *responder) reschedule(now uint32) {
	airtime := transmitter.EstimateAirtime(len(r.pendingPacket))
	r.responseAtMs = now + uint32(jitterDelayFactor*airtime)
}

// RXStats supplies the receive-side counters !status reports; the decoder
// pipeline that owns packet/airtime accounting lives outside this package
// (in the engine), so it is injected here the same way the forwarder is
// handed rssiOf.
type RXStats struct {
	PacketCount func() uint32
	AirtimeMs   func() uint32
	Reset       func()
}

// Handler is the unified CommandHandler (spec §4.I): !status, !advert,
// !location, !neighbors/!neighbours, and !help.
type Handler struct {
	responder

	id        *identity.Identity
	store     identity.Store
	neighbors *neighbor.Tracker
	rxStats   RXStats
}

// New creates a Handler for the given identity, persistence store, and
// neighbor table.
func New(nodeName string, id *identity.Identity, store identity.Store, clk *clock.Clock, arbiter *transmitter.Arbiter, channels *channel.Set, neighbors *neighbor.Tracker, rxStats RXStats) *Handler {
	return &Handler{
		responder: responder{nodeName: nodeName, nodeHash: id.NodeHash, clk: clk, arbiter: arbiter, channels: channels},
		id:        id,
		store:     store,
		neighbors: neighbors,
		rxStats:   rxStats,
	}
}

func (h *Handler) Name() string    { return "CommandHandler" }
func (h *Handler) Priority() uint8 { return Priority }

// Process implements dispatch.Processor. It always returns dispatch.Continue,
// matching the firmware's handler, which never halts the dispatch chain
// regardless of whether a command was recognized.
func (h *Handler) Process(event *dispatch.PacketEvent, ctx *dispatch.ProcessingContext) dispatch.Result {
	p := event.Packet
	if p.PayloadType() != codec.PayloadTypeGrpTxt {
		return dispatch.Continue
	}

	msg, err := h.channels.Decode(p)
	if err != nil || msg.ChannelIndex < 0 {
		// Public-channel traffic can never trigger a command.
		return dispatch.Continue
	}

	content := stripPrefix(msg.Text)
	cmd, args, ok := parseCommandAndArgs(content)
	if !ok {
		return dispatch.Continue
	}

	rest, targeted := resolveTarget(args, h.nodeHash)
	if !targeted {
		return dispatch.Continue
	}

	now := h.clk.Millis()
	if h.rateLimited(now) {
		return dispatch.Continue
	}
	if h.duplicate(p.Payload, now) {
		return dispatch.Continue
	}

	switch cmd {
	case "!status":
		h.queueMessage(h.buildStatus(rest), msg.ChannelIndex, now)
	case "!advert":
		if pkt, err := BuildAdvertPacket(h.id, h.store, h.clk, h.nodeName); err == nil {
			h.queue(pkt, now)
		}
	case "!location":
		h.queueMessage(h.buildLocation(rest), msg.ChannelIndex, now)
	case "!neighbors", "!neighbours":
		h.queueMessage(h.buildNeighbors(), msg.ChannelIndex, now)
	case "!help":
		h.queueMessage(h.buildHelp(), msg.ChannelIndex, now)
	}

	return dispatch.Continue
}

func (h *Handler) prefix() string {
	return fmt.Sprintf("%s %02X", h.nodeName, h.nodeHash)
}

func (h *Handler) buildStatus(args string) string {
	if args == "clear" {
		h.arbiter.Counters = transmitter.Counters{}
		if h.rxStats.Reset != nil {
			h.rxStats.Reset()
		}
		return fmt.Sprintf("%s: Stats cleared", h.prefix())
	}

	var rx, rxAirtime uint32
	if h.rxStats.PacketCount != nil {
		rx = h.rxStats.PacketCount()
	}
	if h.rxStats.AirtimeMs != nil {
		rxAirtime = h.rxStats.AirtimeMs()
	}
	tx := h.arbiter.Counters.TransmitCount
	txAirtime := h.arbiter.Counters.TotalAirtimeMs
	airtimeSec := (rxAirtime + txAirtime) / 1000

	return fmt.Sprintf("%s: RX:%d TX:%d Air:%ds", h.prefix(), rx, tx, airtimeSec)
}

func (h *Handler) buildLocation(args string) string {
	switch {
	case args == "":
		loc := identity.LoadLocation(h.store)
		if !loc.Set {
			return fmt.Sprintf("%s: No loc", h.prefix())
		}
		return fmt.Sprintf("%s: Loc %d,%d", h.prefix(), loc.LatMicro, loc.LonMicro)
	case args == "clear":
		_ = identity.ClearLocation(h.store)
		return fmt.Sprintf("%s: Loc cleared", h.prefix())
	default:
		parts := strings.Fields(args)
		if len(parts) < 1 {
			return fmt.Sprintf("%s: Bad lat", h.prefix())
		}
		lat, err := strconv.ParseInt(parts[0], 10, 32)
		if err != nil {
			return fmt.Sprintf("%s: Bad lat", h.prefix())
		}
		if len(parts) < 2 {
			return fmt.Sprintf("%s: Bad lon", h.prefix())
		}
		lon, err := strconv.ParseInt(parts[1], 10, 32)
		if err != nil {
			return fmt.Sprintf("%s: Bad lon", h.prefix())
		}
		_ = identity.SetLocation(h.store, int32(lat), int32(lon))
		return fmt.Sprintf("%s: Loc set", h.prefix())
	}
}

func (h *Handler) buildNeighbors() string {
	count := h.neighbors.Count()
	msg := fmt.Sprintf("%s: N:%d ", h.prefix(), count)
	if count == 0 {
		return msg
	}
	remaining := channel.MaxTextLength - len(msg)
	if remaining <= 0 {
		return msg
	}
	return msg + h.neighbors.BuildList(remaining)
}

func (h *Handler) buildHelp() string {
	return fmt.Sprintf("%s: !cmd[@XX] | !status[clear] !location[lat lon|clear] !neighbors !advert !help", h.prefix())
}

// BuildAdvertPacket constructs a signed FLOOD/ADVERT frame (spec §4.I's
// ADVERT construction: pub32 || le32(ts) || sig64 || appdata), identical
// in format whether triggered by "!advert" or the engine's periodic
// self-advert timer.
func BuildAdvertPacket(id *identity.Identity, store identity.Store, clk *clock.Clock, nodeName string) (*codec.Packet, error) {
	appData := &codec.AdvertAppData{
		NodeType: codec.NodeTypeRepeater,
		Name:     fmt.Sprintf("%s %02X", nodeName, id.NodeHash),
	}
	if loc := identity.LoadLocation(store); loc.Set {
		lat := float64(loc.LatMicro) / codec.CoordScale
		lon := float64(loc.LonMicro) / codec.CoordScale
		appData.Lat = &lat
		appData.Lon = &lon
	}

	var pubKey [32]byte
	copy(pubKey[:], id.KeyPair.PublicKey)
	ts := clk.GetCurrentTime()
	appDataBytes := codec.BuildAdvertAppData(appData)

	sig, err := crypto.SignAdvert(id.KeyPair.PrivateKey, pubKey, ts, appDataBytes)
	if err != nil {
		return nil, fmt.Errorf("command: sign advert: %w", err)
	}

	payload := codec.BuildAdvertPayload(pubKey, ts, sig, appData)
	return &codec.Packet{
		Header:  (codec.PayloadTypeAdvert << codec.PHTypeShift) | codec.RouteTypeFlood,
		Payload: payload,
	}, nil
}
