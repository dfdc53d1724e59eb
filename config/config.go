// Package config holds this repeater's compile/config-time settings (spec
// §6's "environment / configuration" record), following the teacher's
// small-per-component-struct style (TrackerConfig, SchedulerConfig,
// ManagerConfig) rather than one flat struct threaded everywhere.
package config

import "github.com/mesh-repeater/repeater/device/transmitter"

// RadioConfig is the compiled LoRa modulation (spec §6): EU 869.618 MHz,
// SF8, BW 62.5 kHz, CR 4/4, preamble 16, sync word 0x12, 22 dBm. These are
// hard protocol parameters and must match across peers, so they are not
// runtime-tunable beyond this record.
type RadioConfig struct {
	FrequencyHz     float64
	SpreadingFactor int
	BandwidthHz     int
	CodingRate      int
	PreambleSymbols int
	SyncWord        byte
	TXPowerDBm      int
}

// DefaultRadioConfig returns the protocol's fixed modulation parameters.
func DefaultRadioConfig() RadioConfig {
	return RadioConfig{
		FrequencyHz:     869_618_000,
		SpreadingFactor: transmitter.SpreadingFactor,
		BandwidthHz:     transmitter.BandwidthHz,
		CodingRate:      transmitter.CodingRate,
		PreambleSymbols: transmitter.PreambleSymbols,
		SyncWord:        0x12,
		TXPowerDBm:      22,
	}
}

// ForwardingConfig records the packet forwarder's eligibility and delay
// scheduling literals (spec §4.G, §6). device/forwarder does not read these
// fields; it compiles in the same values as its own constants.
type ForwardingConfig struct {
	// ForwardingEnabled mirrors the firmware's global Config::Forwarding::
	// ENABLED switch. Only the trace handler reads it: when false, in-flight
	// traces are dropped instead of relayed. The flood forwarder does not
	// consult it and relays eligible packets either way.
	ForwardingEnabled bool

	RXDelayBase         float64
	TXDelayFactor       float64
	MinDelayThresholdMs int
	TXDelayJitterSlots  int
	MinRSSIToForward    int
	SNRScaleFactor      int
	SNRMinDB            int
	SNRRangeDB          int
	DelayQueueSize      int
	MaxPathLength       int
}

// DefaultForwardingConfig returns spec §6's forwarding literals, with
// forwarding enabled.
func DefaultForwardingConfig() ForwardingConfig {
	return ForwardingConfig{
		ForwardingEnabled:   true,
		RXDelayBase:         2.5,
		TXDelayFactor:       2.0,
		MinDelayThresholdMs: 20,
		TXDelayJitterSlots:  6,
		MinRSSIToForward:    -120,
		SNRScaleFactor:      4,
		SNRMinDB:            -20,
		SNRRangeDB:          40,
		DelayQueueSize:      4,
		MaxPathLength:       64,
	}
}

// DedupConfig sizes the content-hash dedup cache (spec §4.D, §6).
type DedupConfig struct {
	CacheSize int
	TimeoutMs uint32
}

// DefaultDedupConfig returns the spec's 16-entry/60s defaults.
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{CacheSize: 16, TimeoutMs: 60_000}
}

// DispatchConfig records the processor-chain cap (spec §4.E, §6);
// device/dispatch enforces its own MaxProcessors constant and does not read
// this value.
type DispatchConfig struct {
	MaxProcessors int
}

// DefaultDispatchConfig returns the spec's 8-processor cap.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{MaxProcessors: 8}
}

// EngineConfig bounds the main loop's RX queue and periodic self-advert
// timer (spec §5's RX queue, and the supplemented periodic self-advert
// feature).
type EngineConfig struct {
	RXQueueSize int

	// SelfAdvertIntervalMs is the nominal period between unconditional
	// self-adverts; the engine jitters the actual fire time within this
	// window so many repeaters booted together don't all flood at once.
	SelfAdvertIntervalMs uint32
}

// DefaultSelfAdvertIntervalMs is 6 hours, matching the supplemented
// periodic self-advert feature's default cadence.
const DefaultSelfAdvertIntervalMs = 6 * 60 * 60 * 1000

// DefaultEngineConfig returns a 16-frame RX queue and a 6h self-advert
// interval.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{RXQueueSize: 16, SelfAdvertIntervalMs: DefaultSelfAdvertIntervalMs}
}

// NodeConfig is the node-identity portion of spec §6's environment record:
// node name, private channel keys, an optional fixed node id, and initial
// location. There is no node-hash override: the node hash is always derived
// from the public key. Key material is supplied as raw bytes here;
// `core/identity` and `core/channel` do the actual parsing and derivation.
type NodeConfig struct {
	NodeName string

	// PrivateChannelSecrets maps a channel name to its 16-byte PSK.
	PrivateChannelSecrets map[string][]byte

	// NodeIDOverride fixes identity.Load's derived node_id, if set.
	NodeIDOverride *uint16

	// InitialLatMicro/InitialLonMicro seed persisted location on first
	// boot, in microdegrees, only applied when InitialLocationSet is true.
	InitialLocationSet bool
	InitialLatMicro    int32
	InitialLonMicro    int32
}

// Config aggregates every per-component config record the engine needs to
// start.
type Config struct {
	Node       NodeConfig
	Radio      RadioConfig
	Forwarding ForwardingConfig
	Dedup      DedupConfig
	Dispatch   DispatchConfig
	Engine     EngineConfig
}

// DefaultConfig returns every component's default, leaving Node's
// identity-specific fields (name, channel secrets) for the caller to fill
// in — those have no sane universal default.
func DefaultConfig() Config {
	return Config{
		Radio:      DefaultRadioConfig(),
		Forwarding: DefaultForwardingConfig(),
		Dedup:      DefaultDedupConfig(),
		Dispatch:   DefaultDispatchConfig(),
		Engine:     DefaultEngineConfig(),
	}
}
