// Package transport defines the Radio contract the engine's transmitter
// arbiter sends through and receives callbacks from — MeshCore's external
// collaborator boundary (spec §9): "process-wide radio singleton maps to
// an injected Radio value; the interrupt-driven RX callback maps to a
// bounded channel fed by a reader goroutine".
package transport

import "context"

// RXHandler is invoked once per received raw frame, with the radio's
// reported RSSI (dBm) and SNR (quarter-dB units) for that frame.
// Implementations must return quickly; heavy processing belongs in the
// engine's dispatch loop, not the reader goroutine.
type RXHandler func(data []byte, rssiDBm int16, snrQuarterDB int8)

// Radio is the minimal contract the transmitter arbiter and engine need
// from a concrete radio backend: send raw bytes, and register a callback
// for received ones. Backends may be a real LoRa transceiver link (serial)
// or a simulated shared medium for bench testing (MQTT).
type Radio interface {
	// Start begins the backend's connection and receive loop. The
	// provided context controls the backend's lifetime; Start returns
	// once the backend is ready to Send.
	Start(ctx context.Context) error
	// Stop gracefully shuts the backend down.
	Stop() error
	// IsConnected reports whether the backend is currently usable.
	IsConnected() bool
	// SetRXHandler registers the callback invoked for each received frame.
	// Must be called before Start.
	SetRXHandler(fn RXHandler)
	// Send transmits a raw frame. It blocks for the duration of the
	// underlying transmission, matching spec §5's suspension-point model.
	Send(ctx context.Context, data []byte) error
}

// Event represents a radio backend state change.
type Event int

const (
	// EventConnected is fired when the backend connects.
	EventConnected Event = iota
	// EventDisconnected is fired when the backend disconnects.
	EventDisconnected
	// EventReconnecting is fired when the backend is attempting to reconnect.
	EventReconnecting
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateHandler is called when a Radio backend's connection state changes.
type StateHandler func(event Event)
