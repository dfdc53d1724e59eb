// Package transmitter implements the single-owner half-duplex radio
// arbiter (spec §4.F): it gates every outbound send against an in-flight
// transmission or an externally-imposed silence period, tracks counters,
// and computes LoRa time-on-air for the compiled modulation.
package transmitter

import (
	"context"
	"errors"
	"math"

	"github.com/mesh-repeater/repeater/core/clock"
	"github.com/mesh-repeater/repeater/transport"
)

// Modulation parameters for the compiled LoRa configuration (spec §6):
// EU 869.618 MHz, SF8, BW 62.5 kHz, CR 4/4, preamble 16 symbols.
const (
	SpreadingFactor = 8
	BandwidthHz     = 62_500
	CodingRate      = 4
	PreambleSymbols = 16

	// MaxPayloadLength is the hardware ceiling for a single LoRa frame.
	MaxPayloadLength = 255
)

var (
	ErrAlreadyTransmitting = errors.New("transmitter: already transmitting")
	ErrInSilencePeriod     = errors.New("transmitter: next_allowed_tx_ms not yet reached")
	ErrInvalidLength       = errors.New("transmitter: length must be 1..255")
)

// Counters tracks cumulative transmit statistics. The engine owns a single
// instance exclusively from its cooperative loop, so no locking is used
// (spec §5) — contrast with the teacher's atomic RouterCounters, which
// guarded against concurrent transport goroutines.
type Counters struct {
	TransmitCount  uint32
	FailureCount   uint32
	TotalAirtimeMs uint32
}

// Arbiter is the sole owner of the radio TX path.
type Arbiter struct {
	radio transport.Radio
	clk   *clock.Clock

	transmitting    bool
	txStartMs       uint32
	nextAllowedTxMs uint32

	Counters Counters
}

// New creates an Arbiter driving radio, using clk for millis() timing.
func New(radio transport.Radio, clk *clock.Clock) *Arbiter {
	return &Arbiter{radio: radio, clk: clk}
}

// IsTransmitting reports whether a send is currently in flight.
func (a *Arbiter) IsTransmitting() bool { return a.transmitting }

// CanTransmitNow reports whether the silence period, if any, has elapsed.
func (a *Arbiter) CanTransmitNow() bool {
	return a.clk.Millis() >= a.nextAllowedTxMs
}

// Transmit attempts to send data. It returns false without touching the
// radio when already transmitting, still inside a silence period, or when
// data violates the length bounds. On success it marks transmitting=true,
// records the start time, increments TransmitCount, and hands off to the
// radio; the caller (engine loop) must later call NotifyTxComplete or
// NotifyTxTimeout once the radio resolves the send.
func (a *Arbiter) Transmit(ctx context.Context, data []byte) (bool, error) {
	if a.transmitting {
		return false, ErrAlreadyTransmitting
	}
	if !a.CanTransmitNow() {
		return false, ErrInSilencePeriod
	}
	if len(data) == 0 || len(data) > MaxPayloadLength {
		a.Counters.FailureCount++
		return false, ErrInvalidLength
	}

	a.transmitting = true
	a.txStartMs = a.clk.Millis()
	a.Counters.TransmitCount++

	if err := a.radio.Send(ctx, data); err != nil {
		a.NotifyTxTimeout()
		return false, err
	}
	return true, nil
}

// NotifyTxComplete is called by the engine loop once the radio reports a
// successful transmission. It clears the in-flight flag, accrues airtime,
// and re-arms for the next send. The silence period is left at zero
// (duty-cycle enforcement is deliberately not implemented, spec Non-goals).
func (a *Arbiter) NotifyTxComplete() {
	a.transmitting = false
	a.Counters.TotalAirtimeMs += a.clk.Millis() - a.txStartMs
	a.nextAllowedTxMs = 0
}

// NotifyTxTimeout is called when the radio reports a send failure or
// timeout. It increments FailureCount and clears the in-flight flag.
func (a *Arbiter) NotifyTxTimeout() {
	a.transmitting = false
	a.Counters.FailureCount++
}

// EstimateAirtime computes the LoRa time-on-air, in milliseconds, for a
// frame of the given length under the compiled modulation parameters.
func EstimateAirtime(length int) float64 {
	symbolUs := float64(uint64(1)<<SpreadingFactor) * 1_000_000 / float64(BandwidthHz)
	preambleUs := (float64(PreambleSymbols) + 4.25) * symbolUs

	numerator := 8*float64(length) - 4*float64(SpreadingFactor) + 28 + 16
	payloadSymbols := 8 + math.Ceil(numerator/(4*float64(SpreadingFactor)))*(CodingRate+4)
	if payloadSymbols < 8 {
		payloadSymbols = 8
	}

	return (preambleUs + payloadSymbols*symbolUs) / 1000
}
