package transmitter

import (
	"context"
	"math"
	"testing"

	"github.com/mesh-repeater/repeater/core/clock"
	"github.com/mesh-repeater/repeater/transport"
)

type fakeRadio struct {
	sendErr error
	sent    [][]byte
}

func (f *fakeRadio) Start(ctx context.Context) error { return nil }
func (f *fakeRadio) Stop() error                     { return nil }
func (f *fakeRadio) IsConnected() bool               { return true }
func (f *fakeRadio) SetRXHandler(fn transport.RXHandler) {}
func (f *fakeRadio) Send(ctx context.Context, data []byte) error {
	f.sent = append(f.sent, data)
	return f.sendErr
}

func TestTransmit_Success(t *testing.T) {
	radio := &fakeRadio{}
	a := New(radio, clock.New())

	ok, err := a.Transmit(context.Background(), []byte{0x01, 0x02, 0x03})
	if err != nil || !ok {
		t.Fatalf("Transmit() = (%v, %v), want (true, nil)", ok, err)
	}
	if !a.IsTransmitting() {
		t.Error("expected IsTransmitting() true mid-flight")
	}
	if a.Counters.TransmitCount != 1 {
		t.Errorf("TransmitCount = %d, want 1", a.Counters.TransmitCount)
	}

	a.NotifyTxComplete()
	if a.IsTransmitting() {
		t.Error("expected IsTransmitting() false after NotifyTxComplete")
	}
}

func TestTransmit_RejectsWhileTransmitting(t *testing.T) {
	radio := &fakeRadio{}
	a := New(radio, clock.New())

	a.Transmit(context.Background(), []byte{0x01})
	ok, err := a.Transmit(context.Background(), []byte{0x02})
	if ok || err != ErrAlreadyTransmitting {
		t.Errorf("Transmit() = (%v, %v), want (false, ErrAlreadyTransmitting)", ok, err)
	}
}

func TestTransmit_RejectsEmptyOrOversized(t *testing.T) {
	radio := &fakeRadio{}
	a := New(radio, clock.New())

	if ok, err := a.Transmit(context.Background(), nil); ok || err != ErrInvalidLength {
		t.Errorf("empty: (%v, %v), want (false, ErrInvalidLength)", ok, err)
	}
	if a.Counters.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", a.Counters.FailureCount)
	}

	oversized := make([]byte, MaxPayloadLength+1)
	if ok, err := a.Transmit(context.Background(), oversized); ok || err != ErrInvalidLength {
		t.Errorf("oversized: (%v, %v), want (false, ErrInvalidLength)", ok, err)
	}
}

func TestTransmit_RadioSendFailureClearsTransmitting(t *testing.T) {
	radio := &fakeRadio{sendErr: context.DeadlineExceeded}
	a := New(radio, clock.New())

	ok, err := a.Transmit(context.Background(), []byte{0x01})
	if ok || err == nil {
		t.Fatalf("Transmit() = (%v, %v), want failure", ok, err)
	}
	if a.IsTransmitting() {
		t.Error("expected IsTransmitting() false after send failure")
	}
	if a.Counters.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", a.Counters.FailureCount)
	}
}

func TestEstimateAirtime_MatchesKnownValue(t *testing.T) {
	// SF8/BW62.5kHz/CR4/preamble16, 50-byte payload.
	got := EstimateAirtime(50)

	symbolUs := float64(256) * 1_000_000 / 62_500 // 4096us
	preambleUs := (16 + 4.25) * symbolUs
	numerator := 8*50.0 - 4*8 + 28 + 16
	payloadSymbols := 8 + math.Ceil(numerator/(4*8))*(4+4)
	want := (preambleUs + payloadSymbols*symbolUs) / 1000

	if math.Abs(got-want) > 2 {
		t.Errorf("EstimateAirtime(50) = %v, want within 2ms of %v", got, want)
	}
}

func TestEstimateAirtime_FlooredAtEightSymbols(t *testing.T) {
	got := EstimateAirtime(1)
	// Preamble (16 + 4.25 symbols) plus at least 8 payload symbols, 4.096 ms each.
	if floor := (16 + 4.25 + 8) * 4.096; got < floor {
		t.Errorf("EstimateAirtime(1) = %v, want at least %v (preamble + 8 symbols)", got, floor)
	}
}
