package forwarder

import (
	"context"
	"testing"

	"github.com/mesh-repeater/repeater/core/clock"
	"github.com/mesh-repeater/repeater/core/codec"
	"github.com/mesh-repeater/repeater/device/dispatch"
	"github.com/mesh-repeater/repeater/device/transmitter"
	"github.com/mesh-repeater/repeater/transport"
)

type fakeRadio struct{ sendErr error }

func (f *fakeRadio) Start(ctx context.Context) error     { return nil }
func (f *fakeRadio) Stop() error                         { return nil }
func (f *fakeRadio) IsConnected() bool                   { return true }
func (f *fakeRadio) SetRXHandler(fn transport.RXHandler) {}
func (f *fakeRadio) Send(ctx context.Context, data []byte) error {
	return f.sendErr
}

func newForwarder(rssi int16) *Forwarder {
	clk := clock.New()
	arbiter := transmitter.New(&fakeRadio{}, clk)
	return New(clk, arbiter, 0x42, func(*dispatch.PacketEvent) int16 { return rssi })
}

func floodPacket(pathLen uint8, path []byte) *codec.Packet {
	return &codec.Packet{
		Header:  (codec.PayloadTypeTxtMsg << codec.PHTypeShift) | codec.RouteTypeFlood,
		PathLen: pathLen,
		Path:    path,
		Payload: []byte{0x01, 0x02},
	}
}

func TestProcess_SkipsDuplicate(t *testing.T) {
	f := newForwarder(-50)
	event := &dispatch.PacketEvent{Packet: floodPacket(0, nil)}
	ctx := &dispatch.ProcessingContext{IsDuplicate: true}

	f.Process(event, ctx)

	if ctx.ShouldForward {
		t.Error("expected ShouldForward false for a duplicate")
	}
}

func TestProcess_SkipsDirectRoute(t *testing.T) {
	f := newForwarder(-50)
	pkt := floodPacket(0, nil)
	pkt.Header = (codec.PayloadTypeTxtMsg << codec.PHTypeShift) | codec.RouteTypeDirect
	ctx := &dispatch.ProcessingContext{}

	f.Process(&dispatch.PacketEvent{Packet: pkt}, ctx)

	if ctx.ShouldForward {
		t.Error("expected ShouldForward false for a DIRECT packet")
	}
}

func TestProcess_SkipsPathTooLong(t *testing.T) {
	f := newForwarder(-50)
	ctx := &dispatch.ProcessingContext{}

	f.Process(&dispatch.PacketEvent{Packet: floodPacket(MaxPathLength, nil)}, ctx)

	if ctx.ShouldForward {
		t.Error("expected ShouldForward false when path is already at the cap")
	}
}

func TestProcess_SkipsWeakSignal(t *testing.T) {
	f := newForwarder(-121)
	ctx := &dispatch.ProcessingContext{}

	f.Process(&dispatch.PacketEvent{Packet: floodPacket(0, nil)}, ctx)

	if ctx.ShouldForward {
		t.Error("expected ShouldForward false below the RSSI floor")
	}
}

func TestProcess_SkipsLoop(t *testing.T) {
	f := newForwarder(-50)
	ctx := &dispatch.ProcessingContext{}

	f.Process(&dispatch.PacketEvent{Packet: floodPacket(1, []byte{0x42})}, ctx)

	if ctx.ShouldForward {
		t.Error("expected ShouldForward false when our hash is already in path")
	}
}

func TestProcess_ImmediateSendOnStrongSignal(t *testing.T) {
	f := newForwarder(80) // quarter-dB => 20 dB, score=1, rxDelay=0

	ctx := &dispatch.ProcessingContext{}
	f.Process(&dispatch.PacketEvent{Packet: floodPacket(0, nil), SNRQuarter: 80}, ctx)

	if !ctx.ShouldForward {
		t.Fatal("expected ShouldForward true for an eligible packet")
	}
	// Strong signal drives rxDelay to ~0; jitter could still push a specific
	// run over threshold, but ForwardedCount+DelayedCount should sum to 1.
	if f.ForwardedCount+f.DelayedCount != 1 {
		t.Errorf("ForwardedCount=%d DelayedCount=%d, want exactly one outcome", f.ForwardedCount, f.DelayedCount)
	}
}

func TestPacketScore_ClampsToUnitRange(t *testing.T) {
	if got := packetScore(-127); got != 0 {
		t.Errorf("packetScore(very weak) = %v, want 0", got)
	}
	if got := packetScore(127); got != 1 {
		t.Errorf("packetScore(very strong) = %v, want 1", got)
	}
}

func TestEnqueueAndDrain_SortsByScheduledTime(t *testing.T) {
	f := newForwarder(-50)

	f.enqueue([]byte{0x01}, 200)
	f.enqueue([]byte{0x02}, 100)
	f.enqueue([]byte{0x03}, 300)

	if len(f.queue) != 3 {
		t.Fatalf("queue len = %d, want 3", len(f.queue))
	}
	if f.queue[0].scheduledAt != 100 || f.queue[1].scheduledAt != 200 || f.queue[2].scheduledAt != 300 {
		t.Errorf("queue not sorted: %+v", f.queue)
	}
}

func TestEnqueue_RejectsOverCapacity(t *testing.T) {
	f := newForwarder(-50)
	for i := 0; i < DelayQueueSize; i++ {
		if !f.enqueue([]byte{byte(i)}, uint32(i)) {
			t.Fatalf("enqueue %d should have succeeded", i)
		}
	}
	if f.enqueue([]byte{0xFF}, 999) {
		t.Error("enqueue should fail once the queue is full")
	}
}

func TestDrainDelayQueue_SkipsWhenNotDue(t *testing.T) {
	f := newForwarder(-50)
	f.enqueue([]byte{0x01}, f.clk.Millis()+1_000_000)

	f.DrainDelayQueue()

	if len(f.queue) != 1 {
		t.Errorf("expected the not-yet-due entry to remain queued, queue=%+v", f.queue)
	}
}

func TestDrainDelayQueue_RequeuesOnFailure(t *testing.T) {
	clk := clock.New()
	arbiter := transmitter.New(&fakeRadio{sendErr: context.DeadlineExceeded}, clk)
	f := New(clk, arbiter, 0x42, func(*dispatch.PacketEvent) int16 { return -50 })

	f.enqueue([]byte{0x01, 0x02}, 0) // already due

	f.DrainDelayQueue()

	if len(f.queue) != 1 {
		t.Fatalf("expected the failed entry to be re-queued, queue len=%d", len(f.queue))
	}
	if f.queue[0].scheduledAt <= 0 {
		t.Error("expected the re-queued entry to be scheduled further out")
	}
}
