package dedup

import (
	"testing"

	"github.com/mesh-repeater/repeater/core/clock"
	"github.com/mesh-repeater/repeater/core/codec"
	"github.com/mesh-repeater/repeater/core/dedupe"
	"github.com/mesh-repeater/repeater/device/dispatch"
)

func newProcessor() (*Processor, *clock.Clock) {
	clk := clock.New()
	return New(dedupe.New(), clk), clk
}

func advertPacket() *codec.Packet {
	return &codec.Packet{
		Header:  (codec.PayloadTypeAdvert << codec.PHTypeShift) | codec.RouteTypeFlood,
		Payload: []byte{0x01, 0x02, 0x03},
	}
}

func TestProcess_FirstSightingContinues(t *testing.T) {
	p, _ := newProcessor()
	pkt := advertPacket()

	result := p.Process(&dispatch.PacketEvent{Packet: pkt}, &dispatch.ProcessingContext{})

	if result != dispatch.Continue {
		t.Errorf("result = %v, want Continue", result)
	}
	if p.DuplicateCount != 0 {
		t.Errorf("DuplicateCount = %d, want 0", p.DuplicateCount)
	}
}

func TestProcess_RepeatDrops(t *testing.T) {
	p, _ := newProcessor()
	pkt := advertPacket()

	p.Process(&dispatch.PacketEvent{Packet: pkt}, &dispatch.ProcessingContext{})
	ctx := &dispatch.ProcessingContext{}
	result := p.Process(&dispatch.PacketEvent{Packet: pkt}, ctx)

	if result != dispatch.Drop {
		t.Errorf("result = %v, want Drop", result)
	}
	if !ctx.IsDuplicate {
		t.Error("expected IsDuplicate to be set")
	}
	if p.DuplicateCount != 1 {
		t.Errorf("DuplicateCount = %d, want 1", p.DuplicateCount)
	}
}

func TestProcess_DifferentPayloadNotDuplicate(t *testing.T) {
	p, _ := newProcessor()
	first := advertPacket()
	second := advertPacket()
	second.Payload = []byte{0x09, 0x09, 0x09}

	p.Process(&dispatch.PacketEvent{Packet: first}, &dispatch.ProcessingContext{})
	result := p.Process(&dispatch.PacketEvent{Packet: second}, &dispatch.ProcessingContext{})

	if result != dispatch.Continue {
		t.Errorf("result = %v, want Continue for a distinct payload", result)
	}
}

func TestProcess_SetsSourceNodeFromPath(t *testing.T) {
	p, _ := newProcessor()
	pkt := advertPacket()
	pkt.PathLen = 2
	pkt.Path = []byte{0x11, 0x22}

	ctx := &dispatch.ProcessingContext{}
	p.Process(&dispatch.PacketEvent{Packet: pkt}, ctx)

	if ctx.SourceNode != 0x22 {
		t.Errorf("SourceNode = 0x%02X, want 0x22 (last path hop)", ctx.SourceNode)
	}
}

func TestProcess_SetsSourceNodeFromTransportCodes(t *testing.T) {
	p, _ := newProcessor()
	pkt := &codec.Packet{
		Header:         (codec.PayloadTypeAdvert << codec.PHTypeShift) | codec.RouteTypeTransportFlood,
		TransportCodes: [2]uint16{0x33, 0x44},
		Payload:        []byte{0x01},
	}

	ctx := &dispatch.ProcessingContext{}
	p.Process(&dispatch.PacketEvent{Packet: pkt}, ctx)

	if ctx.SourceNode != 0x33 {
		t.Errorf("SourceNode = 0x%02X, want 0x33", ctx.SourceNode)
	}
}

func TestProcess_SetsDedupHash(t *testing.T) {
	p, _ := newProcessor()
	pkt := advertPacket()

	ctx := &dispatch.ProcessingContext{}
	p.Process(&dispatch.PacketEvent{Packet: pkt}, ctx)

	if ctx.DedupHash != dedupe.ComputeHash(pkt) {
		t.Error("expected DedupHash to match dedupe.ComputeHash")
	}
}
