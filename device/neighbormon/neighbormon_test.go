package neighbormon

import (
	"testing"

	"github.com/mesh-repeater/repeater/core/codec"
	"github.com/mesh-repeater/repeater/core/neighbor"
	"github.com/mesh-repeater/repeater/device/dispatch"
)

func advertPacket(senderByte byte) *codec.Packet {
	payload := make([]byte, 40)
	payload[0] = senderByte
	return &codec.Packet{
		Header:  (codec.PayloadTypeAdvert << codec.PHTypeShift) | codec.RouteTypeFlood,
		Payload: payload,
	}
}

func TestProcess_UpdatesTrackerFromAdvert(t *testing.T) {
	neighbors := neighbor.New()
	p := New(neighbors)

	p.Process(&dispatch.PacketEvent{Packet: advertPacket(0x5A), SNRQuarter: 80}, &dispatch.ProcessingContext{})

	all := neighbors.All()
	if len(all) != 1 {
		t.Fatalf("tracked %d neighbors, want 1", len(all))
	}
	if all[0].NodeHash != 0x5A {
		t.Errorf("NodeHash = 0x%02X, want 0x5A", all[0].NodeHash)
	}
	if all[0].AvgSNR != 20 {
		t.Errorf("AvgSNR = %d, want 20 (80 quarter-dB / 4)", all[0].AvgSNR)
	}
}

func TestProcess_IgnoresNonAdvert(t *testing.T) {
	neighbors := neighbor.New()
	p := New(neighbors)
	pkt := &codec.Packet{Header: (codec.PayloadTypeTxtMsg << codec.PHTypeShift) | codec.RouteTypeFlood, Payload: []byte{0x01}}

	p.Process(&dispatch.PacketEvent{Packet: pkt}, &dispatch.ProcessingContext{})

	if neighbors.Count() != 0 {
		t.Error("expected non-ADVERT traffic to be ignored")
	}
}

func TestProcess_IgnoresEmptyPayload(t *testing.T) {
	neighbors := neighbor.New()
	p := New(neighbors)
	pkt := &codec.Packet{Header: (codec.PayloadTypeAdvert << codec.PHTypeShift) | codec.RouteTypeFlood}

	result := p.Process(&dispatch.PacketEvent{Packet: pkt}, &dispatch.ProcessingContext{})

	if result != dispatch.Continue {
		t.Errorf("result = %v, want Continue", result)
	}
	if neighbors.Count() != 0 {
		t.Error("expected an empty advert payload to be ignored")
	}
}

func TestProcess_NeverHaltsChain(t *testing.T) {
	neighbors := neighbor.New()
	p := New(neighbors)

	result := p.Process(&dispatch.PacketEvent{Packet: advertPacket(0x10)}, &dispatch.ProcessingContext{})

	if result != dispatch.Continue {
		t.Errorf("result = %v, want Continue", result)
	}
}
