package dedupe

import (
	"testing"

	"github.com/mesh-repeater/repeater/core/codec"
)

func makePacket(payloadType uint8, pathLen uint8, payload []byte) *codec.Packet {
	return &codec.Packet{
		Header:  (payloadType << codec.PHTypeShift) | codec.RouteTypeFlood,
		PathLen: pathLen,
		Payload: payload,
	}
}

func TestCheckAndInsert_NewHash(t *testing.T) {
	d := New()
	pkt := makePacket(codec.PayloadTypeTxtMsg, 0, []byte{0x01, 0x02, 0x03})
	hash := ComputeHash(pkt)

	if d.CheckAndInsert(hash, 1000) {
		t.Error("new hash should not be a duplicate")
	}
}

func TestCheckAndInsert_Duplicate(t *testing.T) {
	d := New()
	pkt := makePacket(codec.PayloadTypeTxtMsg, 0, []byte{0x01, 0x02, 0x03})
	hash := ComputeHash(pkt)

	d.CheckAndInsert(hash, 1000)
	if !d.CheckAndInsert(hash, 1100) {
		t.Error("repeated hash should be reported as a duplicate")
	}
}

func TestCheckAndInsert_DifferentPayload(t *testing.T) {
	d := New()
	h1 := ComputeHash(makePacket(codec.PayloadTypeTxtMsg, 0, []byte{0x01, 0x02, 0x03}))
	h2 := ComputeHash(makePacket(codec.PayloadTypeTxtMsg, 0, []byte{0x04, 0x05, 0x06}))

	d.CheckAndInsert(h1, 1000)
	if d.CheckAndInsert(h2, 1000) {
		t.Error("different payload should not collide")
	}
}

func TestCheckAndInsert_DifferentType(t *testing.T) {
	d := New()
	payload := []byte{0x01, 0x02, 0x03}
	h1 := ComputeHash(makePacket(codec.PayloadTypeTxtMsg, 0, payload))
	h2 := ComputeHash(makePacket(codec.PayloadTypeGrpTxt, 0, payload))

	d.CheckAndInsert(h1, 1000)
	if d.CheckAndInsert(h2, 1000) {
		t.Error("same payload but different type should not collide")
	}
}

func TestCheckAndInsert_ExpiresAfter60s(t *testing.T) {
	d := New()
	pkt := makePacket(codec.PayloadTypeTxtMsg, 0, []byte{0x01})
	hash := ComputeHash(pkt)

	d.CheckAndInsert(hash, 1000)
	// Still within the 60s window.
	if !d.CheckAndInsert(hash, 1000+DefaultTimeoutMs-1) {
		t.Error("entry should still be a duplicate just under the timeout")
	}
	// A hit does not refresh the entry's timestamp; advance well past
	// expiry relative to the original insert.
	if d.CheckAndInsert(hash, 1000+2*DefaultTimeoutMs+1) {
		t.Error("entry should have expired past the 60s window")
	}
}

func TestCheckAndInsert_RingOverwrite(t *testing.T) {
	d := NewWithConfig(4, DefaultTimeoutMs)

	firstHash := ComputeHash(makePacket(codec.PayloadTypeTxtMsg, 0, []byte{0x00}))
	d.CheckAndInsert(firstHash, 1000)

	for i := 0; i < 4; i++ {
		h := ComputeHash(makePacket(codec.PayloadTypeGrpTxt, 0, []byte{byte(i + 10)}))
		d.CheckAndInsert(h, 1000)
	}

	if d.CheckAndInsert(firstHash, 1000) {
		t.Error("original entry should have been evicted by ring overwrite")
	}
}

func TestClear(t *testing.T) {
	d := New()
	hash := ComputeHash(makePacket(codec.PayloadTypeTxtMsg, 0, []byte{0x01}))
	d.CheckAndInsert(hash, 1000)

	d.Clear()

	if d.CheckAndInsert(hash, 1000) {
		t.Error("hash should not be a duplicate after Clear")
	}
}

func TestComputeHash_TraceDirectIncludesPathLen(t *testing.T) {
	pkt1 := &codec.Packet{
		Header:  (codec.PayloadTypeTrace << codec.PHTypeShift) | codec.RouteTypeDirect,
		PathLen: 3,
		Payload: []byte{0x01, 0x02, 0x03},
	}
	pkt2 := &codec.Packet{
		Header:  (codec.PayloadTypeTrace << codec.PHTypeShift) | codec.RouteTypeDirect,
		PathLen: 5,
		Payload: []byte{0x01, 0x02, 0x03},
	}

	if ComputeHash(pkt1) == ComputeHash(pkt2) {
		t.Error("DIRECT TRACE packets with different path_len should have different hashes")
	}
}

func TestComputeHash_NonTraceIgnoresPathLen(t *testing.T) {
	pkt1 := &codec.Packet{
		Header:  (codec.PayloadTypeTxtMsg << codec.PHTypeShift) | codec.RouteTypeFlood,
		PathLen: 3,
		Payload: []byte{0x01, 0x02, 0x03},
	}
	pkt2 := &codec.Packet{
		Header:  (codec.PayloadTypeTxtMsg << codec.PHTypeShift) | codec.RouteTypeFlood,
		PathLen: 5,
		Payload: []byte{0x01, 0x02, 0x03},
	}

	if ComputeHash(pkt1) != ComputeHash(pkt2) {
		t.Error("non-TRACE packets with same payload should hash the same regardless of path_len")
	}
}
