package dispatch

import (
	"testing"

	"github.com/mesh-repeater/repeater/core/codec"
)

type recordingProcessor struct {
	name     string
	priority uint8
	result   Result
	calls    *[]string
}

func (p *recordingProcessor) Name() string    { return p.name }
func (p *recordingProcessor) Priority() uint8 { return p.priority }
func (p *recordingProcessor) Process(event *PacketEvent, ctx *ProcessingContext) Result {
	*p.calls = append(*p.calls, p.name)
	return p.result
}

func TestDispatch_RunsInPriorityOrder(t *testing.T) {
	d := New()
	var calls []string

	d.AddProcessor(&recordingProcessor{name: "c", priority: 30, result: Continue, calls: &calls})
	d.AddProcessor(&recordingProcessor{name: "a", priority: 10, result: Continue, calls: &calls})
	d.AddProcessor(&recordingProcessor{name: "b", priority: 20, result: Continue, calls: &calls})

	d.Dispatch(&PacketEvent{Packet: &codec.Packet{}})

	want := []string{"a", "b", "c"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestDispatch_StopsChainOnDrop(t *testing.T) {
	d := New()
	var calls []string

	d.AddProcessor(&recordingProcessor{name: "first", priority: 10, result: Drop, calls: &calls})
	d.AddProcessor(&recordingProcessor{name: "second", priority: 20, result: Continue, calls: &calls})

	result, _ := d.Dispatch(&PacketEvent{Packet: &codec.Packet{}})

	if result != Drop {
		t.Errorf("result = %v, want Drop", result)
	}
	if len(calls) != 1 || calls[0] != "first" {
		t.Errorf("calls = %v, want only [first] to have run", calls)
	}
}

func TestDispatch_StopsChainOnStop(t *testing.T) {
	d := New()
	var calls []string

	d.AddProcessor(&recordingProcessor{name: "first", priority: 10, result: Stop, calls: &calls})
	d.AddProcessor(&recordingProcessor{name: "second", priority: 20, result: Continue, calls: &calls})

	result, _ := d.Dispatch(&PacketEvent{Packet: &codec.Packet{}})

	if result != Stop {
		t.Errorf("result = %v, want Stop", result)
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, want only the first processor to have run", calls)
	}
}

func TestAddProcessor_IdempotentReplace(t *testing.T) {
	d := New()
	var calls []string

	d.AddProcessor(&recordingProcessor{name: "dup", priority: 10, result: Continue, calls: &calls})
	d.AddProcessor(&recordingProcessor{name: "dup", priority: 50, result: Stop, calls: &calls})

	if len(d.Processors()) != 1 {
		t.Fatalf("Processors() len = %d, want 1 (re-registration should replace)", len(d.Processors()))
	}
	if d.Processors()[0].Priority() != 50 {
		t.Errorf("Priority() = %d, want 50 (replaced registration wins)", d.Processors()[0].Priority())
	}
}

func TestAddProcessor_RejectsOverCapacity(t *testing.T) {
	d := New()
	var calls []string

	for i := 0; i < MaxProcessors; i++ {
		name := string(rune('a' + i))
		if err := d.AddProcessor(&recordingProcessor{name: name, priority: uint8(i), result: Continue, calls: &calls}); err != nil {
			t.Fatalf("AddProcessor(%d): %v", i, err)
		}
	}

	err := d.AddProcessor(&recordingProcessor{name: "overflow", priority: 99, result: Continue, calls: &calls})
	if err != ErrTooManyProcessors {
		t.Errorf("err = %v, want ErrTooManyProcessors", err)
	}
}
