package mqtt

import (
	"context"
	"testing"

	"github.com/mesh-repeater/repeater/transport"
)

func TestNew_Defaults(t *testing.T) {
	r := New(Config{Broker: "tcp://localhost:1883", MeshID: "test"})

	if r.cfg.TopicPrefix != DefaultTopicPrefix {
		t.Errorf("TopicPrefix = %q, want %q", r.cfg.TopicPrefix, DefaultTopicPrefix)
	}
	if r.cfg.SimulatedRSSIDBm != DefaultSimulatedRSSIDBm {
		t.Errorf("SimulatedRSSIDBm = %d, want %d", r.cfg.SimulatedRSSIDBm, DefaultSimulatedRSSIDBm)
	}
	if r.cfg.SimulatedSNRQuarterDB != DefaultSimulatedSNRQuarterDB {
		t.Errorf("SimulatedSNRQuarterDB = %d, want %d", r.cfg.SimulatedSNRQuarterDB, DefaultSimulatedSNRQuarterDB)
	}
	if r.log == nil {
		t.Error("expected logger to be set")
	}
}

func TestNew_CustomConfig(t *testing.T) {
	r := New(Config{
		Broker:           "tcp://broker.example.com:1883",
		Username:         "user",
		Password:         "pass",
		TopicPrefix:      "custom",
		MeshID:           "my-mesh",
		SimulatedRSSIDBm: -110,
	})

	if r.cfg.TopicPrefix != "custom" {
		t.Errorf("TopicPrefix = %q, want %q", r.cfg.TopicPrefix, "custom")
	}
	if r.cfg.MeshID != "my-mesh" {
		t.Errorf("MeshID = %q, want %q", r.cfg.MeshID, "my-mesh")
	}
	if r.cfg.SimulatedRSSIDBm != -110 {
		t.Errorf("SimulatedRSSIDBm = %d, want -110 (explicit value not overwritten by default)", r.cfg.SimulatedRSSIDBm)
	}
}

func TestStart_MissingBroker(t *testing.T) {
	r := New(Config{MeshID: "test"})
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error with empty broker")
	}
}

func TestStart_MissingMeshID(t *testing.T) {
	r := New(Config{Broker: "tcp://localhost:1883"})
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error with empty mesh ID")
	}
}

func TestSend_NotConnected(t *testing.T) {
	r := New(Config{Broker: "tcp://localhost:1883", MeshID: "test"})

	if err := r.Send(context.Background(), []byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestIsConnected_Default(t *testing.T) {
	r := New(Config{Broker: "tcp://localhost:1883", MeshID: "test"})

	if r.IsConnected() {
		t.Error("expected not connected initially")
	}
}

func TestRadio_ImplementsTransportRadio(t *testing.T) {
	var _ transport.Radio = New(Config{Broker: "tcp://localhost:1883", MeshID: "test"})
}
