// Command repeaterd runs a single MeshCore repeater node: it loads (or
// creates) a node identity, starts one radio backend, and drives the
// engine's cooperative main loop until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mesh-repeater/repeater/config"
	"github.com/mesh-repeater/repeater/core/crypto"
	"github.com/mesh-repeater/repeater/device/engine"
	"github.com/mesh-repeater/repeater/transport"
	"github.com/mesh-repeater/repeater/transport/mqtt"
	"github.com/mesh-repeater/repeater/transport/serial"
)

// channelFlags collects repeated "-channel name=hexsecret" flags into a
// name -> PSK map, so private channel keys can be configured without
// editing code.
type channelFlags map[string][]byte

func (c channelFlags) String() string {
	return fmt.Sprintf("%d channel(s)", len(c))
}

func (c channelFlags) Set(value string) error {
	name, hexSecret, ok := strings.Cut(value, "=")
	if !ok || name == "" {
		return fmt.Errorf("-channel must be name=hexsecret, got %q", value)
	}
	secret, err := crypto.HexDecode(hexSecret)
	if err != nil {
		return fmt.Errorf("-channel %s: decode secret: %w", name, err)
	}
	c[name] = secret
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("repeaterd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		identityPath = flag.String("identity", "repeater-identity.json", "path to the node's persisted identity file")
		nodeName     = flag.String("name", "Repeater", "node name advertised in ADVERT frames")
		backend      = flag.String("transport", "serial", "radio backend: \"serial\" or \"mqtt\"")
		serialPort   = flag.String("serial-port", "/dev/ttyUSB0", "serial device path (transport=serial)")
		mqttBroker   = flag.String("mqtt-broker", "", "MQTT broker URL (transport=mqtt)")
		mqttMeshID   = flag.String("mqtt-mesh-id", "", "MQTT mesh topic id (transport=mqtt)")
	)
	channels := make(channelFlags)
	flag.Var(channels, "channel", "private channel as name=hexsecret (repeatable)")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := newFileStore(*identityPath)
	if err != nil {
		return fmt.Errorf("open identity store: %w", err)
	}

	radio, err := buildRadio(*backend, *serialPort, *mqttBroker, *mqttMeshID, log)
	if err != nil {
		return fmt.Errorf("build radio backend: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.Node.NodeName = *nodeName
	cfg.Node.PrivateChannelSecrets = channels

	eng, err := engine.New(cfg, store, radio, log)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// errgroup ties the engine loop's lifetime to the signal-cancelled
	// context: Run exits with context.Canceled on shutdown, which the
	// group treats as a normal stop rather than an error worth reporting.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := eng.Run(gctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})

	log.Info("repeaterd started", "name", *nodeName, "transport", *backend)
	return g.Wait()
}

func buildRadio(backend, serialPort, mqttBroker, mqttMeshID string, log *slog.Logger) (transport.Radio, error) {
	switch strings.ToLower(backend) {
	case "serial":
		return serial.New(serial.Config{Port: serialPort, Logger: log}), nil
	case "mqtt":
		if mqttBroker == "" || mqttMeshID == "" {
			return nil, fmt.Errorf("transport=mqtt requires -mqtt-broker and -mqtt-mesh-id")
		}
		return mqtt.New(mqtt.Config{Broker: mqttBroker, MeshID: mqttMeshID, Logger: log}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want \"serial\" or \"mqtt\")", backend)
	}
}
