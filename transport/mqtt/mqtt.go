// Package mqtt implements transport.Radio over an MQTT broker: a second,
// non-RF Radio backend used to bench-test multiple repeater processes
// together (and in CI) without real LoRa hardware. Packets are published
// base64-encoded to "{TopicPrefix}/{MeshID}"; every subscriber on that topic
// acts as a node sharing one simulated broadcast medium. Since there is no
// real radio link, RSSI/SNR are reported as a fixed simulated pair rather
// than measured.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/mesh-repeater/repeater/transport"
)

var _ transport.Radio = (*Radio)(nil)

const (
	// DefaultTopicPrefix is the default MQTT topic prefix for frames.
	DefaultTopicPrefix = "meshcore"

	// DefaultSimulatedRSSIDBm and DefaultSimulatedSNRQuarterDB stand in for
	// real radio-reported signal quality, since an MQTT link has none.
	DefaultSimulatedRSSIDBm      = -60
	DefaultSimulatedSNRQuarterDB = 40 // 10 dB
)

// Config holds an MQTT radio's broker and mesh settings.
type Config struct {
	// Broker is the broker URL (e.g. "tcp://broker.example.com:1883").
	Broker string
	// Username/Password authenticate with the broker, if required.
	Username string
	Password string
	// UseTLS enables TLS for the broker connection.
	UseTLS bool
	// ClientID identifies this connection. A random one is generated if empty.
	ClientID string
	// TopicPrefix defaults to DefaultTopicPrefix.
	TopicPrefix string
	// MeshID names the shared topic this radio publishes/subscribes to.
	MeshID string
	// SimulatedRSSIDBm/SimulatedSNRQuarterDB are reported for every frame
	// received over this backend. Default to DefaultSimulatedRSSIDBm/
	// DefaultSimulatedSNRQuarterDB when both are zero.
	SimulatedRSSIDBm      int16
	SimulatedSNRQuarterDB int8
	// Logger defaults to slog.Default() when nil.
	Logger *slog.Logger
}

// Radio implements transport.Radio over MQTT.
type Radio struct {
	cfg Config
	log *slog.Logger

	mu        sync.RWMutex
	client    paho.Client
	connected bool
	handler   transport.RXHandler
	state     transport.StateHandler
}

// New creates an MQTT Radio with the given configuration.
func New(cfg Config) *Radio {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.SimulatedRSSIDBm == 0 && cfg.SimulatedSNRQuarterDB == 0 {
		cfg.SimulatedRSSIDBm = DefaultSimulatedRSSIDBm
		cfg.SimulatedSNRQuarterDB = DefaultSimulatedSNRQuarterDB
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Radio{cfg: cfg, log: cfg.Logger.WithGroup("mqtt")}
}

// SetRXHandler registers the frame callback. Must be called before Start.
func (r *Radio) SetRXHandler(fn transport.RXHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = fn
}

// SetStateHandler registers a connection-state callback.
func (r *Radio) SetStateHandler(fn transport.StateHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = fn
}

// Start connects to the broker and subscribes to the mesh topic.
func (r *Radio) Start(ctx context.Context) error {
	if r.cfg.Broker == "" {
		return errors.New("mqtt: broker URL is required")
	}
	if r.cfg.MeshID == "" {
		return errors.New("mqtt: mesh ID is required")
	}

	clientID := r.cfg.ClientID
	if clientID == "" {
		clientID = "repeater-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(r.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(r.onConnected).
		SetConnectionLostHandler(r.onConnectionLost).
		SetReconnectingHandler(r.onReconnecting)

	if r.cfg.Username != "" {
		opts.SetUsername(r.cfg.Username)
	}
	if r.cfg.Password != "" {
		opts.SetPassword(r.cfg.Password)
	}
	if r.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	r.client = paho.NewClient(opts)

	token := r.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("mqtt: connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("mqtt: connect: %w", token.Error())
	}
	return nil
}

// Stop gracefully disconnects from the broker.
func (r *Radio) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		r.client.Disconnect(1000)
		r.connected = false
	}
	return nil
}

// IsConnected reports whether the broker connection is currently up.
func (r *Radio) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected && r.client != nil && r.client.IsConnected()
}

// Send base64-encodes data and publishes it to the mesh topic. It blocks
// until the broker acknowledges the publish or the timeout elapses.
func (r *Radio) Send(ctx context.Context, data []byte) error {
	if !r.IsConnected() {
		return errors.New("mqtt: not connected")
	}

	payload := base64.StdEncoding.EncodeToString(data)
	token := r.client.Publish(r.topic(), 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("mqtt: publish timeout")
	}
	return token.Error()
}

func (r *Radio) topic() string {
	return r.cfg.TopicPrefix + "/" + r.cfg.MeshID
}

func (r *Radio) subscribe() {
	topic := r.topic()
	r.client.Subscribe(topic, 0, r.handleMessage)
	r.log.Debug("subscribed to mesh topic", "topic", topic)
}

func (r *Radio) handleMessage(_ paho.Client, message paho.Message) {
	r.mu.RLock()
	handler := r.handler
	r.mu.RUnlock()
	if handler == nil {
		return
	}

	data, err := base64.StdEncoding.DecodeString(string(message.Payload()))
	if err != nil {
		r.log.Debug("failed to decode base64 frame", "error", err)
		return
	}

	handler(data, r.cfg.SimulatedRSSIDBm, r.cfg.SimulatedSNRQuarterDB)
}

func (r *Radio) onConnected(_ paho.Client) {
	r.mu.Lock()
	r.connected = true
	state := r.state
	r.mu.Unlock()

	r.subscribe()
	r.log.Info("connected to MQTT broker", "broker", r.cfg.Broker)
	if state != nil {
		state(transport.EventConnected)
	}
}

func (r *Radio) onConnectionLost(_ paho.Client, err error) {
	r.mu.Lock()
	r.connected = false
	state := r.state
	r.mu.Unlock()

	r.log.Error("MQTT connection lost", "error", err)
	if state != nil {
		state(transport.EventDisconnected)
	}
}

func (r *Radio) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	r.mu.RLock()
	state := r.state
	r.mu.RUnlock()

	r.log.Info("reconnecting to MQTT broker")
	if state != nil {
		state(transport.EventReconnecting)
	}
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
