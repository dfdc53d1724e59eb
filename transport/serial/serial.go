// Package serial implements transport.Radio over a USB/UART-attached LoRa
// modem. The modem is expected to speak a simple length-prefixed frame
// around each raw MeshCore packet: a 2-byte big-endian length, a 2-byte
// big-endian signed RSSI (dBm), a 1-byte signed SNR (quarter-dB), then the
// packet bytes themselves. This is this repo's own bridge framing, not
// MeshCore's own RS232 bridge protocol — it exists only to get raw frames
// plus radio-reported signal quality across a UART byte stream.
package serial

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mesh-repeater/repeater/transport"
	"go.bug.st/serial"
)

var _ transport.Radio = (*Radio)(nil)

const (
	// DefaultBaudRate is the default baud rate for a serial-attached modem.
	DefaultBaudRate = 115200

	// headerSize is the length-prefix + RSSI + SNR header preceding each
	// framed packet.
	headerSize = 5

	readBufSize = 1024
)

// Config holds a serial radio's connection settings.
type Config struct {
	// Port is the serial device path (e.g. "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate defaults to DefaultBaudRate when zero.
	BaudRate int
	// Logger defaults to slog.Default() when nil.
	Logger *slog.Logger
}

// Radio implements transport.Radio over a serial connection.
type Radio struct {
	cfg Config
	log *slog.Logger

	mu        sync.RWMutex
	port      serial.Port
	connected bool
	handler   transport.RXHandler
	state     transport.StateHandler

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a serial Radio with the given configuration.
func New(cfg Config) *Radio {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Radio{cfg: cfg, log: cfg.Logger.WithGroup("serial")}
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

// Start opens the serial port and begins the read loop.
func (r *Radio) Start(ctx context.Context) error {
	if r.cfg.Port == "" {
		return errors.New("serial: port is required")
	}

	port, err := serial.Open(r.cfg.Port, &serial.Mode{BaudRate: r.cfg.BaudRate})
	if err != nil {
		return fmt.Errorf("serial: open port: %w", err)
	}

	r.mu.Lock()
	r.port = port
	r.connected = true
	r.done = make(chan struct{})
	state := r.state
	r.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.readLoop(readCtx)

	r.log.Info("connected to serial port", "port", r.cfg.Port, "baud", r.cfg.BaudRate)
	if state != nil {
		state(transport.EventConnected)
	}
	return nil
}

// Stop closes the port and waits for the read loop to exit.
func (r *Radio) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}

	r.mu.Lock()
	r.connected = false
	port := r.port
	r.port = nil
	done := r.done
	state := r.state
	r.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}
	if done != nil {
		<-done
	}
	if state != nil {
		state(transport.EventDisconnected)
	}
	return err
}

// IsConnected reports whether the port is currently open.
func (r *Radio) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// Send frames data with a zeroed RSSI/SNR header (the modem fills those in
// on receive, not send) and writes it to the port. It blocks for the
// duration of the underlying serial write, matching the Radio contract.
func (r *Radio) Send(ctx context.Context, data []byte) error {
	r.mu.RLock()
	port := r.port
	connected := r.connected
	r.mu.RUnlock()

	if !connected || port == nil {
		return errors.New("serial: not connected")
	}

	frame := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint16(frame[0:2], uint16(len(data)))
	copy(frame[headerSize:], data)
	if _, err := port.Write(frame); err != nil {
		return fmt.Errorf("serial: write: %w", err)
	}
	return nil
}

func (r *Radio) readLoop(ctx context.Context) {
	defer close(r.done)

	buf := make([]byte, readBufSize)
	var assembly []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.mu.RLock()
		port := r.port
		r.mu.RUnlock()

		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				r.handleDisconnect(err)
				return
			}
			r.log.Error("serial read error", "error", err)
			r.handleDisconnect(err)
			return
		}
		if n == 0 {
			continue
		}

		assembly = append(assembly, buf[:n]...)
		assembly = r.processFrames(assembly)
	}
}

// processFrames extracts every complete frame from data, invoking the
// registered handler for each, and returns the unconsumed remainder.
func (r *Radio) processFrames(data []byte) []byte {
	for {
		if len(data) < headerSize {
			return data
		}
		length := int(binary.BigEndian.Uint16(data[0:2]))
		if headerSize+length > len(data) {
			return data // wait for the rest of this frame
		}

		rssi := int16(binary.BigEndian.Uint16(data[2:4]))
		snr := int8(data[4])
		payload := data[headerSize : headerSize+length]

		r.mu.RLock()
		handler := r.handler
		r.mu.RUnlock()
		if handler != nil {
			handler(append([]byte(nil), payload...), rssi, snr)
		}

		data = data[headerSize+length:]
	}
}

func (r *Radio) handleDisconnect(err error) {
	r.mu.Lock()
	r.connected = false
	state := r.state
	r.mu.Unlock()

	if err != nil {
		r.log.Error("serial disconnected", "error", err)
	}
	if state != nil {
		state(transport.EventDisconnected)
	}
}
