// Package channel implements the MeshCore group-channel layer (spec §4.C):
// a small set of pre-shared-key channels (one public, up to eight private),
// GRP_TXT send/receive framing, and the process-wide TimeSync clock that
// lets receivers trust a remote advert/message timestamp.
package channel

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mesh-repeater/repeater/core/clock"
	"github.com/mesh-repeater/repeater/core/codec"
	"github.com/mesh-repeater/repeater/core/crypto"
)

const (
	// MaxPrivateChannels bounds the configured private-channel set.
	MaxPrivateChannels = 8
	// MaxTextLength is the longest text, in bytes, BuildSendPacket accepts;
	// the 5-byte plaintext framing (4-byte timestamp + 1-byte flags) is
	// not counted in it.
	MaxTextLength = 159

	// PublicChannelPSKBase64 is MeshCore's well-known public-channel secret,
	// shared by convention so any node can decode public chatter.
	PublicChannelPSKBase64 = "izOH6cXN6mrJ5e26oRXNcg=="
)

var (
	ErrTextTooLong  = errors.New("channel: text exceeds maximum length")
	ErrNotMine      = errors.New("channel: payload not decodable on any configured channel")
	ErrTooManyPriv  = errors.New("channel: too many private channels configured")
	ErrWrongPayload = errors.New("channel: payload is not GRP_TXT")
)

// Channel is a single pre-shared-key group channel.
type Channel struct {
	Name   string
	Secret []byte // 16 bytes, AES-128 key and HMAC key material
	hash   byte   // SHA256(secret)[0], precomputed
}

// NewChannel precomputes the channel's hash byte from its secret.
func NewChannel(name string, secret []byte) Channel {
	digest := crypto.Sha256(secret)
	return Channel{Name: name, Secret: secret, hash: digest[0]}
}

// Hash returns the precomputed channel_hash used as the first payload byte.
func (c Channel) Hash() byte { return c.hash }

// Set holds the public channel plus up to MaxPrivateChannels private ones.
// Lookup by hash is linear; the set is small and rebuilt rarely.
type Set struct {
	Public  Channel
	Private []Channel
}

// NewSet builds the default public channel plus any configured private
// channels. It is an error to configure more than MaxPrivateChannels.
func NewSet(privateSecrets map[string][]byte) (*Set, error) {
	if len(privateSecrets) > MaxPrivateChannels {
		return nil, ErrTooManyPriv
	}
	pub, err := crypto.Base64Decode(PublicChannelPSKBase64)
	if err != nil {
		return nil, fmt.Errorf("channel: decode public PSK: %w", err)
	}

	s := &Set{Public: NewChannel("public", pub)}
	for name, secret := range privateSecrets {
		s.Private = append(s.Private, NewChannel(name, secret))
	}
	return s, nil
}

// all returns every configured channel, public first.
func (s *Set) all() []Channel {
	out := make([]Channel, 0, 1+len(s.Private))
	out = append(out, s.Public)
	out = append(out, s.Private...)
	return out
}

// BuildSendPacket frames text t with timestamp ts for transmission on c,
// returning a Packet ready for Encode and hand-off to the transmitter.
func BuildSendPacket(c Channel, t string, ts uint32) (*codec.Packet, error) {
	if len(t) > MaxTextLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrTextTooLong, len(t), MaxTextLength)
	}

	plain := codec.BuildTxtMsgContent(ts, codec.TxtTypePlain, 0, t, nil)

	frame, err := crypto.EncryptThenMAC(c.Secret, plain)
	if err != nil {
		return nil, fmt.Errorf("channel: encrypt: %w", err)
	}
	mac := binary.LittleEndian.Uint16(frame[:crypto.CipherMACSize])
	ciphertext := frame[crypto.CipherMACSize:]

	return &codec.Packet{
		Header:  (codec.PayloadTypeGrpTxt << codec.PHTypeShift) | codec.RouteTypeFlood,
		PathLen: 0,
		Payload: codec.BuildGroupPayload(c.hash, mac, ciphertext),
	}, nil
}

// Message is a successfully decrypted channel text.
type Message struct {
	ChannelIndex int // -1 for the public channel, else index into Set.Private
	Timestamp    uint32
	Text         string
}

// Decode tries every configured channel (public first, then each private
// one) against p's payload. It returns ErrWrongPayload if p is not GRP_TXT,
// or ErrNotMine if no configured channel's hash and key combination
// decrypts it.
func (s *Set) Decode(p *codec.Packet) (*Message, error) {
	if p.PayloadType() != codec.PayloadTypeGrpTxt {
		return nil, ErrWrongPayload
	}

	gp, err := codec.ParseGroupPayload(p.Payload)
	if err != nil {
		return nil, ErrNotMine
	}

	mac := make([]byte, 2)
	binary.LittleEndian.PutUint16(mac, gp.MAC)
	frame := append(mac, gp.Ciphertext...)

	for idx, c := range s.all() {
		if c.Hash() != gp.ChannelHash {
			continue
		}
		plain, err := crypto.MACThenDecrypt(c.Secret, frame)
		if err != nil {
			continue
		}
		content, err := codec.ParseTxtMsgContent(plain)
		if err != nil {
			continue
		}
		text := trimZeroPad([]byte(content.Message))

		channelIndex := idx - 1 // public is index -1
		return &Message{ChannelIndex: channelIndex, Timestamp: content.Timestamp, Text: text}, nil
	}

	return nil, ErrNotMine
}

// trimZeroPad strips the zero padding encrypt_then_mac added to reach a
// block boundary.
func trimZeroPad(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0x00 {
		end--
	}
	return string(b[:end])
}

// TimeSync is the process-wide, loosely-synchronized wall clock described
// in spec §4.C: it tracks an offset learned from trusted remote timestamps
// (advert/channel senders) without ever going backward except on a large
// drift-back correction.
type TimeSync struct {
	clk          *clock.Clock
	synced       bool
	syncedEpoch  uint32
	syncedMillis uint32
}

// NewTimeSync creates a TimeSync driven by clk's Millis() uptime counter.
func NewTimeSync(clk *clock.Clock) *TimeSync {
	return &TimeSync{clk: clk}
}

// Now returns the current best-estimate UNIX epoch time.
func (ts *TimeSync) Now() uint32 {
	nowMillis := ts.clk.Millis()
	if !ts.synced {
		return nowMillis / 1000
	}
	return ts.syncedEpoch + (nowMillis-ts.syncedMillis)/1000
}

// Accept considers a remote timestamp for adoption. It is accepted if we
// have never synced, if it is ahead of our current estimate, or if it
// trails our current estimate by more than 5 seconds (drift-back resync).
func (ts *TimeSync) Accept(remote uint32) bool {
	now := ts.Now()
	if !ts.synced || remote > now || remote < now-5 {
		ts.synced = true
		ts.syncedEpoch = remote
		ts.syncedMillis = ts.clk.Millis()
		return true
	}
	return false
}
