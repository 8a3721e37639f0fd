// Package noiseping wraps github.com/flynn/noise to produce the two-message
// Noise handshake ("ping" and "pong") this protocol smuggles inside TLS
// hello randoms. It runs the NN base pattern with a pre-shared key mixed in
// ahead of the first message (Noise's "psk0" modifier), which is exactly the
// NNpsk0 pattern named in the design: no static keys, mutual authentication
// coming entirely from both sides holding the same PSK.
//
// Message 1 ("ping"), built by the initiator: a 32-byte cleartext ephemeral
// public key followed by the PSK-bound AEAD encryption of the caller's
// 16-byte early data and its 16-byte tag. Message 2 ("pong"), built by the
// responder: a 32-byte cleartext ephemeral public key followed by an AEAD
// tag over an empty payload. A raw ephemeral key is a curve point, not a
// uniformly random string; XORing it with the point mask derived from the
// PSK (see the psk package) makes it look uniform on the wire. That masking
// is the caller's job, applied to the first 32 bytes of whatever
// WritePing/WritePong return.
package noiseping

import (
	"crypto/rand"
	"fmt"

	"github.com/flynn/noise"
)

// Lengths of the two handshake messages in bytes, fixed by the pattern and
// the AEAD tag size: a 16-byte early-data payload for the ping, none for the
// pong.
const (
	EphemeralLen = 32
	TagLen       = 16
	EarlyDataLen = 16

	PingLen = EphemeralLen + EarlyDataLen + TagLen // 64
	PongLen = EphemeralLen + TagLen                // 48
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// Role distinguishes which side of the two-message exchange a Handshake
// drives.
type Role int

const (
	Initiator Role = iota
	Responder
)

// Handshake drives one NNpsk0 exchange to completion and yields a pair of
// transport cipher states. It is single-use: construct a new Handshake for
// every connection attempt.
type Handshake struct {
	role  Role
	state *noise.HandshakeState
	done  bool
}

// New builds a Handshake bound to psk, ready to write (Initiator) or read
// (Responder) the first message.
func New(psk [32]byte, role Role) (*Handshake, error) {
	cfg := noise.Config{
		CipherSuite:           cipherSuite,
		Random:                rand.Reader,
		Pattern:               noise.HandshakeNN,
		Initiator:             role == Initiator,
		PresharedKey:          psk[:],
		PresharedKeyPlacement: 0,
	}
	state, err := noise.NewHandshakeState(cfg)
	if err != nil {
		return nil, fmt.Errorf("noiseping: new handshake state: %w", err)
	}
	return &Handshake{role: role, state: state}, nil
}

// WritePing produces message 1. earlyData is the caller's application
// payload, encrypted under the PSK-derived key; the TOTP token is not part
// of it (the client XORs that over the ping's last 16 bytes afterwards).
// Only valid for an Initiator-role Handshake.
func (h *Handshake) WritePing(earlyData []byte) ([]byte, error) {
	if h.role != Initiator {
		return nil, fmt.Errorf("noiseping: WritePing called on a responder handshake")
	}
	msg, _, _, err := h.state.WriteMessage(nil, earlyData)
	if err != nil {
		return nil, fmt.Errorf("noiseping: write ping: %w", err)
	}
	return msg, nil
}

// ReadPing consumes message 1 and returns the decrypted early data. Only
// valid for a Responder-role Handshake.
func (h *Handshake) ReadPing(ping []byte) ([]byte, error) {
	if h.role != Responder {
		return nil, fmt.Errorf("noiseping: ReadPing called on an initiator handshake")
	}
	earlyData, _, _, err := h.state.ReadMessage(nil, ping)
	if err != nil {
		return nil, fmt.Errorf("noiseping: read ping: %w", err)
	}
	return earlyData, nil
}

// WritePong produces message 2 and completes the handshake, returning the
// send and receive cipher states for the transport phase. Only valid for a
// Responder-role Handshake, after ReadPing.
func (h *Handshake) WritePong() (pong []byte, send, recv *noise.CipherState, err error) {
	if h.role != Responder {
		return nil, nil, nil, fmt.Errorf("noiseping: WritePong called on an initiator handshake")
	}
	msg, cs1, cs2, err := h.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("noiseping: write pong: %w", err)
	}
	if cs1 == nil || cs2 == nil {
		return nil, nil, nil, fmt.Errorf("noiseping: pong did not complete the handshake")
	}
	h.done = true
	// Split always orients cs1 as initiator-to-responder traffic, no
	// matter which side wrote the final message: the responder sends
	// with cs2 and receives with cs1.
	return msg, cs2, cs1, nil
}

// ReadPong consumes message 2 and completes the handshake, returning the
// send and receive cipher states for the transport phase. Only valid for an
// Initiator-role Handshake, after WritePing.
func (h *Handshake) ReadPong(pong []byte) (send, recv *noise.CipherState, err error) {
	if h.role != Initiator {
		return nil, nil, fmt.Errorf("noiseping: ReadPong called on a responder handshake")
	}
	_, cs1, cs2, err := h.state.ReadMessage(nil, pong)
	if err != nil {
		return nil, nil, fmt.Errorf("noiseping: read pong: %w", err)
	}
	if cs1 == nil || cs2 == nil {
		return nil, nil, fmt.Errorf("noiseping: pong did not complete the handshake")
	}
	h.done = true
	// Mirror of the responder's split: the initiator sends with cs1 and
	// receives with cs2.
	return cs1, cs2, nil
}

// Done reports whether the handshake has completed.
func (h *Handshake) Done() bool { return h.done }
