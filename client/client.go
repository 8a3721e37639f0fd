// Package client implements the initiating side of a SnowyTunnel connection
// (component C6): it drives the full handshake state machine described in
// the design notes and, on success, hands back a SnowyStream ready for
// ordinary duplex use.
package client

import (
	"bytes"
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"

	"snowytunnel/internal/fingerprint"
	"snowytunnel/internal/logging"
	"snowytunnel/internal/noiseping"
	"snowytunnel/internal/psk"
	"snowytunnel/internal/record"
	"snowytunnel/internal/tls12"
	"snowytunnel/internal/totp"
	"snowytunnel/stream"
)

// Client holds everything needed to drive a handshake against a
// SnowyTunnel server: the derived PSK, its point mask, the TOTP binder and
// the ClientHello fingerprint to wear.
type Client struct {
	psk     [psk.Len]byte
	mask    [32]byte
	totp    totp.Totp
	spec    fingerprint.Spec
	logger  logging.Logger
	userKey []byte
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithLogger overrides the default discarding logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTOTP overrides the default TOTP period/skew (60s, ±2 steps).
func WithTOTP(periodSeconds, skew int) Option {
	return func(c *Client) { c.totp = totp.New(c.userKey, periodSeconds, skew) }
}

// New builds a Client imitating a Chrome fingerprint for serverName, keyed
// by key (an arbitrary-length user secret, not the raw 32-byte PSK).
func New(key []byte, serverName string, opts ...Option) *Client {
	return NewWithFingerprint(key, fingerprint.Chrome(serverName), opts...)
}

// NewWithFingerprint builds a Client wearing an arbitrary fingerprint Spec.
func NewWithFingerprint(key []byte, spec fingerprint.Spec, opts ...Option) *Client {
	derived := psk.Derive(key)
	c := &Client{
		psk:     derived,
		mask:    psk.Mask(derived),
		totp:    totp.New(key, 60, 2),
		spec:    spec,
		logger:  logging.Nop{},
		userKey: append([]byte(nil), key...),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect performs the handshake with no early data and returns the
// resulting duplex stream.
func (c *Client) Connect(conn net.Conn) (*stream.SnowyStream, error) {
	var earlyData [noiseping.EarlyDataLen]byte
	return c.ConnectWithEarlyData(conn, earlyData)
}

// ConnectWithEarlyData performs the handshake, binding earlyData into the
// ping so the server's Accept call can recover it.
func (c *Client) ConnectWithEarlyData(conn net.Conn, earlyData [noiseping.EarlyDataLen]byte) (*stream.SnowyStream, error) {
	hs, err := noiseping.New(c.psk, noiseping.Initiator)
	if err != nil {
		return nil, fmt.Errorf("client: build handshake: %w", err)
	}

	ping, err := hs.WritePing(earlyData[:])
	if err != nil {
		return nil, fmt.Errorf("client: write ping: %w", err)
	}
	psk.XOR(ping[:32], c.mask[:])
	psk.XOR(ping[48:64], c.totp.GenerateCurrent(16))

	// The TLS state is bound to the wrapper conn so that, should the origin
	// negotiate a full TLS 1.2 handshake, the library can finish it for
	// real even though the first round trip happens below, outside it.
	hc := tls12.NewHandshakeConn(conn)
	uconn, chRecord, err := fingerprint.NewConn(hc, c.spec, ping)
	if err != nil {
		return nil, fmt.Errorf("client: build client hello: %w", err)
	}
	if _, err := conn.Write(chRecord); err != nil {
		return nil, fmt.Errorf("client: write client hello: %w", err)
	}
	c.logger.Printf("client: sent client hello, masked ping %x", ping)

	msg, buf, err := record.ReadMessage(conn, nil)
	if err != nil {
		return nil, fmt.Errorf("client: read server hello: %w", err)
	}
	if msg.Header.Type != record.TypeHandshake {
		return nil, fmt.Errorf("client: expected a handshake record, got type %#x", msg.Header.Type)
	}
	sh, err := record.ParseHello(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("client: parse server hello: %w", err)
	}
	if sh.HandshakeType != record.HandshakeServerHello {
		return nil, fmt.Errorf("client: expected a ServerHello, got handshake type %d", sh.HandshakeType)
	}

	var pong []byte
	switch {
	case sh.IsTLS13():
		pong, buf, err = c.readNoisePayload(conn, buf)
	case bytes.Equal(sh.SessionID, ping[32:64]):
		pong, buf, err = c.finishResumed(conn, sh, buf)
	default:
		pong, buf, err = c.finishFull12(conn, hc, uconn, msg, len(chRecord), buf)
	}
	_ = buf
	if err != nil {
		return nil, err
	}

	c.logger.Printf("client: pong %x", pong)
	send, recv, err := hs.ReadPong(pong)
	if err != nil {
		return nil, fmt.Errorf("client: noise rejected pong: %w", err)
	}
	c.logger.Printf("client: handshake complete")
	return stream.New(conn, send, recv), nil
}

// readNoisePayload implements READ_NOISE_REC / NOISE_FROM_PAYLOAD: the
// TLS 1.3 and tail-shared path where pong arrives whole inside a single
// application_data record.
func (c *Client) readNoisePayload(conn net.Conn, buf []byte) (pong []byte, nextBuf []byte, err error) {
	msg, buf, err := record.ReadMessage(conn, buf)
	if err != nil {
		return nil, buf, fmt.Errorf("client: read noise payload: %w", err)
	}
	if msg.Header.Type != record.TypeApplicationData || len(msg.Raw) < record.HeaderLength+48 {
		return nil, buf, fmt.Errorf("client: noise payload record too short or wrong type")
	}
	pong = append([]byte(nil), msg.Body[:48]...)
	psk.XOR(pong[:32], c.mask[:])
	return pong, buf, nil
}

// finishResumed implements the RESUMED branch: CCS then Finished carry the
// pong tail, and the overwritten Finished body is treated as opaque bytes,
// never MAC-verified (see DESIGN.md's open question decision).
func (c *Client) finishResumed(conn net.Conn, sh *record.Hello, buf []byte) (pong []byte, nextBuf []byte, err error) {
	ccsMsg, buf, err := record.ReadMessage(conn, buf)
	if err != nil {
		return nil, buf, fmt.Errorf("client: read ccs: %w", err)
	}
	if ccsMsg.Header.Type != record.TypeChangeCipherSpec {
		return nil, buf, fmt.Errorf("client: expected ChangeCipherSpec, got type %#x", ccsMsg.Header.Type)
	}
	finMsg, buf, err := record.ReadMessage(conn, buf)
	if err != nil {
		return nil, buf, fmt.Errorf("client: read finished: %w", err)
	}
	if finMsg.Header.Type != record.TypeHandshake || len(finMsg.Body) < 16 {
		return nil, buf, fmt.Errorf("client: finished record too short or wrong type")
	}
	pong = make([]byte, 48)
	copy(pong[:32], sh.Random[:])
	psk.XOR(pong[:32], c.mask[:])
	copy(pong[32:48], finMsg.Body[:16])
	return pong, buf, nil
}

// finishFull12 implements the FULL12 branch: replay the already-read
// ServerHello into the TLS state and let the library genuinely complete the
// TLS 1.2 handshake with the camouflage origin (the server in the middle
// relays it transparently), then send a dummy application_data record and
// read the record carrying the real pong.
func (c *Client) finishFull12(conn net.Conn, hc *tls12.HandshakeConn, uconn *utls.UConn, sh record.Message, chLen int, buf []byte) (pong []byte, nextBuf []byte, err error) {
	shRaw := append([]byte(nil), sh.Raw...)
	if err := tls12.Complete(uconn, hc, shRaw, chLen); err != nil {
		return nil, buf, fmt.Errorf("client: full tls 1.2 handshake: %w", err)
	}
	dummy, err := record.RandomDummyBody()
	if err != nil {
		return nil, buf, fmt.Errorf("client: generate dummy record: %w", err)
	}
	if err := record.WriteMessage(conn, record.TypeApplicationData, record.VersionTLS12, dummy); err != nil {
		return nil, buf, fmt.Errorf("client: write dummy record: %w", err)
	}
	msg, buf, err := record.ReadMessage(conn, buf)
	if err != nil {
		return nil, buf, fmt.Errorf("client: read noise payload: %w", err)
	}
	if msg.Header.Type != record.TypeApplicationData || len(msg.Raw) < record.HeaderLength+48 {
		return nil, buf, fmt.Errorf("client: noise payload record too short or wrong type")
	}
	pong = append([]byte(nil), msg.Body[:48]...)
	psk.XOR(pong[:32], c.mask[:])
	return pong, buf, nil
}
