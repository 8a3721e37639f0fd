// Package server implements the responding side of a SnowyTunnel connection
// (component C7): it authenticates an inbound ClientHello against a skewed
// TOTP window, transparently proxies the real TLS handshake against a
// camouflage origin whenever TLS 1.2 is negotiated, and on success hands
// back a SnowyStream plus whatever early data the client bound into its
// ping.
package server

import (
	"bytes"
	"fmt"
	"net"

	"snowytunnel/internal/fingerprint"
	"snowytunnel/internal/logging"
	"snowytunnel/internal/noiseping"
	"snowytunnel/internal/psk"
	"snowytunnel/internal/record"
	"snowytunnel/internal/replay"
	"snowytunnel/internal/tls12"
	"snowytunnel/internal/totp"
	"snowytunnel/stream"
)

// Dialer opens the second, outbound connection to the camouflage origin.
// Tests substitute a Dialer that connects to an in-process stub instead of
// a real TLS origin.
type Dialer func() (net.Conn, error)

// Server holds everything needed to authenticate inbound connections and
// proxy their handshake against a camouflage origin.
type Server struct {
	psk    [psk.Len]byte
	mask   [32]byte
	totp   totp.Totp
	replay *replay.Filter
	dial   Dialer
	logger logging.Logger
}

// Option configures optional Server behavior.
type Option func(*Server)

// WithLogger overrides the default discarding logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTOTP overrides the default TOTP period/skew (60s, ±2 steps). key must
// be the same raw user key passed to New.
func WithTOTP(key []byte, periodSeconds, skew int) Option {
	return func(s *Server) { s.totp = totp.New(key, periodSeconds, skew) }
}

// WithDialer overrides how the server reaches the camouflage origin,
// bypassing camouflageAddr. Used by tests.
func WithDialer(d Dialer) Option {
	return func(s *Server) { s.dial = d }
}

// New builds a Server keyed by key (an arbitrary-length user secret), that
// forwards each authenticated connection's handshake to camouflageAddr and
// tracks up to replayCapacity distinct ephemeral keys for replay detection.
// Connections that fail authentication are not proxied; Accept returns them
// to the caller inside an AcceptError.
func New(key []byte, camouflageAddr string, replayCapacity int, opts ...Option) (*Server, error) {
	derived := psk.Derive(key)
	filter, err := replay.New(replayCapacity)
	if err != nil {
		return nil, fmt.Errorf("server: build replay filter: %w", err)
	}
	s := &Server{
		psk:    derived,
		mask:   psk.Mask(derived),
		totp:   totp.New(key, 60, 2),
		replay: filter,
		dial:   func() (net.Conn, error) { return net.Dial("tcp", camouflageAddr) },
		logger: logging.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Accept performs the handshake with no expectation of early data and
// returns the resulting duplex stream. Equivalent to discarding the early
// data returned by AcceptWithEarlyData.
func (s *Server) Accept(conn net.Conn) (*stream.SnowyStream, error) {
	st, _, err := s.AcceptWithEarlyData(conn)
	return st, err
}

// AcceptWithEarlyData drives the full server handshake state machine
// (INIT/PROXY/BRANCH/DONE) over conn and returns the resulting stream along
// with the 16-byte early data payload the client bound into its ping. On
// failure the returned error is one of the AcceptError variants in
// errors.go, or wraps a plain I/O error.
func (s *Server) AcceptWithEarlyData(conn net.Conn) (*stream.SnowyStream, [noiseping.EarlyDataLen]byte, error) {
	var earlyOut [noiseping.EarlyDataLen]byte

	chMsg, _, err := record.ReadMessage(conn, nil)
	if err != nil {
		return nil, earlyOut, &IoError{Err: err}
	}
	if chMsg.Header.Type != record.TypeHandshake {
		return nil, earlyOut, &ClientHelloInvalidError{Buf: chMsg.Raw, Conn: conn}
	}
	ch, err := record.ParseHello(chMsg.Body)
	if err != nil || ch.HandshakeType != record.HandshakeClientHello {
		return nil, earlyOut, &ClientHelloInvalidError{Buf: chMsg.Raw, Conn: conn}
	}
	ping, err := fingerprint.ExtractPing(ch)
	if err != nil {
		return nil, earlyOut, &ClientHelloInvalidError{Buf: chMsg.Raw, Conn: conn}
	}
	chSessionID := append([]byte(nil), ch.SessionID...)

	psk.XOR(ping[:32], s.mask[:])

	hs, earlyData, ok := s.authenticate(ping)
	if !ok {
		return nil, earlyOut, &UnauthenticatedError{Buf: chMsg.Raw, Conn: conn}
	}
	copy(earlyOut[:], earlyData)

	var nonce [32]byte
	copy(nonce[:], ping[:32])
	if first, replayed := s.replay.CheckAndInsert(replay.Key(nonce), conn.RemoteAddr()); replayed {
		return nil, earlyOut, &ReplayDetectedError{Buf: chMsg.Raw, Conn: conn, Nonce: nonce, FirstFrom: first}
	}

	// The camouflage connection is not closed on every exit: a
	// ServerHelloInvalidError hands it back open so the caller can fall
	// back to dumb-relaying between the two sides. Every other path closes
	// it explicitly once it has served its purpose.
	outbound, err := s.dial()
	if err != nil {
		return nil, earlyOut, &IoError{Err: fmt.Errorf("dial camouflage origin: %w", err)}
	}

	if _, err := outbound.Write(chMsg.Raw); err != nil {
		_ = outbound.Close()
		return nil, earlyOut, &IoError{Err: err}
	}
	shMsg, _, err := record.ReadMessage(outbound, nil)
	if err != nil {
		_ = outbound.Close()
		return nil, earlyOut, &IoError{Err: err}
	}
	if shMsg.Header.Type != record.TypeHandshake {
		return nil, earlyOut, &ServerHelloInvalidError{Buf: shMsg.Raw, Inbound: conn, Outbound: outbound}
	}
	sh, err := record.ParseHello(shMsg.Body)
	if err != nil || sh.HandshakeType != record.HandshakeServerHello {
		return nil, earlyOut, &ServerHelloInvalidError{Buf: shMsg.Raw, Inbound: conn, Outbound: outbound}
	}

	pong, send, recv, err := hs.WritePong()
	if err != nil {
		_ = outbound.Close()
		return nil, earlyOut, &IoError{Err: fmt.Errorf("complete noise handshake: %w", err)}
	}
	pong = append([]byte(nil), pong...)
	psk.XOR(pong[:32], s.mask[:])

	switch {
	case sh.IsTLS13():
		err := s.finishTLS13(conn, shMsg, pong)
		_ = outbound.Close()
		if err != nil {
			return nil, earlyOut, &IoError{Err: err}
		}
	case bytes.Equal(sh.SessionID, chSessionID):
		if err := s.finishResumed(conn, outbound, shMsg, pong); err != nil {
			return nil, earlyOut, &IoError{Err: err}
		}
	default:
		if err := s.finishFull12(conn, outbound, shMsg, pong); err != nil {
			return nil, earlyOut, &IoError{Err: err}
		}
	}

	s.logger.Printf("server: handshake complete, early data %x", earlyData)
	return stream.New(conn, send, recv), earlyOut, nil
}

// authenticate tries every TOTP token in the current skew window against
// ping, earliest skew first, and returns the responder Handshake that
// succeeded. Each attempt uses a fresh Handshake: a failed Noise decrypt
// mixes the attempted ciphertext into the handshake's transcript hash, so
// retrying against the same state would not reproduce the first attempt's
// clean initial transcript.
func (s *Server) authenticate(ping []byte) (hs *noiseping.Handshake, earlyData []byte, ok bool) {
	for _, token := range s.totp.GenerateCurrentSkewed(16) {
		trial := append([]byte(nil), ping...)
		psk.XOR(trial[48:64], token)

		attempt, err := noiseping.New(s.psk, noiseping.Responder)
		if err != nil {
			continue
		}
		data, err := attempt.ReadPing(trial)
		if err != nil {
			continue
		}
		return attempt, data, true
	}
	return nil, nil, false
}

// finishTLS13 implements the TLS 1.3 branch: forward the ServerHello
// unmodified, then carry pong whole inside a padded application_data
// record.
func (s *Server) finishTLS13(inbound net.Conn, sh record.Message, pong []byte) error {
	if _, err := inbound.Write(sh.Raw); err != nil {
		return fmt.Errorf("forward server hello: %w", err)
	}
	return writePongRecord(inbound, pong)
}

// finishResumed implements the TLS 1.2 resumed branch: the camouflage
// origin's ServerHello is mutated in place (server random carries
// pong[0:32]) before being forwarded, then CCS and Finished are forwarded
// with Finished's first 16 body bytes overwritten to carry pong[32:48].
// The client never MAC-verifies the rewritten Finished, it only reads the
// bytes back out as pong. outbound is dropped once the Finished has been
// forwarded.
func (s *Server) finishResumed(inbound, outbound net.Conn, sh record.Message, pong []byte) error {
	defer func() { _ = outbound.Close() }()

	const serverRandomOffset = record.HeaderLength + 6
	if len(sh.Raw) < serverRandomOffset+32 {
		return fmt.Errorf("server hello too short to carry server_random")
	}
	copy(sh.Raw[serverRandomOffset:serverRandomOffset+32], pong[:32])
	if _, err := inbound.Write(sh.Raw); err != nil {
		return fmt.Errorf("forward mutated server hello: %w", err)
	}

	ccsMsg, _, err := record.ReadMessage(outbound, nil)
	if err != nil {
		return fmt.Errorf("read ccs from camouflage: %w", err)
	}
	if ccsMsg.Header.Type != record.TypeChangeCipherSpec {
		return fmt.Errorf("expected ChangeCipherSpec from camouflage, got type %#x", ccsMsg.Header.Type)
	}
	if _, err := inbound.Write(ccsMsg.Raw); err != nil {
		return fmt.Errorf("forward ccs: %w", err)
	}

	finMsg, _, err := record.ReadMessage(outbound, nil)
	if err != nil {
		return fmt.Errorf("read finished from camouflage: %w", err)
	}
	if finMsg.Header.Type != record.TypeHandshake || len(finMsg.Body) < 16 {
		return fmt.Errorf("expected Finished from camouflage, got type %#x", finMsg.Header.Type)
	}
	copy(finMsg.Raw[record.HeaderLength:record.HeaderLength+16], pong[32:48])
	if _, err := inbound.Write(finMsg.Raw); err != nil {
		return fmt.Errorf("forward mutated finished: %w", err)
	}
	return nil
}

// finishFull12 implements the TLS 1.2 full-handshake branch: relay the
// handshake tail byte-for-byte between the two connections until each side
// has witnessed its own ChangeCipherSpec-then-Handshake boundary, discard
// the client's dummy record, then send the pong-carrying padded record.
// outbound is dropped once the relay has finished with it.
func (s *Server) finishFull12(inbound, outbound net.Conn, sh record.Message, pong []byte) error {
	defer func() { _ = outbound.Close() }()

	if _, err := inbound.Write(sh.Raw); err != nil {
		return fmt.Errorf("forward server hello: %w", err)
	}
	if err := tls12.RelayUntilFinished(inbound, outbound); err != nil {
		return fmt.Errorf("relay tls 1.2 handshake tail: %w", err)
	}
	if _, _, err := record.ReadMessage(inbound, nil); err != nil {
		return fmt.Errorf("read client dummy record: %w", err)
	}
	return writePongRecord(inbound, pong)
}

// writePongRecord builds and writes the padded application_data record
// carrying pong (TLS 1.3 and TLS 1.2-full branches share this shape): a
// random body length in [108, 908), pong in the first 48 bytes, random
// bytes filling the rest of the body.
func writePongRecord(conn net.Conn, pong []byte) error {
	body, err := record.RandomDummyBody()
	if err != nil {
		return fmt.Errorf("generate pong record body: %w", err)
	}
	if len(body) < 48 {
		body = append(body, make([]byte, 48-len(body))...)
	}
	copy(body[:48], pong)
	if err := record.WriteMessage(conn, record.TypeApplicationData, record.VersionTLS12, body); err != nil {
		return fmt.Errorf("write pong record: %w", err)
	}
	return nil
}

