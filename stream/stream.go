// Package stream implements the post-handshake duplex byte stream: once the
// ping/pong exchange has produced a pair of Noise cipher states, every
// plaintext byte moving between client and server is AEAD-sealed and framed
// as a TLS 1.2 application_data record, so a passive observer continues to
// see what looks like an ordinary TLS session long after the handshake
// ends.
package stream

import (
	"fmt"
	"net"
	"time"

	"github.com/flynn/noise"

	"snowytunnel/internal/record"
)

// MaxPlaintextLen is the largest plaintext chunk that fits in a single
// record once the AEAD tag is accounted for.
const MaxPlaintextLen = record.MaxCiphertextLength - 16

// SnowyStream wraps a net.Conn with a pair of Noise transport cipher states,
// presenting a plain net.Conn to callers while every Read/Write crosses the
// wire as sealed, TLS-record-framed ciphertext.
type SnowyStream struct {
	conn net.Conn
	send *noise.CipherState
	recv *noise.CipherState

	readBuf []byte // leftover decrypted plaintext not yet delivered to a Read caller
	recvBuf []byte // scratch reused across ReadMessage calls to avoid reallocating
}

// New wraps conn with send (for outgoing data) and recv (for incoming data)
// cipher states, normally the ones produced by noiseping.Handshake.
func New(conn net.Conn, send, recv *noise.CipherState) *SnowyStream {
	return &SnowyStream{conn: conn, send: send, recv: recv}
}

// Write seals p in MaxPlaintextLen-sized chunks and writes each as an
// application_data record, in order. It either writes all of p or returns
// the first error encountered, along with how many plaintext bytes were
// sealed and sent before the failure.
func (s *SnowyStream) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > MaxPlaintextLen {
			chunk = chunk[:MaxPlaintextLen]
		}
		ciphertext, err := s.send.Encrypt(nil, nil, chunk)
		if err != nil {
			return written, fmt.Errorf("stream: encrypt: %w", err)
		}
		if err := record.WriteMessage(s.conn, record.TypeApplicationData, record.VersionTLS12, ciphertext); err != nil {
			return written, fmt.Errorf("stream: write record: %w", err)
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

// Read fills p with decrypted plaintext, reading and unsealing one more
// application_data record from the wire whenever its internal buffer of
// already-decrypted bytes runs dry. A record's plaintext is delivered in
// full before the next record is read, so ordering is always preserved.
func (s *SnowyStream) Read(p []byte) (int, error) {
	for len(s.readBuf) == 0 {
		msg, buf, err := record.ReadMessage(s.conn, s.recvBuf)
		s.recvBuf = buf
		if err != nil {
			return 0, fmt.Errorf("stream: read record: %w", err)
		}
		if msg.Header.Type != record.TypeApplicationData {
			return 0, fmt.Errorf("stream: unexpected record type %#x, want application_data", msg.Header.Type)
		}
		if int(msg.Header.Length) > record.MaxCiphertextLength {
			return 0, fmt.Errorf("stream: record of %d bytes exceeds the %d-byte ciphertext limit", msg.Header.Length, record.MaxCiphertextLength)
		}
		plaintext, err := s.recv.Decrypt(nil, nil, msg.Body)
		if err != nil {
			return 0, fmt.Errorf("stream: decrypt: %w", err)
		}
		s.readBuf = plaintext
	}
	n := copy(p, s.readBuf)
	s.readBuf = s.readBuf[n:]
	return n, nil
}

func (s *SnowyStream) Close() error                       { return s.conn.Close() }
func (s *SnowyStream) LocalAddr() net.Addr                { return s.conn.LocalAddr() }
func (s *SnowyStream) RemoteAddr() net.Addr               { return s.conn.RemoteAddr() }
func (s *SnowyStream) SetDeadline(t time.Time) error      { return s.conn.SetDeadline(t) }
func (s *SnowyStream) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *SnowyStream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

var _ net.Conn = (*SnowyStream)(nil)
