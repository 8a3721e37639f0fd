// Package tls12 carries the two pieces of TLS 1.2 machinery the handshake
// orchestrators need around a full (non-resumed) camouflage handshake: on
// the client, completing a genuine TLS 1.2 handshake whose first round trip
// already happened outside the TLS library; on the server, relaying the
// handshake tail record-for-record between the client and the camouflage
// origin until both sides have sent their Finished.
package tls12

import (
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/sync/errgroup"

	"snowytunnel/internal/record"
)

// HandshakeConn wraps the connection a utls.UConn drives so that the first
// round trip can happen outside the library: reads are served from a
// replayed ServerHello record before touching the wire, and the library's
// own re-send of the ClientHello (already written by the orchestrator) is
// swallowed instead of hitting the wire twice.
type HandshakeConn struct {
	net.Conn
	pending []byte
	discard int
}

// NewHandshakeConn wraps conn. The wrapper is inert (pure passthrough) until
// Complete arms its replay and swallow state.
func NewHandshakeConn(conn net.Conn) *HandshakeConn {
	return &HandshakeConn{Conn: conn}
}

func (h *HandshakeConn) Read(p []byte) (int, error) {
	if len(h.pending) > 0 {
		n := copy(p, h.pending)
		h.pending = h.pending[n:]
		return n, nil
	}
	return h.Conn.Read(p)
}

func (h *HandshakeConn) Write(p []byte) (int, error) {
	if h.discard > 0 {
		if len(p) <= h.discard {
			h.discard -= len(p)
			return len(p), nil
		}
		skip := h.discard
		h.discard = 0
		n, err := h.Conn.Write(p[skip:])
		return skip + n, err
	}
	return h.Conn.Write(p)
}

// Complete finishes a full TLS 1.2 handshake whose ClientHello was written
// and whose ServerHello was read by the orchestrator rather than by the TLS
// library. serverHello is the full ServerHello record (header included) to
// replay into uconn's reads; clientHelloLen is the byte length of the
// ClientHello record the orchestrator already sent, so the library's own
// copy of it is swallowed. From there utls runs the remaining flights for
// real: certificate processing and ClientKeyExchange/ChangeCipherSpec/
// Finished out, the origin's ChangeCipherSpec and Finished in. Handshake
// returns exactly at the CCS-then-Finished boundary the server's relay also
// stops at.
func Complete(uconn *utls.UConn, hc *HandshakeConn, serverHello []byte, clientHelloLen int) error {
	hc.pending = append(hc.pending, serverHello...)
	hc.discard += clientHelloLen
	if err := uconn.Handshake(); err != nil {
		return fmt.Errorf("tls12: complete handshake: %w", err)
	}
	return nil
}

// RelayUntilFinished forwards handshake records bidirectionally between a
// and b until each direction has independently witnessed its own
// CCS-then-Handshake boundary, then returns. The two copy loops run
// concurrently and both must finish before the relay hands the connection
// back.
func RelayUntilFinished(a, b net.Conn) error {
	var g errgroup.Group
	g.Go(func() error { return forwardUntilFinished(a, b) })
	g.Go(func() error { return forwardUntilFinished(b, a) })
	return g.Wait()
}

func forwardUntilFinished(src, dst net.Conn) error {
	sawCCS := false
	var scratch []byte
	for {
		msg, buf, err := record.ReadMessage(src, scratch)
		scratch = buf
		if err != nil {
			return fmt.Errorf("tls12: relay read: %w", err)
		}
		switch msg.Header.Type {
		case record.TypeChangeCipherSpec, record.TypeHandshake:
		default:
			return fmt.Errorf("tls12: relay: unexpected record type %#x", msg.Header.Type)
		}
		if _, err := dst.Write(msg.Raw); err != nil {
			return fmt.Errorf("tls12: relay write: %w", err)
		}
		if msg.Header.Type == record.TypeChangeCipherSpec {
			sawCCS = true
			continue
		}
		if msg.Header.Type == record.TypeHandshake && sawCCS {
			return nil
		}
	}
}
