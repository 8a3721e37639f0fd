package server

import (
	"fmt"
	"net"
)

// AcceptError is the common shape of every non-IO failure Accept and
// AcceptWithEarlyData can return: each carries enough of the raw bytes and
// connection handles that a caller can fall back to a dumb TCP relay to the
// camouflage origin instead of dropping the connection outright.
type AcceptError interface {
	error
	acceptError()
}

// IoError wraps an underlying I/O failure with no recovery information
// attached, since none of the handshake's buffers can be trusted once a
// read or write itself has failed.
type IoError struct {
	Err error
}

func (e *IoError) Error() string { return fmt.Sprintf("server: i/o error: %v", e.Err) }
func (e *IoError) Unwrap() error { return e.Err }
func (*IoError) acceptError()    {}

// ClientHelloInvalidError reports that the first record read from the
// inbound connection was malformed or not a ClientHello. Buf holds that
// full record, and Conn is the still-open inbound connection, so a caller
// can relay it verbatim to a real server instead of hanging up. A first
// record that cannot be read at all (the connection fails or closes first)
// is reported as an IoError instead, with nothing buffered.
type ClientHelloInvalidError struct {
	Buf  []byte
	Conn net.Conn
}

func (e *ClientHelloInvalidError) Error() string {
	return fmt.Sprintf("server: invalid client hello (%d bytes buffered)", len(e.Buf))
}
func (*ClientHelloInvalidError) acceptError() {}

// UnauthenticatedError reports a well-formed ClientHello whose ping did not
// authenticate against any TOTP token in the skew window, for any PSK this
// server holds — indistinguishable from a wrong PSK.
type UnauthenticatedError struct {
	Buf  []byte
	Conn net.Conn
}

func (e *UnauthenticatedError) Error() string {
	return fmt.Sprintf("server: unauthenticated (%d bytes buffered)", len(e.Buf))
}
func (*UnauthenticatedError) acceptError() {}

// ReplayDetectedError reports that authentication succeeded but the
// ephemeral key had already been presented, whether by the same peer or
// another one. FirstFrom is the address that presented it first.
type ReplayDetectedError struct {
	Buf       []byte
	Conn      net.Conn
	Nonce     [32]byte
	FirstFrom net.Addr
}

func (e *ReplayDetectedError) Error() string {
	return fmt.Sprintf("server: replay of nonce %x first seen from %s", e.Nonce, e.FirstFrom)
}
func (*ReplayDetectedError) acceptError() {}

// ServerHelloInvalidError reports that the camouflage origin's first record
// was malformed or not a ServerHello. Both connections are preserved so the
// caller can decide how to unwind.
type ServerHelloInvalidError struct {
	Buf      []byte
	Inbound  net.Conn
	Outbound net.Conn
}

func (e *ServerHelloInvalidError) Error() string {
	return fmt.Sprintf("server: invalid server hello from camouflage origin (%d bytes buffered)", len(e.Buf))
}
func (*ServerHelloInvalidError) acceptError() {}

var (
	_ AcceptError = (*IoError)(nil)
	_ AcceptError = (*ClientHelloInvalidError)(nil)
	_ AcceptError = (*UnauthenticatedError)(nil)
	_ AcceptError = (*ReplayDetectedError)(nil)
	_ AcceptError = (*ServerHelloInvalidError)(nil)
)
