// Package record implements the minimal TLS 1.2/1.3 record-layer framer
// (C3 in the design): reading exactly a 5-byte header plus its body, and
// writing application_data records that mimic a genuine TLS session.
//
// This is hand-rolled rather than delegated to a TLS library because no
// library in the reference pack exposes "read one raw record off the wire
// and hand me the bytes" for the proxy/relay role the server plays while
// shuttling bytes between a client and the camouflage origin — utls is a
// client-handshake library, not a record-layer peeker. See DESIGN.md.
package record

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Record types (RFC 5246 §6.2.1).
const (
	TypeChangeCipherSpec = 0x14
	TypeAlert            = 0x15
	TypeHandshake        = 0x16
	TypeApplicationData  = 0x17
)

// Handshake message types (RFC 5246 §7.4) relevant to this protocol.
const (
	HandshakeClientHello = 1
	HandshakeServerHello = 2
)

const (
	// HeaderLength is the fixed length of a TLS record header.
	HeaderLength = 5
	// MaxCiphertextLength bounds the ciphertext payload of a single
	// record: 16384 plaintext bytes + 16 byte AEAD tag + slack margin.
	// Client and server enforce the same value.
	MaxCiphertextLength = 16640
	// maxRecordBodyTolerance is the RFC 5246 §6.2.1 upper tolerance for
	// a record body length, checked on every record read off the wire;
	// the stream package additionally caps transport records at
	// MaxCiphertextLength.
	maxRecordBodyTolerance = 1<<14 + 2048

	// VersionTLS10 is the record-layer version TLS stacks put on the very
	// first ClientHello record, before any version has been negotiated.
	VersionTLS10 = 0x0301
	VersionTLS12 = 0x0303
	VersionTLS13 = 0x0304
)

// Header is a parsed 5-byte TLS record header.
type Header struct {
	Type    byte
	Version uint16
	Length  uint16
}

// ReadHeader reads exactly 5 bytes from r and parses them as a record
// header, validating the length tolerance from RFC 5246 §6.2.1.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderLength]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("record: read header: %w", err)
	}
	h := Header{
		Type:    buf[0],
		Version: binary.BigEndian.Uint16(buf[1:3]),
		Length:  binary.BigEndian.Uint16(buf[3:5]),
	}
	if h.Length > maxRecordBodyTolerance {
		return Header{}, fmt.Errorf("record: body length %d exceeds tolerance", h.Length)
	}
	return h, nil
}

// Message is a fully read TLS record: header plus body. Raw holds the
// header bytes followed by the body, ready to be forwarded verbatim.
type Message struct {
	Header Header
	Body   []byte
	Raw    []byte
}

// ReadMessage reads one full TLS record from r, reusing and growing buf as
// needed, and returns the parsed record plus the (possibly reallocated)
// buffer for the caller to reuse on the next call.
func ReadMessage(r io.Reader, buf []byte) (Message, []byte, error) {
	if cap(buf) < HeaderLength {
		buf = make([]byte, HeaderLength, HeaderLength+4096)
	}
	buf = buf[:HeaderLength]
	if _, err := io.ReadFull(r, buf); err != nil {
		return Message{}, buf, fmt.Errorf("record: read header: %w", err)
	}
	h := Header{
		Type:    buf[0],
		Version: binary.BigEndian.Uint16(buf[1:3]),
		Length:  binary.BigEndian.Uint16(buf[3:5]),
	}
	if h.Length > maxRecordBodyTolerance {
		return Message{}, buf, fmt.Errorf("record: body length %d exceeds tolerance", h.Length)
	}
	total := HeaderLength + int(h.Length)
	if cap(buf) < total {
		grown := make([]byte, total)
		copy(grown, buf)
		buf = grown
	}
	buf = buf[:total]
	if _, err := io.ReadFull(r, buf[HeaderLength:total]); err != nil {
		return Message{}, buf, fmt.Errorf("record: read body: %w", err)
	}
	return Message{Header: h, Body: buf[HeaderLength:total], Raw: buf[:total]}, buf, nil
}

// WriteMessage writes a record with the given type, version and body to w.
// Header and body go out as a single write, so each record crosses the wire
// in one piece the way a TLS stack's record layer emits it.
func WriteMessage(w io.Writer, typ byte, version uint16, body []byte) error {
	if len(body) > MaxCiphertextLength {
		return fmt.Errorf("record: body of %d bytes exceeds maximum of %d", len(body), MaxCiphertextLength)
	}
	rec := make([]byte, HeaderLength+len(body))
	rec[0] = typ
	binary.BigEndian.PutUint16(rec[1:3], version)
	binary.BigEndian.PutUint16(rec[3:5], uint16(len(body)))
	copy(rec[HeaderLength:], body)
	if _, err := w.Write(rec); err != nil {
		return fmt.Errorf("record: write record: %w", err)
	}
	return nil
}
