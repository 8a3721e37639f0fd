package record

import (
	"encoding/binary"
	"fmt"
)

// Hello is the subset of a ClientHello or ServerHello body this repo cares
// about: the legacy version, the 32-byte random, the session_id the peer
// echoed or chose, and (for a ServerHello) the negotiated version pulled out
// of the supported_versions extension when TLS 1.3 is in play. Raw retains
// the full handshake body so it can be forwarded byte-for-byte.
type Hello struct {
	HandshakeType byte
	LegacyVersion uint16
	Random        [32]byte
	SessionID     []byte
	// NegotiatedVersion is LegacyVersion unless a supported_versions
	// extension (type 43) overrides it, which TLS 1.3 ServerHellos always
	// carry since their legacy_version field is pinned to 0x0303.
	NegotiatedVersion uint16
	Raw               []byte
}

const extensionSupportedVersions = 43

// ParseHello parses a ClientHello or ServerHello handshake message body
// (the bytes following the 5-byte record header when record type is
// TypeHandshake), extracting the fields this protocol inspects or rewrites.
func ParseHello(body []byte) (*Hello, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("record: handshake body too short (%d bytes)", len(body))
	}
	msgType := body[0]
	if msgType != HandshakeClientHello && msgType != HandshakeServerHello {
		return nil, fmt.Errorf("record: unsupported handshake message type %d", msgType)
	}
	msgLen := int(body[1])<<16 | int(body[2])<<8 | int(body[3])
	if 4+msgLen > len(body) {
		return nil, fmt.Errorf("record: handshake length %d exceeds body of %d bytes", msgLen, len(body))
	}
	b := body[4 : 4+msgLen]

	if len(b) < 2+32+1 {
		return nil, fmt.Errorf("record: hello body too short")
	}
	h := &Hello{HandshakeType: msgType, Raw: body}
	h.LegacyVersion = binary.BigEndian.Uint16(b[0:2])
	h.NegotiatedVersion = h.LegacyVersion
	copy(h.Random[:], b[2:34])
	pos := 34

	sidLen := int(b[pos])
	pos++
	if pos+sidLen > len(b) {
		return nil, fmt.Errorf("record: session_id overruns hello body")
	}
	h.SessionID = append([]byte(nil), b[pos:pos+sidLen]...)
	pos += sidLen

	if msgType == HandshakeClientHello {
		if pos+2 > len(b) {
			return nil, fmt.Errorf("record: client hello missing cipher suites")
		}
		csLen := int(binary.BigEndian.Uint16(b[pos : pos+2]))
		pos += 2 + csLen
		if pos+1 > len(b) {
			return nil, fmt.Errorf("record: client hello missing compression methods")
		}
		cmLen := int(b[pos])
		pos += 1 + cmLen
	} else {
		if pos+2+1 > len(b) {
			return nil, fmt.Errorf("record: server hello missing cipher suite/compression")
		}
		pos += 2 + 1
	}

	if pos == len(b) {
		return h, nil
	}
	if pos+2 > len(b) {
		return nil, fmt.Errorf("record: hello has trailing bytes but no extensions length")
	}
	extTotal := int(binary.BigEndian.Uint16(b[pos : pos+2]))
	pos += 2
	if pos+extTotal > len(b) {
		return nil, fmt.Errorf("record: extensions overrun hello body")
	}
	exts := b[pos : pos+extTotal]

	for len(exts) >= 4 {
		extType := binary.BigEndian.Uint16(exts[0:2])
		extLen := int(binary.BigEndian.Uint16(exts[2:4]))
		if 4+extLen > len(exts) {
			return nil, fmt.Errorf("record: extension %d overruns extensions block", extType)
		}
		extBody := exts[4 : 4+extLen]
		if extType == extensionSupportedVersions && msgType == HandshakeServerHello && len(extBody) >= 2 {
			h.NegotiatedVersion = binary.BigEndian.Uint16(extBody[0:2])
		}
		exts = exts[4+extLen:]
	}

	return h, nil
}

// IsTLS13 reports whether the negotiated version of a ServerHello is
// TLS 1.3, i.e. whether the session never falls back to the simulated
// TLS 1.2 handshake tail this protocol relies on for camouflage.
func (h *Hello) IsTLS13() bool { return h.NegotiatedVersion == VersionTLS13 }
