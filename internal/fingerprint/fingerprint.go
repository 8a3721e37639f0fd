// Package fingerprint builds and picks apart the camouflage ClientHello
// messages this protocol hides its Noise handshake inside. It leans on utls
// to produce a byte-for-byte plausible browser ClientHello, then overwrites
// the fields that are supposed to look random anyway (client_random,
// session_id) with the masked ping — the same trick the Cloak project uses
// to smuggle an authentication payload inside a real TLS fingerprint
// instead of inventing one from scratch.
package fingerprint

import (
	"encoding/binary"
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"

	"snowytunnel/internal/noiseping"
	"snowytunnel/internal/record"
)

// Spec names the browser fingerprint to imitate and the server name to
// present, i.e. the camouflage identity a ClientHello should wear.
type Spec struct {
	HelloID utls.ClientHelloID
	// CustomSpec carries a fully explicit ClientHello layout (usually
	// realized from a JA3 string by ParseJA3) and is applied when HelloID
	// is utls.HelloCustom.
	CustomSpec *utls.ClientHelloSpec
	ServerName string
	// ALPNProtocols, if non-empty, are offered only when AllowALPN is set.
	// The Chrome and Firefox presets set it; ParseJA3 sets it only when the
	// imitated JA3's extension list declares ALPN (extension 16). Without
	// it, NewConn strips ALPN from the ClientHello.
	ALPNProtocols []string
	AllowALPN     bool
}

// Chrome and Firefox are convenience Specs wrapping utls's stock
// auto-generated fingerprints.
func Chrome(serverName string) Spec {
	return Spec{HelloID: utls.HelloChrome_Auto, ServerName: serverName, ALPNProtocols: []string{"h2", "http/1.1"}, AllowALPN: true}
}

func Firefox(serverName string) Spec {
	return Spec{HelloID: utls.HelloFirefox_Auto, ServerName: serverName, ALPNProtocols: []string{"h2", "http/1.1"}, AllowALPN: true}
}

// NewConn builds a utls client over conn wearing spec's fingerprint, with
// its client_random and session_id fields overwritten to carry ping (a
// noiseping.PingLen-byte masked Noise message 1). It returns the connection
// alongside the serialized ClientHello record (5-byte header included),
// which the caller writes to the wire itself: the returned UConn is only
// driven further — via tls12.Complete — when the origin turns out to demand
// a full TLS 1.2 handshake.
//
// Certificate verification is disabled on the returned connection: the
// camouflage origin's identity is not what authenticates the tunnel (the
// PSK-bound Noise handshake is), and the client may be pointed at any
// origin the operator likes.
func NewConn(conn net.Conn, spec Spec, ping []byte) (*utls.UConn, []byte, error) {
	if len(ping) != noiseping.PingLen {
		return nil, nil, fmt.Errorf("fingerprint: ping must be %d bytes, got %d", noiseping.PingLen, len(ping))
	}

	config := &utls.Config{
		ServerName:         spec.ServerName,
		InsecureSkipVerify: true,
	}
	if spec.AllowALPN && len(spec.ALPNProtocols) > 0 {
		config.NextProtos = spec.ALPNProtocols
	}
	uconn := utls.UClient(conn, config, spec.HelloID)
	if spec.CustomSpec != nil {
		if err := uconn.ApplyPreset(spec.CustomSpec); err != nil {
			return nil, nil, fmt.Errorf("fingerprint: apply custom fingerprint: %w", err)
		}
	}
	if err := uconn.BuildHandshakeState(); err != nil {
		return nil, nil, fmt.Errorf("fingerprint: build handshake state: %w", err)
	}

	// client_random carries the first 32 bytes of the ping (the masked
	// ephemeral public key).
	if err := uconn.SetClientRandom(ping[:32]); err != nil {
		return nil, nil, fmt.Errorf("fingerprint: set client random: %w", err)
	}

	// session_id carries the remaining 32 bytes (encrypted early data +
	// AEAD tag).
	uconn.HandshakeState.Hello.SessionId = make([]byte, 32)
	copy(uconn.HandshakeState.Hello.SessionId, ping[32:64])

	if !spec.AllowALPN {
		stripALPN(uconn)
	}

	if err := uconn.BuildHandshakeState(); err != nil {
		return nil, nil, fmt.Errorf("fingerprint: rebuild handshake state: %w", err)
	}

	raw := uconn.HandshakeState.Hello.Raw
	out := make([]byte, record.HeaderLength+len(raw))
	out[0] = record.TypeHandshake
	binary.BigEndian.PutUint16(out[1:3], record.VersionTLS10)
	binary.BigEndian.PutUint16(out[3:5], uint16(len(raw)))
	copy(out[5:], raw)
	return uconn, out, nil
}

// BuildClientHello is NewConn without a live connection: it synthesizes just
// the ClientHello record bytes, for callers (and tests) that only need the
// wire image and will never drive the TLS state further.
func BuildClientHello(spec Spec, ping []byte) ([]byte, error) {
	_, out, err := NewConn(&net.TCPConn{}, spec, ping)
	return out, err
}

// stripALPN removes the ALPN extension, and the ALPS (application_settings)
// extension that names the same protocols, from a built uTLS handshake
// state, so the outgoing ClientHello offers no application protocol at all.
func stripALPN(uconn *utls.UConn) {
	filtered := uconn.Extensions[:0]
	for _, ext := range uconn.Extensions {
		switch ext.(type) {
		case *utls.ALPNExtension, *utls.ApplicationSettingsExtension:
			continue
		}
		filtered = append(filtered, ext)
	}
	uconn.Extensions = filtered
}

// ExtractPing pulls the 64-byte masked ping back out of a parsed
// ClientHello: client_random followed by session_id.
func ExtractPing(h *record.Hello) ([]byte, error) {
	if len(h.SessionID) != 32 {
		return nil, fmt.Errorf("fingerprint: session_id is %d bytes, want 32", len(h.SessionID))
	}
	ping := make([]byte, noiseping.PingLen)
	copy(ping[:32], h.Random[:])
	copy(ping[32:], h.SessionID)
	return ping, nil
}
