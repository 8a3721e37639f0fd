package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"snowytunnel/client"
	"snowytunnel/internal/record"
	"snowytunnel/server"
)

// selfSignedTLSConfig builds a throwaway ECDSA certificate for the stub
// camouflage origin. The tunnel client never verifies it.
func selfSignedTLSConfig(t *testing.T) *tls.Config {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		DNSNames:     []string{"example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: priv}},
	}
}

// startTLSCamouflage runs a real TLS origin on a loopback listener. Each
// accepted connection attempts a TLS handshake and then drains until closed;
// handshake errors are expected (the tunnel server walks away mid-handshake
// on the TLS 1.3 path) and ignored.
func startTLSCamouflage(t *testing.T, cfg *tls.Config) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				tlsConn := tls.Server(c, cfg)
				if err := tlsConn.Handshake(); err != nil {
					return
				}
				_, _ = io.Copy(io.Discard, tlsConn)
			}(conn)
		}
	}()
	return ln
}

// startTunnelServer runs a SnowyTunnel server on a loopback listener that
// echoes every byte it decrypts and reports each connection's early data.
func startTunnelServer(t *testing.T, key []byte, camouflageAddr string) (net.Listener, <-chan [16]byte) {
	t.Helper()
	srv, err := server.New(key, camouflageAddr, 16)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	earlyCh := make(chan [16]byte, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				st, early, err := srv.AcceptWithEarlyData(c)
				if err != nil {
					_ = c.Close()
					return
				}
				earlyCh <- early
				defer st.Close()
				buf := make([]byte, 4096)
				for {
					n, err := st.Read(buf)
					if err != nil {
						return
					}
					if _, err := st.Write(buf[:n]); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln, earlyCh
}

func runEcho(t *testing.T, key []byte, tunnelAddr string, earlyCh <-chan [16]byte) {
	t.Helper()
	var earlyData [16]byte
	for i := range earlyData {
		earlyData[i] = byte(i)
	}

	remote, err := net.Dial("tcp", tunnelAddr)
	if err != nil {
		t.Fatalf("dial tunnel: %v", err)
	}
	defer remote.Close()
	_ = remote.SetDeadline(time.Now().Add(15 * time.Second))

	c := client.New(key, "example.com")
	st, err := c.ConnectWithEarlyData(remote, earlyData)
	if err != nil {
		t.Fatalf("ConnectWithEarlyData: %v", err)
	}

	select {
	case got := <-earlyCh:
		if got != earlyData {
			t.Fatalf("early data = %x, want %x", got, earlyData)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server never reported early data")
	}

	if _, err := st.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 16)
	n, err := st.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("echo = %q, want %q", buf[:n], "ping")
	}
}

func TestTunnel_TLS13Path_EndToEnd(t *testing.T) {
	key := []byte("hunter2")
	cam := startTLSCamouflage(t, selfSignedTLSConfig(t))
	defer cam.Close()

	tunnel, earlyCh := startTunnelServer(t, key, cam.Addr().String())
	defer tunnel.Close()

	runEcho(t, key, tunnel.Addr().String(), earlyCh)
}

func TestTunnel_TLS12FullPath_EndToEnd(t *testing.T) {
	key := []byte("hunter2")
	cfg := selfSignedTLSConfig(t)
	cfg.MinVersion = tls.VersionTLS12
	cfg.MaxVersion = tls.VersionTLS12
	cam := startTLSCamouflage(t, cfg)
	defer cam.Close()

	tunnel, earlyCh := startTunnelServer(t, key, cam.Addr().String())
	defer tunnel.Close()

	runEcho(t, key, tunnel.Addr().String(), earlyCh)
}

func TestTunnel_TLS12ResumedPath_EndToEnd(t *testing.T) {
	key := []byte("hunter2")

	// A scripted camouflage origin that always pretends to resume: it
	// echoes the ClientHello's session_id back in a TLS 1.2 ServerHello,
	// then sends CCS and a stand-in encrypted Finished. The tunnel server
	// rewrites the random and the Finished head with pong in flight.
	cam, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer cam.Close()
	go func() {
		for {
			conn, err := cam.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				msg, _, err := record.ReadMessage(c, nil)
				if err != nil {
					return
				}
				ch, err := record.ParseHello(msg.Body)
				if err != nil {
					return
				}
				sh := resumedServerHello(ch.SessionID)
				if _, err := c.Write(sh); err != nil {
					return
				}
				if err := record.WriteMessage(c, record.TypeChangeCipherSpec, record.VersionTLS12, []byte{0x01}); err != nil {
					return
				}
				finished := make([]byte, 40)
				_, _ = rand.Read(finished)
				if err := record.WriteMessage(c, record.TypeHandshake, record.VersionTLS12, finished); err != nil {
					return
				}
				_, _ = io.Copy(io.Discard, c)
			}(conn)
		}
	}()

	tunnel, earlyCh := startTunnelServer(t, key, cam.Addr().String())
	defer tunnel.Close()

	runEcho(t, key, tunnel.Addr().String(), earlyCh)
}

// resumedServerHello builds a minimal TLS 1.2 ServerHello record echoing
// sessionID, the abbreviated-handshake shape.
func resumedServerHello(sessionID []byte) []byte {
	body := make([]byte, 0, 2+32+1+len(sessionID)+2+1+2)
	body = append(body, 0x03, 0x03)
	random := make([]byte, 32)
	_, _ = rand.Read(random)
	body = append(body, random...)
	body = append(body, byte(len(sessionID)))
	body = append(body, sessionID...)
	body = append(body, 0xC0, 0x2F) // cipher_suite
	body = append(body, 0x00)       // compression_method
	body = append(body, 0x00, 0x00) // empty extensions block

	hs := make([]byte, 4+len(body))
	hs[0] = record.HandshakeServerHello
	l := len(body)
	hs[1], hs[2], hs[3] = byte(l>>16), byte(l>>8), byte(l)
	copy(hs[4:], body)

	out := make([]byte, record.HeaderLength+len(hs))
	out[0] = record.TypeHandshake
	out[1], out[2] = 0x03, 0x03
	out[3] = byte(len(hs) >> 8)
	out[4] = byte(len(hs))
	copy(out[5:], hs)
	return out
}
