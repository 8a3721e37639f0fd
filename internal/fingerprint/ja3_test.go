package fingerprint

import (
	"bytes"
	"testing"

	utls "github.com/refraction-networking/utls"

	"snowytunnel/internal/noiseping"
	"snowytunnel/internal/record"
)

const chromeLikeJA3 = "771,4865-4866-4867-49195-49199-52393-52392-49196-49200-49171-49172-156-157-47-53,0-23-65281-10-11-35-16-5-13-18-51-45-43-27,29-23-24,0"

func TestParseJA3_ChromeLike(t *testing.T) {
	spec, err := ParseJA3(chromeLikeJA3, "example.com", nil)
	if err != nil {
		t.Fatalf("ParseJA3: %v", err)
	}
	if spec.HelloID != utls.HelloCustom {
		t.Fatal("a JA3-derived Spec must use the custom hello id")
	}
	if spec.CustomSpec == nil {
		t.Fatal("a JA3-derived Spec must carry a custom ClientHelloSpec")
	}
	if got := len(spec.CustomSpec.CipherSuites); got != 15 {
		t.Fatalf("cipher suites = %d, want 15", got)
	}
	if !spec.AllowALPN {
		t.Fatal("extension 16 in the JA3 must enable ALPN")
	}
	if len(spec.ALPNProtocols) == 0 || spec.ALPNProtocols[0] != "h2" {
		t.Fatalf("ALPNProtocols = %v, want the h2-first default", spec.ALPNProtocols)
	}
}

func TestParseJA3_NoALPNExtension_DisablesALPN(t *testing.T) {
	spec, err := ParseJA3("771,4865,0-10-11-43,29,0", "example.com", nil)
	if err != nil {
		t.Fatalf("ParseJA3: %v", err)
	}
	if spec.AllowALPN {
		t.Fatal("a JA3 without extension 16 must not offer ALPN")
	}
}

func TestParseJA3_RejectsMalformedStrings(t *testing.T) {
	for _, ja3 := range []string{
		"",
		"771,4865,0,29", // four fields
		"771,xyz,0,29,0",
	} {
		if _, err := ParseJA3(ja3, "example.com", nil); err == nil {
			t.Errorf("ParseJA3(%q) should have failed", ja3)
		}
	}
}

func TestBuildClientHello_JA3Spec_CarriesPing(t *testing.T) {
	spec, err := ParseJA3(chromeLikeJA3, "example.com", nil)
	if err != nil {
		t.Fatalf("ParseJA3: %v", err)
	}
	ping := bytes.Repeat([]byte{0x5C}, noiseping.PingLen)

	raw, err := BuildClientHello(spec, ping)
	if err != nil {
		t.Fatalf("BuildClientHello: %v", err)
	}
	msg, _, err := record.ReadMessage(bytes.NewReader(raw), nil)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	hello, err := record.ParseHello(msg.Body)
	if err != nil {
		t.Fatalf("ParseHello: %v", err)
	}
	gotPing, err := ExtractPing(hello)
	if err != nil {
		t.Fatalf("ExtractPing: %v", err)
	}
	if !bytes.Equal(gotPing, ping) {
		t.Fatalf("ping did not round-trip through a JA3-derived hello")
	}
}
