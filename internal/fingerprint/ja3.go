package fingerprint

import (
	"fmt"
	"strconv"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// DefaultALPNProtocols is the ALPN offer used when a JA3 fingerprint
// declares the ALPN extension but the caller supplies no explicit list.
var DefaultALPNProtocols = []string{"h2", "http/1.1"}

// ParseJA3 turns a JA3 fingerprint string
// ("version,ciphers,extensions,groups,pointformats", dash-separated decimal
// fields) into a Spec wearing exactly that cipher list and extension order.
// ALPN is offered only when the JA3's extension list itself declares
// extension 16; alpn overrides the offer (nil selects DefaultALPNProtocols).
func ParseJA3(ja3 string, serverName string, alpn []string) (Spec, error) {
	fields := strings.Split(ja3, ",")
	if len(fields) != 5 {
		return Spec{}, fmt.Errorf("fingerprint: ja3 must have 5 comma-separated fields, got %d", len(fields))
	}

	if _, err := strconv.ParseUint(fields[0], 10, 16); err != nil {
		return Spec{}, fmt.Errorf("fingerprint: ja3 version: %w", err)
	}
	ciphers, err := parseJA3List16(fields[1])
	if err != nil {
		return Spec{}, fmt.Errorf("fingerprint: ja3 cipher suites: %w", err)
	}
	extIDs, err := parseJA3List16(fields[2])
	if err != nil {
		return Spec{}, fmt.Errorf("fingerprint: ja3 extensions: %w", err)
	}
	groupIDs, err := parseJA3List16(fields[3])
	if err != nil {
		return Spec{}, fmt.Errorf("fingerprint: ja3 groups: %w", err)
	}
	points, err := parseJA3List8(fields[4])
	if err != nil {
		return Spec{}, fmt.Errorf("fingerprint: ja3 point formats: %w", err)
	}

	if alpn == nil {
		alpn = DefaultALPNProtocols
	}
	allowALPN := false
	for _, id := range extIDs {
		if id == 16 {
			allowALPN = true
		}
	}

	curves := make([]utls.CurveID, len(groupIDs))
	for i, g := range groupIDs {
		curves[i] = utls.CurveID(g)
	}

	spec := &utls.ClientHelloSpec{
		CipherSuites:       ciphers,
		CompressionMethods: []uint8{0x00},
		Extensions:         make([]utls.TLSExtension, 0, len(extIDs)),
	}
	for _, id := range extIDs {
		ext := extensionForJA3ID(id, curves, points, alpn)
		if ext != nil {
			spec.Extensions = append(spec.Extensions, ext)
		}
	}

	return Spec{
		HelloID:       utls.HelloCustom,
		CustomSpec:    spec,
		ServerName:    serverName,
		ALPNProtocols: alpn,
		AllowALPN:     allowALPN,
	}, nil
}

// extensionForJA3ID realizes one JA3 extension ID as a concrete utls
// extension. IDs whose payload cannot be synthesized from a bare JA3 (ECH,
// pre_shared_key) are dropped; unknown IDs become empty generic extensions
// so the on-wire extension order still matches the fingerprint.
func extensionForJA3ID(id uint16, curves []utls.CurveID, points []uint8, alpn []string) utls.TLSExtension {
	switch id {
	case 0:
		return &utls.SNIExtension{}
	case 5:
		return &utls.StatusRequestExtension{}
	case 10:
		return &utls.SupportedCurvesExtension{Curves: curves}
	case 11:
		return &utls.SupportedPointsExtension{SupportedPoints: points}
	case 13:
		return &utls.SignatureAlgorithmsExtension{SupportedSignatureAlgorithms: []utls.SignatureScheme{
			utls.ECDSAWithP256AndSHA256,
			utls.PSSWithSHA256,
			utls.PKCS1WithSHA256,
			utls.ECDSAWithP384AndSHA384,
			utls.PSSWithSHA384,
			utls.PKCS1WithSHA384,
			utls.PSSWithSHA512,
			utls.PKCS1WithSHA512,
		}}
	case 16:
		return &utls.ALPNExtension{AlpnProtocols: alpn}
	case 18:
		return &utls.SCTExtension{}
	case 21:
		return &utls.UtlsPaddingExtension{GetPaddingLen: utls.BoringPaddingStyle}
	case 23:
		return &utls.ExtendedMasterSecretExtension{}
	case 27:
		return &utls.UtlsCompressCertExtension{Algorithms: []utls.CertCompressionAlgo{utls.CertCompressionBrotli}}
	case 35:
		return &utls.SessionTicketExtension{}
	case 43:
		return &utls.SupportedVersionsExtension{Versions: []uint16{utls.VersionTLS13, utls.VersionTLS12}}
	case 45:
		return &utls.PSKKeyExchangeModesExtension{Modes: []uint8{utls.PskModeDHE}}
	case 51:
		return &utls.KeyShareExtension{KeyShares: []utls.KeyShare{{Group: utls.X25519}}}
	case 17513:
		return &utls.ApplicationSettingsExtension{SupportedProtocols: alpn}
	case 65281:
		return &utls.RenegotiationInfoExtension{Renegotiation: utls.RenegotiateOnceAsClient}
	case 41, 65037:
		// pre_shared_key and ECH carry state a bare JA3 cannot supply.
		return nil
	default:
		return &utls.GenericExtension{Id: id}
	}
}

func parseJA3List16(field string) ([]uint16, error) {
	if field == "" {
		return nil, nil
	}
	parts := strings.Split(field, "-")
	out := make([]uint16, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", p, err)
		}
		out = append(out, uint16(v))
	}
	return out, nil
}

func parseJA3List8(field string) ([]uint8, error) {
	if field == "" {
		return nil, nil
	}
	parts := strings.Split(field, "-")
	out := make([]uint8, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", p, err)
		}
		out = append(out, uint8(v))
	}
	return out, nil
}
