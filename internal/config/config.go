// Package config loads and validates the JSON configuration files for both
// sides of a tunnel: a configuration is read with its zero values for
// anything the user omitted, then defaulted, then validated before it is
// trusted.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// FingerprintName selects a browser ClientHello fingerprint to imitate.
type FingerprintName string

const (
	FingerprintChrome  FingerprintName = "chrome"
	FingerprintFirefox FingerprintName = "firefox"
)

// TOTPSettings controls the time-windowed PSK binder.
type TOTPSettings struct {
	PeriodSeconds int `json:"PeriodSeconds"`
	Skew          int `json:"Skew"`
}

// ClientConfiguration is the JSON-loadable configuration for the initiating
// side of a tunnel.
type ClientConfiguration struct {
	// PreSharedKey is the shared secret both sides derive their Noise PSK
	// and point mask from. It is stored as the raw user-supplied key
	// material, not the derived 32-byte PSK itself.
	PreSharedKey string `json:"PreSharedKey"`
	// ServerAddress is where the SnowyTunnel server listens.
	ServerAddress string `json:"ServerAddress"`
	// CamouflageServerName is the SNI presented in the ClientHello; it
	// should match a real, independently reachable HTTPS origin.
	CamouflageServerName string          `json:"CamouflageServerName"`
	Fingerprint          FingerprintName `json:"Fingerprint"`
	// JA3, if set, overrides Fingerprint with an explicit JA3 fingerprint
	// string ("version,ciphers,extensions,groups,pointformats").
	JA3  string       `json:"JA3"`
	TOTP TOTPSettings `json:"TOTP"`
	// ListenAddress is where the client accepts local plaintext TCP
	// connections, each relayed as-is over its own tunnel connection. The
	// client refuses to run when it is empty.
	ListenAddress string `json:"ListenAddress"`
}

// ServerConfiguration is the JSON-loadable configuration for the responding
// side of a tunnel.
type ServerConfiguration struct {
	PreSharedKey string `json:"PreSharedKey"`
	// ListenAddress is where the server accepts incoming tunnel
	// connections.
	ListenAddress string `json:"ListenAddress"`
	// CamouflageAddress is the real HTTPS origin the server forwards an
	// authenticated connection's ClientHello to, relaying the live TLS 1.2
	// handshake tail against it when one is negotiated. Unauthenticated or
	// replayed connections are closed, not proxied to it.
	CamouflageAddress string       `json:"CamouflageAddress"`
	TOTP              TOTPSettings `json:"TOTP"`
	// ReplayCacheCapacity bounds the number of distinct ephemeral keys
	// tracked for replay detection.
	ReplayCacheCapacity int `json:"ReplayCacheCapacity"`
	// ForwardAddress is the plaintext backend a successfully authenticated
	// tunnel's decrypted payload is relayed to. This plumbing point is the
	// server-side half of the "optional front-end" the distilled spec
	// marks out of scope for the core (§1); the core only needs somewhere
	// to hand the plaintext stream so the binary is runnable end to end.
	ForwardAddress string `json:"ForwardAddress"`
}

const (
	defaultTOTPPeriodSeconds  = 60
	defaultTOTPSkew           = 2
	defaultReplayCacheEntries = 4096
)

// NewDefaultClientConfiguration returns a ClientConfiguration with every
// field defaulted except the ones only the user can supply (PreSharedKey,
// ServerAddress, CamouflageServerName).
func NewDefaultClientConfiguration() *ClientConfiguration {
	c := &ClientConfiguration{Fingerprint: FingerprintChrome}
	return c.EnsureDefaults()
}

// EnsureDefaults fills in zero-valued optional fields with their defaults
// and returns c for chaining.
func (c *ClientConfiguration) EnsureDefaults() *ClientConfiguration {
	if c.Fingerprint == "" {
		c.Fingerprint = FingerprintChrome
	}
	if c.TOTP.PeriodSeconds == 0 {
		c.TOTP.PeriodSeconds = defaultTOTPPeriodSeconds
	}
	if c.TOTP.Skew == 0 {
		c.TOTP.Skew = defaultTOTPSkew
	}
	return c
}

// Validate reports whether c is usable as-is, after EnsureDefaults.
func (c *ClientConfiguration) Validate() error {
	if c.PreSharedKey == "" {
		return fmt.Errorf("invalid 'PreSharedKey': must not be empty")
	}
	if c.ServerAddress == "" {
		return fmt.Errorf("invalid 'ServerAddress': must not be empty")
	}
	if c.CamouflageServerName == "" {
		return fmt.Errorf("invalid 'CamouflageServerName': must not be empty")
	}
	switch c.Fingerprint {
	case FingerprintChrome, FingerprintFirefox:
	default:
		return fmt.Errorf("invalid 'Fingerprint': %q is not one of chrome, firefox", c.Fingerprint)
	}
	if err := validateTOTP(c.TOTP); err != nil {
		return err
	}
	return nil
}

// NewDefaultServerConfiguration returns a ServerConfiguration with every
// optional field defaulted.
func NewDefaultServerConfiguration() *ServerConfiguration {
	c := &ServerConfiguration{}
	return c.EnsureDefaults()
}

func (c *ServerConfiguration) EnsureDefaults() *ServerConfiguration {
	if c.TOTP.PeriodSeconds == 0 {
		c.TOTP.PeriodSeconds = defaultTOTPPeriodSeconds
	}
	if c.TOTP.Skew == 0 {
		c.TOTP.Skew = defaultTOTPSkew
	}
	if c.ReplayCacheCapacity == 0 {
		c.ReplayCacheCapacity = defaultReplayCacheEntries
	}
	return c
}

func (c *ServerConfiguration) Validate() error {
	if c.PreSharedKey == "" {
		return fmt.Errorf("invalid 'PreSharedKey': must not be empty")
	}
	if c.ListenAddress == "" {
		return fmt.Errorf("invalid 'ListenAddress': must not be empty")
	}
	if c.CamouflageAddress == "" {
		return fmt.Errorf("invalid 'CamouflageAddress': must not be empty")
	}
	if c.ReplayCacheCapacity <= 0 {
		return fmt.Errorf("invalid 'ReplayCacheCapacity': must be positive, got %d", c.ReplayCacheCapacity)
	}
	if c.ForwardAddress == "" {
		return fmt.Errorf("invalid 'ForwardAddress': must not be empty")
	}
	return validateTOTP(c.TOTP)
}

func validateTOTP(t TOTPSettings) error {
	if t.PeriodSeconds <= 0 {
		return fmt.Errorf("invalid 'TOTP.PeriodSeconds': must be positive, got %d", t.PeriodSeconds)
	}
	if t.Skew < 0 {
		return fmt.Errorf("invalid 'TOTP.Skew': must not be negative, got %d", t.Skew)
	}
	return nil
}

// LoadClient reads and parses a ClientConfiguration from path, applies
// defaults and validates the result.
func LoadClient(path string) (*ClientConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c := &ClientConfiguration{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.EnsureDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

// LoadServer reads and parses a ServerConfiguration from path, applies
// defaults and validates the result.
func LoadServer(path string) (*ServerConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c := &ServerConfiguration{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.EnsureDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}
