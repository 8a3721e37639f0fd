// Package psk derives the 32-byte pre-shared key and the curve-point mask
// that the Noise handshake and the ephemeral-key masking are keyed from.
// The TOTP binder is not keyed from the derived PSK: client and server both
// key it with the raw user key.
package psk

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Len is the size in bytes of a derived PSK.
const Len = 32

// NoElligatorWorkaround is the constant context string mixed into the point
// mask. It has no secrecy role; it only domain-separates the mask from any
// other HMAC(PSK, ...) usage.
const NoElligatorWorkaround = "noelligator"

// Derive turns an arbitrary-length user key into a fixed 32-byte PSK via
// HKDF-SHA256 with an empty salt and the fixed info string
// "snowytunnel-psk". It is deterministic:
// the same input key always yields the same PSK.
func Derive(key []byte) [Len]byte {
	var out [Len]byte
	r := hkdf.New(sha256.New, key, nil, []byte("snowytunnel-psk"))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		// hkdf.New's Reader only fails once its output is exhausted
		// (limit is 255*hash size); a single 32-byte read never can.
		panic("psk: hkdf read failed: " + err.Error())
	}
	return out
}

// Mask computes HMAC(psk, NoElligatorWorkaround), the 32-byte value XORed
// into Noise ephemeral public keys so they don't stand out against a
// uniform-random background.
func Mask(psk [Len]byte) [32]byte {
	mac := hmac.New(sha256.New, psk[:])
	_, _ = mac.Write([]byte(NoElligatorWorkaround))
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// XOR applies mask to buf in place, repeating mask if it is shorter than
// buf. It is its own inverse: XOR(XOR(buf, m), m) == buf for any mask.
func XOR(buf []byte, mask []byte) {
	if len(mask) == 0 {
		return
	}
	for i := range buf {
		buf[i] ^= mask[i%len(mask)]
	}
}
