// Package totp implements the time-windowed binder that ties a ClientHello
// to a narrow wall-clock window without the two parties ever exchanging a
// timestamp on the wire. It is deliberately not RFC 6238: there is no
// base32 secret, no fixed digest truncation scheme. A token is
// HMAC(key, data || be64(step)) truncated to N bytes, where key is the
// secret passed to New. The client and server pass the raw user key, not
// the derived PSK of the psk package.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"time"
)

// Totp signs and verifies time steps derived from a PSK.
type Totp struct {
	key    []byte
	period time.Duration
	skew   int
}

// New builds a Totp keyed by key, stepping every period seconds and
// tolerating up to skew steps of clock drift in either direction.
func New(key []byte, periodSeconds int, skew int) Totp {
	return Totp{
		key:    append([]byte(nil), key...),
		period: time.Duration(periodSeconds) * time.Second,
		skew:   skew,
	}
}

func (t Totp) step(when time.Time) int64 {
	return when.Unix() / int64(t.period/time.Second)
}

// sign computes HMAC-SHA1(key, data || be64(step)), truncated to n bytes.
func (t Totp) sign(data []byte, step int64, n int) []byte {
	mac := hmac.New(sha1.New, t.key)
	_, _ = mac.Write(data)
	var stepBuf [8]byte
	binary.BigEndian.PutUint64(stepBuf[:], uint64(step))
	_, _ = mac.Write(stepBuf[:])
	sum := mac.Sum(nil)
	if n > len(sum) {
		n = len(sum)
	}
	return sum[:n]
}

// GenerateCurrent signs the empty message at the current time step,
// truncated to n bytes. It is the token the client XORs into the tail of
// the ping.
func (t Totp) GenerateCurrent(n int) []byte {
	return t.sign(nil, t.step(time.Now()), n)
}

// GenerateAt signs the empty message at the step containing when, truncated
// to n bytes. It exists so a caller can stand in for a peer whose clock is
// offset from ours by a known amount.
func (t Totp) GenerateAt(when time.Time, n int) []byte {
	return t.sign(nil, t.step(when), n)
}

// SignCurrent signs arbitrary data at the current time step, truncated to
// n bytes. Exposed for callers that want to bind a token to more than wall
// clock time; unused by the ping/pong flow, which relies on GenerateCurrent.
func (t Totp) SignCurrent(data []byte, n int) []byte {
	return t.sign(data, t.step(time.Now()), n)
}

// GenerateCurrentSkewed yields 2*skew+1 tokens of n bytes each for steps
// now, now+1, now-1, now+2, now-2, ... so that the common case (no clock
// drift) is checked first.
func (t Totp) GenerateCurrentSkewed(n int) [][]byte {
	current := t.step(time.Now())
	tokens := make([][]byte, 0, 2*t.skew+1)
	tokens = append(tokens, t.sign(nil, current, n))
	for d := 1; d <= t.skew; d++ {
		tokens = append(tokens, t.sign(nil, current+int64(d), n))
		tokens = append(tokens, t.sign(nil, current-int64(d), n))
	}
	return tokens
}
