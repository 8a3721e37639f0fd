package record

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Dummy record length bounds shared by both sides of the handshake: a
// uniformly random length in [108, 908) keeps the padding records' length
// histogram plausibly HTTP-ish without a fixed fingerprint.
const (
	DummyBodyMinLen = 108
	DummyBodyMaxLen = 908
)

// RandomDummyBody returns a buffer of uniformly random length in
// [DummyBodyMinLen, DummyBodyMaxLen) filled entirely with random bytes, used
// by both the client's FULL12 dummy record and the server's pong-carrying
// application_data record so neither side's padding has a fixed fingerprint.
func RandomDummyBody() ([]byte, error) {
	span := big.NewInt(DummyBodyMaxLen - DummyBodyMinLen)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return nil, fmt.Errorf("record: generate dummy length: %w", err)
	}
	body := make([]byte, DummyBodyMinLen+int(n.Int64()))
	if _, err := rand.Read(body); err != nil {
		return nil, fmt.Errorf("record: fill dummy body: %w", err)
	}
	return body, nil
}
