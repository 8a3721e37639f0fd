// Package replay implements the server's defence against a captured ping
// being replayed by a third party: a small LRU cache of ephemeral public
// keys already seen, each bound to the address that first presented it.
package replay

import (
	"net"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Key is the unmasked 32-byte Noise ephemeral public key carried in a ping,
// used as the replay cache's identity for that handshake attempt.
type Key [32]byte

// Filter is a size-bounded, concurrency-safe record of recently seen
// ephemeral keys. It answers one question: has this exact ephemeral already
// been used, and if so, by whom?
type Filter struct {
	mu    sync.Mutex
	cache *lru.Cache[Key, net.Addr]
}

// New builds a Filter retaining up to capacity entries, evicting the least
// recently used once full.
func New(capacity int) (*Filter, error) {
	cache, err := lru.New[Key, net.Addr](capacity)
	if err != nil {
		return nil, err
	}
	return &Filter{cache: cache}, nil
}

// CheckAndInsert records key as having been presented by addr. If key has
// not been seen before, it returns (addr, false) — this is a fresh attempt.
// If key has been seen before, it returns the address that first presented
// it and true, leaving the cache's record of the original address intact
// (a replay does not let the replaying address adopt the slot).
func (f *Filter) CheckAndInsert(key Key, addr net.Addr) (first net.Addr, replay bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.cache.Get(key); ok {
		return existing, true
	}
	f.cache.Add(key, addr)
	return addr, false
}

// Len reports the number of distinct ephemeral keys currently tracked.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache.Len()
}
