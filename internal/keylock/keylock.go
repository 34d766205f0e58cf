// Package keylock serializes work per string key with a fixed set of mutexes.
package keylock

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 256

// Striped maps keys onto a fixed pool of mutexes. Two keys may share a stripe;
// that only costs concurrency, never correctness.
type Striped struct {
	stripes []sync.Mutex
}

// New returns a Striped lock with n stripes (256 when n <= 0).
func New(n int) *Striped {
	if n <= 0 {
		n = defaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns its unlock func.
func (s *Striped) Lock(key string) func() {
	mu := &s.stripes[s.index(key)]
	mu.Lock()
	return mu.Unlock
}

func (s *Striped) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(s.stripes)))
}
