// Package threadid implements the external producer-id allocator the
// stream core uses to map calling goroutines to a stable small integer in
// [0, MaxConcurrency) (spec section 4.5). It is explicitly named as an
// external collaborator in the spec's scope (section 1) — this is a
// minimal, named-interface implementation rather than true thread-local
// storage, which Go does not expose.
package threadid

import (
	"sync"

	"github.com/karczex-2nd/pmemstream/internal/streamerr"
)

// Allocator hands out small integer ids from a fixed pool. Callers
// Acquire an id before producing into the ring and Release it when done
// (typically via defer), mirroring the original implementation's
// thread-exit release semantics without relying on actual thread
// lifetime, which Go's goroutines don't expose.
type Allocator struct {
	mu   sync.Mutex
	free []uint64 // stack of available ids, LIFO reuse
	max  uint64
}

// New creates an allocator handing out ids in [0, maxConcurrency).
func New(maxConcurrency uint64) (*Allocator, error) {
	if maxConcurrency == 0 {
		return nil, streamerr.ErrInvalidArg
	}
	free := make([]uint64, maxConcurrency)
	for i := range free {
		free[i] = maxConcurrency - 1 - uint64(i) // pop low ids first
	}
	return &Allocator{free: free, max: maxConcurrency}, nil
}

// Acquire reserves an id for the calling goroutine. Returns ErrNoSpace if
// all ids are currently in use.
func (a *Allocator) Acquire() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.free) == 0 {
		return 0, streamerr.ErrNoSpace
	}
	id := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	return id, nil
}

// Release returns id to the pool.
func (a *Allocator) Release(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = append(a.free, id)
}

// MaxConcurrency returns the pool's configured capacity.
func (a *Allocator) MaxConcurrency() uint64 { return a.max }
