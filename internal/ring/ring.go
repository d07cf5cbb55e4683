// Package ring implements the MPMC timestamp ring: a fixed-capacity,
// lock-free, multi-producer/multi-consumer ordered queue that arbitrates
// commit order (spec section 4.3). It is a direct port of the original
// implementation's mpmc_queue (original_source/src/mpmc_queue.h) onto
// Go's sync/atomic primitives.
package ring

import (
	"sync/atomic"

	"github.com/karczex-2nd/pmemstream/internal/streamerr"
)

// OffsetMax is both the "idle" sentinel stored in a producer's slot
// (treated as +infinity when computing the minimum active offset) and the
// value Acquire returns on overflow — exactly as in the original queue,
// which reuses UINT64_MAX for both meanings.
const OffsetMax = ^uint64(0)

// MaxProducers is the hard cap on concurrently registered producers
// (spec 4.3 and DESIGN NOTES, "Thread-id capacity"): Consume's min-over-
// active-slots scan must stay bounded, and 64 is the constant chosen.
const MaxProducers = 64

// Ring is a lock-free, bounded, multi-producer/multi-consumer queue of
// timestamp reservations. Producers call Acquire to reserve a range,
// Produce to publish it; consumers call Consume to advance the
// contiguously-ready prefix.
type Ring struct {
	size     uint64 // capacity: max in-flight timestamps
	granted  atomic.Uint64
	consumed atomic.Uint64
	slots    []atomic.Uint64 // per-producer reserved offset, or OffsetMax if idle
}

// New creates a ring for up to numProducers producers (<= MaxProducers)
// with the given in-flight capacity.
func New(numProducers, size uint64) (*Ring, error) {
	if numProducers == 0 || numProducers > MaxProducers || size == 0 {
		return nil, streamerr.ErrInvalidArg
	}
	r := &Ring{size: size, slots: make([]atomic.Uint64, numProducers)}
	for i := range r.slots {
		r.slots[i].Store(OffsetMax)
	}
	return r, nil
}

// Acquire reserves a range of `size` offsets for producerID. On success it
// publishes the reserved start offset into the producer's slot (so
// Consume can see it is active) and returns that offset. On overflow — no
// room within the ring's capacity — it rolls the reservation back and
// returns OffsetMax; the caller should retry.
func (r *Ring) Acquire(producerID uint64, size uint64) uint64 {
	offset := r.granted.Add(size) - size

	if offset+size > r.consumed.Load()+r.size {
		r.granted.Add(^(size - 1)) // roll back: equivalent to Add(-size)
		return OffsetMax
	}

	r.slots[producerID].Store(offset) // release: publish the reservation
	return offset
}

// Produce clears producerID's slot back to idle, signaling that the range
// it acquired is ready for consumers. Must be called exactly once per
// successful Acquire, even if the caller's own write subsequently failed
// (spec section 5: an unpublished slot stalls the ring indefinitely).
func (r *Ring) Produce(producerID uint64) {
	r.slots[producerID].Store(OffsetMax) // release
}

// Consume computes the contiguous ready prefix across producer slots
// [0, maxProducerID] and advances consumed accordingly. It returns the
// offset the prefix started at (readyOffset) and how many offsets were
// consumed (0 if nothing new is ready — readyOffset is still set to the
// current consumed cursor in that case).
func (r *Ring) Consume(maxProducerID uint64) (readyOffset uint64, count uint64) {
	// Bound the ready prefix by what has actually been handed out — an
	// idle slot means "nothing reserved past here", not "infinity". The
	// original queue bounds this same min by granted_offset.
	minActive := r.granted.Load()
	for i := uint64(0); i <= maxProducerID && i < uint64(len(r.slots)); i++ {
		if v := r.slots[i].Load(); v < minActive { // acquire
			minActive = v
		}
	}

	for {
		old := r.consumed.Load()
		if minActive <= old {
			return old, 0
		}
		if r.consumed.CompareAndSwap(old, minActive) {
			return old, minActive - old
		}
		// Another consumer advanced consumed concurrently; re-check
		// against the (unchanged) minActive snapshot.
	}
}

// GetConsumedOffset returns the current consumed cursor (acquire-load).
func (r *Ring) GetConsumedOffset() uint64 {
	return r.consumed.Load()
}

// Reset rewinds both global cursors to offset and clears all producer
// slots to idle. Not safe for concurrent use with Acquire/Produce/Consume
// — callers use this only during initialization or recovery.
func (r *Ring) Reset(offset uint64) {
	r.granted.Store(offset)
	r.consumed.Store(offset)
	for i := range r.slots {
		r.slots[i].Store(OffsetMax)
	}
}

// Snapshot is a diagnostic, point-in-time copy of the ring's cursors and
// producer slots. It mirrors the original implementation's
// mpmc_queue_copy, which the original source documents as "used for
// testing".
type Snapshot struct {
	Granted  uint64
	Consumed uint64
	Slots    []uint64
}

// Snapshot returns a value copy of the ring's current state. It is not
// atomic as a whole (individual fields are read independently) but each
// field is read with the same ordering Consume/Acquire use.
func (r *Ring) Snapshot() Snapshot {
	slots := make([]uint64, len(r.slots))
	for i := range r.slots {
		slots[i] = r.slots[i].Load()
	}
	return Snapshot{
		Granted:  r.granted.Load(),
		Consumed: r.consumed.Load(),
		Slots:    slots,
	}
}

// Size returns the ring's configured in-flight capacity.
func (r *Ring) Size() uint64 { return r.size }

// NumProducers returns the number of producer slots the ring was created
// with.
func (r *Ring) NumProducers() uint64 { return uint64(len(r.slots)) }
