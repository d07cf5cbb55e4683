// Package regionmap implements the region runtime map: a lazily-built,
// per-region mapping from region offset to append cursor and recovery
// status (spec section 4.4).
package regionmap

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/karczex-2nd/pmemstream/internal/pmem"
	"github.com/karczex-2nd/pmemstream/internal/span"
	"github.com/karczex-2nd/pmemstream/internal/streamerr"
)

// RecoveryState is the three-state machine guarding concurrent recovery
// of a single region: not_recovered -> recovery_in_progress -> recovered.
type RecoveryState int32

const (
	NotRecovered RecoveryState = iota
	RecoveryInProgress
	Recovered
)

func (s RecoveryState) String() string {
	switch s {
	case NotRecovered:
		return "not_recovered"
	case RecoveryInProgress:
		return "recovery_in_progress"
	case Recovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// Runtime holds the lazily-recovered state for a single region: its
// append cursor and recovery status. AppendOffset is only meaningful
// once state has reached Recovered.
type Runtime struct {
	Offset     uint64
	DataOffset uint64
	DataEnd    uint64

	AppendOffset atomic.Uint64
	state        atomic.Int32

	// TornAt records the offset recovery stopped at due to a popcount
	// mismatch (a torn write) or a span header that could not be decoded,
	// or 0 if recovery found no corruption.
	// Observable recovery status per spec section 4.6.
	TornAt atomic.Uint64

	// FlushedOffset tracks how far the persister has already flushed this
	// region's data bytes; the persister only re-flushes
	// [FlushedOffset, AppendOffset) on each pass (spec Open Question (a)).
	FlushedOffset atomic.Uint64
}

// Status returns the region's current recovery state.
func (r *Runtime) Status() RecoveryState {
	return RecoveryState(r.state.Load())
}

// Map is the lazy region_offset -> Runtime mapping. Entries are created
// on first access and recovered (by exactly one caller, with others
// waiting) before their append cursor may be used.
type Map struct {
	mu      sync.Mutex
	regions map[uint64]*Runtime
}

// New creates an empty region runtime map.
func New() *Map {
	return &Map{regions: map[uint64]*Runtime{}}
}

// GetOrCreate returns the Runtime for regionOffset, creating one in
// NotRecovered state if this is the first access.
func (m *Map) GetOrCreate(regionOffset, dataOffset, dataEnd uint64) *Runtime {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rt, ok := m.regions[regionOffset]; ok {
		return rt
	}
	rt := &Runtime{Offset: regionOffset, DataOffset: dataOffset, DataEnd: dataEnd}
	rt.FlushedOffset.Store(dataOffset)
	m.regions[regionOffset] = rt
	return rt
}

// Range calls f for every region runtime currently tracked. f must not
// call back into the Map.
func (m *Map) Range(f func(rt *Runtime)) {
	m.mu.Lock()
	regions := make([]*Runtime, 0, len(m.regions))
	for _, rt := range m.regions {
		regions = append(regions, rt)
	}
	m.mu.Unlock()

	for _, rt := range regions {
		f(rt)
	}
}

// spinBackoff bounds the wait for a concurrent recovery to finish.
const (
	spinAttempts  = 1000
	spinSleepUnit = 50 * time.Microsecond
)

// Recover ensures rt has been scanned and its append cursor established.
// Exactly one caller (the one that wins the not_recovered -> in_progress
// transition) performs the scan; others spin-wait (bounded) until the
// state reaches Recovered.
//
// The scan walks entry spans from rt.DataOffset, recomputing each
// payload's popcount and comparing it to the span's stored popcount. The
// first empty span, malformed span, or popcount mismatch ends the scan;
// AppendOffset is set to that point (spec: "torn write" truncation).
func Recover(runtime pmem.Runtime, rt *Runtime) error {
	if !rt.state.CompareAndSwap(int32(NotRecovered), int32(RecoveryInProgress)) {
		return waitRecovered(rt)
	}

	offset := rt.DataOffset
	for offset < rt.DataEnd {
		spanRT, err := span.GetRuntime(runtime, offset)
		if err != nil {
			rt.TornAt.Store(offset)
			break
		}
		if spanRT.Type != span.TagEntry {
			break // empty span (or unexpected region span): append point found
		}

		data := runtime.Bytes()
		payload := data[spanRT.DataOffset : spanRT.DataOffset+spanRT.DataSize]
		if span.PopcountBytes(payload) != spanRT.Popcount {
			rt.TornAt.Store(offset)
			break
		}

		offset += spanRT.TotalSize
	}

	rt.AppendOffset.Store(offset)
	rt.state.Store(int32(Recovered)) // release: publish append cursor + status
	return nil
}

func waitRecovered(rt *Runtime) error {
	for i := 0; i < spinAttempts; i++ {
		if rt.Status() == Recovered {
			return nil
		}
		time.Sleep(spinSleepUnit)
	}
	return streamerr.ErrIO
}

// Destroy removes regionOffset from the map, e.g. when its region is
// freed by the allocator.
func (m *Map) Destroy(regionOffset uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regions, regionOffset)
}

// Len returns the number of region runtimes currently tracked (recovered
// or not).
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regions)
}
