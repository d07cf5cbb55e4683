// Package stream implements the stream core (spec section 4.5): it binds
// the span codec, region allocator, timestamp ring, and region runtime
// map to drive append, publish, persist, and recover.
//
// This is an internal contract, not the public user-facing API surface —
// iterator convenience wrappers and the ergonomic entry points a caller
// would actually use live in pkg/pmemstream, which is intentionally thin.
package stream

import (
	"time"

	"github.com/google/uuid"

	"github.com/karczex-2nd/pmemstream/internal/pmem"
	"github.com/karczex-2nd/pmemstream/internal/region"
	"github.com/karczex-2nd/pmemstream/internal/regionmap"
	"github.com/karczex-2nd/pmemstream/internal/ring"
	"github.com/karczex-2nd/pmemstream/internal/span"
	"github.com/karczex-2nd/pmemstream/internal/streamerr"
	"github.com/karczex-2nd/pmemstream/internal/threadid"
	"github.com/karczex-2nd/pmemstream/pkg/metrics"
)

// PersistMode selects whether Append's caller-visible durability is
// driven synchronously (the caller's own persist call is the only driver)
// or asynchronously (a background persister, started by the embedding
// application, periodically advances persisted_timestamp). The core
// itself does not start goroutines for this — see spec section 5,
// "Scheduling model: ... no internal thread pool."
type PersistMode uint8

const (
	PersistSync PersistMode = iota
	PersistAsync
)

// Config configures a Stream (spec section 6, "Configuration").
type Config struct {
	// BlockSize is the allocation/alignment unit for regions; must be a
	// power of two >= 64.
	BlockSize uint64

	// MaxConcurrency bounds the number of distinct producers (<= 64,
	// spec section 4.3/4.5).
	MaxConcurrency uint64

	// RingSize is the timestamp ring's in-flight capacity (max
	// outstanding unconsumed reservations).
	RingSize uint64

	// PersistMode records the caller's intended persistence driving
	// strategy; the core does not change behavior based on it beyond
	// exposing it via Config().
	PersistMode PersistMode
}

func (c Config) validate() error {
	if c.BlockSize == 0 || c.BlockSize < 64 || c.BlockSize&(c.BlockSize-1) != 0 {
		return streamerr.ErrInvalidArg
	}
	if c.MaxConcurrency == 0 || c.MaxConcurrency > ring.MaxProducers {
		return streamerr.ErrInvalidArg
	}
	if c.RingSize == 0 {
		return streamerr.ErrInvalidArg
	}
	return nil
}

// AppendResult is returned by Append: the offset the entry was written at
// (within its region) and the commit timestamp assigned to it.
type AppendResult struct {
	Offset    uint64
	Timestamp uint64
}

// Stream binds the span codec, allocator, ring, and region map over a
// single backing pmem.Runtime.
type Stream struct {
	runtime pmem.Runtime
	cfg     Config

	allocator *region.Allocator
	ring      *ring.Ring
	regions   *regionmap.Map
	threadIDs *threadid.Allocator

	streamID uuid.UUID
	metrics  metrics.StreamMetrics
}

// Create initializes a brand new stream of exactly size bytes at path.
// m may be nil, in which case metrics collection is skipped entirely.
func Create(path string, size uint64, cfg Config, m metrics.StreamMetrics) (*Stream, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if size <= HeaderSize {
		return nil, streamerr.ErrInvalidArg
	}

	runtime, err := pmem.CreateMmapRuntime(path, size)
	if err != nil {
		return nil, err
	}

	s, err := newStream(runtime, cfg, m)
	if err != nil {
		runtime.Close()
		return nil, err
	}

	if err := s.initialize(size); err != nil {
		runtime.Close()
		return nil, err
	}
	return s, nil
}

// Open opens the stream backed by the existing file at path. If the file
// was never initialized (persisted_timestamp == 0, spec section 4.6) it
// is initialized in place; otherwise the signature and size are
// validated and the region allocator and ring are recovered. m may be
// nil, in which case metrics collection is skipped entirely.
func Open(path string, cfg Config, m metrics.StreamMetrics) (*Stream, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	runtime, err := pmem.OpenMmapRuntime(path)
	if err != nil {
		return nil, err
	}

	s, err := newStream(runtime, cfg, m)
	if err != nil {
		runtime.Close()
		return nil, err
	}

	data := runtime.Bytes()
	if persistedTimestamp(runtime) == 0 {
		if err := s.initialize(runtime.Size()); err != nil {
			runtime.Close()
			return nil, err
		}
		return s, nil
	}

	if err := validateHeader(runtime); err != nil {
		runtime.Close()
		return nil, err
	}

	blockSize := readBlockSize(data)
	allocHeader := readAllocatorHeader(data)
	allocator, err := region.Recover(runtime, allocHeader, blockSize)
	if err != nil {
		runtime.Close()
		return nil, err
	}
	s.allocator = allocator
	s.streamID = readStreamID(data)

	persisted := persistedTimestamp(runtime)
	s.ring.Reset(persisted - 1) // ring space is 0-indexed; persisted is 1-indexed (see DESIGN.md)

	return s, nil
}

func newStream(runtime pmem.Runtime, cfg Config, m metrics.StreamMetrics) (*Stream, error) {
	tids, err := threadid.New(cfg.MaxConcurrency)
	if err != nil {
		return nil, err
	}
	r, err := ring.New(cfg.MaxConcurrency, cfg.RingSize)
	if err != nil {
		return nil, err
	}
	return &Stream{
		runtime:   runtime,
		cfg:       cfg,
		ring:      r,
		regions:   regionmap.New(),
		threadIDs: tids,
		metrics:   m,
	}, nil
}

// initialize formats a freshly mapped, all-zero (or never-completed)
// backing file: writes the fixed header, the allocator's sub-header, a
// single empty span tiling the whole usable area, and sets
// persisted_timestamp to 1 ("nothing persisted yet, timestamp 1 is next",
// the same next-to-X convention committed_timestamp uses — 0 remains
// reserved exclusively as "stream never initialized").
func (s *Stream) initialize(size uint64) error {
	if err := writeStreamSize(s.runtime, size); err != nil {
		return err
	}
	if err := writeBlockSize(s.runtime, s.cfg.BlockSize); err != nil {
		return err
	}

	allocHeader := region.Header{UsableOffset: HeaderSize, UsableSize: size - HeaderSize}
	if err := writeAllocatorHeader(s.runtime, allocHeader); err != nil {
		return err
	}

	allocator, err := region.New(s.runtime, allocHeader, s.cfg.BlockSize)
	if err != nil {
		return err
	}
	s.allocator = allocator

	s.streamID = uuid.New()
	if err := writeStreamID(s.runtime, s.streamID); err != nil {
		return err
	}

	var sigBuf [signatureSize]byte
	copy(sigBuf[:], signature[:])
	if err := s.runtime.MemcpyPersist(offsetSignature, sigBuf[:]); err != nil {
		return err
	}

	s.runtime.AtomicStore64(offsetPersistedTimestamp, 1)
	if err := s.runtime.Flush(offsetPersistedTimestamp, 8); err != nil {
		return err
	}
	if err := s.runtime.Drain(); err != nil {
		return err
	}

	s.ring.Reset(0)
	return nil
}

// AllocateRegion carves a new region of at least size usable bytes.
func (s *Stream) AllocateRegion(size uint64) (uint64, error) {
	offset, err := s.allocator.Allocate(size)
	if err != nil {
		return 0, err
	}
	s.recordAllocatorMetrics()
	return offset, nil
}

// FreeRegion releases regionOffset back to the allocator's free list and
// drops any runtime state tracked for it.
func (s *Stream) FreeRegion(regionOffset uint64) error {
	if err := s.allocator.Free(regionOffset); err != nil {
		return err
	}
	s.regions.Destroy(regionOffset)
	s.recordAllocatorMetrics()
	return nil
}

func (s *Stream) recordAllocatorMetrics() {
	if s.metrics == nil {
		return
	}
	var count int
	s.allocator.ForeachRegion(func(offset, totalSize uint64) bool {
		count++
		return true
	})
	metrics.RecordRegionCount(s.metrics, count)
	metrics.RecordAllocatorFreeBytes(s.metrics, s.allocator.FreeBytes())
}

// ForeachRegion iterates every currently-allocated region.
func (s *Stream) ForeachRegion(callback func(offset, totalSize uint64) bool) error {
	return s.allocator.ForeachRegion(callback)
}

// regionRuntime returns the (lazily recovered) runtime for regionOffset.
func (s *Stream) regionRuntime(regionOffset uint64) (*regionmap.Runtime, error) {
	rt, err := span.GetRegionRuntime(s.runtime, regionOffset)
	if err != nil {
		return nil, err
	}
	runtime := s.regions.GetOrCreate(regionOffset, rt.DataOffset, regionOffset+rt.TotalSize)
	if runtime.Status() != regionmap.Recovered {
		if err := regionmap.Recover(s.runtime, runtime); err != nil {
			return nil, err
		}
		metrics.RecordRecoveryState(s.metrics, runtime.Status().String())
		if runtime.TornAt.Load() != 0 {
			metrics.RecordTornWrite(s.metrics)
		}
	}
	return runtime, nil
}

const overflowRetryBackoff = 10 * time.Microsecond

// publish marks producerID's slot ready and immediately drives the ring's
// consumed cursor forward over it. Append is the only path that ever
// produces a slot, so without this call here consumed_offset (and
// therefore committed_timestamp) never advances except while a concurrent
// Persist happens to be running — an append-only workload would otherwise
// fill the ring and spin forever in Acquire.
func (s *Stream) publish(producerID uint64) {
	s.ring.Produce(producerID)
	s.ring.Consume(s.threadIDs.MaxConcurrency() - 1)
}

// Append reserves a timestamp, appends data to regionOffset, and
// publishes the timestamp (spec section 4.5). Append is wait-free except
// under ring overflow, where it spins retrying (spec section 5).
func (s *Stream) Append(producerID uint64, regionOffset uint64, data []byte) (AppendResult, error) {
	start := time.Now()
	var ts uint64
	for {
		ts = s.ring.Acquire(producerID, 1)
		if ts != ring.OffsetMax {
			break
		}
		metrics.RecordAppendRetry(s.metrics)
		time.Sleep(overflowRetryBackoff)
	}
	// ts is now a ring offset, not yet the exposed timestamp; published
	// defensively before returning in every path below (spec section 5:
	// an append that acquires but fails before produce must still call
	// produce, leaving the ring otherwise stalled behind it).

	rt, err := s.regionRuntime(regionOffset)
	if err != nil {
		s.publish(producerID)
		return AppendResult{}, err
	}

	needed := span.EntryTotalSize(uint64(len(data)))
	spanOffset := rt.AppendOffset.Add(needed) - needed
	if spanOffset+needed > rt.DataEnd {
		rt.AppendOffset.Add(^(needed - 1)) // roll back the reservation
		s.publish(producerID)
		return AppendResult{}, streamerr.ErrNoSpace
	}

	popcount := span.PopcountBytes(data)
	if err := span.CreateEntry(s.runtime, spanOffset, data, popcount, span.NoFlush); err != nil {
		s.publish(producerID)
		return AppendResult{}, err
	}

	s.publish(producerID)
	metrics.ObserveAppend(s.metrics, len(data), time.Since(start))
	metrics.RecordRingDepth(s.metrics, s.CommittedTimestamp()-s.PersistedTimestamp())
	return AppendResult{Offset: spanOffset, Timestamp: ts + 1}, nil
}

// CommittedTimestamp returns consumed_offset + 1: the lowest timestamp
// not yet known to be committed ("next-to-commit", spec DESIGN NOTES
// open question (b)).
func (s *Stream) CommittedTimestamp() uint64 {
	return s.ring.GetConsumedOffset() + 1
}

// PersistedTimestamp is an acquire-load of the header's
// persisted_timestamp field.
func (s *Stream) PersistedTimestamp() uint64 {
	return persistedTimestamp(s.runtime)
}

// AllocatorFreeBytes returns the total size, in bytes, currently on the
// region allocator's free list.
func (s *Stream) AllocatorFreeBytes() uint64 {
	return s.allocator.FreeBytes()
}

// AcquireProducer reserves a producer id for the calling goroutine.
func (s *Stream) AcquireProducer() (uint64, error) {
	return s.threadIDs.Acquire()
}

// ReleaseProducer returns a producer id acquired via AcquireProducer.
func (s *Stream) ReleaseProducer(id uint64) {
	s.threadIDs.Release(id)
}

// Persist drives the persister until persisted_timestamp >= upTo: it
// consumes the ring until the committed prefix covers upTo, flushes the
// dirty tail of every region touched, drains, and CAS-advances
// persisted_timestamp (spec section 4.5).
func (s *Stream) Persist(upTo uint64) error {
	start := time.Now()
	startPersisted := s.PersistedTimestamp()
	for {
		current := s.PersistedTimestamp()
		if current >= upTo {
			metrics.ObservePersist(s.metrics, time.Since(start), current-startPersisted)
			metrics.RecordPersistedLag(s.metrics, s.CommittedTimestamp()-current)
			return nil
		}

		_, count := s.ring.Consume(s.threadIDs.MaxConcurrency() - 1)
		if count == 0 && s.CommittedTimestamp() < upTo {
			time.Sleep(overflowRetryBackoff)
			continue
		}

		if err := s.flushDirtyRegions(); err != nil {
			return err
		}
		if err := s.runtime.Drain(); err != nil {
			return err
		}

		newPersisted := s.CommittedTimestamp()
		if newPersisted > upTo {
			newPersisted = upTo
		}
		for {
			old := s.PersistedTimestamp()
			if old >= newPersisted {
				break
			}
			if casPersistedTimestamp(s.runtime, old, newPersisted) {
				break
			}
		}
		if err := s.runtime.Flush(offsetPersistedTimestamp, 8); err != nil {
			return err
		}
		if err := s.runtime.Drain(); err != nil {
			return err
		}
	}
}

// flushDirtyRegions flushes every tracked region's byte range between its
// last-known-flushed point and its current append cursor. Regions are
// written with NoFlush (span.NoFlush); this is the deferred flush the
// persister path is responsible for (spec Open Question (a)).
func (s *Stream) flushDirtyRegions() error {
	var firstErr error
	s.regions.Range(func(rt *regionmap.Runtime) {
		if rt.Status() != regionmap.Recovered {
			return
		}
		start := rt.FlushedOffset.Load()
		end := rt.AppendOffset.Load()
		if end <= start {
			return
		}
		if err := s.runtime.Flush(start, end-start); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		rt.FlushedOffset.Store(end)
	})
	return firstErr
}

// Entry is a single decoded entry returned by Iterate.
type Entry struct {
	Offset uint64
	Data   []byte
}

// Iterate walks every entry in regionOffset from the region's data start
// up to its (recovered) append cursor, in append order, invoking
// callback with each entry until callback returns false or the region is
// exhausted (spec section 8, "iterate R -> entries").
//
// Iterate only ever observes entries already accounted for by recovery
// or by this process's own Append calls — it never reads past
// AppendOffset, so it cannot observe a reservation that has not yet
// published (spec's "readers observing uncommitted entries" Non-goal).
func (s *Stream) Iterate(regionOffset uint64, callback func(Entry) bool) error {
	rt, err := s.regionRuntime(regionOffset)
	if err != nil {
		return err
	}

	data := s.runtime.Bytes()
	offset := rt.DataOffset
	end := rt.AppendOffset.Load()
	for offset < end {
		spanRT, err := span.GetEntryRuntime(s.runtime, offset)
		if err != nil {
			return err
		}
		payload := make([]byte, spanRT.DataSize)
		copy(payload, data[spanRT.DataOffset:spanRT.DataOffset+spanRT.DataSize])
		if !callback(Entry{Offset: spanRT.Offset, Data: payload}) {
			return nil
		}
		offset += spanRT.TotalSize
	}
	return nil
}

// Close releases the stream's backing runtime.
func (s *Stream) Close() error {
	return s.runtime.Close()
}

// StreamID returns the [EXPANSION] identifier stamped into the header at
// creation, used for distinguishing distinct streams created back-to-back
// on the same path in logs and metrics.
func (s *Stream) StreamID() uuid.UUID { return s.streamID }

// Config returns the configuration the stream was opened/created with.
func (s *Stream) Config() Config { return s.cfg }
