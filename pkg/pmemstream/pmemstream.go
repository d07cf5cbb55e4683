// Package pmemstream is the public, user-facing entry point for opening
// and driving a stream: it wires pkg/config's Config into
// internal/stream's Create/Open, attaches logging and metrics, and
// exposes a small ergonomic surface over the stream core.
//
// This package is intentionally thin (see internal/stream's package
// comment): it adds no algorithms of its own, only configuration wiring
// and naming a caller would actually want to type.
package pmemstream

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/karczex-2nd/pmemstream/internal/logger"
	"github.com/karczex-2nd/pmemstream/internal/stream"
	"github.com/karczex-2nd/pmemstream/pkg/config"
	"github.com/karczex-2nd/pmemstream/pkg/metrics"
	_ "github.com/karczex-2nd/pmemstream/pkg/metrics/prometheus" // registers the Prometheus StreamMetrics constructor
)

// Stream is a handle to an open stream: the core engine plus the
// metrics it was opened with.
type Stream struct {
	core    *stream.Stream
	metrics metrics.StreamMetrics
}

// Entry is a single decoded entry returned by Iterate.
type Entry = stream.Entry

// AppendResult is returned by Append.
type AppendResult = stream.AppendResult

// Create initializes a brand new stream of cfg.Size bytes at cfg.Path.
func Create(cfg *config.Config) (*Stream, error) {
	m := metrics.NewStreamMetrics()
	core, err := stream.Create(cfg.Path, cfg.Size.Uint64(), toStreamConfig(cfg), m)
	if err != nil {
		return nil, fmt.Errorf("pmemstream: create %s: %w", cfg.Path, err)
	}
	logger.Info("stream created",
		logger.Path(cfg.Path),
		logger.StreamID(core.StreamID().String()),
		logger.Size(cfg.Size.Uint64()),
	)
	return &Stream{core: core, metrics: m}, nil
}

// Open opens the stream backed by cfg.Path, initializing it in place if
// it was never formatted.
func Open(cfg *config.Config) (*Stream, error) {
	m := metrics.NewStreamMetrics()
	core, err := stream.Open(cfg.Path, toStreamConfig(cfg), m)
	if err != nil {
		return nil, fmt.Errorf("pmemstream: open %s: %w", cfg.Path, err)
	}
	logger.Info("stream opened",
		logger.Path(cfg.Path),
		logger.StreamID(core.StreamID().String()),
		logger.PersistedTimestamp(core.PersistedTimestamp()),
	)
	return &Stream{core: core, metrics: m}, nil
}

func toStreamConfig(cfg *config.Config) stream.Config {
	mode := stream.PersistSync
	if cfg.PersistMode == "async" {
		mode = stream.PersistAsync
	}
	return stream.Config{
		BlockSize:      cfg.BlockSize.Uint64(),
		MaxConcurrency: cfg.MaxConcurrency,
		RingSize:       cfg.RingSize,
		PersistMode:    mode,
	}
}

// StreamID returns the identifier stamped into the stream at creation.
func (s *Stream) StreamID() uuid.UUID { return s.core.StreamID() }

// AcquireProducer reserves a producer id for the calling goroutine.
func (s *Stream) AcquireProducer() (uint64, error) { return s.core.AcquireProducer() }

// ReleaseProducer returns a producer id acquired via AcquireProducer.
func (s *Stream) ReleaseProducer(id uint64) { s.core.ReleaseProducer(id) }

// AllocateRegion carves a new region of at least size usable bytes.
func (s *Stream) AllocateRegion(size uint64) (uint64, error) {
	return s.core.AllocateRegion(size)
}

// FreeRegion releases regionOffset back to the allocator's free list.
func (s *Stream) FreeRegion(regionOffset uint64) error {
	return s.core.FreeRegion(regionOffset)
}

// ForeachRegion iterates every currently-allocated region.
func (s *Stream) ForeachRegion(callback func(offset, totalSize uint64) bool) error {
	return s.core.ForeachRegion(callback)
}

// Append reserves a timestamp, appends data to regionOffset, and
// publishes the timestamp.
func (s *Stream) Append(producerID, regionOffset uint64, data []byte) (AppendResult, error) {
	result, err := s.core.Append(producerID, regionOffset, data)
	if err != nil {
		return AppendResult{}, fmt.Errorf("pmemstream: append: %w", err)
	}
	return result, nil
}

// Iterate walks every entry in regionOffset in append order.
func (s *Stream) Iterate(regionOffset uint64, callback func(Entry) bool) error {
	return s.core.Iterate(regionOffset, callback)
}

// Persist drives the persister until persisted_timestamp >= upTo.
func (s *Stream) Persist(upTo uint64) error {
	if err := s.core.Persist(upTo); err != nil {
		return fmt.Errorf("pmemstream: persist: %w", err)
	}
	return nil
}

// CommittedTimestamp returns the lowest timestamp not yet known committed.
func (s *Stream) CommittedTimestamp() uint64 { return s.core.CommittedTimestamp() }

// AllocatorFreeBytes returns the total size, in bytes, currently on the
// region allocator's free list.
func (s *Stream) AllocatorFreeBytes() uint64 { return s.core.AllocatorFreeBytes() }

// PersistedTimestamp returns the stream's durable-timestamp watermark.
func (s *Stream) PersistedTimestamp() uint64 { return s.core.PersistedTimestamp() }

// Close releases the stream's backing runtime.
func (s *Stream) Close() error {
	return s.core.Close()
}
