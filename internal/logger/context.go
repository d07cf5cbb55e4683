package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds operation-scoped logging context: which stream and
// region an in-flight Append/Persist call is acting on, and which
// producer id issued it. Threading this through a context.Context lets
// deep call sites (the ring, the allocator) log with correlation fields
// without every function signature growing a streamID/regionOffset pair.
type LogContext struct {
	StreamID     string
	RegionOffset uint64
	ProducerID   uint64
	StartTime    time.Time
}

// WithContext returns a new context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from ctx, or nil if absent.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext scoped to streamID.
func NewLogContext(streamID string) *LogContext {
	return &LogContext{StreamID: streamID, StartTime: time.Now()}
}

// Clone returns a copy of lc.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithRegion returns a copy of lc scoped to regionOffset.
func (lc *LogContext) WithRegion(regionOffset uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.RegionOffset = regionOffset
	}
	return clone
}

// WithProducer returns a copy of lc scoped to producerID.
func (lc *LogContext) WithProducer(producerID uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ProducerID = producerID
	}
	return clone
}

// DurationMs returns the time elapsed since lc.StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
