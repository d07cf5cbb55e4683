package logger

import "log/slog"

// Standard field keys for structured logging across the stream core, the
// allocator, the ring, and the CLI. Use these consistently so log
// aggregation and querying can rely on fixed key names.
const (
	// Stream identity and position.
	KeyStreamID       = "stream_id"
	KeyPath           = "path"
	KeyRegionOffset   = "region_offset"
	KeySpanOffset     = "span_offset"
	KeyTimestamp      = "timestamp"
	KeyProducerID     = "producer_id"
	KeySize           = "size_bytes"
	KeyBlockSize      = "block_size"
	KeyMaxConcurrency = "max_concurrency"

	// Durability.
	KeyPersistedTimestamp = "persisted_timestamp"
	KeyCommittedTimestamp = "committed_timestamp"
	KeyDurationMs         = "duration_ms"

	// Errors.
	KeyError     = "error"
	KeyErrorKind = "error_kind"

	// Recovery.
	KeyRecoveryState = "recovery_state"
	KeyTornAt        = "torn_at"
)

func StreamID(id string) slog.Attr     { return slog.String(KeyStreamID, id) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func RegionOffset(o uint64) slog.Attr  { return slog.Uint64(KeyRegionOffset, o) }
func SpanOffset(o uint64) slog.Attr    { return slog.Uint64(KeySpanOffset, o) }
func Timestamp(ts uint64) slog.Attr    { return slog.Uint64(KeyTimestamp, ts) }
func ProducerID(id uint64) slog.Attr   { return slog.Uint64(KeyProducerID, id) }
func Size(n uint64) slog.Attr          { return slog.Uint64(KeySize, n) }

func PersistedTimestamp(ts uint64) slog.Attr { return slog.Uint64(KeyPersistedTimestamp, ts) }
func CommittedTimestamp(ts uint64) slog.Attr { return slog.Uint64(KeyCommittedTimestamp, ts) }

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

func RecoveryState(s string) slog.Attr { return slog.String(KeyRecoveryState, s) }
func TornAt(offset uint64) slog.Attr   { return slog.Uint64(KeyTornAt, offset) }
