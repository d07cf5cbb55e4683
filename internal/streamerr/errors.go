// Package streamerr defines the sentinel error vocabulary shared by every
// pmemstream component (span codec, allocator, ring, region map, stream core).
package streamerr

import "errors"

var (
	// ErrInvalidArg is returned for unaligned offsets, nil inputs, or
	// stream/offset validation failures. A programmer error.
	ErrInvalidArg = errors.New("pmemstream: invalid argument")

	// ErrNoSpace is returned when the allocator or a region's append
	// cursor cannot satisfy a request.
	ErrNoSpace = errors.New("pmemstream: no space")

	// ErrCorrupt is returned for signature mismatches, invalid span
	// tags, or popcount mismatches discovered during recovery.
	ErrCorrupt = errors.New("pmemstream: corrupt")

	// ErrOverflow names the ring-full condition. Ring.Acquire reports it by
	// returning ring.OffsetMax and Stream.Append retries internally, so no
	// function in this module returns this error.
	ErrOverflow = errors.New("pmemstream: ring overflow")

	// ErrIO is returned when the underlying PMEM runtime reports a
	// failure (mmap, msync, truncate).
	ErrIO = errors.New("pmemstream: io error")

	// ErrClosed names use of a stream or runtime after Close. No function
	// in this module checks for that condition or returns this error.
	ErrClosed = errors.New("pmemstream: closed")
)
