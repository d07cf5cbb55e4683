// Package pmem provides the backing-storage contract the stream core is
// built against (section 6, "Backing storage contract") and a concrete
// mmap-based implementation of it.
//
// Real PMEM exposes cache-line granular persistence through CPU
// instructions (clwb/clflushopt + sfence) that Go cannot issue without
// assembly support for every target architecture. MmapRuntime instead
// treats the backing file as the durability boundary: Flush schedules an
// asynchronous write-back of the given byte range, Drain blocks until all
// scheduled write-backs are complete. This mirrors the msync(2) discipline
// dittofs's own mmap-backed WAL persister uses (MS_ASYNC for throughput,
// MS_SYNC to guarantee durability before reporting success).
package pmem

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/karczex-2nd/pmemstream/internal/streamerr"
)

// Runtime is the pmem_runtime contract from EXTERNAL INTERFACES: the core
// issues no direct system calls and only talks to a backing store through
// this interface.
type Runtime interface {
	// Bytes returns the raw mapped region. Callers index into it with
	// 8-byte-aligned offsets; the slice is valid until Close.
	Bytes() []byte

	// Size returns the total size of the mapped region in bytes.
	Size() uint64

	// MemcpyPersist copies src into the region at dstOffset, flushes the
	// written extent, and drains — the data is durable before it returns.
	MemcpyPersist(dstOffset uint64, src []byte) error

	// MemcpyNondrain copies src into the region at dstOffset and flushes
	// the written extent, but does not drain. The caller is responsible
	// for calling Drain before relying on durability.
	MemcpyNondrain(dstOffset uint64, src []byte) error

	// MemsetPersist fills n bytes at dstOffset with b, flushes, and drains.
	MemsetPersist(dstOffset uint64, b byte, n uint64) error

	// MemsetNondrain fills n bytes at dstOffset with b and flushes, but does
	// not drain; the caller is responsible for a later Drain.
	MemsetNondrain(dstOffset uint64, b byte, n uint64) error

	// Flush schedules a write-back of [offset, offset+n) to the backing
	// medium. It does not wait for completion; pair with Drain.
	Flush(offset, n uint64) error

	// Drain blocks until all previously scheduled flushes are durable.
	Drain() error

	// AtomicLoad64 performs an acquire-load of the 8-byte word at offset.
	AtomicLoad64(offset uint64) uint64

	// AtomicStore64 performs a release-store of the 8-byte word at offset.
	AtomicStore64(offset uint64, v uint64)

	// AtomicAddUint64 atomically adds delta to the 8-byte word at offset
	// and returns the new value (fetch-and-add semantics via the return
	// value minus delta give the old value, matching sync/atomic).
	AtomicAddUint64(offset uint64, delta uint64) uint64

	// AtomicCompareAndSwap64 performs a CAS on the 8-byte word at offset.
	AtomicCompareAndSwap64(offset uint64, old, new uint64) bool

	// Close unmaps and closes the backing file.
	Close() error
}

// MmapRuntime implements Runtime over a memory-mapped, fixed-size file.
// Dynamic growth of the backing file is explicitly out of scope (spec
// Non-goals); the file size is fixed at creation time.
type MmapRuntime struct {
	file *os.File
	data []byte
}

// CreateMmapRuntime creates a new backing file of exactly size bytes at
// path and memory-maps it. size must be > 0.
func CreateMmapRuntime(path string, size uint64) (*MmapRuntime, error) {
	if size == 0 {
		return nil, streamerr.ErrInvalidArg
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("pmem: create %q: %w", path, err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("pmem: truncate %q: %w", path, err)
	}

	return mapFile(f, size)
}

// OpenMmapRuntime opens and memory-maps an existing backing file at path.
// The file's current size on disk becomes the runtime's Size().
func OpenMmapRuntime(path string) (*MmapRuntime, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("pmem: open %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pmem: stat %q: %w", path, err)
	}

	return mapFile(f, uint64(info.Size()))
}

func mapFile(f *os.File, size uint64) (*MmapRuntime, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pmem: mmap: %w", err)
	}

	return &MmapRuntime{file: f, data: data}, nil
}

func (r *MmapRuntime) Bytes() []byte { return r.data }

func (r *MmapRuntime) Size() uint64 { return uint64(len(r.data)) }

func (r *MmapRuntime) MemcpyPersist(dstOffset uint64, src []byte) error {
	if err := r.copy(dstOffset, src); err != nil {
		return err
	}
	if err := r.Flush(dstOffset, uint64(len(src))); err != nil {
		return err
	}
	return r.Drain()
}

func (r *MmapRuntime) MemcpyNondrain(dstOffset uint64, src []byte) error {
	if err := r.copy(dstOffset, src); err != nil {
		return err
	}
	return r.Flush(dstOffset, uint64(len(src)))
}

func (r *MmapRuntime) MemsetPersist(dstOffset uint64, b byte, n uint64) error {
	if dstOffset+n > r.Size() {
		return streamerr.ErrInvalidArg
	}
	region := r.data[dstOffset : dstOffset+n]
	for i := range region {
		region[i] = b
	}
	if err := r.Flush(dstOffset, n); err != nil {
		return err
	}
	return r.Drain()
}

func (r *MmapRuntime) MemsetNondrain(dstOffset uint64, b byte, n uint64) error {
	if dstOffset+n > r.Size() {
		return streamerr.ErrInvalidArg
	}
	region := r.data[dstOffset : dstOffset+n]
	for i := range region {
		region[i] = b
	}
	return r.Flush(dstOffset, n)
}

func (r *MmapRuntime) copy(dstOffset uint64, src []byte) error {
	if dstOffset+uint64(len(src)) > r.Size() {
		return streamerr.ErrInvalidArg
	}
	copy(r.data[dstOffset:], src)
	return nil
}

// Flush schedules an asynchronous write-back of [offset, offset+n). msync
// operates on whole pages, so the range is rounded out to page boundaries.
func (r *MmapRuntime) Flush(offset, n uint64) error {
	if n == 0 {
		return nil
	}
	start, end := pageAlign(offset, n, r.Size())
	if err := unix.Msync(r.data[start:end], unix.MS_ASYNC); err != nil {
		return fmt.Errorf("%w: msync async: %v", streamerr.ErrIO, err)
	}
	return nil
}

// Drain blocks until the entire mapping's pending write-backs are durable.
func (r *MmapRuntime) Drain() error {
	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("%w: msync sync: %v", streamerr.ErrIO, err)
	}
	return nil
}

func (r *MmapRuntime) Close() error {
	var firstErr error
	if r.data != nil {
		if err := unix.Msync(r.data, unix.MS_SYNC); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: final msync: %v", streamerr.ErrIO, err)
		}
		if err := unix.Munmap(r.data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: munmap: %v", streamerr.ErrIO, err)
		}
		r.data = nil
	}
	if r.file != nil {
		if err := r.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: close: %v", streamerr.ErrIO, err)
		}
		r.file = nil
	}
	return firstErr
}

const pageSize = 4096

func pageAlign(offset, n, limit uint64) (start, end uint64) {
	start = offset &^ (pageSize - 1)
	rawEnd := offset + n
	end = (rawEnd + pageSize - 1) &^ (pageSize - 1)
	if end > limit {
		end = limit
	}
	return start, end
}

func wordPtr(data []byte, offset uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&data[offset]))
}

func (r *MmapRuntime) AtomicLoad64(offset uint64) uint64 {
	return atomic.LoadUint64(wordPtr(r.data, offset))
}

func (r *MmapRuntime) AtomicStore64(offset uint64, v uint64) {
	atomic.StoreUint64(wordPtr(r.data, offset), v)
}

func (r *MmapRuntime) AtomicAddUint64(offset uint64, delta uint64) uint64 {
	return atomic.AddUint64(wordPtr(r.data, offset), delta)
}

func (r *MmapRuntime) AtomicCompareAndSwap64(offset uint64, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(wordPtr(r.data, offset), old, new)
}

var _ Runtime = (*MmapRuntime)(nil)
