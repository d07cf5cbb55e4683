// Package region implements the region allocator: a header-resident free
// list of region spans carved and freed from a stream's usable area using
// first-fit allocation, coalescing adjacent empty spans on free (spec
// section 4.2).
//
// The free list itself is never persisted as a separate structure — the
// span tiling is self-describing, so Recover rebuilds the list (and the
// full offset->size tiling index used for coalescing) by scanning spans
// from the usable area start until it reaches Header.UsableOffset+UsableSize.
package region

import (
	"sort"
	"sync"

	"github.com/karczex-2nd/pmemstream/internal/pmem"
	"github.com/karczex-2nd/pmemstream/internal/span"
	"github.com/karczex-2nd/pmemstream/internal/streamerr"
)

// Header is the allocator's persistent, fixed-size sub-header embedded in
// the stream header (spec section 3, "embedded region-allocator header").
// It only records the bounds of the usable area; the free list is
// rebuilt from the span tiling at Recover time, never stored separately.
type Header struct {
	UsableOffset uint64
	UsableSize   uint64
}

// HeaderSize is the on-media size of Header (two uint64 fields).
const HeaderSize = 16

// Allocator carves and frees region spans within [Header.UsableOffset,
// Header.UsableOffset+Header.UsableSize) using first-fit over an
// in-memory free list rebuilt at Recover time.
type Allocator struct {
	runtime   pmem.Runtime
	header    Header
	blockSize uint64

	mu sync.Mutex
	// tiling maps every span's start offset to its total size, for the
	// whole usable area. Used to locate left/right neighbors on free.
	tiling map[uint64]uint64
	// free is the subset of tiling whose span type is empty, kept sorted
	// by offset for first-fit scanning.
	free []uint64
}

// New wraps an already-initialized allocator header with a fresh,
// in-memory free list containing exactly one empty span spanning the
// whole usable area. Used when creating a brand new stream.
func New(runtime pmem.Runtime, header Header, blockSize uint64) (*Allocator, error) {
	a := &Allocator{runtime: runtime, header: header, blockSize: blockSize, tiling: map[uint64]uint64{}}
	if err := span.CreateEmpty(runtime, header.UsableOffset, header.UsableSize-span.HeaderSize); err != nil {
		return nil, err
	}
	a.tiling[header.UsableOffset] = header.UsableSize
	a.free = []uint64{header.UsableOffset}
	return a, nil
}

// Recover rebuilds the allocator's free list and tiling index by scanning
// spans from the usable area start. This is the "recovery scan can
// rebuild the free list from the span tiling alone" path (spec 4.2, 4.6).
func Recover(runtime pmem.Runtime, header Header, blockSize uint64) (*Allocator, error) {
	a := &Allocator{runtime: runtime, header: header, blockSize: blockSize, tiling: map[uint64]uint64{}}

	offset := header.UsableOffset
	end := header.UsableOffset + header.UsableSize
	for offset < end {
		rt, err := span.GetRuntime(runtime, offset)
		if err != nil {
			return nil, err
		}
		if rt.TotalSize == 0 || offset+rt.TotalSize > end {
			return nil, streamerr.ErrCorrupt
		}
		a.tiling[offset] = rt.TotalSize
		if rt.Type == span.TagEmpty {
			a.free = append(a.free, offset)
		}
		offset += rt.TotalSize
	}
	if offset != end {
		return nil, streamerr.ErrCorrupt
	}
	sort.Slice(a.free, func(i, j int) bool { return a.free[i] < a.free[j] })
	return a, nil
}

// FreeBytes returns the total size, in bytes, currently on the free list.
func (a *Allocator) FreeBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var total uint64
	for _, offset := range a.free {
		total += a.tiling[offset]
	}
	return total
}

// Allocate carves a new region of at least size usable bytes (rounded up
// to the allocator's block size) from the free list using first-fit. It
// returns the new region's start offset.
func (a *Allocator) Allocate(size uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rounded := alignUp(size, a.blockSize)
	needed := span.AlignUp(span.HeaderSize + rounded)

	for i, off := range a.free {
		total := a.tiling[off]
		if total < needed {
			continue
		}

		remainder := total - needed
		if remainder < span.HeaderSize {
			// Too small to host its own span header: fold the slop into
			// the region instead of leaving an unaddressable gap.
			needed = total
		}

		if err := span.CreateRegion(a.runtime, off, needed); err != nil {
			return 0, err
		}
		a.tiling[off] = needed

		a.free = append(a.free[:i], a.free[i+1:]...)

		if needed < total {
			freeOffset := off + needed
			freeSize := total - needed
			if err := span.CreateEmpty(a.runtime, freeOffset, freeSize-span.HeaderSize); err != nil {
				return 0, err
			}
			a.tiling[freeOffset] = freeSize
			a.insertFreeLocked(freeOffset)
		}

		return off, nil
	}

	return 0, streamerr.ErrNoSpace
}

// Free releases the region at regionOffset, re-tagging its span as empty
// and coalescing it with any adjacent empty spans.
func (a *Allocator) Free(regionOffset uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	total, ok := a.tiling[regionOffset]
	if !ok {
		return streamerr.ErrInvalidArg
	}

	start := regionOffset
	end := regionOffset + total

	// Merge with the left neighbor, if it is empty.
	if prevOffset, prevTotal, ok := a.leftNeighborLocked(regionOffset); ok {
		if rt, err := span.GetRuntime(a.runtime, prevOffset); err == nil && rt.Type == span.TagEmpty {
			start = prevOffset
			a.removeFreeLocked(prevOffset)
			delete(a.tiling, prevOffset)
			_ = prevTotal
		}
	}

	// Merge with the right neighbor, if it is empty and within bounds.
	if end < a.header.UsableOffset+a.header.UsableSize {
		if rt, err := span.GetRuntime(a.runtime, end); err == nil && rt.Type == span.TagEmpty {
			a.removeFreeLocked(end)
			delete(a.tiling, end)
			end += rt.TotalSize
		}
	}

	delete(a.tiling, regionOffset)

	mergedSize := end - start
	if err := span.CreateEmpty(a.runtime, start, mergedSize-span.HeaderSize); err != nil {
		return err
	}
	a.tiling[start] = mergedSize
	a.insertFreeLocked(start)
	return nil
}

// ForeachRegion invokes callback(offset, totalSize) for every region span
// currently carved from the usable area, in offset order. If callback
// returns false, iteration stops early.
func (a *Allocator) ForeachRegion(callback func(offset, totalSize uint64) bool) error {
	a.mu.Lock()
	offsets := make([]uint64, 0, len(a.tiling))
	for off := range a.tiling {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	a.mu.Unlock()

	for _, off := range offsets {
		rt, err := span.GetRuntime(a.runtime, off)
		if err != nil {
			return err
		}
		if rt.Type != span.TagRegion {
			continue
		}
		if !callback(off, rt.TotalSize) {
			break
		}
	}
	return nil
}

// leftNeighborLocked finds the span immediately preceding offset in the
// tiling, if any. Caller must hold a.mu.
func (a *Allocator) leftNeighborLocked(offset uint64) (prevOffset, prevTotal uint64, ok bool) {
	for off, total := range a.tiling {
		if off+total == offset {
			return off, total, true
		}
	}
	return 0, 0, false
}

func (a *Allocator) insertFreeLocked(offset uint64) {
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i] >= offset })
	a.free = append(a.free, 0)
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = offset
}

func (a *Allocator) removeFreeLocked(offset uint64) {
	for i, off := range a.free {
		if off == offset {
			a.free = append(a.free[:i], a.free[i+1:]...)
			return
		}
	}
}

func alignUp(size, align uint64) uint64 {
	if align == 0 {
		return size
	}
	return (size + align - 1) &^ (align - 1)
}
