// Package span implements the on-media span format: a self-describing,
// type-tagged, 8-byte-aligned block chain that tiles a stream's usable
// area with no gaps (spec section 3, "Span").
//
// A span's first 8 bytes pack a 2-bit type tag into the top bits and a
// 62-bit extra field into the remainder, following the original C
// implementation's span_type encoding (see original_source/src/span.h):
//
//	type empty  = 00 << 62  -- extra is the free data size following the header
//	type entry  = 10 << 62  -- extra is the payload size; followed by an
//	                           8-byte popcount word, then the payload
//	type region = 11 << 62  -- extra is the region's total size, header included
package span

import (
	"encoding/binary"
	"math/bits"

	"github.com/karczex-2nd/pmemstream/internal/pmem"
	"github.com/karczex-2nd/pmemstream/internal/streamerr"
)

// Tag identifies the kind of span stored at an offset.
type Tag uint8

const (
	TagEmpty Tag = iota
	TagEntry
	TagRegion
)

func (t Tag) String() string {
	switch t {
	case TagEmpty:
		return "empty"
	case TagEntry:
		return "entry"
	case TagRegion:
		return "region"
	default:
		return "unknown"
	}
}

const (
	// HeaderSize is the size in bytes of a span's leading tag+size word.
	HeaderSize = 8

	// PopcountSize is the size in bytes of an entry span's popcount word.
	PopcountSize = 8

	// Alignment is the mandatory alignment for every span offset and
	// every span's total size.
	Alignment = 8

	// MaxSize is the largest size/extra value a span can encode: the
	// 2-bit type tag occupies the top bits of the 64-bit header word,
	// leaving 62 bits (spec DESIGN NOTES, "Tag-in-pointer encoding").
	MaxSize = uint64(1)<<62 - 1

	typeShift = 62
	typeMask  = uint64(0x3) << typeShift
	extraMask = ^typeMask
)

func tagFromBits(bits uint64) Tag {
	switch bits >> typeShift {
	case 0b00:
		return TagEmpty
	case 0b10:
		return TagEntry
	case 0b11:
		return TagRegion
	default:
		return Tag(^uint8(0)) // 01 is unused: not a known tag, so GetRuntime reports ErrCorrupt
	}
}

func tagBits(t Tag) uint64 {
	switch t {
	case TagEntry:
		return 0b10 << typeShift
	case TagRegion:
		return 0b11 << typeShift
	default:
		return 0b00 << typeShift
	}
}

// AlignUp rounds size up to the next multiple of Alignment.
func AlignUp(size uint64) uint64 {
	return (size + Alignment - 1) &^ (Alignment - 1)
}

// EntryTotalSize returns the total on-media size of an entry span holding
// dataSize bytes of payload: header + popcount + payload, 8-byte aligned.
func EntryTotalSize(dataSize uint64) uint64 {
	return AlignUp(HeaderSize + PopcountSize + dataSize)
}

func readHeaderWord(data []byte, offset uint64) uint64 {
	return binary.LittleEndian.Uint64(data[offset : offset+HeaderSize])
}

func writeHeaderWord(data []byte, offset uint64, word uint64) {
	binary.LittleEndian.PutUint64(data[offset:offset+HeaderSize], word)
}

// GetType returns the tag encoded in the span header at offset.
func GetType(data []byte, offset uint64) Tag {
	return tagFromBits(readHeaderWord(data, offset))
}

// GetSize returns the raw 62-bit extra field encoded in the span header
// at offset, without interpreting it (callers use Runtime for that).
func GetSize(data []byte, offset uint64) uint64 {
	return readHeaderWord(data, offset) & extraMask
}

// Runtime describes a decoded span: its type, total on-media size (header
// included), the offset of its data region, and type-specific metadata.
type Runtime struct {
	Type       Tag
	Offset     uint64
	TotalSize  uint64
	DataOffset uint64

	// DataSize is the payload size for TagEmpty/TagEntry spans (the free
	// byte count, or the entry payload length). Unused for TagRegion.
	DataSize uint64

	// Popcount is the stored payload popcount; only meaningful for
	// TagEntry spans.
	Popcount uint64
}

// GetRuntime reads the header at offset (which must be 8-byte aligned)
// and decodes a Runtime describing the span found there.
func GetRuntime(runtime pmem.Runtime, offset uint64) (Runtime, error) {
	if offset%Alignment != 0 {
		return Runtime{}, streamerr.ErrInvalidArg
	}
	data := runtime.Bytes()
	if offset+HeaderSize > uint64(len(data)) {
		return Runtime{}, streamerr.ErrInvalidArg
	}

	word := readHeaderWord(data, offset)
	tag := tagFromBits(word)
	extra := word & extraMask

	switch tag {
	case TagEmpty:
		return Runtime{
			Type:       TagEmpty,
			Offset:     offset,
			DataOffset: offset + HeaderSize,
			DataSize:   extra,
			TotalSize:  AlignUp(HeaderSize + extra),
		}, nil
	case TagRegion:
		return Runtime{
			Type:       TagRegion,
			Offset:     offset,
			DataOffset: offset + HeaderSize,
			TotalSize:  extra,
		}, nil
	case TagEntry:
		if offset+HeaderSize+PopcountSize > uint64(len(data)) {
			return Runtime{}, streamerr.ErrCorrupt
		}
		popcount := binary.LittleEndian.Uint64(data[offset+HeaderSize : offset+HeaderSize+PopcountSize])
		return Runtime{
			Type:       TagEntry,
			Offset:     offset,
			DataOffset: offset + HeaderSize + PopcountSize,
			DataSize:   extra,
			Popcount:   popcount,
			TotalSize:  AlignUp(HeaderSize + PopcountSize + extra),
		}, nil
	default:
		return Runtime{}, streamerr.ErrCorrupt
	}
}

// GetEmptyRuntime behaves like GetRuntime but additionally asserts the
// span at offset is of type empty (a programmer error otherwise).
func GetEmptyRuntime(runtime pmem.Runtime, offset uint64) (Runtime, error) {
	rt, err := GetRuntime(runtime, offset)
	if err != nil {
		return Runtime{}, err
	}
	if rt.Type != TagEmpty {
		return Runtime{}, streamerr.ErrInvalidArg
	}
	return rt, nil
}

// GetEntryRuntime behaves like GetRuntime but additionally asserts the
// span at offset is of type entry.
func GetEntryRuntime(runtime pmem.Runtime, offset uint64) (Runtime, error) {
	rt, err := GetRuntime(runtime, offset)
	if err != nil {
		return Runtime{}, err
	}
	if rt.Type != TagEntry {
		return Runtime{}, streamerr.ErrInvalidArg
	}
	return rt, nil
}

// GetRegionRuntime behaves like GetRuntime but additionally asserts the
// span at offset is of type region.
func GetRegionRuntime(runtime pmem.Runtime, offset uint64) (Runtime, error) {
	rt, err := GetRuntime(runtime, offset)
	if err != nil {
		return Runtime{}, err
	}
	if rt.Type != TagRegion {
		return Runtime{}, streamerr.ErrInvalidArg
	}
	return rt, nil
}

// Flags controls whether CreateEntry flushes the written bytes before
// returning. The default (zero value) flushes immediately; callers doing
// their own batched persistence (the stream core's persister path) pass
// NoFlush and are responsible for later flushing the exact byte extent
// written (spec section 4.1 and Open Question (a)).
type Flags uint8

const (
	// FlushImmediate flushes (and drains) the span's bytes before
	// CreateEntry returns. This is the default.
	FlushImmediate Flags = 0
	// NoFlush skips flushing; the caller must flush [offset, offset+size)
	// itself before the write is considered durable.
	NoFlush Flags = 1 << 0
)

// CreateEmpty writes an empty span header at offset, declaring dataSize
// bytes of free space following it.
func CreateEmpty(runtime pmem.Runtime, offset uint64, dataSize uint64) error {
	if offset%Alignment != 0 {
		return streamerr.ErrInvalidArg
	}
	if dataSize > MaxSize {
		return streamerr.ErrInvalidArg
	}
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint64(buf[:], tagBits(TagEmpty)|dataSize)
	return runtime.MemcpyPersist(offset, buf[:])
}

// CreateRegion writes a region span header at offset; size is the
// region's total size including this header.
func CreateRegion(runtime pmem.Runtime, offset uint64, size uint64) error {
	if offset%Alignment != 0 {
		return streamerr.ErrInvalidArg
	}
	if size > MaxSize || size < HeaderSize {
		return streamerr.ErrInvalidArg
	}
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint64(buf[:], tagBits(TagRegion)|size)
	return runtime.MemcpyPersist(offset, buf[:])
}

// CreateEntry writes an entry span at offset: the 8-byte header, the
// 8-byte payload popcount, then the payload bytes, via the PMEM runtime's
// persistent copy primitive. offset must be 8-byte aligned.
func CreateEntry(runtime pmem.Runtime, offset uint64, payload []byte, popcount uint64, flags Flags) error {
	if offset%Alignment != 0 {
		return streamerr.ErrInvalidArg
	}
	dataSize := uint64(len(payload))
	if dataSize > MaxSize {
		return streamerr.ErrInvalidArg
	}

	var header [HeaderSize + PopcountSize]byte
	binary.LittleEndian.PutUint64(header[:HeaderSize], tagBits(TagEntry)|dataSize)
	binary.LittleEndian.PutUint64(header[HeaderSize:], popcount)

	write := runtime.MemcpyPersist
	if flags&NoFlush != 0 {
		write = func(dst uint64, src []byte) error {
			data := runtime.Bytes()
			if dst+uint64(len(src)) > uint64(len(data)) {
				return streamerr.ErrInvalidArg
			}
			copy(data[dst:], src)
			return nil
		}
	}

	if err := write(offset, header[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if err := write(offset+HeaderSize+PopcountSize, payload); err != nil {
			return err
		}
	}

	total := EntryTotalSize(dataSize)
	padStart := offset + HeaderSize + PopcountSize + dataSize
	padLen := total - (HeaderSize + PopcountSize + dataSize)
	if padLen == 0 {
		return nil
	}
	if flags&NoFlush != 0 {
		var zero [Alignment]byte
		return write(padStart, zero[:padLen])
	}
	return runtime.MemsetPersist(padStart, 0, padLen)
}

// PopcountBytes computes the bit-population count across data, summing a
// uint64 word at a time (matching the original implementation's
// util_popcount_memory) with a byte-at-a-time tail for the remainder.
func PopcountBytes(data []byte) uint64 {
	var count uint64
	i := 0
	for ; i+8 <= len(data); i += 8 {
		count += uint64(bits.OnesCount64(binary.LittleEndian.Uint64(data[i : i+8])))
	}
	for ; i < len(data); i++ {
		count += uint64(bits.OnesCount8(data[i]))
	}
	return count
}
