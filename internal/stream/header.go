package stream

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/karczex-2nd/pmemstream/internal/pmem"
	"github.com/karczex-2nd/pmemstream/internal/region"
	"github.com/karczex-2nd/pmemstream/internal/streamerr"
)

// On-media stream header layout (spec section 6, EXTERNAL INTERFACES).
// All multi-byte fields are little-endian.
const (
	offsetSignature          = 0
	signatureSize            = 64
	offsetStreamSize         = 64
	offsetBlockSize          = 72
	offsetPersistedTimestamp = 80
	offsetAllocatorHeader    = 88 // region.Header: usable offset, usable size (16 bytes)
	offsetStreamID           = offsetAllocatorHeader + region.HeaderSize // [EXPANSION] uuid, 16 bytes

	// HeaderSize is the total fixed header size; the usable span-tiled
	// area begins here.
	HeaderSize = offsetStreamID + 16
)

// signature is "PMEMSTREAM" followed by NUL padding to 64 bytes, matching
// PMEMSTREAM_SIGNATURE_SIZE in the original implementation.
var signature = func() [signatureSize]byte {
	var sig [signatureSize]byte
	copy(sig[:], "PMEMSTREAM")
	return sig
}()

// InvalidTimestamp is the reserved sentinel: timestamp 0 never identifies
// a real entry (spec section 3, "Timestamp").
const InvalidTimestamp = 0

func readSignature(data []byte) [signatureSize]byte {
	var sig [signatureSize]byte
	copy(sig[:], data[offsetSignature:offsetSignature+signatureSize])
	return sig
}

func writeStreamSize(runtime pmem.Runtime, size uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], size)
	return runtime.MemcpyPersist(offsetStreamSize, buf[:])
}

func readStreamSize(data []byte) uint64 {
	return binary.LittleEndian.Uint64(data[offsetStreamSize : offsetStreamSize+8])
}

func writeBlockSize(runtime pmem.Runtime, size uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], size)
	return runtime.MemcpyPersist(offsetBlockSize, buf[:])
}

func readBlockSize(data []byte) uint64 {
	return binary.LittleEndian.Uint64(data[offsetBlockSize : offsetBlockSize+8])
}

func writeAllocatorHeader(runtime pmem.Runtime, h region.Header) error {
	var buf [region.HeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.UsableOffset)
	binary.LittleEndian.PutUint64(buf[8:16], h.UsableSize)
	return runtime.MemcpyPersist(offsetAllocatorHeader, buf[:])
}

func readAllocatorHeader(data []byte) region.Header {
	return region.Header{
		UsableOffset: binary.LittleEndian.Uint64(data[offsetAllocatorHeader : offsetAllocatorHeader+8]),
		UsableSize:   binary.LittleEndian.Uint64(data[offsetAllocatorHeader+8 : offsetAllocatorHeader+16]),
	}
}

func writeStreamID(runtime pmem.Runtime, id uuid.UUID) error {
	b, _ := id.MarshalBinary()
	return runtime.MemcpyPersist(offsetStreamID, b)
}

func readStreamID(data []byte) uuid.UUID {
	id, _ := uuid.FromBytes(data[offsetStreamID : offsetStreamID+16])
	return id
}

// persistedTimestamp acquire-loads the header's persisted_timestamp
// field; it is the only field besides the allocator sub-header mutated
// after creation, and only via CAS from the persister (spec section 5).
func persistedTimestamp(runtime pmem.Runtime) uint64 {
	return runtime.AtomicLoad64(offsetPersistedTimestamp)
}

func casPersistedTimestamp(runtime pmem.Runtime, old, new uint64) bool {
	return runtime.AtomicCompareAndSwap64(offsetPersistedTimestamp, old, new)
}

// validateHeader checks the signature and size fields of an existing
// stream; a mismatch is fatal at open (spec section 7).
func validateHeader(runtime pmem.Runtime) error {
	data := runtime.Bytes()
	if uint64(len(data)) < HeaderSize {
		return streamerr.ErrCorrupt
	}
	if readSignature(data) != signature {
		return streamerr.ErrCorrupt
	}
	streamSize := readStreamSize(data)
	if streamSize == 0 || streamSize != runtime.Size() {
		return streamerr.ErrCorrupt
	}
	blockSize := readBlockSize(data)
	if blockSize == 0 || !isPowerOfTwo(blockSize) || blockSize < 64 {
		return streamerr.ErrCorrupt
	}
	return nil
}

func isPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}
