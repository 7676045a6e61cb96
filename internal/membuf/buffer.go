// Package membuf provides cache-line alignable memory regions for benchmark
// workloads. A Region over-allocates and exposes an aligned window, so the
// access patterns never straddle an unaligned head or tail.
package membuf

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrAllocation marks buffer construction failures. Callers match it with
// errors.Is to distinguish allocation problems from validation ones.
var ErrAllocation = errors.New("allocation error")

// MinRegionSize is the floor for a usable benchmark buffer. Per-thread or
// per-buffer sizes computed below it are rejected before allocation.
const MinRegionSize = 4 * 1024

// Region owns one contiguous byte buffer whose first usable byte is aligned
// to the requested power-of-two boundary. The aligned window is fixed for the
// lifetime of the Region; Release drops the backing memory and must be called
// before the next sweep step allocates its own region.
type Region struct {
	backing   []byte
	data      []byte
	size      uint64
	alignment uint64
}

// NewRegion allocates size usable bytes aligned to alignment. The alignment
// must be a power of two and the size positive. The buffer is filled with a
// deterministic byte pattern so read tests touch real, non-zero pages instead
// of copy-on-write zero pages.
func NewRegion(size, alignment uint64) (*Region, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: region size must be positive", ErrAllocation)
	}
	if alignment == 0 || alignment&(alignment-1) != 0 {
		return nil, fmt.Errorf("%w: alignment %d is not a power of two", ErrAllocation, alignment)
	}

	backing := make([]byte, size+alignment)
	base := uintptr(unsafe.Pointer(&backing[0]))
	aligned := (base + uintptr(alignment) - 1) &^ (uintptr(alignment) - 1)
	offset := uint64(aligned - base)

	r := &Region{
		backing:   backing,
		data:      backing[offset : offset+size : offset+size],
		size:      size,
		alignment: alignment,
	}
	for i := range r.data {
		r.data[i] = byte(i & 0xFF)
	}
	return r, nil
}

// Bytes returns the aligned window. The slice stays valid until Release.
func (r *Region) Bytes() []byte {
	return r.data
}

func (r *Region) Size() uint64 {
	return r.size
}

func (r *Region) Alignment() uint64 {
	return r.alignment
}

// IsAligned reports whether the usable window still starts on the requested
// boundary. Used as a self-check by tests.
func (r *Region) IsAligned() bool {
	if len(r.data) == 0 {
		return false
	}
	return uintptr(unsafe.Pointer(&r.data[0]))%uintptr(r.alignment) == 0
}

// Release drops the backing memory so the collector can reclaim it before the
// next working-set size is allocated. Safe to call more than once.
func (r *Region) Release() {
	r.backing = nil
	r.data = nil
}
