package membuf

import (
	"errors"
	"testing"
	"unsafe"
)

func TestNewRegion_AlignmentInvariant(t *testing.T) {
	sizes := []uint64{1, 63, 64, 4096, 1 << 20}
	alignments := []uint64{1, 2, 8, 64, 128, 4096, 1 << 16}
	for _, size := range sizes {
		for _, alignment := range alignments {
			r, err := NewRegion(size, alignment)
			if err != nil {
				t.Fatalf("NewRegion(%d, %d): %v", size, alignment, err)
			}
			addr := uintptr(unsafe.Pointer(&r.Bytes()[0]))
			if addr%uintptr(alignment) != 0 {
				t.Errorf("NewRegion(%d, %d): address %#x not aligned", size, alignment, addr)
			}
			if !r.IsAligned() {
				t.Errorf("NewRegion(%d, %d): IsAligned() = false", size, alignment)
			}
			if uint64(len(r.Bytes())) != size {
				t.Errorf("NewRegion(%d, %d): usable len %d", size, alignment, len(r.Bytes()))
			}
			r.Release()
		}
	}
}

func TestNewRegion_RejectsZeroSize(t *testing.T) {
	if _, err := NewRegion(0, 64); !errors.Is(err, ErrAllocation) {
		t.Fatalf("zero size: err = %v, want ErrAllocation", err)
	}
}

func TestNewRegion_RejectsNonPowerOfTwoAlignment(t *testing.T) {
	for _, alignment := range []uint64{0, 3, 24, 100, 65} {
		if _, err := NewRegion(4096, alignment); !errors.Is(err, ErrAllocation) {
			t.Fatalf("alignment %d: err = %v, want ErrAllocation", alignment, err)
		}
	}
}

func TestNewRegion_FillPattern(t *testing.T) {
	r, err := NewRegion(1024, 64)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	defer r.Release()
	for i, b := range r.Bytes() {
		if b != byte(i&0xFF) {
			t.Fatalf("byte %d = %#x, want %#x", i, b, byte(i&0xFF))
		}
	}
}

func TestRegion_ReleaseIsIdempotent(t *testing.T) {
	r, err := NewRegion(4096, 64)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	r.Release()
	r.Release()
	if r.Bytes() != nil {
		t.Fatalf("released region still exposes bytes")
	}
	if r.IsAligned() {
		t.Fatalf("released region reports aligned")
	}
}
