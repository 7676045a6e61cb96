// Package worksets builds the ladder of working set sizes a cache sweep
// walks through, from fractions of L1 up to multiples of the last level
// cache and fixed DRAM-resident sizes.
package worksets

import (
	"membench/internal/host"
)

const (
	// MinWorkingSetSize is the smallest size worth timing; below this the
	// loop overhead dominates the memory traffic.
	MinWorkingSetSize = 4 * 1024
	// MaxWorkingSetSize caps the ladder so a sweep stays allocatable on
	// common machines.
	MaxWorkingSetSize = 4 * 1024 * 1024 * 1024
)

// Descriptor pairs a working set size with its human readable label.
type Descriptor struct {
	SizeBytes uint64 `json:"size_bytes"`
	Label     string `json:"label"`
}

// standardSizes are the fixed points sampled beyond the cache hierarchy.
var standardSizes = []uint64{
	64 * 1024 * 1024,
	128 * 1024 * 1024,
	256 * 1024 * 1024,
	512 * 1024 * 1024,
	1024 * 1024 * 1024,
	2048 * 1024 * 1024,
	4096 * 1024 * 1024,
}

// FromHierarchy builds the whole-chip ladder: quarters of each cache level,
// multiples of the last level cache, then the standard sizes. Entries outside
// [MinWorkingSetSize, MaxWorkingSetSize] are dropped; order is preserved and
// coinciding sizes are kept as separate entries.
func FromHierarchy(cache host.CacheHierarchy) []Descriptor {
	candidates := []Descriptor{
		{cache.L1DataSize / 8, "1/8 L1 cache"},
		{cache.L1DataSize / 4, "1/4 L1 cache"},
		{cache.L1DataSize / 2, "1/2 L1 cache"},
		{cache.L1DataSize, "Full L1 cache"},

		{cache.L2Size / 8, "1/8 L2 cache"},
		{cache.L2Size / 4, "1/4 L2 cache"},
		{cache.L2Size / 2, "1/2 L2 cache"},
		{cache.L2Size, "Full L2 cache"},

		{cache.L3Size / 8, "1/8 SLC"},
		{cache.L3Size / 4, "1/4 SLC"},
		{cache.L3Size / 2, "1/2 SLC"},
		{cache.L3Size, "Full SLC"},

		{cache.L3Size * 2, "2x SLC"},
		{cache.L3Size * 4, "4x SLC"},
		{cache.L3Size * 8, "8x SLC"},
		{standardSizes[0], "64MB"},
		{standardSizes[1], "128MB"},
		{standardSizes[2], "256MB"},
		{standardSizes[3], "512MB"},
		{standardSizes[4], "1GB"},
		{standardSizes[5], "2GB"},
		{standardSizes[6], "4GB"},
	}

	out := make([]Descriptor, 0, len(candidates))
	for _, d := range candidates {
		if d.SizeBytes >= MinWorkingSetSize && d.SizeBytes <= MaxWorkingSetSize {
			out = append(out, d)
		}
	}
	return out
}

// ThreadAware builds the ladder for a run with numThreads workers. L1 and L2
// are private per core, so each thread gets the full level; the shared last
// level cache is split across threads. Sizes past the cache are totals, not
// per-thread shares.
func ThreadAware(cache host.CacheHierarchy, numThreads int) []Descriptor {
	if numThreads < 1 {
		numThreads = 1
	}

	var out []Descriptor
	ladder := func(base uint64, quarter, half, full string) {
		if base/4 >= MinWorkingSetSize {
			out = append(out, Descriptor{base / 4, quarter})
		}
		if base/2 >= MinWorkingSetSize {
			out = append(out, Descriptor{base / 2, half})
		}
		if base >= MinWorkingSetSize {
			out = append(out, Descriptor{base, full})
		}
	}

	ladder(cache.L1DataSize, "1/4 L1 per thread", "1/2 L1 per thread", "L1 per thread")
	ladder(cache.L2Size, "1/4 L2 per thread", "1/2 L2 per thread", "L2 per thread")
	ladder(cache.L3Size/uint64(numThreads), "1/4 SLC per thread", "1/2 SLC per thread", "SLC per thread")

	beyond := []uint64{
		cache.L3Size * 2,
		cache.L3Size * 4,
		standardSizes[0],
		standardSizes[2],
		standardSizes[4],
		standardSizes[5],
		standardSizes[6],
	}
	for _, size := range beyond {
		if size < MinWorkingSetSize || size > MaxWorkingSetSize {
			continue
		}
		out = append(out, Descriptor{size, beyondLabel(cache.L3Size, size)})
	}
	return out
}

// beyondLabel names a size past the cache hierarchy. Multiples of the last
// level cache take precedence over the standard size names when they
// coincide.
func beyondLabel(l3, size uint64) string {
	switch {
	case l3 > 0 && size == l3*2:
		return "2x SLC"
	case l3 > 0 && size == l3*4:
		return "4x SLC"
	case size == standardSizes[0]:
		return "64MB"
	case size == standardSizes[2]:
		return "256MB"
	case size == standardSizes[4]:
		return "1GB"
	case size == standardSizes[5]:
		return "2GB"
	default:
		return "4GB"
	}
}
