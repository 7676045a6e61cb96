package patterns

import (
	"math/rand/v2"
	"sync/atomic"
	"time"
	"unsafe"

	"membench/internal/stats"
)

const (
	// TriadScalar is the multiplier in the triad kernel a[i] = b[i] + s*c[i].
	TriadScalar = 3.14159

	// basePattern seeds the store pattern; adding the iteration index keeps
	// consecutive passes distinguishable in memory.
	basePattern uint64 = 0x0123456789ABCDEF

	wordSize      = 8
	wordsPerChunk = 8
)

// sink absorbs read results so the loads cannot be optimized away. The
// atomic add per iteration also orders the passes of concurrent workers.
var sink atomic.Uint64

// Request carries the arguments shared by every kernel invocation. The
// byte range is relative to the start of each region; Stop is polled once
// per iteration.
type Request struct {
	StartOffset uint64
	EndOffset   uint64
	LineSize    uint64
	Iterations  uint64
	CeilingGBps float64
	Stop        *atomic.Bool
}

func (r *Request) stopped() bool {
	return r.Stop != nil && r.Stop.Load()
}

// AlignToCacheLines narrows [start, end) to whole cache lines, rounding
// start up and end down. lineSize must be a power of two.
func AlignToCacheLines(start, end, lineSize uint64) (uint64, uint64) {
	alignedStart := (start + lineSize - 1) &^ (lineSize - 1)
	alignedEnd := end &^ (lineSize - 1)
	return alignedStart, alignedEnd
}

// Run executes pattern p over its byte range of the supplied regions.
// Collapsed ranges, missing regions, and patterns without a kernel here
// degrade to a zero sample rather than an error.
func Run(p Pattern, regions [][]byte, req Request) stats.Sample {
	if len(regions) < p.BufferCount() {
		return stats.Sample{}
	}
	switch p {
	case SequentialRead:
		return sequentialRead(regions[0], req)
	case SequentialWrite:
		return sequentialWrite(regions[0], req)
	case RandomRead:
		return randomAccess(regions[0], req, false)
	case RandomWrite:
		return randomAccess(regions[0], req, true)
	case Copy:
		return copyLines(regions[1], regions[0], req)
	case Triad:
		return triad(regions[0], regions[1], regions[2], req)
	default:
		return stats.Sample{}
	}
}

// alignedRange narrows the request range to whole cache lines inside a
// region of bufLen bytes. ok is false when no complete line fits.
func alignedRange(bufLen int, req Request) (start, end uint64, ok bool) {
	if req.LineSize == 0 {
		return 0, 0, false
	}
	start, end = AlignToCacheLines(req.StartOffset, req.EndOffset, req.LineSize)
	if end <= start || end > uint64(bufLen) {
		return 0, 0, false
	}
	return start, end, true
}

func wordView(buf []byte, offset, length uint64) []uint64 {
	return unsafe.Slice((*uint64)(unsafe.Pointer(&buf[offset])), length/wordSize)
}

func doubleView(buf []byte, offset, length uint64) []float64 {
	return unsafe.Slice((*float64)(unsafe.Pointer(&buf[offset])), length/wordSize)
}

func sequentialRead(buf []byte, req Request) stats.Sample {
	start, end, ok := alignedRange(len(buf), req)
	if !ok {
		return stats.Sample{}
	}
	size := end - start
	words := wordView(buf, start, size)
	n := len(words)
	chunked := n &^ (wordsPerChunk - 1)

	began := time.Now()
	var completed uint64
	for iter := uint64(0); iter < req.Iterations; iter++ {
		if req.stopped() {
			break
		}
		var sum uint64
		for i := 0; i < chunked; i += wordsPerChunk {
			sum += words[i] + words[i+1] + words[i+2] + words[i+3] +
				words[i+4] + words[i+5] + words[i+6] + words[i+7]
		}
		for i := chunked; i < n; i++ {
			sum += words[i]
		}
		sink.Add(sum)
		completed++
	}
	elapsed := time.Since(began).Seconds()

	bytes := size * completed
	operations := (size / req.LineSize) * completed
	return stats.Compute(bytes, elapsed, operations, req.CeilingGBps)
}

func sequentialWrite(buf []byte, req Request) stats.Sample {
	start, end, ok := alignedRange(len(buf), req)
	if !ok {
		return stats.Sample{}
	}
	size := end - start
	words := wordView(buf, start, size)
	n := len(words)
	chunked := n &^ (wordsPerChunk - 1)

	began := time.Now()
	var completed uint64
	for iter := uint64(0); iter < req.Iterations; iter++ {
		if req.stopped() {
			break
		}
		pattern := basePattern + iter
		for i := 0; i < chunked; i += wordsPerChunk {
			base := pattern + uint64(i)
			words[i] = base
			words[i+1] = base + 1
			words[i+2] = base + 2
			words[i+3] = base + 3
			words[i+4] = base + 4
			words[i+5] = base + 5
			words[i+6] = base + 6
			words[i+7] = base + 7
		}
		for i := chunked; i < n; i++ {
			words[i] = pattern + uint64(i)
		}
		completed++
	}
	elapsed := time.Since(began).Seconds()

	bytes := size * completed
	operations := (size / req.LineSize) * completed
	return stats.Compute(bytes, elapsed, operations, req.CeilingGBps)
}

// randomAccess touches every cache line in the range once per iteration,
// in an order shuffled once up front. Operations count lines, not bytes.
func randomAccess(buf []byte, req Request, write bool) stats.Sample {
	start, end, ok := alignedRange(len(buf), req)
	if !ok {
		return stats.Sample{}
	}
	size := end - start
	lineWords := int(req.LineSize / wordSize)
	words := wordView(buf, start, size)

	offsets := make([]int, 0, size/req.LineSize)
	for w := 0; w+lineWords <= len(words); w += lineWords {
		offsets = append(offsets, w)
	}
	if len(offsets) == 0 {
		return stats.Sample{}
	}
	rand.Shuffle(len(offsets), func(i, j int) {
		offsets[i], offsets[j] = offsets[j], offsets[i]
	})

	began := time.Now()
	var completed uint64
	for iter := uint64(0); iter < req.Iterations; iter++ {
		if req.stopped() {
			break
		}
		if write {
			pattern := basePattern + iter
			for _, w := range offsets {
				addr := start + uint64(w)*wordSize
				line := words[w : w+lineWords]
				for i := range line {
					line[i] = pattern + addr + uint64(i)
				}
			}
		} else {
			var sum uint64
			for _, w := range offsets {
				line := words[w : w+lineWords]
				for _, v := range line {
					sum += v
				}
			}
			sink.Add(sum)
		}
		completed++
	}
	elapsed := time.Since(began).Seconds()

	lines := uint64(len(offsets))
	bytes := lines * req.LineSize * completed
	operations := lines * completed
	return stats.Compute(bytes, elapsed, operations, req.CeilingGBps)
}

// copyLines streams src into dst over the aligned range. Bytes processed
// count both directions of the transfer.
func copyLines(dst, src []byte, req Request) stats.Sample {
	limit := min(len(dst), len(src))
	start, end, ok := alignedRange(limit, req)
	if !ok {
		return stats.Sample{}
	}
	size := end - start

	began := time.Now()
	var completed uint64
	for iter := uint64(0); iter < req.Iterations; iter++ {
		if req.stopped() {
			break
		}
		copy(dst[start:end], src[start:end])
		completed++
	}
	elapsed := time.Since(began).Seconds()

	bytes := size * completed * 2
	operations := (size / req.LineSize) * completed
	return stats.Compute(bytes, elapsed, operations, req.CeilingGBps)
}

// triad computes a[i] = b[i] + TriadScalar*c[i] over double words. The range
// aligns to 8 bytes rather than cache lines; arithmetic streams tolerate the
// finer granularity. Bytes processed count two reads and one write per
// element, operations count elements.
func triad(aBuf, bBuf, cBuf []byte, req Request) stats.Sample {
	limit := min(len(aBuf), len(bBuf), len(cBuf))
	start := (req.StartOffset + wordSize - 1) &^ (wordSize - 1)
	end := req.EndOffset &^ (wordSize - 1)
	if end <= start || end > uint64(limit) {
		return stats.Sample{}
	}
	size := end - start

	a := doubleView(aBuf, start, size)
	b := doubleView(bBuf, start, size)
	c := doubleView(cBuf, start, size)

	began := time.Now()
	var completed uint64
	for iter := uint64(0); iter < req.Iterations; iter++ {
		if req.stopped() {
			break
		}
		for i := range a {
			a[i] = b[i] + TriadScalar*c[i]
		}
		completed++
	}
	elapsed := time.Since(began).Seconds()

	bytes := size * completed * 3
	operations := (size / wordSize) * completed
	return stats.Compute(bytes, elapsed, operations, req.CeilingGBps)
}
