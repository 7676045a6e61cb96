package patterns

import (
	"sync/atomic"
	"testing"
)

const testLineSize = 64

func testRequest(start, end, iterations uint64) Request {
	return Request{
		StartOffset: start,
		EndOffset:   end,
		LineSize:    testLineSize,
		Iterations:  iterations,
	}
}

func TestAlignToCacheLines(t *testing.T) {
	tests := []struct {
		name      string
		start     uint64
		end       uint64
		line      uint64
		wantStart uint64
		wantEnd   uint64
	}{
		{name: "unaligned both ends", start: 10, end: 200, line: 64, wantStart: 64, wantEnd: 192},
		{name: "already aligned", start: 64, end: 256, line: 64, wantStart: 64, wantEnd: 256},
		{name: "zero range", start: 0, end: 0, line: 64, wantStart: 0, wantEnd: 0},
		{name: "collapses", start: 1, end: 10, line: 64, wantStart: 64, wantEnd: 0},
		{name: "wide lines", start: 100, end: 1000, line: 128, wantStart: 128, wantEnd: 896},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotStart, gotEnd := AlignToCacheLines(tt.start, tt.end, tt.line)
			if gotStart != tt.wantStart || gotEnd != tt.wantEnd {
				t.Errorf("AlignToCacheLines(%d, %d, %d) = (%d, %d), want (%d, %d)",
					tt.start, tt.end, tt.line, gotStart, gotEnd, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestAlignToCacheLinesIdempotent(t *testing.T) {
	cases := [][3]uint64{
		{10, 200, 64},
		{0, 4096, 64},
		{1, 10, 64},
		{100, 100000, 128},
	}
	for _, c := range cases {
		s1, e1 := AlignToCacheLines(c[0], c[1], c[2])
		s2, e2 := AlignToCacheLines(s1, e1, c[2])
		if s1 != s2 || e1 != e2 {
			t.Errorf("AlignToCacheLines(%v) not idempotent: first (%d, %d), second (%d, %d)",
				c, s1, e1, s2, e2)
		}
	}
}

func TestSequentialReadTinyRange(t *testing.T) {
	buf := make([]byte, 4096)
	sample := sequentialRead(buf, testRequest(1, 10, 5))
	if sample.BytesProcessed != 0 || sample.BandwidthGBps != 0 || sample.LatencyNs != 0 || sample.TimeSeconds != 0 {
		t.Errorf("tiny range sample = %+v, want all zero", sample)
	}
}

func TestSequentialReadAccounting(t *testing.T) {
	const size = 1 << 20
	const iterations = 4
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i)
	}

	sample := sequentialRead(buf, testRequest(0, size, iterations))
	if sample.BytesProcessed != size*iterations {
		t.Errorf("BytesProcessed = %d, want %d", sample.BytesProcessed, size*iterations)
	}
	if sample.TimeSeconds <= 0 {
		t.Error("TimeSeconds not positive")
	}
	if sample.BandwidthGBps <= 0 {
		t.Error("BandwidthGBps not positive")
	}
}

func TestSequentialReadRangeBeyondBuffer(t *testing.T) {
	buf := make([]byte, 128)
	sample := sequentialRead(buf, testRequest(0, 4096, 1))
	if sample.BytesProcessed != 0 {
		t.Errorf("out of range request processed %d bytes, want 0", sample.BytesProcessed)
	}
}

func TestSequentialReadZeroLineSize(t *testing.T) {
	buf := make([]byte, 4096)
	req := testRequest(0, 4096, 1)
	req.LineSize = 0
	sample := sequentialRead(buf, req)
	if sample.BytesProcessed != 0 {
		t.Errorf("zero line size processed %d bytes, want 0", sample.BytesProcessed)
	}
}

func TestSequentialWriteValues(t *testing.T) {
	const size = 4096
	const iterations = 2
	buf := make([]byte, size)

	sample := sequentialWrite(buf, testRequest(0, size, iterations))
	if sample.BytesProcessed != size*iterations {
		t.Errorf("BytesProcessed = %d, want %d", sample.BytesProcessed, size*iterations)
	}

	// The last pass wrote basePattern+1 plus the word index.
	words := wordView(buf, 0, size)
	want := basePattern + iterations - 1
	for i, got := range words {
		if got != want+uint64(i) {
			t.Fatalf("word %d = %#x, want %#x", i, got, want+uint64(i))
		}
	}
}

func TestSequentialWriteRemainderCoverage(t *testing.T) {
	// A 32 byte line leaves a 4 word tail after the 8 word chunks.
	const size = 96
	buf := make([]byte, size)
	req := Request{EndOffset: size, LineSize: 32, Iterations: 1}

	sample := sequentialWrite(buf, req)
	if sample.BytesProcessed != size {
		t.Errorf("BytesProcessed = %d, want %d", sample.BytesProcessed, size)
	}

	words := wordView(buf, 0, size)
	for i, got := range words {
		if got != basePattern+uint64(i) {
			t.Fatalf("word %d = %#x, want %#x", i, got, basePattern+uint64(i))
		}
	}
}

func TestRandomAccessAccounting(t *testing.T) {
	const size = 1 << 16
	const iterations = 3
	buf := make([]byte, size)

	sample := randomAccess(buf, testRequest(0, size, iterations), false)
	lines := uint64(size / testLineSize)
	if sample.BytesProcessed != lines*testLineSize*iterations {
		t.Errorf("BytesProcessed = %d, want %d", sample.BytesProcessed, lines*testLineSize*iterations)
	}
}

func TestRandomWriteTouchesEveryLine(t *testing.T) {
	const size = 8192
	buf := make([]byte, size)

	sample := randomAccess(buf, testRequest(0, size, 1), true)
	if sample.BytesProcessed != size {
		t.Errorf("BytesProcessed = %d, want %d", sample.BytesProcessed, size)
	}

	// Each line w holds basePattern + its byte address + the word offset.
	words := wordView(buf, 0, size)
	lineWords := testLineSize / wordSize
	for j, got := range words {
		lineStart := j - j%lineWords
		want := basePattern + uint64(lineStart)*wordSize + uint64(j%lineWords)
		if got != want {
			t.Fatalf("word %d = %#x, want %#x", j, got, want)
		}
	}
}

func TestRandomAccessTinyRange(t *testing.T) {
	buf := make([]byte, 4096)
	sample := randomAccess(buf, testRequest(1, 10, 5), true)
	if sample.BytesProcessed != 0 {
		t.Errorf("tiny range processed %d bytes, want 0", sample.BytesProcessed)
	}
}

func TestCopyAccountsBothDirections(t *testing.T) {
	const size = 1 << 20
	src := make([]byte, size)
	dst := make([]byte, size)
	for i := range src {
		src[i] = byte(i * 7)
	}

	sample := copyLines(dst, src, testRequest(0, size, 1))
	if sample.BytesProcessed != 2*size {
		t.Errorf("BytesProcessed = %d, want %d", sample.BytesProcessed, 2*size)
	}
	for i := range dst {
		if dst[i] != src[i] {
			t.Fatalf("dst[%d] = %d, want %d", i, dst[i], src[i])
		}
	}
}

func TestTriadComputesValues(t *testing.T) {
	const size = 1 << 20
	aBuf := make([]byte, size)
	bBuf := make([]byte, size)
	cBuf := make([]byte, size)

	b := doubleView(bBuf, 0, size)
	c := doubleView(cBuf, 0, size)
	for i := range b {
		b[i] = float64(i) * 0.5
		c[i] = float64(i) * 0.25
	}

	sample := triad(aBuf, bBuf, cBuf, testRequest(0, size, 1))
	if sample.BytesProcessed != 3*size {
		t.Errorf("BytesProcessed = %d, want %d", sample.BytesProcessed, 3*size)
	}

	a := doubleView(aBuf, 0, size)
	for i := range a {
		want := b[i] + TriadScalar*c[i]
		if a[i] != want {
			t.Fatalf("a[%d] = %v, want %v", i, a[i], want)
		}
	}
}

func TestTriadAlignsToDoubles(t *testing.T) {
	// start=4 rounds up to 8; end=100 rounds down to 96.
	buf := func() []byte { return make([]byte, 128) }
	sample := triad(buf(), buf(), buf(), testRequest(4, 100, 1))

	const alignedSize = 96 - 8
	if sample.BytesProcessed != 3*alignedSize {
		t.Errorf("BytesProcessed = %d, want %d", sample.BytesProcessed, 3*alignedSize)
	}
}

func TestStopFlagShortCircuits(t *testing.T) {
	buf := make([]byte, 1<<16)
	stop := &atomic.Bool{}
	stop.Store(true)

	req := testRequest(0, 1<<16, 1000)
	req.Stop = stop

	for _, p := range Standard() {
		regions := [][]byte{buf, make([]byte, 1<<16), make([]byte, 1<<16), make([]byte, 1<<16)}
		sample := Run(p, regions, req)
		if sample.BytesProcessed != 0 {
			t.Errorf("%v processed %d bytes with stop flag set, want 0", p, sample.BytesProcessed)
		}
	}
}

func TestRunMissingRegions(t *testing.T) {
	buf := make([]byte, 4096)
	req := testRequest(0, 4096, 1)

	if sample := Run(Copy, [][]byte{buf}, req); sample.BytesProcessed != 0 {
		t.Errorf("Copy with one region processed %d bytes, want 0", sample.BytesProcessed)
	}
	if sample := Run(Triad, [][]byte{buf, buf, buf}, req); sample.BytesProcessed != 0 {
		t.Errorf("Triad with three regions processed %d bytes, want 0", sample.BytesProcessed)
	}
	if sample := Run(MatrixMultiply, [][]byte{buf}, req); sample.BytesProcessed != 0 {
		t.Errorf("MatrixMultiply sample from Run processed %d bytes, want 0", sample.BytesProcessed)
	}
}

func TestRunDispatch(t *testing.T) {
	const size = 1 << 16
	regions := [][]byte{
		make([]byte, size),
		make([]byte, size),
		make([]byte, size),
		make([]byte, size),
	}
	req := testRequest(0, size, 1)

	for _, p := range Standard() {
		sample := Run(p, regions, req)
		if sample.BytesProcessed == 0 {
			t.Errorf("%v processed no bytes", p)
		}
		if sample.BandwidthGBps <= 0 {
			t.Errorf("%v bandwidth not positive", p)
		}
	}
}
