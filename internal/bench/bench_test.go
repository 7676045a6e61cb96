package bench

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"membench/internal/host"
	"membench/internal/membuf"
	"membench/internal/patterns"
	"membench/internal/worksets"
)

type fakePlatform struct {
	mu          sync.Mutex
	pinned      []int
	pinErr      error
	validateErr error
	affinity    bool
	maxThreads  int
	cache       host.CacheHierarchy
	info        *host.SystemInfo
}

func newFakePlatform() *fakePlatform {
	cache := host.CacheHierarchy{
		L1DataSize: 64 * 1024,
		L2Size:     4 * 1024 * 1024,
		L3Size:     32 * 1024 * 1024,
		L1LineSize: 64,
		L2LineSize: 64,
		L3LineSize: 64,
	}
	return &fakePlatform{
		affinity:   true,
		maxThreads: 16,
		cache:      cache,
		info: &host.SystemInfo{
			CPUName:        "fake-cpu",
			PhysicalCores:  8,
			LogicalThreads: 16,
			CacheLineSize:  64,
			TotalRAMGB:     16,
			AvailableRAMGB: 8,
			Cache:          cache,
			Memory: host.MemorySpecs{
				TheoreticalBandwidthGBps: 51.2,
			},
		},
	}
}

func (f *fakePlatform) Name() string                                          { return "fake" }
func (f *fakePlatform) SystemInfo() *host.SystemInfo                          { return f.info }
func (f *fakePlatform) CacheHierarchy(host.AffinityClass) host.CacheHierarchy { return f.cache }
func (f *fakePlatform) MaxThreads(host.AffinityClass) int                     { return f.maxThreads }
func (f *fakePlatform) SupportsAffinity() bool                                { return f.affinity }

func (f *fakePlatform) ValidateThreadCount(numThreads int, _ host.AffinityClass) error {
	if f.validateErr != nil {
		return f.validateErr
	}
	if numThreads < 1 || numThreads > f.maxThreads {
		return errors.New("thread count out of range")
	}
	return nil
}

func (f *fakePlatform) PinThread(threadID int, _ host.AffinityClass, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = append(f.pinned, threadID)
	return f.pinErr
}

func (f *fakePlatform) pinnedThreads() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.pinned))
	copy(out, f.pinned)
	sort.Ints(out)
	return out
}

func TestPartitionCoverage(t *testing.T) {
	totals := []uint64{4096, 12345, 1 << 20}
	threadCounts := []int{1, 2, 3, 7, 64}

	for _, total := range totals {
		for _, numThreads := range threadCounts {
			spans := partition(total, numThreads)
			if len(spans) != numThreads {
				t.Fatalf("partition(%d, %d) returned %d spans", total, numThreads, len(spans))
			}
			if spans[0].start != 0 {
				t.Errorf("partition(%d, %d): first span starts at %d", total, numThreads, spans[0].start)
			}
			for i := 1; i < len(spans); i++ {
				if spans[i].start != spans[i-1].end {
					t.Errorf("partition(%d, %d): gap between span %d and %d", total, numThreads, i-1, i)
				}
			}
			if last := spans[len(spans)-1]; last.end != total {
				t.Errorf("partition(%d, %d): last span ends at %d, want %d", total, numThreads, last.end, total)
			}
		}
	}
}

func TestRunSequentialReadAccounting(t *testing.T) {
	r := NewRunner(newFakePlatform(), Options{})

	res, err := r.Run(patterns.SequentialRead, 64*1024, 2, 2, "64KB")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	// Two threads tile the buffer at a line-aligned boundary, so every byte
	// is counted exactly once per iteration.
	if want := uint64(64 * 1024 * 2); res.BytesProcessed != want {
		t.Errorf("BytesProcessed = %d, want %d", res.BytesProcessed, want)
	}
	if res.TestName != "Sequential Read" {
		t.Errorf("TestName = %q", res.TestName)
	}
	if res.WorkingSet != "64KB" || res.NumThreads != 2 {
		t.Errorf("result metadata = %q/%d", res.WorkingSet, res.NumThreads)
	}
	if res.WorkingSetBytes != 64*1024 {
		t.Errorf("WorkingSetBytes = %d, want %d", res.WorkingSetBytes, 64*1024)
	}
	if res.TimeSeconds <= 0 || res.BandwidthGBps <= 0 {
		t.Errorf("time=%v bandwidth=%v, want both > 0", res.TimeSeconds, res.BandwidthGBps)
	}
}

func TestRunOddThreadSplit(t *testing.T) {
	r := NewRunner(newFakePlatform(), Options{})

	res, err := r.Run(patterns.SequentialWrite, 192*1024, 1, 3, "")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if want := uint64(192 * 1024); res.BytesProcessed != want {
		t.Errorf("BytesProcessed = %d, want %d", res.BytesProcessed, want)
	}
}

func TestRunCopyCountsBothDirections(t *testing.T) {
	r := NewRunner(newFakePlatform(), Options{})

	res, err := r.Run(patterns.Copy, 128*1024, 1, 1, "")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if want := uint64(2 * 64 * 1024); res.BytesProcessed != want {
		t.Errorf("BytesProcessed = %d, want %d", res.BytesProcessed, want)
	}
}

func TestRunTriadSplitsFourBuffers(t *testing.T) {
	r := NewRunner(newFakePlatform(), Options{})

	res, err := r.Run(patterns.Triad, 256*1024, 1, 1, "")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if want := uint64(3 * 64 * 1024); res.BytesProcessed != want {
		t.Errorf("BytesProcessed = %d, want %d", res.BytesProcessed, want)
	}
}

func TestRunPinsEachWorker(t *testing.T) {
	p := newFakePlatform()
	r := NewRunner(p, Options{})

	if _, err := r.Run(patterns.SequentialRead, 64*1024, 1, 4, ""); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	got := p.pinnedThreads()
	want := []int{0, 1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("pinned threads = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pinned threads = %v, want %v", got, want)
		}
	}
}

func TestRunPinFailureNonFatal(t *testing.T) {
	p := newFakePlatform()
	p.pinErr = errors.New("operation not permitted")
	r := NewRunner(p, Options{})

	res, err := r.Run(patterns.SequentialRead, 64*1024, 1, 2, "")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.BytesProcessed == 0 {
		t.Error("run with failing pins processed no bytes")
	}
}

func TestRunSkipsPinningWithoutAffinity(t *testing.T) {
	p := newFakePlatform()
	p.affinity = false
	r := NewRunner(p, Options{})

	if _, err := r.Run(patterns.SequentialRead, 64*1024, 1, 2, ""); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := p.pinnedThreads(); len(got) != 0 {
		t.Errorf("PinThread called %d times on a platform without affinity", len(got))
	}
}

func TestRunThreadCountValidation(t *testing.T) {
	p := newFakePlatform()
	p.validateErr = errors.New("performance cores are limited to 8 threads")
	r := NewRunner(p, Options{Class: host.AffinityPerformance})

	_, err := r.Run(patterns.SequentialRead, 64*1024, 1, 12, "")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Run() error = %v, want ErrValidation", err)
	}
}

func TestRunBufferFloor(t *testing.T) {
	r := NewRunner(newFakePlatform(), Options{})

	// 4KB split across copy's two buffers drops below the region floor.
	_, err := r.Run(patterns.Copy, 4*1024, 1, 1, "")
	if !errors.Is(err, membuf.ErrAllocation) {
		t.Fatalf("Run() error = %v, want ErrAllocation", err)
	}
}

func TestRunAvailableMemoryGuard(t *testing.T) {
	r := NewRunner(newFakePlatform(), Options{})

	_, err := r.Run(patterns.SequentialRead, 9<<30, 1, 1, "")
	if !errors.Is(err, membuf.ErrAllocation) {
		t.Fatalf("Run() error = %v, want ErrAllocation", err)
	}
}

func TestRunMatrixMultiply(t *testing.T) {
	r := NewRunner(newFakePlatform(), Options{MatrixSize: 32})

	res, err := r.Run(patterns.MatrixMultiply, 0, 2, 2, "")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.TestName != "Matrix Multiply (GEMM)" {
		t.Errorf("TestName = %q", res.TestName)
	}
	// Each thread multiplies its own full-size matrices.
	if want := uint64(3*32*32*4) * 2 * 2; res.BytesProcessed != want {
		t.Errorf("BytesProcessed = %d, want %d", res.BytesProcessed, want)
	}
	if want := uint64(3*32*32*4) * 2; res.WorkingSetBytes != want {
		t.Errorf("WorkingSetBytes = %d, want %d", res.WorkingSetBytes, want)
	}
	if res.GFLOPS <= 0 {
		t.Errorf("GFLOPS = %v, want > 0", res.GFLOPS)
	}
}

func TestRunMatrixMemoryGuard(t *testing.T) {
	r := NewRunner(newFakePlatform(), Options{MatrixSize: 30000})

	_, err := r.Run(patterns.MatrixMultiply, 0, 1, 1, "")
	if !errors.Is(err, membuf.ErrAllocation) {
		t.Fatalf("Run() error = %v, want ErrAllocation", err)
	}
}

func TestRunStoppedProducesZeroSample(t *testing.T) {
	var stop atomic.Bool
	stop.Store(true)
	r := NewRunner(newFakePlatform(), Options{Stop: &stop})

	res, err := r.Run(patterns.SequentialRead, 64*1024, 10, 2, "")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.BytesProcessed != 0 || res.BandwidthGBps != 0 {
		t.Errorf("stopped run produced bytes=%d bandwidth=%v", res.BytesProcessed, res.BandwidthGBps)
	}
}

func TestScaleIterations(t *testing.T) {
	tests := []struct {
		sizeBytes uint64
		base      uint64
		want      uint64
	}{
		{4 * 1024, 10, 1000000},
		{64 * 1024, 10, 1000000},
		{4 * 1024 * 1024, 10, 1000000},
		{6 * 1024 * 1024, 10, 10000},
		{8 * 1024 * 1024, 10, 10000},
		{16 * 1024 * 1024, 10, 10},
		{1 << 30, 1, 1},
	}
	for _, tt := range tests {
		if got := ScaleIterations(tt.sizeBytes, tt.base); got != tt.want {
			t.Errorf("ScaleIterations(%d, %d) = %d, want %d", tt.sizeBytes, tt.base, got, tt.want)
		}
	}
}

func TestSweepSkipsFailingSteps(t *testing.T) {
	r := NewRunner(newFakePlatform(), Options{})
	sets := []worksets.Descriptor{
		{SizeBytes: 4 * 1024, Label: "tiny"},
		{SizeBytes: 16 * 1024, Label: "16KB"},
	}

	results, err := r.sweepSets(patterns.Copy, 1, 1, sets)
	if err == nil {
		t.Fatal("sweep with a failing step returned nil error")
	}
	if !strings.Contains(err.Error(), "tiny") {
		t.Errorf("advisory error %q does not name the skipped step", err)
	}
	if len(results) != 1 || results[0].WorkingSet != "16KB" {
		t.Fatalf("results = %+v, want the single 16KB step", results)
	}
	if results[0].BytesProcessed == 0 {
		t.Error("surviving step processed no bytes")
	}
}

func TestSweepStopsEarly(t *testing.T) {
	var stop atomic.Bool
	stop.Store(true)
	r := NewRunner(newFakePlatform(), Options{Stop: &stop})
	sets := []worksets.Descriptor{
		{SizeBytes: 16 * 1024, Label: "first"},
		{SizeBytes: 16 * 1024, Label: "second"},
	}

	results, err := r.sweepSets(patterns.SequentialRead, 1, 1, sets)
	if err != nil {
		t.Fatalf("sweepSets() error: %v", err)
	}
	if len(results) != 1 || results[0].WorkingSet != "first" {
		t.Fatalf("results = %+v, want only the first step", results)
	}
}

func TestSweepRejectsMatrixMultiply(t *testing.T) {
	r := NewRunner(newFakePlatform(), Options{})

	_, err := r.Sweep(patterns.MatrixMultiply, 1, 1)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Sweep() error = %v, want ErrValidation", err)
	}
}

func TestWatchdogFires(t *testing.T) {
	var stop atomic.Bool
	cancel := StartWatchdog(20*time.Millisecond, &stop)
	defer cancel()

	deadline := time.Now().Add(2 * time.Second)
	for !stop.Load() {
		if time.Now().After(deadline) {
			t.Fatal("watchdog did not fire within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatchdogCancel(t *testing.T) {
	var stop atomic.Bool
	cancel := StartWatchdog(30*time.Millisecond, &stop)
	cancel()
	cancel()

	time.Sleep(80 * time.Millisecond)
	if stop.Load() {
		t.Error("cancelled watchdog still set the stop flag")
	}
}
