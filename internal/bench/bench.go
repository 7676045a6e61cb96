// Package bench orchestrates multithreaded benchmark runs: it allocates the
// aligned regions a pattern needs, partitions them across OS-locked worker
// goroutines pinned to the selected core class, and aggregates the per-thread
// samples into one result per pattern and working-set size.
package bench

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"membench/internal/host"
	"membench/internal/logging"
	"membench/internal/matmul"
	"membench/internal/membuf"
	"membench/internal/patterns"
	"membench/internal/stats"

	"github.com/sirupsen/logrus"
)

// ErrValidation marks requests the orchestrator refuses to run, such as
// thread counts the selected core class cannot serve.
var ErrValidation = errors.New("validation error")

// TestResult is one aggregated measurement, the unit handed to the output
// and export layers.
type TestResult struct {
	TestName        string `json:"test_name"`
	Pattern         string `json:"pattern"`
	WorkingSet      string `json:"working_set,omitempty"`
	WorkingSetBytes uint64 `json:"working_set_bytes,omitempty"`
	NumThreads      int    `json:"num_threads"`
	stats.Sample
	EfficiencyPct float64  `json:"efficiency_pct"`
	GFLOPS        float64  `json:"gflops,omitempty"`
	Suspicious    []string `json:"suspicious,omitempty"`
}

// Options configures a Runner. Zero values select the defaults: the default
// affinity class, the default bandwidth ceiling, square matrices of
// matmul.DefaultSize, and a private stop flag.
type Options struct {
	Class        host.AffinityClass
	CeilingGBps  float64
	MatrixSize   int
	MatrixDouble bool
	Stop         *atomic.Bool
}

// Runner executes benchmark steps against one platform with a fixed affinity
// class. Workers share only the stop flag and their own result slots, so a
// Runner is safe to reuse across sequential runs but not concurrent ones.
type Runner struct {
	platform host.Platform
	class    host.AffinityClass
	ceiling  float64
	lineSize uint64
	matrix   matmul.Config
	stop     *atomic.Bool
	logger   *logrus.Logger
	sweepLog *logrus.Logger
}

// NewRunner builds a Runner for the given platform. The cache-line size is
// taken from the platform's inventory once and reused for every step.
func NewRunner(platform host.Platform, opts Options) *Runner {
	lineSize := platform.SystemInfo().CacheLineSize
	if lineSize == 0 {
		lineSize = host.DefaultCacheLineSize
	}
	matrixSize := opts.MatrixSize
	if matrixSize <= 0 {
		matrixSize = matmul.DefaultSize
	}
	stop := opts.Stop
	if stop == nil {
		stop = new(atomic.Bool)
	}

	r := &Runner{
		platform: platform,
		class:    opts.Class,
		ceiling:  opts.CeilingGBps,
		lineSize: lineSize,
		matrix:   matmul.NewConfig(matrixSize, 0, opts.MatrixDouble),
		stop:     stop,
		logger:   logging.GetLogger(),
		sweepLog: logging.GetSweepLogger(),
	}

	if rdt := platform.SystemInfo().RDT; rdt.Supported && len(rdt.AvailableClasses) > 1 {
		r.logger.WithField("classes", rdt.AvailableClasses).Warn(
			"RDT cache allocation classes are active; measured bandwidth may be partition limited")
	}
	return r
}

// Run executes one pattern over one total size and returns the aggregated
// result. workingSet labels the result for output; pass the sweep label or a
// human-readable size.
func (r *Runner) Run(pattern patterns.Pattern, totalSize, iterations uint64, numThreads int, workingSet string) (TestResult, error) {
	if err := r.platform.ValidateThreadCount(numThreads, r.class); err != nil {
		return TestResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if pattern == patterns.MatrixMultiply {
		return r.runMatrix(iterations, numThreads, workingSet)
	}

	regions, perBuffer, err := r.allocate(pattern, totalSize)
	if err != nil {
		return TestResult{}, err
	}
	defer releaseRegions(regions)

	views := make([][]byte, len(regions))
	for i, reg := range regions {
		views[i] = reg.Bytes()
	}

	spans := partition(perBuffer, numThreads)
	samples := make([]stats.Sample, numThreads)
	wall := r.runParallel(numThreads, func(id int) {
		samples[id] = patterns.Run(pattern, views, patterns.Request{
			StartOffset: spans[id].start,
			EndOffset:   spans[id].end,
			LineSize:    r.lineSize,
			Iterations:  iterations,
			CeilingGBps: r.ceiling,
			Stop:        r.stop,
		})
	})

	agg := stats.Aggregate(samples, wall, r.lineSize, r.ceiling)
	result := r.finishResult(pattern, workingSet, totalSize, numThreads, agg)

	r.logger.WithFields(logrus.Fields{
		"pattern":        pattern.Slug(),
		"size_bytes":     totalSize,
		"threads":        numThreads,
		"iterations":     iterations,
		"bandwidth_gbps": agg.BandwidthGBps,
		"latency_ns":     agg.LatencyNs,
	}).Debug("Benchmark step complete")

	return result, nil
}

// runMatrix runs the matrix multiply workload. Every worker multiplies its
// own full-size matrices, so the memory footprint scales with the thread
// count rather than being partitioned.
func (r *Runner) runMatrix(iterations uint64, numThreads int, workingSet string) (TestResult, error) {
	cfg := r.matrix
	cfg.Iterations = iterations

	if avail := r.platform.SystemInfo().AvailableRAMGB; avail > 0 {
		need := cfg.FootprintBytes() * uint64(numThreads)
		if need > avail<<30 {
			return TestResult{}, fmt.Errorf("%w: %d matrix sets of %d bytes exceed available memory (%d GB)",
				membuf.ErrAllocation, numThreads, cfg.FootprintBytes(), avail)
		}
	}

	perThread := make([]matmul.Stats, numThreads)
	wall := r.runParallel(numThreads, func(id int) {
		perThread[id] = matmul.Run(cfg, r.stop)
	})

	samples := make([]stats.Sample, numThreads)
	var operations uint64
	for i, m := range perThread {
		samples[i] = stats.Sample{
			BytesProcessed: m.BytesProcessed,
			TimeSeconds:    m.TimeSeconds,
			BandwidthGBps:  m.BandwidthGBps,
			LatencyNs:      m.LatencyNs,
		}
		operations += m.Operations
	}

	agg := stats.Aggregate(samples, wall, r.lineSize, r.ceiling)
	result := r.finishResult(patterns.MatrixMultiply, workingSet, cfg.FootprintBytes()*uint64(numThreads), numThreads, agg)
	if wall > 0 {
		result.GFLOPS = float64(operations) / (wall * 1e9)
	}

	r.logger.WithFields(logrus.Fields{
		"dimension":  cfg.M,
		"threads":    numThreads,
		"iterations": iterations,
		"gflops":     result.GFLOPS,
	}).Debug("Matrix multiply step complete")

	return result, nil
}

func (r *Runner) finishResult(pattern patterns.Pattern, workingSet string, sizeBytes uint64, numThreads int, agg stats.Sample) TestResult {
	specs := r.platform.SystemInfo().Memory
	result := TestResult{
		TestName:        pattern.String(),
		Pattern:         pattern.Slug(),
		WorkingSet:      workingSet,
		WorkingSetBytes: sizeBytes,
		NumThreads:      numThreads,
		Sample:          agg,
		EfficiencyPct:   stats.Efficiency(agg.BandwidthGBps, specs.TheoreticalBandwidthGBps),
	}
	_, result.Suspicious = stats.Validate(agg, specs.TheoreticalBandwidthGBps, specs.Virtualized)
	return result
}

// runParallel starts one OS-locked goroutine per thread, pins each to the
// active class, runs body, and returns the wall-clock of the whole phase.
// Spawn and join are inside the timed region.
func (r *Runner) runParallel(numThreads int, body func(threadID int)) float64 {
	var wg sync.WaitGroup
	began := time.Now()
	for i := 0; i < numThreads; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			r.pin(id, numThreads)
			body(id)
		}(i)
	}
	wg.Wait()
	return time.Since(began).Seconds()
}

// pin requests affinity placement for one worker. Failures leave the worker
// running unpinned; the run is still valid, just less controlled.
func (r *Runner) pin(threadID, totalThreads int) {
	if !r.platform.SupportsAffinity() {
		return
	}
	if err := r.platform.PinThread(threadID, r.class, totalThreads); err != nil {
		r.logger.WithError(err).WithField("thread", threadID).Debug("Could not pin worker thread")
	}
}

// allocate sizes and creates the regions a pattern needs. The total size is
// split evenly across the pattern's buffer count; a per-buffer size below the
// region floor or the cache-line size is rejected before any allocation.
func (r *Runner) allocate(pattern patterns.Pattern, totalSize uint64) ([]*membuf.Region, uint64, error) {
	count := uint64(pattern.BufferCount())
	perBuffer := totalSize / count
	if perBuffer < membuf.MinRegionSize || perBuffer < r.lineSize {
		return nil, 0, fmt.Errorf("%w: per-buffer size %d below minimum %d (total %d across %d buffers)",
			membuf.ErrAllocation, perBuffer, membuf.MinRegionSize, totalSize, count)
	}
	if avail := r.platform.SystemInfo().AvailableRAMGB; avail > 0 && totalSize > avail<<30 {
		return nil, 0, fmt.Errorf("%w: requested %d bytes exceeds available memory (%d GB)",
			membuf.ErrAllocation, totalSize, avail)
	}

	regions := make([]*membuf.Region, 0, count)
	for i := uint64(0); i < count; i++ {
		reg, err := membuf.NewRegion(perBuffer, r.lineSize)
		if err != nil {
			releaseRegions(regions)
			return nil, 0, err
		}
		regions = append(regions, reg)
	}
	return regions, perBuffer, nil
}

func releaseRegions(regions []*membuf.Region) {
	for _, reg := range regions {
		reg.Release()
	}
}

type span struct {
	start uint64
	end   uint64
}

// partition tiles [0, total) across numThreads contiguous spans. The last
// thread absorbs the remainder, so coverage is exact with no gaps or
// overlaps.
func partition(total uint64, numThreads int) []span {
	if numThreads < 1 {
		numThreads = 1
	}
	per := total / uint64(numThreads)
	spans := make([]span, numThreads)
	var offset uint64
	for i := range spans {
		end := offset + per
		if i == numThreads-1 {
			end = total
		}
		spans[i] = span{start: offset, end: end}
		offset = end
	}
	return spans
}
