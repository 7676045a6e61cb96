// Package matmul implements the dense matrix multiply workload. Unlike the
// streaming kernels it is compute bound, so it reports GFLOPS alongside the
// usual bandwidth figures.
package matmul

import (
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// DefaultSize is the square dimension used when a run selects the matrix
// multiply pattern without further configuration.
const DefaultSize = 1024

const blockSize = 64

const accelerationName = "Go native (blocked)"

// Config sets the matrix dimensions and run length. A multiplies as MxK,
// B as KxN, the result C as MxN.
type Config struct {
	M          int
	K          int
	N          int
	Iterations uint64
	UseDouble  bool
}

// NewConfig returns a square configuration of the given dimension.
func NewConfig(size int, iterations uint64, useDouble bool) Config {
	return Config{M: size, K: size, N: size, Iterations: iterations, UseDouble: useDouble}
}

// FootprintBytes reports the memory the three matrices occupy.
func (c Config) FootprintBytes() uint64 {
	elem := uint64(4)
	if c.UseDouble {
		elem = 8
	}
	return uint64(c.M*c.K+c.K*c.N+c.M*c.N) * elem
}

// Stats carries the outcome of one multiply run. Bandwidth here is raw and
// never clamped; a cache resident multiply legitimately exceeds memory
// bandwidth ceilings.
type Stats struct {
	GFLOPS         float64 `json:"gflops"`
	BandwidthGBps  float64 `json:"bandwidth_gbps"`
	LatencyNs      float64 `json:"latency_ns"`
	BytesProcessed uint64  `json:"bytes_processed"`
	TimeSeconds    float64 `json:"time_seconds"`
	Operations     uint64  `json:"operations"`
	Acceleration   string  `json:"acceleration"`
}

// Run executes the configured multiply over randomly initialized matrices,
// accumulating C += A*B once per iteration. stop is polled per iteration.
func Run(cfg Config, stop *atomic.Bool) Stats {
	if cfg.M <= 0 || cfg.K <= 0 || cfg.N <= 0 {
		return Stats{Acceleration: accelerationName}
	}
	if cfg.UseDouble {
		return runFloat64(cfg, stop)
	}
	return runFloat32(cfg, stop)
}

func runFloat32(cfg Config, stop *atomic.Bool) Stats {
	a := make([]float32, cfg.M*cfg.K)
	b := make([]float32, cfg.K*cfg.N)
	c := make([]float32, cfg.M*cfg.N)
	for i := range a {
		a[i] = rand.Float32()*2 - 1
	}
	for i := range b {
		b[i] = rand.Float32()*2 - 1
	}

	began := time.Now()
	var completed uint64
	for iter := uint64(0); iter < cfg.Iterations; iter++ {
		if stop != nil && stop.Load() {
			break
		}
		gemm32(c, a, b, cfg.M, cfg.K, cfg.N)
		completed++
	}
	elapsed := time.Since(began).Seconds()

	operations := 2 * uint64(cfg.M) * uint64(cfg.N) * uint64(cfg.K) * completed
	bytes := uint64(cfg.M*cfg.K+cfg.K*cfg.N+cfg.M*cfg.N) * 4 * completed
	return computeStats(bytes, elapsed, operations)
}

func runFloat64(cfg Config, stop *atomic.Bool) Stats {
	a := make([]float64, cfg.M*cfg.K)
	b := make([]float64, cfg.K*cfg.N)
	c := make([]float64, cfg.M*cfg.N)
	for i := range a {
		a[i] = rand.Float64()*2 - 1
	}
	for i := range b {
		b[i] = rand.Float64()*2 - 1
	}

	began := time.Now()
	var completed uint64
	for iter := uint64(0); iter < cfg.Iterations; iter++ {
		if stop != nil && stop.Load() {
			break
		}
		gemm64(c, a, b, cfg.M, cfg.K, cfg.N)
		completed++
	}
	elapsed := time.Since(began).Seconds()

	operations := 2 * uint64(cfg.M) * uint64(cfg.N) * uint64(cfg.K) * completed
	bytes := uint64(cfg.M*cfg.K+cfg.K*cfg.N+cfg.M*cfg.N) * 8 * completed
	return computeStats(bytes, elapsed, operations)
}

// gemm32 accumulates C += A*B with cache blocking. Row segments are sliced
// once per block so the inner loop runs over contiguous memory.
func gemm32(c, a []float32, b []float32, m, k, n int) {
	for ii := 0; ii < m; ii += blockSize {
		iMax := min(ii+blockSize, m)
		for kk := 0; kk < k; kk += blockSize {
			kMax := min(kk+blockSize, k)
			for jj := 0; jj < n; jj += blockSize {
				jMax := min(jj+blockSize, n)
				for i := ii; i < iMax; i++ {
					cRow := c[i*n+jj : i*n+jMax]
					for l := kk; l < kMax; l++ {
						av := a[i*k+l]
						bRow := b[l*n+jj : l*n+jMax]
						for j, bv := range bRow {
							cRow[j] += av * bv
						}
					}
				}
			}
		}
	}
}

func gemm64(c, a []float64, b []float64, m, k, n int) {
	for ii := 0; ii < m; ii += blockSize {
		iMax := min(ii+blockSize, m)
		for kk := 0; kk < k; kk += blockSize {
			kMax := min(kk+blockSize, k)
			for jj := 0; jj < n; jj += blockSize {
				jMax := min(jj+blockSize, n)
				for i := ii; i < iMax; i++ {
					cRow := c[i*n+jj : i*n+jMax]
					for l := kk; l < kMax; l++ {
						av := a[i*k+l]
						bRow := b[l*n+jj : l*n+jMax]
						for j, bv := range bRow {
							cRow[j] += av * bv
						}
					}
				}
			}
		}
	}
}

func computeStats(bytes uint64, seconds float64, operations uint64) Stats {
	s := Stats{
		BytesProcessed: bytes,
		TimeSeconds:    seconds,
		Operations:     operations,
		Acceleration:   accelerationName,
	}
	if seconds > 0 {
		s.GFLOPS = float64(operations) / (seconds * 1e9)
		s.BandwidthGBps = float64(bytes) / (seconds * 1e9)
	}
	if operations > 0 {
		s.LatencyNs = (seconds * 1e9) / float64(operations)
	}
	return s
}
