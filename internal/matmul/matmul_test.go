package matmul

import (
	"math"
	"sync/atomic"
	"testing"
)

func naive32(c, a, b []float32, m, k, n int) {
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for l := 0; l < k; l++ {
				sum += a[i*k+l] * b[l*n+j]
			}
			c[i*n+j] += sum
		}
	}
}

func naive64(c, a, b []float64, m, k, n int) {
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float64
			for l := 0; l < k; l++ {
				sum += a[i*k+l] * b[l*n+j]
			}
			c[i*n+j] += sum
		}
	}
}

func TestNewConfigSquare(t *testing.T) {
	cfg := NewConfig(256, 5, true)
	if cfg.M != 256 || cfg.K != 256 || cfg.N != 256 {
		t.Fatalf("expected square 256 config, got M=%d K=%d N=%d", cfg.M, cfg.K, cfg.N)
	}
	if cfg.Iterations != 5 || !cfg.UseDouble {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestFootprintBytes(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want uint64
	}{
		{
			name: "square float32",
			cfg:  Config{M: 100, K: 100, N: 100},
			want: 3 * 100 * 100 * 4,
		},
		{
			name: "square float64",
			cfg:  Config{M: 100, K: 100, N: 100, UseDouble: true},
			want: 3 * 100 * 100 * 8,
		},
		{
			name: "rectangular",
			cfg:  Config{M: 10, K: 20, N: 30},
			want: (10*20 + 20*30 + 10*30) * 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.FootprintBytes(); got != tt.want {
				t.Errorf("FootprintBytes() = %d, want %d", got, tt.want)
			}
		})
	}
}

// Uneven dimensions force partial blocks on every edge of the tiling.
func TestGemm32MatchesNaive(t *testing.T) {
	const m, k, n = 50, 37, 29
	a := make([]float32, m*k)
	b := make([]float32, k*n)
	for i := range a {
		a[i] = float32(i%13)*0.25 - 1.5
	}
	for i := range b {
		b[i] = float32(i%7)*0.5 - 1.0
	}

	got := make([]float32, m*n)
	want := make([]float32, m*n)
	gemm32(got, a, b, m, k, n)
	naive32(want, a, b, m, k, n)

	for i := range got {
		if diff := math.Abs(float64(got[i] - want[i])); diff > 1e-3 {
			t.Fatalf("element %d: blocked=%v naive=%v diff=%v", i, got[i], want[i], diff)
		}
	}
}

func TestGemm64MatchesNaive(t *testing.T) {
	const m, k, n = 33, 65, 17
	a := make([]float64, m*k)
	b := make([]float64, k*n)
	for i := range a {
		a[i] = float64(i%11)*0.125 - 0.5
	}
	for i := range b {
		b[i] = float64(i%5)*0.25 - 0.75
	}

	got := make([]float64, m*n)
	want := make([]float64, m*n)
	gemm64(got, a, b, m, k, n)
	naive64(want, a, b, m, k, n)

	for i := range got {
		if diff := math.Abs(got[i] - want[i]); diff > 1e-9 {
			t.Fatalf("element %d: blocked=%v naive=%v diff=%v", i, got[i], want[i], diff)
		}
	}
}

// Repeated calls must accumulate into C rather than overwrite it.
func TestGemmAccumulates(t *testing.T) {
	const m, k, n = 16, 16, 16
	a := make([]float64, m*k)
	b := make([]float64, k*n)
	for i := range a {
		a[i] = float64(i % 3)
	}
	for i := range b {
		b[i] = float64(i % 4)
	}

	once := make([]float64, m*n)
	twice := make([]float64, m*n)
	gemm64(once, a, b, m, k, n)
	gemm64(twice, a, b, m, k, n)
	gemm64(twice, a, b, m, k, n)

	for i := range twice {
		if diff := math.Abs(twice[i] - 2*once[i]); diff > 1e-9 {
			t.Fatalf("element %d: twice=%v want %v", i, twice[i], 2*once[i])
		}
	}
}

func TestRunAccounting(t *testing.T) {
	cfg := NewConfig(32, 3, false)
	s := Run(cfg, nil)

	wantBytes := cfg.FootprintBytes() * 3
	if s.BytesProcessed != wantBytes {
		t.Errorf("BytesProcessed = %d, want %d", s.BytesProcessed, wantBytes)
	}
	wantOps := uint64(2*32*32*32) * 3
	if s.Operations != wantOps {
		t.Errorf("Operations = %d, want %d", s.Operations, wantOps)
	}
	if s.TimeSeconds <= 0 {
		t.Errorf("TimeSeconds = %v, want > 0", s.TimeSeconds)
	}
	if s.GFLOPS <= 0 {
		t.Errorf("GFLOPS = %v, want > 0", s.GFLOPS)
	}
	if s.Acceleration == "" {
		t.Error("Acceleration is empty")
	}
}

func TestRunDoubleUsesWiderElements(t *testing.T) {
	single := Run(NewConfig(16, 1, false), nil)
	double := Run(NewConfig(16, 1, true), nil)
	if double.BytesProcessed != 2*single.BytesProcessed {
		t.Errorf("double precision bytes = %d, want %d", double.BytesProcessed, 2*single.BytesProcessed)
	}
}

func TestRunStopFlag(t *testing.T) {
	var stop atomic.Bool
	stop.Store(true)
	s := Run(NewConfig(64, 100, false), &stop)
	if s.BytesProcessed != 0 || s.Operations != 0 {
		t.Errorf("stopped run processed bytes=%d ops=%d, want 0", s.BytesProcessed, s.Operations)
	}
	if s.Acceleration == "" {
		t.Error("Acceleration is empty")
	}
}

func TestRunInvalidDimensions(t *testing.T) {
	for _, cfg := range []Config{
		{M: 0, K: 8, N: 8, Iterations: 1},
		{M: 8, K: -1, N: 8, Iterations: 1},
		{M: 8, K: 8, N: 0, Iterations: 1},
	} {
		s := Run(cfg, nil)
		if s.BytesProcessed != 0 || s.Operations != 0 || s.GFLOPS != 0 {
			t.Errorf("config %+v produced non-zero stats: %+v", cfg, s)
		}
	}
}
