// Package config loads and validates YAML run profiles. A profile captures
// everything a benchmark invocation needs so runs are reproducible; CLI flags
// override individual fields.
package config

import (
	"time"
)

const (
	// DefaultMemorySizeGB is the working-set size used when a profile names
	// neither explicit sizes nor a cache hierarchy sweep.
	DefaultMemorySizeGB = 6.0

	// MaxMemorySizeGB bounds a single requested working set.
	MaxMemorySizeGB = 1024.0

	// DefaultIterations is the base iteration count per step.
	DefaultIterations = 10
)

// Profile is one complete run description.
type Profile struct {
	Benchmark BenchmarkInfo `yaml:"benchmark"`
	Run       RunConfig     `yaml:"run"`
	Export    ExportConfig  `yaml:"export"`
}

type BenchmarkInfo struct {
	Name                 string  `yaml:"name"`
	Description          string  `yaml:"description"`
	MaxT                 int     `yaml:"max_t"`
	LogLevel             string  `yaml:"log_level"`
	BandwidthCeilingGBps float64 `yaml:"bandwidth_ceiling_gbps"`
}

// RunConfig selects what to measure. CacheHierarchy switches to sweep mode,
// in which SizesGB is ignored and the working sets come from the detected
// cache topology.
type RunConfig struct {
	Pattern        string    `yaml:"pattern"`
	SizesGB        []float64 `yaml:"sizes_gb"`
	Iterations     uint64    `yaml:"iterations"`
	Threads        int       `yaml:"threads"`
	Affinity       string    `yaml:"affinity"`
	CacheHierarchy bool      `yaml:"cache_hierarchy"`
	MatrixSize     int       `yaml:"matrix_size"`
	MatrixDouble   bool      `yaml:"matrix_double"`
	Format         string    `yaml:"format"`
}

// ExportConfig wires the optional result sink. With Enabled false the rest of
// the section is ignored.
type ExportConfig struct {
	Enabled  bool           `yaml:"enabled"`
	DB       DatabaseConfig `yaml:"db"`
	SpoolDir string         `yaml:"spool_dir"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

// GetMaxDuration returns the watchdog limit, zero when the profile sets none.
func (p *Profile) GetMaxDuration() time.Duration {
	return time.Duration(p.Benchmark.MaxT) * time.Second
}
