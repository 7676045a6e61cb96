package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type checksumPayload struct {
	Pattern    string    `json:"pattern"`
	SizesGB    []float64 `json:"sizes_gb,omitempty"`
	Iterations uint64    `json:"iterations"`
	Threads    int       `json:"threads"`
	Affinity   string    `json:"affinity"`
	Sweep      bool      `json:"sweep"`
	MatrixSize int       `json:"matrix_size"`
	Ceiling    float64   `json:"ceiling_gbps"`
}

// ProfileChecksum returns a short, stable checksum identifying the effective
// run parameters, independent of profile name or export settings. Two runs
// with the same checksum measured the same thing and can be compared.
//
// It computes MD5 over a canonical JSON representation and returns the first
// 6 hex characters (equivalent to `md5sum | cut -c1-6`).
func ProfileChecksum(p *Profile) (string, error) {
	if p == nil {
		return "", nil
	}

	sizes := make([]float64, len(p.Run.SizesGB))
	copy(sizes, p.Run.SizesGB)
	sort.Float64s(sizes)

	payload := checksumPayload{
		Pattern:    p.Run.Pattern,
		SizesGB:    sizes,
		Iterations: p.Run.Iterations,
		Threads:    p.Run.Threads,
		Affinity:   p.Run.Affinity,
		Sweep:      p.Run.CacheHierarchy,
		MatrixSize: p.Run.MatrixSize,
		Ceiling:    p.Benchmark.BandwidthCeilingGBps,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
