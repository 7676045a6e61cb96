package export

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"membench/internal/bench"
	"membench/internal/config"
	"membench/internal/host"
)

// Artifact is the complete record of one run: what was measured, on what
// hardware, under which profile. The same shape goes to the database and to
// the spool, so a spooled run can be replayed into the database later.
type Artifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	RunID           int    `json:"run_id"`
	BenchmarkName   string `json:"benchmark_name"`
	ProfileChecksum string `json:"profile_checksum"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ConfigContent string `json:"config_content,omitempty"`

	System  *host.SystemInfo   `json:"system,omitempty"`
	Results []bench.TestResult `json:"results"`
}

// BuildArtifact assembles the export record for one finished run.
func BuildArtifact(profile *config.Profile, configContent string, info *host.SystemInfo, results []bench.TestResult, startTime, endTime time.Time) *Artifact {
	name := ""
	checksum := ""
	if profile != nil {
		name = profile.Benchmark.Name
		if cs, err := config.ProfileChecksum(profile); err == nil {
			checksum = cs
		}
	}

	return &Artifact{
		Version:         1,
		CreatedAt:       time.Now(),
		BenchmarkName:   name,
		ProfileChecksum: checksum,
		StartTime:       startTime,
		EndTime:         endTime,
		ConfigContent:   configContent,
		System:          info,
		Results:         results,
	}
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("MEMBENCH_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// WriteArtifactFile writes a gzip-compressed JSON artifact to disk atomically
// and returns the final file path.
func WriteArtifactFile(dir string, artifact *Artifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("export artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	checksum := artifact.ProfileChecksum
	if checksum == "" {
		checksum = "nocsum"
	}
	name := fmt.Sprintf(
		"membench_%d_%s_%s.json.gz",
		artifact.RunID,
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		checksum,
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// ReadArtifactFile loads a spooled artifact, for replay or plotting.
func ReadArtifactFile(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening gzip artifact: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	var artifact Artifact
	if err := json.NewDecoder(reader).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("decoding artifact: %w", err)
	}
	return &artifact, nil
}
