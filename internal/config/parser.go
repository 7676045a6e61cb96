package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"membench/internal/host"
	"membench/internal/logging"
	"membench/internal/matmul"
	"membench/internal/patterns"
	"membench/internal/stats"

	"gopkg.in/yaml.v3"
)

// LoadProfile reads, expands and validates a profile file.
func LoadProfile(filepath string) (*Profile, error) {
	profile, _, err := LoadProfileWithContent(filepath)
	return profile, err
}

// LoadProfileWithContent additionally returns the raw file content, which the
// export layer attaches to run metadata.
func LoadProfileWithContent(filepath string) (*Profile, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read profile")
		return nil, "", err
	}

	originalContent := string(data)
	expanded := expandEnvVars(originalContent)

	var profile Profile
	if err := yaml.Unmarshal([]byte(expanded), &profile); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse profile")
		return nil, "", err
	}

	applyDefaults(&profile)
	if err := Validate(&profile); err != nil {
		return nil, "", fmt.Errorf("invalid profile: %w", err)
	}

	return &profile, originalContent, nil
}

// DefaultProfile is the profile a flag-only invocation starts from. Callers
// overlay their flags and re-validate with Validate.
func DefaultProfile() *Profile {
	p := &Profile{}
	p.Benchmark.Name = "membench"
	applyDefaults(p)
	return p
}

// expandEnvVars substitutes ${VAR} references with environment values.
// Unset or empty variables leave the reference untouched so validation can
// report the missing field instead of a silently blank one.
func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func applyDefaults(p *Profile) {
	if p.Run.Pattern == "" {
		p.Run.Pattern = "all"
	}
	if len(p.Run.SizesGB) == 0 && !p.Run.CacheHierarchy {
		p.Run.SizesGB = []float64{DefaultMemorySizeGB}
	}
	if p.Run.Iterations == 0 {
		p.Run.Iterations = DefaultIterations
	}
	if p.Run.Threads == 0 {
		p.Run.Threads = 1
	}
	if p.Run.MatrixSize == 0 {
		p.Run.MatrixSize = matmul.DefaultSize
	}
	if p.Run.Format == "" {
		p.Run.Format = "markdown"
	}
	if p.Benchmark.BandwidthCeilingGBps == 0 {
		p.Benchmark.BandwidthCeilingGBps = stats.DefaultBandwidthCeilingGBps
	}
}

// Validate checks a fully assembled profile, whether it came from a file or
// from command-line flags layered over DefaultProfile.
func Validate(p *Profile) error {
	if p.Benchmark.Name == "" {
		return fmt.Errorf("benchmark name is required")
	}
	if p.Benchmark.MaxT < 0 {
		return fmt.Errorf("max_t must not be negative")
	}
	if p.Benchmark.BandwidthCeilingGBps <= 0 {
		return fmt.Errorf("bandwidth_ceiling_gbps must be greater than 0")
	}

	if _, err := patterns.ParseSelection(p.Run.Pattern); err != nil {
		return fmt.Errorf("run pattern: %w", err)
	}
	for _, size := range p.Run.SizesGB {
		if size <= 0 || size > MaxMemorySizeGB {
			return fmt.Errorf("size %.2f GB out of range (0, %.0f]", size, MaxMemorySizeGB)
		}
	}
	if p.Run.Threads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}
	if p.Run.MatrixSize < 1 {
		return fmt.Errorf("matrix_size must be at least 1")
	}
	if _, err := p.Run.AffinityClass(); err != nil {
		return err
	}
	switch p.Run.Format {
	case "markdown", "json", "csv":
	default:
		return fmt.Errorf("unknown output format %q", p.Run.Format)
	}

	if p.Export.Enabled {
		db := p.Export.DB
		if db.Host == "" || db.Name == "" || db.User == "" || db.Password == "" || db.Org == "" {
			return fmt.Errorf("incomplete database configuration")
		}
	}

	return nil
}

// AffinityClass maps the profile's affinity name to a core class.
func (r RunConfig) AffinityClass() (host.AffinityClass, error) {
	switch strings.ToLower(r.Affinity) {
	case "", "default":
		return host.AffinityDefault, nil
	case "performance", "p-cores":
		return host.AffinityPerformance, nil
	case "efficiency", "e-cores":
		return host.AffinityEfficiency, nil
	}
	return host.AffinityDefault, fmt.Errorf("unknown affinity class %q", r.Affinity)
}
