package host

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Parsing helpers shared by the OS-specific detectors. They take raw file
// contents so the logic stays testable off the target hardware.

// parseCacheSize understands the sysfs cache size format: a plain byte count
// or a value with a K/M/G suffix, e.g. "48K", "12M".
func parseCacheSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty cache size")
	}

	multiplier := uint64(1)
	switch s[len(s)-1] {
	case 'K':
		multiplier = 1024
		s = s[:len(s)-1]
	case 'M':
		multiplier = 1024 * 1024
		s = s[:len(s)-1]
	case 'G':
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cache size %q: %w", s, err)
	}
	return n * multiplier, nil
}

// parseCPUList understands the sysfs cpulist format: "0-3,8,10-11".
func parseCPUList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	seen := make(map[int]bool)
	var cpus []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			lo, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid cpu range %q: %w", part, err)
			}
			hi, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid cpu range %q: %w", part, err)
			}
			if lo > hi {
				return nil, fmt.Errorf("invalid cpu range %q: start after end", part)
			}
			for cpu := lo; cpu <= hi; cpu++ {
				if !seen[cpu] {
					seen[cpu] = true
					cpus = append(cpus, cpu)
				}
			}
		} else {
			cpu, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid cpu %q: %w", part, err)
			}
			if !seen[cpu] {
				seen[cpu] = true
				cpus = append(cpus, cpu)
			}
		}
	}
	sort.Ints(cpus)
	return cpus, nil
}

// cpuInfo is the subset of /proc/cpuinfo the inventory needs.
type cpuInfo struct {
	Vendor        string
	ModelName     string
	Sockets       int
	CoresPerChip  uint64
	HypervisorBit bool
}

// parseCPUInfo scans /proc/cpuinfo contents. Field names differ between x86
// and arm64; absent fields keep their zero values and the caller falls back
// to runtime counts.
func parseCPUInfo(content string) cpuInfo {
	info := cpuInfo{}
	physicalIDs := make(map[string]bool)

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "vendor_id", "CPU implementer":
			if info.Vendor == "" {
				info.Vendor = value
			}
		case "model name", "Processor":
			if info.ModelName == "" {
				info.ModelName = value
			}
		case "physical id":
			physicalIDs[value] = true
		case "cpu cores":
			if info.CoresPerChip == 0 {
				if n, err := strconv.ParseUint(value, 10, 64); err == nil {
					info.CoresPerChip = n
				}
			}
		case "flags", "Features":
			for _, flag := range strings.Fields(value) {
				if flag == "hypervisor" {
					info.HypervisorBit = true
				}
			}
		}
	}

	info.Sockets = len(physicalIDs)
	if info.Sockets == 0 {
		info.Sockets = 1
	}
	if info.Vendor == "" {
		info.Vendor = "unknown"
	}
	if info.ModelName == "" {
		info.ModelName = "unknown"
	}
	return info
}

// theoreticalBandwidthGBps computes the peak transfer rate from memory speed,
// bus width and channel count. MT/s times bits over 8 gives MB/s; over 1000
// again gives GB/s.
func theoreticalBandwidthGBps(speedMTps, widthBits, channels uint64) float64 {
	return float64(speedMTps*widthBits*channels) / 8.0 / 1000.0
}

// clampCacheLineSize replaces implausible detected line sizes with the
// default. Line sizes must be powers of two for the alignment masks the
// kernels use.
func clampCacheLineSize(size uint64) uint64 {
	if size < MinCacheLineSize || size > MaxCacheLineSize || size&(size-1) != 0 {
		return DefaultCacheLineSize
	}
	return size
}

// safePathPrefixes are the only roots the detectors read from.
var safePathPrefixes = []string{
	"/proc/cpuinfo",
	"/proc/meminfo",
	"/proc/version",
	"/sys/devices/system/cpu/",
	"/sys/devices/cpu_core/",
	"/sys/devices/cpu_atom/",
	"/sys/class/dmi/id/",
}

// isSafeSystemPath rejects paths outside the allowlist and anything with
// traversal sequences, before symlink resolution happens at read time.
func isSafeSystemPath(path string) bool {
	if path == "" || strings.Contains(path, "..") || strings.ContainsRune(path, 0) {
		return false
	}
	for _, prefix := range safePathPrefixes {
		if path == prefix || path == strings.TrimSuffix(prefix, "/") {
			return true
		}
		if strings.HasSuffix(prefix, "/") && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
