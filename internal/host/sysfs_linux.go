//go:build linux

package host

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// maxSystemFileSize caps every /proc and /sys read. Nothing the detectors
// need is larger, and a runaway read of a misbehaving kernel file is worse
// than a missing value.
const maxSystemFileSize = 1 << 20

// readSystemFile reads an allowlisted system file. The path is checked both
// as given and after symlink resolution.
func readSystemFile(path string) (string, error) {
	if !isSafeSystemPath(path) {
		return "", fmt.Errorf("%w: path %q outside allowed system roots", ErrPlatform, path)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	if !isSafeSystemPath(resolved) {
		return "", fmt.Errorf("%w: path %q resolves outside allowed system roots", ErrPlatform, path)
	}

	f, err := os.Open(resolved)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSystemFileSize))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readSysfsString(path string) (string, error) {
	data, err := readSystemFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(data), nil
}

func readSysfsUint(path string) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(s, 10, 64)
}

// discoverCacheHierarchy walks the cache index directories of one CPU. The
// level file decides where a size lands, so systems exposing L3 as index2
// parse the same as ones using index3.
func discoverCacheHierarchy(cpu int) (CacheHierarchy, error) {
	var h CacheHierarchy
	found := false

	base := fmt.Sprintf("/sys/devices/system/cpu/cpu%d/cache", cpu)
	for index := 0; ; index++ {
		dir := fmt.Sprintf("%s/index%d", base, index)
		levelStr, err := readSysfsString(dir + "/level")
		if err != nil {
			break
		}
		level, err := strconv.Atoi(levelStr)
		if err != nil {
			continue
		}
		cacheType, err := readSysfsString(dir + "/type")
		if err != nil {
			continue
		}
		sizeStr, err := readSysfsString(dir + "/size")
		if err != nil {
			continue
		}
		size, err := parseCacheSize(sizeStr)
		if err != nil || size == 0 {
			continue
		}

		line, _ := readSysfsUint(dir + "/coherency_line_size")
		ways, _ := readSysfsUint(dir + "/ways_of_associativity")

		switch {
		case level == 1 && cacheType == "Data":
			h.L1DataSize = size
			h.L1DataAssoc = ways
			h.L1LineSize = clampCacheLineSize(line)
		case level == 1 && cacheType == "Instruction":
			h.L1InstructionSize = size
			h.L1InstAssoc = ways
		case level == 2 && cacheType == "Unified":
			h.L2Size = size
			h.L2Assoc = ways
			h.L2LineSize = clampCacheLineSize(line)
		case level == 3 && cacheType == "Unified":
			h.L3Size = size
			h.L3Assoc = ways
			h.L3LineSize = clampCacheLineSize(line)
		default:
			continue
		}
		found = true
	}

	if !found {
		return h, fmt.Errorf("no cache information under %s", base)
	}
	return h, nil
}

// onlineCPUs returns the online cpu ids, falling back to [0, n) when the
// sysfs file is unreadable.
func onlineCPUs(fallbackCount int) []int {
	if s, err := readSysfsString("/sys/devices/system/cpu/online"); err == nil {
		if cpus, err := parseCPUList(s); err == nil && len(cpus) > 0 {
			return cpus
		}
	}
	cpus := make([]int, fallbackCount)
	for i := range cpus {
		cpus[i] = i
	}
	return cpus
}

// hybridCoreSets reads the core lists Intel hybrid CPUs expose. Both lists
// empty means the chip is uniform.
func hybridCoreSets() (perf, eff []int) {
	if s, err := readSysfsString("/sys/devices/cpu_core/cpus"); err == nil {
		perf, _ = parseCPUList(s)
	}
	if s, err := readSysfsString("/sys/devices/cpu_atom/cpus"); err == nil {
		eff, _ = parseCPUList(s)
	}
	return perf, eff
}

// capacityCoreSets classifies cores by cpu_capacity, the scheduler's
// big.LITTLE hint on arm64. A single capacity value means uniform cores.
func capacityCoreSets(cpus []int) (perf, eff []int) {
	capacities := make(map[int]uint64, len(cpus))
	var maxCapacity uint64
	distinct := make(map[uint64]bool)

	for _, cpu := range cpus {
		path := fmt.Sprintf("/sys/devices/system/cpu/cpu%d/cpu_capacity", cpu)
		capacity, err := readSysfsUint(path)
		if err != nil {
			return nil, nil
		}
		capacities[cpu] = capacity
		distinct[capacity] = true
		if capacity > maxCapacity {
			maxCapacity = capacity
		}
	}
	if len(distinct) < 2 {
		return nil, nil
	}

	for _, cpu := range cpus {
		if capacities[cpu] == maxCapacity {
			perf = append(perf, cpu)
		} else {
			eff = append(eff, cpu)
		}
	}
	return perf, eff
}
