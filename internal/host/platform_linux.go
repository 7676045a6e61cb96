//go:build linux

package host

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"membench/internal/logging"

	"github.com/intel/goresctrl/pkg/rdt"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type linuxPlatform struct {
	name     string
	info     *SystemInfo
	caches   map[AffinityClass]CacheHierarchy
	coreSets map[AffinityClass][]int
	logger   *logrus.Logger
}

func newPlatform() (Platform, error) {
	switch runtime.GOARCH {
	case "amd64":
		return newLinuxPlatform("linux-x86")
	case "arm64":
		return newLinuxPlatform("linux-arm64")
	default:
		return nil, fmt.Errorf("%w: unsupported architecture %s/%s", ErrPlatform, runtime.GOOS, runtime.GOARCH)
	}
}

func newLinuxPlatform(name string) (*linuxPlatform, error) {
	logger := logging.GetLogger()

	p := &linuxPlatform{
		name:     name,
		info:     &SystemInfo{OSInfo: runtime.GOOS + "/" + runtime.GOARCH},
		caches:   make(map[AffinityClass]CacheHierarchy),
		coreSets: make(map[AffinityClass][]int),
		logger:   logger,
	}

	p.initSystemInfo()
	p.initCPUInfo()
	p.initMemory()
	p.initCaches()
	p.initRDTInfo()

	logger.WithFields(logrus.Fields{
		"platform":        p.name,
		"cpu_model":       p.info.CPUName,
		"physical_cores":  p.info.PhysicalCores,
		"logical_threads": p.info.LogicalThreads,
		"l3_cache_mb":     float64(p.info.Cache.L3Size) / (1024 * 1024),
		"virtualized":     p.info.Memory.Virtualized,
		"rdt_supported":   p.info.RDT.Supported,
	}).Info("Platform initialized")

	return p, nil
}

func (p *linuxPlatform) initSystemInfo() {
	if hostname, err := os.Hostname(); err == nil {
		p.info.Hostname = hostname
	}

	if data, err := readSystemFile("/proc/version"); err == nil {
		fields := strings.Fields(data)
		if len(fields) >= 3 {
			p.info.KernelVersion = fields[2]
		}
	}
	if p.info.KernelVersion == "" {
		p.info.KernelVersion = "unknown"
	}
}

func (p *linuxPlatform) initCPUInfo() {
	logical := uint64(runtime.NumCPU())
	p.info.LogicalThreads = logical
	p.info.PhysicalCores = logical

	content, err := readSystemFile("/proc/cpuinfo")
	if err != nil {
		p.logger.WithError(err).Warn("Failed to read /proc/cpuinfo, using runtime defaults")
		p.info.CPUVendor = "unknown"
		p.info.CPUName = "unknown"
		return
	}

	info := parseCPUInfo(content)
	p.info.CPUVendor = info.Vendor
	p.info.CPUName = info.ModelName
	if info.CoresPerChip > 0 {
		p.info.PhysicalCores = info.CoresPerChip * uint64(info.Sockets)
	}
	p.info.Memory.Virtualized = info.HypervisorBit
}

func (p *linuxPlatform) initMemory() {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err == nil {
		unit := uint64(si.Unit)
		if unit == 0 {
			unit = 1
		}
		p.info.TotalRAMGB = uint64(si.Totalram) * unit / (1 << 30)
		p.info.AvailableRAMGB = uint64(si.Freeram) * unit / (1 << 30)
	} else {
		p.logger.WithError(err).Warn("sysinfo failed, RAM sizes unavailable")
	}

	specs := &p.info.Memory
	specs.TotalSizeGB = p.info.TotalRAMGB
	if p.name == "linux-arm64" {
		specs.Type = "LPDDR4"
		specs.SpeedMTps = 3200
		specs.DataWidthBits = 64
		specs.TotalWidthBits = 64
		specs.Architecture = "ARM64 Architecture"
	} else {
		specs.Type = "DDR4"
		specs.SpeedMTps = 3200
		specs.DataWidthBits = 64
		specs.TotalWidthBits = 72
		specs.Architecture = "Traditional NUMA Architecture"
	}

	// Channel count is not readable without root (dmidecode), so it stays a
	// default. Virtualized hosts cannot even guess one, which makes the
	// theoretical peak undeterminable there.
	if specs.Virtualized {
		specs.NumChannels = 0
		specs.NumChannelsDetected = false
		specs.TheoreticalBandwidthGBps = -1.0
		specs.Architecture = "Virtualized Environment - Memory channels not accessible"
	} else {
		specs.NumChannels = 2
		specs.NumChannelsDetected = false
		specs.TheoreticalBandwidthGBps = theoreticalBandwidthGBps(specs.SpeedMTps, specs.DataWidthBits, specs.NumChannels)
	}
}

func (p *linuxPlatform) initCaches() {
	wholeChip, err := discoverCacheHierarchy(0)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to read sysfs cache hierarchy, using model defaults")
		wholeChip = p.defaultCacheHierarchy()
	}
	if wholeChip.L1LineSize == 0 {
		wholeChip.L1LineSize = DefaultCacheLineSize
	}
	p.caches[AffinityDefault] = wholeChip
	p.info.Cache = wholeChip
	p.info.CacheLineSize = wholeChip.L1LineSize

	online := onlineCPUs(int(p.info.LogicalThreads))
	p.coreSets[AffinityDefault] = online

	var perf, eff []int
	if p.name == "linux-arm64" {
		perf, eff = capacityCoreSets(online)
	} else {
		perf, eff = hybridCoreSets()
	}

	if len(perf) > 0 && len(eff) > 0 {
		p.coreSets[AffinityPerformance] = perf
		p.coreSets[AffinityEfficiency] = eff
		p.info.PerformanceCores = uint64(len(perf))
		p.info.EfficiencyCores = uint64(len(eff))
		p.caches[AffinityPerformance] = p.classCacheView(perf, wholeChip)
		p.caches[AffinityEfficiency] = p.classCacheView(eff, wholeChip)

		p.logger.WithFields(logrus.Fields{
			"performance_cores": len(perf),
			"efficiency_cores":  len(eff),
		}).Debug("Heterogeneous core classes detected")
	} else {
		p.caches[AffinityPerformance] = wholeChip
		p.caches[AffinityEfficiency] = wholeChip
	}
}

// classCacheView reads the cache hierarchy of a representative core of the
// class. Heterogeneous designs have different L1/L2 per class; the shared L3
// comes through identically.
func (p *linuxPlatform) classCacheView(cores []int, fallback CacheHierarchy) CacheHierarchy {
	if len(cores) == 0 {
		return fallback
	}
	h, err := discoverCacheHierarchy(cores[0])
	if err != nil {
		return fallback
	}
	if h.L1LineSize == 0 {
		h.L1LineSize = fallback.L1LineSize
	}
	if h.L3Size == 0 {
		h.L3Size = fallback.L3Size
	}
	return h
}

func (p *linuxPlatform) defaultCacheHierarchy() CacheHierarchy {
	l3 := uint64(8) << 20
	model := strings.ToLower(p.info.CPUName)
	if strings.Contains(model, "xeon") {
		l3 = 32 << 20
	} else if strings.Contains(model, "i7") {
		l3 = 12 << 20
	}
	return CacheHierarchy{
		L1DataSize:        32 << 10,
		L1InstructionSize: 32 << 10,
		L2Size:            256 << 10,
		L3Size:            l3,
		L1DataAssoc:       8,
		L1InstAssoc:       8,
		L2Assoc:           8,
		L3Assoc:           16,
		L1LineSize:        DefaultCacheLineSize,
		L2LineSize:        DefaultCacheLineSize,
		L3LineSize:        DefaultCacheLineSize,
	}
}

func (p *linuxPlatform) initRDTInfo() {
	if err := rdt.Initialize(""); err != nil {
		p.logger.WithError(err).Debug("resctrl not available, RDT info disabled")
		return
	}

	p.info.RDT.Supported = rdt.MonSupported()

	classes := rdt.GetClasses()
	for _, class := range classes {
		p.info.RDT.AvailableClasses = append(p.info.RDT.AvailableClasses, class.Name())
	}

	monFeatures := rdt.GetMonFeatures()
	if len(monFeatures) > 0 {
		p.info.RDT.MonitoringFeatures = make(map[string][]string, len(monFeatures))
		for resource, features := range monFeatures {
			p.info.RDT.MonitoringFeatures[string(resource)] = features
		}
	}

	// Allocation classes beyond the system default mean some share of L3 may
	// be walled off from this process, which depresses cache-range results.
	if len(classes) > 1 {
		p.logger.WithField("classes", p.info.RDT.AvailableClasses).
			Warn("resctrl allocation classes are active; cache bandwidth results may be constrained")
	}
}

func (p *linuxPlatform) Name() string {
	return p.name
}

func (p *linuxPlatform) SystemInfo() *SystemInfo {
	return p.info
}

func (p *linuxPlatform) CacheHierarchy(class AffinityClass) CacheHierarchy {
	if h, ok := p.caches[class]; ok {
		return h
	}
	return p.caches[AffinityDefault]
}

func (p *linuxPlatform) MaxThreads(class AffinityClass) int {
	if cores := p.coreSets[class]; len(cores) > 0 {
		return len(cores)
	}
	return int(p.info.LogicalThreads)
}

func (p *linuxPlatform) ValidateThreadCount(numThreads int, class AffinityClass) error {
	if numThreads < 1 {
		return fmt.Errorf("thread count must be at least 1 (requested: %d)", numThreads)
	}

	switch class {
	case AffinityPerformance, AffinityEfficiency:
		if cores := p.coreSets[class]; len(cores) > 0 {
			if numThreads > len(cores) {
				return fmt.Errorf("%s cores are limited to %d threads (requested: %d)", class, len(cores), numThreads)
			}
			return nil
		}
	}

	maxThreads := int(p.info.LogicalThreads) * MaxThreadOversubscription
	if numThreads > maxThreads {
		return fmt.Errorf("thread count (%d) is too high (system supports max %d threads)", numThreads, maxThreads)
	}
	return nil
}

func (p *linuxPlatform) PinThread(threadID int, class AffinityClass, totalThreads int) error {
	cores := p.coreSets[class]
	if len(cores) == 0 {
		cores = p.coreSets[AffinityDefault]
	}
	if len(cores) == 0 {
		return fmt.Errorf("%w: no cores available for affinity class %s", ErrPlatform, class)
	}

	cpu := cores[threadID%len(cores)]
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("%w: sched_setaffinity to cpu %d: %v", ErrPlatform, cpu, err)
	}
	return nil
}

func (p *linuxPlatform) SupportsAffinity() bool {
	return true
}
