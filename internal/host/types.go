// Package host detects the hardware the benchmark runs on and pins worker
// threads to it. One Platform instance is created per process via a factory
// keyed on OS and architecture; the engine only ever holds the interface.
package host

import "errors"

// ErrPlatform marks hardware layer failures, including running on an OS or
// architecture the factory does not support.
var ErrPlatform = errors.New("platform error")

// Cache line bounds. Values outside [MinCacheLineSize, MaxCacheLineSize]
// from a confused sysfs are replaced with the default.
const (
	DefaultCacheLineSize = 64
	AppleCacheLineSize   = 128
	MinCacheLineSize     = 32
	MaxCacheLineSize     = 1024
)

// AffinityClass selects which subset of hardware threads a run is pinned to
// and which cache-hierarchy view applies. Fixed per run.
type AffinityClass int

const (
	AffinityDefault AffinityClass = iota
	AffinityPerformance
	AffinityEfficiency
)

func (c AffinityClass) String() string {
	switch c {
	case AffinityPerformance:
		return "performance"
	case AffinityEfficiency:
		return "efficiency"
	default:
		return "default"
	}
}

// CacheHierarchy describes one view of the cache levels, either whole-chip or
// specific to a core class on heterogeneous designs. Sizes in bytes.
type CacheHierarchy struct {
	L1DataSize        uint64 `json:"l1_data_size"`
	L1InstructionSize uint64 `json:"l1_instruction_size"`
	L2Size            uint64 `json:"l2_size"`
	L3Size            uint64 `json:"l3_size"`
	L1DataAssoc       uint64 `json:"l1d_assoc"`
	L1InstAssoc       uint64 `json:"l1i_assoc"`
	L2Assoc           uint64 `json:"l2_assoc"`
	L3Assoc           uint64 `json:"l3_assoc"`
	L1LineSize        uint64 `json:"l1_line_size"`
	L2LineSize        uint64 `json:"l2_line_size"`
	L3LineSize        uint64 `json:"l3_line_size"`
}

// MemorySpecs describes the memory subsystem. Detected flags record whether a
// field was read from the system or is a hardcoded default, so the output
// layer can annotate figures it should not be trusted blindly.
// TheoreticalBandwidthGBps is negative when the peak cannot be determined
// (typically virtualized hosts where the channel count is unreadable).
type MemorySpecs struct {
	Type                     string  `json:"type"`
	SpeedMTps                uint64  `json:"speed_mtps"`
	DataWidthBits            uint64  `json:"data_width_bits"`
	TotalWidthBits           uint64  `json:"total_width_bits"`
	TotalSizeGB              uint64  `json:"total_size_gb"`
	NumChannels              uint64  `json:"num_channels"`
	TheoreticalBandwidthGBps float64 `json:"theoretical_bandwidth_gbps"`
	Virtualized              bool    `json:"virtualized"`
	DataWidthDetected        bool    `json:"data_width_detected"`
	TotalWidthDetected       bool    `json:"total_width_detected"`
	NumChannelsDetected      bool    `json:"num_channels_detected"`
	UnifiedMemory            bool    `json:"unified_memory"`
	Architecture             string  `json:"architecture"`
}

// RDTInfo reports resctrl state on Linux. Active allocation classes mean the
// process may run with a restricted share of L3 and measured cache bandwidth
// will be lower than the hardware can do; the runner logs a warning then.
type RDTInfo struct {
	Supported          bool                `json:"supported"`
	AvailableClasses   []string            `json:"available_classes,omitempty"`
	MonitoringFeatures map[string][]string `json:"monitoring_features,omitempty"`
}

// SystemInfo is the full hardware inventory handed to the output layer.
type SystemInfo struct {
	Hostname         string         `json:"hostname"`
	OSInfo           string         `json:"os_info"`
	KernelVersion    string         `json:"kernel_version,omitempty"`
	CPUName          string         `json:"cpu_name"`
	CPUVendor        string         `json:"cpu_vendor,omitempty"`
	PhysicalCores    uint64         `json:"physical_cores"`
	LogicalThreads   uint64         `json:"logical_threads"`
	PerformanceCores uint64         `json:"performance_cores,omitempty"`
	EfficiencyCores  uint64         `json:"efficiency_cores,omitempty"`
	CacheLineSize    uint64         `json:"cache_line_size"`
	TotalRAMGB       uint64         `json:"total_ram_gb"`
	AvailableRAMGB   uint64         `json:"available_ram_gb"`
	Memory           MemorySpecs    `json:"memory"`
	Cache            CacheHierarchy `json:"cache"`
	RDT              RDTInfo        `json:"rdt,omitempty"`
}
