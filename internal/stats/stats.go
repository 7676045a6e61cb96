// Package stats turns raw byte counts and elapsed time into bandwidth,
// latency and efficiency figures, and sanity-checks results against the
// memory topology the platform layer reports.
package stats

const (
	// DefaultBandwidthCeilingGBps caps computed bandwidth. Values above it
	// are treated as cache effects leaking into a main-memory measurement
	// and are clamped, not rejected. Tuned for virtualized DDR5-class
	// hosts; override via configuration on real hardware.
	DefaultBandwidthCeilingGBps = 60.0

	// MinLatencyNs is the smallest per-access latency considered plausible
	// for a memory access. Anything below it is flagged as suspicious.
	MinLatencyNs = 0.1

	// MaxVirtualizedEfficiencyPct is the efficiency above which a result on
	// a virtualized host is flagged, since the hypervisor's reported
	// topology rarely supports real DRAM-peak figures.
	MaxVirtualizedEfficiencyPct = 50.0

	// EfficiencyUnknown is the sentinel Efficiency returns when the
	// theoretical peak cannot be determined.
	EfficiencyUnknown = -1.0
)

// Sample is one measurement: raw inputs plus the derived rates. Produced per
// worker thread and again for the aggregated run.
type Sample struct {
	BytesProcessed uint64  `json:"bytes_processed"`
	TimeSeconds    float64 `json:"time_seconds"`
	BandwidthGBps  float64 `json:"bandwidth_gbps"`
	LatencyNs      float64 `json:"latency_ns"`
}

// Compute derives bandwidth and latency from raw counters. Zero elapsed time
// or zero operations yields an all-zero sample instead of dividing. Bandwidth
// is clamped to ceilingGBps; a ceiling <= 0 falls back to the default.
func Compute(bytes uint64, seconds float64, operations uint64, ceilingGBps float64) Sample {
	if seconds <= 0 || operations == 0 {
		return Sample{}
	}
	if ceilingGBps <= 0 {
		ceilingGBps = DefaultBandwidthCeilingGBps
	}

	s := Sample{
		BytesProcessed: bytes,
		TimeSeconds:    seconds,
		BandwidthGBps:  float64(bytes) / (seconds * 1e9),
		LatencyNs:      (seconds * 1e9) / float64(operations),
	}
	if s.BandwidthGBps > ceilingGBps {
		s.BandwidthGBps = ceilingGBps
	}
	return s
}

// Aggregate combines per-thread samples into one run-wide sample: bytes are
// summed and divided by the wall-clock time of the whole parallel phase, so
// the figure reflects parallel speedup rather than serialized thread costs.
// The access count for latency is total bytes over the cache-line size.
func Aggregate(samples []Sample, wallSeconds float64, lineSize uint64, ceilingGBps float64) Sample {
	var totalBytes uint64
	for _, s := range samples {
		totalBytes += s.BytesProcessed
	}
	if lineSize == 0 {
		return Sample{}
	}
	return Compute(totalBytes, wallSeconds, totalBytes/lineSize, ceilingGBps)
}

// Efficiency reports bandwidth as a percentage of the theoretical peak.
// A negative peak means the peak is undeterminable (virtualized hosts where
// the channel count cannot be read) and maps to the -1 sentinel. A zero peak
// maps to 0. The result is not capped at 100: values above it signal that
// the peak is wrong or the test hit cache instead of DRAM, and the consumer
// needs to see that.
func Efficiency(bandwidthGBps, peakGBps float64) float64 {
	if peakGBps < 0 {
		return EfficiencyUnknown
	}
	if peakGBps == 0 {
		return 0
	}
	return 100 * bandwidthGBps / peakGBps
}

// Validate flags results that cannot be trusted. Flagging is advisory: the
// sample is kept, the reasons travel with it to the output layer.
func Validate(s Sample, peakGBps float64, virtualized bool) (bool, []string) {
	var reasons []string

	if s.BandwidthGBps <= 0 {
		reasons = append(reasons, "non-positive bandwidth")
	}
	if s.LatencyNs <= 0 {
		reasons = append(reasons, "non-positive latency")
	} else if s.LatencyNs < MinLatencyNs {
		reasons = append(reasons, "latency below plausible floor")
	}
	if peakGBps > 0 && s.BandwidthGBps > peakGBps {
		reasons = append(reasons, "bandwidth exceeds theoretical peak")
	}
	if virtualized {
		if eff := Efficiency(s.BandwidthGBps, peakGBps); eff > MaxVirtualizedEfficiencyPct {
			reasons = append(reasons, "implausible efficiency on virtualized host")
		}
	}

	return len(reasons) == 0, reasons
}
