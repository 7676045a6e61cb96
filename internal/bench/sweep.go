package bench

import (
	"fmt"

	"membench/internal/patterns"
	"membench/internal/worksets"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// ScaleIterations boosts the iteration count for small working sets so each
// step touches enough memory to time. Sets that fit in the lower cache levels
// get five extra orders of magnitude, L3-sized sets three, anything larger
// runs the base count.
func ScaleIterations(sizeBytes, base uint64) uint64 {
	switch {
	case sizeBytes <= 4*1024*1024:
		return base * 100000
	case sizeBytes <= 8*1024*1024:
		return base * 1000
	default:
		return base
	}
}

// Sweep runs one pattern across the thread-aware working-set ladder derived
// from the active cache hierarchy. Steps that fail to allocate are logged and
// skipped; their errors come back aggregated as advisory alongside the
// results that did complete.
func (r *Runner) Sweep(pattern patterns.Pattern, baseIterations uint64, numThreads int) ([]TestResult, error) {
	if pattern == patterns.MatrixMultiply {
		return nil, fmt.Errorf("%w: matrix multiply has a fixed footprint and does not sweep working sets", ErrValidation)
	}

	cache := r.platform.CacheHierarchy(r.class)
	return r.sweepSets(pattern, baseIterations, numThreads, worksets.ThreadAware(cache, numThreads))
}

func (r *Runner) sweepSets(pattern patterns.Pattern, baseIterations uint64, numThreads int, sets []worksets.Descriptor) ([]TestResult, error) {
	r.sweepLog.WithFields(logrus.Fields{
		"pattern": pattern.Slug(),
		"steps":   len(sets),
		"threads": numThreads,
	}).Info("Starting cache hierarchy sweep")

	results := make([]TestResult, 0, len(sets))
	var stepErrs *multierror.Error
	for _, ws := range sets {
		iterations := ScaleIterations(ws.SizeBytes, baseIterations)
		result, err := r.Run(pattern, ws.SizeBytes, iterations, numThreads, ws.Label)
		if err != nil {
			r.sweepLog.WithFields(logrus.Fields{
				"working_set": ws.Label,
				"size_bytes":  ws.SizeBytes,
			}).WithError(err).Warn("Sweep step skipped")
			stepErrs = multierror.Append(stepErrs, fmt.Errorf("%s: %w", ws.Label, err))
			continue
		}
		results = append(results, result)

		r.sweepLog.WithFields(logrus.Fields{
			"working_set":    ws.Label,
			"size_bytes":     ws.SizeBytes,
			"bandwidth_gbps": result.BandwidthGBps,
			"latency_ns":     result.LatencyNs,
		}).Info("Sweep step complete")

		if r.stop.Load() {
			r.sweepLog.Warn("Stop requested, ending sweep early")
			break
		}
	}
	return results, stepErrs.ErrorOrNil()
}
