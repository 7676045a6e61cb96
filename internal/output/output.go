// Package output renders benchmark reports. The same report goes to any of
// the three formats: Markdown for humans, JSON for tooling, CSV for
// spreadsheets.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"membench/internal/bench"
	"membench/internal/host"
	"membench/internal/stats"
)

// Format selects a report renderer.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
)

// ParseFormat validates a format name from flags or profiles.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatMarkdown:
		return FormatMarkdown, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Report bundles everything one rendering needs. Sweep selects the grouped
// per-pattern result tables used for cache-hierarchy runs.
type Report struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Sweep       bool               `json:"sweep,omitempty"`
	System      *host.SystemInfo   `json:"system,omitempty"`
	Results     []bench.TestResult `json:"results"`
}

// Write renders the report in the requested format.
func Write(w io.Writer, format Format, report Report) error {
	switch format {
	case FormatMarkdown:
		return writeMarkdown(w, report)
	case FormatJSON:
		return writeJSON(w, report)
	case FormatCSV:
		return writeCSV(w, report)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func writeJSON(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func writeCSV(w io.Writer, report Report) error {
	cw := csv.NewWriter(w)
	header := []string{
		"test", "pattern", "working_set", "working_set_bytes", "threads",
		"bytes_processed", "time_seconds", "bandwidth_gbps", "bandwidth_gbits",
		"latency_ns", "efficiency_pct", "gflops", "suspicious",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range report.Results {
		row := []string{
			r.TestName,
			r.Pattern,
			r.WorkingSet,
			strconv.FormatUint(r.WorkingSetBytes, 10),
			strconv.Itoa(r.NumThreads),
			strconv.FormatUint(r.BytesProcessed, 10),
			strconv.FormatFloat(r.TimeSeconds, 'f', 6, 64),
			strconv.FormatFloat(r.BandwidthGBps, 'f', 3, 64),
			strconv.FormatFloat(r.BandwidthGBps*8, 'f', 3, 64),
			strconv.FormatFloat(r.LatencyNs, 'f', 3, 64),
			strconv.FormatFloat(r.EfficiencyPct, 'f', 2, 64),
			strconv.FormatFloat(r.GFLOPS, 'f', 3, 64),
			strings.Join(r.Suspicious, "; "),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeMarkdown(w io.Writer, report Report) error {
	var b strings.Builder

	if report.System != nil {
		writeSystemMarkdown(&b, report.System)
	}
	if report.Sweep {
		writeSweepMarkdown(&b, report.Results)
	} else {
		writeResultsMarkdown(&b, report.Results)
	}
	if len(report.Results) > 0 {
		b.WriteString("\n## Test Complete\n\nAll memory bandwidth tests have been completed successfully.\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// writeSystemMarkdown renders the hardware inventory. A trailing check mark
// flags values actually read from the system; annotated values fell back to
// an estimate or a hardcoded default.
func writeSystemMarkdown(b *strings.Builder, info *host.SystemInfo) {
	b.WriteString("# System Information\n\n")
	fmt.Fprintf(b, "- **CPU:** %s ✓\n", info.CPUName)
	fmt.Fprintf(b, "- **Total RAM:** %d GB ✓\n", info.TotalRAMGB)
	fmt.Fprintf(b, "- **Available RAM:** %d GB ✓\n", info.AvailableRAMGB)
	fmt.Fprintf(b, "- **Physical CPU Cores:** %d ✓\n", info.PhysicalCores)
	fmt.Fprintf(b, "- **Logical CPU Threads:** %d ✓\n", info.LogicalThreads)
	if info.PerformanceCores > 0 || info.EfficiencyCores > 0 {
		fmt.Fprintf(b, "- **Performance Cores:** %d ✓\n", info.PerformanceCores)
		fmt.Fprintf(b, "- **Efficiency Cores:** %d ✓\n", info.EfficiencyCores)
	}
	if info.Hostname != "" {
		fmt.Fprintf(b, "- **Hostname:** %s ✓\n", info.Hostname)
	}
	if info.OSInfo != "" {
		fmt.Fprintf(b, "- **OS:** %s ✓\n", info.OSInfo)
	}
	if info.KernelVersion != "" {
		fmt.Fprintf(b, "- **Kernel:** %s ✓\n", info.KernelVersion)
	}
	if info.RDT.Supported {
		fmt.Fprintf(b, "- **Intel RDT:** supported (%d classes)\n", len(info.RDT.AvailableClasses))
	}
	b.WriteString("\n")

	mem := info.Memory
	b.WriteString("## Memory Specifications\n\n")
	if mem.UnifiedMemory {
		fmt.Fprintf(b, "- **Architecture:** %s ✓\n", mem.Architecture)
	}
	fmt.Fprintf(b, "- **Type:** %s", mem.Type)
	if strings.Contains(mem.Type, "DDR") {
		b.WriteString(" ✓")
	}
	b.WriteString("\n")
	if mem.SpeedMTps > 0 {
		fmt.Fprintf(b, "- **Speed:** %d MT/s ✓\n", mem.SpeedMTps)
	} else {
		b.WriteString("- **Speed:** Not available from system APIs\n")
	}
	fmt.Fprintf(b, "- **Data Width:** %d bits", mem.DataWidthBits)
	if mem.DataWidthDetected {
		b.WriteString(" ✓")
	}
	b.WriteString("\n")
	fmt.Fprintf(b, "- **Total Width:** %d bits", mem.TotalWidthBits)
	if mem.TotalWidthDetected {
		b.WriteString(" ✓")
	}
	b.WriteString("\n")
	fmt.Fprintf(b, "- **Channels:** %d", mem.NumChannels)
	if mem.Virtualized {
		if mem.NumChannels == 0 {
			b.WriteString(" (cannot detect - virtualized environment)")
		} else {
			b.WriteString(" (estimated - virtualized environment)")
		}
	} else if !mem.NumChannelsDetected {
		b.WriteString(" (not detected from system)")
	}
	b.WriteString("\n")
	switch {
	case mem.TheoreticalBandwidthGBps < 0:
		b.WriteString("- **Theoretical Bandwidth:** N/A (virtualized environment - channels not accessible)\n\n")
	case mem.TheoreticalBandwidthGBps > 0:
		fmt.Fprintf(b, "- **Theoretical Bandwidth:** %.1f GB/s (%.1f Gb/s)",
			mem.TheoreticalBandwidthGBps, mem.TheoreticalBandwidthGBps*8)
		if mem.SpeedMTps > 0 && mem.DataWidthBits > 0 {
			b.WriteString(" ✓")
		}
		b.WriteString("\n\n")
	default:
		b.WriteString("- **Theoretical Bandwidth:** Not calculated (speed unknown)\n\n")
	}

	cache := info.Cache
	b.WriteString("## Cache Information\n\n")
	fmt.Fprintf(b, "- **L1 Data Cache:** %d KB per core ✓\n", cache.L1DataSize/1024)
	fmt.Fprintf(b, "- **L1 Instruction Cache:** %d KB per core ✓\n", cache.L1InstructionSize/1024)
	if mem.UnifiedMemory {
		fmt.Fprintf(b, "- **L2 Cache:** %d KB shared ✓\n", cache.L2Size/1024)
		fmt.Fprintf(b, "- **System Level Cache (SLC):** %d MB shared ✓\n", cache.L3Size/(1024*1024))
	} else {
		fmt.Fprintf(b, "- **L2 Cache:** %d KB per core ✓\n", cache.L2Size/1024)
		fmt.Fprintf(b, "- **L3 Cache:** %d MB shared ✓\n", cache.L3Size/(1024*1024))
	}
	fmt.Fprintf(b, "- **Cache Line Size:** %d bytes ✓\n\n", info.CacheLineSize)
}

func writeResultsMarkdown(b *strings.Builder, results []bench.TestResult) {
	b.WriteString("## Test Results\n\n")
	if len(results) == 0 {
		b.WriteString("No results.\n")
		return
	}

	withGFLOPS := false
	for _, r := range results {
		if r.GFLOPS > 0 {
			withGFLOPS = true
		}
	}

	b.WriteString("| Test | Working Set | Threads | Bandwidth (Gb/s) | Latency (ns) | Efficiency (%) |")
	if withGFLOPS {
		b.WriteString(" GFLOPS |")
	}
	b.WriteString("\n")
	b.WriteString("|------|-------------|---------|------------------|--------------|----------------|")
	if withGFLOPS {
		b.WriteString("--------|")
	}
	b.WriteString("\n")

	for _, r := range results {
		fmt.Fprintf(b, "| %s | %s | %d | %s | %.1f | %s |",
			r.TestName, workingSetLabel(r), r.NumThreads, formatBandwidthCell(r), r.LatencyNs,
			formatEfficiency(r.EfficiencyPct))
		if withGFLOPS {
			if r.GFLOPS > 0 {
				fmt.Fprintf(b, " %.2f |", r.GFLOPS)
			} else {
				b.WriteString(" - |")
			}
		}
		b.WriteString("\n")
	}
}

// writeSweepMarkdown renders one table per pattern, rows ordered as the
// sweep produced them.
func writeSweepMarkdown(b *strings.Builder, results []bench.TestResult) {
	b.WriteString("## Test Results\n\n")
	if len(results) == 0 {
		b.WriteString("No results.\n")
		return
	}

	var order []string
	grouped := map[string][]bench.TestResult{}
	for _, r := range results {
		if _, seen := grouped[r.Pattern]; !seen {
			order = append(order, r.Pattern)
		}
		grouped[r.Pattern] = append(grouped[r.Pattern], r)
	}

	for _, slug := range order {
		rs := grouped[slug]
		fmt.Fprintf(b, "### %s (Cache-Aware)\n\n", rs[0].TestName)
		b.WriteString("| Working Set | Threads | Bandwidth (Gb/s) | Latency (ns) | Efficiency (%) |\n")
		b.WriteString("|-------------|---------|------------------|--------------|----------------|\n")
		for _, r := range rs {
			fmt.Fprintf(b, "| %s | %d | %s | %.1f | %s |\n",
				workingSetLabel(r), r.NumThreads, formatBandwidthCell(r), r.LatencyNs,
				formatEfficiency(r.EfficiencyPct))
		}
		b.WriteString("\n")
	}
}

// formatBandwidthCell shows bandwidth in Gbit/s and appends the warning
// marker for results the validator flagged.
func formatBandwidthCell(r bench.TestResult) string {
	cell := fmt.Sprintf("%.2f", r.BandwidthGBps*8)
	if len(r.Suspicious) > 0 {
		cell += " ⚠️"
	}
	return cell
}

func workingSetLabel(r bench.TestResult) string {
	if r.WorkingSet != "" {
		return r.WorkingSet
	}
	return formatBytes(r.WorkingSetBytes)
}

func formatEfficiency(pct float64) string {
	if pct == stats.EfficiencyUnknown {
		return "N/A"
	}
	return fmt.Sprintf("%.1f", pct)
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
