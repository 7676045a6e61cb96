// Package plot renders exported benchmark results as LaTeX/TikZ figures.
// The sweep generator reads an artifact file written by the export layer and
// emits a bandwidth-over-working-set plot plus a wrapper figure for
// inclusion in a document.
package plot

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"
	"text/template"
	"time"

	"membench/internal/bench"
	"membench/internal/export"
	"membench/internal/host"
	"membench/internal/plot/mappings"
	plotTemplate "membench/internal/plot/templates/plot"
	wrapperTemplate "membench/internal/plot/templates/wrapper"

	"github.com/sirupsen/logrus"
)

type SweepPlotGenerator struct {
	logger *logrus.Logger
}

func NewSweepPlotGenerator(logger *logrus.Logger) *SweepPlotGenerator {
	return &SweepPlotGenerator{
		logger: logger,
	}
}

type PlotOptions struct {
	ArtifactPath string
	Patterns     []string
	YMinOverride *float64
	YMaxOverride *float64
}

// axisMapping carries the label and limit policy for one axis. Min and Max
// hold a float64 for a fixed limit or the string "auto" to derive the limit
// from the data.
type axisMapping struct {
	Label string
	Min   interface{}
	Max   interface{}
}

var (
	workingSetAxis = axisMapping{Label: "Working set (MiB)", Min: "auto", Max: "auto"}
	bandwidthAxis  = axisMapping{Label: "Bandwidth (GB/s)", Min: 0.0, Max: "auto"}
)

// Generate renders the sweep plot for one artifact file and returns the
// TikZ plot source and the wrapper figure source.
func (g *SweepPlotGenerator) Generate(opts PlotOptions) (string, string, error) {
	g.logger.WithFields(logrus.Fields{
		"artifact": opts.ArtifactPath,
		"patterns": opts.Patterns,
	}).Info("Generating sweep plot")

	artifact, err := export.ReadArtifactFile(opts.ArtifactPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to read artifact: %w", err)
	}

	results := selectResults(artifact.Results, opts.Patterns)
	if len(results) == 0 {
		return "", "", fmt.Errorf("no plottable results in %s", opts.ArtifactPath)
	}

	plotData := g.preparePlotData(artifact, results, opts)
	wrapperData := g.prepareWrapperData(artifact, results)

	plotOutput, err := g.renderPlot(plotData)
	if err != nil {
		return "", "", fmt.Errorf("failed to render plot: %w", err)
	}

	wrapperOutput, err := g.renderWrapper(wrapperData)
	if err != nil {
		return "", "", fmt.Errorf("failed to render wrapper: %w", err)
	}

	g.logger.Info("Sweep plot generated successfully")
	return plotOutput, wrapperOutput, nil
}

// selectResults keeps the results a sweep plot can place: a known working-set
// size is required, and when a pattern filter is given only matching series
// survive.
func selectResults(results []bench.TestResult, patternFilter []string) []bench.TestResult {
	var selected []bench.TestResult
	for _, r := range results {
		if r.WorkingSetBytes == 0 {
			continue
		}
		if len(patternFilter) > 0 && !matchesPattern(r.Pattern, patternFilter) {
			continue
		}
		selected = append(selected, r)
	}
	return selected
}

func matchesPattern(slug string, filter []string) bool {
	for _, f := range filter {
		if strings.EqualFold(slug, f) {
			return true
		}
	}
	return false
}

func (g *SweepPlotGenerator) preparePlotData(
	artifact *export.Artifact,
	results []bench.TestResult,
	opts PlotOptions,
) *plotTemplate.PlotData {

	seriesIndex := map[string]int{}
	var order []string
	grouped := map[string][]bench.TestResult{}
	for _, r := range results {
		if _, seen := seriesIndex[r.Pattern]; !seen {
			seriesIndex[r.Pattern] = len(order)
			order = append(order, r.Pattern)
		}
		grouped[r.Pattern] = append(grouped[r.Pattern], r)
	}

	var plotSeries []plotTemplate.PlotSeries
	xMin, xMax := math.Inf(1), math.Inf(-1)
	yMin, yMax := math.Inf(1), math.Inf(-1)

	for _, slug := range order {
		points := grouped[slug]
		sort.Slice(points, func(i, j int) bool {
			return points[i].WorkingSetBytes < points[j].WorkingSetBytes
		})

		style := mappings.GetPatternStyle(seriesIndex[slug])
		series := plotTemplate.PlotSeries{
			Pattern:     slug,
			SeriesIndex: seriesIndex[slug],
			Style:       style.ToTikzOptions(),
			LegendEntry: points[0].TestName,
			Coordinates: []string{},
		}

		for _, p := range points {
			xFloat := float64(p.WorkingSetBytes) / (1 << 20)
			yFloat := p.BandwidthGBps

			coord := fmt.Sprintf("(%.6f,%.6f)", xFloat, yFloat)
			series.Coordinates = append(series.Coordinates, coord)

			if xFloat < xMin {
				xMin = xFloat
			}
			if xFloat > xMax {
				xMax = xFloat
			}
			if yFloat < yMin {
				yMin = yFloat
			}
			if yFloat > yMax {
				yMax = yFloat
			}
		}
		series.PointCount = len(series.Coordinates)
		plotSeries = append(plotSeries, series)
	}

	xMinStr, xMaxStr := g.determineAxisLimits(workingSetAxis, nil, nil, xMin, xMax)
	yMinStr, yMaxStr := g.determineAxisLimits(bandwidthAxis, opts.YMinOverride, opts.YMaxOverride, yMin, yMax)

	info := artifact.System
	if info == nil {
		info = &host.SystemInfo{}
	}

	return &plotTemplate.PlotData{
		GeneratedDate:   time.Now().Format("2006-01-02 15:04:05"),
		RunID:           artifact.RunID,
		BenchmarkName:   artifact.BenchmarkName,
		ProfileChecksum: artifact.ProfileChecksum,
		Started:         artifact.StartTime.Format("2006-01-02 15:04:05"),
		Finished:        artifact.EndTime.Format("2006-01-02 15:04:05"),
		NumThreads:      results[0].NumThreads,
		TotalResults:    len(results),
		Hostname:        info.Hostname,
		CPUVendor:       info.CPUVendor,
		CPUModel:        info.CPUName,
		PhysicalCores:   info.PhysicalCores,
		LogicalThreads:  info.LogicalThreads,
		CacheLineBytes:  info.CacheLineSize,
		L1DataKB:        info.Cache.L1DataSize / 1024,
		L2KB:            info.Cache.L2Size / 1024,
		L3MB:            info.Cache.L3Size / (1024 * 1024),
		TotalRAMGB:      info.TotalRAMGB,
		MemoryType:      info.Memory.Type,
		TheoreticalGBps: formatTheoretical(info.Memory.TheoreticalBandwidthGBps),
		KernelVersion:   info.KernelVersion,
		OSInfo:          info.OSInfo,
		Title:           "Memory bandwidth by working-set size",
		XLabel:          workingSetAxis.Label,
		YLabel:          bandwidthAxis.Label,
		XMin:            xMinStr,
		XMax:            xMaxStr,
		YMin:            yMinStr,
		YMax:            yMaxStr,
		Plots:           plotSeries,
	}
}

func formatTheoretical(gbps float64) string {
	if gbps <= 0 {
		return "undeterminable"
	}
	return fmt.Sprintf("%.1fGB/s", gbps)
}

func (g *SweepPlotGenerator) determineAxisLimits(
	mapping axisMapping,
	minOverride, maxOverride *float64,
	dataMin, dataMax float64,
) (string, string) {
	var minStr, maxStr string

	if minOverride != nil {
		minStr = fmt.Sprintf("%.6f", *minOverride)
	} else if minVal, ok := mapping.Min.(float64); ok {
		minStr = fmt.Sprintf("%.6f", minVal)
	} else if mapping.Min == "auto" {
		minStr = fmt.Sprintf("%.6f", dataMin*0.95)
	} else {
		minStr = "0"
	}

	if maxOverride != nil {
		maxStr = fmt.Sprintf("%.6f", *maxOverride)
	} else if maxVal, ok := mapping.Max.(float64); ok {
		maxStr = fmt.Sprintf("%.6f", maxVal)
	} else if mapping.Max == "auto" {
		maxStr = fmt.Sprintf("%.6f", dataMax*1.05)
	} else {
		maxStr = "100"
	}

	return minStr, maxStr
}

func (g *SweepPlotGenerator) prepareWrapperData(artifact *export.Artifact, results []bench.TestResult) *wrapperTemplate.WrapperData {
	hostname := "unknown host"
	if artifact.System != nil && artifact.System.Hostname != "" {
		hostname = artifact.System.Hostname
	}
	return &wrapperTemplate.WrapperData{
		GeneratedDate: time.Now().Format("2006-01-02 15:04:05"),
		RunID:         artifact.RunID,
		PlotFileName:  fmt.Sprintf("membench-sweep-%d.tikz", artifact.RunID),
		ShortCaption:  "Memory bandwidth sweep",
		Caption: fmt.Sprintf("Memory bandwidth by working-set size on %s (%d threads).",
			hostname, results[0].NumThreads),
	}
}

func (g *SweepPlotGenerator) renderPlot(data *plotTemplate.PlotData) (string, error) {
	tmpl, err := template.New("plot").Parse(plotTemplate.PlotTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse plot template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute plot template: %w", err)
	}

	return buf.String(), nil
}

func (g *SweepPlotGenerator) renderWrapper(data *wrapperTemplate.WrapperData) (string, error) {
	tmpl, err := template.New("wrapper").Parse(wrapperTemplate.WrapperTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse wrapper template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute wrapper template: %w", err)
	}

	return buf.String(), nil
}
