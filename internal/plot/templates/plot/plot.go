package templates

const PlotTemplate = `% Generated on {{.GeneratedDate}}
%
% Run ID: {{.RunID}}
% Benchmark Name: {{.BenchmarkName}}
% Profile Checksum: {{.ProfileChecksum}}
% Started: {{.Started}}
% Finished: {{.Finished}}
% Threads: {{.NumThreads}}
% Total Results: {{.TotalResults}}
%
% Host Information:
% Hostname: {{.Hostname}}
% CPU: {{.CPUVendor}} {{.CPUModel}} ({{.PhysicalCores}} cores, {{.LogicalThreads}} threads)
% Cache Line: {{.CacheLineBytes}}B
% L1d Cache: {{.L1DataKB}}KB
% L2 Cache: {{.L2KB}}KB
% L3 Cache: {{.L3MB}}MB
% RAM: {{.TotalRAMGB}}GB {{.MemoryType}}
% Theoretical Bandwidth: {{.TheoreticalGBps}}
% Kernel: {{.KernelVersion}}
% OS: {{.OSInfo}}
%
\begin{tikzpicture}
	\begin{axis}[
		% title={ {{.Title}} },
		xlabel={ {{.XLabel}} },
		ylabel={ {{.YLabel}} },
		width=\textwidth,
		height=0.62\textwidth,
		xmode=log,
		log basis x=2,
		xmin={{.XMin}}, xmax={{.XMax}},
		ymin={{.YMin}}, ymax={{.YMax}},
		ymajorgrids,
		grid style=dashed,
		legend columns=2,
		legend pos=north west,
	]

{{range .Plots}}
% Pattern: {{.Pattern}} (series {{.SeriesIndex}}, {{.PointCount}} points)
\addplot+[{{.Style}}]
  coordinates {
{{range .Coordinates}}    {{.}}
{{end}}  };
\addlegendentry{ {{.LegendEntry}} }

{{end}}
	\end{axis}
\end{tikzpicture}
`

type PlotData struct {
	GeneratedDate   string
	RunID           int
	BenchmarkName   string
	ProfileChecksum string
	Started         string
	Finished        string
	NumThreads      int
	TotalResults    int

	Hostname        string
	CPUVendor       string
	CPUModel        string
	PhysicalCores   uint64
	LogicalThreads  uint64
	CacheLineBytes  uint64
	L1DataKB        uint64
	L2KB            uint64
	L3MB            uint64
	TotalRAMGB      uint64
	MemoryType      string
	TheoreticalGBps string
	KernelVersion   string
	OSInfo          string

	Title  string
	XLabel string
	YLabel string
	XMin   string
	XMax   string
	YMin   string
	YMax   string
	Plots  []PlotSeries
}

type PlotSeries struct {
	Pattern     string
	SeriesIndex int
	PointCount  int
	Style       string
	LegendEntry string
	Coordinates []string
}
