package mappings

type PlotStyle struct {
	Color       string
	LineStyle   string
	LineWidth   string
	Mark        string
	MarkOptions string
}

// PatternStyles is indexed by the order series first appear in an artifact.
// Styles wrap around if a file somehow carries more series than entries.
var PatternStyles = []PlotStyle{
	{Color: "blue", LineStyle: "solid", LineWidth: "thick", Mark: "*", MarkOptions: "scale=0.4,fill=blue"},
	{Color: "red", LineStyle: "densely dashed", LineWidth: "thick", Mark: "triangle*", MarkOptions: "scale=0.5,fill=red"},
	{Color: "green!70!black", LineStyle: "densely dotted", LineWidth: "thick", Mark: "square*", MarkOptions: "scale=0.4,fill=green!70!black"},
	{Color: "orange", LineStyle: "dashdotted", LineWidth: "thick", Mark: "diamond*", MarkOptions: "scale=0.5,fill=orange"},
	{Color: "purple", LineStyle: "loosely dotted", LineWidth: "thick", Mark: "pentagon*", MarkOptions: "scale=0.5,fill=purple"},
	{Color: "brown", LineStyle: "dashed", LineWidth: "thick", Mark: "x", MarkOptions: "scale=0.5"},
	{Color: "cyan", LineStyle: "solid", LineWidth: "thick", Mark: "o", MarkOptions: "scale=0.4"},
	{Color: "magenta", LineStyle: "dashed", LineWidth: "thick", Mark: "star", MarkOptions: "scale=0.5,fill=magenta"},
}

func GetPatternStyle(seriesIndex int) PlotStyle {
	if seriesIndex < 0 {
		seriesIndex = 0
	}
	return PatternStyles[seriesIndex%len(PatternStyles)]
}

func (ps PlotStyle) ToTikzOptions() string {
	options := ps.Color
	if ps.LineStyle != "" {
		options += "," + ps.LineStyle
	}
	if ps.LineWidth != "" {
		options += "," + ps.LineWidth
	}
	if ps.Mark != "none" && ps.Mark != "" {
		options += ",mark=" + ps.Mark
		if ps.MarkOptions != "" {
			options += ",mark options={" + ps.MarkOptions + "}"
		}
	}
	return options
}
