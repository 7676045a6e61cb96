// Package patterns implements the memory access kernels the benchmark
// drives: sequential and random read/write, bulk copy, and the STREAM
// triad. Kernels walk cache line aligned sub ranges of shared buffers,
// honor cooperative cancellation, and report their traffic as samples.
package patterns

import "fmt"

// Pattern identifies one access kernel.
type Pattern int

const (
	SequentialRead Pattern = iota
	SequentialWrite
	RandomRead
	RandomWrite
	Copy
	Triad
	MatrixMultiply
)

var patternNames = map[string]Pattern{
	"sequential_read":  SequentialRead,
	"sequential_write": SequentialWrite,
	"random_read":      RandomRead,
	"random_write":     RandomWrite,
	"copy":             Copy,
	"triad":            Triad,
	"matrix_multiply":  MatrixMultiply,
}

func (p Pattern) String() string {
	switch p {
	case SequentialRead:
		return "Sequential Read"
	case SequentialWrite:
		return "Sequential Write"
	case RandomRead:
		return "Random Read"
	case RandomWrite:
		return "Random Write"
	case Copy:
		return "Copy"
	case Triad:
		return "Triad"
	case MatrixMultiply:
		return "Matrix Multiply (GEMM)"
	default:
		return "Unknown"
	}
}

// Slug returns the command line spelling of the pattern.
func (p Pattern) Slug() string {
	switch p {
	case SequentialRead:
		return "sequential_read"
	case SequentialWrite:
		return "sequential_write"
	case RandomRead:
		return "random_read"
	case RandomWrite:
		return "random_write"
	case Copy:
		return "copy"
	case Triad:
		return "triad"
	case MatrixMultiply:
		return "matrix_multiply"
	default:
		return "unknown"
	}
}

// BufferCount reports how many aligned regions one run of the pattern needs:
// a single shared buffer for the streaming and random kernels, a source and
// destination pair for copy, four arrays for triad.
func (p Pattern) BufferCount() int {
	switch p {
	case Copy:
		return 2
	case Triad:
		return 4
	default:
		return 1
	}
}

// Parse resolves a single pattern name.
func Parse(name string) (Pattern, error) {
	p, ok := patternNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown pattern %q", name)
	}
	return p, nil
}

// Standard lists the patterns an "all" selection expands to. Matrix multiply
// runs only when requested by name since its footprint and metrics differ
// from the streaming kernels.
func Standard() []Pattern {
	return []Pattern{SequentialRead, SequentialWrite, RandomRead, RandomWrite, Copy, Triad}
}

// ParseSelection expands a pattern argument, either "all" or one name.
func ParseSelection(selection string) ([]Pattern, error) {
	if selection == "all" {
		return Standard(), nil
	}
	p, err := Parse(selection)
	if err != nil {
		return nil, err
	}
	return []Pattern{p}, nil
}
