// Package stats computes the distributional statistics reported for contours and regions.
// It operates on owned float64 buffers and reproduces the histogram conventions of
// numpy.histogram so that exported values stay comparable with earlier runs.
package stats

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultBins is the number of histogram bins used when none is configured (2^12)
const DefaultBins = 4096

// Histogram is a fixed-bin histogram. Edges has len(Counts)+1 entries; every bin is
// half-open [Edges[i], Edges[i+1]) except the last, which also includes its right edge.
type Histogram struct {
	Counts []int
	Edges  []float64
}

// Summary holds the statistics of one sample sequence
type Summary struct {
	Histogram Histogram

	// Mode is the LEFT edge of the first bin with the maximum count, not the
	// bin centre
	Mode float64

	Mean float64

	// Std is the population standard deviation (divides by N)
	Std float64

	Median float64
	Sum    float64
	Count  int
}

// NewHistogram bins x into the given number of equal-width bins spanning [min(x), max(x)].
//
// When all samples are equal the range is widened to [v-0.5, v+0.5].
// Bin assignment follows numpy: a sample equal to the upper edge lands in the last bin,
// and samples sitting exactly on an interior edge belong to the bin on its right.
//
// Parameters:
//   - x: samples, must be non-empty
//   - bins: number of bins, values below 1 fall back to DefaultBins
func NewHistogram(x []float64, bins int) Histogram {
	if bins < 1 {
		bins = DefaultBins
	}

	lo, hi := floats.Min(x), floats.Max(x)
	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}

	edges := make([]float64, bins+1)
	step := (hi - lo) / float64(bins)
	for i := range edges {
		edges[i] = lo + float64(i)*step
	}
	edges[bins] = hi

	counts := make([]int, bins)
	norm := float64(bins) / (hi - lo)
	for _, v := range x {
		i := int((v - lo) * norm)
		if i >= bins {
			i = bins - 1
		}
		// Correct for rounding in the index computation
		if i > 0 && v < edges[i] {
			i--
		} else if i < bins-1 && v >= edges[i+1] {
			i++
		}
		counts[i]++
	}

	return Histogram{Counts: counts, Edges: edges}
}

// Mode returns the left edge of the first bin holding the maximum count
func (h Histogram) Mode() float64 {
	best := 0
	for i, c := range h.Counts {
		if c > h.Counts[best] {
			best = i
		}
	}
	return h.Edges[best]
}

// BinWidth returns the width of a single bin
func (h Histogram) BinWidth() float64 {
	if len(h.Edges) < 2 {
		return 0
	}
	return h.Edges[1] - h.Edges[0]
}

// Summarize computes the statistics of x. It returns nil for an empty sequence,
// which callers treat as "undefined" rather than as a zero summary.
func Summarize(x []float64, bins int) *Summary {
	if len(x) == 0 {
		return nil
	}

	hist := NewHistogram(x, bins)

	var mean, std float64
	if len(x) == 1 {
		// gonum divides by N-1 before rescaling, which is NaN for a single sample
		mean = x[0]
	} else {
		mean, std = stat.PopMeanStdDev(x, nil)
	}

	return &Summary{
		Histogram: hist,
		Mode:      hist.Mode(),
		Mean:      mean,
		Std:       std,
		Median:    Median(x),
		Sum:       floats.Sum(x),
		Count:     len(x),
	}
}

// Median calculates the median of values without modifying them.
// For an even count it averages the two middle values.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
