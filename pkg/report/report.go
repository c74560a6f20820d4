// Package report summarizes curve sets and renders the summary as an HTML
// chart page.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mritract/pkg/tracking"
)

// Bin is one histogram interval [Lo, Hi)
type Bin struct {
	Lo, Hi float64
	Count  int
}

// Summary describes the lengths of a curve set
type Summary struct {
	Curves   int
	Vertices int

	MinLength  float64
	MaxLength  float64
	MeanLength float64
	StdLength  float64

	Bins []Bin
}

// Summarize computes length statistics and a histogram with the given
// number of bins
func Summarize(curves *tracking.Curves, bins int) Summary {
	s := Summary{Curves: curves.Len()}
	if s.Curves == 0 {
		return s
	}
	if bins <= 0 {
		bins = 1
	}

	lengths := make([]float64, 0, s.Curves)
	for _, c := range curves.Curves {
		s.Vertices += c.Len()
		lengths = append(lengths, c.Length())
	}
	sort.Float64s(lengths)

	s.MinLength, s.MaxLength = lengths[0], lengths[len(lengths)-1]
	s.MeanLength, s.StdLength = stat.MeanStdDev(lengths, nil)
	if math.IsNaN(s.StdLength) {
		s.StdLength = 0
	}

	hi := s.MaxLength
	if hi <= s.MinLength {
		hi = s.MinLength + 1
	}
	dividers := make([]float64, bins+1)
	floats.Span(dividers, s.MinLength, hi)
	dividers[bins] = math.Nextafter(dividers[bins], math.Inf(1))
	counts := stat.Histogram(nil, dividers, lengths, nil)

	s.Bins = make([]Bin, bins)
	for i := range s.Bins {
		s.Bins[i] = Bin{Lo: dividers[i], Hi: dividers[i+1], Count: int(counts[i])}
	}
	return s
}

// WriteHTML renders the length histogram as a bar chart page
func (s Summary) WriteHTML(w io.Writer, title string) error {
	x := make([]string, len(s.Bins))
	y := make([]opts.BarData, len(s.Bins))
	for i, b := range s.Bins {
		x[i] = fmt.Sprintf("%.1f", (b.Lo+b.Hi)/2)
		y[i] = opts.BarData{Value: b.Count}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title: title,
			Subtitle: fmt.Sprintf("curves=%d vertices=%d mean=%.2f std=%.2f",
				s.Curves, s.Vertices, s.MeanLength, s.StdLength),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "length (mm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "curves"}),
	)
	bar.SetXAxis(x).AddSeries("length", y)

	page := components.NewPage()
	page.AddCharts(bar)
	return page.Render(w)
}
