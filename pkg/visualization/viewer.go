// Package visualization renders axis-aligned slices of scalar volumes and
// label masks as images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"mritract/internal/models"
)

// Viewer extracts slices from one scalar value per voxel
type Viewer struct {
	data     []float64
	sampling *models.Sampling
}

// NewViewer wraps voxel values laid out in sampling index order
func NewViewer(data []float64, sampling *models.Sampling) (*Viewer, error) {
	if sampling == nil {
		return nil, fmt.Errorf("viewer requires a sampling")
	}
	if len(data) != sampling.Size() {
		return nil, fmt.Errorf("data length %d does not match %d voxels", len(data), sampling.Size())
	}
	return &Viewer{data: data, sampling: sampling}, nil
}

// FromVolume views one component of a volume
func FromVolume(vol *models.Volume, comp int) (*Viewer, error) {
	if err := vol.Validate(); err != nil {
		return nil, err
	}
	if comp < 0 || comp >= vol.Dim {
		return nil, fmt.Errorf("component %d out of range for dimension %d", comp, vol.Dim)
	}
	data := make([]float64, vol.Sampling.Size())
	for idx := range data {
		data[idx] = vol.Data[idx*vol.Dim+comp]
	}
	return NewViewer(data, vol.Sampling)
}

// FromMask views the labels of a mask
func FromMask(m *models.Mask) (*Viewer, error) {
	data := make([]float64, len(m.Labels))
	for i, l := range m.Labels {
		data[i] = float64(l)
	}
	return NewViewer(data, m.Sampling)
}

// Slice is a 2D cut through the volume. It implements plotter.GridXYZ with
// columns and rows in world units along the in-plane axes.
type Slice struct {
	Axis     string
	Position int

	cols, rows int
	dc, dr     float64
	values     []float64
}

func (s *Slice) Dims() (c, r int)        { return s.cols, s.rows }
func (s *Slice) Z(c, r int) float64      { return s.values[r*s.cols+c] }
func (s *Slice) X(c int) float64         { return float64(c) * s.dc }
func (s *Slice) Y(r int) float64         { return float64(r) * s.dr }
func (s *Slice) Values() []float64       { return s.values }
func (s *Slice) Bounds() image.Rectangle { return image.Rect(0, 0, s.cols, s.rows) }

// Range returns the minimum and maximum slice values
func (s *Slice) Range() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range s.values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// Image converts the slice to grayscale, stretching the value range to the
// full 16 bit intensity range. Row zero is at the top of the image.
func (s *Slice) Image() *image.Gray16 {
	img := image.NewGray16(s.Bounds())
	lo, hi := s.Range()
	scale := 0.0
	if hi > lo {
		scale = 1 / (hi - lo)
	}
	for r := 0; r < s.rows; r++ {
		for c := 0; c < s.cols; c++ {
			value := uint16(math.Max(0, math.Min(65535, (s.Z(c, r)-lo)*scale*65535)))
			img.SetGray16(c, r, color.Gray16{Y: value})
		}
	}
	return img
}

func (v *Viewer) extent(axis string) (int, error) {
	switch strings.ToLower(axis) {
	case "x":
		return v.sampling.NI, nil
	case "y":
		return v.sampling.NJ, nil
	case "z":
		return v.sampling.NK, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice extracts the plane at a voxel position along an axis. An x
// slice spans (y, z), a y slice (x, z) and a z slice (x, y).
func (v *Viewer) ExtractSlice(axis string, position int) (*Slice, error) {
	n, err := v.extent(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, n, axis)
	}

	s := v.sampling
	out := &Slice{Axis: strings.ToLower(axis), Position: position}
	var at func(c, r int) int
	switch out.Axis {
	case "x":
		out.cols, out.rows, out.dc, out.dr = s.NJ, s.NK, s.Delta.Y, s.Delta.Z
		at = func(c, r int) int { return s.Index(position, c, r) }
	case "y":
		out.cols, out.rows, out.dc, out.dr = s.NI, s.NK, s.Delta.X, s.Delta.Z
		at = func(c, r int) int { return s.Index(c, position, r) }
	default:
		out.cols, out.rows, out.dc, out.dr = s.NI, s.NJ, s.Delta.X, s.Delta.Y
		at = func(c, r int) int { return s.Index(c, r, position) }
	}

	out.values = make([]float64, out.cols*out.rows)
	for r := 0; r < out.rows; r++ {
		for c := 0; c < out.cols; c++ {
			out.values[r*out.cols+c] = v.data[at(c, r)]
		}
	}
	return out, nil
}

// SaveSlice renders a slice as a heat map. The format follows the file
// extension (png, jpg, svg, pdf).
func (v *Viewer) SaveSlice(slice *Slice, title, filename string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "mm"
	p.Y.Label.Text = "mm"

	pal := moreland.Kindlmann().Palette(256)
	hm := plotter.NewHeatMap(slice, pal)
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	if err := p.Save(5*vg.Inch, 5*vg.Inch, filename); err != nil {
		return fmt.Errorf("saving slice %s: %w", filename, err)
	}
	return nil
}

// SaveSnapshots writes the central slice along each axis to dir as
// <name>_<axis>.png and returns the written paths
func (v *Viewer) SaveSnapshots(dir, name string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	var paths []string
	for _, axis := range []string{"x", "y", "z"} {
		n, _ := v.extent(axis)
		slice, err := v.ExtractSlice(axis, n/2)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", name, axis))
		title := fmt.Sprintf("%s %s=%d", name, axis, n/2)
		if err := v.SaveSlice(slice, title, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// SaveSliceSequence writes every slice along an axis to outputDir
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	n, err := v.extent(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < n; pos++ {
		slice, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", slice.Axis, pos))
		if err := v.SaveSlice(slice, fmt.Sprintf("%s=%d", slice.Axis, pos), filename); err != nil {
			return err
		}
	}
	return nil
}
