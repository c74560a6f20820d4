package model

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"mritract/internal/models"
)

// Fibers feature names
const (
	FibersBase = "base"
	FibersDiff = "diff"
	FibersLine = "line"
	FibersFrac = "frac"
	FibersFiso = "fiso"
	FibersFmax = "fmax"
	FibersNum  = "count"
)

const fibersCompSize = 6

// Compartment is one stick of a multi-fiber model
type Compartment struct {
	Frac  float64
	Stat  float64
	Label int
	Line  models.Vect3
}

// Fibers is a ball-and-sticks model with a fixed number of compartments
type Fibers struct {
	Base  float64
	Diff  float64
	Comps []Compartment
}

// NewFibers returns a zero model with n compartments
func NewFibers(n int) *Fibers {
	return &Fibers{Comps: make([]Compartment, n)}
}

// FibersValid reports whether a vector length is a fibers layout
func FibersValid(size int) bool {
	return size >= 2+fibersCompSize && (size-2)%fibersCompSize == 0
}

// FibersCount returns the number of compartments of a layout
func FibersCount(size int) int {
	return (size - 2) / fibersCompSize
}

// FibersSize returns the layout length for n compartments
func FibersSize(n int) int {
	return 2 + fibersCompSize*n
}

func (f *Fibers) Type() Type            { return TypeFibers }
func (f *Fibers) EncodingSize() int     { return FibersSize(len(f.Comps)) }
func (f *Fibers) DegreesOfFreedom() int { return 2 + 3*len(f.Comps) }
func (f *Fibers) Baseline() float64     { return f.Base }
func (f *Fibers) Size() int             { return len(f.Comps) }

func (f *Fibers) Encode() []float64 {
	out := make([]float64, f.EncodingSize())
	out[0] = f.Base
	out[1] = f.Diff
	for i, c := range f.Comps {
		idx := 2 + fibersCompSize*i
		out[idx] = c.Frac
		out[idx+1] = c.Stat
		out[idx+2] = float64(c.Label)
		out[idx+3] = c.Line.X
		out[idx+4] = c.Line.Y
		out[idx+5] = c.Line.Z
	}
	return out
}

func (f *Fibers) Decode(enc []float64) error {
	if err := checkSize(f, enc); err != nil {
		return err
	}
	f.Base = enc[0]
	f.Diff = enc[1]
	for i := range f.Comps {
		idx := 2 + fibersCompSize*i
		f.Comps[i] = Compartment{
			Frac:  enc[idx],
			Stat:  enc[idx+1],
			Label: int(math.Round(enc[idx+2])),
			Line:  models.Vect3{X: enc[idx+3], Y: enc[idx+4], Z: enc[idx+5]},
		}
	}
	return nil
}

// FracSum is the total stick fraction
func (f *Fibers) FracSum() float64 {
	s := 0.0
	for _, c := range f.Comps {
		s += c.Frac
	}
	return s
}

// FracMax is the largest stick fraction
func (f *Fibers) FracMax() float64 {
	m := 0.0
	for _, c := range f.Comps {
		m = math.Max(m, c.Frac)
	}
	return m
}

// Sort orders compartments by decreasing fraction
func (f *Fibers) Sort() {
	sort.SliceStable(f.Comps, func(a, b int) bool { return f.Comps[a].Frac > f.Comps[b].Frac })
}

// Resize returns a copy with n compartments, keeping the largest ones
func (f *Fibers) Resize(n int) *Fibers {
	c := f.Clone().(*Fibers)
	c.Sort()
	out := NewFibers(n)
	out.Base, out.Diff = f.Base, f.Diff
	copy(out.Comps, c.Comps)
	return out
}

func (f *Fibers) Features() []string {
	return []string{FibersBase, FibersDiff, FibersLine, FibersFrac, FibersFiso, FibersFmax, FibersNum}
}

func (f *Fibers) Feature(name string) ([]float64, error) {
	switch name {
	case FibersBase:
		return []float64{f.Base}, nil
	case FibersDiff:
		return []float64{f.Diff}, nil
	case FibersFrac:
		return []float64{f.FracSum()}, nil
	case FibersFiso:
		return []float64{1 - f.FracSum()}, nil
	case FibersFmax:
		return []float64{f.FracMax()}, nil
	case FibersNum:
		n := 0
		for _, c := range f.Comps {
			if c.Frac > 0 {
				n++
			}
		}
		return []float64{float64(n)}, nil
	case FibersLine:
		best := -1
		for i, c := range f.Comps {
			if best < 0 || c.Frac > f.Comps[best].Frac {
				best = i
			}
		}
		if best < 0 {
			return []float64{0, 0, 0}, nil
		}
		return models.ToSlice(f.Comps[best].Line), nil
	}
	return nil, unknownFeature(TypeFibers, name)
}

// Dist matches each compartment to its closest counterpart and sums the
// fraction-weighted angular dissimilarity plus the fraction mismatch.
func (f *Fibers) Dist(other Model) float64 {
	o, ok := other.(*Fibers)
	if !ok {
		return math.Inf(1)
	}

	cost := func(a, b *Fibers) float64 {
		s := 0.0
		for _, ca := range a.Comps {
			if ca.Frac <= 0 {
				continue
			}
			best := ca.Frac
			for _, cb := range b.Comps {
				if cb.Frac <= 0 {
					continue
				}
				dot := math.Abs(r3.Dot(models.Normalize(ca.Line), models.Normalize(cb.Line)))
				d := math.Abs(ca.Frac-cb.Frac) + math.Min(ca.Frac, cb.Frac)*(1-dot*dot)
				best = math.Min(best, d)
			}
			s += best * best
		}
		return s
	}

	return math.Sqrt(0.5 * (cost(f, o) + cost(o, f)))
}

func (f *Fibers) Clone() Model {
	out := &Fibers{Base: f.Base, Diff: f.Diff, Comps: make([]Compartment, len(f.Comps))}
	copy(out.Comps, f.Comps)
	return out
}

func (f *Fibers) Reorient(rot [3][3]float64) {
	for i := range f.Comps {
		f.Comps[i].Line = rotate(rot, f.Comps[i].Line)
	}
}

func rotate(rot [3][3]float64, v models.Vect3) models.Vect3 {
	return models.Vect3{
		X: rot[0][0]*v.X + rot[0][1]*v.Y + rot[0][2]*v.Z,
		Y: rot[1][0]*v.X + rot[1][1]*v.Y + rot[1][2]*v.Z,
		Z: rot[2][0]*v.X + rot[2][1]*v.Y + rot[2][2]*v.Z,
	}
}
