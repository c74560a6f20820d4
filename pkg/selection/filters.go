package selection

import (
	"math/rand/v2"
	"sort"

	"mritract/internal/models"
	"mritract/pkg/tracking"
)

// Filter maps a curve collection to the curves it keeps
type Filter func(*tracking.Curves) *tracking.Curves

func keep(curves *tracking.Curves, pass func(*tracking.Curve) bool) *tracking.Curves {
	var idx []int
	for i, c := range curves.Curves {
		if pass(c) {
			idx = append(idx, i)
		}
	}
	return curves.Subset(idx)
}

// touches reports whether any vertex of the curve lies in the selector.
// Solids are also tested against every segment.
func touches(c *tracking.Curve, sel Selector) bool {
	for _, p := range c.Points {
		if sel.Contains(p) {
			return true
		}
	}
	if solids, ok := sel.(Solids); ok {
		for i := 1; i < len(c.Points); i++ {
			if solids.Intersects(c.Points[i-1], c.Points[i]) {
				return true
			}
		}
	}
	return false
}

func endpointIn(c *tracking.Curve, sel Selector) bool {
	return c.Len() > 0 && (sel.Contains(c.Head()) || sel.Contains(c.Tail()))
}

func prepare(mask *models.Mask, binarize bool) *models.Mask {
	if binarize {
		return mask.Binarize()
	}
	return mask
}

// Contain keeps curves whose traversed voxels lie in the mask for at least
// the given fraction
func Contain(mask *models.Mask, thresh float64) Filter {
	return func(curves *tracking.Curves) *tracking.Curves {
		return keep(curves, func(c *tracking.Curve) bool {
			crossings := mask.Sampling.TraverseLine(c.Points)
			if len(crossings) == 0 {
				return false
			}
			count := 0
			for _, x := range crossings {
				if mask.Foreground(x.I, x.J, x.K) {
					count++
				}
			}
			return float64(count)/float64(len(crossings)) >= thresh
		})
	}
}

// Include keeps curves touching every nonzero label of the mask. A mask
// without labels keeps everything.
func Include(mask *models.Mask, binarize bool) Filter {
	return func(curves *tracking.Curves) *tracking.Curves {
		m := prepare(mask, binarize)
		for _, label := range m.Nonzero() {
			sel := NewMaskSelector(m.Equal(label))
			curves = keep(curves, func(c *tracking.Curve) bool { return touches(c, sel) })
		}
		return curves
	}
}

// IncludeSolids keeps curves touching any of the solids
func IncludeSolids(solids Solids) Filter {
	return func(curves *tracking.Curves) *tracking.Curves {
		if len(solids) == 0 {
			return curves
		}
		return keep(curves, func(c *tracking.Curve) bool { return touches(c, solids) })
	}
}

// Endpoints keeps curves with an endpoint in every nonzero label of the
// mask. With connect, a mask of one or two labels also requires the two
// endpoints to carry distinct labels, and curves are oriented so the head
// carries the smaller one.
func Endpoints(mask *models.Mask, binarize, connect bool) Filter {
	return func(curves *tracking.Curves) *tracking.Curves {
		m := prepare(mask, binarize)
		labels := m.Nonzero()
		for _, label := range labels {
			sel := NewMaskSelector(m.Equal(label))
			curves = keep(curves, func(c *tracking.Curve) bool { return endpointIn(c, sel) })
		}
		if !connect || len(labels) == 0 || len(labels) > 2 {
			return curves
		}
		return keep(curves, func(c *tracking.Curve) bool {
			if c.Len() == 0 || !m.Sampling.ContainsWorld(c.Head()) || !m.Sampling.ContainsWorld(c.Tail()) {
				return false
			}
			head, tail := m.LabelAt(c.Head()), m.LabelAt(c.Tail())
			if len(labels) == 2 && (head == 0 || tail == 0) {
				return false
			}
			if head == tail {
				return false
			}
			if head > tail {
				c.Reverse()
			}
			return true
		})
	}
}

// EndpointSolids keeps curves with an endpoint inside the solids. With anyOf
// set one solid suffices, otherwise every solid needs an endpoint.
func EndpointSolids(solids Solids, anyOf bool) Filter {
	return func(curves *tracking.Curves) *tracking.Curves {
		if len(solids) == 0 {
			return curves
		}
		if anyOf {
			return keep(curves, func(c *tracking.Curve) bool { return endpointIn(c, solids) })
		}
		for _, solid := range solids {
			sel := Solids{solid}
			curves = keep(curves, func(c *tracking.Curve) bool { return endpointIn(c, sel) })
		}
		return curves
	}
}

// ExcludeSolids drops curves touching any of the solids
func ExcludeSolids(solids Solids) Filter {
	return func(curves *tracking.Curves) *tracking.Curves {
		if len(solids) == 0 {
			return curves
		}
		return keep(curves, func(c *tracking.Curve) bool { return !touches(c, solids) })
	}
}

// ExcludeMask drops curves with a vertex in the foreground of the mask
func ExcludeMask(mask *models.Mask) Filter {
	sel := NewMaskSelector(mask)
	return func(curves *tracking.Curves) *tracking.Curves {
		return keep(curves, func(c *tracking.Curve) bool { return !touches(c, sel) })
	}
}

// ConnectRegions keeps curves whose first and last labelled vertices carry
// distinct labels, trimmed to the span between them
func ConnectRegions(regions *models.Mask) Filter {
	return func(curves *tracking.Curves) *tracking.Curves {
		out := tracking.NewCurves()
		for name, dim := range curves.Schema {
			out.Schema[name] = dim
		}
		for _, c := range curves.Curves {
			n := c.Len()
			labels := make([]int, n)
			for i, p := range c.Points {
				labels[i] = regions.LabelAt(p)
			}
			start, end := 0, n-1
			for start < n && labels[start] == 0 {
				start++
			}
			for end >= 0 && labels[end] == 0 {
				end--
			}
			if end-start < 2 || labels[start] == labels[end] {
				continue
			}
			out.Curves = append(out.Curves, trim(c, start, end+1))
		}
		return out
	}
}

func trim(c *tracking.Curve, start, end int) *tracking.Curve {
	if start == 0 && end == c.Len() {
		return c
	}
	out := tracking.NewCurve(append([]models.Vect3(nil), c.Points[start:end]...)...)
	for name, vals := range c.Attrs {
		out.Attrs[name] = append([][]float64(nil), vals[start:end]...)
	}
	return out
}

// Reduce keeps a uniform random subset of at most n curves, in their
// original order
func Reduce(n int, rng *rand.Rand) Filter {
	return func(curves *tracking.Curves) *tracking.Curves {
		if n < 0 || curves.Len() <= n {
			return curves
		}
		idx := rng.Perm(curves.Len())[:n]
		sort.Ints(idx)
		return curves.Subset(idx)
	}
}
