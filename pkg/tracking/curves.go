package tracking

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"mritract/internal/models"
)

// Standard per-vertex attributes
const (
	AttrTangent = "tangent"
	AttrSegment = "segment"
	AttrSample  = "sample"
)

// Curve is a polyline with named per-vertex attribute vectors. Every
// attribute holds exactly one vector per point.
type Curve struct {
	Points []models.Vect3
	Attrs  map[string][][]float64
}

// NewCurve creates a curve from a list of points
func NewCurve(points ...models.Vect3) *Curve {
	return &Curve{Points: points, Attrs: make(map[string][][]float64)}
}

// Len returns the number of vertices
func (c *Curve) Len() int {
	return len(c.Points)
}

// Length returns the Euclidean polyline length
func (c *Curve) Length() float64 {
	total := 0.0
	for i := 1; i < len(c.Points); i++ {
		total += r3.Norm(r3.Sub(c.Points[i], c.Points[i-1]))
	}
	return total
}

// Head returns the first vertex; the curve must not be empty
func (c *Curve) Head() models.Vect3 {
	return c.Points[0]
}

// Tail returns the last vertex; the curve must not be empty
func (c *Curve) Tail() models.Vect3 {
	return c.Points[len(c.Points)-1]
}

// Reverse flips the vertex order in place, attributes included
func (c *Curve) Reverse() {
	for i, j := 0, len(c.Points)-1; i < j; i, j = i+1, j-1 {
		c.Points[i], c.Points[j] = c.Points[j], c.Points[i]
	}
	for _, vals := range c.Attrs {
		for i, j := 0, len(vals)-1; i < j; i, j = i+1, j-1 {
			vals[i], vals[j] = vals[j], vals[i]
		}
	}
}

// Copy returns a deep copy
func (c *Curve) Copy() *Curve {
	out := &Curve{
		Points: append([]models.Vect3(nil), c.Points...),
		Attrs:  make(map[string][][]float64, len(c.Attrs)),
	}
	for name, vals := range c.Attrs {
		cp := make([][]float64, len(vals))
		for i, v := range vals {
			cp[i] = append([]float64(nil), v...)
		}
		out.Attrs[name] = cp
	}
	return out
}

// SetAll stores the same attribute vector at every vertex
func (c *Curve) SetAll(attr string, value []float64) {
	vals := make([][]float64, len(c.Points))
	for i := range vals {
		vals[i] = append([]float64(nil), value...)
	}
	c.Attrs[attr] = vals
}

// Attr returns the attribute vector of a vertex, or nil when unset
func (c *Curve) Attr(attr string, idx int) []float64 {
	vals, ok := c.Attrs[attr]
	if !ok || idx >= len(vals) {
		return nil
	}
	return vals[idx]
}

// Tangents returns the unit tangent at every vertex, from central
// differences inside the curve and one-sided differences at the ends
func (c *Curve) Tangents() []models.Vect3 {
	n := len(c.Points)
	out := make([]models.Vect3, n)
	if n < 2 {
		return out
	}
	for i := range c.Points {
		a, b := max(i-1, 0), min(i+1, n-1)
		out[i] = models.Normalize(r3.Sub(c.Points[b], c.Points[a]))
	}
	return out
}

// UpdateTangents stores Tangents as the tangent attribute
func (c *Curve) UpdateTangents() {
	tangents := c.Tangents()
	vals := make([][]float64, len(tangents))
	for i, t := range tangents {
		vals[i] = models.ToSlice(t)
	}
	c.Attrs[AttrTangent] = vals
}

// Curves is an ordered collection of curves sharing an attribute schema
// (attribute name to vector dimension)
type Curves struct {
	Curves []*Curve
	Schema map[string]int
}

// NewCurves creates an empty collection
func NewCurves() *Curves {
	return &Curves{Schema: make(map[string]int)}
}

// Len returns the number of curves
func (cs *Curves) Len() int {
	return len(cs.Curves)
}

// Add appends curves, registering any attribute they carry
func (cs *Curves) Add(curves ...*Curve) {
	for _, c := range curves {
		for name, vals := range c.Attrs {
			if _, ok := cs.Schema[name]; !ok && len(vals) > 0 {
				cs.Schema[name] = len(vals[0])
			}
		}
		cs.Curves = append(cs.Curves, c)
	}
}

// Append adds every curve of another collection
func (cs *Curves) Append(other *Curves) {
	for name, dim := range other.Schema {
		if _, ok := cs.Schema[name]; !ok {
			cs.Schema[name] = dim
		}
	}
	cs.Curves = append(cs.Curves, other.Curves...)
}

// Copy returns a deep copy
func (cs *Curves) Copy() *Curves {
	out := NewCurves()
	for name, dim := range cs.Schema {
		out.Schema[name] = dim
	}
	for _, c := range cs.Curves {
		out.Curves = append(out.Curves, c.Copy())
	}
	return out
}

// Subset returns the curves at the given indices, shared by reference
func (cs *Curves) Subset(idx []int) *Curves {
	out := NewCurves()
	for name, dim := range cs.Schema {
		out.Schema[name] = dim
	}
	for _, i := range idx {
		out.Curves = append(out.Curves, cs.Curves[i])
	}
	return out
}

// SetAll stores the same attribute vector at every vertex of every curve
func (cs *Curves) SetAll(attr string, value []float64) {
	cs.Schema[attr] = len(value)
	for _, c := range cs.Curves {
		c.SetAll(attr, value)
	}
}

// Validate checks that attribute lengths match the vertex counts and the
// schema dimensions
func (cs *Curves) Validate() error {
	for idx, c := range cs.Curves {
		for name, vals := range c.Attrs {
			if len(vals) != len(c.Points) {
				return fmt.Errorf("curve %d: attribute %q has %d values for %d points", idx, name, len(vals), len(c.Points))
			}
			if len(vals) == 0 {
				continue
			}
			dim, ok := cs.Schema[name]
			if !ok {
				return fmt.Errorf("curve %d: attribute %q missing from schema", idx, name)
			}
			for _, v := range vals {
				if len(v) != dim {
					return fmt.Errorf("curve %d: attribute %q has dimension %d, want %d", idx, name, len(v), dim)
				}
			}
		}
	}
	return nil
}
