// Package selection provides spatial selectors (label masks and geometric
// solids) and the post-tracking curve filters built on them.
package selection

import (
	"errors"

	"mritract/internal/models"
)

// ErrGeometricDegeneracy reports an intersection test with no unique answer,
// such as a segment parallel to a plane
var ErrGeometricDegeneracy = errors.New("geometric degeneracy")

// Selector labels positions in space. Zero means outside.
type Selector interface {
	Label(p models.Vect3) int
	Contains(p models.Vect3) bool
}

// MaskSelector selects the foreground of a label mask, by nearest voxel
type MaskSelector struct {
	Mask *models.Mask
}

// NewMaskSelector wraps a mask; a nil mask gives a nil selector
func NewMaskSelector(mask *models.Mask) Selector {
	if mask == nil {
		return nil
	}
	return &MaskSelector{Mask: mask}
}

func (s *MaskSelector) Label(p models.Vect3) int {
	return s.Mask.LabelAt(p)
}

func (s *MaskSelector) Contains(p models.Vect3) bool {
	return s.Label(p) != 0
}

type or []Selector

// Or combines selectors; the label is that of the first one containing p.
// Nil selectors are skipped and a single survivor is returned as is.
func Or(selectors ...Selector) Selector {
	var out or
	for _, s := range selectors {
		if s != nil && !isNilSolids(s) {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

func isNilSolids(s Selector) bool {
	solids, ok := s.(Solids)
	return ok && len(solids) == 0
}

func (o or) Label(p models.Vect3) int {
	for _, s := range o {
		if l := s.Label(p); l != 0 {
			return l
		}
	}
	return 0
}

func (o or) Contains(p models.Vect3) bool {
	return o.Label(p) != 0
}
