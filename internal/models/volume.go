package models

import (
	"fmt"
	"sort"
)

// Volume is a regular grid of fixed-length parameter vectors. Every voxel
// holds Dim values; Model names the parameter layout (see pkg/model).
type Volume struct {
	// Sampling is the grid geometry, shared with masks and derived volumes
	Sampling *Sampling

	// Dim is the number of values stored per voxel
	Dim int

	// Model is the declared model type of the voxel vectors
	Model string

	// Data holds the voxel vectors in voxel-major order
	Data []float64
}

// NewVolume allocates a zero volume
func NewVolume(sampling *Sampling, dim int, modelName string) *Volume {
	return &Volume{
		Sampling: sampling,
		Dim:      dim,
		Model:    modelName,
		Data:     make([]float64, sampling.Size()*dim),
	}
}

// Proto allocates a zero volume with the same sampling and a new dimension
func (v *Volume) Proto(dim int, modelName string) *Volume {
	return NewVolume(v.Sampling, dim, modelName)
}

// Copy returns a deep copy
func (v *Volume) Copy() *Volume {
	out := &Volume{Sampling: v.Sampling, Dim: v.Dim, Model: v.Model, Data: make([]float64, len(v.Data))}
	copy(out.Data, v.Data)
	return out
}

// Vector returns a view of the vector stored at a voxel
func (v *Volume) Vector(i, j, k int) []float64 {
	off := v.Sampling.Index(i, j, k) * v.Dim
	return v.Data[off : off+v.Dim]
}

// Get returns a copy of the vector stored at a voxel
func (v *Volume) Get(i, j, k int) []float64 {
	out := make([]float64, v.Dim)
	copy(out, v.Vector(i, j, k))
	return out
}

// GetIndex returns a copy of the vector stored at a flat index
func (v *Volume) GetIndex(idx int) []float64 {
	out := make([]float64, v.Dim)
	copy(out, v.Data[idx*v.Dim:(idx+1)*v.Dim])
	return out
}

// Set stores a vector at a voxel
func (v *Volume) Set(i, j, k int, value []float64) {
	copy(v.Vector(i, j, k), value)
}

// SetIndex stores a vector at a flat index
func (v *Volume) SetIndex(idx int, value []float64) {
	copy(v.Data[idx*v.Dim:(idx+1)*v.Dim], value)
}

// Fill stores the same vector in every voxel
func (v *Volume) Fill(value []float64) {
	for idx := 0; idx < v.Sampling.Size(); idx++ {
		v.SetIndex(idx, value)
	}
}

// Valid reports whether a voxel lies in the grid and in the optional mask
func (v *Volume) Valid(i, j, k int, mask *Mask) bool {
	if !v.Sampling.Contains(i, j, k) {
		return false
	}
	return mask == nil || mask.Foreground(i, j, k)
}

// Validate checks the storage matches the declared geometry
func (v *Volume) Validate() error {
	if v.Sampling == nil {
		return fmt.Errorf("volume has no sampling")
	}
	if v.Dim <= 0 {
		return fmt.Errorf("invalid volume dimension: %d", v.Dim)
	}
	if len(v.Data) != v.Sampling.Size()*v.Dim {
		return fmt.Errorf("volume data length %d does not match %d voxels of dimension %d",
			len(v.Data), v.Sampling.Size(), v.Dim)
	}
	return nil
}

// Mask is a label volume; zero is background
type Mask struct {
	Sampling *Sampling
	Labels   []int
}

// NewMask allocates an empty mask
func NewMask(sampling *Sampling) *Mask {
	return &Mask{Sampling: sampling, Labels: make([]int, sampling.Size())}
}

// Copy returns a deep copy
func (m *Mask) Copy() *Mask {
	out := NewMask(m.Sampling)
	copy(out.Labels, m.Labels)
	return out
}

// Get returns the label of a voxel, or zero outside the grid
func (m *Mask) Get(i, j, k int) int {
	if !m.Sampling.Contains(i, j, k) {
		return 0
	}
	return m.Labels[m.Sampling.Index(i, j, k)]
}

// Set labels a voxel
func (m *Mask) Set(i, j, k, label int) {
	m.Labels[m.Sampling.Index(i, j, k)] = label
}

// Foreground reports whether a voxel has a nonzero label
func (m *Mask) Foreground(i, j, k int) bool {
	return m.Get(i, j, k) != 0
}

// LabelAt returns the label of the voxel nearest to a world position
func (m *Mask) LabelAt(p Vect3) int {
	i, j, k := m.Sampling.Nearest(p)
	return m.Get(i, j, k)
}

// Count returns the number of foreground voxels
func (m *Mask) Count() int {
	n := 0
	for _, l := range m.Labels {
		if l != 0 {
			n++
		}
	}
	return n
}

// Nonzero returns the distinct nonzero labels in ascending order
func (m *Mask) Nonzero() []int {
	seen := make(map[int]struct{})
	for _, l := range m.Labels {
		if l != 0 {
			seen[l] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// Binarize maps every nonzero label to one
func (m *Mask) Binarize() *Mask {
	out := NewMask(m.Sampling)
	for idx, l := range m.Labels {
		if l != 0 {
			out.Labels[idx] = 1
		}
	}
	return out
}

// Equal returns a binary mask of the voxels carrying the given label
func (m *Mask) Equal(label int) *Mask {
	out := NewMask(m.Sampling)
	for idx, l := range m.Labels {
		if l == label {
			out.Labels[idx] = 1
		}
	}
	return out
}

// Invert swaps foreground and background
func (m *Mask) Invert() *Mask {
	out := NewMask(m.Sampling)
	for idx, l := range m.Labels {
		if l == 0 {
			out.Labels[idx] = 1
		}
	}
	return out
}
