package interpolation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"mritract/internal/models"
	"mritract/pkg/estimation"
	"mritract/pkg/model"
)

// Kernel types supported by the estimator
type KernelType int

const (
	Nearest KernelType = iota
	Trilinear
	Gaussian
)

func (k KernelType) String() string {
	switch k {
	case Nearest:
		return "Nearest"
	case Gaussian:
		return "Gaussian"
	}
	return "Trilinear"
}

// ParseKernel maps a kernel name to its type
func ParseKernel(name string) (KernelType, error) {
	switch strings.ToLower(name) {
	case "nearest":
		return Nearest, nil
	case "trilinear", "":
		return Trilinear, nil
	case "gaussian":
		return Gaussian, nil
	}
	return 0, fmt.Errorf("unknown kernel %q", name)
}

// ErrDegenerateNeighborhood is returned when no voxel with positive weight
// lies in the kernel support of a query point
var ErrDegenerateNeighborhood = errors.New("degenerate kernel neighborhood")

// KernelParams holds the kernel settings
type KernelParams struct {
	Interp KernelType

	// Support is the voxel radius of the gaussian neighbourhood
	Support int

	// Hpos is the spatial bandwidth in world units
	Hpos float64

	// Hval is the model-distance bandwidth; zero disables it
	Hval float64

	// Hsig is the baseline-signal bandwidth; zero disables it
	Hsig float64
}

// DefaultKernelParams returns the kernel defaults
func DefaultKernelParams() KernelParams {
	return KernelParams{Interp: Trilinear, Support: 3, Hpos: 1}
}

// Neighbor is one weighted voxel of a kernel neighbourhood
type Neighbor struct {
	I, J, K int
	Weight  float64
}

// VolumeEstimator re-estimates a model at continuous positions from the
// weighted voxels around it. It only reads the volume and is safe for
// concurrent use.
type VolumeEstimator struct {
	volume    *models.Volume
	mask      *models.Mask
	typ       model.Type
	estimator estimation.Estimator
	params    KernelParams
}

// NewVolumeEstimator validates the volume against the model type and
// returns an estimator over it
func NewVolumeEstimator(volume *models.Volume, mask *models.Mask, typ model.Type, estimator estimation.Estimator, params KernelParams) (*VolumeEstimator, error) {
	if err := volume.Validate(); err != nil {
		return nil, err
	}
	capability, err := model.Lookup(typ)
	if err != nil {
		return nil, err
	}
	if !capability.Valid(volume.Dim) {
		return nil, fmt.Errorf("%w: %s volume with dimension %d", model.ErrInvalidEncoding, typ, volume.Dim)
	}
	if params.Support <= 0 {
		params.Support = 1
	}
	if params.Hpos <= 0 {
		params.Hpos = 1
	}

	return &VolumeEstimator{
		volume:    volume,
		mask:      mask,
		typ:       typ,
		estimator: estimator,
		params:    params,
	}, nil
}

// Type is the model type being estimated
func (e *VolumeEstimator) Type() model.Type {
	return e.typ
}

// Volume returns the underlying volume
func (e *VolumeEstimator) Volume() *models.Volume {
	return e.volume
}

// Params returns the kernel settings
func (e *VolumeEstimator) Params() KernelParams {
	return e.params
}

// Voxel decodes the model stored at a voxel
func (e *VolumeEstimator) Voxel(i, j, k int) (model.Model, error) {
	return model.Decode(e.typ, e.volume.Vector(i, j, k))
}

// Estimate returns the model at a world position
func (e *VolumeEstimator) Estimate(p models.Vect3) (model.Model, error) {
	return e.EstimateRef(p, nil)
}

// EstimateRef returns the model at a world position. The reference model,
// when given, drives the value and signal bandwidths of the gaussian kernel.
func (e *VolumeEstimator) EstimateRef(p models.Vect3, ref model.Model) (model.Model, error) {
	if e.params.Interp == Nearest {
		i, j, k := e.volume.Sampling.Nearest(p)
		if !e.volume.Valid(i, j, k, e.mask) {
			return e.estimator.Proto(), nil
		}
		return e.Voxel(i, j, k)
	}

	neighbors, err := e.WeightsRef(p, ref)
	if err != nil {
		return nil, err
	}

	weights := make([]float64, len(neighbors))
	inputs := make([]model.Model, len(neighbors))
	for n, nb := range neighbors {
		m, err := e.Voxel(nb.I, nb.J, nb.K)
		if err != nil {
			return nil, err
		}
		weights[n] = nb.Weight
		inputs[n] = m
	}

	return e.estimator.Estimate(weights, inputs)
}

// Weights returns the normalized kernel weights around a world position
func (e *VolumeEstimator) Weights(p models.Vect3) ([]Neighbor, error) {
	return e.WeightsRef(p, nil)
}

// WeightsRef is Weights with a reference model for the value and signal
// bandwidths
func (e *VolumeEstimator) WeightsRef(p models.Vect3, ref model.Model) ([]Neighbor, error) {
	var out []Neighbor
	switch e.params.Interp {
	case Nearest:
		i, j, k := e.volume.Sampling.Nearest(p)
		if e.volume.Valid(i, j, k, e.mask) {
			out = append(out, Neighbor{I: i, J: j, K: k, Weight: 1})
		}
	case Trilinear:
		out = e.trilinear(p)
	case Gaussian:
		var err error
		if out, err = e.gaussian(p, ref); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid kernel: %d", e.params.Interp)
	}

	sum := 0.0
	for _, n := range out {
		sum += n.Weight
	}
	if len(out) == 0 || sum <= 0 || math.IsNaN(sum) {
		return nil, fmt.Errorf("%w at (%g, %g, %g)", ErrDegenerateNeighborhood, p.X, p.Y, p.Z)
	}
	for n := range out {
		out[n].Weight /= sum
	}
	return out, nil
}

func (e *VolumeEstimator) trilinear(p models.Vect3) []Neighbor {
	v := e.volume.Sampling.Voxel(p)
	sx, sy, sz := int(math.Floor(v.X)), int(math.Floor(v.Y)), int(math.Floor(v.Z))
	dx, dy, dz := v.X-float64(sx), v.Y-float64(sy), v.Z-float64(sz)

	var wx, wy, wz [2]float64
	for n := 0; n < 2; n++ {
		wx[n] = triangle(float64(n) - dx)
		wy[n] = triangle(float64(n) - dy)
		wz[n] = triangle(float64(n) - dz)
	}

	out := make([]Neighbor, 0, 8)
	for k := 0; k < 2; k++ {
		for j := 0; j < 2; j++ {
			for i := 0; i < 2; i++ {
				w := wx[i] * wy[j] * wz[k]
				ni, nj, nk := sx+i, sy+j, sz+k
				if w <= 0 || !e.volume.Valid(ni, nj, nk, e.mask) {
					continue
				}
				out = append(out, Neighbor{I: ni, J: nj, K: nk, Weight: w})
			}
		}
	}
	return out
}

func (e *VolumeEstimator) gaussian(p models.Vect3, ref model.Model) ([]Neighbor, error) {
	ci, cj, ck := e.volume.Sampling.Nearest(p)
	s := e.params.Support
	h2 := 2 * e.params.Hpos * e.params.Hpos

	useVal := ref != nil && e.params.Hval > 0
	useSig := ref != nil && e.params.Hsig > 0

	var out []Neighbor
	for dk := -s; dk <= s; dk++ {
		for dj := -s; dj <= s; dj++ {
			for di := -s; di <= s; di++ {
				ni, nj, nk := ci+di, cj+dj, ck+dk
				if !e.volume.Valid(ni, nj, nk, e.mask) {
					continue
				}

				d := e.volume.Sampling.WorldIjk(ni, nj, nk)
				dx, dy, dz := d.X-p.X, d.Y-p.Y, d.Z-p.Z
				w := math.Exp(-(dx*dx + dy*dy + dz*dz) / h2)

				if useVal || useSig {
					m, err := e.Voxel(ni, nj, nk)
					if err != nil {
						return nil, err
					}
					if useVal {
						dist := ref.Dist(m)
						w *= math.Exp(-dist * dist / (e.params.Hval * e.params.Hval))
					}
					if useSig {
						db := ref.Baseline() - m.Baseline()
						w *= math.Exp(-db * db / (e.params.Hsig * e.params.Hsig))
					}
				}

				out = append(out, Neighbor{I: ni, J: nj, K: nk, Weight: w})
			}
		}
	}
	return out, nil
}

func triangle(x float64) float64 {
	return math.Max(0, 1-math.Abs(x))
}
