package volumeops

import (
	"fmt"
	"math"

	"mritract/internal/models"
	"mritract/pkg/model"
)

// Threshold labels the voxels whose first channel exceeds t
func Threshold(vol *models.Volume, t float64) *models.Mask {
	out := models.NewMask(vol.Sampling)
	for idx := range out.Labels {
		if vol.Data[idx*vol.Dim] > t {
			out.Labels[idx] = 1
		}
	}
	return out
}

// ThresholdMagnitude labels the voxels whose vector norm exceeds t
func ThresholdMagnitude(vol *models.Volume, t float64) *models.Mask {
	return Threshold(Magnitude(vol), t)
}

// Magnitude returns the per-voxel euclidean norm
func Magnitude(vol *models.Volume) *models.Volume {
	out := vol.Proto(1, string(model.TypeVect))
	for idx := 0; idx < vol.Sampling.Size(); idx++ {
		sum := 0.0
		for _, v := range vol.Data[idx*vol.Dim : (idx+1)*vol.Dim] {
			sum += v * v
		}
		out.Data[idx] = math.Sqrt(sum)
	}
	return out
}

// Feature decodes every voxel as a model of the given type and extracts the
// first value of a named feature. Voxels outside the mask are zero.
func Feature(vol *models.Volume, mask *models.Mask, typ model.Type, name string) (*models.Volume, error) {
	proto, err := model.New(typ, vol.Dim)
	if err != nil {
		return nil, err
	}

	out := vol.Proto(1, string(model.TypeVect))
	for idx := 0; idx < vol.Sampling.Size(); idx++ {
		if mask != nil && mask.Labels[idx] == 0 {
			continue
		}
		m := proto.Clone()
		if err := m.Decode(vol.Data[idx*vol.Dim : (idx+1)*vol.Dim]); err != nil {
			return nil, fmt.Errorf("failed to decode voxel %d: %w", idx, err)
		}
		v, err := m.Feature(name)
		if err != nil {
			return nil, err
		}
		if len(v) > 0 {
			out.Data[idx] = v[0]
		}
	}
	return out, nil
}
