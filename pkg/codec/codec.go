package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"mritract/internal/models"
	"mritract/pkg/tracking"
)

type curveRecord struct {
	Points [][3]float64           `json:"points"`
	Attrs  map[string][][]float64 `json:"attrs,omitempty"`
}

// WriteCurves writes one JSON object per curve
func WriteCurves(w io.Writer, curves *tracking.Curves) error {
	enc := json.NewEncoder(w)
	for i, c := range curves.Curves {
		rec := curveRecord{Points: make([][3]float64, len(c.Points)), Attrs: c.Attrs}
		for j, p := range c.Points {
			rec.Points[j] = [3]float64{p.X, p.Y, p.Z}
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode curve %d: %w", i, err)
		}
	}
	return nil
}

// ReadCurves reads curves written by WriteCurves
func ReadCurves(r io.Reader) (*tracking.Curves, error) {
	dec := json.NewDecoder(r)
	out := tracking.NewCurves()
	for {
		var rec curveRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode curve %d: %w", out.Len(), err)
		}
		c := tracking.NewCurve()
		for _, p := range rec.Points {
			c.Points = append(c.Points, models.Vect3{X: p[0], Y: p[1], Z: p[2]})
		}
		for name, vals := range rec.Attrs {
			c.Attrs[name] = vals
		}
		out.Add(c)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

type samplingRecord struct {
	Origin [3]float64 `json:"origin"`
	Delta  [3]float64 `json:"delta"`
	Quat   [4]float64 `json:"quat"`
	Size   [3]int     `json:"size"`
}

func encodeSampling(s *models.Sampling) samplingRecord {
	return samplingRecord{
		Origin: [3]float64{s.Origin.X, s.Origin.Y, s.Origin.Z},
		Delta:  [3]float64{s.Delta.X, s.Delta.Y, s.Delta.Z},
		Quat:   s.Quat,
		Size:   [3]int{s.NI, s.NJ, s.NK},
	}
}

func (r samplingRecord) decode() (*models.Sampling, error) {
	if r.Size[0] <= 0 || r.Size[1] <= 0 || r.Size[2] <= 0 {
		return nil, fmt.Errorf("invalid sampling size %v", r.Size)
	}
	if r.Delta[0] <= 0 || r.Delta[1] <= 0 || r.Delta[2] <= 0 {
		return nil, fmt.Errorf("invalid sampling spacing %v", r.Delta)
	}
	return models.NewSamplingQuat(
		models.Vect3{X: r.Origin[0], Y: r.Origin[1], Z: r.Origin[2]},
		models.Vect3{X: r.Delta[0], Y: r.Delta[1], Z: r.Delta[2]},
		r.Quat, r.Size[0], r.Size[1], r.Size[2]), nil
}

type volumeRecord struct {
	Sampling samplingRecord `json:"sampling"`
	Dim      int            `json:"dim"`
	Model    string         `json:"model,omitempty"`
	Data     []float64      `json:"data"`
}

// WriteVolume writes a volume as a single JSON object
func WriteVolume(w io.Writer, vol *models.Volume) error {
	return json.NewEncoder(w).Encode(volumeRecord{
		Sampling: encodeSampling(vol.Sampling),
		Dim:      vol.Dim,
		Model:    vol.Model,
		Data:     vol.Data,
	})
}

// ReadVolume reads a volume written by WriteVolume
func ReadVolume(r io.Reader) (*models.Volume, error) {
	var rec volumeRecord
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode volume: %w", err)
	}
	s, err := rec.Sampling.decode()
	if err != nil {
		return nil, err
	}
	vol := &models.Volume{Sampling: s, Dim: rec.Dim, Model: rec.Model, Data: rec.Data}
	if err := vol.Validate(); err != nil {
		return nil, err
	}
	return vol, nil
}

type maskRecord struct {
	Sampling samplingRecord `json:"sampling"`
	Labels   []int          `json:"labels"`
}

// WriteMask writes a mask as a single JSON object
func WriteMask(w io.Writer, mask *models.Mask) error {
	return json.NewEncoder(w).Encode(maskRecord{Sampling: encodeSampling(mask.Sampling), Labels: mask.Labels})
}

// ReadMask reads a mask written by WriteMask
func ReadMask(r io.Reader) (*models.Mask, error) {
	var rec maskRecord
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode mask: %w", err)
	}
	s, err := rec.Sampling.decode()
	if err != nil {
		return nil, err
	}
	if len(rec.Labels) != s.Size() {
		return nil, fmt.Errorf("mask has %d labels for %d voxels", len(rec.Labels), s.Size())
	}
	return &models.Mask{Sampling: s, Labels: rec.Labels}, nil
}

func save(path string, write func(io.Writer) error) (err error) {
	w, err := Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()
	return write(w)
}

func load[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	r, err := Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer r.Close()
	return read(r)
}

// SaveCurves writes curves to a file
func SaveCurves(path string, curves *tracking.Curves) error {
	return save(path, func(w io.Writer) error { return WriteCurves(w, curves) })
}

// LoadCurves reads curves from a file
func LoadCurves(path string) (*tracking.Curves, error) {
	return load(path, ReadCurves)
}

// SaveVolume writes a volume to a file
func SaveVolume(path string, vol *models.Volume) error {
	return save(path, func(w io.Writer) error { return WriteVolume(w, vol) })
}

// LoadVolume reads a volume from a file
func LoadVolume(path string) (*models.Volume, error) {
	return load(path, ReadVolume)
}

// SaveMask writes a mask to a file
func SaveMask(path string, mask *models.Mask) error {
	return save(path, func(w io.Writer) error { return WriteMask(w, mask) })
}

// LoadMask reads a mask from a file
func LoadMask(path string) (*models.Mask, error) {
	return load(path, ReadMask)
}
