package tractography

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"mritract/internal/models"
	"mritract/pkg/codec"
	"mritract/pkg/tracking"
)

// Intermediate results of a hybrid run, in the order they are produced
const (
	StagePreTracking  = "01_pre_tracking"
	StageOrientation  = "02_orientation"
	StageProjection   = "03_projection"
	StagePostTracking = "04_post_tracking"
)

// DiagnosticSink receives the intermediate results of a run. A failing sink
// never fails the run.
type DiagnosticSink interface {
	Curves(run uuid.UUID, stage string, curves *tracking.Curves) error
	Volume(run uuid.UUID, stage, name string, vol *models.Volume) error
}

// FileSink saves intermediate results under Dir, one directory per stage
type FileSink struct {
	Dir string

	// Compression of the written files; the zero value writes plain files
	Compression codec.Compression
}

func (s *FileSink) path(run uuid.UUID, stage, name, ext string) string {
	return filepath.Join(s.Dir, stage, fmt.Sprintf("%s-%s%s%s", name, run, ext, s.Compression.Ext()))
}

func (s *FileSink) Curves(run uuid.UUID, stage string, curves *tracking.Curves) error {
	return codec.SaveCurves(s.path(run, stage, "curves", ".jsonl"), curves)
}

func (s *FileSink) Volume(run uuid.UUID, stage, name string, vol *models.Volume) error {
	return codec.SaveVolume(s.path(run, stage, name, ".json"), vol)
}

// MemorySink keeps intermediate results in memory. The zero value is ready
// to use.
type MemorySink struct {
	mu      sync.Mutex
	curves  map[string]*tracking.Curves
	volumes map[string]*models.Volume
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Curves(_ uuid.UUID, stage string, curves *tracking.Curves) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curves == nil {
		s.curves = map[string]*tracking.Curves{}
	}
	s.curves[stage] = curves
	return nil
}

func (s *MemorySink) Volume(_ uuid.UUID, stage, name string, vol *models.Volume) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.volumes == nil {
		s.volumes = map[string]*models.Volume{}
	}
	s.volumes[stage+"/"+name] = vol
	return nil
}

// CurvesAt returns the curves recorded for a stage
func (s *MemorySink) CurvesAt(stage string) *tracking.Curves {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curves[stage]
}

// VolumeAt returns a recorded volume
func (s *MemorySink) VolumeAt(stage, name string) *models.Volume {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volumes[stage+"/"+name]
}
