// Package tractography runs streamline tractography end to end: seeding,
// field construction, tracking and selection, either in a single pass or as
// the two-stage hybrid method that projects multi-fiber peaks onto the
// orientations of a probabilistic pre-tracking.
package tractography

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"mritract/internal/models"
	"mritract/pkg/tracking"
)

// Tractographer runs one tractography configuration. A Tractographer only
// reads its inputs and may be run more than once.
type Tractographer struct {
	Params Params
	Inputs Inputs

	Logger *slog.Logger

	// Sink receives intermediate hybrid results when set
	Sink DiagnosticSink
}

// New returns a Tractographer with the given options and inputs
func New(params Params, inputs Inputs) *Tractographer {
	return &Tractographer{Params: params, Inputs: inputs}
}

func (t *Tractographer) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return t.Logger
}

// Run tracks the inputs and returns the selected curves
func (t *Tractographer) Run(ctx context.Context) (*tracking.Curves, error) {
	if err := t.Params.Validate(); err != nil {
		return nil, err
	}
	if t.Inputs.Volume == nil {
		return nil, fmt.Errorf("%w: no input volume", tracking.ErrInvalidConfiguration)
	}
	if err := t.Inputs.Volume.Validate(); err != nil {
		return nil, err
	}
	if _, _, err := t.modelType(t.Inputs.Volume, t.Params.Model, t.Inputs.OdfPoints); err != nil {
		return nil, err
	}

	run := uuid.New()
	log := t.logger().With("run", run.String())
	t = t.with(log)
	start := time.Now()
	rng := rand.New(rand.NewPCG(t.Params.Tracking.Seed, 0x7ac7))

	var (
		curves *tracking.Curves
		err    error
	)
	if t.Params.Hybrid.Enabled {
		log.Info("starting hybrid tractography")
		curves, err = t.hybrid(ctx, run, rng)
	} else {
		log.Info("starting tractography")
		curves, err = t.plain(ctx, rng)
	}
	if err != nil {
		return nil, err
	}
	log.Info("finished tractography", "curves", curves.Len(), "elapsed", time.Since(start))
	return curves, nil
}

// with returns a shallow copy logging to log
func (t *Tractographer) with(log *slog.Logger) *Tractographer {
	c := *t
	c.Logger = log
	return &c
}

func (t *Tractographer) plain(ctx context.Context, rng *rand.Rand) (*tracking.Curves, error) {
	seeds, err := t.seeds(rng)
	if err != nil {
		return nil, err
	}
	seeds = t.prepare(seeds, t.Params.SamplesFactor, rng)
	t.logger().Info("seeding", "seeds", len(seeds))
	return t.runStage(ctx, t.Inputs.Volume, seeds, t.plainStage())
}

// Seeds returns the seeds a plain run would track
func (t *Tractographer) Seeds() ([]models.Vect3, error) {
	if t.Inputs.Volume == nil {
		return nil, fmt.Errorf("%w: no input volume", tracking.ErrInvalidConfiguration)
	}
	rng := rand.New(rand.NewPCG(t.Params.Tracking.Seed, 0x7ac7))
	seeds, err := t.seeds(rng)
	if err != nil {
		return nil, err
	}
	return t.prepare(seeds, t.Params.SamplesFactor, rng), nil
}
