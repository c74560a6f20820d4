// Package tracking integrates streamlines through a field. A Tracker holds
// the propagation parameters and region constraints; Track runs it over a
// list of seeds on a bounded worker pool and returns curves in seed order.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"mritract/internal/models"
	"mritract/pkg/field"
)

// ErrInvalidConfiguration reports tracking parameters that cannot be run
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Region is a spatial selector used to constrain propagation
type Region interface {
	Contains(p models.Vect3) bool
}

// ForceFunc returns an external guidance vector at a position
type ForceFunc func(p models.Vect3) models.Vect3

// Termination records why one half of a streamline stopped
type Termination int

const (
	// Skipped marks a half that was never integrated
	Skipped Termination = iota
	// NoCandidate means no direction passed the angle test
	NoCandidate
	// Stopped means the attribute threshold failed, the streamline left the
	// track region or it entered the stop region
	Stopped
	// Trapped means the streamline entered the trap region
	Trapped
	// Excluded means the streamline entered the exclusion region
	Excluded
	// MaxLength means the streamline moved farther than Reach from its seed
	MaxLength
	// MaxSteps means the step budget derived from MaxLen ran out
	MaxSteps
)

func (t Termination) String() string {
	switch t {
	case Skipped:
		return "skipped"
	case NoCandidate:
		return "no-candidate"
	case Stopped:
		return "stopped"
	case Trapped:
		return "trapped"
	case Excluded:
		return "excluded"
	case MaxLength:
		return "max-length"
	case MaxSteps:
		return "max-steps"
	}
	return fmt.Sprintf("termination(%d)", int(t))
}

// discards reports whether the whole streamline is dropped
func (t Termination) discards() bool {
	return t == Trapped || t == Excluded
}

// Params are the propagation parameters of a tracker
type Params struct {
	// Step is the integration step size in world units
	Step float64

	// Angle is the largest turn between steps in degrees
	Angle float64

	// Min and Max bound the field attribute; Max of zero is unbounded
	Min float64
	Max float64

	// MinLen and MaxLen bound the polyline length of kept curves. MaxLen
	// also caps the step count at floor(MaxLen/Step).
	MinLen float64
	MaxLen float64

	// Reach bounds the distance from the seed; zero is unbounded
	Reach float64

	// RK selects fourth order Runge-Kutta integration
	RK bool

	// Disperse is the scale of gaussian noise added to directions
	Disperse float64

	// Vector keeps the sign of field directions
	Vector bool

	// Mixing blends the new direction with the previous one
	Mixing float64

	// Empty keeps a placeholder curve for seeds without a result
	Empty bool

	// Mono tracks in one direction only
	Mono bool

	// Prob samples among candidates instead of taking the closest
	Prob bool

	// ProbMax takes the most likely candidate after reweighting
	ProbMax bool

	// ProbAngle penalizes deviation from the previous direction
	ProbAngle float64

	// ProbPower sharpens candidate weights
	ProbPower float64

	// GForce is the bandwidth of the force prior; zero picks the candidate
	// best aligned with the force
	GForce float64

	// Threads bounds the worker pool; zero or less uses one worker
	Threads int

	// Seed derives the per-seed random sources
	Seed uint64
}

// DefaultParams returns the tracking defaults
func DefaultParams() Params {
	return Params{
		Step:      1,
		Angle:     45,
		Min:       0.075,
		MaxLen:    1e6,
		Mixing:    1,
		ProbAngle: 5,
		ProbPower: 1,
		Threads:   3,
	}
}

// Validate checks parameter ranges
func (p Params) Validate() error {
	switch {
	case !(p.Step > 0):
		return fmt.Errorf("%w: step must be positive, got %g", ErrInvalidConfiguration, p.Step)
	case !(p.Angle > 0 && p.Angle <= 180):
		return fmt.Errorf("%w: angle must be in (0, 180], got %g", ErrInvalidConfiguration, p.Angle)
	case !(p.MaxLen > 0):
		return fmt.Errorf("%w: maxlen must be positive, got %g", ErrInvalidConfiguration, p.MaxLen)
	case p.MinLen < 0 || p.MinLen > p.MaxLen:
		return fmt.Errorf("%w: minlen must be in [0, maxlen], got %g", ErrInvalidConfiguration, p.MinLen)
	case p.Mixing < 0 || p.Mixing > 1:
		return fmt.Errorf("%w: mixing must be in [0, 1], got %g", ErrInvalidConfiguration, p.Mixing)
	case p.Reach < 0 || p.Disperse < 0 || p.GForce < 0:
		return fmt.Errorf("%w: reach, disperse and gforce must not be negative", ErrInvalidConfiguration)
	case p.Max != 0 && p.Max < p.Min:
		return fmt.Errorf("%w: max %g below min %g", ErrInvalidConfiguration, p.Max, p.Min)
	}
	return nil
}

// MaxSteps returns the integration step budget of one streamline
func (p Params) MaxSteps() int {
	return int(math.Floor(p.MaxLen/p.Step + 1e-9))
}

// Tracker integrates streamlines through a field. It is safe to call
// Track concurrently as long as the field and regions are not mutated.
type Tracker struct {
	Params

	Field field.Field

	// TrackRegion, Stop, Trap and Exclude are optional region constraints
	TrackRegion Region
	Stop        Region
	Trap        Region
	Exclude     Region

	// Force optionally guides probabilistic selection
	Force ForceFunc

	// Filter optionally post-processes each batch of curves
	Filter func(*Curves) *Curves

	Logger *slog.Logger
}

// Outcome describes how a single seed was tracked
type Outcome struct {
	Forward  Termination
	Backward Termination
	Steps    int
	Kept     bool
}

// vertex is one integrated position
type vertex struct {
	pos  models.Vect3
	dir  models.Vect3
	attr float64

	// angle is the deviation from the previous direction
	angle   float64
	reverse bool
}

func (t *Tracker) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return t.Logger
}

// Track integrates one streamline per seed. Curves come back in seed order;
// with Empty set there is exactly one curve per seed.
func (t *Tracker) Track(ctx context.Context, seeds []models.Vect3) (*Curves, error) {
	if t.Field == nil {
		return nil, fmt.Errorf("%w: no field to track", ErrInvalidConfiguration)
	}
	if err := t.Params.Validate(); err != nil {
		return nil, err
	}

	log := t.logger()
	n := len(seeds)
	pool := max(t.Threads, 1)
	if n <= pool {
		pool = 1
	}
	size := int(math.Ceil(float64(n) / float64(pool)))
	log.Info("started tracking", "seeds", n, "threads", pool, "batch", size)

	results := make([]*Curves, pool)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pool)
	for b := 0; b < pool; b++ {
		start := b * size
		end := min(n, start+size)
		if start >= end {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[b] = t.batch(fmt.Sprintf("batch (%d/%d)", b+1, pool), seeds, start, end)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := NewCurves()
	for _, r := range results {
		if r != nil {
			out.Append(r)
		}
	}
	log.Info("finished tracking", "kept", out.Len(), "seeds", n)
	return out, nil
}

func (t *Tracker) batch(name string, seeds []models.Vect3, start, end int) *Curves {
	log := t.logger()
	out := NewCurves()
	total := end - start
	last := 0
	for idx := start; idx < end; idx++ {
		if percent := int(math.Ceil(100 * float64(idx-start+1) / float64(total))); percent >= last+5 {
			last = percent
			log.Debug("tracking progress", "batch", name, "percent", percent)
		}

		curve, outcome := t.TrackSeed(seeds[idx], idx)
		if outcome.Kept || t.Empty {
			out.Add(curve)
		}
	}
	if t.Filter != nil {
		out = t.Filter(out)
	}
	return out
}

// Rand returns the random source used for the seed at a given index
func (t *Tracker) Rand(index int) *rand.Rand {
	return rand.New(rand.NewPCG(t.Seed, uint64(index)))
}

// TrackSeed integrates the streamline of a single seed. The curve is a
// zero-point placeholder when the streamline is not kept.
func (t *Tracker) TrackSeed(seed models.Vect3, index int) (*Curve, Outcome) {
	rng := t.Rand(index)
	var outcome Outcome

	if t.Exclude != nil && t.Exclude.Contains(seed) {
		outcome.Forward = Excluded
		return NewCurve(), outcome
	}

	starts := t.starts(seed, rng)
	if len(starts) == 0 {
		outcome.Forward = NoCandidate
		return NewCurve(), outcome
	}
	start := starts[rng.IntN(len(starts))]
	trapped := t.Trap != nil && t.Trap.Contains(start.pos)

	budget := t.MaxSteps()
	vertices := []vertex{start}
	switch {
	case t.Mono:
		if !t.Vector && rng.IntN(2) == 1 {
			start.dir = r3.Scale(-1, start.dir)
		}
		half, term := t.integrate(seed, start, budget, trapped, rng)
		vertices = append(vertices, half...)
		outcome.Forward, outcome.Steps = term, len(half)
	default:
		first, term := t.integrate(seed, start, (budget+1)/2, trapped, rng)
		outcome.Forward = term

		back := start
		back.dir = r3.Scale(-1, back.dir)
		back.reverse = t.Vector
		second, term := t.integrate(seed, back, budget-len(first), trapped, rng)
		outcome.Backward = term
		outcome.Steps = len(first) + len(second)

		vertices = make([]vertex, 0, len(first)+len(second)+1)
		for i := len(first) - 1; i >= 0; i-- {
			vertices = append(vertices, first[i])
		}
		vertices = append(vertices, start)
		vertices = append(vertices, second...)
	}

	if outcome.Forward.discards() || outcome.Backward.discards() {
		return NewCurve(), outcome
	}

	curve := t.curve(vertices)
	length := curve.Length()
	if length < t.MinLen-1e-9 || length > t.MaxLen+1e-9 {
		return NewCurve(), outcome
	}
	outcome.Kept = true
	return curve, outcome
}

func (t *Tracker) curve(vertices []vertex) *Curve {
	c := NewCurve()
	c.Points = make([]models.Vect3, len(vertices))
	attrs := make([][]float64, len(vertices))
	for i, v := range vertices {
		c.Points[i] = v.pos
		attrs[i] = []float64{v.attr}
	}
	c.Attrs[t.Field.Attr()] = attrs
	c.UpdateTangents()
	return c
}

// integrate advances one half streamline for at most budget steps
func (t *Tracker) integrate(seed models.Vect3, start vertex, budget int, trapped bool, rng *rand.Rand) ([]vertex, Termination) {
	if trapped {
		return nil, Trapped
	}

	var out []vertex
	cur := start
	for len(out) < budget {
		next, term := t.next(cur, rng)
		if term != Skipped {
			return out, term
		}
		switch {
		case t.Reach > 0 && r3.Norm(r3.Sub(next.pos, seed)) > t.Reach:
			return out, MaxLength
		case t.TrackRegion != nil && !t.TrackRegion.Contains(next.pos):
			return out, Stopped
		case t.Exclude != nil && t.Exclude.Contains(next.pos):
			return out, Excluded
		case t.Trap != nil && t.Trap.Contains(next.pos):
			return out, Trapped
		case t.Stop != nil && t.Stop.Contains(next.pos):
			return append(out, next), Stopped
		}
		out = append(out, next)
		cur = next
	}
	return out, MaxSteps
}

// starts returns the admissible initial directions at a seed
func (t *Tracker) starts(seed models.Vect3, rng *rand.Rand) []vertex {
	samples, err := t.Field.Samples(seed)
	if err != nil {
		t.logger().Debug("field failed at seed", "position", seed, "error", err)
		return nil
	}

	var (
		out     []vertex
		weights []float64
	)
	for _, s := range samples {
		dir := s.Orientation
		if t.Disperse > 0 {
			dir = t.disperse(dir, rng)
		}
		if t.Stop != nil && t.Stop.Contains(s.Position) {
			continue
		}
		if t.TrackRegion != nil && !t.TrackRegion.Contains(s.Position) {
			continue
		}
		if !models.IsUnit(dir) || !t.admits(s.Attr) {
			continue
		}
		out = append(out, vertex{pos: s.Position, dir: dir, attr: s.Attr})
		weights = append(weights, s.Prob)
	}

	if t.Prob && len(out) > 0 {
		return []vertex{out[t.choose(seed, out, weights, rng)]}
	}
	return out
}

func (t *Tracker) admits(attr float64) bool {
	if attr < t.Min {
		return false
	}
	return t.Max == 0 || attr <= t.Max
}

func (t *Tracker) disperse(dir models.Vect3, rng *rand.Rand) models.Vect3 {
	noise := models.Vect3{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
	return models.Normalize(r3.Add(dir, r3.Scale(t.Disperse, noise)))
}

func (t *Tracker) next(cur vertex, rng *rand.Rand) (vertex, Termination) {
	if t.RK {
		return t.nextRK(cur, rng)
	}
	return t.nextEuler(cur, rng)
}

func (t *Tracker) nextEuler(cur vertex, rng *rand.Rand) (vertex, Termination) {
	dir := cur.dir
	if t.Disperse > 0 {
		dir = t.disperse(dir, rng)
	}
	return t.sample(r3.Add(cur.pos, r3.Scale(t.Step, dir)), dir, cur.reverse, rng)
}

// nextRK takes a fourth order Runge-Kutta step, falling back to Euler when
// an intermediate position has no candidate
func (t *Tracker) nextRK(cur vertex, rng *rand.Rand) (vertex, Termination) {
	s1, term := t.sample(cur.pos, cur.dir, cur.reverse, rng)
	if term != Skipped {
		return t.nextEuler(cur, rng)
	}
	v1 := s1.dir
	s2, term := t.sample(r3.Add(cur.pos, r3.Scale(0.5*t.Step, v1)), v1, cur.reverse, rng)
	if term != Skipped {
		return t.nextEuler(cur, rng)
	}
	s3, term := t.sample(r3.Add(cur.pos, r3.Scale(0.5*t.Step, s2.dir)), v1, cur.reverse, rng)
	if term != Skipped {
		return t.nextEuler(cur, rng)
	}
	s4, term := t.sample(r3.Add(cur.pos, r3.Scale(t.Step, s3.dir)), v1, cur.reverse, rng)
	if term != Skipped {
		return t.nextEuler(cur, rng)
	}

	sum := r3.Add(r3.Add(v1, r3.Scale(0.5, s2.dir)), r3.Add(r3.Scale(0.5, s3.dir), s4.dir))
	vrk := models.Normalize(r3.Scale(1.0/6.0, sum))
	return t.sample(r3.Add(cur.pos, r3.Scale(t.Step, vrk)), vrk, cur.reverse, rng)
}

// sample picks the continuation direction at pos given the previous
// direction. A zero Termination (Skipped) means a vertex was found.
func (t *Tracker) sample(pos, dir models.Vect3, reverse bool, rng *rand.Rand) (vertex, Termination) {
	samples, err := t.Field.Samples(pos)
	if err != nil {
		t.logger().Debug("field failed", "position", pos, "error", err)
		return vertex{}, NoCandidate
	}

	var (
		cands   []vertex
		weights []float64
		weak    = len(samples) > 0
	)
	for _, s := range samples {
		if !t.admits(s.Attr) {
			continue
		}
		weak = false
		v := s.Orientation
		if !models.IsUnit(v) {
			continue
		}
		if reverse {
			v = r3.Scale(-1, v)
		}
		if !t.Vector && r3.Dot(v, dir) < 0 {
			v = r3.Scale(-1, v)
		}
		angle := math.Abs(models.AngleDeg(dir, v))
		if angle <= t.Angle {
			cands = append(cands, vertex{pos: pos, dir: v, attr: s.Attr, angle: angle, reverse: reverse})
			weights = append(weights, s.Prob)
		}
	}
	if len(cands) == 0 {
		if weak {
			return vertex{}, Stopped
		}
		return vertex{}, NoCandidate
	}

	var out vertex
	switch {
	case len(cands) == 1:
		out = cands[0]
	case t.Prob:
		out = cands[t.choose(pos, cands, weights, rng)]
	default:
		best := math.Inf(1)
		for _, c := range cands {
			if d := models.AngleLineDeg(c.dir, dir); d < best {
				best, out = d, c
			}
		}
	}

	if math.Abs(t.Mixing-1) > 1e-6 {
		out.dir = models.Normalize(r3.Add(r3.Scale(1-t.Mixing, dir), r3.Scale(t.Mixing, out.dir)))
	}
	out.reverse = reverse
	return out, Skipped
}
