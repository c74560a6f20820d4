package estimation

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"mritract/internal/models"
	"mritract/pkg/cluster"
	"mritract/pkg/model"
)

// FibersEstimation selects how compartments are combined across voxels
type FibersEstimation int

const (
	// Match clusters compartment lines with axial k-means
	Match FibersEstimation = iota
	// Rank averages compartments of equal rank by fraction
	Rank
)

// FibersSelection chooses the number of output compartments for Match
type FibersSelection int

const (
	// SelectMax uses the largest compartment count of any input
	SelectMax FibersSelection = iota
	// SelectFixed always uses MaxComps
	SelectFixed
	// SelectLinear uses the weighted mean compartment count
	SelectLinear
	// SelectAdaptive minimises clustering cost plus Lambda per compartment
	SelectAdaptive
)

func (e FibersEstimation) String() string {
	if e == Rank {
		return "Rank"
	}
	return "Match"
}

func (s FibersSelection) String() string {
	switch s {
	case SelectFixed:
		return "Fixed"
	case SelectLinear:
		return "Linear"
	case SelectAdaptive:
		return "Adaptive"
	}
	return "Max"
}

// ParseFibersEstimation maps a name to an estimation policy
func ParseFibersEstimation(name string) (FibersEstimation, error) {
	switch name {
	case "Match", "match", "":
		return Match, nil
	case "Rank", "rank":
		return Rank, nil
	}
	return 0, fmt.Errorf("unknown fibers estimation %q", name)
}

// ParseFibersSelection maps a name to a selection policy
func ParseFibersSelection(name string) (FibersSelection, error) {
	switch name {
	case "Max", "max":
		return SelectMax, nil
	case "Fixed", "fixed":
		return SelectFixed, nil
	case "Linear", "linear", "":
		return SelectLinear, nil
	case "Adaptive", "adaptive":
		return SelectAdaptive, nil
	}
	return 0, fmt.Errorf("unknown fibers selection %q", name)
}

// FibersEstimator combines multi-compartment models
type FibersEstimator struct {
	Estimation FibersEstimation
	Selection  FibersSelection

	// Lambda is the per-compartment penalty of adaptive selection
	Lambda float64

	MaxComps int

	// MinFrac drops compartments below this fraction
	MinFrac float64

	// Restarts of the axial clustering
	Restarts int

	// Seed makes the clustering reproducible
	Seed uint64
}

// DefaultFibersEstimator returns the estimator defaults
func DefaultFibersEstimator() FibersEstimator {
	return FibersEstimator{
		Estimation: Match,
		Selection:  SelectLinear,
		Lambda:     0.99,
		MaxComps:   3,
		MinFrac:    0.01,
		Restarts:   5,
	}
}

// Validate checks policy combinations
func (e *FibersEstimator) Validate() error {
	if e.Estimation == Rank && e.Selection != SelectFixed {
		return fmt.Errorf("rank-based fibers estimation requires fixed selection, got %s", e.Selection)
	}
	if e.MaxComps <= 0 {
		return fmt.Errorf("fibers estimator needs at least one compartment, got %d", e.MaxComps)
	}
	return nil
}

func (e *FibersEstimator) Proto() model.Model {
	return model.NewFibers(e.MaxComps)
}

func (e *FibersEstimator) Estimate(weights []float64, inputs []model.Model) (model.Model, error) {
	if err := checkInput(weights, inputs); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	fibers, err := cast[*model.Fibers](inputs)
	if err != nil {
		return nil, err
	}

	out := model.NewFibers(e.MaxComps)
	if !e.baseline(out, weights, fibers) {
		return out, nil
	}

	if e.Estimation == Rank {
		e.rank(out, weights, fibers)
		return out, nil
	}
	return out, e.match(out, weights, fibers)
}

// baseline sets the weighted mean baseline and the geometric mean
// diffusivity. It reports false when all weights vanish.
func (e *FibersEstimator) baseline(out *model.Fibers, weights []float64, fibers []*model.Fibers) bool {
	var s0sum, dsum, wsum, dwsum float64
	for i, f := range fibers {
		w := weights[i]
		s0sum += w * f.Base
		wsum += w
		if f.Diff > 0 && w > 0 {
			dsum += w * math.Log(f.Diff)
			dwsum += w
		}
	}
	if wsum == 0 {
		return false
	}

	out.Base = s0sum / wsum
	if dwsum > 0 {
		out.Diff = math.Exp(dsum / dwsum)
	}
	return true
}

func (e *FibersEstimator) rank(out *model.Fibers, weights []float64, fibers []*model.Fibers) {
	for j := 0; j < e.MaxComps; j++ {
		var fsum, wsum float64
		var lines []r3.Vec
		var lweights []float64
		for i, f := range fibers {
			sorted := f.Clone().(*model.Fibers)
			sorted.Sort()
			if j >= len(sorted.Comps) {
				continue
			}
			c := sorted.Comps[j]
			fsum += weights[i] * c.Frac
			wsum += weights[i]
			lines = append(lines, c.Line)
			lweights = append(lweights, weights[i])
		}
		if wsum == 0 {
			continue
		}
		out.Comps[j].Frac = fsum / wsum
		out.Comps[j].Line = cluster.AxialMean(lines, lweights)
	}
}

func (e *FibersEstimator) match(out *model.Fibers, weights []float64, fibers []*model.Fibers) error {
	var (
		fracs, sweights   []float64
		lines             []r3.Vec
		countw, countsumw float64
		maxcount          int
	)
	for i, f := range fibers {
		w := weights[i]
		count := 0
		for _, c := range f.Comps {
			if w == 0 || c.Frac == 0 || r3.Norm(c.Line) == 0 || c.Frac < e.MinFrac {
				continue
			}
			lines = append(lines, c.Line)
			fracs = append(fracs, c.Frac)
			sweights = append(sweights, w)
			count++
		}
		countw += w * float64(count)
		countsumw += w
		maxcount = max(maxcount, count)
	}

	if len(lines) == 0 || countsumw == 0 {
		return nil
	}
	for i := range sweights {
		sweights[i] /= countsumw
	}

	if e.Selection == SelectFixed && len(lines) < e.MaxComps {
		for i := range lines {
			out.Comps[i].Frac = fracs[i] * sweights[i]
			out.Comps[i].Line = models.Normalize(lines[i])
		}
		return nil
	}

	cweights := make([]float64, len(lines))
	csum := 0.0
	for i := range cweights {
		cweights[i] = sweights[i] * fracs[i]
		csum += cweights[i]
	}
	if csum == 0 {
		return nil
	}
	for i := range cweights {
		cweights[i] /= csum
	}

	rng := rand.New(rand.NewPCG(e.Seed, uint64(len(lines))))
	opts := cluster.Options{Restarts: max(1, e.Restarts)}
	run := func(k int) (*cluster.AxialResult, error) {
		return cluster.Axial(context.Background(), lines, cweights, k, nil, opts, rng)
	}

	var res *cluster.AxialResult
	var err error
	switch e.Selection {
	case SelectFixed:
		res, err = run(e.MaxComps)
	case SelectMax:
		res, err = run(max(1, maxcount))
	case SelectLinear:
		res, err = run(max(1, int(math.Round(countw/countsumw))))
	case SelectAdaptive:
		bestCost := math.Inf(1)
		for k := 1; k <= e.MaxComps; k++ {
			r, rerr := run(k)
			if rerr != nil {
				return rerr
			}
			if cost := r.Cost + e.Lambda*float64(k); cost < bestCost {
				res, bestCost = r, cost
			}
		}
	}
	if err != nil {
		return fmt.Errorf("clustering compartments: %w", err)
	}

	k := res.K()
	cfracs := make([]float64, k)
	counts := make([]int, k)
	for i, label := range res.Labels {
		cfracs[label] += sweights[i] * fracs[i]
		counts[label]++
	}

	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return cfracs[order[a]] > cfracs[order[b]] })

	for i := 0; i < min(e.MaxComps, k); i++ {
		idx := order[i]
		if counts[idx] == 0 {
			continue
		}
		out.Comps[i].Frac = cfracs[idx]
		out.Comps[i].Line = res.Centers[idx]
	}
	return nil
}
