package estimation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"mritract/internal/linalg"
	"mritract/pkg/model"
)

// NoddiMethod selects how orientation dispersion is combined
type NoddiMethod int

const (
	// NoddiComponent averages ODI and the direction dyadics separately
	NoddiComponent NoddiMethod = iota
	// NoddiRankOne averages kappa-scaled dyadics
	NoddiRankOne
	// NoddiScatter averages Watson scatter matrices and inverts for kappa
	NoddiScatter
	// NoddiLogScatter averages log scatter matrices
	NoddiLogScatter
)

func (m NoddiMethod) String() string {
	switch m {
	case NoddiRankOne:
		return "RankOne"
	case NoddiScatter:
		return "Scatter"
	case NoddiLogScatter:
		return "LogScatter"
	}
	return "Component"
}

// ParseNoddiMethod maps a method name to a NoddiMethod. A "Weighted" prefix
// enables both fraction weightings.
func ParseNoddiMethod(name string) (NoddiMethod, bool, error) {
	weighted := false
	if len(name) > len("Weighted") && name[:len("Weighted")] == "Weighted" {
		weighted = true
		name = name[len("Weighted"):]
	}
	switch name {
	case "Component", "":
		return NoddiComponent, weighted, nil
	case "RankOne":
		return NoddiRankOne, weighted, nil
	case "Scatter":
		return NoddiScatter, weighted, nil
	case "LogScatter":
		return NoddiLogScatter, weighted, nil
	}
	return 0, false, fmt.Errorf("unknown noddi estimation %q", name)
}

// NoddiEstimator combines NODDI models
type NoddiEstimator struct {
	Method NoddiMethod

	// Beta is the eigenvalue gap ratio below which the scatter fit is
	// considered degenerate
	Beta float64

	WeightICVF  bool
	WeightISOVF bool

	// Parallel and Isotropic are the fixed intrinsic diffusivities
	Parallel  float64
	Isotropic float64
}

// DefaultNoddiEstimator returns the estimator defaults
func DefaultNoddiEstimator() NoddiEstimator {
	return NoddiEstimator{
		Method:    NoddiComponent,
		Beta:      0.05,
		Parallel:  1.7e-3,
		Isotropic: 3.0e-3,
	}
}

func (e *NoddiEstimator) Proto() model.Model {
	return model.NewNoddi()
}

func (e *NoddiEstimator) weight(w float64, n *model.Noddi) float64 {
	if e.WeightICVF {
		w *= n.Ficvf
	}
	if e.WeightISOVF {
		w *= 1 - n.Fiso
	}
	return w
}

func (e *NoddiEstimator) Estimate(weights []float64, inputs []model.Model) (model.Model, error) {
	if err := checkInput(weights, inputs); err != nil {
		return nil, err
	}
	noddis, err := cast[*model.Noddi](inputs)
	if err != nil {
		return nil, err
	}

	var (
		wsum, icvf, isovf, base, odi float64
		mat                          linalg.Sym3
	)
	for i, n := range noddis {
		w := e.weight(weights[i], n)
		if w == 0 {
			continue
		}
		wsum += w
		icvf += w * n.Ficvf
		isovf += w * n.Fiso
		base += w * n.Base

		switch e.Method {
		case NoddiComponent:
			v := n.ODI()
			if math.IsNaN(v) {
				v = 0
			}
			odi += w * v
			mat.AddScaled(w, linalg.Outer(n.Dir))
		case NoddiRankOne:
			mat.AddScaled(w*n.Kappa, linalg.Outer(n.Dir))
		case NoddiScatter:
			mat.AddScaled(w, n.Scatter())
		case NoddiLogScatter:
			s, _ := linalg.MapEigenvalues(n.Scatter(), func(v float64) float64 { return math.Log(v + 1e-12) })
			mat.AddScaled(w, s)
		}
	}

	out := model.NewNoddi()
	if wsum == 0 {
		return out, nil
	}

	norm := 1 / wsum
	out.Ficvf = icvf * norm
	out.Fiso = isovf * norm
	out.Base = base * norm

	eig, ok := linalg.Eig(mat.Scale(norm))
	if !ok {
		return out, nil
	}
	out.Dir = eig.Vectors[0]

	switch e.Method {
	case NoddiComponent:
		out.Kappa = model.ODIToKappa(odi * norm)
	case NoddiRankOne:
		out.Kappa = eig.Values[0]
	case NoddiScatter, NoddiLogScatter:
		vals := eig.Values
		if e.Method == NoddiLogScatter {
			for i := range vals {
				vals[i] = math.Exp(vals[i])
			}
		}
		if vals[0]-vals[1] == 0 {
			out.Kappa = 0
			break
		}
		if kappa, err := WatsonKappa(vals[0]); err == nil {
			out.Kappa = kappa
		}
	}
	return out, nil
}

// WatsonKappa inverts the principal scatter eigenvalue of a Watson
// distribution to its concentration. Values at or below 1/3 map to zero.
func WatsonKappa(lambda float64) (float64, error) {
	if lambda <= 1.0/3.0 {
		return 0, nil
	}
	if lambda >= 1 {
		return math.MaxFloat64, nil
	}

	// search in log space to keep kappa positive
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			d := model.WatsonLambda(math.Exp(x[0])) - lambda
			return d * d
		},
	}
	init := []float64{math.Log(math.Max(1e-3, 1/(1-lambda)))}
	settings := &optimize.Settings{
		Converger:       &optimize.FunctionConverge{Absolute: 1e-14, Iterations: 50},
		FuncEvaluations: 500,
	}

	res, err := optimize.Minimize(problem, init, settings, &optimize.NelderMead{})
	if err != nil {
		return 0, fmt.Errorf("inverting watson scatter: %w", err)
	}
	return math.Exp(res.Location.X[0]), nil
}
