package estimation

import (
	"mritract/internal/linalg"
	"mritract/pkg/model"
)

// TensorEstimator averages tensors, optionally in the log-Euclidean domain
type TensorEstimator struct {
	Log bool
}

func (e *TensorEstimator) Proto() model.Model {
	return model.NewTensor()
}

func (e *TensorEstimator) Estimate(weights []float64, inputs []model.Model) (model.Model, error) {
	if err := checkInput(weights, inputs); err != nil {
		return nil, err
	}
	tensors, err := cast[*model.Tensor](inputs)
	if err != nil {
		return nil, err
	}

	var sum linalg.Sym3
	var s0, fw, wsum float64
	for i, t := range tensors {
		w := weights[i]
		if w == 0 {
			continue
		}
		if e.Log {
			t = t.Log()
		}
		sum.AddScaled(w, t.D)
		s0 += w * t.S0
		fw += w * t.FW
		wsum += w
	}

	out := model.NewTensor()
	if wsum == 0 {
		return out, nil
	}

	norm := 1 / wsum
	out.S0 = s0 * norm
	out.FW = fw * norm
	out.D = sum.Scale(norm)
	if e.Log {
		out = out.Exp()
	}
	return out, nil
}
