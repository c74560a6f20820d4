package model

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"mritract/internal/linalg"
	"mritract/internal/models"
)

// Noddi encoding layout
const (
	NoddiBase = iota
	NoddiFicvfIdx
	NoddiFisoIdx
	NoddiKappaIdx
	NoddiDirX
	NoddiDirY
	NoddiDirZ
	NoddiIrfracIdx
	NoddiSize
)

// Noddi feature names
const (
	NoddiBaseline = "baseline"
	NoddiFICVF    = "ficvf"
	NoddiECVF     = "fecvf"
	NoddiFISO     = "fiso"
	NoddiODI      = "odi"
	NoddiDir      = "dir"
	NoddiKappa    = "kappa"
	NoddiIRFRAC   = "irfrac"
)

const watsonResolution = 1000

// Noddi is a neurite orientation dispersion and density model
type Noddi struct {
	Base   float64
	Ficvf  float64
	Fiso   float64
	Kappa  float64
	Dir    models.Vect3
	Irfrac float64
}

// NewNoddi returns a model with unit kappa and the x axis as direction
func NewNoddi() *Noddi {
	return &Noddi{Kappa: 1, Dir: models.Vect3{X: 1}}
}

func (n *Noddi) Type() Type            { return TypeNoddi }
func (n *Noddi) EncodingSize() int     { return NoddiSize }
func (n *Noddi) DegreesOfFreedom() int { return 6 }
func (n *Noddi) Baseline() float64     { return n.Base }

// ODI is the orientation dispersion index in [0, 1]
func (n *Noddi) ODI() float64 {
	return KappaToODI(n.Kappa)
}

// Fecvf is the extracellular volume fraction
func (n *Noddi) Fecvf() float64 {
	return (1 - n.Fiso) * (1 - n.Ficvf)
}

func (n *Noddi) Encode() []float64 {
	return []float64{n.Base, n.Ficvf, n.Fiso, n.Kappa, n.Dir.X, n.Dir.Y, n.Dir.Z, n.Irfrac}
}

func (n *Noddi) Decode(enc []float64) error {
	if err := checkSize(n, enc); err != nil {
		return err
	}
	n.Base = enc[NoddiBase]
	n.Ficvf = enc[NoddiFicvfIdx]
	n.Fiso = enc[NoddiFisoIdx]
	n.Kappa = enc[NoddiKappaIdx]
	n.Dir = models.Vect3{X: enc[NoddiDirX], Y: enc[NoddiDirY], Z: enc[NoddiDirZ]}
	n.Irfrac = enc[NoddiIrfracIdx]
	return nil
}

func (n *Noddi) Features() []string {
	return []string{NoddiBaseline, NoddiFICVF, NoddiECVF, NoddiFISO, NoddiODI, NoddiDir, NoddiKappa, NoddiIRFRAC}
}

func (n *Noddi) Feature(name string) ([]float64, error) {
	switch name {
	case NoddiBaseline:
		return []float64{n.Base}, nil
	case NoddiFICVF:
		return []float64{n.Ficvf}, nil
	case NoddiECVF:
		return []float64{n.Fecvf()}, nil
	case NoddiFISO:
		return []float64{n.Fiso}, nil
	case NoddiODI:
		return []float64{n.ODI()}, nil
	case NoddiDir:
		return models.ToSlice(models.Normalize(n.Dir)), nil
	case NoddiKappa:
		return []float64{n.Kappa}, nil
	case NoddiIRFRAC:
		return []float64{n.Irfrac}, nil
	}
	return nil, unknownFeature(TypeNoddi, name)
}

// Scatter is the second moment of the Watson distribution of the model
func (n *Noddi) Scatter() linalg.Sym3 {
	return KappaToScatter(n.Dir, n.Kappa)
}

func (n *Noddi) Dist(other Model) float64 {
	o, ok := other.(*Noddi)
	if !ok {
		return math.Inf(1)
	}
	dfiso := n.Fiso - o.Fiso
	dficvf := n.Ficvf - o.Ficvf
	dmat := n.Scatter().Sub(o.Scatter()).NormF()
	return math.Sqrt(dfiso*dfiso + dficvf*dficvf + dmat*dmat)
}

func (n *Noddi) Clone() Model {
	c := *n
	return &c
}

func (n *Noddi) Reorient(rot [3][3]float64) {
	n.Dir = rotate(rot, n.Dir)
}

// KappaToODI maps a Watson concentration to the dispersion index
func KappaToODI(kappa float64) float64 {
	return (2 / math.Pi) * math.Atan2(1, math.Abs(kappa))
}

// ODIToKappa inverts KappaToODI
func ODIToKappa(odi float64) float64 {
	if odi <= 0 {
		return math.MaxFloat64
	}
	k := 1 / math.Tan(math.Pi*odi/2)
	if math.IsInf(k, 0) {
		return math.MaxFloat64
	}
	return k
}

// WatsonLambda is the principal eigenvalue of the Watson scatter matrix,
// E[(mu.n)^2], integrated numerically with a rescaled exponent.
func WatsonLambda(kappa float64) float64 {
	if math.IsInf(kappa, 1) || kappa > 1e8 {
		return 1
	}

	num, den := 0.0, 0.0
	shift := math.Max(kappa, 0)
	d := 1.0 / (2 * watsonResolution)
	for i := 0; i <= watsonResolution; i++ {
		factor := 2 * d
		if i == 0 || i == watsonResolution {
			factor = d
		}
		u := float64(i) / watsonResolution
		u2 := u * u
		term := factor * math.Exp(kappa*u2-shift)
		num += u2 * term
		den += term
	}

	if den == 0 || math.IsNaN(num/den) {
		return 1.0 / 3.0
	}
	return num / den
}

// KappaToScatter builds the scatter matrix with principal axis dir
func KappaToScatter(dir models.Vect3, kappa float64) linalg.Sym3 {
	l1 := WatsonLambda(kappa)
	l2 := (1 - l1) / 2

	v1 := models.Normalize(dir)
	if v1 == (models.Vect3{}) {
		v1 = models.Vect3{X: 1}
	}
	v2 := models.Perp(v1)
	v3 := models.Normalize(r3.Cross(v1, v2))

	return linalg.Compose(linalg.Eigen{Values: [3]float64{l1, l2, l2}, Vectors: [3]models.Vect3{v1, v2, v3}})
}
