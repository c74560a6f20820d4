package selection

import (
	"math/rand/v2"

	"mritract/internal/models"
	"mritract/pkg/tracking"
)

// Pipeline holds the post-tracking selection criteria. Apply runs them in a
// fixed order, each stage seeing only the survivors of the previous one:
// containment, inclusion masks and solids, additional inclusion, endpoint
// mask and solids, exclusion solids, then the track count cap.
type Pipeline struct {
	Contain *models.Mask

	// Arclen is the containment fraction threshold
	Arclen float64

	Include          *models.Mask
	IncludeSolids    Solids
	IncludeAdd       *models.Mask
	IncludeAddSolids Solids

	End        *models.Mask
	EndSolids  Solids
	EndConnect bool

	ExcludeSolids Solids

	// Binarize merges all labels of the inclusion and endpoint masks, and
	// lets any one endpoint solid match
	Binarize bool

	// MaxTracks caps the output by uniform subsampling; zero disables it
	MaxTracks int

	// Seed drives the subsampling
	Seed uint64
}

// Filters returns the configured stages in application order
func (p *Pipeline) Filters() []Filter {
	var out []Filter
	if p.Contain != nil {
		out = append(out, Contain(p.Contain, p.Arclen))
	}
	if p.Include != nil {
		out = append(out, Include(p.Include, p.Binarize))
	}
	if len(p.IncludeSolids) > 0 {
		out = append(out, IncludeSolids(p.IncludeSolids))
	}
	if p.IncludeAdd != nil {
		out = append(out, Include(p.IncludeAdd, p.Binarize))
	}
	if len(p.IncludeAddSolids) > 0 {
		out = append(out, IncludeSolids(p.IncludeAddSolids))
	}
	if p.End != nil {
		out = append(out, Endpoints(p.End, p.Binarize, p.EndConnect))
	}
	if len(p.EndSolids) > 0 {
		out = append(out, EndpointSolids(p.EndSolids, p.Binarize))
	}
	if len(p.ExcludeSolids) > 0 {
		out = append(out, ExcludeSolids(p.ExcludeSolids))
	}
	if p.MaxTracks > 0 {
		out = append(out, Reduce(p.MaxTracks, rand.New(rand.NewPCG(p.Seed, 0))))
	}
	return out
}

// Apply runs every stage
func (p *Pipeline) Apply(curves *tracking.Curves) *tracking.Curves {
	for _, f := range p.Filters() {
		curves = f(curves)
	}
	return curves
}
