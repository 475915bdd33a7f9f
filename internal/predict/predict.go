// Package predict maps posterior parameter draws onto the study-area grid,
// producing an ensemble of plausible abundance rasters.
package predict

import (
	"fmt"

	"golang.org/x/exp/rand"

	"corridor-mapper/internal/grid"
	"corridor-mapper/internal/nmix"
)

// Predictor generates abundance surfaces from a fitted posterior. Surfaces
// predict true abundance: no detection probability is applied.
type Predictor struct {
	Posterior *nmix.Posterior
	Grid      *grid.StudyAreaGrid
}

// New builds a predictor. The grid must already carry the survey covariate
// scaling, otherwise coefficients and covariates live on different scales.
func New(post *nmix.Posterior, g *grid.StudyAreaGrid) (*Predictor, error) {
	if len(post.Samples) == 0 {
		return nil, fmt.Errorf("posterior has no samples")
	}
	if !g.Standardized() {
		return nil, fmt.Errorf("%w: grid covariates not standardized with survey scaling", grid.ErrSchemaMismatch)
	}
	return &Predictor{Posterior: post, Grid: g}, nil
}

// Draw selects count posterior sample indices without replacement using the
// injected random source. The same source state and count always yield the
// same indices.
func (p *Predictor) Draw(rng *rand.Rand, count int) ([]int, error) {
	n := len(p.Posterior.Samples)
	if count <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", count)
	}
	if count > n {
		return nil, fmt.Errorf("sample count %d exceeds posterior size %d", count, n)
	}

	// Partial Fisher-Yates: only the first count positions are settled.
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < count; i++ {
		j := i + rng.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:count], nil
}

// Surface evaluates one posterior sample's expected abundance over every grid
// cell. The result is always finite and non-negative.
func (p *Predictor) Surface(s nmix.Sample) *grid.Raster {
	r := grid.NewRaster(p.Grid)
	for i := range p.Grid.Cells {
		c := &p.Grid.Cells[i]
		r.Values[i] = s.Lambda(c.Forest, c.Elevation)
	}
	return r
}

// SurfaceAt evaluates the posterior sample at the given index.
func (p *Predictor) SurfaceAt(idx int) (*grid.Raster, error) {
	if idx < 0 || idx >= len(p.Posterior.Samples) {
		return nil, fmt.Errorf("sample index %d out of range [0,%d)", idx, len(p.Posterior.Samples))
	}
	return p.Surface(p.Posterior.Samples[idx]), nil
}

// MeanSurface computes the cell-wise mean abundance over the drawn sample
// indices. Surfaces are generated and folded into a running sum one at a
// time, so ensemble memory stays bounded at a single raster.
func (p *Predictor) MeanSurface(indices []int) (*grid.Raster, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("no sample indices to average")
	}
	mean := grid.NewRaster(p.Grid)
	w := 1 / float64(len(indices))
	for _, idx := range indices {
		surf, err := p.SurfaceAt(idx)
		if err != nil {
			return nil, err
		}
		if err := mean.AddScaled(w, surf); err != nil {
			return nil, err
		}
	}
	return mean, nil
}
