// Package survey holds repeated-count survey data and its validation.
//
// A survey consists of sites visited on several occasions. Each visit records
// a count of detected animals; occasions a site was not visited are marked
// missing, which is distinct from a zero count.
package survey

import (
	"errors"
	"fmt"
	"math"

	"corridor-mapper/pkg/geometry"
)

// MissingCount marks an occasion with no observation. It is distinct from a
// zero count, which is a real observation of zero animals.
const MissingCount = -1

// ErrValidation is the base error for all survey data problems. Callers can
// match it with errors.Is; the wrapped message names the offending site.
var ErrValidation = errors.New("survey validation")

// Site is one survey location with its covariates and repeated counts.
type Site struct {
	ID        string           `json:"id"`
	Loc       geometry.Point2D `json:"loc"`
	Forest    float64          `json:"forest"`
	Elevation float64          `json:"elevation"`

	// Counts holds one entry per occasion; MissingCount marks occasions
	// with no visit.
	Counts []int `json:"counts"`
}

// ObservedOccasions returns the number of non-missing counts.
func (s *Site) ObservedOccasions() int {
	n := 0
	for _, c := range s.Counts {
		if c != MissingCount {
			n++
		}
	}
	return n
}

// MaxCount returns the largest observed count, or 0 if all occasions are
// missing. It is the lower bound on the site's latent abundance.
func (s *Site) MaxCount() int {
	max := 0
	for _, c := range s.Counts {
		if c != MissingCount && c > max {
			max = c
		}
	}
	return max
}

// Scaling holds the standardization applied to covariates when a dataset is
// prepared for fitting. The same scaling must be applied to prediction-grid
// covariates so fitted coefficients stay meaningful.
type Scaling struct {
	ForestMean float64 `json:"forest_mean"`
	ForestStd  float64 `json:"forest_std"`
	ElevMean   float64 `json:"elev_mean"`
	ElevStd    float64 `json:"elev_std"`
}

// Apply standardizes a raw covariate pair.
func (sc Scaling) Apply(forest, elevation float64) (float64, float64) {
	return (forest - sc.ForestMean) / sc.ForestStd,
		(elevation - sc.ElevMean) / sc.ElevStd
}

// Dataset is an immutable collection of survey sites. Construct with
// NewDataset, which validates; Standardize prepares covariates for fitting.
type Dataset struct {
	Sites []Site

	scaling      Scaling
	standardized bool
}

// NewDataset validates the sites and wraps them in a Dataset.
func NewDataset(sites []Site) (*Dataset, error) {
	d := &Dataset{Sites: sites}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the dataset against the survey schema. It returns an error
// wrapping ErrValidation naming the first offending site.
func (d *Dataset) Validate() error {
	if len(d.Sites) == 0 {
		return fmt.Errorf("%w: no sites", ErrValidation)
	}
	for i := range d.Sites {
		s := &d.Sites[i]
		name := s.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		if math.IsNaN(s.Forest) || math.IsInf(s.Forest, 0) {
			return fmt.Errorf("%w: site %s: forest covariate is not finite", ErrValidation, name)
		}
		if math.IsNaN(s.Elevation) || math.IsInf(s.Elevation, 0) {
			return fmt.Errorf("%w: site %s: elevation covariate is not finite", ErrValidation, name)
		}
		if len(s.Counts) == 0 {
			return fmt.Errorf("%w: site %s: no count occasions", ErrValidation, name)
		}
		for j, c := range s.Counts {
			if c < 0 && c != MissingCount {
				return fmt.Errorf("%w: site %s occasion %d: negative count %d", ErrValidation, name, j+1, c)
			}
		}
		if s.ObservedOccasions() == 0 {
			return fmt.Errorf("%w: site %s: all occasions missing", ErrValidation, name)
		}
	}
	return nil
}

// Standardize z-scores the forest and elevation covariates in place and
// returns the scaling used. Calling it twice is a no-op returning the
// original scaling.
func (d *Dataset) Standardize() Scaling {
	if d.standardized {
		return d.scaling
	}

	var sc Scaling
	n := float64(len(d.Sites))
	for i := range d.Sites {
		sc.ForestMean += d.Sites[i].Forest
		sc.ElevMean += d.Sites[i].Elevation
	}
	sc.ForestMean /= n
	sc.ElevMean /= n

	var fVar, eVar float64
	for i := range d.Sites {
		fVar += (d.Sites[i].Forest - sc.ForestMean) * (d.Sites[i].Forest - sc.ForestMean)
		eVar += (d.Sites[i].Elevation - sc.ElevMean) * (d.Sites[i].Elevation - sc.ElevMean)
	}
	sc.ForestStd = math.Sqrt(fVar / n)
	sc.ElevStd = math.Sqrt(eVar / n)

	// Constant covariates standardize to zero rather than dividing by zero.
	if sc.ForestStd == 0 {
		sc.ForestStd = 1
	}
	if sc.ElevStd == 0 {
		sc.ElevStd = 1
	}

	for i := range d.Sites {
		d.Sites[i].Forest, d.Sites[i].Elevation = sc.Apply(d.Sites[i].Forest, d.Sites[i].Elevation)
	}

	d.scaling = sc
	d.standardized = true
	return sc
}

// Scaling returns the covariate scaling if Standardize has been called.
func (d *Dataset) Scaling() (Scaling, bool) {
	return d.scaling, d.standardized
}

// Occasions returns the maximum number of count occasions across sites.
func (d *Dataset) Occasions() int {
	max := 0
	for i := range d.Sites {
		if len(d.Sites[i].Counts) > max {
			max = len(d.Sites[i].Counts)
		}
	}
	return max
}
