// Package nmix fits a binomial N-mixture abundance model by MCMC.
//
// The model separates true site abundance from imperfect detection: each site
// i carries a latent abundance N_i ~ Poisson(lambda_i) with
//
//	log(lambda_i) = b0 + bF*forest + bF2*forest^2 + bE*elev + bE2*elev^2
//
// and each repeated count C_ij ~ Binomial(N_i, p) given N_i. Coefficients get
// bounded-uniform priors, detection probability p gets Uniform(0,1).
package nmix

import (
	"errors"
	"fmt"
	"math"
)

// ErrConvergence reports that too many monitored parameters failed the R-hat
// check. It is returned only when MCMCConfig.MaxRhatFailFrac is enabled.
var ErrConvergence = errors.New("mcmc convergence")

// ParamNames lists the monitored parameters in their fixed order. The array
// form keeps NumParams a true constant.
var ParamNames = [...]string{"b0", "bForest", "bForest2", "bElev", "bElev2", "p"}

// NumParams is the number of monitored parameters.
const NumParams = len(ParamNames)

// Sample is one posterior draw of the model parameters. Samples are immutable
// once produced by Fit.
type Sample struct {
	B0       float64 `json:"b0"`
	BForest  float64 `json:"b_forest"`
	BForest2 float64 `json:"b_forest2"`
	BElev    float64 `json:"b_elev"`
	BElev2   float64 `json:"b_elev2"`
	DetectP  float64 `json:"p"`
}

// maxLinearPredictor caps the linear predictor before exponentiation so
// lambda stays finite for any parameter draw.
const maxLinearPredictor = 50.0

// LinearPredictor evaluates the log-abundance regression at standardized
// covariate values, clamped to keep exp finite.
func (s Sample) LinearPredictor(forest, elevation float64) float64 {
	lp := s.B0 +
		s.BForest*forest + s.BForest2*forest*forest +
		s.BElev*elevation + s.BElev2*elevation*elevation
	if lp > maxLinearPredictor {
		lp = maxLinearPredictor
	}
	if lp < -maxLinearPredictor {
		lp = -maxLinearPredictor
	}
	return lp
}

// Lambda is the expected abundance at the given standardized covariates.
// Always finite and non-negative.
func (s Sample) Lambda(forest, elevation float64) float64 {
	return math.Exp(s.LinearPredictor(forest, elevation))
}

// param returns the sample's value for parameter index k in ParamNames order.
func (s Sample) param(k int) float64 {
	switch k {
	case 0:
		return s.B0
	case 1:
		return s.BForest
	case 2:
		return s.BForest2
	case 3:
		return s.BElev
	case 4:
		return s.BElev2
	default:
		return s.DetectP
	}
}

// setParam sets parameter index k in ParamNames order.
func (s *Sample) setParam(k int, v float64) {
	switch k {
	case 0:
		s.B0 = v
	case 1:
		s.BForest = v
	case 2:
		s.BForest2 = v
	case 3:
		s.BElev = v
	case 4:
		s.BElev2 = v
	default:
		s.DetectP = v
	}
}

// Bounds is a closed prior interval.
type Bounds struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Contains reports whether v lies inside the interval.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Low && v <= b.High
}

// PriorBounds holds the uniform prior intervals for the regression
// coefficients. Detection probability always gets Uniform(0,1).
type PriorBounds struct {
	Intercept Bounds `json:"intercept"`
	Slope     Bounds `json:"slope"`
}

// DefaultPriorBounds returns the standard weakly-informative bounds:
// intercept in [-10,10], slopes in [-5,5].
func DefaultPriorBounds() PriorBounds {
	return PriorBounds{
		Intercept: Bounds{Low: -10, High: 10},
		Slope:     Bounds{Low: -5, High: 5},
	}
}

// bounds returns the prior interval for parameter index k.
func (pb PriorBounds) bounds(k int) Bounds {
	switch k {
	case 0:
		return pb.Intercept
	case 5:
		return Bounds{Low: 0, High: 1}
	default:
		return pb.Slope
	}
}

// Validate checks the prior intervals are well formed.
func (pb PriorBounds) Validate() error {
	if pb.Intercept.Low >= pb.Intercept.High {
		return fmt.Errorf("intercept prior bounds inverted: [%g, %g]", pb.Intercept.Low, pb.Intercept.High)
	}
	if pb.Slope.Low >= pb.Slope.High {
		return fmt.Errorf("slope prior bounds inverted: [%g, %g]", pb.Slope.Low, pb.Slope.High)
	}
	return nil
}

// MCMCConfig controls the sampler.
type MCMCConfig struct {
	// Chains is the number of independent chains; at least 2 so R-hat is
	// defined.
	Chains int `yaml:"chains" json:"chains"`

	// Iterations per chain, including burn-in.
	Iterations int `yaml:"iterations" json:"iterations"`

	// Burn is the number of discarded warm-up iterations. Zero means
	// Iterations/2. Step-size adaptation runs only during burn-in.
	Burn int `yaml:"burn" json:"burn"`

	// Thin keeps every Thin-th post-burn-in draw. Zero means 1.
	Thin int `yaml:"thin" json:"thin"`

	// Seed feeds each chain's random source (chain c uses Seed+c).
	Seed uint64 `yaml:"seed" json:"seed"`

	// Parallel runs chains concurrently.
	Parallel bool `yaml:"parallel" json:"parallel"`

	// RhatThreshold flags parameters whose R-hat exceeds it. Zero means 1.1.
	RhatThreshold float64 `yaml:"rhat_threshold" json:"rhat_threshold"`

	// MaxRhatFailFrac, when non-negative, makes Fit fail with ErrConvergence
	// if the fraction of flagged parameters exceeds it. Negative disables
	// the hard failure; convergence is still reported.
	MaxRhatFailFrac float64 `yaml:"max_rhat_fail_frac" json:"max_rhat_fail_frac"`
}

// DefaultMCMCConfig returns the standard run settings: 2 chains of 2000
// iterations, half burn-in, no thinning, convergence reported but not fatal.
func DefaultMCMCConfig() MCMCConfig {
	return MCMCConfig{
		Chains:          2,
		Iterations:      2000,
		Seed:            1,
		Parallel:        true,
		RhatThreshold:   1.1,
		MaxRhatFailFrac: -1,
	}
}

// normalize fills defaulted fields and validates.
func (c *MCMCConfig) normalize() error {
	if c.Chains < 2 {
		return fmt.Errorf("need at least 2 chains for convergence diagnostics, got %d", c.Chains)
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	if c.Burn == 0 {
		c.Burn = c.Iterations / 2
	}
	if c.Burn >= c.Iterations {
		return fmt.Errorf("burn-in %d leaves no kept iterations of %d", c.Burn, c.Iterations)
	}
	if c.Thin == 0 {
		c.Thin = 1
	}
	if c.Thin < 0 {
		return fmt.Errorf("thin must be positive, got %d", c.Thin)
	}
	if c.RhatThreshold == 0 {
		c.RhatThreshold = 1.1
	}
	return nil
}
