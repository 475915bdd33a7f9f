package nmix

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"corridor-mapper/internal/survey"
)

// Posterior holds the merged post-burn-in draws of all chains plus the
// cross-chain convergence report.
type Posterior struct {
	Samples      []Sample    `json:"samples"`
	Convergence  Convergence `json:"convergence"`
	Chains       int         `json:"chains"`
	KeptPerChain int         `json:"kept_per_chain"`
}

// Fit runs the N-mixture MCMC sampler on the survey data.
//
// Covariates are standardized in place if they are not already. Chains run
// independently (concurrently when cfg.Parallel is set) and communicate only
// their final draw matrices, which are merged for the R-hat diagnostic.
//
// A poor R-hat is reported through Posterior.Convergence and is fatal only
// when cfg.MaxRhatFailFrac is enabled and exceeded, in which case the
// posterior is returned alongside ErrConvergence so callers can override.
func Fit(ctx context.Context, d *survey.Dataset, priors PriorBounds, cfg MCMCConfig) (*Posterior, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := priors.Validate(); err != nil {
		return nil, fmt.Errorf("prior bounds: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("mcmc config: %w", err)
	}
	d.Standardize()

	chains := make([]*mat.Dense, cfg.Chains)
	if cfg.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		for c := 0; c < cfg.Chains; c++ {
			c := c
			g.Go(func() error {
				draws, err := runChain(gctx, d, priors, cfg, c)
				if err != nil {
					return err
				}
				chains[c] = draws
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for c := 0; c < cfg.Chains; c++ {
			draws, err := runChain(ctx, d, priors, cfg, c)
			if err != nil {
				return nil, err
			}
			chains[c] = draws
		}
	}

	kept, _ := chains[0].Dims()
	post := &Posterior{
		Samples:      mergeChains(chains),
		Convergence:  diagnose(chains, cfg.RhatThreshold),
		Chains:       cfg.Chains,
		KeptPerChain: kept,
	}

	if cfg.MaxRhatFailFrac >= 0 && post.Convergence.FailFrac() > cfg.MaxRhatFailFrac {
		return post, fmt.Errorf("%w: %d of %d parameters above R-hat %.2f: %v",
			ErrConvergence, len(post.Convergence.Failing), NumParams,
			cfg.RhatThreshold, post.Convergence.Failing)
	}
	return post, nil
}

// chainState is the working state of one MCMC chain.
type chainState struct {
	data   *survey.Dataset
	priors PriorBounds
	rng    *rand.Rand

	cur    Sample
	latent []int     // N_i, bounded below by each site's max observed count
	lambda []float64 // expected abundance per site under cur

	steps    [NumParams]float64
	accepts  [NumParams]int
	attempts [NumParams]int
}

// adaptWindow is the number of attempts between step-size adjustments during
// burn-in; adaptTarget is the acceptance rate the adjustment steers toward.
const (
	adaptWindow = 50
	adaptTarget = 0.44
)

// runChain runs a single chain and returns its kept draws as a
// (kept × NumParams) matrix in ParamNames column order.
func runChain(ctx context.Context, d *survey.Dataset, priors PriorBounds, cfg MCMCConfig, chain int) (*mat.Dense, error) {
	st := newChainState(d, priors, rand.New(rand.NewSource(cfg.Seed+uint64(chain))))

	keptRows := (cfg.Iterations - cfg.Burn + cfg.Thin - 1) / cfg.Thin
	draws := mat.NewDense(keptRows, NumParams, nil)

	row := 0
	for it := 0; it < cfg.Iterations; it++ {
		if it%256 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		st.updateCoefficients()
		st.updateDetection()
		st.updateLatent()

		if it < cfg.Burn {
			st.adapt()
			continue
		}
		if (it-cfg.Burn)%cfg.Thin == 0 {
			for k := 0; k < NumParams; k++ {
				draws.Set(row, k, st.cur.param(k))
			}
			row++
		}
	}
	return draws, nil
}

func newChainState(d *survey.Dataset, priors PriorBounds, rng *rand.Rand) *chainState {
	st := &chainState{
		data:   d,
		priors: priors,
		rng:    rng,
		latent: make([]int, len(d.Sites)),
		lambda: make([]float64, len(d.Sites)),
	}

	// Overdispersed starting values: intercept near the log of the mean
	// observed maximum, slopes near zero, p spread across (0,1).
	var meanMax float64
	for i := range d.Sites {
		meanMax += float64(d.Sites[i].MaxCount())
	}
	meanMax /= float64(len(d.Sites))

	st.cur.B0 = clampTo(math.Log(meanMax+1)+0.5*rng.NormFloat64(), priors.Intercept)
	for k := 1; k <= 4; k++ {
		st.cur.setParam(k, clampTo(0.25*rng.NormFloat64(), priors.Slope))
	}
	st.cur.DetectP = 0.2 + 0.6*rng.Float64()

	for i := range d.Sites {
		st.latent[i] = d.Sites[i].MaxCount() + 1
	}
	st.refreshLambda()

	for k := range st.steps {
		st.steps[k] = 0.1
	}
	return st
}

// refreshLambda recomputes the per-site expected abundance under cur.
func (st *chainState) refreshLambda() {
	for i := range st.data.Sites {
		s := &st.data.Sites[i]
		st.lambda[i] = st.cur.Lambda(s.Forest, s.Elevation)
	}
}

// abundanceLogLik is the Poisson log-likelihood of the latent abundances
// given a candidate expected-abundance vector.
func (st *chainState) abundanceLogLik(lambda []float64) float64 {
	var ll float64
	for i, n := range st.latent {
		ll += distuv.Poisson{Lambda: lambda[i]}.LogProb(float64(n))
	}
	return ll
}

// detectionLogLik is the Binomial log-likelihood of all observed counts given
// latent abundances and detection probability p.
func (st *chainState) detectionLogLik(p float64) float64 {
	var ll float64
	for i := range st.data.Sites {
		ll += st.siteDetectionLogLik(i, st.latent[i], p)
	}
	return ll
}

func (st *chainState) siteDetectionLogLik(i, n int, p float64) float64 {
	bin := distuv.Binomial{N: float64(n), P: p}
	var ll float64
	for _, c := range st.data.Sites[i].Counts {
		if c == survey.MissingCount {
			continue
		}
		ll += bin.LogProb(float64(c))
	}
	return ll
}

// updateCoefficients runs one Gaussian random-walk Metropolis sweep over the
// five regression coefficients. Proposals outside the uniform prior bounds
// are rejected outright.
func (st *chainState) updateCoefficients() {
	propLambda := make([]float64, len(st.lambda))
	for k := 0; k <= 4; k++ {
		st.attempts[k]++

		prop := st.cur
		prop.setParam(k, st.cur.param(k)+st.steps[k]*st.rng.NormFloat64())
		if !st.priors.bounds(k).Contains(prop.param(k)) {
			continue
		}

		for i := range st.data.Sites {
			s := &st.data.Sites[i]
			propLambda[i] = prop.Lambda(s.Forest, s.Elevation)
		}

		delta := st.abundanceLogLik(propLambda) - st.abundanceLogLik(st.lambda)
		if delta >= 0 || st.rng.Float64() < math.Exp(delta) {
			st.cur = prop
			copy(st.lambda, propLambda)
			st.accepts[k]++
		}
	}
}

// updateDetection proposes p on the logit scale. The Uniform(0,1) prior
// cancels; the logit transform contributes a log p(1-p) Jacobian term.
func (st *chainState) updateDetection() {
	const k = 5
	st.attempts[k]++

	p := st.cur.DetectP
	logit := math.Log(p/(1-p)) + st.steps[k]*st.rng.NormFloat64()
	pp := 1 / (1 + math.Exp(-logit))
	if pp <= 0 || pp >= 1 {
		return
	}

	delta := st.detectionLogLik(pp) - st.detectionLogLik(p) +
		math.Log(pp*(1-pp)) - math.Log(p*(1-p))
	if delta >= 0 || st.rng.Float64() < math.Exp(delta) {
		st.cur.DetectP = pp
		st.accepts[k]++
	}
}

// updateLatent proposes N_i ± 1 for every site. Moves below the site's
// maximum observed count are rejected (the binomial likelihood is zero there).
func (st *chainState) updateLatent() {
	for i := range st.data.Sites {
		n := st.latent[i]
		prop := n + 1
		if st.rng.Float64() < 0.5 {
			prop = n - 1
		}
		if prop < st.data.Sites[i].MaxCount() {
			continue
		}

		pois := distuv.Poisson{Lambda: st.lambda[i]}
		delta := pois.LogProb(float64(prop)) - pois.LogProb(float64(n)) +
			st.siteDetectionLogLik(i, prop, st.cur.DetectP) -
			st.siteDetectionLogLik(i, n, st.cur.DetectP)
		if delta >= 0 || st.rng.Float64() < math.Exp(delta) {
			st.latent[i] = prop
		}
	}
}

// adapt nudges the proposal step sizes toward the target acceptance rate.
// Only called during burn-in; steps are frozen afterwards.
func (st *chainState) adapt() {
	for k := 0; k < NumParams; k++ {
		if st.attempts[k] < adaptWindow {
			continue
		}
		rate := float64(st.accepts[k]) / float64(st.attempts[k])
		if rate > adaptTarget {
			st.steps[k] *= math.Exp(0.1)
		} else {
			st.steps[k] *= math.Exp(-0.1)
		}
		st.accepts[k] = 0
		st.attempts[k] = 0
	}
}

// mergeChains concatenates kept draws from all chains into a flat sample
// collection, chain-major so draw order is deterministic.
func mergeChains(chains []*mat.Dense) []Sample {
	var samples []Sample
	for _, ch := range chains {
		rows, _ := ch.Dims()
		for r := 0; r < rows; r++ {
			var s Sample
			for k := 0; k < NumParams; k++ {
				s.setParam(k, ch.At(r, k))
			}
			samples = append(samples, s)
		}
	}
	return samples
}

func clampTo(v float64, b Bounds) float64 {
	if v < b.Low {
		return b.Low
	}
	if v > b.High {
		return b.High
	}
	return v
}
