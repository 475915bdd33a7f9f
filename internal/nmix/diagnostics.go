package nmix

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Convergence reports the Gelman-Rubin potential scale reduction statistic
// for every monitored parameter, compared across chains.
type Convergence struct {
	// Rhat maps parameter name to its potential scale reduction.
	Rhat map[string]float64 `json:"rhat"`

	// Threshold is the R-hat value above which a parameter is flagged.
	Threshold float64 `json:"threshold"`

	// Failing lists flagged parameter names in ParamNames order.
	Failing []string `json:"failing,omitempty"`
}

// FailFrac is the fraction of monitored parameters above the threshold.
func (c Convergence) FailFrac() float64 {
	return float64(len(c.Failing)) / float64(NumParams)
}

// OK reports whether every monitored parameter passed.
func (c Convergence) OK() bool {
	return len(c.Failing) == 0
}

// diagnose computes R-hat per parameter from the chains' kept draws.
//
// For M chains of n draws each: W is the mean within-chain variance, B/n the
// between-chain variance of chain means, and
//
//	Rhat = sqrt(((n-1)/n * W + B/n) / W)
func diagnose(chains []*mat.Dense, threshold float64) Convergence {
	conv := Convergence{
		Rhat:      make(map[string]float64, NumParams),
		Threshold: threshold,
	}

	n, _ := chains[0].Dims()
	for k := 0; k < NumParams; k++ {
		means := make([]float64, len(chains))
		vars := make([]float64, len(chains))
		for c, ch := range chains {
			col := mat.Col(nil, k, ch)
			means[c] = stat.Mean(col, nil)
			vars[c] = stat.Variance(col, nil)
		}

		w := stat.Mean(vars, nil)
		bOverN := stat.Variance(means, nil)

		rhat := 1.0
		if w > 0 && n > 1 {
			nf := float64(n)
			rhat = math.Sqrt((nf-1)/nf + bOverN/w)
		} else if bOverN > 0 {
			// Degenerate within-chain variance with spread-out chains:
			// report divergence rather than a spurious 1.
			rhat = math.Inf(1)
		}

		name := ParamNames[k]
		conv.Rhat[name] = rhat
		if rhat > threshold {
			conv.Failing = append(conv.Failing, name)
		}
	}
	return conv
}
