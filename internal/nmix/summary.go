package nmix

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ParamSummary is the posterior summary of one monitored parameter.
type ParamSummary struct {
	Name   string  `json:"name"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"sd"`
	Q025   float64 `json:"q025"`
	Median float64 `json:"median"`
	Q975   float64 `json:"q975"`
	Rhat   float64 `json:"rhat"`
}

// Summary returns per-parameter posterior means, standard deviations, and
// 95% credible intervals, with the convergence diagnostic attached.
func (p *Posterior) Summary() []ParamSummary {
	out := make([]ParamSummary, NumParams)
	vals := make([]float64, len(p.Samples))
	for k := 0; k < NumParams; k++ {
		for i, s := range p.Samples {
			vals[i] = s.param(k)
		}
		sorted := append([]float64(nil), vals...)
		sort.Float64s(sorted)

		mean, std := stat.MeanStdDev(vals, nil)
		out[k] = ParamSummary{
			Name:   ParamNames[k],
			Mean:   mean,
			StdDev: std,
			Q025:   stat.Quantile(0.025, stat.Empirical, sorted, nil),
			Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
			Q975:   stat.Quantile(0.975, stat.Empirical, sorted, nil),
			Rhat:   p.Convergence.Rhat[ParamNames[k]],
		}
	}
	return out
}

// MeanSample returns the posterior mean of every parameter as a single
// Sample, used for the mean-surface corridor baseline.
func (p *Posterior) MeanSample() Sample {
	var m Sample
	n := float64(len(p.Samples))
	for k := 0; k < NumParams; k++ {
		var sum float64
		for _, s := range p.Samples {
			sum += s.param(k)
		}
		m.setParam(k, sum/n)
	}
	return m
}

// Save writes the posterior to a JSON file so expensive fits can be cached
// between runs.
func (p *Posterior) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal posterior: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadPosterior reads a cached posterior from a JSON file.
func LoadPosterior(path string) (*Posterior, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Posterior
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal posterior: %w", err)
	}
	if len(p.Samples) == 0 {
		return nil, fmt.Errorf("posterior file %s has no samples", path)
	}
	return &p, nil
}
