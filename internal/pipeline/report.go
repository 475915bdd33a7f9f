package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"corridor-mapper/internal/corridor"
	"corridor-mapper/internal/grid"
	"corridor-mapper/internal/hotspot"
	"corridor-mapper/internal/nmix"
)

// PairSummary collects the routing results for one hub pair across the
// posterior ensemble, plus the two single-surface baselines.
type PairSummary struct {
	Pair string `json:"pair"`

	// Best is the shortest ranked path; Alternatives follow in ascending
	// geometric length.
	Best         corridor.RankedPath   `json:"best"`
	Alternatives []corridor.RankedPath `json:"alternatives,omitempty"`

	// MeanBaseline routes the posterior-mean abundance surface;
	// ElevationBaseline routes raw elevation. Either is nil when the pair was
	// unreachable on that surface.
	MeanBaseline      *corridor.Path `json:"mean_baseline,omitempty"`
	ElevationBaseline *corridor.Path `json:"elevation_baseline,omitempty"`
}

// Report is the full pipeline output: model summary, hub set, per-pair
// corridor rankings, and the aggregate frequency surface.
type Report struct {
	Posterior   []nmix.ParamSummary `json:"posterior"`
	Convergence nmix.Convergence    `json:"convergence"`

	Hubs       []hotspot.Hub `json:"hubs"`
	SuggestedK int           `json:"suggested_k"`

	// SampleCount is the ensemble size actually routed; Skipped counts the
	// pair-sample combinations dropped as unreachable.
	SampleCount int `json:"sample_count"`
	Skipped     int `json:"skipped"`

	Pairs []PairSummary `json:"pairs"`

	Frequency   *grid.Raster `json:"-"`
	MeanSurface *grid.Raster `json:"-"`
}

// WriteFiles persists the report under dir: report.json with the summary and
// rankings, plus mean abundance and corridor frequency rasters as CSV.
func (r *Report) WriteFiles(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.json"), data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if r.MeanSurface != nil {
		if err := r.MeanSurface.WriteCSV(filepath.Join(dir, "mean_abundance.csv")); err != nil {
			return err
		}
	}
	if r.Frequency != nil {
		if err := r.Frequency.WriteCSV(filepath.Join(dir, "corridor_frequency.csv")); err != nil {
			return err
		}
	}
	return nil
}

// String renders a terse human-readable summary for command-line output.
func (r *Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Posterior (%d samples routed, %d skipped)\n", r.SampleCount, r.Skipped)
	for _, ps := range r.Posterior {
		fmt.Fprintf(&b, "  %-9s mean=%8.4f sd=%7.4f 95%%=[%8.4f, %8.4f] rhat=%.3f\n",
			ps.Name, ps.Mean, ps.StdDev, ps.Q025, ps.Q975, ps.Rhat)
	}
	if !r.Convergence.OK() {
		fmt.Fprintf(&b, "  WARNING: R-hat above %.2f for %s\n",
			r.Convergence.Threshold, strings.Join(r.Convergence.Failing, ", "))
	}

	fmt.Fprintf(&b, "Hubs: %d (gap statistic suggests %d)\n", len(r.Hubs), r.SuggestedK)
	for _, h := range r.Hubs {
		fmt.Fprintf(&b, "  %s at (%.2f, %.2f), %d cells, footprint area %.2f\n",
			h.Label, h.Loc.X, h.Loc.Y, len(h.Members), h.FootprintArea)
	}

	for _, p := range r.Pairs {
		fmt.Fprintf(&b, "Corridor %s: best length %.2f (cost %.2f), %d alternatives\n",
			p.Pair, p.Best.Length, p.Best.Path.Cost, len(p.Alternatives))
		if p.MeanBaseline != nil {
			fmt.Fprintf(&b, "  mean-surface baseline length %.2f\n", p.MeanBaseline.Length())
		}
		if p.ElevationBaseline != nil {
			fmt.Fprintf(&b, "  elevation baseline length %.2f\n", p.ElevationBaseline.Length())
		}
	}
	return b.String()
}
