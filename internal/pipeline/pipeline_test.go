package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corridor-mapper/internal/nmix"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

// writeTwoPatchFixture lays out the survey and grid CSVs for a 32x2 strip
// with high-forest patches at both ends and elevation rising west to east.
// With a positive forest coefficient the patches become two hotspot hubs
// roughly 30 units apart; the sloped elevation keeps the elevation-only
// baseline on realistic, non-constant values.
func writeTwoPatchFixture(t *testing.T, dir string) (surveyPath, gridPath string) {
	t.Helper()

	surveyPath = writeFile(t, dir, "survey.csv",
		"site,x,y,forest,elevation,c1,c2\n"+
			"s1,0,0,0,100,0,1\n"+
			"s2,1,0,10,105,3,2\n"+
			"s3,30,1,0,250,1,0\n"+
			"s4,31,1,10,255,2,4\n")

	var b strings.Builder
	b.WriteString("x,y,forest,elevation\n")
	for x := 0; x < 32; x++ {
		forest := 0
		if x <= 1 || x >= 30 {
			forest = 10
		}
		for y := 0; y < 2; y++ {
			fmt.Fprintf(&b, "%d,%d,%d,%d\n", x, y, forest, 100+5*x)
		}
	}
	gridPath = writeFile(t, dir, "grid.csv", b.String())
	return surveyPath, gridPath
}

// cacheForestPosterior saves a degenerate posterior whose every sample loads
// abundance on the forest covariate only.
func cacheForestPosterior(t *testing.T, dir string, n int) string {
	t.Helper()

	samples := make([]nmix.Sample, n)
	for i := range samples {
		samples[i] = nmix.Sample{B0: 0, BForest: 2, DetectP: 0.5}
	}
	post := &nmix.Posterior{
		Samples: samples,
		Convergence: nmix.Convergence{
			Rhat:      map[string]float64{"b0": 1.0},
			Threshold: 1.1,
		},
		Chains:       2,
		KeptPerChain: n / 2,
	}
	path := filepath.Join(dir, "posterior.json")
	require.NoError(t, post.Save(path))
	return path
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "run.yaml", `
survey: survey.csv
grid: grid.csv
workers: 3
prediction:
  sample_count: 25
  seed: 9
hotspots:
  threshold: 1.5
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "survey.csv", cfg.SurveyPath)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 25, cfg.Prediction.SampleCount)
	assert.Equal(t, uint64(9), cfg.Prediction.Seed)
	assert.Equal(t, 1.5, cfg.Hotspots.Threshold)

	// Untouched fields keep their defaults.
	assert.Equal(t, nmix.DefaultPriorBounds(), cfg.Priors)
	assert.Equal(t, 10.0, cfg.Hotspots.LinkageDistance)
	assert.Equal(t, 8, cfg.Hotspots.KMax)
}

func TestLoadConfigRejectsIncomplete(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "run.yaml", "grid: grid.csv\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "survey path")
}

func TestRunWithCachedPosterior(t *testing.T) {
	dir := t.TempDir()
	surveyPath, gridPath := writeTwoPatchFixture(t, dir)
	outDir := filepath.Join(dir, "out")

	cfg := DefaultConfig()
	cfg.SurveyPath = surveyPath
	cfg.GridPath = gridPath
	cfg.PosteriorCache = cacheForestPosterior(t, dir, 6)
	cfg.Prediction.SampleCount = 3
	cfg.Prediction.Seed = 7
	cfg.Workers = 2
	cfg.OutputDir = outDir

	logger := log.New(os.Stderr, "test: ", 0)
	report, err := Run(context.Background(), cfg, logger)
	require.NoError(t, err)

	require.Len(t, report.Hubs, 2)
	assert.Equal(t, "A", report.Hubs[0].Label)
	assert.Equal(t, "B", report.Hubs[1].Label)
	assert.InDelta(t, 0.5, report.Hubs[0].Loc.X, 1e-9)
	assert.InDelta(t, 30.5, report.Hubs[1].Loc.X, 1e-9)

	assert.Equal(t, 3, report.SampleCount)
	assert.Zero(t, report.Skipped)

	require.Len(t, report.Pairs, 1)
	pair := report.Pairs[0]
	assert.Equal(t, "A-B", pair.Pair)

	// Every drawn sample is the same parameter vector, so the three routes
	// coincide: one best path and two equal-length alternatives.
	require.Len(t, pair.Alternatives, 2)
	for _, alt := range pair.Alternatives {
		assert.Equal(t, pair.Best.Length, alt.Length)
	}
	assert.Greater(t, pair.Best.Length, 28.0)

	// Both baselines must produce full hub-to-hub routes, the elevation one
	// on the raw sloped elevations rather than their standardized form.
	require.NotNil(t, pair.MeanBaseline)
	assert.Greater(t, pair.MeanBaseline.Length(), 28.0)
	require.NotNil(t, pair.ElevationBaseline)
	assert.Greater(t, pair.ElevationBaseline.Length(), 28.0)
	assert.Greater(t, pair.ElevationBaseline.Cost, 0.0)

	// Identical routes stack: the most visited cell is crossed once per
	// sample.
	require.NotNil(t, report.Frequency)
	assert.Equal(t, 3.0, report.Frequency.Max())

	for _, name := range []string{"report.json", "mean_abundance.csv", "corridor_frequency.csv"} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err, name)
	}
}

func TestRunReproducible(t *testing.T) {
	dir := t.TempDir()
	surveyPath, gridPath := writeTwoPatchFixture(t, dir)

	cfg := DefaultConfig()
	cfg.SurveyPath = surveyPath
	cfg.GridPath = gridPath
	cfg.PosteriorCache = cacheForestPosterior(t, dir, 6)
	cfg.Prediction.SampleCount = 3
	cfg.Prediction.Seed = 7
	cfg.Workers = 2

	logger := log.New(os.Stderr, "test: ", 0)
	first, err := Run(context.Background(), cfg, logger)
	require.NoError(t, err)
	second, err := Run(context.Background(), cfg, logger)
	require.NoError(t, err)

	require.Len(t, first.Pairs, 1)
	require.Len(t, second.Pairs, 1)
	assert.Equal(t, first.Pairs[0].Best.Length, second.Pairs[0].Best.Length)
	assert.Equal(t, first.Frequency.Values, second.Frequency.Values)
}

func TestRunFitPathSingleHub(t *testing.T) {
	dir := t.TempDir()
	surveyPath := writeFile(t, dir, "survey.csv",
		"site,x,y,forest,elevation,c1,c2,c3\n"+
			"s1,0,0,2,1,1,0,2\n"+
			"s2,1,0,5,2,2,3,1\n"+
			"s3,2,0,8,3,4,2,na\n"+
			"s4,3,0,3,1,1,1,0\n")

	var b strings.Builder
	b.WriteString("x,y,forest,elevation\n")
	for x := 0; x < 8; x++ {
		fmt.Fprintf(&b, "%d,0,%d,%d\n", x, 2+x%3, 1+x%2)
	}
	gridPath := writeFile(t, dir, "grid.csv", b.String())

	cfg := DefaultConfig()
	cfg.SurveyPath = surveyPath
	cfg.GridPath = gridPath
	cfg.PosteriorCache = filepath.Join(dir, "posterior.json")
	cfg.MCMC.Chains = 2
	cfg.MCMC.Iterations = 60
	cfg.MCMC.Seed = 3
	cfg.MCMC.Parallel = false
	cfg.Prediction.SampleCount = 5
	cfg.Workers = 1
	// Threshold zero selects the whole strip; a wide linkage cut folds it
	// into a single hub, leaving nothing to route.
	cfg.Hotspots.Threshold = 0
	cfg.Hotspots.LinkageDistance = 100

	logger := log.New(os.Stderr, "test: ", 0)
	report, err := Run(context.Background(), cfg, logger)
	require.NoError(t, err)

	assert.Len(t, report.Posterior, nmix.NumParams)
	require.Len(t, report.Hubs, 1)
	assert.Empty(t, report.Pairs)
	assert.Zero(t, report.Skipped)

	// The fit was cached; a second run must reuse it and agree on the model
	// summary.
	_, err = os.Stat(cfg.PosteriorCache)
	require.NoError(t, err)
	again, err := Run(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, report.Posterior, again.Posterior)
}
