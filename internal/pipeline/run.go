package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"

	"corridor-mapper/internal/corridor"
	"corridor-mapper/internal/grid"
	"corridor-mapper/internal/hotspot"
	"corridor-mapper/internal/nmix"
	"corridor-mapper/internal/predict"
	"corridor-mapper/internal/survey"
)

// routeResult is one worker's outcome for a (sample, hub-pair) task, fanned
// in to the single aggregation goroutine.
type routeResult struct {
	pair string
	path corridor.Path
	skip bool
}

// Run executes the full pipeline: load and validate inputs, fit (or load a
// cached) posterior, draw the prediction ensemble, cluster hotspot hubs, and
// route least-cost corridors per posterior sample with uncertainty fanned in
// to the aggregator.
//
// Unreachable hub-pair samples are logged and counted, never fatal; any
// other stage error aborts the run.
func Run(ctx context.Context, cfg Config, logger *log.Logger) (*Report, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dataset, err := survey.LoadDatasetCSV(cfg.SurveyPath)
	if err != nil {
		return nil, fmt.Errorf("load survey: %w", err)
	}
	logger.Printf("loaded %d survey sites (%d occasions)", len(dataset.Sites), dataset.Occasions())

	studyGrid, err := grid.LoadGridCSV(cfg.GridPath)
	if err != nil {
		return nil, fmt.Errorf("load grid: %w", err)
	}
	logger.Printf("loaded %d grid cells", len(studyGrid.Cells))

	post, err := loadOrFit(ctx, cfg, dataset, logger)
	if err != nil {
		return nil, err
	}
	if !post.Convergence.OK() {
		logger.Printf("warning: R-hat above %.2f for %v",
			post.Convergence.Threshold, post.Convergence.Failing)
	}

	// The elevation-only baseline routes raw elevations; snapshot them before
	// standardization rescales the grid covariates in place.
	elevation := grid.ElevationRaster(studyGrid)

	scaling := dataset.Standardize()
	if err := studyGrid.Standardize(scaling); err != nil {
		return nil, err
	}

	predictor, err := predict.New(post, studyGrid)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Prediction.Seed))
	count := cfg.Prediction.SampleCount
	if count > len(post.Samples) {
		logger.Printf("sample count %d capped at posterior size %d", count, len(post.Samples))
		count = len(post.Samples)
	}
	indices, err := predictor.Draw(rng, count)
	if err != nil {
		return nil, err
	}

	meanSurface, err := predictor.MeanSurface(indices)
	if err != nil {
		return nil, err
	}

	hotspots, err := hotspot.ClusterHotspots(meanSurface, cfg.Hotspots)
	if err != nil {
		return nil, err
	}
	logger.Printf("clustered %d hotspot cells into %d hubs (gap statistic suggests %d)",
		len(hotspots.SelectedCells), len(hotspots.Hubs), hotspots.SuggestedK)

	agg := corridor.NewAggregator(studyGrid)
	pairs := hubPairs(hotspots.Hubs)

	if len(pairs) > 0 {
		if err := routeEnsemble(ctx, cfg, predictor, indices, pairs, agg, logger); err != nil {
			return nil, err
		}
	} else {
		logger.Printf("fewer than two hubs: no corridors to route")
	}

	report := &Report{
		Posterior:   post.Summary(),
		Convergence: post.Convergence,
		Hubs:        hotspots.Hubs,
		SuggestedK:  hotspots.SuggestedK,
		SampleCount: count,
		Skipped:     agg.Skipped(),
		Frequency:   agg.Frequency(),
		MeanSurface: meanSurface,
	}

	// Baseline alignments: the posterior-mean surface and the elevation-only
	// surface, one route per hub pair each.
	meanPaths, err := routeBaseline(meanSurface, pairs, logger)
	if err != nil {
		return nil, err
	}
	elevPaths, err := routeBaseline(elevation, pairs, logger)
	if err != nil {
		return nil, err
	}

	// Pairs report in hub-label order regardless of worker arrival order.
	for _, pair := range pairs {
		ranked := agg.Rank(pair.key)
		if len(ranked) == 0 {
			continue
		}
		ps := PairSummary{Pair: pair.key, Best: ranked[0], Alternatives: ranked[1:]}
		if p, ok := meanPaths[pair.key]; ok {
			ps.MeanBaseline = &p
		}
		if p, ok := elevPaths[pair.key]; ok {
			ps.ElevationBaseline = &p
		}
		report.Pairs = append(report.Pairs, ps)
	}

	if agg.Skipped() > 0 {
		logger.Printf("skipped %d unreachable pair-samples", agg.Skipped())
	}
	if cfg.OutputDir != "" {
		if err := report.WriteFiles(cfg.OutputDir); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// loadOrFit reuses a cached posterior when configured and present, otherwise
// fits and caches.
func loadOrFit(ctx context.Context, cfg Config, dataset *survey.Dataset, logger *log.Logger) (*nmix.Posterior, error) {
	if cfg.PosteriorCache != "" {
		if post, err := nmix.LoadPosterior(cfg.PosteriorCache); err == nil {
			logger.Printf("loaded cached posterior (%d samples) from %s", len(post.Samples), cfg.PosteriorCache)
			return post, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("posterior cache: %w", err)
		}
	}

	logger.Printf("fitting N-mixture model: %d chains × %d iterations", cfg.MCMC.Chains, cfg.MCMC.Iterations)
	post, err := nmix.Fit(ctx, dataset, cfg.Priors, cfg.MCMC)
	if err != nil {
		return nil, fmt.Errorf("fit abundance model: %w", err)
	}

	if cfg.PosteriorCache != "" {
		if err := post.Save(cfg.PosteriorCache); err != nil {
			return nil, fmt.Errorf("cache posterior: %w", err)
		}
		logger.Printf("cached posterior to %s", cfg.PosteriorCache)
	}
	return post, nil
}

// hubPair is an unordered hub pairing with its stable key.
type hubPair struct {
	key  string
	a, b hotspot.Hub
}

func hubPairs(hubs []hotspot.Hub) []hubPair {
	var pairs []hubPair
	for i := 0; i < len(hubs); i++ {
		for j := i + 1; j < len(hubs); j++ {
			pairs = append(pairs, hubPair{
				key: hubs[i].Label + "-" + hubs[j].Label,
				a:   hubs[i],
				b:   hubs[j],
			})
		}
	}
	return pairs
}

// routeEnsemble fans the (sample × hub-pair) tasks over a bounded worker
// pool. Each worker generates its own abundance surface, builds the cost
// surface once, routes every hub pair on it, and releases the rasters;
// results merge through a single aggregation goroutine.
func routeEnsemble(ctx context.Context, cfg Config, predictor *predict.Predictor,
	indices []int, pairs []hubPair, agg *corridor.Aggregator, logger *log.Logger) error {

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	results := make(chan routeResult, workers*2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range results {
			if res.skip {
				agg.NoteSkip(res.pair)
			} else {
				agg.Accumulate(res.pair, res.path)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, idx := range indices {
		idx := idx
		g.Go(func() error {
			surface, err := predictor.SurfaceAt(idx)
			if err != nil {
				return err
			}
			cs, err := corridor.BuildCostSurface(surface, nil)
			if err != nil {
				return fmt.Errorf("sample %d: %w", idx, err)
			}
			for _, pair := range pairs {
				res := routeResult{pair: pair.key}
				path, err := corridor.ShortestPath(cs, pair.a.Loc, pair.b.Loc)
				switch {
				case errors.Is(err, corridor.ErrUnreachableHub):
					logger.Printf("sample %d pair %s: %v", idx, pair.key, err)
					res.skip = true
				case err != nil:
					return fmt.Errorf("sample %d pair %s: %w", idx, pair.key, err)
				default:
					res.path = path
				}
				select {
				case results <- res:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	err := g.Wait()
	close(results)
	<-done
	return err
}

// routeBaseline routes every hub pair over a single raster. Unreachable
// pairs are logged and omitted.
func routeBaseline(r *grid.Raster, pairs []hubPair, logger *log.Logger) (map[string]corridor.Path, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	cs, err := corridor.BuildCostSurface(r, nil)
	if err != nil {
		return nil, fmt.Errorf("baseline cost surface: %w", err)
	}

	paths := make(map[string]corridor.Path, len(pairs))
	for _, pair := range pairs {
		path, err := corridor.ShortestPath(cs, pair.a.Loc, pair.b.Loc)
		if errors.Is(err, corridor.ErrUnreachableHub) {
			logger.Printf("baseline pair %s: %v", pair.key, err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("baseline pair %s: %w", pair.key, err)
		}
		paths[pair.key] = path
	}
	return paths, nil
}
