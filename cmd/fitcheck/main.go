// Command fitcheck fits the N-mixture abundance model on a survey CSV and
// reports the posterior summary and convergence diagnostics, without running
// the corridor stages. Useful for tuning chain settings before a full run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"corridor-mapper/internal/nmix"
	"corridor-mapper/internal/survey"
	"corridor-mapper/internal/version"
)

func main() {
	surveyPath := flag.String("survey", "", "Path to survey CSV (site,x,y,forest,elevation,counts...)")
	chains := flag.Int("chains", 0, "Number of MCMC chains")
	iters := flag.Int("iters", 0, "Iterations per chain")
	burn := flag.Int("burn", 0, "Burn-in iterations (default iters/2)")
	seed := flag.Uint64("seed", 1, "Random seed")
	savePath := flag.String("save", "", "Save the posterior as JSON")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fitcheck %s (commit %s, built %s)\n",
			version.Version, version.GitCommit, version.BuildTime)
		return
	}
	if *surveyPath == "" {
		fmt.Println("Usage: fitcheck -survey <path> [-chains 2] [-iters 2000] [-seed 1] [-save posterior.json]")
		os.Exit(1)
	}

	dataset, err := survey.LoadDatasetCSV(*surveyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load survey: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d sites, %d occasions\n", len(dataset.Sites), dataset.Occasions())

	cfg := nmix.DefaultMCMCConfig()
	if *chains > 0 {
		cfg.Chains = *chains
	}
	if *iters > 0 {
		cfg.Iterations = *iters
	}
	if *burn > 0 {
		cfg.Burn = *burn
	}
	cfg.Seed = *seed

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Fitting: %d chains x %d iterations (seed %d)\n", cfg.Chains, cfg.Iterations, cfg.Seed)
	post, err := nmix.Fit(ctx, dataset, nmix.DefaultPriorBounds(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fit failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nPosterior (%d samples, %d chains x %d kept):\n",
		len(post.Samples), post.Chains, post.KeptPerChain)
	fmt.Printf("  %-9s %9s %9s %9s %9s %6s\n", "param", "mean", "sd", "2.5%", "97.5%", "rhat")
	for _, s := range post.Summary() {
		fmt.Printf("  %-9s %9.4f %9.4f %9.4f %9.4f %6.3f\n",
			s.Name, s.Mean, s.StdDev, s.Q025, s.Q975, s.Rhat)
	}
	if post.Convergence.OK() {
		fmt.Printf("\nAll parameters below R-hat %.2f\n", post.Convergence.Threshold)
	} else {
		fmt.Printf("\nWARNING: R-hat above %.2f for %v; consider longer chains\n",
			post.Convergence.Threshold, post.Convergence.Failing)
	}

	if *savePath != "" {
		if err := post.Save(*savePath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save posterior: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Posterior saved to %s\n", *savePath)
	}
}
