// Command corridorrun executes the full abundance-to-corridor pipeline from a
// YAML configuration and prints the resulting summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"corridor-mapper/internal/pipeline"
	"corridor-mapper/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Path to run configuration YAML")
	outDir := flag.String("out", "", "Output directory (overrides the config)")
	workers := flag.Int("workers", 0, "Corridor worker count (overrides the config)")
	seed := flag.Uint64("seed", 0, "Prediction seed (overrides the config)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("corridorrun %s (commit %s, built %s)\n",
			version.Version, version.GitCommit, version.BuildTime)
		return
	}
	if *configPath == "" {
		fmt.Println("Usage: corridorrun -config <run.yaml> [-out <dir>] [-workers N] [-seed N]")
		os.Exit(1)
	}

	cfg, err := pipeline.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *seed > 0 {
		cfg.Prediction.Seed = *seed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := log.New(os.Stderr, "corridorrun: ", log.LstdFlags)
	report, err := pipeline.Run(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Pipeline failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(report.String())
	if cfg.OutputDir != "" {
		fmt.Printf("Outputs written to %s\n", cfg.OutputDir)
	}
}
