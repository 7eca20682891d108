package main

import (
	"context"
	"flag"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/danielpatrickdp/brakeguard/internal/backend"
	"github.com/danielpatrickdp/brakeguard/internal/config"
	"github.com/danielpatrickdp/brakeguard/internal/events"
	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/observability"
	"github.com/danielpatrickdp/brakeguard/internal/pipeline"
)

// #region main
func main() {
	paramsPath := flag.String("params", envOr("BRAKEGUARD_PARAMS", "params.yaml"), "path to params YAML")
	stage := flag.String("stage", "all", "stage to run: all, generate, split, features, train, evaluate")
	flag.Parse()

	os.Exit(run(*paramsPath, *stage))
}

// run returns the process exit code: 0 ok, 2 bad configuration, 1 anything else.
func run(paramsPath, stage string) int {
	cfg, err := config.Load(paramsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	logger := observability.InitLogger(observability.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := backend.Open(ctx, cfg.Tracking)
	if err != nil {
		logger.Error("open tracking backend", "backend", cfg.Tracking.Backend, "error", err)
		return exitCode(err)
	}
	defer b.Close()

	pub := events.New(cfg.Tracking.KafkaBrokers, cfg.Tracking.KafkaTopic)
	defer pub.Close()

	p := pipeline.New(cfg, b.Artifacts, b.Tracker, pub, logger)
	if stage == "all" {
		err = p.RunAll(ctx)
	} else {
		err = p.Run(ctx, stage)
	}
	if err != nil {
		logger.Error("pipeline failed", "stage", stage, "error", err)
		return exitCode(err)
	}

	if id := p.LastRun(); id != "" {
		fmt.Printf("run_id: %s\n", id)
	}
	if out := p.LastEvaluation(); out != nil {
		fmt.Printf("evaluated run %s: %s\n", out.RunID, out.Gates.Reason)
		for _, name := range slices.Sorted(maps.Keys(out.Metrics)) {
			fmt.Printf("  %-20s %.4f\n", name, out.Metrics[name])
		}
	}
	return 0
}

// #endregion main

// #region helpers
func exitCode(err error) int {
	if fault.Is(err, fault.Config) {
		return 2
	}
	return 1
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
