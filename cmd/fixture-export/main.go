package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/brakeguard/internal/artifact"
	"github.com/danielpatrickdp/brakeguard/internal/backend"
	"github.com/danielpatrickdp/brakeguard/internal/config"
	"github.com/danielpatrickdp/brakeguard/internal/eval"
	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/pipeline"
	"github.com/danielpatrickdp/brakeguard/internal/replay"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

// #region main

func main() {
	paramsPath := flag.String("params", envOr("BRAKEGUARD_PARAMS", "params.yaml"), "path to params YAML (selects the tracking backend)")
	runID := flag.String("run", "", "run to export (default: latest finished run of the experiment)")
	outPath := flag.String("out", "", "output fixture JSON path")
	flag.Parse()

	if *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --out path/to/fixture.json [--params params.yaml] [--run id]")
		os.Exit(2)
	}

	if err := run(*paramsPath, *runID, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if fault.Is(err, fault.Config) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(paramsPath, runID, outPath string) error {
	cfg, err := config.Load(paramsPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	b, err := backend.Open(ctx, cfg.Tracking)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	defer b.Close()

	id, err := resolveRun(ctx, b.Tracker, runID, cfg.Tracking.Experiment)
	if err != nil {
		return err
	}

	var preds []eval.PredictionRow
	if _, err := artifact.GetJSON(ctx, b.Artifacts, artifact.RunKey(id.String(), artifact.RunTestPredictions), &preds); err != nil {
		return fmt.Errorf("run %s has no test predictions (run the evaluate stage first): %w", id, err)
	}
	test, err := pipeline.RunTestData(ctx, b.Artifacts, b.Tracker, id)
	if err != nil {
		return err
	}

	f, err := replay.BuildFixture(id, test, preds)
	if err != nil {
		return err
	}
	if err := replay.WriteFixture(outPath, f); err != nil {
		return err
	}

	fmt.Printf("Exported %d of %d test rows for run %s to %s\n", len(f.Rows), test.Len(), id, outPath)
	return nil
}

func resolveRun(ctx context.Context, tracker tracking.Tracker, runID, experiment string) (tracking.RunID, error) {
	if runID != "" {
		return tracking.ParseRunID(runID)
	}
	r, err := tracker.LatestRun(ctx, experiment)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion extract
