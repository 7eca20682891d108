package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/brakeguard/internal/backend"
	"github.com/danielpatrickdp/brakeguard/internal/client"
	"github.com/danielpatrickdp/brakeguard/internal/config"
	"github.com/danielpatrickdp/brakeguard/internal/replay"
	"github.com/danielpatrickdp/brakeguard/internal/serve"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	addr := flag.String("addr", "", "gRPC address of a running inference service (server mode)")
	paramsPath := flag.String("params", "", "params YAML; loads the fixture's run in-process (store mode)")
	flag.Parse()

	if *fixturePath == "" || (*addr == "" && *paramsPath == "") || (*addr != "" && *paramsPath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json --addr host:port")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/fixture.json --params params.yaml")
		os.Exit(2)
	}

	f, err := replay.LoadFixture(*fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		os.Exit(2)
	}

	var exitCode int
	if *addr != "" {
		exitCode = runServerMode(*addr, f)
	} else {
		exitCode = runStoreMode(*paramsPath, f)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region modes

func runServerMode(addr string, f *replay.Fixture) int {
	c, err := client.New(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		return 2
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ready, err := c.Ready(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check: %v\n", err)
		return 2
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "inference service at %s is not serving\n", addr)
		return 2
	}

	results := replay.Replay(context.Background(), c, f)
	return printComparison(results)
}

func runStoreMode(paramsPath string, f *replay.Fixture) int {
	cfg, err := config.Load(paramsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load params: %v\n", err)
		return 2
	}

	ctx := context.Background()
	b, err := backend.Open(ctx, cfg.Tracking)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open backend: %v\n", err)
		return 2
	}
	defer b.Close()

	bnd, _, err := serve.LoadBundle(ctx, b.Artifacts, b.Tracker, f.RunID.String(), cfg.Tracking.Experiment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load run %s: %v\n", f.RunID, err)
		return 2
	}

	results := replay.Replay(ctx, replay.BundlePredictor{Bundle: bnd}, f)
	return printComparison(results)
}

// #endregion modes

// #region output

// printComparison outputs a comparison table and returns exit code.
func printComparison(results []replay.ReplayResult) int {
	fmt.Printf("%-6s| %-15s| %-15s| %s\n", "Row", "Expected", "Replayed", "Match")
	fmt.Printf("%-6s+%-15s+%-15s+%s\n",
		"------", "----------------", "----------------", "------")

	for _, r := range results {
		if r.Action == "match" {
			continue
		}
		got := describe(r.Got.Label, r.Got.Probability, r.Got.HasProbability)
		if r.Err != nil {
			got = "error"
		}
		fmt.Printf("%-6d| %-15s| %-15s| %s\n", r.Row,
			describe(r.Expected.Label, r.Expected.Probability, r.Expected.HasProbability), got, "DIFF")
		if r.Err != nil {
			fmt.Printf("        %v\n", r.Err)
		}
	}

	s := replay.Summarize(results)
	fmt.Printf("\nSummary: %d total, %d match, %d diverge, %d errors\n", s.TotalRows, s.Matches, s.Mismatches, s.Errors)

	if !s.OK() {
		return 1
	}
	return 0
}

func describe(label int, p float64, hasP bool) string {
	if !hasP {
		return fmt.Sprintf("%d (n/a)", label)
	}
	return fmt.Sprintf("%d (%.4f)", label, p)
}

// #endregion output
