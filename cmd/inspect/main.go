package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/danielpatrickdp/brakeguard/internal/backend"
	"github.com/danielpatrickdp/brakeguard/internal/config"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

// #region main

func main() {
	paramsPath := flag.String("params", envOr("BRAKEGUARD_PARAMS", "params.yaml"), "path to params YAML (selects the tracking backend)")
	last := flag.Int("last", 20, "show N most recent runs")
	runID := flag.String("run", "", "show single run detail")
	metric := flag.String("metric", "", "add one metric column to the run list")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	cfg, err := config.Load(*paramsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		fmt.Fprintln(os.Stderr, "usage: inspect [--params params.yaml] [--last N] [--run id] [--metric name] [--json]")
		os.Exit(2)
	}

	ctx := context.Background()
	b, err := backend.Open(ctx, cfg.Tracking)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open backend: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()

	if *runID != "" {
		err = runDetailMode(ctx, b.Tracker, *runID, *jsonOut)
	} else {
		err = runListMode(ctx, b.Tracker, *last, *metric, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		b.Close()
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID        string   `json:"run_id"`
	Experiment   string   `json:"experiment"`
	Status       string   `json:"status"`
	TrainAcc     *float64 `json:"train_accuracy,omitempty"`
	TestAcc      *float64 `json:"test_accuracy,omitempty"`
	TestAUC      *float64 `json:"test_auc,omitempty"`
	Extra        *float64 `json:"extra,omitempty"`
	StartedAt    string   `json:"started_at"`
	DurationSecs float64  `json:"duration_secs,omitempty"`
}

func runListMode(ctx context.Context, tracker tracking.Tracker, last int, metric string, jsonOut bool) error {
	runs, err := tracker.ListRuns(ctx, last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	// Store returns newest first; print chronologically.
	rows := make([]listRow, len(runs))
	for i, r := range runs {
		lr := listRow{
			RunID:      r.ID.String(),
			Experiment: r.Experiment,
			Status:     string(r.Status),
			TrainAcc:   metricOf(r, "train_accuracy"),
			TestAcc:    metricOf(r, "test_accuracy"),
			TestAUC:    metricOf(r, "test_auc"),
			StartedAt:  r.StartedAt.Format("2006-01-02T15:04:05Z"),
		}
		if metric != "" {
			lr.Extra = metricOf(r, metric)
		}
		if !r.EndedAt.IsZero() {
			lr.DurationSecs = r.EndedAt.Sub(r.StartedAt).Seconds()
		}
		rows[len(runs)-1-i] = lr
	}

	if jsonOut {
		return printJSON(rows)
	}
	printListTable(rows, metric)
	return nil
}

func printListTable(rows []listRow, metric string) {
	header := fmt.Sprintf("%-8s  %-10s  %-16s  %9s  %9s  %8s", "Run", "Status", "Experiment", "Train Acc", "Test Acc", "Test AUC")
	rule := fmt.Sprintf("%-8s+-%-10s+-%-16s+-%9s+-%9s+-%8s", "--------", "----------", "----------------", "---------", "---------", "--------")
	if metric != "" {
		header += fmt.Sprintf("  %10s", truncate(metric, 10))
		rule += "+-----------"
	}
	fmt.Printf("%s  %s\n", header, "Started")
	fmt.Printf("%s+-%s\n", rule, "--------------------")

	for _, r := range rows {
		line := fmt.Sprintf("%-8s  %-10s  %-16s  %9s  %9s  %8s",
			shortID(r.RunID), r.Status, truncate(r.Experiment, 16), fmtMetric(r.TrainAcc), fmtMetric(r.TestAcc), fmtMetric(r.TestAUC))
		if metric != "" {
			line += fmt.Sprintf("  %10s", fmtMetric(r.Extra))
		}
		fmt.Printf("%s  %s\n", line, r.StartedAt)
	}
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	Run      tracking.Run          `json:"run"`
	StageLog []tracking.StageEntry `json:"stage_log"`
}

func runDetailMode(ctx context.Context, tracker tracking.Tracker, runID string, jsonOut bool) error {
	id, err := tracking.ParseRunID(runID)
	if err != nil {
		return err
	}
	run, err := tracker.GetRun(ctx, id)
	if err != nil {
		return err
	}
	entries, err := tracker.StageLog(ctx, id)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(detailOutput{Run: run, StageLog: entries})
	}

	fmt.Printf("Run:        %s\n", run.ID)
	fmt.Printf("Experiment: %s\n", run.Experiment)
	fmt.Printf("Name:       %s\n", run.Name)
	fmt.Printf("Status:     %s\n", run.Status)
	fmt.Printf("Started:    %s\n", run.StartedAt.Format("2006-01-02T15:04:05Z"))
	if !run.EndedAt.IsZero() {
		fmt.Printf("Ended:      %s\n", run.EndedAt.Format("2006-01-02T15:04:05Z"))
	}

	fmt.Printf("\nParams:\n")
	for _, k := range slices.Sorted(maps.Keys(run.Params)) {
		fmt.Printf("  %-28s %s\n", k, run.Params[k])
	}

	var train, test []string
	for _, k := range slices.Sorted(maps.Keys(run.Metrics)) {
		if strings.HasPrefix(k, "test_") {
			test = append(test, k)
		} else {
			train = append(train, k)
		}
	}
	fmt.Printf("\nMetrics:\n")
	printMetrics(run.Metrics, train)
	fmt.Printf("\nTest metrics:\n")
	if len(test) == 0 {
		fmt.Println("  (not evaluated)")
	}
	printMetrics(run.Metrics, test)

	if len(run.Tags) > 0 {
		fmt.Printf("\nLineage:\n")
		for _, k := range slices.Sorted(maps.Keys(run.Tags)) {
			fmt.Printf("  %-28s %s\n", k, run.Tags[k])
		}
	}

	fmt.Printf("\nStage log:\n")
	for _, e := range entries {
		fmt.Printf("  %-10s %-36s v%-4d %s\n", e.Stage, e.ArtifactKey, e.ArtifactVersion, e.Detail)
	}
	return nil
}

// #endregion detail-mode

// #region output

func metricOf(r tracking.Run, name string) *float64 {
	if v, ok := r.Metrics[name]; ok {
		return &v
	}
	return nil
}

func printMetrics(m map[string]float64, names []string) {
	for _, name := range names {
		fmt.Printf("  %-28s %.4f\n", name, m[name])
	}
}

func fmtMetric(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion output
