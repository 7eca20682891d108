package eval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielpatrickdp/brakeguard/internal/artifact"
	"github.com/danielpatrickdp/brakeguard/internal/bundle"
	"github.com/danielpatrickdp/brakeguard/internal/events"
	"github.com/danielpatrickdp/brakeguard/internal/metrics"
	"github.com/danielpatrickdp/brakeguard/internal/record"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

const stage = "evaluate"

// Outcome is the result of evaluating one run.
type Outcome struct {
	RunID       tracking.RunID
	Metrics     metrics.Report
	Predictions []PredictionRow
	Gates       EvalResult
}

// Evaluator scores a run's model on held-out raw data.
type Evaluator struct {
	Artifacts artifact.Store
	Tracker   tracking.Tracker
	Events    events.Publisher
	Logger    *slog.Logger
	Config    EvalConfig
}

// #region evaluate
// Evaluate applies the run's own transform and model to test and records test metrics and
// per-row predictions under the run. An unknown run or a missing model is a not-found fault.
func (e *Evaluator) Evaluate(ctx context.Context, id tracking.RunID, test record.Dataset) (Outcome, error) {
	run, err := e.Tracker.GetRun(ctx, id)
	if err != nil {
		return Outcome{}, fmt.Errorf("evaluate run %s: %w", id, err)
	}
	b, err := bundle.Load(ctx, e.Artifacts, id)
	if err != nil {
		return Outcome{}, err
	}

	scored, err := b.ScoreDataset(test)
	if err != nil {
		return Outcome{}, fmt.Errorf("evaluate run %s: %w", id, err)
	}

	y := test.Labels()
	pred := make([]int, len(scored))
	rows := make([]PredictionRow, len(scored))
	var proba []float64
	if len(scored) > 0 && scored[0].Prediction.HasProbability {
		proba = make([]float64, len(scored))
	}
	for i, s := range scored {
		pred[i] = s.Prediction.Label
		rows[i] = PredictionRow{Row: i, Actual: y[i], Prediction: s.Prediction.Label}
		if s.Prediction.HasProbability {
			p := s.Prediction.Probability
			rows[i].Probability = &p
			proba[i] = s.RawProba
		}
	}

	report, err := metrics.Score("test_", y, pred, proba)
	if err != nil {
		return Outcome{}, fmt.Errorf("evaluate run %s: %w", id, err)
	}

	rec := tracking.Recorder{Artifacts: e.Artifacts, Tracker: e.Tracker, Logger: e.logger()}
	if _, err := rec.PutJSON(ctx, stage, id, artifact.RunKey(id.String(), artifact.RunTestMetrics), report, ""); err != nil {
		return Outcome{}, err
	}
	if _, err := rec.PutJSON(ctx, stage, id, artifact.RunKey(id.String(), artifact.RunTestPredictions), rows, fmt.Sprintf("%d rows", len(rows))); err != nil {
		return Outcome{}, err
	}
	if err := e.Tracker.MergeMetrics(ctx, id, report); err != nil {
		return Outcome{}, fmt.Errorf("record test metrics: %w", err)
	}

	gates := NewEvalHarness(e.Config).Run(report)
	logger := e.logger().With("run_id", string(id))
	if gates.Passed {
		logger.Info("evaluation finished", "accuracy", report["test_accuracy"], "reason", gates.Reason)
	} else {
		logger.Warn("evaluation gates failed", "accuracy", report["test_accuracy"], "reason", gates.Reason)
	}

	passed := gates.Passed
	events.Emit(ctx, e.publisher(), logger, events.Event{
		Type:       events.RunEvaluated,
		RunID:      string(id),
		Experiment: run.Experiment,
		Metrics:    report,
		Passed:     &passed,
	})

	return Outcome{RunID: id, Metrics: report, Predictions: rows, Gates: gates}, nil
}

// #endregion evaluate

func (e *Evaluator) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Evaluator) publisher() events.Publisher {
	if e.Events == nil {
		return events.Nop{}
	}
	return e.Events
}
