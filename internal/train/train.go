// Package train fits a classifier on transformed features and records it as a new run.
package train

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/danielpatrickdp/brakeguard/internal/artifact"
	"github.com/danielpatrickdp/brakeguard/internal/events"
	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/features"
	"github.com/danielpatrickdp/brakeguard/internal/forest"
	"github.com/danielpatrickdp/brakeguard/internal/metrics"
	"github.com/danielpatrickdp/brakeguard/internal/model"
	"github.com/danielpatrickdp/brakeguard/internal/record"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

const stage = "train"

// Input is everything one training run consumes.
type Input struct {
	Features  record.Dataset // train split after Transform
	Transform *features.Transform
	Params    forest.Params
	Config    map[string]string // full parameter set, recorded on the run
	Lineage   map[string]string // upstream artifact versions, recorded as run tags
}

// Result identifies the finished run.
type Result struct {
	RunID      tracking.RunID
	Metrics    metrics.Report
	Importance map[string]float64
}

// Trainer records every fit as a fresh run. Earlier runs are never touched.
type Trainer struct {
	Artifacts  artifact.Store
	Tracker    tracking.Tracker
	Events     events.Publisher
	Logger     *slog.Logger
	Experiment string
}

// #region train
// Train fits the model, writes the run's artifacts and finishes the run. Everything is
// persisted before Train returns; a failure after the run is created marks it FAILED.
func (t *Trainer) Train(ctx context.Context, in Input) (Result, error) {
	if in.Transform == nil {
		return Result{}, fault.Dataf("train: no fitted transform")
	}
	if !slices.Equal(in.Features.Schema.Features, in.Transform.Features()) {
		return Result{}, fault.Dataf("train: feature set %v does not match transform %v", in.Features.Schema.Features, in.Transform.Features())
	}
	if in.Features.Len() == 0 {
		return Result{}, fault.Dataf("train: empty training set")
	}

	id := tracking.NewRunID()
	run := tracking.Run{
		ID:         id,
		Experiment: t.Experiment,
		Name:       "random-forest",
		Status:     tracking.StatusRunning,
		Params:     in.Config,
		Tags:       in.Lineage,
	}
	if err := t.Tracker.CreateRun(ctx, run); err != nil {
		return Result{}, fmt.Errorf("create run: %w", err)
	}
	logger := t.logger().With("run_id", string(id))
	logger.Info("training started", "trees", in.Params.NTrees, "rows", in.Features.Len())

	res, err := t.fitAndRecord(ctx, id, in)
	if err != nil {
		if ferr := t.Tracker.FinishRun(context.WithoutCancel(ctx), id, tracking.StatusFailed, nil); ferr != nil {
			logger.Error("mark run failed", "error", ferr)
		}
		events.Emit(ctx, t.publisher(), logger, events.Event{Type: events.RunFailed, RunID: string(id), Experiment: t.Experiment})
		return Result{}, err
	}

	if err := t.Tracker.FinishRun(ctx, id, tracking.StatusFinished, res.Metrics); err != nil {
		return Result{}, fmt.Errorf("finish run: %w", err)
	}
	events.Emit(ctx, t.publisher(), logger, events.Event{
		Type:       events.RunFinished,
		RunID:      string(id),
		Experiment: t.Experiment,
		Metrics:    res.Metrics,
	})
	logger.Info("training finished", "accuracy", res.Metrics["train_accuracy"])
	return res, nil
}

func (t *Trainer) fitAndRecord(ctx context.Context, id tracking.RunID, in Input) (Result, error) {
	X := in.Features.Matrix()
	y := in.Features.Labels()

	f, err := forest.Fit(ctx, X, y, in.Params)
	if err != nil {
		return Result{}, fmt.Errorf("fit: %w", err)
	}

	pred := make([]int, len(X))
	proba := make([]float64, len(X))
	for i, x := range X {
		proba[i] = f.PredictProba(x)
		pred[i] = f.Predict(x)
	}
	report, err := metrics.Score("train_", y, pred, proba)
	if err != nil {
		return Result{}, err
	}

	importance := make(map[string]float64, len(f.Importances))
	for j, name := range in.Features.Schema.Features {
		importance[name] = f.Importances[j]
	}

	modelData, err := model.Encode(f)
	if err != nil {
		return Result{}, err
	}
	transformData, err := in.Transform.MarshalJSON()
	if err != nil {
		return Result{}, fmt.Errorf("encode transform: %w", err)
	}

	rec := tracking.Recorder{Artifacts: t.Artifacts, Tracker: t.Tracker, Logger: t.logger()}
	if _, err := rec.Put(ctx, stage, id, artifact.RunKey(id.String(), artifact.RunModel), modelData, f.Kind()); err != nil {
		return Result{}, err
	}
	if _, err := rec.Put(ctx, stage, id, artifact.RunKey(id.String(), artifact.RunTransform), transformData, ""); err != nil {
		return Result{}, err
	}
	if _, err := rec.PutJSON(ctx, stage, id, artifact.RunKey(id.String(), artifact.RunTrainMetrics), report, ""); err != nil {
		return Result{}, err
	}
	if _, err := rec.PutJSON(ctx, stage, id, artifact.RunKey(id.String(), artifact.RunImportance), importance, ""); err != nil {
		return Result{}, err
	}

	return Result{RunID: id, Metrics: report, Importance: importance}, nil
}

// #endregion train

func (t *Trainer) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

func (t *Trainer) publisher() events.Publisher {
	if t.Events == nil {
		return events.Nop{}
	}
	return t.Events
}
