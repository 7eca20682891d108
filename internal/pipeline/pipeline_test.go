package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/brakeguard/internal/artifact"
	"github.com/danielpatrickdp/brakeguard/internal/bundle"
	"github.com/danielpatrickdp/brakeguard/internal/config"
	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/record"
	"github.com/danielpatrickdp/brakeguard/internal/state"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.Data.NSamples = 1000
	cfg.Data.RandomState = 42
	cfg.Split.TestSize = 0.2
	cfg.Split.Stratify = true
	cfg.Features.ImputeStrategy = "median"
	cfg.Features.Scale = true
	cfg.Train.NEstimators = 10
	return cfg
}

func tempStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.NewStore(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	p := New(smallConfig(), s, s, nil, nil)

	require.NoError(t, p.RunAll(ctx))
	id := p.LastRun()
	require.NotEmpty(t, id)

	for _, key := range []string{artifact.RawData, artifact.TrainData, artifact.TestData, artifact.FeatureTransform, artifact.TrainFeatures, artifact.TestFeatures} {
		_, err := s.Get(ctx, key)
		assert.NoError(t, err, key)
	}

	testA, err := s.Get(ctx, artifact.TestData)
	require.NoError(t, err)
	test, err := record.ReadCSV(bytes.NewReader(testA.Data), record.BrakeSchema())
	require.NoError(t, err)
	assert.Equal(t, 200, test.Len())

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, tracking.StatusFinished, run.Status)
	assert.Equal(t, "10", run.Params["n_estimators"])
	assert.Equal(t, "1", run.Tags[artifact.FeatureTransform])
	for _, m := range []string{"train_accuracy", "train_auc", "train_f1", "test_accuracy", "test_f1", "test_precision", "test_recall", "test_auc"} {
		require.Contains(t, run.Metrics, m)
		assert.GreaterOrEqual(t, run.Metrics[m], 0.0, m)
		assert.LessOrEqual(t, run.Metrics[m], 1.0, m)
	}
	assert.Greater(t, run.Metrics["test_accuracy"], 0.7)

	// Scoring each raw test record on the single-record path must reproduce the
	// evaluator's stored predictions exactly.
	out := p.LastEvaluation()
	require.NotNil(t, out)
	b, err := bundle.Load(ctx, s, id)
	require.NoError(t, err)
	for i, r := range test.Records {
		fields := map[string]float64{}
		for j, name := range test.Schema.Features {
			fields[name] = r.Values[j]
		}
		got, err := b.Predict(fields)
		require.NoError(t, err)
		row := out.Predictions[i]
		assert.Equal(t, row.Prediction, got.Label, "row %d", i)
		require.NotNil(t, row.Probability)
		assert.Equal(t, *row.Probability, got.Probability, "row %d", i)
	}

	entries, err := s.StageLog(ctx, id)
	require.NoError(t, err)
	assert.Len(t, entries, 6)
}

func TestEvaluateUsesRunTransformAfterFeaturesRerun(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	cfg := smallConfig()
	cfg.Data.NSamples = 400
	cfg.Train.NEstimators = 5
	p := New(cfg, s, s, nil, nil)
	require.NoError(t, p.RunAll(ctx))
	before := p.LastEvaluation().Metrics

	cfg.Features.Scale = false
	cfg.Features.ImputeStrategy = "mean"
	cfg.Evaluate.RunID = p.LastRun().String()
	q := New(cfg, s, s, nil, nil)
	require.NoError(t, q.Run(ctx, StageFeatures))
	require.NoError(t, q.Run(ctx, StageEvaluate))

	assert.Equal(t, before, q.LastEvaluation().Metrics)
}

func TestEvaluateReadsRunTestSplit(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	cfg := smallConfig()
	cfg.Data.NSamples = 400
	cfg.Train.NEstimators = 5
	p := New(cfg, s, s, nil, nil)
	require.NoError(t, p.RunAll(ctx))
	id := p.LastRun()

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "1", run.Tags[artifact.TestData])

	// A new split with a different seed must not leak into the old run's evaluation.
	cfg.Split.RandomState = 99
	cfg.Evaluate.RunID = id.String()
	q := New(cfg, s, s, nil, nil)
	require.NoError(t, q.Run(ctx, StageSplit))
	latest, err := s.Get(ctx, artifact.TestData)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Version)

	test, err := RunTestData(ctx, s, s, id)
	require.NoError(t, err)
	assert.Equal(t, len(p.LastEvaluation().Predictions), test.Len())
	require.NoError(t, q.Run(ctx, StageEvaluate))
	assert.Equal(t, p.LastEvaluation().Metrics, q.LastEvaluation().Metrics)
}

func rowKeys(ds record.Dataset) map[string]bool {
	keys := make(map[string]bool, ds.Len())
	for _, r := range ds.Records {
		keys[fmt.Sprint(r.Values)] = true
	}
	return keys
}

func TestResplitBeforeTrainKeepsFeatureLineage(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	cfg := smallConfig()
	cfg.Data.NSamples = 400
	cfg.Train.NEstimators = 5
	p := New(cfg, s, s, nil, nil)
	for _, stage := range []string{StageGenerate, StageSplit, StageFeatures} {
		require.NoError(t, p.Run(ctx, stage))
	}

	cfg.Split.RandomState = 99
	q := New(cfg, s, s, nil, nil)
	require.NoError(t, q.Run(ctx, StageSplit))
	require.NoError(t, q.Run(ctx, StageTrain))
	require.NoError(t, q.Run(ctx, StageEvaluate))

	run, err := s.GetRun(ctx, q.LastRun())
	require.NoError(t, err)
	assert.Equal(t, "1", run.Tags[artifact.TrainData])
	assert.Equal(t, "1", run.Tags[artifact.TestData])
	assert.Equal(t, "1", run.Tags[artifact.FeatureTransform])

	trainA, err := s.GetVersion(ctx, artifact.TrainData, 1)
	require.NoError(t, err)
	trainDS, err := record.ReadCSV(bytes.NewReader(trainA.Data), record.BrakeSchema())
	require.NoError(t, err)
	test, err := RunTestData(ctx, s, s, q.LastRun())
	require.NoError(t, err)

	seen := rowKeys(trainDS)
	for i, r := range test.Records {
		assert.False(t, seen[fmt.Sprint(r.Values)], "test row %d was a training row", i)
	}
	assert.Len(t, q.LastEvaluation().Predictions, test.Len())
}

func TestFeaturesWithoutSplitIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	p := New(smallConfig(), s, s, nil, nil)
	require.NoError(t, p.Run(ctx, StageGenerate))
	assert.True(t, fault.Is(p.Run(ctx, StageFeatures), fault.NotFound))
	assert.True(t, fault.Is(p.Run(ctx, StageTrain), fault.NotFound))
}

func TestGenerateFalseRequiresRawData(t *testing.T) {
	cfg := smallConfig()
	cfg.Data.Generate = false
	p := New(cfg, tempStore(t), nil, nil, nil)

	err := p.Run(context.Background(), StageGenerate)
	assert.True(t, fault.Is(err, fault.NotFound))
}

func TestSplitWithoutRawData(t *testing.T) {
	s := tempStore(t)
	p := New(smallConfig(), s, s, nil, nil)
	err := p.Run(context.Background(), StageSplit)
	assert.True(t, fault.Is(err, fault.NotFound))
}

func TestEvaluateWithoutRunsIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	p := New(smallConfig(), s, s, nil, nil)
	require.NoError(t, p.Run(ctx, StageGenerate))
	require.NoError(t, p.Run(ctx, StageSplit))

	err := p.Run(ctx, StageEvaluate)
	assert.True(t, fault.Is(err, fault.NotFound))
}

func TestQualityGateFailure(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	cfg := smallConfig()
	cfg.Data.NSamples = 300
	cfg.Train.NEstimators = 3
	cfg.Evaluate.MinAccuracy = 1.0
	cfg.Data.MissingRate = 0.3
	p := New(cfg, s, s, nil, nil)

	err := p.RunAll(ctx)
	if err == nil {
		t.Skip("model reached perfect accuracy")
	}
	assert.True(t, errors.Is(err, ErrQualityGate))
}

func TestUnknownStage(t *testing.T) {
	s := tempStore(t)
	err := New(smallConfig(), s, s, nil, nil).Run(context.Background(), "deploy")
	assert.True(t, fault.Is(err, fault.Config))
}
