package train

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/brakeguard/internal/artifact"
	"github.com/danielpatrickdp/brakeguard/internal/features"
	"github.com/danielpatrickdp/brakeguard/internal/forest"
	"github.com/danielpatrickdp/brakeguard/internal/generate"
	"github.com/danielpatrickdp/brakeguard/internal/model"
	"github.com/danielpatrickdp/brakeguard/internal/state"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

func setup(t *testing.T) (*state.Store, Input) {
	t.Helper()
	s, err := state.NewStore(filepath.Join(t.TempDir(), "train.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ds, err := generate.Synthetic(generate.Params{Samples: 300, Seed: 5})
	require.NoError(t, err)
	tr, err := features.Fit(ds, features.Options{Strategy: features.StrategyMedian, Scale: true})
	require.NoError(t, err)
	fx, err := tr.Apply(ds)
	require.NoError(t, err)

	return s, Input{
		Features:  fx,
		Transform: tr,
		Params: forest.Params{
			NTrees: 5, MaxDepth: 6, MinSamplesSplit: 2, MinSamplesLeaf: 1,
			MaxFeatures: forest.MaxFeaturesSqrt, ClassWeight: forest.ClassWeightNone, Bootstrap: true, Seed: 1,
		},
		Config:  map[string]string{"n_estimators": "5"},
		Lineage: map[string]string{"data/train": "1"},
	}
}

func TestTrainRecordsRun(t *testing.T) {
	s, in := setup(t)
	ctx := context.Background()
	tr := &Trainer{Artifacts: s, Tracker: s, Experiment: "exp"}

	res, err := tr.Train(ctx, in)
	require.NoError(t, err)

	run, err := s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, tracking.StatusFinished, run.Status)
	assert.Equal(t, "1", run.Tags["data/train"])
	assert.Equal(t, res.Metrics["train_accuracy"], run.Metrics["train_accuracy"])
	assert.Greater(t, res.Metrics["train_accuracy"], 0.7)
	for _, name := range []string{"train_accuracy", "train_auc", "train_f1"} {
		require.Contains(t, res.Metrics, name)
		assert.GreaterOrEqual(t, res.Metrics[name], 0.0, name)
		assert.LessOrEqual(t, res.Metrics[name], 1.0, name)
	}

	for _, name := range []string{artifact.RunModel, artifact.RunTransform, artifact.RunTrainMetrics, artifact.RunImportance} {
		_, err := s.Get(ctx, artifact.RunKey(res.RunID.String(), name))
		assert.NoError(t, err, name)
	}

	a, err := s.Get(ctx, artifact.RunKey(res.RunID.String(), artifact.RunModel))
	require.NoError(t, err)
	m, err := model.Decode(a.Data)
	require.NoError(t, err)
	assert.Equal(t, 7, m.NumFeatures())

	entries, err := s.StageLog(ctx, res.RunID)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.Len(t, res.Importance, 7)
}

func TestTrainNeverOverwrites(t *testing.T) {
	s, in := setup(t)
	ctx := context.Background()
	tr := &Trainer{Artifacts: s, Tracker: s, Experiment: "exp"}

	first, err := tr.Train(ctx, in)
	require.NoError(t, err)
	second, err := tr.Train(ctx, in)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)

	a, err := s.Get(ctx, artifact.RunKey(first.RunID.String(), artifact.RunModel))
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Version)

	latest, err := s.LatestRun(ctx, "exp")
	require.NoError(t, err)
	assert.Equal(t, second.RunID, latest.ID)
}

func TestTrainFailureMarksRunFailed(t *testing.T) {
	s, in := setup(t)
	ctx := context.Background()
	in.Params.NTrees = 0
	tr := &Trainer{Artifacts: s, Tracker: s, Experiment: "exp"}

	_, err := tr.Train(ctx, in)
	require.Error(t, err)

	runs, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, tracking.StatusFailed, runs[0].Status)
}

func TestTrainRejectsMismatchedTransform(t *testing.T) {
	s, in := setup(t)
	in.Features.Schema.Features = append([]string{}, in.Features.Schema.Features[:6]...)
	tr := &Trainer{Artifacts: s, Tracker: s, Experiment: "exp"}

	_, err := tr.Train(context.Background(), in)
	require.Error(t, err)
	runs, _ := s.ListRuns(context.Background(), 0)
	assert.Empty(t, runs)
}
