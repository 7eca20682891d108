package pgstore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

// openTest connects to the database named by BRAKEGUARD_TEST_POSTGRES_DSN, or skips.
func openTest(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("BRAKEGUARD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BRAKEGUARD_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestArtifactsAppendOnly(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	key := "runs/" + string(tracking.NewRunID()) + "/model"

	a1, err := s.Put(ctx, key, []byte("v1"))
	require.NoError(t, err)
	a2, err := s.Put(ctx, key, []byte("v2"))
	require.NoError(t, err)
	assert.Equal(t, a1.Version+1, a2.Version)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got.Data))

	old, err := s.GetVersion(ctx, key, a1.Version)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(old.Data))

	_, err = s.Get(ctx, key+"-missing")
	assert.True(t, fault.Is(err, fault.NotFound))
}

func TestRunLifecycle(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	experiment := "pg-test-" + string(tracking.NewRunID())

	run := tracking.Run{ID: tracking.NewRunID(), Experiment: experiment, Status: tracking.StatusRunning}
	require.NoError(t, s.CreateRun(ctx, run))
	assert.True(t, errors.Is(s.CreateRun(ctx, run), tracking.ErrRunExists))

	_, err := s.LatestRun(ctx, experiment)
	assert.True(t, fault.Is(err, fault.NotFound))

	require.NoError(t, s.FinishRun(ctx, run.ID, tracking.StatusFinished, map[string]float64{"train_f1": 0.5}))
	assert.True(t, errors.Is(s.FinishRun(ctx, run.ID, tracking.StatusFailed, nil), tracking.ErrNotRunning))

	latest, err := s.LatestRun(ctx, experiment)
	require.NoError(t, err)
	assert.Equal(t, run.ID, latest.ID)
	assert.Equal(t, 0.5, latest.Metrics["train_f1"])

	require.NoError(t, s.LogStage(ctx, tracking.StageEntry{RunID: run.ID, Stage: "train", ArtifactKey: "k", ArtifactVersion: 1}))
	entries, err := s.StageLog(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "train", entries[0].Stage)
}
