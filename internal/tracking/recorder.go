package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/danielpatrickdp/brakeguard/internal/artifact"
)

// Recorder writes artifacts and records each write in the stage log.
type Recorder struct {
	Artifacts artifact.Store
	Tracker   Tracker
	Logger    *slog.Logger
}

// Put stores data under key and appends a stage log entry for it.
func (r Recorder) Put(ctx context.Context, stage string, runID RunID, key string, data []byte, detail string) (artifact.Artifact, error) {
	a, err := r.Artifacts.Put(ctx, key, data)
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("%s: %w", stage, err)
	}
	err = r.Tracker.LogStage(ctx, StageEntry{
		RunID:           runID,
		Stage:           stage,
		ArtifactKey:     a.Key,
		ArtifactVersion: a.Version,
		Detail:          detail,
	})
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("%s: %w", stage, err)
	}
	r.logger().Info("artifact written", "stage", stage, "key", a.Key, "version", a.Version, "run_id", string(runID))
	return a, nil
}

// PutJSON marshals v and stores it with Put.
func (r Recorder) PutJSON(ctx context.Context, stage string, runID RunID, key string, v any, detail string) (artifact.Artifact, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("%s: marshal %s: %w", stage, key, err)
	}
	return r.Put(ctx, stage, runID, key, data, detail)
}

func (r Recorder) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
