// Package tracking records experiment runs and the per-stage artifact log.
package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
)

// #region run-id
// RunID identifies one training execution and anchors its lineage.
type RunID string

// NewRunID returns a fresh random run id.
func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// ParseRunID validates s as a run id.
func ParseRunID(s string) (RunID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fault.Configf("invalid run id %q: %w", s, err)
	}
	return RunID(u.String()), nil
}

func (id RunID) String() string { return string(id) }

// #endregion run-id

// #region run
type Status string

const (
	StatusRunning  Status = "RUNNING"
	StatusFinished Status = "FINISHED"
	StatusFailed   Status = "FAILED"
)

// Run is one experiment record.
type Run struct {
	ID         RunID              `json:"run_id"`
	Experiment string             `json:"experiment"`
	Name       string             `json:"name"`
	Status     Status             `json:"status"`
	Params     map[string]string  `json:"params,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Tags       map[string]string  `json:"tags,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	EndedAt    time.Time          `json:"ended_at,omitzero"`
}

// StageEntry records one artifact written by a pipeline stage.
type StageEntry struct {
	RunID           RunID     `json:"run_id,omitempty"` // empty for stages that precede training
	Stage           string    `json:"stage"`
	ArtifactKey     string    `json:"artifact_key"`
	ArtifactVersion int64     `json:"artifact_version"`
	Detail          string    `json:"detail,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// #endregion run

// #region tracker
var (
	ErrRunExists  = errors.New("run already exists")
	ErrNotRunning = errors.New("run is not running")
)

// Tracker stores runs. Implementations reject duplicate run ids and only finish RUNNING runs.
type Tracker interface {
	CreateRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, id RunID, status Status, metrics map[string]float64) error
	// MergeMetrics adds metrics to an existing run, overwriting same-named values.
	MergeMetrics(ctx context.Context, id RunID, metrics map[string]float64) error
	GetRun(ctx context.Context, id RunID) (Run, error)
	// LatestRun returns the most recently started FINISHED run of an experiment.
	LatestRun(ctx context.Context, experiment string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	LogStage(ctx context.Context, entry StageEntry) error
	StageLog(ctx context.Context, id RunID) ([]StageEntry, error)
}

// #endregion tracker
