package state

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

// #region log-stage
// LogStage appends one stage log entry. Entries for pre-training stages carry no run id.
func (s *Store) LogStage(ctx context.Context, entry tracking.StageEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_log (run_id, stage, artifact_key, artifact_version, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(string(entry.RunID)),
		entry.Stage,
		entry.ArtifactKey,
		entry.ArtifactVersion,
		nullIfEmpty(entry.Detail),
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("log stage: %w", err)
	}
	return nil
}
// #endregion log-stage

// #region stage-log
// StageLog returns a run's entries in the order they were written.
func (s *Store) StageLog(ctx context.Context, id tracking.RunID) ([]tracking.StageEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(run_id, ''), stage, artifact_key, artifact_version, COALESCE(detail, ''), created_at
		 FROM stage_log WHERE run_id = ? ORDER BY id`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query stage log: %w", err)
	}
	defer rows.Close()

	var out []tracking.StageEntry
	for rows.Next() {
		var e tracking.StageEntry
		var runID, created string
		if err := rows.Scan(&runID, &e.Stage, &e.ArtifactKey, &e.ArtifactVersion, &e.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.RunID = tracking.RunID(runID)
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
// #endregion stage-log
