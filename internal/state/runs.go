package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

const runColumns = `run_id, experiment, name, status, params_json, metrics_json, tags_json, started_at, ended_at`

// #region create-run
// CreateRun inserts a new run. An existing id is rejected.
func (s *Store) CreateRun(ctx context.Context, run tracking.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	params, err := marshalMap(run.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	metrics, err := marshalMap(run.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	tags, err := marshalMap(run.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id = ?`, run.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("create run %s: %w", run.ID, tracking.ErrRunExists)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(run.ID), run.Experiment, nullIfEmpty(run.Name), string(run.Status),
		params, metrics, tags, formatTime(run.StartedAt), formatTime(run.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return tx.Commit()
}
// #endregion create-run

// #region finish-run
// FinishRun moves a RUNNING run to status, merging metrics into any already recorded.
func (s *Store) FinishRun(ctx context.Context, id tracking.RunID, status tracking.Status, metrics map[string]float64) error {
	return s.updateRun(ctx, id, func(run *tracking.Run) error {
		if run.Status != tracking.StatusRunning {
			return fmt.Errorf("finish run %s (%s): %w", id, run.Status, tracking.ErrNotRunning)
		}
		run.Status = status
		run.EndedAt = s.now()
		run.Metrics = merged(run.Metrics, metrics)
		return nil
	})
}

// MergeMetrics adds metrics to a run regardless of its status.
func (s *Store) MergeMetrics(ctx context.Context, id tracking.RunID, metrics map[string]float64) error {
	return s.updateRun(ctx, id, func(run *tracking.Run) error {
		run.Metrics = merged(run.Metrics, metrics)
		return nil
	})
}

func (s *Store) updateRun(ctx context.Context, id tracking.RunID, apply func(*tracking.Run) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	run, err := scanRun(tx.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, string(id)))
	if err != nil {
		return err
	}
	if err := apply(&run); err != nil {
		return err
	}
	metrics, err := marshalMap(run.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, metrics_json = ?, ended_at = ? WHERE run_id = ?`,
		string(run.Status), metrics, formatTime(run.EndedAt), string(id),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return tx.Commit()
}

func merged(base, extra map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}
// #endregion finish-run

// #region get-run
// GetRun returns one run by id.
func (s *Store) GetRun(ctx context.Context, id tracking.RunID) (tracking.Run, error) {
	return scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, string(id)))
}

// LatestRun returns the most recently started FINISHED run of experiment.
func (s *Store) LatestRun(ctx context.Context, experiment string) (tracking.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE experiment = ? AND status = ?
		 ORDER BY seq DESC LIMIT 1`, experiment, string(tracking.StatusFinished)))
	if fault.Is(err, fault.NotFound) {
		return tracking.Run{}, fault.NotFoundf("no finished run in experiment %q", experiment)
	}
	return run, err
}
// #endregion get-run

// #region list-runs
// ListRuns returns the most recent runs, newest first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]tracking.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []tracking.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
// #endregion list-runs

// #region scan
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (tracking.Run, error) {
	var run tracking.Run
	var id, status, started string
	var name, params, metrics, tags, ended sql.NullString
	err := row.Scan(&id, &run.Experiment, &name, &status, &params, &metrics, &tags, &started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return tracking.Run{}, fault.NotFoundf("run not found")
	}
	if err != nil {
		return tracking.Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.ID = tracking.RunID(id)
	run.Name = name.String
	run.Status = tracking.Status(status)
	run.StartedAt = parseTime(started)
	if ended.Valid {
		run.EndedAt = parseTime(ended.String)
	}
	if err := unmarshalMap(params, &run.Params); err != nil {
		return tracking.Run{}, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := unmarshalMap(metrics, &run.Metrics); err != nil {
		return tracking.Run{}, fmt.Errorf("unmarshal metrics: %w", err)
	}
	if err := unmarshalMap(tags, &run.Tags); err != nil {
		return tracking.Run{}, fmt.Errorf("unmarshal tags: %w", err)
	}
	return run, nil
}

func marshalMap[V any](m map[string]V) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalMap[V any](s sql.NullString, m *map[string]V) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), m)
}
// #endregion scan
