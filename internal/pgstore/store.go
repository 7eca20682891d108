// Package pgstore is the PostgreSQL implementation of the artifact store and run tracker,
// for deployments where the pipeline and the inference service run on different hosts.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/danielpatrickdp/brakeguard/internal/artifact"
	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

// Compile-time interface checks.
var (
	_ artifact.Store   = (*Store)(nil)
	_ tracking.Tracker = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	seq        BIGSERIAL PRIMARY KEY,
	key        TEXT NOT NULL,
	version    BIGINT NOT NULL,
	data       BYTEA NOT NULL,
	digest     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (key, version)
);

CREATE TABLE IF NOT EXISTS runs (
	seq        BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL UNIQUE,
	experiment TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	params     JSONB NOT NULL DEFAULT '{}',
	metrics    JSONB NOT NULL DEFAULT '{}',
	tags       JSONB NOT NULL DEFAULT '{}',
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS runs_experiment ON runs (experiment, status);

CREATE TABLE IF NOT EXISTS stage_log (
	id               BIGSERIAL PRIMARY KEY,
	run_id           TEXT REFERENCES runs(run_id),
	stage            TEXT NOT NULL,
	artifact_key     TEXT NOT NULL,
	artifact_version BIGINT NOT NULL,
	detail           TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL
);
`

// Store implements artifact.Store and tracking.Tracker on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, verifies the connection and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// #region artifacts
// Put appends a new version of key. A transaction-scoped advisory lock on the key
// serializes concurrent writers of the same key.
func (s *Store) Put(ctx context.Context, key string, data []byte) (artifact.Artifact, error) {
	if err := artifact.ValidKey(key); err != nil {
		return artifact.Artifact{}, err
	}
	if data == nil {
		data = []byte{}
	}
	a := artifact.Artifact{Key: key, Data: data, Digest: artifact.Digest(data), CreatedAt: time.Now().UTC()}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return artifact.Artifact{}, fmt.Errorf("lock %s: %w", key, err)
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO artifacts (key, version, data, digest, created_at)
		SELECT $1::text, COALESCE(MAX(version), 0) + 1, $2::bytea, $3::text, $4::timestamptz
		FROM artifacts WHERE key = $1::text
		RETURNING version
	`, key, data, a.Digest, a.CreatedAt).Scan(&a.Version)
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("put %s: %w", key, err)
	}
	return a, tx.Commit(ctx)
}

func (s *Store) Get(ctx context.Context, key string) (artifact.Artifact, error) {
	return scanArtifact(s.pool.QueryRow(ctx, `
		SELECT key, version, data, digest, created_at FROM artifacts
		WHERE key = $1 ORDER BY version DESC LIMIT 1
	`, key), key)
}

func (s *Store) GetVersion(ctx context.Context, key string, version int64) (artifact.Artifact, error) {
	return scanArtifact(s.pool.QueryRow(ctx, `
		SELECT key, version, data, digest, created_at FROM artifacts
		WHERE key = $1 AND version = $2
	`, key, version), fmt.Sprintf("%s@%d", key, version))
}

func scanArtifact(row pgx.Row, what string) (artifact.Artifact, error) {
	var a artifact.Artifact
	err := row.Scan(&a.Key, &a.Version, &a.Data, &a.Digest, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return artifact.Artifact{}, fault.NotFoundf("artifact %s not found", what)
	}
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("get %s: %w", what, err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func (s *Store) Latest(ctx context.Context, prefix string) ([]artifact.Artifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (key) key, version, digest, created_at
		FROM artifacts
		WHERE starts_with(key, $1)
		ORDER BY key, version DESC
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []artifact.Artifact
	for rows.Next() {
		var a artifact.Artifact
		if err := rows.Scan(&a.Key, &a.Version, &a.Digest, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// #endregion artifacts

// #region runs
const runColumns = `run_id, experiment, name, status, params, metrics, tags, started_at, ended_at`

func (s *Store) CreateRun(ctx context.Context, run tracking.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	var ended *time.Time
	if !run.EndedAt.IsZero() {
		ended = &run.EndedAt
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO NOTHING
	`, string(run.ID), run.Experiment, run.Name, string(run.Status),
		nonNil(run.Params), nonNil(run.Metrics), nonNil(run.Tags), run.StartedAt, ended)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create run %s: %w", run.ID, tracking.ErrRunExists)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, id tracking.RunID, status tracking.Status, metrics map[string]float64) error {
	return s.updateRun(ctx, id, func(run *tracking.Run) error {
		if run.Status != tracking.StatusRunning {
			return fmt.Errorf("finish run %s (%s): %w", id, run.Status, tracking.ErrNotRunning)
		}
		run.Status = status
		run.EndedAt = time.Now().UTC()
		maps.Copy(run.Metrics, metrics)
		return nil
	})
}

func (s *Store) MergeMetrics(ctx context.Context, id tracking.RunID, metrics map[string]float64) error {
	return s.updateRun(ctx, id, func(run *tracking.Run) error {
		maps.Copy(run.Metrics, metrics)
		return nil
	})
}

func (s *Store) updateRun(ctx context.Context, id tracking.RunID, apply func(*tracking.Run) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	run, err := scanRun(tx.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = $1 FOR UPDATE`, string(id)))
	if err != nil {
		return err
	}
	if run.Metrics == nil {
		run.Metrics = map[string]float64{}
	}
	if err := apply(&run); err != nil {
		return err
	}
	var ended *time.Time
	if !run.EndedAt.IsZero() {
		ended = &run.EndedAt
	}
	_, err = tx.Exec(ctx, `
		UPDATE runs SET status = $1, metrics = $2, ended_at = $3 WHERE run_id = $4
	`, string(run.Status), run.Metrics, ended, string(id))
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) GetRun(ctx context.Context, id tracking.RunID) (tracking.Run, error) {
	return scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = $1`, string(id)))
}

func (s *Store) LatestRun(ctx context.Context, experiment string) (tracking.Run, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `
		SELECT `+runColumns+` FROM runs WHERE experiment = $1 AND status = $2
		ORDER BY seq DESC LIMIT 1
	`, experiment, string(tracking.StatusFinished)))
	if fault.Is(err, fault.NotFound) {
		return tracking.Run{}, fault.NotFoundf("no finished run in experiment %q", experiment)
	}
	return run, err
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]tracking.Run, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY seq DESC LIMIT $1`, lim)
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

func scanRun(row pgx.Row) (tracking.Run, error) {
	var run tracking.Run
	var id, status string
	var ended *time.Time
	err := row.Scan(&id, &run.Experiment, &run.Name, &status, &run.Params, &run.Metrics, &run.Tags, &run.StartedAt, &ended)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracking.Run{}, fault.NotFoundf("run not found")
	}
	if err != nil {
		return tracking.Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.ID = tracking.RunID(id)
	run.Status = tracking.Status(status)
	run.StartedAt = run.StartedAt.UTC()
	if ended != nil {
		run.EndedAt = ended.UTC()
	}
	return run, nil
}

func nonNil[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}

// #endregion runs

// #region stage-log
func (s *Store) LogStage(ctx context.Context, entry tracking.StageEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stage_log (run_id, stage, artifact_key, artifact_version, detail, created_at)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6)
	`, string(entry.RunID), entry.Stage, entry.ArtifactKey, entry.ArtifactVersion, entry.Detail, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("log stage: %w", err)
	}
	return nil
}

func (s *Store) StageLog(ctx context.Context, id tracking.RunID) ([]tracking.StageEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, stage, artifact_key, artifact_version, detail, created_at
		FROM stage_log WHERE run_id = $1 ORDER BY id
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query stage log: %w", err)
	}
	defer rows.Close()

	var out []tracking.StageEntry
	for rows.Next() {
		var e tracking.StageEntry
		var runID string
		if err := rows.Scan(&runID, &e.Stage, &e.ArtifactKey, &e.ArtifactVersion, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stage entry: %w", err)
		}
		e.RunID = tracking.RunID(runID)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion stage-log
