// Package state is the SQLite implementation of the artifact store and run tracker.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/brakeguard/internal/artifact"
	"github.com/danielpatrickdp/brakeguard/internal/fault"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	key           TEXT NOT NULL,
	version       INTEGER NOT NULL,
	data          BLOB NOT NULL,
	digest        TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	UNIQUE (key, version)
);

CREATE TABLE IF NOT EXISTS runs (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL UNIQUE,
	experiment    TEXT NOT NULL,
	name          TEXT,
	status        TEXT NOT NULL,
	params_json   TEXT,
	metrics_json  TEXT,
	tags_json     TEXT,
	started_at    TEXT NOT NULL,
	ended_at      TEXT
);

CREATE INDEX IF NOT EXISTS runs_experiment ON runs (experiment, status);

CREATE TABLE IF NOT EXISTS stage_log (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT,
	stage            TEXT NOT NULL,
	artifact_key     TEXT NOT NULL,
	artifact_version INTEGER NOT NULL,
	detail           TEXT,
	created_at       TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`
// #endregion schema

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// #region store-struct
// Store keeps artifacts, runs and the stage log in one SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps the per-connection pragmas below in force and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
// #endregion close

// #region put
// Put appends a new version of key. Earlier versions are never modified.
func (s *Store) Put(ctx context.Context, key string, data []byte) (artifact.Artifact, error) {
	if err := artifact.ValidKey(key); err != nil {
		return artifact.Artifact{}, err
	}
	if data == nil {
		data = []byte{}
	}
	a := artifact.Artifact{
		Key:       key,
		Data:      data,
		Digest:    artifact.Digest(data),
		CreatedAt: s.now(),
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO artifacts (key, version, data, digest, created_at)
		 SELECT ?, COALESCE(MAX(version), 0) + 1, ?, ?, ? FROM artifacts WHERE key = ?
		 RETURNING version`,
		key, data, a.Digest, a.CreatedAt.Format(timeLayout), key,
	).Scan(&a.Version)
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("put %s: %w", key, err)
	}
	return a, nil
}
// #endregion put

// #region get
// Get returns the newest version of key.
func (s *Store) Get(ctx context.Context, key string) (artifact.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, version, data, digest, created_at FROM artifacts
		 WHERE key = ? ORDER BY version DESC LIMIT 1`, key)
	return scanArtifact(row, key)
}

// GetVersion returns one specific version of key.
func (s *Store) GetVersion(ctx context.Context, key string, version int64) (artifact.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, version, data, digest, created_at FROM artifacts
		 WHERE key = ? AND version = ?`, key, version)
	return scanArtifact(row, fmt.Sprintf("%s@%d", key, version))
}

func scanArtifact(row *sql.Row, what string) (artifact.Artifact, error) {
	var a artifact.Artifact
	var created string
	err := row.Scan(&a.Key, &a.Version, &a.Data, &a.Digest, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return artifact.Artifact{}, fault.NotFoundf("artifact %s not found", what)
	}
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("get %s: %w", what, err)
	}
	a.CreatedAt = parseTime(created)
	return a, nil
}
// #endregion get

// #region latest
// Latest lists the newest version of every key under prefix. Data is not loaded.
func (s *Store) Latest(ctx context.Context, prefix string) ([]artifact.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.key, a.version, a.digest, a.created_at
		 FROM artifacts a
		 JOIN (SELECT key, MAX(version) AS v FROM artifacts
		       WHERE substr(key, 1, ?) = ? GROUP BY key) m
		   ON a.key = m.key AND a.version = m.v
		 ORDER BY a.key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []artifact.Artifact
	for rows.Next() {
		var a artifact.Artifact
		var created string
		if err := rows.Scan(&a.Key, &a.Version, &a.Digest, &created); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}
// #endregion latest

// #region helpers
func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
