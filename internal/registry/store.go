package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/artifact"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/logging"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	experiment_id TEXT PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	experiment_id TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (experiment_id) REFERENCES experiments(experiment_id)
);

CREATE TABLE IF NOT EXISTS run_metrics (
	run_id TEXT NOT NULL,
	key    TEXT NOT NULL,
	value  REAL NOT NULL,
	PRIMARY KEY (run_id, key),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS registered_models (
	name         TEXT PRIMARY KEY,
	created_at   TEXT NOT NULL,
	last_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS model_versions (
	name            TEXT NOT NULL,
	version         INTEGER NOT NULL,
	stage           TEXT NOT NULL DEFAULT 'None',
	run_id          TEXT,
	artifact_bucket TEXT NOT NULL,
	artifact_key    TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	PRIMARY KEY (name, version),
	FOREIGN KEY (name) REFERENCES registered_models(name)
);
`

// Fixed-width so that text ordering in SQL matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #endregion schema

// #region store-struct
// Store is a tracking registry backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ Registry = (*Store)(nil)

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations. ":memory:" is
// supported and pinned to a single connection.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
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
	if _, err := db.Exec(logging.PromotionLogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate promotion log: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region experiments
// CreateExperiment returns the id of the named experiment, creating it if needed.
func (s *Store) CreateExperiment(ctx context.Context, name string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id, err := s.experimentID(ctx, tx, name, true)
	if err != nil {
		return "", err
	}
	return id, tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) experimentID(ctx context.Context, q queryer, name string, create bool) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT experiment_id FROM experiments WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("get experiment %s: %w", name, err)
	}
	if !create {
		return "", fmt.Errorf("experiment %s: %w", name, ErrNotFound)
	}

	id = uuid.New().String()
	_, err = q.ExecContext(ctx,
		`INSERT INTO experiments (experiment_id, name, created_at) VALUES (?, ?, ?)`,
		id, name, s.now().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("insert experiment: %w", err)
	}
	return id, nil
}

// #endregion experiments

// #region log-run
// LogRun records a completed run and its metrics under the named experiment.
func (s *Store) LogRun(ctx context.Context, experiment string, metrics map[string]float64) (RunRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RunRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	expID, err := s.experimentID(ctx, tx, experiment, true)
	if err != nil {
		return RunRecord{}, err
	}

	rec := RunRecord{
		RunID:      uuid.New().String(),
		Experiment: experiment,
		Metrics:    make(map[string]float64, len(metrics)),
		CreatedAt:  s.now(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, experiment_id, created_at) VALUES (?, ?, ?)`,
		rec.RunID, expID, rec.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}

	for k, v := range metrics {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_metrics (run_id, key, value) VALUES (?, ?, ?)`,
			rec.RunID, k, v,
		)
		if err != nil {
			return RunRecord{}, fmt.Errorf("insert metric %s: %w", k, err)
		}
		rec.Metrics[k] = v
	}

	if err := tx.Commit(); err != nil {
		return RunRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// #endregion log-run

// #region list-runs
// ListRuns returns every run of the experiment in logging order.
func (s *Store) ListRuns(ctx context.Context, experiment string) ([]RunRecord, error) {
	expID, err := s.experimentID(ctx, s.db, experiment, false)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.run_id, r.created_at, m.key, m.value
		 FROM runs r LEFT JOIN run_metrics m ON m.run_id = r.run_id
		 WHERE r.experiment_id = ?
		 ORDER BY r.created_at, r.run_id`, expID,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	index := make(map[string]int)
	for rows.Next() {
		var runID, createdStr string
		var key sql.NullString
		var value sql.NullFloat64
		if err := rows.Scan(&runID, &createdStr, &key, &value); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		i, ok := index[runID]
		if !ok {
			created, _ := time.Parse(timeLayout, createdStr)
			runs = append(runs, RunRecord{
				RunID:      runID,
				Experiment: experiment,
				Metrics:    map[string]float64{},
				CreatedAt:  created,
			})
			i = len(runs) - 1
			index[runID] = i
		}
		if key.Valid && value.Valid {
			runs[i].Metrics[key.String] = value.Float64
		}
	}
	return runs, rows.Err()
}

// #endregion list-runs

// #region register-version
// RegisterVersion adds the next version of a family in stage None.
func (s *Store) RegisterVersion(ctx context.Context, family, runID string, loc artifact.Location) (ModelVersion, error) {
	if family == "" {
		return ModelVersion{}, errors.New("register version: empty family name")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ModelVersion{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	stamp := now.Format(timeLayout)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO registered_models (name, created_at, last_updated) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET last_updated = excluded.last_updated`,
		family, stamp, stamp,
	)
	if err != nil {
		return ModelVersion{}, fmt.Errorf("upsert registered model: %w", err)
	}

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM model_versions WHERE name = ?`, family,
	).Scan(&next)
	if err != nil {
		return ModelVersion{}, fmt.Errorf("next version: %w", err)
	}

	mv := ModelVersion{
		Family:    family,
		Version:   next,
		Stage:     StageNone,
		RunID:     runID,
		Location:  loc,
		CreatedAt: now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO model_versions (name, version, stage, run_id, artifact_bucket, artifact_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		mv.Family, mv.Version, string(mv.Stage), nullIfEmpty(runID), loc.Bucket, loc.Key, stamp,
	)
	if err != nil {
		return ModelVersion{}, fmt.Errorf("insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ModelVersion{}, fmt.Errorf("commit: %w", err)
	}
	return mv, nil
}

// #endregion register-version

// #region list-families
// ListFamilies returns every registered family name in name order.
func (s *Store) ListFamilies(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM registered_models ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list families: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan family: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// #endregion list-families

// #region latest-versions
// ListLatestVersions returns the newest version of every family, most
// recently registered family first.
func (s *Store) ListLatestVersions(ctx context.Context) ([]ModelVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mv.name, mv.version, mv.stage, mv.run_id, mv.artifact_bucket, mv.artifact_key, mv.created_at
		 FROM model_versions mv
		 JOIN registered_models rm ON rm.name = mv.name
		 WHERE mv.version = (SELECT MAX(version) FROM model_versions WHERE name = mv.name)
		 ORDER BY rm.last_updated DESC, rm.name DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list latest versions: %w", err)
	}
	defer rows.Close()

	var out []ModelVersion
	for rows.Next() {
		mv, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

// GetVersion retrieves one version of a family.
func (s *Store) GetVersion(ctx context.Context, family string, version int) (ModelVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, version, stage, run_id, artifact_bucket, artifact_key, created_at
		 FROM model_versions WHERE name = ? AND version = ?`, family, version,
	)
	mv, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelVersion{}, fmt.Errorf("version %s/%d: %w", family, version, ErrNotFound)
	}
	return mv, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(sc scanner) (ModelVersion, error) {
	var mv ModelVersion
	var stage, createdStr string
	var runID sql.NullString
	if err := sc.Scan(&mv.Family, &mv.Version, &stage, &runID, &mv.Location.Bucket, &mv.Location.Key, &createdStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ModelVersion{}, err
		}
		return ModelVersion{}, fmt.Errorf("scan version: %w", err)
	}
	mv.Stage = Stage(stage)
	if runID.Valid {
		mv.RunID = runID.String
	}
	mv.CreatedAt, _ = time.Parse(timeLayout, createdStr)
	return mv, nil
}

// #endregion latest-versions

// #region set-stage
// SetStage updates a version's stage and artifact location and records the
// decision in promotion_log, all in one transaction.
func (s *Store) SetStage(ctx context.Context, change StageChange) (ModelVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ModelVersion{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT name, version, stage, run_id, artifact_bucket, artifact_key, created_at
		 FROM model_versions WHERE name = ? AND version = ?`, change.Family, change.Version,
	)
	mv, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelVersion{}, fmt.Errorf("version %s/%d: %w", change.Family, change.Version, ErrNotFound)
	}
	if err != nil {
		return ModelVersion{}, err
	}

	if change.From != "" && mv.Stage != change.From {
		return ModelVersion{}, fmt.Errorf("%s/%d is %s, expected %s: %w",
			mv.Family, mv.Version, mv.Stage, change.From, ErrStageConflict)
	}
	if !mv.Stage.CanTransitionTo(change.To) {
		return ModelVersion{}, fmt.Errorf("%s/%d %s -> %s: %w",
			mv.Family, mv.Version, mv.Stage, change.To, ErrInvalidTransition)
	}

	from := mv.Stage
	if !change.Location.IsZero() {
		mv.Location = change.Location
	}
	mv.Stage = change.To

	_, err = tx.ExecContext(ctx,
		`UPDATE model_versions SET stage = ?, artifact_bucket = ?, artifact_key = ?
		 WHERE name = ? AND version = ?`,
		string(mv.Stage), mv.Location.Bucket, mv.Location.Key, mv.Family, mv.Version,
	)
	if err != nil {
		return ModelVersion{}, fmt.Errorf("update stage: %w", err)
	}

	err = logging.LogDecision(ctx, tx, logging.DecisionEntry{
		Family:         mv.Family,
		Version:        mv.Version,
		FromStage:      string(from),
		ToStage:        string(mv.Stage),
		ArtifactBucket: mv.Location.Bucket,
		ArtifactKey:    mv.Location.Key,
		Reason:         change.Reason,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return ModelVersion{}, err
	}

	if err := tx.Commit(); err != nil {
		return ModelVersion{}, fmt.Errorf("commit: %w", err)
	}
	return mv, nil
}

// #endregion set-stage

// #region promotion-log
// ListDecisions returns the most recent promotion_log rows, newest first.
func (s *Store) ListDecisions(ctx context.Context, limit int) ([]logging.DecisionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT family, version, from_stage, to_stage, artifact_bucket, artifact_key, reason, created_at
		 FROM promotion_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []logging.DecisionEntry
	for rows.Next() {
		var e logging.DecisionEntry
		var bucket, key, reason sql.NullString
		var createdStr string
		if err := rows.Scan(&e.Family, &e.Version, &e.FromStage, &e.ToStage, &bucket, &key, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.ArtifactBucket = bucket.String
		e.ArtifactKey = key.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion promotion-log

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
