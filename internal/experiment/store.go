package experiment

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	config_json  TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS epoch_metrics (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	epoch        INTEGER NOT NULL,
	phase        TEXT NOT NULL,
	train_loss   REAL NOT NULL,
	val_loss     REAL NOT NULL,
	report_json  TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	epoch        INTEGER NOT NULL,
	remote_path  TEXT NOT NULL,
	train_loss   REAL NOT NULL,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_epoch_metrics_run
ON epoch_metrics(run_id, phase, epoch);
`
// #endregion schema

// #region store-struct
// Store persists runs, per-epoch metrics, and checkpoint pointers in
// SQLite.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion db-accessor

// #region create-run
// CreateRun registers a new run with its launch configuration and returns
// the record with a fresh run id.
func (s *Store) CreateRun(configJSON string) (RunRecord, error) {
	rec := RunRecord{
		RunID:      uuid.New().String(),
		ConfigJSON: configJSON,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, config_json, created_at) VALUES (?, ?, ?)`,
		rec.RunID, rec.ConfigJSON, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}
// #endregion create-run

// #region log-epoch
// LogEpoch appends one per-epoch result row.
func (s *Store) LogEpoch(rec EpochRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO epoch_metrics (run_id, epoch, phase, train_loss, val_loss, report_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Epoch, rec.Phase, rec.TrainLoss, rec.ValLoss, rec.ReportJSON,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log epoch: %w", err)
	}
	return nil
}
// #endregion log-epoch

// #region record-checkpoint
// RecordCheckpoint stores a pointer to a service-side checkpoint.
func (s *Store) RecordCheckpoint(rec CheckpointRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO checkpoints (run_id, epoch, remote_path, train_loss, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.RunID, rec.Epoch, rec.RemotePath, rec.TrainLoss,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record checkpoint: %w", err)
	}
	return nil
}
// #endregion record-checkpoint

// #region list-runs
// ListRuns returns the most recent runs.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, config_json, created_at FROM runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var createdStr string
		if err := rows.Scan(&rec.RunID, &rec.ConfigJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}
// #endregion list-runs

// #region list-epochs
// ListEpochs returns a run's epoch rows for one phase in epoch order.
func (s *Store) ListEpochs(runID, phase string) ([]EpochRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, epoch, phase, train_loss, val_loss, report_json, created_at
		 FROM epoch_metrics WHERE run_id = ? AND phase = ? ORDER BY epoch ASC`,
		runID, phase,
	)
	if err != nil {
		return nil, fmt.Errorf("list epochs: %w", err)
	}
	defer rows.Close()

	var records []EpochRecord
	for rows.Next() {
		var rec EpochRecord
		var createdStr string
		if err := rows.Scan(&rec.RunID, &rec.Epoch, &rec.Phase, &rec.TrainLoss, &rec.ValLoss, &rec.ReportJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}
// #endregion list-epochs

// #region latest-checkpoint
// LatestCheckpoint returns the most recent checkpoint pointer for a run.
func (s *Store) LatestCheckpoint(runID string) (CheckpointRecord, error) {
	var rec CheckpointRecord
	var createdStr string
	err := s.db.QueryRow(
		`SELECT run_id, epoch, remote_path, train_loss, created_at
		 FROM checkpoints WHERE run_id = ? ORDER BY epoch DESC LIMIT 1`,
		runID,
	).Scan(&rec.RunID, &rec.Epoch, &rec.RemotePath, &rec.TrainLoss, &createdStr)
	if err != nil {
		return CheckpointRecord{}, fmt.Errorf("latest checkpoint for %s: %w", runID, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}
// #endregion latest-checkpoint
