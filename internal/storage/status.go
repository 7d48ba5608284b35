package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docloader/internal/domain"
)

// ── Status Records ─────────────────────────────────────────
// One load_runs row per batch, one collection_status row per target
// collection, one locator_failures row per failure reason.

// Status flags of a collection record.
const (
	FlagSuccess = "Y"
	FlagFailure = "N"
)

const timeLayout = time.RFC3339Nano

// Run is a stored batch summary.
type Run struct {
	ID                 string
	Database           string
	Mode               domain.LoadMode
	Success            bool
	Locators           int
	Succeeded          int
	Failed             int
	Rejected           int
	ReadBackMismatches int
	StartedAt          time.Time
	FinishedAt         time.Time
}

// CollectionRecord is a stored per-collection status.
type CollectionRecord struct {
	ID         string
	RunID      string
	UpdateID   string
	Database   string
	Object     string
	StatusFlag string
	Loaded     int
	Failed     int
	BeginTime  time.Time
	EndTime    time.Time
}

// StatusStore persists load outcomes.
type StatusStore struct {
	db *DB
}

// NewStatusStore creates a new StatusStore.
func NewStatusStore(db *DB) *StatusStore {
	return &StatusStore{db: db}
}

// UpdateID returns the ISO "yyyy_ww" week identifier of t.
func UpdateID(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d_%02d", y, w)
}

// RecordRun stores outcome and its per-collection and per-locator detail
// in one transaction.
func (s *StatusStore) RecordRun(o *domain.LoadOutcome) error {
	if o.RunID == "" {
		o.RunID = uuid.New().String()
	}
	tx, err := s.db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(s.db.rebind(
		`INSERT INTO load_runs (id, database_name, mode, success, locators, succeeded, failed,
		 rejected, read_back_mismatches, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		o.RunID, o.Database, string(o.Mode), boolInt(o.Success), len(o.Locators),
		len(o.Succeeded()), len(o.Failed()), len(o.Rejected()), o.ReadBackMismatches,
		o.StartedAt.UTC().Format(timeLayout), o.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, cs := range o.Collections {
		flag := FlagFailure
		if cs.Success {
			flag = FlagSuccess
		}
		_, err = tx.Exec(s.db.rebind(
			`INSERT INTO collection_status (id, run_id, update_id, database_name, object_name,
			 update_status_flag, loaded, failed, begin_time, end_time)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			uuid.New().String(), o.RunID, UpdateID(cs.StartTime), o.Database, cs.Collection,
			flag, cs.Loaded, cs.Failed,
			cs.StartTime.UTC().Format(timeLayout), cs.EndTime.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert collection status: %w", err)
		}
	}

	for _, lr := range o.Locators {
		for _, r := range lr.Reasons {
			_, err = tx.Exec(s.db.rebind(
				`INSERT INTO locator_failures (id, run_id, locator, stage, collection_name, message)
				 VALUES (?, ?, ?, ?, ?, ?)`),
				uuid.New().String(), o.RunID, lr.Locator, r.Stage, r.Collection, r.Message,
			)
			if err != nil {
				return fmt.Errorf("insert locator failure: %w", err)
			}
		}
	}
	return tx.Commit()
}

const runSelect = `SELECT id, database_name, mode, success, locators, succeeded, failed, rejected,
 read_back_mismatches, started_at, finished_at FROM load_runs`

// ListRuns returns the most recent runs, newest first.
func (s *StatusStore) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.conn.Query(s.db.rebind(runSelect+` ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var r Run
		var mode, started, finished string
		var success int
		if err := rows.Scan(&r.ID, &r.Database, &mode, &success, &r.Locators, &r.Succeeded,
			&r.Failed, &r.Rejected, &r.ReadBackMismatches, &started, &finished); err != nil {
			return nil, err
		}
		r.Mode = domain.LoadMode(mode)
		r.Success = success != 0
		r.StartedAt, _ = time.Parse(timeLayout, started)
		r.FinishedAt, _ = time.Parse(timeLayout, finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListCollectionStatus returns the collection records of a run.
func (s *StatusStore) ListCollectionStatus(runID string) ([]CollectionRecord, error) {
	rows, err := s.db.conn.Query(s.db.rebind(
		`SELECT id, run_id, update_id, database_name, object_name, update_status_flag,
		 loaded, failed, begin_time, end_time
		 FROM collection_status WHERE run_id = ? ORDER BY object_name`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CollectionRecord
	for rows.Next() {
		var c CollectionRecord
		var begin, end string
		if err := rows.Scan(&c.ID, &c.RunID, &c.UpdateID, &c.Database, &c.Object, &c.StatusFlag,
			&c.Loaded, &c.Failed, &begin, &end); err != nil {
			return nil, err
		}
		c.BeginTime, _ = time.Parse(timeLayout, begin)
		c.EndTime, _ = time.Parse(timeLayout, end)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListFailures returns the failure reasons recorded for a run, keyed by
// locator.
func (s *StatusStore) ListFailures(runID string) (map[string][]domain.FailureReason, error) {
	rows, err := s.db.conn.Query(s.db.rebind(
		`SELECT locator, stage, collection_name, message
		 FROM locator_failures WHERE run_id = ? ORDER BY locator`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]domain.FailureReason{}
	for rows.Next() {
		var loc string
		var r domain.FailureReason
		if err := rows.Scan(&loc, &r.Stage, &r.Collection, &r.Message); err != nil {
			return nil, err
		}
		out[loc] = append(out[loc], r)
	}
	return out, rows.Err()
}

// GetRun returns one run.
func (s *StatusStore) GetRun(id string) (*Run, error) {
	rows, err := s.db.conn.Query(s.db.rebind(runSelect+` WHERE id = ?`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("load run not found: %s: %w", id, sql.ErrNoRows)
	}
	return &runs[0], nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
