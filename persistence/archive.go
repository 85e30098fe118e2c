// Package persistence keeps an inspectable archive of executed case records
// in SQLite, so past suites can be queried without re-parsing the JSONL
// output directory.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexcodex/edgeprompt/runner"
)

// Archive persists case records and their per-run outcomes.
type Archive struct {
	db *sql.DB
}

// RunRow is the flattened per-run view stored alongside the raw record.
type RunRow struct {
	RecordID          string
	RunKey            string
	Method            string
	Subject           string
	ModelID           string
	Status            string
	FinalScore        float64
	PassedConstraints bool
	LatencyMS         int64
	TotalTokens       int
	Error             string
}

// SlotTally counts run outcomes per matrix slot.
type SlotTally struct {
	Completed int
	Failed    int
}

// NewArchive opens/creates the database at dbPath.
func NewArchive(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, err
	}
	archive := &Archive{db: db}
	if err := archive.initSchema(); err != nil {
		return nil, err
	}
	return archive, nil
}

func (a *Archive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS case_records (
		id TEXT PRIMARY KEY,
		suite_id TEXT NOT NULL,
		case_id TEXT NOT NULL,
		cloud_model_id TEXT,
		edge_model_id TEXT,
		created_at TIMESTAMP,
		raw TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS runs (
		record_id TEXT NOT NULL,
		run_key TEXT NOT NULL,
		method TEXT,
		subject TEXT,
		model_id TEXT,
		status TEXT,
		final_score REAL,
		passed_constraints BOOLEAN,
		latency_ms INTEGER,
		total_tokens INTEGER,
		error TEXT,
		PRIMARY KEY(record_id, run_key),
		FOREIGN KEY(record_id) REFERENCES case_records(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_case_records_suite ON case_records(suite_id);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// SaveRecord upserts a case record and its four run rows in one transaction.
func (a *Archive) SaveRecord(record *runner.CaseRecord) error {
	if record == nil {
		return errors.New("record required")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}

	tx, err := a.db.Begin()
	if err != nil {
		return err
	}
	query := `
	INSERT INTO case_records (id, suite_id, case_id, cloud_model_id, edge_model_id, created_at, raw)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		suite_id=excluded.suite_id,
		case_id=excluded.case_id,
		cloud_model_id=excluded.cloud_model_id,
		edge_model_id=excluded.edge_model_id,
		created_at=excluded.created_at,
		raw=excluded.raw
	`
	if _, err := tx.Exec(query,
		record.ID,
		record.SuiteID,
		record.CaseID,
		record.CloudModelID,
		record.EdgeModelID,
		record.Timestamp.UTC(),
		string(raw),
	); err != nil {
		tx.Rollback()
		return err
	}
	if err := insertRuns(tx, record); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertRuns(tx *sql.Tx, record *runner.CaseRecord) error {
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO runs (
		record_id, run_key, method, subject, model_id, status,
		final_score, passed_constraints, latency_ms, total_tokens, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, key := range runner.RunKeys {
		run, ok := record.Runs[key]
		if !ok {
			continue
		}
		var score float64
		var passedConstraints bool
		if run.FinalDecision != nil {
			score = run.FinalDecision.FinalScore
			passedConstraints = run.FinalDecision.PassedConstraints
		}
		if _, err := stmt.Exec(
			record.ID,
			key,
			string(run.Method),
			run.Subject,
			run.ModelID,
			string(run.Status),
			score,
			passedConstraints,
			run.TotalMetrics.LatencyMS,
			run.TotalMetrics.TotalTokens,
			run.Error,
		); err != nil {
			return err
		}
	}
	return nil
}

// GetRecord decodes the archived raw JSON for one record id.
func (a *Archive) GetRecord(id string) (*runner.CaseRecord, error) {
	var raw string
	err := a.db.QueryRow(`SELECT raw FROM case_records WHERE id = ?`, id).Scan(&raw)
	if err != nil {
		return nil, err
	}
	var record runner.CaseRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListSuites returns the distinct suite ids in the archive, newest first.
func (a *Archive) ListSuites() ([]string, error) {
	rows, err := a.db.Query(`SELECT suite_id FROM case_records GROUP BY suite_id ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var suites []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		suites = append(suites, id)
	}
	return suites, rows.Err()
}

// ListRuns returns the flattened run rows for a suite.
func (a *Archive) ListRuns(suiteID string) ([]RunRow, error) {
	rows, err := a.db.Query(`
		SELECT r.record_id, r.run_key, r.method, r.subject, r.model_id, r.status,
			r.final_score, r.passed_constraints, r.latency_ms, r.total_tokens, r.error
		FROM runs r
		INNER JOIN case_records c ON c.id = r.record_id
		WHERE c.suite_id = ?
		ORDER BY c.created_at, r.run_key`, suiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []RunRow
	for rows.Next() {
		var row RunRow
		if err := rows.Scan(
			&row.RecordID,
			&row.RunKey,
			&row.Method,
			&row.Subject,
			&row.ModelID,
			&row.Status,
			&row.FinalScore,
			&row.PassedConstraints,
			&row.LatencyMS,
			&row.TotalTokens,
			&row.Error,
		); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// SlotTallies aggregates completed/failed counts per matrix slot for a suite.
func (a *Archive) SlotTallies(suiteID string) (map[string]SlotTally, error) {
	rows, err := a.db.Query(`
		SELECT r.run_key, r.status, COUNT(*)
		FROM runs r
		INNER JOIN case_records c ON c.id = r.record_id
		WHERE c.suite_id = ?
		GROUP BY r.run_key, r.status`, suiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tallies := make(map[string]SlotTally, len(runner.RunKeys))
	for _, key := range runner.RunKeys {
		tallies[key] = SlotTally{}
	}
	for rows.Next() {
		var key, status string
		var count int
		if err := rows.Scan(&key, &status, &count); err != nil {
			return nil, err
		}
		tally := tallies[key]
		switch runner.Status(status) {
		case runner.StatusCompleted:
			tally.Completed += count
		case runner.StatusFailed:
			tally.Failed += count
		}
		tallies[key] = tally
	}
	return tallies, rows.Err()
}

// AverageScores reports the mean final score per matrix slot, counting only
// completed runs.
func (a *Archive) AverageScores(suiteID string) (map[string]float64, error) {
	rows, err := a.db.Query(`
		SELECT r.run_key, AVG(r.final_score)
		FROM runs r
		INNER JOIN case_records c ON c.id = r.record_id
		WHERE c.suite_id = ? AND r.status = ?
		GROUP BY r.run_key`, suiteID, string(runner.StatusCompleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := map[string]float64{}
	for rows.Next() {
		var key string
		var avg sql.NullFloat64
		if err := rows.Scan(&key, &avg); err != nil {
			return nil, err
		}
		if avg.Valid {
			scores[key] = avg.Float64
		}
	}
	return scores, rows.Err()
}

// PurgeBefore deletes records older than the cutoff and returns how many were
// removed. Run rows cascade.
func (a *Archive) PurgeBefore(cutoff time.Time) (int64, error) {
	result, err := a.db.Exec(`DELETE FROM case_records WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
