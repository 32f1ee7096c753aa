package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Run modes.
const (
	ModeSelf       = "self"
	ModeTransplant = "transplant"
	ModeSkipped    = "skipped"
	ModeBootstrap  = "bootstrap"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Batch is one invocation of a batch command.
type Batch struct {
	ID         string
	Command    string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Corrected  int
	Skipped    int
	Failed     int
}

func (s *Store) StartBatch(command string) (*Batch, error) {
	now := time.Now().UTC()
	b := &Batch{
		ID:        fmt.Sprintf("%s-%s", command, now.Format("20060102T150405.000000000")),
		Command:   command,
		StartedAt: now,
	}
	_, err := s.db.Exec(`INSERT INTO batches (id, command, started_at) VALUES (?, ?, ?)`,
		b.ID, b.Command, b.StartedAt)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) CompleteBatch(b *Batch) error {
	if b == nil {
		return nil
	}
	b.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	_, err := s.db.Exec(`
		UPDATE batches SET finished_at = ?, corrected = ?, skipped = ?, failed = ?
		WHERE id = ?
	`, b.FinishedAt, b.Corrected, b.Skipped, b.Failed, b.ID)
	return err
}

func (s *Store) ListBatches(limit int) ([]Batch, error) {
	rows, err := s.db.Query(`
		SELECT id, command, started_at, finished_at, corrected, skipped, failed
		FROM batches
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.Command, &b.StartedAt, &b.FinishedAt, &b.Corrected, &b.Skipped, &b.Failed); err != nil {
			return nil, err
		}
		results = append(results, b)
	}
	return results, rows.Err()
}

// CorrectionRun is the audit record of one reach within a batch.
type CorrectionRun struct {
	ID              int64
	BatchID         string
	StartedAt       time.Time
	FinishedAt      sql.NullTime
	ReachID         string
	AssignedReachID sql.NullString
	GaugeID         sql.NullString
	Mode            string
	Status          string
	RowsWritten     sql.NullInt64
	OutputPath      sql.NullString
	ErrorMessage    sql.NullString
}

func (s *Store) StartRun(batchID, reachID, mode string, assignedReachID, gaugeID sql.NullString) (*CorrectionRun, error) {
	run := &CorrectionRun{
		BatchID:         batchID,
		StartedAt:       time.Now().UTC(),
		ReachID:         reachID,
		AssignedReachID: assignedReachID,
		GaugeID:         gaugeID,
		Mode:            mode,
		Status:          StatusRunning,
	}

	result, err := s.db.Exec(`
		INSERT INTO correction_runs (batch_id, started_at, reach_id, assigned_reach_id, gauge_id, mode, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.BatchID, run.StartedAt, run.ReachID, run.AssignedReachID, run.GaugeID, run.Mode, run.Status)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) CompleteRun(run *CorrectionRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE correction_runs SET
			finished_at = ?,
			mode = ?,
			status = ?,
			rows_written = ?,
			output_path = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.Mode, run.Status, run.RowsWritten, run.OutputPath, run.ErrorMessage, run.ID)
	return err
}

// RunSummary counts the runs of a batch by mode and status.
type RunSummary struct {
	Mode        string
	Status      string
	Runs        int
	RowsWritten int64
}

func (s *Store) GetRunSummary(batchID string) ([]RunSummary, error) {
	rows, err := s.db.Query(`
		SELECT mode, status, COUNT(*), COALESCE(SUM(rows_written), 0)
		FROM correction_runs
		WHERE batch_id = ?
		GROUP BY mode, status
		ORDER BY mode, status
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.Mode, &r.Status, &r.Runs, &r.RowsWritten); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetBatchFailures returns the failed runs of one batch, most recent first.
// An empty batchID searches every batch.
func (s *Store) GetBatchFailures(batchID string, limit int) ([]CorrectionRun, error) {
	rows, err := s.db.Query(`
		SELECT id, batch_id, started_at, finished_at, reach_id, assigned_reach_id, gauge_id,
			   mode, status, rows_written, output_path, error_message
		FROM correction_runs
		WHERE status = ? AND (? = '' OR batch_id = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, StatusFailed, batchID, batchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CorrectionRun
	for rows.Next() {
		var r CorrectionRun
		if err := rows.Scan(&r.ID, &r.BatchID, &r.StartedAt, &r.FinishedAt, &r.ReachID,
			&r.AssignedReachID, &r.GaugeID, &r.Mode, &r.Status, &r.RowsWritten,
			&r.OutputPath, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
