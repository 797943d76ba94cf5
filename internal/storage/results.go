package storage

import (
	"database/sql"
	"time"

	"github.com/openclaw/antfarm/internal/fault"
	"github.com/openclaw/antfarm/internal/models"
)

func (t *Tx) AppendResult(r *models.StepResult) (int64, error) {
	if r.CompletedAt.IsZero() {
		r.CompletedAt = time.Now().UTC()
	}
	res, err := t.q.Exec(
		`INSERT INTO step_results (run_id, step_def_id, agent_id, output, status, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.StepDefID, r.AgentID, r.Output, r.Status, r.CompletedAt,
	)
	if err != nil {
		return 0, fault.Wrap(fault.StoreError, err, "append result for %s", r.StepDefID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fault.Wrap(fault.StoreError, err, "append result for %s", r.StepDefID)
	}
	r.ID = id
	return id, nil
}

const resultColumns = `id, run_id, step_def_id, agent_id, output, status, completed_at`

func scanResult(row rowScanner) (*models.StepResult, error) {
	var r models.StepResult
	err := row.Scan(&r.ID, &r.RunID, &r.StepDefID, &r.AgentID, &r.Output, &r.Status, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *Tx) RunResults(runID int64) ([]*models.StepResult, error) {
	rows, err := t.q.Query(`SELECT `+resultColumns+` FROM step_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fault.Wrap(fault.StoreError, err, "list results for run %d", runID)
	}
	defer rows.Close()

	var results []*models.StepResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fault.Wrap(fault.StoreError, err, "scan result")
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// LastResult returns the most recent result appended for one step
// definition within a run, or nil when there is none.
func (t *Tx) LastResult(runID int64, stepDefID string) (*models.StepResult, error) {
	r, err := scanResult(t.q.QueryRow(
		`SELECT `+resultColumns+` FROM step_results WHERE run_id = ? AND step_def_id = ? ORDER BY id DESC LIMIT 1`,
		runID, stepDefID,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fault.Wrap(fault.StoreError, err, "last result for %s", stepDefID)
	}
	return r, nil
}
