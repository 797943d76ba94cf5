package storage

import (
	"time"

	"github.com/openclaw/antfarm/internal/fault"
	"github.com/openclaw/antfarm/internal/models"
)

func (t *Tx) CreateRun(run *models.Run) (int64, error) {
	res, err := t.q.Exec(
		`INSERT INTO runs (workflow_id, task, lead_agent, session_label, status, current_step_index)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.WorkflowID, run.Task, run.LeadAgent, run.SessionLabel, run.Status, run.CurrentStepIndex,
	)
	if err != nil {
		return 0, fault.Wrap(fault.StoreError, err, "create run")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fault.Wrap(fault.StoreError, err, "create run")
	}
	return id, nil
}

const runColumns = `id, workflow_id, task, lead_agent, session_label, status, current_step_index, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	err := row.Scan(
		&run.ID, &run.WorkflowID, &run.Task, &run.LeadAgent, &run.SessionLabel,
		&run.Status, &run.CurrentStepIndex, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (t *Tx) GetRun(id int64) (*models.Run, error) {
	run, err := scanRun(t.q.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "run %d", id)
	}
	return run, nil
}

func (t *Tx) UpdateRunStatus(id int64, status models.RunStatus) error {
	_, err := t.q.Exec(`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().UTC(), id)
	if err != nil {
		return fault.Wrap(fault.StoreError, err, "update run %d status", id)
	}
	return nil
}

func (t *Tx) SetRunStepIndex(id int64, index int) error {
	_, err := t.q.Exec(`UPDATE runs SET current_step_index = ?, updated_at = ? WHERE id = ?`, index, time.Now().UTC(), id)
	if err != nil {
		return fault.Wrap(fault.StoreError, err, "update run %d step index", id)
	}
	return nil
}

func (t *Tx) ListRuns(limit int) ([]*models.Run, error) {
	rows, err := t.q.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fault.Wrap(fault.StoreError, err, "list runs")
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fault.Wrap(fault.StoreError, err, "scan run")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (t *Tx) ListRunsByWorkflow(workflowID string) ([]*models.Run, error) {
	rows, err := t.q.Query(`SELECT `+runColumns+` FROM runs WHERE workflow_id = ? ORDER BY created_at DESC, id DESC`, workflowID)
	if err != nil {
		return nil, fault.Wrap(fault.StoreError, err, "list runs for workflow %s", workflowID)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fault.Wrap(fault.StoreError, err, "scan run")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
