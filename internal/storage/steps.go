package storage

import (
	"database/sql"
	"encoding/json"

	"github.com/openclaw/antfarm/internal/fault"
	"github.com/openclaw/antfarm/internal/models"
)

const stepColumns = `id, run_id, def_id, agent_id, step_index, step_type, loop_config, input, expects, max_retries, on_fail, status, retry_count, current_story_id`

func (t *Tx) CreateStep(step *models.StepInstance) (int64, error) {
	var loopBlob, onFailBlob sql.NullString
	if step.Loop != nil {
		b, err := json.Marshal(step.Loop)
		if err != nil {
			return 0, fault.Wrap(fault.StoreError, err, "marshal loop config")
		}
		loopBlob = sql.NullString{String: string(b), Valid: true}
	}
	if step.OnFail != nil {
		b, err := json.Marshal(step.OnFail)
		if err != nil {
			return 0, fault.Wrap(fault.StoreError, err, "marshal on_fail config")
		}
		onFailBlob = sql.NullString{String: string(b), Valid: true}
	}

	res, err := t.q.Exec(
		`INSERT INTO steps (run_id, def_id, agent_id, step_index, step_type, loop_config, input, expects, max_retries, on_fail, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.RunID, step.DefID, step.AgentID, step.StepIndex, step.Type, loopBlob,
		step.Input, step.Expects, step.MaxRetries, onFailBlob, step.Status,
	)
	if err != nil {
		return 0, fault.Wrap(fault.StoreError, err, "create step %s", step.DefID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fault.Wrap(fault.StoreError, err, "create step %s", step.DefID)
	}
	return id, nil
}

func scanStep(row rowScanner) (*models.StepInstance, error) {
	var step models.StepInstance
	var loopBlob, onFailBlob sql.NullString
	var currentStory sql.NullInt64

	err := row.Scan(
		&step.ID, &step.RunID, &step.DefID, &step.AgentID, &step.StepIndex,
		&step.Type, &loopBlob, &step.Input, &step.Expects, &step.MaxRetries,
		&onFailBlob, &step.Status, &step.RetryCount, &currentStory,
	)
	if err != nil {
		return nil, err
	}

	if loopBlob.Valid {
		var loop models.LoopSpec
		if err := json.Unmarshal([]byte(loopBlob.String), &loop); err != nil {
			return nil, err
		}
		step.Loop = &loop
	}
	if onFailBlob.Valid {
		var onFail models.OnFailSpec
		if err := json.Unmarshal([]byte(onFailBlob.String), &onFail); err != nil {
			return nil, err
		}
		step.OnFail = &onFail
	}
	if currentStory.Valid {
		id := currentStory.Int64
		step.CurrentStoryID = &id
	}

	return &step, nil
}

func (t *Tx) GetStep(id int64) (*models.StepInstance, error) {
	step, err := scanStep(t.q.QueryRow(`SELECT `+stepColumns+` FROM steps WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "step %d", id)
	}
	return step, nil
}

func (t *Tx) RunSteps(runID int64) ([]*models.StepInstance, error) {
	rows, err := t.q.Query(`SELECT `+stepColumns+` FROM steps WHERE run_id = ? ORDER BY step_index`, runID)
	if err != nil {
		return nil, fault.Wrap(fault.StoreError, err, "list steps for run %d", runID)
	}
	defer rows.Close()

	var steps []*models.StepInstance
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fault.Wrap(fault.StoreError, err, "scan step")
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (t *Tx) UpdateStepStatus(id int64, status models.StepStatus) error {
	_, err := t.q.Exec(`UPDATE steps SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fault.Wrap(fault.StoreError, err, "update step %d status", id)
	}
	return nil
}

func (t *Tx) UpdateStepRetryCount(id int64, count int) error {
	_, err := t.q.Exec(`UPDATE steps SET retry_count = ? WHERE id = ?`, count, id)
	if err != nil {
		return fault.Wrap(fault.StoreError, err, "update step %d retry count", id)
	}
	return nil
}

func (t *Tx) SetStepCurrentStory(id int64, storyID *int64) error {
	var v sql.NullInt64
	if storyID != nil {
		v = sql.NullInt64{Int64: *storyID, Valid: true}
	}
	_, err := t.q.Exec(`UPDATE steps SET current_story_id = ? WHERE id = ?`, v, id)
	if err != nil {
		return fault.Wrap(fault.StoreError, err, "update step %d current story", id)
	}
	return nil
}

// FindClaimable returns the lowest-order pending step for the agent
// across all running runs, tie-broken by run creation time then step
// index, together with its run.
func (t *Tx) FindClaimable(agentID string) (*models.StepInstance, *models.Run, error) {
	row := t.q.QueryRow(
		`SELECT s.id FROM steps s
		 JOIN runs r ON r.id = s.run_id
		 WHERE s.agent_id = ? AND s.status = 'pending' AND r.status = 'running'
		 ORDER BY r.created_at, r.id, s.step_index
		 LIMIT 1`, agentID,
	)

	var stepID int64
	if err := row.Scan(&stepID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, nil
		}
		return nil, nil, fault.Wrap(fault.StoreError, err, "find claimable step for %s", agentID)
	}

	step, err := t.GetStep(stepID)
	if err != nil {
		return nil, nil, err
	}
	run, err := t.GetRun(step.RunID)
	if err != nil {
		return nil, nil, err
	}
	return step, run, nil
}
