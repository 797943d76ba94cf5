package storage

import (
	"github.com/openclaw/antfarm/internal/fault"
)

// MergeContext upserts keys into a run's context. Last writer wins.
func (t *Tx) MergeContext(runID int64, kv map[string]string) error {
	for key, value := range kv {
		if err := t.SetContext(runID, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) SetContext(runID int64, key, value string) error {
	_, err := t.q.Exec(
		`INSERT INTO run_context (run_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(run_id, key) DO UPDATE SET value = excluded.value`,
		runID, key, value,
	)
	if err != nil {
		return fault.Wrap(fault.StoreError, err, "set context %s for run %d", key, runID)
	}
	return nil
}

func (t *Tx) GetContext(runID int64) (map[string]string, error) {
	rows, err := t.q.Query(`SELECT key, value FROM run_context WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fault.Wrap(fault.StoreError, err, "get context for run %d", runID)
	}
	defer rows.Close()

	ctx := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fault.Wrap(fault.StoreError, err, "scan context")
		}
		ctx[key] = value
	}
	return ctx, rows.Err()
}
