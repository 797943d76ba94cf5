package storage

import (
	"encoding/json"

	"github.com/openclaw/antfarm/internal/fault"
	"github.com/openclaw/antfarm/internal/models"
)

// SaveWorkflow installs or replaces a workflow spec. The full spec is
// serialized as a JSON blob so re-reading yields an identical value.
func (t *Tx) SaveWorkflow(spec *models.WorkflowSpec) error {
	blob, err := json.Marshal(spec)
	if err != nil {
		return fault.Wrap(fault.StoreError, err, "marshal workflow %s", spec.ID)
	}

	_, err = t.q.Exec(
		`INSERT INTO workflows (id, name, version, spec) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, version = excluded.version, spec = excluded.spec`,
		spec.ID, spec.Name, spec.Version, string(blob),
	)
	if err != nil {
		return fault.Wrap(fault.StoreError, err, "save workflow %s", spec.ID)
	}
	return nil
}

func (t *Tx) GetWorkflow(id string) (*models.WorkflowSpec, error) {
	var blob string
	err := t.q.QueryRow(`SELECT spec FROM workflows WHERE id = ?`, id).Scan(&blob)
	if err != nil {
		return nil, notFound(err, "workflow %s", id)
	}

	var spec models.WorkflowSpec
	if err := json.Unmarshal([]byte(blob), &spec); err != nil {
		return nil, fault.Wrap(fault.StoreError, err, "decode workflow %s", id)
	}
	return &spec, nil
}

func (t *Tx) ListWorkflows() ([]*models.WorkflowSpec, error) {
	rows, err := t.q.Query(`SELECT spec FROM workflows ORDER BY id`)
	if err != nil {
		return nil, fault.Wrap(fault.StoreError, err, "list workflows")
	}
	defer rows.Close()

	var specs []*models.WorkflowSpec
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fault.Wrap(fault.StoreError, err, "scan workflow")
		}
		var spec models.WorkflowSpec
		if err := json.Unmarshal([]byte(blob), &spec); err != nil {
			return nil, fault.Wrap(fault.StoreError, err, "decode workflow")
		}
		specs = append(specs, &spec)
	}
	return specs, rows.Err()
}

func (t *Tx) DeleteWorkflow(id string) error {
	res, err := t.q.Exec(`DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fault.Wrap(fault.StoreError, err, "delete workflow %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.NotFound, "workflow %s", id)
	}
	return nil
}
