// Package installer registers workflows: it persists the parsed spec,
// lays out one workspace directory per agent, and schedules periodic
// agent polls through the cron gateway.
package installer

import (
	"fmt"
	"log/slog"

	"github.com/openclaw/antfarm/internal/gateway"
	"github.com/openclaw/antfarm/internal/manifest"
	"github.com/openclaw/antfarm/internal/models"
	"github.com/openclaw/antfarm/internal/storage"
	"github.com/openclaw/antfarm/internal/workspace"
)

type Installer struct {
	store    *storage.Store
	bridge   *workspace.Bridge
	gateway  *gateway.Client
	schedule string
	logger   *slog.Logger
}

func New(store *storage.Store, bridge *workspace.Bridge, gw *gateway.Client, schedule string, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{store: store, bridge: bridge, gateway: gw, schedule: schedule, logger: logger}
}

// Install parses a manifest, persists the workflow, creates agent
// workspaces, and registers one poll job per agent.
func (i *Installer) Install(manifestPath string) (*models.WorkflowSpec, error) {
	spec, err := manifest.Parse(manifestPath)
	if err != nil {
		return nil, err
	}

	if err := i.register(spec); err != nil {
		return nil, err
	}

	i.logger.Info("workflow installed", "workflow", spec.ID, "agents", len(spec.Agents), "steps", len(spec.Steps))
	return spec, nil
}

// InstallDir installs every manifest found in a directory.
func (i *Installer) InstallDir(dir string) ([]*models.WorkflowSpec, error) {
	byID, err := manifest.LoadAll(dir)
	if err != nil {
		return nil, err
	}

	var specs []*models.WorkflowSpec
	for _, spec := range byID {
		if err := i.register(spec); err != nil {
			return specs, err
		}
		i.logger.Info("workflow installed", "workflow", spec.ID)
		specs = append(specs, spec)
	}
	return specs, nil
}

// Update re-installs a workflow spec in place. Existing runs keep their
// denormalized step definitions; only new runs see the update.
func (i *Installer) Update(manifestPath string) (*models.WorkflowSpec, error) {
	spec, err := manifest.Parse(manifestPath)
	if err != nil {
		return nil, err
	}

	if err := i.register(spec); err != nil {
		return nil, err
	}

	i.logger.Info("workflow updated", "workflow", spec.ID)
	return spec, nil
}

func (i *Installer) register(spec *models.WorkflowSpec) error {
	err := i.store.WithTx(func(tx *storage.Tx) error {
		return tx.SaveWorkflow(spec)
	})
	if err != nil {
		return err
	}

	if err := i.bridge.EnsureDirs(spec); err != nil {
		return err
	}

	if !i.gateway.Configured() {
		i.logger.Warn("no cron gateway configured, agent polling must be arranged externally", "workflow", spec.ID)
		return nil
	}

	for _, agent := range spec.Agents {
		job := pollJob(spec.ID, agent.ID, i.schedule)
		if _, err := i.gateway.AddJob(job); err != nil {
			// Gateway trouble never corrupts core state; installation
			// stands and the error is surfaced to the caller.
			return err
		}
	}
	return nil
}

// Uninstall removes the workflow, its poll jobs, and its workspace
// tree. Runs and their history are retained.
func (i *Installer) Uninstall(workflowID string) error {
	var spec *models.WorkflowSpec
	err := i.store.WithTx(func(tx *storage.Tx) error {
		var err error
		spec, err = tx.GetWorkflow(workflowID)
		if err != nil {
			return err
		}
		return tx.DeleteWorkflow(workflowID)
	})
	if err != nil {
		return err
	}

	if i.gateway.Configured() {
		for _, agent := range spec.Agents {
			job := map[string]any{"name": jobName(workflowID, agent.ID)}
			if err := i.gateway.RemoveJob(job); err != nil {
				i.logger.Warn("remove poll job failed", "workflow", workflowID, "agent", agent.ID, "error", err)
			}
		}
	}

	if err := i.bridge.Remove(workflowID); err != nil {
		return err
	}

	i.logger.Info("workflow uninstalled", "workflow", workflowID)
	return nil
}

func jobName(workflowID, agentID string) string {
	return fmt.Sprintf("antfarm-%s-%s", workflowID, agentID)
}

func pollJob(workflowID, agentID, schedule string) map[string]any {
	return map[string]any{
		"name":     jobName(workflowID, agentID),
		"schedule": schedule,
		"command":  fmt.Sprintf("antfarm step claim %s", agentID),
	}
}
