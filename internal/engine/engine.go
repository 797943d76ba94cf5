// Package engine owns the run/step/story state machine: claim,
// complete, fail, the verify-each sub-protocol, retry and escalation
// policy, and pipeline advancement. It is the only component that
// mutates run state.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/openclaw/antfarm/internal/fault"
	"github.com/openclaw/antfarm/internal/models"
	"github.com/openclaw/antfarm/internal/storage"
	"github.com/openclaw/antfarm/internal/template"
	"github.com/openclaw/antfarm/internal/workspace"
)

// Engine serializes all mutations over the store. Multiple agents may
// poll concurrently; a process-wide lock plus one transaction per verb
// keeps every transition atomic and totally ordered within a run.
type Engine struct {
	mu     sync.Mutex
	store  *storage.Store
	bridge *workspace.Bridge
	logger *slog.Logger
}

func New(store *storage.Store, bridge *workspace.Bridge, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, bridge: bridge, logger: logger}
}

// StartRun creates a run for an installed workflow: all steps waiting
// except the first, which is pending. The task is seeded into run
// context so {{task}} renders in the first prompt.
func (e *Engine) StartRun(workflowID, task string) (*models.Run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var run *models.Run
	err := e.store.WithTx(func(tx *storage.Tx) error {
		spec, err := tx.GetWorkflow(workflowID)
		if err != nil {
			return err
		}
		if len(spec.Steps) == 0 {
			return fault.New(fault.ValidationError, "workflow %s has no steps", workflowID)
		}

		run = &models.Run{
			WorkflowID:   workflowID,
			Task:         task,
			LeadAgent:    spec.Steps[0].Agent,
			SessionLabel: fmt.Sprintf("antfarm-%s-%s", workflowID, uuid.NewString()[:8]),
			Status:       models.RunStatusRunning,
		}
		id, err := tx.CreateRun(run)
		if err != nil {
			return err
		}
		run.ID = id

		for i := range spec.Steps {
			def := &spec.Steps[i]
			status := models.StepStatusWaiting
			if i == 0 {
				status = models.StepStatusPending
			}
			step := &models.StepInstance{
				RunID:      id,
				DefID:      def.ID,
				AgentID:    def.Agent,
				StepIndex:  i,
				Type:       def.Type,
				Loop:       def.Loop,
				Input:      def.Input,
				Expects:    def.Expects,
				MaxRetries: def.MaxRetries,
				OnFail:     def.OnFail,
				Status:     status,
			}
			if _, err := tx.CreateStep(step); err != nil {
				return err
			}
		}

		return tx.SetContext(id, "task", task)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("run started", "run", run.ID, "workflow", workflowID)
	return run, nil
}

// CancelRun transitions a run to canceled. Steps already running in an
// agent are not interrupted; their eventual complete/fail is ignored.
func (e *Engine) CancelRun(runID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.store.WithTx(func(tx *storage.Tx) error {
		run, err := tx.GetRun(runID)
		if err != nil {
			return err
		}
		switch run.Status {
		case models.RunStatusCompleted, models.RunStatusCanceled:
			return fault.New(fault.InvalidState, "cancel: run %d is %s", runID, run.Status)
		}
		return tx.UpdateRunStatus(runID, models.RunStatusCanceled)
	})
}

// UnblockRun is the external blocked → running transition. If the run
// has no claimable step, the lowest failed step is reset to pending
// with a fresh retry budget.
func (e *Engine) UnblockRun(runID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.store.WithTx(func(tx *storage.Tx) error {
		run, err := tx.GetRun(runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunStatusBlocked {
			return fault.New(fault.InvalidState, "unblock: run %d is %s", runID, run.Status)
		}
		if err := tx.UpdateRunStatus(runID, models.RunStatusRunning); err != nil {
			return err
		}

		steps, err := tx.RunSteps(runID)
		if err != nil {
			return err
		}
		for _, s := range steps {
			if s.Status == models.StepStatusPending || s.Status == models.StepStatusRunning {
				return nil
			}
		}
		for _, s := range steps {
			if s.Status == models.StepStatusFailed {
				if err := tx.UpdateStepRetryCount(s.ID, 0); err != nil {
					return err
				}
				return tx.UpdateStepStatus(s.ID, models.StepStatusPending)
			}
		}
		return nil
	})
}

// advance moves the pipeline past a finished step: the next waiting
// step becomes pending, or the run completes and progress is archived.
func (e *Engine) advance(tx *storage.Tx, run *models.Run, fromIndex int) error {
	steps, err := tx.RunSteps(run.ID)
	if err != nil {
		return err
	}

	for _, s := range steps {
		if s.StepIndex > fromIndex && s.Status == models.StepStatusWaiting {
			if err := tx.SetRunStepIndex(run.ID, s.StepIndex); err != nil {
				return err
			}
			return tx.UpdateStepStatus(s.ID, models.StepStatusPending)
		}
	}

	if err := tx.UpdateRunStatus(run.ID, models.RunStatusCompleted); err != nil {
		return err
	}
	e.archiveProgress(tx, run, steps)
	e.logger.Info("run completed", "run", run.ID)
	return nil
}

// archiveProgress truncates the developer agent's progress file into
// archive/<runID>/ on terminal completion. Archive failures are logged,
// not fatal: the run is already complete.
func (e *Engine) archiveProgress(tx *storage.Tx, run *models.Run, steps []*models.StepInstance) {
	spec, err := tx.GetWorkflow(run.WorkflowID)
	if err != nil {
		e.logger.Warn("archive skipped, workflow not installed", "run", run.ID, "workflow", run.WorkflowID)
		return
	}
	for _, s := range steps {
		if s.Type != models.StepTypeLoop {
			continue
		}
		agent := spec.Agent(s.AgentID)
		if agent == nil {
			agent = &models.AgentSpec{ID: s.AgentID}
		}
		dir := e.bridge.AgentDir(run.WorkflowID, agent)
		if err := e.bridge.ArchiveProgress(dir, run.ID); err != nil {
			e.logger.Warn("archive progress failed", "run", run.ID, "agent", s.AgentID, "error", err)
		}
	}
}

// buildVars assembles the template variable set: run context first,
// then the loop variables and {{progress}} when the run has stories.
func (e *Engine) buildVars(tx *storage.Tx, run *models.Run, current *models.Story) (map[string]string, error) {
	vars, err := tx.GetContext(run.ID)
	if err != nil {
		return nil, err
	}

	stories, err := tx.RunStories(run.ID)
	if err != nil {
		return nil, err
	}
	if len(stories) == 0 {
		return vars, nil
	}

	for k, v := range template.LoopVars(current, stories) {
		vars[k] = v
	}
	if _, ok := vars["verify_feedback"]; !ok {
		vars["verify_feedback"] = ""
	}

	vars["progress"] = e.readProgress(tx, run)
	return vars, nil
}

func (e *Engine) readProgress(tx *storage.Tx, run *models.Run) string {
	steps, err := tx.RunSteps(run.ID)
	if err != nil {
		return workspace.NoProgress
	}

	var loopAgent string
	for _, s := range steps {
		if s.Type == models.StepTypeLoop {
			loopAgent = s.AgentID
			break
		}
	}
	if loopAgent == "" {
		return workspace.NoProgress
	}

	agent := &models.AgentSpec{ID: loopAgent}
	if spec, err := tx.GetWorkflow(run.WorkflowID); err == nil {
		if a := spec.Agent(loopAgent); a != nil {
			agent = a
		}
	}
	return e.bridge.ReadProgress(e.bridge.AgentDir(run.WorkflowID, agent))
}

// currentLoopStory returns the story a loop step is holding (running
// under the developer or just done and awaiting verification), or nil.
func currentLoopStory(tx *storage.Tx, steps []*models.StepInstance) (*models.Story, error) {
	for _, s := range steps {
		if s.Type == models.StepTypeLoop && s.CurrentStoryID != nil {
			return tx.GetStory(*s.CurrentStoryID)
		}
	}
	return nil, nil
}

// verifyOwner returns the running loop step whose verify_each protocol
// is driving the given step, or nil when the step runs standalone.
func verifyOwner(steps []*models.StepInstance, defID string) *models.StepInstance {
	for _, s := range steps {
		if s.Type == models.StepTypeLoop &&
			s.Status == models.StepStatusRunning &&
			s.Loop != nil && s.Loop.VerifyEach && s.Loop.VerifyStep == defID {
			return s
		}
	}
	return nil
}

func stepByDefID(steps []*models.StepInstance, defID string) *models.StepInstance {
	for _, s := range steps {
		if s.DefID == defID {
			return s
		}
	}
	return nil
}
