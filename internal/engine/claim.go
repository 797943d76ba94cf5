package engine

import (
	"github.com/openclaw/antfarm/internal/models"
	"github.com/openclaw/antfarm/internal/storage"
	"github.com/openclaw/antfarm/internal/template"
)

// ClaimedWork is what an agent runtime receives from a successful
// claim: the step identity plus the fully rendered prompt.
type ClaimedWork struct {
	StepID  int64  `json:"stepId"`
	RunID   int64  `json:"runId"`
	Step    string `json:"step"`
	Agent   string `json:"agent"`
	Input   string `json:"input"`
	Expects string `json:"expects,omitempty"`
}

// Claim hands the agent its next ready step, if any. When a loop step
// turns out to have no pending stories it is finished in place and the
// claim probes once more, so a poll never stalls on an empty loop.
func (e *Engine) Claim(agentID string) (*ClaimedWork, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		var work *ClaimedWork
		var probeAgain bool

		err := e.store.WithTx(func(tx *storage.Tx) error {
			var err error
			work, probeAgain, err = e.claimOnce(tx, agentID)
			return err
		})
		if err != nil {
			return nil, err
		}
		if !probeAgain {
			return work, nil
		}
	}
	return nil, nil
}

func (e *Engine) claimOnce(tx *storage.Tx, agentID string) (*ClaimedWork, bool, error) {
	step, run, err := tx.FindClaimable(agentID)
	if err != nil {
		return nil, false, err
	}
	if step == nil {
		return nil, false, nil
	}

	var current *models.Story

	if step.Type == models.StepTypeLoop {
		story, err := tx.NextPendingStory(run.ID)
		if err != nil {
			return nil, false, err
		}
		if story == nil {
			// Nothing left to iterate: the loop is done. Finish it
			// and let the caller probe once for the advanced step.
			if err := e.finishLoop(tx, run, step, ""); err != nil {
				return nil, false, err
			}
			return nil, true, nil
		}

		if err := tx.UpdateStoryStatus(story.ID, models.StoryStatusRunning); err != nil {
			return nil, false, err
		}
		if err := tx.SetStepCurrentStory(step.ID, &story.ID); err != nil {
			return nil, false, err
		}
		story.Status = models.StoryStatusRunning
		current = story
	} else {
		steps, err := tx.RunSteps(run.ID)
		if err != nil {
			return nil, false, err
		}
		current, err = currentLoopStory(tx, steps)
		if err != nil {
			return nil, false, err
		}
	}

	if err := tx.UpdateStepStatus(step.ID, models.StepStatusRunning); err != nil {
		return nil, false, err
	}

	vars, err := e.buildVars(tx, run, current)
	if err != nil {
		return nil, false, err
	}

	e.logger.Info("step claimed", "run", run.ID, "step", step.DefID, "agent", agentID)
	return &ClaimedWork{
		StepID:  step.ID,
		RunID:   run.ID,
		Step:    step.DefID,
		Agent:   agentID,
		Input:   template.Resolve(step.Input, vars),
		Expects: step.Expects,
	}, false, nil
}

// finishLoop marks a loop step done with its terminal StepResult and
// advances the pipeline.
func (e *Engine) finishLoop(tx *storage.Tx, run *models.Run, step *models.StepInstance, output string) error {
	if err := tx.SetStepCurrentStory(step.ID, nil); err != nil {
		return err
	}
	if err := tx.UpdateStepStatus(step.ID, models.StepStatusDone); err != nil {
		return err
	}
	if _, err := tx.AppendResult(&models.StepResult{
		RunID:     run.ID,
		StepDefID: step.DefID,
		AgentID:   step.AgentID,
		Output:    output,
		Status:    models.ResultStatusDone,
	}); err != nil {
		return err
	}
	return e.advance(tx, run, step.StepIndex)
}
