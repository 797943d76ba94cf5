package engine

import (
	"github.com/openclaw/antfarm/internal/fault"
	"github.com/openclaw/antfarm/internal/models"
	"github.com/openclaw/antfarm/internal/storage"
)

// Fail reports that an agent could not finish its step. The failure is
// recorded as a retry StepResult and attributed to the current story
// for a loop step, otherwise to the step itself.
func (e *Engine) Fail(stepID int64, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.store.WithTx(func(tx *storage.Tx) error {
		step, err := tx.GetStep(stepID)
		if err != nil {
			return err
		}
		run, err := tx.GetRun(step.RunID)
		if err != nil {
			return err
		}

		if run.Status == models.RunStatusCanceled {
			e.logger.Warn("fail ignored, run canceled", "run", run.ID, "step", step.DefID)
			return nil
		}
		if step.Status != models.StepStatusRunning {
			return fault.New(fault.InvalidState, "fail: step %s is %s, expected running", step.DefID, step.Status)
		}

		return e.failStep(tx, run, step, reason)
	})
}

// failStep records the failure and applies retry policy. Shared by the
// fail verb and by parse failures inside complete.
func (e *Engine) failStep(tx *storage.Tx, run *models.Run, step *models.StepInstance, reason string) error {
	if _, err := tx.AppendResult(&models.StepResult{
		RunID:     run.ID,
		StepDefID: step.DefID,
		AgentID:   step.AgentID,
		Output:    reason,
		Status:    models.ResultStatusRetry,
	}); err != nil {
		return err
	}

	if step.Type == models.StepTypeLoop && step.CurrentStoryID != nil {
		story, err := tx.GetStory(*step.CurrentStoryID)
		if err != nil {
			return err
		}
		return e.retryStory(tx, run, step, story)
	}
	return e.retryStep(tx, run, step)
}

// retryStep re-queues a step while it has retry budget, otherwise
// fails it and applies its escalation policy.
func (e *Engine) retryStep(tx *storage.Tx, run *models.Run, step *models.StepInstance) error {
	if step.RetryCount < step.MaxRetries {
		if err := tx.UpdateStepRetryCount(step.ID, step.RetryCount+1); err != nil {
			return err
		}
		e.logger.Info("step retrying", "run", run.ID, "step", step.DefID, "attempt", step.RetryCount+1)
		return tx.UpdateStepStatus(step.ID, models.StepStatusPending)
	}

	if err := tx.UpdateStepStatus(step.ID, models.StepStatusFailed); err != nil {
		return err
	}
	return e.applyOnFail(tx, run, step)
}

// retryStory re-queues the story while it has budget; exhaustion fails
// both the story and its loop step in the same transaction.
func (e *Engine) retryStory(tx *storage.Tx, run *models.Run, step *models.StepInstance, story *models.Story) error {
	if err := tx.SetStepCurrentStory(step.ID, nil); err != nil {
		return err
	}

	if story.RetryCount < story.MaxRetries {
		if err := tx.UpdateStoryRetryCount(story.ID, story.RetryCount+1); err != nil {
			return err
		}
		if err := tx.UpdateStoryStatus(story.ID, models.StoryStatusPending); err != nil {
			return err
		}
		e.logger.Info("story retrying", "run", run.ID, "story", story.StoryID, "attempt", story.RetryCount+1)
		return tx.UpdateStepStatus(step.ID, models.StepStatusPending)
	}

	if err := tx.UpdateStoryStatus(story.ID, models.StoryStatusFailed); err != nil {
		return err
	}
	if err := tx.UpdateStepStatus(step.ID, models.StepStatusFailed); err != nil {
		return err
	}
	return e.applyOnFail(tx, run, step)
}

// applyOnFail runs the exhaustion policy for a failed step: rewind to
// an earlier step, escalate to an agent, or block the run.
func (e *Engine) applyOnFail(tx *storage.Tx, run *models.Run, failed *models.StepInstance) error {
	if failed.OnFail != nil && failed.OnFail.RetryStep != "" {
		steps, err := tx.RunSteps(run.ID)
		if err != nil {
			return err
		}
		target := stepByDefID(steps, failed.OnFail.RetryStep)
		if target != nil && target.StepIndex <= failed.StepIndex {
			for _, s := range steps {
				if s.StepIndex < target.StepIndex || s.StepIndex > failed.StepIndex {
					continue
				}
				if err := tx.UpdateStepStatus(s.ID, models.StepStatusWaiting); err != nil {
					return err
				}
				if s.CurrentStoryID != nil {
					if err := tx.SetStepCurrentStory(s.ID, nil); err != nil {
						return err
					}
				}
			}
			if err := tx.UpdateStepRetryCount(failed.ID, 0); err != nil {
				return err
			}
			if err := tx.UpdateStepStatus(target.ID, models.StepStatusPending); err != nil {
				return err
			}
			e.logger.Info("run rewound", "run", run.ID, "from", failed.DefID, "to", target.DefID)
			return tx.SetRunStepIndex(run.ID, target.StepIndex)
		}
		e.logger.Warn("retry step not found, blocking run", "run", run.ID, "retry_step", failed.OnFail.RetryStep)
	}

	if failed.OnFail != nil && failed.OnFail.EscalateTo != "" {
		if err := tx.SetContext(run.ID, "escalate_to", failed.OnFail.EscalateTo); err != nil {
			return err
		}
		e.logger.Warn("run escalated", "run", run.ID, "step", failed.DefID, "to", failed.OnFail.EscalateTo)
	}

	return tx.UpdateRunStatus(run.ID, models.RunStatusBlocked)
}
