package engine

import (
	"github.com/openclaw/antfarm/internal/fault"
	"github.com/openclaw/antfarm/internal/models"
	"github.com/openclaw/antfarm/internal/outparse"
	"github.com/openclaw/antfarm/internal/storage"
)

// Complete reports a step's output. Interpretation depends on whether
// the step is a single step, a loop step with a story in flight, or a
// verify step driven by a loop's verify-each protocol.
//
// Completing a step already done is a no-op returning the original
// StepResult. A malformed output commits the failure transition and
// returns the ParseError.
func (e *Engine) Complete(stepID int64, output string) (*models.StepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result *models.StepResult
	var parseFailure error

	err := e.store.WithTx(func(tx *storage.Tx) error {
		step, err := tx.GetStep(stepID)
		if err != nil {
			return err
		}
		run, err := tx.GetRun(step.RunID)
		if err != nil {
			return err
		}

		if run.Status == models.RunStatusCanceled {
			e.logger.Warn("complete ignored, run canceled", "run", run.ID, "step", step.DefID)
			return nil
		}

		if step.Status == models.StepStatusDone {
			result, err = tx.LastResult(run.ID, step.DefID)
			return err
		}
		if step.Status != models.StepStatusRunning {
			return fault.New(fault.InvalidState, "complete: step %s is %s, expected running", step.DefID, step.Status)
		}

		parsed, perr := outparse.Parse(output)
		if perr != nil {
			// The output failed its structural contract; the step
			// fails with the parse error and retries per policy.
			parseFailure = perr
			return e.failStep(tx, run, step, perr.Error())
		}

		if err := tx.MergeContext(run.ID, parsed.Context); err != nil {
			return err
		}

		if parsed.HasStories {
			if err := e.insertStories(tx, run, parsed.Stories); err != nil {
				return err
			}
		}

		steps, err := tx.RunSteps(run.ID)
		if err != nil {
			return err
		}

		if owner := verifyOwner(steps, step.DefID); owner != nil {
			return e.completeVerify(tx, run, owner, step, parsed, output)
		}
		if step.Type == models.StepTypeLoop && step.CurrentStoryID != nil {
			return e.completeStory(tx, run, step, parsed, output)
		}
		return e.completeSingle(tx, run, step, parsed, output, &result)
	})
	if err != nil {
		return nil, err
	}
	if parseFailure != nil {
		return nil, parseFailure
	}
	return result, nil
}

func (e *Engine) insertStories(tx *storage.Tx, run *models.Run, drafts []outparse.StoryDraft) error {
	// After a rewind the old rows stay in place; new stories append
	// with increasing indices.
	offset, err := tx.CountStories(run.ID)
	if err != nil {
		return err
	}
	for i, d := range drafts {
		story := &models.Story{
			RunID:              run.ID,
			StoryIndex:         offset + i,
			StoryID:            d.ID,
			Title:              d.Title,
			Description:        d.Description,
			AcceptanceCriteria: d.AcceptanceCriteria,
			Status:             models.StoryStatusPending,
			MaxRetries:         defaultStoryRetries,
		}
		if _, err := tx.CreateStory(story); err != nil {
			return err
		}
	}
	return nil
}

const defaultStoryRetries = 2

// completeSingle handles a plain step (including a verify step that is
// not currently driven by a loop).
func (e *Engine) completeSingle(tx *storage.Tx, run *models.Run, step *models.StepInstance, parsed *outparse.Result, output string, result **models.StepResult) error {
	r := &models.StepResult{
		RunID:     run.ID,
		StepDefID: step.DefID,
		AgentID:   step.AgentID,
		Output:    output,
		Status:    parsed.Status,
	}
	if _, err := tx.AppendResult(r); err != nil {
		return err
	}
	*result = r

	switch parsed.Status {
	case models.ResultStatusRetry:
		return e.retryStep(tx, run, step)
	case models.ResultStatusBlocked:
		if err := tx.UpdateStepStatus(step.ID, models.StepStatusFailed); err != nil {
			return err
		}
		return tx.UpdateRunStatus(run.ID, models.RunStatusBlocked)
	default:
		if err := tx.UpdateStepStatus(step.ID, models.StepStatusDone); err != nil {
			return err
		}
		return e.advance(tx, run, step.StepIndex)
	}
}

// completeStory handles a loop step reporting one story iteration.
func (e *Engine) completeStory(tx *storage.Tx, run *models.Run, step *models.StepInstance, parsed *outparse.Result, output string) error {
	story, err := tx.GetStory(*step.CurrentStoryID)
	if err != nil {
		return err
	}

	switch parsed.Status {
	case models.ResultStatusRetry:
		// The developer bounced the story itself; same attribution
		// as an external fail.
		return e.retryStory(tx, run, step, story)
	case models.ResultStatusBlocked:
		if err := tx.UpdateStoryStatus(story.ID, models.StoryStatusPending); err != nil {
			return err
		}
		if err := tx.SetStepCurrentStory(step.ID, nil); err != nil {
			return err
		}
		if err := tx.UpdateStepStatus(step.ID, models.StepStatusPending); err != nil {
			return err
		}
		return tx.UpdateRunStatus(run.ID, models.RunStatusBlocked)
	}

	if err := tx.UpdateStoryStatus(story.ID, models.StoryStatusDone); err != nil {
		return err
	}
	if err := tx.UpdateStoryOutput(story.ID, output); err != nil {
		return err
	}

	if step.Loop != nil && step.Loop.VerifyEach {
		// The loop holds its story reference while the verifier runs
		// so the verify prompt and a retry verdict know which story
		// is under judgment.
		steps, err := tx.RunSteps(run.ID)
		if err != nil {
			return err
		}
		verify := stepByDefID(steps, step.Loop.VerifyStep)
		if verify == nil {
			return fault.New(fault.InvalidState, "loop step %s names missing verify step %s", step.DefID, step.Loop.VerifyStep)
		}
		return tx.UpdateStepStatus(verify.ID, models.StepStatusPending)
	}

	if err := tx.SetStepCurrentStory(step.ID, nil); err != nil {
		return err
	}
	pending, err := tx.CountPendingStories(run.ID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return tx.UpdateStepStatus(step.ID, models.StepStatusPending)
	}
	return e.finishLoop(tx, run, step, output)
}

// completeVerify interprets a verifier's verdict on the loop step's
// most recently completed story.
func (e *Engine) completeVerify(tx *storage.Tx, run *models.Run, loopStep, verify *models.StepInstance, parsed *outparse.Result, output string) error {
	switch parsed.Status {
	case models.ResultStatusDone:
		if err := tx.SetContext(run.ID, "verify_feedback", ""); err != nil {
			return err
		}
		if err := tx.SetStepCurrentStory(loopStep.ID, nil); err != nil {
			return err
		}

		pending, err := tx.CountPendingStories(run.ID)
		if err != nil {
			return err
		}
		if pending > 0 {
			if err := tx.UpdateStepStatus(verify.ID, models.StepStatusWaiting); err != nil {
				return err
			}
			return tx.UpdateStepStatus(loopStep.ID, models.StepStatusPending)
		}

		// All stories verified: both steps finish, verify gets its
		// own terminal result, and the pipeline moves on.
		if err := tx.UpdateStepStatus(verify.ID, models.StepStatusDone); err != nil {
			return err
		}
		if _, err := tx.AppendResult(&models.StepResult{
			RunID:     run.ID,
			StepDefID: verify.DefID,
			AgentID:   verify.AgentID,
			Output:    output,
			Status:    models.ResultStatusDone,
		}); err != nil {
			return err
		}
		return e.finishLoop(tx, run, loopStep, "")

	case models.ResultStatusRetry:
		if loopStep.CurrentStoryID == nil {
			return fault.New(fault.InvalidState, "verify retry: loop step %s has no story under verification", loopStep.DefID)
		}
		story, err := tx.GetStory(*loopStep.CurrentStoryID)
		if err != nil {
			return err
		}

		if story.RetryCount < story.MaxRetries {
			if err := tx.UpdateStoryRetryCount(story.ID, story.RetryCount+1); err != nil {
				return err
			}
			if err := tx.UpdateStoryStatus(story.ID, models.StoryStatusPending); err != nil {
				return err
			}
			if err := tx.SetContext(run.ID, "verify_feedback", parsed.Issues); err != nil {
				return err
			}
			if err := tx.SetStepCurrentStory(loopStep.ID, nil); err != nil {
				return err
			}
			if err := tx.UpdateStepStatus(verify.ID, models.StepStatusWaiting); err != nil {
				return err
			}
			return tx.UpdateStepStatus(loopStep.ID, models.StepStatusPending)
		}

		// Retries exhausted: the story fails and the loop step takes
		// the failure, including its escalation policy.
		if err := tx.UpdateStoryStatus(story.ID, models.StoryStatusFailed); err != nil {
			return err
		}
		if err := tx.SetStepCurrentStory(loopStep.ID, nil); err != nil {
			return err
		}
		if err := tx.UpdateStepStatus(verify.ID, models.StepStatusWaiting); err != nil {
			return err
		}
		if _, err := tx.AppendResult(&models.StepResult{
			RunID:     run.ID,
			StepDefID: loopStep.DefID,
			AgentID:   loopStep.AgentID,
			Output:    output,
			Status:    models.ResultStatusRetry,
		}); err != nil {
			return err
		}
		if err := tx.UpdateStepStatus(loopStep.ID, models.StepStatusFailed); err != nil {
			return err
		}
		return e.applyOnFail(tx, run, loopStep)

	default: // blocked
		// The verifier is re-armed so an unblock resumes verification.
		if err := tx.UpdateStepStatus(verify.ID, models.StepStatusPending); err != nil {
			return err
		}
		return tx.UpdateRunStatus(run.ID, models.RunStatusBlocked)
	}
}
