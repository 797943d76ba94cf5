package storage

import (
	"testing"

	"github.com/openclaw/antfarm/internal/fault"
	"github.com/openclaw/antfarm/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSpec() *models.WorkflowSpec {
	return &models.WorkflowSpec{
		ID:   "wf",
		Name: "Test workflow",
		Agents: []models.AgentSpec{
			{ID: "dev", Workspace: "dev"},
		},
		Steps: []models.StepSpec{
			{ID: "plan", Agent: "dev", Type: models.StepTypeSingle, Input: "{{task}}", MaxRetries: 2},
			{
				ID: "implement", Agent: "dev", Type: models.StepTypeLoop, Input: "{{current_story}}", MaxRetries: 2,
				Loop:   &models.LoopSpec{Over: "stories", Completion: "all_done", FreshSession: true, VerifyEach: true, VerifyStep: "verify"},
				OnFail: &models.OnFailSpec{RetryStep: "plan", EscalateTo: "lead"},
			},
		},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.migrate())
	require.NoError(t, s.migrate())
}

func TestWorkflowRoundTrip(t *testing.T) {
	s := newTestStore(t)
	spec := testSpec()

	require.NoError(t, s.WithTx(func(tx *Tx) error { return tx.SaveWorkflow(spec) }))

	got, err := s.Read().GetWorkflow("wf")
	require.NoError(t, err)
	assert.Equal(t, spec, got)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read().GetWorkflow("ghost")
	require.Error(t, err)
	assert.Equal(t, fault.NotFound, fault.CodeOf(err))
}

func createRun(t *testing.T, s *Store) int64 {
	t.Helper()
	var id int64
	require.NoError(t, s.WithTx(func(tx *Tx) error {
		var err error
		id, err = tx.CreateRun(&models.Run{
			WorkflowID: "wf",
			Task:       "do the thing",
			LeadAgent:  "dev",
			Status:     models.RunStatusRunning,
		})
		return err
	}))
	return id
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	id := createRun(t, s)

	run, err := s.Read().GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, "do the thing", run.Task)

	require.NoError(t, s.WithTx(func(tx *Tx) error {
		return tx.UpdateRunStatus(id, models.RunStatusBlocked)
	}))
	run, err = s.Read().GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusBlocked, run.Status)
}

func TestStepRoundTrip(t *testing.T) {
	s := newTestStore(t)
	runID := createRun(t, s)

	loop := &models.LoopSpec{Over: "stories", Completion: "all_done", FreshSession: true, VerifyEach: true, VerifyStep: "verify"}
	onFail := &models.OnFailSpec{RetryStep: "plan"}

	var stepID int64
	require.NoError(t, s.WithTx(func(tx *Tx) error {
		var err error
		stepID, err = tx.CreateStep(&models.StepInstance{
			RunID: runID, DefID: "implement", AgentID: "dev", StepIndex: 1,
			Type: models.StepTypeLoop, Loop: loop, OnFail: onFail,
			Input: "{{current_story}}", MaxRetries: 2, Status: models.StepStatusWaiting,
		})
		return err
	}))

	step, err := s.Read().GetStep(stepID)
	require.NoError(t, err)
	assert.Equal(t, models.StepTypeLoop, step.Type)
	assert.Equal(t, loop, step.Loop)
	assert.Equal(t, onFail, step.OnFail)
	assert.Nil(t, step.CurrentStoryID)

	storyID := int64(42)
	require.NoError(t, s.WithTx(func(tx *Tx) error { return tx.SetStepCurrentStory(stepID, &storyID) }))
	step, err = s.Read().GetStep(stepID)
	require.NoError(t, err)
	require.NotNil(t, step.CurrentStoryID)
	assert.Equal(t, storyID, *step.CurrentStoryID)

	require.NoError(t, s.WithTx(func(tx *Tx) error { return tx.SetStepCurrentStory(stepID, nil) }))
	step, err = s.Read().GetStep(stepID)
	require.NoError(t, err)
	assert.Nil(t, step.CurrentStoryID)
}

func TestFindClaimable_OrderAndFilters(t *testing.T) {
	s := newTestStore(t)
	runID := createRun(t, s)

	require.NoError(t, s.WithTx(func(tx *Tx) error {
		steps := []*models.StepInstance{
			{RunID: runID, DefID: "plan", AgentID: "dev", StepIndex: 0, Type: models.StepTypeSingle, Status: models.StepStatusDone},
			{RunID: runID, DefID: "implement", AgentID: "dev", StepIndex: 1, Type: models.StepTypeSingle, Status: models.StepStatusPending},
			{RunID: runID, DefID: "ship", AgentID: "dev", StepIndex: 2, Type: models.StepTypeSingle, Status: models.StepStatusWaiting},
		}
		for _, st := range steps {
			if _, err := tx.CreateStep(st); err != nil {
				return err
			}
		}
		return nil
	}))

	var step *models.StepInstance
	require.NoError(t, s.WithTx(func(tx *Tx) error {
		var err error
		step, _, err = tx.FindClaimable("dev")
		return err
	}))
	require.NotNil(t, step)
	assert.Equal(t, "implement", step.DefID)

	// Other agents see nothing.
	require.NoError(t, s.WithTx(func(tx *Tx) error {
		other, _, err := tx.FindClaimable("verifier")
		assert.Nil(t, other)
		return err
	}))

	// Non-running runs are invisible.
	require.NoError(t, s.WithTx(func(tx *Tx) error { return tx.UpdateRunStatus(runID, models.RunStatusCanceled) }))
	require.NoError(t, s.WithTx(func(tx *Tx) error {
		none, _, err := tx.FindClaimable("dev")
		assert.Nil(t, none)
		return err
	}))
}

func TestStories(t *testing.T) {
	s := newTestStore(t)
	runID := createRun(t, s)

	require.NoError(t, s.WithTx(func(tx *Tx) error {
		for i, sid := range []string{"US-1", "US-2"} {
			_, err := tx.CreateStory(&models.Story{
				RunID: runID, StoryIndex: i, StoryID: sid, Title: "story " + sid,
				AcceptanceCriteria: []string{"works"},
				Status:             models.StoryStatusPending, MaxRetries: 2,
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))

	next, err := s.Read().NextPendingStory(runID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "US-1", next.StoryID)
	assert.Equal(t, []string{"works"}, next.AcceptanceCriteria)

	require.NoError(t, s.WithTx(func(tx *Tx) error {
		return tx.UpdateStoryStatus(next.ID, models.StoryStatusDone)
	}))

	next, err = s.Read().NextPendingStory(runID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "US-2", next.StoryID)

	pending, err := s.Read().CountPendingStories(runID)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	total, err := s.Read().CountStories(runID)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestContextLastWriterWins(t *testing.T) {
	s := newTestStore(t)
	runID := createRun(t, s)

	require.NoError(t, s.WithTx(func(tx *Tx) error {
		return tx.MergeContext(runID, map[string]string{"branch": "one", "pr": "7"})
	}))
	require.NoError(t, s.WithTx(func(tx *Tx) error {
		return tx.MergeContext(runID, map[string]string{"branch": "two"})
	}))

	ctx, err := s.Read().GetContext(runID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"branch": "two", "pr": "7"}, ctx)
}

func TestResults(t *testing.T) {
	s := newTestStore(t)
	runID := createRun(t, s)

	require.NoError(t, s.WithTx(func(tx *Tx) error {
		for _, out := range []string{"first", "second"} {
			_, err := tx.AppendResult(&models.StepResult{
				RunID: runID, StepDefID: "plan", AgentID: "dev",
				Output: out, Status: models.ResultStatusDone,
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))

	results, err := s.Read().RunResults(runID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Output)

	last, err := s.Read().LastResult(runID, "plan")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "second", last.Output)

	none, err := s.Read().LastResult(runID, "ghost")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRollbackOnError(t *testing.T) {
	s := newTestStore(t)
	runID := createRun(t, s)

	wantErr := assert.AnError
	err := s.WithTx(func(tx *Tx) error {
		if err := tx.SetContext(runID, "key", "value"); err != nil {
			return err
		}
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	ctx, err := s.Read().GetContext(runID)
	require.NoError(t, err)
	assert.Empty(t, ctx)
}
