package engine

import (
	"github.com/openclaw/antfarm/internal/models"
)

// RunDetail is the full read-only view of one run for the CLI and
// dashboard.
type RunDetail struct {
	Run     *models.Run
	Steps   []*models.StepInstance
	Stories []*models.Story
	Results []*models.StepResult
	Context map[string]string
}

func (e *Engine) ListRuns(limit int) ([]*models.Run, error) {
	return e.store.Read().ListRuns(limit)
}

func (e *Engine) GetRun(runID int64) (*RunDetail, error) {
	tx := e.store.Read()

	run, err := tx.GetRun(runID)
	if err != nil {
		return nil, err
	}
	steps, err := tx.RunSteps(runID)
	if err != nil {
		return nil, err
	}
	stories, err := tx.RunStories(runID)
	if err != nil {
		return nil, err
	}
	results, err := tx.RunResults(runID)
	if err != nil {
		return nil, err
	}
	context, err := tx.GetContext(runID)
	if err != nil {
		return nil, err
	}

	return &RunDetail{
		Run:     run,
		Steps:   steps,
		Stories: stories,
		Results: results,
		Context: context,
	}, nil
}

func (e *Engine) ListStories(runID int64) ([]*models.Story, error) {
	if _, err := e.store.Read().GetRun(runID); err != nil {
		return nil, err
	}
	return e.store.Read().RunStories(runID)
}
