package storage

import (
	"database/sql"
	"encoding/json"

	"github.com/openclaw/antfarm/internal/fault"
	"github.com/openclaw/antfarm/internal/models"
)

const storyColumns = `id, run_id, story_index, story_id, title, description, acceptance_criteria, status, output, retry_count, max_retries`

func (t *Tx) CreateStory(story *models.Story) (int64, error) {
	criteria, err := json.Marshal(story.AcceptanceCriteria)
	if err != nil {
		return 0, fault.Wrap(fault.StoreError, err, "marshal acceptance criteria")
	}

	res, err := t.q.Exec(
		`INSERT INTO stories (run_id, story_index, story_id, title, description, acceptance_criteria, status, output, retry_count, max_retries)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		story.RunID, story.StoryIndex, story.StoryID, story.Title, story.Description,
		string(criteria), story.Status, story.Output, story.RetryCount, story.MaxRetries,
	)
	if err != nil {
		return 0, fault.Wrap(fault.StoreError, err, "create story %s", story.StoryID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fault.Wrap(fault.StoreError, err, "create story %s", story.StoryID)
	}
	return id, nil
}

func scanStory(row rowScanner) (*models.Story, error) {
	var story models.Story
	var criteria string

	err := row.Scan(
		&story.ID, &story.RunID, &story.StoryIndex, &story.StoryID, &story.Title,
		&story.Description, &criteria, &story.Status, &story.Output,
		&story.RetryCount, &story.MaxRetries,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(criteria), &story.AcceptanceCriteria); err != nil {
		return nil, err
	}
	return &story, nil
}

func (t *Tx) GetStory(id int64) (*models.Story, error) {
	story, err := scanStory(t.q.QueryRow(`SELECT `+storyColumns+` FROM stories WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "story %d", id)
	}
	return story, nil
}

func (t *Tx) RunStories(runID int64) ([]*models.Story, error) {
	rows, err := t.q.Query(`SELECT `+storyColumns+` FROM stories WHERE run_id = ? ORDER BY story_index`, runID)
	if err != nil {
		return nil, fault.Wrap(fault.StoreError, err, "list stories for run %d", runID)
	}
	defer rows.Close()

	var stories []*models.Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fault.Wrap(fault.StoreError, err, "scan story")
		}
		stories = append(stories, story)
	}
	return stories, rows.Err()
}

// NextPendingStory returns the lowest-indexed pending story for the
// run, or nil when none remain.
func (t *Tx) NextPendingStory(runID int64) (*models.Story, error) {
	story, err := scanStory(t.q.QueryRow(
		`SELECT `+storyColumns+` FROM stories WHERE run_id = ? AND status = 'pending' ORDER BY story_index LIMIT 1`,
		runID,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fault.Wrap(fault.StoreError, err, "next pending story for run %d", runID)
	}
	return story, nil
}

func (t *Tx) CountPendingStories(runID int64) (int, error) {
	var n int
	err := t.q.QueryRow(`SELECT COUNT(*) FROM stories WHERE run_id = ? AND status = 'pending'`, runID).Scan(&n)
	if err != nil {
		return 0, fault.Wrap(fault.StoreError, err, "count pending stories for run %d", runID)
	}
	return n, nil
}

func (t *Tx) CountStories(runID int64) (int, error) {
	var n int
	err := t.q.QueryRow(`SELECT COUNT(*) FROM stories WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fault.Wrap(fault.StoreError, err, "count stories for run %d", runID)
	}
	return n, nil
}

func (t *Tx) UpdateStoryStatus(id int64, status models.StoryStatus) error {
	_, err := t.q.Exec(`UPDATE stories SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fault.Wrap(fault.StoreError, err, "update story %d status", id)
	}
	return nil
}

func (t *Tx) UpdateStoryOutput(id int64, output string) error {
	_, err := t.q.Exec(`UPDATE stories SET output = ? WHERE id = ?`, output, id)
	if err != nil {
		return fault.Wrap(fault.StoreError, err, "update story %d output", id)
	}
	return nil
}

func (t *Tx) UpdateStoryRetryCount(id int64, count int) error {
	_, err := t.q.Exec(`UPDATE stories SET retry_count = ? WHERE id = ?`, count, id)
	if err != nil {
		return fault.Wrap(fault.StoreError, err, "update story %d retry count", id)
	}
	return nil
}
