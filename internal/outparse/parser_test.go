package outparse

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/openclaw/antfarm/internal/fault"
	"github.com/openclaw/antfarm/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DefaultsToDone(t *testing.T) {
	res, err := Parse("did the thing, all good")
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusDone, res.Status)
	assert.Empty(t, res.Context)
	assert.False(t, res.HasStories)
}

func TestParse_Status(t *testing.T) {
	for _, status := range []string{"done", "retry", "blocked"} {
		res, err := Parse("STATUS: " + status)
		require.NoError(t, err)
		assert.Equal(t, models.ResultStatus(status), res.Status)
	}
}

func TestParse_UnknownStatusBecomesContext(t *testing.T) {
	res, err := Parse("STATUS: maybe")
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusDone, res.Status)
	assert.Equal(t, "maybe", res.Context["status"])
}

func TestParse_ContextWrites(t *testing.T) {
	output := strings.Join([]string{
		"some narrative text",
		"BRANCH_NAME: feature/login",
		"PR_URL: https://example.com/pr/7",
		"not a key: value",
		"lower_key: skipped",
	}, "\n")

	res, err := Parse(output)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"branch_name": "feature/login",
		"pr_url":      "https://example.com/pr/7",
	}, res.Context)
}

func TestParse_KeyRequiresSpaceAfterColon(t *testing.T) {
	res, err := Parse("KEY:novalue")
	require.NoError(t, err)
	assert.Empty(t, res.Context)
}

func storiesJSON(n int) string {
	stories := make([]StoryDraft, n)
	for i := range stories {
		stories[i] = StoryDraft{
			ID:                 fmt.Sprintf("US-%03d", i+1),
			Title:              fmt.Sprintf("Story %d", i+1),
			Description:        "do the work",
			AcceptanceCriteria: []string{"it works"},
		}
	}
	data, _ := json.Marshal(stories)
	return string(data)
}

func TestParse_StoriesJSON(t *testing.T) {
	res, err := Parse("STATUS: done\nSTORIES_JSON: " + storiesJSON(2))
	require.NoError(t, err)
	require.True(t, res.HasStories)
	require.Len(t, res.Stories, 2)
	assert.Equal(t, "US-001", res.Stories[0].ID)
	assert.Equal(t, []string{"it works"}, res.Stories[0].AcceptanceCriteria)
}

func TestParse_StoriesJSONSpansLines(t *testing.T) {
	output := strings.Join([]string{
		`STORIES_JSON: [`,
		`  {"id": "US-1", "title": "One", "description": "d", "acceptanceCriteria": ["a"]},`,
		`  {"id": "US-2", "title": "Two", "description": "d", "acceptanceCriteria": ["b"]}`,
		`]`,
		`NEXT_KEY: stops the span`,
	}, "\n")

	res, err := Parse(output)
	require.NoError(t, err)
	require.Len(t, res.Stories, 2)
	assert.Equal(t, "stops the span", res.Context["next_key"])
}

func TestParse_StoriesAtLimit(t *testing.T) {
	res, err := Parse("STORIES_JSON: " + storiesJSON(20))
	require.NoError(t, err)
	assert.Len(t, res.Stories, 20)
}

func TestParse_StoriesOverLimit(t *testing.T) {
	_, err := Parse("STORIES_JSON: " + storiesJSON(21))
	require.Error(t, err)
	assert.Equal(t, fault.ParseError, fault.CodeOf(err))
}

func TestParse_StoriesDuplicateID(t *testing.T) {
	raw := `[{"id":"US-1","title":"a","description":"d","acceptanceCriteria":["x"]},
	         {"id":"US-1","title":"b","description":"d","acceptanceCriteria":["y"]}]`
	_, err := Parse("STORIES_JSON: " + raw)
	require.Error(t, err)
	assert.Equal(t, fault.ParseError, fault.CodeOf(err))
}

func TestParse_StoriesMissingCriteria(t *testing.T) {
	raw := `[{"id":"US-1","title":"a","description":"d","acceptanceCriteria":[]}]`
	_, err := Parse("STORIES_JSON: " + raw)
	require.Error(t, err)
	assert.Equal(t, fault.ParseError, fault.CodeOf(err))
}

func TestParse_StoriesInvalidJSON(t *testing.T) {
	_, err := Parse("STORIES_JSON: [{not json")
	require.Error(t, err)
	assert.Equal(t, fault.ParseError, fault.CodeOf(err))
}

func TestParse_IssuesOnRetry(t *testing.T) {
	output := strings.Join([]string{
		"STATUS: retry",
		"ISSUES: no tests",
		"still part of the issues block",
	}, "\n")

	res, err := Parse(output)
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusRetry, res.Status)
	assert.Equal(t, "no tests\nstill part of the issues block", res.Issues)
}

func TestParse_IssuesDiscardedOnDone(t *testing.T) {
	res, err := Parse("STATUS: done\nISSUES: ignore me")
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusDone, res.Status)
	assert.Empty(t, res.Issues)
}

func TestParse_IssuesStopsAtNextKey(t *testing.T) {
	output := strings.Join([]string{
		"STATUS: retry",
		"ISSUES: missing error handling",
		"BRANCH: fix/retry",
	}, "\n")

	res, err := Parse(output)
	require.NoError(t, err)
	assert.Equal(t, "missing error handling", res.Issues)
	assert.Equal(t, "fix/retry", res.Context["branch"])
}
