// Package outparse interprets free-form agent output: the STATUS line,
// KEY: VALUE context writes, the STORIES_JSON work list, and the
// ISSUES block a verifier attaches to a retry.
package outparse

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/openclaw/antfarm/internal/fault"
	"github.com/openclaw/antfarm/internal/models"
)

// MaxStories bounds a single STORIES_JSON work list.
const MaxStories = 20

var keyLineRe = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*:\s`)

// StoryDraft is one element of a STORIES_JSON array before it becomes
// a stored story.
type StoryDraft struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
}

// Result is the interpreted form of one agent output.
type Result struct {
	Status  models.ResultStatus
	Context map[string]string
	Stories []StoryDraft
	// HasStories distinguishes an empty parsed array from no marker.
	HasStories bool
	// Issues is populated only when Status is retry.
	Issues string
}

// Parse scans output line by line. Absence of a STATUS line means done.
// A malformed STORIES_JSON payload returns a ParseError; the caller is
// expected to fail the step with it.
func Parse(output string) (*Result, error) {
	res := &Result{
		Status:  models.ResultStatusDone,
		Context: make(map[string]string),
	}

	var storiesRaw string
	var sawStories bool
	var issues string
	var sawIssues bool

	lines := strings.Split(output, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if rest, ok := strings.CutPrefix(line, "STORIES_JSON:"); ok {
			span := []string{strings.TrimSpace(rest)}
			j := i + 1
			for ; j < len(lines) && !keyLineRe.MatchString(lines[j]); j++ {
				span = append(span, lines[j])
			}
			storiesRaw = strings.Join(span, "\n")
			sawStories = true
			i = j - 1
			continue
		}

		if rest, ok := strings.CutPrefix(line, "ISSUES:"); ok {
			span := []string{strings.TrimSpace(rest)}
			j := i + 1
			for ; j < len(lines) && !keyLineRe.MatchString(lines[j]); j++ {
				span = append(span, lines[j])
			}
			issues = strings.TrimSpace(strings.Join(span, "\n"))
			sawIssues = true
			i = j - 1
			continue
		}

		if !keyLineRe.MatchString(line) {
			continue
		}

		key, value, _ := strings.Cut(line, ":")
		value = strings.TrimSpace(value)

		if key == "STATUS" {
			switch value {
			case "done", "retry", "blocked":
				res.Status = models.ResultStatus(value)
				continue
			}
			// Unrecognized status values fall through as context.
		}

		res.Context[strings.ToLower(key)] = value
	}

	if sawStories {
		stories, err := parseStories(storiesRaw)
		if err != nil {
			return nil, err
		}
		res.Stories = stories
		res.HasStories = true
	}

	if sawIssues && res.Status == models.ResultStatusRetry {
		res.Issues = issues
	}

	return res, nil
}

func parseStories(raw string) ([]StoryDraft, error) {
	var drafts []StoryDraft
	if err := json.Unmarshal([]byte(raw), &drafts); err != nil {
		return nil, fault.Wrap(fault.ParseError, err, "STORIES_JSON is not a valid JSON array")
	}

	if len(drafts) > MaxStories {
		return nil, fault.New(fault.ParseError, "STORIES_JSON has %d entries, maximum is %d", len(drafts), MaxStories)
	}

	seen := make(map[string]bool, len(drafts))
	for i, d := range drafts {
		if d.ID == "" {
			return nil, fault.New(fault.ParseError, "story %d has no id", i)
		}
		if seen[d.ID] {
			return nil, fault.New(fault.ParseError, "duplicate story id %q", d.ID)
		}
		seen[d.ID] = true
		if d.Title == "" {
			return nil, fault.New(fault.ParseError, "story %q has no title", d.ID)
		}
		if d.Description == "" {
			return nil, fault.New(fault.ParseError, "story %q has no description", d.ID)
		}
		if len(d.AcceptanceCriteria) == 0 {
			return nil, fault.New(fault.ParseError, "story %q has no acceptance criteria", d.ID)
		}
	}

	return drafts, nil
}
