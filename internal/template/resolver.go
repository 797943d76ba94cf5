package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/openclaw/antfarm/internal/models"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Resolve substitutes every {{name}} occurrence in tmpl with vars[name].
// Unknown names resolve to the empty string; resolution never fails.
func Resolve(tmpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		return vars[name]
	})
}

// LoopVars builds the dynamic variables available to steps inside a run
// that has stories. current may be nil when no story is in flight.
func LoopVars(current *models.Story, stories []*models.Story) map[string]string {
	vars := map[string]string{
		"current_story":       "",
		"current_story_id":    "",
		"current_story_title": "",
	}

	if current != nil {
		vars["current_story"] = FormatStory(current)
		vars["current_story_id"] = current.StoryID
		vars["current_story_title"] = current.Title
	}

	var completed []string
	remaining := 0
	for _, s := range stories {
		switch s.Status {
		case models.StoryStatusDone:
			completed = append(completed, fmt.Sprintf("- %s: %s", s.StoryID, s.Title))
		case models.StoryStatusPending:
			remaining++
		}
	}
	vars["completed_stories"] = strings.Join(completed, "\n")
	vars["stories_remaining"] = fmt.Sprintf("%d", remaining)

	return vars
}

// FormatStory renders a story as the block injected into prompts:
// header line, description, then numbered acceptance criteria.
func FormatStory(s *models.Story) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Story %s: %s\n", s.StoryID, s.Title)
	if s.Description != "" {
		b.WriteString(s.Description)
		b.WriteString("\n")
	}
	if len(s.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance Criteria:\n")
		for i, c := range s.AcceptanceCriteria {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
