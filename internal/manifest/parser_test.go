package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/openclaw/antfarm/internal/fault"
	"github.com/openclaw/antfarm/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
id: feature-dev
name: Feature development
version: "1.0"
agents:
  - id: planner
    name: Planner
    workspace: planner
  - id: dev
  - id: verifier
  - id: lead
steps:
  - id: plan
    agent: planner
    input: |
      Task: {{task}}
    expects: "STORIES_JSON with the work breakdown"
  - id: implement
    agent: dev
    type: loop
    loop:
      over: stories
      completion: all_done
      verify_each: true
      verify_step: verify
    input: "{{current_story}}"
    max_retries: 3
    on_fail:
      retry_step: plan
      on_exhausted:
        escalate_to: lead
  - id: verify
    agent: verifier
    input: "Check {{current_story_id}}"
  - id: ship
    agent: dev
    input: "Ship it"
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParse_MapsSnakeCase(t *testing.T) {
	spec, err := Parse(writeManifest(t, sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, "feature-dev", spec.ID)
	assert.Equal(t, "Feature development", spec.Name)
	require.Len(t, spec.Agents, 4)
	require.Len(t, spec.Steps, 4)

	implement := spec.Step("implement")
	require.NotNil(t, implement)
	assert.Equal(t, models.StepTypeLoop, implement.Type)
	require.NotNil(t, implement.Loop)
	assert.Equal(t, "stories", implement.Loop.Over)
	assert.Equal(t, "all_done", implement.Loop.Completion)
	assert.True(t, implement.Loop.VerifyEach)
	assert.Equal(t, "verify", implement.Loop.VerifyStep)
	assert.True(t, implement.Loop.FreshSession, "fresh_session defaults to true")
	assert.Equal(t, 3, implement.MaxRetries)
	require.NotNil(t, implement.OnFail)
	assert.Equal(t, "plan", implement.OnFail.RetryStep)
	assert.Equal(t, "lead", implement.OnFail.EscalateTo)
}

func TestParse_Defaults(t *testing.T) {
	spec, err := Parse(writeManifest(t, sampleManifest))
	require.NoError(t, err)

	plan := spec.Step("plan")
	require.NotNil(t, plan)
	assert.Equal(t, models.StepTypeSingle, plan.Type)
	assert.Equal(t, DefaultMaxRetries, plan.MaxRetries)
	assert.Nil(t, plan.Loop)
	assert.Nil(t, plan.OnFail)
}

func TestParse_FreshSessionFalse(t *testing.T) {
	manifest := `
id: wf
name: wf
agents:
  - id: dev
steps:
  - id: work
    agent: dev
    type: loop
    loop:
      over: stories
      completion: all_done
      fresh_session: false
    input: x
`
	spec, err := Parse(writeManifest(t, manifest))
	require.NoError(t, err)
	assert.False(t, spec.Steps[0].Loop.FreshSession)
}

// Round-trip: manifest -> spec -> blob -> spec must be identical.
func TestParse_BlobRoundTrip(t *testing.T) {
	spec, err := Parse(writeManifest(t, sampleManifest))
	require.NoError(t, err)

	blob, err := json.Marshal(spec)
	require.NoError(t, err)

	var reread models.WorkflowSpec
	require.NoError(t, json.Unmarshal(blob, &reread))
	assert.Equal(t, *spec, reread)
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name     string
		manifest string
	}{
		{"missing id", `
name: wf
agents: [{id: dev}]
steps: [{id: s, agent: dev, input: x}]
`},
		{"no steps", `
id: wf
name: wf
agents: [{id: dev}]
`},
		{"unknown agent", `
id: wf
name: wf
agents: [{id: dev}]
steps: [{id: s, agent: ghost, input: x}]
`},
		{"duplicate step id", `
id: wf
name: wf
agents: [{id: dev}]
steps:
  - {id: s, agent: dev, input: x}
  - {id: s, agent: dev, input: y}
`},
		{"loop without config", `
id: wf
name: wf
agents: [{id: dev}]
steps: [{id: s, agent: dev, type: loop, input: x}]
`},
		{"verify_each without verify_step", `
id: wf
name: wf
agents: [{id: dev}]
steps:
  - id: s
    agent: dev
    type: loop
    loop: {over: stories, completion: all_done, verify_each: true}
    input: x
`},
		{"verify_step not found", `
id: wf
name: wf
agents: [{id: dev}]
steps:
  - id: s
    agent: dev
    type: loop
    loop: {over: stories, completion: all_done, verify_each: true, verify_step: ghost}
    input: x
`},
		{"retry_step not found", `
id: wf
name: wf
agents: [{id: dev}]
steps:
  - id: s
    agent: dev
    input: x
    on_fail: {retry_step: ghost}
`},
		{"bad loop over", `
id: wf
name: wf
agents: [{id: dev}]
steps:
  - id: s
    agent: dev
    type: loop
    loop: {over: files, completion: all_done}
    input: x
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(writeManifest(t, tc.manifest))
			require.Error(t, err)
			assert.Equal(t, fault.ValidationError, fault.CodeOf(err))
		})
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wf.yaml"), []byte(sampleManifest), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	specs, err := LoadAll(dir)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Contains(t, specs, "feature-dev")
}

func TestLoadAll_MissingDir(t *testing.T) {
	specs, err := LoadAll(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, specs)
}
