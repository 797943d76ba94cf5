// Package manifest reads declarative workflow manifests. Manifests are
// authored in snake_case YAML; parsing maps them onto the internal
// camelCase model and applies documented defaults.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openclaw/antfarm/internal/fault"
	"github.com/openclaw/antfarm/internal/models"
	"gopkg.in/yaml.v3"
)

// DefaultMaxRetries applies to steps that do not set max_retries.
const DefaultMaxRetries = 2

type rawManifest struct {
	ID      string     `yaml:"id"`
	Name    string     `yaml:"name"`
	Version string     `yaml:"version"`
	Agents  []rawAgent `yaml:"agents"`
	Steps   []rawStep  `yaml:"steps"`
}

type rawAgent struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Workspace   string `yaml:"workspace"`
}

type rawStep struct {
	ID         string     `yaml:"id"`
	Agent      string     `yaml:"agent"`
	Type       string     `yaml:"type"`
	Loop       *rawLoop   `yaml:"loop"`
	Input      string     `yaml:"input"`
	Expects    string     `yaml:"expects"`
	MaxRetries *int       `yaml:"max_retries"`
	OnFail     *rawOnFail `yaml:"on_fail"`
}

type rawLoop struct {
	Over         string `yaml:"over"`
	Completion   string `yaml:"completion"`
	FreshSession *bool  `yaml:"fresh_session"`
	VerifyEach   bool   `yaml:"verify_each"`
	VerifyStep   string `yaml:"verify_step"`
}

type rawOnFail struct {
	RetryStep   string        `yaml:"retry_step"`
	MaxRetries  *int          `yaml:"max_retries"`
	OnExhausted *rawExhausted `yaml:"on_exhausted"`
}

type rawExhausted struct {
	EscalateTo string `yaml:"escalate_to"`
}

// Parse reads and validates a workflow manifest file.
func Parse(path string) (*models.WorkflowSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.IOFailure, err, "read manifest %s", path)
	}
	return ParseBytes(data)
}

// ParseBytes parses a manifest from memory.
func ParseBytes(data []byte) (*models.WorkflowSpec, error) {
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fault.Wrap(fault.ValidationError, err, "manifest is not valid YAML")
	}

	spec := &models.WorkflowSpec{
		ID:      raw.ID,
		Name:    raw.Name,
		Version: raw.Version,
	}

	for _, a := range raw.Agents {
		spec.Agents = append(spec.Agents, models.AgentSpec{
			ID:          a.ID,
			Name:        a.Name,
			Description: a.Description,
			Workspace:   a.Workspace,
		})
	}

	for _, s := range raw.Steps {
		step := models.StepSpec{
			ID:         s.ID,
			Agent:      s.Agent,
			Type:       models.StepTypeSingle,
			Input:      s.Input,
			Expects:    s.Expects,
			MaxRetries: DefaultMaxRetries,
		}
		if s.Type != "" {
			step.Type = models.StepType(s.Type)
		}
		if s.MaxRetries != nil {
			step.MaxRetries = *s.MaxRetries
		}
		if s.Loop != nil {
			loop := &models.LoopSpec{
				Over:         s.Loop.Over,
				Completion:   s.Loop.Completion,
				FreshSession: true,
				VerifyEach:   s.Loop.VerifyEach,
				VerifyStep:   s.Loop.VerifyStep,
			}
			if s.Loop.FreshSession != nil {
				loop.FreshSession = *s.Loop.FreshSession
			}
			step.Loop = loop
		}
		if s.OnFail != nil {
			if s.OnFail.MaxRetries != nil {
				step.MaxRetries = *s.OnFail.MaxRetries
			}
			onFail := &models.OnFailSpec{RetryStep: s.OnFail.RetryStep}
			if s.OnFail.OnExhausted != nil {
				onFail.EscalateTo = s.OnFail.OnExhausted.EscalateTo
			}
			if onFail.RetryStep != "" || onFail.EscalateTo != "" {
				step.OnFail = onFail
			}
		}
		spec.Steps = append(spec.Steps, step)
	}

	if err := Validate(spec); err != nil {
		return nil, err
	}

	return spec, nil
}

// Validate checks structural and cross-reference constraints.
func Validate(spec *models.WorkflowSpec) error {
	if spec.ID == "" {
		return fault.New(fault.ValidationError, "workflow must have an id")
	}
	if spec.Name == "" {
		return fault.New(fault.ValidationError, "workflow must have a name")
	}
	if len(spec.Agents) == 0 {
		return fault.New(fault.ValidationError, "workflow must define at least one agent")
	}
	if len(spec.Steps) == 0 {
		return fault.New(fault.ValidationError, "workflow must define at least one step")
	}

	agents := make(map[string]bool, len(spec.Agents))
	for _, a := range spec.Agents {
		if a.ID == "" {
			return fault.New(fault.ValidationError, "agent must have an id")
		}
		if agents[a.ID] {
			return fault.New(fault.ValidationError, "duplicate agent id %q", a.ID)
		}
		agents[a.ID] = true
	}

	stepIDs := make(map[string]bool, len(spec.Steps))
	for _, s := range spec.Steps {
		if s.ID == "" {
			return fault.New(fault.ValidationError, "step must have an id")
		}
		if stepIDs[s.ID] {
			return fault.New(fault.ValidationError, "duplicate step id %q", s.ID)
		}
		stepIDs[s.ID] = true
	}

	for _, s := range spec.Steps {
		if !agents[s.Agent] {
			return fault.New(fault.ValidationError, "step %q references unknown agent %q", s.ID, s.Agent)
		}

		switch s.Type {
		case models.StepTypeSingle:
			if s.Loop != nil {
				return fault.New(fault.ValidationError, "step %q is not a loop but has loop config", s.ID)
			}
		case models.StepTypeLoop:
			if s.Loop == nil {
				return fault.New(fault.ValidationError, "loop step %q has no loop config", s.ID)
			}
			if s.Loop.Over != "stories" {
				return fault.New(fault.ValidationError, "loop step %q: over must be \"stories\", got %q", s.ID, s.Loop.Over)
			}
			if s.Loop.Completion != "all_done" {
				return fault.New(fault.ValidationError, "loop step %q: completion must be \"all_done\", got %q", s.ID, s.Loop.Completion)
			}
			if s.Loop.VerifyEach {
				if s.Loop.VerifyStep == "" {
					return fault.New(fault.ValidationError, "loop step %q has verify_each but no verify_step", s.ID)
				}
				if s.Loop.VerifyStep == s.ID || !stepIDs[s.Loop.VerifyStep] {
					return fault.New(fault.ValidationError, "loop step %q: verify_step %q not found", s.ID, s.Loop.VerifyStep)
				}
			}
		default:
			return fault.New(fault.ValidationError, "step %q has unknown type %q", s.ID, s.Type)
		}

		if s.OnFail != nil && s.OnFail.RetryStep != "" && !stepIDs[s.OnFail.RetryStep] {
			return fault.New(fault.ValidationError, "step %q: retry_step %q not found", s.ID, s.OnFail.RetryStep)
		}
		if s.OnFail != nil && s.OnFail.EscalateTo != "" && !agents[s.OnFail.EscalateTo] {
			return fault.New(fault.ValidationError, "step %q: escalate_to agent %q not found", s.ID, s.OnFail.EscalateTo)
		}
		if s.MaxRetries < 0 {
			return fault.New(fault.ValidationError, "step %q: max_retries must not be negative", s.ID)
		}
	}

	return nil
}

// LoadAll parses every manifest in dir, keyed by workflow id. Missing
// directories are skipped.
func LoadAll(dir string) (map[string]*models.WorkflowSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*models.WorkflowSpec{}, nil
		}
		return nil, fault.Wrap(fault.IOFailure, err, "read manifest dir %s", dir)
	}

	specs := make(map[string]*models.WorkflowSpec)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		spec, err := Parse(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		specs[spec.ID] = spec
	}

	return specs, nil
}
