// Package workspace manages the per-agent directories under an
// installed workflow and the progress.txt bridge between the developer
// agent and the step engine.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openclaw/antfarm/internal/fault"
	"github.com/openclaw/antfarm/internal/models"
)

// NoProgress is injected as {{progress}} when the developer agent has
// not written a progress file yet.
const NoProgress = "(no progress yet)"

const progressFile = "progress.txt"

type Bridge struct {
	// root is the directory under which each workflow keeps one
	// workspace directory per agent.
	root string
}

func NewBridge(root string) *Bridge {
	return &Bridge{root: root}
}

// AgentDir resolves an agent's workspace directory. A manifest may name
// an absolute workspace; relative or empty workspaces live under
// <root>/<workflowID>/<agentID or workspace>.
func (b *Bridge) AgentDir(workflowID string, agent *models.AgentSpec) string {
	ws := agent.Workspace
	if ws == "" {
		ws = agent.ID
	}
	if filepath.IsAbs(ws) {
		return ws
	}
	return filepath.Join(b.root, workflowID, ws)
}

// EnsureDirs creates the workspace directory for every agent in the
// spec. Called by the installer.
func (b *Bridge) EnsureDirs(spec *models.WorkflowSpec) error {
	for i := range spec.Agents {
		dir := b.AgentDir(spec.ID, &spec.Agents[i])
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fault.Wrap(fault.IOFailure, err, "create workspace %s", dir)
		}
	}
	return nil
}

// ReadProgress returns the content of the agent's progress.txt with
// trailing newlines trimmed, or NoProgress when the file is missing,
// unreadable or empty. A torn concurrent read
// yields a truncated string, which is tolerated as informational.
func (b *Bridge) ReadProgress(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, progressFile))
	if err != nil {
		return NoProgress
	}
	content := strings.TrimRight(string(data), "\n")
	if content == "" {
		return NoProgress
	}
	return content
}

// ArchiveProgress moves progress.txt to archive/<runID>/progress.txt
// beneath the same workspace. A missing progress file is not an error;
// the run simply never reported progress.
func (b *Bridge) ArchiveProgress(dir string, runID int64) error {
	src := filepath.Join(dir, progressFile)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}

	archiveDir := filepath.Join(dir, "archive", fmt.Sprintf("%d", runID))
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fault.Wrap(fault.IOFailure, err, "create archive dir %s", archiveDir)
	}

	dst := filepath.Join(archiveDir, progressFile)
	if err := os.Rename(src, dst); err != nil {
		return fault.Wrap(fault.IOFailure, err, "archive %s", src)
	}
	return nil
}

// Remove deletes a workflow's directory tree. Used on uninstall.
func (b *Bridge) Remove(workflowID string) error {
	if err := os.RemoveAll(filepath.Join(b.root, workflowID)); err != nil {
		return fault.Wrap(fault.IOFailure, err, "remove workflow workspaces %s", workflowID)
	}
	return nil
}
