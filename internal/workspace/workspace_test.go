package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openclaw/antfarm/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentDir(t *testing.T) {
	b := NewBridge("/data/workflows")

	assert.Equal(t, "/data/workflows/wf/devspace",
		b.AgentDir("wf", &models.AgentSpec{ID: "dev", Workspace: "devspace"}))
	assert.Equal(t, "/data/workflows/wf/dev",
		b.AgentDir("wf", &models.AgentSpec{ID: "dev"}))
	assert.Equal(t, "/abs/elsewhere",
		b.AgentDir("wf", &models.AgentSpec{ID: "dev", Workspace: "/abs/elsewhere"}))
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	b := NewBridge(root)

	spec := &models.WorkflowSpec{
		ID: "wf",
		Agents: []models.AgentSpec{
			{ID: "dev"},
			{ID: "verifier", Workspace: "checks"},
		},
	}
	require.NoError(t, b.EnsureDirs(spec))

	assert.DirExists(t, filepath.Join(root, "wf", "dev"))
	assert.DirExists(t, filepath.Join(root, "wf", "checks"))
}

func TestReadProgress(t *testing.T) {
	root := t.TempDir()
	b := NewBridge(root)
	dir := filepath.Join(root, "wf", "dev")
	require.NoError(t, os.MkdirAll(dir, 0755))

	assert.Equal(t, NoProgress, b.ReadProgress(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "progress.txt"), []byte("hello\n"), 0644))
	assert.Equal(t, "hello", b.ReadProgress(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "progress.txt"), []byte(""), 0644))
	assert.Equal(t, NoProgress, b.ReadProgress(dir))
}

func TestArchiveProgress(t *testing.T) {
	root := t.TempDir()
	b := NewBridge(root)
	dir := filepath.Join(root, "wf", "dev")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "progress.txt"), []byte("done work"), 0644))

	require.NoError(t, b.ArchiveProgress(dir, 7))

	assert.NoFileExists(t, filepath.Join(dir, "progress.txt"))
	data, err := os.ReadFile(filepath.Join(dir, "archive", "7", "progress.txt"))
	require.NoError(t, err)
	assert.Equal(t, "done work", string(data))
}

func TestArchiveProgress_MissingFile(t *testing.T) {
	root := t.TempDir()
	b := NewBridge(root)
	dir := filepath.Join(root, "wf", "dev")
	require.NoError(t, os.MkdirAll(dir, 0755))

	require.NoError(t, b.ArchiveProgress(dir, 7))
}
