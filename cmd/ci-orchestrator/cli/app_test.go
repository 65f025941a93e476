package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davarch/ci-orchestrator/internal/infrastructure/config"
)

const project = "../../../internal/workflow/testdata/project"

func TestLoadWorkflows_Discovers(t *testing.T) {
	cfg := config.Config{Workspace: project}
	wfs, err := loadWorkflows(cfg)
	require.NoError(t, err)
	assert.Len(t, wfs, 5)
}

func TestLoadWorkflows_OnlyEnabled(t *testing.T) {
	cfg := config.Config{Workspace: project, Workflows: []config.Workflow{
		{Path: ".gitlab-ci.yml", Enabled: true},
		{Path: ".github/workflows/release.yml", Enabled: false},
	}}
	wfs, err := loadWorkflows(cfg)
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	assert.Equal(t, filepath.Join(project, ".gitlab-ci.yml"), wfs[0].Path)
}

func TestLoadWorkflows_KeepsValidOnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("jobs: [\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cycle.yml"), []byte(`
on: push
jobs:
  a:
    needs: b
    steps: [{run: "true"}]
  b:
    needs: a
    steps: [{run: "true"}]
`), 0o644))

	cfg := config.Config{Workspace: project, Workflows: []config.Workflow{
		{Path: ".gitlab-ci.yml", Enabled: true},
		{Path: filepath.Join(dir, "broken.yml"), Enabled: true},
		{Path: filepath.Join(dir, "cycle.yml"), Enabled: true},
	}}
	wfs, err := loadWorkflows(cfg)
	require.Error(t, err)
	assert.Len(t, wfs, 1)
}
