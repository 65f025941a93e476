package application

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davarch/ci-orchestrator/internal/domain"
	"github.com/davarch/ci-orchestrator/internal/workflow"
)

func writeFile(path string) error { return os.WriteFile(path, nil, 0o644) }

func loadProject(t *testing.T) []*domain.Workflow {
	t.Helper()
	paths, err := workflow.Discover("../workflow/testdata/project")
	require.NoError(t, err)
	wfs, err := workflow.LoadAll(paths)
	require.NoError(t, err)
	return wfs
}

func TestDispatch_TagPushRunsTriggeredWorkflows(t *testing.T) {
	h := newHarness(t, nil)
	runs := &domain.MockRuns{}
	note := &domain.MockNotifier{}
	d := NewDispatcher(zap.NewNop(), h.orch, NewReporter(zap.NewNop(), runs, note, nil, ""), loadProject(t))

	// No release archives exist in the project dir, so publishing fails.
	got, err := d.Dispatch(context.Background(), tagPush("v1.2.3"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "gitlab-ci", got[0].Workflow)
	assert.Equal(t, "Release", got[1].Workflow)
	assert.Equal(t, domain.StatusSuccess, got[0].Status)
	assert.Equal(t, domain.StatusFailed, got[1].Status)
	assert.Len(t, runs.Runs, 2)
	assert.Len(t, note.Messages, 2)
}

func TestDispatch_PlanErrorsDoNotStopOtherWorkflows(t *testing.T) {
	broken := &domain.Workflow{
		Name:     "broken",
		Provider: domain.ProviderGitHub,
		Triggers: []domain.Trigger{{Event: domain.EventPush}},
		Jobs:     []domain.Job{{Name: "a", Needs: []string{"ghost"}, Steps: []domain.Step{{Run: "x"}}}},
	}
	ok := &domain.Workflow{
		Name:     "ok",
		Provider: domain.ProviderGitHub,
		Triggers: []domain.Trigger{{Event: domain.EventPush}},
		Jobs:     []domain.Job{{Name: "b", Steps: []domain.Step{{Run: "echo b"}}}},
	}
	h := newHarness(t, nil)
	d := NewDispatcher(zap.NewNop(), h.orch, nil, []*domain.Workflow{broken})
	d.UpdateWorkflows([]*domain.Workflow{broken, ok})

	runs, err := d.Dispatch(context.Background(), domain.Event{Kind: domain.EventPush, Ref: "refs/heads/main"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
	require.Len(t, runs, 1)
	assert.Equal(t, "ok", runs[0].Workflow)
	assert.Equal(t, []string{"echo b"}, h.runner.Ran())
}
