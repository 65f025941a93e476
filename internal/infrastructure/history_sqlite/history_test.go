package history_sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func run(id, wf, ref string, status domain.RunStatus, started time.Time) domain.Run {
	return domain.Run{
		ID:         id,
		Workflow:   wf,
		Provider:   domain.ProviderGitHub,
		Event:      domain.Event{Kind: domain.EventPush, Ref: ref},
		Status:     status,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Jobs: []domain.JobResult{{
			ID:          "test (ubuntu-latest, 3.8)",
			Job:         "test",
			Status:      domain.JobSuccess,
			Combination: domain.Combination{{Key: "os", Value: "ubuntu-latest"}, {Key: "python", Value: "3.8"}},
			Started:     started,
			Finished:    started.Add(time.Minute),
		}},
	}
}

func TestSaveGet_RoundTripsJobs(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	want := run("r1", "Release", "refs/tags/v1.0", domain.StatusSuccess, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("run mismatch (-want +got):\n%s", diff)
	}

	_, err = s.Get(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestSave_ReplacesByID(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, run("r1", "CI", "refs/heads/main", domain.StatusRunning, start)))
	require.NoError(t, s.Save(ctx, run("r1", "CI", "refs/heads/main", domain.StatusFailed, start)))

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.StatusFailed, all[0].Status)
}

func TestListAndLatest(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, run("a", "CI", "refs/heads/main", domain.StatusSuccess, base)))
	require.NoError(t, s.Save(ctx, run("b", "CI", "refs/heads/dev", domain.StatusFailed, base.Add(time.Hour))))
	require.NoError(t, s.Save(ctx, run("c", "CI", "refs/heads/main", domain.StatusFailed, base.Add(2*time.Hour))))

	recent, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].ID)
	assert.Equal(t, "b", recent[1].ID)

	latest, err := s.Latest(ctx, "CI", "refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)

	_, err = s.Latest(ctx, "Release", "refs/heads/main")
	require.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), run("r1", "CI", "refs/heads/main", domain.StatusSuccess, time.Now().UTC())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	_, err = s.Get(context.Background(), "r1")
	require.NoError(t, err)
}
