package application

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

func finishedRun(id string, status domain.RunStatus) domain.Run {
	return domain.Run{
		ID:       id,
		Workflow: "Release",
		Event:    domain.Event{Kind: domain.EventPush, Ref: "refs/tags/v1.0"},
		Status:   status,
	}
}

func TestReport_NewRunTriggersNotifyAndCache(t *testing.T) {
	runs := &domain.MockRuns{}
	note := &domain.MockNotifier{}
	cache := &domain.MockCache{}
	r := NewReporter(zap.NewNop(), runs, note, cache, "http://localhost:8080")

	if err := r.Report(context.Background(), finishedRun("r1", domain.StatusSuccess)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(note.Messages) != 1 {
		t.Errorf("expected 1 notification, got %d", len(note.Messages))
	}
	if want := "✅ CI: success|Release on v1.0|http://localhost:8080/runs/r1"; note.Messages[0] != want {
		t.Errorf("message = %q, want %q", note.Messages[0], want)
	}
	if len(cache.Snapshots) != 1 || cache.Snapshots[0].RunID != "r1" {
		t.Errorf("expected snapshot of r1, got %+v", cache.Snapshots)
	}
	if len(runs.Runs) != 1 {
		t.Errorf("expected run saved, got %d", len(runs.Runs))
	}
}

func TestReport_SameStatusDoesNotNotifyAgain(t *testing.T) {
	note := &domain.MockNotifier{}
	cache := &domain.MockCache{}
	r := NewReporter(zap.NewNop(), &domain.MockRuns{}, note, cache, "")

	_ = r.Report(context.Background(), finishedRun("r1", domain.StatusSuccess))
	_ = r.Report(context.Background(), finishedRun("r2", domain.StatusSuccess))
	_ = r.Report(context.Background(), finishedRun("r3", domain.StatusFailed))

	if len(note.Messages) != 2 {
		t.Errorf("expected 2 notifications total, got %d", len(note.Messages))
	}
	if len(cache.Snapshots) != 3 {
		t.Errorf("expected a snapshot per run, got %d", len(cache.Snapshots))
	}
}

func TestReport_PreviousStatusFromHistory(t *testing.T) {
	runs := &domain.MockRuns{Runs: []domain.Run{finishedRun("old", domain.StatusFailed)}}
	note := &domain.MockNotifier{}
	r := NewReporter(zap.NewNop(), runs, note, nil, "")

	_ = r.Report(context.Background(), finishedRun("new", domain.StatusSuccess))

	if len(note.Messages) != 1 || note.Messages[0] != "✅ CI: success|Release on v1.0 (was failed)|" {
		t.Errorf("unexpected notifications: %q", note.Messages)
	}
}

func TestReport_SkippedRunIsIgnored(t *testing.T) {
	runs := &domain.MockRuns{}
	r := NewReporter(zap.NewNop(), runs, nil, nil, "")
	_ = r.Report(context.Background(), finishedRun("s", domain.StatusSkipped))
	if len(runs.Runs) != 0 {
		t.Errorf("skipped runs are not recorded")
	}
}

func TestJanitor_PruneOnce(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &domain.MockArtifacts{Items: map[string]domain.Artifact{
		"r/old":     {RunID: "r", Name: "old", ExpiresAt: now.Add(-time.Hour)},
		"r/fresh":   {RunID: "r", Name: "fresh", ExpiresAt: now.Add(time.Hour)},
		"r/forever": {RunID: "r", Name: "forever"},
	}}
	j := NewJanitor(zap.NewNop(), store, time.Hour, "")
	j.now = func() time.Time { return now }

	n, err := j.PruneOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 || len(store.Items) != 2 {
		t.Errorf("pruned %d, left %d", n, len(store.Items))
	}
}

func TestJanitor_PauseFileSkipsTick(t *testing.T) {
	pause := t.TempDir() + "/pause"
	store := &domain.MockArtifacts{Items: map[string]domain.Artifact{
		"r/old": {RunID: "r", Name: "old", ExpiresAt: time.Now().Add(-time.Hour)},
	}}
	j := NewJanitor(zap.NewNop(), store, time.Hour, pause)

	if err := writeFile(pause); err != nil {
		t.Fatal(err)
	}
	j.tick(context.Background())
	if len(store.Items) != 1 {
		t.Fatalf("paused janitor pruned artifacts")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.pauseFile = ""
	j.Run(ctx)
	if len(store.Items) != 0 {
		t.Errorf("first tick of Run should prune")
	}
}
