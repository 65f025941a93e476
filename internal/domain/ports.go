package domain

import (
	"context"
	"time"
)

type StepRunner interface {
	Run(ctx context.Context, req StepRequest) (StepOutcome, error)
}

type ArtifactStore interface {
	Put(ctx context.Context, a Artifact, srcRoot string, paths []string) (Artifact, error)
	Fetch(ctx context.Context, runID, name, destRoot string) (Artifact, error)
	Delete(ctx context.Context, runID, name string) error
	List(ctx context.Context, runID string) ([]Artifact, error)
	Prune(ctx context.Context, now time.Time) (int, error)
}

type RunStore interface {
	Save(ctx context.Context, r Run) error
	Get(ctx context.Context, id string) (Run, error)
	List(ctx context.Context, limit int) ([]Run, error)
	Latest(ctx context.Context, workflow, ref string) (Run, error)
}

type Notifier interface {
	Notify(ctx context.Context, title, body, url string) error
}

type StatusCache interface {
	Write(ctx context.Context, s Snapshot) error
}

type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) error
}

type SecretSource interface {
	Secret(name string) (string, bool)
}

type JobLogs interface {
	Save(runID, job string, output []byte) (string, error)
}
