package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

type reportKey struct {
	workflow string
	ref      string
}

// Reporter records finished runs, keeps the status snapshot current and
// notifies when a workflow changes status on a ref.
type Reporter struct {
	log     *zap.Logger
	runs    domain.RunStore
	note    domain.Notifier
	cache   domain.StatusCache
	baseURL string

	mu   sync.Mutex
	last map[reportKey]domain.RunStatus
}

// NewReporter wires the reporter; runs, note and cache may be nil. baseURL,
// when set, is where the HTTP API serves runs and ends up in notifications.
func NewReporter(l *zap.Logger, runs domain.RunStore, note domain.Notifier, cache domain.StatusCache, baseURL string) *Reporter {
	return &Reporter{
		log: l, runs: runs, note: note, cache: cache, baseURL: baseURL,
		last: make(map[reportKey]domain.RunStatus),
	}
}

func (r *Reporter) Report(ctx context.Context, run domain.Run) error {
	if run.Status == domain.StatusSkipped {
		return nil
	}
	key := reportKey{workflow: run.Workflow, ref: run.Event.Ref}
	prev, known := r.previous(ctx, key)

	if r.runs != nil {
		if err := r.runs.Save(ctx, run); err != nil {
			return fmt.Errorf("save run %s: %w", run.ID, err)
		}
	}

	if r.cache != nil {
		if err := r.cache.Write(ctx, domain.Snapshot{
			Workflow: run.Workflow, Ref: run.Event.Ref, RunID: run.ID,
			Status: run.Status, Retrieved: time.Now().Unix(),
		}); err != nil {
			r.log.Warn("status cache write failed", zap.Error(err))
		}
	}

	r.mu.Lock()
	r.last[key] = run.Status
	r.mu.Unlock()

	if known && prev == run.Status {
		return nil
	}
	if r.note != nil {
		body := run.Workflow + " on " + run.Event.RefName()
		if known {
			body += " (was " + string(prev) + ")"
		}
		if err := r.note.Notify(ctx, titleFor(run.Status), body, r.runURL(run.ID)); err != nil {
			r.log.Warn("notify failed", zap.Error(err))
		}
	}
	return nil
}

// previous returns the last status seen for key, falling back to history
// for the first run reported by this process.
func (r *Reporter) previous(ctx context.Context, key reportKey) (domain.RunStatus, bool) {
	r.mu.Lock()
	s, ok := r.last[key]
	r.mu.Unlock()
	if ok || r.runs == nil {
		return s, ok
	}

	prev, err := r.runs.Latest(ctx, key.workflow, key.ref)
	if err != nil {
		if !errors.Is(err, domain.ErrRunNotFound) {
			r.log.Warn("history lookup failed", zap.Error(err))
		}
		return "", false
	}
	return prev.Status, true
}

func (r *Reporter) runURL(id string) string {
	if r.baseURL == "" {
		return ""
	}
	return r.baseURL + "/runs/" + id
}

func titleFor(s domain.RunStatus) string {
	switch s {
	case domain.StatusSuccess:
		return "✅ CI: success"
	case domain.StatusFailed:
		return "❌ CI: failed"
	case domain.StatusRunning:
		return "▶️ CI: running"
	case domain.StatusCancelled:
		return "⛔ CI: canceled"
	default:
		return "ℹ️ CI: " + string(s)
	}
}
