package application

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

// Janitor prunes expired artifacts on a ticker. While pauseFile exists
// ticks are skipped.
type Janitor struct {
	log       *zap.Logger
	store     domain.ArtifactStore
	every     time.Duration
	pauseFile string
	now       func() time.Time
}

func NewJanitor(l *zap.Logger, store domain.ArtifactStore, every time.Duration, pauseFile string) *Janitor {
	return &Janitor{log: l, store: store, every: every, pauseFile: pauseFile, now: time.Now}
}

func (j *Janitor) Run(ctx context.Context) {
	t := time.NewTicker(j.every)
	defer t.Stop()

	j.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.tick(ctx)
		}
	}
}

func (j *Janitor) tick(ctx context.Context) {
	if j.isPaused() {
		j.log.Debug("paused: skipping prune")
		return
	}
	if _, err := j.PruneOnce(ctx); err != nil {
		j.log.Warn("prune failed", zap.Error(err))
	}
}

// PruneOnce removes every artifact expired at this moment.
func (j *Janitor) PruneOnce(ctx context.Context) (int, error) {
	n, err := j.store.Prune(ctx, j.now())
	if n > 0 {
		j.log.Info("pruned expired artifacts", zap.Int("count", n))
	}
	return n, err
}

func (j *Janitor) isPaused() bool {
	if j.pauseFile == "" {
		return false
	}
	_, err := os.Stat(j.pauseFile)
	return err == nil
}
