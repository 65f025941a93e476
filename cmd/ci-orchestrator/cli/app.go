package cli

import (
	"fmt"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/davarch/ci-orchestrator/internal/application"
	"github.com/davarch/ci-orchestrator/internal/domain"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/artifact_fs"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/cache_fs"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/config"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/history_sqlite"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/joblog"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/notify_libnotify"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/publish_http"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/shell"
	"github.com/davarch/ci-orchestrator/internal/workflow"
)

// app is everything a command needs, built from one config.
type app struct {
	log       *zap.Logger
	cfg       config.Config
	artifacts *artifact_fs.Store
	history   *history_sqlite.Store
	publisher *publish_http.Client
	orch      *application.Orchestrator
	reporter  *application.Reporter
	disp      *application.Dispatcher
}

func newApp(log *zap.Logger, cfg config.Config) (*app, error) {
	workspace, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	cfg.Workspace = workspace

	hist, err := history_sqlite.Open(cfg.History.Path)
	if err != nil {
		return nil, err
	}

	a := &app{
		log:       log,
		cfg:       cfg,
		artifacts: artifact_fs.New(cfg.Artifacts.Dir, log),
		history:   hist,
		publisher: publish_http.New(publishTargets(cfg), cfg.Publish.Timeout),
	}

	a.orch = application.NewOrchestrator(log, application.Deps{
		Runner:    shell.New(log),
		Artifacts: a.artifacts,
		Logs:      joblog.New(cfg.History.LogsDir),
		Publisher: a.publisher,
		Secrets:   cfg,
	}, application.Options{
		ProjectDir:  workspace,
		Concurrency: cfg.Run.Concurrency,
		JobTimeout:  cfg.Run.JobTimeout,
		ExpireIn:    cfg.Artifacts.ExpireIn,
	})

	var note domain.Notifier
	if cfg.Notify.Enabled {
		if cfg.Notify.Soft {
			note = notify_libnotify.NewSoft()
		} else {
			note = notify_libnotify.New()
		}
	}
	a.reporter = application.NewReporter(log, hist, note, cache_fs.New(cfg.Cache.Path), cfg.Server.BaseURL)

	wfs, err := loadWorkflows(cfg)
	if err != nil {
		log.Warn("some workflows failed to load", zap.Error(err))
	}
	a.disp = application.NewDispatcher(log, a.orch, a.reporter, wfs)
	return a, nil
}

func (a *app) Close() error { return a.history.Close() }

func publishTargets(cfg config.Config) map[string]publish_http.Target {
	out := make(map[string]publish_http.Target, len(cfg.Publish.Targets))
	for name, t := range cfg.Publish.Targets {
		out[name] = publish_http.Target{URL: t.URL, Token: t.Token}
	}
	return out
}

// workflowPaths returns the enabled workflows of the config, or every
// pipeline document found in the workspace when none are configured.
func workflowPaths(cfg config.Config) ([]string, error) {
	if len(cfg.Workflows) > 0 {
		return cfg.EnabledPaths(), nil
	}
	return workflow.Discover(cfg.Workspace)
}

// loadWorkflows loads and validates the workflows to run. Documents that
// fail either step are left out and reported in the returned error.
func loadWorkflows(cfg config.Config) ([]*domain.Workflow, error) {
	paths, err := workflowPaths(cfg)
	if err != nil {
		return nil, err
	}
	loaded, errs := workflow.LoadAll(paths)

	out := make([]*domain.Workflow, 0, len(loaded))
	for _, wf := range loaded {
		if err := workflow.Validate(wf); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", wf.Path, err))
			continue
		}
		out = append(out, wf)
	}
	return out, errs
}
