package application

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davarch/ci-orchestrator/internal/domain"
	"github.com/davarch/ci-orchestrator/internal/plan"
	"github.com/davarch/ci-orchestrator/internal/trigger"
)

// Dispatcher plans every known workflow for an event and runs the ones it
// triggers concurrently.
type Dispatcher struct {
	log      *zap.Logger
	orch     *Orchestrator
	reporter *Reporter

	mu        sync.RWMutex
	workflows []*domain.Workflow
}

func NewDispatcher(l *zap.Logger, orch *Orchestrator, reporter *Reporter, wfs []*domain.Workflow) *Dispatcher {
	return &Dispatcher{log: l, orch: orch, reporter: reporter, workflows: wfs}
}

func (d *Dispatcher) UpdateWorkflows(wfs []*domain.Workflow) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workflows = wfs
	d.log.Info("workflows reloaded", zap.Int("workflows", len(wfs)))
}

func (d *Dispatcher) Workflows() []*domain.Workflow {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*domain.Workflow(nil), d.workflows...)
}

// Plans builds the plan of every workflow for ev, triggered or not.
func (d *Dispatcher) Plans(ev domain.Event) ([]*plan.Plan, error) {
	vars := trigger.PredefinedVariables(ev)
	var (
		out  []*plan.Plan
		errs error
	)
	for _, wf := range d.Workflows() {
		p, err := plan.Build(wf, ev, vars)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, p)
	}
	return out, errs
}

// Dispatch runs every workflow ev triggers and reports each run. Runs are
// returned in workflow order; a plan error does not stop the other
// workflows.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.Event) ([]domain.Run, error) {
	plans, errs := d.Plans(ev)

	var triggered []*plan.Plan
	for _, p := range plans {
		if !p.Triggered {
			d.log.Debug("workflow not triggered", zap.String("workflow", p.Workflow.Name), zap.String("ref", ev.Ref))
			continue
		}
		triggered = append(triggered, p)
	}

	runs := make([]domain.Run, len(triggered))
	runErrs := make([]error, len(triggered))
	var g errgroup.Group
	for i, p := range triggered {
		g.Go(func() error {
			run, err := d.orch.Run(ctx, p)
			runs[i] = run
			if err != nil {
				runErrs[i] = fmt.Errorf("%s: %w", p.Workflow.Name, err)
			}
			if d.reporter != nil {
				if rerr := d.reporter.Report(ctx, run); rerr != nil {
					d.log.Warn("report run", zap.String("run", run.ID), zap.Error(rerr))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return runs, multierr.Combine(append([]error{errs}, runErrs...)...)
}
