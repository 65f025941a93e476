package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/davarch/ci-orchestrator/internal/condition"
	"github.com/davarch/ci-orchestrator/internal/domain"
	"github.com/davarch/ci-orchestrator/internal/plan"
)

// jobRun is the state of one job instance while it executes.
type jobRun struct {
	o     *Orchestrator
	runID string
	plan  *plan.Plan
	node  *plan.Node
	log   *zap.Logger

	env    map[string]string
	expr   condition.Context
	out    bytes.Buffer
	steps  []domain.StepResult
	failed bool
}

func (o *Orchestrator) execute(ctx context.Context, runID string, p *plan.Plan, n *plan.Node, needs map[string]any) domain.JobResult {
	res := domain.JobResult{
		ID:           n.ID,
		Job:          n.Job.Name,
		Stage:        n.Job.Stage,
		Combination:  n.Combination,
		AllowFailure: n.Job.AllowFailure,
		Started:      o.now(),
	}

	timeout := n.Job.Timeout
	if timeout == 0 {
		timeout = o.opts.JobTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	x := &jobRun{
		o:     o,
		runID: runID,
		plan:  p,
		node:  n,
		log:   o.log.With(zap.String("run", runID), zap.String("job", n.ID)),
	}
	x.log.Info("job started")
	err := x.run(ctx, needs)

	switch {
	case err == nil:
		res.Status = domain.JobSuccess
	case errors.Is(ctx.Err(), context.Canceled):
		res.Status = domain.JobCancelled
		res.Err = domain.ErrCancelled.Error()
	default:
		res.Status = domain.JobFailed
		res.Err = err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Err = fmt.Sprintf("timed out after %s", timeout)
		}
	}
	if err != nil && res.Status == domain.JobFailed {
		x.log.Warn("job failed", zap.Error(err), zap.Bool("allow_failure", n.Job.AllowFailure))
	}
	res.Steps = x.steps
	res.Finished = o.now()

	if o.deps.Logs != nil {
		path, lerr := o.deps.Logs.Save(runID, n.ID, x.out.Bytes())
		if lerr != nil {
			x.log.Warn("save job log", zap.Error(lerr))
		}
		res.LogPath = path
	}
	return res
}

func (x *jobRun) run(ctx context.Context, needs map[string]any) error {
	job := x.node.Job
	env, c, err := x.o.environment(x.runID, x.plan, x.node, x.o.conditionContext(x.plan, x.node, needs))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProvision, err)
	}
	x.env, x.expr = env, c

	for _, line := range job.BeforeScript {
		if err := x.shell(ctx, "before_script", line, nil); err != nil {
			x.record("before_script", domain.JobFailed, err)
			return fmt.Errorf("%w: %v", domain.ErrProvision, err)
		}
	}
	if len(job.BeforeScript) > 0 {
		x.record("before_script", domain.JobSuccess, nil)
	}

	if err := x.fetchDependencies(ctx); err != nil {
		return err
	}

	var firstErr error
	for _, step := range job.Steps {
		label := step.Label()
		if ctx.Err() != nil {
			x.record(label, domain.JobCancelled, nil)
			continue
		}

		runIt := !x.failed
		if step.If != "" {
			sc := x.expr
			sc.Status = condition.Status{Failed: x.failed, Cancelled: ctx.Err() != nil}
			ok, err := condition.Eval(step.If, sc)
			if err != nil {
				x.record(label, domain.JobFailed, err)
				x.failed = true
				if firstErr == nil {
					firstErr = fmt.Errorf("step %q if: %w", label, err)
				}
				continue
			}
			runIt = ok
		}
		if !runIt {
			x.record(label, domain.JobSkipped, nil)
			continue
		}

		skipped, err := x.step(ctx, step)
		switch {
		case skipped:
			x.record(label, domain.JobSkipped, nil)
		case err != nil:
			x.record(label, domain.JobFailed, err)
			if step.ContinueOnError {
				x.log.Info("step failed, continuing", zap.String("step", label), zap.Error(err))
				continue
			}
			x.failed = true
			if firstErr == nil {
				firstErr = err
			}
		default:
			x.record(label, domain.JobSuccess, nil)
		}
	}

	if ctx.Err() != nil {
		if firstErr == nil {
			firstErr = ctx.Err()
		}
		return firstErr
	}
	if err := x.collect(ctx, firstErr == nil); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (x *jobRun) step(ctx context.Context, step domain.Step) (bool, error) {
	extra := make(map[string]string, len(step.Env))
	for k, v := range step.Env {
		iv, err := condition.Interpolate(v, x.expr)
		if err != nil {
			return false, fmt.Errorf("step %q env %s: %w", step.Label(), k, err)
		}
		extra[k] = iv
	}

	if step.Uses != "" {
		with := make(map[string]string, len(step.With))
		for k, v := range step.With {
			iv, err := condition.Interpolate(v, x.expr)
			if err != nil {
				return false, fmt.Errorf("step %q with %s: %w", step.Label(), k, err)
			}
			with[k] = iv
		}
		return x.action(ctx, step, with, extra)
	}

	command := step.Run
	if x.plan.Workflow.Provider == domain.ProviderGitHub {
		var err error
		if command, err = condition.Interpolate(command, x.expr); err != nil {
			return false, fmt.Errorf("step %q: %w", step.Label(), err)
		}
	}
	return false, x.shell(ctx, step.Label(), command, extra)
}

// shell runs one command through the step runner and appends its output
// to the job log.
func (x *jobRun) shell(ctx context.Context, label, command string, extra map[string]string) error {
	fmt.Fprintf(&x.out, "$ %s\n", strings.TrimSpace(command))
	out, err := x.o.deps.Runner.Run(ctx, domain.StepRequest{
		Command: command,
		Dir:     x.o.opts.ProjectDir,
		Env:     envList(x.env, extra),
	})
	x.out.Write(out.Output)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("%w: %s exited with status %d", domain.ErrStepFailed, label, out.ExitCode)
	}
	return nil
}

func (x *jobRun) record(name string, status domain.JobStatus, err error) {
	r := domain.StepResult{Name: name, Status: status}
	if err != nil {
		r.Err = err.Error()
		if status == domain.JobFailed {
			r.ExitCode = 1
		}
	}
	x.steps = append(x.steps, r)
}

// fetchDependencies restores GitLab artifacts before the job's script:
// those of the jobs named in `dependencies`, else those of every job this
// instance waits for. Only explicitly named dependencies must exist.
func (x *jobRun) fetchDependencies(ctx context.Context) error {
	if x.plan.Workflow.Provider != domain.ProviderGitLab || x.o.deps.Artifacts == nil {
		return nil
	}
	job := x.node.Job

	var sources []string
	if job.ArtifactsFromDeclared {
		for _, dep := range job.ArtifactsFrom {
			for _, inst := range x.plan.Group(dep) {
				sources = append(sources, inst.ID)
			}
		}
	} else {
		sources = x.plan.Graph.Dependencies(x.node.ID)
	}

	for _, src := range sources {
		a, err := x.o.deps.Artifacts.Fetch(ctx, x.runID, src, x.o.opts.ProjectDir)
		switch {
		case err == nil:
			fmt.Fprintf(&x.out, "restored artifacts of %s (%d files)\n", src, a.Files)
		case errors.Is(err, domain.ErrArtifactMissing) && !job.ArtifactsFromDeclared:
		default:
			x.record("dependencies", domain.JobFailed, err)
			return fmt.Errorf("fetch artifacts of %q: %w", src, err)
		}
	}
	return nil
}

// collect stores the GitLab `artifacts:` of the job when its `when`
// matches the job outcome.
func (x *jobRun) collect(ctx context.Context, succeeded bool) error {
	spec := x.node.Job.Artifacts
	if len(spec.Paths) == 0 || x.o.deps.Artifacts == nil {
		return nil
	}
	switch spec.When {
	case domain.WhenAlways:
	case domain.WhenOnFailure:
		if succeeded {
			return nil
		}
	default:
		if !succeeded {
			return nil
		}
	}

	a, err := x.o.deps.Artifacts.Put(ctx, domain.Artifact{
		RunID:     x.runID,
		Name:      x.node.ID,
		Job:       x.node.ID,
		CreatedAt: x.o.now(),
		ExpiresAt: x.o.expiry(spec.ExpireIn),
	}, x.o.opts.ProjectDir, spec.Paths)
	switch {
	case errors.Is(err, domain.ErrNoArtifactFiles):
		fmt.Fprintf(&x.out, "warning: %v: %s\n", err, strings.Join(spec.Paths, ", "))
		return nil
	case err != nil:
		x.record("artifacts", domain.JobFailed, err)
		return fmt.Errorf("upload artifacts: %w", err)
	}
	fmt.Fprintf(&x.out, "uploaded %d files as artifact %q\n", a.Files, a.Name)
	x.record("artifacts", domain.JobSuccess, nil)
	return nil
}

// expiry turns a declared retention into an absolute expiry; zero time
// means the artifact never expires.
func (o *Orchestrator) expiry(d time.Duration) time.Time {
	switch {
	case d == domain.KeepForever:
		return time.Time{}
	case d == 0 && o.opts.ExpireIn <= 0:
		return time.Time{}
	case d == 0:
		d = o.opts.ExpireIn
	}
	return o.now().Add(d)
}
