package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davarch/ci-orchestrator/internal/domain"
	"github.com/davarch/ci-orchestrator/internal/plan"
)

type Options struct {
	ProjectDir string
	// Concurrency caps the job instances running at once; zero means one.
	Concurrency int
	// JobTimeout applies to jobs that declare no timeout; zero disables it.
	JobTimeout time.Duration
	// ExpireIn is the artifact retention used when a job declares none;
	// zero keeps such artifacts forever.
	ExpireIn time.Duration
}

type Deps struct {
	Runner    domain.StepRunner
	Artifacts domain.ArtifactStore
	Logs      domain.JobLogs
	Publisher domain.Publisher
	Secrets   domain.SecretSource
}

// Orchestrator executes plans: it starts job instances as their
// dependencies finish, evaluates job conditions and applies fail-fast.
type Orchestrator struct {
	log  *zap.Logger
	deps Deps
	opts Options
	now  func() time.Time
}

func NewOrchestrator(l *zap.Logger, d Deps, o Options) *Orchestrator {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	return &Orchestrator{log: l, deps: d, opts: o, now: time.Now}
}

type finished struct {
	node *plan.Node
	res  domain.JobResult
}

// runState is owned by the scheduling loop in Run; workers only report
// through the done channel.
type runState struct {
	status  map[string]domain.JobStatus
	results map[string]domain.JobResult
	// manual marks instances skipped because they wait for a manual start.
	manual map[string]bool
	// blocked marks GitLab instances skipped because an upstream job failed.
	blocked map[string]bool
	// running counts in-flight instances per job, for max-parallel.
	running map[string]int
	groups  map[string]context.CancelFunc
	ctxs    map[string]context.Context
	// failedFast marks groups whose siblings were cancelled.
	failedFast map[string]bool
}

// Run executes p and returns the finished run. A plan that was not
// triggered returns a skipped run without executing anything.
func (o *Orchestrator) Run(ctx context.Context, p *plan.Plan) (domain.Run, error) {
	run := domain.Run{
		ID:        uuid.NewString(),
		Workflow:  p.Workflow.Name,
		Provider:  p.Workflow.Provider,
		Event:     p.Event,
		Status:    domain.StatusRunning,
		StartedAt: o.now(),
	}
	if !p.Triggered {
		run.Status = domain.StatusSkipped
		run.FinishedAt = run.StartedAt
		return run, nil
	}

	log := o.log.With(zap.String("run", run.ID), zap.String("workflow", run.Workflow))
	log.Info("run started", zap.String("ref", p.Event.Ref), zap.Int("instances", len(p.Nodes)))

	st := &runState{
		status:     make(map[string]domain.JobStatus, len(p.Nodes)),
		results:    make(map[string]domain.JobResult, len(p.Nodes)),
		manual:     make(map[string]bool),
		blocked:    make(map[string]bool),
		running:    make(map[string]int),
		groups:     make(map[string]context.CancelFunc),
		ctxs:       make(map[string]context.Context),
		failedFast: make(map[string]bool),
	}
	for _, n := range p.Nodes {
		st.status[n.ID] = domain.JobPending
	}
	for name := range p.Groups() {
		gctx, cancel := context.WithCancel(ctx)
		st.ctxs[name], st.groups[name] = gctx, cancel
	}
	defer func() {
		for _, cancel := range st.groups {
			cancel()
		}
	}()

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	done := make(chan finished, len(p.Nodes))
	inflight := 0
	order := p.Graph.TopologicalOrder()

	for {
		for progress := true; progress; {
			progress = false
			for _, id := range order {
				if st.status[id] != domain.JobPending {
					continue
				}
				n, _ := p.Node(id)
				if !o.depsTerminal(p, st, id) {
					continue
				}
				if st.failedFast[n.Job.Name] || ctx.Err() != nil {
					o.settle(st, n, domain.JobCancelled, domain.ErrCancelled)
					progress = true
					continue
				}
				ok, err := o.shouldRun(p, st, n)
				if err != nil {
					o.settle(st, n, domain.JobFailed, err)
					progress = true
					continue
				}
				if !ok {
					o.settle(st, n, domain.JobSkipped, nil)
					progress = true
					continue
				}
				if limit := n.Job.Matrix.MaxParallel; limit > 0 && st.running[n.Job.Name] >= limit {
					continue
				}

				// A worker sends on done before errgroup releases its slot,
				// so free slots are counted here instead of asking TryGo.
				if inflight >= o.opts.Concurrency {
					continue
				}

				jobCtx, needs, node := st.ctxs[n.Job.Name], st.snapshotNeeds(p, n), n
				g.Go(func() error {
					done <- finished{node: node, res: o.execute(jobCtx, run.ID, p, node, needs)}
					return nil
				})
				st.status[id] = domain.JobRunning
				st.running[n.Job.Name]++
				inflight++
			}
		}

		if inflight == 0 {
			break
		}
		f := <-done
		inflight--
		st.running[f.node.Job.Name]--
		st.status[f.node.ID] = f.res.Status
		st.results[f.node.ID] = f.res
		log.Info("job finished",
			zap.String("job", f.node.ID),
			zap.String("status", string(f.res.Status)),
			zap.Duration("took", f.res.Finished.Sub(f.res.Started)),
		)

		group := p.Group(f.node.Job.Name)
		if f.res.Status == domain.JobFailed && !f.res.AllowFailure && f.node.Job.Matrix.FailFast && len(group) > 1 {
			st.failedFast[f.node.Job.Name] = true
			st.groups[f.node.Job.Name]()
			log.Info("fail-fast: cancelling matrix siblings", zap.String("job", f.node.Job.Name))
		}
	}
	_ = g.Wait()

	for _, n := range p.Nodes {
		if st.status[n.ID] == domain.JobPending {
			o.settle(st, n, domain.JobCancelled, domain.ErrCancelled)
		}
		run.Jobs = append(run.Jobs, st.results[n.ID])
	}
	run.FinishedAt = o.now()
	run.Status = overall(run.Jobs, ctx)
	log.Info("run finished", zap.String("status", string(run.Status)), zap.Duration("took", run.FinishedAt.Sub(run.StartedAt)))

	if ctx.Err() != nil {
		return run, ctx.Err()
	}
	return run, nil
}

func (o *Orchestrator) depsTerminal(p *plan.Plan, st *runState, id string) bool {
	for _, dep := range p.Graph.Dependencies(id) {
		if !st.status[dep].Terminal() {
			return false
		}
	}
	return true
}

func (o *Orchestrator) settle(st *runState, n *plan.Node, status domain.JobStatus, err error) {
	now := o.now()
	res := domain.JobResult{
		ID:           n.ID,
		Job:          n.Job.Name,
		Stage:        n.Job.Stage,
		Combination:  n.Combination,
		Status:       status,
		AllowFailure: n.Job.AllowFailure,
		Started:      now,
		Finished:     now,
	}
	if err != nil {
		res.Err = err.Error()
	}
	st.status[n.ID] = status
	st.results[n.ID] = res
}

// upstream summarises the outcome of a node's direct dependencies.
type upstream struct {
	failed    bool
	cancelled bool
	skipped   bool
}

func (st *runState) upstream(p *plan.Plan, id string) upstream {
	var u upstream
	for _, dep := range p.Graph.Dependencies(id) {
		switch st.status[dep] {
		case domain.JobFailed:
			if !st.results[dep].AllowFailure {
				u.failed = true
			}
		case domain.JobCancelled:
			u.cancelled = true
		case domain.JobSkipped:
			// A GitLab job that did not apply, such as an on_failure job
			// after a passing stage, does not hold back later stages.
			if p.Workflow.Provider == domain.ProviderGitLab {
				u.skipped = u.skipped || st.blocked[dep]
			} else if !st.manual[dep] {
				u.skipped = true
			}
		}
	}
	return u
}

// snapshotNeeds renders the `needs` context of a GitHub job from the
// results of the jobs it needs. It runs on the scheduling goroutine.
func (st *runState) snapshotNeeds(p *plan.Plan, n *plan.Node) map[string]any {
	out := make(map[string]any, len(n.Job.Needs))
	for _, need := range n.Job.Needs {
		out[need] = map[string]any{"result": groupResult(st, p.Group(need))}
	}
	return out
}

// groupResult folds a matrix group into one GitHub result. Any failed
// instance makes the group a failure regardless of instance order.
func groupResult(st *runState, nodes []*plan.Node) string {
	var cancelled bool
	skipped := 0
	for _, n := range nodes {
		switch st.status[n.ID] {
		case domain.JobFailed:
			if !st.results[n.ID].AllowFailure {
				return "failure"
			}
		case domain.JobCancelled:
			cancelled = true
		case domain.JobSkipped:
			skipped++
		}
	}
	switch {
	case cancelled:
		return "cancelled"
	case len(nodes) > 0 && skipped == len(nodes):
		return "skipped"
	}
	return "success"
}

func overall(jobs []domain.JobResult, ctx context.Context) domain.RunStatus {
	if errors.Is(ctx.Err(), context.Canceled) {
		return domain.StatusCancelled
	}
	status := domain.StatusSuccess
	for _, j := range jobs {
		switch {
		case j.Status == domain.JobFailed && !j.AllowFailure:
			return domain.StatusFailed
		case j.Status == domain.JobCancelled:
			status = domain.StatusCancelled
		}
	}
	return status
}
