package application

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/davarch/ci-orchestrator/internal/condition"
	"github.com/davarch/ci-orchestrator/internal/domain"
	"github.com/davarch/ci-orchestrator/internal/plan"
	"github.com/davarch/ci-orchestrator/internal/trigger"
)

// shouldRun decides whether a node whose dependencies are all terminal
// starts. GitLab jobs follow their `when`; GitHub jobs evaluate `if` with
// the status functions bound to their dependencies.
func (o *Orchestrator) shouldRun(p *plan.Plan, st *runState, n *plan.Node) (bool, error) {
	up := st.upstream(p, n.ID)

	if p.Workflow.Provider == domain.ProviderGitLab {
		switch n.When {
		case domain.WhenManual:
			st.manual[n.ID] = true
			return false, nil
		case domain.WhenAlways:
			return true, nil
		case domain.WhenOnFailure:
			return (up.failed || up.skipped) && !up.cancelled, nil
		default:
			run := !up.failed && !up.cancelled && !up.skipped
			st.blocked[n.ID] = !run
			return run, nil
		}
	}

	if !condition.HasStatusFunction(n.Job.If) && (up.failed || up.cancelled || up.skipped) {
		return false, nil
	}
	c := o.conditionContext(p, n, st.snapshotNeeds(p, n))
	c.Status = condition.Status{Failed: up.failed, Cancelled: up.cancelled}
	ok, err := condition.Eval(n.Job.If, c)
	if err != nil {
		return false, fmt.Errorf("job %q if: %w", n.Job.Name, err)
	}
	return ok, nil
}

// conditionContext builds everything a GitHub expression of this job can
// see except env, which depends on interpolation itself.
func (o *Orchestrator) conditionContext(p *plan.Plan, n *plan.Node, needs map[string]any) condition.Context {
	c := condition.Context{
		GitHub:  githubContext(p.Event, p.Workflow),
		Matrix:  n.Combination.Map(),
		Secrets: o.secretsFor(n.Job),
		Needs:   needs,
		Env:     map[string]string{},
	}
	label, err := condition.Interpolate(n.Job.RunsOn, c)
	if err != nil {
		label = n.Job.RunsOn
	}
	c.Runner = map[string]string{"os": runnerOS(label), "name": label}
	return c
}

func githubContext(ev domain.Event, wf *domain.Workflow) map[string]any {
	refType := "branch"
	if ev.IsTag() {
		refType = "tag"
	}
	return map[string]any{
		"event_name": string(ev.Kind),
		"ref":        ev.Ref,
		"ref_name":   ev.RefName(),
		"ref_type":   refType,
		"sha":        ev.SHA,
		"base_ref":   strings.TrimPrefix(ev.BaseRef, "refs/heads/"),
		"workflow":   wf.Name,
		"event":      map[string]any{"action": ev.Action},
	}
}

// secretsFor resolves only the secrets the job references.
func (o *Orchestrator) secretsFor(job *domain.Job) map[string]string {
	out := make(map[string]string, len(job.Secrets))
	if o.deps.Secrets == nil {
		return out
	}
	for _, name := range job.Secrets {
		if v, ok := o.deps.Secrets.Secret(name); ok {
			out[name] = v
		}
	}
	return out
}

// environment returns the variables exported to every command of the job
// and the expression context with env filled in.
func (o *Orchestrator) environment(runID string, p *plan.Plan, n *plan.Node, c condition.Context) (map[string]string, condition.Context, error) {
	job := n.Job
	env := make(map[string]string)
	vars := p.Vars
	if vars == nil {
		vars = trigger.PredefinedVariables(p.Event)
	}
	for k, v := range vars {
		env[k] = v
	}
	for k, v := range map[string]string{
		"CI_JOB_NAME":      n.ID,
		"CI_JOB_STAGE":     job.Stage,
		"CI_PROJECT_DIR":   o.opts.ProjectDir,
		"CI_PIPELINE_ID":   runID,
		"GITHUB_WORKSPACE": o.opts.ProjectDir,
		"GITHUB_JOB":       job.Name,
		"GITHUB_RUN_ID":    runID,
		"GITHUB_WORKFLOW":  p.Workflow.Name,
		"RUNNER_OS":        c.Runner["os"],
	} {
		env[k] = v
	}

	if p.Workflow.Provider == domain.ProviderGitLab {
		expandInto(env, p.Workflow.Env)
		expandInto(env, job.Env)
		for _, pair := range n.Combination {
			env[pair.Key] = pair.Value
		}
		for k, v := range c.Secrets {
			env[k] = v
		}
		c.Env = env
		return env, c, nil
	}

	c.Env = env
	for _, layer := range []map[string]string{p.Workflow.Env, job.Env} {
		for _, k := range sortedKeys(layer) {
			v, err := condition.Interpolate(layer[k], c)
			if err != nil {
				return nil, c, fmt.Errorf("env %s: %w", k, err)
			}
			env[k] = v
		}
	}
	return env, c, nil
}

// expandInto adds GitLab variables to env, expanding $VAR references
// against env and the layer's own raw values.
func expandInto(env, layer map[string]string) {
	lookup := func(name string) string {
		if v, ok := env[name]; ok {
			return v
		}
		if v, ok := layer[name]; ok {
			return v
		}
		return ""
	}
	expanded := make(map[string]string, len(layer))
	for k, v := range layer {
		expanded[k] = os.Expand(v, lookup)
	}
	for k, v := range expanded {
		env[k] = v
	}
}

func runnerOS(label string) string {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "windows"):
		return "Windows"
	case strings.Contains(l, "macos"):
		return "macOS"
	case l == "":
		switch runtime.GOOS {
		case "windows":
			return "Windows"
		case "darwin":
			return "macOS"
		}
	}
	return "Linux"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func envList(base map[string]string, extra map[string]string) []string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for _, k := range sortedKeys(merged) {
		out = append(out, k+"="+merged[k])
	}
	return out
}
