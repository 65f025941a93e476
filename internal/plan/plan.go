// Package plan turns a workflow and a trigger event into the set of job
// instances to run and the order between them.
package plan

import (
	"fmt"

	"github.com/davarch/ci-orchestrator/internal/domain"
	"github.com/davarch/ci-orchestrator/internal/graph"
	"github.com/davarch/ci-orchestrator/internal/matrix"
	"github.com/davarch/ci-orchestrator/internal/trigger"
)

// Node is one job instance: a job paired with one matrix combination.
type Node struct {
	ID          string
	Job         *domain.Job
	Combination domain.Combination
	// When is the effective GitLab `when`; empty for GitHub jobs, whose
	// `if` is evaluated at run time.
	When string
}

type Plan struct {
	Workflow  *domain.Workflow
	Event     domain.Event
	Vars      map[string]string
	Triggered bool
	Nodes     []*Node
	Graph     *graph.Graph

	byID   map[string]*Node
	groups map[string][]*Node
}

// Build plans wf for ev. vars are the predefined CI variables used by GitLab
// rules. A workflow the event does not trigger, or a GitLab pipeline that
// includes no job for it, yields an empty plan.
func Build(wf *domain.Workflow, ev domain.Event, vars map[string]string) (*Plan, error) {
	p := &Plan{
		Workflow: wf,
		Event:    ev,
		Vars:     vars,
		byID:     make(map[string]*Node),
		groups:   make(map[string][]*Node),
	}
	if !trigger.Matches(wf, ev) {
		return p, nil
	}
	p.Triggered = true

	for i := range wf.Jobs {
		job := &wf.Jobs[i]
		when := ""
		if wf.Provider == domain.ProviderGitLab {
			w, ok, err := trigger.JobIncluded(job, ev, vars)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", wf.Name, err)
			}
			if !ok {
				continue
			}
			when = w
		}
		for _, combo := range matrix.Expand(job.Matrix) {
			n := &Node{ID: matrix.InstanceName(job.Name, combo), Job: job, Combination: combo, When: when}
			if _, dup := p.byID[n.ID]; dup {
				return nil, fmt.Errorf("%s: job %q expands to duplicate instance %q", wf.Name, job.Name, n.ID)
			}
			p.byID[n.ID] = n
			p.groups[job.Name] = append(p.groups[job.Name], n)
			p.Nodes = append(p.Nodes, n)
		}
	}
	if wf.Provider == domain.ProviderGitLab && len(p.Nodes) == 0 {
		// GitLab creates no pipeline when the event includes no job.
		p.Triggered = false
		return p, nil
	}

	edges, err := p.edges()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wf.Name, err)
	}

	ids := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		ids[i] = n.ID
	}
	g, err := graph.New(ids, edges)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wf.Name, err)
	}
	p.Graph = g
	return p, nil
}

func (p *Plan) edges() ([]graph.Edge, error) {
	var (
		edges []graph.Edge
		seen  = make(map[graph.Edge]struct{})
	)
	link := func(from string, to *Node) {
		for _, dep := range p.groups[from] {
			e := graph.Edge{From: dep.ID, To: to.ID}
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			edges = append(edges, e)
		}
	}

	stageIndex := make(map[string]int, len(p.Workflow.Stages))
	for i, s := range p.Workflow.Stages {
		stageIndex[s] = i
	}

	for _, n := range p.Nodes {
		job := n.Job
		if p.Workflow.Provider == domain.ProviderGitLab && job.ArtifactsFromDeclared {
			for _, dep := range job.ArtifactsFrom {
				if _, ok := p.groups[dep]; !ok {
					return nil, fmt.Errorf("job %q depends on %q which is not in this pipeline", job.Name, dep)
				}
			}
		}

		if job.Needs != nil || p.Workflow.Provider == domain.ProviderGitHub {
			for _, need := range job.Needs {
				if _, ok := p.groups[need]; !ok {
					return nil, fmt.Errorf("job %q needs %q which is not in this pipeline", job.Name, need)
				}
				link(need, n)
			}
			continue
		}

		for _, name := range p.Jobs() {
			other, _ := p.Workflow.Job(name)
			if stageIndex[other.Stage] < stageIndex[job.Stage] {
				link(name, n)
			}
		}
	}
	return edges, nil
}

// Node returns the instance with the given ID.
func (p *Plan) Node(id string) (*Node, bool) {
	n, ok := p.byID[id]
	return n, ok
}

// Group returns every instance of a job, in matrix order.
func (p *Plan) Group(job string) []*Node { return p.groups[job] }

// Groups maps each included job name to its instances.
func (p *Plan) Groups() map[string][]*Node { return p.groups }

// Jobs lists the included job names in document order.
func (p *Plan) Jobs() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, n := range p.Nodes {
		if _, ok := seen[n.Job.Name]; ok {
			continue
		}
		seen[n.Job.Name] = struct{}{}
		out = append(out, n.Job.Name)
	}
	return out
}
