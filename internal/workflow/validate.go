package workflow

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/davarch/ci-orchestrator/internal/domain"
	"github.com/davarch/ci-orchestrator/internal/graph"
)

// Validate checks a workflow for structural problems and reports all of
// them at once; multierr.Errors splits the result.
func Validate(wf *domain.Workflow) error {
	var errs error
	fail := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("%s: "+format, append([]any{wf.Name}, args...)...))
	}

	if len(wf.Jobs) == 0 {
		fail("no jobs defined")
	}

	stageIndex := make(map[string]int, len(wf.Stages))
	for i, s := range wf.Stages {
		stageIndex[s] = i
	}

	ids := make([]string, 0, len(wf.Jobs))
	var edges []graph.Edge
	for _, job := range wf.Jobs {
		ids = append(ids, job.Name)

		if wf.Provider == domain.ProviderGitLab {
			if _, ok := stageIndex[job.Stage]; !ok {
				fail("job %q uses undeclared stage %q", job.Name, job.Stage)
			}
		}

		for _, need := range job.Needs {
			dep, ok := wf.Job(need)
			if !ok {
				fail("job %q needs undefined job %q", job.Name, need)
				continue
			}
			if need == job.Name {
				fail("job %q needs itself", job.Name)
				continue
			}
			if wf.Provider == domain.ProviderGitLab && stageIndex[dep.Stage] > stageIndex[job.Stage] {
				fail("job %q needs %q from a later stage", job.Name, need)
			}
			edges = append(edges, graph.Edge{From: need, To: job.Name})
		}

		if job.ArtifactsFromDeclared {
			for _, dep := range job.ArtifactsFrom {
				d, ok := wf.Job(dep)
				if !ok {
					fail("job %q depends on undefined job %q", job.Name, dep)
					continue
				}
				if stageIndex[d.Stage] >= stageIndex[job.Stage] {
					fail("job %q depends on %q which is not in an earlier stage", job.Name, dep)
				}
			}
		}

		if len(job.Steps) == 0 {
			fail("job %q has no steps", job.Name)
		}
		for i, st := range job.Steps {
			if (st.Run == "") == (st.Uses == "") {
				fail("job %q step %d must set exactly one of run or uses", job.Name, i+1)
			}
		}

		for _, axis := range job.Matrix.Axes {
			if len(axis.Values) == 0 {
				fail("job %q matrix axis %q has no values", job.Name, axis.Name)
			}
		}
		if job.Matrix.MaxParallel < 0 {
			fail("job %q has negative max-parallel", job.Name)
		}
	}

	// Unknown names and self references are reported above; only a clean
	// edge set is worth a cycle check.
	if errs == nil {
		if _, err := graph.New(ids, dedupe(edges)); err != nil {
			fail("%v", err)
		}
	}
	return errs
}

func dedupe(edges []graph.Edge) []graph.Edge {
	seen := make(map[graph.Edge]struct{}, len(edges))
	out := edges[:0]
	for _, e := range edges {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
