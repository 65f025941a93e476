package workflow

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/davarch/ci-orchestrator/internal/domain"
	"github.com/davarch/ci-orchestrator/internal/matrix"
)

var defaultStages = []string{"build", "test", "deploy"}

// Top-level keys of a GitLab CI file that are not jobs.
var gitlabReserved = map[string]struct{}{
	"stages": {}, "variables": {}, "before_script": {}, "after_script": {},
	"image": {}, "services": {}, "cache": {}, "default": {}, "workflow": {},
	"include": {}, "types": {},
}

type glRule struct {
	If   string `yaml:"if"`
	When string `yaml:"when"`
}

type glArtifacts struct {
	Name     string   `yaml:"name"`
	Paths    []string `yaml:"paths"`
	ExpireIn string   `yaml:"expire_in"`
	When     string   `yaml:"when"`
}

type glJob struct {
	Stage        string          `yaml:"stage"`
	Script       yaml.Node       `yaml:"script"`
	BeforeScript yaml.Node       `yaml:"before_script"`
	Variables    map[string]text `yaml:"variables"`
	Only         yaml.Node       `yaml:"only"`
	Except       yaml.Node       `yaml:"except"`
	Rules        []glRule        `yaml:"rules"`
	When         string          `yaml:"when"`
	Needs        yaml.Node       `yaml:"needs"`
	Dependencies *[]string       `yaml:"dependencies"`
	Artifacts    glArtifacts     `yaml:"artifacts"`
	AllowFailure yaml.Node       `yaml:"allow_failure"`
	Parallel     yaml.Node       `yaml:"parallel"`
	Timeout      string          `yaml:"timeout"`
	Image        yaml.Node       `yaml:"image"`
	Secrets      yaml.Node       `yaml:"secrets"`
}

func parseGitLab(root *yaml.Node, path string) (*domain.Workflow, error) {
	wf := &domain.Workflow{
		Name:     "gitlab-ci",
		Path:     path,
		Provider: domain.ProviderGitLab,
		// Which jobs a merge request starts is decided per job by
		// only/except and rules.
		Triggers: []domain.Trigger{{Event: domain.EventPush}, {Event: domain.EventPullRequest}},
	}

	stages, err := stringList(lookup(root, "stages"))
	if err != nil {
		return nil, fmt.Errorf("stages: %w", err)
	}
	if len(stages) == 0 {
		stages = defaultStages
	}
	wf.Stages = append([]string{".pre"}, append(stages, ".post")...)

	var vars map[string]text
	if n := lookup(root, "variables"); n != nil {
		if err := n.Decode(&vars); err != nil {
			return nil, fmt.Errorf("variables: %w", err)
		}
	}
	wf.Env = textMap(vars)

	beforeNode := lookup(root, "before_script")
	if beforeNode == nil {
		beforeNode = lookup(lookup(root, "default"), "before_script")
	}
	if wf.BeforeScript, err = stringList(beforeNode); err != nil {
		return nil, fmt.Errorf("before_script: %w", err)
	}
	defaultImage := imageName(lookup(root, "image"))

	for _, p := range pairs(root) {
		if _, reserved := gitlabReserved[p.key]; reserved || strings.HasPrefix(p.key, ".") || p.key == "<<" {
			continue
		}
		job, err := parseGitLabJob(p.key, p.value, wf, defaultImage)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", p.key, err)
		}
		wf.Jobs = append(wf.Jobs, job)
	}
	return wf, nil
}

func parseGitLabJob(name string, n *yaml.Node, wf *domain.Workflow, defaultImage string) (domain.Job, error) {
	var raw glJob
	if err := resolve(n).Decode(&raw); err != nil {
		return domain.Job{}, err
	}

	job := domain.Job{
		Name:  name,
		Stage: raw.Stage,
		When:  raw.When,
		Env:   textMap(raw.Variables),
	}
	if job.Stage == "" {
		job.Stage = "test"
	}
	if job.RunsOn = imageName(&raw.Image); job.RunsOn == "" {
		job.RunsOn = defaultImage
	}

	script, err := stringList(&raw.Script)
	if err != nil {
		return job, fmt.Errorf("script: %w", err)
	}
	if len(script) > 0 {
		job.Steps = []domain.Step{{Name: "script", Run: strings.Join(script, "\n")}}
	}

	job.BeforeScript = wf.BeforeScript
	if raw.BeforeScript.Kind != 0 {
		if job.BeforeScript, err = stringList(&raw.BeforeScript); err != nil {
			return job, fmt.Errorf("before_script: %w", err)
		}
	}

	if job.Only, err = refPolicy(&raw.Only); err != nil {
		return job, fmt.Errorf("only: %w", err)
	}
	if job.Except, err = refPolicy(&raw.Except); err != nil {
		return job, fmt.Errorf("except: %w", err)
	}
	for _, r := range raw.Rules {
		job.Rules = append(job.Rules, domain.Rule{If: r.If, When: r.When})
	}

	if job.Needs, err = gitlabNeeds(&raw.Needs); err != nil {
		return job, fmt.Errorf("needs: %w", err)
	}
	switch {
	case raw.Dependencies != nil:
		job.ArtifactsFrom = append([]string{}, (*raw.Dependencies)...)
		job.ArtifactsFromDeclared = true
	case raw.Needs.Kind != 0:
		job.ArtifactsFrom = job.Needs
	}

	expire, err := ParseExpireIn(raw.Artifacts.ExpireIn)
	if err != nil {
		return job, fmt.Errorf("artifacts.expire_in: %w", err)
	}
	job.Artifacts = domain.ArtifactSpec{
		Name:     raw.Artifacts.Name,
		Paths:    raw.Artifacts.Paths,
		ExpireIn: expire,
		When:     raw.Artifacts.When,
	}
	if job.Artifacts.Name == "" {
		job.Artifacts.Name = name
	}
	if job.Artifacts.When == "" {
		job.Artifacts.When = domain.WhenOnSuccess
	}

	job.AllowFailure = allowFailure(&raw.AllowFailure)

	if raw.Timeout != "" {
		if job.Timeout, err = ParseExpireIn(raw.Timeout); err != nil {
			return job, fmt.Errorf("timeout: %w", err)
		}
	}

	if job.Matrix, err = gitlabParallel(&raw.Parallel); err != nil {
		return job, fmt.Errorf("parallel: %w", err)
	}

	if job.Secrets, err = gitlabSecrets(&raw.Secrets); err != nil {
		return job, fmt.Errorf("secrets: %w", err)
	}
	return job, nil
}

// gitlabSecrets returns the variable names a job declares under `secrets:`.
// Each name is resolved against the configured secret store.
func gitlabSecrets(n *yaml.Node) ([]string, error) {
	n = resolve(n)
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	var names []string
	for _, p := range pairs(n) {
		names = append(names, p.key)
	}
	sort.Strings(names)
	return names, nil
}

func imageName(n *yaml.Node) string {
	n = resolve(n)
	if n == nil {
		return ""
	}
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value
	case yaml.MappingNode:
		if v := lookup(n, "name"); v != nil {
			return v.Value
		}
	}
	return ""
}

func refPolicy(n *yaml.Node) (*domain.RefPolicy, error) {
	if isNull(n) {
		return nil, nil
	}
	n = resolve(n)
	if n.Kind == yaml.MappingNode {
		refs, err := stringList(lookup(n, "refs"))
		if err != nil {
			return nil, err
		}
		vars, err := stringList(lookup(n, "variables"))
		if err != nil {
			return nil, err
		}
		return &domain.RefPolicy{Refs: refs, Variables: vars}, nil
	}
	refs, err := stringList(n)
	if err != nil {
		return nil, err
	}
	return &domain.RefPolicy{Refs: refs}, nil
}

func gitlabNeeds(n *yaml.Node) ([]string, error) {
	n = resolve(n)
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a list", n.Line)
	}
	out := []string{}
	for _, item := range n.Content {
		item = resolve(item)
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, item.Value)
		case yaml.MappingNode:
			if j := lookup(item, "job"); j != nil {
				out = append(out, j.Value)
			}
		default:
			return nil, fmt.Errorf("line %d: unsupported needs entry", item.Line)
		}
	}
	return out, nil
}

func allowFailure(n *yaml.Node) bool {
	n = resolve(n)
	if n == nil || n.Kind == 0 {
		return false
	}
	if n.Kind == yaml.MappingNode {
		return true
	}
	b, _ := strconv.ParseBool(n.Value)
	return b
}

// gitlabParallel turns `parallel: N` into N indexed instances and
// `parallel: {matrix: [...]}` into the union of each entry's product.
func gitlabParallel(n *yaml.Node) (domain.Matrix, error) {
	n = resolve(n)
	if isNull(n) {
		return domain.Matrix{}, nil
	}

	if n.Kind == yaml.ScalarNode {
		count, err := strconv.Atoi(n.Value)
		if err != nil || count < 1 {
			return domain.Matrix{}, fmt.Errorf("line %d: expected a positive integer", n.Line)
		}
		var m domain.Matrix
		total := strconv.Itoa(count)
		for i := 1; i <= count; i++ {
			m.Include = append(m.Include, domain.Combination{
				{Key: "CI_NODE_INDEX", Value: strconv.Itoa(i)},
				{Key: "CI_NODE_TOTAL", Value: total},
			})
		}
		return m, nil
	}

	entries := resolve(lookup(n, "matrix"))
	if entries == nil || entries.Kind != yaml.SequenceNode {
		return domain.Matrix{}, fmt.Errorf("line %d: expected parallel.matrix to be a list", n.Line)
	}
	var m domain.Matrix
	for _, entry := range entries.Content {
		var axes []domain.Axis
		for _, p := range pairs(entry) {
			values, err := stringList(p.value)
			if err != nil {
				return domain.Matrix{}, fmt.Errorf("%s: %w", p.key, err)
			}
			axes = append(axes, domain.Axis{Name: p.key, Values: values})
		}
		m.Include = append(m.Include, matrix.Expand(domain.Matrix{Axes: axes})...)
	}
	return m, nil
}
