package workflow

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

var secretRef = regexp.MustCompile(`secrets\.([A-Za-z_][A-Za-z0-9_]*)`)

type ghStrategy struct {
	Matrix      yaml.Node `yaml:"matrix"`
	FailFast    *text     `yaml:"fail-fast"`
	MaxParallel int       `yaml:"max-parallel"`
}

type ghStep struct {
	ID              string          `yaml:"id"`
	Name            string          `yaml:"name"`
	Run             string          `yaml:"run"`
	Uses            string          `yaml:"uses"`
	With            map[string]text `yaml:"with"`
	Env             map[string]text `yaml:"env"`
	If              text            `yaml:"if"`
	ContinueOnError text            `yaml:"continue-on-error"`
	WorkingDir      string          `yaml:"working-directory"`
}

type ghJob struct {
	Name            string          `yaml:"name"`
	Needs           yaml.Node       `yaml:"needs"`
	If              text            `yaml:"if"`
	RunsOn          yaml.Node       `yaml:"runs-on"`
	Env             map[string]text `yaml:"env"`
	Strategy        ghStrategy      `yaml:"strategy"`
	TimeoutMinutes  text            `yaml:"timeout-minutes"`
	ContinueOnError text            `yaml:"continue-on-error"`
	Steps           []ghStep        `yaml:"steps"`
	Uses            string          `yaml:"uses"`
}

func parseGitHub(root *yaml.Node, path string) (*domain.Workflow, error) {
	wf := &domain.Workflow{
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path:     path,
		Provider: domain.ProviderGitHub,
	}
	if n := lookup(root, "name"); n != nil && n.Value != "" {
		wf.Name = n.Value
	}

	// `on` may come back as a bool key from YAML 1.1 tooling; match both.
	var on *yaml.Node
	for _, p := range pairs(root) {
		if p.key == "on" || p.key == "true" {
			on = p.value
		}
	}
	triggers, err := githubTriggers(on)
	if err != nil {
		return nil, fmt.Errorf("on: %w", err)
	}
	wf.Triggers = triggers

	var env map[string]text
	if n := lookup(root, "env"); n != nil {
		if err := n.Decode(&env); err != nil {
			return nil, fmt.Errorf("env: %w", err)
		}
	}
	wf.Env = textMap(env)

	for _, p := range pairs(lookup(root, "jobs")) {
		job, err := parseGitHubJob(p.key, p.value)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", p.key, err)
		}
		wf.Jobs = append(wf.Jobs, job)
	}
	return wf, nil
}

func githubTriggers(n *yaml.Node) ([]domain.Trigger, error) {
	n = resolve(n)
	if n == nil {
		return nil, nil
	}

	switch n.Kind {
	case yaml.ScalarNode, yaml.SequenceNode:
		names, err := stringList(n)
		if err != nil {
			return nil, err
		}
		var out []domain.Trigger
		for _, name := range names {
			if kind, ok := eventKind(name); ok {
				out = append(out, domain.Trigger{Event: kind})
			}
		}
		return out, nil
	case yaml.MappingNode:
		var out []domain.Trigger
		for _, p := range pairs(n) {
			kind, ok := eventKind(p.key)
			if !ok {
				continue
			}
			t := domain.Trigger{Event: kind}
			fields := []struct {
				key string
				dst *[]string
			}{
				{"branches", &t.Branches},
				{"branches-ignore", &t.BranchesIgnore},
				{"tags", &t.Tags},
				{"tags-ignore", &t.TagsIgnore},
				{"paths", &t.Paths},
				{"paths-ignore", &t.PathsIgnore},
				{"types", &t.Types},
			}
			for _, f := range fields {
				v, err := stringList(lookup(p.value, f.key))
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", p.key, f.key, err)
				}
				*f.dst = v
			}
			out = append(out, t)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("line %d: unsupported trigger definition", n.Line)
	}
}

func eventKind(name string) (domain.EventKind, bool) {
	switch name {
	case "push":
		return domain.EventPush, true
	case "pull_request", "pull_request_target":
		return domain.EventPullRequest, true
	case "release":
		return domain.EventRelease, true
	default:
		return "", false
	}
}

func parseGitHubJob(name string, n *yaml.Node) (domain.Job, error) {
	var raw ghJob
	if err := resolve(n).Decode(&raw); err != nil {
		return domain.Job{}, err
	}
	if raw.Uses != "" {
		return domain.Job{}, fmt.Errorf("reusable workflow %q is not supported", raw.Uses)
	}

	job := domain.Job{
		Name:         name,
		If:           string(raw.If),
		Env:          textMap(raw.Env),
		AllowFailure: isTrue(raw.ContinueOnError),
	}

	var err error
	if job.Needs, err = stringList(&raw.Needs); err != nil {
		return job, fmt.Errorf("needs: %w", err)
	}
	job.ArtifactsFrom = job.Needs

	runsOn, err := stringList(&raw.RunsOn)
	if err != nil {
		return job, fmt.Errorf("runs-on: %w", err)
	}
	if len(runsOn) > 0 {
		job.RunsOn = runsOn[0]
	}

	if raw.TimeoutMinutes != "" {
		minutes, err := strconv.Atoi(string(raw.TimeoutMinutes))
		if err != nil {
			return job, fmt.Errorf("timeout-minutes: %w", err)
		}
		job.Timeout = time.Duration(minutes) * time.Minute
	}

	if job.Matrix, err = githubMatrix(&raw.Strategy.Matrix); err != nil {
		return job, fmt.Errorf("strategy.matrix: %w", err)
	}
	job.Matrix.FailFast = true
	if raw.Strategy.FailFast != nil {
		job.Matrix.FailFast = isTrue(*raw.Strategy.FailFast)
	}
	job.Matrix.MaxParallel = raw.Strategy.MaxParallel

	secrets := map[string]struct{}{}
	collect := func(s string) {
		for _, m := range secretRef.FindAllStringSubmatch(s, -1) {
			secrets[m[1]] = struct{}{}
		}
	}
	collect(job.If)
	for _, v := range job.Env {
		collect(v)
	}

	for _, rs := range raw.Steps {
		step := domain.Step{
			Name:            rs.Name,
			Run:             rs.Run,
			Uses:            rs.Uses,
			With:            textMap(rs.With),
			Env:             textMap(rs.Env),
			If:              string(rs.If),
			ContinueOnError: isTrue(rs.ContinueOnError),
		}
		if step.Name == "" {
			step.Name = rs.ID
		}
		if rs.WorkingDir != "" && step.Run != "" {
			step.Run = "cd " + strconv.Quote(rs.WorkingDir) + "\n" + step.Run
		}
		collect(step.Run)
		collect(step.If)
		for _, v := range step.With {
			collect(v)
		}
		for _, v := range step.Env {
			collect(v)
		}
		job.Steps = append(job.Steps, step)
	}

	for s := range secrets {
		job.Secrets = append(job.Secrets, s)
	}
	sort.Strings(job.Secrets)
	return job, nil
}

func githubMatrix(n *yaml.Node) (domain.Matrix, error) {
	var m domain.Matrix
	n = resolve(n)
	if isNull(n) {
		return m, nil
	}
	if n.Kind != yaml.MappingNode {
		return m, fmt.Errorf("line %d: matrix expressions are not supported", n.Line)
	}

	for _, p := range pairs(n) {
		switch p.key {
		case "include", "exclude":
			combos, err := combinations(p.value)
			if err != nil {
				return m, fmt.Errorf("%s: %w", p.key, err)
			}
			if p.key == "include" {
				m.Include = combos
			} else {
				m.Exclude = combos
			}
		default:
			values, err := stringList(p.value)
			if err != nil {
				return m, fmt.Errorf("%s: %w", p.key, err)
			}
			m.Axes = append(m.Axes, domain.Axis{Name: p.key, Values: values})
		}
	}
	return m, nil
}

func combinations(n *yaml.Node) ([]domain.Combination, error) {
	n = resolve(n)
	if n == nil || n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected a list of mappings")
	}
	var out []domain.Combination
	for _, item := range n.Content {
		var c domain.Combination
		for _, p := range pairs(item) {
			v := resolve(p.value)
			if v == nil || v.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: %s must be a scalar", p.value.Line, p.key)
			}
			c = append(c, domain.Pair{Key: p.key, Value: v.Value})
		}
		out = append(out, c)
	}
	return out, nil
}

func isTrue(t text) bool {
	b, _ := strconv.ParseBool(string(t))
	return b
}
