package trigger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/davarch/ci-orchestrator/internal/condition"
	"github.com/davarch/ci-orchestrator/internal/domain"
)

// PipelineSource maps an event to GitLab's CI_PIPELINE_SOURCE.
func PipelineSource(ev domain.Event) string {
	switch ev.Kind {
	case domain.EventPullRequest:
		return "merge_request_event"
	case domain.EventRelease:
		return "api"
	default:
		return "push"
	}
}

// PredefinedVariables returns the CI variables both dialects expose for ev.
func PredefinedVariables(ev domain.Event) map[string]string {
	vars := map[string]string{
		"CI":                 "true",
		"CI_PIPELINE_SOURCE": PipelineSource(ev),
		"CI_COMMIT_REF_NAME": ev.RefName(),
		"GITHUB_ACTIONS":     "true",
		"GITHUB_EVENT_NAME":  string(ev.Kind),
		"GITHUB_REF":         ev.Ref,
		"GITHUB_REF_NAME":    ev.RefName(),
	}
	if ev.SHA != "" {
		vars["CI_COMMIT_SHA"] = ev.SHA
		vars["GITHUB_SHA"] = ev.SHA
	}
	if b := ev.Branch(); b != "" {
		vars["CI_COMMIT_BRANCH"] = b
	}
	if tag := ev.Tag(); tag != "" {
		vars["CI_COMMIT_TAG"] = tag
	}
	if ev.Kind == domain.EventPullRequest {
		base := strings.TrimPrefix(ev.BaseRef, "refs/heads/")
		vars["CI_MERGE_REQUEST_TARGET_BRANCH_NAME"] = base
		vars["GITHUB_BASE_REF"] = base
	}
	return vars
}

// JobIncluded evaluates a GitLab job's rules, or its only/except policy,
// for ev. It returns the effective `when` of an included job.
func JobIncluded(job *domain.Job, ev domain.Event, vars map[string]string) (string, bool, error) {
	if len(job.Rules) > 0 {
		for _, r := range job.Rules {
			ok := true
			if r.If != "" {
				var err error
				if ok, err = condition.EvalGitLab(r.If, vars); err != nil {
					return "", false, fmt.Errorf("job %q: %w", job.Name, err)
				}
			}
			if !ok {
				continue
			}
			when := firstNonEmpty(r.When, job.When, domain.WhenOnSuccess)
			return when, when != domain.WhenNever, nil
		}
		return "", false, nil
	}

	only := job.Only
	if only.Empty() {
		only = &domain.RefPolicy{Refs: []string{"branches", "tags"}}
	}
	in, err := matchPolicy(only, ev, vars, true)
	if err != nil {
		return "", false, fmt.Errorf("job %q only: %w", job.Name, err)
	}
	if !in {
		return "", false, nil
	}
	if !job.Except.Empty() {
		out, err := matchPolicy(job.Except, ev, vars, false)
		if err != nil {
			return "", false, fmt.Errorf("job %q except: %w", job.Name, err)
		}
		if out {
			return "", false, nil
		}
	}

	when := firstNonEmpty(job.When, domain.WhenOnSuccess)
	return when, when != domain.WhenNever, nil
}

// matchPolicy evaluates refs and variables of one policy. For `only` both
// parts must match; for `except` either part is enough.
func matchPolicy(p *domain.RefPolicy, ev domain.Event, vars map[string]string, all bool) (bool, error) {
	refsOK := len(p.Refs) == 0
	for _, ref := range p.Refs {
		ok, err := matchRef(ref, ev)
		if err != nil {
			return false, err
		}
		if ok {
			refsOK = true
			break
		}
	}

	varsOK := len(p.Variables) == 0
	for _, expr := range p.Variables {
		ok, err := condition.EvalGitLab(expr, vars)
		if err != nil {
			return false, err
		}
		if ok {
			varsOK = true
			break
		}
	}

	if all {
		return refsOK && varsOK, nil
	}
	return (len(p.Refs) > 0 && refsOK) || (len(p.Variables) > 0 && varsOK), nil
}

func matchRef(ref string, ev domain.Event) (bool, error) {
	switch ref {
	case "branches":
		return ev.Kind == domain.EventPush && !ev.IsTag(), nil
	case "tags":
		return ev.IsTag(), nil
	case "merge_requests":
		return ev.Kind == domain.EventPullRequest, nil
	case "pushes":
		return ev.Kind == domain.EventPush, nil
	case "api", "external", "pipelines", "schedules", "triggers", "web", "chat":
		return false, nil
	}

	// Merge request pipelines run on the merge request ref, which no branch
	// or tag name matches.
	if ev.Kind == domain.EventPullRequest {
		return false, nil
	}
	name := ev.RefName()
	if len(ref) > 1 && strings.HasPrefix(ref, "/") {
		pattern := ref[1:]
		flags := ""
		if i := strings.LastIndex(pattern, "/"); i >= 0 {
			pattern, flags = pattern[:i], pattern[i+1:]
		}
		if strings.Contains(flags, "i") {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(name), nil
	}
	return ref == name, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
