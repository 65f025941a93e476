// Package trigger decides which workflows an event starts and which GitLab
// jobs it includes.
package trigger

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

var defaultPullRequestTypes = []string{"opened", "synchronize", "reopened"}

// Matches reports whether any trigger of wf accepts ev.
func Matches(wf *domain.Workflow, ev domain.Event) bool {
	for _, t := range wf.Triggers {
		if MatchTrigger(t, ev) {
			return true
		}
	}
	return false
}

func MatchTrigger(t domain.Trigger, ev domain.Event) bool {
	if t.Event != ev.Kind {
		return false
	}
	switch ev.Kind {
	case domain.EventPush:
		return matchPush(t, ev)
	case domain.EventPullRequest:
		return matchPullRequest(t, ev)
	case domain.EventRelease:
		return len(t.Types) == 0 || contains(t.Types, ev.Action)
	default:
		return false
	}
}

func matchPush(t domain.Trigger, ev domain.Event) bool {
	hasBranch := len(t.Branches) > 0 || len(t.BranchesIgnore) > 0
	hasTag := len(t.Tags) > 0 || len(t.TagsIgnore) > 0

	if ev.IsTag() {
		if hasBranch && !hasTag {
			return false
		}
		if !matchIncludeExclude(t.Tags, t.TagsIgnore, ev.Tag()) {
			return false
		}
	} else {
		if hasTag && !hasBranch {
			return false
		}
		if !matchIncludeExclude(t.Branches, t.BranchesIgnore, ev.Branch()) {
			return false
		}
	}
	return matchPaths(t, ev.ChangedPaths)
}

func matchPullRequest(t domain.Trigger, ev domain.Event) bool {
	action := ev.Action
	if action == "" {
		action = "opened"
	}
	types := t.Types
	if len(types) == 0 {
		types = defaultPullRequestTypes
	}
	if !contains(types, action) {
		return false
	}

	base := strings.TrimPrefix(ev.BaseRef, "refs/heads/")
	if !matchIncludeExclude(t.Branches, t.BranchesIgnore, base) {
		return false
	}
	return matchPaths(t, ev.ChangedPaths)
}

func matchIncludeExclude(include, ignore []string, name string) bool {
	if len(include) > 0 && !MatchPatterns(include, name) {
		return false
	}
	if len(ignore) > 0 && MatchPatterns(ignore, name) {
		return false
	}
	return true
}

// matchPaths applies path filters. With a filter present an event needs at
// least one changed path that passes it, so events without changed paths
// (tag pushes, releases) never pass a path filter.
func matchPaths(t domain.Trigger, changed []string) bool {
	if len(t.Paths) == 0 && len(t.PathsIgnore) == 0 {
		return true
	}
	for _, p := range changed {
		if len(t.Paths) > 0 && !MatchPatterns(t.Paths, p) {
			continue
		}
		if len(t.PathsIgnore) > 0 && MatchPatterns(t.PathsIgnore, p) {
			continue
		}
		return true
	}
	return false
}

// MatchPatterns evaluates GitHub filter patterns in order: `*` stays within
// a path segment, `**` crosses segments, a leading `!` negates, and the
// last matching pattern decides.
func MatchPatterns(patterns []string, name string) bool {
	matched := false
	for _, p := range patterns {
		negate := strings.HasPrefix(p, "!")
		p = strings.TrimPrefix(p, "!")
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			matched = !negate
		}
	}
	return matched
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
