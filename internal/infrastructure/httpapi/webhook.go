package httpapi

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

type ghCommit struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

type ghPush struct {
	Ref     string     `json:"ref"`
	After   string     `json:"after"`
	Commits []ghCommit `json:"commits"`
}

type ghPullRequest struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
}

type ghRelease struct {
	Action  string `json:"action"`
	Release struct {
		TagName         string `json:"tag_name"`
		TargetCommitish string `json:"target_commitish"`
	} `json:"release"`
}

// decodeGitHub maps a GitHub webhook delivery of the given X-GitHub-Event
// type to an event.
func decodeGitHub(kind string, body []byte) (domain.Event, error) {
	switch kind {
	case "push":
		var p ghPush
		if err := json.Unmarshal(body, &p); err != nil {
			return domain.Event{}, err
		}
		seen := map[string]struct{}{}
		for _, c := range p.Commits {
			for _, list := range [][]string{c.Added, c.Removed, c.Modified} {
				for _, f := range list {
					seen[f] = struct{}{}
				}
			}
		}
		var changed []string
		for f := range seen {
			changed = append(changed, f)
		}
		sort.Strings(changed)
		return domain.Event{Kind: domain.EventPush, Ref: p.Ref, SHA: p.After, ChangedPaths: changed}, nil

	case "pull_request":
		var p ghPullRequest
		if err := json.Unmarshal(body, &p); err != nil {
			return domain.Event{}, err
		}
		return domain.Event{
			Kind:    domain.EventPullRequest,
			Ref:     "refs/pull/" + strconv.Itoa(p.Number) + "/merge",
			BaseRef: p.PullRequest.Base.Ref,
			Action:  p.Action,
			SHA:     p.PullRequest.Head.SHA,
		}, nil

	case "release":
		var p ghRelease
		if err := json.Unmarshal(body, &p); err != nil {
			return domain.Event{}, err
		}
		return domain.Event{
			Kind:   domain.EventRelease,
			Ref:    "refs/tags/" + p.Release.TagName,
			Action: p.Action,
		}, nil
	}
	return domain.Event{}, fmt.Errorf("unsupported GitHub event %q", kind)
}
