package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

// eventFlags describe the trigger event on the command line.
type eventFlags struct {
	kind    string
	ref     string
	baseRef string
	action  string
	sha     string
	changed []string
}

func (f *eventFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.kind, "event", "push", "event kind: push, pull_request or release")
	fl.StringVar(&f.ref, "ref", "refs/heads/main", "git ref; a bare name is taken as a branch")
	fl.StringVar(&f.baseRef, "base-ref", "", "target branch of a pull request")
	fl.StringVar(&f.action, "action", "", "pull request or release activity type")
	fl.StringVar(&f.sha, "sha", "", "commit SHA")
	fl.StringSliceVar(&f.changed, "changed", nil, "changed paths, for path filters")

	_ = cmd.RegisterFlagCompletionFunc("event", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"push", "pull_request", "release"}, cobra.ShellCompDirectiveNoFileComp
	})
}

func (f *eventFlags) event() (domain.Event, error) {
	kind := domain.EventKind(strings.ReplaceAll(f.kind, "-", "_"))
	switch kind {
	case domain.EventPush, domain.EventPullRequest, domain.EventRelease:
	default:
		return domain.Event{}, fmt.Errorf("unknown event %q", f.kind)
	}
	ev := domain.Event{
		Kind:         kind,
		Ref:          domain.NormalizeRef(f.ref),
		BaseRef:      f.baseRef,
		Action:       f.action,
		SHA:          f.sha,
		ChangedPaths: f.changed,
	}
	if kind == domain.EventPullRequest && ev.BaseRef == "" {
		return domain.Event{}, fmt.Errorf("--base-ref is required for pull_request")
	}
	if kind == domain.EventRelease && !ev.IsTag() {
		ev.Ref = "refs/tags/" + strings.TrimPrefix(f.ref, "refs/heads/")
	}
	return ev, nil
}
