package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

func TestEventFlags(t *testing.T) {
	cases := []struct {
		name  string
		flags eventFlags
		want  domain.Event
		err   bool
	}{
		{
			name:  "bare branch",
			flags: eventFlags{kind: "push", ref: "dev", changed: []string{"README.md"}},
			want:  domain.Event{Kind: domain.EventPush, Ref: "refs/heads/dev", ChangedPaths: []string{"README.md"}},
		},
		{
			name:  "tag push",
			flags: eventFlags{kind: "push", ref: "refs/tags/v1.0"},
			want:  domain.Event{Kind: domain.EventPush, Ref: "refs/tags/v1.0"},
		},
		{
			name:  "pull request",
			flags: eventFlags{kind: "pull-request", ref: "refs/pull/4/merge", baseRef: "dev", action: "opened"},
			want:  domain.Event{Kind: domain.EventPullRequest, Ref: "refs/pull/4/merge", BaseRef: "dev", Action: "opened"},
		},
		{
			name:  "release from bare tag",
			flags: eventFlags{kind: "release", ref: "v2.1", action: "published"},
			want:  domain.Event{Kind: domain.EventRelease, Ref: "refs/tags/v2.1", Action: "published"},
		},
		{name: "pull request without base", flags: eventFlags{kind: "pull_request", ref: "x"}, err: true},
		{name: "unknown kind", flags: eventFlags{kind: "schedule", ref: "main"}, err: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.flags.event()
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
