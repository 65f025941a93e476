package graph

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNew_TopologicalOrderFollowsInsertionOnTies(t *testing.T) {
	g, err := New(
		[]string{"release", "build-linux", "build-mac", "cleanup"},
		[]Edge{
			{From: "build-linux", To: "release"},
			{From: "build-mac", To: "release"},
			{From: "release", To: "cleanup"},
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"build-linux", "build-mac", "release", "cleanup"}
	if diff := cmp.Diff(want, g.TopologicalOrder()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}

	if d, _ := g.Depth("cleanup"); d != 2 {
		t.Errorf("depth(cleanup) = %d, want 2", d)
	}
	if diff := cmp.Diff([]string{"build-linux", "build-mac"}, g.Dependencies("release")); diff != "" {
		t.Errorf("dependencies mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"release", "cleanup"}, g.Downstream("build-mac")); diff != "" {
		t.Errorf("downstream mismatch:\n%s", diff)
	}
}

func TestNew_RejectsInvalidShapes(t *testing.T) {
	cases := []struct {
		name  string
		ids   []string
		edges []Edge
		kind  error
	}{
		{"empty id", []string{""}, nil, ErrInvalidGraph},
		{"duplicate id", []string{"a", "a"}, nil, ErrInvalidGraph},
		{"unknown from", []string{"a"}, []Edge{{From: "x", To: "a"}}, ErrInvalidGraph},
		{"unknown to", []string{"a"}, []Edge{{From: "a", To: "x"}}, ErrInvalidGraph},
		{"self loop", []string{"a"}, []Edge{{From: "a", To: "a"}}, ErrInvalidGraph},
		{"duplicate edge", []string{"a", "b"}, []Edge{{From: "a", To: "b"}, {From: "a", To: "b"}}, ErrInvalidGraph},
		{"cycle", []string{"a", "b", "c"}, []Edge{{From: "a", To: "b"}, {From: "b", To: "c"}, {From: "c", To: "a"}}, ErrCycle},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.ids, tc.edges)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("got %v, want %v", err, tc.kind)
			}
		})
	}
}

func TestNew_CycleWitnessIsStable(t *testing.T) {
	_, err := New(
		[]string{"a", "b", "c"},
		[]Edge{{From: "a", To: "b"}, {From: "b", To: "c"}, {From: "c", To: "a"}},
	)
	var ge *Error
	if !errors.As(err, &ge) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if ge.Msg != "a -> b -> c -> a" {
		t.Fatalf("unexpected witness %q", ge.Msg)
	}
}
