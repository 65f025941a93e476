package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davarch/ci-orchestrator/internal/domain"
	"github.com/davarch/ci-orchestrator/internal/plan"
)

type fakeDispatcher struct {
	triggered []string

	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeDispatcher) Plans(ev domain.Event) ([]*plan.Plan, error) {
	var out []*plan.Plan
	for _, name := range f.triggered {
		out = append(out, &plan.Plan{Workflow: &domain.Workflow{Name: name}, Event: ev, Triggered: true})
	}
	out = append(out, &plan.Plan{Workflow: &domain.Workflow{Name: "idle"}, Event: ev})
	return out, nil
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev domain.Event) ([]domain.Run, error) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	var runs []domain.Run
	for _, name := range f.triggered {
		runs = append(runs, domain.Run{ID: name + "-1", Workflow: name, Event: ev, Status: domain.StatusSuccess})
	}
	return runs, nil
}

func (f *fakeDispatcher) dispatched() []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Event(nil), f.events...)
}

func newServer(t *testing.T, d *fakeDispatcher, runs domain.RunStore) (*Server, *httptest.Server) {
	t.Helper()
	s := New(context.Background(), zap.NewNop(), d, runs)
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, url, ghEvent, body string) (*http.Response, eventResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	if ghEvent != "" {
		req.Header.Set("X-GitHub-Event", ghEvent)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out eventResponse
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestHealthz(t *testing.T) {
	_, ts := newServer(t, &fakeDispatcher{}, &domain.MockRuns{})
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPostEvent_Background(t *testing.T) {
	d := &fakeDispatcher{triggered: []string{"Release"}}
	s, ts := newServer(t, d, &domain.MockRuns{})

	resp, out := post(t, ts.URL+"/events", "", `{"kind":"push","ref":"main"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"Release"}, out.Workflows)
	assert.Equal(t, "refs/heads/main", out.Event.Ref)

	s.Wait()
	require.Len(t, d.dispatched(), 1)
	assert.Equal(t, "refs/heads/main", d.dispatched()[0].Ref)
}

func TestPostEvent_WaitReturnsRuns(t *testing.T) {
	d := &fakeDispatcher{triggered: []string{"CI", "Release"}}
	_, ts := newServer(t, d, &domain.MockRuns{})

	resp, out := post(t, ts.URL+"/events?wait=true", "", `{"kind":"push","ref":"refs/tags/v1.0"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, out.Runs, 2)
	assert.Equal(t, "CI", out.Runs[0].Workflow)
}

func TestPostEvent_NothingTriggered(t *testing.T) {
	d := &fakeDispatcher{}
	_, ts := newServer(t, d, &domain.MockRuns{})

	resp, out := post(t, ts.URL+"/events", "", `{"kind":"push","ref":"main"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, out.Workflows)
	assert.Empty(t, d.dispatched())
}

func TestPostEvent_Invalid(t *testing.T) {
	_, ts := newServer(t, &fakeDispatcher{}, &domain.MockRuns{})

	resp, _ := post(t, ts.URL+"/events", "", `{"ref":"main"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(t, ts.URL+"/events", "", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(t, ts.URL+"/events", "issues", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostEvent_GitHubPush(t *testing.T) {
	d := &fakeDispatcher{triggered: []string{"CI"}}
	s, ts := newServer(t, d, &domain.MockRuns{})

	payload := `{
		"ref": "refs/heads/dev",
		"after": "abc123",
		"commits": [
			{"added": ["src/new.py"], "modified": ["README.md"], "removed": []},
			{"added": [], "modified": ["src/new.py"], "removed": ["old.txt"]}
		]
	}`
	resp, out := post(t, ts.URL+"/events", "push", payload)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	s.Wait()

	assert.Equal(t, domain.EventPush, out.Event.Kind)
	assert.Equal(t, "abc123", out.Event.SHA)
	assert.Equal(t, []string{"README.md", "old.txt", "src/new.py"}, out.Event.ChangedPaths)
}

func TestPostEvent_GitHubPullRequestAndRelease(t *testing.T) {
	d := &fakeDispatcher{}
	_, ts := newServer(t, d, &domain.MockRuns{})

	_, out := post(t, ts.URL+"/events", "pull_request",
		`{"action":"synchronize","number":12,"pull_request":{"base":{"ref":"dev"},"head":{"sha":"f00"}}}`)
	assert.Equal(t, domain.Event{
		Kind: domain.EventPullRequest, Ref: "refs/pull/12/merge", BaseRef: "dev", Action: "synchronize", SHA: "f00",
	}, out.Event)

	_, out = post(t, ts.URL+"/events", "release", `{"action":"published","release":{"tag_name":"v2.0"}}`)
	assert.Equal(t, domain.Event{Kind: domain.EventRelease, Ref: "refs/tags/v2.0", Action: "published"}, out.Event)

	resp, _ := post(t, ts.URL+"/events", "ping", `{}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRuns(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	runs := &domain.MockRuns{Runs: []domain.Run{
		{ID: "r1", Workflow: "CI", Status: domain.StatusSuccess, StartedAt: start},
		{ID: "r2", Workflow: "CI", Status: domain.StatusFailed, StartedAt: start.Add(time.Hour)},
	}}
	_, ts := newServer(t, &fakeDispatcher{}, runs)

	resp, err := http.Get(ts.URL + "/runs?limit=1")
	require.NoError(t, err)
	var list []domain.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	_ = resp.Body.Close()
	require.Len(t, list, 1)
	assert.Equal(t, "r2", list[0].ID)

	resp, err = http.Get(ts.URL + "/runs/r1")
	require.NoError(t, err)
	var one domain.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&one))
	_ = resp.Body.Close()
	assert.Equal(t, domain.StatusSuccess, one.Status)

	resp, err = http.Get(ts.URL + "/runs/missing")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/runs?limit=x")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
