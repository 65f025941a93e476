package domain

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockRunner succeeds for every command unless a substring of it is listed
// in Fail, in which case it exits 1.
type MockRunner struct {
	Fail  []string
	Err   error
	Block chan struct{}

	mu       sync.Mutex
	Commands []string
	Envs     [][]string
}

func (m *MockRunner) Run(ctx context.Context, req StepRequest) (StepOutcome, error) {
	m.mu.Lock()
	m.Commands = append(m.Commands, req.Command)
	m.Envs = append(m.Envs, req.Env)
	m.mu.Unlock()

	if m.Err != nil {
		return StepOutcome{}, m.Err
	}
	if m.Block != nil && strings.Contains(req.Command, "block") {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return StepOutcome{ExitCode: -1}, ctx.Err()
		}
	}
	for _, f := range m.Fail {
		if strings.Contains(req.Command, f) {
			return StepOutcome{Output: []byte("boom\n"), ExitCode: 1}, nil
		}
	}
	return StepOutcome{Output: []byte("ok\n")}, nil
}

func (m *MockRunner) Ran() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Commands))
	copy(out, m.Commands)
	return out
}

type MockArtifacts struct {
	mu    sync.Mutex
	Items map[string]Artifact
}

func artifactKey(runID, name string) string { return runID + "/" + name }

func (m *MockArtifacts) Put(ctx context.Context, a Artifact, srcRoot string, paths []string) (Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Items == nil {
		m.Items = make(map[string]Artifact)
	}
	k := artifactKey(a.RunID, a.Name)
	if _, ok := m.Items[k]; ok {
		return Artifact{}, ErrArtifactExists
	}
	a.Files = len(paths)
	m.Items[k] = a
	return a, nil
}

func (m *MockArtifacts) Fetch(ctx context.Context, runID, name, destRoot string) (Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Items[artifactKey(runID, name)]
	if !ok {
		return Artifact{}, ErrArtifactMissing
	}
	return a, nil
}

func (m *MockArtifacts) Delete(ctx context.Context, runID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Items, artifactKey(runID, name))
	return nil
}

func (m *MockArtifacts) List(ctx context.Context, runID string) ([]Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Artifact
	for _, a := range m.Items {
		if runID == "" || a.RunID == runID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MockArtifacts) Prune(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, a := range m.Items {
		if a.Expired(now) {
			delete(m.Items, k)
			n++
		}
	}
	return n, nil
}

type MockRuns struct {
	mu   sync.Mutex
	Runs []Run
	Err  error
}

func (m *MockRuns) Save(ctx context.Context, r Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Runs = append(m.Runs, r)
	return nil
}

func (m *MockRuns) Get(ctx context.Context, id string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Runs {
		if r.ID == id {
			return r, nil
		}
	}
	return Run{}, ErrRunNotFound
}

func (m *MockRuns) List(ctx context.Context, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Run, 0, len(m.Runs))
	for i := len(m.Runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.Runs[i])
	}
	return out, nil
}

func (m *MockRuns) Latest(ctx context.Context, workflow, ref string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Runs) - 1; i >= 0; i-- {
		if m.Runs[i].Workflow == workflow && m.Runs[i].Event.Ref == ref {
			return m.Runs[i], nil
		}
	}
	return Run{}, ErrRunNotFound
}

type MockNotifier struct {
	mu       sync.Mutex
	Messages []string
	Err      error
}

func (n *MockNotifier) Notify(ctx context.Context, title, body, url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, title+"|"+body+"|"+url)
	return n.Err
}

type MockCache struct {
	mu        sync.Mutex
	Snapshots []Snapshot
	Err       error
}

func (c *MockCache) Write(ctx context.Context, s Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Snapshots = append(c.Snapshots, s)
	return nil
}

type MockPublisher struct {
	mu       sync.Mutex
	Requests []PublishRequest
	Err      error
}

func (p *MockPublisher) Publish(ctx context.Context, req PublishRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	return p.Err
}

type MapSecrets map[string]string

func (m MapSecrets) Secret(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}
