package cache_fs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

// FSCache keeps a JSON file with the latest status of every workflow/ref,
// for status bars and shell prompts to read.
type FSCache struct {
	path string
	mu   sync.Mutex
}

func New(path string) *FSCache { return &FSCache{path: path} }

type entry struct {
	Workflow  string `json:"workflow"`
	Ref       string `json:"ref"`
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Retrieved int64  `json:"retrieved"`
}

func (c *FSCache) Write(_ context.Context, s domain.Snapshot) error {
	if c.path == "" {
		return errors.New("cache path is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.read()
	if err != nil {
		return err
	}
	e := entry{Workflow: s.Workflow, Ref: s.Ref, RunID: s.RunID, Status: string(s.Status), Retrieved: s.Retrieved}
	replaced := false
	for i := range entries {
		if entries[i].Workflow == e.Workflow && entries[i].Ref == e.Ref {
			entries[i] = e
			replaced = true
		}
	}
	if !replaced {
		entries = append(entries, e)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

// Read returns the cached snapshots.
func (c *FSCache) Read() ([]domain.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := c.read()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Snapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.Snapshot{
			Workflow: e.Workflow, Ref: e.Ref, RunID: e.RunID,
			Status: domain.RunStatus(e.Status), Retrieved: e.Retrieved,
		})
	}
	return out, nil
}

func (c *FSCache) read() ([]entry, error) {
	b, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []entry
	if err := json.Unmarshal(b, &entries); err != nil {
		// A corrupt cache file is rewritten from scratch.
		return nil, nil
	}
	return entries, nil
}
