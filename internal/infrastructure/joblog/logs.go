// Package joblog stores the combined output of every job instance.
package joblog

import (
	"os"
	"path/filepath"
	"strings"
)

// Store writes one log file per job instance under <base>/<run>/.
type Store struct {
	BaseDir string
}

func New(baseDir string) *Store {
	return &Store{BaseDir: baseDir}
}

// Save writes the output of one job instance and returns the file path.
func (s *Store) Save(runID, job string, output []byte) (string, error) {
	dir := filepath.Join(s.BaseDir, sanitize(runID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, sanitize(job)+".log")
	if err := os.WriteFile(path, output, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) Read(runID, job string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.BaseDir, sanitize(runID), sanitize(job)+".log"))
}

// sanitize maps a job instance name such as "test (ubuntu-latest, 3.8)"
// onto a file name.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	clean := strings.Trim(b.String(), "_.")
	if clean == "" {
		return "job"
	}
	return clean
}
