// Package artifact_fs keeps job artifacts on the local filesystem.
//
// Layout: <root>/<run>/<name>/meta.json holds the artifact record and
// <root>/<run>/<name>/files/ the collected files, relative to the project
// directory they were collected from.
package artifact_fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

const metaFile = "meta.json"

type Store struct {
	root string
	log  *zap.Logger
	now  func() time.Time
}

func New(root string, l *zap.Logger) *Store {
	return &Store{root: root, log: l, now: time.Now}
}

func (s *Store) dir(runID, name string) string {
	return filepath.Join(s.root, url.PathEscape(runID), url.PathEscape(name))
}

// Put collects the files matching paths under srcRoot. A directory match
// is taken recursively. The name is claimed with an exclusive mkdir, so a
// second Put of the same run and name fails with ErrArtifactExists.
func (s *Store) Put(ctx context.Context, a domain.Artifact, srcRoot string, paths []string) (domain.Artifact, error) {
	if a.RunID == "" || a.Name == "" {
		return domain.Artifact{}, errors.New("artifact needs a run and a name")
	}
	files, err := collect(srcRoot, paths)
	if err != nil {
		return domain.Artifact{}, err
	}
	if len(files) == 0 {
		return domain.Artifact{}, domain.ErrNoArtifactFiles
	}

	dir := s.dir(a.RunID, a.Name)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return domain.Artifact{}, err
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return domain.Artifact{}, fmt.Errorf("%q: %w", a.Name, domain.ErrArtifactExists)
		}
		return domain.Artifact{}, err
	}

	a.Files, a.Size = 0, 0
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			_ = os.RemoveAll(dir)
			return domain.Artifact{}, err
		}
		n, err := copyFile(filepath.Join(srcRoot, filepath.FromSlash(rel)), filepath.Join(dir, "files", filepath.FromSlash(rel)))
		if err != nil {
			_ = os.RemoveAll(dir)
			return domain.Artifact{}, err
		}
		a.Files++
		a.Size += n
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	if err := writeMeta(dir, a); err != nil {
		_ = os.RemoveAll(dir)
		return domain.Artifact{}, err
	}

	s.log.Debug("artifact stored", zap.String("run", a.RunID), zap.String("name", a.Name), zap.Int("files", a.Files))
	return a, nil
}

// Fetch copies an artifact's files into destRoot. Expired artifacts are
// treated as missing.
func (s *Store) Fetch(ctx context.Context, runID, name, destRoot string) (domain.Artifact, error) {
	dir := s.dir(runID, name)
	a, err := readMeta(dir)
	if err != nil {
		return domain.Artifact{}, err
	}
	if a.Expired(s.now()) {
		return domain.Artifact{}, fmt.Errorf("%q expired at %s: %w", name, a.ExpiresAt.Format(time.RFC3339), domain.ErrArtifactMissing)
	}

	src := filepath.Join(dir, "files")
	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		_, err = copyFile(p, filepath.Join(destRoot, rel))
		return err
	})
	if err != nil {
		return domain.Artifact{}, err
	}
	return a, nil
}

func (s *Store) Delete(_ context.Context, runID, name string) error {
	dir := s.dir(runID, name)
	if _, err := os.Stat(filepath.Join(dir, metaFile)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%q: %w", name, domain.ErrArtifactMissing)
		}
		return err
	}
	return os.RemoveAll(dir)
}

// List returns the artifacts of one run, or of every run when runID is
// empty, oldest first.
func (s *Store) List(_ context.Context, runID string) ([]domain.Artifact, error) {
	pattern := filepath.Join(s.root, "*", "*", metaFile)
	if runID != "" {
		pattern = filepath.Join(s.root, url.PathEscape(runID), "*", metaFile)
	}
	metas, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Artifact, 0, len(metas))
	for _, m := range metas {
		a, err := readMeta(filepath.Dir(m))
		if err != nil {
			s.log.Warn("unreadable artifact metadata", zap.String("path", m), zap.Error(err))
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Prune deletes every artifact expired at now and removes run directories
// left empty.
func (s *Store) Prune(ctx context.Context, now time.Time) (int, error) {
	all, err := s.List(ctx, "")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range all {
		if !a.Expired(now) {
			continue
		}
		if err := os.RemoveAll(s.dir(a.RunID, a.Name)); err != nil {
			return n, err
		}
		n++
		runDir := filepath.Join(s.root, url.PathEscape(a.RunID))
		if entries, err := os.ReadDir(runDir); err == nil && len(entries) == 0 {
			_ = os.Remove(runDir)
		}
	}
	return n, nil
}

// collect resolves artifact path patterns under root to a sorted, unique
// list of slash-separated file paths.
func collect(root string, patterns []string) ([]string, error) {
	fsys := os.DirFS(root)
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}

	for _, raw := range patterns {
		pattern := path.Clean(filepath.ToSlash(strings.TrimSpace(raw)))
		if pattern == "." || pattern == "" {
			continue
		}
		if !fs.ValidPath(pattern) {
			return nil, fmt.Errorf("artifact path %q must stay inside the project", raw)
		}
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("artifact path %q: %w", raw, err)
		}
		for _, m := range matches {
			info, err := fs.Stat(fsys, m)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				add(m)
				continue
			}
			err = fs.WalkDir(fsys, m, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.Type().IsRegular() {
					add(p)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func writeMeta(dir string, a domain.Artifact) error {
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metaFile), b, 0o644)
}

func readMeta(dir string) (domain.Artifact, error) {
	b, err := os.ReadFile(filepath.Join(dir, metaFile))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Artifact{}, fmt.Errorf("%q: %w", filepath.Base(dir), domain.ErrArtifactMissing)
	}
	if err != nil {
		return domain.Artifact{}, err
	}
	var a domain.Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return domain.Artifact{}, err
	}
	return a, nil
}
