// Package workflow reads GitLab CI and GitHub Actions documents into the
// provider-neutral domain.Workflow model and validates them.
package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

const gitlabFile = ".gitlab-ci.yml"

// Discover lists the pipeline documents of a project: its GitLab CI file
// and every workflow under .github/workflows, in a stable order.
func Discover(root string) ([]string, error) {
	var out []string

	gl := filepath.Join(root, gitlabFile)
	if _, err := os.Stat(gl); err == nil {
		out = append(out, gl)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	var gh []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		m, err := filepath.Glob(filepath.Join(root, ".github", "workflows", pattern))
		if err != nil {
			return nil, err
		}
		gh = append(gh, m...)
	}
	sort.Strings(gh)
	return append(out, gh...), nil
}

// LoadFile parses one pipeline document, detecting its provider.
func LoadFile(path string) (*domain.Workflow, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	wf, err := Parse(b, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// Parse decodes a pipeline document. path is used for provider detection
// and naming only.
func Parse(data []byte, path string) (*domain.Workflow, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	root := resolve(&doc)
	if root == nil || root.Kind != yaml.MappingNode {
		return nil, errors.New("document is not a mapping")
	}

	switch detect(root, path) {
	case domain.ProviderGitHub:
		return parseGitHub(root, path)
	default:
		return parseGitLab(root, path)
	}
}

func detect(root *yaml.Node, path string) domain.Provider {
	if filepath.Base(path) == gitlabFile {
		return domain.ProviderGitLab
	}
	if lookup(root, "jobs") != nil && lookup(root, "stages") == nil {
		return domain.ProviderGitHub
	}
	return domain.ProviderGitLab
}

// LoadAll loads every path, returning the documents that parsed together
// with the combined error of those that did not.
func LoadAll(paths []string) ([]*domain.Workflow, error) {
	var (
		out  []*domain.Workflow
		errs error
	)
	for _, p := range paths {
		wf, err := LoadFile(p)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, wf)
	}
	return out, errs
}
