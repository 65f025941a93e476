package application

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

// action runs a built-in `uses:` step. Unknown actions are reported as
// skipped.
func (x *jobRun) action(ctx context.Context, step domain.Step, with, env map[string]string) (bool, error) {
	name, version, _ := strings.Cut(strings.ToLower(step.Uses), "@")
	fmt.Fprintf(&x.out, "> %s\n", step.Uses)

	switch name {
	case "actions/checkout":
		fmt.Fprintf(&x.out, "using project directory %s\n", x.o.opts.ProjectDir)
		return false, nil
	case "actions/setup-python":
		return false, x.setupPython(ctx, with, env)
	case "actions/cache":
		fmt.Fprintf(&x.out, "cache %q not restored\n", with["key"])
		return false, nil
	case "actions/upload-artifact":
		return false, x.uploadArtifact(ctx, with)
	case "actions/download-artifact":
		return false, x.downloadArtifact(ctx, with)
	case "geekyeggo/delete-artifact":
		return false, x.deleteArtifact(ctx, with)
	case "softprops/action-gh-release":
		tag := with["tag_name"]
		if tag == "" {
			tag = x.plan.Event.Tag()
		}
		return false, x.publish(ctx, domain.PublishRequest{
			Target: domain.TargetGitHubRelease,
			Tag:    tag,
			Token:  with["token"],
		}, lines(with["files"]))
	case "pypa/gh-action-pypi-publish":
		dir := with["packages_dir"]
		if dir == "" {
			dir = "dist"
		}
		return false, x.publish(ctx, domain.PublishRequest{
			Target: domain.TargetPyPI,
			Tag:    x.plan.Event.Tag(),
			Token:  with["password"],
		}, []string{strings.TrimSuffix(dir, "/") + "/*"})
	default:
		x.log.Info("unsupported action skipped", zap.String("uses", name), zap.String("version", version))
		fmt.Fprintf(&x.out, "action %s is not supported, skipping\n", name)
		return true, nil
	}
}

func (x *jobRun) setupPython(ctx context.Context, with, env map[string]string) error {
	want := with["python-version"]
	if err := x.shell(ctx, "setup-python", "python --version", env); err != nil {
		return fmt.Errorf("%w: python %s: %v", domain.ErrProvision, want, err)
	}
	return nil
}

func (x *jobRun) uploadArtifact(ctx context.Context, with map[string]string) error {
	if x.o.deps.Artifacts == nil {
		return errors.New("no artifact store configured")
	}
	name := with["name"]
	if name == "" {
		name = "artifact"
	}
	expireIn := time.Duration(0)
	if days := with["retention-days"]; days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return fmt.Errorf("upload-artifact: invalid retention-days %q", days)
		}
		expireIn = time.Duration(n) * 24 * time.Hour
	}

	a, err := x.o.deps.Artifacts.Put(ctx, domain.Artifact{
		RunID:     x.runID,
		Name:      name,
		Job:       x.node.ID,
		CreatedAt: x.o.now(),
		ExpiresAt: x.o.expiry(expireIn),
	}, x.o.opts.ProjectDir, lines(with["path"]))
	if errors.Is(err, domain.ErrNoArtifactFiles) {
		switch with["if-no-files-found"] {
		case "error":
			return fmt.Errorf("upload-artifact %q: %w", name, err)
		case "ignore":
		default:
			fmt.Fprintf(&x.out, "warning: %v for artifact %q\n", err, name)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("upload-artifact %q: %w", name, err)
	}
	fmt.Fprintf(&x.out, "uploaded %d files as artifact %q\n", a.Files, name)
	return nil
}

func (x *jobRun) downloadArtifact(ctx context.Context, with map[string]string) error {
	if x.o.deps.Artifacts == nil {
		return errors.New("no artifact store configured")
	}
	dest := x.o.opts.ProjectDir
	if p := with["path"]; p != "" {
		if filepath.IsAbs(p) {
			dest = p
		} else {
			dest = filepath.Join(dest, p)
		}
	}

	if name := with["name"]; name != "" {
		a, err := x.o.deps.Artifacts.Fetch(ctx, x.runID, name, dest)
		if err != nil {
			return fmt.Errorf("download-artifact %q: %w", name, err)
		}
		fmt.Fprintf(&x.out, "downloaded artifact %q (%d files)\n", name, a.Files)
		return nil
	}

	all, err := x.o.deps.Artifacts.List(ctx, x.runID)
	if err != nil {
		return fmt.Errorf("download-artifact: %w", err)
	}
	for _, a := range all {
		if _, err := x.o.deps.Artifacts.Fetch(ctx, x.runID, a.Name, filepath.Join(dest, a.Name)); err != nil {
			return fmt.Errorf("download-artifact %q: %w", a.Name, err)
		}
	}
	fmt.Fprintf(&x.out, "downloaded %d artifacts\n", len(all))
	return nil
}

func (x *jobRun) deleteArtifact(ctx context.Context, with map[string]string) error {
	if x.o.deps.Artifacts == nil {
		return errors.New("no artifact store configured")
	}
	failOnError := with["failOnError"] != "false"
	for _, name := range lines(with["name"]) {
		err := x.o.deps.Artifacts.Delete(ctx, x.runID, name)
		switch {
		case err == nil:
			fmt.Fprintf(&x.out, "deleted artifact %q\n", name)
		case errors.Is(err, domain.ErrArtifactMissing) || !failOnError:
			fmt.Fprintf(&x.out, "warning: delete %q: %v\n", name, err)
		default:
			return fmt.Errorf("delete-artifact %q: %w", name, err)
		}
	}
	return nil
}

func (x *jobRun) publish(ctx context.Context, req domain.PublishRequest, patterns []string) error {
	if x.o.deps.Publisher == nil {
		return fmt.Errorf("publish to %s: no publisher configured", req.Target)
	}
	for _, pattern := range patterns {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(x.o.opts.ProjectDir, pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return fmt.Errorf("publish to %s: %w", req.Target, err)
		}
		req.Files = append(req.Files, matches...)
	}
	if len(patterns) > 0 && len(req.Files) == 0 {
		return fmt.Errorf("publish to %s: %w", req.Target, domain.ErrNoArtifactFiles)
	}
	if err := x.o.deps.Publisher.Publish(ctx, req); err != nil {
		return fmt.Errorf("publish to %s: %w", req.Target, err)
	}
	fmt.Fprintf(&x.out, "published %d files to %s\n", len(req.Files), req.Target)
	return nil
}

// lines splits a multi-line `with:` value into its non-empty entries.
func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
