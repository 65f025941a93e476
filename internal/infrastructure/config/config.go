package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

// Workflow is one pipeline document known to the orchestrator. Path is
// relative to the workspace unless absolute.
type Workflow struct {
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name,omitempty"`
}

// Target is a publish destination such as a release host or a package
// index.
type Target struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token,omitempty"`
}

type Config struct {
	Workspace string     `yaml:"workspace"`
	Workflows []Workflow `yaml:"workflows"`

	Run struct {
		Concurrency int           `yaml:"concurrency"`
		JobTimeout  time.Duration `yaml:"job_timeout"`
	} `yaml:"run"`

	Artifacts struct {
		Dir           string        `yaml:"dir"`
		ExpireIn      time.Duration `yaml:"expire_in"`
		PruneInterval time.Duration `yaml:"prune_interval"`
		PauseFile     string        `yaml:"pause_file"`
	} `yaml:"artifacts"`

	History struct {
		Path    string `yaml:"path"`
		LogsDir string `yaml:"logs_dir"`
	} `yaml:"history"`

	Cache struct {
		Path string `yaml:"path"`
	} `yaml:"cache"`

	Server struct {
		Addr    string `yaml:"addr"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"server"`

	Publish struct {
		Timeout time.Duration     `yaml:"timeout"`
		Targets map[string]Target `yaml:"targets"`
	} `yaml:"publish"`

	Secrets map[string]string `yaml:"secrets,omitempty"`

	Notify struct {
		Enabled bool `yaml:"enabled"`
		// Soft ignores a missing notify-send.
		Soft bool `yaml:"soft"`
	} `yaml:"notify"`

	Launch struct {
		Venv   string `yaml:"venv"`
		Module string `yaml:"module"`
	} `yaml:"launch"`
}

func Load(path string) (Config, error) {
	var c Config

	c.Workspace = "."
	c.Run.Concurrency = runtime.NumCPU()
	c.Artifacts.Dir = expandHome("~/.cache/ci-orchestrator/artifacts")
	c.Artifacts.ExpireIn = 30 * 24 * time.Hour
	c.Artifacts.PruneInterval = time.Hour
	c.History.Path = expandHome("~/.cache/ci-orchestrator/history.db")
	c.History.LogsDir = expandHome("~/.cache/ci-orchestrator/logs")
	c.Cache.Path = expandHome("~/.cache/ci_status.json")
	c.Server.Addr = "127.0.0.1:8080"
	c.Publish.Timeout = 30 * time.Second
	c.Launch.Venv = ".venv"
	c.Launch.Module = "cli"

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return c, err
		}
	}

	if v := os.Getenv("CI_ORCH_WORKSPACE"); v != "" {
		c.Workspace = v
	}

	if v := os.Getenv("CI_ORCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Run.Concurrency = n
		}
	}

	if v := os.Getenv("CI_ORCH_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Run.JobTimeout = d
		}
	}

	if v := os.Getenv("CI_ORCH_ARTIFACTS_DIR"); v != "" {
		c.Artifacts.Dir = v
	}

	if v := os.Getenv("CI_ORCH_EXPIRE_IN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Artifacts.ExpireIn = d
		}
	}

	if v := os.Getenv("CI_ORCH_HISTORY_PATH"); v != "" {
		c.History.Path = v
	}

	if v := os.Getenv("CI_ORCH_CACHE_PATH"); v != "" {
		c.Cache.Path = v
	}

	if v := os.Getenv("CI_ORCH_ADDR"); v != "" {
		c.Server.Addr = v
	}

	for name, env := range map[string]string{domain.TargetGitHubRelease: "CI_ORCH_GITHUB_TOKEN", domain.TargetPyPI: "CI_ORCH_PYPI_TOKEN"} {
		if v := os.Getenv(env); v != "" {
			if c.Publish.Targets == nil {
				c.Publish.Targets = make(map[string]Target)
			}
			t := c.Publish.Targets[name]
			t.Token = v
			c.Publish.Targets[name] = t
		}
	}

	if s := os.Getenv("CI_ORCH_WORKFLOWS"); s != "" {
		var ws []Workflow
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				ws = append(ws, Workflow{Path: item, Enabled: true})
			}
		}
		if len(ws) > 0 {
			c.Workflows = ws
		}
	}

	c.Workspace = expandHome(c.Workspace)
	c.Artifacts.Dir = expandHome(c.Artifacts.Dir)
	c.History.Path = expandHome(c.History.Path)
	c.History.LogsDir = expandHome(c.History.LogsDir)
	c.Cache.Path = expandHome(c.Cache.Path)

	if c.Run.Concurrency <= 0 {
		c.Run.Concurrency = 1
	}

	if c.Artifacts.PruneInterval <= 0 {
		c.Artifacts.PruneInterval = time.Hour
	}

	if c.Publish.Timeout <= 0 {
		c.Publish.Timeout = 30 * time.Second
	}

	if c.Launch.Module == "" {
		c.Launch.Module = "cli"
	}

	if c.Artifacts.PauseFile == "" {
		c.Artifacts.PauseFile = expandHome("~/.cache/ci_paused")
	}

	for i, w := range c.Workflows {
		if w.Path == "" {
			return c, errors.New("workflow entry " + strconv.Itoa(i+1) + " has no path")
		}
	}

	return c, nil
}

// WorkflowPath resolves a workflow entry against the workspace.
func (c Config) WorkflowPath(w Workflow) string {
	if filepath.IsAbs(w.Path) {
		return w.Path
	}
	return filepath.Join(c.Workspace, w.Path)
}

// EnabledPaths lists the enabled workflow documents, resolved.
func (c Config) EnabledPaths() []string {
	var out []string
	for _, w := range c.Workflows {
		if w.Enabled {
			out = append(out, c.WorkflowPath(w))
		}
	}
	return out
}

// Secret looks a secret up in the config file, then in the environment as
// CI_ORCH_SECRET_<NAME>.
func (c Config) Secret(name string) (string, bool) {
	if v, ok := c.Secrets[name]; ok {
		return v, true
	}
	return os.LookupEnv("CI_ORCH_SECRET_" + strings.ToUpper(name))
}

func Save(path string, c Config) error {
	if path == "" {
		return errors.New("empty config path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lockFile := path + ".lock"
	lf, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = lf.Close() }()

	if runtime.GOOS != "windows" {
		if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
			return err
		}
		defer func() { _ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN) }()
	}

	b, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	if _, err := f.Write(b); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// DefaultPath is the per-user config location.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "ci-orchestrator", "config.yaml")
	}
	return expandHome("~/.config/ci-orchestrator/config.yaml")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if h, _ := os.UserHomeDir(); h != "" {
			return h + p[1:]
		}
	}
	return p
}
