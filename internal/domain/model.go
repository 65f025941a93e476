package domain

import (
	"strings"
	"time"
)

type Provider string

const (
	ProviderGitLab Provider = "gitlab"
	ProviderGitHub Provider = "github"
)

type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
	EventRelease     EventKind = "release"
)

const (
	branchPrefix = "refs/heads/"
	tagPrefix    = "refs/tags/"
)

// Event is the trigger a pipeline run is evaluated against.
type Event struct {
	Kind EventKind `json:"kind"`
	// Ref is the full git ref, refs/heads/<branch> or refs/tags/<tag>.
	Ref string `json:"ref"`
	// BaseRef is the target branch of a pull request.
	BaseRef      string   `json:"base_ref,omitempty"`
	Action       string   `json:"action,omitempty"`
	SHA          string   `json:"sha,omitempty"`
	ChangedPaths []string `json:"changed_paths,omitempty"`
}

func (e Event) IsTag() bool { return strings.HasPrefix(e.Ref, tagPrefix) }

func (e Event) Branch() string {
	if strings.HasPrefix(e.Ref, branchPrefix) {
		return strings.TrimPrefix(e.Ref, branchPrefix)
	}
	return ""
}

func (e Event) Tag() string {
	if e.IsTag() {
		return strings.TrimPrefix(e.Ref, tagPrefix)
	}
	return ""
}

// RefName is the short branch or tag name.
func (e Event) RefName() string {
	if t := e.Tag(); t != "" {
		return t
	}
	if b := e.Branch(); b != "" {
		return b
	}
	return e.Ref
}

// NormalizeRef turns a short branch name into a full ref.
func NormalizeRef(ref string) string {
	if ref == "" || strings.HasPrefix(ref, "refs/") {
		return ref
	}
	return branchPrefix + ref
}

// Trigger is one `on:` entry of a workflow.
type Trigger struct {
	Event          EventKind
	Branches       []string
	BranchesIgnore []string
	Tags           []string
	TagsIgnore     []string
	Paths          []string
	PathsIgnore    []string
	Types          []string
}

type Workflow struct {
	Name         string
	Path         string
	Provider     Provider
	Triggers     []Trigger
	Stages       []string
	Env          map[string]string
	BeforeScript []string
	Jobs         []Job
}

func (w *Workflow) Job(name string) (*Job, bool) {
	for i := range w.Jobs {
		if w.Jobs[i].Name == name {
			return &w.Jobs[i], true
		}
	}
	return nil, false
}

// When values, shared by GitLab `when:` and the resolved form of GitHub `if:`.
const (
	WhenOnSuccess = "on_success"
	WhenOnFailure = "on_failure"
	WhenAlways    = "always"
	WhenManual    = "manual"
	WhenNever     = "never"
)

type RefPolicy struct {
	Refs      []string
	Variables []string
}

func (p *RefPolicy) Empty() bool {
	return p == nil || (len(p.Refs) == 0 && len(p.Variables) == 0)
}

type Rule struct {
	If   string
	When string
}

type Job struct {
	Name  string
	Stage string
	// Needs replaces stage ordering when non-nil; an empty, non-nil list
	// lets a GitLab job start immediately.
	Needs []string
	// ArtifactsFrom lists jobs whose artifacts are fetched before the job runs.
	// ArtifactsFromDeclared separates an explicit empty list from an omitted one.
	ArtifactsFrom         []string
	ArtifactsFromDeclared bool

	If     string
	When   string
	Only   *RefPolicy
	Except *RefPolicy
	Rules  []Rule

	Matrix       Matrix
	RunsOn       string
	Env          map[string]string
	Secrets      []string
	BeforeScript []string
	Steps        []Step
	Artifacts    ArtifactSpec
	AllowFailure bool
	Timeout      time.Duration
}

type Step struct {
	Name            string
	Run             string
	Uses            string
	With            map[string]string
	Env             map[string]string
	If              string
	ContinueOnError bool
}

// Label is a human-readable step name.
func (s Step) Label() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Uses != "":
		return "uses " + s.Uses
	default:
		line, _, _ := strings.Cut(s.Run, "\n")
		return line
	}
}

// KeepForever as an ExpireIn value disables expiry; zero means the store default.
const KeepForever time.Duration = -1

type ArtifactSpec struct {
	Name     string
	Paths    []string
	ExpireIn time.Duration
	// When is on_success, on_failure or always.
	When string
}

type Axis struct {
	Name   string
	Values []string
}

type Pair struct {
	Key   string
	Value string
}

// Combination is one matrix cell; key order follows the matrix declaration.
type Combination []Pair

func (c Combination) Get(key string) (string, bool) {
	for _, p := range c {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

func (c Combination) Map() map[string]string {
	out := make(map[string]string, len(c))
	for _, p := range c {
		out[p.Key] = p.Value
	}
	return out
}

func (c Combination) Values() []string {
	out := make([]string, 0, len(c))
	for _, p := range c {
		out = append(out, p.Value)
	}
	return out
}

type Matrix struct {
	Axes        []Axis
	Include     []Combination
	Exclude     []Combination
	FailFast    bool
	MaxParallel int
}

func (m Matrix) Empty() bool {
	return len(m.Axes) == 0 && len(m.Include) == 0
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSuccess   JobStatus = "success"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case JobSuccess, JobFailed, JobSkipped, JobCancelled:
		return true
	default:
		return false
	}
}

type RunStatus string

const (
	StatusSuccess   RunStatus = "success"
	StatusFailed    RunStatus = "failed"
	StatusRunning   RunStatus = "running"
	StatusCancelled RunStatus = "cancelled"
	StatusSkipped   RunStatus = "skipped"
)

type StepResult struct {
	Name     string    `json:"name"`
	Status   JobStatus `json:"status"`
	ExitCode int       `json:"exit_code"`
	Err      string    `json:"error,omitempty"`
}

type JobResult struct {
	ID           string       `json:"id"`
	Job          string       `json:"job"`
	Stage        string       `json:"stage,omitempty"`
	Combination  Combination  `json:"combination,omitempty"`
	Status       JobStatus    `json:"status"`
	AllowFailure bool         `json:"allow_failure,omitempty"`
	Err          string       `json:"error,omitempty"`
	Started      time.Time    `json:"started"`
	Finished     time.Time    `json:"finished"`
	LogPath      string       `json:"log_path,omitempty"`
	Steps        []StepResult `json:"steps,omitempty"`
}

type Run struct {
	ID         string      `json:"id"`
	Workflow   string      `json:"workflow"`
	Provider   Provider    `json:"provider"`
	Event      Event       `json:"event"`
	Status     RunStatus   `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Jobs       []JobResult `json:"jobs"`
}

// Artifact is a stored set of files produced by one job of one run.
type Artifact struct {
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	Job       string    `json:"job"`
	Files     int       `json:"files"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is zero for artifacts kept forever.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (a Artifact) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

type Snapshot struct {
	Workflow  string
	Ref       string
	RunID     string
	Status    RunStatus
	Retrieved int64
}

type StepRequest struct {
	Command string
	Dir     string
	Env     []string
	Timeout time.Duration
}

type StepOutcome struct {
	Output   []byte
	ExitCode int
}

// Built-in publish targets.
const (
	TargetGitHubRelease = "github-release"
	TargetPyPI          = "pypi"
)

type PublishRequest struct {
	Target string
	Files  []string
	Tag    string
	// Token overrides the configured target credential.
	Token string
}
