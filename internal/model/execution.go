package model

import "time"

// Execution status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
	StatusCancelled = "cancelled"
)

// ExitCodeTerminated is reported when the supervisor killed the process
// (timeout or cancellation) rather than the process exiting on its own.
const ExitCodeTerminated = -1

// Outcome is the supervisor-level reason a process stopped.
type Outcome string

// Outcome constants.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCancelled Outcome = "cancelled"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusTimedOut:  true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is a final execution status.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// ExecutionOptions is the per-request configuration of one execution.
// Zero values mean "use the default".
type ExecutionOptions struct {
	Timeout     time.Duration
	MemoryLimit string // human size, e.g. "512m", "1GiB"
	Args        []string
	Env         map[string]string
	Input       *string
	WorkingDir  string
}

// ExecutionResult is the terminal record of one execution.
type ExecutionResult struct {
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
}

// ExecuteRequest is the wire form of an execution request shared by the
// HTTP, MCP and NATS surfaces.
type ExecuteRequest struct {
	Language    string            `json:"language" jsonschema:"language tag or alias, e.g. python, bash, go"`
	Code        string            `json:"code" jsonschema:"source text of the snippet"`
	TimeoutMS   int64             `json:"timeout_ms,omitempty" jsonschema:"wall-clock timeout in milliseconds; defaults to the runtime default"`
	MemoryLimit string            `json:"memory_limit,omitempty" jsonschema:"best-effort memory ceiling such as 256m or 1g"`
	Args        []string          `json:"args,omitempty" jsonschema:"positional arguments passed to the program"`
	Env         map[string]string `json:"env,omitempty" jsonschema:"environment variables added to the inherited environment"`
	Input       *string           `json:"input,omitempty" jsonschema:"standard input payload"`
	WorkingDir  string            `json:"working_dir,omitempty" jsonschema:"working directory override for the process"`
}

// Options converts the wire request into ExecutionOptions.
func (r ExecuteRequest) Options() ExecutionOptions {
	opts := ExecutionOptions{
		MemoryLimit: r.MemoryLimit,
		Args:        r.Args,
		Env:         r.Env,
		Input:       r.Input,
		WorkingDir:  r.WorkingDir,
	}
	if r.TimeoutMS > 0 {
		opts.Timeout = time.Duration(r.TimeoutMS) * time.Millisecond
	}
	return opts
}

// InstallRequest asks for a third-party package to be installed for a
// language. An empty Version or "latest" installs the newest release.
type InstallRequest struct {
	Language  string `json:"language" jsonschema:"language tag or alias whose package manager is used"`
	Package   string `json:"package" jsonschema:"package name, e.g. requests or lodash"`
	Version   string `json:"version,omitempty" jsonschema:"version to install; empty or latest for the newest"`
	TimeoutMS int64  `json:"timeout_ms,omitempty" jsonschema:"wall-clock timeout in milliseconds"`
}

// Timeout returns the requested timeout, or zero for the default.
func (r InstallRequest) Timeout() time.Duration {
	if r.TimeoutMS <= 0 {
		return 0
	}
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// InstallResult is the outcome of a package install.
type InstallResult struct {
	Language   string `json:"language"`
	Package    string `json:"package"`
	Version    string `json:"version,omitempty"`
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Dir        string `json:"dir"`
}

// Execution is the persisted history record of one execution.
type Execution struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Language       string     `json:"language"`
	RuntimeVersion string     `json:"runtime_version,omitempty"`
	CodeHash       string     `json:"code_hash,omitempty"`
	Success        bool       `json:"success"`
	Stdout         string     `json:"stdout,omitempty"`
	Stderr         string     `json:"stderr,omitempty"`
	ExitCode       *int       `json:"exit_code,omitempty"`
	Error          string     `json:"error,omitempty"`
	TimeoutMS      *int64     `json:"timeout_ms,omitempty"`
	DurationMS     *int64     `json:"duration_ms,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// LogLine represents a single persisted output line from an execution.
type LogLine struct {
	ID          int64     `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Seq         int       `json:"seq"`
	Stream      string    `json:"stream"`
	Line        string    `json:"line"`
	CreatedAt   time.Time `json:"created_at"`
}
