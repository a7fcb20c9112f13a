package orchestrator

import (
	"time"
)

// PromiseToken is the literal marker an agent emits to end the run early.
const PromiseToken = "<promise>COMPLETE</promise>"

// Default supervision parameters.
const (
	DefaultMaxIterations     = 10
	DefaultIterationTimeout  = time.Hour
	DefaultInactivityTimeout = 10 * time.Minute
	DefaultGrace             = 10 * time.Second
	DefaultPollInterval      = 250 * time.Millisecond
	DefaultIterationDelay    = 500 * time.Millisecond
)

// StartOptions configures one run.
type StartOptions struct {
	MaxIterations     int
	IterationTimeout  time.Duration
	InactivityTimeout time.Duration
	// MaxBufferSize, when positive, is passed to the agent runner as
	// --max-buffer-size and used as the stdout line scanner capacity.
	MaxBufferSize int
}

// withDefaults fills unset fields.
func (o StartOptions) withDefaults() StartOptions {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.IterationTimeout <= 0 {
		o.IterationTimeout = DefaultIterationTimeout
	}
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = DefaultInactivityTimeout
	}
	return o
}

// RunRecord is the in-memory snapshot of the current or last run, exposed to
// the observation plane.
type RunRecord struct {
	RunID                string    `json:"run_id,omitempty"`
	Running              bool      `json:"running"`
	IssueRef             string    `json:"issue_ref,omitempty"`
	CurrentIteration     int       `json:"current_iteration"`
	MaxIterations        int       `json:"max_iterations"`
	InactivityTimeoutSec int       `json:"inactivity_timeout_sec"`
	IterationTimeoutSec  int       `json:"iteration_timeout_sec"`
	CompletedViaPromise  bool      `json:"completed_via_promise"`
	CompletedViaState    bool      `json:"completed_via_state"`
	CompletionReason     string    `json:"completion_reason,omitempty"`
	StartedAt            time.Time `json:"started_at,omitempty"`
	EndedAt              time.Time `json:"ended_at,omitempty"`
	ReturnCode           int       `json:"return_code"`
	ViewerLogPath        string    `json:"viewer_log_path,omitempty"`
	LastError            string    `json:"last_error,omitempty"`
}
