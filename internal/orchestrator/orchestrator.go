// Package orchestrator runs the supervised iteration loop. Each iteration is
// a fresh operating-system process: prior conversation context cannot leak,
// and state passes only through the issue state file and worktree artefacts.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	jeeveserrors "github.com/jeevesbot/jeeves/internal/errors"
	"github.com/jeevesbot/jeeves/internal/events"
	"github.com/jeevesbot/jeeves/internal/issue"
	"github.com/jeevesbot/jeeves/internal/metrics"
	"github.com/jeevesbot/jeeves/internal/script"
	"github.com/jeevesbot/jeeves/internal/workflow"
)

// Config wires the orchestrator's collaborators.
type Config struct {
	Store     *issue.Store
	Catalog   *workflow.Catalog
	Scripts   *script.Runner
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// AgentBin is the agent runner executable spawned per iteration.
	AgentBin string
	// PromptsDir holds the prompt files workflows reference.
	PromptsDir string
	// WorktreesDir is the root under which issue worktrees live.
	WorktreesDir string

	// Grace is the TERM-to-KILL escalation window. Zero means DefaultGrace.
	Grace time.Duration
	// PollInterval bounds the supervision tick. Zero means DefaultPollInterval.
	PollInterval time.Duration
	// IterationDelay is the settle sleep between iterations. Zero means
	// DefaultIterationDelay.
	IterationDelay time.Duration
}

// Orchestrator owns the run lifecycle for the selected issue. At most one
// run is active at a time.
type Orchestrator struct {
	store     *issue.Store
	catalog   *workflow.Catalog
	scripts   *script.Runner
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	agentBin     string
	promptsDir   string
	worktreesDir string

	grace          time.Duration
	pollInterval   time.Duration
	iterationDelay time.Duration

	mu     sync.Mutex
	active *issue.Ref
	record RunRecord
	cancel context.CancelFunc
	done   chan struct{}
	child  *childProc
}

// childProc tracks the currently supervised subprocess for Stop.
type childProc struct {
	pid int
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Catalog == nil {
		return nil, fmt.Errorf("store and catalog are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scripts := cfg.Scripts
	if scripts == nil {
		scripts = script.NewRunner(logger)
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NewMemoryPublisher()
	}
	o := &Orchestrator{
		store:          cfg.Store,
		catalog:        cfg.Catalog,
		scripts:        scripts,
		publisher:      publisher,
		metrics:        cfg.Metrics,
		logger:         logger,
		agentBin:       cfg.AgentBin,
		promptsDir:     cfg.PromptsDir,
		worktreesDir:   cfg.WorktreesDir,
		grace:          cfg.Grace,
		pollInterval:   cfg.PollInterval,
		iterationDelay: cfg.IterationDelay,
	}
	if o.grace <= 0 {
		o.grace = DefaultGrace
	}
	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}
	if o.iterationDelay <= 0 {
		o.iterationDelay = DefaultIterationDelay
	}
	return o, nil
}

// WorktreePath returns the worktree directory for an issue reference.
func (o *Orchestrator) WorktreePath(ref issue.Ref) string {
	return filepath.Join(o.worktreesDir, ref.Owner, ref.Repo, fmt.Sprintf("issue-%d", ref.Number))
}

// SetIssue selects the active issue. Rejected while a run is in progress.
func (o *Orchestrator) SetIssue(ref issue.Ref) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.record.Running {
		return jeeveserrors.ErrRunActive("switch issue")
	}
	if _, err := o.store.Load(ref); err != nil {
		return err
	}
	o.active = &ref
	if err := o.store.SaveActive(ref); err != nil {
		o.logger.Warn("persist active issue failed", "error", err)
	}
	if err := o.store.TouchRecent(ref.Owner, ref.Repo); err != nil {
		o.logger.Warn("update recent list failed", "error", err)
	}
	o.logger.Info("active issue selected", "issue", ref.String())
	return nil
}

// ActiveIssue returns the selected issue, or nil.
func (o *Orchestrator) ActiveIssue() *issue.Ref {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return nil
	}
	ref := *o.active
	return &ref
}

// RestoreActive loads the persisted active issue selection, if any.
func (o *Orchestrator) RestoreActive() {
	ref, err := o.store.LoadActive()
	if err != nil || ref == nil {
		return
	}
	if _, err := o.store.Load(*ref); err != nil {
		return
	}
	o.mu.Lock()
	o.active = ref
	o.mu.Unlock()
}

// Status returns a copy of the run record.
func (o *Orchestrator) Status() RunRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.record
}

// Start launches the background supervisor. It fails when a run is already
// active, no issue is selected, or the worktree does not exist.
func (o *Orchestrator) Start(opts StartOptions) error {
	opts = opts.withDefaults()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.record.Running {
		return jeeveserrors.ErrRunActive("start a run")
	}
	if o.active == nil {
		return &jeeveserrors.JeevesError{
			Code: jeeveserrors.CodeNoIssueSelected,
			What: "no issue selected",
			Fix:  "select an issue first (POST /api/issues/select)",
		}
	}
	ref := *o.active
	worktree := o.WorktreePath(ref)
	if info, err := os.Stat(worktree); err != nil || !info.IsDir() {
		return jeeveserrors.ErrWorktreeMissing(worktree)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	o.child = nil
	o.record = RunRecord{
		RunID:                uuid.NewString(),
		Running:              true,
		IssueRef:             ref.String(),
		MaxIterations:        opts.MaxIterations,
		InactivityTimeoutSec: int(opts.InactivityTimeout.Seconds()),
		IterationTimeoutSec:  int(opts.IterationTimeout.Seconds()),
		StartedAt:            time.Now(),
		ViewerLogPath:        filepath.Join(o.store.Dir(ref), issue.ViewerLogFileName),
	}

	go o.run(ctx, ref, opts)
	return nil
}

// Stop requests the supervisor to end. The current subprocess group receives
// TERM, or KILL when force is set. Waits up to timeout for the supervisor to
// finish; a nil error means it did.
func (o *Orchestrator) Stop(force bool, timeout time.Duration) error {
	o.mu.Lock()
	if !o.record.Running {
		o.mu.Unlock()
		return nil
	}
	cancel := o.cancel
	done := o.done
	child := o.child
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if child != nil {
		sig := termSignal
		if force {
			sig = killSignal
		}
		if err := signalProcessGroup(child.pid, sig); err != nil {
			o.logger.Debug("signal process group failed", "pid", child.pid, "error", err)
		}
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return &jeeveserrors.JeevesError{
			Code: jeeveserrors.CodeAgentTimeout,
			What: "supervisor did not stop within timeout",
		}
	}
}
