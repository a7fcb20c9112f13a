package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jeevesbot/jeeves/internal/events"
	"github.com/jeevesbot/jeeves/internal/guard"
	"github.com/jeevesbot/jeeves/internal/issue"
	"github.com/jeevesbot/jeeves/internal/tail"
	"github.com/jeevesbot/jeeves/internal/util"
	"github.com/jeevesbot/jeeves/internal/workflow"
)

// Completion reasons recorded on the run record. Exactly one applies per run.
const (
	reasonPromise       = "completion promise found in output"
	reasonMaxIterations = "reached maximum iterations"
	reasonStopRequested = "stop requested"
)

// lineQueueSize bounds the stdout reader queue. A stalled supervisor drops
// nothing; the reader blocks until the queue drains.
const lineQueueSize = 1024

// promiseTailLines is how far back in last-run.log the promise sweep looks.
const promiseTailLines = 200

// run is the supervisor goroutine. It owns the run record until it returns.
func (o *Orchestrator) run(ctx context.Context, ref issue.Ref, opts StartOptions) {
	defer close(o.done)

	stateDir := o.store.Dir(ref)
	worktree := o.WorktreePath(ref)

	vlog, err := newViewerLog(filepath.Join(stateDir, issue.ViewerLogFileName))
	if err != nil {
		o.finish(ref, fmt.Sprintf("open viewer log: %v", err), "error")
		return
	}
	defer vlog.Close()

	var (
		wf     *workflow.Workflow
		wfName string
	)

	for i := 1; i <= opts.MaxIterations; i++ {
		if ctx.Err() != nil {
			o.setReason(reasonStopRequested)
			break
		}

		o.mu.Lock()
		o.record.CurrentIteration = i
		o.mu.Unlock()

		iterStart := time.Now()
		if o.metrics != nil {
			o.metrics.IterationsTotal.Inc()
		}
		vlog.Banner(fmt.Sprintf("Iteration %d of %d", i, opts.MaxIterations))
		o.writeProgress(stateDir, i, opts.MaxIterations, iterStart)
		o.publisher.Publish(events.New(events.EventIteration, ref.String(), map[string]any{
			"iteration": i,
			"max":       opts.MaxIterations,
		}))

		if err := ensureStateLink(worktree, stateDir); err != nil {
			vlog.Error(fmt.Sprintf("state dir not reachable from worktree: %v; run `ln -s %s %s` and retry",
				err, stateDir, filepath.Join(worktree, ".jeeves")))
			o.setReturnCode(1)
			o.sleep(ctx)
			continue
		}

		st, err := o.store.Load(ref)
		if err != nil {
			o.finish(ref, fmt.Sprintf("load issue state: %v", err), "error")
			return
		}
		if wf == nil || st.Workflow != wfName {
			wf, err = o.catalog.Load(st.Workflow)
			if err != nil {
				o.finish(ref, fmt.Sprintf("load workflow %q: %v", st.Workflow, err), "error")
				return
			}
			wfName = st.Workflow
		}

		phaseName := st.Phase
		if phaseName == "" {
			phaseName = wf.Start
		}
		phase := wf.Phase(phaseName)
		if phase == nil {
			o.finish(ref, fmt.Sprintf("state names unknown phase %q in workflow %q", phaseName, wfName), "error")
			return
		}

		switch phase.Kind {
		case workflow.KindTerminal:
			o.setReason("workflow already at terminal phase: " + phaseName)
			vlog.Info("phase " + phaseName + " is terminal, nothing to run")
			o.endLoop(ref, iterStart)
			return

		case workflow.KindScript:
			if err := o.runScript(ctx, st, phase, worktree, vlog); err != nil {
				o.finish(ref, err.Error(), "error")
				return
			}

		case workflow.KindExecute, workflow.KindEvaluate:
			promptPath := filepath.Join(o.promptsDir, phase.Prompt)
			if _, err := os.Stat(promptPath); err != nil {
				o.finish(ref, fmt.Sprintf("prompt file missing for phase %q: %s", phaseName, promptPath), "error")
				return
			}
			stopped := o.runAgent(ctx, ref, stateDir, worktree, promptPath, wf.EffectiveModel(phaseName), opts, vlog)
			if stopped {
				o.setReason(reasonStopRequested)
				o.endLoop(ref, iterStart)
				return
			}
			if phase.Kind == workflow.KindEvaluate {
				o.reportWriteViolations(worktree, phase, iterStart, vlog)
			}
		}

		if o.metrics != nil {
			o.metrics.IterationDuration.Observe(time.Since(iterStart).Seconds())
		}

		// Re-evaluate transitions against the state the iteration left behind.
		st, err = o.store.Load(ref)
		if err != nil {
			o.finish(ref, fmt.Sprintf("reload issue state: %v", err), "error")
			return
		}
		gctx, err := guard.FromValue(st)
		if err != nil {
			o.finish(ref, fmt.Sprintf("encode state for guards: %v", err), "error")
			return
		}
		current := st.Phase
		if current == "" {
			current = wf.Start
		}
		if next, ok := wf.EvaluateTransitions(current, gctx); ok {
			st.Phase = next
			if err := o.store.Save(st); err != nil {
				o.finish(ref, fmt.Sprintf("save phase transition: %v", err), "error")
				return
			}
			vlog.Info(fmt.Sprintf("[TRANSITION] %s → %s", current, next))
			if o.metrics != nil {
				o.metrics.TransitionsTotal.WithLabelValues(next).Inc()
			}
			o.publisher.Publish(events.New(events.EventTransition, ref.String(), map[string]any{
				"from": current,
				"to":   next,
			}))
			if wf.IsTerminal(next) {
				o.mu.Lock()
				o.record.CompletedViaState = true
				o.record.CompletionReason = "reached terminal phase: " + next
				o.mu.Unlock()
				o.endLoop(ref, iterStart)
				return
			}
		}

		if o.sweepPromise(stateDir) {
			o.mu.Lock()
			o.record.CompletedViaPromise = true
			o.record.CompletionReason = reasonPromise
			o.mu.Unlock()
			vlog.Info("completion promise found, ending run")
			o.endLoop(ref, iterStart)
			return
		}

		o.sleep(ctx)
	}

	if o.Status().CompletionReason == "" {
		o.setReason(reasonMaxIterations)
	}
	o.endLoop(ref, time.Time{})
}

// endLoop finalizes the run record and publishes completion.
func (o *Orchestrator) endLoop(ref issue.Ref, iterStart time.Time) {
	if o.metrics != nil && !iterStart.IsZero() {
		o.metrics.IterationDuration.Observe(time.Since(iterStart).Seconds())
	}
	o.mu.Lock()
	o.record.Running = false
	o.record.EndedAt = time.Now()
	rec := o.record
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RunsTotal.WithLabelValues(outcomeLabel(rec)).Inc()
	}
	o.publisher.Publish(events.New(events.EventComplete, ref.String(), rec))
	o.logger.Info("run finished",
		"issue", ref.String(),
		"iterations", rec.CurrentIteration,
		"reason", rec.CompletionReason)
}

// finish records a supervisor failure and finalizes the run.
func (o *Orchestrator) finish(ref issue.Ref, lastError, reason string) {
	o.logger.Error("supervisor error", "issue", ref.String(), "error", lastError)
	o.mu.Lock()
	o.record.LastError = lastError
	if o.record.CompletionReason == "" {
		o.record.CompletionReason = reason + ": " + lastError
	}
	o.mu.Unlock()
	o.endLoop(ref, time.Time{})
}

func (o *Orchestrator) setReason(reason string) {
	o.mu.Lock()
	if o.record.CompletionReason == "" {
		o.record.CompletionReason = reason
	}
	o.mu.Unlock()
}

func (o *Orchestrator) setReturnCode(code int) {
	o.mu.Lock()
	o.record.ReturnCode = code
	o.mu.Unlock()
}

// outcomeLabel classifies a finished run for metrics.
func outcomeLabel(rec RunRecord) string {
	switch {
	case rec.CompletedViaPromise:
		return "promise"
	case rec.CompletedViaState:
		return "terminal"
	case rec.CompletionReason == reasonStopRequested:
		return "stopped"
	case rec.LastError != "":
		return "error"
	default:
		return "max_iterations"
	}
}

// runScript executes a script-kind phase and folds its status updates back
// into the state file.
func (o *Orchestrator) runScript(ctx context.Context, st *issue.State, phase *workflow.Phase, worktree string, vlog *viewerLog) error {
	gctx, err := guard.FromValue(st)
	if err != nil {
		return fmt.Errorf("encode state for script env: %w", err)
	}
	res, err := o.scripts.Run(ctx, phase, worktree, gctx)
	if err != nil {
		return fmt.Errorf("script phase %q: %w", phase.Name, err)
	}
	for _, line := range strings.Split(strings.TrimRight(res.Output, "\n"), "\n") {
		if line != "" {
			vlog.Raw(line)
		}
	}
	vlog.Info(fmt.Sprintf("script phase %s exited %d", phase.Name, res.ExitCode))
	o.setReturnCode(res.ExitCode)

	st.MergeStatus(res.StatusUpdates)
	if err := o.store.Save(st); err != nil {
		return fmt.Errorf("save script status updates: %w", err)
	}
	return nil
}

// runAgent spawns the agent runner for one iteration and supervises it.
// Returns true when the run should end because stop was requested.
func (o *Orchestrator) runAgent(ctx context.Context, ref issue.Ref, stateDir, worktree, promptPath, model string, opts StartOptions, vlog *viewerLog) bool {
	args := []string{
		"--prompt", promptPath,
		"--output", filepath.Join(stateDir, issue.SDKOutputFileName),
		"--text-output", filepath.Join(stateDir, issue.LogFileName),
		"--work-dir", worktree,
		"--state-dir", stateDir,
	}
	if opts.MaxBufferSize > 0 {
		args = append(args, "--max-buffer-size", strconv.Itoa(opts.MaxBufferSize))
	}
	if model != "" {
		args = append(args, "--model", model)
	}

	cmd := exec.Command(o.agentBin, args...)
	cmd.Dir = worktree
	setProcAttr(cmd)

	// One pipe carries stdout and stderr combined, in arrival order.
	pr, pw, err := os.Pipe()
	if err != nil {
		vlog.Error("create output pipe: " + err.Error())
		o.setReturnCode(1)
		return false
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		vlog.Error("spawn agent runner: " + err.Error())
		o.setReturnCode(1)
		return false
	}
	pw.Close()

	o.mu.Lock()
	o.child = &childProc{pid: cmd.Process.Pid}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.child = nil
		o.mu.Unlock()
	}()

	// Reader goroutine forwards child output lines; closing the channel is
	// the EOF sentinel.
	lines := make(chan string, lineQueueSize)
	go func() {
		defer close(lines)
		defer pr.Close()
		scanner := bufio.NewScanner(pr)
		buf := opts.MaxBufferSize
		if buf <= 0 {
			buf = 1024 * 1024
		}
		scanner.Buffer(make([]byte, 64*1024), buf)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	code, stopped := o.supervise(ctx, cmd.Process.Pid, opts, stateDir, lines, waitCh, vlog)
	o.setReturnCode(code)
	if code != 0 {
		vlog.Error(fmt.Sprintf("agent runner exited %d, continuing (progress is file-observed)", code))
	}
	return stopped
}

// supervise watches one subprocess until exit, deadline, inactivity, or stop.
// Returns the exit code and whether a stop was requested.
func (o *Orchestrator) supervise(ctx context.Context, pid int, opts StartOptions, stateDir string, lines <-chan string, waitCh <-chan error, vlog *viewerLog) (int, bool) {
	deadline := time.Now().Add(opts.IterationTimeout)
	lastActivity := time.Now()

	logPath := filepath.Join(stateDir, issue.LogFileName)
	sdkPath := filepath.Join(stateDir, issue.SDKOutputFileName)
	var logMtime, sdkMtime time.Time

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	killed := false
	stopped := false
	var waitErr error
	exited := false

	escalate := func(reason string) {
		if killed {
			return
		}
		killed = true
		vlog.Error(reason + ", terminating process group")
		_ = signalProcessGroup(pid, termSignal)
		select {
		case waitErr = <-waitCh:
			exited = true
		case <-time.After(o.grace):
			_ = signalProcessGroup(pid, killSignal)
		}
	}

	for !exited {
		select {
		case line, ok := <-lines:
			if !ok {
				// EOF: the child closed its output; await exit.
				lines = nil
				if !exited {
					waitErr = <-waitCh
					exited = true
				}
				continue
			}
			vlog.Raw(line)

		case waitErr = <-waitCh:
			exited = true

		case <-ctx.Done():
			stopped = true
			escalate("stop requested")
			if !exited {
				waitErr = <-waitCh
				exited = true
			}

		case <-ticker.C:
			if mt := mtimeOf(logPath); mt.After(logMtime) {
				logMtime, lastActivity = mt, time.Now()
			}
			if mt := mtimeOf(sdkPath); mt.After(sdkMtime) {
				sdkMtime, lastActivity = mt, time.Now()
			}
			if idle := time.Since(lastActivity); idle > opts.InactivityTimeout {
				vlog.Error(fmt.Sprintf("Iteration inactive for %s", idle.Round(time.Second)))
				escalate("inactivity timeout")
				if !exited {
					waitErr = <-waitCh
					exited = true
				}
			} else if time.Now().After(deadline) {
				vlog.Error("Iteration timeout")
				escalate("iteration timeout")
				if !exited {
					waitErr = <-waitCh
					exited = true
				}
			}
		}
	}

	// Drain whatever the reader still holds.
	if lines != nil {
		for line := range lines {
			vlog.Raw(line)
		}
	}

	code := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}
	return code, stopped
}

// sweepPromise looks for the completion promise in agent message content and
// in the tail of the text log.
func (o *Orchestrator) sweepPromise(stateDir string) bool {
	sdk := tail.NewSDKWatcher(filepath.Join(stateDir, issue.SDKOutputFileName))
	if doc := sdk.Snapshot(); doc != nil {
		for _, msg := range doc.Messages {
			if strings.Contains(msg.Content, PromiseToken) {
				return true
			}
		}
	}
	lw := tail.NewLogWatcher(filepath.Join(stateDir, issue.LogFileName))
	for _, line := range lw.AllLines(promiseTailLines) {
		if strings.Contains(line, PromiseToken) {
			return true
		}
	}
	return false
}

// writeProgress records the iteration banner the observation plane parses.
func (o *Orchestrator) writeProgress(stateDir string, i, max int, start time.Time) {
	content := fmt.Sprintf("Iteration %d of %d\nStarted: %s\n", i, max, start.Format(time.RFC3339))
	if err := util.AtomicWriteFile(filepath.Join(stateDir, issue.ProgressFileName), []byte(content), 0644); err != nil {
		o.logger.Warn("write progress file failed", "error", err)
	}
}

// sleep pauses between iterations, returning early on cancellation.
func (o *Orchestrator) sleep(ctx context.Context) {
	select {
	case <-time.After(o.iterationDelay):
	case <-ctx.Done():
	}
}

// ensureStateLink makes the issue state directory reachable from the
// worktree at .jeeves, repairing a missing or dangling symlink.
func ensureStateLink(worktree, stateDir string) error {
	link := filepath.Join(worktree, ".jeeves")
	if _, err := os.Stat(filepath.Join(link, issue.StateFileName)); err == nil {
		return nil
	}
	// A dangling link or stray file blocks symlink creation.
	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("remove stale .jeeves entry: %w", err)
		}
	}
	if err := os.Symlink(stateDir, link); err != nil {
		return fmt.Errorf("link state dir: %w", err)
	}
	if _, err := os.Stat(filepath.Join(link, issue.StateFileName)); err != nil {
		return fmt.Errorf("state file unreachable through link: %w", err)
	}
	return nil
}

// mtimeOf returns the file's mtime, or the zero time when unreadable.
func mtimeOf(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
