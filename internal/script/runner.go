// Package script runs script-kind phases: a templated shell command executed
// under a wall-clock timeout, with the issue state exported as environment
// and exit-code-keyed status updates fed back to the orchestrator.
package script

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jeevesbot/jeeves/internal/guard"
	"github.com/jeevesbot/jeeves/internal/workflow"
)

// DefaultTimeout is the wall-clock limit for a script phase.
const DefaultTimeout = 5 * time.Minute

// TimeoutExitCode is reported when the script is killed at the deadline,
// matching the exit code of timeout(1).
const TimeoutExitCode = 124

var substPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.-]+)\}`)

// Result is the outcome of one script phase execution.
type Result struct {
	ExitCode      int
	Output        string
	StatusUpdates map[string]any
}

// Runner executes script phases.
type Runner struct {
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout overrides the default wall-clock timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// NewRunner creates a script runner.
func NewRunner(logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{timeout: DefaultTimeout, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the phase command in workDir. ${a.b.c} patterns in the
// command substitute from the state context (missing paths become empty),
// and the flattened context is exported as A_B_C environment variables on
// top of the inherited environment. Timeout kills the process group and
// reports exit 124. A phase without a command reports exit 1.
func (r *Runner) Run(ctx context.Context, phase *workflow.Phase, workDir string, stateCtx *guard.Context) (*Result, error) {
	if phase.Command == "" {
		return &Result{
			ExitCode:      1,
			Output:        "script phase has no command configured",
			StatusUpdates: map[string]any{},
		}, nil
	}

	command := substPattern.ReplaceAllStringFunc(phase.Command, func(m string) string {
		path := substPattern.FindStringSubmatch(m)[1]
		return stateCtx.Resolve(path).String()
	})

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), flattenEnv(stateCtx)...)
	setProcAttr(cmd)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.logger.Debug("running script phase", "phase", phase.Name, "command", command)

	exitCode := 0
	if err := cmd.Start(); err != nil {
		exitCode = 1
		output.WriteString("start command: " + err.Error())
	} else {
		exitCode = r.supervise(ctx, cmd)
	}

	if phase.OutputFile != "" {
		dest := phase.OutputFile
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(workDir, dest)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err == nil {
			if err := os.WriteFile(dest, output.Bytes(), 0644); err != nil {
				r.logger.Warn("write script output file failed", "path", dest, "error", err)
			}
		}
	}

	res := &Result{
		ExitCode:      exitCode,
		Output:        output.String(),
		StatusUpdates: statusUpdates(phase, exitCode),
	}
	r.logger.Info("script phase finished", "phase", phase.Name, "exit_code", exitCode)
	return res, nil
}

// supervise waits for the command, enforcing the timeout and context
// cancellation by killing the process group.
func (r *Runner) supervise(ctx context.Context, cmd *exec.Cmd) int {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err == nil {
			return 0
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		return 1
	case <-timer.C:
		r.logger.Warn("script phase timed out, killing process group",
			"timeout", r.timeout, "pid", cmd.Process.Pid)
	case <-ctx.Done():
		r.logger.Warn("script phase cancelled, killing process group", "pid", cmd.Process.Pid)
	}

	if err := killProcessGroup(cmd.Process.Pid); err != nil {
		// Fall back to killing the direct child.
		_ = cmd.Process.Kill()
	}
	<-done
	return TimeoutExitCode
}

// statusUpdates resolves the phase status mapping for the outcome keyword.
func statusUpdates(phase *workflow.Phase, exitCode int) map[string]any {
	if phase.StatusMapping == nil {
		return map[string]any{}
	}
	key := "failure"
	if exitCode == 0 {
		key = "success"
	}
	updates := phase.StatusMapping[key]
	if updates == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(updates))
	for k, v := range updates {
		out[k] = v
	}
	return out
}

// flattenEnv renders the state context as FOO_BAR=value pairs. Nested maps
// join with underscores; keys are upper-cased; only scalar leaves export.
func flattenEnv(stateCtx *guard.Context) []string {
	doc := stateCtx.JSON()
	if doc == "" {
		return nil
	}
	var env []string
	var walk func(prefix string, v gjson.Result)
	walk = func(prefix string, v gjson.Result) {
		if v.IsObject() {
			v.ForEach(func(key, val gjson.Result) bool {
				name := strings.ToUpper(strings.ReplaceAll(key.String(), "-", "_"))
				if prefix != "" {
					name = prefix + "_" + name
				}
				walk(name, val)
				return true
			})
			return
		}
		if v.IsArray() || prefix == "" {
			// Arrays and the bare root do not map onto single variables.
			return
		}
		env = append(env, prefix+"="+v.String())
	}
	walk("", gjson.Parse(doc))
	return env
}
