package provision

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// GitRunner executes git subcommands against a working directory. Tests
// substitute a fake to simulate clone and worktree effects.
type GitRunner interface {
	// Git runs `git <args...>` in dir and returns the trimmed stdout.
	Git(ctx context.Context, dir string, args ...string) (string, error)
}

// execGit shells out to the git binary on PATH.
type execGit struct{}

// NewGitRunner returns the exec-backed GitRunner.
func NewGitRunner() GitRunner {
	return execGit{}
}

func (execGit) Git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		output := strings.TrimSpace(stderr.String())
		if output == "" {
			output = strings.TrimSpace(stdout.String())
		}
		return "", &GitError{Args: args, Dir: dir, Output: output, Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// GitError is a failed git invocation. Error messages name the subcommand
// and carry whatever git printed, since that text is what the operator
// needs to repair a clone or worktree by hand.
type GitError struct {
	Args   []string
	Dir    string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	msg := "git " + strings.Join(e.Args, " ")
	if e.Output != "" {
		return msg + ": " + e.Output
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg + " failed"
}

func (e *GitError) Unwrap() error {
	return e.Err
}
