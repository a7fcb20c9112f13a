// Package provision prepares everything a run needs for an issue: a clone of
// the repository, a dedicated worktree on an issue branch, the state
// directory, and the .jeeves link tying them together.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v82/github"

	"github.com/jeevesbot/jeeves/internal/issue"
)

// Provisioner sets up repositories, worktrees and issue state.
type Provisioner struct {
	store        *issue.Store
	runner       GitRunner
	logger       *slog.Logger
	reposDir     string
	worktreesDir string
	gh           *github.Client
}

// Config wires a Provisioner.
type Config struct {
	Store        *issue.Store
	ReposDir     string
	WorktreesDir string
	Runner       GitRunner // nil means the exec-backed runner
	Logger       *slog.Logger
	// GitHubToken enables issue metadata fetching. Empty disables it.
	GitHubToken string
}

// Options tunes one provisioning call.
type Options struct {
	// CloneURL overrides the default https://github.com/<owner>/<repo>.git.
	CloneURL string
	// BaseBranch overrides the remote default branch as the worktree base.
	BaseBranch string
}

// New creates a Provisioner.
func New(cfg Config) (*Provisioner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.ReposDir == "" || cfg.WorktreesDir == "" {
		return nil, fmt.Errorf("repos and worktrees dirs are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = NewGitRunner()
	}
	p := &Provisioner{
		store:        cfg.Store,
		runner:       runner,
		logger:       logger,
		reposDir:     cfg.ReposDir,
		worktreesDir: cfg.WorktreesDir,
	}
	if cfg.GitHubToken != "" {
		p.gh = github.NewClient(nil).WithAuthToken(cfg.GitHubToken)
	}
	return p, nil
}

// RepoPath returns the clone location for owner/repo.
func (p *Provisioner) RepoPath(ref issue.Ref) string {
	return filepath.Join(p.reposDir, ref.Owner, ref.Repo)
}

// WorktreePath returns the worktree location for an issue.
func (p *Provisioner) WorktreePath(ref issue.Ref) string {
	return filepath.Join(p.worktreesDir, ref.Owner, ref.Repo, fmt.Sprintf("issue-%d", ref.Number))
}

// BranchName returns the issue branch name.
func (p *Provisioner) BranchName(ref issue.Ref) string {
	return fmt.Sprintf("issue/%d", ref.Number)
}

// Ensure makes the issue runnable: clone present, worktree checked out on
// the issue branch, state file saved, and the worktree's .jeeves entry
// pointing at the state directory. Idempotent.
func (p *Provisioner) Ensure(ctx context.Context, ref issue.Ref, opts Options) (*issue.State, error) {
	repoPath := p.RepoPath(ref)
	if err := p.ensureClone(ctx, ref, repoPath, opts.CloneURL); err != nil {
		return nil, err
	}

	worktree := p.WorktreePath(ref)
	branch := p.BranchName(ref)
	if err := p.ensureWorktree(ctx, repoPath, worktree, branch, opts.BaseBranch); err != nil {
		return nil, err
	}

	st, err := p.store.Load(ref)
	if err != nil {
		st = &issue.State{
			Owner:    ref.Owner,
			Repo:     ref.Repo,
			Issue:    issue.Info{Number: ref.Number},
			Branch:   branch,
			Workflow: issue.DefaultWorkflow,
		}
	}
	if st.Branch == "" {
		st.Branch = branch
	}
	p.fillMetadata(ctx, ref, st)

	stateDir := p.store.Dir(ref)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if err := p.store.Save(st); err != nil {
		return nil, fmt.Errorf("save issue state: %w", err)
	}
	if err := linkStateDir(worktree, stateDir); err != nil {
		return nil, err
	}
	if err := p.store.TouchRecent(ref.Owner, ref.Repo); err != nil {
		p.logger.Warn("update recent list failed", "error", err)
	}

	p.logger.Info("issue provisioned", "issue", ref.String(), "worktree", worktree, "branch", branch)
	return st, nil
}

// ensureClone clones the repository if absent, otherwise fetches.
func (p *Provisioner) ensureClone(ctx context.Context, ref issue.Ref, repoPath, cloneURL string) error {
	if _, err := os.Stat(filepath.Join(repoPath, ".git")); err == nil {
		// Keep the base fresh; a failed fetch is not fatal for local work.
		if _, err := p.runner.Git(ctx, repoPath, "fetch", "origin"); err != nil {
			p.logger.Warn("git fetch failed", "repo", ref.Owner+"/"+ref.Repo, "error", err)
		}
		return nil
	}

	if cloneURL == "" {
		cloneURL = fmt.Sprintf("https://github.com/%s/%s.git", ref.Owner, ref.Repo)
	}
	if err := os.MkdirAll(filepath.Dir(repoPath), 0755); err != nil {
		return fmt.Errorf("create repos dir: %w", err)
	}
	if _, err := p.runner.Git(ctx, filepath.Dir(repoPath), "clone", cloneURL, repoPath); err != nil {
		return fmt.Errorf("clone %s: %w", cloneURL, err)
	}
	return nil
}

// ensureWorktree adds the issue worktree on its branch if missing.
func (p *Provisioner) ensureWorktree(ctx context.Context, repoPath, worktree, branch, base string) error {
	if _, err := os.Stat(worktree); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(worktree), 0755); err != nil {
		return fmt.Errorf("create worktrees dir: %w", err)
	}

	if base == "" {
		base = p.defaultBranch(ctx, repoPath)
	}
	if _, err := p.runner.Git(ctx, repoPath, "worktree", "add", "-b", branch, worktree, base); err != nil {
		// The branch may survive a removed worktree; reattach it.
		if _, err2 := p.runner.Git(ctx, repoPath, "worktree", "add", worktree, branch); err2 != nil {
			return fmt.Errorf("add worktree on %s: %w", branch, err)
		}
	}
	return nil
}

// defaultBranch resolves the remote default branch, falling back to main.
func (p *Provisioner) defaultBranch(ctx context.Context, repoPath string) string {
	out, err := p.runner.Git(ctx, repoPath, "symbolic-ref", "--short", "refs/remotes/origin/HEAD")
	if err != nil || out == "" {
		return "main"
	}
	return strings.TrimPrefix(out, "origin/")
}

// fillMetadata fetches issue title and URL when a GitHub client is
// configured and the state lacks them.
func (p *Provisioner) fillMetadata(ctx context.Context, ref issue.Ref, st *issue.State) {
	if p.gh == nil || st.Issue.Title != "" {
		return
	}
	gi, _, err := p.gh.Issues.Get(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		p.logger.Warn("fetch issue metadata failed", "issue", ref.String(), "error", err)
		return
	}
	st.Issue.Title = gi.GetTitle()
	st.Issue.URL = gi.GetHTMLURL()
}

// linkStateDir points <worktree>/.jeeves at the state directory.
func linkStateDir(worktree, stateDir string) error {
	link := filepath.Join(worktree, ".jeeves")
	if target, err := os.Readlink(link); err == nil && target == stateDir {
		return nil
	}
	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("replace .jeeves entry: %w", err)
		}
	}
	if err := os.Symlink(stateDir, link); err != nil {
		return fmt.Errorf("link state dir: %w", err)
	}
	return nil
}
