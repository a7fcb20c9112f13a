package orchestrator

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeevesbot/jeeves/internal/allow"
	"github.com/jeevesbot/jeeves/internal/workflow"
)

// reportWriteViolations flags worktree files the iteration touched outside
// the phase's write allowlist. Advisory only; the run continues either way.
func (o *Orchestrator) reportWriteViolations(worktree string, phase *workflow.Phase, since time.Time, vlog *viewerLog) {
	changed := changedSince(worktree, since)
	if len(changed) == 0 {
		return
	}
	violations := allow.Check(changed, phase.EffectiveAllowedWrites())
	if len(violations) == 0 {
		return
	}
	vlog.Info(fmt.Sprintf("phase %s wrote outside its allowlist: %s",
		phase.Name, strings.Join(violations, ", ")))
	o.logger.Warn("allowlist violation",
		"phase", phase.Name,
		"files", violations)
}

// changedSince returns worktree-relative regular files modified after the
// given time. Symlinks (including the .jeeves state link) and .git are
// never descended into.
func changedSince(root string, since time.Time) []string {
	var out []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return fs.SkipDir
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().After(since) {
			return nil
		}
		if rel, err := filepath.Rel(root, path); err == nil {
			out = append(out, rel)
		}
		return nil
	})
	return out
}
