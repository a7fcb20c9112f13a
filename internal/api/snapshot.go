package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jeevesbot/jeeves/internal/issue"
	"github.com/jeevesbot/jeeves/internal/orchestrator"
)

// progressLines caps the progress tail included in snapshots.
const progressLines = 100

var (
	iterationPattern = regexp.MustCompile(`Iteration\s+(\d+)\s+of\s+(\d+)`)
	startedPattern   = regexp.MustCompile(`Started:\s*(.+)`)
)

// Snapshot is the derived view of the active issue plus the run record.
type Snapshot struct {
	Mode            string                 `json:"mode"` // issue | unknown
	IssueRef        string                 `json:"issue_ref,omitempty"`
	Issue           *issue.State           `json:"issue,omitempty"`
	Progress        []string               `json:"progress,omitempty"`
	Iteration       int                    `json:"iteration,omitempty"`
	TotalIterations int                    `json:"total_iterations,omitempty"`
	StartedAt       string                 `json:"started_at,omitempty"`
	Run             orchestrator.RunRecord `json:"run"`
}

// snapshot builds the derived state for the active issue.
func (s *Server) snapshot() Snapshot {
	snap := Snapshot{Mode: "unknown", Run: s.orch.Status()}

	ref := s.orch.ActiveIssue()
	if ref == nil {
		return snap
	}
	snap.Mode = "issue"
	snap.IssueRef = ref.String()

	if st, err := s.store.Load(*ref); err == nil {
		snap.Issue = st
	}

	data, err := os.ReadFile(filepath.Join(s.store.Dir(*ref), issue.ProgressFileName))
	if err != nil {
		return snap
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > progressLines {
		lines = lines[len(lines)-progressLines:]
	}
	snap.Progress = lines
	for _, line := range lines {
		if m := iterationPattern.FindStringSubmatch(line); m != nil {
			snap.Iteration, _ = strconv.Atoi(m[1])
			snap.TotalIterations, _ = strconv.Atoi(m[2])
		}
		if m := startedPattern.FindStringSubmatch(line); m != nil {
			snap.StartedAt = strings.TrimSpace(m[1])
		}
	}
	return snap
}

// signature canonicalises a snapshot so the stream can emit state events
// only on change.
func (snap Snapshot) signature() string {
	data, err := json.Marshal(snap)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
