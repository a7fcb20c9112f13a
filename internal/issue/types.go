// Package issue provides the canonical per-issue state record and its
// file-backed store. The state file is the durable hand-off medium between
// orchestrator iterations: the agent subprocess writes it, then exits; the
// orchestrator reads it on the next loop pass and owns only the phase field.
package issue

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultWorkflow is the workflow an issue uses when its state names none.
const DefaultWorkflow = "default"

// Ref identifies an issue as {owner, repo, number}.
type Ref struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

// String renders the reference as owner/repo#number.
func (r Ref) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// ParseRef parses "owner/repo#number".
func ParseRef(s string) (Ref, error) {
	slash := strings.IndexByte(s, '/')
	hash := strings.LastIndexByte(s, '#')
	if slash <= 0 || hash <= slash+1 || hash == len(s)-1 {
		return Ref{}, fmt.Errorf("invalid issue reference %q (want owner/repo#number)", s)
	}
	n, err := strconv.Atoi(s[hash+1:])
	if err != nil || n <= 0 {
		return Ref{}, fmt.Errorf("invalid issue number in %q", s)
	}
	return Ref{Owner: s[:slash], Repo: s[slash+1 : hash], Number: n}, nil
}

// Info holds issue metadata fetched at provisioning time.
type Info struct {
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"`
	URL    string `json:"url,omitempty"`
}

// PullRequest records the PR produced by the workflow, when one exists.
type PullRequest struct {
	Number int    `json:"number,omitempty"`
	URL    string `json:"url,omitempty"`
}

// State is the canonical per-issue record, persisted as issue.json.
type State struct {
	Owner       string         `json:"owner"`
	Repo        string         `json:"repo"`
	Issue       Info           `json:"issue"`
	Branch      string         `json:"branch,omitempty"`
	Workflow    string         `json:"workflow"`
	Phase       string         `json:"phase"`
	Status      map[string]any `json:"status"`
	DesignDoc   string         `json:"design_doc,omitempty"`
	PullRequest *PullRequest   `json:"pull_request,omitempty"`
	Tasks       *TaskList      `json:"tasks,omitempty"`
	Notes       string         `json:"notes,omitempty"`
}

// Ref returns the reference tuple for this state.
func (s *State) Ref() Ref {
	return Ref{Owner: s.Owner, Repo: s.Repo, Number: s.Issue.Number}
}

// normalize fills defaults after load so callers never see nil maps or an
// empty workflow name.
func (s *State) normalize() {
	if s.Workflow == "" {
		s.Workflow = DefaultWorkflow
	}
	if s.Status == nil {
		s.Status = make(map[string]any)
	}
}

// MergeStatus folds script-phase status updates into the status map.
func (s *State) MergeStatus(updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	if s.Status == nil {
		s.Status = make(map[string]any)
	}
	for k, v := range updates {
		s.Status[k] = v
	}
}

// Descriptor is a shallow listing entry for an issue.
type Descriptor struct {
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	Number   int    `json:"number"`
	Title    string `json:"title,omitempty"`
	Phase    string `json:"phase"`
	Workflow string `json:"workflow"`
	Branch   string `json:"branch,omitempty"`
}
