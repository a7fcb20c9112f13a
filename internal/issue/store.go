package issue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	jeeveserrors "github.com/jeevesbot/jeeves/internal/errors"
	"github.com/jeevesbot/jeeves/internal/util"
)

// Well-known filenames inside an issue state directory.
const (
	StateFileName     = "issue.json"
	TasksFileName     = "tasks.json"
	ProgressFileName  = "progress.txt"
	LogFileName       = "last-run.log"
	SDKOutputFileName = "sdk-output.json"
	ViewerLogFileName = "viewer-run.log"

	activeIssueFile = "active-issue.json"
	recentFile      = "recent.json"
	maxRecent       = 10
)

// Store reads and writes issue state under <data>/issues.
type Store struct {
	dataDir string
}

// NewStore creates a store rooted at the jeeves data directory.
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// Dir returns the state directory for an issue reference.
func (s *Store) Dir(ref Ref) string {
	return filepath.Join(s.dataDir, "issues", ref.Owner, ref.Repo, strconv.Itoa(ref.Number))
}

// StatePath returns the canonical issue.json path for a reference.
func (s *Store) StatePath(ref Ref) string {
	return filepath.Join(s.Dir(ref), StateFileName)
}

// Load reads and normalizes the state for an issue. Missing files surface
// as not-found; unparseable files as malformed.
func (s *Store) Load(ref Ref) (*State, error) {
	data, err := os.ReadFile(s.StatePath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jeeveserrors.ErrIssueNotFound(ref.String())
		}
		return nil, fmt.Errorf("read issue state %s: %w", ref, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, jeeveserrors.ErrIssueMalformed(ref.String(), err)
	}
	st.normalize()
	return &st, nil
}

// Save atomically persists the state to its canonical path.
func (s *Store) Save(st *State) error {
	st.normalize()
	return util.AtomicWriteJSON(s.StatePath(st.Ref()), st, 0644)
}

// LoadTasks reads a sibling tasks.json when the state document carries no
// embedded task list. Kept for compatibility with decomposers that write
// the list as its own file.
func (s *Store) LoadTasks(ref Ref) (*TaskList, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(ref), TasksFileName))
	if err != nil {
		return nil, err
	}
	var tl TaskList
	if err := json.Unmarshal(data, &tl); err != nil {
		return nil, fmt.Errorf("parse tasks for %s: %w", ref, err)
	}
	return &tl, nil
}

// List walks the issues tree and returns shallow descriptors, sorted by
// owner, repo, number. Empty owner/repo match everything. Unreadable or
// malformed entries are skipped silently.
func (s *Store) List(owner, repo string) ([]Descriptor, error) {
	issuesDir := filepath.Join(s.dataDir, "issues")
	var out []Descriptor

	owners, err := os.ReadDir(issuesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read issues dir: %w", err)
	}

	for _, o := range owners {
		if !o.IsDir() || (owner != "" && o.Name() != owner) {
			continue
		}
		repos, err := os.ReadDir(filepath.Join(issuesDir, o.Name()))
		if err != nil {
			continue
		}
		for _, r := range repos {
			if !r.IsDir() || (repo != "" && r.Name() != repo) {
				continue
			}
			numbers, err := os.ReadDir(filepath.Join(issuesDir, o.Name(), r.Name()))
			if err != nil {
				continue
			}
			for _, n := range numbers {
				num, err := strconv.Atoi(n.Name())
				if !n.IsDir() || err != nil {
					continue
				}
				st, err := s.Load(Ref{Owner: o.Name(), Repo: r.Name(), Number: num})
				if err != nil {
					continue
				}
				out = append(out, Descriptor{
					Owner:    st.Owner,
					Repo:     st.Repo,
					Number:   st.Issue.Number,
					Title:    st.Issue.Title,
					Phase:    st.Phase,
					Workflow: st.Workflow,
					Branch:   st.Branch,
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		if out[i].Repo != out[j].Repo {
			return out[i].Repo < out[j].Repo
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

// SaveActive records the last selected issue so the viewer can resume it.
func (s *Store) SaveActive(ref Ref) error {
	return util.AtomicWriteJSON(filepath.Join(s.dataDir, activeIssueFile), ref, 0644)
}

// LoadActive returns the last selected issue, or nil when none is recorded.
func (s *Store) LoadActive() (*Ref, error) {
	data, err := os.ReadFile(filepath.Join(s.dataDir, activeIssueFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ref Ref
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("parse active issue: %w", err)
	}
	return &ref, nil
}

// TouchRecent moves owner/repo to the front of the most-recently-used list.
func (s *Store) TouchRecent(owner, repo string) error {
	path := filepath.Join(s.dataDir, recentFile)
	entry := owner + "/" + repo

	var recent []string
	if data, err := os.ReadFile(path); err == nil {
		// A corrupt recent list is not worth failing provisioning over.
		_ = json.Unmarshal(data, &recent)
	}

	out := []string{entry}
	for _, r := range recent {
		if r != entry && len(out) < maxRecent {
			out = append(out, r)
		}
	}
	return util.AtomicWriteJSON(path, out, 0644)
}

// Recent returns the most-recently-used owner/repo list.
func (s *Store) Recent() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(s.dataDir, recentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var recent []string
	if err := json.Unmarshal(data, &recent); err != nil {
		return nil, fmt.Errorf("parse recent list: %w", err)
	}
	return recent, nil
}
