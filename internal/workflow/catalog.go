package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	jeeveserrors "github.com/jeevesbot/jeeves/internal/errors"
	"github.com/jeevesbot/jeeves/internal/util"
)

// builtinDefault is the workflow seeded into an empty catalog. It drives an
// issue from design through decomposition, implementation, and review to a
// merge-ready pull request.
const builtinDefault = `name: default
version: 1
start: design
default_model: sonnet
phases:
  design:
    kind: execute
    prompt: design.md
    model: opus
    allowed_writes: [".jeeves/*", "docs/**"]
    transitions:
      - to: decompose
        when: status.designReady == true
  decompose:
    kind: execute
    prompt: decompose.md
    transitions:
      - to: implement
        when: status.tasksReady == true
  implement:
    kind: execute
    prompt: implement.md
    allowed_writes: ["**"]
    transitions:
      - to: review
        when: status.implemented == true
  review:
    kind: evaluate
    prompt: review.md
    transitions:
      - to: implement
        when: status.needsChanges == true
      - to: finalize
        when: status.approved == true
  finalize:
    kind: execute
    prompt: finalize.md
    transitions:
      - to: done
        when: status.prCreated == true
  done:
    kind: terminal
`

// Summary is a shallow catalog listing entry.
type Summary struct {
	Name       string `json:"name"`
	Version    int    `json:"version"`
	Start      string `json:"start"`
	PhaseCount int    `json:"phase_count"`
}

// Catalog is a directory of workflow YAML documents. Reads parse and
// validate on every call; the orchestrator caches the loaded graph per run.
type Catalog struct {
	dir string
	mu  sync.Mutex
}

// NewCatalog creates a catalog rooted at dir, seeding the built-in default
// workflow if the directory is empty.
func NewCatalog(dir string) (*Catalog, error) {
	c := &Catalog{dir: dir}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create workflows dir: %w", err)
	}
	if _, err := os.Stat(c.path("default")); os.IsNotExist(err) {
		if err := util.AtomicWriteFile(c.path("default"), []byte(builtinDefault), 0644); err != nil {
			return nil, fmt.Errorf("seed default workflow: %w", err)
		}
	}
	return c, nil
}

func (c *Catalog) path(name string) string {
	return filepath.Join(c.dir, name+".yaml")
}

// validName rejects names that would escape the catalog directory.
func validName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return jeeveserrors.New(jeeveserrors.CodeBadRequest, fmt.Sprintf("invalid workflow name %q", name))
	}
	return nil
}

// List returns summaries for every loadable workflow, sorted by name.
// Unparseable documents are skipped.
func (c *Catalog) List() ([]Summary, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read workflows dir: %w", err)
	}

	var out []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".yaml")
		w, err := c.Load(name)
		if err != nil {
			continue
		}
		out = append(out, Summary{
			Name:       w.Name,
			Version:    w.Version,
			Start:      w.Start,
			PhaseCount: len(w.Phases),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Load parses and validates the named workflow.
func (c *Catalog) Load(name string) (*Workflow, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jeeveserrors.ErrWorkflowNotFound(name)
		}
		return nil, fmt.Errorf("read workflow %s: %w", name, err)
	}
	return Parse(data)
}

// Raw returns the raw YAML document for the named workflow.
func (c *Catalog) Raw(name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jeeveserrors.ErrWorkflowNotFound(name)
		}
		return nil, fmt.Errorf("read workflow %s: %w", name, err)
	}
	return data, nil
}

// Save validates and writes a workflow document under the given name.
func (c *Catalog) Save(name string, raw []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	if _, err := Parse(raw); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return util.AtomicWriteFile(c.path(name), raw, 0644)
}

// Duplicate copies an existing workflow under a new name.
func (c *Catalog) Duplicate(name, newName string) error {
	if err := validName(newName); err != nil {
		return err
	}
	raw, err := c.Raw(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(c.path(newName)); err == nil {
		return jeeveserrors.New(jeeveserrors.CodeBadRequest, fmt.Sprintf("workflow %q already exists", newName))
	}

	// Rewrite the name field so the copy validates as itself.
	w, err := Parse(raw)
	if err != nil {
		return err
	}
	doc := strings.Replace(string(raw), "name: "+w.Name, "name: "+newName, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	return util.AtomicWriteFile(c.path(newName), []byte(doc), 0644)
}

// Delete removes the named workflow. The built-in default cannot be deleted.
func (c *Catalog) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if name == "default" {
		return jeeveserrors.New(jeeveserrors.CodeBadRequest, "the default workflow cannot be deleted")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path(name)); err != nil {
		if os.IsNotExist(err) {
			return jeeveserrors.ErrWorkflowNotFound(name)
		}
		return fmt.Errorf("delete workflow %s: %w", name, err)
	}
	return nil
}
