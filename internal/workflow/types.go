// Package workflow provides the declarative phase-graph model for jeeves.
// A workflow is an immutable graph of phases connected by guarded
// transitions, loaded once from a YAML document and evaluated against the
// live issue state between iterations.
package workflow

// Kind identifies how a phase is dispatched.
type Kind string

const (
	// KindExecute runs the agent subprocess with the phase prompt; the agent
	// may modify worktree files.
	KindExecute Kind = "execute"
	// KindEvaluate runs the agent subprocess in an advisory role; it should
	// write only under .jeeves/.
	KindEvaluate Kind = "evaluate"
	// KindScript runs a templated shell command driven entirely by the
	// orchestrator.
	KindScript Kind = "script"
	// KindTerminal ends the run; terminal phases are never dispatched.
	KindTerminal Kind = "terminal"
)

// RecognizedModels is the set of model tags accepted at load time. The tags
// are opaque to the orchestrator; they are passed through to the agent
// runner.
var RecognizedModels = map[string]bool{
	"sonnet": true,
	"opus":   true,
	"haiku":  true,
}

// DefaultAllowedWrites is the allowlist applied to phases that declare none.
var DefaultAllowedWrites = []string{".jeeves/*"}

// Transition is a directed edge out of a phase. Transitions are evaluated
// in priority order (smaller first, declaration order within a priority);
// the first satisfied guard wins.
type Transition struct {
	To       string `yaml:"to" json:"to"`
	When     string `yaml:"when,omitempty" json:"when,omitempty"`
	Auto     bool   `yaml:"auto,omitempty" json:"auto,omitempty"`
	Priority int    `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// Phase is a node in the workflow graph.
type Phase struct {
	Name          string                    `yaml:"-" json:"name"`
	Kind          Kind                      `yaml:"kind" json:"kind"`
	Prompt        string                    `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Command       string                    `yaml:"command,omitempty" json:"command,omitempty"`
	StatusMapping map[string]map[string]any `yaml:"status_mapping,omitempty" json:"status_mapping,omitempty"`
	OutputFile    string                    `yaml:"output_file,omitempty" json:"output_file,omitempty"`
	Model         string                    `yaml:"model,omitempty" json:"model,omitempty"`
	AllowedWrites []string                  `yaml:"allowed_writes,omitempty" json:"allowed_writes,omitempty"`
	Transitions   []Transition              `yaml:"transitions,omitempty" json:"transitions,omitempty"`
}

// Workflow is the immutable phase graph.
type Workflow struct {
	Name         string            `yaml:"name" json:"name"`
	Version      int               `yaml:"version" json:"version"`
	Start        string            `yaml:"start" json:"start"`
	DefaultModel string            `yaml:"default_model,omitempty" json:"default_model,omitempty"`
	Phases       map[string]*Phase `yaml:"phases" json:"phases"`

	// phaseOrder preserves declaration order for listings and validation
	// messages.
	phaseOrder []string
}

// Phase returns the named phase, or nil if it does not exist.
func (w *Workflow) Phase(name string) *Phase {
	return w.Phases[name]
}

// StartPhase returns the workflow's start phase.
func (w *Workflow) StartPhase() *Phase {
	return w.Phases[w.Start]
}

// PhaseNames returns phase names in declaration order.
func (w *Workflow) PhaseNames() []string {
	out := make([]string, len(w.phaseOrder))
	copy(out, w.phaseOrder)
	return out
}

// IsTerminal reports whether the named phase has kind terminal. Unknown
// phases are not terminal.
func (w *Workflow) IsTerminal(name string) bool {
	p := w.Phases[name]
	return p != nil && p.Kind == KindTerminal
}

// PromptFor returns the prompt reference for an execute or evaluate phase.
func (w *Workflow) PromptFor(name string) string {
	if p := w.Phases[name]; p != nil {
		return p.Prompt
	}
	return ""
}

// EffectiveModel returns the phase model, falling back to the workflow
// default, falling back to empty.
func (w *Workflow) EffectiveModel(name string) string {
	if p := w.Phases[name]; p != nil && p.Model != "" {
		return p.Model
	}
	return w.DefaultModel
}

// EffectiveAllowedWrites returns the phase allowlist, or the default when
// the phase declares none.
func (p *Phase) EffectiveAllowedWrites() []string {
	if len(p.AllowedWrites) > 0 {
		return p.AllowedWrites
	}
	return DefaultAllowedWrites
}
