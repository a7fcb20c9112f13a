package workflow

import (
	"log/slog"
	"sort"

	"github.com/jeevesbot/jeeves/internal/guard"
)

// EvaluateTransitions resolves the next phase from the current one. It walks
// the current phase's transitions in priority order (smaller first, stable
// within equal priorities) and returns the first whose guard is satisfied.
// Auto transitions are unconditionally satisfied. Guard syntax errors make
// that transition unsatisfied; they never propagate.
//
// Returns ("", false) when the phase is unknown, terminal, or no transition
// is satisfied. The engine is pure: it never touches disk.
func (w *Workflow) EvaluateTransitions(current string, ctx *guard.Context) (string, bool) {
	p := w.Phases[current]
	if p == nil || p.Kind == KindTerminal || len(p.Transitions) == 0 {
		return "", false
	}

	ordered := make([]Transition, len(p.Transitions))
	copy(ordered, p.Transitions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	for _, tr := range ordered {
		if tr.Auto {
			return tr.To, true
		}
		ok, err := guard.Evaluate(tr.When, ctx)
		if err != nil {
			slog.Warn("guard evaluation failed, skipping transition",
				"phase", current, "to", tr.To, "guard", tr.When, "error", err)
			continue
		}
		if ok {
			return tr.To, true
		}
	}
	return "", false
}
