package workflow

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	jeeveserrors "github.com/jeevesbot/jeeves/internal/errors"
)

// Parse parses and validates a workflow document. The loader is strict:
// unknown keys anywhere in the document are validation errors, and all
// validation failures are reported together rather than first-only.
func Parse(data []byte) (*Workflow, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var w Workflow
	if err := dec.Decode(&w); err != nil && err != io.EOF {
		return nil, jeeveserrors.ErrWorkflowInvalid(w.Name, []string{err.Error()})
	}

	w.phaseOrder = phaseOrderOf(data)
	for name, p := range w.Phases {
		if p == nil {
			p = &Phase{}
			w.Phases[name] = p
		}
		p.Name = name
	}

	if problems := w.validate(); len(problems) > 0 {
		return nil, jeeveserrors.ErrWorkflowInvalid(w.Name, problems)
	}
	return &w, nil
}

// LoadFile parses and validates a workflow from a YAML file.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	return Parse(data)
}

// phaseOrderOf extracts phase declaration order from the raw document.
// yaml.v3 map decoding loses ordering, so the node tree is walked directly.
func phaseOrderOf(data []byte) []string {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil || len(root.Content) == 0 {
		return nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value != "phases" {
			continue
		}
		phases := doc.Content[i+1]
		if phases.Kind != yaml.MappingNode {
			return nil
		}
		var order []string
		for j := 0; j+1 < len(phases.Content); j += 2 {
			order = append(order, phases.Content[j].Value)
		}
		return order
	}
	return nil
}

// validate checks the load-time invariants and returns every violation.
func (w *Workflow) validate() []string {
	var problems []string

	if w.Name == "" {
		problems = append(problems, "workflow name is required")
	}
	if len(w.Phases) == 0 {
		problems = append(problems, "workflow has no phases")
	}

	if w.Start == "" {
		problems = append(problems, "start phase is required")
	} else if _, ok := w.Phases[w.Start]; !ok {
		problems = append(problems, fmt.Sprintf("start phase %q does not exist", w.Start))
	}

	if w.DefaultModel != "" && !RecognizedModels[w.DefaultModel] {
		problems = append(problems, fmt.Sprintf("unknown default model %q", w.DefaultModel))
	}

	terminals := 0
	for _, name := range w.orderedPhaseNames() {
		p := w.Phases[name]
		switch p.Kind {
		case KindExecute, KindEvaluate:
			if p.Prompt == "" {
				problems = append(problems, fmt.Sprintf("phase %q (%s) requires a prompt", name, p.Kind))
			}
		case KindScript:
			if p.Command == "" {
				problems = append(problems, fmt.Sprintf("phase %q (script) requires a command", name))
			}
		case KindTerminal:
			terminals++
		default:
			problems = append(problems, fmt.Sprintf("phase %q has unknown kind %q", name, p.Kind))
		}

		if p.Model != "" && !RecognizedModels[p.Model] {
			problems = append(problems, fmt.Sprintf("phase %q declares unknown model %q", name, p.Model))
		}

		for _, tr := range p.Transitions {
			if tr.To == "" {
				problems = append(problems, fmt.Sprintf("phase %q has a transition with no target", name))
			} else if _, ok := w.Phases[tr.To]; !ok {
				problems = append(problems, fmt.Sprintf("phase %q transitions to unknown phase %q", name, tr.To))
			}
		}
	}

	if terminals == 0 && len(w.Phases) > 0 {
		problems = append(problems, "workflow has no terminal phase")
	}

	return problems
}

// orderedPhaseNames returns declaration order when known, falling back to
// whatever map iteration yields (only hit for programmatically built graphs).
func (w *Workflow) orderedPhaseNames() []string {
	if len(w.phaseOrder) == len(w.Phases) {
		return w.phaseOrder
	}
	names := make([]string, 0, len(w.Phases))
	for name := range w.Phases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
