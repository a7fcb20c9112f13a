package issue

import "fmt"

// TaskStatus is the lifecycle state of a work item.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskPassed     TaskStatus = "passed"
	TaskFailed     TaskStatus = "failed"
)

// Task is one unit of work decomposed from an issue.
type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Summary            string     `json:"summary,omitempty"`
	AcceptanceCriteria []string   `json:"acceptance_criteria,omitempty"`
	FilesAllowed       []string   `json:"files_allowed,omitempty"`
	DependsOn          []string   `json:"depends_on,omitempty"`
	Status             TaskStatus `json:"status"`
}

// TaskList is the ordered decomposition of an issue.
type TaskList struct {
	SchemaVersion  int    `json:"schema_version"`
	DecomposedFrom string `json:"decomposed_from,omitempty"`
	Tasks          []Task `json:"tasks"`
}

// Current returns the active task: the first in_progress task, else the
// first pending one. Nil when nothing remains.
func (tl *TaskList) Current() *Task {
	if tl == nil {
		return nil
	}
	for i := range tl.Tasks {
		if tl.Tasks[i].Status == TaskInProgress {
			return &tl.Tasks[i]
		}
	}
	for i := range tl.Tasks {
		if tl.Tasks[i].Status == TaskPending {
			return &tl.Tasks[i]
		}
	}
	return nil
}

// Advance marks the identified task passed or failed and reports whether a
// pending task remains.
func (tl *TaskList) Advance(id string, passed bool) (bool, error) {
	if tl == nil {
		return false, fmt.Errorf("no task list")
	}
	found := false
	for i := range tl.Tasks {
		if tl.Tasks[i].ID == id {
			if passed {
				tl.Tasks[i].Status = TaskPassed
			} else {
				tl.Tasks[i].Status = TaskFailed
			}
			found = true
			break
		}
	}
	if !found {
		return false, fmt.Errorf("task %q not found", id)
	}
	for i := range tl.Tasks {
		if tl.Tasks[i].Status == TaskPending {
			return true, nil
		}
	}
	return false, nil
}
