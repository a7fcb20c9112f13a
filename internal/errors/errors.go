// Package errors provides structured error types for jeeves.
package errors

import (
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for jeeves.
const (
	// Workflow errors
	CodeWorkflowInvalid  Code = "WORKFLOW_INVALID"
	CodeWorkflowNotFound Code = "WORKFLOW_NOT_FOUND"

	// Issue errors
	CodeIssueNotFound  Code = "ISSUE_NOT_FOUND"
	CodeIssueMalformed Code = "ISSUE_MALFORMED"

	// Run errors
	CodeRunActive       Code = "RUN_ACTIVE"
	CodeNoIssueSelected Code = "NO_ISSUE_SELECTED"
	CodeWorktreeMissing Code = "WORKTREE_MISSING"
	CodePromptMissing   Code = "PROMPT_MISSING"

	// Agent errors
	CodeAgentTimeout  Code = "AGENT_TIMEOUT"
	CodeAgentInactive Code = "AGENT_INACTIVE"

	// Request errors
	CodeBadRequest   Code = "BAD_REQUEST"
	CodeRemoteOrigin Code = "REMOTE_ORIGIN_FORBIDDEN"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryForbidden
	CategoryInternal
	CategoryTimeout
)

var codeCategories = map[Code]Category{
	CodeWorkflowInvalid:  CategoryBadRequest,
	CodeWorkflowNotFound: CategoryNotFound,
	CodeIssueNotFound:    CategoryNotFound,
	CodeIssueMalformed:   CategoryBadRequest,
	CodeRunActive:        CategoryConflict,
	CodeNoIssueSelected:  CategoryBadRequest,
	CodeWorktreeMissing:  CategoryNotFound,
	CodePromptMissing:    CategoryNotFound,
	CodeAgentTimeout:     CategoryTimeout,
	CodeAgentInactive:    CategoryTimeout,
	CodeBadRequest:       CategoryBadRequest,
	CodeRemoteOrigin:     CategoryForbidden,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryForbidden:
		return 403
	case CategoryTimeout:
		return 504
	default:
		return 500
	}
}

// JeevesError is the structured error type for jeeves.
type JeevesError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *JeevesError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *JeevesError) Unwrap() error {
	return e.Cause
}

// Category returns the error category for HTTP status mapping.
func (e *JeevesError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the HTTP status code for this error.
func (e *JeevesError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// New creates a JeevesError with a code and message.
func New(code Code, what string) *JeevesError {
	return &JeevesError{Code: code, What: what}
}

// Wrap creates a JeevesError wrapping a cause.
func Wrap(code Code, what string, cause error) *JeevesError {
	return &JeevesError{Code: code, What: what, Cause: cause}
}

// --------- Constructors for common errors ---------

// ErrIssueNotFound returns a not-found error for an issue reference.
func ErrIssueNotFound(ref string) *JeevesError {
	return &JeevesError{
		Code: CodeIssueNotFound,
		What: fmt.Sprintf("issue %s not found", ref),
		Fix:  "provision the issue first (jeeves run creates the worktree and state)",
	}
}

// ErrIssueMalformed returns a malformed-state error for an issue reference.
func ErrIssueMalformed(ref string, cause error) *JeevesError {
	return &JeevesError{
		Code:  CodeIssueMalformed,
		What:  fmt.Sprintf("issue state for %s is malformed", ref),
		Cause: cause,
	}
}

// ErrRunActive returns a conflict error for operations rejected while a run
// is in progress.
func ErrRunActive(op string) *JeevesError {
	return &JeevesError{
		Code: CodeRunActive,
		What: fmt.Sprintf("cannot %s while a run is active", op),
		Fix:  "stop the current run first (POST /api/run/stop)",
	}
}

// ErrWorktreeMissing returns a not-found error for a missing worktree.
func ErrWorktreeMissing(path string) *JeevesError {
	return &JeevesError{
		Code: CodeWorktreeMissing,
		What: fmt.Sprintf("worktree does not exist: %s", path),
		Fix:  "provision the issue to create its worktree",
	}
}

// ErrWorkflowNotFound returns a not-found error for a workflow name.
func ErrWorkflowNotFound(name string) *JeevesError {
	return &JeevesError{
		Code: CodeWorkflowNotFound,
		What: fmt.Sprintf("workflow %q not found", name),
	}
}

// ErrWorkflowInvalid returns a validation error carrying all load failures.
func ErrWorkflowInvalid(name string, problems []string) *JeevesError {
	return &JeevesError{
		Code: CodeWorkflowInvalid,
		What: fmt.Sprintf("workflow %q failed validation", name),
		Why:  strings.Join(problems, "; "),
	}
}
