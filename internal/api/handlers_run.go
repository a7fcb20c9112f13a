package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jeevesbot/jeeves/internal/issue"
	"github.com/jeevesbot/jeeves/internal/orchestrator"
	"github.com/jeevesbot/jeeves/internal/tail"
)

// handleRunStatus serves the run record.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, s.orch.Status())
}

// handleRunLogs serves the supervisor log tail.
func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	rec := s.orch.Status()
	if rec.ViewerLogPath == "" {
		JSONResponse(w, map[string]any{"lines": []string{}})
		return
	}
	n := queryInt(r, "n", defaultLogLines)
	lw := tail.NewLogWatcher(rec.ViewerLogPath)
	JSONResponse(w, map[string]any{"lines": lw.AllLines(n)})
}

// handleRunStart starts a run for the active (or named) issue.
func (s *Server) handleRunStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IssueRef             string `json:"issue_ref"`
		MaxIterations        int    `json:"max_iterations"`
		InactivityTimeoutSec int    `json:"inactivity_timeout_sec"`
		IterationTimeoutSec  int    `json:"iteration_timeout_sec"`
		MaxBufferSize        int    `json:"max_buffer_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		JSONError(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if body.MaxIterations < 0 || body.InactivityTimeoutSec < 0 ||
		body.IterationTimeoutSec < 0 || body.MaxBufferSize < 0 {
		JSONError(w, "parameters must be non-negative", http.StatusBadRequest)
		return
	}

	if body.IssueRef != "" {
		ref, err := issue.ParseRef(body.IssueRef)
		if err != nil {
			JSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.orch.SetIssue(ref); err != nil {
			HandleError(w, err)
			return
		}
	}

	err := s.orch.Start(orchestrator.StartOptions{
		MaxIterations:     body.MaxIterations,
		InactivityTimeout: time.Duration(body.InactivityTimeoutSec) * time.Second,
		IterationTimeout:  time.Duration(body.IterationTimeoutSec) * time.Second,
		MaxBufferSize:     body.MaxBufferSize,
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, s.orch.Status())
}

// handleRunStop stops the active run.
func (s *Server) handleRunStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Force bool `json:"force"`
	}
	// An empty body means a graceful stop.
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := s.orch.Stop(body.Force, 30*time.Second); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, s.orch.Status())
}
