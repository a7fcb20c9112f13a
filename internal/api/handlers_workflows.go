package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	jeeveserrors "github.com/jeevesbot/jeeves/internal/errors"
	"github.com/jeevesbot/jeeves/internal/workflow"
)

// maxWorkflowBytes bounds uploaded workflow documents.
const maxWorkflowBytes = 1 << 20

// handleWorkflowList lists catalog summaries.
func (s *Server) handleWorkflowList(w http.ResponseWriter, r *http.Request) {
	list, err := s.catalog.List()
	if err != nil {
		HandleError(w, err)
		return
	}
	if list == nil {
		list = []workflow.Summary{}
	}
	JSONResponse(w, map[string]any{"workflows": list})
}

// handleWorkflowFull serves the parsed workflow plus its raw document.
func (s *Server) handleWorkflowFull(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	wf, err := s.catalog.Load(name)
	if err != nil {
		HandleError(w, err)
		return
	}
	raw, err := s.catalog.Raw(name)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]any{
		"workflow": wf,
		"phases":   wf.PhaseNames(),
		"raw":      string(raw),
	})
}

// handleWorkflowSave validates and stores an uploaded document.
func (s *Server) handleWorkflowSave(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWorkflowBytes))
	if err != nil {
		JSONError(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	name := r.PathValue("name")
	if err := s.catalog.Save(name, raw); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]any{"saved": name})
}

// handleWorkflowValidate checks a document without saving it.
func (s *Server) handleWorkflowValidate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWorkflowBytes))
	if err != nil {
		JSONError(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := workflow.Parse(raw); err != nil {
		var jerr *jeeveserrors.JeevesError
		if errors.As(err, &jerr) {
			JSONResponse(w, map[string]any{"valid": false, "problems": jerr.Why})
			return
		}
		JSONResponse(w, map[string]any{"valid": false, "problems": err.Error()})
		return
	}
	JSONResponse(w, map[string]any{"valid": true})
}

// handleWorkflowDuplicate copies a workflow under a new name.
func (s *Server) handleWorkflowDuplicate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewName string `json:"new_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.NewName == "" {
		JSONError(w, "body must carry new_name", http.StatusBadRequest)
		return
	}
	if err := s.catalog.Duplicate(r.PathValue("name"), body.NewName); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]any{"duplicated": body.NewName})
}

// handleWorkflowDelete removes a workflow.
func (s *Server) handleWorkflowDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Delete(r.PathValue("name")); err != nil {
		HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
