package api

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"

	jeeveserrors "github.com/jeevesbot/jeeves/internal/errors"
	"github.com/jeevesbot/jeeves/internal/events"
	"github.com/jeevesbot/jeeves/internal/issue"
	"github.com/jeevesbot/jeeves/internal/tail"
)

// defaultLogLines is the tail length served when the query names none.
const defaultLogLines = 100

// handleState serves the derived snapshot plus the run record.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, s.snapshot())
}

// handleLogs serves recent agent log lines.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	ref := s.orch.ActiveIssue()
	if ref == nil {
		JSONResponse(w, map[string]any{"lines": []string{}})
		return
	}
	n := queryInt(r, "n", defaultLogLines)
	lw := tail.NewLogWatcher(filepath.Join(s.store.Dir(*ref), issue.LogFileName))
	JSONResponse(w, map[string]any{"lines": lw.AllLines(n)})
}

// activeSDK returns an SDK watcher for the active issue, or nil.
func (s *Server) activeSDK() *tail.SDKWatcher {
	ref := s.orch.ActiveIssue()
	if ref == nil {
		return nil
	}
	return tail.NewSDKWatcher(filepath.Join(s.store.Dir(*ref), issue.SDKOutputFileName))
}

// handleSDKOutput serves the last full SDK output document.
func (s *Server) handleSDKOutput(w http.ResponseWriter, r *http.Request) {
	sdk := s.activeSDK()
	if sdk == nil {
		JSONError(w, "no issue selected", http.StatusNotFound)
		return
	}
	doc := sdk.Snapshot()
	if doc == nil {
		JSONError(w, "no sdk output recorded", http.StatusNotFound)
		return
	}
	JSONResponse(w, doc)
}

// handleSDKMessages serves the messages array only.
func (s *Server) handleSDKMessages(w http.ResponseWriter, r *http.Request) {
	sdk := s.activeSDK()
	if sdk == nil {
		JSONError(w, "no issue selected", http.StatusNotFound)
		return
	}
	doc := sdk.Snapshot()
	if doc == nil {
		JSONResponse(w, map[string]any{"messages": []tail.Message{}})
		return
	}
	JSONResponse(w, map[string]any{"messages": doc.Messages, "session_id": doc.SessionID})
}

// handleSDKToolCalls serves a tool-call summary.
func (s *Server) handleSDKToolCalls(w http.ResponseWriter, r *http.Request) {
	sdk := s.activeSDK()
	if sdk == nil {
		JSONError(w, "no issue selected", http.StatusNotFound)
		return
	}
	doc := sdk.Snapshot()
	if doc == nil {
		JSONResponse(w, map[string]any{"tool_calls": []tail.ToolCall{}})
		return
	}
	JSONResponse(w, map[string]any{"tool_calls": doc.ToolCalls, "count": len(doc.ToolCalls)})
}

// handleIssueList lists provisioned issues, optionally filtered.
func (s *Server) handleIssueList(w http.ResponseWriter, r *http.Request) {
	descs, err := s.store.List(r.URL.Query().Get("owner"), r.URL.Query().Get("repo"))
	if err != nil {
		HandleError(w, err)
		return
	}
	if descs == nil {
		descs = []issue.Descriptor{}
	}
	JSONResponse(w, map[string]any{"issues": descs})
}

// handleIssueSelect changes the active issue. Rejected while running.
func (s *Server) handleIssueSelect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IssueRef string `json:"issue_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.IssueRef == "" {
		JSONError(w, "body must carry issue_ref", http.StatusBadRequest)
		return
	}
	ref, err := issue.ParseRef(body.IssueRef)
	if err != nil {
		JSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.orch.SetIssue(ref); err != nil {
		HandleError(w, err)
		return
	}
	s.publisher.Publish(events.New(events.EventState, ref.String(), map[string]any{"selected": true}))
	JSONResponse(w, map[string]any{"selected": ref.String()})
}

// handleIssueStatus manually overrides the phase. Rejected while running.
func (s *Server) handleIssueStatus(w http.ResponseWriter, r *http.Request) {
	if s.orch.Status().Running {
		HandleError(w, jeeveserrors.ErrRunActive("override the phase"))
		return
	}
	ref := s.orch.ActiveIssue()
	if ref == nil {
		JSONError(w, "no issue selected", http.StatusBadRequest)
		return
	}
	var body struct {
		Phase string `json:"phase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Phase == "" {
		JSONError(w, "body must carry phase", http.StatusBadRequest)
		return
	}

	st, err := s.store.Load(*ref)
	if err != nil {
		HandleError(w, err)
		return
	}
	wf, err := s.catalog.Load(st.Workflow)
	if err != nil {
		HandleError(w, err)
		return
	}
	if wf.Phase(body.Phase) == nil {
		JSONError(w, "workflow "+st.Workflow+" has no phase "+body.Phase, http.StatusBadRequest)
		return
	}
	st.Phase = body.Phase
	if err := s.store.Save(st); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]any{"phase": st.Phase})
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
