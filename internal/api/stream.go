package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jeevesbot/jeeves/internal/issue"
	"github.com/jeevesbot/jeeves/internal/tail"
)

// initialLogLines is the backlog delivered with the connect-time state event.
const initialLogLines = 500

// streamConn wraps one SSE connection. Write failures flip broken; the
// polling loop exits silently on the next send.
type streamConn struct {
	w      http.ResponseWriter
	f      http.Flusher
	broken bool
}

// send emits one named event. Errors mark the connection broken.
func (c *streamConn) send(event string, data any) {
	if c.broken {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		c.broken = true
		return
	}
	c.f.Flush()
}

// sdkCursor tracks what has been announced on one connection so session
// markers fire exactly once per session.
type sdkCursor struct {
	sessionID string
	ended     bool
}

// emit renders an SDK delta as the ordered event sequence observers expect.
// status is the end-of-session outcome attached to sdk-complete.
func (cur *sdkCursor) emit(c *streamConn, up tail.Update, status string) {
	if !up.Changed {
		return
	}
	if up.SessionID != "" && up.SessionID != cur.sessionID {
		cur.sessionID = up.SessionID
		cur.ended = false
		c.send("sdk-init", map[string]any{"session_id": up.SessionID})
	}
	for i, msg := range up.Messages {
		c.send("sdk-message", map[string]any{
			"message": msg,
			"index":   up.MessageOffset + i,
			"total":   up.TotalMessages,
		})
	}
	for _, tc := range up.ToolCalls {
		c.send("sdk-tool-start", map[string]any{"tool_call": tc})
		c.send("sdk-tool-complete", map[string]any{"tool_call": tc})
	}
	if up.Ended && !cur.ended {
		cur.ended = true
		c.send("sdk-complete", map[string]any{"status": status})
	}
}

// sdkOutcome classifies a finished session as success or error. A finished
// run record is authoritative; a replay with no run behind it falls back to
// the document's own success flag.
func (s *Server) sdkOutcome(up tail.Update) string {
	rec := s.orch.Status()
	if !rec.Running && !rec.EndedAt.IsZero() {
		if rec.LastError != "" {
			return "error"
		}
		return "success"
	}
	if up.Success {
		return "success"
	}
	return "error"
}

// handleStream serves the long-lived SSE event channel. Each connection
// holds its own watchers and cursors; disconnects are silent.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		JSONError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// Padding pushes the response through buffering proxies.
	fmt.Fprint(w, ":\n\n")
	flusher.Flush()

	if s.metrics != nil {
		s.metrics.StreamConnections.Inc()
		defer s.metrics.StreamConnections.Dec()
	}

	connID := uuid.NewString()
	s.logger.Debug("stream client connected", "conn", connID, "remote", r.RemoteAddr)
	defer s.logger.Debug("stream client disconnected", "conn", connID)

	conn := &streamConn{w: w, f: flusher}

	var (
		refStr string
		logs   *tail.LogWatcher
		sdk    *tail.SDKWatcher
		cursor sdkCursor
	)

	attach := func(ref *issue.Ref) {
		cursor = sdkCursor{}
		if ref == nil {
			refStr, logs, sdk = "", nil, nil
			return
		}
		dir := s.store.Dir(*ref)
		refStr = ref.String()
		logs = tail.NewLogWatcher(filepath.Join(dir, issue.LogFileName))
		sdk = tail.NewSDKWatcher(filepath.Join(dir, issue.SDKOutputFileName))
	}
	attach(s.orch.ActiveIssue())

	// Connect-time state: snapshot plus log backlog, then the SDK replay.
	snap := s.snapshot()
	lastSig := snap.signature()
	var backlog []string
	if logs != nil {
		backlog = logs.AllLines(initialLogLines)
	}
	conn.send("state", map[string]any{"snapshot": snap, "logs": backlog})
	if sdk != nil {
		up := sdk.Updates()
		cursor.emit(conn, up, s.sdkOutcome(up))
	}

	logTicker := time.NewTicker(s.logPoll)
	defer logTicker.Stop()
	stateTicker := time.NewTicker(s.statePoll)
	defer stateTicker.Stop()
	heartbeat := time.NewTicker(s.heartbeatEach)
	defer heartbeat.Stop()

	for !conn.broken {
		select {
		case <-r.Context().Done():
			return

		case <-logTicker.C:
			// The active issue can change mid-connection; reset and tell the
			// observer to clear its view.
			if active := s.orch.ActiveIssue(); activeRefString(active) != refStr {
				attach(active)
				conn.send("logs", map[string]any{"reset": true, "lines": []string{}})
				continue
			}
			if logs != nil {
				if lines, changed := logs.NewLines(); changed && len(lines) > 0 {
					conn.send("logs", map[string]any{"lines": lines})
				}
			}
			if sdk != nil {
				up := sdk.Updates()
				cursor.emit(conn, up, s.sdkOutcome(up))
			}

		case <-stateTicker.C:
			snap := s.snapshot()
			if sig := snap.signature(); sig != lastSig {
				lastSig = sig
				conn.send("state", map[string]any{"snapshot": snap})
			}

		case <-heartbeat.C:
			conn.send("heartbeat", map[string]any{"time": time.Now().Format(time.RFC3339)})
		}
	}
}

func activeRefString(ref *issue.Ref) string {
	if ref == nil {
		return ""
	}
	return ref.String()
}
