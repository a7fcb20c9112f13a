package api

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeevesbot/jeeves/internal/issue"
	"github.com/jeevesbot/jeeves/internal/tail"
	"github.com/jeevesbot/jeeves/internal/util"
)

// sseEvent is one named event with its JSON payload line.
type sseEvent struct {
	name string
	data string
}

// readEvents consumes the SSE stream until an event named want has been
// seen or the deadline passes, returning the events in arrival order.
func readEvents(t *testing.T, body *bufio.Reader, want string, within time.Duration) []sseEvent {
	t.Helper()
	var seen []sseEvent
	var pending string
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		line, err := body.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			pending = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && pending != "":
			seen = append(seen, sseEvent{name: pending, data: strings.TrimPrefix(line, "data: ")})
			if pending == want {
				return seen
			}
			pending = ""
		}
	}
	return seen
}

func eventNames(events []sseEvent) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.name
	}
	return names
}

func TestStreamInitialReplay(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.orch.SetIssue(f.ref))

	dir := f.store.Dir(f.ref)
	require.NoError(t, os.WriteFile(filepath.Join(dir, issue.LogFileName), []byte("line-1\nline-2\n"), 0644))
	require.NoError(t, util.AtomicWriteJSON(filepath.Join(dir, issue.SDKOutputFileName), &tail.Document{
		SessionID: "s1",
		StartedAt: "2026-08-24T10:00:00Z",
		EndedAt:   "2026-08-24T10:01:00Z",
		Success:   true,
		Messages: []tail.Message{
			{Type: "assistant", Content: "first"},
			{Type: "assistant", Content: "second"},
		},
		ToolCalls: []tail.ToolCall{{Name: "Bash", ToolUseID: "t1"}},
	}, 0644))

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	seen := readEvents(t, bufio.NewReader(resp.Body), "sdk-complete", 3*time.Second)
	require.NotEmpty(t, seen)

	// Connect-time order: state snapshot, then the full SDK replay.
	assert.Equal(t,
		[]string{"state", "sdk-init", "sdk-message", "sdk-message", "sdk-tool-start", "sdk-tool-complete", "sdk-complete"},
		eventNames(seen))

	assert.Contains(t, seen[1].data, `"session_id":"s1"`)
	last := seen[len(seen)-1]
	assert.Contains(t, last.data, `"status":"success"`)
	assert.NotContains(t, last.data, `"success":`)
}

func TestStreamSDKCompleteErrorStatus(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.orch.SetIssue(f.ref))

	// An ended session whose document reports failure.
	require.NoError(t, util.AtomicWriteJSON(filepath.Join(f.store.Dir(f.ref), issue.SDKOutputFileName), &tail.Document{
		SessionID: "s2",
		StartedAt: "2026-08-24T10:00:00Z",
		EndedAt:   "2026-08-24T10:01:00Z",
		Success:   false,
		Messages:  []tail.Message{{Type: "assistant", Content: "gave up"}},
	}, 0644))

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	seen := readEvents(t, bufio.NewReader(resp.Body), "sdk-complete", 3*time.Second)
	require.NotEmpty(t, seen)
	assert.Contains(t, seen[len(seen)-1].data, `"status":"error"`)
}

func TestStreamEmitsNewLogLines(t *testing.T) {
	f := newAPIFixture(t)
	f.srv.logPoll = 20 * time.Millisecond
	require.NoError(t, f.orch.SetIssue(f.ref))

	dir := f.store.Dir(f.ref)
	logPath := filepath.Join(dir, issue.LogFileName)
	require.NoError(t, os.WriteFile(logPath, []byte("old\n"), 0644))

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	// Drain the connect-time state event first.
	readEvents(t, reader, "state", 2*time.Second)

	fh, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = fh.WriteString("fresh-line\n")
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	seen := readEvents(t, reader, "logs", 3*time.Second)
	assert.Contains(t, eventNames(seen), "logs")
}

func TestStreamHeartbeat(t *testing.T) {
	f := newAPIFixture(t)
	f.srv.heartbeatEach = 50 * time.Millisecond

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	seen := readEvents(t, bufio.NewReader(resp.Body), "heartbeat", 3*time.Second)
	assert.Contains(t, eventNames(seen), "heartbeat")
}
