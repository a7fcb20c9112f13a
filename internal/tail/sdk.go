package tail

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// Update carries the deltas observed by one SDKWatcher poll, plus enough
// session context for an observer to frame them.
type Update struct {
	Messages  []Message
	ToolCalls []ToolCall

	// MessageOffset is the index of Messages[0] within the full document.
	MessageOffset int
	// TotalMessages is the document's message count after this update.
	TotalMessages int

	SessionID string
	Ended     bool
	Success   bool
	Changed   bool
}

// SDKWatcher incrementally consumes the structured sdk-output.json an agent
// writes. It records the last seen (mtime, size) and per-array cursors so
// each poll emits only new messages and tool calls. Malformed JSON is
// swallowed: the watcher reports no change and leaves its cursors alone.
type SDKWatcher struct {
	mu    sync.Mutex
	path  string
	mtime time.Time
	size  int64

	msgIdx  int
	toolIdx int
}

// NewSDKWatcher creates a watcher for path.
func NewSDKWatcher(path string) *SDKWatcher {
	return &SDKWatcher{path: path}
}

// Path returns the watched path.
func (w *SDKWatcher) Path() string {
	return w.path
}

// Updates parses the document at most once per change and returns message
// and tool-call slices past the recorded cursors. An unchanged (mtime,
// size) pair short-circuits without reading the file.
func (w *SDKWatcher) Updates() Update {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		return Update{}
	}
	if info.ModTime().Equal(w.mtime) && info.Size() == w.size {
		return Update{}
	}

	doc, ok := w.read()
	if !ok {
		return Update{}
	}
	w.mtime = info.ModTime()
	w.size = info.Size()

	up := Update{
		MessageOffset: w.msgIdx,
		TotalMessages: len(doc.Messages),
		SessionID:     doc.SessionID,
		Ended:         doc.EndedAt != "",
		Success:       doc.Success,
		Changed:       true,
	}
	if w.msgIdx < len(doc.Messages) {
		up.Messages = append(up.Messages, doc.Messages[w.msgIdx:]...)
	}
	if w.toolIdx < len(doc.ToolCalls) {
		up.ToolCalls = append(up.ToolCalls, doc.ToolCalls[w.toolIdx:]...)
	}
	w.msgIdx = len(doc.Messages)
	w.toolIdx = len(doc.ToolCalls)
	return up
}

// Reset zeros the cursors so the next Updates call re-emits the whole
// document. Used when an observer reconnects or the active issue changes.
func (w *SDKWatcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mtime, w.size = time.Time{}, 0
	w.msgIdx, w.toolIdx = 0, 0
}

// Snapshot returns the full parsed document, or nil when the file is
// missing or malformed.
func (w *SDKWatcher) Snapshot() *Document {
	w.mu.Lock()
	defer w.mu.Unlock()
	doc, ok := w.read()
	if !ok {
		return nil
	}
	return doc
}

// read parses the file, tolerating torn writes: gjson validity is checked
// before unmarshalling so a partially flushed document never surfaces an
// error into the polling loop.
func (w *SDKWatcher) read() (*Document, bool) {
	data, err := os.ReadFile(w.path)
	if err != nil || !gjson.ValidBytes(data) {
		return nil, false
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	return &doc, true
}
