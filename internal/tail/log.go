package tail

import (
	"os"
	"strings"
	"sync"
	"time"
)

// LogWatcher incrementally tails a line-oriented log file. It tracks a byte
// cursor plus the last observed (mtime, size) and detects truncation or
// replacement (size regressed) and non-existence (cursor reset).
type LogWatcher struct {
	mu     sync.Mutex
	path   string
	mtime  time.Time
	size   int64
	cursor int64
}

// NewLogWatcher creates a watcher for path. The file need not exist yet.
func NewLogWatcher(path string) *LogWatcher {
	return &LogWatcher{path: path}
}

// Path returns the watched path.
func (w *LogWatcher) Path() string {
	return w.path
}

// NewLines returns the complete lines appended since the previous call and
// whether anything changed. Truncation resets the cursor to the start so
// the post-truncation content is returned in full.
func (w *LogWatcher) NewLines() ([]string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		// Missing file: reset so a recreated log replays from the top.
		w.mtime, w.size, w.cursor = time.Time{}, 0, 0
		return nil, false
	}

	if info.Size() < w.size {
		w.cursor = 0
	}
	if info.ModTime().Equal(w.mtime) && info.Size() == w.size && w.cursor == w.size {
		return nil, false
	}
	w.mtime = info.ModTime()
	w.size = info.Size()

	lines, consumed := w.readFrom(w.cursor)
	w.cursor += consumed
	return lines, len(lines) > 0
}

// AllLines returns up to max trailing lines of the file and advances the
// cursor to the end, so the next NewLines call yields only fresh content.
func (w *LogWatcher) AllLines(max int) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		w.mtime, w.size, w.cursor = time.Time{}, 0, 0
		return nil
	}

	lines, consumed := w.readFrom(0)
	w.mtime = info.ModTime()
	w.size = info.Size()
	w.cursor = consumed

	if max > 0 && len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	return lines
}

// Reset rewinds the cursor so the next NewLines call replays the file.
func (w *LogWatcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mtime, w.size, w.cursor = time.Time{}, 0, 0
}

// readFrom reads complete lines starting at offset. It returns the lines
// and the number of bytes consumed; a trailing partial line is left for the
// next call.
func (w *LogWatcher) readFrom(offset int64) ([]string, int64) {
	data, err := os.ReadFile(w.path)
	if err != nil || int64(len(data)) <= offset {
		return nil, 0
	}
	chunk := data[offset:]

	end := strings.LastIndexByte(string(chunk), '\n')
	if end < 0 {
		return nil, 0
	}
	complete := string(chunk[:end])
	if complete == "" {
		return []string{""}, int64(end) + 1
	}
	return strings.Split(complete, "\n"), int64(end) + 1
}
