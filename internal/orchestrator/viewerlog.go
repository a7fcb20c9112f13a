package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// viewerLog is the append-only run log observers tail. A new run truncates
// the previous run's log.
type viewerLog struct {
	mu sync.Mutex
	f  *os.File
}

func newViewerLog(path string) (*viewerLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &viewerLog{f: f}, nil
}

// Raw writes one line verbatim, typically forwarded child output.
func (v *viewerLog) Raw(line string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.f, line)
}

// Info writes a timestamped supervisor line.
func (v *viewerLog) Info(msg string) {
	v.stamped("INFO", msg)
}

// Error writes a timestamped supervisor error line.
func (v *viewerLog) Error(msg string) {
	v.stamped("ERROR", msg)
}

// Banner writes an iteration separator.
func (v *viewerLog) Banner(title string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.f, "\n=== %s ===\n", title)
}

func (v *viewerLog) stamped(level, msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.f, "%s [%s] %s\n", time.Now().Format("15:04:05"), level, msg)
}

func (v *viewerLog) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.f.Close()
}
