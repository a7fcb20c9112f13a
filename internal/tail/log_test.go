package tail

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(content)
	require.NoError(t, err)
}

func TestNewLinesIncremental(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-run.log")
	w := NewLogWatcher(path)

	writeLog(t, path, "one\ntwo\n")
	lines, changed := w.NewLines()
	assert.True(t, changed)
	assert.Equal(t, []string{"one", "two"}, lines)

	lines, changed = w.NewLines()
	assert.False(t, changed)
	assert.Empty(t, lines)

	appendLog(t, path, "three\n")
	lines, changed = w.NewLines()
	assert.True(t, changed)
	assert.Equal(t, []string{"three"}, lines)
}

func TestNewLinesMissingFile(t *testing.T) {
	w := NewLogWatcher(filepath.Join(t.TempDir(), "absent.log"))
	lines, changed := w.NewLines()
	assert.False(t, changed)
	assert.Empty(t, lines)
}

func TestNewLinesTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-run.log")
	w := NewLogWatcher(path)

	writeLog(t, path, "old-one\nold-two\nold-three\n")
	_, changed := w.NewLines()
	require.True(t, changed)

	// Overwrite with a shorter file, as the agent does each iteration.
	writeLog(t, path, "fresh\n")
	lines, changed := w.NewLines()
	assert.True(t, changed)
	assert.Equal(t, []string{"fresh"}, lines)
}

func TestNewLinesHoldsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-run.log")
	w := NewLogWatcher(path)

	writeLog(t, path, "complete\npartial")
	lines, _ := w.NewLines()
	assert.Equal(t, []string{"complete"}, lines)

	appendLog(t, path, " now done\n")
	lines, changed := w.NewLines()
	assert.True(t, changed)
	assert.Equal(t, []string{"partial now done"}, lines)
}

func TestAllLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-run.log")
	w := NewLogWatcher(path)

	writeLog(t, path, "a\nb\nc\nd\n")
	lines := w.AllLines(2)
	assert.Equal(t, []string{"c", "d"}, lines)

	// Cursor now sits at the end: no replays.
	got, changed := w.NewLines()
	assert.False(t, changed)
	assert.Empty(t, got)

	appendLog(t, path, "e\n")
	got, changed = w.NewLines()
	assert.True(t, changed)
	assert.Equal(t, []string{"e"}, got)
}

func TestReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-run.log")
	w := NewLogWatcher(path)

	writeLog(t, path, "x\ny\n")
	_, _ = w.NewLines()

	w.Reset()
	lines, changed := w.NewLines()
	assert.True(t, changed)
	assert.Equal(t, []string{"x", "y"}, lines)
}
