package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(filepath.Join(t.TempDir(), "workflows"))
	require.NoError(t, err)
	return c
}

func TestCatalogSeedsDefault(t *testing.T) {
	c := newTestCatalog(t)

	w, err := c.Load("default")
	require.NoError(t, err)
	assert.Equal(t, "default", w.Name)

	list, err := c.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "default", list[0].Name)
}

func TestCatalogSaveAndLoad(t *testing.T) {
	c := newTestCatalog(t)

	require.NoError(t, c.Save("linear", []byte(linearDoc)))
	w, err := c.Load("linear")
	require.NoError(t, err)
	assert.Equal(t, "linear", w.Name)
}

func TestCatalogSaveRejectsInvalid(t *testing.T) {
	c := newTestCatalog(t)

	err := c.Save("bad", []byte("name: bad\nversion: 1\nstart: x\nphases: {}\n"))
	require.Error(t, err)

	_, err = c.Load("bad")
	assert.Error(t, err, "invalid documents are never written")
}

func TestCatalogDuplicate(t *testing.T) {
	c := newTestCatalog(t)

	require.NoError(t, c.Duplicate("default", "mine"))
	w, err := c.Load("mine")
	require.NoError(t, err)
	assert.Equal(t, "mine", w.Name)

	// Duplicating onto an existing name is rejected.
	assert.Error(t, c.Duplicate("default", "mine"))
}

func TestCatalogDelete(t *testing.T) {
	c := newTestCatalog(t)

	require.NoError(t, c.Duplicate("default", "scratch"))
	require.NoError(t, c.Delete("scratch"))
	_, err := c.Load("scratch")
	assert.Error(t, err)

	assert.Error(t, c.Delete("default"), "builtin default is protected")
	assert.Error(t, c.Delete("never-existed"))
}

func TestCatalogRejectsTraversalNames(t *testing.T) {
	c := newTestCatalog(t)

	for _, name := range []string{"", "../evil", "a/b", "..", `a\b`} {
		_, err := c.Load(name)
		assert.Error(t, err, name)
	}
}

func TestCatalogListSkipsUnparseable(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, os.WriteFile(filepath.Join(c.dir, "junk.yaml"), []byte("{{nope"), 0644))

	list, err := c.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
}
