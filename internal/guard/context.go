// Package guard evaluates transition guard expressions against a state
// context. Guards are small boolean expressions over dotted paths into the
// issue state document, e.g. "status.approved == true and status.ci".
package guard

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Context is the state document a guard resolves paths against. It holds a
// single JSON rendering of the issue state so repeated lookups during one
// transition sweep never re-marshal.
type Context struct {
	doc string
}

// FromJSON wraps an already-serialized state document.
func FromJSON(doc []byte) *Context {
	return &Context{doc: string(doc)}
}

// FromValue marshals v into a context document.
func FromValue(v any) (*Context, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal guard context: %w", err)
	}
	return &Context{doc: string(data)}, nil
}

// Resolve returns the value at a dotted path. Missing paths resolve to a
// null result.
func (c *Context) Resolve(path string) gjson.Result {
	if c == nil {
		return gjson.Result{}
	}
	return gjson.Get(c.doc, path)
}

// JSON returns the raw state document.
func (c *Context) JSON() string {
	if c == nil {
		return ""
	}
	return c.doc
}

// truthy reports whether a resolved value counts as true in a bare-path
// guard. Null, false, zero, and the empty string are falsy.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null:
		return false
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	default:
		// Objects and arrays: present means true.
		return r.Exists()
	}
}
