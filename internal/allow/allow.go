// Package allow checks changed paths against phase write allowlists.
package allow

import (
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Check returns the subset of changedPaths that matches none of the globs,
// sorted for stable reporting. Globs use shell semantics including ** for
// recursive matches. Invalid globs match nothing.
func Check(changedPaths []string, allowGlobs []string) []string {
	var violations []string
	for _, path := range changedPaths {
		path = filepath.ToSlash(path)
		allowed := false
		for _, glob := range allowGlobs {
			ok, err := doublestar.Match(glob, path)
			if err != nil {
				continue
			}
			if ok {
				allowed = true
				break
			}
		}
		if !allowed {
			violations = append(violations, path)
		}
	}
	sort.Strings(violations)
	return violations
}
