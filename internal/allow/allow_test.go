package allow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		changed []string
		globs   []string
		want    []string
	}{
		{
			name:    "state dir only allowlist",
			changed: []string{".jeeves/issue.json", "src/main.py"},
			globs:   []string{".jeeves/*"},
			want:    []string{"src/main.py"},
		},
		{
			name:    "everything allowed",
			changed: []string{"a/b/c.go", "README.md"},
			globs:   []string{"**"},
			want:    nil,
		},
		{
			name:    "doublestar matches nested paths",
			changed: []string{"docs/design/plan.md", "src/x.go"},
			globs:   []string{"docs/**"},
			want:    []string{"src/x.go"},
		},
		{
			name:    "single star does not cross separators",
			changed: []string{".jeeves/sub/deep.json"},
			globs:   []string{".jeeves/*"},
			want:    []string{".jeeves/sub/deep.json"},
		},
		{
			name:    "empty allowlist flags everything",
			changed: []string{"b.txt", "a.txt"},
			globs:   nil,
			want:    []string{"a.txt", "b.txt"},
		},
		{
			name:    "no changes",
			changed: nil,
			globs:   []string{"**"},
			want:    nil,
		},
		{
			name:    "invalid glob matches nothing",
			changed: []string{"a.txt"},
			globs:   []string{"[unclosed"},
			want:    []string{"a.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Check(tt.changed, tt.globs))
		})
	}
}
