package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) *Context {
	t.Helper()
	ctx, err := FromValue(map[string]any{
		"phase": "review",
		"status": map[string]any{
			"approved":     true,
			"needsChanges": false,
			"attempts":     3,
			"verdict":      "pass",
			"flag":         "true",
		},
	})
	require.NoError(t, err)
	return ctx
}

func TestEvaluateEmptyExpression(t *testing.T) {
	ok, err := Evaluate("", testContext(t))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate("   ", testContext(t))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateComparisons(t *testing.T) {
	ctx := testContext(t)

	tests := []struct {
		expr string
		want bool
	}{
		{"status.approved == true", true},
		{"status.approved == false", false},
		{"status.approved != false", true},
		{"status.needsChanges == true", false},
		{"status.attempts == 3", true},
		{"status.attempts != 3", false},
		{"status.attempts == 4", false},
		{"status.verdict == pass", true},
		{"status.verdict == 'pass'", true},
		{"status.verdict == \"fail\"", false},
		{"phase == review", true},
	}

	for _, tt := range tests {
		ok, err := Evaluate(tt.expr, ctx)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, ok, tt.expr)
	}
}

func TestEvaluateBarePathTruthiness(t *testing.T) {
	ctx := testContext(t)

	tests := []struct {
		expr string
		want bool
	}{
		{"status.approved", true},
		{"status.needsChanges", false},
		{"status.attempts", true},
		{"status.verdict", true},
		{"status.missing", false},
		{"status", true},
	}

	for _, tt := range tests {
		ok, err := Evaluate(tt.expr, ctx)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, ok, tt.expr)
	}
}

func TestEvaluateMissingPathIsNull(t *testing.T) {
	ctx := testContext(t)

	ok, err := Evaluate("status.nonexistent == null", ctx)
	require.NoError(t, err)
	assert.True(t, ok, "== null on a missing path is true")

	ok, err = Evaluate("status.approved == null", ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Evaluate("status.nonexistent != null", ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateBooleanKeywordCoercion(t *testing.T) {
	ctx := testContext(t)

	// status.flag is the string "true"; a bareword true literal coerces.
	ok, err := Evaluate("status.flag == true", ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// Quoted "true" against an actual bool also coerces.
	ok, err = Evaluate("status.approved == \"true\"", ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluatePrecedence(t *testing.T) {
	ctx := testContext(t)

	// and binds tighter than or: false or (true and true) = true.
	ok, err := Evaluate("status.needsChanges or status.approved and status.attempts == 3", ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// (false and true) or false = false.
	ok, err = Evaluate("status.needsChanges and status.approved or status.missing", ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateSyntaxErrors(t *testing.T) {
	ctx := testContext(t)

	for _, expr := range []string{
		"status.approved ==",
		"== true",
		"status.approved = true",
		"status.approved == 'unterminated",
		"status.approved && status.attempts",
		"and",
		"status.approved true",
	} {
		_, err := Evaluate(expr, ctx)
		assert.Error(t, err, expr)
	}
}

func TestEvaluateNilContext(t *testing.T) {
	ok, err := Evaluate("anything.at.all", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Evaluate("anything == null", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}
