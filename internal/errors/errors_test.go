package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		category Category
		severity Severity
	}{
		{"precondition", CodeNotInitialized, CategoryPrecondition, SeverityWarning},
		{"guard", CodeUncommittedChanges, CategoryGuard, SeverityWarning},
		{"external", CodeRemoteUnreachable, CategoryExternal, SeverityError},
		{"consistency", CodeEmbedderMismatch, CategoryConsistency, SeverityFatal},
		{"internal", CodeOperationFailed, CategoryInternal, SeverityError},
		{"unknown code defaults to internal", "SOMETHING_ELSE", CategoryInternal, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
		})
	}
}

func TestError_FormatsCodeAndMessage(t *testing.T) {
	err := New(CodeBranchNotFound, "branch feat/x not found", nil)
	assert.Equal(t, "[BRANCH_NOT_FOUND] branch feat/x not found", err.Error())
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(CodeMergeConflict, "documents table has conflicts", nil)
	b := New(CodeMergeConflict, "different message", nil)
	c := New(CodeNoChanges, "clean", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestUnwrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("exit status 1: permission denied")
	err := New(CodeAuthenticationFailed, "push rejected", cause)

	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestWrap_PassesThroughSyncError(t *testing.T) {
	inner := New(CodeUncommittedChanges, "1 modified document", nil)
	wrapped := Wrap(CodeOperationFailed, inner)

	// The original code must win; wrapping must not launder guard errors
	// into generic failures.
	assert.Equal(t, CodeUncommittedChanges, wrapped.Code)
	assert.Same(t, inner, wrapped)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	var se *SyncError = Wrap(CodeOperationFailed, nil)
	assert.Nil(t, se)
}

func TestWithDetailAndSuggestion_Chain(t *testing.T) {
	err := New(CodeUncommittedChanges, "local changes exist", nil).
		WithDetail("new", "0").
		WithDetail("modified", "1").
		WithDetail("deleted", "0").
		WithSuggestion("commit local changes first").
		WithSuggestion("or pull with force=true to discard them")

	require.Len(t, err.Details, 3)
	assert.Equal(t, "1", err.Details["modified"])
	require.Len(t, err.Suggestions, 2)
}

func TestWithOperation_AnnotatesContext(t *testing.T) {
	err := WithOperation(New(CodeRemoteUnreachable, "dial tcp: timeout", nil), "pull", "main", "abc123")

	assert.Equal(t, "pull", err.Details["operation"])
	assert.Equal(t, "main", err.Details["branch"])
	assert.Equal(t, "abc123", err.Details["commit"])
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, "", GetCode(nil))
	assert.Equal(t, CodeNoChanges, GetCode(New(CodeNoChanges, "clean", nil)))
	assert.Equal(t, CodeOperationFailed, GetCode(fmt.Errorf("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeRemoteUnreachable, "timeout", nil)))
	assert.False(t, IsRetryable(New(CodeMergeConflict, "conflicts", nil)))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}

func TestToEnvelope_FailureShape(t *testing.T) {
	err := New(CodeUncommittedChanges, "local changes exist", nil).
		WithDetail("modified", "1").
		WithSuggestion("commit first")

	env := ToEnvelope(err)
	assert.False(t, env.Success)
	assert.Equal(t, CodeUncommittedChanges, env.Error)
	assert.Equal(t, "local changes exist", env.Message)
	assert.Equal(t, "1", env.Details["modified"])
	assert.Equal(t, []string{"commit first"}, env.Suggestions)
}

func TestToEnvelope_ForeignError(t *testing.T) {
	env := ToEnvelope(fmt.Errorf("disk on fire"))
	assert.False(t, env.Success)
	assert.Equal(t, CodeOperationFailed, env.Error)
}

func TestFormatForCLI_IncludesDetailsAndCode(t *testing.T) {
	err := New(CodeUncommittedChanges, "local changes exist", nil).
		WithDetail("modified", "1").
		WithSuggestion("commit first")

	out := FormatForCLI(err)
	assert.Contains(t, out, "Error: local changes exist")
	assert.Contains(t, out, "modified: 1")
	assert.Contains(t, out, "Suggestion: commit first")
	assert.Contains(t, out, "[UNCOMMITTED_CHANGES]")
}
