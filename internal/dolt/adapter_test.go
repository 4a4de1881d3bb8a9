package dolt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/model"
)

func TestCurrentBranch(t *testing.T) {
	fake := (&fakeRunner{}).on("active_branch", jsonRows(`{"branch":"main"}`))
	a := NewAdapter(fake)

	branch, err := a.CurrentBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestCurrentBranch_NotInitialized(t *testing.T) {
	fake := (&fakeRunner{}).on("active_branch", Result{Stdout: `{"rows":[]}`})
	a := NewAdapter(fake)

	_, err := a.CurrentBranch(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotInitialized, errors.GetCode(err))
}

func TestStatus_SplitsStagedAndModified(t *testing.T) {
	fake := (&fakeRunner{}).
		on("active_branch", jsonRows(`{"branch":"main"}`)).
		on("dolt_status", jsonRows(
			`{"table_name":"documents","staged":1,"status":"modified"},`+
				`{"table_name":"dirty_documents","staged":0,"status":"modified"}`))
	a := NewAdapter(fake)

	st, err := a.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "main", st.Branch)
	assert.Equal(t, []string{"documents"}, st.StagedTables)
	assert.Equal(t, []string{"dirty_documents"}, st.ModifiedTables)
	assert.False(t, st.Clean())
}

func TestCommit_ReturnsNewHead(t *testing.T) {
	fake := (&fakeRunner{}).
		on("commit -m", Result{Stdout: "commit abc123"}).
		on("dolt_log", jsonRows(`{"commit_hash":"abc123"}`))
	a := NewAdapter(fake)

	head, err := a.Commit(context.Background(), "add D3")
	require.NoError(t, err)
	assert.Equal(t, "abc123", head)
}

func TestCommit_NothingToCommit(t *testing.T) {
	tests := []struct {
		name   string
		result Result
	}{
		{"nonzero exit", Result{Stderr: "nothing to commit, working tree clean", ExitCode: 1}},
		{"zero exit", Result{Stdout: "nothing to commit"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := (&fakeRunner{}).on("commit -m", tt.result)
			a := NewAdapter(fake)

			_, err := a.Commit(context.Background(), "msg")
			require.Error(t, err)
			assert.Equal(t, errors.CodeNoChanges, errors.GetCode(err))
		})
	}
}

func TestMapCLIError_Classification(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		stderr   string
		wantCode string
	}{
		{"auth", []string{"push"}, "error: authentication failed for remote", errors.CodeAuthenticationFailed},
		{"remote", []string{"push"}, "error: connection refused", errors.CodeRemoteUnreachable},
		{"unknown remote", []string{"fetch"}, "fatal: unknown remote 'origin'", errors.CodeRemoteUnreachable},
		{"rejected", []string{"push"}, "error: non-fast-forward update rejected", errors.CodeRemoteRejected},
		{"branch", []string{"checkout"}, "error: no branch named 'feat'", errors.CodeBranchNotFound},
		{"commit", []string{"reset"}, "error: invalid commit ref", errors.CodeCommitNotFound},
		{"conflict", []string{"merge"}, "merge conflict in documents", errors.CodeMergeConflict},
		{"init twice", []string{"init"}, "repository already exists", errors.CodeAlreadyInitialized},
		{"fallback", []string{"sql"}, "something unexpected", errors.CodeOperationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapCLIError(tt.args, Result{Stderr: tt.stderr, ExitCode: 1})
			assert.Equal(t, tt.wantCode, err.Code)
		})
	}
}

func TestMerge_CleanReturnsHead(t *testing.T) {
	fake := (&fakeRunner{}).
		on("merge feat", Result{Stdout: "Everything up-to-date"}).
		on("dolt_log", jsonRows(`{"commit_hash":"head9"}`))
	a := NewAdapter(fake)

	res, err := a.Merge(context.Background(), "feat")
	require.NoError(t, err)
	assert.False(t, res.HasConflicts)
	assert.Equal(t, "head9", res.MergeCommit)
}

func TestMerge_ConflictsAreAResultNotAnError(t *testing.T) {
	fake := (&fakeRunner{}).on("merge feat",
		Result{Stderr: "CONFLICT (content): documents", ExitCode: 1})
	a := NewAdapter(fake)

	res, err := a.Merge(context.Background(), "feat")
	require.NoError(t, err)
	assert.True(t, res.HasConflicts)
	assert.Empty(t, res.MergeCommit)
}

func TestPull_FastForward(t *testing.T) {
	fake := (&fakeRunner{}).on("pull origin main", Result{Stdout: "Fast-forward\nUpdating abc..def"})
	a := NewAdapter(fake)

	res, err := a.Pull(context.Background(), "origin", "main")
	require.NoError(t, err)
	assert.True(t, res.FastForward)
	assert.False(t, res.HasConflicts)
}

func TestHasConflicts(t *testing.T) {
	fake := (&fakeRunner{}).on("dolt_conflicts",
		jsonRows(`{"table":"documents","num_conflicts":2}`))
	a := NewAdapter(fake)

	has, err := a.HasConflicts(context.Background())
	require.NoError(t, err)
	assert.True(t, has)
}

func TestResolveConflicts_RejectsUnknownStrategy(t *testing.T) {
	a := NewAdapter(&fakeRunner{})

	err := a.ResolveConflicts(context.Background(), "documents", "flip-coin")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestCheckout_CreateFlag(t *testing.T) {
	fake := &fakeRunner{}
	a := NewAdapter(fake)

	require.NoError(t, a.Checkout(context.Background(), "feat", true))
	assert.Equal(t, "checkout -b feat", fake.lastCall())

	require.NoError(t, a.Checkout(context.Background(), "main", false))
	assert.Equal(t, "checkout main", fake.lastCall())
}

func TestTableDiff_MapsRows(t *testing.T) {
	fake := (&fakeRunner{}).on("dolt_diff", jsonRows(
		`{"diff_type":"added","doc_id":"D3","collection_name":"vmrag_main",`+
			`"to_content_hash":"h3","to_content":"new body","to_title":"X",`+
			`"to_metadata":"{\"author\":\"Ada\"}"},`+
			`{"diff_type":"removed","doc_id":"D1","collection_name":"vmrag_main",`+
			`"from_content_hash":"h1"}`))
	a := NewAdapter(fake)

	diffs, err := a.TableDiff(context.Background(), "c1", "c2", "documents", "vmrag_main")
	require.NoError(t, err)
	require.Len(t, diffs, 2)

	assert.Equal(t, model.DiffAdded, diffs[0].Type)
	assert.Equal(t, "D3", diffs[0].DocID)
	assert.Equal(t, "new body", diffs[0].ToContent)
	assert.Equal(t, "Ada", diffs[0].Metadata["author"])

	assert.Equal(t, model.DiffRemoved, diffs[1].Type)
	assert.Equal(t, "h1", diffs[1].FromHash)

	// The collection filter must appear in the generated SQL.
	assert.Contains(t, fake.lastCall(), "'vmrag_main'")
}

func TestLog_Limit(t *testing.T) {
	fake := (&fakeRunner{}).on("dolt_log", jsonRows(
		`{"commit_hash":"c2","committer":"ada","message":"second","date":"2026-01-02"},`+
			`{"commit_hash":"c1","committer":"ada","message":"first","date":"2026-01-01"}`))
	a := NewAdapter(fake)

	commits, err := a.Log(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "c2", commits[0].Hash)
	assert.Contains(t, fake.lastCall(), "LIMIT 2")
}
