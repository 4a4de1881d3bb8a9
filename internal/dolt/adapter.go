package dolt

import (
	"context"
	"fmt"
	"strings"

	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/model"
)

// Adapter is the typed wrapper over the dolt CLI. All reads use
// `dolt sql -r json`; writes use porcelain commands or SQL statements.
type Adapter struct {
	runner Runner
}

// NewAdapter creates an adapter over the given runner.
func NewAdapter(runner Runner) *Adapter {
	return &Adapter{runner: runner}
}

// Status summarizes the working tree.
type Status struct {
	Branch         string   `json:"branch"`
	StagedTables   []string `json:"staged_tables"`
	ModifiedTables []string `json:"modified_tables"`
}

// Clean reports whether nothing is staged or modified.
func (s Status) Clean() bool {
	return len(s.StagedTables) == 0 && len(s.ModifiedTables) == 0
}

// CommitInfo is one row of the commit log.
type CommitInfo struct {
	Hash      string `json:"commit_hash"`
	Committer string `json:"committer"`
	Message   string `json:"message"`
	Date      string `json:"date"`
}

// PullResult reports what a pull did.
type PullResult struct {
	FastForward  bool `json:"fast_forward"`
	HasConflicts bool `json:"has_conflicts"`
}

// MergeResult reports what a merge did.
type MergeResult struct {
	HasConflicts bool   `json:"has_conflicts"`
	MergeCommit  string `json:"merge_commit,omitempty"`
}

// run executes dolt and maps a nonzero exit to a coded error.
func (a *Adapter) run(ctx context.Context, args ...string) (Result, error) {
	result, err := a.runner.Run(ctx, args...)
	if err != nil {
		return result, errors.OperationError(err.Error(), err)
	}
	if result.ExitCode != 0 {
		return result, mapCLIError(args, result)
	}
	return result, nil
}

// mapCLIError classifies a failed invocation by its stderr text.
func mapCLIError(args []string, result Result) *errors.SyncError {
	text := strings.ToLower(result.Stderr + "\n" + result.Stdout)

	switch {
	case strings.Contains(text, "nothing to commit"),
		strings.Contains(text, "no changes added to commit"):
		return errors.Newf(errors.CodeNoChanges, "nothing to commit")
	case strings.Contains(text, "authentication"),
		strings.Contains(text, "permission denied"),
		strings.Contains(text, "not authorized"):
		return errors.Newf(errors.CodeAuthenticationFailed,
			"versioned store rejected credentials: %s", firstLine(result.Stderr))
	case strings.Contains(text, "remote not found"),
		strings.Contains(text, "unknown remote"),
		strings.Contains(text, "connection refused"),
		strings.Contains(text, "no such host"),
		strings.Contains(text, "could not reach"):
		return errors.Newf(errors.CodeRemoteUnreachable,
			"remote unreachable: %s", firstLine(result.Stderr))
	case strings.Contains(text, "non-fast-forward"),
		strings.Contains(text, "rejected"):
		return errors.Newf(errors.CodeRemoteRejected,
			"remote rejected the update: %s", firstLine(result.Stderr))
	case strings.Contains(text, "branch not found"),
		strings.Contains(text, "did not match any"),
		strings.Contains(text, "no branch named"):
		return errors.Newf(errors.CodeBranchNotFound,
			"branch not found: %s", firstLine(result.Stderr))
	case strings.Contains(text, "commit not found"),
		strings.Contains(text, "invalid commit"),
		strings.Contains(text, "target commit not found"):
		return errors.Newf(errors.CodeCommitNotFound,
			"commit not found: %s", firstLine(result.Stderr))
	case strings.Contains(text, "conflict"):
		return errors.Newf(errors.CodeMergeConflict,
			"merge produced conflicts: %s", firstLine(result.Stderr))
	case strings.Contains(text, "already exists") && contains(args, "init"):
		return errors.Newf(errors.CodeAlreadyInitialized,
			"repository already initialized")
	}

	return errors.New(errors.CodeOperationFailed,
		fmt.Sprintf("dolt %s failed (exit %d): %s",
			strings.Join(args, " "), result.ExitCode, firstLine(result.Stderr)), nil)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

// QuerySQL runs a SELECT and returns rows as generic JSON objects.
func (a *Adapter) QuerySQL(ctx context.Context, statement string) ([]map[string]any, error) {
	result, err := a.run(ctx, "sql", "-q", statement, "-r", "json")
	if err != nil {
		return nil, err
	}
	return parseRows(result.Stdout)
}

// QueryScalar runs a SELECT expected to return a single value, as string.
func (a *Adapter) QueryScalar(ctx context.Context, statement string) (string, error) {
	rows, err := a.QuerySQL(ctx, statement)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	// Single-column convention: take the first (only) column.
	for k := range rows[0] {
		return rowString(rows[0], k), nil
	}
	return "", nil
}

// ExecSQL runs a write statement and returns the affected-row count when the
// CLI reports one.
func (a *Adapter) ExecSQL(ctx context.Context, statement string) (int, error) {
	result, err := a.run(ctx, "sql", "-q", statement)
	if err != nil {
		return 0, err
	}
	return parseAffected(result.Stdout), nil
}

// CurrentBranch returns the checked-out branch name.
func (a *Adapter) CurrentBranch(ctx context.Context) (string, error) {
	branch, err := a.QueryScalar(ctx, "SELECT active_branch() AS branch")
	if err != nil {
		return "", err
	}
	if branch == "" {
		return "", errors.Newf(errors.CodeNotInitialized, "no active branch; repository not initialized")
	}
	return branch, nil
}

// HeadCommit returns the commit id at HEAD.
func (a *Adapter) HeadCommit(ctx context.Context) (string, error) {
	return a.QueryScalar(ctx, "SELECT commit_hash FROM dolt_log LIMIT 1")
}

// Status reads the working-tree state from dolt_status.
func (a *Adapter) Status(ctx context.Context) (*Status, error) {
	branch, err := a.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := a.QuerySQL(ctx, "SELECT table_name, staged, status FROM dolt_status")
	if err != nil {
		return nil, err
	}

	st := &Status{Branch: branch}
	for _, row := range rows {
		table := rowString(row, "table_name")
		if rowBool(row, "staged") {
			st.StagedTables = append(st.StagedTables, table)
		} else {
			st.ModifiedTables = append(st.ModifiedTables, table)
		}
	}
	return st, nil
}

// ListBranches returns all local branch names.
func (a *Adapter) ListBranches(ctx context.Context) ([]string, error) {
	rows, err := a.QuerySQL(ctx, "SELECT name FROM dolt_branches ORDER BY name")
	if err != nil {
		return nil, err
	}
	branches := make([]string, 0, len(rows))
	for _, row := range rows {
		branches = append(branches, rowString(row, "name"))
	}
	return branches, nil
}

// CreateBranch creates a branch at HEAD.
func (a *Adapter) CreateBranch(ctx context.Context, name string) error {
	_, err := a.run(ctx, "branch", name)
	return err
}

// DeleteBranch force-deletes a branch.
func (a *Adapter) DeleteBranch(ctx context.Context, name string) error {
	_, err := a.run(ctx, "branch", "-D", name)
	return err
}

// Checkout switches branches, creating the branch first when create is set.
func (a *Adapter) Checkout(ctx context.Context, branch string, create bool) error {
	args := []string{"checkout"}
	if create {
		args = append(args, "-b")
	}
	args = append(args, branch)
	_, err := a.run(ctx, args...)
	return err
}

// AddAll stages every table.
func (a *Adapter) AddAll(ctx context.Context) error {
	_, err := a.run(ctx, "add", "-A")
	return err
}

// Commit records staged changes and returns the new commit id.
// A clean tree returns a NO_CHANGES error.
func (a *Adapter) Commit(ctx context.Context, message string) (string, error) {
	result, err := a.run(ctx, "commit", "-m", message)
	if err != nil {
		return "", err
	}
	// Some dolt versions exit 0 on an empty commit attempt.
	if strings.Contains(strings.ToLower(result.Stdout), "nothing to commit") {
		return "", errors.Newf(errors.CodeNoChanges, "nothing to commit")
	}
	return a.HeadCommit(ctx)
}

// Log returns the newest commits, most recent first.
func (a *Adapter) Log(ctx context.Context, limit int) ([]CommitInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	stmt := fmt.Sprintf(
		"SELECT commit_hash, committer, message, date FROM dolt_log LIMIT %d", limit)
	rows, err := a.QuerySQL(ctx, stmt)
	if err != nil {
		return nil, err
	}

	commits := make([]CommitInfo, 0, len(rows))
	for _, row := range rows {
		commits = append(commits, CommitInfo{
			Hash:      rowString(row, "commit_hash"),
			Committer: rowString(row, "committer"),
			Message:   rowString(row, "message"),
			Date:      rowString(row, "date"),
		})
	}
	return commits, nil
}

// Push pushes a branch to the remote.
func (a *Adapter) Push(ctx context.Context, remote, branch string) error {
	_, err := a.run(ctx, "push", remote, branch)
	return err
}

// Pull pulls a branch from the remote.
func (a *Adapter) Pull(ctx context.Context, remote, branch string) (*PullResult, error) {
	result, err := a.run(ctx, "pull", remote, branch)
	if err != nil {
		if errors.GetCode(err) == errors.CodeMergeConflict {
			return &PullResult{HasConflicts: true}, nil
		}
		return nil, err
	}

	out := strings.ToLower(result.Stdout)
	return &PullResult{
		FastForward:  strings.Contains(out, "fast-forward"),
		HasConflicts: strings.Contains(out, "conflict"),
	}, nil
}

// Fetch fetches from the remote without merging.
func (a *Adapter) Fetch(ctx context.Context, remote string) error {
	_, err := a.run(ctx, "fetch", remote)
	return err
}

// Merge merges the source branch into the current one. Conflicts are a
// result, not an error; the caller decides how to proceed.
func (a *Adapter) Merge(ctx context.Context, sourceBranch string) (*MergeResult, error) {
	result, err := a.run(ctx, "merge", sourceBranch)
	if err != nil {
		if errors.GetCode(err) == errors.CodeMergeConflict {
			return &MergeResult{HasConflicts: true}, nil
		}
		return nil, err
	}

	if strings.Contains(strings.ToLower(result.Stdout), "conflict") {
		return &MergeResult{HasConflicts: true}, nil
	}

	head, err := a.HeadCommit(ctx)
	if err != nil {
		return nil, err
	}
	return &MergeResult{MergeCommit: head}, nil
}

// HasConflicts reports whether any table has unresolved conflict rows.
func (a *Adapter) HasConflicts(ctx context.Context) (bool, error) {
	rows, err := a.QuerySQL(ctx, "SELECT `table`, num_conflicts FROM dolt_conflicts")
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if rowInt(row, "num_conflicts") > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ConflictTables lists tables that currently hold conflict rows.
func (a *Adapter) ConflictTables(ctx context.Context) ([]string, error) {
	rows, err := a.QuerySQL(ctx, "SELECT `table`, num_conflicts FROM dolt_conflicts")
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, row := range rows {
		if rowInt(row, "num_conflicts") > 0 {
			tables = append(tables, rowString(row, "table"))
		}
	}
	return tables, nil
}

// ConflictsFor returns the raw conflict rows for a table. Columns follow the
// dolt convention: base_*, our_*, their_* per schema column.
func (a *Adapter) ConflictsFor(ctx context.Context, table string) ([]map[string]any, error) {
	return a.QuerySQL(ctx, "SELECT * FROM `dolt_conflicts_"+table+"`")
}

// ResolveConflicts resolves every conflict in a table with ours or theirs.
func (a *Adapter) ResolveConflicts(ctx context.Context, table, strategy string) error {
	switch strategy {
	case "ours", "theirs":
	default:
		return errors.ValidationError(
			fmt.Sprintf("resolution strategy must be ours or theirs, got %q", strategy), nil)
	}
	_, err := a.run(ctx, "conflicts", "resolve", "--"+strategy, table)
	return err
}

// TableDiff returns document-level changes between two commits, optionally
// filtered to one collection. It assumes the documents schema.
func (a *Adapter) TableDiff(ctx context.Context, fromCommit, toCommit, table, collection string) ([]model.DiffRow, error) {
	stmt := fmt.Sprintf(
		`SELECT diff_type,
		        COALESCE(to_doc_id, from_doc_id) AS doc_id,
		        COALESCE(to_collection_name, from_collection_name) AS collection_name,
		        from_content_hash, to_content_hash,
		        to_content, to_title, to_doc_type,
		        CAST(to_metadata AS CHAR) AS to_metadata
		 FROM dolt_diff(%s, %s, %s)`,
		Quote(fromCommit), Quote(toCommit), Quote(table))
	if collection != "" {
		stmt += fmt.Sprintf(" WHERE COALESCE(to_collection_name, from_collection_name) = %s", Quote(collection))
	}

	rows, err := a.QuerySQL(ctx, stmt)
	if err != nil {
		return nil, err
	}

	diffs := make([]model.DiffRow, 0, len(rows))
	for _, row := range rows {
		diff := model.DiffRow{
			Type:      model.DiffType(rowString(row, "diff_type")),
			DocID:     rowString(row, "doc_id"),
			FromHash:  rowString(row, "from_content_hash"),
			ToHash:    rowString(row, "to_content_hash"),
			ToContent: rowString(row, "to_content"),
			Title:     rowString(row, "to_title"),
			DocType:   rowString(row, "to_doc_type"),
		}
		if raw := rowString(row, "to_metadata"); raw != "" {
			diff.Metadata = parseMetadata(raw)
		}
		diffs = append(diffs, diff)
	}
	return diffs, nil
}

// ResetHard discards working-set changes, optionally moving HEAD to ref.
func (a *Adapter) ResetHard(ctx context.Context, ref string) error {
	args := []string{"reset", "--hard"}
	if ref != "" {
		args = append(args, ref)
	}
	_, err := a.run(ctx, args...)
	return err
}

// InitRepo initializes a new repository in the working directory.
func (a *Adapter) InitRepo(ctx context.Context) error {
	_, err := a.run(ctx, "init")
	return err
}

// CloneRepo clones the remote repository into the working directory.
func (a *Adapter) CloneRepo(ctx context.Context, url string) error {
	_, err := a.run(ctx, "clone", url, ".")
	return err
}

// AddRemote registers a named remote.
func (a *Adapter) AddRemote(ctx context.Context, name, url string) error {
	_, err := a.run(ctx, "remote", "add", name, url)
	return err
}
