package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/vmrag/vmrag/internal/dolt"
	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/hash"
)

// Resolution is one caller-chosen resolution for a conflict.
type Resolution struct {
	// Strategy is keep_ours, keep_theirs, field_merge, or custom.
	Strategy string `json:"strategy"`

	// Fields maps field name to "ours" or "theirs" for field_merge.
	Fields map[string]string `json:"fields,omitempty"`

	// Values holds caller-provided field values for custom.
	Values map[string]string `json:"values,omitempty"`
}

// ParseResolutions decodes a conflict_id -> resolution mapping and validates
// every entry.
func ParseResolutions(raw []byte) (map[string]Resolution, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]Resolution
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.New(errors.CodeInvalidResolutionJSON,
			"resolutions must be a JSON object keyed by conflict id: "+err.Error(), err)
	}
	for id, r := range out {
		switch r.Strategy {
		case KeepOurs, KeepTheirs:
		case FieldMerge:
			if len(r.Fields) == 0 {
				return nil, errors.Newf(errors.CodeInvalidResolutionJSON,
					"field_merge for %s needs a fields mapping", id)
			}
			for field, side := range r.Fields {
				if side != "ours" && side != "theirs" {
					return nil, errors.Newf(errors.CodeInvalidResolutionJSON,
						"field %s of %s must pick ours or theirs, got %q", field, id, side)
				}
			}
		case Custom:
			if len(r.Values) == 0 {
				return nil, errors.Newf(errors.CodeInvalidResolutionJSON,
					"custom resolution for %s needs values", id)
			}
		default:
			return nil, errors.Newf(errors.CodeInvalidResolutionJSON,
				"unknown strategy %q for %s", r.Strategy, id)
		}
	}
	return out, nil
}

// ExecuteOptions control a resolution run.
type ExecuteOptions struct {
	Resolutions          map[string]Resolution
	AutoResolveRemaining bool
	Message              string
}

// ExecutionResult reports a completed resolution run. The merge commit is
// final; the caller still owes a commit-range sync.
type ExecutionResult struct {
	Resolved     int    `json:"resolved"`
	AutoResolved int    `json:"auto_resolved"`
	MergeCommit  string `json:"merge_commit"`
}

// Execute applies the given resolutions, auto-resolves the rest when asked,
// verifies no conflict remains, and finalizes the merge commit.
func (a *Analyzer) Execute(ctx context.Context, opts ExecuteOptions) (*ExecutionResult, error) {
	conflicts, err := a.documentConflicts(ctx)
	if err != nil {
		return nil, err
	}

	result := &ExecutionResult{}
	var remaining []string
	for _, dc := range conflicts {
		resolution, ok := opts.Resolutions[dc.ID]
		if !ok {
			if opts.AutoResolveRemaining && dc.AutoResolvable {
				if err := a.autoResolve(ctx, dc); err != nil {
					return nil, err
				}
				result.Resolved++
				result.AutoResolved++
				continue
			}
			remaining = append(remaining, dc.ID)
			continue
		}
		if err := a.apply(ctx, dc, resolution); err != nil {
			return nil, err
		}
		result.Resolved++
	}

	tables, err := a.store.ConflictTables(ctx)
	if err != nil {
		return nil, err
	}
	for _, table := range tables {
		if table == "documents" {
			continue
		}
		sc := schemaConflict(table)
		resolution, ok := opts.Resolutions[sc.ID]
		if !ok {
			remaining = append(remaining, sc.ID)
			continue
		}
		side, err := sideStrategy(resolution.Strategy)
		if err != nil {
			return nil, err
		}
		if err := a.store.ResolveConflicts(ctx, table, side); err != nil {
			return nil, err
		}
		result.Resolved++
	}

	if len(remaining) > 0 {
		return nil, unresolvedError(result.Resolved, len(remaining))
	}
	has, err := a.store.HasConflicts(ctx)
	if err != nil {
		return nil, err
	}
	if has {
		return nil, unresolvedError(result.Resolved, 1)
	}

	if err := a.store.AddAll(ctx); err != nil {
		return nil, err
	}
	message := opts.Message
	if message == "" {
		message = "merge: resolve conflicts"
	}
	commit, err := a.store.Commit(ctx, message)
	if err != nil {
		if !errors.Is(err, errors.CodeNoChanges) {
			return nil, err
		}
		if commit, err = a.store.HeadCommit(ctx); err != nil {
			return nil, err
		}
	}
	result.MergeCommit = commit

	a.log.Info("conflicts_resolved",
		"resolved", result.Resolved, "auto", result.AutoResolved, "commit", commit)
	return result, nil
}

func unresolvedError(resolved, remaining int) *errors.SyncError {
	return errors.Newf(errors.CodeUnresolvedConflicts,
		"%d conflicts remain unresolved", remaining).
		WithDetail("resolved", strconv.Itoa(resolved)).
		WithDetail("remaining", strconv.Itoa(remaining)).
		WithSuggestion("resolve the remaining conflicts explicitly or enable auto_resolve_remaining")
}

func sideStrategy(strategy string) (string, error) {
	switch strategy {
	case KeepOurs:
		return "ours", nil
	case KeepTheirs:
		return "theirs", nil
	default:
		return "", errors.ValidationError(
			fmt.Sprintf("strategy %q is not available for this conflict", strategy), nil)
	}
}

// apply executes one caller-chosen resolution.
func (a *Analyzer) apply(ctx context.Context, dc docConflict, resolution Resolution) error {
	if !optionAllowed(dc.Options, resolution.Strategy) {
		return errors.ValidationError(fmt.Sprintf(
			"resolution %q is not available for conflict %s (%s)",
			resolution.Strategy, dc.ID, dc.Type), nil)
	}

	switch resolution.Strategy {
	case KeepOurs:
		// The working row already holds ours.
		return a.deleteMarker(ctx, dc)

	case KeepTheirs:
		if !dc.theirsPresent {
			if err := a.deleteDocument(ctx, dc); err != nil {
				return err
			}
			return a.deleteMarker(ctx, dc)
		}
		if err := a.writeTheirs(ctx, dc); err != nil {
			return err
		}
		return a.deleteMarker(ctx, dc)

	case FieldMerge:
		sets := make(map[string]string, len(resolution.Fields))
		for field, side := range resolution.Fields {
			if side == "theirs" {
				sets[field] = dc.theirs[field]
			} else {
				sets[field] = dc.ours[field]
			}
		}
		if err := a.updateDocument(ctx, dc, sets); err != nil {
			return err
		}
		return a.deleteMarker(ctx, dc)

	case Custom:
		if err := a.updateDocument(ctx, dc, resolution.Values); err != nil {
			return err
		}
		return a.deleteMarker(ctx, dc)
	}
	return errors.ValidationError(fmt.Sprintf("unknown strategy %q", resolution.Strategy), nil)
}

// autoResolve composes both sides' disjoint changes into the working row.
func (a *Analyzer) autoResolve(ctx context.Context, dc docConflict) error {
	if dc.Type == TypeAddAdd {
		// Identical contents; ours is as good as theirs.
		return a.deleteMarker(ctx, dc)
	}

	merged, ok := Compose(dc.base, dc.ours, dc.theirs)
	if !ok {
		return errors.Newf(errors.CodeOperationFailed,
			"conflict %s was marked auto-resolvable but change sets overlap", dc.ID)
	}
	sets := make(map[string]string)
	for field, value := range merged {
		if value != dc.ours[field] {
			sets[field] = value
		}
	}
	if err := a.updateDocument(ctx, dc, sets); err != nil {
		return err
	}
	return a.deleteMarker(ctx, dc)
}

// updateDocument writes the given fields into the working row. A content
// change recomputes content_hash so the stored hash never drifts.
func (a *Analyzer) updateDocument(ctx context.Context, dc docConflict, sets map[string]string) error {
	if len(sets) == 0 {
		return nil
	}
	if content, ok := sets["content"]; ok {
		sets["content_hash"] = hash.Content(content)
	}

	fields := make([]string, 0, len(sets))
	for field := range sets {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	stmt := "UPDATE documents SET "
	for i, field := range fields {
		if i > 0 {
			stmt += ", "
		}
		stmt += field + " = " + valueSQL(field, sets[field])
	}
	stmt += ", updated_at = NOW() WHERE doc_id = " + dolt.Quote(dc.DocID) +
		" AND collection_name = " + dolt.Quote(dc.Collection)

	_, err := a.store.ExecSQL(ctx, stmt)
	return err
}

// writeTheirs replaces the working row with theirs' version of the document.
func (a *Analyzer) writeTheirs(ctx context.Context, dc docConflict) error {
	contentHash := str(dc.row["their_content_hash"])
	if contentHash == "" {
		contentHash = hash.Content(dc.theirs["content"])
	}
	createdAt := "NOW()"
	if at := str(dc.row["their_created_at"]); at != "" {
		createdAt = dolt.Quote(at)
	}

	stmt := fmt.Sprintf(
		`REPLACE INTO documents
		 (doc_id, collection_name, content, content_hash, title, doc_type, metadata, created_at, updated_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, NOW())`,
		dolt.Quote(dc.DocID), dolt.Quote(dc.Collection),
		dolt.Quote(dc.theirs["content"]), dolt.Quote(contentHash),
		valueSQL("title", dc.theirs["title"]), valueSQL("doc_type", dc.theirs["doc_type"]),
		valueSQL("metadata", dc.theirs["metadata"]), createdAt)

	_, err := a.store.ExecSQL(ctx, stmt)
	return err
}

func (a *Analyzer) deleteDocument(ctx context.Context, dc docConflict) error {
	stmt := "DELETE FROM documents WHERE doc_id = " + dolt.Quote(dc.DocID) +
		" AND collection_name = " + dolt.Quote(dc.Collection)
	_, err := a.store.ExecSQL(ctx, stmt)
	return err
}

// deleteMarker removes the conflict row so dolt considers it resolved.
func (a *Analyzer) deleteMarker(ctx context.Context, dc docConflict) error {
	stmt := "DELETE FROM dolt_conflicts_documents" +
		" WHERE COALESCE(our_doc_id, their_doc_id, base_doc_id) = " + dolt.Quote(dc.DocID) +
		" AND COALESCE(our_collection_name, their_collection_name, base_collection_name) = " + dolt.Quote(dc.Collection)
	_, err := a.store.ExecSQL(ctx, stmt)
	return err
}

// valueSQL renders one field value as a SQL literal. Nullable columns get
// NULL instead of an empty string; the JSON metadata column rejects ''.
func valueSQL(field, value string) string {
	if value == "" {
		switch field {
		case "metadata", "title", "doc_type":
			return "NULL"
		}
	}
	return dolt.Quote(value)
}

func optionAllowed(options []string, strategy string) bool {
	for _, opt := range options {
		if opt == strategy {
			return true
		}
	}
	return false
}
