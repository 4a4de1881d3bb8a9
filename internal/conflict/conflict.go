// Package conflict analyzes and resolves merge conflicts on the documents
// table. Conflicts are read from the versioned store's conflict tables while
// a merge is in progress; outcomes are tagged values, never panics.
package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/hash"
)

// Type classifies a conflict.
type Type string

const (
	TypeContentModification Type = "content_modification"
	TypeMetadataConflict    Type = "metadata_conflict"
	TypeAddAdd              Type = "add_add"
	TypeDeleteModify        Type = "delete_modify"
	TypeSchema              Type = "schema"
)

// Resolution strategies. Every conflict's Options is a subset of these.
const (
	KeepOurs   = "keep_ours"
	KeepTheirs = "keep_theirs"
	FieldMerge = "field_merge"
	Custom     = "custom"
)

// documentFields are the logical fields compared when classifying a
// conflict. Timestamps and the derived content_hash are excluded.
var documentFields = []string{"content", "title", "doc_type", "metadata"}

// FieldDiff is one field's three-way state. Only fields changed by at least
// one side appear in a detailed preview.
type FieldDiff struct {
	Field           string `json:"field"`
	Base            string `json:"base"`
	Ours            string `json:"ours"`
	Theirs          string `json:"theirs"`
	ChangedByOurs   bool   `json:"changed_by_ours"`
	ChangedByTheirs bool   `json:"changed_by_theirs"`
}

// DetailedConflict is one previewed conflict.
type DetailedConflict struct {
	ID             string      `json:"conflict_id"`
	Collection     string      `json:"collection_name,omitempty"`
	DocID          string      `json:"doc_id"`
	Type           Type        `json:"conflict_type"`
	AutoResolvable bool        `json:"auto_resolvable"`
	Suggested      string      `json:"suggested_resolution"`
	Options        []string    `json:"resolution_options"`
	Fields         []FieldDiff `json:"field_diffs,omitempty"`
}

// Store is the versioned-store surface the analyzer needs. *dolt.Adapter
// satisfies it.
type Store interface {
	ConflictTables(ctx context.Context) ([]string, error)
	ConflictsFor(ctx context.Context, table string) ([]map[string]any, error)
	HasConflicts(ctx context.Context) (bool, error)
	ResolveConflicts(ctx context.Context, table, strategy string) error
	ExecSQL(ctx context.Context, statement string) (int, error)
	AddAll(ctx context.Context) error
	Commit(ctx context.Context, message string) (string, error)
	HeadCommit(ctx context.Context) (string, error)
}

// Analyzer previews and resolves the conflicts of an in-progress merge.
type Analyzer struct {
	store Store
	log   *slog.Logger
}

// NewAnalyzer creates an analyzer over the versioned store.
func NewAnalyzer(store Store) *Analyzer {
	return &Analyzer{
		store: store,
		log:   slog.Default().With("component", "conflict"),
	}
}

// PreviewOptions control what Preview returns.
type PreviewOptions struct {
	// IncludeAutoResolvable keeps conflicts the analyzer could resolve on
	// its own in the result. Off, only conflicts needing a decision remain.
	IncludeAutoResolvable bool

	// Detailed adds per-field base/ours/theirs diffs.
	Detailed bool
}

// Preview lists the conflicts of the merge in progress, classified and
// annotated with resolution options.
func (a *Analyzer) Preview(ctx context.Context, opts PreviewOptions) ([]DetailedConflict, error) {
	docConflicts, err := a.documentConflicts(ctx)
	if err != nil {
		return nil, err
	}

	var out []DetailedConflict
	for _, dc := range docConflicts {
		if dc.AutoResolvable && !opts.IncludeAutoResolvable {
			continue
		}
		preview := dc.DetailedConflict
		if !opts.Detailed {
			preview.Fields = nil
		}
		out = append(out, preview)
	}

	tables, err := a.store.ConflictTables(ctx)
	if err != nil {
		return nil, err
	}
	for _, table := range tables {
		if table == "documents" {
			continue
		}
		out = append(out, schemaConflict(table))
	}
	return out, nil
}

// docConflict pairs a previewed conflict with the raw row it came from.
type docConflict struct {
	DetailedConflict

	row                map[string]any
	base, ours, theirs map[string]string
	basePresent        bool
	oursPresent        bool
	theirsPresent      bool
}

// documentConflicts reads and classifies every conflict row on documents.
func (a *Analyzer) documentConflicts(ctx context.Context) ([]docConflict, error) {
	rows, err := a.store.ConflictsFor(ctx, "documents")
	if err != nil {
		// No conflict table means no conflicts on documents.
		if errors.GetCode(err) == errors.CodeOperationFailed {
			return nil, nil
		}
		return nil, err
	}

	conflicts := make([]docConflict, 0, len(rows))
	for _, row := range rows {
		conflicts = append(conflicts, classify(row))
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].DocID < conflicts[j].DocID })
	return conflicts, nil
}

// classify builds a docConflict from one dolt_conflicts_documents row.
func classify(row map[string]any) docConflict {
	dc := docConflict{
		row:    row,
		base:   sideFields(row, "base_"),
		ours:   sideFields(row, "our_"),
		theirs: sideFields(row, "their_"),
	}
	dc.basePresent = str(row["base_doc_id"]) != ""
	dc.oursPresent = str(row["our_doc_id"]) != ""
	dc.theirsPresent = str(row["their_doc_id"]) != ""

	dc.DocID = firstNonEmpty(
		str(row["our_doc_id"]), str(row["their_doc_id"]), str(row["base_doc_id"]))
	dc.Collection = firstNonEmpty(
		str(row["our_collection_name"]), str(row["their_collection_name"]), str(row["base_collection_name"]))

	oursChanged := changedFields(dc.base, dc.ours)
	theirsChanged := changedFields(dc.base, dc.theirs)

	switch {
	case !dc.oursPresent || !dc.theirsPresent:
		dc.Type = TypeDeleteModify
		dc.Suggested = KeepOurs
		dc.Options = []string{KeepOurs, KeepTheirs}
	case !dc.basePresent:
		dc.Type = TypeAddAdd
		dc.AutoResolvable = dc.ours["content"] == dc.theirs["content"]
		if dc.AutoResolvable {
			dc.Suggested = KeepOurs
			dc.Options = []string{KeepOurs, KeepTheirs}
		} else {
			dc.Suggested = Custom
			dc.Options = []string{KeepOurs, KeepTheirs, Custom}
		}
	default:
		if oursChanged["content"] || theirsChanged["content"] {
			dc.Type = TypeContentModification
		} else {
			dc.Type = TypeMetadataConflict
		}
		dc.AutoResolvable = disjoint(oursChanged, theirsChanged)
		dc.Options = []string{KeepOurs, KeepTheirs, FieldMerge, Custom}
		if dc.AutoResolvable {
			dc.Suggested = FieldMerge
		} else {
			dc.Suggested = KeepOurs
		}
	}

	dc.ID = conflictID(dc.Collection, dc.DocID, dc.Type)
	dc.Fields = fieldDiffs(dc.base, dc.ours, dc.theirs, oursChanged, theirsChanged)
	return dc
}

// conflictID derives the stable identifier callers use to address a conflict
// across preview and execute.
func conflictID(collection, docID string, typ Type) string {
	return "CONF-" + hash.Short(fmt.Sprintf("%s_%s_%s", collection, docID, typ))
}

func schemaConflict(table string) DetailedConflict {
	return DetailedConflict{
		ID:        conflictID("", table, TypeSchema),
		DocID:     table,
		Type:      TypeSchema,
		Suggested: KeepOurs,
		Options:   []string{KeepOurs, KeepTheirs},
	}
}

// Compose merges both sides' changes over the base. ok is false when the two
// change sets overlap, in which case the result is meaningless.
func Compose(base, ours, theirs map[string]string) (map[string]string, bool) {
	oursChanged := changedFields(base, ours)
	theirsChanged := changedFields(base, theirs)
	if !disjoint(oursChanged, theirsChanged) {
		return nil, false
	}

	merged := make(map[string]string, len(documentFields))
	for _, field := range documentFields {
		switch {
		case theirsChanged[field]:
			merged[field] = theirs[field]
		case oursChanged[field]:
			merged[field] = ours[field]
		default:
			merged[field] = base[field]
		}
	}
	return merged, true
}

// changedFields returns the fields whose value differs from base.
func changedFields(base, side map[string]string) map[string]bool {
	changed := make(map[string]bool)
	for _, field := range documentFields {
		if side[field] != base[field] {
			changed[field] = true
		}
	}
	return changed
}

func disjoint(a, b map[string]bool) bool {
	for field := range a {
		if b[field] {
			return false
		}
	}
	return true
}

func fieldDiffs(base, ours, theirs map[string]string, oursChanged, theirsChanged map[string]bool) []FieldDiff {
	var diffs []FieldDiff
	for _, field := range documentFields {
		if !oursChanged[field] && !theirsChanged[field] {
			continue
		}
		diffs = append(diffs, FieldDiff{
			Field:           field,
			Base:            base[field],
			Ours:            ours[field],
			Theirs:          theirs[field],
			ChangedByOurs:   oursChanged[field],
			ChangedByTheirs: theirsChanged[field],
		})
	}
	return diffs
}

// sideFields extracts the logical document fields for one side of a conflict
// row, given the dolt column prefix.
func sideFields(row map[string]any, prefix string) map[string]string {
	fields := make(map[string]string, len(documentFields))
	for _, field := range documentFields {
		fields[field] = str(row[prefix+field])
	}
	return fields
}

// str renders one SQL JSON value as a comparable string. Nested JSON is
// re-marshaled so two structurally equal values compare equal.
func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
