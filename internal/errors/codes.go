// Package errors provides structured error handling for vmrag.
//
// Error codes are the stable, machine-readable strings surfaced through the
// tool façade. Categories classify how an error was produced:
//
//   - PRECONDITION: the request itself was invalid; nothing happened.
//   - GUARD: a safety check blocked the operation; nothing destructive ran.
//   - EXTERNAL: the versioned store, vector store, or embedder failed.
//   - CONSISTENCY: the two stores disagree in a way the engine cannot repair.
//   - INTERNAL: a bug or violated invariant.
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryPrecondition indicates the request failed validation before any work.
	CategoryPrecondition Category = "PRECONDITION"
	// CategoryGuard indicates a safety guard stopped the operation.
	CategoryGuard Category = "GUARD"
	// CategoryExternal indicates a failure surfaced from an external store.
	CategoryExternal Category = "EXTERNAL"
	// CategoryConsistency indicates cross-store state disagreement.
	CategoryConsistency Category = "CONSISTENCY"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Stable error codes returned by every tool and CLI command.
const (
	// Precondition errors: reported to the caller, no side effects.
	CodeNotInitialized        = "NOT_INITIALIZED"
	CodeAlreadyInitialized    = "ALREADY_INITIALIZED"
	CodeConfirmationRequired  = "CONFIRMATION_REQUIRED"
	CodeInvalidResolutionJSON = "INVALID_RESOLUTION_JSON"
	CodeInvalidInput          = "INVALID_INPUT"

	// Safety guards: enough detail returned to pick an override path.
	CodeUncommittedChanges  = "UNCOMMITTED_CHANGES"
	CodeMergeConflict       = "MERGE_CONFLICT"
	CodeUnresolvedConflicts = "UNRESOLVED_CONFLICTS"
	CodeNamingCollision     = "NAMING_COLLISION"

	// External errors surfaced from the adapters.
	CodeRemoteUnreachable    = "REMOTE_UNREACHABLE"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeRemoteRejected       = "REMOTE_REJECTED"
	CodeBranchNotFound       = "BRANCH_NOT_FOUND"
	CodeCommitNotFound       = "COMMIT_NOT_FOUND"
	CodeCollectionNotFound   = "COLLECTION_NOT_FOUND"
	CodeCollectionExists     = "COLLECTION_EXISTS"
	CodeDuplicateID          = "DUPLICATE_ID"

	// Consistency errors: sync-state is marked error before these surface.
	CodeEmbedderMismatch = "EMBEDDER_MISMATCH"

	// NoChanges is not a failure; commit with a clean tree reports it.
	CodeNoChanges = "NO_CHANGES"

	// Everything else.
	CodeOperationFailed = "OPERATION_FAILED"
)

// categoryByCode maps each stable code to its category.
var categoryByCode = map[string]Category{
	CodeNotInitialized:        CategoryPrecondition,
	CodeAlreadyInitialized:    CategoryPrecondition,
	CodeConfirmationRequired:  CategoryPrecondition,
	CodeInvalidResolutionJSON: CategoryPrecondition,
	CodeInvalidInput:          CategoryPrecondition,

	CodeUncommittedChanges:  CategoryGuard,
	CodeMergeConflict:       CategoryGuard,
	CodeUnresolvedConflicts: CategoryGuard,
	CodeNamingCollision:     CategoryGuard,
	CodeNoChanges:           CategoryGuard,

	CodeRemoteUnreachable:    CategoryExternal,
	CodeAuthenticationFailed: CategoryExternal,
	CodeRemoteRejected:       CategoryExternal,
	CodeBranchNotFound:       CategoryExternal,
	CodeCommitNotFound:       CategoryExternal,
	CodeCollectionNotFound:   CategoryExternal,
	CodeCollectionExists:     CategoryExternal,
	CodeDuplicateID:          CategoryExternal,

	CodeEmbedderMismatch: CategoryConsistency,

	CodeOperationFailed: CategoryInternal,
}

// categoryFromCode returns the category for a code, defaulting to internal.
func categoryFromCode(code string) Category {
	if c, ok := categoryByCode[code]; ok {
		return c
	}
	return CategoryInternal
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryGuard, CategoryPrecondition:
		return SeverityWarning
	case CategoryConsistency:
		return SeverityFatal
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether a retry of the same operation can succeed
// without caller intervention. Retry itself is caller policy; the engine
// never retries automatically.
func isRetryableCode(code string) bool {
	switch code {
	case CodeRemoteUnreachable:
		return true
	default:
		return false
	}
}
