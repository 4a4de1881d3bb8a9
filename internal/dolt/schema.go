package dolt

import (
	"context"
)

// schemaStatements create every table vmrag stores in the versioned store.
// The generalized documents schema is canonical; per-domain tables are not
// created.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		doc_id VARCHAR(255) NOT NULL,
		collection_name VARCHAR(255) NOT NULL,
		content LONGTEXT NOT NULL,
		content_hash CHAR(64) NOT NULL,
		title VARCHAR(512),
		doc_type VARCHAR(128),
		metadata JSON,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (doc_id, collection_name),
		INDEX idx_documents_collection (collection_name),
		INDEX idx_documents_title (title),
		INDEX idx_documents_doc_type (doc_type)
	)`,

	`CREATE TABLE IF NOT EXISTS collections (
		collection_name VARCHAR(255) NOT NULL,
		display_name VARCHAR(255),
		description TEXT,
		embedding_model VARCHAR(255) NOT NULL,
		chunk_size INT NOT NULL,
		chunk_overlap INT NOT NULL,
		document_count INT NOT NULL DEFAULT 0,
		chunk_count INT NOT NULL DEFAULT 0,
		PRIMARY KEY (collection_name)
	)`,

	`CREATE TABLE IF NOT EXISTS chroma_sync_state (
		collection_name VARCHAR(255) NOT NULL,
		last_sync_commit VARCHAR(64) NOT NULL,
		last_sync_at DATETIME NOT NULL,
		document_count INT NOT NULL DEFAULT 0,
		chunk_count INT NOT NULL DEFAULT 0,
		embedding_model VARCHAR(255) NOT NULL,
		sync_status VARCHAR(32) NOT NULL,
		error_message TEXT,
		PRIMARY KEY (collection_name)
	)`,

	`CREATE TABLE IF NOT EXISTS document_sync_log (
		doc_id VARCHAR(255) NOT NULL,
		collection_name VARCHAR(255) NOT NULL,
		content_hash CHAR(64) NOT NULL,
		chunk_ids JSON NOT NULL,
		chunk_count INT NOT NULL,
		synced_at DATETIME NOT NULL,
		sync_direction VARCHAR(32) NOT NULL,
		sync_action VARCHAR(16) NOT NULL,
		PRIMARY KEY (doc_id, collection_name),
		INDEX idx_sync_log_collection (collection_name)
	)`,

	`CREATE TABLE IF NOT EXISTS sync_operations (
		operation_id VARCHAR(64) NOT NULL,
		operation_type VARCHAR(32) NOT NULL,
		branch VARCHAR(255) NOT NULL,
		commit_before VARCHAR(64),
		commit_after VARCHAR(64),
		collections JSON,
		added_count INT NOT NULL DEFAULT 0,
		updated_count INT NOT NULL DEFAULT 0,
		deleted_count INT NOT NULL DEFAULT 0,
		status VARCHAR(16) NOT NULL,
		error_message TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		PRIMARY KEY (operation_id)
	)`,

	// Dirty set: one row per document mutated through the façade since the
	// last stage. Unioned with the metadata scan by the delta detector.
	`CREATE TABLE IF NOT EXISTS dirty_documents (
		collection_name VARCHAR(255) NOT NULL,
		doc_id VARCHAR(255) NOT NULL,
		marked_at DATETIME NOT NULL,
		PRIMARY KEY (collection_name, doc_id)
	)`,

	// Bookkeeping for the optional external-VCS link feature.
	`CREATE TABLE IF NOT EXISTS vcs_links (
		link_id VARCHAR(64) NOT NULL,
		commit_id VARCHAR(64) NOT NULL,
		external_system VARCHAR(64) NOT NULL,
		external_ref VARCHAR(255) NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (link_id)
	)`,
}

// EnsureSchema creates vmrag's tables when missing.
func (a *Adapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := a.ExecSQL(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Initialized reports whether the working directory holds a dolt repository
// with the vmrag schema.
func (a *Adapter) Initialized(ctx context.Context) (bool, error) {
	rows, err := a.QuerySQL(ctx, "SHOW TABLES LIKE 'documents'")
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}
