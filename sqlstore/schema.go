package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate creates every table this module needs if it does not already
// exist, mirroring the teacher's createTables step run once on open
// (graph/store/sqlite.go). Safe to call repeatedly.
func migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS workflows (
			id %s,
			workflow_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			UNIQUE(name, version)
		)`, d.AutoIncrementPK()),

		`CREATE TABLE IF NOT EXISTS node_variants (
			variant_id TEXT NOT NULL PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 0,
			content TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_variants_node ON node_variants(workflow_id, node_id)`,

		`CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT NOT NULL PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			session_id BIGINT NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			version BIGINT NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS node_boundaries (
			id %s,
			execution_id TEXT NOT NULL,
			session_id BIGINT NOT NULL,
			node_id TEXT NOT NULL,
			entry_checkpoint_id TEXT NOT NULL,
			exit_checkpoint_id TEXT,
			status TEXT NOT NULL,
			tool_count INT NOT NULL DEFAULT 0,
			checkpoint_count INT NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			error_message TEXT
		)`, d.AutoIncrementPK()),
		`CREATE INDEX IF NOT EXISTS idx_boundaries_session ON node_boundaries(session_id)`,

		`CREATE TABLE IF NOT EXISTS checkpoint_file_links (
			checkpoint_id TEXT NOT NULL PRIMARY KEY,
			file_commit_id TEXT NOT NULL,
			file_count INT NOT NULL,
			total_size BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS file_commits (
			commit_id TEXT NOT NULL PRIMARY KEY,
			files TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			message TEXT NOT NULL DEFAULT ''
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS blobs (
			hash TEXT NOT NULL PRIMARY KEY,
			bytes %s NOT NULL
		)`, d.BlobType()),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS outbox_events (
			pk %s,
			event_id TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			idempotency_key TEXT UNIQUE,
			status TEXT NOT NULL,
			retry_count INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP,
			last_error TEXT
		)`, d.AutoIncrementPK()),
		`CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_events(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_events(aggregate_type, aggregate_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w (statement: %s)", err, stmt)
		}
	}
	return nil
}
