package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements holds the DDL for every table the stores touch. Each
// statement uses IF NOT EXISTS so applying the schema is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		industry TEXT,
		framework TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		doc_type TEXT,
		uploaded_by TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS workflow_runs (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		status TEXT NOT NULL,
		current_phase TEXT NOT NULL,
		workflow_config JSONB NOT NULL DEFAULT '{}'::jsonb,
		initiated_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS workflow_steps (
		id TEXT PRIMARY KEY,
		workflow_run_id TEXT NOT NULL REFERENCES workflow_runs(id),
		step_number INT NOT NULL,
		step_type TEXT NOT NULL,
		step_name TEXT NOT NULL,
		status TEXT NOT NULL,
		requires_approval BOOLEAN NOT NULL DEFAULT TRUE,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		approved_by TEXT,
		approved_at TIMESTAMPTZ,
		rejection_reason TEXT,
		output_summary JSONB,
		error_message TEXT,
		UNIQUE (workflow_run_id, step_number)
	)`,
	`CREATE TABLE IF NOT EXISTS workflow_artifacts (
		id TEXT PRIMARY KEY,
		workflow_run_id TEXT NOT NULL REFERENCES workflow_runs(id),
		workflow_step_id TEXT NOT NULL REFERENCES workflow_steps(id),
		artifact_type TEXT NOT NULL,
		artifact_data JSONB NOT NULL,
		target_table TEXT,
		status TEXT NOT NULL,
		verification_method TEXT,
		reviewed_by TEXT,
		reviewed_at TIMESTAMPTZ,
		applied_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_artifacts_run_status
		ON workflow_artifacts (workflow_run_id, status)`,
	`CREATE TABLE IF NOT EXISTS hazards (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		uid TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		severity TEXT NOT NULL,
		likelihood TEXT NOT NULL,
		mitigation TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (project_id, uid)
	)`,
	`CREATE TABLE IF NOT EXISTS requirements (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		uid TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL,
		priority TEXT NOT NULL,
		linked_hazard_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
		linked_ce_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
		quality_score INT,
		quality_status TEXT,
		quality_issues JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (project_id, uid)
	)`,
	`CREATE TABLE IF NOT EXISTS certifiable_elements (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		uid TEXT NOT NULL,
		name TEXT NOT NULL,
		ce_type TEXT NOT NULL,
		description TEXT,
		parent_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (project_id, uid)
	)`,
	`CREATE TABLE IF NOT EXISTS checklist_items (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		phase_id TEXT NOT NULL,
		category TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		verification_method TEXT NOT NULL,
		priority TEXT NOT NULL,
		ce_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS test_cases (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		test_type TEXT NOT NULL,
		procedure TEXT NOT NULL,
		expected_result TEXT NOT NULL,
		priority TEXT NOT NULL,
		verification_method TEXT NOT NULL,
		linked_requirement_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates every table and index the stores rely on. It is safe
// to call on every startup.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
