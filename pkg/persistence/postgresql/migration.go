package postgresql

// migrations returns the schema migrations keyed by version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_definitions (
				id              TEXT PRIMARY KEY,
				org_id          TEXT NOT NULL,
				name            TEXT NOT NULL,
				description     TEXT NOT NULL DEFAULT '',
				scope           TEXT NOT NULL,
				owner_id        TEXT NOT NULL DEFAULT '',
				trigger_type    TEXT NOT NULL,
				trigger_config  JSONB NOT NULL DEFAULT '{}',
				conditions      JSONB NOT NULL DEFAULT '[]',
				actions         JSONB NOT NULL DEFAULT '[]',
				enabled         BOOLEAN NOT NULL DEFAULT FALSE,
				requires_review BOOLEAN NOT NULL DEFAULT FALSE,
				created_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				deleted_at      TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_definitions_org_trigger
				ON workflow_definitions (org_id, trigger_type)
				WHERE deleted_at IS NULL;

			CREATE INDEX IF NOT EXISTS idx_definitions_trigger_enabled
				ON workflow_definitions (trigger_type)
				WHERE enabled AND deleted_at IS NULL;

			CREATE TABLE IF NOT EXISTS workflow_executions (
				id             TEXT PRIMARY KEY,
				workflow_id    TEXT NOT NULL,
				org_id         TEXT NOT NULL,
				entity_type    TEXT NOT NULL DEFAULT '',
				entity_id      TEXT NOT NULL DEFAULT '',
				trigger_source TEXT NOT NULL DEFAULT '',
				trigger_data   JSONB NOT NULL DEFAULT '{}',
				status         TEXT NOT NULL,
				current_step   INTEGER NOT NULL DEFAULT 0,
				paused_task_id TEXT,
				started_at     TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				completed_at   TIMESTAMP WITH TIME ZONE,
				last_error     TEXT NOT NULL DEFAULT ''
			);

			-- At most one non-terminal execution per (workflow, entity) pair;
			-- duplicate concurrent event deliveries hit this index and skip.
			CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_one_active
				ON workflow_executions (workflow_id, entity_type, entity_id)
				WHERE status IN ('running', 'paused_for_approval');

			CREATE INDEX IF NOT EXISTS idx_executions_workflow
				ON workflow_executions (workflow_id, started_at DESC);

			CREATE TABLE IF NOT EXISTS approval_tasks (
				id              TEXT PRIMARY KEY,
				execution_id    TEXT NOT NULL REFERENCES workflow_executions (id),
				org_id          TEXT NOT NULL,
				approver_policy TEXT NOT NULL DEFAULT '',
				due_by          TIMESTAMP WITH TIME ZONE NOT NULL,
				status          TEXT NOT NULL DEFAULT 'pending',
				decided_by      TEXT NOT NULL DEFAULT '',
				decided_at      TIMESTAMP WITH TIME ZONE,
				created_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				CONSTRAINT due_after_creation CHECK (due_by > created_at)
			);

			CREATE INDEX IF NOT EXISTS idx_approvals_pending_due
				ON approval_tasks (due_by)
				WHERE status = 'pending';

			CREATE TABLE IF NOT EXISTS sweep_marks (
				key        TEXT PRIMARY KEY,
				claimed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`,
	}
}
