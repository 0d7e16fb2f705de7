package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the workflow store, applied by the migrate command
// and by integration tests. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS workflows (
    id UUID PRIMARY KEY,
    workflow_type TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'draft',
    is_default BOOLEAN NOT NULL DEFAULT FALSE,
    auto_trigger BOOLEAN NOT NULL DEFAULT FALSE,
    default_timeout_hours INT NOT NULL DEFAULT 72,
    escalation_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    escalation_assignee_id TEXT,
    trigger_conditions JSONB,
    tags JSONB,
    version INT NOT NULL DEFAULT 1,
    created_by TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- at most one default active workflow per type
CREATE UNIQUE INDEX IF NOT EXISTS workflows_default_per_type
    ON workflows (workflow_type)
    WHERE is_default AND status = 'active';

CREATE TABLE IF NOT EXISTS workflow_steps (
    id UUID PRIMARY KEY,
    workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
    step_order INT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    step_type TEXT NOT NULL,
    assignee_type TEXT NOT NULL DEFAULT 'user',
    assignee_id TEXT,
    approval_required BOOLEAN NOT NULL DEFAULT TRUE,
    min_approvals INT NOT NULL DEFAULT 1,
    unanimous_required BOOLEAN NOT NULL DEFAULT FALSE,
    can_skip BOOLEAN NOT NULL DEFAULT FALSE,
    timeout_hours INT,
    escalation_assignee_id TEXT,
    condition_expression TEXT,
    allowed_actions JSONB,
    custom_fields JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (workflow_id, step_order)
);

CREATE TABLE IF NOT EXISTS workflow_instances (
    id UUID PRIMARY KEY,
    workflow_id UUID NOT NULL REFERENCES workflows(id),
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'initiated',
    current_step_id UUID,
    priority TEXT NOT NULL DEFAULT 'medium',
    context JSONB,
    due_date TIMESTAMPTZ,
    final_outcome TEXT,
    version INT NOT NULL DEFAULT 1,
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    created_by TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS workflow_instances_entity
    ON workflow_instances (entity_type, entity_id);
CREATE INDEX IF NOT EXISTS workflow_instances_status
    ON workflow_instances (status);

CREATE TABLE IF NOT EXISTS workflow_step_instances (
    id UUID PRIMARY KEY,
    workflow_instance_id UUID NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
    workflow_step_id UUID NOT NULL,
    step_order INT NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    assigned_to_id TEXT,
    assigned_at TIMESTAMPTZ,
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    due_date TIMESTAMPTZ,
    outcome TEXT,
    outcome_reason TEXT,
    approved_by JSONB,
    escalated_at TIMESTAMPTZ,
    escalated_to_id TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (workflow_instance_id, step_order)
);

CREATE INDEX IF NOT EXISTS workflow_step_instances_active
    ON workflow_step_instances (workflow_instance_id)
    WHERE status = 'in_progress';
CREATE INDEX IF NOT EXISTS workflow_step_instances_due
    ON workflow_step_instances (due_date)
    WHERE status = 'in_progress';

CREATE TABLE IF NOT EXISTS workflow_actions (
    id UUID PRIMARY KEY,
    workflow_instance_id UUID NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
    step_instance_id UUID,
    action_type TEXT NOT NULL,
    performed_by_id TEXT NOT NULL,
    performed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    comment TEXT,
    target_id TEXT,
    step_status_before TEXT,
    step_status_after TEXT
);

CREATE INDEX IF NOT EXISTS workflow_actions_instance
    ON workflow_actions (workflow_instance_id, performed_at);

CREATE TABLE IF NOT EXISTS workflow_templates (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    category TEXT,
    template_data JSONB NOT NULL,
    is_system BOOLEAN NOT NULL DEFAULT FALSE,
    usage_count INT NOT NULL DEFAULT 0,
    created_by TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS workflow_roles (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT,
    members JSONB NOT NULL DEFAULT '[]',
    permissions JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the schema to the connected database.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
