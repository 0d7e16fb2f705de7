package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"grcflow/pkg/models"
)

// PostgresStore is the pgx implementation of the Store interface. All free
// form fields round-trip through JSONB columns.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// db returns the ambient transaction when one is carried in ctx, otherwise
// the pool itself.
func (s *PostgresStore) db(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

func toJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func fromJSON(b []byte, dst interface{}) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ---- workflow definitions ----

const workflowColumns = `id, workflow_type, name, description, status, is_default, auto_trigger,
	default_timeout_hours, escalation_enabled, escalation_assignee_id,
	trigger_conditions, tags, version, created_by, created_at, updated_at`

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var w models.Workflow
	var conditions, tags []byte
	err := row.Scan(&w.ID, &w.WorkflowType, &w.Name, &w.Description, &w.Status, &w.IsDefault,
		&w.AutoTrigger, &w.DefaultTimeoutHours, &w.EscalationEnabled, &w.EscalationAssigneeID,
		&conditions, &tags, &w.Version, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(conditions, &w.TriggerConditions); err != nil {
		return nil, fmt.Errorf("decode trigger_conditions: %w", err)
	}
	if err := fromJSON(tags, &w.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return &w, nil
}

// CreateWorkflow inserts a workflow and its nested steps in one transaction.
func (s *PostgresStore) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	conditions, err := toJSON(w.TriggerConditions)
	if err != nil {
		return fmt.Errorf("encode trigger_conditions: %w", err)
	}
	tags, err := toJSON(w.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	db := s.db(ctx)
	_, err = db.Exec(ctx, `INSERT INTO workflows
		(id, workflow_type, name, description, status, is_default, auto_trigger,
		 default_timeout_hours, escalation_enabled, escalation_assignee_id,
		 trigger_conditions, tags, version, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		w.ID, w.WorkflowType, w.Name, w.Description, w.Status, w.IsDefault, w.AutoTrigger,
		w.DefaultTimeoutHours, w.EscalationEnabled, w.EscalationAssigneeID,
		conditions, tags, w.Version, w.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	for _, st := range w.Steps {
		if err := s.insertStep(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) insertStep(ctx context.Context, st *models.WorkflowStep) error {
	allowed, err := toJSON(st.AllowedActions)
	if err != nil {
		return fmt.Errorf("encode allowed_actions: %w", err)
	}
	custom, err := toJSON(st.CustomFields)
	if err != nil {
		return fmt.Errorf("encode custom_fields: %w", err)
	}

	_, err = s.db(ctx).Exec(ctx, `INSERT INTO workflow_steps
		(id, workflow_id, step_order, name, description, step_type, assignee_type, assignee_id,
		 approval_required, min_approvals, unanimous_required, can_skip, timeout_hours,
		 escalation_assignee_id, condition_expression, allowed_actions, custom_fields)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		st.ID, st.WorkflowID, st.StepOrder, st.Name, st.Description, st.StepType,
		st.AssigneeType, st.AssigneeID, st.ApprovalRequired, st.MinApprovals,
		st.UnanimousRequired, st.CanSkip, st.TimeoutHours, st.EscalationAssigneeID,
		st.ConditionExpression, allowed, custom)
	if err != nil {
		return fmt.Errorf("insert workflow step: %w", err)
	}
	return nil
}

const stepColumns = `id, workflow_id, step_order, name, description, step_type, assignee_type,
	assignee_id, approval_required, min_approvals, unanimous_required, can_skip, timeout_hours,
	escalation_assignee_id, condition_expression, allowed_actions, custom_fields,
	created_at, updated_at`

func scanStep(row pgx.Row) (*models.WorkflowStep, error) {
	var st models.WorkflowStep
	var allowed, custom []byte
	err := row.Scan(&st.ID, &st.WorkflowID, &st.StepOrder, &st.Name, &st.Description,
		&st.StepType, &st.AssigneeType, &st.AssigneeID, &st.ApprovalRequired,
		&st.MinApprovals, &st.UnanimousRequired, &st.CanSkip, &st.TimeoutHours,
		&st.EscalationAssigneeID, &st.ConditionExpression, &allowed, &custom,
		&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(allowed, &st.AllowedActions); err != nil {
		return nil, fmt.Errorf("decode allowed_actions: %w", err)
	}
	if err := fromJSON(custom, &st.CustomFields); err != nil {
		return nil, fmt.Errorf("decode custom_fields: %w", err)
	}
	return &st, nil
}

// GetWorkflow loads a workflow with its steps ordered by step_order.
func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	db := s.db(ctx)
	w, err := scanWorkflow(db.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	w.Steps, err = s.listSteps(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s *PostgresStore) listSteps(ctx context.Context, workflowID string) ([]*models.WorkflowStep, error) {
	rows, err := s.db(ctx).Query(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps WHERE workflow_id = $1 ORDER BY step_order`,
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.WorkflowStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// GetDefaultWorkflow resolves the unique active default workflow for a type.
func (s *PostgresStore) GetDefaultWorkflow(ctx context.Context, workflowType models.WorkflowType) (*models.Workflow, error) {
	w, err := scanWorkflow(s.db(ctx).QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows
		 WHERE workflow_type = $1 AND is_default AND status = 'active'`, workflowType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.Steps, err = s.listSteps(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ListWorkflows returns all workflows without their steps.
func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := s.db(ctx).Query(ctx,
		`SELECT `+workflowColumns+` FROM workflows ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetStep loads one step definition by id.
func (s *PostgresStore) GetStep(ctx context.Context, stepID string) (*models.WorkflowStep, error) {
	st, err := scanStep(s.db(ctx).QueryRow(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps WHERE id = $1`, stepID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return st, err
}

// ---- instances ----

const instanceColumns = `id, workflow_id, entity_type, entity_id, status, current_step_id,
	priority, context, due_date, final_outcome, version, started_at, completed_at,
	created_by, created_at, updated_at`

func scanInstance(row pgx.Row) (*models.WorkflowInstance, error) {
	var inst models.WorkflowInstance
	var contextData []byte
	err := row.Scan(&inst.ID, &inst.WorkflowID, &inst.EntityType, &inst.EntityID, &inst.Status,
		&inst.CurrentStepID, &inst.Priority, &contextData, &inst.DueDate, &inst.FinalOutcome,
		&inst.Version, &inst.StartedAt, &inst.CompletedAt, &inst.CreatedBy,
		&inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(contextData, &inst.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return &inst, nil
}

// CreateInstance inserts the instance and its materialized step instances.
func (s *PostgresStore) CreateInstance(ctx context.Context, inst *models.WorkflowInstance, steps []*models.WorkflowStepInstance) error {
	contextData, err := toJSON(inst.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	db := s.db(ctx)
	_, err = db.Exec(ctx, `INSERT INTO workflow_instances
		(id, workflow_id, entity_type, entity_id, status, current_step_id, priority,
		 context, due_date, final_outcome, version, started_at, completed_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		inst.ID, inst.WorkflowID, inst.EntityType, inst.EntityID, inst.Status,
		inst.CurrentStepID, inst.Priority, contextData, inst.DueDate, inst.FinalOutcome,
		inst.Version, inst.StartedAt, inst.CompletedAt, inst.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}

	for _, si := range steps {
		approved, err := toJSON(si.ApprovedBy)
		if err != nil {
			return fmt.Errorf("encode approved_by: %w", err)
		}
		_, err = db.Exec(ctx, `INSERT INTO workflow_step_instances
			(id, workflow_instance_id, workflow_step_id, step_order, name, status,
			 assigned_to_id, assigned_at, started_at, completed_at, due_date,
			 outcome, outcome_reason, approved_by, escalated_at, escalated_to_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			si.ID, si.WorkflowInstanceID, si.WorkflowStepID, si.StepOrder, si.Name, si.Status,
			si.AssignedToID, si.AssignedAt, si.StartedAt, si.CompletedAt, si.DueDate,
			si.Outcome, si.OutcomeReason, approved, si.EscalatedAt, si.EscalatedToID)
		if err != nil {
			return fmt.Errorf("insert step instance: %w", err)
		}
	}
	return nil
}

// GetInstance loads one instance by id.
func (s *PostgresStore) GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	inst, err := scanInstance(s.db(ctx).QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inst, err
}

// GetInstanceForUpdate locks the instance row for the ambient transaction.
func (s *PostgresStore) GetInstanceForUpdate(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	inst, err := scanInstance(s.db(ctx).QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inst, err
}

// UpdateInstance applies the mutation with an optimistic version check.
func (s *PostgresStore) UpdateInstance(ctx context.Context, inst *models.WorkflowInstance, expectedVersion int) error {
	contextData, err := toJSON(inst.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	tag, err := s.db(ctx).Exec(ctx, `UPDATE workflow_instances SET
		status = $1, current_step_id = $2, priority = $3, context = $4, due_date = $5,
		final_outcome = $6, started_at = $7, completed_at = $8,
		version = version + 1, updated_at = now()
		WHERE id = $9 AND version = $10`,
		inst.Status, inst.CurrentStepID, inst.Priority, contextData, inst.DueDate,
		inst.FinalOutcome, inst.StartedAt, inst.CompletedAt, inst.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	inst.Version = expectedVersion + 1
	return nil
}

// ListInstances returns instances matching the filter, newest first.
func (s *PostgresStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*models.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.EntityType != "" {
		query += ` AND entity_type = ` + arg(filter.EntityType)
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ` + arg(filter.EntityID)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(filter.Status)
	}
	if filter.AssignedTo != "" {
		query += ` AND id IN (SELECT workflow_instance_id FROM workflow_step_instances
			WHERE status = 'in_progress' AND assigned_to_id = ` + arg(filter.AssignedTo) + `)`
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// ---- step instances ----

const stepInstanceColumns = `id, workflow_instance_id, workflow_step_id, step_order, name, status,
	assigned_to_id, assigned_at, started_at, completed_at, due_date, outcome, outcome_reason,
	approved_by, escalated_at, escalated_to_id, created_at, updated_at`

func scanStepInstance(row pgx.Row) (*models.WorkflowStepInstance, error) {
	var si models.WorkflowStepInstance
	var approved []byte
	err := row.Scan(&si.ID, &si.WorkflowInstanceID, &si.WorkflowStepID, &si.StepOrder, &si.Name,
		&si.Status, &si.AssignedToID, &si.AssignedAt, &si.StartedAt, &si.CompletedAt,
		&si.DueDate, &si.Outcome, &si.OutcomeReason, &approved, &si.EscalatedAt,
		&si.EscalatedToID, &si.CreatedAt, &si.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(approved, &si.ApprovedBy); err != nil {
		return nil, fmt.Errorf("decode approved_by: %w", err)
	}
	return &si, nil
}

// GetStepInstances returns all step instances of one instance in order.
func (s *PostgresStore) GetStepInstances(ctx context.Context, instanceID string) ([]*models.WorkflowStepInstance, error) {
	rows, err := s.db(ctx).Query(ctx,
		`SELECT `+stepInstanceColumns+` FROM workflow_step_instances
		 WHERE workflow_instance_id = $1 ORDER BY step_order`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WorkflowStepInstance
	for rows.Next() {
		si, err := scanStepInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// GetActiveStepInstance returns the single in-progress step instance for an
// instance, or ErrNotFound when none exists.
func (s *PostgresStore) GetActiveStepInstance(ctx context.Context, instanceID string) (*models.WorkflowStepInstance, error) {
	si, err := scanStepInstance(s.db(ctx).QueryRow(ctx,
		`SELECT `+stepInstanceColumns+` FROM workflow_step_instances
		 WHERE workflow_instance_id = $1 AND status = 'in_progress'`, instanceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return si, err
}

// UpdateStepInstance persists engine mutations of a step instance.
func (s *PostgresStore) UpdateStepInstance(ctx context.Context, si *models.WorkflowStepInstance) error {
	approved, err := toJSON(si.ApprovedBy)
	if err != nil {
		return fmt.Errorf("encode approved_by: %w", err)
	}

	tag, err := s.db(ctx).Exec(ctx, `UPDATE workflow_step_instances SET
		status = $1, assigned_to_id = $2, assigned_at = $3, started_at = $4, completed_at = $5,
		due_date = $6, outcome = $7, outcome_reason = $8, approved_by = $9,
		escalated_at = $10, escalated_to_id = $11, updated_at = now()
		WHERE id = $12`,
		si.Status, si.AssignedToID, si.AssignedAt, si.StartedAt, si.CompletedAt,
		si.DueDate, si.Outcome, si.OutcomeReason, approved,
		si.EscalatedAt, si.EscalatedToID, si.ID)
	if err != nil {
		return fmt.Errorf("update step instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOverdueSteps returns in-progress step instances past their due date
// whose workflow has escalation enabled and whose instance is not terminal.
func (s *PostgresStore) ListOverdueSteps(ctx context.Context, now time.Time) ([]*OverdueStep, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT si.id, si.workflow_instance_id, si.workflow_step_id, si.step_order, si.name,
		       si.status, si.assigned_to_id, si.assigned_at, si.started_at, si.completed_at,
		       si.due_date, si.outcome, si.outcome_reason, si.approved_by, si.escalated_at,
		       si.escalated_to_id, si.created_at, si.updated_at,
		       i.workflow_id, ws.escalation_assignee_id, w.escalation_assignee_id
		FROM workflow_step_instances si
		JOIN workflow_instances i ON i.id = si.workflow_instance_id
		JOIN workflows w ON w.id = i.workflow_id
		LEFT JOIN workflow_steps ws ON ws.id = si.workflow_step_id
		WHERE si.status = 'in_progress'
		  AND si.due_date IS NOT NULL AND si.due_date < $1
		  AND w.escalation_enabled
		  AND i.status NOT IN ('completed','rejected','cancelled')
		ORDER BY si.due_date`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OverdueStep
	for rows.Next() {
		var si models.WorkflowStepInstance
		var approved []byte
		item := &OverdueStep{StepInstance: &si}
		err := rows.Scan(&si.ID, &si.WorkflowInstanceID, &si.WorkflowStepID, &si.StepOrder,
			&si.Name, &si.Status, &si.AssignedToID, &si.AssignedAt, &si.StartedAt,
			&si.CompletedAt, &si.DueDate, &si.Outcome, &si.OutcomeReason, &approved,
			&si.EscalatedAt, &si.EscalatedToID, &si.CreatedAt, &si.UpdatedAt,
			&item.WorkflowID, &item.StepEscalationAssigneeID, &item.WorkflowEscalationAssigneeID)
		if err != nil {
			return nil, err
		}
		if err := fromJSON(approved, &si.ApprovedBy); err != nil {
			return nil, fmt.Errorf("decode approved_by: %w", err)
		}
		item.InstanceID = si.WorkflowInstanceID
		out = append(out, item)
	}
	return out, rows.Err()
}

// ---- audit actions ----

// AppendAction inserts one immutable audit row.
func (s *PostgresStore) AppendAction(ctx context.Context, a *models.WorkflowAction) error {
	_, err := s.db(ctx).Exec(ctx, `INSERT INTO workflow_actions
		(id, workflow_instance_id, step_instance_id, action_type, performed_by_id,
		 performed_at, comment, target_id, step_status_before, step_status_after)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.WorkflowInstanceID, a.StepInstanceID, a.ActionType, a.PerformedByID,
		a.PerformedAt, a.Comment, a.TargetID, a.StepStatusBefore, a.StepStatusAfter)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// ListActions returns the audit trail of one instance in execution order.
func (s *PostgresStore) ListActions(ctx context.Context, instanceID string) ([]*models.WorkflowAction, error) {
	rows, err := s.db(ctx).Query(ctx, `SELECT id, workflow_instance_id, step_instance_id,
		action_type, performed_by_id, performed_at, comment, target_id,
		step_status_before, step_status_after
		FROM workflow_actions WHERE workflow_instance_id = $1 ORDER BY performed_at`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WorkflowAction
	for rows.Next() {
		var a models.WorkflowAction
		err := rows.Scan(&a.ID, &a.WorkflowInstanceID, &a.StepInstanceID, &a.ActionType,
			&a.PerformedByID, &a.PerformedAt, &a.Comment, &a.TargetID,
			&a.StepStatusBefore, &a.StepStatusAfter)
		if err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ---- templates ----

const templateColumns = `id, name, description, category, template_data, is_system,
	usage_count, created_by, created_at, updated_at`

func scanTemplate(row pgx.Row) (*models.WorkflowTemplate, error) {
	var t models.WorkflowTemplate
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Category, &t.TemplateData,
		&t.IsSystem, &t.UsageCount, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTemplate inserts a template.
func (s *PostgresStore) CreateTemplate(ctx context.Context, t *models.WorkflowTemplate) error {
	_, err := s.db(ctx).Exec(ctx, `INSERT INTO workflow_templates
		(id, name, description, category, template_data, is_system, usage_count, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.Name, t.Description, t.Category, t.TemplateData, t.IsSystem,
		t.UsageCount, t.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// GetTemplate loads one template by id.
func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	t, err := scanTemplate(s.db(ctx).QueryRow(ctx,
		`SELECT `+templateColumns+` FROM workflow_templates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTemplates returns all templates.
func (s *PostgresStore) ListTemplates(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	rows, err := s.db(ctx).Query(ctx,
		`SELECT `+templateColumns+` FROM workflow_templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WorkflowTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// IncrementTemplateUsage bumps usage_count by one.
func (s *PostgresStore) IncrementTemplateUsage(ctx context.Context, id string) error {
	tag, err := s.db(ctx).Exec(ctx,
		`UPDATE workflow_templates SET usage_count = usage_count + 1, updated_at = now()
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment template usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- roles ----

const roleColumns = `id, name, description, members, permissions, created_at, updated_at`

func scanRole(row pgx.Row) (*models.WorkflowRole, error) {
	var r models.WorkflowRole
	var members, permissions []byte
	err := row.Scan(&r.ID, &r.Name, &r.Description, &members, &permissions,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(members, &r.Members); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	if err := fromJSON(permissions, &r.Permissions); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	return &r, nil
}

// CreateRole inserts a role.
func (s *PostgresStore) CreateRole(ctx context.Context, r *models.WorkflowRole) error {
	members, err := toJSON(r.Members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	if members == nil {
		members = []byte("[]")
	}
	permissions, err := toJSON(r.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}

	_, err = s.db(ctx).Exec(ctx, `INSERT INTO workflow_roles
		(id, name, description, members, permissions) VALUES ($1,$2,$3,$4,$5)`,
		r.ID, r.Name, r.Description, members, permissions)
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

// GetRole loads one role by id.
func (s *PostgresStore) GetRole(ctx context.Context, id string) (*models.WorkflowRole, error) {
	r, err := scanRole(s.db(ctx).QueryRow(ctx,
		`SELECT `+roleColumns+` FROM workflow_roles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// GetRoleByName loads one role by unique name.
func (s *PostgresStore) GetRoleByName(ctx context.Context, name string) (*models.WorkflowRole, error) {
	r, err := scanRole(s.db(ctx).QueryRow(ctx,
		`SELECT `+roleColumns+` FROM workflow_roles WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ---- reporting ----

// DashboardSummary computes engine-wide aggregate counts.
func (s *PostgresStore) DashboardSummary(ctx context.Context, now time.Time) (*models.DashboardSummary, error) {
	db := s.db(ctx)
	var sum models.DashboardSummary

	err := db.QueryRow(ctx, `SELECT
		count(*) FILTER (WHERE status = 'pending'),
		count(*) FILTER (WHERE status = 'in_progress'),
		count(*) FILTER (WHERE status = 'in_progress' AND due_date IS NOT NULL AND due_date < $1)
		FROM workflow_step_instances`, now).
		Scan(&sum.PendingSteps, &sum.ActiveSteps, &sum.OverdueSteps)
	if err != nil {
		return nil, fmt.Errorf("step counts: %w", err)
	}

	var completed, rejected int
	err = db.QueryRow(ctx, `SELECT
		count(*) FILTER (WHERE status = 'completed'),
		count(*) FILTER (WHERE status = 'rejected')
		FROM workflow_instances`).Scan(&completed, &rejected)
	if err != nil {
		return nil, fmt.Errorf("instance counts: %w", err)
	}
	if completed+rejected > 0 {
		sum.ApprovalRate = float64(completed) / float64(completed+rejected)
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	err = db.QueryRow(ctx, `SELECT count(*) FROM workflow_instances
		WHERE status = 'completed' AND completed_at >= $1`, dayStart).
		Scan(&sum.CompletedToday)
	if err != nil {
		return nil, fmt.Errorf("completed today: %w", err)
	}

	return &sum, nil
}
