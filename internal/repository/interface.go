// Package repository provides persistence for workflow definitions,
// instances and audit records behind store interfaces.
package repository

import (
	"context"
	"time"

	"grcflow/pkg/models"
)

// InstanceFilter narrows instance listings. Zero-valued fields match all.
type InstanceFilter struct {
	EntityType string
	EntityID   string
	Status     models.InstanceStatus
	AssignedTo string
	Limit      int
	Offset     int
}

// OverdueStep is one scanner work item: an in-progress step instance past
// its due date, joined with the escalation configuration of its step
// definition and owning workflow.
type OverdueStep struct {
	StepInstance                 *models.WorkflowStepInstance
	InstanceID                   string
	WorkflowID                   string
	StepEscalationAssigneeID     *string
	WorkflowEscalationAssigneeID *string
}

// Store is the single persistence surface the engine, scanner and API
// read and write through. Implementations: PostgresStore (pgx) and
// MemoryStore (tests, dev seed).
type Store interface {
	// Workflow definitions
	CreateWorkflow(ctx context.Context, w *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	GetDefaultWorkflow(ctx context.Context, workflowType models.WorkflowType) (*models.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*models.Workflow, error)
	GetStep(ctx context.Context, stepID string) (*models.WorkflowStep, error)

	// Instances
	CreateInstance(ctx context.Context, inst *models.WorkflowInstance, steps []*models.WorkflowStepInstance) error
	GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error)
	// GetInstanceForUpdate locks the instance row for the duration of the
	// surrounding transaction, serializing concurrent actions.
	GetInstanceForUpdate(ctx context.Context, id string) (*models.WorkflowInstance, error)
	// UpdateInstance applies the mutation only when the stored version
	// equals expectedVersion, bumping it by one; ErrVersionConflict
	// otherwise.
	UpdateInstance(ctx context.Context, inst *models.WorkflowInstance, expectedVersion int) error
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*models.WorkflowInstance, error)

	// Step instances
	GetStepInstances(ctx context.Context, instanceID string) ([]*models.WorkflowStepInstance, error)
	GetActiveStepInstance(ctx context.Context, instanceID string) (*models.WorkflowStepInstance, error)
	UpdateStepInstance(ctx context.Context, si *models.WorkflowStepInstance) error
	ListOverdueSteps(ctx context.Context, now time.Time) ([]*OverdueStep, error)

	// Audit actions (append-only)
	AppendAction(ctx context.Context, a *models.WorkflowAction) error
	ListActions(ctx context.Context, instanceID string) ([]*models.WorkflowAction, error)

	// Templates
	CreateTemplate(ctx context.Context, t *models.WorkflowTemplate) error
	GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	ListTemplates(ctx context.Context) ([]*models.WorkflowTemplate, error)
	IncrementTemplateUsage(ctx context.Context, id string) error

	// Roles
	CreateRole(ctx context.Context, r *models.WorkflowRole) error
	GetRole(ctx context.Context, id string) (*models.WorkflowRole, error)
	GetRoleByName(ctx context.Context, name string) (*models.WorkflowRole, error)

	// Reporting
	DashboardSummary(ctx context.Context, now time.Time) (*models.DashboardSummary, error)

	Ping(ctx context.Context) error
}

// TxManager runs a function inside one transaction. Store calls made with
// the context it passes down participate in that transaction, so a whole
// ExecuteAction executes as one atomic unit.
type TxManager interface {
	ReadCommitted(ctx context.Context, fn func(ctx context.Context) error) error
}
