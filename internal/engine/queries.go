package engine

import (
	"context"
	"errors"
	"fmt"

	"grcflow/internal/repository"
	"grcflow/pkg/models"
)

// WorklistItem pairs an in-progress step instance with its owning instance
// for assignee-centric views.
type WorklistItem struct {
	Instance *models.WorkflowInstance     `json:"instance"`
	Step     *models.WorkflowStepInstance `json:"step"`
}

// ListWorkflows returns all workflow definitions with their steps.
func (e *Engine) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	return e.store.ListWorkflows(ctx)
}

// ListInstances returns instances matching the filter, newest first.
func (e *Engine) ListInstances(ctx context.Context, filter repository.InstanceFilter) ([]*models.WorkflowInstance, error) {
	return e.store.ListInstances(ctx, filter)
}

// GetStepInstances returns the step instances of one instance in step
// order.
func (e *Engine) GetStepInstances(ctx context.Context, instanceID string) ([]*models.WorkflowStepInstance, error) {
	if _, err := e.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return e.store.GetStepInstances(ctx, instanceID)
}

// ListActions returns the audit trail of one instance in execution order.
func (e *Engine) ListActions(ctx context.Context, instanceID string) ([]*models.WorkflowAction, error) {
	if _, err := e.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return e.store.ListActions(ctx, instanceID)
}

// Worklist returns the active steps currently waiting on the given
// assignee, paired with their instances.
func (e *Engine) Worklist(ctx context.Context, assignee string) ([]*WorklistItem, error) {
	if assignee == "" {
		return nil, Errorf(ErrValidation, "assignee is required")
	}

	instances, err := e.store.ListInstances(ctx, repository.InstanceFilter{
		Status:     models.InstanceStatusInProgress,
		AssignedTo: assignee,
	})
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	items := make([]*WorklistItem, 0, len(instances))
	for _, inst := range instances {
		si, err := e.store.GetActiveStepInstance(ctx, inst.ID)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load active step: %w", err)
		}
		items = append(items, &WorklistItem{Instance: inst, Step: si})
	}
	return items, nil
}

// DashboardSummary aggregates engine-wide counts for reporting.
func (e *Engine) DashboardSummary(ctx context.Context) (*models.DashboardSummary, error) {
	return e.store.DashboardSummary(ctx, e.now())
}
