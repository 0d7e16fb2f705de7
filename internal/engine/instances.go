package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"grcflow/internal/notify"
	"grcflow/internal/repository"
	"grcflow/pkg/models"
)

// TriggerRequest carries the caller-supplied parameters of a new instance.
type TriggerRequest struct {
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Context    map[string]interface{} `json:"context_data,omitempty"`
	Priority   models.Priority        `json:"priority,omitempty"`
	ActorID    string                 `json:"-"`
}

func (r *TriggerRequest) validate() error {
	if r.EntityType == "" || r.EntityID == "" {
		return Errorf(ErrValidation, "entity_type and entity_id are required")
	}
	if r.Priority == "" {
		r.Priority = models.PriorityMedium
	}
	return nil
}

// CreateInstance starts a new instance of the given workflow: it
// materializes one pending step instance per step and advances into the
// first eligible step.
func (e *Engine) CreateInstance(ctx context.Context, workflowID string, req TriggerRequest) (*models.WorkflowInstance, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var inst *models.WorkflowInstance
	var events []notify.Event

	err := e.tx.ReadCommitted(ctx, func(ctx context.Context) error {
		w, err := e.store.GetWorkflow(ctx, workflowID)
		if errors.Is(err, repository.ErrNotFound) {
			return Errorf(ErrNotFound, "workflow %s", workflowID)
		}
		if err != nil {
			return fmt.Errorf("load workflow: %w", err)
		}
		if w.Status != models.WorkflowStatusActive {
			return Errorf(ErrNotFound, "workflow %s is not active", workflowID)
		}
		if len(w.Steps) == 0 {
			return Errorf(ErrValidation, "workflow %s has no steps", workflowID)
		}

		now := e.now()
		instDue := now.Add(time.Duration(w.DefaultTimeoutHours) * time.Hour)
		inst = &models.WorkflowInstance{
			ID:         uuid.New().String(),
			WorkflowID: w.ID,
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			Status:     models.InstanceStatusInitiated,
			Priority:   req.Priority,
			Context:    req.Context,
			DueDate:    &instDue,
			Version:    1,
			StartedAt:  &now,
		}
		if req.ActorID != "" {
			inst.CreatedBy = &req.ActorID
		}

		// one pending step instance per step, scheduling data snapshotted
		var stepInstances []*models.WorkflowStepInstance
		for _, st := range w.Steps {
			stepInstances = append(stepInstances, &models.WorkflowStepInstance{
				ID:                 uuid.New().String(),
				WorkflowInstanceID: inst.ID,
				WorkflowStepID:     st.ID,
				StepOrder:          st.StepOrder,
				Name:               st.Name,
				Status:             models.StepStatusPending,
				AssignedToID:       st.AssigneeID,
			})
		}
		if err := e.store.CreateInstance(ctx, inst, stepInstances); err != nil {
			return fmt.Errorf("create instance: %w", err)
		}

		if err := transitionInstance(inst, triggerStart); err != nil {
			return err
		}
		events, err = e.advance(ctx, inst, w)
		if err != nil {
			return err
		}
		return e.store.UpdateInstance(ctx, inst, 1)
	})
	if err != nil {
		return nil, err
	}

	e.instanceCounter.Add(ctx, 1)
	e.publish(events)
	e.logger.Info("workflow instance started",
		"instance_id", inst.ID, "workflow_id", inst.WorkflowID,
		"entity_type", inst.EntityType, "entity_id", inst.EntityID)
	return inst, nil
}

// TriggerByType starts an instance of the default active workflow for a
// workflow type.
func (e *Engine) TriggerByType(ctx context.Context, workflowType models.WorkflowType, req TriggerRequest) (*models.WorkflowInstance, error) {
	w, err := e.store.GetDefaultWorkflow(ctx, workflowType)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, Errorf(ErrNoDefaultWorkflow, "workflow type %s", workflowType)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve default workflow: %w", err)
	}
	return e.CreateInstance(ctx, w.ID, req)
}

// GetInstance loads one instance.
func (e *Engine) GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	inst, err := e.store.GetInstance(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, Errorf(ErrNotFound, "instance %s", id)
	}
	return inst, err
}

// advance moves the instance into its next runnable step: the lowest
// pending step whose condition holds. Steps whose condition fails are
// skipped in place. When no pending step remains the instance completes
// with an approved outcome. The caller persists the instance mutation.
func (e *Engine) advance(ctx context.Context, inst *models.WorkflowInstance, w *models.Workflow) ([]notify.Event, error) {
	stepDefs := make(map[string]*models.WorkflowStep, len(w.Steps))
	for _, st := range w.Steps {
		stepDefs[st.ID] = st
	}

	stepInstances, err := e.store.GetStepInstances(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("load step instances: %w", err)
	}

	var events []notify.Event
	now := e.now()

	for _, si := range stepInstances {
		if si.Status != models.StepStatusPending {
			continue
		}
		def := stepDefs[si.WorkflowStepID]

		if def != nil && def.ConditionExpression != nil {
			met, err := EvaluateCondition(*def.ConditionExpression, inst.Context)
			if err != nil {
				// a broken expression must not wedge the instance; run the
				// step and let a human decide
				e.logger.Warn("condition evaluation failed, running step",
					"instance_id", inst.ID, "step_order", si.StepOrder, "error", err)
				met = true
			}
			if !met {
				if err := transitionStep(si, triggerSkip); err != nil {
					return nil, err
				}
				outcome := models.OutcomeSkipped
				reason := "condition not met"
				si.Outcome = &outcome
				si.OutcomeReason = &reason
				si.CompletedAt = &now
				if err := e.store.UpdateStepInstance(ctx, si); err != nil {
					return nil, fmt.Errorf("skip step %d: %w", si.StepOrder, err)
				}
				continue
			}
		}

		if err := transitionStep(si, triggerStart); err != nil {
			return nil, err
		}
		si.StartedAt = &now
		due := now.Add(time.Duration(e.stepTimeoutHours(def, w)) * time.Hour)
		si.DueDate = &due
		if err := e.store.UpdateStepInstance(ctx, si); err != nil {
			return nil, fmt.Errorf("start step %d: %w", si.StepOrder, err)
		}

		stepID := si.WorkflowStepID
		inst.CurrentStepID = &stepID

		event := notify.Event{
			Type:           notify.EventStepStarted,
			InstanceID:     inst.ID,
			StepInstanceID: si.ID,
			EntityType:     inst.EntityType,
			EntityID:       inst.EntityID,
			OccurredAt:     now,
		}
		if si.AssignedToID != nil {
			event.Assignee = *si.AssignedToID
		}
		return append(events, event), nil
	}

	// nothing left to run
	if err := transitionInstance(inst, triggerComplete); err != nil {
		return nil, err
	}
	outcome := models.OutcomeApproved
	inst.FinalOutcome = &outcome
	inst.CompletedAt = &now
	inst.CurrentStepID = nil

	return append(events, notify.Event{
		Type:       notify.EventInstanceCompleted,
		InstanceID: inst.ID,
		EntityType: inst.EntityType,
		EntityID:   inst.EntityID,
		OccurredAt: now,
	}), nil
}

func (e *Engine) stepTimeoutHours(def *models.WorkflowStep, w *models.Workflow) int {
	if def != nil {
		return def.EffectiveTimeoutHours(w)
	}
	return w.DefaultTimeoutHours
}

func (e *Engine) publish(events []notify.Event) {
	for _, event := range events {
		e.notifier.Publish(event)
	}
}
