package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"grcflow/internal/notify"
	"grcflow/internal/repository"
	"grcflow/pkg/models"
)

// ActionRequest carries one action against the active step of an instance.
type ActionRequest struct {
	Action   models.ActionType `json:"action_type"`
	ActorID  string            `json:"performed_by"`
	Comment  string            `json:"comment,omitempty"`
	TargetID *string           `json:"target_id,omitempty"`
}

// ExecuteAction validates and applies one action against the single active
// step of an instance. The whole operation (load, validate, mutate, audit)
// runs in one transaction holding a row lock on the instance, so concurrent
// callers serialize and the single-active-step invariant holds.
func (e *Engine) ExecuteAction(ctx context.Context, instanceID string, req ActionRequest) (*models.WorkflowAction, error) {
	if !models.ValidActionType(string(req.Action)) {
		return nil, Errorf(ErrValidation, "unknown action_type %q", req.Action)
	}
	if req.ActorID == "" {
		return nil, Errorf(ErrValidation, "performed_by is required")
	}

	var record *models.WorkflowAction
	var events []notify.Event

	err := e.tx.ReadCommitted(ctx, func(ctx context.Context) error {
		inst, err := e.store.GetInstanceForUpdate(ctx, instanceID)
		if errors.Is(err, repository.ErrNotFound) {
			return Errorf(ErrNotFound, "instance %s", instanceID)
		}
		if err != nil {
			return fmt.Errorf("load instance: %w", err)
		}
		if inst.Status.Terminal() {
			return Errorf(ErrNotActive, "instance %s is %s", instanceID, inst.Status)
		}
		expectedVersion := inst.Version

		si, err := e.store.GetActiveStepInstance(ctx, instanceID)
		if errors.Is(err, repository.ErrNotFound) {
			return Errorf(ErrNoActiveStep, "instance %s has no in-progress step", instanceID)
		}
		if err != nil {
			return fmt.Errorf("load active step: %w", err)
		}

		def, err := e.store.GetStep(ctx, si.WorkflowStepID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("load step definition: %w", err)
			}
			// definition deleted under a running instance: act on the
			// snapshot with permissive defaults
			e.logger.Warn("step definition missing for active step",
				"instance_id", instanceID, "step_id", si.WorkflowStepID)
			def = nil
		}
		if def != nil && !def.AllowsAction(req.Action) {
			return Errorf(ErrActionNotAllowed,
				"action %s not allowed in step %q", req.Action, def.Name)
		}

		before := string(si.Status)
		now := e.now()

		switch req.Action {
		case models.ActionApprove:
			events, err = e.applyApprove(ctx, inst, si, def, req, now)
		case models.ActionReject:
			events, err = e.applyReject(ctx, inst, si, req, now)
		case models.ActionReassign:
			err = e.applyReassign(ctx, si, req, now)
		case models.ActionEscalate:
			events, err = e.applyEscalate(ctx, inst, si, req, now)
		case models.ActionSkip:
			events, err = e.applySkip(ctx, inst, si, def, req, now)
		case models.ActionCancel:
			events, err = e.applyCancel(ctx, inst, si, req, now)
		}
		if err != nil {
			return err
		}

		after := string(si.Status)
		record = &models.WorkflowAction{
			ID:                 uuid.New().String(),
			WorkflowInstanceID: inst.ID,
			StepInstanceID:     &si.ID,
			ActionType:         req.Action,
			PerformedByID:      req.ActorID,
			PerformedAt:        now,
			TargetID:           req.TargetID,
			StepStatusBefore:   &before,
			StepStatusAfter:    &after,
		}
		if req.Comment != "" {
			record.Comment = &req.Comment
		}
		if err := e.store.AppendAction(ctx, record); err != nil {
			return fmt.Errorf("append action: %w", err)
		}

		if err := e.store.UpdateInstance(ctx, inst, expectedVersion); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				return Errorf(ErrConflict, "instance %s was modified concurrently", instanceID)
			}
			return fmt.Errorf("update instance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.actionCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action", string(req.Action))))
	e.publish(events)
	e.logger.Info("workflow action executed",
		"instance_id", instanceID, "action", string(req.Action), "actor", req.ActorID)
	return record, nil
}

// applyApprove records the actor's approval and completes the step once the
// approval policy is satisfied. Approvals are idempotent per actor.
func (e *Engine) applyApprove(ctx context.Context, inst *models.WorkflowInstance, si *models.WorkflowStepInstance, def *models.WorkflowStep, req ActionRequest, now time.Time) ([]notify.Event, error) {
	if !si.HasApproval(req.ActorID) {
		si.ApprovedBy = append(si.ApprovedBy, req.ActorID)
	}

	satisfied, err := e.approvalsSatisfied(ctx, si, def)
	if err != nil {
		return nil, err
	}
	if !satisfied {
		// stay in progress, waiting for further approvers
		return nil, e.store.UpdateStepInstance(ctx, si)
	}

	if err := transitionStep(si, triggerComplete); err != nil {
		return nil, err
	}
	outcome := models.OutcomeApproved
	si.Outcome = &outcome
	si.CompletedAt = &now
	if err := e.store.UpdateStepInstance(ctx, si); err != nil {
		return nil, fmt.Errorf("complete step: %w", err)
	}

	return e.advanceLoaded(ctx, inst)
}

// approvalsSatisfied implements the approval-count policy: min_approvals
// distinct approvers, or every role member when unanimity is required.
// Steps without an approval requirement complete on the first approval.
func (e *Engine) approvalsSatisfied(ctx context.Context, si *models.WorkflowStepInstance, def *models.WorkflowStep) (bool, error) {
	if def == nil || !def.ApprovalRequired {
		return true, nil
	}

	if def.UnanimousRequired && def.AssigneeType == models.AssigneeTypeRole && def.AssigneeID != nil {
		role, err := e.store.GetRole(ctx, *def.AssigneeID)
		if errors.Is(err, repository.ErrNotFound) {
			role, err = e.store.GetRoleByName(ctx, *def.AssigneeID)
		}
		if errors.Is(err, repository.ErrNotFound) {
			// role deleted: fall back to the numeric threshold
			e.logger.Warn("unanimous step references unknown role",
				"step_id", def.ID, "assignee_id", *def.AssigneeID)
			return len(si.ApprovedBy) >= def.MinApprovals, nil
		}
		if err != nil {
			return false, fmt.Errorf("load role: %w", err)
		}
		if len(role.Members) == 0 {
			return len(si.ApprovedBy) >= def.MinApprovals, nil
		}
		for _, member := range role.Members {
			if !si.HasApproval(member) {
				return false, nil
			}
		}
		return true, nil
	}

	return len(si.ApprovedBy) >= def.MinApprovals, nil
}

func (e *Engine) applyReject(ctx context.Context, inst *models.WorkflowInstance, si *models.WorkflowStepInstance, req ActionRequest, now time.Time) ([]notify.Event, error) {
	if err := transitionStep(si, triggerReject); err != nil {
		return nil, err
	}
	outcome := models.OutcomeRejected
	si.Outcome = &outcome
	if req.Comment != "" {
		si.OutcomeReason = &req.Comment
	}
	si.CompletedAt = &now
	if err := e.store.UpdateStepInstance(ctx, si); err != nil {
		return nil, fmt.Errorf("reject step: %w", err)
	}

	// rejection terminates immediately, later steps never start
	if err := transitionInstance(inst, triggerReject); err != nil {
		return nil, err
	}
	inst.FinalOutcome = &outcome
	inst.CompletedAt = &now
	inst.CurrentStepID = nil

	return []notify.Event{{
		Type:       notify.EventInstanceRejected,
		InstanceID: inst.ID,
		EntityType: inst.EntityType,
		EntityID:   inst.EntityID,
		OccurredAt: now,
	}}, nil
}

func (e *Engine) applyReassign(ctx context.Context, si *models.WorkflowStepInstance, req ActionRequest, now time.Time) error {
	if req.TargetID == nil || *req.TargetID == "" {
		return Errorf(ErrValidation, "reassign requires target_id")
	}
	si.AssignedToID = req.TargetID
	si.AssignedAt = &now
	return e.store.UpdateStepInstance(ctx, si)
}

// applyEscalate changes ownership without completing the step; the due
// date is deliberately left untouched.
func (e *Engine) applyEscalate(ctx context.Context, inst *models.WorkflowInstance, si *models.WorkflowStepInstance, req ActionRequest, now time.Time) ([]notify.Event, error) {
	if req.TargetID == nil || *req.TargetID == "" {
		return nil, Errorf(ErrValidation, "escalate requires target_id")
	}
	si.EscalatedAt = &now
	si.EscalatedToID = req.TargetID
	si.AssignedToID = req.TargetID
	si.AssignedAt = &now
	if err := e.store.UpdateStepInstance(ctx, si); err != nil {
		return nil, fmt.Errorf("escalate step: %w", err)
	}

	e.escalationCounter.Add(ctx, 1)
	return []notify.Event{{
		Type:           notify.EventStepEscalated,
		InstanceID:     inst.ID,
		StepInstanceID: si.ID,
		EntityType:     inst.EntityType,
		EntityID:       inst.EntityID,
		Assignee:       *req.TargetID,
		OccurredAt:     now,
	}}, nil
}

func (e *Engine) applySkip(ctx context.Context, inst *models.WorkflowInstance, si *models.WorkflowStepInstance, def *models.WorkflowStep, req ActionRequest, now time.Time) ([]notify.Event, error) {
	if def == nil || !def.CanSkip {
		return nil, Errorf(ErrActionNotAllowed, "step %q cannot be skipped", si.Name)
	}
	if err := transitionStep(si, triggerSkip); err != nil {
		return nil, err
	}
	outcome := models.OutcomeSkipped
	si.Outcome = &outcome
	if req.Comment != "" {
		si.OutcomeReason = &req.Comment
	}
	si.CompletedAt = &now
	if err := e.store.UpdateStepInstance(ctx, si); err != nil {
		return nil, fmt.Errorf("skip step: %w", err)
	}

	return e.advanceLoaded(ctx, inst)
}

func (e *Engine) applyCancel(ctx context.Context, inst *models.WorkflowInstance, si *models.WorkflowStepInstance, req ActionRequest, now time.Time) ([]notify.Event, error) {
	if err := transitionStep(si, triggerCancel); err != nil {
		return nil, err
	}
	outcome := models.OutcomeCancelled
	si.Outcome = &outcome
	if req.Comment != "" {
		si.OutcomeReason = &req.Comment
	}
	si.CompletedAt = &now
	if err := e.store.UpdateStepInstance(ctx, si); err != nil {
		return nil, fmt.Errorf("cancel step: %w", err)
	}

	if err := transitionInstance(inst, triggerCancel); err != nil {
		return nil, err
	}
	inst.FinalOutcome = &outcome
	inst.CompletedAt = &now
	inst.CurrentStepID = nil

	return []notify.Event{{
		Type:       notify.EventInstanceCancelled,
		InstanceID: inst.ID,
		EntityType: inst.EntityType,
		EntityID:   inst.EntityID,
		OccurredAt: now,
	}}, nil
}

// advanceLoaded reloads the workflow definition and advances the instance.
func (e *Engine) advanceLoaded(ctx context.Context, inst *models.WorkflowInstance) ([]notify.Event, error) {
	w, err := e.store.GetWorkflow(ctx, inst.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	return e.advance(ctx, inst, w)
}
