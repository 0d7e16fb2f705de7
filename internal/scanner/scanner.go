// Package scanner runs the periodic overdue-step sweep: in-progress steps
// past their due date get escalated to the configured escalation assignee,
// or flagged as overdue when no target exists.
package scanner

import (
	"context"
	"time"

	"grcflow/internal/engine"
	"grcflow/internal/logging"
	"grcflow/internal/notify"
	"grcflow/internal/repository"
	"grcflow/pkg/models"
)

// Scanner sweeps for overdue steps on a fixed interval.
type Scanner struct {
	engine   *engine.Engine
	store    repository.Store
	notifier notify.Notifier
	logger   *logging.Logger

	interval   time.Duration
	reescalate bool

	now func() time.Time
}

// New creates a Scanner. When reescalate is false each step is escalated
// at most once; later sweeps leave it alone.
func New(eng *engine.Engine, notifier notify.Notifier, logger *logging.Logger, interval time.Duration, reescalate bool) *Scanner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scanner{
		engine:     eng,
		store:      eng.Store(),
		notifier:   notifier,
		logger:     logger,
		interval:   interval,
		reescalate: reescalate,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	s.logger.Info("escalation scanner started",
		"interval", s.interval.String(), "reescalate", s.reescalate)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("escalation scanner stopped")
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.logger.Error("escalation sweep failed", "error", err)
			} else if n > 0 {
				s.logger.Info("escalation sweep finished", "escalated", n)
			}
		}
	}
}

// Sweep performs one pass over all overdue steps and returns how many were
// escalated. A failure on one step is logged and does not stop the pass.
func (s *Scanner) Sweep(ctx context.Context) (int, error) {
	overdue, err := s.store.ListOverdueSteps(ctx, s.now())
	if err != nil {
		return 0, err
	}

	escalated := 0
	for _, item := range overdue {
		si := item.StepInstance
		if si.EscalatedAt != nil && !s.reescalate {
			continue
		}

		target := escalationTarget(item)
		if target == nil {
			// no escalation chain configured, surface the overdue state
			s.publishOverdue(item)
			continue
		}
		if si.AssignedToID != nil && *si.AssignedToID == *target {
			// already in the escalation target's hands, nothing to move
			s.publishOverdue(item)
			continue
		}

		_, err := s.engine.ExecuteAction(ctx, item.InstanceID, engine.ActionRequest{
			Action:   models.ActionEscalate,
			ActorID:  engine.SystemActorScheduler,
			Comment:  "step overdue, escalated automatically",
			TargetID: target,
		})
		if err != nil {
			s.logger.Warn("automatic escalation failed",
				"instance_id", item.InstanceID, "step_instance_id", si.ID, "error", err)
			continue
		}
		escalated++
	}
	return escalated, nil
}

// escalationTarget resolves the escalation assignee: step-level overrides
// workflow-level.
func escalationTarget(item *repository.OverdueStep) *string {
	if item.StepEscalationAssigneeID != nil && *item.StepEscalationAssigneeID != "" {
		return item.StepEscalationAssigneeID
	}
	if item.WorkflowEscalationAssigneeID != nil && *item.WorkflowEscalationAssigneeID != "" {
		return item.WorkflowEscalationAssigneeID
	}
	return nil
}

func (s *Scanner) publishOverdue(item *repository.OverdueStep) {
	event := notify.Event{
		Type:           notify.EventStepOverdue,
		InstanceID:     item.InstanceID,
		StepInstanceID: item.StepInstance.ID,
		OccurredAt:     s.now(),
	}
	if item.StepInstance.AssignedToID != nil {
		event.Assignee = *item.StepInstance.AssignedToID
	}
	s.notifier.Publish(event)
}
