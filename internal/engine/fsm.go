package engine

import (
	"github.com/qmuntal/stateless"

	"grcflow/pkg/models"
)

// Triggers for the step and instance state machines.
const (
	triggerStart    = "start"
	triggerComplete = "complete"
	triggerReject   = "reject"
	triggerSkip     = "skip"
	triggerCancel   = "cancel"
)

// newStepFSM configures the legal step-instance transitions:
// pending -> in_progress -> {completed, rejected, skipped, cancelled}.
// Pending steps may also be skipped (conditional auto-skip) or cancelled
// without ever starting. Escalation is not a transition; it only changes
// ownership while the step stays in_progress.
func newStepFSM(current models.StepInstanceStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(current)

	sm.Configure(models.StepStatusPending).
		Permit(triggerStart, models.StepStatusInProgress).
		Permit(triggerSkip, models.StepStatusSkipped).
		Permit(triggerCancel, models.StepStatusCancelled)

	sm.Configure(models.StepStatusInProgress).
		Permit(triggerComplete, models.StepStatusCompleted).
		Permit(triggerReject, models.StepStatusRejected).
		Permit(triggerSkip, models.StepStatusSkipped).
		Permit(triggerCancel, models.StepStatusCancelled)

	return sm
}

// newInstanceFSM configures the legal instance transitions:
// initiated -> in_progress -> {completed, rejected, cancelled}. Terminal
// states are sinks with no outgoing transitions.
func newInstanceFSM(current models.InstanceStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(current)

	sm.Configure(models.InstanceStatusInitiated).
		Permit(triggerStart, models.InstanceStatusInProgress).
		Permit(triggerCancel, models.InstanceStatusCancelled)

	sm.Configure(models.InstanceStatusInProgress).
		Permit(triggerComplete, models.InstanceStatusCompleted).
		Permit(triggerReject, models.InstanceStatusRejected).
		Permit(triggerCancel, models.InstanceStatusCancelled)

	return sm
}

// transitionStep fires a trigger against the step FSM and writes the
// resulting status back, so illegal transitions (e.g. completing a
// completed step) surface as errors instead of silent overwrites.
func transitionStep(si *models.WorkflowStepInstance, trigger string) error {
	sm := newStepFSM(si.Status)
	if err := sm.Fire(trigger); err != nil {
		return Errorf(ErrActionNotAllowed, "step %s cannot %s from status %s", si.ID, trigger, si.Status)
	}
	si.Status = sm.MustState().(models.StepInstanceStatus)
	return nil
}

// transitionInstance fires a trigger against the instance FSM.
func transitionInstance(inst *models.WorkflowInstance, trigger string) error {
	sm := newInstanceFSM(inst.Status)
	if err := sm.Fire(trigger); err != nil {
		return Errorf(ErrNotActive, "instance %s cannot %s from status %s", inst.ID, trigger, inst.Status)
	}
	inst.Status = sm.MustState().(models.InstanceStatus)
	return nil
}
