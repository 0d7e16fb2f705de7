package models

import (
	"time"
)

// InstanceStatus represents the lifecycle state of a workflow instance.
// Completed, rejected and cancelled are terminal.
type InstanceStatus string

const (
	InstanceStatusInitiated  InstanceStatus = "initiated"
	InstanceStatusInProgress InstanceStatus = "in_progress"
	InstanceStatusCompleted  InstanceStatus = "completed"
	InstanceStatusRejected   InstanceStatus = "rejected"
	InstanceStatusCancelled  InstanceStatus = "cancelled"
)

// Terminal reports whether the status is a sink state
func (s InstanceStatus) Terminal() bool {
	switch s {
	case InstanceStatusCompleted, InstanceStatusRejected, InstanceStatusCancelled:
		return true
	}
	return false
}

// StepInstanceStatus represents the execution state of a single step
type StepInstanceStatus string

const (
	StepStatusPending    StepInstanceStatus = "pending"
	StepStatusInProgress StepInstanceStatus = "in_progress"
	StepStatusCompleted  StepInstanceStatus = "completed"
	StepStatusRejected   StepInstanceStatus = "rejected"
	StepStatusSkipped    StepInstanceStatus = "skipped"
	StepStatusCancelled  StepInstanceStatus = "cancelled"
)

// Terminal reports whether the step status is a sink state
func (s StepInstanceStatus) Terminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusRejected, StepStatusSkipped, StepStatusCancelled:
		return true
	}
	return false
}

// Outcome values recorded on instances and step instances
const (
	OutcomeApproved  = "approved"
	OutcomeRejected  = "rejected"
	OutcomeSkipped   = "skipped"
	OutcomeCancelled = "cancelled"
)

// WorkflowInstance is one running execution of a workflow bound to a
// specific external business entity. The engine is the only writer after
// creation; Version backs the optimistic lock on concurrent actions.
type WorkflowInstance struct {
	ID            string         `json:"id" db:"id"`
	WorkflowID    string         `json:"workflow_id" db:"workflow_id"`
	EntityType    string         `json:"entity_type" db:"entity_type"`
	EntityID      string         `json:"entity_id" db:"entity_id"`
	Status        InstanceStatus `json:"status" db:"status"`
	CurrentStepID *string        `json:"current_step_id,omitempty" db:"current_step_id"`
	Priority      Priority       `json:"priority" db:"priority"`

	Context map[string]interface{} `json:"context,omitempty" db:"context"`

	DueDate      *time.Time `json:"due_date,omitempty" db:"due_date"`
	FinalOutcome *string    `json:"final_outcome,omitempty" db:"final_outcome"`
	Version      int        `json:"version" db:"version"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedBy    *string    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// WorkflowStepInstance is the execution record of one step within one
// instance. Scheduling data (order, assignee, timeout) is snapshotted at
// instance creation so in-flight instances are immune to later definition
// edits.
type WorkflowStepInstance struct {
	ID                 string             `json:"id" db:"id"`
	WorkflowInstanceID string             `json:"workflow_instance_id" db:"workflow_instance_id"`
	WorkflowStepID     string             `json:"workflow_step_id" db:"workflow_step_id"`
	StepOrder          int                `json:"step_order" db:"step_order"`
	Name               string             `json:"name" db:"name"`
	Status             StepInstanceStatus `json:"status" db:"status"`
	AssignedToID       *string            `json:"assigned_to_id,omitempty" db:"assigned_to_id"`
	AssignedAt         *time.Time         `json:"assigned_at,omitempty" db:"assigned_at"`
	StartedAt          *time.Time         `json:"started_at,omitempty" db:"started_at"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty" db:"completed_at"`
	DueDate            *time.Time         `json:"due_date,omitempty" db:"due_date"`
	Outcome            *string            `json:"outcome,omitempty" db:"outcome"`
	OutcomeReason      *string            `json:"outcome_reason,omitempty" db:"outcome_reason"`

	// ApprovedBy is the set of actor ids that have approved so far; used
	// for min_approvals / unanimous counting. Stored as JSONB.
	ApprovedBy []string `json:"approved_by,omitempty" db:"approved_by"`

	EscalatedAt   *time.Time `json:"escalated_at,omitempty" db:"escalated_at"`
	EscalatedToID *string    `json:"escalated_to_id,omitempty" db:"escalated_to_id"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// HasApproval reports whether actorID already approved this step instance
func (si *WorkflowStepInstance) HasApproval(actorID string) bool {
	for _, id := range si.ApprovedBy {
		if id == actorID {
			return true
		}
	}
	return false
}

// Overdue reports whether the step is active and past its due date
func (si *WorkflowStepInstance) Overdue(now time.Time) bool {
	return si.Status == StepStatusInProgress && si.DueDate != nil && si.DueDate.Before(now)
}

// WorkflowAction is an immutable audit entry for an executed action.
// Rows are append-only, never updated or deleted.
type WorkflowAction struct {
	ID                 string     `json:"id" db:"id"`
	WorkflowInstanceID string     `json:"workflow_instance_id" db:"workflow_instance_id"`
	StepInstanceID     *string    `json:"step_instance_id,omitempty" db:"step_instance_id"`
	ActionType         ActionType `json:"action_type" db:"action_type"`
	PerformedByID      string     `json:"performed_by_id" db:"performed_by_id"`
	PerformedAt        time.Time  `json:"performed_at" db:"performed_at"`
	Comment            *string    `json:"comment,omitempty" db:"comment"`
	TargetID           *string    `json:"target_id,omitempty" db:"target_id"`
	StepStatusBefore   *string    `json:"step_status_before,omitempty" db:"step_status_before"`
	StepStatusAfter    *string    `json:"step_status_after,omitempty" db:"step_status_after"`
}

// DashboardSummary aggregates engine-wide counts for reporting
type DashboardSummary struct {
	PendingSteps   int     `json:"pending_steps"`
	ActiveSteps    int     `json:"active_steps"`
	OverdueSteps   int     `json:"overdue_steps"`
	CompletedToday int     `json:"completed_today"`
	ApprovalRate   float64 `json:"approval_rate"`
}

// BulkActionResult reports the outcome of one instance within a bulk action
type BulkActionResult struct {
	InstanceID string `json:"instance_id"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

// BulkActionResponse is the aggregate result of a bulk action
type BulkActionResponse struct {
	SuccessCount int                 `json:"success_count"`
	FailureCount int                 `json:"failure_count"`
	Results      []*BulkActionResult `json:"results"`
}
