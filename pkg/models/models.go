// Package models defines the domain models for the workflow service
package models

import (
	"time"
)

// WorkflowType categorizes the business process a workflow drives
type WorkflowType string

const (
	WorkflowTypeRiskAcceptance     WorkflowType = "risk_acceptance"
	WorkflowTypeIncidentEscalation WorkflowType = "incident_escalation"
	WorkflowTypeVendorOnboarding   WorkflowType = "vendor_onboarding"
	WorkflowTypeEvidenceReview     WorkflowType = "evidence_review"
	WorkflowTypeCustom             WorkflowType = "custom"
)

// WorkflowStatus represents the lifecycle state of a workflow definition
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// StepType describes what kind of work a step represents
type StepType string

const (
	StepTypeApproval     StepType = "approval"
	StepTypeReview       StepType = "review"
	StepTypeNotification StepType = "notification"
	StepTypeTask         StepType = "task"
)

// AssigneeType distinguishes direct user assignment from role-based assignment
type AssigneeType string

const (
	AssigneeTypeUser AssigneeType = "user"
	AssigneeTypeRole AssigneeType = "role"
)

// ActionType enumerates the actions the engine can apply to an active step
type ActionType string

const (
	ActionApprove  ActionType = "approve"
	ActionReject   ActionType = "reject"
	ActionReassign ActionType = "reassign"
	ActionEscalate ActionType = "escalate"
	ActionSkip     ActionType = "skip"
	ActionCancel   ActionType = "cancel"
)

// ValidActionType reports whether s names a known action
func ValidActionType(s string) bool {
	switch ActionType(s) {
	case ActionApprove, ActionReject, ActionReassign, ActionEscalate, ActionSkip, ActionCancel:
		return true
	}
	return false
}

// Priority orders instances on worklists and dashboards
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Workflow represents a versioned process blueprint. Once any instance
// references a workflow its steps are logically frozen.
type Workflow struct {
	ID                   string         `json:"id" db:"id"`
	WorkflowType         WorkflowType   `json:"workflow_type" db:"workflow_type"`
	Name                 string         `json:"name" db:"name"`
	Description          *string        `json:"description,omitempty" db:"description"`
	Status               WorkflowStatus `json:"status" db:"status"`
	IsDefault            bool           `json:"is_default" db:"is_default"`
	AutoTrigger          bool           `json:"auto_trigger" db:"auto_trigger"`
	DefaultTimeoutHours  int            `json:"default_timeout_hours" db:"default_timeout_hours"`
	EscalationEnabled    bool           `json:"escalation_enabled" db:"escalation_enabled"`
	EscalationAssigneeID *string        `json:"escalation_assignee_id,omitempty" db:"escalation_assignee_id"`

	// Free-form extension fields, stored as JSONB
	TriggerConditions map[string]interface{} `json:"trigger_conditions,omitempty" db:"trigger_conditions"`
	Tags              []string               `json:"tags,omitempty" db:"tags"`

	Version   int       `json:"version" db:"version"`
	CreatedBy *string   `json:"created_by,omitempty" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	Steps []*WorkflowStep `json:"steps,omitempty" db:"-"`
}

// WorkflowStep is one ordered step in a blueprint. StepOrder values are
// unique and contiguous from 1 within a workflow.
type WorkflowStep struct {
	ID                   string       `json:"id" db:"id"`
	WorkflowID           string       `json:"workflow_id" db:"workflow_id"`
	StepOrder            int          `json:"step_order" db:"step_order"`
	Name                 string       `json:"name" db:"name"`
	Description          *string      `json:"description,omitempty" db:"description"`
	StepType             StepType     `json:"step_type" db:"step_type"`
	AssigneeType         AssigneeType `json:"assignee_type" db:"assignee_type"`
	AssigneeID           *string      `json:"assignee_id,omitempty" db:"assignee_id"`
	ApprovalRequired     bool         `json:"approval_required" db:"approval_required"`
	MinApprovals         int          `json:"min_approvals" db:"min_approvals"`
	UnanimousRequired    bool         `json:"unanimous_required" db:"unanimous_required"`
	CanSkip              bool         `json:"can_skip" db:"can_skip"`
	TimeoutHours         *int         `json:"timeout_hours,omitempty" db:"timeout_hours"`
	EscalationAssigneeID *string      `json:"escalation_assignee_id,omitempty" db:"escalation_assignee_id"`

	// ConditionExpression gates the step at advancement time; empty means
	// the step always runs.
	ConditionExpression *string `json:"condition_expression,omitempty" db:"condition_expression"`

	AllowedActions []ActionType           `json:"allowed_actions,omitempty" db:"allowed_actions"`
	CustomFields   map[string]interface{} `json:"custom_fields,omitempty" db:"custom_fields"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AllowsAction reports whether the step permits the given action. A step
// with no explicit allowed_actions permits everything.
func (s *WorkflowStep) AllowsAction(action ActionType) bool {
	if len(s.AllowedActions) == 0 {
		return true
	}
	for _, a := range s.AllowedActions {
		if a == action {
			return true
		}
	}
	return false
}

// EffectiveTimeoutHours resolves the step timeout, falling back to the
// workflow default when the step does not set one.
func (s *WorkflowStep) EffectiveTimeoutHours(w *Workflow) int {
	if s.TimeoutHours != nil && *s.TimeoutHours > 0 {
		return *s.TimeoutHours
	}
	return w.DefaultTimeoutHours
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
