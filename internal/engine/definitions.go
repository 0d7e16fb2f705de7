package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"grcflow/internal/repository"
	"grcflow/pkg/models"
)

const defaultTimeoutHours = 72

// StepSpec is the caller-facing shape of one step in a create-workflow
// payload. It is also the serialized step form inside template_data.
type StepSpec struct {
	StepOrder            int                    `json:"step_order"`
	Name                 string                 `json:"name"`
	Description          *string                `json:"description,omitempty"`
	StepType             models.StepType        `json:"step_type,omitempty"`
	AssigneeType         models.AssigneeType    `json:"assignee_type,omitempty"`
	AssigneeID           *string                `json:"assignee_id,omitempty"`
	ApprovalRequired     bool                   `json:"approval_required"`
	MinApprovals         int                    `json:"min_approvals,omitempty"`
	UnanimousRequired    bool                   `json:"unanimous_required,omitempty"`
	CanSkip              bool                   `json:"can_skip,omitempty"`
	TimeoutHours         *int                   `json:"timeout_hours,omitempty"`
	EscalationAssigneeID *string                `json:"escalation_assignee_id,omitempty"`
	ConditionExpression  *string                `json:"condition_expression,omitempty"`
	AllowedActions       []models.ActionType    `json:"allowed_actions,omitempty"`
	CustomFields         map[string]interface{} `json:"custom_fields,omitempty"`
}

// WorkflowSpec is the caller-facing shape of a workflow definition, used by
// the create endpoint and as the template serialization format.
type WorkflowSpec struct {
	WorkflowType         models.WorkflowType    `json:"workflow_type"`
	Name                 string                 `json:"name"`
	Description          *string                `json:"description,omitempty"`
	Status               models.WorkflowStatus  `json:"status,omitempty"`
	IsDefault            bool                   `json:"is_default,omitempty"`
	AutoTrigger          bool                   `json:"auto_trigger,omitempty"`
	DefaultTimeoutHours  int                    `json:"default_timeout_hours,omitempty"`
	EscalationEnabled    bool                   `json:"escalation_enabled,omitempty"`
	EscalationAssigneeID *string                `json:"escalation_assignee_id,omitempty"`
	TriggerConditions    map[string]interface{} `json:"trigger_conditions,omitempty"`
	Tags                 []string               `json:"tags,omitempty"`
	Steps                []StepSpec             `json:"steps"`
}

// validate normalizes defaults and checks structural invariants, in
// particular that step_order values form a contiguous sequence from 1.
func (spec *WorkflowSpec) validate() error {
	if spec.Name == "" {
		return Errorf(ErrValidation, "workflow name is required")
	}
	if spec.WorkflowType == "" {
		return Errorf(ErrValidation, "workflow_type is required")
	}
	switch spec.Status {
	case "":
		spec.Status = models.WorkflowStatusDraft
	case models.WorkflowStatusDraft, models.WorkflowStatusActive, models.WorkflowStatusArchived:
	default:
		return Errorf(ErrValidation, "unknown workflow status %q", spec.Status)
	}
	if spec.DefaultTimeoutHours <= 0 {
		spec.DefaultTimeoutHours = defaultTimeoutHours
	}
	if len(spec.Steps) == 0 {
		return Errorf(ErrValidation, "workflow needs at least one step")
	}

	sort.Slice(spec.Steps, func(i, j int) bool { return spec.Steps[i].StepOrder < spec.Steps[j].StepOrder })
	for i := range spec.Steps {
		st := &spec.Steps[i]
		if st.StepOrder != i+1 {
			return Errorf(ErrValidation, "step orders must be contiguous from 1, got %d at position %d", st.StepOrder, i+1)
		}
		if st.Name == "" {
			return Errorf(ErrValidation, "step %d: name is required", st.StepOrder)
		}
		if st.StepType == "" {
			st.StepType = models.StepTypeApproval
		}
		if st.AssigneeType == "" {
			st.AssigneeType = models.AssigneeTypeUser
		}
		if st.AssigneeType != models.AssigneeTypeUser && st.AssigneeType != models.AssigneeTypeRole {
			return Errorf(ErrValidation, "step %d: unknown assignee_type %q", st.StepOrder, st.AssigneeType)
		}
		if st.MinApprovals <= 0 {
			st.MinApprovals = 1
		}
		if st.MinApprovals > 1 && st.AssigneeType != models.AssigneeTypeRole {
			return Errorf(ErrValidation, "step %d: min_approvals > 1 requires a role assignee", st.StepOrder)
		}
		if st.UnanimousRequired && st.AssigneeType != models.AssigneeTypeRole {
			return Errorf(ErrValidation, "step %d: unanimous_required requires a role assignee", st.StepOrder)
		}
		for _, a := range st.AllowedActions {
			if !models.ValidActionType(string(a)) {
				return Errorf(ErrValidation, "step %d: unknown action %q", st.StepOrder, a)
			}
		}
	}
	return nil
}

// materialize builds persistable models from a validated spec.
func (spec *WorkflowSpec) materialize(actor string) *models.Workflow {
	w := &models.Workflow{
		ID:                   uuid.New().String(),
		WorkflowType:         spec.WorkflowType,
		Name:                 spec.Name,
		Description:          spec.Description,
		Status:               spec.Status,
		IsDefault:            spec.IsDefault,
		AutoTrigger:          spec.AutoTrigger,
		DefaultTimeoutHours:  spec.DefaultTimeoutHours,
		EscalationEnabled:    spec.EscalationEnabled,
		EscalationAssigneeID: spec.EscalationAssigneeID,
		TriggerConditions:    spec.TriggerConditions,
		Tags:                 spec.Tags,
		Version:              1,
	}
	if actor != "" {
		w.CreatedBy = &actor
	}
	for i := range spec.Steps {
		st := &spec.Steps[i]
		w.Steps = append(w.Steps, &models.WorkflowStep{
			ID:                   uuid.New().String(),
			WorkflowID:           w.ID,
			StepOrder:            st.StepOrder,
			Name:                 st.Name,
			Description:          st.Description,
			StepType:             st.StepType,
			AssigneeType:         st.AssigneeType,
			AssigneeID:           st.AssigneeID,
			ApprovalRequired:     st.ApprovalRequired,
			MinApprovals:         st.MinApprovals,
			UnanimousRequired:    st.UnanimousRequired,
			CanSkip:              st.CanSkip,
			TimeoutHours:         st.TimeoutHours,
			EscalationAssigneeID: st.EscalationAssigneeID,
			ConditionExpression:  st.ConditionExpression,
			AllowedActions:       st.AllowedActions,
			CustomFields:         st.CustomFields,
		})
	}
	return w
}

// specFromWorkflow inverts materialize, dropping generated ids and
// timestamps. Used when saving a workflow as a template.
func specFromWorkflow(w *models.Workflow) *WorkflowSpec {
	spec := &WorkflowSpec{
		WorkflowType:         w.WorkflowType,
		Name:                 w.Name,
		Description:          w.Description,
		Status:               w.Status,
		AutoTrigger:          w.AutoTrigger,
		DefaultTimeoutHours:  w.DefaultTimeoutHours,
		EscalationEnabled:    w.EscalationEnabled,
		EscalationAssigneeID: w.EscalationAssigneeID,
		TriggerConditions:    w.TriggerConditions,
		Tags:                 w.Tags,
	}
	for _, st := range w.Steps {
		spec.Steps = append(spec.Steps, StepSpec{
			StepOrder:            st.StepOrder,
			Name:                 st.Name,
			Description:          st.Description,
			StepType:             st.StepType,
			AssigneeType:         st.AssigneeType,
			AssigneeID:           st.AssigneeID,
			ApprovalRequired:     st.ApprovalRequired,
			MinApprovals:         st.MinApprovals,
			UnanimousRequired:    st.UnanimousRequired,
			CanSkip:              st.CanSkip,
			TimeoutHours:         st.TimeoutHours,
			EscalationAssigneeID: st.EscalationAssigneeID,
			ConditionExpression:  st.ConditionExpression,
			AllowedActions:       st.AllowedActions,
			CustomFields:         st.CustomFields,
		})
	}
	return spec
}

// CreateWorkflow validates and persists a new workflow definition with its
// steps.
func (e *Engine) CreateWorkflow(ctx context.Context, spec WorkflowSpec, actor string) (*models.Workflow, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	var created *models.Workflow
	err := e.tx.ReadCommitted(ctx, func(ctx context.Context) error {
		if spec.IsDefault && spec.Status == models.WorkflowStatusActive {
			existing, err := e.store.GetDefaultWorkflow(ctx, spec.WorkflowType)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("check default workflow: %w", err)
			}
			if existing != nil {
				return Errorf(ErrValidation,
					"workflow type %s already has default workflow %s", spec.WorkflowType, existing.ID)
			}
		}
		created = spec.materialize(actor)
		return e.store.CreateWorkflow(ctx, created)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("workflow created",
		"workflow_id", created.ID, "workflow_type", string(created.WorkflowType), "steps", len(created.Steps))
	return created, nil
}

// GetWorkflow loads a workflow definition with steps.
func (e *Engine) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	w, err := e.store.GetWorkflow(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, Errorf(ErrNotFound, "workflow %s", id)
	}
	return w, err
}
