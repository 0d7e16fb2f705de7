package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grcflow/internal/logging"
	"grcflow/internal/notify"
	"grcflow/internal/repository"
	"grcflow/pkg/models"
)

var testTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	eng := New(store, repository.NoopTxManager{}, notify.Nop{}, logging.NewLogger())
	eng.now = func() time.Time { return testTime }
	return eng, store
}

func strPtr(s string) *string { return &s }

func twoStepSpec() WorkflowSpec {
	timeout24 := 24
	return WorkflowSpec{
		WorkflowType:        models.WorkflowTypeRiskAcceptance,
		Name:                "Risk Acceptance Review",
		Status:              models.WorkflowStatusActive,
		IsDefault:           true,
		DefaultTimeoutHours: 72,
		Steps: []StepSpec{
			{
				StepOrder:        1,
				Name:             "Security Review",
				AssigneeType:     models.AssigneeTypeUser,
				AssigneeID:       strPtr("alice"),
				ApprovalRequired: true,
				TimeoutHours:     &timeout24,
			},
			{
				StepOrder:        2,
				Name:             "CISO Approval",
				AssigneeType:     models.AssigneeTypeUser,
				AssigneeID:       strPtr("carol"),
				ApprovalRequired: true,
			},
		},
	}
}

func mustCreateWorkflow(t *testing.T, eng *Engine, spec WorkflowSpec) *models.Workflow {
	t.Helper()
	w, err := eng.CreateWorkflow(context.Background(), spec, "tester")
	require.NoError(t, err)
	return w
}

func mustTrigger(t *testing.T, eng *Engine, workflowID string, ctxData map[string]interface{}) *models.WorkflowInstance {
	t.Helper()
	inst, err := eng.CreateInstance(context.Background(), workflowID, TriggerRequest{
		EntityType: "risk",
		EntityID:   "RISK-42",
		Context:    ctxData,
		ActorID:    "tester",
	})
	require.NoError(t, err)
	return inst
}

func activeStep(t *testing.T, store *repository.MemoryStore, instanceID string) *models.WorkflowStepInstance {
	t.Helper()
	si, err := store.GetActiveStepInstance(context.Background(), instanceID)
	require.NoError(t, err)
	return si
}

func TestCreateWorkflowValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	t.Run("no steps", func(t *testing.T) {
		spec := twoStepSpec()
		spec.Steps = nil
		_, err := eng.CreateWorkflow(ctx, spec, "tester")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("non-contiguous step orders", func(t *testing.T) {
		spec := twoStepSpec()
		spec.Steps[1].StepOrder = 5
		_, err := eng.CreateWorkflow(ctx, spec, "tester")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("min approvals needs role assignee", func(t *testing.T) {
		spec := twoStepSpec()
		spec.Steps[0].MinApprovals = 2
		_, err := eng.CreateWorkflow(ctx, spec, "tester")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("second active default rejected", func(t *testing.T) {
		mustCreateWorkflow(t, eng, twoStepSpec())
		_, err := eng.CreateWorkflow(ctx, twoStepSpec(), "tester")
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestTriggerAndApproveToCompletion(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	w := mustCreateWorkflow(t, eng, twoStepSpec())
	inst := mustTrigger(t, eng, w.ID, nil)

	assert.Equal(t, models.InstanceStatusInProgress, inst.Status)
	require.NotNil(t, inst.CurrentStepID)
	assert.Equal(t, w.Steps[0].ID, *inst.CurrentStepID)
	require.NotNil(t, inst.DueDate)
	assert.Equal(t, testTime.Add(72*time.Hour), *inst.DueDate)

	si := activeStep(t, store, inst.ID)
	assert.Equal(t, 1, si.StepOrder)
	require.NotNil(t, si.DueDate)
	assert.Equal(t, testTime.Add(24*time.Hour), *si.DueDate)
	require.NotNil(t, si.AssignedToID)
	assert.Equal(t, "alice", *si.AssignedToID)

	// first approval completes step 1 and activates step 2; the clock moves
	// on so step 2's deadline counts from advancement, not from trigger
	approvedAt := testTime.Add(2 * time.Hour)
	eng.now = func() time.Time { return approvedAt }
	record, err := eng.ExecuteAction(ctx, inst.ID, ActionRequest{Action: models.ActionApprove, ActorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "in_progress", *record.StepStatusBefore)
	assert.Equal(t, "completed", *record.StepStatusAfter)

	si = activeStep(t, store, inst.ID)
	assert.Equal(t, 2, si.StepOrder)
	require.NotNil(t, si.StartedAt)
	assert.Equal(t, approvedAt, *si.StartedAt)
	require.NotNil(t, si.DueDate)
	assert.Equal(t, approvedAt.Add(72*time.Hour), *si.DueDate)

	// second approval completes the instance
	_, err = eng.ExecuteAction(ctx, inst.ID, ActionRequest{Action: models.ActionApprove, ActorID: "carol"})
	require.NoError(t, err)

	got, err := eng.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, got.Status)
	require.NotNil(t, got.FinalOutcome)
	assert.Equal(t, models.OutcomeApproved, *got.FinalOutcome)
	assert.Nil(t, got.CurrentStepID)

	// no further actions on a terminal instance
	_, err = eng.ExecuteAction(ctx, inst.ID, ActionRequest{Action: models.ActionApprove, ActorID: "carol"})
	assert.ErrorIs(t, err, ErrNotActive)

	actions, err := eng.ListActions(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 2)
}

func TestRejectTerminatesInstance(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	w := mustCreateWorkflow(t, eng, twoStepSpec())
	inst := mustTrigger(t, eng, w.ID, nil)

	_, err := eng.ExecuteAction(ctx, inst.ID, ActionRequest{
		Action: models.ActionReject, ActorID: "alice", Comment: "risk too high",
	})
	require.NoError(t, err)

	got, err := eng.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRejected, got.Status)
	require.NotNil(t, got.FinalOutcome)
	assert.Equal(t, models.OutcomeRejected, *got.FinalOutcome)

	// the second step never starts
	steps, err := store.GetStepInstances(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusRejected, steps[0].Status)
	require.NotNil(t, steps[0].OutcomeReason)
	assert.Equal(t, "risk too high", *steps[0].OutcomeReason)
	assert.Equal(t, models.StepStatusPending, steps[1].Status)
}

func TestCancelTerminatesInstance(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	w := mustCreateWorkflow(t, eng, twoStepSpec())
	inst := mustTrigger(t, eng, w.ID, nil)

	_, err := eng.ExecuteAction(ctx, inst.ID, ActionRequest{Action: models.ActionCancel, ActorID: "tester"})
	require.NoError(t, err)

	got, err := eng.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, got.Status)
	require.NotNil(t, got.FinalOutcome)
	assert.Equal(t, models.OutcomeCancelled, *got.FinalOutcome)
}

func TestSkipRespectsCanSkip(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	spec := twoStepSpec()
	spec.Steps[0].CanSkip = true
	w := mustCreateWorkflow(t, eng, spec)
	inst := mustTrigger(t, eng, w.ID, nil)

	_, err := eng.ExecuteAction(ctx, inst.ID, ActionRequest{Action: models.ActionSkip, ActorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 2, activeStep(t, store, inst.ID).StepOrder)

	// step 2 does not allow skipping
	_, err = eng.ExecuteAction(ctx, inst.ID, ActionRequest{Action: models.ActionSkip, ActorID: "carol"})
	assert.ErrorIs(t, err, ErrActionNotAllowed)
}

func TestAllowedActionsEnforced(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	spec := twoStepSpec()
	spec.Steps[0].AllowedActions = []models.ActionType{models.ActionApprove, models.ActionReassign}
	w := mustCreateWorkflow(t, eng, spec)
	inst := mustTrigger(t, eng, w.ID, nil)

	_, err := eng.ExecuteAction(ctx, inst.ID, ActionRequest{Action: models.ActionReject, ActorID: "alice"})
	assert.ErrorIs(t, err, ErrActionNotAllowed)
}

func TestReassignAndEscalateKeepStepActive(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	w := mustCreateWorkflow(t, eng, twoStepSpec())
	inst := mustTrigger(t, eng, w.ID, nil)

	_, err := eng.ExecuteAction(ctx, inst.ID, ActionRequest{Action: models.ActionReassign, ActorID: "alice"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = eng.ExecuteAction(ctx, inst.ID, ActionRequest{
		Action: models.ActionReassign, ActorID: "alice", TargetID: strPtr("bob"),
	})
	require.NoError(t, err)

	si := activeStep(t, store, inst.ID)
	assert.Equal(t, models.StepStatusInProgress, si.Status)
	require.NotNil(t, si.AssignedToID)
	assert.Equal(t, "bob", *si.AssignedToID)
	assert.Nil(t, si.EscalatedAt)

	_, err = eng.ExecuteAction(ctx, inst.ID, ActionRequest{
		Action: models.ActionEscalate, ActorID: "bob", TargetID: strPtr("manager"),
	})
	require.NoError(t, err)

	si = activeStep(t, store, inst.ID)
	assert.Equal(t, models.StepStatusInProgress, si.Status)
	require.NotNil(t, si.EscalatedAt)
	require.NotNil(t, si.EscalatedToID)
	assert.Equal(t, "manager", *si.EscalatedToID)
	assert.Equal(t, "manager", *si.AssignedToID)
}

func TestMultiApproverThreshold(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	spec := twoStepSpec()
	spec.Steps[0].AssigneeType = models.AssigneeTypeRole
	spec.Steps[0].AssigneeID = strPtr("security-team")
	spec.Steps[0].MinApprovals = 2
	w := mustCreateWorkflow(t, eng, spec)
	inst := mustTrigger(t, eng, w.ID, nil)

	// first approver is not enough
	_, err := eng.ExecuteAction(ctx, inst.ID, ActionRequest{Action: models.ActionApprove, ActorID: "alice"})
	require.NoError(t, err)
	si := activeStep(t, store, inst.ID)
	assert.Equal(t, 1, si.StepOrder)
	assert.Equal(t, []string{"alice"}, si.ApprovedBy)

	// approving twice is idempotent
	_, err = eng.ExecuteAction(ctx, inst.ID, ActionRequest{Action: models.ActionApprove, ActorID: "alice"})
	require.NoError(t, err)
	si = activeStep(t, store, inst.ID)
	assert.Equal(t, []string{"alice"}, si.ApprovedBy)

	// second distinct approver completes the step
	_, err = eng.ExecuteAction(ctx, inst.ID, ActionRequest{Action: models.ActionApprove, ActorID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, 2, activeStep(t, store, inst.ID).StepOrder)
}

func TestUnanimousApprovalNeedsAllRoleMembers(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRole(ctx, &models.WorkflowRole{
		ID:      uuid.New().String(),
		Name:    "security-team",
		Members: []string{"alice", "bob", "carol"},
	}))

	spec := twoStepSpec()
	spec.Steps[0].AssigneeType = models.AssigneeTypeRole
	spec.Steps[0].AssigneeID = strPtr("security-team")
	spec.Steps[0].UnanimousRequired = true
	w := mustCreateWorkflow(t, eng, spec)
	inst := mustTrigger(t, eng, w.ID, nil)

	for _, actor := range []string{"alice", "bob"} {
		_, err := eng.ExecuteAction(ctx, inst.ID, ActionRequest{Action: models.ActionApprove, ActorID: actor})
		require.NoError(t, err)
		assert.Equal(t, 1, activeStep(t, store, inst.ID).StepOrder)
	}

	_, err := eng.ExecuteAction(ctx, inst.ID, ActionRequest{Action: models.ActionApprove, ActorID: "carol"})
	require.NoError(t, err)
	assert.Equal(t, 2, activeStep(t, store, inst.ID).StepOrder)
}

func TestConditionalStepAutoSkips(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	spec := twoStepSpec()
	spec.Steps[0].ConditionExpression = strPtr("amount > 1000")
	w := mustCreateWorkflow(t, eng, spec)

	t.Run("condition false skips the step", func(t *testing.T) {
		inst := mustTrigger(t, eng, w.ID, map[string]interface{}{"amount": 500})
		si := activeStep(t, store, inst.ID)
		assert.Equal(t, 2, si.StepOrder)

		steps, err := store.GetStepInstances(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusSkipped, steps[0].Status)
		require.NotNil(t, steps[0].OutcomeReason)
		assert.Equal(t, "condition not met", *steps[0].OutcomeReason)
	})

	t.Run("condition true runs the step", func(t *testing.T) {
		inst, err := eng.CreateInstance(ctx, w.ID, TriggerRequest{
			EntityType: "risk", EntityID: "RISK-43",
			Context: map[string]interface{}{"amount": 5000},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, activeStep(t, store, inst.ID).StepOrder)
	})
}

func TestAllStepsSkippedCompletesInstance(t *testing.T) {
	eng, _ := newTestEngine(t)

	spec := twoStepSpec()
	spec.Steps[0].ConditionExpression = strPtr("amount > 1000")
	spec.Steps = spec.Steps[:1]
	w := mustCreateWorkflow(t, eng, spec)

	inst := mustTrigger(t, eng, w.ID, map[string]interface{}{"amount": 10})
	assert.Equal(t, models.InstanceStatusCompleted, inst.Status)
	require.NotNil(t, inst.FinalOutcome)
	assert.Equal(t, models.OutcomeApproved, *inst.FinalOutcome)
}

func TestTriggerByType(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.TriggerByType(ctx, models.WorkflowTypeRiskAcceptance, TriggerRequest{
		EntityType: "risk", EntityID: "RISK-1",
	})
	assert.ErrorIs(t, err, ErrNoDefaultWorkflow)

	mustCreateWorkflow(t, eng, twoStepSpec())
	inst, err := eng.TriggerByType(ctx, models.WorkflowTypeRiskAcceptance, TriggerRequest{
		EntityType: "risk", EntityID: "RISK-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusInProgress, inst.Status)
}

func TestTriggerValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	w := mustCreateWorkflow(t, eng, twoStepSpec())

	_, err := eng.CreateInstance(ctx, w.ID, TriggerRequest{EntityType: "risk"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = eng.CreateInstance(ctx, uuid.New().String(), TriggerRequest{
		EntityType: "risk", EntityID: "RISK-1",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBulkActionIsolatesFailures(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	w := mustCreateWorkflow(t, eng, twoStepSpec())
	a := mustTrigger(t, eng, w.ID, nil)
	b := mustTrigger(t, eng, w.ID, nil)
	bogus := uuid.New().String()

	resp, err := eng.ExecuteBulkAction(ctx, []string{a.ID, bogus, b.ID}, ActionRequest{
		Action: models.ActionApprove, ActorID: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.SuccessCount)
	assert.Equal(t, 1, resp.FailureCount)
	require.Len(t, resp.Results, 3)
	assert.True(t, resp.Results[0].OK)
	assert.False(t, resp.Results[1].OK)
	assert.NotEmpty(t, resp.Results[1].Error)
	assert.True(t, resp.Results[2].OK)
}

func TestTemplateRoundTrip(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	spec := twoStepSpec()
	spec.IsDefault = false
	w := mustCreateWorkflow(t, eng, spec)

	tmpl, err := eng.SaveAsTemplate(ctx, w.ID, "Standard Review", nil, "tester")
	require.NoError(t, err)

	applied, err := eng.ApplyTemplate(ctx, tmpl.ID, ApplyTemplateRequest{Name: "From Template", ActorID: "tester"})
	require.NoError(t, err)
	assert.Equal(t, "From Template", applied.Name)
	assert.Equal(t, w.WorkflowType, applied.WorkflowType)
	require.Len(t, applied.Steps, len(w.Steps))
	for i := range w.Steps {
		assert.Equal(t, w.Steps[i].Name, applied.Steps[i].Name)
		assert.Equal(t, w.Steps[i].StepOrder, applied.Steps[i].StepOrder)
		assert.Equal(t, w.Steps[i].ApprovalRequired, applied.Steps[i].ApprovalRequired)
		assert.NotEqual(t, w.Steps[i].ID, applied.Steps[i].ID)
	}

	got, err := store.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)
}

func TestApplyCorruptTemplate(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	id := uuid.New().String()
	require.NoError(t, store.CreateTemplate(ctx, &models.WorkflowTemplate{
		ID:           id,
		Name:         "broken",
		TemplateData: []byte("{not json"),
	}))

	_, err := eng.ApplyTemplate(ctx, id, ApplyTemplateRequest{})
	assert.ErrorIs(t, err, ErrTemplateDecode)
}

func TestWorklist(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	w := mustCreateWorkflow(t, eng, twoStepSpec())
	inst := mustTrigger(t, eng, w.ID, nil)
	mustTrigger(t, eng, w.ID, nil)

	items, err := eng.Worklist(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	// completing one instance's step removes it from alice's list
	_, err = eng.ExecuteAction(ctx, inst.ID, ActionRequest{Action: models.ActionApprove, ActorID: "alice"})
	require.NoError(t, err)

	items, err = eng.Worklist(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = eng.Worklist(ctx, "carol")
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, inst.ID, items[0].Instance.ID)
}

func TestWorkflowSpecSerializationRoundTrip(t *testing.T) {
	spec := twoStepSpec()
	require.NoError(t, spec.validate())

	data, err := json.Marshal(spec)
	require.NoError(t, err)

	var decoded WorkflowSpec
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, spec, decoded)
}
