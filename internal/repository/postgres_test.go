package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"grcflow/pkg/models"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	if err := Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	store := NewPostgresStore(pool)
	txm := NewPgxTxManager(pool)

	assignee := "alice"
	workflow := &models.Workflow{
		ID:                  uuid.New().String(),
		WorkflowType:        models.WorkflowTypeRiskAcceptance,
		Name:                "Risk Acceptance Review",
		Status:              models.WorkflowStatusActive,
		IsDefault:           true,
		DefaultTimeoutHours: 72,
		EscalationEnabled:   true,
		Tags:                []string{"risk"},
		Version:             1,
	}
	workflow.Steps = []*models.WorkflowStep{
		{
			ID:               uuid.New().String(),
			WorkflowID:       workflow.ID,
			StepOrder:        1,
			Name:             "Security Review",
			StepType:         models.StepTypeApproval,
			AssigneeType:     models.AssigneeTypeUser,
			AssigneeID:       &assignee,
			ApprovalRequired: true,
			MinApprovals:     1,
			AllowedActions:   []models.ActionType{models.ActionApprove, models.ActionReject},
		},
	}

	t.Run("workflow round trip", func(t *testing.T) {
		require.NoError(t, store.CreateWorkflow(ctx, workflow))

		got, err := store.GetWorkflow(ctx, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, workflow.Name, got.Name)
		assert.Equal(t, workflow.Tags, got.Tags)
		require.Len(t, got.Steps, 1)
		assert.Equal(t, "Security Review", got.Steps[0].Name)
		assert.Equal(t, []models.ActionType{models.ActionApprove, models.ActionReject},
			got.Steps[0].AllowedActions)

		byType, err := store.GetDefaultWorkflow(ctx, models.WorkflowTypeRiskAcceptance)
		require.NoError(t, err)
		assert.Equal(t, workflow.ID, byType.ID)

		_, err = store.GetWorkflow(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate active default rejected by index", func(t *testing.T) {
		dup := &models.Workflow{
			ID:                  uuid.New().String(),
			WorkflowType:        models.WorkflowTypeRiskAcceptance,
			Name:                "Another Default",
			Status:              models.WorkflowStatusActive,
			IsDefault:           true,
			DefaultTimeoutHours: 72,
			Version:             1,
		}
		assert.Error(t, store.CreateWorkflow(ctx, dup))
	})

	now := time.Now().UTC().Truncate(time.Microsecond)
	due := now.Add(-time.Hour)
	instance := &models.WorkflowInstance{
		ID:         uuid.New().String(),
		WorkflowID: workflow.ID,
		EntityType: "risk",
		EntityID:   "RISK-1",
		Status:     models.InstanceStatusInProgress,
		Priority:   models.PriorityHigh,
		Context:    map[string]interface{}{"amount": float64(1500)},
		Version:    1,
		StartedAt:  &now,
	}
	stepInstance := &models.WorkflowStepInstance{
		ID:                 uuid.New().String(),
		WorkflowInstanceID: instance.ID,
		WorkflowStepID:     workflow.Steps[0].ID,
		StepOrder:          1,
		Name:               "Security Review",
		Status:             models.StepStatusInProgress,
		AssignedToID:       &assignee,
		StartedAt:          &now,
		DueDate:            &due,
	}

	t.Run("instance round trip", func(t *testing.T) {
		require.NoError(t, store.CreateInstance(ctx, instance,
			[]*models.WorkflowStepInstance{stepInstance}))

		got, err := store.GetInstance(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, instance.EntityID, got.EntityID)
		assert.Equal(t, instance.Context, got.Context)
		assert.Equal(t, 1, got.Version)

		active, err := store.GetActiveStepInstance(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, stepInstance.ID, active.ID)

		filtered, err := store.ListInstances(ctx, InstanceFilter{AssignedTo: assignee})
		require.NoError(t, err)
		require.Len(t, filtered, 1)
		assert.Equal(t, instance.ID, filtered[0].ID)
	})

	t.Run("optimistic version check", func(t *testing.T) {
		instance.Priority = models.PriorityCritical
		require.NoError(t, store.UpdateInstance(ctx, instance, 1))
		assert.Equal(t, 2, instance.Version)

		err := store.UpdateInstance(ctx, instance, 1)
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("row lock inside transaction", func(t *testing.T) {
		err := txm.ReadCommitted(ctx, func(ctx context.Context) error {
			locked, err := store.GetInstanceForUpdate(ctx, instance.ID)
			if err != nil {
				return err
			}
			return store.UpdateInstance(ctx, locked, locked.Version)
		})
		require.NoError(t, err)
	})

	t.Run("overdue join", func(t *testing.T) {
		overdue, err := store.ListOverdueSteps(ctx, time.Now().UTC())
		require.NoError(t, err)
		require.Len(t, overdue, 1)
		assert.Equal(t, stepInstance.ID, overdue[0].StepInstance.ID)
		assert.Equal(t, instance.ID, overdue[0].InstanceID)
		assert.Equal(t, workflow.ID, overdue[0].WorkflowID)
	})

	t.Run("append and list actions", func(t *testing.T) {
		before, after := "in_progress", "completed"
		comment := "looks fine"
		action := &models.WorkflowAction{
			ID:                 uuid.New().String(),
			WorkflowInstanceID: instance.ID,
			StepInstanceID:     &stepInstance.ID,
			ActionType:         models.ActionApprove,
			PerformedByID:      assignee,
			PerformedAt:        now,
			Comment:            &comment,
			StepStatusBefore:   &before,
			StepStatusAfter:    &after,
		}
		require.NoError(t, store.AppendAction(ctx, action))

		actions, err := store.ListActions(ctx, instance.ID)
		require.NoError(t, err)
		require.Len(t, actions, 1)
		assert.Equal(t, models.ActionApprove, actions[0].ActionType)
		assert.Equal(t, "looks fine", *actions[0].Comment)
	})

	t.Run("templates", func(t *testing.T) {
		tmpl := &models.WorkflowTemplate{
			ID:           uuid.New().String(),
			Name:         "Standard Review",
			TemplateData: []byte(`{"name":"Standard Review","steps":[]}`),
		}
		require.NoError(t, store.CreateTemplate(ctx, tmpl))
		require.NoError(t, store.IncrementTemplateUsage(ctx, tmpl.ID))

		got, err := store.GetTemplate(ctx, tmpl.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.UsageCount)
		assert.JSONEq(t, string(tmpl.TemplateData), string(got.TemplateData))
	})

	t.Run("roles", func(t *testing.T) {
		role := &models.WorkflowRole{
			ID:      uuid.New().String(),
			Name:    "security-team",
			Members: []string{"alice", "bob"},
		}
		require.NoError(t, store.CreateRole(ctx, role))

		got, err := store.GetRoleByName(ctx, "security-team")
		require.NoError(t, err)
		assert.Equal(t, role.ID, got.ID)
		assert.Equal(t, []string{"alice", "bob"}, got.Members)
	})

	t.Run("dashboard summary", func(t *testing.T) {
		sum, err := store.DashboardSummary(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.Equal(t, 1, sum.ActiveSteps)
		assert.Equal(t, 1, sum.OverdueSteps)
	})
}
