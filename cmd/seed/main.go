package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"grcflow/internal/config"
	"grcflow/internal/engine"
	"grcflow/internal/logging"
	"grcflow/internal/notify"
	"grcflow/internal/repository"
	"grcflow/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	// Load config
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to DB
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}

	store := repository.NewPostgresStore(pool)
	eng := engine.New(store, repository.NewPgxTxManager(pool), notify.Nop{}, logger)

	// 1. Ensure the approver roles exist
	roles := []struct {
		Name    string
		Members []string
	}{
		{"security-team", []string{"alice", "bob"}},
		{"ciso-office", []string{"carol"}},
	}
	for _, r := range roles {
		if _, err := store.GetRoleByName(ctx, r.Name); err == nil {
			logger.Info("Role already exists", "name", r.Name)
			continue
		}
		role := &models.WorkflowRole{
			ID:      uuid.New().String(),
			Name:    r.Name,
			Members: r.Members,
		}
		if err := store.CreateRole(ctx, role); err != nil {
			log.Fatalf("Failed to create role %s: %v", r.Name, err)
		}
		logger.Info("Created role", "name", r.Name, "members", len(r.Members))
	}

	// 2. Check for an existing default risk acceptance workflow
	if _, err := store.GetDefaultWorkflow(ctx, models.WorkflowTypeRiskAcceptance); err == nil {
		logger.Info("Default risk acceptance workflow already exists, nothing to do")
		return
	}

	// 3. Create the default risk acceptance workflow
	securityTeam := "security-team"
	ciso := "carol"
	timeout24 := 24
	spec := engine.WorkflowSpec{
		WorkflowType:         models.WorkflowTypeRiskAcceptance,
		Name:                 "Risk Acceptance Review",
		Status:               models.WorkflowStatusActive,
		IsDefault:            true,
		DefaultTimeoutHours:  72,
		EscalationEnabled:    true,
		EscalationAssigneeID: &ciso,
		Tags:                 []string{"risk", "seed"},
		Steps: []engine.StepSpec{
			{
				StepOrder:        1,
				Name:             "Security Review",
				StepType:         models.StepTypeReview,
				AssigneeType:     models.AssigneeTypeRole,
				AssigneeID:       &securityTeam,
				ApprovalRequired: true,
				MinApprovals:     2,
				TimeoutHours:     &timeout24,
			},
			{
				StepOrder:        2,
				Name:             "CISO Approval",
				AssigneeType:     models.AssigneeTypeUser,
				AssigneeID:       &ciso,
				ApprovalRequired: true,
			},
		},
	}
	w, err := eng.CreateWorkflow(ctx, spec, "seed")
	if err != nil {
		log.Fatalf("Failed to create workflow: %v", err)
	}
	logger.Info("Created default workflow", "id", w.ID, "type", string(w.WorkflowType))

	// 4. Store the same definition as a reusable template
	data, err := json.Marshal(spec)
	if err != nil {
		log.Fatalf("Failed to marshal template data: %v", err)
	}
	category := string(models.WorkflowTypeRiskAcceptance)
	template := &models.WorkflowTemplate{
		ID:           uuid.New().String(),
		Name:         "Risk Acceptance Review",
		Category:     &category,
		TemplateData: data,
		IsSystem:     true,
	}
	if err := store.CreateTemplate(ctx, template); err != nil {
		log.Fatalf("Failed to create template: %v", err)
	}
	logger.Info("Created system template", "id", template.ID)
}
