package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"grcflow/internal/repository"
	"grcflow/pkg/models"
)

// ApplyTemplateRequest overrides template fields when instantiating it.
type ApplyTemplateRequest struct {
	Name      string `json:"name,omitempty"`
	IsDefault bool   `json:"is_default,omitempty"`
	ActorID   string `json:"-"`
}

// ApplyTemplate materializes a stored template into a new workflow
// definition. The created workflow starts in draft unless the template
// says otherwise; applying bumps the template's usage count.
func (e *Engine) ApplyTemplate(ctx context.Context, templateID string, req ApplyTemplateRequest) (*models.Workflow, error) {
	t, err := e.store.GetTemplate(ctx, templateID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, Errorf(ErrNotFound, "template %s", templateID)
	}
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}

	var spec WorkflowSpec
	if err := json.Unmarshal(t.TemplateData, &spec); err != nil {
		return nil, Errorf(ErrTemplateDecode, "template %s: %v", templateID, err)
	}
	if req.Name != "" {
		spec.Name = req.Name
	}
	spec.IsDefault = req.IsDefault

	w, err := e.CreateWorkflow(ctx, spec, req.ActorID)
	if err != nil {
		return nil, err
	}

	if err := e.store.IncrementTemplateUsage(ctx, templateID); err != nil {
		// the workflow exists either way, a lost count is acceptable
		e.logger.Warn("increment template usage failed",
			"template_id", templateID, "error", err)
	}

	e.logger.Info("template applied",
		"template_id", templateID, "workflow_id", w.ID)
	return w, nil
}

// SaveAsTemplate serializes an existing workflow definition into a new
// reusable template.
func (e *Engine) SaveAsTemplate(ctx context.Context, workflowID, name string, description *string, actor string) (*models.WorkflowTemplate, error) {
	if name == "" {
		return nil, Errorf(ErrValidation, "template name is required")
	}

	w, err := e.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(specFromWorkflow(w))
	if err != nil {
		return nil, fmt.Errorf("marshal template data: %w", err)
	}

	category := string(w.WorkflowType)
	t := &models.WorkflowTemplate{
		ID:           uuid.New().String(),
		Name:         name,
		Description:  description,
		Category:     &category,
		TemplateData: data,
	}
	if actor != "" {
		t.CreatedBy = &actor
	}
	if err := e.store.CreateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}

	e.logger.Info("workflow saved as template",
		"workflow_id", workflowID, "template_id", t.ID)
	return t, nil
}

// ListTemplates returns all stored templates.
func (e *Engine) ListTemplates(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	return e.store.ListTemplates(ctx)
}

// GetTemplate loads one template.
func (e *Engine) GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	t, err := e.store.GetTemplate(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, Errorf(ErrNotFound, "template %s", id)
	}
	return t, err
}
