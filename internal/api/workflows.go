package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"grcflow/internal/engine"
	"grcflow/pkg/models"
)

// ListWorkflows returns all workflow definitions with their steps
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	workflows, err := s.engine.ListWorkflows(c.Request().Context())
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, workflows)
}

// CreateWorkflow creates a workflow definition with its steps
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	var spec engine.WorkflowSpec
	if err := c.Bind(&spec); err != nil {
		return s.problem(c, engine.Errorf(engine.ErrValidation, "invalid request body: %v", err))
	}

	w, err := s.engine.CreateWorkflow(c.Request().Context(), spec, actor(c))
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusCreated, w)
}

// GetWorkflow returns one workflow definition with its steps
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	w, err := s.engine.GetWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

// TriggerWorkflow starts a new instance of a specific workflow
// (POST /api/v1/workflows/:id/trigger)
func (s *Server) TriggerWorkflow(c echo.Context) error {
	var req engine.TriggerRequest
	if err := c.Bind(&req); err != nil {
		return s.problem(c, engine.Errorf(engine.ErrValidation, "invalid request body: %v", err))
	}
	req.ActorID = actor(c)

	inst, err := s.engine.CreateInstance(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusCreated, inst)
}

// TriggerByType starts a new instance of the default workflow for a type
// (POST /api/v1/workflow-types/:type/trigger)
func (s *Server) TriggerByType(c echo.Context) error {
	var req engine.TriggerRequest
	if err := c.Bind(&req); err != nil {
		return s.problem(c, engine.Errorf(engine.ErrValidation, "invalid request body: %v", err))
	}
	req.ActorID = actor(c)

	inst, err := s.engine.TriggerByType(c.Request().Context(), models.WorkflowType(c.Param("type")), req)
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusCreated, inst)
}
