package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"grcflow/internal/engine"
)

// ListTemplates returns all stored workflow templates
// (GET /api/v1/templates)
func (s *Server) ListTemplates(c echo.Context) error {
	templates, err := s.engine.ListTemplates(c.Request().Context())
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, templates)
}

// GetTemplate returns one workflow template
// (GET /api/v1/templates/:id)
func (s *Server) GetTemplate(c echo.Context) error {
	t, err := s.engine.GetTemplate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// ApplyTemplate materializes a template into a new workflow definition
// (POST /api/v1/templates/:id/apply)
func (s *Server) ApplyTemplate(c echo.Context) error {
	var req engine.ApplyTemplateRequest
	if err := c.Bind(&req); err != nil {
		return s.problem(c, engine.Errorf(engine.ErrValidation, "invalid request body: %v", err))
	}
	req.ActorID = actor(c)

	w, err := s.engine.ApplyTemplate(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusCreated, w)
}

// saveTemplateRequest is the payload for saving a workflow as a template.
type saveTemplateRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// SaveAsTemplate serializes a workflow definition into a reusable template
// (POST /api/v1/workflows/:id/template)
func (s *Server) SaveAsTemplate(c echo.Context) error {
	var req saveTemplateRequest
	if err := c.Bind(&req); err != nil {
		return s.problem(c, engine.Errorf(engine.ErrValidation, "invalid request body: %v", err))
	}

	t, err := s.engine.SaveAsTemplate(c.Request().Context(), c.Param("id"), req.Name, req.Description, actor(c))
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}
