// Package api contains the HTTP handlers for the workflow service
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"grcflow/internal/engine"
	"grcflow/internal/logging"
	"grcflow/pkg/models"
)

// actorHeader carries the acting user id on mutating requests.
const actorHeader = "X-Actor-ID"

// Server holds the dependencies for the API server.
type Server struct {
	engine *engine.Engine
	logger *logging.Logger
}

// NewServer creates a new Server.
func NewServer(eng *engine.Engine, logger *logging.Logger) *Server {
	return &Server{engine: eng, logger: logger}
}

// RegisterRoutes mounts all handlers on the /api/v1 group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.GET("/workflows", s.ListWorkflows)
	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.POST("/workflows/:id/trigger", s.TriggerWorkflow)
	g.POST("/workflows/:id/template", s.SaveAsTemplate)
	g.POST("/workflow-types/:type/trigger", s.TriggerByType)

	g.GET("/instances", s.ListInstances)
	g.GET("/instances/:id", s.GetInstance)
	g.GET("/instances/:id/steps", s.GetInstanceSteps)
	g.GET("/instances/:id/actions", s.GetInstanceActions)
	g.POST("/instances/:id/actions", s.ExecuteAction)
	g.POST("/instances/bulk-actions", s.ExecuteBulkAction)

	g.GET("/worklist", s.GetWorklist)
	g.GET("/dashboard/summary", s.GetDashboardSummary)

	g.GET("/templates", s.ListTemplates)
	g.GET("/templates/:id", s.GetTemplate)
	g.POST("/templates/:id/apply", s.ApplyTemplate)
}

// HandleHealth returns service health including a database check.
// (GET /healthz)
func (s *Server) HandleHealth(c echo.Context) error {
	status := models.HealthStatus{
		Status:    "ok",
		Service:   "grcflow",
		Version:   "1.0.0",
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{"database": "ok"},
	}
	code := http.StatusOK
	if err := s.engine.Store().Ping(c.Request().Context()); err != nil {
		status.Status = "degraded"
		status.Checks["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// actor extracts the acting user from the request header.
func actor(c echo.Context) string {
	return c.Request().Header.Get(actorHeader)
}

// problem writes an engine error as an RFC 7807 Problem Details response,
// mapping the error kind to an HTTP status.
func (s *Server) problem(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	title := "Internal Server Error"

	switch {
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, engine.ErrNoDefaultWorkflow),
		errors.Is(err, engine.ErrNotActive):
		// terminal instances read as gone to action callers
		status, title = http.StatusNotFound, "Not Found"
	case errors.Is(err, engine.ErrValidation), errors.Is(err, engine.ErrActionNotAllowed):
		status, title = http.StatusBadRequest, "Bad Request"
	case errors.Is(err, engine.ErrConflict), errors.Is(err, engine.ErrNoActiveStep):
		status, title = http.StatusConflict, "Conflict"
	case errors.Is(err, engine.ErrTemplateDecode):
		status, title = http.StatusUnprocessableEntity, "Unprocessable Entity"
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Request().Method, "path", c.Path(), "error", err)
	}

	p := models.ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   err.Error(),
		Instance: c.Request().URL.Path,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	c.Response().WriteHeader(status)
	return json.NewEncoder(c.Response()).Encode(p)
}
