package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"grcflow/internal/engine"
	"grcflow/internal/repository"
	"grcflow/pkg/models"
)

// ListInstances returns instances matching the query filters
// (GET /api/v1/instances)
func (s *Server) ListInstances(c echo.Context) error {
	filter := repository.InstanceFilter{
		EntityType: c.QueryParam("entity_type"),
		EntityID:   c.QueryParam("entity_id"),
		Status:     models.InstanceStatus(c.QueryParam("status")),
		AssignedTo: c.QueryParam("assigned_to"),
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return s.problem(c, engine.Errorf(engine.ErrValidation, "invalid limit %q", v))
		}
		filter.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return s.problem(c, engine.Errorf(engine.ErrValidation, "invalid offset %q", v))
		}
		filter.Offset = n
	}

	instances, err := s.engine.ListInstances(c.Request().Context(), filter)
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, instances)
}

// GetInstance returns one workflow instance
// (GET /api/v1/instances/:id)
func (s *Server) GetInstance(c echo.Context) error {
	inst, err := s.engine.GetInstance(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// GetInstanceSteps returns the step instances of one instance in order
// (GET /api/v1/instances/:id/steps)
func (s *Server) GetInstanceSteps(c echo.Context) error {
	steps, err := s.engine.GetStepInstances(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, steps)
}

// GetInstanceActions returns the audit trail of one instance
// (GET /api/v1/instances/:id/actions)
func (s *Server) GetInstanceActions(c echo.Context) error {
	actions, err := s.engine.ListActions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, actions)
}

// ExecuteAction applies one action to the active step of an instance
// (POST /api/v1/instances/:id/actions)
func (s *Server) ExecuteAction(c echo.Context) error {
	var req engine.ActionRequest
	if err := c.Bind(&req); err != nil {
		return s.problem(c, engine.Errorf(engine.ErrValidation, "invalid request body: %v", err))
	}
	if req.ActorID == "" {
		req.ActorID = actor(c)
	}

	record, err := s.engine.ExecuteAction(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

// bulkActionRequest is the payload of a bulk action call.
type bulkActionRequest struct {
	InstanceIDs []string `json:"instance_ids"`
	engine.ActionRequest
}

// ExecuteBulkAction applies one action to many instances
// (POST /api/v1/instances/bulk-actions)
func (s *Server) ExecuteBulkAction(c echo.Context) error {
	var req bulkActionRequest
	if err := c.Bind(&req); err != nil {
		return s.problem(c, engine.Errorf(engine.ErrValidation, "invalid request body: %v", err))
	}
	if req.ActorID == "" {
		req.ActorID = actor(c)
	}

	resp, err := s.engine.ExecuteBulkAction(c.Request().Context(), req.InstanceIDs, req.ActionRequest)
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetWorklist returns the active steps waiting on an assignee
// (GET /api/v1/worklist?assignee=)
func (s *Server) GetWorklist(c echo.Context) error {
	items, err := s.engine.Worklist(c.Request().Context(), c.QueryParam("assignee"))
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

// GetDashboardSummary returns engine-wide aggregate counts
// (GET /api/v1/dashboard/summary)
func (s *Server) GetDashboardSummary(c echo.Context) error {
	summary, err := s.engine.DashboardSummary(c.Request().Context())
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}
