package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grcflow/internal/engine"
	"grcflow/internal/logging"
	"grcflow/internal/notify"
	"grcflow/internal/repository"
	"grcflow/pkg/models"
)

func newTestServer(t *testing.T) (*echo.Echo, *engine.Engine) {
	t.Helper()
	store := repository.NewMemoryStore()
	eng := engine.New(store, repository.NoopTxManager{}, notify.Nop{}, logging.NewLogger())

	e := echo.New()
	s := NewServer(eng, logging.NewLogger())
	e.GET("/healthz", s.HandleHealth)
	s.RegisterRoutes(e.Group("/api/v1"))
	return e, eng
}

func doRequest(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(actorHeader, "tester")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const workflowBody = `{
	"workflow_type": "risk_acceptance",
	"name": "Risk Acceptance Review",
	"status": "active",
	"is_default": true,
	"steps": [
		{"step_order": 1, "name": "Security Review", "assignee_id": "alice", "approval_required": true},
		{"step_order": 2, "name": "CISO Approval", "assignee_id": "carol", "approval_required": true}
	]
}`

func createWorkflow(t *testing.T, e *echo.Echo) models.Workflow {
	t.Helper()
	rec := doRequest(e, http.MethodPost, "/api/v1/workflows", workflowBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var w models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &w))
	return w
}

func triggerInstance(t *testing.T, e *echo.Echo, workflowID string) models.WorkflowInstance {
	t.Helper()
	rec := doRequest(e, http.MethodPost, "/api/v1/workflows/"+workflowID+"/trigger",
		`{"entity_type": "risk", "entity_id": "RISK-9"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var inst models.WorkflowInstance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inst))
	return inst
}

func TestHealthEndpoint(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var status models.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "grcflow", status.Service)
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	e, _ := newTestServer(t)

	w := createWorkflow(t, e)
	assert.Equal(t, models.WorkflowStatusActive, w.Status)
	require.Len(t, w.Steps, 2)

	rec := doRequest(e, http.MethodGet, "/api/v1/workflows/"+w.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(e, http.MethodGet, "/api/v1/workflows", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	inst := triggerInstance(t, e, w.ID)
	assert.Equal(t, models.InstanceStatusInProgress, inst.Status)

	// type-based trigger resolves the default workflow
	rec = doRequest(e, http.MethodPost, "/api/v1/workflow-types/risk_acceptance/trigger",
		`{"entity_type": "risk", "entity_id": "RISK-10"}`)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// approve both steps
	for _, actor := range []string{"alice", "carol"} {
		rec = doRequest(e, http.MethodPost, "/api/v1/instances/"+inst.ID+"/actions",
			fmt.Sprintf(`{"action_type": "approve", "performed_by": %q}`, actor))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = doRequest(e, http.MethodGet, "/api/v1/instances/"+inst.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.WorkflowInstance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.InstanceStatusCompleted, got.Status)

	rec = doRequest(e, http.MethodGet, "/api/v1/instances/"+inst.ID+"/steps", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var steps []models.WorkflowStepInstance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &steps))
	assert.Len(t, steps, 2)

	rec = doRequest(e, http.MethodGet, "/api/v1/instances/"+inst.ID+"/actions", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var actions []models.WorkflowAction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &actions))
	assert.Len(t, actions, 2)
}

func TestErrorMapping(t *testing.T) {
	e, _ := newTestServer(t)
	w := createWorkflow(t, e)
	inst := triggerInstance(t, e, w.ID)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{
			"unknown instance is 404",
			http.MethodGet, "/api/v1/instances/" + uuid.New().String(), "",
			http.StatusNotFound,
		},
		{
			"unknown workflow trigger is 404",
			http.MethodPost, "/api/v1/workflows/" + uuid.New().String() + "/trigger",
			`{"entity_type": "risk", "entity_id": "RISK-1"}`,
			http.StatusNotFound,
		},
		{
			"no default workflow for type is 404",
			http.MethodPost, "/api/v1/workflow-types/vendor_onboarding/trigger",
			`{"entity_type": "vendor", "entity_id": "V-1"}`,
			http.StatusNotFound,
		},
		{
			"invalid action type is 400",
			http.MethodPost, "/api/v1/instances/" + inst.ID + "/actions",
			`{"action_type": "promote", "performed_by": "alice"}`,
			http.StatusBadRequest,
		},
		{
			"skip without can_skip is 400",
			http.MethodPost, "/api/v1/instances/" + inst.ID + "/actions",
			`{"action_type": "skip", "performed_by": "alice"}`,
			http.StatusBadRequest,
		},
		{
			"missing trigger fields is 400",
			http.MethodPost, "/api/v1/workflows/" + w.ID + "/trigger",
			`{"entity_type": "risk"}`,
			http.StatusBadRequest,
		},
		{
			"worklist without assignee is 400",
			http.MethodGet, "/api/v1/worklist", "",
			http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(e, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/problem+json")

			var p models.ProblemDetails
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, tt.status, p.Status)
			assert.NotEmpty(t, p.Detail)
		})
	}
}

func TestActionOnTerminalInstanceIs404(t *testing.T) {
	e, _ := newTestServer(t)
	w := createWorkflow(t, e)
	inst := triggerInstance(t, e, w.ID)

	rec := doRequest(e, http.MethodPost, "/api/v1/instances/"+inst.ID+"/actions",
		`{"action_type": "cancel", "performed_by": "tester"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// a terminal instance no longer accepts actions
	rec = doRequest(e, http.MethodPost, "/api/v1/instances/"+inst.ID+"/actions",
		`{"action_type": "approve", "performed_by": "alice"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/problem+json")
}

func TestBulkActionsEndpoint(t *testing.T) {
	e, _ := newTestServer(t)
	w := createWorkflow(t, e)
	a := triggerInstance(t, e, w.ID)

	body := fmt.Sprintf(`{
		"instance_ids": [%q, %q],
		"action_type": "approve",
		"performed_by": "alice"
	}`, a.ID, uuid.New().String())

	rec := doRequest(e, http.MethodPost, "/api/v1/instances/bulk-actions", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.BulkActionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.SuccessCount)
	assert.Equal(t, 1, resp.FailureCount)
}

func TestWorklistAndDashboardEndpoints(t *testing.T) {
	e, _ := newTestServer(t)
	w := createWorkflow(t, e)
	triggerInstance(t, e, w.ID)

	rec := doRequest(e, http.MethodGet, "/api/v1/worklist?assignee=alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []engine.WorklistItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 1)

	rec = doRequest(e, http.MethodGet, "/api/v1/dashboard/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sum models.DashboardSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.ActiveSteps)
	assert.Equal(t, 1, sum.PendingSteps)
}

func TestTemplateEndpoints(t *testing.T) {
	e, _ := newTestServer(t)
	w := createWorkflow(t, e)

	rec := doRequest(e, http.MethodPost, "/api/v1/workflows/"+w.ID+"/template",
		`{"name": "Standard Review"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tmpl models.WorkflowTemplate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tmpl))

	rec = doRequest(e, http.MethodGet, "/api/v1/templates", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(e, http.MethodPost, "/api/v1/templates/"+tmpl.ID+"/apply",
		`{"name": "From Template"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var applied models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &applied))
	assert.Equal(t, "From Template", applied.Name)
	assert.Len(t, applied.Steps, 2)
}
