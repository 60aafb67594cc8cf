package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certflow/backend/internal/logging"
	"certflow/backend/internal/orchestrator"
	"certflow/backend/internal/repository"
	"certflow/backend/internal/services"
	"certflow/backend/pkg/models"
)

func newTestServer(t *testing.T) (*echo.Echo, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	orch := orchestrator.New(store, nil, logging.NewNop())
	validation := services.NewValidationService(store)
	srv := NewServer(orch, validation, logging.NewNop(), "test")

	e := echo.New()
	// test identity middleware standing in for OIDC
	auth := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("user_id", "tester")
			return next(c)
		}
	}
	srv.RegisterRoutes(e, auth)
	return e, store
}

func doRequest(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(e, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var health models.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "certflow", health.Service)
}

func TestInitiateWorkflow(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(e, http.MethodPost, "/api/v1/projects/proj-1/workflows",
		`{"industry": "automotive", "framework": "ISO 26262", "document_ids": ["doc-1"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var run models.WorkflowRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "proj-1", run.ProjectID)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, "tester", run.InitiatedBy)
}

func TestInitiateWorkflowRequiresDocuments(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(e, http.MethodPost, "/api/v1/projects/proj-1/workflows", `{"industry": "automotive"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var problem models.ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "VALIDATION", problem.Title)
}

func TestInitiateWorkflowConflict(t *testing.T) {
	e, _ := newTestServer(t)
	body := `{"document_ids": ["doc-1"]}`
	rec := doRequest(e, http.MethodPost, "/api/v1/projects/proj-1/workflows", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(e, http.MethodPost, "/api/v1/projects/proj-1/workflows", body)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/problem+json")

	var problem models.ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "CONFLICT", problem.Title)
	assert.Equal(t, http.StatusConflict, problem.Status)
}

func TestGetWorkflowStatus(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(e, http.MethodPost, "/api/v1/projects/proj-1/workflows", `{"document_ids": ["doc-1"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var run models.WorkflowRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	rec = doRequest(e, http.MethodGet, "/api/v1/workflows/"+run.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.WorkflowStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Len(t, status.Steps, len(models.PhaseDefinitions))
	assert.Equal(t, 0, status.Progress)
}

func TestGetWorkflowStatusNotFound(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(e, http.MethodGet, "/api/v1/workflows/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var problem models.ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "NOT_FOUND", problem.Title)
}

func TestRejectStepRequiresReason(t *testing.T) {
	e, store := newTestServer(t)
	rec := doRequest(e, http.MethodPost, "/api/v1/projects/proj-1/workflows", `{"document_ids": ["doc-1"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var run models.WorkflowRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	steps, err := store.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)

	rec = doRequest(e, http.MethodPost,
		"/api/v1/workflows/"+run.ID+"/steps/"+steps[0].ID+"/reject", `{"reason": ""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelWorkflow(t *testing.T) {
	e, store := newTestServer(t)
	rec := doRequest(e, http.MethodPost, "/api/v1/projects/proj-1/workflows", `{"document_ids": ["doc-1"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var run models.WorkflowRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	rec = doRequest(e, http.MethodPost, "/api/v1/workflows/"+run.ID+"/cancel", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, got.Status)
}

func TestValidateRequirement(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(e, http.MethodPost, "/api/v1/requirements/validate",
		`{"text": "The system shall prevent door opening when speed exceeds 5 km within 100 ms."}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var assessment struct {
		Score  int    `json:"score"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assessment))
	assert.Equal(t, "PASS", assessment.Status)
	assert.Equal(t, 10, assessment.Score)
}

func TestValidateRequirementRejectsWeakHumanText(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(e, http.MethodPost, "/api/v1/requirements/validate",
		`{"text": "The operator should ensure the brake is checked.", "hazard_severity": "catastrophic"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var assessment struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assessment))
	assert.Equal(t, "REJECT", assessment.Status)
}

func TestValidateRequirementRequiresText(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(e, http.MethodPost, "/api/v1/requirements/validate", `{"text": "  "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateRequirementUnknownRuleSet(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(e, http.MethodPost, "/api/v1/requirements/validate",
		`{"text": "The system shall prevent overpressure.", "rule_set": "strict"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateBatchEmptyProject(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(e, http.MethodPost, "/api/v1/projects/proj-1/requirements/validate-batch", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result services.BatchValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Zero(t, result.Total)
}
