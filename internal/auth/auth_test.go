package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certflow/backend/internal/config"
	"certflow/backend/internal/logging"
)

func TestNewBypassInDevMode(t *testing.T) {
	cfg := &config.Config{Environment: "dev", DevModeBypass: true}
	a, err := New(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	assert.True(t, a.bypass)
}

func TestNewRequiresIssuerOutsideDev(t *testing.T) {
	cfg := &config.Config{Environment: "prod"}
	_, err := New(context.Background(), cfg, logging.NewNop())
	require.Error(t, err)
}

func TestBypassMiddlewareInjectsDevIdentity(t *testing.T) {
	a := &Auth{logger: logging.NewNop(), bypass: true}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/x", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := a.Middleware()(func(c echo.Context) error {
		called = true
		assert.Equal(t, "dev@localhost", c.Get("user_id"))
		return nil
	})
	require.NoError(t, handler(c))
	assert.True(t, called)
}

func TestMiddlewareRejectsMissingBearer(t *testing.T) {
	a := &Auth{logger: logging.NewNop()}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/x", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := a.Middleware()(func(c echo.Context) error { return nil })
	err := handler(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestHasScope(t *testing.T) {
	scopes := []string{ScopeOpenID, ScopeWorkflowRead}
	assert.True(t, HasScope(scopes, ScopeWorkflowRead))
	assert.False(t, HasScope(scopes, ScopeWorkflowWrite))
}
