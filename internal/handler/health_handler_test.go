package handler_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review/internal/config"
	"github.com/noah-isme/gema-review/internal/handler"
	"github.com/noah-isme/gema-review/internal/router"
)

func TestHealthCheckReportsDegradedDependencies(t *testing.T) {
	app := fiber.New()
	router.Register(app, config.Config{AppName: "review-test", AppEnv: "test"}, router.Dependencies{
		HealthProbes: map[string]handler.HealthProbe{
			"redis": func(context.Context) error { return nil },
			"nats":  func(context.Context) error { return errors.New("disconnected") },
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "review-test", resp.Header.Get("X-Application"))

	g := &gateway{app: app}
	_, env := g.send(t, httptest.NewRequest(http.MethodGet, "/health", nil), "")
	var payload handler.HealthResponse
	decodeData(t, env, &payload)
	require.Equal(t, "degraded", payload.Status)
	require.Equal(t, map[string]string{"redis": "ok", "nats": "unavailable"}, payload.Dependencies)
}

func TestMetricsEndpointExposesGatewayMetrics(t *testing.T) {
	g := newGateway(t, nil)
	openSession(t, g, signedToken(t, "teacher-1", "teacher"))

	resp, err := g.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "gateway_requests_total")
	require.Contains(t, string(body), "grading_api_request_duration_seconds")
}

func TestActivityHandlerScopesNonAdmins(t *testing.T) {
	g := newGateway(t, nil)
	teacher := signedToken(t, "teacher-1", "teacher")
	view := openSession(t, g, teacher)

	g.backend.setStatus("pending", nil)
	resp, _ := g.do(t, http.MethodPost, "/api/v1/review/sessions/"+view.SessionID+"/refresh", teacher, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = g.do(t, http.MethodPost, "/api/v1/review/sessions/"+view.SessionID+"/trigger-grading", teacher, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, env := g.do(t, http.MethodGet, "/api/v1/activity?actor_id=someone-else", teacher, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var items []map[string]interface{}
	decodeData(t, env, &items)
	require.Len(t, items, 1)
	require.Equal(t, "teacher-1", items[0]["actor_id"])
	require.Equal(t, "grading.triggered", items[0]["action"])

	admin := signedToken(t, "admin-1", "admin")
	resp, env = g.do(t, http.MethodGet, "/api/v1/activity?actor_id=someone-else", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, env, &items)
	require.Empty(t, items)

	resp, env = g.do(t, http.MethodGet, "/api/v1/activity?action=grading.triggered", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, env, &items)
	require.Len(t, items, 1)

	resp, _ = g.do(t, http.MethodGet, "/api/v1/activity?page=abc", admin, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
