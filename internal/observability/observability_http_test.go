package observability_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/objrt/internal/observability"
)

func serve(t *testing.T, handler http.Handler, path string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))

	var body map[string]string
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}

	return rec, body
}

func TestHealthHandler_ReturnsOK(t *testing.T) {
	t.Parallel()

	rec, body := serve(t, observability.HealthHandler(), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestReadyHandler_NoChecks(t *testing.T) {
	t.Parallel()

	rec, body := serve(t, observability.ReadyHandler(), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestReadyHandler_FailingCheck(t *testing.T) {
	t.Parallel()

	pass := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("pool corrupt") }

	rec, body := serve(t, observability.ReadyHandler(pass, fail), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", body["status"])
	assert.Equal(t, "pool corrupt", body["error"])
}

func TestPrometheusExporter_ServesInstruments(t *testing.T) {
	t.Parallel()

	exp, err := observability.NewPrometheusExporter()
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, exp.Provider.Shutdown(context.Background())) })

	om, err := observability.NewOpMetrics(exp.Provider.Meter("test"))
	require.NoError(t, err)

	om.Track(context.Background(), "intern")(nil)

	rec, _ := serve(t, exp.Handler, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	body := rec.Body.String()
	assert.Contains(t, body, "objrt_ops_total")
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, "target_info")
}
