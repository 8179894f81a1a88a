package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	audit "worktrail/internal/audit"
	"worktrail/internal/audit/handler"
	"worktrail/internal/audit/handler/mocks"
	"worktrail/pkg/platform/middleware/requestid"
	"worktrail/pkg/testutil"
)

func newTestRouter(t *testing.T, checks map[string]HealthCheck) (http.Handler, *mocks.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	service := mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := handler.New(service, logger, nil)
	return NewRouter(h, Options{Logger: logger, Checks: checks}), service
}

func TestHealthzReportsDependencies(t *testing.T) {
	router, _ := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return nil },
	})

	w := testutil.DoRequest(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	status := testutil.UnmarshalResponse[map[string]string](t, w)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, status)
}

func TestHealthzFailingDependencyIs503(t *testing.T) {
	router, _ := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: connection refused") },
	})

	w := testutil.DoRequest(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	status := testutil.UnmarshalResponse[map[string]string](t, w)
	assert.Equal(t, "ok", status["postgres"])
	assert.Contains(t, status["redis"], "connection refused")
}

func TestHealthzWithoutChecksIsAlive(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := testutil.DoRequest(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpointServes(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := testutil.DoRequest(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRequestIDEchoedOnResponses(t *testing.T) {
	router, service := newTestRouter(t, nil)
	service.EXPECT().List(gomock.Any(), gomock.Any()).Return(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/audit/records", nil)
	req.Header.Set(requestid.Header, "req-42")
	w := testutil.DoRequest(router, req)

	assert.Equal(t, "req-42", w.Header().Get(requestid.Header))
}

func TestRequestIDMintedWhenAbsent(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := testutil.DoRequest(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.NotEmpty(t, w.Header().Get(requestid.Header))
}

func TestPanicBecomesInternalErrorEnvelope(t *testing.T) {
	router, service := newTestRouter(t, nil)
	service.EXPECT().List(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, audit.Filter) ([]audit.Record, error) { panic("boom") },
	)

	w := testutil.DoRequest(router, httptest.NewRequest(http.MethodGet, "/audit/records", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	resp := testutil.UnmarshalErrorResponse(t, w)
	assert.Equal(t, "internal_error", resp["error"])
	assert.NotContains(t, w.Body.String(), "boom")
}
