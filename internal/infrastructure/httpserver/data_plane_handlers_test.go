package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avatarctic/ratelimit-planes/internal/application/services"
	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/auth"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/httpserver"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/metrics"
	"github.com/avatarctic/ratelimit-planes/test/mocks"
)

func newDataPlane(t *testing.T, admission ports.AdmissionService, syncer ports.PolicySyncer, tokens *auth.InternalTokens, checkers ...ports.HealthChecker) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	srv := httpserver.NewDataPlaneServer(nil, nil, httpserver.DataPlaneDeps{
		Admission:       admission,
		Syncer:          syncer,
		ControlPlaneURL: "http://control-plane:3000",
		Strategy:        "fixed_window",
		Tokens:          tokens,
		Metrics:         metrics.NewRecorder(reg),
		Gatherer:        reg,
		HealthCheckers:  checkers,
	})
	return srv.Echo()
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAdmitRequest_Allowed(t *testing.T) {
	reset := time.Unix(1_700_000_060, 0)
	adm := &mocks.AdmissionServiceMock{HandleFn: func(ctx context.Context, tenantID, requestID string) (*ports.AdmissionResult, error) {
		return &ports.AdmissionResult{TenantID: tenantID, RequestID: requestID, Allowed: true, Count: 1, Remaining: 2, Limit: 3, WindowSeconds: 60, ResetAt: reset}, nil
	}}
	h := newDataPlane(t, adm, nil, nil)

	rec := do(h, http.MethodPost, "/api/request", `{"tenantId":"acme","requestId":"r-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "allowed", body["status"])
	assert.Equal(t, "acme", body["tenantId"])
	assert.Equal(t, "r-1", body["requestId"])
	assert.Equal(t, float64(3), body["limit"])
	assert.Equal(t, float64(60), body["window"])
	assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, fmt.Sprint(reset.Unix()), rec.Header().Get("X-RateLimit-Reset"))
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestAdmitRequest_Denied(t *testing.T) {
	adm := &mocks.AdmissionServiceMock{HandleFn: func(ctx context.Context, tenantID, requestID string) (*ports.AdmissionResult, error) {
		return &ports.AdmissionResult{TenantID: tenantID, Allowed: false, Count: 4, Limit: 3, WindowSeconds: 60, RetryAfter: 50, ResetAt: time.Now().Add(50 * time.Second)}, nil
	}}
	h := newDataPlane(t, adm, nil, nil)

	rec := do(h, http.MethodPost, "/api/request", `{"tenantId":"acme"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "rate limit exceeded", body["error"])
	assert.Equal(t, float64(50), body["retryAfter"])
	assert.Equal(t, "50", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestAdmitRequest_MissingTenantIsBadRequest(t *testing.T) {
	adm := &mocks.AdmissionServiceMock{HandleFn: func(ctx context.Context, tenantID, requestID string) (*ports.AdmissionResult, error) {
		return nil, fmt.Errorf("%w: tenantId is required", services.ErrInvalidRequest)
	}}
	h := newDataPlane(t, adm, nil, nil)

	rec := do(h, http.MethodPost, "/api/request", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPushPolicy_AcknowledgesWithoutOutcome(t *testing.T) {
	var got policy.Policy
	var source string
	adm := &mocks.AdmissionServiceMock{UpdateConfigFn: func(ctx context.Context, p policy.Policy, src string) error {
		got, source = p, src
		return nil
	}}
	h := newDataPlane(t, adm, nil, nil)

	rec := do(h, http.MethodPost, "/internal/config/rate-limits", `{"tenantId":"acme","version":5,"limit":10,"window":60}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"status": "accepted"}, decode(t, rec))
	assert.Equal(t, int64(5), got.Version)
	assert.Equal(t, ports.SourcePush, source)
}

func TestPushPolicy_InvalidPolicy(t *testing.T) {
	adm := &mocks.AdmissionServiceMock{UpdateConfigFn: func(ctx context.Context, p policy.Policy, src string) error {
		return p.Validate()
	}}
	h := newDataPlane(t, adm, nil, nil)

	rec := do(h, http.MethodPost, "/internal/config/rate-limits", `{"tenantId":"acme","version":5,"limit":0,"window":60}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInternalRoutes_RequireTokenWhenConfigured(t *testing.T) {
	tokens := auth.NewInternalTokens("s3cret", "control-plane", time.Minute)
	h := newDataPlane(t, &mocks.AdmissionServiceMock{}, nil, tokens)
	body := `{"tenantId":"acme","version":1,"limit":10,"window":60}`

	rec := do(h, http.MethodPost, "/internal/config/rate-limits", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodPost, "/internal/config/rate-limits", body, "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := tokens.Issue("control-plane")
	require.NoError(t, err)
	rec = do(h, http.MethodPost, "/internal/config/rate-limits", body, "Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusOK, rec.Code)

	// admission stays open
	rec = do(h, http.MethodPost, "/api/request", `{"tenantId":"acme"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerSync(t *testing.T) {
	syncer := &mocks.PolicySyncerMock{SyncNowFn: func(ctx context.Context) (ports.SyncResult, error) {
		return ports.SyncResult{Fetched: 3, Applied: 1}, nil
	}}
	h := newDataPlane(t, &mocks.AdmissionServiceMock{}, syncer, nil)

	rec := do(h, http.MethodPost, "/internal/config/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(3), body["fetched"])
	assert.Equal(t, float64(1), body["applied"])
}

func TestTriggerSync_UpstreamFailureIsBadGateway(t *testing.T) {
	syncer := &mocks.PolicySyncerMock{SyncNowFn: func(ctx context.Context) (ports.SyncResult, error) {
		return ports.SyncResult{}, errors.New("connection refused")
	}}
	adm := &mocks.AdmissionServiceMock{PolicyCountFn: func() int { return 7 }}
	h := newDataPlane(t, adm, syncer, nil)

	rec := do(h, http.MethodPost, "/internal/config/sync", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, float64(7), decode(t, rec)["policies"])
}

func TestDataPlaneStatus(t *testing.T) {
	syncer := &mocks.PolicySyncerMock{StatusFn: func() ports.SyncStatus {
		return ports.SyncStatus{State: "idle", ConsecutiveFailures: 2}
	}}
	adm := &mocks.AdmissionServiceMock{PolicyCountFn: func() int { return 2 }}
	h := newDataPlane(t, adm, syncer, nil)

	rec := do(h, http.MethodGet, "/internal/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["policies"])
	assert.Equal(t, "http://control-plane:3000", body["controlPlaneURL"])
	assert.Equal(t, "fixed_window", body["strategy"])
	assert.Equal(t, "per-node", body["counting"])
	sync, ok := body["sync"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), sync["consecutiveFailures"])
}

func TestDataPlaneHealth_ControlPlaneOutageOnlyDegrades(t *testing.T) {
	cp := &mocks.HealthCheckerMock{NameValue: "control_plane", OptionalValue: true, CheckFn: func(ctx context.Context) error {
		return errors.New("unreachable")
	}}
	adm := &mocks.AdmissionServiceMock{PolicyCountFn: func() int { return 4 }}
	h := newDataPlane(t, adm, nil, nil, cp)

	rec := do(h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, float64(4), body["policies"])
	assert.Equal(t, "http://control-plane:3000", body["controlPlaneURL"])
}

func TestMetricsEndpoint_ServesRecorder(t *testing.T) {
	h := newDataPlane(t, &mocks.AdmissionServiceMock{}, nil, nil)
	_ = do(h, http.MethodPost, "/api/request", `{"tenantId":"acme"}`)

	rec := do(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{endpoint="/api/request",method="POST",status="200"} 1`)
}
