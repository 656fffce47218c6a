package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"prank-platform/internal/auth"
	"prank-platform/internal/callerid"
	"prank-platform/internal/calls"
	"prank-platform/internal/config"
	"prank-platform/internal/httpapi"
	"prank-platform/internal/metrics"
	"prank-platform/internal/rbac"
	"prank-platform/internal/telephony"
	"prank-platform/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	events []telephony.Event
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, ev telephony.Event) error {
	d.events = append(d.events, ev)
	return nil
}

func testRouter(t *testing.T) (*gin.Engine, *auth.Manager, *recordingDispatcher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "s", AccessTokenTTL: time.Hour})
	require.NoError(t, err)

	disp := &recordingDispatcher{}
	jobs := calls.NewMemoryRepo()
	jobs.Put(calls.CallJob{ID: "job-1", OwnerID: "owner-1", Status: calls.StatusRinging})

	r := gin.New()
	mets := metrics.New(prometheus.NewRegistry())
	r.Use(mets.Middleware())
	registerRoutes(r, routeDeps{
		authMW:  auth.RequireAccessToken(m),
		metrics: mets,
		webhook: telephony.WebhookHandler{Dispatcher: disp, Secret: "hook"},
		api: httpapi.Handlers{
			Calls:  jobs,
			Pool:   callerid.NewPool(callerid.NewMemoryRepo()),
			Wallet: wallet.NewService(wallet.NewMemoryStore()),
		},
	})
	return r, m, disp
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	r, _, _ := testRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `path="/healthz"`)
}

func TestRoutes_WebhookRequiresSecret(t *testing.T) {
	r, _, disp := testRouter(t)
	body := `{"message":{"type":"status-update","status":"ringing","call":{"id":"ext-1"}}}`

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(body))
	req.Header.Set("X-Webhook-Secret", "hook")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, disp.events, 1)
	assert.Equal(t, "ext-1", disp.events[0].ExternalCallID)
}

func TestRoutes_OpsRequireTokenAndRole(t *testing.T) {
	r, m, _ := testRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/calls/job-1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	ownerTok, err := m.Issue(time.Now(), "u1", "owner-1", rbac.RoleOwner)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/calls/job-1", nil)
	req.Header.Set("Authorization", "Bearer "+ownerTok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/caller-identities", nil)
	req.Header.Set("Authorization", "Bearer "+ownerTok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	opTok, err := m.Issue(time.Now(), "op", "ops", rbac.RoleOperator)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/v1/caller-identities", nil)
	req.Header.Set("Authorization", "Bearer "+opTok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
