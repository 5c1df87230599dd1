package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/martijn/snapkeep/internal/api/dto"
	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/service"
	"github.com/martijn/snapkeep/internal/infrastructure/sqlite"
	"github.com/martijn/snapkeep/pkg/config"
)

type idleProducer struct{}

func (idleProducer) Produce(ctx context.Context, req domain.ArtifactRequest) (domain.ArtifactResult, error) {
	return domain.ArtifactResult{ArtifactID: "noop", Location: "mem:noop"}, nil
}

type routerEnv struct {
	router http.Handler
	auth   *service.AuthService
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop()
	scheduleRepo := sqlite.NewScheduleRepository(db)
	executionRepo := sqlite.NewExecutionRepository(db)
	backupRepo := sqlite.NewBackupRepository(db)
	policyRepo := sqlite.NewRetentionPolicyRepository(db)
	notificationRepo := sqlite.NewNotificationRepository(db)

	auth := service.NewAuthService(sqlite.NewClientRepository(db), "test-secret", "HS256", time.Hour)
	retention := service.NewRetentionService(policyRepo, scheduleRepo, backupRepo, executionRepo, nil, logger)
	coordinator := service.NewExecutionCoordinator(scheduleRepo, executionRepo, idleProducer{}, retention, nil, nil, logger, service.CoordinatorOptions{
		ProducerTimeout: time.Second,
		MaxConcurrent:   1,
	})

	cfg := &config.Config{APIHost: "127.0.0.1", APIPort: 8335}
	services := Services{
		Auth:         auth,
		Schedules:    service.NewScheduleService(scheduleRepo, executionRepo, policyRepo, coordinator, nil, logger, "UTC"),
		Executions:   service.NewExecutionService(executionRepo),
		Backups:      service.NewBackupService(backupRepo, executionRepo, nil),
		Retention:    retention,
		Notification: service.NewNotificationService(notificationRepo, scheduleRepo),
	}

	return &routerEnv{router: NewRouter(cfg, services, logger), auth: auth}
}

func (env *routerEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

// token registers a client with scopes and exchanges its credentials.
func (env *routerEnv) token(t *testing.T, scopes ...string) string {
	t.Helper()
	client, secret, err := env.auth.CreateClient(context.Background(), "test "+scopes[0], scopes)
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/auth/token", "", dto.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     client.ID,
		ClientSecret: secret,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.InDelta(t, 3600, resp.ExpiresIn, 2)
	return resp.AccessToken
}

func TestPublicRoutes(t *testing.T) {
	env := newRouterEnv(t)

	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/swagger/doc.json", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/schedules/{id}/trigger")
}

func TestTokenRejectsBadCredentials(t *testing.T) {
	env := newRouterEnv(t)

	w := env.do(t, http.MethodPost, "/auth/token", "", dto.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     "nobody",
		ClientSecret: "nothing",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/auth/token", "", dto.TokenRequest{GrantType: "password"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	env := newRouterEnv(t)

	w := env.do(t, http.MethodGet, "/schedules", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/schedules", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestScopesGateRoutes(t *testing.T) {
	env := newRouterEnv(t)
	reader := env.token(t, domain.ScopeRead)
	admin := env.token(t, domain.ScopeAll)

	w := env.do(t, http.MethodGet, "/schedules", reader, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	create := map[string]any{"name": "nightly", "cron_expression": "0 2 * * *"}
	w = env.do(t, http.MethodPost, "/schedules", reader, create)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/clients", reader, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/schedules", admin, create)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created dto.ScheduleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Contains(t, created.CreatedBy, "client:")

	w = env.do(t, http.MethodGet, "/clients", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var clients dto.ClientListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &clients))
	assert.Len(t, clients.Items, 2)
}

func TestTokenAcceptsFormAndBasicAuth(t *testing.T) {
	env := newRouterEnv(t)
	client, secret, err := env.auth.CreateClient(context.Background(), "curl", []string{domain.ScopeRead})
	require.NoError(t, err)

	form := url.Values{"grant_type": {"client_credentials"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(client.ID, secret)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var resp dto.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)

	w = env.do(t, http.MethodGet, "/schedules", resp.AccessToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
