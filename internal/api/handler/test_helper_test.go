package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/martijn/snapkeep/internal/api/dto"
	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
	"github.com/martijn/snapkeep/internal/core/service"
	"github.com/martijn/snapkeep/internal/infrastructure/sqlite"
)

// gatedProducer blocks every Produce call until release is closed.
type gatedProducer struct {
	release chan struct{}
}

func (p *gatedProducer) Produce(ctx context.Context, req domain.ArtifactRequest) (domain.ArtifactResult, error) {
	select {
	case <-p.release:
	case <-ctx.Done():
		return domain.ArtifactResult{}, ctx.Err()
	}
	id := fmt.Sprintf("artifact-%d", req.ExecutionID)
	return domain.ArtifactResult{ArtifactID: id, Size: 2048, ItemCount: 4, Location: "mem:" + id}, nil
}

type discardStore struct{}

func (discardStore) Put(_ context.Context, key string, r io.Reader) (string, error) {
	_, err := io.Copy(io.Discard, r)
	return "mem:" + key, err
}

func (discardStore) Delete(context.Context, string) error { return nil }

// testEnv holds all test dependencies
type testEnv struct {
	db          *sqlite.DB
	router      *gin.Engine
	producer    *gatedProducer
	coordinator *service.ExecutionCoordinator
	schedules   *service.ScheduleService
	executions  repository.ExecutionRepository
}

// setupTestEnv wires real services over a temporary SQLite database and
// registers the routes without auth middleware.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(filepath.Join(t.TempDir(), "snapkeep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop()
	scheduleRepo := sqlite.NewScheduleRepository(db)
	executionRepo := sqlite.NewExecutionRepository(db)
	backupRepo := sqlite.NewBackupRepository(db)
	policyRepo := sqlite.NewRetentionPolicyRepository(db)
	notificationRepo := sqlite.NewNotificationRepository(db)

	producer := &gatedProducer{release: make(chan struct{})}
	store := discardStore{}

	retention := service.NewRetentionService(policyRepo, scheduleRepo, backupRepo, executionRepo, store, logger)
	coordinator := service.NewExecutionCoordinator(scheduleRepo, executionRepo, producer, retention, nil, nil, logger, service.CoordinatorOptions{
		ProducerTimeout: 5 * time.Second,
		MaxConcurrent:   2,
	})
	schedules := service.NewScheduleService(scheduleRepo, executionRepo, policyRepo, coordinator, nil, logger, "UTC")
	executions := service.NewExecutionService(executionRepo)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coordinator.Shutdown(ctx)
	})

	scheduleHandler := NewScheduleHandler(schedules, executions)
	executionHandler := NewExecutionHandler(executions)
	backupHandler := NewBackupHandler(service.NewBackupService(backupRepo, executionRepo, store))
	retentionHandler := NewRetentionHandler(retention)
	notificationHandler := NewNotificationHandler(service.NewNotificationService(notificationRepo, scheduleRepo))

	// Setup gin router in test mode
	gin.SetMode(gin.TestMode)
	router := gin.New()

	router.POST("/schedules", scheduleHandler.CreateSchedule)
	router.GET("/schedules", scheduleHandler.ListSchedules)
	router.GET("/schedules/:id", scheduleHandler.GetSchedule)
	router.PATCH("/schedules/:id", scheduleHandler.UpdateSchedule)
	router.DELETE("/schedules/:id", scheduleHandler.DeleteSchedule)
	router.GET("/schedules/:id/status", scheduleHandler.GetScheduleStatus)
	router.POST("/schedules/:id/trigger", scheduleHandler.TriggerSchedule)
	router.POST("/schedules/:id/disable", scheduleHandler.DisableSchedule)
	router.GET("/schedules/:id/executions", scheduleHandler.ListScheduleExecutions)
	router.GET("/schedules/:id/notifications", notificationHandler.ListScheduleNotifications)
	router.POST("/schedules/:id/notifications", notificationHandler.CreateNotification)
	router.GET("/executions/:id", executionHandler.GetExecution)
	router.GET("/backups", backupHandler.ListBackups)
	router.GET("/backups/:id", backupHandler.GetBackup)
	router.DELETE("/backups/:id", backupHandler.DeleteBackup)
	router.GET("/policies", retentionHandler.ListPolicies)
	router.POST("/policies", retentionHandler.CreatePolicy)
	router.PATCH("/policies/:id", retentionHandler.UpdatePolicy)
	router.DELETE("/policies/:id", retentionHandler.DeletePolicy)
	router.POST("/policies/:id/cleanup", retentionHandler.RunPolicyCleanup)
	router.POST("/cleanup", retentionHandler.Cleanup)
	router.GET("/notifications/logs", notificationHandler.ListLogs)
	router.PATCH("/notifications/:id", notificationHandler.UpdateNotification)

	return &testEnv{
		db:          db,
		router:      router,
		producer:    producer,
		coordinator: coordinator,
		schedules:   schedules,
		executions:  executionRepo,
	}
}

// finishRuns lets blocked producer calls return and waits for the runs.
func (env *testEnv) finishRuns() {
	close(env.producer.release)
	env.coordinator.Wait()
}

// createSchedule stores a schedule directly through the service
func (env *testEnv) createSchedule(t *testing.T, name string) *domain.Schedule {
	t.Helper()
	s := domain.NewSchedule(name, "0 3 * * *", "UTC", domain.BackupTypeFull, "tester")
	require.NoError(t, env.schedules.CreateSchedule(context.Background(), s))
	return s
}

// seedBackups completes n executions of s a day apart, oldest last. Every
// third one is manual.
func (env *testEnv) seedBackups(t *testing.T, s *domain.Schedule, n int) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		kind := domain.ExecutionKindScheduled
		if i%3 == 0 {
			kind = domain.ExecutionKindManual
		}
		created := base.Add(time.Duration(i) * 24 * time.Hour)
		e := domain.NewExecution(s, kind, "tester")
		e.StartedAt = created
		require.NoError(t, env.executions.Claim(ctx, e))

		id := fmt.Sprintf("backup-%03d", i+1)
		result := domain.ArtifactResult{ArtifactID: id, Size: int64(1000 * (i + 1)), ItemCount: i, Location: "mem:" + id}
		e.Complete(created.Add(time.Minute), result)
		require.NoError(t, env.executions.Complete(ctx, e, domain.NewBackup(e, result, created)))
	}
}

// makeRequest performs a request with an optional JSON body
func (env *testEnv) makeRequest(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

// decode parses the response body into T
func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var resp T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	return resp
}

// parseErrorResponse parses the response body into ErrorResponse
func parseErrorResponse(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	return decode[dto.ErrorResponse](t, w)
}

// ptr is a helper to create a pointer to a value
func ptr[T any](v T) *T {
	return &v
}
