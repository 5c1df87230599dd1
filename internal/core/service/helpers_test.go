package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/notify"
	"github.com/martijn/snapkeep/internal/core/repository"
	"github.com/martijn/snapkeep/internal/infrastructure/sqlite"
)

type fakeProducer struct {
	calls   atomic.Int32
	produce func(ctx context.Context, req domain.ArtifactRequest) (domain.ArtifactResult, error)
}

func (p *fakeProducer) Produce(ctx context.Context, req domain.ArtifactRequest) (domain.ArtifactResult, error) {
	n := p.calls.Add(1)
	if p.produce != nil {
		return p.produce(ctx, req)
	}
	id := fmt.Sprintf("artifact-%d-%d", req.ExecutionID, n)
	return domain.ArtifactResult{ArtifactID: id, Size: 1024, ItemCount: 3, Location: "mem:" + id}, nil
}

type memoryStore struct {
	mu      sync.Mutex
	deleted []string
	fail    map[string]bool
}

func (s *memoryStore) Put(_ context.Context, key string, r io.Reader) (string, error) {
	_, err := io.Copy(io.Discard, r)
	return "mem:" + key, err
}

func (s *memoryStore) Delete(_ context.Context, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[location] {
		return errors.New("store unavailable")
	}
	s.deleted = append(s.deleted, location)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (n *recordingNotifier) Dispatch(_ context.Context, _ *domain.Schedule, _ *domain.Execution, event domain.NotificationEvent, _ domain.NotificationMessage) (notify.Report, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return notify.Report{Sent: 1}, nil
}

func (n *recordingNotifier) Events() []domain.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.NotificationEvent(nil), n.events...)
}

type testEnv struct {
	db          *sqlite.DB
	schedules   repository.ScheduleRepository
	executions  repository.ExecutionRepository
	backups     repository.BackupRepository
	policies    repository.RetentionPolicyRepository
	producer    *fakeProducer
	store       *memoryStore
	notifier    *recordingNotifier
	retention   *RetentionService
	coordinator *ExecutionCoordinator
	service     *ScheduleService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(filepath.Join(t.TempDir(), "snapkeep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		db:         db,
		schedules:  sqlite.NewScheduleRepository(db),
		executions: sqlite.NewExecutionRepository(db),
		backups:    sqlite.NewBackupRepository(db),
		policies:   sqlite.NewRetentionPolicyRepository(db),
		producer:   &fakeProducer{},
		store:      &memoryStore{fail: map[string]bool{}},
		notifier:   &recordingNotifier{},
	}

	logger := zap.NewNop()
	env.retention = NewRetentionService(env.policies, env.schedules, env.backups, env.executions, env.store, logger)
	env.coordinator = NewExecutionCoordinator(env.schedules, env.executions, env.producer, env.retention, env.notifier, nil, logger, CoordinatorOptions{
		ProducerTimeout: time.Second,
		MaxConcurrent:   2,
		Retry:           RetryPolicy{Strategy: RetryLinear, Base: time.Millisecond},
	})
	env.coordinator.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	env.service = NewScheduleService(env.schedules, env.executions, env.policies, env.coordinator, env.notifier, logger, "UTC")

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.coordinator.Shutdown(ctx)
	})
	return env
}

func (env *testEnv) createSchedule(t *testing.T, name string) *domain.Schedule {
	t.Helper()
	s := domain.NewSchedule(name, "0 3 * * *", "UTC", domain.BackupTypeFull, "tester")
	require.NoError(t, env.service.CreateSchedule(context.Background(), s))
	return s
}
