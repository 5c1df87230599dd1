package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/martijn/snapkeep/internal/core/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "snapkeep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createSchedule(t *testing.T, db *DB, name string) *domain.Schedule {
	t.Helper()
	s := domain.NewSchedule(name, "0 3 * * *", "UTC", domain.BackupTypeFull, "tester")
	require.NoError(t, NewScheduleRepository(db).Create(context.Background(), s))
	return s
}

func TestNewSeedsDefaultPolicyOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapkeep.db")

	db, err := New(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer db.Close()

	policies, err := NewRetentionPolicyRepository(db).List(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 1)
	require.True(t, policies[0].IsDefault)
	require.Equal(t, DefaultPolicyName, policies[0].Name)
}

func TestTimesRoundTripInUTC(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewScheduleRepository(db)

	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	next := time.Date(2024, 1, 7, 12, 0, 0, 0, seoul)

	s := createSchedule(t, db, "nightly")
	require.NoError(t, repo.SetNextRun(ctx, s.ID, &next, nil))

	got, err := repo.FindByID(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	require.True(t, got.NextRunAt.Equal(next))
	require.Equal(t, time.UTC, got.NextRunAt.Location())
	require.Nil(t, got.LastRunAt)
}
