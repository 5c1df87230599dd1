package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
)

func TestPolicyDefaultSwap(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewRetentionPolicyRepository(db)

	seeded, err := repo.FindDefault(ctx)
	require.NoError(t, err)

	p := domain.NewRetentionPolicy("archive", "alice")
	p.IsDefault = true
	require.NoError(t, repo.Create(ctx, p))

	current, err := repo.FindDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, p.ID, current.ID)

	old, err := repo.FindByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.False(t, old.IsDefault)

	old.IsDefault = true
	require.NoError(t, repo.Update(ctx, old))

	policies, err := repo.List(ctx)
	require.NoError(t, err)
	defaults := 0
	for _, policy := range policies {
		if policy.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestPolicyDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewRetentionPolicyRepository(db)
	schedules := NewScheduleRepository(db)

	seeded, err := repo.FindDefault(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Delete(ctx, seeded.ID), repository.ErrInUse)

	p := domain.NewRetentionPolicy("weekly", "alice")
	size := int64(1 << 30)
	p.MaxTotalSizeBytes = &size
	require.NoError(t, repo.Create(ctx, p))

	dup := domain.NewRetentionPolicy("weekly", "alice")
	assert.ErrorIs(t, repo.Create(ctx, dup), repository.ErrDuplicate)

	s := createSchedule(t, db, "nightly")
	s.RetentionPolicyID = &p.ID
	require.NoError(t, schedules.Update(ctx, s))
	assert.ErrorIs(t, repo.Delete(ctx, p.ID), repository.ErrInUse)

	attached, err := schedules.FindByPolicy(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, attached, 1)

	s.RetentionPolicyID = nil
	require.NoError(t, schedules.Update(ctx, s))
	require.NoError(t, repo.Delete(ctx, p.ID))
	assert.ErrorIs(t, repo.Delete(ctx, p.ID), repository.ErrNotFound)
}

func TestPolicyFindAutoCleanup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewRetentionPolicyRepository(db)

	manual := domain.NewRetentionPolicy("manual", "alice")
	manual.AutoCleanupEnabled = false
	require.NoError(t, repo.Create(ctx, manual))

	policies, err := repo.FindAutoCleanup(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, DefaultPolicyName, policies[0].Name)
	assert.Nil(t, policies[0].MaxTotalSizeBytes)
}
