package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/snapkeep/internal/core/domain"
)

// seedBackups completes n executions of s, one per day going back from now.
func seedBackups(t *testing.T, env *testEnv, s *domain.Schedule, n int) []string {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		created := now.Add(-time.Duration(i) * 24 * time.Hour)
		e := domain.NewExecution(s, domain.ExecutionKindScheduled, "scheduler")
		e.StartedAt = created
		require.NoError(t, env.executions.Claim(ctx, e))

		id := fmt.Sprintf("%s-%02d", s.Name, i)
		result := domain.ArtifactResult{ArtifactID: id, Size: 100, Location: "mem:" + id}
		e.Complete(created, result)
		require.NoError(t, env.executions.Complete(ctx, e, domain.NewBackup(e, result, created)))
		ids = append(ids, id)
	}
	return ids
}

func TestRunCleanupAppliesPolicyPerSchedule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	policy := domain.NewRetentionPolicy("short", "alice")
	policy.DailyDays = 7
	policy.WeeklyWeeks = 1
	policy.MonthlyMonths = 1
	policy.YearlyYears = 1
	require.NoError(t, env.retention.CreatePolicy(ctx, policy))

	s := env.createSchedule(t, "nightly")
	_, err := env.service.UpdateSchedule(ctx, s.ID, domain.SchedulePatch{RetentionPolicyID: &policy.ID})
	require.NoError(t, err)
	seedBackups(t, env, s, 10)

	dry, err := env.retention.RunCleanup(ctx, policy.ID, true)
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.NotEmpty(t, dry.Deleted)
	assert.Empty(t, env.store.deleted)

	report, err := env.retention.RunCleanup(ctx, policy.ID, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, dry.Deleted, report.Deleted)
	assert.Len(t, env.store.deleted, len(report.Deleted))

	remaining, err := env.backups.FindBySchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 10-len(report.Deleted))
	assert.Len(t, report.Kept, len(remaining))
}

func TestRunCleanupKeepsRowWhenStoreFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	policy := domain.NewRetentionPolicy("tiny", "alice")
	policy.MaxTotalBackups = 1
	require.NoError(t, env.retention.CreatePolicy(ctx, policy))

	s := env.createSchedule(t, "nightly")
	_, err := env.service.UpdateSchedule(ctx, s.ID, domain.SchedulePatch{RetentionPolicyID: &policy.ID})
	require.NoError(t, err)
	ids := seedBackups(t, env, s, 2)
	env.store.fail["mem:"+ids[1]] = true

	report, err := env.retention.RunCleanup(ctx, policy.ID, false)
	require.NoError(t, err)
	assert.Empty(t, report.Deleted)
	assert.Contains(t, report.Failures, ids[1])

	_, err = env.backups.FindByID(ctx, ids[1])
	assert.NoError(t, err)
}

func TestDefaultPolicyCoversUnattachedBackups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := env.createSchedule(t, "gone")
	seedBackups(t, env, s, 3)
	require.NoError(t, env.service.DeleteSchedule(ctx, s.ID))

	defaultPolicy, err := env.policies.FindDefault(ctx)
	require.NoError(t, err)
	patch := domain.RetentionPolicyPatch{MaxTotalBackups: intPtr(1)}
	_, err = env.retention.UpdatePolicy(ctx, defaultPolicy.ID, patch)
	require.NoError(t, err)

	report, err := env.retention.RunCleanup(ctx, defaultPolicy.ID, false)
	require.NoError(t, err)
	assert.Len(t, report.Deleted, 2)
	assert.Equal(t, []string{"gone-01", "gone-02"}, report.Deleted)
}

func TestApplyAfterRunUsesLegacyCaps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := env.createSchedule(t, "legacy")
	count := 2
	_, err := env.service.UpdateSchedule(ctx, s.ID, domain.SchedulePatch{MaxBackupCount: &count})
	require.NoError(t, err)
	seedBackups(t, env, s, 4)

	report, err := env.retention.ApplyAfterRun(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, []string{"legacy-02", "legacy-03"}, report.Deleted)
}

func TestPolicyValidationAndDefaultSwap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bad := domain.NewRetentionPolicy("bad", "alice")
	bad.DailyDays = 0
	assert.True(t, IsValidation(env.retention.CreatePolicy(ctx, bad)))

	badCron := domain.NewRetentionPolicy("bad-cron", "alice")
	badCron.CleanupSchedule = "every sunday"
	assert.True(t, IsValidation(env.retention.CreatePolicy(ctx, badCron)))

	p := domain.NewRetentionPolicy("next", "alice")
	require.NoError(t, env.retention.CreatePolicy(ctx, p))
	assert.True(t, IsConflict(env.retention.CreatePolicy(ctx, domain.NewRetentionPolicy("next", "bob"))))

	_, err := env.retention.SetDefaultPolicy(ctx, p.ID)
	require.NoError(t, err)

	policies, err := env.retention.ListPolicies(ctx)
	require.NoError(t, err)
	defaults := 0
	for _, policy := range policies {
		if policy.IsDefault {
			defaults++
			assert.Equal(t, p.ID, policy.ID)
		}
	}
	assert.Equal(t, 1, defaults)

	notDefault := false
	_, err = env.retention.UpdatePolicy(ctx, p.ID, domain.RetentionPolicyPatch{IsDefault: &notDefault})
	assert.True(t, IsConflict(err))
	assert.True(t, IsConflict(env.retention.DeletePolicy(ctx, p.ID)))
}

func intPtr(v int) *int {
	return &v
}
