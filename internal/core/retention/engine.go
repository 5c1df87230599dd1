// Package retention decides which backups a policy allows to be deleted.
// Nothing here touches storage; callers load backups and act on the result.
package retention

import (
	"fmt"
	"sort"
	"time"

	"github.com/martijn/snapkeep/internal/core/domain"
)

type Tier string

const (
	TierDaily   Tier = "daily"
	TierWeekly  Tier = "weekly"
	TierMonthly Tier = "monthly"
	TierYearly  Tier = "yearly"
	TierExpired Tier = "expired"
)

// ReasonProtected marks a backup referenced by an open execution.
const ReasonProtected = "protected"

type Decision struct {
	// Delete holds backup ids, newest first.
	Delete []string
	// Keep maps a surviving backup id to the rule that kept it.
	Keep map[string]string
}

func sortNewestFirst(backups []*domain.Backup) []*domain.Backup {
	sorted := append([]*domain.Backup(nil), backups...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return sorted
}

// Classify places a backup created at created into a tier relative to now.
func Classify(policy domain.RetentionPolicy, created, now time.Time) Tier {
	age := now.Sub(created)
	if age < 0 {
		age = 0
	}
	const day = 24 * time.Hour
	switch {
	case age < time.Duration(policy.DailyDays)*day:
		return TierDaily
	case age < time.Duration(policy.WeeklyWeeks)*7*day:
		return TierWeekly
	case !created.Before(now.AddDate(0, -policy.MonthlyMonths, 0)):
		return TierMonthly
	case !created.Before(now.AddDate(-policy.YearlyYears, 0, 0)):
		return TierYearly
	}
	return TierExpired
}

func periodKey(tier Tier, created time.Time) string {
	created = created.UTC()
	switch tier {
	case TierDaily:
		return created.Format("2006-01-02")
	case TierWeekly:
		year, week := created.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case TierMonthly:
		return created.Format("2006-01")
	case TierYearly:
		return created.Format("2006")
	}
	return ""
}

func perPeriodLimit(policy domain.RetentionPolicy, tier Tier) int {
	switch tier {
	case TierDaily:
		return policy.MaxDailyBackups
	case TierWeekly:
		return policy.MaxWeeklyBackups
	case TierMonthly:
		return policy.MaxMonthlyBackups
	case TierYearly:
		return policy.MaxYearlyBackups
	}
	return 0
}

// SelectForDeletion applies the tiered policy. A backup survives when any
// rule keeps it: it is protected, or it is among the newest per-period
// backups of its tier. Survivors are then trimmed oldest first until the
// total count and size caps hold. Protected backups are never deleted.
func SelectForDeletion(policy domain.RetentionPolicy, backups []*domain.Backup, now time.Time, protected map[string]bool) Decision {
	sorted := sortNewestFirst(backups)
	keep := make(map[string]string, len(sorted))
	seen := make(map[Tier]map[string]int)

	for _, b := range sorted {
		if protected[b.ID] {
			keep[b.ID] = ReasonProtected
			continue
		}
		tier := Classify(policy, b.CreatedAt, now)
		if tier == TierExpired {
			continue
		}
		if seen[tier] == nil {
			seen[tier] = make(map[string]int)
		}
		key := periodKey(tier, b.CreatedAt)
		seen[tier][key]++
		if seen[tier][key] <= perPeriodLimit(policy, tier) {
			keep[b.ID] = string(tier)
		}
	}

	applyCaps(sorted, keep, policy.MaxTotalBackups, policy.MaxTotalSizeBytes)
	return buildDecision(sorted, keep)
}

// SelectLegacy applies a schedule's simple caps: keep at most maxCount of
// the newest backups, none older than retentionDays. Zero disables a cap.
func SelectLegacy(maxCount, retentionDays int, backups []*domain.Backup, now time.Time, protected map[string]bool) Decision {
	sorted := sortNewestFirst(backups)
	keep := make(map[string]string, len(sorted))
	cutoff := now.AddDate(0, 0, -retentionDays)
	kept := 0

	for _, b := range sorted {
		if protected[b.ID] {
			keep[b.ID] = ReasonProtected
			kept++
			continue
		}
		if retentionDays > 0 && b.CreatedAt.Before(cutoff) {
			continue
		}
		if maxCount > 0 && kept >= maxCount {
			continue
		}
		keep[b.ID] = "legacy"
		kept++
	}
	return buildDecision(sorted, keep)
}

func applyCaps(sorted []*domain.Backup, keep map[string]string, maxTotal int, maxSize *int64) {
	count := 0
	var size int64
	for _, b := range sorted {
		if _, ok := keep[b.ID]; ok {
			count++
			size += b.SizeBytes
		}
	}

	over := func() bool {
		if maxTotal > 0 && count > maxTotal {
			return true
		}
		return maxSize != nil && size > *maxSize
	}

	for i := len(sorted) - 1; i >= 0 && over(); i-- {
		b := sorted[i]
		reason, ok := keep[b.ID]
		if !ok || reason == ReasonProtected {
			continue
		}
		delete(keep, b.ID)
		count--
		size -= b.SizeBytes
	}
}

func buildDecision(sorted []*domain.Backup, keep map[string]string) Decision {
	d := Decision{Keep: keep, Delete: []string{}}
	for _, b := range sorted {
		if _, ok := keep[b.ID]; !ok {
			d.Delete = append(d.Delete, b.ID)
		}
	}
	return d
}
