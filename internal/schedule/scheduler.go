package schedule

import (
	"context"
	"time"

	"matchd/internal/engine"

	"gorm.io/gorm"
)

// Recurring jobs keep exactly one future occurrence alive per type: seeded
// at boot, then re-ensured by each handler when it finishes. A
// self-perpetuating chain, no external cron.

const singletonKey = "singleton"

type Scheduler struct {
	DB   *gorm.DB
	Jobs *engine.Repo

	StatsHourUTC int // daily provider stats recompute, default 3
	ResetHourUTC int // monthly AI usage reset, default 4
}

// EnsureAll seeds the next occurrence of every periodic job. Idempotent;
// called on every process boot.
func (s *Scheduler) EnsureAll(ctx context.Context) error {
	if err := s.EnsureStatsRecompute(ctx); err != nil {
		return err
	}
	return s.EnsureAIMonthlyReset(ctx)
}

func (s *Scheduler) EnsureStatsRecompute(ctx context.Context) error {
	runAt := nextDailyUTC(time.Now(), s.StatsHourUTC)
	return s.Jobs.EnsureScheduled(ctx, engine.TypeProviderStatsRecompute, singletonKey,
		map[string]any{}, runAt, 3)
}

// EnsureAIMonthlyReset schedules the next monthly reset. When usage rows
// are still keyed to an old period (the last reset never ran, or new rows
// appeared mid-rollover) it schedules a near-term catch-up run instead of
// waiting for the next boundary.
func (s *Scheduler) EnsureAIMonthlyReset(ctx context.Context) error {
	runAt := nextMonthlyUTC(time.Now(), s.ResetHourUTC)
	behind, err := s.usageBehind(ctx)
	if err != nil {
		return err
	}
	if behind {
		runAt = time.Now().Add(5 * time.Minute)
	}
	return s.Jobs.EnsureScheduled(ctx, engine.TypeAIMonthlyReset, singletonKey,
		map[string]any{}, runAt, 3)
}

func (s *Scheduler) usageBehind(ctx context.Context) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&AIUsage{}).
		Where("period_start < ?", currentPeriodStart(time.Now())).
		Count(&n).Error
	return n > 0, err
}

// nextDailyUTC is today at hour h UTC if that is still ahead, else
// tomorrow.
func nextDailyUTC(now time.Time, h int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), h, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// nextMonthlyUTC is the 1st of next month at hour h UTC.
func nextMonthlyUTC(now time.Time, h int) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, h, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

func currentPeriodStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
