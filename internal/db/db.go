package db

import (
	"fmt"

	"matchd/internal/engine"
	"matchd/internal/market"
	"matchd/internal/notify"
	"matchd/internal/schedule"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables
	if err := gdb.AutoMigrate(
		&engine.JobRecord{},
		&market.Listing{},
		&market.Provider{},
		&market.Subscription{},
		&market.Assignment{},
		&market.Review{},
		&market.DeviceToken{},
		&market.Notification{},
		&notify.NotificationPreference{},
		&notify.PendingMatch{},
		&schedule.AIUsage{},
	); err != nil {
		return err
	}

	// Claim and reclaim scans.
	stmts := []string{
		`create index if not exists idx_job_records_due on job_records(status, run_at);`,
		`create index if not exists idx_job_records_lock on job_records(status, locked_at);`,
		`create index if not exists idx_notifications_rate on notifications(provider_id, category, created_at);`,
		`create index if not exists idx_pending_digest on pending_matches(provider_id, digested_at);`,
		`create index if not exists idx_subscriptions_match on subscriptions(category, active);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	// One PENDING occurrence per (type, dedup key): closes the
	// EnsureScheduled check-then-insert race between processes. PENDING
	// only: a periodic handler seeds its next occurrence while its own row
	// is still PROCESSING, and that insert must go through.
	if err := gdb.Exec(`drop index if exists uq_job_records_live_dedup;`).Error; err != nil {
		return err
	}
	if err := gdb.Exec(`
create unique index if not exists uq_job_records_pending_dedup
on job_records(type, dedup_key)
where dedup_key is not null and status = 'PENDING';
`).Error; err != nil {
		return err
	}

	return nil
}
