package notify

import (
	"io"
	"log"
	"os"
	"testing"

	"matchd/internal/engine"
	"matchd/internal/market"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DB-backed tests skip unless TEST_DATABASE_URL points at a disposable
// Postgres database.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&engine.JobRecord{},
		&market.Listing{},
		&market.Provider{},
		&market.Subscription{},
		&market.DeviceToken{},
		&market.Notification{},
		&NotificationPreference{},
		&PendingMatch{},
	))

	require.NoError(t, gdb.Exec(`
create unique index if not exists uq_job_records_pending_dedup
on job_records(type, dedup_key)
where dedup_key is not null and status = 'PENDING';
`).Error)

	tables := []string{
		"job_records", "listings", "providers", "subscriptions",
		"device_tokens", "notifications", "notification_preferences", "pending_matches",
	}
	for _, tbl := range tables {
		require.NoError(t, gdb.Exec("delete from "+tbl).Error)
	}
	return gdb
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// capturePusher records messages instead of delivering them.
type capturePusher struct {
	msgs []PushMessage
}

func (p *capturePusher) SendAll(msgs []PushMessage) {
	p.msgs = append(p.msgs, msgs...)
}
