package engine

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DB-backed tests run against a real Postgres, like the rest of the stack.
// They skip unless TEST_DATABASE_URL points at a disposable database.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&JobRecord{}))
	// Same dedup constraint the production schema carries; without it the
	// insert paths under test run against a laxer schema than deployment.
	require.NoError(t, gdb.Exec(`
create unique index if not exists uq_job_records_pending_dedup
on job_records(type, dedup_key)
where dedup_key is not null and status = 'PENDING';
`).Error)
	require.NoError(t, gdb.Exec(`delete from job_records`).Error)
	return gdb
}

type captureAlerter struct {
	mu     sync.Mutex
	jobIDs []uint64
}

func (a *captureAlerter) DeadLetter(job *JobRecord, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobIDs = append(a.jobIDs, job.ID)
}

func (a *captureAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.jobIDs)
}

func testRepo(t *testing.T) (*Repo, *captureAlerter) {
	t.Helper()
	alerter := &captureAlerter{}
	return &Repo{
		DB:          testDB(t),
		Alerter:     alerter,
		BackoffBase: time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
	}, alerter
}

func reload(t *testing.T, db *gorm.DB, id uint64) JobRecord {
	t.Helper()
	var j JobRecord
	require.NoError(t, db.First(&j, id).Error)
	return j
}

func TestClaimBatchPartitionsBetweenWorkers(t *testing.T) {
	repo, _ := testRepo(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := repo.Enqueue(nil, TypeJobMatchNotify, map[string]any{"i": i}, EnqueueOpts{})
		require.NoError(t, err)
	}

	a, err := repo.ClaimBatch(ctx, "worker-a", 6)
	require.NoError(t, err)
	b, err := repo.ClaimBatch(ctx, "worker-b", 6)
	require.NoError(t, err)

	assert.Len(t, a, 6)
	assert.Len(t, b, 4)

	seen := make(map[uint64]bool)
	for _, j := range append(a, b...) {
		assert.False(t, seen[j.ID], "job %d claimed twice", j.ID)
		seen[j.ID] = true
		assert.Equal(t, StatusProcessing, j.Status)
	}
}

func TestClaimBatchSkipsFutureJobs(t *testing.T) {
	repo, _ := testRepo(t)
	ctx := context.Background()

	_, err := repo.Enqueue(nil, TypeJobMatchNotify, nil, EnqueueOpts{RunAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	jobs, err := repo.ClaimBatch(ctx, "worker-a", 5)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestReclaimExpiredKeepsAttempts(t *testing.T) {
	repo, _ := testRepo(t)
	ctx := context.Background()

	job, err := repo.Enqueue(nil, TypeJobMatchNotify, nil, EnqueueOpts{})
	require.NoError(t, err)

	claimed, err := repo.ClaimBatch(ctx, "worker-a", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Age the lease past the timeout.
	require.NoError(t, repo.DB.Exec(
		`update job_records set locked_at = now() - interval '10 minutes' where id = ?`, job.ID).Error)

	n, err := repo.ReclaimExpired(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got := reload(t, repo.DB, job.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.Nil(t, got.LockedBy)
	assert.Nil(t, got.LockedAt)
}

func TestReclaimIgnoresFreshLeases(t *testing.T) {
	repo, _ := testRepo(t)
	ctx := context.Background()

	_, err := repo.Enqueue(nil, TypeJobMatchNotify, nil, EnqueueOpts{})
	require.NoError(t, err)
	claimed, err := repo.ClaimBatch(ctx, "worker-a", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := repo.ReclaimExpired(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMarkRescheduleKeepsAttempts(t *testing.T) {
	repo, _ := testRepo(t)
	ctx := context.Background()

	job, err := repo.Enqueue(nil, TypeJobMatchDigest, nil, EnqueueOpts{})
	require.NoError(t, err)
	claimed, err := repo.ClaimBatch(ctx, "worker-a", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	at := time.Now().Add(45 * time.Minute).UTC()
	require.NoError(t, repo.MarkReschedule(ctx, &claimed[0], "worker-a", at))

	got := reload(t, repo.DB, job.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.Nil(t, got.LastError)
	assert.WithinDuration(t, at, got.RunAt, time.Second)
}

func TestMarkSuccessClearsLeaseAndError(t *testing.T) {
	repo, _ := testRepo(t)
	ctx := context.Background()

	job, err := repo.Enqueue(nil, TypeJobMatchNotify, nil, EnqueueOpts{})
	require.NoError(t, err)
	claimed, err := repo.ClaimBatch(ctx, "worker-a", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, repo.MarkSuccess(ctx, &claimed[0], "worker-a"))

	got := reload(t, repo.DB, job.ID)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Nil(t, got.LockedBy)
	assert.Nil(t, got.LastError)
	assert.NotNil(t, got.LastAttemptAt)
}

func TestMarkSuccessIsNoOpAfterLeaseLost(t *testing.T) {
	repo, _ := testRepo(t)
	ctx := context.Background()

	job, err := repo.Enqueue(nil, TypeJobMatchNotify, nil, EnqueueOpts{})
	require.NoError(t, err)
	claimed, err := repo.ClaimBatch(ctx, "worker-a", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Another worker reclaimed and re-claimed the row in the meantime.
	require.NoError(t, repo.DB.Exec(
		`update job_records set locked_by = 'worker-b' where id = ?`, job.ID).Error)

	require.NoError(t, repo.MarkSuccess(ctx, &claimed[0], "worker-a"))

	got := reload(t, repo.DB, job.ID)
	assert.Equal(t, StatusProcessing, got.Status)
	require.NotNil(t, got.LockedBy)
	assert.Equal(t, "worker-b", *got.LockedBy)
}

func TestMarkFailureBacksOffThenDeadLettersOnce(t *testing.T) {
	repo, alerter := testRepo(t)
	ctx := context.Background()

	job, err := repo.Enqueue(nil, TypeJobMatchNotify, nil, EnqueueOpts{MaxAttempts: 2})
	require.NoError(t, err)

	// Attempt 1 fails: back to PENDING with backoff, no alert.
	claimed, err := repo.ClaimBatch(ctx, "worker-a", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, repo.MarkFailure(ctx, &claimed[0], "worker-a", errors.New("transient")))

	got := reload(t, repo.DB, job.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "transient", *got.LastError)
	assert.Zero(t, alerter.count())

	// Tiny test backoff: the retry is due almost immediately.
	time.Sleep(50 * time.Millisecond)

	// Attempt 2 fails: attempts exhausted, DEAD, exactly one alert.
	claimed, err = repo.ClaimBatch(ctx, "worker-a", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, repo.MarkFailure(ctx, &claimed[0], "worker-a", errors.New("still broken")))

	got = reload(t, repo.DB, job.ID)
	assert.Equal(t, StatusDead, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, 1, alerter.count())

	// A stale failure against the already-DEAD row is a no-op: no state
	// change, no second alert.
	stale := claimed[0]
	require.NoError(t, repo.MarkFailure(ctx, &stale, "worker-a", errors.New("again")))
	got = reload(t, repo.DB, job.ID)
	assert.Equal(t, StatusDead, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, 1, alerter.count())
}

func TestMarkFailureTruncatesError(t *testing.T) {
	repo, _ := testRepo(t)
	ctx := context.Background()

	job, err := repo.Enqueue(nil, TypeJobMatchNotify, nil, EnqueueOpts{MaxAttempts: 5})
	require.NoError(t, err)
	claimed, err := repo.ClaimBatch(ctx, "worker-a", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, repo.MarkFailure(ctx, &claimed[0], "worker-a", errors.New(string(long))))

	got := reload(t, repo.DB, job.ID)
	require.NotNil(t, got.LastError)
	assert.Len(t, *got.LastError, maxErrorLen)
}

func TestEnsureScheduledIsIdempotent(t *testing.T) {
	repo, _ := testRepo(t)
	ctx := context.Background()

	runAt := time.Now().Add(time.Hour)
	require.NoError(t, repo.EnsureScheduled(ctx, TypeProviderStatsRecompute, "singleton", nil, runAt, 3))
	require.NoError(t, repo.EnsureScheduled(ctx, TypeProviderStatsRecompute, "singleton", nil, runAt.Add(time.Hour), 3))

	var n int64
	require.NoError(t, repo.DB.Model(&JobRecord{}).
		Where("type = ?", TypeProviderStatsRecompute).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	// A finished occurrence frees the slot for the next one.
	require.NoError(t, repo.DB.Exec(
		`update job_records set status = 'SUCCESS' where type = ?`, TypeProviderStatsRecompute).Error)
	require.NoError(t, repo.EnsureScheduled(ctx, TypeProviderStatsRecompute, "singleton", nil, runAt, 3))
	require.NoError(t, repo.DB.Model(&JobRecord{}).
		Where("type = ?", TypeProviderStatsRecompute).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}

func TestEnsureScheduledReseedsWhileCurrentRunInFlight(t *testing.T) {
	repo, _ := testRepo(t)
	ctx := context.Background()

	_, err := repo.Enqueue(nil, TypeProviderStatsRecompute, nil, EnqueueOpts{DedupKey: "singleton"})
	require.NoError(t, err)
	claimed, err := repo.ClaimBatch(ctx, "worker-a", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// A periodic handler seeds its next occurrence before the worker
	// records the outcome; the handler's own in-flight row must not
	// swallow that insert, or the recurring chain ends here.
	next := time.Now().Add(24 * time.Hour)
	require.NoError(t, repo.EnsureScheduled(ctx, TypeProviderStatsRecompute, "singleton", nil, next, 3))
	require.NoError(t, repo.MarkSuccess(ctx, &claimed[0], "worker-a"))

	var pending []JobRecord
	require.NoError(t, repo.DB.
		Where("type = ? and status = ?", TypeProviderStatsRecompute, StatusPending).
		Find(&pending).Error)
	require.Len(t, pending, 1, "next occurrence must survive the current run finishing")
	assert.WithinDuration(t, next, pending[0].RunAt, time.Second)
}

func TestReclaimDefersDedupKeyedRowUntilSlotFrees(t *testing.T) {
	repo, _ := testRepo(t)
	ctx := context.Background()

	old, err := repo.Enqueue(nil, TypeProviderStatsRecompute, nil, EnqueueOpts{DedupKey: "singleton"})
	require.NoError(t, err)
	claimed, err := repo.ClaimBatch(ctx, "worker-a", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Owner seeded the next occurrence, then crashed before recording the
	// outcome.
	require.NoError(t, repo.EnsureScheduled(ctx, TypeProviderStatsRecompute, "singleton", nil, time.Now().Add(time.Hour), 3))
	require.NoError(t, repo.DB.Exec(
		`update job_records set locked_at = now() - interval '10 minutes' where id = ?`, old.ID).Error)

	// While the next occurrence is PENDING the expired row stays put
	// instead of colliding with the dedup index.
	n, err := repo.ReclaimExpired(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, StatusProcessing, reload(t, repo.DB, old.ID).Status)

	// Once that occurrence leaves PENDING, reclaim proceeds normally.
	require.NoError(t, repo.DB.Exec(
		`update job_records set status = 'SUCCESS' where status = 'PENDING' and type = ?`,
		TypeProviderStatsRecompute).Error)
	n, err = repo.ReclaimExpired(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, StatusPending, reload(t, repo.DB, old.ID).Status)
}

func TestRequeueDead(t *testing.T) {
	repo, _ := testRepo(t)
	ctx := context.Background()

	job, err := repo.Enqueue(nil, TypeJobMatchNotify, nil, EnqueueOpts{MaxAttempts: 1})
	require.NoError(t, err)
	claimed, err := repo.ClaimBatch(ctx, "worker-a", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, repo.MarkFailure(ctx, &claimed[0], "worker-a", errors.New("boom")))

	ok, err := repo.RequeueDead(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got := reload(t, repo.DB, job.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)

	// Only DEAD rows can be requeued.
	ok, err = repo.RequeueDead(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
