package engine

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

const maxErrorLen = 1000

// Alerter receives exactly one event when a job is dead-lettered.
type Alerter interface {
	DeadLetter(job *JobRecord, errMsg string)
}

// Repo performs all job_records mutations. Every transition is a
// conditional update so two workers racing on a row can never both win;
// the loser's update matches zero rows and is a no-op.
type Repo struct {
	DB      *gorm.DB
	Alerter Alerter

	BackoffBase time.Duration // zero = 30s
	BackoffMax  time.Duration // zero = 1h
}

type EnqueueOpts struct {
	RunAt       time.Time // zero = now
	MaxAttempts int       // zero = 5
	DedupKey    string
}

// Enqueue inserts a PENDING job. Pass the caller's tx to make the insert
// atomic with the caller's own writes, or nil to use the repo's DB.
func (r *Repo) Enqueue(tx *gorm.DB, typ JobType, payload any, opts EnqueueOpts) (*JobRecord, error) {
	if tx == nil {
		tx = r.DB
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	runAt := opts.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	j := JobRecord{
		Type:        typ,
		Payload:     raw,
		Status:      StatusPending,
		RunAt:       runAt,
		MaxAttempts: maxAttempts,
	}
	if opts.DedupKey != "" {
		k := opts.DedupKey
		j.DedupKey = &k
	}
	if err := tx.Create(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// ReclaimExpired returns PROCESSING rows whose lease is older than
// leaseTimeout to PENDING. Attempts are untouched: an expired lease means
// the owner crashed or hung, not that the handler failed.
//
// A dedup-keyed row whose next occurrence is already PENDING (the owner
// crashed after seeding it but before recording the outcome) is left
// alone for now; returning it would collide with the pending-dedup index.
// It gets reclaimed on a later pass, once that occurrence leaves PENDING.
func (r *Repo) ReclaimExpired(ctx context.Context, leaseTimeout time.Duration) (int64, error) {
	res := r.DB.WithContext(ctx).Exec(`
update job_records j
set status='PENDING', locked_by=null, locked_at=null, updated_at=now()
where j.status='PROCESSING' and j.locked_at is not null
  and j.locked_at < now() - make_interval(secs => ?)
  and not exists (
    select 1 from job_records p
    where p.status='PENDING' and p.type=j.type
      and p.dedup_key is not null and p.dedup_key=j.dedup_key
  )
`, leaseTimeout.Seconds())
	return res.RowsAffected, res.Error
}

// ClaimBatch atomically flips up to n due PENDING jobs to PROCESSING owned
// by workerID. Ordered by (run_at, id) for fairness; FOR UPDATE SKIP LOCKED
// keeps concurrent claimers from double-claiming. Returns the rows this
// worker actually won.
func (r *Repo) ClaimBatch(ctx context.Context, workerID string, n int) ([]JobRecord, error) {
	var claimed []JobRecord
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Raw(`
with due as (
  select id
  from job_records
  where status='PENDING' and run_at <= now()
  order by run_at asc, id asc
  limit ?
  for update skip locked
)
update job_records
set status='PROCESSING', locked_by=?, locked_at=now(), updated_at=now()
where id in (select id from due) and status='PENDING'
returning *;
`, n, workerID).Scan(&claimed).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkSuccess finishes a job this worker owns. A no-op when the lease was
// reclaimed in the meantime.
func (r *Repo) MarkSuccess(ctx context.Context, job *JobRecord, workerID string) error {
	return r.DB.WithContext(ctx).Exec(`
update job_records
set status='SUCCESS', locked_by=null, locked_at=null,
    last_error=null, last_attempt_at=now(), updated_at=now()
where id=? and status='PROCESSING' and locked_by=?
`, job.ID, workerID).Error
}

// MarkReschedule returns the job to PENDING at the requested time without
// spending an attempt. Used when a handler ran too early.
func (r *Repo) MarkReschedule(ctx context.Context, job *JobRecord, workerID string, at time.Time) error {
	return r.DB.WithContext(ctx).Exec(`
update job_records
set status='PENDING', run_at=?, locked_by=null, locked_at=null,
    last_error=null, updated_at=now()
where id=? and status='PROCESSING' and locked_by=?
`, at, job.ID, workerID).Error
}

// MarkFailure records a failed attempt: either back to PENDING with
// exponential backoff, or DEAD once attempts are exhausted. The dead-letter
// alert fires only when the guarded update actually changed the row, so a
// lost race cannot double-alert.
func (r *Repo) MarkFailure(ctx context.Context, job *JobRecord, workerID string, handlerErr error) error {
	msg := handlerErr.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	next := job.Attempts + 1

	if next >= job.MaxAttempts {
		res := r.DB.WithContext(ctx).Exec(`
update job_records
set status='DEAD', attempts=?, locked_by=null, locked_at=null,
    last_error=?, last_attempt_at=now(), updated_at=now()
where id=? and status='PROCESSING' and locked_by=?
`, next, msg, job.ID, workerID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 && r.Alerter != nil {
			job.Status = StatusDead
			job.Attempts = next
			r.Alerter.DeadLetter(job, msg)
		}
		return nil
	}

	delay := Backoff(next, r.backoffBase(), r.backoffMax())
	return r.DB.WithContext(ctx).Exec(`
update job_records
set status='PENDING', attempts=?, run_at=now() + make_interval(secs => ?),
    locked_by=null, locked_at=null, last_error=?, last_attempt_at=now(), updated_at=now()
where id=? and status='PROCESSING' and locked_by=?
`, next, delay.Seconds(), msg, job.ID, workerID).Error
}

// EnsureScheduled inserts a PENDING job of typ unless a live row with the
// same (type, dedup key) is already scheduled at or after now. Safe to
// call on every boot and from inside a periodic handler whose own row is
// still PROCESSING; the partial unique index on PENDING (type, dedup_key)
// closes the check-then-insert race.
func (r *Repo) EnsureScheduled(ctx context.Context, typ JobType, dedupKey string, payload any, runAt time.Time, maxAttempts int) error {
	var n int64
	err := r.DB.WithContext(ctx).Model(&JobRecord{}).
		Where("type = ? and dedup_key = ? and status in ('PENDING','PROCESSING') and run_at >= now()", typ, dedupKey).
		Count(&n).Error
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	_, err = r.Enqueue(r.DB.WithContext(ctx), typ, payload, EnqueueOpts{
		RunAt:       runAt,
		MaxAttempts: maxAttempts,
		DedupKey:    dedupKey,
	})
	if err != nil && isDuplicateKey(err) {
		return nil
	}
	return err
}

// ListDead returns dead-lettered rows, most recent first.
func (r *Repo) ListDead(ctx context.Context, limit int) ([]JobRecord, error) {
	var jobs []JobRecord
	err := r.DB.WithContext(ctx).
		Where("status = ?", StatusDead).
		Order("updated_at desc").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// RequeueDead returns a DEAD row to PENDING for a fresh round of attempts.
// Manual remediation only; the engine never resurrects DEAD rows itself.
func (r *Repo) RequeueDead(ctx context.Context, id uint64) (bool, error) {
	res := r.DB.WithContext(ctx).Exec(`
update job_records
set status='PENDING', attempts=0, run_at=now(),
    locked_by=null, locked_at=null, updated_at=now()
where id=? and status='DEAD'
`, id)
	return res.RowsAffected > 0, res.Error
}

func (r *Repo) backoffBase() time.Duration {
	if r.BackoffBase > 0 {
		return r.BackoffBase
	}
	return 30 * time.Second
}

func (r *Repo) backoffMax() time.Duration {
	if r.BackoffMax > 0 {
		return r.BackoffMax
	}
	return time.Hour
}
