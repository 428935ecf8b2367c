package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
)

// Worker is the single control loop per process: reclaim expired leases,
// claim a batch, dispatch each job, record the outcome, sleep, repeat.
// Several workers may run against the same table; all coordination is the
// conditional updates in Repo.
type Worker struct {
	ID       string
	Repo     *Repo
	Registry *Registry

	PollInterval time.Duration
	BatchSize    int
	LeaseTimeout time.Duration
	// SchemaRetry is the long sleep after a storage error that looks like
	// a missing table (migration lagging the deploy).
	SchemaRetry time.Duration
}

func NewWorker(repo *Repo, reg *Registry) *Worker {
	return &Worker{
		ID:           "worker-" + uuid.NewString(),
		Repo:         repo,
		Registry:     reg,
		PollInterval: 2 * time.Second,
		BatchSize:    10,
		LeaseTimeout: 5 * time.Minute,
		SchemaRetry:  30 * time.Second,
	}
}

// Run ticks until ctx is cancelled. Cancellation is cooperative: it is
// observed between ticks, and in-flight handlers always finish.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("worker start id=%s poll=%s batch=%d lease=%s", w.ID, w.PollInterval, w.BatchSize, w.LeaseTimeout)
	for {
		sleep := w.tick(ctx)
		select {
		case <-ctx.Done():
			log.Printf("worker stop id=%s", w.ID)
			return
		case <-time.After(sleep):
		}
	}
}

// tick runs one reclaim+claim+dispatch round and reports how long to sleep
// before the next one. A full batch means more work is probably due, so
// the next tick starts immediately.
func (w *Worker) tick(ctx context.Context) time.Duration {
	n, err := w.Repo.ReclaimExpired(ctx, w.LeaseTimeout)
	if err != nil {
		return w.storageDelay("reclaim", err)
	}
	if n > 0 {
		log.Printf("worker reclaimed expired leases id=%s count=%d", w.ID, n)
	}

	jobs, err := w.Repo.ClaimBatch(ctx, w.ID, w.BatchSize)
	if err != nil {
		return w.storageDelay("claim", err)
	}
	if len(jobs) == 0 {
		return w.PollInterval
	}

	for i := range jobs {
		w.runJob(ctx, &jobs[i])
	}

	if len(jobs) == w.BatchSize {
		return 0
	}
	return w.PollInterval
}

func (w *Worker) runJob(ctx context.Context, job *JobRecord) {
	prefix := fmt.Sprintf("job=%d type=%s cid=%s attempt=%d ", job.ID, job.Type, correlationID(job), job.Attempts+1)
	logger := log.New(os.Stderr, prefix, log.LstdFlags|log.Lmsgprefix)

	start := time.Now()
	res := w.Registry.Dispatch(ctx, logger, job)

	switch res.kind {
	case resultSuccess:
		if err := w.Repo.MarkSuccess(ctx, job, w.ID); err != nil {
			logger.Printf("mark success failed: %v", err)
			return
		}
		logger.Printf("done in %s", time.Since(start).Round(time.Millisecond))
	case resultReschedule:
		if err := w.Repo.MarkReschedule(ctx, job, w.ID, res.at); err != nil {
			logger.Printf("mark reschedule failed: %v", err)
			return
		}
		logger.Printf("rescheduled to %s", res.at.Format(time.RFC3339))
	case resultFailure:
		logger.Printf("attempt failed: %v", res.err)
		if err := w.Repo.MarkFailure(ctx, job, w.ID, res.err); err != nil {
			logger.Printf("mark failure failed: %v", err)
		}
	}
}

// storageDelay picks the sleep after a loop-level storage error.
func (w *Worker) storageDelay(op string, err error) time.Duration {
	if isUndefinedTable(err) {
		log.Printf("worker %s: schema not ready, backing off id=%s err=%v", op, w.ID, err)
		return w.SchemaRetry
	}
	log.Printf("worker %s error id=%s err=%v", op, w.ID, err)
	return w.PollInterval
}

// correlationID prefers an id embedded in the payload so one request can
// be traced across the enqueue boundary; otherwise each attempt gets a
// fresh one.
func correlationID(job *JobRecord) string {
	var p struct {
		CorrelationID string `json:"correlationId"`
	}
	if err := json.Unmarshal(job.Payload, &p); err == nil && p.CorrelationID != "" {
		return p.CorrelationID
	}
	return uuid.NewString()
}
