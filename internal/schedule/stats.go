package schedule

import (
	"context"
	"log"

	"matchd/internal/engine"
)

// StatsRecompute handles PROVIDER_STATS_RECOMPUTE: refresh the
// denormalized quality signals the match scorer reads (completed job
// count, completion rate, average rating). Idempotent; safe to re-run
// on redelivery.
type StatsRecompute struct {
	Scheduler *Scheduler
}

func (j *StatsRecompute) Handle(ctx context.Context, logger *log.Logger, _ *engine.JobRecord) engine.Result {
	db := j.Scheduler.DB.WithContext(ctx)

	res := db.Exec(`
update providers p
set completed_jobs = s.completed,
    completion_rate = s.rate,
    updated_at = now()
from (
  select provider_id,
         count(*) filter (where status = 'COMPLETED') as completed,
         count(*) filter (where status = 'COMPLETED')::float / count(*) as rate
  from assignments
  group by provider_id
) s
where p.id = s.provider_id
`)
	if res.Error != nil {
		return engine.Failure(res.Error)
	}
	updated := res.RowsAffected

	res = db.Exec(`
update providers p
set rating = s.avg_rating, updated_at = now()
from (
  select provider_id, avg(rating)::float as avg_rating
  from reviews
  group by provider_id
) s
where p.id = s.provider_id
`)
	if res.Error != nil {
		return engine.Failure(res.Error)
	}

	logger.Printf("provider stats recomputed completion=%d rating=%d", updated, res.RowsAffected)

	if err := j.Scheduler.EnsureStatsRecompute(ctx); err != nil {
		return engine.Failure(err)
	}
	return engine.Success()
}
