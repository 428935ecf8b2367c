package schedule

import (
	"context"
	"log"
	"time"

	"matchd/internal/engine"
)

// AIReset handles AI_MONTHLY_RESET: roll every stale AI usage row into the
// current period with a fresh counter. Idempotent; rows already on the
// current period are untouched.
type AIReset struct {
	Scheduler *Scheduler
}

func (j *AIReset) Handle(ctx context.Context, logger *log.Logger, _ *engine.JobRecord) engine.Result {
	period := currentPeriodStart(time.Now())

	res := j.Scheduler.DB.WithContext(ctx).Exec(`
update ai_usage
set used = 0, period_start = ?, updated_at = now()
where period_start < ?
`, period, period)
	if res.Error != nil {
		return engine.Failure(res.Error)
	}
	logger.Printf("ai usage reset rows=%d period=%s", res.RowsAffected, period.Format("2006-01"))

	if err := j.Scheduler.EnsureAIMonthlyReset(ctx); err != nil {
		return engine.Failure(err)
	}
	return engine.Success()
}
