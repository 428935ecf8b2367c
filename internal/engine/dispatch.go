package engine

import (
	"context"
	"fmt"
	"log"
)

// Handler executes one attempt of a claimed job. The logger carries the
// job's correlation prefix; everything logged through it is attributable
// to this attempt.
type Handler func(ctx context.Context, logger *log.Logger, job *JobRecord) Result

// Registry maps job types to handlers. The set is closed at wiring time.
type Registry struct {
	handlers map[JobType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[JobType]Handler)}
}

func (g *Registry) Register(typ JobType, h Handler) {
	g.handlers[typ] = h
}

// Dispatch runs the handler for job's type. A row with an unregistered
// type (a stale row from a deployment that still knew it) fails like any
// other handler error so it surfaces through backoff and dead-letter
// alerting instead of being dropped.
func (g *Registry) Dispatch(ctx context.Context, logger *log.Logger, job *JobRecord) Result {
	h, ok := g.handlers[job.Type]
	if !ok {
		return Failure(fmt.Errorf("unknown job type %q", job.Type))
	}
	return h(ctx, logger, job)
}
