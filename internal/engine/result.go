package engine

import "time"

type resultKind int

const (
	resultSuccess resultKind = iota
	resultReschedule
	resultFailure
)

// Result is what a handler reports for one job attempt. Reschedule is not
// a failure: the job ran too early (digest interval, quiet hours) and goes
// back to PENDING at the given time without spending an attempt.
type Result struct {
	kind resultKind
	at   time.Time
	err  error
}

func Success() Result { return Result{kind: resultSuccess} }

func Reschedule(at time.Time) Result { return Result{kind: resultReschedule, at: at} }

func Failure(err error) Result { return Result{kind: resultFailure, err: err} }

func (r Result) Succeeded() bool { return r.kind == resultSuccess }

// Rescheduled reports the requested run time when the handler asked to be
// re-run later.
func (r Result) Rescheduled() (time.Time, bool) {
	return r.at, r.kind == resultReschedule
}

// Failed returns the handler error, nil for success/reschedule.
func (r Result) Failed() error {
	if r.kind != resultFailure {
		return nil
	}
	return r.err
}
