package engine

import "log"

// LogAlerter writes dead-letter alerts to the process log. Swap in a real
// pager/webhook sink in main for production.
type LogAlerter struct{}

func (LogAlerter) DeadLetter(job *JobRecord, errMsg string) {
	log.Printf("ALERT dead-letter job=%d type=%s attempts=%d err=%q", job.ID, job.Type, job.Attempts, errMsg)
}
