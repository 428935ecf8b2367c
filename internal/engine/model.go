package engine

import (
	"encoding/json"
	"time"
)

// Job statuses. Only PENDING rows are claimable; only the worker holding
// the lease may move a row out of PROCESSING.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusSuccess    = "SUCCESS"
	StatusDead       = "DEAD"
)

// JobType selects the handler for a row.
type JobType string

const (
	TypeJobMatchNotify         JobType = "JOB_MATCH_NOTIFY"
	TypeJobMatchDigest         JobType = "JOB_MATCH_DIGEST"
	TypeProviderStatsRecompute JobType = "PROVIDER_STATS_RECOMPUTE"
	TypeAIMonthlyReset         JobType = "AI_MONTHLY_RESET"
)

// KnownTypes is the closed set of job types wired at startup. Rows
// carrying anything else (stale deploys) fail through the normal
// retry/dead-letter path.
func KnownTypes() []JobType {
	return []JobType{
		TypeJobMatchNotify,
		TypeJobMatchDigest,
		TypeProviderStatsRecompute,
		TypeAIMonthlyReset,
	}
}

func ValidType(t JobType) bool {
	for _, k := range KnownTypes() {
		if t == k {
			return true
		}
	}
	return false
}

// JobRecord is one durable unit of work. The table doubles as the
// coordination substrate between worker processes: every transition is a
// conditional update keyed on (id, status, locked_by).
type JobRecord struct {
	ID uint64 `gorm:"primaryKey"`

	Type    JobType         `gorm:"type:text;not null"`
	Payload json.RawMessage `gorm:"type:jsonb;not null;default:'{}'::jsonb"`

	Status string    `gorm:"index;not null;default:'PENDING'"`
	RunAt  time.Time `gorm:"index;not null"`

	Attempts    int `gorm:"not null;default:0"`
	MaxAttempts int `gorm:"not null;default:5"`

	LockedBy *string    `gorm:"type:text"`
	LockedAt *time.Time `gorm:"type:timestamptz"`

	LastError     *string    `gorm:"type:text"`
	LastAttemptAt *time.Time `gorm:"type:timestamptz"`

	// DedupKey scopes EnsureScheduled: at most one live row per
	// (type, dedup_key).
	DedupKey *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (JobRecord) TableName() string { return "job_records" }
