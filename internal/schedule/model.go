package schedule

import "time"

// AIUsage tracks per-provider AI feature consumption for one billing
// period. PeriodStart lagging the current month marks a row the monthly
// reset still has to roll over.
type AIUsage struct {
	ProviderID  uint64    `gorm:"primaryKey"`
	Used        int       `gorm:"not null;default:0"`
	Quota       int       `gorm:"not null;default:20"`
	PeriodStart time.Time `gorm:"index;not null"`
	UpdatedAt   time.Time `gorm:"not null;default:now()"`
}

func (AIUsage) TableName() string { return "ai_usage" }
