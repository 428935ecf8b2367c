package notify

import "time"

// PendingMatch records one scored (provider, listing) hit. Immediate-mode
// sends stamp it digested right away (audit trail); digest-mode leaves it
// pending until a digest run folds it in. The unique pair index is what
// makes "at most one notification per (recipient, listing)" hold across
// both paths.
type PendingMatch struct {
	ID         uint64 `gorm:"primaryKey"`
	ProviderID uint64 `gorm:"uniqueIndex:uq_pending_provider_listing;not null"`
	ListingID  uint64 `gorm:"uniqueIndex:uq_pending_provider_listing;not null"`

	Score      float64    `gorm:"not null"`
	DigestedAt *time.Time `gorm:"index"`
	CreatedAt  time.Time  `gorm:"not null;default:now()"`
}
