package market

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// Listing statuses. Only OPEN listings are fanned out.
const (
	ListingOpen      = "OPEN"
	ListingHidden    = "HIDDEN"
	ListingFilled    = "FILLED"
	ListingCancelled = "CANCELLED"
)

// Notification categories.
const (
	CategoryJobMatch = "job_match"
	CategoryBid      = "bid"
	CategoryMessage  = "message"
)

// Listing is a posted unit of work providers get matched against.
type Listing struct {
	ID          uint64 `gorm:"primaryKey"`
	Title       string `gorm:"type:text;not null"`
	Description string `gorm:"type:text;not null;default:''"`
	Category    string `gorm:"index;type:text;not null;default:''"`

	// LocationCode is a normalized area identifier; the first two
	// characters name the region.
	LocationCode string `gorm:"type:text;not null;default:''"`

	BudgetMin int64 `gorm:"not null;default:0"`
	BudgetMax int64 `gorm:"not null;default:0"`

	Status string `gorm:"index;not null;default:'OPEN'"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

// Provider is a match recipient. CompletedJobs, CompletionRate and Rating
// are denormalized quality signals refreshed by the daily stats job.
type Provider struct {
	ID     uint64 `gorm:"primaryKey"`
	Name   string `gorm:"type:text;not null;default:''"`
	Active bool   `gorm:"index;not null;default:true"`

	Categories   pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	LocationCode string         `gorm:"type:text;not null;default:''"`
	BudgetMin    int64          `gorm:"not null;default:0"`
	BudgetMax    int64          `gorm:"not null;default:0"`

	CompletedJobs  int     `gorm:"not null;default:0"`
	CompletionRate float64 `gorm:"not null;default:0"` // 0..1
	Rating         float64 `gorm:"not null;default:0"` // 0..5
	Premium        bool    `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

// Subscription is the structured filter path: a provider opts in to a
// category with optional location and budget bounds.
type Subscription struct {
	ID         uint64 `gorm:"primaryKey"`
	ProviderID uint64 `gorm:"index;not null"`
	Category   string `gorm:"index;not null"`

	// Empty LocationCodes means any location.
	LocationCodes pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	MinBudget     int64          `gorm:"not null;default:0"`

	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null;default:now()"`
}

// Assignment ties a provider to a listing they won; feeds completion rate.
type Assignment struct {
	ID         uint64 `gorm:"primaryKey"`
	ProviderID uint64 `gorm:"index;not null"`
	ListingID  uint64 `gorm:"index;not null"`
	Status     string `gorm:"not null;default:'ACTIVE'"` // ACTIVE/COMPLETED/CANCELLED
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Review feeds the provider rating signal.
type Review struct {
	ID         uint64    `gorm:"primaryKey"`
	ProviderID uint64    `gorm:"index;not null"`
	ListingID  uint64    `gorm:"index;not null"`
	Rating     int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;default:now()"`
}

// DeviceToken is a registered push target for a provider.
type DeviceToken struct {
	ID         uint64    `gorm:"primaryKey"`
	ProviderID uint64    `gorm:"index;not null"`
	Token      string    `gorm:"uniqueIndex;not null"`
	Platform   string    `gorm:"not null;default:''"`
	CreatedAt  time.Time `gorm:"not null;default:now()"`
}

// Notification is a persisted in-app notification row.
type Notification struct {
	ID         uint64  `gorm:"primaryKey"`
	ProviderID uint64  `gorm:"index;not null"`
	Category   string  `gorm:"index;not null"`
	ListingID  *uint64 `gorm:"index"`

	Title string          `gorm:"type:text;not null"`
	Body  string          `gorm:"type:text;not null;default:''"`
	Data  json.RawMessage `gorm:"type:jsonb;not null;default:'{}'::jsonb"`

	ReadAt    *time.Time
	CreatedAt time.Time `gorm:"index;not null;default:now()"`
}
