package notify

import "time"

// NotificationPreference is owned by the recipient and mutated through the
// app; the engine only reads it. Absent row = defaults (everything on,
// immediate mode).
type NotificationPreference struct {
	ProviderID uint64 `gorm:"primaryKey"`

	JobMatchEnabled bool `gorm:"not null;default:true"`
	BidEnabled      bool `gorm:"not null;default:true"`
	MessageEnabled  bool `gorm:"not null;default:true"`

	DigestMode            bool `gorm:"not null;default:false"`
	DigestIntervalMinutes int  `gorm:"not null;default:60"`
	DigestLastSentAt      *time.Time

	// Quiet hours as local "HH:MM"; the window may wrap past midnight.
	// Empty strings disable the window.
	QuietStart string `gorm:"type:text;not null;default:''"`
	QuietEnd   string `gorm:"type:text;not null;default:''"`
	Timezone   string `gorm:"type:text;not null;default:'UTC'"` // IANA name

	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

// Interval returns the digest interval clamped to 5m..24h.
func (p *NotificationPreference) Interval() time.Duration {
	m := p.DigestIntervalMinutes
	if m < 5 {
		m = 5
	}
	if m > 1440 {
		m = 1440
	}
	return time.Duration(m) * time.Minute
}

// defaultPreference is used when a recipient never saved preferences.
func defaultPreference(providerID uint64) NotificationPreference {
	return NotificationPreference{
		ProviderID:            providerID,
		JobMatchEnabled:       true,
		BidEnabled:            true,
		MessageEnabled:        true,
		DigestIntervalMinutes: 60,
		Timezone:              "UTC",
	}
}
