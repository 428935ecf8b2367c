package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"matchd/internal/engine"
	"matchd/internal/market"

	"gorm.io/gorm"
)

// Digest handles JOB_MATCH_DIGEST: fold a recipient's accumulated pending
// matches into a single notification, honoring the minimum inter-digest
// interval and the recipient's quiet hours. When either gate is still in
// the future the job reschedules itself to the gate time; that is not a
// failure and costs no attempt.
type Digest struct {
	DB     *gorm.DB
	Pusher Pusher

	TopN int // matches summarized per digest; zero = 3, clamped 1..10

	// Now is stubbed in tests; nil means time.Now.
	Now func() time.Time
}

type digestPayload struct {
	ProviderID    uint64 `json:"providerId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (d *Digest) Handle(ctx context.Context, logger *log.Logger, job *engine.JobRecord) engine.Result {
	var p digestPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return engine.Failure(fmt.Errorf("bad payload: %w", err))
	}

	var pref NotificationPreference
	err := d.DB.WithContext(ctx).First(&pref, "provider_id = ?", p.ProviderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// No saved preferences means immediate mode; nothing to digest.
		return engine.Success()
	}
	if err != nil {
		return engine.Failure(err)
	}
	if !pref.JobMatchEnabled || !pref.DigestMode {
		// Pending rows stay put; they get picked up if digesting is
		// re-enabled, or simply age out.
		logger.Printf("digest disabled for provider=%d, dropping run", p.ProviderID)
		return engine.Success()
	}

	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}
	gate := now
	if pref.DigestLastSentAt != nil {
		if t := pref.DigestLastSentAt.Add(pref.Interval()); t.After(gate) {
			gate = t
		}
	}
	if q := NextAllowedSend(now, pref.QuietStart, pref.QuietEnd, pref.Timezone); q.After(gate) {
		gate = q
	}
	if gate.After(now) {
		return engine.Reschedule(gate)
	}

	var pending []PendingMatch
	err = d.DB.WithContext(ctx).
		Where("provider_id = ? and digested_at is null", p.ProviderID).
		Order("score desc, created_at desc").
		Find(&pending).Error
	if err != nil {
		return engine.Failure(err)
	}
	if len(pending) == 0 {
		logger.Printf("no pending matches for provider=%d", p.ProviderID)
		return engine.Success()
	}

	top := pending
	if n := d.topN(); len(top) > n {
		top = top[:n]
	}

	title, body, err := d.compose(ctx, len(pending), top)
	if err != nil {
		return engine.Failure(err)
	}

	listingIDs := make([]uint64, len(top))
	for i, pm := range top {
		listingIDs[i] = pm.ListingID
	}
	data, _ := json.Marshal(map[string]any{"count": len(pending), "listingIds": listingIDs})

	err = d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n := market.Notification{
			ProviderID: p.ProviderID,
			Category:   market.CategoryJobMatch,
			Title:      title,
			Body:       body,
			Data:       data,
			CreatedAt:  now,
		}
		if err := tx.Create(&n).Error; err != nil {
			return err
		}
		if err := tx.Model(&PendingMatch{}).
			Where("provider_id = ? and digested_at is null", p.ProviderID).
			Update("digested_at", now).Error; err != nil {
			return err
		}
		return tx.Model(&NotificationPreference{}).
			Where("provider_id = ?", p.ProviderID).
			Update("digest_last_sent_at", now).Error
	})
	if err != nil {
		return engine.Failure(err)
	}

	pushToProvider(ctx, d.DB, d.Pusher, p.ProviderID, title, body, map[string]any{"count": len(pending)})
	logger.Printf("digest sent provider=%d matches=%d summarized=%d", p.ProviderID, len(pending), len(top))
	return engine.Success()
}

// compose builds the single title/body summarizing the batch, leading with
// the best match.
func (d *Digest) compose(ctx context.Context, total int, top []PendingMatch) (string, string, error) {
	var best market.Listing
	err := d.DB.WithContext(ctx).First(&best, top[0].ListingID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", err
	}

	title := fmt.Sprintf("%d new job matches", total)
	if total == 1 {
		title = "1 new job match"
	}

	body := best.Title
	if body == "" {
		body = "New work in your area"
	}
	if total > 1 {
		body = fmt.Sprintf("%s and %d more", body, total-1)
	}
	return title, body, nil
}

func (d *Digest) topN() int {
	n := d.TopN
	if n == 0 {
		n = 3
	}
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	return n
}
