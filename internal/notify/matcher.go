package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"matchd/internal/engine"
	"matchd/internal/market"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Matcher handles JOB_MATCH_NOTIFY: score providers against a freshly
// posted listing and fan out one notification per recipient, either
// immediately or as a pending digest entry, depending on their preference.
//
// Re-delivery safe: every send path first inserts the (provider, listing)
// pending row under its unique index, so a retried or concurrently
// re-claimed attempt skips recipients already handled.
type Matcher struct {
	DB     *gorm.DB
	Jobs   *engine.Repo
	Pusher Pusher

	MinScore   float64       // zero = 20
	RateWindow time.Duration // zero = 60m
	RateMax    int           // zero = 5
}

type notifyPayload struct {
	ListingID     uint64 `json:"listingId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m *Matcher) Handle(ctx context.Context, logger *log.Logger, job *engine.JobRecord) engine.Result {
	var p notifyPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return engine.Failure(fmt.Errorf("bad payload: %w", err))
	}

	var listing market.Listing
	if err := m.DB.WithContext(ctx).First(&listing, p.ListingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Printf("listing %d gone, nothing to do", p.ListingID)
			return engine.Success()
		}
		return engine.Failure(err)
	}
	if listing.Status != market.ListingOpen {
		logger.Printf("listing %d status=%s, skipping fan-out", listing.ID, listing.Status)
		return engine.Success()
	}

	cands, path, err := m.candidates(ctx, &listing)
	if err != nil {
		return engine.Failure(err)
	}

	now := time.Now()
	var sent, deferred, skipped int
	for i := range cands {
		prov := &cands[i]
		score := MatchScore(&listing, prov)
		if score < m.minScore() {
			skipped++
			continue
		}

		outcome, err := m.notifyCandidate(ctx, &listing, prov, score, now)
		if err != nil {
			// Storage error mid-batch: fail the attempt. The pending-row
			// unique index makes the retry skip everyone already handled.
			return engine.Failure(err)
		}
		switch outcome {
		case outcomeSent:
			sent++
		case outcomeDeferred:
			deferred++
		default:
			skipped++
		}
	}

	logger.Printf("fan-out path=%s candidates=%d sent=%d deferred=%d skipped=%d", path, len(cands), sent, deferred, skipped)
	return engine.Success()
}

// candidates picks exactly one lookup path. Listings with structured
// fields use the subscription table; everything else falls back to a
// broad provider scan. The paths are never merged, so one invocation can
// never score a provider twice.
func (m *Matcher) candidates(ctx context.Context, l *market.Listing) ([]market.Provider, string, error) {
	if l.Category != "" && l.LocationCode != "" {
		var provs []market.Provider
		err := m.DB.WithContext(ctx).
			Distinct("providers.*").
			Joins("join subscriptions on subscriptions.provider_id = providers.id").
			Where("providers.active").
			Where("subscriptions.active and subscriptions.category = ?", l.Category).
			Where("subscriptions.min_budget <= ?", l.BudgetMax).
			Where("cardinality(subscriptions.location_codes) = 0 or ? = any(subscriptions.location_codes)", l.LocationCode).
			Find(&provs).Error
		return provs, "subscription", err
	}

	var provs []market.Provider
	err := m.DB.WithContext(ctx).
		Where("active").
		Where("cardinality(categories) = 0 or ? = any(categories)", l.Category).
		Find(&provs).Error
	return provs, "legacy", err
}

type candidateOutcome int

const (
	outcomeSkipped candidateOutcome = iota
	outcomeSent
	outcomeDeferred
)

func (m *Matcher) notifyCandidate(ctx context.Context, l *market.Listing, prov *market.Provider, score float64, now time.Time) (candidateOutcome, error) {
	pref, err := m.loadPreference(ctx, prov.ID)
	if err != nil {
		return outcomeSkipped, err
	}
	if !pref.JobMatchEnabled {
		return outcomeSkipped, nil
	}

	dup, err := m.alreadyMatched(ctx, prov.ID, l.ID)
	if err != nil {
		return outcomeSkipped, err
	}
	if dup {
		return outcomeSkipped, nil
	}

	limited, err := m.rateLimited(ctx, prov.ID, now)
	if err != nil {
		return outcomeSkipped, err
	}
	if limited {
		return outcomeSkipped, nil
	}

	if pref.DigestMode {
		ok, err := m.deferToDigest(ctx, l, prov.ID, &pref, score, now)
		if err != nil || !ok {
			return outcomeSkipped, err
		}
		return outcomeDeferred, nil
	}

	ok, err := m.sendImmediate(ctx, l, prov.ID, score, now)
	if err != nil || !ok {
		return outcomeSkipped, err
	}
	return outcomeSent, nil
}

func (m *Matcher) loadPreference(ctx context.Context, providerID uint64) (NotificationPreference, error) {
	var pref NotificationPreference
	err := m.DB.WithContext(ctx).First(&pref, "provider_id = ?", providerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return defaultPreference(providerID), nil
	}
	return pref, err
}

// alreadyMatched dedups against both delivery paths for this exact
// (recipient, listing) pair.
func (m *Matcher) alreadyMatched(ctx context.Context, providerID, listingID uint64) (bool, error) {
	var n int64
	err := m.DB.WithContext(ctx).Model(&PendingMatch{}).
		Where("provider_id = ? and listing_id = ?", providerID, listingID).
		Count(&n).Error
	if err != nil || n > 0 {
		return n > 0, err
	}
	err = m.DB.WithContext(ctx).Model(&market.Notification{}).
		Where("provider_id = ? and listing_id = ? and category = ?", providerID, listingID, market.CategoryJobMatch).
		Count(&n).Error
	return n > 0, err
}

// rateLimited applies the rolling per-recipient window: recipients who
// already got RateMax job-match notifications inside the window sit this
// batch out. Soft throttle; the window decays on its own.
func (m *Matcher) rateLimited(ctx context.Context, providerID uint64, now time.Time) (bool, error) {
	var n int64
	err := m.DB.WithContext(ctx).Model(&market.Notification{}).
		Where("provider_id = ? and category = ? and created_at > ?",
			providerID, market.CategoryJobMatch, now.Add(-m.rateWindow())).
		Count(&n).Error
	return n >= int64(m.rateMax()), err
}

// sendImmediate writes the notification row and its audit pending-match in
// one transaction, then pushes best-effort after commit. Reports false
// when a concurrent attempt already claimed the pair.
func (m *Matcher) sendImmediate(ctx context.Context, l *market.Listing, providerID uint64, score float64, now time.Time) (bool, error) {
	var created bool
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pm := PendingMatch{
			ProviderID: providerID,
			ListingID:  l.ID,
			Score:      score,
			DigestedAt: &now,
			CreatedAt:  now,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&pm)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		data, _ := json.Marshal(map[string]any{"listingId": l.ID, "score": score})
		lid := l.ID
		n := market.Notification{
			ProviderID: providerID,
			Category:   market.CategoryJobMatch,
			ListingID:  &lid,
			Title:      "New job match",
			Body:       l.Title,
			Data:       data,
			CreatedAt:  now,
		}
		if err := tx.Create(&n).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil || !created {
		return false, err
	}

	pushToProvider(ctx, m.DB, m.Pusher, providerID, "New job match", l.Title, map[string]any{"listingId": l.ID})
	return true, nil
}

// deferToDigest writes only the pending row and makes sure a digest job
// exists for the recipient. No notification, no push.
func (m *Matcher) deferToDigest(ctx context.Context, l *market.Listing, providerID uint64, pref *NotificationPreference, score float64, now time.Time) (bool, error) {
	pm := PendingMatch{
		ProviderID: providerID,
		ListingID:  l.ID,
		Score:      score,
		CreatedAt:  now,
	}
	res := m.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&pm)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	err := m.Jobs.EnsureScheduled(ctx, engine.TypeJobMatchDigest, digestKey(providerID),
		map[string]any{"providerId": providerID}, now.Add(pref.Interval()), 8)
	return err == nil, err
}

func digestKey(providerID uint64) string {
	return "provider:" + strconv.FormatUint(providerID, 10)
}

// pushToProvider sends one message per syntactically valid registered
// device token. Fire-and-forget: lookup errors are logged, never returned.
func pushToProvider(ctx context.Context, db *gorm.DB, pusher Pusher, providerID uint64, title, body string, data map[string]any) {
	if pusher == nil {
		return
	}
	var tokens []market.DeviceToken
	if err := db.WithContext(ctx).Where("provider_id = ?", providerID).Find(&tokens).Error; err != nil {
		log.Printf("push token lookup failed provider=%d err=%v", providerID, err)
		return
	}
	msgs := make([]PushMessage, 0, len(tokens))
	for _, t := range tokens {
		if !ValidToken(t.Token) {
			continue
		}
		msgs = append(msgs, PushMessage{Token: t.Token, Title: title, Body: body, Data: data})
	}
	pusher.SendAll(msgs)
}

func (m *Matcher) minScore() float64 {
	if m.MinScore > 0 {
		return m.MinScore
	}
	return 20
}

func (m *Matcher) rateWindow() time.Duration {
	if m.RateWindow > 0 {
		return m.RateWindow
	}
	return time.Hour
}

func (m *Matcher) rateMax() int {
	if m.RateMax > 0 {
		return m.RateMax
	}
	return 5
}
