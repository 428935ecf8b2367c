package market

import (
	"context"
	"errors"
	"strings"
	"time"

	"matchd/internal/engine"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrInvalidListing = errors.New("invalid listing")

// Service covers the one collaborator write path the engine cares about:
// creating a listing enqueues its match fan-out in the same transaction,
// so a committed listing always has a job and vice versa.
type Service struct {
	DB   *gorm.DB
	Jobs *engine.Repo
}

type CreateListingInput struct {
	Title        string
	Description  string
	Category     string
	LocationCode string
	BudgetMin    int64
	BudgetMax    int64

	// CorrelationID ties worker logs back to the originating request.
	CorrelationID string
}

func (s *Service) CreateListing(ctx context.Context, in CreateListingInput) (uint64, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return 0, ErrInvalidListing
	}
	cid := in.CorrelationID
	if cid == "" {
		cid = uuid.NewString()
	}

	var id uint64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l := Listing{
			Title:        in.Title,
			Description:  in.Description,
			Category:     strings.TrimSpace(in.Category),
			LocationCode: strings.TrimSpace(in.LocationCode),
			BudgetMin:    in.BudgetMin,
			BudgetMax:    in.BudgetMax,
			Status:       ListingOpen,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}
		if err := tx.Create(&l).Error; err != nil {
			return err
		}
		id = l.ID

		_, err := s.Jobs.Enqueue(tx, engine.TypeJobMatchNotify, map[string]any{
			"listingId":     l.ID,
			"correlationId": cid,
		}, engine.EnqueueOpts{MaxAttempts: 5})
		return err
	})
	return id, err
}
