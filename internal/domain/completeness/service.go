package completeness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cardia/referral-intake/internal/domain/timeline"
)

var (
	ErrItemNotFound  = errors.New("completeness item not found")
	ErrInvalidStatus = errors.New("invalid item status")
)

// TimelineRecorder appends an event to a referral's audit trail.
type TimelineRecorder interface {
	Record(ctx context.Context, referralID uuid.UUID, eventType, actor, description string) error
}

type Service struct {
	items  ItemRepository
	events TimelineRecorder
}

func NewService(items ItemRepository, events TimelineRecorder) *Service {
	return &Service{items: items, events: events}
}

// SeedItems creates the initial checklist for a referral from the intake
// classifier's output.
func (s *Service) SeedItems(ctx context.Context, referralID uuid.UUID, actor string, seeds []ItemSeed) ([]*Item, error) {
	if referralID == uuid.Nil {
		return nil, fmt.Errorf("referral_id is required")
	}
	items := make([]*Item, 0, len(seeds))
	for _, seed := range seeds {
		if seed.Label == "" {
			return nil, fmt.Errorf("item label is required")
		}
		status := seed.Status
		if status == "" {
			status = StatusMissing
		}
		if status != StatusFound && status != StatusMissing && status != StatusUncertain {
			return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
		}
		items = append(items, &Item{
			ReferralID: referralID,
			Label:      seed.Label,
			Required:   seed.Required,
			Status:     status,
			Confidence: seed.Confidence,
			PageNumber: seed.PageNumber,
			DocumentID: seed.DocumentID,
		})
	}
	if err := s.items.CreateBatch(ctx, items); err != nil {
		return nil, err
	}
	if err := s.events.Record(ctx, referralID, timeline.EventItemsSeeded, actor,
		fmt.Sprintf("checklist seeded with %d items", len(items))); err != nil {
		return nil, err
	}
	return items, nil
}

// MarkFound marks an item as present. If the item was previously requested
// from the referrer, the receipt time is stamped now.
func (s *Service) MarkFound(ctx context.Context, itemID uuid.UUID, actor string) (*Item, error) {
	return s.transition(ctx, itemID, actor, StatusFound)
}

// MarkMissing marks an item as absent.
func (s *Service) MarkMissing(ctx context.Context, itemID uuid.UUID, actor string) (*Item, error) {
	return s.transition(ctx, itemID, actor, StatusMissing)
}

// MarkUncertain marks an item as undecidable, forcing the review gate.
func (s *Service) MarkUncertain(ctx context.Context, itemID uuid.UUID, actor string) (*Item, error) {
	return s.transition(ctx, itemID, actor, StatusUncertain)
}

func (s *Service) transition(ctx context.Context, itemID uuid.UUID, actor, status string) (*Item, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if item.Status == status {
		return item, nil
	}
	item.Status = status
	if status == StatusFound && item.RequestedAt != nil && item.ReceivedAt == nil {
		now := time.Now().UTC()
		item.ReceivedAt = &now
	}
	if err := s.items.Update(ctx, item); err != nil {
		return nil, err
	}
	if err := s.events.Record(ctx, item.ReferralID, timeline.EventItemUpdated, actor,
		fmt.Sprintf("%s marked %s", item.Label, status)); err != nil {
		return nil, err
	}
	return item, nil
}

// MarkRequested stamps the request time on the named items. Called when an
// outbound communication asking for them goes out.
func (s *Service) MarkRequested(ctx context.Context, referralID uuid.UUID, labels []string, at time.Time) error {
	if len(labels) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(labels))
	for _, l := range labels {
		wanted[l] = true
	}
	items, err := s.items.ListByReferral(ctx, referralID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if !wanted[item.Label] || item.RequestedAt != nil {
			continue
		}
		requestedAt := at
		item.RequestedAt = &requestedAt
		if err := s.items.Update(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// ListByReferral returns the full checklist for a referral.
func (s *Service) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Item, error) {
	return s.items.ListByReferral(ctx, referralID)
}

// ScoreReferral computes the derived completeness score for a referral.
// The score is never persisted; the checklist is the single source of truth.
func (s *Service) ScoreReferral(ctx context.Context, referralID uuid.UUID) (int, error) {
	items, err := s.items.ListByReferral(ctx, referralID)
	if err != nil {
		return 0, err
	}
	return Score(items), nil
}

// MissingLabels returns the labels of items still missing on a referral.
func (s *Service) MissingLabels(ctx context.Context, referralID uuid.UUID) ([]string, error) {
	items, err := s.items.ListByReferral(ctx, referralID)
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, item := range items {
		if item.Status == StatusMissing {
			labels = append(labels, item.Label)
		}
	}
	return labels, nil
}

// ReviewRequired reports whether the referral's checklist needs a human
// acknowledgement before advancing.
func (s *Service) ReviewRequired(ctx context.Context, referralID uuid.UUID, aiConfidence int) (bool, error) {
	items, err := s.items.ListByReferral(ctx, referralID)
	if err != nil {
		return false, err
	}
	return NeedsManualReview(aiConfidence, items), nil
}
