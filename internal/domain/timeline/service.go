package timeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	events EventRepository
}

func NewService(events EventRepository) *Service {
	return &Service{events: events}
}

// Record appends one event to a referral's timeline.
func (s *Service) Record(ctx context.Context, referralID uuid.UUID, eventType, actor, description string) error {
	if referralID == uuid.Nil {
		return fmt.Errorf("referral_id is required")
	}
	if eventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if actor == "" {
		actor = "system"
	}
	return s.events.Append(ctx, &Event{
		ReferralID:  referralID,
		Type:        eventType,
		Actor:       actor,
		Description: description,
	})
}

func (s *Service) ListByReferral(ctx context.Context, referralID uuid.UUID, limit, offset int) ([]*Event, int, error) {
	return s.events.ListByReferral(ctx, referralID, limit, offset)
}
