package timeline

import (
	"context"

	"github.com/google/uuid"
)

// EventRepository persists timeline events. Events are append-only: there is
// deliberately no update or delete.
type EventRepository interface {
	Append(ctx context.Context, e *Event) error
	ListByReferral(ctx context.Context, referralID uuid.UUID, limit, offset int) ([]*Event, int, error)
}
