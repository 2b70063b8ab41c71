package completeness

import (
	"context"

	"github.com/google/uuid"
)

type ItemRepository interface {
	CreateBatch(ctx context.Context, items []*Item) error
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	Update(ctx context.Context, item *Item) error
	ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Item, error)
}
