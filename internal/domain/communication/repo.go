package communication

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence boundary for communications. The escalation
// scheduler leans on ListAwaitingWithStrategy to find candidates without
// scanning every referral.
type Repository interface {
	Create(ctx context.Context, comm *Communication) error
	GetByID(ctx context.Context, id uuid.UUID) (*Communication, error)
	Update(ctx context.Context, comm *Communication) error
	ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Communication, error)
	ListOpenByReferral(ctx context.Context, referralID uuid.UUID) ([]*Communication, error)
	ListAwaitingWithStrategy(ctx context.Context) ([]*Communication, error)
}
