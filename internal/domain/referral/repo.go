package referral

import (
	"context"

	"github.com/google/uuid"

	"github.com/cardia/referral-intake/pkg/pagination"
)

// Repository is the sole persistence boundary for referrals and their
// documents. Every command mutates in memory and saves through Update.
type Repository interface {
	Create(ctx context.Context, r *Referral) error
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	Update(ctx context.Context, r *Referral) error
	ListByStatus(ctx context.Context, status string, p pagination.Params) ([]*Referral, int, error)
	AddDocument(ctx context.Context, d *Document) error
	ListDocuments(ctx context.Context, referralID uuid.UUID) ([]*Document, error)
}
