package completeness

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardia/referral-intake/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository {
	return &itemRepoPG{pool: pool}
}

func (r *itemRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const itemCols = `id, referral_id, label, required, status, confidence, page_number,
	document_id, requested_at, received_at, created_at, updated_at`

func (r *itemRepoPG) scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.ReferralID, &it.Label, &it.Required, &it.Status,
		&it.Confidence, &it.PageNumber, &it.DocumentID, &it.RequestedAt,
		&it.ReceivedAt, &it.CreatedAt, &it.UpdatedAt)
	return &it, err
}

func (r *itemRepoPG) CreateBatch(ctx context.Context, items []*Item) error {
	for _, it := range items {
		it.ID = uuid.New()
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO completeness_item (id, referral_id, label, required, status,
				confidence, page_number, document_id, requested_at, received_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			it.ID, it.ReferralID, it.Label, it.Required, it.Status,
			it.Confidence, it.PageNumber, it.DocumentID, it.RequestedAt, it.ReceivedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *itemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Item, error) {
	return r.scanItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+itemCols+` FROM completeness_item WHERE id = $1`, id))
}

func (r *itemRepoPG) Update(ctx context.Context, it *Item) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE completeness_item SET status=$2, confidence=$3, page_number=$4,
			document_id=$5, requested_at=$6, received_at=$7, updated_at=NOW()
		WHERE id = $1`,
		it.ID, it.Status, it.Confidence, it.PageNumber,
		it.DocumentID, it.RequestedAt, it.ReceivedAt)
	return err
}

func (r *itemRepoPG) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM completeness_item WHERE referral_id = $1 ORDER BY created_at ASC`,
		referralID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		it, err := r.scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}
