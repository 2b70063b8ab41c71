package communication

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const commCols = `id, referral_id, parent_id, channel, status, initiator, recipient,
	subject, body, missing_items, strategy, escalation_delay_days, reminders_sent,
	sent_at, scheduled_for, response_received_at, failure_reason, gateway_ref,
	created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Communication, error) {
	var c Communication
	err := row.Scan(&c.ID, &c.ReferralID, &c.ParentID, &c.Channel, &c.Status,
		&c.Initiator, &c.Recipient, &c.Subject, &c.Body, &c.MissingItems,
		&c.Strategy, &c.EscalationDelayDays, &c.RemindersSent, &c.SentAt,
		&c.ScheduledFor, &c.ResponseReceivedAt, &c.FailureReason, &c.GatewayRef,
		&c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Communication) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO communication (id, referral_id, parent_id, channel, status,
			initiator, recipient, subject, body, missing_items, strategy,
			escalation_delay_days, reminders_sent, sent_at, scheduled_for,
			response_received_at, failure_reason, gateway_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		c.ID, c.ReferralID, c.ParentID, c.Channel, c.Status, c.Initiator,
		c.Recipient, c.Subject, c.Body, c.MissingItems, c.Strategy,
		c.EscalationDelayDays, c.RemindersSent, c.SentAt, c.ScheduledFor,
		c.ResponseReceivedAt, c.FailureReason, c.GatewayRef)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Communication, error) {
	c, err := r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+commCols+` FROM communication WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, ErrCommunicationNotFound
	}
	return c, err
}

func (r *repoPG) Update(ctx context.Context, c *Communication) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE communication SET status=$2, reminders_sent=$3, sent_at=$4,
			scheduled_for=$5, response_received_at=$6, failure_reason=$7,
			gateway_ref=$8, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Status, c.RemindersSent, c.SentAt, c.ScheduledFor,
		c.ResponseReceivedAt, c.FailureReason, c.GatewayRef)
	return err
}

func (r *repoPG) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Communication, error) {
	return r.list(ctx,
		`SELECT `+commCols+` FROM communication WHERE referral_id = $1 ORDER BY created_at ASC`,
		referralID)
}

func (r *repoPG) ListOpenByReferral(ctx context.Context, referralID uuid.UUID) ([]*Communication, error) {
	return r.list(ctx, `SELECT `+commCols+` FROM communication
		WHERE referral_id = $1 AND status IN ('scheduled','sent','awaiting','escalated')
		ORDER BY created_at ASC`, referralID)
}

func (r *repoPG) ListAwaitingWithStrategy(ctx context.Context) ([]*Communication, error) {
	return r.list(ctx, `SELECT `+commCols+` FROM communication
		WHERE status = 'awaiting' AND strategy <> 'none' AND sent_at IS NOT NULL
		ORDER BY sent_at ASC`)
}

func (r *repoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Communication, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var comms []*Communication
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		comms = append(comms, c)
	}
	return comms, nil
}
