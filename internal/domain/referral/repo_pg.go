package referral

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardia/referral-intake/internal/platform/db"
	"github.com/cardia/referral-intake/pkg/pagination"
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

const referralCols = `id, parent_referral_id, patient_id, patient_name, referrer_name,
	referrer_fax, referrer_phone, referrer_email, status, urgency_rating,
	urgency_confidence, urgency_confirmed_by, ai_confidence, assigned_specialist_id,
	locked_by, decline_reason, created_at, updated_at`

func scanReferral(row pgx.Row) (*Referral, error) {
	var ref Referral
	err := row.Scan(&ref.ID, &ref.ParentReferralID, &ref.PatientID, &ref.PatientName,
		&ref.ReferrerName, &ref.ReferrerFax, &ref.ReferrerPhone, &ref.ReferrerEmail,
		&ref.Status, &ref.UrgencyRating, &ref.UrgencyConfidence, &ref.UrgencyConfirmedBy,
		&ref.AIConfidence, &ref.AssignedSpecialistID, &ref.LockedBy, &ref.DeclineReason,
		&ref.CreatedAt, &ref.UpdatedAt)
	return &ref, err
}

func (r *repoPG) Create(ctx context.Context, ref *Referral) error {
	if ref.ID == uuid.Nil {
		ref.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO referral (id, parent_referral_id, patient_id, patient_name,
			referrer_name, referrer_fax, referrer_phone, referrer_email, status,
			urgency_rating, urgency_confidence, urgency_confirmed_by, ai_confidence,
			assigned_specialist_id, locked_by, decline_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		ref.ID, ref.ParentReferralID, ref.PatientID, ref.PatientName, ref.ReferrerName,
		ref.ReferrerFax, ref.ReferrerPhone, ref.ReferrerEmail, ref.Status,
		ref.UrgencyRating, ref.UrgencyConfidence, ref.UrgencyConfirmedBy,
		ref.AIConfidence, ref.AssignedSpecialistID, ref.LockedBy, ref.DeclineReason)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	ref, err := scanReferral(r.conn(ctx).QueryRow(ctx,
		`SELECT `+referralCols+` FROM referral WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return ref, err
}

func (r *repoPG) Update(ctx context.Context, ref *Referral) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE referral SET patient_id=$2, patient_name=$3, status=$4,
			urgency_rating=$5, urgency_confidence=$6, urgency_confirmed_by=$7,
			ai_confidence=$8, assigned_specialist_id=$9, locked_by=$10,
			decline_reason=$11, updated_at=NOW()
		WHERE id = $1`,
		ref.ID, ref.PatientID, ref.PatientName, ref.Status, ref.UrgencyRating,
		ref.UrgencyConfidence, ref.UrgencyConfirmedBy, ref.AIConfidence,
		ref.AssignedSpecialistID, ref.LockedBy, ref.DeclineReason)
	return err
}

func (r *repoPG) ListByStatus(ctx context.Context, status string, p pagination.Params) ([]*Referral, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM referral WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+referralCols+` FROM referral WHERE status = $1 ORDER BY created_at ASC `+p.SQL(),
		status)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var refs []*Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, 0, err
		}
		refs = append(refs, ref)
	}
	return refs, total, nil
}

func (r *repoPG) AddDocument(ctx context.Context, d *Document) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO referral_document (id, referral_id, kind, name, communication_id,
			start_page, end_page)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		d.ID, d.ReferralID, d.Kind, d.Name, d.CommunicationID, d.StartPage, d.EndPage)
	return err
}

func (r *repoPG) ListDocuments(ctx context.Context, referralID uuid.UUID) ([]*Document, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, referral_id, kind, name, communication_id, start_page, end_page, created_at
		FROM referral_document WHERE referral_id = $1 ORDER BY created_at ASC`, referralID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []*Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.ReferralID, &d.Kind, &d.Name, &d.CommunicationID,
			&d.StartPage, &d.EndPage, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &d)
	}
	return docs, nil
}
