package referral

import (
	"time"

	"github.com/google/uuid"
)

// Referral lifecycle. Routed and declined are terminal; declined is a valid
// escape from any non-terminal state.
const (
	StatusTriage        = "triage"
	StatusIncomplete    = "incomplete"
	StatusPendingReview = "pending-review"
	StatusRouted        = "routed"
	StatusDeclined      = "declined"
)

const (
	UrgencyUnknown   = "unknown"
	UrgencyUrgent    = "urgent"
	UrgencyNotUrgent = "not-urgent"
)

const (
	ConfirmedByNone  = "none"
	ConfirmedByAI    = "ai"
	ConfirmedByHuman = "human"
)

// Document kinds on a referral.
const (
	DocOriginalReferral = "original-referral"
	DocResponse         = "response"
	DocAdditional       = "additional"
)

// aiConfirmFloor is the minimum urgency confidence at which an AI
// confirmation counts; below it only a human may confirm.
const aiConfirmFloor = 90

// Referral is the root aggregate for one inbound cardiology referral. The
// completeness score is never stored here: it is derived from the checklist
// on demand, so a stale persisted copy cannot disagree with the items.
type Referral struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	ParentReferralID     *uuid.UUID `db:"parent_referral_id" json:"parent_referral_id,omitempty"`
	PatientID            *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	PatientName          string     `db:"patient_name" json:"patient_name"`
	ReferrerName         string     `db:"referrer_name" json:"referrer_name"`
	ReferrerFax          string     `db:"referrer_fax" json:"referrer_fax,omitempty"`
	ReferrerPhone        string     `db:"referrer_phone" json:"referrer_phone,omitempty"`
	ReferrerEmail        string     `db:"referrer_email" json:"referrer_email,omitempty"`
	Status               string     `db:"status" json:"status"`
	UrgencyRating        string     `db:"urgency_rating" json:"urgency_rating"`
	UrgencyConfidence    int        `db:"urgency_confidence" json:"urgency_confidence"`
	UrgencyConfirmedBy   string     `db:"urgency_confirmed_by" json:"urgency_confirmed_by"`
	AIConfidence         int        `db:"ai_confidence" json:"ai_confidence"`
	AssignedSpecialistID *uuid.UUID `db:"assigned_specialist_id" json:"assigned_specialist_id,omitempty"`
	LockedBy             *string    `db:"locked_by" json:"locked_by,omitempty"`
	DeclineReason        *string    `db:"decline_reason" json:"decline_reason,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether no further transitions are possible.
func (r *Referral) Terminal() bool {
	return r.Status == StatusRouted || r.Status == StatusDeclined
}

// UrgencyConfirmed reports whether the triage gate has been satisfied.
func (r *Referral) UrgencyConfirmed() bool {
	return r.UrgencyConfirmedBy != ConfirmedByNone && r.UrgencyRating != UrgencyUnknown
}

// Document is a grouped set of pages attached to a referral. A response
// document may reference the communication that requested it.
type Document struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	ReferralID      uuid.UUID  `db:"referral_id" json:"referral_id"`
	Kind            string     `db:"kind" json:"kind"`
	Name            string     `db:"name" json:"name"`
	CommunicationID *uuid.UUID `db:"communication_id" json:"communication_id,omitempty"`
	StartPage       int        `db:"start_page" json:"start_page"`
	EndPage         int        `db:"end_page" json:"end_page"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

func validStatus(s string) bool {
	switch s {
	case StatusTriage, StatusIncomplete, StatusPendingReview, StatusRouted, StatusDeclined:
		return true
	}
	return false
}

func validUrgency(u string) bool {
	return u == UrgencyUnknown || u == UrgencyUrgent || u == UrgencyNotUrgent
}

func validDocKind(k string) bool {
	return k == DocOriginalReferral || k == DocResponse || k == DocAdditional
}
