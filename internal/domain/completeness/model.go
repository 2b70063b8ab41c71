package completeness

import (
	"time"

	"github.com/google/uuid"
)

// Item statuses. An item is found, missing, or uncertain; uncertain items
// force the manual-review gate regardless of score.
const (
	StatusFound     = "found"
	StatusMissing   = "missing"
	StatusUncertain = "uncertain"
)

// Confidence bands used for display and auto-file eligibility.
const (
	BandHigh    = "high"
	BandMedium  = "medium"
	BandLow     = "low"
	BandVeryLow = "very-low"
)

// Item is one required-or-optional artifact on a referral's checklist,
// e.g. "ECG" or "OHIP Card". Items are seeded at intake classification and
// mutated by human confirm/reject actions and inbound document matching.
type Item struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ReferralID  uuid.UUID  `db:"referral_id" json:"referral_id"`
	Label       string     `db:"label" json:"label"`
	Required    bool       `db:"required" json:"required"`
	Status      string     `db:"status" json:"status"`
	Confidence  int        `db:"confidence" json:"confidence"`
	PageNumber  *int       `db:"page_number" json:"page_number,omitempty"`
	DocumentID  *uuid.UUID `db:"document_id" json:"document_id,omitempty"`
	RequestedAt *time.Time `db:"requested_at" json:"requested_at,omitempty"`
	ReceivedAt  *time.Time `db:"received_at" json:"received_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// ItemSeed describes one checklist item produced by the intake classifier.
type ItemSeed struct {
	Label      string     `json:"label"`
	Required   bool       `json:"required"`
	Status     string     `json:"status"`
	Confidence int        `json:"confidence"`
	PageNumber *int       `json:"page_number,omitempty"`
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
}

// Band maps an AI confidence score to its display band.
func Band(confidence int) string {
	switch {
	case confidence >= 90:
		return BandHigh
	case confidence >= 70:
		return BandMedium
	case confidence >= 50:
		return BandLow
	default:
		return BandVeryLow
	}
}
