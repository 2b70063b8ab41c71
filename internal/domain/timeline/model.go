package timeline

import (
	"time"

	"github.com/google/uuid"
)

// Event types recorded on a referral's timeline. One event is appended per
// successful command; rejected commands leave no trace.
const (
	EventStatusChanged          = "status-changed"
	EventUrgencyConfirmed       = "urgency-confirmed"
	EventItemUpdated            = "item-updated"
	EventItemsSeeded            = "items-seeded"
	EventCommunicationSent      = "communication-sent"
	EventCommunicationEscalated = "communication-escalated"
	EventCommunicationResponse  = "communication-response"
	EventCommunicationFailed    = "communication-failed"
	EventCommunicationClosed    = "communication-closed"
	EventReferralDeclined       = "referral-declined"
	EventReferralRouted         = "referral-routed"
	EventDocumentAttached       = "document-attached"
	EventTransmissionSplit      = "transmission-split"
	EventReferralLocked         = "referral-locked"
	EventReferralUnlocked       = "referral-unlocked"
)

// Event is one immutable entry in a referral's audit trail.
type Event struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ReferralID  uuid.UUID `db:"referral_id" json:"referral_id"`
	Type        string    `db:"event_type" json:"event_type"`
	Actor       string    `db:"actor" json:"actor"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
