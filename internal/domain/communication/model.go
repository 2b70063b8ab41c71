package communication

import (
	"time"

	"github.com/google/uuid"
)

// Channel is the transport an outbound request goes over.
const (
	ChannelFax   = "fax"
	ChannelVoice = "voice"
	ChannelEmail = "email"
)

// Communication lifecycle. A record leaves "awaiting" exactly once: to
// received, escalated, failed, or closed.
const (
	StatusScheduled = "scheduled"
	StatusSent      = "sent"
	StatusAwaiting  = "awaiting"
	StatusReceived  = "received"
	StatusEscalated = "escalated"
	StatusFailed    = "failed"
	StatusClosed    = "closed"
)

const (
	InitiatorAI    = "ai"
	InitiatorHuman = "human"
)

// Escalation strategy: which fallback channel fires when no response arrives
// within the delay window.
const (
	StrategyNone         = "none"
	StrategyFaxThenVoice = "fax-then-voice"
	StrategyVoiceThenFax = "voice-then-fax"
	StrategyMultiFax     = "multi-fax"
)

// Communication is one outbound request for missing referral information.
// Escalation never mutates a record in place; the fallback attempt is a new
// record linked through ParentID.
type Communication struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	ReferralID          uuid.UUID  `db:"referral_id" json:"referral_id"`
	ParentID            *uuid.UUID `db:"parent_id" json:"parent_id,omitempty"`
	Channel             string     `db:"channel" json:"channel"`
	Status              string     `db:"status" json:"status"`
	Initiator           string     `db:"initiator" json:"initiator"`
	Recipient           string     `db:"recipient" json:"recipient"`
	Subject             string     `db:"subject" json:"subject"`
	Body                string     `db:"body" json:"body"`
	MissingItems        []string   `db:"missing_items" json:"missing_items"`
	Strategy            string     `db:"strategy" json:"strategy"`
	EscalationDelayDays int        `db:"escalation_delay_days" json:"escalation_delay_days"`
	RemindersSent       int        `db:"reminders_sent" json:"reminders_sent"`
	SentAt              *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	ScheduledFor        *time.Time `db:"scheduled_for" json:"scheduled_for,omitempty"`
	ResponseReceivedAt  *time.Time `db:"response_received_at" json:"response_received_at,omitempty"`
	FailureReason       *string    `db:"failure_reason" json:"failure_reason,omitempty"`
	GatewayRef          *string    `db:"gateway_ref" json:"gateway_ref,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// Open reports whether the communication can still receive a response or
// escalate.
func (c *Communication) Open() bool {
	switch c.Status {
	case StatusScheduled, StatusSent, StatusAwaiting, StatusEscalated:
		return true
	}
	return false
}

// Contact holds the recipient endpoints known for the referring provider.
type Contact struct {
	FaxNumber string `json:"fax_number,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// For returns the endpoint for the given channel, empty when unknown.
func (ct Contact) For(channel string) string {
	switch channel {
	case ChannelFax:
		return ct.FaxNumber
	case ChannelVoice:
		return ct.Phone
	case ChannelEmail:
		return ct.Email
	}
	return ""
}

// FallbackChannel returns the channel the escalation step uses for a
// strategy, empty for none.
func FallbackChannel(strategy string) string {
	switch strategy {
	case StrategyFaxThenVoice:
		return ChannelVoice
	case StrategyVoiceThenFax, StrategyMultiFax:
		return ChannelFax
	}
	return ""
}

func validChannel(ch string) bool {
	return ch == ChannelFax || ch == ChannelVoice || ch == ChannelEmail
}

func validStrategy(s string) bool {
	switch s {
	case StrategyNone, StrategyFaxThenVoice, StrategyVoiceThenFax, StrategyMultiFax:
		return true
	}
	return false
}
