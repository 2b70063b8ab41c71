// Package gateway is the client boundary to the downstream communications
// provider. The intake engine records its own state before dispatching here;
// delivery and response callbacks arrive later through the HTTP API.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Command is one outbound send instruction for the provider.
type Command struct {
	ID              uuid.UUID  `json:"id"`
	ReferralID      uuid.UUID  `json:"referral_id"`
	CommunicationID uuid.UUID  `json:"communication_id"`
	Recipient       string     `json:"recipient"`
	Subject         string     `json:"subject,omitempty"`
	Body            string     `json:"body"`
	ScheduledFor    *time.Time `json:"scheduled_for,omitempty"`
}

// Result is the provider's immediate accept/reject answer. Rejection is not an
// error at the transport level; it carries a reason for the failure record.
type Result struct {
	Accepted    bool   `json:"accepted"`
	ProviderRef string `json:"provider_ref,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Gateway sends outbound communications. Implementations must not block on
// delivery; they return once the provider has accepted or rejected the command.
type Gateway interface {
	SendFax(ctx context.Context, cmd Command) (Result, error)
	PlaceVoiceCall(ctx context.Context, cmd Command) (Result, error)
	SendEmail(ctx context.Context, cmd Command) (Result, error)
}
