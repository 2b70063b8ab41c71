package communication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardia/referral-intake/internal/domain/timeline"
	"github.com/cardia/referral-intake/internal/platform/gateway"
)

var (
	ErrCommunicationNotFound = errors.New("communication not found")
	ErrNoRecipientContact    = errors.New("no recipient contact for channel")
	ErrInvalidChannel        = errors.New("invalid channel")
	ErrInvalidStrategy       = errors.New("invalid escalation strategy")
	ErrInvalidTransition     = errors.New("invalid communication transition")
)

// TimelineRecorder appends an event to a referral's audit trail.
type TimelineRecorder interface {
	Record(ctx context.Context, referralID uuid.UUID, eventType, actor, description string) error
}

// ContactResolver returns the recipient endpoints for a referral's referring
// provider. Implemented by the referral service; kept as a local interface so
// this package does not depend on it.
type ContactResolver interface {
	ResolveContact(ctx context.Context, referralID uuid.UUID) (Contact, error)
}

// ItemRequestMarker stamps the request time on checklist items named in an
// outbound communication.
type ItemRequestMarker interface {
	MarkRequested(ctx context.Context, referralID uuid.UUID, labels []string, at time.Time) error
}

type Service struct {
	repo     Repository
	gw       gateway.Gateway
	events   TimelineRecorder
	contacts ContactResolver
	items    ItemRequestMarker
	log      zerolog.Logger
}

func NewService(repo Repository, gw gateway.Gateway, events TimelineRecorder,
	contacts ContactResolver, items ItemRequestMarker, log zerolog.Logger) *Service {
	return &Service{repo: repo, gw: gw, events: events, contacts: contacts, items: items, log: log}
}

// SendRequest describes one outbound request for missing information.
type SendRequest struct {
	ReferralID   uuid.UUID  `json:"referral_id"`
	Channel      string     `json:"channel"`
	Initiator    string     `json:"initiator"`
	Subject      string     `json:"subject"`
	Body         string     `json:"body"`
	MissingItems []string   `json:"missing_items"`
	Strategy     string     `json:"strategy"`
	DelayDays    int        `json:"delay_days"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

// Send creates a communication and hands it to the gateway. A deferred voice
// call stays scheduled until the gateway confirms placement; everything else
// goes to awaiting on synchronous acceptance. A gateway rejection or error
// marks the record failed — there is no automatic retry.
func (s *Service) Send(ctx context.Context, req SendRequest, actor string) (*Communication, error) {
	if !validChannel(req.Channel) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidChannel, req.Channel)
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyNone
	}
	if !validStrategy(strategy) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStrategy, strategy)
	}
	if strategy != StrategyNone && req.DelayDays <= 0 {
		return nil, fmt.Errorf("delay_days must be positive when an escalation strategy is set")
	}
	contact, err := s.contacts.ResolveContact(ctx, req.ReferralID)
	if err != nil {
		return nil, err
	}
	recipient := contact.For(req.Channel)
	if recipient == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoRecipientContact, req.Channel)
	}
	initiator := req.Initiator
	if initiator == "" {
		initiator = InitiatorAI
	}

	comm := &Communication{
		ID:                  uuid.New(),
		ReferralID:          req.ReferralID,
		Channel:             req.Channel,
		Status:              StatusSent,
		Initiator:           initiator,
		Recipient:           recipient,
		Subject:             req.Subject,
		Body:                req.Body,
		MissingItems:        req.MissingItems,
		Strategy:            strategy,
		EscalationDelayDays: req.DelayDays,
		ScheduledFor:        req.ScheduledFor,
	}
	if req.Channel == ChannelVoice && req.ScheduledFor != nil {
		comm.Status = StatusScheduled
	}
	if err := s.repo.Create(ctx, comm); err != nil {
		return nil, err
	}
	if err := s.dispatch(ctx, comm); err != nil {
		return nil, err
	}
	if len(req.MissingItems) > 0 && s.items != nil {
		if err := s.items.MarkRequested(ctx, req.ReferralID, req.MissingItems, time.Now().UTC()); err != nil {
			return nil, err
		}
	}
	if err := s.events.Record(ctx, req.ReferralID, timeline.EventCommunicationSent, actor,
		fmt.Sprintf("%s sent to %s requesting: %s", comm.Channel, comm.Recipient,
			strings.Join(comm.MissingItems, ", "))); err != nil {
		return nil, err
	}
	return comm, nil
}

// dispatch hands the communication to the gateway and applies the synchronous
// outcome.
func (s *Service) dispatch(ctx context.Context, comm *Communication) error {
	cmd := gateway.Command{
		ID:              uuid.New(),
		ReferralID:      comm.ReferralID,
		CommunicationID: comm.ID,
		Recipient:       comm.Recipient,
		Subject:         comm.Subject,
		Body:            comm.Body,
		ScheduledFor:    comm.ScheduledFor,
	}
	var (
		res gateway.Result
		err error
	)
	switch comm.Channel {
	case ChannelFax:
		res, err = s.gw.SendFax(ctx, cmd)
	case ChannelVoice:
		res, err = s.gw.PlaceVoiceCall(ctx, cmd)
	case ChannelEmail:
		res, err = s.gw.SendEmail(ctx, cmd)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidChannel, comm.Channel)
	}
	if err != nil {
		reason := err.Error()
		comm.Status = StatusFailed
		comm.FailureReason = &reason
		return s.repo.Update(ctx, comm)
	}
	if !res.Accepted {
		comm.Status = StatusFailed
		comm.FailureReason = &res.Reason
		return s.repo.Update(ctx, comm)
	}
	if res.ProviderRef != "" {
		comm.GatewayRef = &res.ProviderRef
	}
	if comm.Status != StatusScheduled {
		now := time.Now().UTC()
		comm.SentAt = &now
		comm.Status = StatusAwaiting
	}
	return s.repo.Update(ctx, comm)
}

// ShouldEscalate is the escalation predicate. It reads only persisted fields
// and the supplied clock, so re-evaluating it on every scheduler tick cannot
// double-fire: once a communication leaves awaiting the predicate is false
// forever.
func ShouldEscalate(comm *Communication, now time.Time) bool {
	if comm.Status != StatusAwaiting || comm.Strategy == StrategyNone {
		return false
	}
	if comm.SentAt == nil {
		return false
	}
	return now.Sub(*comm.SentAt) >= time.Duration(comm.EscalationDelayDays)*24*time.Hour
}

// EscalateDue runs one escalation sweep: every awaiting communication whose
// delay has elapsed gets exactly one escalation step. Returns the fallback
// communications created.
func (s *Service) EscalateDue(ctx context.Context, now time.Time) ([]*Communication, error) {
	candidates, err := s.repo.ListAwaitingWithStrategy(ctx)
	if err != nil {
		return nil, err
	}
	var created []*Communication
	for _, comm := range candidates {
		if !ShouldEscalate(comm, now) {
			continue
		}
		fb, err := s.Escalate(ctx, comm.ID, now)
		if err != nil {
			s.log.Error().Err(err).
				Str("communication_id", comm.ID.String()).
				Msg("escalation step failed")
			continue
		}
		if fb != nil {
			created = append(created, fb)
		}
	}
	return created, nil
}

// Escalate performs one escalation step for the communication: the original
// becomes escalated and a new linked communication goes out on the fallback
// channel. The status guard makes the step idempotent under concurrent or
// repeated evaluation.
func (s *Service) Escalate(ctx context.Context, commID uuid.UUID, now time.Time) (*Communication, error) {
	comm, err := s.repo.GetByID(ctx, commID)
	if err != nil {
		return nil, err
	}
	if !ShouldEscalate(comm, now) {
		return nil, nil
	}
	fbChannel := FallbackChannel(comm.Strategy)
	contact, err := s.contacts.ResolveContact(ctx, comm.ReferralID)
	if err != nil {
		return nil, err
	}
	recipient := contact.For(fbChannel)
	if recipient == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoRecipientContact, fbChannel)
	}

	parentID := comm.ID
	fallback := &Communication{
		ID:           uuid.New(),
		ReferralID:   comm.ReferralID,
		ParentID:     &parentID,
		Channel:      fbChannel,
		Status:       StatusSent,
		Initiator:    InitiatorAI,
		Recipient:    recipient,
		Subject:      comm.Subject,
		Body:         comm.Body,
		MissingItems: comm.MissingItems,
		Strategy:     StrategyNone,
	}
	// A multi-fax reminder keeps the strategy so the next window can send
	// another reminder; channel-switch strategies end after one step.
	if comm.Strategy == StrategyMultiFax {
		fallback.Strategy = StrategyMultiFax
		fallback.EscalationDelayDays = comm.EscalationDelayDays
	}
	if err := s.repo.Create(ctx, fallback); err != nil {
		return nil, err
	}
	if err := s.dispatch(ctx, fallback); err != nil {
		return nil, err
	}

	comm.Status = StatusEscalated
	comm.RemindersSent++
	if err := s.repo.Update(ctx, comm); err != nil {
		return nil, err
	}
	if err := s.events.Record(ctx, comm.ReferralID, timeline.EventCommunicationEscalated, "system",
		fmt.Sprintf("no response after %d day(s); escalated %s to %s",
			comm.EscalationDelayDays, comm.Channel, fbChannel)); err != nil {
		return nil, err
	}
	return fallback, nil
}

// RecordResponse transitions an awaiting or escalated communication to
// received and closes any still-open linked attempts, which cancels their
// pending escalations.
func (s *Service) RecordResponse(ctx context.Context, commID uuid.UUID, receivedAt time.Time, actor string) (*Communication, error) {
	comm, err := s.repo.GetByID(ctx, commID)
	if err != nil {
		return nil, err
	}
	if comm.Status != StatusAwaiting && comm.Status != StatusEscalated {
		return nil, fmt.Errorf("%w: %s cannot receive a response", ErrInvalidTransition, comm.Status)
	}
	at := receivedAt.UTC()
	comm.Status = StatusReceived
	comm.ResponseReceivedAt = &at
	if err := s.repo.Update(ctx, comm); err != nil {
		return nil, err
	}
	if err := s.closeLinked(ctx, comm); err != nil {
		return nil, err
	}
	if err := s.events.Record(ctx, comm.ReferralID, timeline.EventCommunicationResponse, actor,
		fmt.Sprintf("response received on %s communication", comm.Channel)); err != nil {
		return nil, err
	}
	return comm, nil
}

// closeLinked closes the parent and child attempts of a communication that
// just received its response.
func (s *Service) closeLinked(ctx context.Context, comm *Communication) error {
	siblings, err := s.repo.ListOpenByReferral(ctx, comm.ReferralID)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		linked := (sib.ParentID != nil && *sib.ParentID == comm.ID) ||
			(comm.ParentID != nil && sib.ID == *comm.ParentID)
		if !linked {
			continue
		}
		sib.Status = StatusClosed
		if err := s.repo.Update(ctx, sib); err != nil {
			return err
		}
	}
	return nil
}

// RecordFailure transitions an open communication to failed. Delivery
// failures are surfaced for a human decision, never retried automatically.
func (s *Service) RecordFailure(ctx context.Context, commID uuid.UUID, reason string) (*Communication, error) {
	comm, err := s.repo.GetByID(ctx, commID)
	if err != nil {
		return nil, err
	}
	if !comm.Open() {
		return nil, fmt.Errorf("%w: %s cannot fail", ErrInvalidTransition, comm.Status)
	}
	comm.Status = StatusFailed
	comm.FailureReason = &reason
	if err := s.repo.Update(ctx, comm); err != nil {
		return nil, err
	}
	if err := s.events.Record(ctx, comm.ReferralID, timeline.EventCommunicationFailed, "system",
		fmt.Sprintf("%s delivery failed: %s", comm.Channel, reason)); err != nil {
		return nil, err
	}
	return comm, nil
}

// MarkSent applies a gateway placement callback for a scheduled voice call:
// the communication starts awaiting a response and its escalation window
// opens.
func (s *Service) MarkSent(ctx context.Context, commID uuid.UUID, gatewayRef string) (*Communication, error) {
	comm, err := s.repo.GetByID(ctx, commID)
	if err != nil {
		return nil, err
	}
	if comm.Status != StatusScheduled && comm.Status != StatusSent {
		return nil, fmt.Errorf("%w: %s cannot be marked sent", ErrInvalidTransition, comm.Status)
	}
	now := time.Now().UTC()
	comm.Status = StatusAwaiting
	comm.SentAt = &now
	if gatewayRef != "" {
		comm.GatewayRef = &gatewayRef
	}
	return comm, s.repo.Update(ctx, comm)
}

// CloseOpenForReferral closes every open communication on a referral. Called
// when the referral is declined or routed; closed records never escalate.
func (s *Service) CloseOpenForReferral(ctx context.Context, referralID uuid.UUID, actor string) error {
	open, err := s.repo.ListOpenByReferral(ctx, referralID)
	if err != nil {
		return err
	}
	for _, comm := range open {
		comm.Status = StatusClosed
		if err := s.repo.Update(ctx, comm); err != nil {
			return err
		}
	}
	if len(open) > 0 {
		if err := s.events.Record(ctx, referralID, timeline.EventCommunicationClosed, actor,
			fmt.Sprintf("closed %d open communication(s)", len(open))); err != nil {
			return err
		}
	}
	return nil
}

// PendingEscalations returns the communications on a referral that still have
// an escalation registered, with the time each falls due.
func (s *Service) PendingEscalations(ctx context.Context, referralID uuid.UUID) ([]PendingEscalation, error) {
	comms, err := s.repo.ListOpenByReferral(ctx, referralID)
	if err != nil {
		return nil, err
	}
	var pending []PendingEscalation
	for _, comm := range comms {
		if comm.Status != StatusAwaiting || comm.Strategy == StrategyNone || comm.SentAt == nil {
			continue
		}
		pending = append(pending, PendingEscalation{
			CommunicationID: comm.ID,
			Channel:         comm.Channel,
			Strategy:        comm.Strategy,
			DueAt:           comm.SentAt.Add(time.Duration(comm.EscalationDelayDays) * 24 * time.Hour),
		})
	}
	return pending, nil
}

// PendingEscalation is a registered no-response fallback that has not fired.
type PendingEscalation struct {
	CommunicationID uuid.UUID `json:"communication_id"`
	Channel         string    `json:"channel"`
	Strategy        string    `json:"strategy"`
	DueAt           time.Time `json:"due_at"`
}

// ListByReferral returns all communications on a referral.
func (s *Service) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Communication, error) {
	return s.repo.ListByReferral(ctx, referralID)
}

// GetByID returns one communication.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Communication, error) {
	return s.repo.GetByID(ctx, id)
}
