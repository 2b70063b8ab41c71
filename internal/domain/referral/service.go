package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardia/referral-intake/internal/domain/communication"
	"github.com/cardia/referral-intake/internal/domain/completeness"
	"github.com/cardia/referral-intake/internal/domain/segmentation"
	"github.com/cardia/referral-intake/internal/domain/timeline"
	"github.com/cardia/referral-intake/pkg/pagination"
)

// TimelineRecorder appends an event to a referral's audit trail.
type TimelineRecorder interface {
	Record(ctx context.Context, referralID uuid.UUID, eventType, actor, description string) error
}

// Checklist is the slice of the completeness service the state machine needs.
type Checklist interface {
	SeedItems(ctx context.Context, referralID uuid.UUID, actor string, seeds []completeness.ItemSeed) ([]*completeness.Item, error)
	ScoreReferral(ctx context.Context, referralID uuid.UUID) (int, error)
	ReviewRequired(ctx context.Context, referralID uuid.UUID, aiConfidence int) (bool, error)
}

// Communications is the slice of the orchestrator the state machine needs:
// closing open requests on decline and linking inbound documents to the
// request that asked for them.
type Communications interface {
	CloseOpenForReferral(ctx context.Context, referralID uuid.UUID, actor string) error
	RecordResponse(ctx context.Context, commID uuid.UUID, receivedAt time.Time, actor string) (*communication.Communication, error)
}

type Service struct {
	repo      Repository
	checklist Checklist
	comms     Communications
	events    TimelineRecorder
	log       zerolog.Logger
}

func NewService(repo Repository, checklist Checklist, comms Communications,
	events TimelineRecorder, log zerolog.Logger) *Service {
	return &Service{repo: repo, checklist: checklist, comms: comms, events: events, log: log}
}

// CreateRequest carries the intake classifier's output for a new referral.
type CreateRequest struct {
	PatientID         *uuid.UUID              `json:"patient_id,omitempty"`
	PatientName       string                  `json:"patient_name"`
	ReferrerName      string                  `json:"referrer_name"`
	ReferrerFax       string                  `json:"referrer_fax,omitempty"`
	ReferrerPhone     string                  `json:"referrer_phone,omitempty"`
	ReferrerEmail     string                  `json:"referrer_email,omitempty"`
	UrgencyRating     string                  `json:"urgency_rating"`
	UrgencyConfidence int                     `json:"urgency_confidence"`
	AIConfidence      int                     `json:"ai_confidence"`
	Items             []completeness.ItemSeed `json:"items,omitempty"`
}

// Create opens a referral in triage with its classifier-seeded checklist.
func (s *Service) Create(ctx context.Context, req CreateRequest, actor string) (*Referral, error) {
	if req.PatientName == "" {
		return nil, fmt.Errorf("patient_name is required")
	}
	urgency := req.UrgencyRating
	if urgency == "" {
		urgency = UrgencyUnknown
	}
	if !validUrgency(urgency) {
		return nil, fmt.Errorf("invalid urgency rating: %s", urgency)
	}
	ref := &Referral{
		ID:                 uuid.New(),
		PatientID:          req.PatientID,
		PatientName:        req.PatientName,
		ReferrerName:       req.ReferrerName,
		ReferrerFax:        req.ReferrerFax,
		ReferrerPhone:      req.ReferrerPhone,
		ReferrerEmail:      req.ReferrerEmail,
		Status:             StatusTriage,
		UrgencyRating:      urgency,
		UrgencyConfidence:  req.UrgencyConfidence,
		UrgencyConfirmedBy: ConfirmedByNone,
		AIConfidence:       req.AIConfidence,
	}
	if err := s.repo.Create(ctx, ref); err != nil {
		return nil, err
	}
	if len(req.Items) > 0 {
		if _, err := s.checklist.SeedItems(ctx, ref.ID, actor, req.Items); err != nil {
			return nil, err
		}
	}
	if err := s.events.Record(ctx, ref.ID, timeline.EventStatusChanged, actor,
		"referral created in triage"); err != nil {
		return nil, err
	}
	return ref, nil
}

// ConfirmUrgency satisfies the triage gate. A human may confirm any rating;
// an AI confirmation only counts when the urgency confidence is at least 90.
// Re-confirming an unchanged rating is a no-op.
func (s *Service) ConfirmUrgency(ctx context.Context, id uuid.UUID, rating string, confidence int, confirmedBy, actor string) (*Referral, error) {
	if rating != UrgencyUrgent && rating != UrgencyNotUrgent {
		return nil, fmt.Errorf("%w: cannot confirm rating %q", ErrUrgencyNotConfirmed, rating)
	}
	if confirmedBy != ConfirmedByAI && confirmedBy != ConfirmedByHuman {
		return nil, fmt.Errorf("invalid confirmer: %s", confirmedBy)
	}
	if confirmedBy == ConfirmedByAI && confidence < aiConfirmFloor {
		return nil, fmt.Errorf("%w: ai confidence %d below %d", ErrUrgencyNotConfirmed, confidence, aiConfirmFloor)
	}
	ref, err := s.loadForWrite(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if ref.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrReferralTerminal, ref.Status)
	}
	if ref.UrgencyConfirmed() && ref.UrgencyRating == rating {
		return ref, nil
	}
	ref.UrgencyRating = rating
	ref.UrgencyConfidence = confidence
	ref.UrgencyConfirmedBy = confirmedBy
	if err := s.repo.Update(ctx, ref); err != nil {
		return nil, err
	}
	if err := s.events.Record(ctx, ref.ID, timeline.EventUrgencyConfirmed, actor,
		fmt.Sprintf("urgency confirmed %s by %s", rating, confirmedBy)); err != nil {
		return nil, err
	}
	return ref, nil
}

// Advance moves a referral forward through triage → incomplete →
// pending-review. Re-issuing a transition the referral has already made is a
// no-op, not an error.
func (s *Service) Advance(ctx context.Context, id uuid.UUID, to, actor string, override bool, overrideReason string) (*Referral, error) {
	if !validStatus(to) {
		return nil, fmt.Errorf("invalid status: %s", to)
	}
	ref, err := s.loadForWrite(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if ref.Status == to {
		return ref, nil
	}
	if ref.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrReferralTerminal, ref.Status)
	}

	switch {
	case ref.Status == StatusTriage && to == StatusIncomplete:
		if !ref.UrgencyConfirmed() {
			return nil, ErrUrgencyNotConfirmed
		}
	case ref.Status == StatusTriage && to == StatusPendingReview:
		if !ref.UrgencyConfirmed() {
			return nil, ErrUrgencyNotConfirmed
		}
		if err := s.checkComplete(ctx, ref.ID, override, overrideReason); err != nil {
			return nil, err
		}
	case ref.Status == StatusIncomplete && to == StatusPendingReview:
		if err := s.checkComplete(ctx, ref.ID, override, overrideReason); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ref.Status, to)
	}

	from := ref.Status
	ref.Status = to
	if err := s.repo.Update(ctx, ref); err != nil {
		return nil, err
	}
	desc := fmt.Sprintf("status changed %s -> %s", from, to)
	if override {
		desc += fmt.Sprintf(" (override: %s)", overrideReason)
	}
	if err := s.events.Record(ctx, ref.ID, timeline.EventStatusChanged, actor, desc); err != nil {
		return nil, err
	}
	return ref, nil
}

// checkComplete enforces the completeness gate: score 100, or an explicit
// human override with a recorded reason.
func (s *Service) checkComplete(ctx context.Context, id uuid.UUID, override bool, reason string) error {
	if override {
		if reason == "" {
			return ErrOverrideReasonRequired
		}
		return nil
	}
	score, err := s.checklist.ScoreReferral(ctx, id)
	if err != nil {
		return err
	}
	if score < 100 {
		return fmt.Errorf("%w: completeness score %d, override required", ErrInvalidTransition, score)
	}
	return nil
}

// RouteTo assigns a specialist and closes the referral as routed. The
// referral must carry a matched patient so the chart link is unambiguous.
func (s *Service) RouteTo(ctx context.Context, id, specialistID uuid.UUID, actor string) (*Referral, error) {
	if specialistID == uuid.Nil {
		return nil, ErrSpecialistRequired
	}
	ref, err := s.loadForWrite(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if ref.Status == StatusRouted {
		if ref.AssignedSpecialistID != nil && *ref.AssignedSpecialistID == specialistID {
			return ref, nil
		}
		return nil, fmt.Errorf("%w: already routed", ErrReferralTerminal)
	}
	if ref.Status == StatusDeclined {
		return nil, fmt.Errorf("%w: declined", ErrReferralTerminal)
	}
	if ref.Status != StatusPendingReview {
		return nil, fmt.Errorf("%w: %s -> routed", ErrInvalidTransition, ref.Status)
	}
	if ref.PatientID == nil {
		return nil, ErrPatientNotMatched
	}
	ref.AssignedSpecialistID = &specialistID
	ref.Status = StatusRouted
	if err := s.repo.Update(ctx, ref); err != nil {
		return nil, err
	}
	if err := s.events.Record(ctx, ref.ID, timeline.EventReferralRouted, actor,
		fmt.Sprintf("routed to specialist %s", specialistID)); err != nil {
		return nil, err
	}
	return ref, nil
}

// Decline closes the referral from any non-terminal state. Open
// communications close with it, which cancels their pending escalations.
func (s *Service) Decline(ctx context.Context, id uuid.UUID, reason, actor string) (*Referral, error) {
	if reason == "" {
		return nil, ErrDeclineReasonRequired
	}
	ref, err := s.loadForWrite(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if ref.Status == StatusDeclined {
		return ref, nil
	}
	if ref.Status == StatusRouted {
		return nil, fmt.Errorf("%w: routed", ErrReferralTerminal)
	}
	ref.Status = StatusDeclined
	ref.DeclineReason = &reason
	if err := s.repo.Update(ctx, ref); err != nil {
		return nil, err
	}
	if err := s.comms.CloseOpenForReferral(ctx, ref.ID, actor); err != nil {
		return nil, err
	}
	if err := s.events.Record(ctx, ref.ID, timeline.EventReferralDeclined, actor,
		fmt.Sprintf("declined: %s", reason)); err != nil {
		return nil, err
	}
	return ref, nil
}

// Lock takes the single-writer lock on a referral. Locking a referral you
// already hold is a no-op.
func (s *Service) Lock(ctx context.Context, id uuid.UUID, actor string) (*Referral, error) {
	ref, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ref.LockedBy != nil {
		if *ref.LockedBy == actor {
			return ref, nil
		}
		return nil, fmt.Errorf("%w: held by %s", ErrLockConflict, *ref.LockedBy)
	}
	ref.LockedBy = &actor
	if err := s.repo.Update(ctx, ref); err != nil {
		return nil, err
	}
	if err := s.events.Record(ctx, ref.ID, timeline.EventReferralLocked, actor, "lock taken"); err != nil {
		return nil, err
	}
	return ref, nil
}

// Unlock releases the lock. Only the holder may release it.
func (s *Service) Unlock(ctx context.Context, id uuid.UUID, actor string) (*Referral, error) {
	ref, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ref.LockedBy == nil {
		return ref, nil
	}
	if *ref.LockedBy != actor {
		return nil, fmt.Errorf("%w: held by %s", ErrLockConflict, *ref.LockedBy)
	}
	ref.LockedBy = nil
	if err := s.repo.Update(ctx, ref); err != nil {
		return nil, err
	}
	if err := s.events.Record(ctx, ref.ID, timeline.EventReferralUnlocked, actor, "lock released"); err != nil {
		return nil, err
	}
	return ref, nil
}

// DocumentInput describes a document to attach.
type DocumentInput struct {
	Kind            string     `json:"kind"`
	Name            string     `json:"name"`
	CommunicationID *uuid.UUID `json:"communication_id,omitempty"`
	StartPage       int        `json:"start_page"`
	EndPage         int        `json:"end_page"`
}

// AttachDocument files a document against the referral. A document that
// answers an outbound request records the response on that communication; a
// late response to an already-closed request still files for audit.
func (s *Service) AttachDocument(ctx context.Context, id uuid.UUID, input DocumentInput, actor string) (*Document, error) {
	if !validDocKind(input.Kind) {
		return nil, fmt.Errorf("invalid document kind: %s", input.Kind)
	}
	ref, err := s.loadForWrite(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	doc := &Document{
		ID:              uuid.New(),
		ReferralID:      ref.ID,
		Kind:            input.Kind,
		Name:            input.Name,
		CommunicationID: input.CommunicationID,
		StartPage:       input.StartPage,
		EndPage:         input.EndPage,
	}
	if err := s.repo.AddDocument(ctx, doc); err != nil {
		return nil, err
	}
	if input.CommunicationID != nil {
		_, err := s.comms.RecordResponse(ctx, *input.CommunicationID, time.Now().UTC(), actor)
		if err != nil && !errors.Is(err, communication.ErrInvalidTransition) {
			return nil, err
		}
		if err != nil {
			s.log.Warn().Err(err).
				Str("communication_id", input.CommunicationID.String()).
				Msg("document answers a communication that is no longer open")
		}
	}
	if err := s.events.Record(ctx, ref.ID, timeline.EventDocumentAttached, actor,
		fmt.Sprintf("%s document attached: %s", doc.Kind, doc.Name)); err != nil {
		return nil, err
	}
	return doc, nil
}

// SplitTransmission turns a multi-segment fax into separate referrals: the
// original keeps the first segment, each later segment becomes a child
// referral starting over in triage with unknown urgency.
func (s *Service) SplitTransmission(ctx context.Context, id uuid.UUID, segments []segmentation.Segment, actor string) ([]*Referral, error) {
	if len(segments) < 2 {
		return nil, fmt.Errorf("split requires at least two segments")
	}
	parent, err := s.loadForWrite(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if parent.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrReferralTerminal, parent.Status)
	}

	var children []*Referral
	for _, seg := range segments[1:] {
		name := seg.PatientName
		if name == "" {
			name = parent.PatientName
		}
		child := &Referral{
			ID:                 uuid.New(),
			ParentReferralID:   &parent.ID,
			PatientName:        name,
			ReferrerName:       parent.ReferrerName,
			ReferrerFax:        parent.ReferrerFax,
			ReferrerPhone:      parent.ReferrerPhone,
			ReferrerEmail:      parent.ReferrerEmail,
			Status:             StatusTriage,
			UrgencyRating:      UrgencyUnknown,
			UrgencyConfirmedBy: ConfirmedByNone,
			AIConfidence:       seg.Confidence,
		}
		if err := s.repo.Create(ctx, child); err != nil {
			return nil, err
		}
		if err := s.repo.AddDocument(ctx, &Document{
			ID:         uuid.New(),
			ReferralID: child.ID,
			Kind:       DocOriginalReferral,
			Name:       fmt.Sprintf("split pages %d-%d", seg.StartPage, seg.EndPage),
			StartPage:  seg.StartPage,
			EndPage:    seg.EndPage,
		}); err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if err := s.events.Record(ctx, parent.ID, timeline.EventTransmissionSplit, actor,
		fmt.Sprintf("transmission split into %d referrals", len(segments))); err != nil {
		return nil, err
	}
	return children, nil
}

// Get returns one referral.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByStatus returns one worklist page plus the total count.
func (s *Service) ListByStatus(ctx context.Context, status string, p pagination.Params) ([]*Referral, int, error) {
	if !validStatus(status) {
		return nil, 0, fmt.Errorf("invalid status: %s", status)
	}
	return s.repo.ListByStatus(ctx, status, p)
}

// ListDocuments returns the documents filed against a referral.
func (s *Service) ListDocuments(ctx context.Context, id uuid.UUID) ([]*Document, error) {
	return s.repo.ListDocuments(ctx, id)
}

// ReviewRequired reports whether the manual-review gate is up for a referral.
func (s *Service) ReviewRequired(ctx context.Context, id uuid.UUID) (bool, error) {
	ref, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return s.checklist.ReviewRequired(ctx, ref.ID, ref.AIConfidence)
}

// loadForWrite fetches a referral and enforces the single-writer lock for a
// mutating command.
func (s *Service) loadForWrite(ctx context.Context, id uuid.UUID, actor string) (*Referral, error) {
	ref, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ref.LockedBy != nil && *ref.LockedBy != actor {
		return nil, fmt.Errorf("%w: held by %s", ErrLockConflict, *ref.LockedBy)
	}
	return ref, nil
}

// ContactSource exposes a referral's referrer endpoints to the communication
// orchestrator.
type ContactSource struct {
	repo Repository
}

func NewContactSource(repo Repository) *ContactSource {
	return &ContactSource{repo: repo}
}

func (cs *ContactSource) ResolveContact(ctx context.Context, referralID uuid.UUID) (communication.Contact, error) {
	ref, err := cs.repo.GetByID(ctx, referralID)
	if err != nil {
		return communication.Contact{}, err
	}
	return communication.Contact{
		FaxNumber: ref.ReferrerFax,
		Phone:     ref.ReferrerPhone,
		Email:     ref.ReferrerEmail,
	}, nil
}
