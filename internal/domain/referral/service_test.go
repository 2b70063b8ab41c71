package referral

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardia/referral-intake/internal/domain/communication"
	"github.com/cardia/referral-intake/internal/domain/completeness"
	"github.com/cardia/referral-intake/internal/domain/segmentation"
	"github.com/cardia/referral-intake/pkg/pagination"
)

type mockRepo struct {
	refs map[uuid.UUID]*Referral
	docs map[uuid.UUID][]*Document
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		refs: make(map[uuid.UUID]*Referral),
		docs: make(map[uuid.UUID][]*Document),
	}
}

func (m *mockRepo) Create(_ context.Context, r *Referral) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cp := *r
	m.refs[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Referral, error) {
	r, ok := m.refs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, r *Referral) error {
	cp := *r
	m.refs[r.ID] = &cp
	return nil
}

func (m *mockRepo) ListByStatus(_ context.Context, status string, p pagination.Params) ([]*Referral, int, error) {
	var out []*Referral
	for _, r := range m.refs {
		if r.Status == status {
			cp := *r
			out = append(out, &cp)
		}
	}
	total := len(out)
	if p.Offset >= total {
		return nil, total, nil
	}
	end := p.Offset + p.Limit
	if end > total {
		end = total
	}
	return out[p.Offset:end], total, nil
}

func (m *mockRepo) AddDocument(_ context.Context, d *Document) error {
	cp := *d
	m.docs[d.ReferralID] = append(m.docs[d.ReferralID], &cp)
	return nil
}

func (m *mockRepo) ListDocuments(_ context.Context, referralID uuid.UUID) ([]*Document, error) {
	return m.docs[referralID], nil
}

type mockChecklist struct {
	score  int
	review bool
	seeded []completeness.ItemSeed
}

func (m *mockChecklist) SeedItems(_ context.Context, referralID uuid.UUID, _ string, seeds []completeness.ItemSeed) ([]*completeness.Item, error) {
	m.seeded = append(m.seeded, seeds...)
	items := make([]*completeness.Item, len(seeds))
	for i, seed := range seeds {
		items[i] = &completeness.Item{ID: uuid.New(), ReferralID: referralID, Label: seed.Label}
	}
	return items, nil
}

func (m *mockChecklist) ScoreReferral(_ context.Context, _ uuid.UUID) (int, error) {
	return m.score, nil
}

func (m *mockChecklist) ReviewRequired(_ context.Context, _ uuid.UUID, _ int) (bool, error) {
	return m.review, nil
}

type mockComms struct {
	closedFor []uuid.UUID
	responses []uuid.UUID
	respErr   error
}

func (m *mockComms) CloseOpenForReferral(_ context.Context, referralID uuid.UUID, _ string) error {
	m.closedFor = append(m.closedFor, referralID)
	return nil
}

func (m *mockComms) RecordResponse(_ context.Context, commID uuid.UUID, _ time.Time, _ string) (*communication.Communication, error) {
	if m.respErr != nil {
		return nil, m.respErr
	}
	m.responses = append(m.responses, commID)
	return &communication.Communication{ID: commID, Status: communication.StatusReceived}, nil
}

type eventLog struct {
	types []string
}

func (e *eventLog) Record(_ context.Context, _ uuid.UUID, eventType, _, _ string) error {
	e.types = append(e.types, eventType)
	return nil
}

func newTestService() (*Service, *mockRepo, *mockChecklist, *mockComms, *eventLog) {
	repo := newMockRepo()
	checklist := &mockChecklist{score: 100}
	comms := &mockComms{}
	events := &eventLog{}
	svc := NewService(repo, checklist, comms, events, zerolog.Nop())
	return svc, repo, checklist, comms, events
}

func createTriage(t *testing.T, svc *Service) *Referral {
	t.Helper()
	ref, err := svc.Create(context.Background(), CreateRequest{
		PatientName:   "Jane Doe",
		ReferrerName:  "Dr. Smith",
		ReferrerFax:   "+14165550101",
		UrgencyRating: UrgencyUnknown,
		AIConfidence:  85,
	}, "system")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return ref
}

func TestAdvance_BlockedWhileUrgencyUnconfirmed(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ref := createTriage(t, svc)
	_, err := svc.Advance(context.Background(), ref.ID, StatusIncomplete, "human:alice", false, "")
	if !errors.Is(err, ErrUrgencyNotConfirmed) {
		t.Fatalf("expected ErrUrgencyNotConfirmed, got %v", err)
	}
}

func TestConfirmUrgency_ScenarioHumanConfirm(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ref := createTriage(t, svc)

	// Confirming the unknown rating is rejected outright.
	if _, err := svc.ConfirmUrgency(context.Background(), ref.ID, UrgencyUnknown, 0, ConfirmedByHuman, "human:alice"); !errors.Is(err, ErrUrgencyNotConfirmed) {
		t.Fatalf("expected ErrUrgencyNotConfirmed for unknown rating, got %v", err)
	}

	confirmed, err := svc.ConfirmUrgency(context.Background(), ref.ID, UrgencyUrgent, 60, ConfirmedByHuman, "human:alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if confirmed.UrgencyConfirmedBy != ConfirmedByHuman {
		t.Errorf("expected human confirmation, got %s", confirmed.UrgencyConfirmedBy)
	}

	// The gate is down; triage -> incomplete now permitted.
	advanced, err := svc.Advance(context.Background(), ref.ID, StatusIncomplete, "human:alice", false, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advanced.Status != StatusIncomplete {
		t.Errorf("expected incomplete, got %s", advanced.Status)
	}
}

func TestConfirmUrgency_AIRequiresHighConfidence(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ref := createTriage(t, svc)

	if _, err := svc.ConfirmUrgency(context.Background(), ref.ID, UrgencyUrgent, 89, ConfirmedByAI, "system"); !errors.Is(err, ErrUrgencyNotConfirmed) {
		t.Fatalf("expected rejection below the AI floor, got %v", err)
	}
	confirmed, err := svc.ConfirmUrgency(context.Background(), ref.ID, UrgencyUrgent, 90, ConfirmedByAI, "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if confirmed.UrgencyConfirmedBy != ConfirmedByAI {
		t.Errorf("expected ai confirmation, got %s", confirmed.UrgencyConfirmedBy)
	}
}

func TestConfirmUrgency_Idempotent(t *testing.T) {
	svc, _, _, _, events := newTestService()
	ref := createTriage(t, svc)

	if _, err := svc.ConfirmUrgency(context.Background(), ref.ID, UrgencyUrgent, 70, ConfirmedByHuman, "human:alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := len(events.types)
	if _, err := svc.ConfirmUrgency(context.Background(), ref.ID, UrgencyUrgent, 70, ConfirmedByHuman, "human:alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events.types) != before {
		t.Error("expected no event for re-confirming an unchanged rating")
	}
}

func TestAdvance_IncompleteReferralNeedsOverride(t *testing.T) {
	svc, _, checklist, _, _ := newTestService()
	ref := createTriage(t, svc)
	if _, err := svc.ConfirmUrgency(context.Background(), ref.ID, UrgencyNotUrgent, 80, ConfirmedByHuman, "human:alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Advance(context.Background(), ref.ID, StatusIncomplete, "human:alice", false, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Scenario: 2 of 3 required items found, score 67 — no advance without
	// an override.
	checklist.score = 67
	_, err := svc.Advance(context.Background(), ref.ID, StatusPendingReview, "human:alice", false, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected blocked advance at score 67, got %v", err)
	}

	// Override without a reason is rejected.
	if _, err := svc.Advance(context.Background(), ref.ID, StatusPendingReview, "human:alice", true, ""); !errors.Is(err, ErrOverrideReasonRequired) {
		t.Fatalf("expected ErrOverrideReasonRequired, got %v", err)
	}

	advanced, err := svc.Advance(context.Background(), ref.ID, StatusPendingReview, "human:alice", true, "specialist requested early review")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advanced.Status != StatusPendingReview {
		t.Errorf("expected pending-review, got %s", advanced.Status)
	}
}

func TestAdvance_IdempotentNoOp(t *testing.T) {
	svc, _, _, _, events := newTestService()
	ref := createTriage(t, svc)
	before := len(events.types)
	again, err := svc.Advance(context.Background(), ref.ID, StatusTriage, "human:alice", false, "")
	if err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if again.Status != StatusTriage || len(events.types) != before {
		t.Error("expected unchanged referral and no event")
	}
}

func pendingReviewReferral(t *testing.T, svc *Service) *Referral {
	t.Helper()
	ref := createTriage(t, svc)
	if _, err := svc.ConfirmUrgency(context.Background(), ref.ID, UrgencyUrgent, 95, ConfirmedByHuman, "human:alice"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	ref, err := svc.Advance(context.Background(), ref.ID, StatusPendingReview, "human:alice", false, "")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	return ref
}

func TestRouteTo_RequiresSpecialistAndPatient(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	ref := pendingReviewReferral(t, svc)

	if _, err := svc.RouteTo(context.Background(), ref.ID, uuid.Nil, "human:alice"); !errors.Is(err, ErrSpecialistRequired) {
		t.Fatalf("expected ErrSpecialistRequired, got %v", err)
	}

	specialist := uuid.New()
	if _, err := svc.RouteTo(context.Background(), ref.ID, specialist, "human:alice"); !errors.Is(err, ErrPatientNotMatched) {
		t.Fatalf("expected ErrPatientNotMatched, got %v", err)
	}

	patient := uuid.New()
	stored, _ := repo.GetByID(context.Background(), ref.ID)
	stored.PatientID = &patient
	repo.Update(context.Background(), stored)

	routed, err := svc.RouteTo(context.Background(), ref.ID, specialist, "human:alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if routed.Status != StatusRouted {
		t.Errorf("expected routed, got %s", routed.Status)
	}

	// Same specialist again: no-op. Different specialist: terminal.
	if _, err := svc.RouteTo(context.Background(), ref.ID, specialist, "human:alice"); err != nil {
		t.Errorf("expected idempotent re-route, got %v", err)
	}
	if _, err := svc.RouteTo(context.Background(), ref.ID, uuid.New(), "human:alice"); !errors.Is(err, ErrReferralTerminal) {
		t.Errorf("expected ErrReferralTerminal, got %v", err)
	}
}

func TestDecline_ClosesCommunications(t *testing.T) {
	svc, _, _, comms, events := newTestService()
	ref := createTriage(t, svc)

	if _, err := svc.Decline(context.Background(), ref.ID, "", "human:alice"); !errors.Is(err, ErrDeclineReasonRequired) {
		t.Fatalf("expected ErrDeclineReasonRequired, got %v", err)
	}

	declined, err := svc.Decline(context.Background(), ref.ID, "duplicate referral", "human:alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if declined.Status != StatusDeclined {
		t.Errorf("expected declined, got %s", declined.Status)
	}
	if len(comms.closedFor) != 1 || comms.closedFor[0] != ref.ID {
		t.Error("expected open communications closed on decline")
	}

	// Declining again is a no-op with no duplicate close.
	before := len(events.types)
	if _, err := svc.Decline(context.Background(), ref.ID, "duplicate referral", "human:alice"); err != nil {
		t.Fatalf("expected idempotent decline, got %v", err)
	}
	if len(comms.closedFor) != 1 || len(events.types) != before {
		t.Error("expected no second close or event")
	}
}

func TestDecline_RoutedIsTerminal(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	ref := pendingReviewReferral(t, svc)
	patient := uuid.New()
	stored, _ := repo.GetByID(context.Background(), ref.ID)
	stored.PatientID = &patient
	repo.Update(context.Background(), stored)
	if _, err := svc.RouteTo(context.Background(), ref.ID, uuid.New(), "human:alice"); err != nil {
		t.Fatalf("route: %v", err)
	}
	if _, err := svc.Decline(context.Background(), ref.ID, "too late", "human:alice"); !errors.Is(err, ErrReferralTerminal) {
		t.Fatalf("expected ErrReferralTerminal, got %v", err)
	}
}

func TestLock_BlocksOtherWriters(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ref := createTriage(t, svc)

	if _, err := svc.Lock(context.Background(), ref.ID, "human:alice"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	// Re-locking by the holder is a no-op; another actor conflicts.
	if _, err := svc.Lock(context.Background(), ref.ID, "human:alice"); err != nil {
		t.Errorf("expected idempotent lock, got %v", err)
	}
	if _, err := svc.Lock(context.Background(), ref.ID, "human:bob"); !errors.Is(err, ErrLockConflict) {
		t.Errorf("expected ErrLockConflict, got %v", err)
	}

	// Mutations by another actor are blocked while held.
	if _, err := svc.ConfirmUrgency(context.Background(), ref.ID, UrgencyUrgent, 95, ConfirmedByHuman, "human:bob"); !errors.Is(err, ErrLockConflict) {
		t.Errorf("expected ErrLockConflict on mutation, got %v", err)
	}

	if _, err := svc.Unlock(context.Background(), ref.ID, "human:bob"); !errors.Is(err, ErrLockConflict) {
		t.Errorf("expected only the holder to unlock, got %v", err)
	}
	if _, err := svc.Unlock(context.Background(), ref.ID, "human:alice"); err != nil {
		t.Errorf("unlock: %v", err)
	}
	if _, err := svc.ConfirmUrgency(context.Background(), ref.ID, UrgencyUrgent, 95, ConfirmedByHuman, "human:bob"); err != nil {
		t.Errorf("expected mutation after unlock, got %v", err)
	}
}

func TestCreate_SeedsChecklist(t *testing.T) {
	svc, _, checklist, _, _ := newTestService()
	_, err := svc.Create(context.Background(), CreateRequest{
		PatientName: "Jane Doe",
		Items: []completeness.ItemSeed{
			{Label: "ECG", Required: true},
			{Label: "OHIP Card", Required: true},
		},
	}, "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(checklist.seeded) != 2 {
		t.Errorf("expected 2 seeded items, got %d", len(checklist.seeded))
	}
}

func TestAttachDocument_LinksResponse(t *testing.T) {
	svc, repo, _, comms, _ := newTestService()
	ref := createTriage(t, svc)
	commID := uuid.New()

	doc, err := svc.AttachDocument(context.Background(), ref.ID, DocumentInput{
		Kind:            DocResponse,
		Name:            "faxed ECG",
		CommunicationID: &commID,
		StartPage:       1,
		EndPage:         3,
	}, "human:alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(comms.responses) != 1 || comms.responses[0] != commID {
		t.Error("expected response recorded on the requesting communication")
	}
	docs, _ := repo.ListDocuments(context.Background(), ref.ID)
	if len(docs) != 1 || docs[0].ID != doc.ID {
		t.Error("expected document persisted")
	}
}

func TestAttachDocument_LateResponseStillFiles(t *testing.T) {
	svc, repo, _, comms, _ := newTestService()
	ref := createTriage(t, svc)
	comms.respErr = communication.ErrInvalidTransition
	commID := uuid.New()

	_, err := svc.AttachDocument(context.Background(), ref.ID, DocumentInput{
		Kind:            DocResponse,
		Name:            "late reply",
		CommunicationID: &commID,
	}, "human:alice")
	if err != nil {
		t.Fatalf("expected late response to file anyway, got %v", err)
	}
	docs, _ := repo.ListDocuments(context.Background(), ref.ID)
	if len(docs) != 1 {
		t.Errorf("expected document filed, got %d", len(docs))
	}
}

func TestSplitTransmission_CreatesChildren(t *testing.T) {
	svc, repo, _, _, events := newTestService()
	ref := createTriage(t, svc)

	segments := []segmentation.Segment{
		{StartPage: 1, EndPage: 3, PatientName: "Jane Doe", DocumentType: "referral", Confidence: 92},
		{StartPage: 4, EndPage: 5, PatientName: "John Roe", DocumentType: "referral", Confidence: 88},
		{StartPage: 6, EndPage: 6, PatientName: "Mary Major", DocumentType: "ecg", Confidence: 75},
	}
	children, err := svc.SplitTransmission(context.Background(), ref.ID, segments, "human:alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	for _, child := range children {
		if child.Status != StatusTriage || child.UrgencyRating != UrgencyUnknown {
			t.Errorf("expected child back in triage with unknown urgency, got %s/%s",
				child.Status, child.UrgencyRating)
		}
		if child.ParentReferralID == nil || *child.ParentReferralID != ref.ID {
			t.Error("expected child linked to parent")
		}
		docs, _ := repo.ListDocuments(context.Background(), child.ID)
		if len(docs) != 1 || docs[0].Kind != DocOriginalReferral {
			t.Error("expected split page range filed on child")
		}
	}
	last := events.types[len(events.types)-1]
	if last != "transmission-split" {
		t.Errorf("expected transmission-split event, got %s", last)
	}
}

func TestSplitTransmission_RejectsSingleSegment(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ref := createTriage(t, svc)
	_, err := svc.SplitTransmission(context.Background(), ref.ID, []segmentation.Segment{
		{StartPage: 1, EndPage: 4, PatientName: "Jane Doe"},
	}, "human:alice")
	if err == nil {
		t.Fatal("expected error for single-segment split")
	}
}
