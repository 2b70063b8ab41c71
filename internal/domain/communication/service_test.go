package communication

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardia/referral-intake/internal/platform/gateway"
)

type mockRepo struct {
	comms map[uuid.UUID]*Communication
}

func newMockRepo() *mockRepo {
	return &mockRepo{comms: make(map[uuid.UUID]*Communication)}
}

func (m *mockRepo) Create(_ context.Context, c *Communication) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	cp := *c
	m.comms[c.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Communication, error) {
	c, ok := m.comms[id]
	if !ok {
		return nil, ErrCommunicationNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, c *Communication) error {
	cp := *c
	m.comms[c.ID] = &cp
	return nil
}

func (m *mockRepo) ListByReferral(_ context.Context, referralID uuid.UUID) ([]*Communication, error) {
	var out []*Communication
	for _, c := range m.comms {
		if c.ReferralID == referralID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) ListOpenByReferral(_ context.Context, referralID uuid.UUID) ([]*Communication, error) {
	var out []*Communication
	for _, c := range m.comms {
		if c.ReferralID == referralID && c.Open() {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) ListAwaitingWithStrategy(_ context.Context) ([]*Communication, error) {
	var out []*Communication
	for _, c := range m.comms {
		if c.Status == StatusAwaiting && c.Strategy != StrategyNone && c.SentAt != nil {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

type staticContacts struct{ contact Contact }

func (s staticContacts) ResolveContact(_ context.Context, _ uuid.UUID) (Contact, error) {
	return s.contact, nil
}

type noopRecorder struct{ count int }

func (n *noopRecorder) Record(_ context.Context, _ uuid.UUID, _, _, _ string) error {
	n.count++
	return nil
}

type requestMarks struct {
	labels []string
}

func (r *requestMarks) MarkRequested(_ context.Context, _ uuid.UUID, labels []string, _ time.Time) error {
	r.labels = append(r.labels, labels...)
	return nil
}

func newTestService(contact Contact) (*Service, *mockRepo, *gateway.MemoryGateway, *noopRecorder, *requestMarks) {
	repo := newMockRepo()
	gw := gateway.NewMemoryGateway()
	rec := &noopRecorder{}
	marks := &requestMarks{}
	svc := NewService(repo, gw, rec, staticContacts{contact}, marks, zerolog.Nop())
	return svc, repo, gw, rec, marks
}

func fullContact() Contact {
	return Contact{FaxNumber: "+14165550101", Phone: "+14165550102", Email: "clinic@example.com"}
}

func TestSend_FaxGoesAwaiting(t *testing.T) {
	svc, _, gw, _, marks := newTestService(fullContact())
	comm, err := svc.Send(context.Background(), SendRequest{
		ReferralID:   uuid.New(),
		Channel:      ChannelFax,
		Subject:      "Missing items",
		Body:         "Please send the ECG.",
		MissingItems: []string{"ECG"},
		Strategy:     StrategyFaxThenVoice,
		DelayDays:    2,
	}, "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comm.Status != StatusAwaiting {
		t.Errorf("expected awaiting after synchronous accept, got %s", comm.Status)
	}
	if comm.SentAt == nil {
		t.Error("expected sent_at stamped")
	}
	if len(gw.SentOn("fax")) != 1 {
		t.Errorf("expected one fax dispatch, got %d", len(gw.SentOn("fax")))
	}
	if len(marks.labels) != 1 || marks.labels[0] != "ECG" {
		t.Errorf("expected ECG marked requested, got %v", marks.labels)
	}
}

func TestSend_MissingContactRejected(t *testing.T) {
	svc, _, gw, _, _ := newTestService(Contact{Phone: "+14165550102"})
	_, err := svc.Send(context.Background(), SendRequest{
		ReferralID: uuid.New(),
		Channel:    ChannelFax,
	}, "system")
	if !errors.Is(err, ErrNoRecipientContact) {
		t.Fatalf("expected ErrNoRecipientContact, got %v", err)
	}
	if len(gw.Sent()) != 0 {
		t.Error("expected no dispatch without a recipient")
	}
}

func TestSend_GatewayRejectionMarksFailed(t *testing.T) {
	svc, repo, gw, _, _ := newTestService(fullContact())
	gw.RejectWith("invalid fax number")
	comm, err := svc.Send(context.Background(), SendRequest{
		ReferralID: uuid.New(),
		Channel:    ChannelFax,
	}, "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), comm.ID)
	if stored.Status != StatusFailed {
		t.Errorf("expected failed, got %s", stored.Status)
	}
	if stored.FailureReason == nil || *stored.FailureReason != "invalid fax number" {
		t.Errorf("expected failure reason recorded, got %v", stored.FailureReason)
	}
	// No retry happens: the gateway saw exactly zero accepted dispatches.
	if len(gw.Sent()) != 0 {
		t.Error("expected no further attempts after rejection")
	}
}

func TestSend_ScheduledVoiceStaysScheduled(t *testing.T) {
	svc, _, _, _, _ := newTestService(fullContact())
	later := time.Now().Add(2 * time.Hour)
	comm, err := svc.Send(context.Background(), SendRequest{
		ReferralID:   uuid.New(),
		Channel:      ChannelVoice,
		ScheduledFor: &later,
	}, "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comm.Status != StatusScheduled {
		t.Errorf("expected scheduled, got %s", comm.Status)
	}
	if comm.SentAt != nil {
		t.Error("expected no sent_at until the call is placed")
	}
}

func TestMarkSent_OpensEscalationWindow(t *testing.T) {
	svc, repo, _, _, _ := newTestService(fullContact())
	later := time.Now().Add(time.Hour)
	comm, err := svc.Send(context.Background(), SendRequest{
		ReferralID:   uuid.New(),
		Channel:      ChannelVoice,
		ScheduledFor: &later,
	}, "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updated, err := svc.MarkSent(context.Background(), comm.ID, "call-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusAwaiting || updated.SentAt == nil {
		t.Errorf("expected awaiting with sent_at, got %s", updated.Status)
	}
	stored, _ := repo.GetByID(context.Background(), comm.ID)
	if stored.GatewayRef == nil || *stored.GatewayRef != "call-123" {
		t.Error("expected gateway ref persisted")
	}
}

func TestShouldEscalate(t *testing.T) {
	sent := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	comm := &Communication{
		Status:              StatusAwaiting,
		Strategy:            StrategyFaxThenVoice,
		EscalationDelayDays: 2,
		SentAt:              &sent,
	}
	if ShouldEscalate(comm, sent.Add(24*time.Hour)) {
		t.Error("must not escalate at 1 day with a 2-day delay")
	}
	if !ShouldEscalate(comm, sent.Add(48*time.Hour)) {
		t.Error("must escalate once 2 days elapsed")
	}
	comm.Status = StatusReceived
	if ShouldEscalate(comm, sent.Add(72*time.Hour)) {
		t.Error("must not escalate after leaving awaiting")
	}
	comm.Status = StatusAwaiting
	comm.Strategy = StrategyNone
	if ShouldEscalate(comm, sent.Add(72*time.Hour)) {
		t.Error("must not escalate with strategy none")
	}
}

func TestEscalateDue_FaxThenVoice(t *testing.T) {
	svc, repo, gw, _, _ := newTestService(fullContact())
	rid := uuid.New()
	comm, err := svc.Send(context.Background(), SendRequest{
		ReferralID: rid,
		Channel:    ChannelFax,
		Strategy:   StrategyFaxThenVoice,
		DelayDays:  2,
	}, "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := comm.SentAt

	// 1 day in: nothing fires.
	created, err := svc.EscalateDue(context.Background(), sent.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("expected no escalation at 1 day, got %d", len(created))
	}

	// 2 days in: exactly one voice fallback, original escalated.
	created, err = svc.EscalateDue(context.Background(), sent.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected one escalation, got %d", len(created))
	}
	fb := created[0]
	if fb.Channel != ChannelVoice {
		t.Errorf("expected voice fallback, got %s", fb.Channel)
	}
	if fb.ParentID == nil || *fb.ParentID != comm.ID {
		t.Error("expected fallback linked to original")
	}
	original, _ := repo.GetByID(context.Background(), comm.ID)
	if original.Status != StatusEscalated {
		t.Errorf("expected original escalated, got %s", original.Status)
	}
	if original.RemindersSent != 1 {
		t.Errorf("expected reminders_sent 1, got %d", original.RemindersSent)
	}
	if len(gw.SentOn("voice")) != 1 {
		t.Errorf("expected one voice dispatch, got %d", len(gw.SentOn("voice")))
	}
}

func TestEscalateDue_IdempotentUnderRepeatedTicks(t *testing.T) {
	svc, _, gw, _, _ := newTestService(fullContact())
	comm, err := svc.Send(context.Background(), SendRequest{
		ReferralID: uuid.New(),
		Channel:    ChannelFax,
		Strategy:   StrategyFaxThenVoice,
		DelayDays:  1,
	}, "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	due := comm.SentAt.Add(24 * time.Hour)
	for i := 0; i < 3; i++ {
		if _, err := svc.EscalateDue(context.Background(), due); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	if n := len(gw.SentOn("voice")); n != 1 {
		t.Errorf("expected exactly one voice fallback across repeated ticks, got %d", n)
	}
}

func TestEscalate_MultiFaxKeepsStrategy(t *testing.T) {
	svc, _, gw, _, _ := newTestService(fullContact())
	comm, err := svc.Send(context.Background(), SendRequest{
		ReferralID: uuid.New(),
		Channel:    ChannelFax,
		Strategy:   StrategyMultiFax,
		DelayDays:  3,
	}, "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	created, err := svc.EscalateDue(context.Background(), comm.SentAt.Add(72*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected one reminder, got %d", len(created))
	}
	fb := created[0]
	if fb.Channel != ChannelFax {
		t.Errorf("expected fax reminder, got %s", fb.Channel)
	}
	if fb.Strategy != StrategyMultiFax || fb.EscalationDelayDays != 3 {
		t.Error("expected reminder to keep the multi-fax strategy for the next window")
	}
	if len(gw.SentOn("fax")) != 2 {
		t.Errorf("expected original plus one reminder, got %d", len(gw.SentOn("fax")))
	}
}

func TestRecordResponse_CancelsPendingEscalation(t *testing.T) {
	svc, _, gw, _, _ := newTestService(fullContact())
	comm, err := svc.Send(context.Background(), SendRequest{
		ReferralID: uuid.New(),
		Channel:    ChannelFax,
		Strategy:   StrategyFaxThenVoice,
		DelayDays:  1,
	}, "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.RecordResponse(context.Background(), comm.ID, time.Now(), "human:alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.EscalateDue(context.Background(), comm.SentAt.Add(48*time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(gw.SentOn("voice")); n != 0 {
		t.Errorf("expected no escalation after response, got %d", n)
	}
}

func TestRecordResponse_ClosesLinkedAttempt(t *testing.T) {
	svc, repo, _, _, _ := newTestService(fullContact())
	rid := uuid.New()
	comm, err := svc.Send(context.Background(), SendRequest{
		ReferralID: rid,
		Channel:    ChannelFax,
		Strategy:   StrategyFaxThenVoice,
		DelayDays:  1,
	}, "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fb, err := svc.Escalate(context.Background(), comm.ID, comm.SentAt.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Response lands on the fallback; the escalated original closes too.
	if _, err := svc.RecordResponse(context.Background(), fb.ID, time.Now(), "system"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	original, _ := repo.GetByID(context.Background(), comm.ID)
	if original.Status != StatusClosed {
		t.Errorf("expected original closed after fallback response, got %s", original.Status)
	}
}

func TestRecordFailure_NoAutoRetry(t *testing.T) {
	svc, repo, gw, _, _ := newTestService(fullContact())
	comm, err := svc.Send(context.Background(), SendRequest{
		ReferralID: uuid.New(),
		Channel:    ChannelFax,
	}, "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dispatched := len(gw.Sent())
	failed, err := svc.RecordFailure(context.Background(), comm.ID, "line busy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failed.Status != StatusFailed {
		t.Errorf("expected failed, got %s", failed.Status)
	}
	if len(gw.Sent()) != dispatched {
		t.Error("expected no retry after delivery failure")
	}
	stored, _ := repo.GetByID(context.Background(), comm.ID)
	if stored.FailureReason == nil || *stored.FailureReason != "line busy" {
		t.Error("expected failure reason persisted")
	}
}

func TestCloseOpenForReferral_StopsEscalation(t *testing.T) {
	svc, repo, gw, _, _ := newTestService(fullContact())
	rid := uuid.New()
	var sentAt time.Time
	for i := 0; i < 2; i++ {
		comm, err := svc.Send(context.Background(), SendRequest{
			ReferralID: rid,
			Channel:    ChannelFax,
			Strategy:   StrategyFaxThenVoice,
			DelayDays:  2,
		}, "system")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sentAt = *comm.SentAt
	}

	if err := svc.CloseOpenForReferral(context.Background(), rid, "human:alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	open, _ := repo.ListOpenByReferral(context.Background(), rid)
	if len(open) != 0 {
		t.Fatalf("expected all communications closed, got %d open", len(open))
	}

	// Even past the delay, nothing fires.
	if _, err := svc.EscalateDue(context.Background(), sentAt.Add(96*time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(gw.SentOn("voice")); n != 0 {
		t.Errorf("expected no escalation for closed communications, got %d", n)
	}
}

func TestPendingEscalations(t *testing.T) {
	svc, _, _, _, _ := newTestService(fullContact())
	rid := uuid.New()
	comm, err := svc.Send(context.Background(), SendRequest{
		ReferralID: rid,
		Channel:    ChannelFax,
		Strategy:   StrategyFaxThenVoice,
		DelayDays:  2,
	}, "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Send(context.Background(), SendRequest{
		ReferralID: rid,
		Channel:    ChannelEmail,
	}, "system"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pending, err := svc.PendingEscalations(context.Background(), rid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending escalation, got %d", len(pending))
	}
	want := comm.SentAt.Add(48 * time.Hour)
	if !pending[0].DueAt.Equal(want) {
		t.Errorf("expected due at %v, got %v", want, pending[0].DueAt)
	}
}
