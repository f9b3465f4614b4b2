package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/zabefest/platform/internal/model"
	"github.com/zabefest/platform/internal/notify"
	"github.com/zabefest/platform/internal/repository"
)

// fakeSender records messages and can be told to fail for specific recipients.
type fakeSender struct {
	mu      sync.Mutex
	sent    []notify.Message
	failFor map[string]bool
}

func (f *fakeSender) Send(_ context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[msg.To] {
		return errors.New("smtp: mailbox unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func newTestRegistration(t *testing.T) (*RegistrationService, *repository.MemoryStore, *fakeSender) {
	t.Helper()
	store := repository.NewMemoryStore()
	sender := &fakeSender{failFor: map[string]bool{}}
	svc := NewRegistrationService(
		store.Events(), store.Applications(), store.Participants(), store.Notifications(), sender)
	return svc, store, sender
}

func seedEvent(t *testing.T, store *repository.MemoryStore, title string, capacity int) *model.Event {
	t.Helper()
	event := &model.Event{Title: title, Capacity: capacity, Fee: 1000}
	event.FinalFee = event.ComputeFinalFee()
	if err := store.Events().Create(context.Background(), event); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return event
}

func completeParticipant(n int) model.ParticipantPayload {
	return model.ParticipantPayload{
		Name:          fmt.Sprintf("Student %d", n),
		RollNumber:    fmt.Sprintf("ZU-%04d", n),
		Email:         fmt.Sprintf("student%d@example.com", n),
		ContactNumber: "0300-1234567",
		Department:    "CS",
		University:    "ZABIST",
	}
}

func seedApplication(t *testing.T, store *repository.MemoryStore, title string, participants ...model.ParticipantPayload) *model.Application {
	t.Helper()
	app := &model.Application{
		ModuleTitle:       title,
		TotalFee:          1000,
		Participants:      participants,
		RegistrationToken: fmt.Sprintf("ZEF-%08d", seedCounter()),
		Status:            model.StatusPending,
	}
	if err := store.Applications().Create(context.Background(), app); err != nil {
		t.Fatalf("seed application: %v", err)
	}
	return app
}

var seedSeq int

func seedCounter() int {
	seedSeq++
	return seedSeq
}

func TestAcceptHappyPath(t *testing.T) {
	svc, store, _ := newTestRegistration(t)
	ctx := context.Background()
	event := seedEvent(t, store, "Hackathon", 2)
	app := seedApplication(t, store, "Hackathon", completeParticipant(1), completeParticipant(2))

	msg, err := svc.Accept(ctx, app.ID)
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if !strings.Contains(msg, "2 participant(s)") {
		t.Errorf("unexpected message %q", msg)
	}

	stored, err := store.Applications().GetByID(ctx, app.ID)
	if err != nil {
		t.Fatalf("get application: %v", err)
	}
	if stored.Status != model.StatusAccepted {
		t.Errorf("expected Accepted, got %s", stored.Status)
	}

	participants, err := store.Participants().List(ctx, "Hackathon")
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(participants))
	}
	for _, p := range participants {
		if p.EventID != event.ID {
			t.Errorf("participant %s missing event id", p.Email)
		}
		if p.Module != "Hackathon" {
			t.Errorf("participant module %q", p.Module)
		}
		if p.RegistrationToken != app.RegistrationToken {
			t.Errorf("token not copied to participant %s", p.Email)
		}
		if p.Fee != app.TotalFee {
			t.Errorf("fee not copied to participant %s", p.Email)
		}
		if p.Stage != model.StagePreQualifier {
			t.Errorf("expected Pre-Qualifier stage, got %q", p.Stage)
		}
	}
}

func TestAcceptCapacityExceeded(t *testing.T) {
	svc, store, _ := newTestRegistration(t)
	ctx := context.Background()
	seedEvent(t, store, "Hackathon", 2)
	appA := seedApplication(t, store, "Hackathon", completeParticipant(1), completeParticipant(2))
	appB := seedApplication(t, store, "Hackathon", completeParticipant(3))

	if _, err := svc.Accept(ctx, appA.ID); err != nil {
		t.Fatalf("Accept(A) failed: %v", err)
	}

	_, err := svc.Accept(ctx, appB.ID)
	var capErr *repository.CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityExceededError, got %v", err)
	}
	if capErr.Capacity != 2 || capErr.Attempted != 3 {
		t.Errorf("expected cap=2 attempted=3, got cap=%d attempted=%d", capErr.Capacity, capErr.Attempted)
	}

	stored, _ := store.Applications().GetByID(ctx, appB.ID)
	if stored.Status != model.StatusPending {
		t.Errorf("rejected accept must leave status Pending, got %s", stored.Status)
	}
	participants, _ := store.Participants().List(ctx, "Hackathon")
	if len(participants) != 2 {
		t.Errorf("expected enrollment unchanged at 2, got %d", len(participants))
	}
}

func TestAcceptApplicationNotFound(t *testing.T) {
	svc, _, _ := newTestRegistration(t)
	if _, err := svc.Accept(context.Background(), "missing"); !errors.Is(err, repository.ErrApplicationNotFound) {
		t.Fatalf("expected ErrApplicationNotFound, got %v", err)
	}
}

func TestAcceptModuleNotFound(t *testing.T) {
	svc, store, _ := newTestRegistration(t)
	app := seedApplication(t, store, "Ghost Module", completeParticipant(1))
	if _, err := svc.Accept(context.Background(), app.ID); !errors.Is(err, repository.ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestAcceptModuleTitleTrimmedCaseInsensitive(t *testing.T) {
	svc, store, _ := newTestRegistration(t)
	ctx := context.Background()
	seedEvent(t, store, "Hackathon", 5)
	app := seedApplication(t, store, "  hAcKaThOn  ", completeParticipant(1))

	if _, err := svc.Accept(ctx, app.ID); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	participants, _ := store.Participants().List(ctx, "Hackathon")
	if len(participants) != 1 {
		t.Fatalf("expected 1 participant under canonical title, got %d", len(participants))
	}
}

func TestAcceptIncompleteDataAbortsWholeBatch(t *testing.T) {
	svc, store, _ := newTestRegistration(t)
	ctx := context.Background()
	seedEvent(t, store, "Hackathon", 10)

	payloads := []model.ParticipantPayload{
		completeParticipant(0), completeParticipant(1), completeParticipant(2),
		completeParticipant(3), completeParticipant(4),
	}
	payloads[2].RollNumber = ""
	app := seedApplication(t, store, "Hackathon", payloads...)

	_, err := svc.Accept(ctx, app.ID)
	var incomplete *IncompleteParticipantDataError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteParticipantDataError, got %v", err)
	}
	if len(incomplete.Problems) != 1 || incomplete.Problems[0].Index != 2 {
		t.Fatalf("expected problem at index 2, got %+v", incomplete.Problems)
	}
	if got := incomplete.Problems[0].MissingFields; len(got) != 1 || got[0] != "rollNumber" {
		t.Errorf("expected missing rollNumber, got %v", got)
	}

	participants, _ := store.Participants().List(ctx, "")
	if len(participants) != 0 {
		t.Errorf("no participant may be created on validation failure, got %d", len(participants))
	}
	stored, _ := store.Applications().GetByID(ctx, app.ID)
	if stored.Status != model.StatusPending {
		t.Errorf("expected Pending after failed accept, got %s", stored.Status)
	}
}

func TestAcceptUpsertsByEmail(t *testing.T) {
	svc, store, _ := newTestRegistration(t)
	ctx := context.Background()
	seedEvent(t, store, "Hackathon", 10)

	shared := completeParticipant(2)
	appA := seedApplication(t, store, "Hackathon", completeParticipant(1), shared)
	appB := seedApplication(t, store, "Hackathon", shared, completeParticipant(3))

	if _, err := svc.Accept(ctx, appA.ID); err != nil {
		t.Fatalf("Accept(A) failed: %v", err)
	}
	if _, err := svc.Accept(ctx, appB.ID); err != nil {
		t.Fatalf("Accept(B) failed: %v", err)
	}

	participants, _ := store.Participants().List(ctx, "Hackathon")
	if len(participants) != 3 {
		t.Fatalf("expected 3 distinct participants, got %d", len(participants))
	}
	var found int
	for _, p := range participants {
		if p.Email == shared.Email {
			found++
			if p.RegistrationToken != appB.RegistrationToken {
				t.Errorf("shared email must reflect the most recent acceptance")
			}
		}
	}
	if found != 1 {
		t.Errorf("expected exactly one participant for shared email, got %d", found)
	}
}

func TestAcceptTwiceIsIllegal(t *testing.T) {
	svc, store, _ := newTestRegistration(t)
	ctx := context.Background()
	seedEvent(t, store, "Hackathon", 10)
	app := seedApplication(t, store, "Hackathon", completeParticipant(1))

	if _, err := svc.Accept(ctx, app.ID); err != nil {
		t.Fatalf("first Accept failed: %v", err)
	}
	if _, err := svc.Accept(ctx, app.ID); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second accept, got %v", err)
	}
}

func TestConcurrentAcceptsNeverOverbook(t *testing.T) {
	svc, store, _ := newTestRegistration(t)
	ctx := context.Background()
	event := seedEvent(t, store, "Hackathon", 10)

	const apps = 8
	ids := make([]string, apps)
	for i := 0; i < apps; i++ {
		app := seedApplication(t, store, "Hackathon",
			completeParticipant(100+i*2), completeParticipant(101+i*2))
		ids[i] = app.ID
	}

	var wg sync.WaitGroup
	errs := make([]error, apps)
	for i := 0; i < apps; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Accept(ctx, ids[i])
		}(i)
	}
	wg.Wait()

	enrolled, _ := store.Events().CountEnrolled(ctx, event.ID)
	if enrolled > event.Capacity {
		t.Fatalf("capacity invariant violated: %d enrolled, cap %d", enrolled, event.Capacity)
	}
	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		var capErr *repository.CapacityExceededError
		if !errors.As(err, &capErr) {
			t.Errorf("unexpected accept failure: %v", err)
		}
	}
	if accepted*2 != enrolled {
		t.Errorf("accepted applications (%d) do not match enrollment (%d)", accepted, enrolled)
	}
}

func TestRejectStatusFirstEmailBestEffort(t *testing.T) {
	svc, store, sender := newTestRegistration(t)
	ctx := context.Background()
	seedEvent(t, store, "Hackathon", 10)

	p1 := completeParticipant(1)
	p2 := completeParticipant(2)
	dup := p1 // same email twice on one application
	app := seedApplication(t, store, "Hackathon", p1, p2, dup)
	sender.failFor[p2.Email] = true

	updated, emailStatus, err := svc.Reject(ctx, app.ID)
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if updated.Status != model.StatusRejected {
		t.Errorf("expected Rejected, got %s", updated.Status)
	}
	if emailStatus.TotalEmails != 2 {
		t.Errorf("expected 2 unique emails, got %d", emailStatus.TotalEmails)
	}
	if emailStatus.SuccessfulEmails != 1 || emailStatus.FailedEmails != 1 {
		t.Errorf("expected 1 success / 1 failure, got %+v", emailStatus)
	}

	// Delivery outcome is recorded per recipient.
	failed, _ := store.Notifications().ListByRecipient(ctx, p2.Email)
	if len(failed) != 1 || failed[0].Status != model.NotificationFailed {
		t.Errorf("expected one failed notification for %s, got %+v", p2.Email, failed)
	}
	ok, _ := store.Notifications().ListByRecipient(ctx, p1.Email)
	if len(ok) != 1 || ok[0].Status != model.NotificationSent {
		t.Errorf("expected one sent notification for %s, got %+v", p1.Email, ok)
	}
}

func TestRejectNotFound(t *testing.T) {
	svc, _, _ := newTestRegistration(t)
	if _, _, err := svc.Reject(context.Background(), "missing"); !errors.Is(err, repository.ErrApplicationNotFound) {
		t.Fatalf("expected ErrApplicationNotFound, got %v", err)
	}
}

func TestRejectTwiceIsIllegal(t *testing.T) {
	svc, store, _ := newTestRegistration(t)
	ctx := context.Background()
	seedEvent(t, store, "Hackathon", 10)
	app := seedApplication(t, store, "Hackathon", completeParticipant(1))

	if _, _, err := svc.Reject(ctx, app.ID); err != nil {
		t.Fatalf("first Reject failed: %v", err)
	}
	if _, _, err := svc.Reject(ctx, app.ID); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCompensatingDeleteRollsBackApplication(t *testing.T) {
	svc, store, _ := newTestRegistration(t)
	ctx := context.Background()
	event := seedEvent(t, store, "Hackathon", 2)
	app := seedApplication(t, store, "Hackathon", completeParticipant(1), completeParticipant(2))

	if _, err := svc.Accept(ctx, app.ID); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	participants, _ := store.Participants().List(ctx, "Hackathon")
	if len(participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(participants))
	}

	if err := svc.DeleteParticipant(ctx, participants[0].ID); err != nil {
		t.Fatalf("DeleteParticipant failed: %v", err)
	}

	stored, _ := store.Applications().GetByID(ctx, app.ID)
	if stored.Status != model.StatusRejected {
		t.Errorf("expected compensating rollback to Rejected, got %s", stored.Status)
	}
	enrolled, _ := store.Events().CountEnrolled(ctx, event.ID)
	if enrolled != 1 {
		t.Errorf("expected derived enrollment to self-correct to 1, got %d", enrolled)
	}
}

func TestDeleteParticipantNotFound(t *testing.T) {
	svc, _, _ := newTestRegistration(t)
	if err := svc.DeleteParticipant(context.Background(), "missing"); !errors.Is(err, repository.ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
}

func TestResolveCapacity(t *testing.T) {
	svc, store, _ := newTestRegistration(t)
	ctx := context.Background()
	seedEvent(t, store, "Hackathon", 5)
	app := seedApplication(t, store, "Hackathon", completeParticipant(1), completeParticipant(2))
	if _, err := svc.Accept(ctx, app.ID); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	report, err := svc.ResolveCapacity(ctx, "  hackathon ")
	if err != nil {
		t.Fatalf("ResolveCapacity failed: %v", err)
	}
	if report.Enrolled != 2 || report.Remaining != 3 {
		t.Errorf("expected enrolled=2 remaining=3, got %+v", report)
	}

	if _, err := svc.ResolveCapacity(ctx, "nope"); !errors.Is(err, repository.ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestSubmitApplication(t *testing.T) {
	svc, store, _ := newTestRegistration(t)
	ctx := context.Background()
	event := seedEvent(t, store, "Hackathon", 5)

	app, err := svc.Submit(ctx, SubmitApplicationRequest{
		ModuleTitle:  " Hackathon ",
		Participants: []model.ParticipantPayload{completeParticipant(1), completeParticipant(2)},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if app.Status != model.StatusPending {
		t.Errorf("expected Pending, got %s", app.Status)
	}
	if !strings.HasPrefix(app.RegistrationToken, "ZEF-") {
		t.Errorf("unexpected token %q", app.RegistrationToken)
	}
	if want := event.ComputeFinalFee() * 2; app.TotalFee != want {
		t.Errorf("expected computed fee %v, got %v", want, app.TotalFee)
	}

	fetched, err := svc.GetApplicationByToken(ctx, app.RegistrationToken)
	if err != nil {
		t.Fatalf("GetApplicationByToken failed: %v", err)
	}
	if fetched.ID != app.ID {
		t.Errorf("token lookup returned wrong application")
	}

	if _, err := svc.Submit(ctx, SubmitApplicationRequest{
		ModuleTitle:  "Ghost",
		Participants: []model.ParticipantPayload{completeParticipant(3)},
	}); !errors.Is(err, repository.ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound, got %v", err)
	}
	if _, err := svc.Submit(ctx, SubmitApplicationRequest{ModuleTitle: "Hackathon"}); !errors.Is(err, ErrNoParticipants) {
		t.Fatalf("expected ErrNoParticipants, got %v", err)
	}
}

func TestUpdateParticipantRevisionGuard(t *testing.T) {
	svc, store, _ := newTestRegistration(t)
	ctx := context.Background()
	seedEvent(t, store, "Hackathon", 5)
	app := seedApplication(t, store, "Hackathon", completeParticipant(1))
	if _, err := svc.Accept(ctx, app.ID); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	participants, _ := store.Participants().List(ctx, "")
	p := participants[0]

	updated, err := svc.UpdateParticipant(ctx, p.ID, UpdateParticipantRequest{
		Stage:    model.StageFinalRound,
		Grade:    "A",
		Revision: p.Revision,
	})
	if err != nil {
		t.Fatalf("UpdateParticipant failed: %v", err)
	}
	if updated.Stage != model.StageFinalRound || updated.Revision != p.Revision+1 {
		t.Errorf("unexpected update result %+v", updated)
	}

	// Replaying the first revision loses to the concurrent update.
	_, err = svc.UpdateParticipant(ctx, p.ID, UpdateParticipantRequest{
		Stage:    model.StageWinner,
		Revision: p.Revision,
	})
	if !errors.Is(err, repository.ErrStaleRevision) {
		t.Fatalf("expected ErrStaleRevision, got %v", err)
	}

	if _, err := svc.UpdateParticipant(ctx, p.ID, UpdateParticipantRequest{Stage: "Banana"}); err == nil {
		t.Fatal("expected invalid stage error")
	}
}
