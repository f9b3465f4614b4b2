// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zabefest/platform/internal/metrics"
	"github.com/zabefest/platform/internal/model"
	"github.com/zabefest/platform/internal/notify"
	"github.com/zabefest/platform/internal/repository"
)

// ErrNoParticipants is returned when an application carries an empty
// participant list.
var ErrNoParticipants = errors.New("application has no participants")

// ParticipantProblem names the missing required fields for one participant
// index in an application.
type ParticipantProblem struct {
	Index         int      `json:"index"`
	MissingFields []string `json:"missingFields"`
}

// IncompleteParticipantDataError aborts an acceptance when any candidate is
// missing required fields. The whole batch is rejected; no partial commit.
type IncompleteParticipantDataError struct {
	Problems []ParticipantProblem
}

func (e *IncompleteParticipantDataError) Error() string {
	return fmt.Sprintf("incomplete participant data for %d participant(s)", len(e.Problems))
}

// CapacityReport is the Capacity Oracle's answer for one module.
type CapacityReport struct {
	Event     model.Event `json:"event"`
	Enrolled  int         `json:"enrolled"`
	Remaining int         `json:"remaining"`
}

// SubmitApplicationRequest is the payload for submitting a new application.
type SubmitApplicationRequest struct {
	ModuleTitle       string                     `json:"module_title"`
	TotalFee          float64                    `json:"total_fee"`
	ParticipationType string                     `json:"participation_type"`
	Participants      []model.ParticipantPayload `json:"participants"`
	PaymentScreenshot string                     `json:"payment_screenshot"`
	UserID            string                     `json:"-"`
}

// UpdateParticipantRequest carries the grading fields a module head or leader
// may change. Revision must match the stored row.
type UpdateParticipantRequest struct {
	Stage         string `json:"stage"`
	Grade         string `json:"grade"`
	Comments      string `json:"comments"`
	Attendance    bool   `json:"attendance"`
	ResultVisible bool   `json:"result_visible"`
	Revision      int    `json:"revision"`
}

// RegistrationService orchestrates the application lifecycle: submission,
// acceptance, rejection and the compensating participant deletion.
type RegistrationService struct {
	events        repository.EventRepository
	applications  repository.ApplicationRepository
	participants  repository.ParticipantRepository
	notifications repository.NotificationRepository
	sender        notify.Sender
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(
	events repository.EventRepository,
	applications repository.ApplicationRepository,
	participants repository.ParticipantRepository,
	notifications repository.NotificationRepository,
	sender notify.Sender,
) *RegistrationService {
	return &RegistrationService{
		events:        events,
		applications:  applications,
		participants:  participants,
		notifications: notifications,
		sender:        sender,
	}
}

// Submit stores a new Pending application after light validation. Full
// participant validation happens at accept time.
func (s *RegistrationService) Submit(ctx context.Context, req SubmitApplicationRequest) (*model.Application, error) {
	title := strings.TrimSpace(req.ModuleTitle)
	if title == "" {
		return nil, fmt.Errorf("module title is required")
	}
	if len(req.Participants) == 0 {
		return nil, ErrNoParticipants
	}

	event, err := s.events.GetByTitle(ctx, title)
	if err != nil {
		return nil, err
	}

	totalFee := req.TotalFee
	if totalFee == 0 {
		totalFee = event.ComputeFinalFee() * float64(len(req.Participants))
	}

	app := &model.Application{
		ModuleTitle:       title,
		TotalFee:          totalFee,
		ParticipationType: req.ParticipationType,
		Participants:      req.Participants,
		PaymentScreenshot: req.PaymentScreenshot,
		RegistrationToken: newRegistrationToken(),
		Status:            model.StatusPending,
		UserID:            req.UserID,
	}
	if err := s.applications.Create(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// Accept converts a Pending application into participant records under the
// module's capacity ceiling. Validation failures return before any write; the
// writes themselves are one transaction in the repository.
func (s *RegistrationService) Accept(ctx context.Context, applicationID string) (string, error) {
	app, err := s.applications.GetByID(ctx, applicationID)
	if err != nil {
		return "", err
	}
	if !app.Status.CanTransition(model.StatusAccepted) {
		return "", fmt.Errorf("application is %s: %w", app.Status, repository.ErrInvalidTransition)
	}
	if len(app.Participants) == 0 {
		return "", ErrNoParticipants
	}

	var problems []ParticipantProblem
	for i, p := range app.Participants {
		if missing := p.MissingFields(); len(missing) > 0 {
			problems = append(problems, ParticipantProblem{Index: i, MissingFields: missing})
		}
	}
	if len(problems) > 0 {
		return "", &IncompleteParticipantDataError{Problems: problems}
	}

	candidates := buildCandidates(app)
	if err := s.participants.CommitAcceptance(ctx, app, candidates); err != nil {
		var capErr *repository.CapacityExceededError
		if errors.As(err, &capErr) {
			metrics.CapacityRejections.Inc()
		}
		return "", err
	}

	metrics.ApplicationsAccepted.Inc()
	metrics.ParticipantsEnrolled.Add(float64(len(candidates)))
	return fmt.Sprintf("Application accepted; %d participant(s) enrolled in %s",
		len(candidates), strings.TrimSpace(app.ModuleTitle)), nil
}

// buildCandidates maps the application's payload into participant records,
// copying the module title, total fee and registration token.
func buildCandidates(app *model.Application) []model.Participant {
	now := time.Now().UTC()
	candidates := make([]model.Participant, 0, len(app.Participants))
	for _, p := range app.Participants {
		candidates = append(candidates, model.Participant{
			ID:                uuid.NewString(),
			ApplicationID:     app.ID,
			Name:              strings.TrimSpace(p.Name),
			RollNumber:        strings.TrimSpace(p.RollNumber),
			Email:             strings.TrimSpace(strings.ToLower(p.Email)),
			ContactNumber:     strings.TrimSpace(p.ContactNumber),
			Department:        strings.TrimSpace(p.Department),
			University:        strings.TrimSpace(p.University),
			Fee:               app.TotalFee,
			RegistrationToken: app.RegistrationToken,
			Stage:             model.StagePreQualifier,
			CreatedAt:         now,
		})
	}
	return candidates
}

// Reject flips the application to Rejected first, then notifies each unique
// participant email best-effort. Email failures never fail the call; they are
// reported in the returned EmailStatus.
func (s *RegistrationService) Reject(ctx context.Context, applicationID string) (*model.Application, model.EmailStatus, error) {
	app, err := s.applications.GetByID(ctx, applicationID)
	if err != nil {
		return nil, model.EmailStatus{}, err
	}
	if !app.Status.CanTransition(model.StatusRejected) {
		return nil, model.EmailStatus{}, fmt.Errorf("application is %s: %w", app.Status, repository.ErrInvalidTransition)
	}

	updated, err := s.applications.UpdateStatus(ctx, applicationID, app.Status, model.StatusRejected)
	if err != nil {
		return nil, model.EmailStatus{}, err
	}
	metrics.ApplicationsRejected.Inc()

	emails := updated.UniqueEmails()
	status := model.EmailStatus{TotalEmails: len(emails)}
	for _, email := range emails {
		msg := notify.RejectionMessage(email, updated)
		n := &model.Notification{
			RecipientEmail: email,
			Subject:        msg.Subject,
			Body:           msg.Body,
			Kind:           "application-rejected",
		}
		if sendErr := s.sender.Send(ctx, msg); sendErr != nil {
			status.FailedEmails++
			metrics.EmailsFailed.Inc()
			n.Status = model.NotificationFailed
			log.Printf("rejection email to %s failed: %v", email, sendErr)
		} else {
			status.SuccessfulEmails++
			metrics.EmailsSent.Inc()
			now := time.Now().UTC()
			n.Status = model.NotificationSent
			n.SentAt = &now
		}
		// Audit record; losing it must not fail the rejection.
		if createErr := s.notifications.Create(ctx, n); createErr != nil {
			log.Printf("store rejection notification for %s failed: %v", email, createErr)
		}
	}
	return updated, status, nil
}

// DeleteParticipant removes a participant and rolls the originating
// application back to Rejected atomically.
func (s *RegistrationService) DeleteParticipant(ctx context.Context, participantID string) error {
	return s.participants.DeleteWithRollback(ctx, participantID)
}

// ResolveCapacity is the Capacity Oracle: current enrolled count and ceiling
// for one module, recomputed on every call.
func (s *RegistrationService) ResolveCapacity(ctx context.Context, moduleTitle string) (*CapacityReport, error) {
	event, err := s.events.GetByTitle(ctx, moduleTitle)
	if err != nil {
		return nil, err
	}
	enrolled, err := s.events.CountEnrolled(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	return &CapacityReport{
		Event:     *event,
		Enrolled:  enrolled,
		Remaining: event.Remaining(enrolled),
	}, nil
}

// ListApplications returns applications, optionally filtered by status.
func (s *RegistrationService) ListApplications(ctx context.Context, status model.ApplicationStatus) ([]model.Application, error) {
	return s.applications.List(ctx, status)
}

// GetApplicationByToken resolves a human-shareable registration token.
func (s *RegistrationService) GetApplicationByToken(ctx context.Context, token string) (*model.Application, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, repository.ErrApplicationNotFound
	}
	return s.applications.GetByToken(ctx, token)
}

// ListParticipants returns participants, optionally filtered by module title.
func (s *RegistrationService) ListParticipants(ctx context.Context, module string) ([]model.Participant, error) {
	return s.participants.List(ctx, module)
}

// GetParticipant returns a single participant.
func (s *RegistrationService) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	return s.participants.GetByID(ctx, id)
}

// UpdateParticipant writes grading fields with a revision check.
func (s *RegistrationService) UpdateParticipant(ctx context.Context, id string, req UpdateParticipantRequest) (*model.Participant, error) {
	switch req.Stage {
	case model.StagePreQualifier, model.StageFinalRound, model.StageWinner:
	default:
		return nil, fmt.Errorf("invalid stage %q", req.Stage)
	}

	p, err := s.participants.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Stage = req.Stage
	p.Grade = req.Grade
	p.Comments = req.Comments
	p.Attendance = req.Attendance
	p.ResultVisible = req.ResultVisible
	p.Revision = req.Revision
	if err := s.participants.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// newRegistrationToken generates a short human-shareable token.
func newRegistrationToken() string {
	return "ZEF-" + strings.ToUpper(uuid.NewString()[:8])
}
