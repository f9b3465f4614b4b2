package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zabefest/platform/internal/metrics"
	"github.com/zabefest/platform/internal/model"
	"github.com/zabefest/platform/internal/notify"
	"github.com/zabefest/platform/internal/queue"
	"github.com/zabefest/platform/internal/repository"
)

// BroadcastRequest is the payload for fanning a message out to recipients.
// Either Role or Emails must be set; Role expands to every account holding it.
type BroadcastRequest struct {
	Role    string   `json:"role"`
	Emails  []string `json:"emails"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	Kind    string   `json:"kind"`
}

// NotificationService persists fan-out messages and hands delivery to the
// worker via the job queue.
type NotificationService struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	sender        notify.Sender
	jobs          queue.Queue
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(
	notifications repository.NotificationRepository,
	users repository.UserRepository,
	sender notify.Sender,
	jobs queue.Queue,
) *NotificationService {
	return &NotificationService{notifications: notifications, users: users, sender: sender, jobs: jobs}
}

// Broadcast persists one pending notification per recipient and enqueues a
// delivery job for each. Queue publish failures are logged, not returned; the
// rows stay pending and can be re-driven.
func (s *NotificationService) Broadcast(ctx context.Context, req BroadcastRequest) (int, error) {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return 0, fmt.Errorf("subject is required")
	}

	emails := req.Emails
	if req.Role != "" {
		users, err := s.users.ListByRole(ctx, req.Role)
		if err != nil {
			return 0, err
		}
		for _, u := range users {
			emails = append(emails, u.Email)
		}
	}
	seen := make(map[string]struct{}, len(emails))
	queued := 0
	for _, email := range emails {
		email = strings.TrimSpace(strings.ToLower(email))
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}

		n := &model.Notification{
			RecipientEmail: email,
			Subject:        subject,
			Body:           req.Body,
			Kind:           req.Kind,
			Status:         model.NotificationPending,
		}
		if err := s.notifications.Create(ctx, n); err != nil {
			return queued, err
		}
		if err := s.jobs.Publish(ctx, queue.Job{NotificationID: n.ID}); err != nil {
			log.Printf("queue publish for notification %s failed: %v", n.ID, err)
			continue
		}
		queued++
	}
	if queued == 0 && len(seen) == 0 {
		return 0, fmt.Errorf("no recipients")
	}
	return queued, nil
}

// ListByRecipient returns a recipient's notifications.
func (s *NotificationService) ListByRecipient(ctx context.Context, email string) ([]model.Notification, error) {
	return s.notifications.ListByRecipient(ctx, email)
}

// Deliver sends one queued notification and records the outcome. Called by
// the worker for each consumed job. Already-sent rows are skipped so redelivery
// of a job is harmless.
func (s *NotificationService) Deliver(ctx context.Context, notificationID string) error {
	n, err := s.notifications.GetByID(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.Status == model.NotificationSent {
		return nil
	}

	msg := notify.Message{To: n.RecipientEmail, Subject: n.Subject, Body: n.Body}
	now := time.Now().UTC()
	if sendErr := s.sender.Send(ctx, msg); sendErr != nil {
		metrics.EmailsFailed.Inc()
		if markErr := s.notifications.MarkDelivery(ctx, n.ID, model.NotificationFailed, now); markErr != nil {
			return markErr
		}
		return fmt.Errorf("deliver notification %s: %w", n.ID, sendErr)
	}
	metrics.EmailsSent.Inc()
	return s.notifications.MarkDelivery(ctx, n.ID, model.NotificationSent, now)
}
