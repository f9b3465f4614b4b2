// Package notify defines the outbound notification contract and the message
// templates used by the registration workflows.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/zabefest/platform/internal/model"
)

// Message is one templated payload addressed to a single recipient.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a message to one recipient. Delivery failure is reported
// per-recipient; callers decide whether it is fatal.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the process log instead of delivering them.
// It stands in for a real mail gateway in development.
type LogSender struct{}

// Send logs the message and always succeeds.
func (LogSender) Send(_ context.Context, msg Message) error {
	log.Printf("notify: to=%s subject=%q", msg.To, msg.Subject)
	return nil
}

// RejectionMessage builds the notification sent to each applicant when their
// application is rejected.
func RejectionMessage(to string, app *model.Application) Message {
	names := make([]string, 0, len(app.Participants))
	for _, p := range app.Participants {
		if name := strings.TrimSpace(p.Name); name != "" {
			names = append(names, name)
		}
	}
	body := fmt.Sprintf(
		"Your application for %s (token %s) was not accepted.\nParticipants: %s\nPlease contact the registration team for details.",
		strings.TrimSpace(app.ModuleTitle), app.RegistrationToken, strings.Join(names, ", "),
	)
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Application update for %s", strings.TrimSpace(app.ModuleTitle)),
		Body:    body,
	}
}
