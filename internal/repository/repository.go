// Package repository implements persistence for the registration platform.
// Interfaces front the pgx implementations so workflows can be exercised
// against in-memory stores in tests.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zabefest/platform/internal/model"
)

// Sentinel errors surfaced to the service and handler layers.
var (
	ErrEventNotFound        = errors.New("event not found")
	ErrModuleNotFound       = errors.New("module not found")
	ErrApplicationNotFound  = errors.New("application not found")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrDuplicateKey reports a uniqueness violation the upsert path could not
	// resolve (e.g. a registration token collision).
	ErrDuplicateKey = errors.New("duplicate key conflict")

	// ErrInvalidTransition reports a guarded status change that is not legal
	// from the application's current state.
	ErrInvalidTransition = errors.New("illegal application status transition")

	// ErrStaleRevision reports a conditional update that lost to a concurrent
	// writer.
	ErrStaleRevision = errors.New("stale revision")
)

// CapacityExceededError reports an acceptance that would overbook a module.
type CapacityExceededError struct {
	Capacity  int
	Attempted int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("module capacity exceeded: capacity %d, attempted total %d", e.Capacity, e.Attempted)
}

// EventRepository persists events (modules).
type EventRepository interface {
	Create(ctx context.Context, event *model.Event) error
	List(ctx context.Context) ([]model.Event, error)
	GetByID(ctx context.Context, id string) (*model.Event, error)
	// GetByTitle matches the trimmed title case-insensitively and returns
	// ErrModuleNotFound when no event matches.
	GetByTitle(ctx context.Context, title string) (*model.Event, error)
	Update(ctx context.Context, event *model.Event) error
	Delete(ctx context.Context, id string) error
	// CountEnrolled derives the current enrolled count on demand; it is never
	// cached because capacity and enrollment are both mutable.
	CountEnrolled(ctx context.Context, eventID string) (int, error)
}

// ApplicationRepository persists registration applications.
type ApplicationRepository interface {
	Create(ctx context.Context, app *model.Application) error
	// List returns applications, optionally filtered by status ("" for all).
	List(ctx context.Context, status model.ApplicationStatus) ([]model.Application, error)
	GetByID(ctx context.Context, id string) (*model.Application, error)
	GetByToken(ctx context.Context, token string) (*model.Application, error)
	// UpdateStatus performs a guarded transition: the update only applies when
	// the stored status still equals from, so concurrent flips cannot produce
	// an illegal transition. Returns the updated application.
	UpdateStatus(ctx context.Context, id string, from, to model.ApplicationStatus) (*model.Application, error)
}

// ParticipantRepository persists enrolled participants and owns the two
// multi-document transactions of the acceptance lifecycle.
type ParticipantRepository interface {
	// List returns participants, optionally filtered by module title ("" for all).
	List(ctx context.Context, module string) ([]model.Participant, error)
	GetByID(ctx context.Context, id string) (*model.Participant, error)
	// Update writes grading fields with a revision check; ErrStaleRevision on
	// a lost update.
	Update(ctx context.Context, p *model.Participant) error
	// CommitAcceptance runs the whole acceptance write path in one transaction:
	// lock the event row, re-derive the enrolled count, enforce the capacity
	// ceiling, upsert every candidate keyed by email, and flip the application
	// to Accepted. Either everything commits or nothing does.
	CommitAcceptance(ctx context.Context, app *model.Application, candidates []model.Participant) error
	// DeleteWithRollback deletes a participant and, when it references its
	// originating application, rolls that application back to Rejected in the
	// same transaction.
	DeleteWithRollback(ctx context.Context, id string) error
}

// UserRepository persists platform accounts.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	ListByRole(ctx context.Context, role string) ([]model.User, error)
	Count(ctx context.Context) (int, error)
}

// NotificationRepository persists fan-out messages and their delivery state.
type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error
	GetByID(ctx context.Context, id string) (*model.Notification, error)
	ListByRecipient(ctx context.Context, email string) ([]model.Notification, error)
	MarkDelivery(ctx context.Context, id, status string, sentAt time.Time) error
}
