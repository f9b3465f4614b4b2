package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zabefest/platform/internal/model"
)

// MemoryStore is an in-memory implementation of every repository interface,
// sharing one mutex so the multi-collection transactions (CommitAcceptance,
// DeleteWithRollback) are atomic the same way the Postgres transactions are.
// It backs the workflow and handler tests; no database required.
type MemoryStore struct {
	mu            sync.Mutex
	events        map[string]model.Event
	applications  map[string]model.Application
	participants  map[string]model.Participant
	users         map[string]model.User
	notifications map[string]model.Notification
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:        make(map[string]model.Event),
		applications:  make(map[string]model.Application),
		participants:  make(map[string]model.Participant),
		users:         make(map[string]model.User),
		notifications: make(map[string]model.Notification),
	}
}

// Events returns the EventRepository view of the store.
func (s *MemoryStore) Events() EventRepository { return &memoryEvents{s} }

// Applications returns the ApplicationRepository view of the store.
func (s *MemoryStore) Applications() ApplicationRepository { return &memoryApplications{s} }

// Participants returns the ParticipantRepository view of the store.
func (s *MemoryStore) Participants() ParticipantRepository { return &memoryParticipants{s} }

// Users returns the UserRepository view of the store.
func (s *MemoryStore) Users() UserRepository { return &memoryUsers{s} }

// Notifications returns the NotificationRepository view of the store.
func (s *MemoryStore) Notifications() NotificationRepository { return &memoryNotifications{s} }

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// ─── events ──────────────────────────────────────────────────────────────────

type memoryEvents struct{ s *MemoryStore }

func (r *memoryEvents) Create(_ context.Context, event *model.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	for _, e := range r.s.events {
		if strings.EqualFold(e.Title, event.Title) {
			return ErrDuplicateKey
		}
	}
	r.s.events[event.ID] = *event
	return nil
}

func (r *memoryEvents) List(_ context.Context) ([]model.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	events := make([]model.Event, 0, len(r.s.events))
	for _, e := range r.s.events {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
	return events, nil
}

func (r *memoryEvents) GetByID(_ context.Context, id string) (*model.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return &e, nil
}

func (r *memoryEvents) GetByTitle(_ context.Context, title string) (*model.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.findEventByTitle(title)
	if !ok {
		return nil, ErrModuleNotFound
	}
	return &e, nil
}

func (s *MemoryStore) findEventByTitle(title string) (model.Event, bool) {
	trimmed := strings.TrimSpace(title)
	for _, e := range s.events {
		if strings.EqualFold(e.Title, trimmed) {
			return e, true
		}
	}
	return model.Event{}, false
}

func (r *memoryEvents) Update(_ context.Context, event *model.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.events[event.ID]; !ok {
		return ErrEventNotFound
	}
	r.s.events[event.ID] = *event
	return nil
}

func (r *memoryEvents) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.events[id]; !ok {
		return ErrEventNotFound
	}
	delete(r.s.events, id)
	return nil
}

func (r *memoryEvents) CountEnrolled(_ context.Context, eventID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.countEnrolled(eventID), nil
}

func (s *MemoryStore) countEnrolled(eventID string) int {
	count := 0
	for _, p := range s.participants {
		if p.EventID == eventID {
			count++
		}
	}
	return count
}

// ─── applications ────────────────────────────────────────────────────────────

type memoryApplications struct{ s *MemoryStore }

func (r *memoryApplications) Create(_ context.Context, app *model.Application) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.Status == "" {
		app.Status = model.StatusPending
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}
	for _, a := range r.s.applications {
		if a.RegistrationToken == app.RegistrationToken {
			return ErrDuplicateKey
		}
	}
	r.s.applications[app.ID] = *app
	return nil
}

func (r *memoryApplications) List(_ context.Context, status model.ApplicationStatus) ([]model.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	apps := make([]model.Application, 0, len(r.s.applications))
	for _, a := range r.s.applications {
		if status != "" && a.Status != status {
			continue
		}
		apps = append(apps, a)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].CreatedAt.After(apps[j].CreatedAt) })
	return apps, nil
}

func (r *memoryApplications) GetByID(_ context.Context, id string) (*model.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.applications[id]
	if !ok {
		return nil, ErrApplicationNotFound
	}
	return &a, nil
}

func (r *memoryApplications) GetByToken(_ context.Context, token string) (*model.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.applications {
		if a.RegistrationToken == token {
			return &a, nil
		}
	}
	return nil, ErrApplicationNotFound
}

func (r *memoryApplications) UpdateStatus(_ context.Context, id string, from, to model.ApplicationStatus) (*model.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.applications[id]
	if !ok {
		return nil, ErrApplicationNotFound
	}
	if a.Status != from {
		return nil, ErrInvalidTransition
	}
	a.Status = to
	a.Revision++
	r.s.applications[id] = a
	return &a, nil
}

// ─── participants ────────────────────────────────────────────────────────────

type memoryParticipants struct{ s *MemoryStore }

func (r *memoryParticipants) List(_ context.Context, module string) ([]model.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	trimmed := strings.TrimSpace(module)
	participants := make([]model.Participant, 0, len(r.s.participants))
	for _, p := range r.s.participants {
		if trimmed != "" && !strings.EqualFold(p.Module, trimmed) {
			continue
		}
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].CreatedAt.Before(participants[j].CreatedAt)
	})
	return participants, nil
}

func (r *memoryParticipants) GetByID(_ context.Context, id string) (*model.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[id]
	if !ok {
		return nil, ErrParticipantNotFound
	}
	return &p, nil
}

func (r *memoryParticipants) Update(_ context.Context, p *model.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.participants[p.ID]
	if !ok {
		return ErrParticipantNotFound
	}
	if stored.Revision != p.Revision {
		return ErrStaleRevision
	}
	stored.Stage = p.Stage
	stored.Grade = p.Grade
	stored.Comments = p.Comments
	stored.Attendance = p.Attendance
	stored.ResultVisible = p.ResultVisible
	stored.Revision++
	r.s.participants[p.ID] = stored
	p.Revision = stored.Revision
	return nil
}

func (r *memoryParticipants) CommitAcceptance(_ context.Context, app *model.Application, candidates []model.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	event, ok := r.s.findEventByTitle(app.ModuleTitle)
	if !ok {
		return ErrModuleNotFound
	}

	enrolled := r.s.countEnrolled(event.ID)
	attempted := enrolled + len(candidates)
	if attempted > event.Capacity {
		return &CapacityExceededError{Capacity: event.Capacity, Attempted: attempted}
	}

	stored, ok := r.s.applications[app.ID]
	if !ok {
		return ErrApplicationNotFound
	}
	if stored.Status != model.StatusPending {
		return ErrInvalidTransition
	}

	title := strings.TrimSpace(app.ModuleTitle)
	for i := range candidates {
		c := candidates[i]
		c.EventID = event.ID
		c.Module = title
		// Overwrite the existing row when the email is already enrolled,
		// keeping its id and grading fields like the SQL upsert does.
		if existing, found := r.s.findParticipantByEmail(c.Email); found {
			c.ID = existing.ID
			c.Stage = existing.Stage
			c.Grade = existing.Grade
			c.Comments = existing.Comments
			c.Attendance = existing.Attendance
			c.ResultVisible = existing.ResultVisible
			c.Revision = existing.Revision + 1
			c.CreatedAt = existing.CreatedAt
		}
		r.s.participants[c.ID] = c
	}

	stored.Status = model.StatusAccepted
	stored.Revision++
	r.s.applications[app.ID] = stored
	return nil
}

func (s *MemoryStore) findParticipantByEmail(email string) (model.Participant, bool) {
	needle := normalizeEmail(email)
	for _, p := range s.participants {
		if normalizeEmail(p.Email) == needle {
			return p, true
		}
	}
	return model.Participant{}, false
}

func (r *memoryParticipants) DeleteWithRollback(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[id]
	if !ok {
		return ErrParticipantNotFound
	}
	delete(r.s.participants, id)
	if p.ApplicationID != "" {
		if app, found := r.s.applications[p.ApplicationID]; found && app.Status != model.StatusRejected {
			app.Status = model.StatusRejected
			app.Revision++
			r.s.applications[p.ApplicationID] = app
		}
	}
	return nil
}

// ─── users ───────────────────────────────────────────────────────────────────

type memoryUsers struct{ s *MemoryStore }

func (r *memoryUsers) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Email = normalizeEmail(user.Email)
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return ErrDuplicateKey
		}
	}
	r.s.users[user.ID] = *user
	return nil
}

func (r *memoryUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	needle := normalizeEmail(email)
	for _, u := range r.s.users {
		if u.Email == needle {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memoryUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (r *memoryUsers) ListByRole(_ context.Context, role string) ([]model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var users []model.User
	for _, u := range r.s.users {
		if u.Role == role {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (r *memoryUsers) Count(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.users), nil
}

// ─── notifications ───────────────────────────────────────────────────────────

type memoryNotifications struct{ s *MemoryStore }

func (r *memoryNotifications) Create(_ context.Context, n *model.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = model.NotificationPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.RecipientEmail = normalizeEmail(n.RecipientEmail)
	r.s.notifications[n.ID] = *n
	return nil
}

func (r *memoryNotifications) GetByID(_ context.Context, id string) (*model.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.notifications[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	return &n, nil
}

func (r *memoryNotifications) ListByRecipient(_ context.Context, email string) ([]model.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	needle := normalizeEmail(email)
	var notifications []model.Notification
	for _, n := range r.s.notifications {
		if n.RecipientEmail == needle {
			notifications = append(notifications, n)
		}
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	return notifications, nil
}

func (r *memoryNotifications) MarkDelivery(_ context.Context, id, status string, sentAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.Status = status
	n.SentAt = &sentAt
	r.s.notifications[id] = n
	return nil
}
