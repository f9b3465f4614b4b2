// Package model defines the core domain types for the event registration platform.
package model

import (
	"strings"
	"time"
)

// ApplicationStatus is the lifecycle state of a registration application.
type ApplicationStatus string

const (
	StatusPending  ApplicationStatus = "Pending"
	StatusAccepted ApplicationStatus = "Accepted"
	StatusRejected ApplicationStatus = "Rejected"
)

// CanTransition reports whether moving from s to next is a legal status change.
// Allowed: Pending→Accepted, Pending→Rejected and Accepted→Rejected (the
// compensating rollback performed when an enrolled participant is deleted).
func (s ApplicationStatus) CanTransition(next ApplicationStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusAccepted || next == StatusRejected
	case StatusAccepted:
		return next == StatusRejected
	default:
		return false
	}
}

// Competition stages a participant moves through.
const (
	StagePreQualifier = "Pre-Qualifier"
	StageFinalRound   = "Final Round"
	StageWinner       = "Winner"
)

// User roles.
const (
	RoleAdmin            = "admin"
	RoleRegistrationTeam = "registration-team"
	RoleModuleHead       = "module-head"
	RoleModuleLeader     = "module-leader"
	RoleParticipant      = "participant"
)

// Event represents a bookable module with a capacity ceiling.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
	Location    string    `json:"location"`
	Capacity    int       `json:"capacity"`
	HeadID      string    `json:"head_id"`
	LeaderID    string    `json:"leader_id"`
	Fee         float64   `json:"fee"`
	Discount    float64   `json:"discount"`
	FinalFee    float64   `json:"final_fee"`
	CreatedAt   time.Time `json:"created_at"`
}

// ComputeFinalFee derives the discounted fee. Discount is a percentage.
func (e *Event) ComputeFinalFee() float64 {
	return e.Fee - e.Fee*e.Discount/100
}

// Remaining returns the number of seats left given the current enrolled count.
func (e *Event) Remaining(enrolled int) int {
	return e.Capacity - enrolled
}

// ParticipantPayload is one participant entry submitted on an application.
// Validation is loose at submission; all fields become required at accept time.
type ParticipantPayload struct {
	Name          string `json:"name"`
	RollNumber    string `json:"rollNumber"`
	Email         string `json:"email"`
	ContactNumber string `json:"contactNumber"`
	Department    string `json:"department"`
	University    string `json:"university"`
}

// MissingFields returns the names of required fields that are empty or blank.
func (p ParticipantPayload) MissingFields() []string {
	var missing []string
	check := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	check("name", p.Name)
	check("rollNumber", p.RollNumber)
	check("email", p.Email)
	check("contactNumber", p.ContactNumber)
	check("department", p.Department)
	check("university", p.University)
	return missing
}

// Application is a pending batch registration for one module.
type Application struct {
	ID                string               `json:"id"`
	ModuleTitle       string               `json:"module_title"`
	TotalFee          float64              `json:"total_fee"`
	ParticipationType string               `json:"participation_type"`
	Participants      []ParticipantPayload `json:"participants"`
	PaymentScreenshot string               `json:"payment_screenshot"`
	RegistrationToken string               `json:"registration_token"`
	Status            ApplicationStatus    `json:"status"`
	UserID            string               `json:"user_id"`
	Revision          int                  `json:"revision"`
	CreatedAt         time.Time            `json:"created_at"`
}

// UniqueEmails returns the distinct participant emails in submission order.
func (a *Application) UniqueEmails() []string {
	seen := make(map[string]struct{}, len(a.Participants))
	var emails []string
	for _, p := range a.Participants {
		email := strings.TrimSpace(strings.ToLower(p.Email))
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		emails = append(emails, email)
	}
	return emails
}

// Participant is an authoritative enrolled record produced by acceptance.
type Participant struct {
	ID                string    `json:"id"`
	ApplicationID     string    `json:"application_id"`
	EventID           string    `json:"event_id"`
	Name              string    `json:"name"`
	RollNumber        string    `json:"roll_number"`
	Email             string    `json:"email"`
	ContactNumber     string    `json:"contact_number"`
	Module            string    `json:"module"`
	Department        string    `json:"department"`
	University        string    `json:"university"`
	Fee               float64   `json:"fee"`
	RegistrationToken string    `json:"registration_token"`
	Stage             string    `json:"stage"`
	Grade             string    `json:"grade"`
	Comments          string    `json:"comments"`
	Attendance        bool      `json:"attendance"`
	ResultVisible     bool      `json:"result_visible"`
	Revision          int       `json:"revision"`
	CreatedAt         time.Time `json:"created_at"`
}

// User is a platform account for one of the staff or participant roles.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Notification delivery states.
const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

// Notification is a persisted fan-out message to one recipient.
type Notification struct {
	ID             string     `json:"id"`
	RecipientEmail string     `json:"recipient_email"`
	Subject        string     `json:"subject"`
	Body           string     `json:"body"`
	Kind           string     `json:"kind"`
	Status         string     `json:"status"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// EmailStatus summarises best-effort email fan-out for a rejection.
type EmailStatus struct {
	TotalEmails      int `json:"totalEmails"`
	SuccessfulEmails int `json:"successfulEmails"`
	FailedEmails     int `json:"failedEmails"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Message string `json:"message"`
}
