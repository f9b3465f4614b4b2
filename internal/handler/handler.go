// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zabefest/platform/internal/model"
	"github.com/zabefest/platform/internal/repository"
	"github.com/zabefest/platform/internal/service"
)

// Handler holds all HTTP handlers for the registration platform API.
type Handler struct {
	events        *service.EventService
	registration  *service.RegistrationService
	auth          *service.AuthService
	notifications *service.NotificationService
}

// New constructs a Handler.
func New(
	events *service.EventService,
	registration *service.RegistrationService,
	auth *service.AuthService,
	notifications *service.NotificationService,
) *Handler {
	return &Handler{events: events, registration: registration, auth: auth, notifications: notifications}
}

// Routes builds the full router with middleware and role gating. Role checks
// live here at the routing layer; the workflows themselves never consult the
// caller's identity.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger)
	r.Use(CORS)

	r.Get("/healthz", HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	authn := RequireAuth(h.auth)
	adminOnly := RequireRole(model.RoleAdmin)
	staff := RequireRole(model.RoleAdmin, model.RoleRegistrationTeam)
	graders := RequireRole(model.RoleAdmin, model.RoleModuleHead, model.RoleModuleLeader)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.Login)
		r.With(authn, adminOnly).Post("/auth/register", h.RegisterUser)

		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Get("/capacity/{title}", h.ResolveCapacity)
			r.Get("/{id}", h.GetEvent)
			r.With(authn, adminOnly).Post("/", h.CreateEvent)
			r.With(authn, adminOnly).Put("/{id}", h.UpdateEvent)
			r.With(authn, adminOnly).Delete("/{id}", h.DeleteEvent)
		})

		r.Route("/apply-module", func(r chi.Router) {
			r.Post("/", h.SubmitApplication)
			r.Get("/token/{token}", h.GetApplicationByToken)
			r.With(authn, staff).Get("/", h.ListApplications)
			r.With(authn, adminOnly).Put("/reject/{id}", h.RejectApplication)
		})

		r.Route("/participants", func(r chi.Router) {
			r.With(authn).Get("/", h.ListParticipants)
			r.With(authn).Get("/{id}", h.GetParticipant)
			r.With(authn, graders).Put("/{id}", h.UpdateParticipant)
			r.With(authn, adminOnly).Put("/accept/{id}", h.AcceptApplication)
			r.With(authn, adminOnly).Delete("/{id}", h.DeleteParticipant)
		})

		r.With(authn, adminOnly).Post("/notifications", h.BroadcastNotification)
		r.With(authn).Get("/notifications", h.ListNotifications)
	})

	return r
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Message: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeWorkflowError maps workflow errors to the status codes and structured
// detail callers depend on. Unclassified errors get a minimal 500; full detail
// goes to the server log only.
func writeWorkflowError(w http.ResponseWriter, err error) {
	var capErr *repository.CapacityExceededError
	var incompleteErr *service.IncompleteParticipantDataError
	switch {
	case errors.Is(err, repository.ErrApplicationNotFound):
		writeError(w, http.StatusNotFound, "application not found")
	case errors.Is(err, repository.ErrModuleNotFound):
		writeError(w, http.StatusNotFound, "module not found")
	case errors.Is(err, repository.ErrParticipantNotFound):
		writeError(w, http.StatusNotFound, "participant not found")
	case errors.Is(err, repository.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, repository.ErrNotificationNotFound):
		writeError(w, http.StatusNotFound, "notification not found")
	case errors.As(err, &capErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message":   "module capacity exceeded",
			"capacity":  capErr.Capacity,
			"attempted": capErr.Attempted,
		})
	case errors.As(err, &incompleteErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message": "incomplete participant data",
			"missing": incompleteErr.Problems,
		})
	case errors.Is(err, service.ErrNoParticipants):
		writeError(w, http.StatusBadRequest, "application has no participants")
	case errors.Is(err, repository.ErrDuplicateKey):
		writeError(w, http.StatusConflict, "duplicate key conflict")
	case errors.Is(err, repository.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "application status does not allow this transition")
	case errors.Is(err, repository.ErrStaleRevision):
		writeError(w, http.StatusConflict, "record was modified concurrently, reload and retry")
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// ─── Auth ─────────────────────────────────────────────────────────────────────

// Login handles POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	token, user, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

// RegisterUser handles POST /api/auth/register (admin only).
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	user, err := h.auth.Register(r.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// ─── Events ───────────────────────────────────────────────────────────────────

// CreateEvent handles POST /api/events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req service.EventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	event, err := h.events.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			writeError(w, http.StatusConflict, "an event with this title already exists")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /api/events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.List(r.Context())
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /api/events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// UpdateEvent handles PUT /api/events/{id}
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req service.EventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	event, err := h.events.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		if errors.Is(err, repository.ErrEventNotFound) || errors.Is(err, repository.ErrDuplicateKey) {
			writeWorkflowError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// DeleteEvent handles DELETE /api/events/{id}
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.events.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "event deleted"})
}

// ResolveCapacity handles GET /api/events/capacity/{title}
// Returns the module, its current enrolled count and remaining seats.
func (h *Handler) ResolveCapacity(w http.ResponseWriter, r *http.Request) {
	report, err := h.registration.ResolveCapacity(r.Context(), chi.URLParam(r, "title"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ─── Applications ─────────────────────────────────────────────────────────────

// SubmitApplication handles POST /api/apply-module
func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if claims, ok := ClaimsFrom(r.Context()); ok {
		req.UserID = claims.Subject
	}
	app, err := h.registration.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrModuleNotFound),
			errors.Is(err, repository.ErrDuplicateKey):
			writeWorkflowError(w, err)
		case errors.Is(err, service.ErrNoParticipants):
			writeError(w, http.StatusBadRequest, "at least one participant is required")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// ListApplications handles GET /api/apply-module?status=Pending
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	status := model.ApplicationStatus(r.URL.Query().Get("status"))
	apps, err := h.registration.ListApplications(r.Context(), status)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	if apps == nil {
		apps = []model.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

// GetApplicationByToken handles GET /api/apply-module/token/{token}
func (h *Handler) GetApplicationByToken(w http.ResponseWriter, r *http.Request) {
	app, err := h.registration.GetApplicationByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// AcceptApplication handles PUT /api/participants/accept/{id}
// Converts a Pending application into participant records under the module's
// capacity ceiling.
func (h *Handler) AcceptApplication(w http.ResponseWriter, r *http.Request) {
	message, err := h.registration.Accept(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

// RejectApplication handles PUT /api/apply-module/reject/{id}
// The status flip is unconditional once the transition is legal; email
// delivery is best-effort and reported in emailStatus.
func (h *Handler) RejectApplication(w http.ResponseWriter, r *http.Request) {
	app, emailStatus, err := h.registration.Reject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "application rejected",
		"app":         app,
		"emailStatus": emailStatus,
	})
}

// ─── Participants ─────────────────────────────────────────────────────────────

// ListParticipants handles GET /api/participants?module=Hackathon
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.registration.ListParticipants(r.Context(), r.URL.Query().Get("module"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	if participants == nil {
		participants = []model.Participant{}
	}
	writeJSON(w, http.StatusOK, participants)
}

// GetParticipant handles GET /api/participants/{id}
func (h *Handler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := h.registration.GetParticipant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdateParticipant handles PUT /api/participants/{id} (grading fields).
func (h *Handler) UpdateParticipant(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateParticipantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	p, err := h.registration.UpdateParticipant(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) || errors.Is(err, repository.ErrStaleRevision) {
			writeWorkflowError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteParticipant handles DELETE /api/participants/{id}
// Deletion rolls the originating application back to Rejected.
func (h *Handler) DeleteParticipant(w http.ResponseWriter, r *http.Request) {
	if err := h.registration.DeleteParticipant(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "participant deleted and application rolled back",
	})
}

// ─── Notifications ────────────────────────────────────────────────────────────

// BroadcastNotification handles POST /api/notifications
func (h *Handler) BroadcastNotification(w http.ResponseWriter, r *http.Request) {
	var req service.BroadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	queued, err := h.notifications.Broadcast(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": queued})
}

// ListNotifications handles GET /api/notifications?email=
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		if claims, ok := ClaimsFrom(r.Context()); ok {
			email = claims.Email
		}
	}
	notifications, err := h.notifications.ListByRecipient(r.Context(), email)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	if notifications == nil {
		notifications = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /healthz
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
