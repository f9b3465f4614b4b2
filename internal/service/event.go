package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zabefest/platform/internal/model"
	"github.com/zabefest/platform/internal/repository"
)

// EventRequest is the payload for creating or updating an event.
type EventRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
	Location    string    `json:"location"`
	Capacity    int       `json:"capacity"`
	HeadID      string    `json:"head_id"`
	LeaderID    string    `json:"leader_id"`
	Fee         float64   `json:"fee"`
	Discount    float64   `json:"discount"`
}

func (r *EventRequest) validate() error {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return fmt.Errorf("event title is required")
	}
	if r.Capacity < 0 {
		return fmt.Errorf("capacity cannot be negative")
	}
	if r.Capacity > 100_000 {
		return fmt.Errorf("capacity cannot exceed 100,000")
	}
	if r.Fee < 0 {
		return fmt.Errorf("fee cannot be negative")
	}
	if r.Discount < 0 || r.Discount > 100 {
		return fmt.Errorf("discount must be a percentage between 0 and 100")
	}
	return nil
}

// EventService orchestrates event (module) CRUD.
type EventService struct {
	events repository.EventRepository
}

// NewEventService constructs an EventService.
func NewEventService(events repository.EventRepository) *EventService {
	return &EventService{events: events}
}

// Create validates the request and stores a new event with its computed fee.
func (s *EventService) Create(ctx context.Context, req EventRequest) (*model.Event, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	event := &model.Event{
		Title:       req.Title,
		Description: req.Description,
		Date:        req.Date,
		Location:    req.Location,
		Capacity:    req.Capacity,
		HeadID:      req.HeadID,
		LeaderID:    req.LeaderID,
		Fee:         req.Fee,
		Discount:    req.Discount,
	}
	event.FinalFee = event.ComputeFinalFee()
	if err := s.events.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// List returns all events.
func (s *EventService) List(ctx context.Context) ([]model.Event, error) {
	return s.events.List(ctx)
}

// Get returns a single event by id.
func (s *EventService) Get(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, repository.ErrEventNotFound
	}
	return s.events.GetByID(ctx, id)
}

// Update rewrites an event's mutable fields. Capacity may shrink below the
// current enrollment; the invariant is re-checked at accept time, not here.
func (s *EventService) Update(ctx context.Context, id string, req EventRequest) (*model.Event, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	event.Title = req.Title
	event.Description = req.Description
	event.Date = req.Date
	event.Location = req.Location
	event.Capacity = req.Capacity
	event.HeadID = req.HeadID
	event.LeaderID = req.LeaderID
	event.Fee = req.Fee
	event.Discount = req.Discount
	event.FinalFee = event.ComputeFinalFee()
	if err := s.events.Update(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// Delete removes an event.
func (s *EventService) Delete(ctx context.Context, id string) error {
	return s.events.Delete(ctx, id)
}
