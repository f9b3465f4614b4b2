package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zabefest/platform/internal/model"
)

// PGEventRepository is the Postgres implementation of EventRepository.
type PGEventRepository struct {
	db *pgxpool.Pool
}

// NewPGEventRepository constructs a PGEventRepository.
func NewPGEventRepository(db *pgxpool.Pool) *PGEventRepository {
	return &PGEventRepository{db: db}
}

const eventColumns = `id, title, description, event_date, location, capacity, head_id, leader_id, fee, discount, final_fee, created_at`

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Date, &e.Location, &e.Capacity,
		&e.HeadID, &e.LeaderID, &e.Fee, &e.Discount, &e.FinalFee, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create inserts a new event, generating an id when absent.
func (r *PGEventRepository) Create(ctx context.Context, event *model.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		event.ID, event.Title, event.Description, event.Date, event.Location, event.Capacity,
		event.HeadID, event.LeaderID, event.Fee, event.Discount, event.FinalFee, event.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: event title %q", ErrDuplicateKey, event.Title)
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// List returns all events ordered by creation time descending.
func (r *PGEventRepository) List(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// GetByID returns a single event or ErrEventNotFound.
func (r *PGEventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// GetByTitle resolves an event by trimmed, case-insensitive title.
func (r *PGEventRepository) GetByTitle(ctx context.Context, title string) (*model.Event, error) {
	e, err := scanEvent(r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE LOWER(title) = LOWER($1)`,
		strings.TrimSpace(title)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrModuleNotFound
		}
		return nil, fmt.Errorf("get event by title: %w", err)
	}
	return e, nil
}

// Update writes all mutable event fields.
func (r *PGEventRepository) Update(ctx context.Context, event *model.Event) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE events
		 SET title = $2, description = $3, event_date = $4, location = $5, capacity = $6,
		     head_id = $7, leader_id = $8, fee = $9, discount = $10, final_fee = $11
		 WHERE id = $1`,
		event.ID, event.Title, event.Description, event.Date, event.Location, event.Capacity,
		event.HeadID, event.LeaderID, event.Fee, event.Discount, event.FinalFee,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: event title %q", ErrDuplicateKey, event.Title)
		}
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Delete removes an event.
func (r *PGEventRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// CountEnrolled derives the enrolled count for an event on demand.
func (r *PGEventRepository) CountEnrolled(ctx context.Context, eventID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM participants WHERE event_id = $1`, eventID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count enrolled: %w", err)
	}
	return count, nil
}
