package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zabefest/platform/internal/model"
)

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PGApplicationRepository is the Postgres implementation of ApplicationRepository.
type PGApplicationRepository struct {
	db *pgxpool.Pool
}

// NewPGApplicationRepository constructs a PGApplicationRepository.
func NewPGApplicationRepository(db *pgxpool.Pool) *PGApplicationRepository {
	return &PGApplicationRepository{db: db}
}

const applicationColumns = `id, module_title, total_fee, participation_type, participants,
	payment_screenshot, registration_token, status, user_id, revision, created_at`

func scanApplication(row pgx.Row) (*model.Application, error) {
	var app model.Application
	var participants []byte
	err := row.Scan(&app.ID, &app.ModuleTitle, &app.TotalFee, &app.ParticipationType, &participants,
		&app.PaymentScreenshot, &app.RegistrationToken, &app.Status, &app.UserID, &app.Revision, &app.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(participants, &app.Participants); err != nil {
		return nil, fmt.Errorf("decode participants payload: %w", err)
	}
	return &app, nil
}

// Create stores a new application in Pending state.
func (r *PGApplicationRepository) Create(ctx context.Context, app *model.Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.Status == "" {
		app.Status = model.StatusPending
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}
	participants, err := json.Marshal(app.Participants)
	if err != nil {
		return fmt.Errorf("encode participants payload: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO applications (`+applicationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		app.ID, app.ModuleTitle, app.TotalFee, app.ParticipationType, participants,
		app.PaymentScreenshot, app.RegistrationToken, app.Status, app.UserID, app.Revision, app.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: registration token", ErrDuplicateKey)
		}
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

// List returns applications, newest first, optionally filtered by status.
func (r *PGApplicationRepository) List(ctx context.Context, status model.ApplicationStatus) ([]model.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []model.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, *app)
	}
	return apps, rows.Err()
}

// GetByID returns a single application or ErrApplicationNotFound.
func (r *PGApplicationRepository) GetByID(ctx context.Context, id string) (*model.Application, error) {
	app, err := scanApplication(r.db.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, fmt.Errorf("get application: %w", err)
	}
	return app, nil
}

// GetByToken returns the application holding a registration token.
func (r *PGApplicationRepository) GetByToken(ctx context.Context, token string) (*model.Application, error) {
	app, err := scanApplication(r.db.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE registration_token = $1`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, fmt.Errorf("get application by token: %w", err)
	}
	return app, nil
}

// UpdateStatus flips the status only when the stored value still equals from.
// The revision bump makes the change visible to optimistic readers.
func (r *PGApplicationRepository) UpdateStatus(ctx context.Context, id string, from, to model.ApplicationStatus) (*model.Application, error) {
	app, err := scanApplication(r.db.QueryRow(ctx,
		`UPDATE applications
		 SET status = $3, revision = revision + 1
		 WHERE id = $1 AND status = $2
		 RETURNING `+applicationColumns,
		id, from, to))
	if err == nil {
		return app, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update application status: %w", err)
	}
	// Distinguish a missing row from a concurrent status change.
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrInvalidTransition
}
