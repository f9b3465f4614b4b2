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

// PGNotificationRepository is the Postgres implementation of NotificationRepository.
type PGNotificationRepository struct {
	db *pgxpool.Pool
}

// NewPGNotificationRepository constructs a PGNotificationRepository.
func NewPGNotificationRepository(db *pgxpool.Pool) *PGNotificationRepository {
	return &PGNotificationRepository{db: db}
}

// Create stores a notification row.
func (r *PGNotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = model.NotificationPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO notifications (id, recipient_email, subject, body, kind, status, sent_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, strings.TrimSpace(strings.ToLower(n.RecipientEmail)), n.Subject, n.Body,
		n.Kind, n.Status, n.SentAt, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetByID returns a notification row; used by the delivery worker.
func (r *PGNotificationRepository) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	var n model.Notification
	err := r.db.QueryRow(ctx,
		`SELECT id, recipient_email, subject, body, kind, status, sent_at, created_at
		 FROM notifications WHERE id = $1`, id,
	).Scan(&n.ID, &n.RecipientEmail, &n.Subject, &n.Body, &n.Kind, &n.Status, &n.SentAt, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return &n, nil
}

// ListByRecipient returns a recipient's notifications, newest first.
func (r *PGNotificationRepository) ListByRecipient(ctx context.Context, email string) ([]model.Notification, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, recipient_email, subject, body, kind, status, sent_at, created_at
		 FROM notifications
		 WHERE recipient_email = $1
		 ORDER BY created_at DESC`,
		strings.TrimSpace(strings.ToLower(email)),
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.RecipientEmail, &n.Subject, &n.Body, &n.Kind,
			&n.Status, &n.SentAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkDelivery records the outcome of a delivery attempt.
func (r *PGNotificationRepository) MarkDelivery(ctx context.Context, id, status string, sentAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE notifications SET status = $2, sent_at = $3 WHERE id = $1`,
		id, status, sentAt,
	)
	if err != nil {
		return fmt.Errorf("mark notification delivery: %w", err)
	}
	return nil
}
