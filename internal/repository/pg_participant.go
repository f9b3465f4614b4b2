package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zabefest/platform/internal/model"
)

// PGParticipantRepository is the Postgres implementation of ParticipantRepository.
type PGParticipantRepository struct {
	db *pgxpool.Pool
}

// NewPGParticipantRepository constructs a PGParticipantRepository.
func NewPGParticipantRepository(db *pgxpool.Pool) *PGParticipantRepository {
	return &PGParticipantRepository{db: db}
}

const participantColumns = `id, application_id, event_id, name, roll_number, email, contact_number,
	module, department, university, fee, registration_token, stage, grade, comments,
	attendance, result_visible, revision, created_at`

func scanParticipant(row pgx.Row) (*model.Participant, error) {
	var p model.Participant
	err := row.Scan(&p.ID, &p.ApplicationID, &p.EventID, &p.Name, &p.RollNumber, &p.Email,
		&p.ContactNumber, &p.Module, &p.Department, &p.University, &p.Fee, &p.RegistrationToken,
		&p.Stage, &p.Grade, &p.Comments, &p.Attendance, &p.ResultVisible, &p.Revision, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns participants, optionally filtered by module title (case-insensitive).
func (r *PGParticipantRepository) List(ctx context.Context, module string) ([]model.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants`
	args := []any{}
	if module != "" {
		query += ` WHERE LOWER(module) = LOWER($1)`
		args = append(args, strings.TrimSpace(module))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, *p)
	}
	return participants, rows.Err()
}

// GetByID returns a single participant or ErrParticipantNotFound.
func (r *PGParticipantRepository) GetByID(ctx context.Context, id string) (*model.Participant, error) {
	p, err := scanParticipant(r.db.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

// Update writes grading fields guarded by the revision counter so concurrent
// module-head and module-leader edits cannot silently overwrite each other.
func (r *PGParticipantRepository) Update(ctx context.Context, p *model.Participant) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE participants
		 SET stage = $2, grade = $3, comments = $4, attendance = $5, result_visible = $6,
		     revision = revision + 1
		 WHERE id = $1 AND revision = $7`,
		p.ID, p.Stage, p.Grade, p.Comments, p.Attendance, p.ResultVisible, p.Revision,
	)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, p.ID); getErr != nil {
			return getErr
		}
		return ErrStaleRevision
	}
	p.Revision++
	return nil
}

// CommitAcceptance converts an application's candidates into participant rows.
//
// The naive read-then-write version of the capacity check races: two accepts
// against the same module can both observe free capacity before either writes.
// The event row is therefore locked with SELECT ... FOR UPDATE for the length
// of the transaction, serialising concurrent acceptances, and the enrolled
// count is re-derived under that lock. The upserts and the status flip commit
// together or not at all.
func (r *PGParticipantRepository) CommitAcceptance(ctx context.Context, app *model.Application, candidates []model.Participant) error {
	title := strings.TrimSpace(app.ModuleTitle)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Lock the event row for the duration of the acceptance.
	var eventID string
	var capacity int
	err = tx.QueryRow(ctx,
		`SELECT id, capacity FROM events WHERE LOWER(title) = LOWER($1) FOR UPDATE`,
		title,
	).Scan(&eventID, &capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrModuleNotFound
			return err
		}
		err = fmt.Errorf("lock event row: %w", err)
		return err
	}

	// Enrolled count is derived, never cached; re-read under the lock.
	var enrolled int
	if err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM participants WHERE event_id = $1`, eventID).Scan(&enrolled); err != nil {
		err = fmt.Errorf("count enrolled: %w", err)
		return err
	}

	attempted := enrolled + len(candidates)
	if attempted > capacity {
		err = &CapacityExceededError{Capacity: capacity, Attempted: attempted}
		return err
	}

	// Email is the natural key: an existing participant with the same email is
	// overwritten rather than duplicated.
	for i := range candidates {
		c := &candidates[i]
		c.EventID = eventID
		c.Module = title
		_, err = tx.Exec(ctx,
			`INSERT INTO participants
			   (id, application_id, event_id, name, roll_number, email, contact_number,
			    module, department, university, fee, registration_token, stage, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 ON CONFLICT (email) DO UPDATE SET
			   application_id     = EXCLUDED.application_id,
			   event_id           = EXCLUDED.event_id,
			   name               = EXCLUDED.name,
			   roll_number        = EXCLUDED.roll_number,
			   contact_number     = EXCLUDED.contact_number,
			   module             = EXCLUDED.module,
			   department         = EXCLUDED.department,
			   university         = EXCLUDED.university,
			   fee                = EXCLUDED.fee,
			   registration_token = EXCLUDED.registration_token,
			   revision           = participants.revision + 1`,
			c.ID, c.ApplicationID, c.EventID, c.Name, c.RollNumber, c.Email, c.ContactNumber,
			c.Module, c.Department, c.University, c.Fee, c.RegistrationToken, c.Stage, c.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				err = fmt.Errorf("%w: %v", ErrDuplicateKey, err)
				return err
			}
			err = fmt.Errorf("upsert participant %s: %w", c.Email, err)
			return err
		}
	}

	// Guarded flip: only a still-Pending application can become Accepted.
	var tag pgconn.CommandTag
	tag, err = tx.Exec(ctx,
		`UPDATE applications SET status = $2, revision = revision + 1
		 WHERE id = $1 AND status = $3`,
		app.ID, model.StatusAccepted, model.StatusPending,
	)
	if err != nil {
		err = fmt.Errorf("flip application status: %w", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		err = ErrInvalidTransition
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit acceptance: %w", err)
	}
	return nil
}

// DeleteWithRollback removes a participant and performs the compensating
// status rollback on the originating application in the same transaction.
func (r *PGParticipantRepository) DeleteWithRollback(ctx context.Context, id string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var applicationID string
	err = tx.QueryRow(ctx,
		`DELETE FROM participants WHERE id = $1 RETURNING application_id`, id).Scan(&applicationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrParticipantNotFound
			return err
		}
		err = fmt.Errorf("delete participant: %w", err)
		return err
	}

	if applicationID != "" {
		// Compensating action: the earlier accept is undone. Enrollment
		// bookkeeping self-corrects because the count is derived on demand.
		_, err = tx.Exec(ctx,
			`UPDATE applications SET status = $2, revision = revision + 1
			 WHERE id = $1 AND status <> $2`,
			applicationID, model.StatusRejected,
		)
		if err != nil {
			err = fmt.Errorf("rollback application status: %w", err)
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit deletion: %w", err)
	}
	return nil
}
