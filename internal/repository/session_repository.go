package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/alessia-badea/dissertation-api/internal/models"
)

// SaveOutcome reports the result of a guarded session write.
type SaveOutcome int

const (
	// SaveOK means the session row was written.
	SaveOK SaveOutcome = iota
	// SaveOverlap means another session of the same professor intersected
	// the window at the moment of the locked re-check.
	SaveOverlap
)

// SessionRepository handles persistence of registration sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// FindByID returns a session by its ID.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	const query = `SELECT id, professor_id, title, start_date, end_date, max_students, created_at, updated_at FROM sessions WHERE id = $1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListByProfessor returns all sessions owned by a professor.
func (r *SessionRepository) ListByProfessor(ctx context.Context, professorID string) ([]models.Session, error) {
	const query = `SELECT id, professor_id, title, start_date, end_date, max_students, created_at, updated_at FROM sessions WHERE professor_id = $1 ORDER BY start_date`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, professorID); err != nil {
		return nil, fmt.Errorf("list professor sessions: %w", err)
	}
	return sessions, nil
}

// ListOpen returns sessions that have not yet ended, annotated with their
// approved request count.
func (r *SessionRepository) ListOpen(ctx context.Context, now time.Time) ([]models.SessionAvailability, error) {
	const query = `SELECT s.id, s.professor_id, s.title, s.start_date, s.end_date, s.max_students, s.created_at, s.updated_at,
        u.full_name AS professor_name,
        COUNT(r.id) FILTER (WHERE r.status = 'APPROVED') AS approved_count
        FROM sessions s
        JOIN users u ON u.id = s.professor_id
        LEFT JOIN requests r ON r.session_id = s.id
        WHERE s.end_date >= $1
        GROUP BY s.id, u.full_name
        ORDER BY s.start_date`
	var sessions []models.SessionAvailability
	if err := r.db.SelectContext(ctx, &sessions, query, now); err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	return sessions, nil
}

// ListOwnedWithTallies returns a professor's sessions annotated with
// per-status request counts.
func (r *SessionRepository) ListOwnedWithTallies(ctx context.Context, professorID string) ([]models.SessionTallies, error) {
	const query = `SELECT s.id, s.professor_id, s.title, s.start_date, s.end_date, s.max_students, s.created_at, s.updated_at,
        COUNT(r.id) FILTER (WHERE r.status = 'PENDING') AS pending_count,
        COUNT(r.id) FILTER (WHERE r.status = 'APPROVED') AS approved_count,
        COUNT(r.id) FILTER (WHERE r.status = 'REJECTED') AS rejected_count
        FROM sessions s
        LEFT JOIN requests r ON r.session_id = s.id
        WHERE s.professor_id = $1
        GROUP BY s.id
        ORDER BY s.start_date`
	var sessions []models.SessionTallies
	if err := r.db.SelectContext(ctx, &sessions, query, professorID); err != nil {
		return nil, fmt.Errorf("list session tallies: %w", err)
	}
	return sessions, nil
}

// Create persists a new session record. The write runs in a transaction
// holding an advisory lock keyed by the professor, so concurrent writes of
// the same professor serialize on the overlap re-check.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) (SaveOutcome, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	const query = `INSERT INTO sessions (id, professor_id, title, start_date, end_date, max_students, created_at, updated_at)
        VALUES (:id, :professor_id, :title, :start_date, :end_date, :max_students, :created_at, :updated_at)`
	return r.saveGuarded(ctx, session, query, "create session")
}

// Update persists mutable session fields under the same overlap guard as
// Create.
func (r *SessionRepository) Update(ctx context.Context, session *models.Session) (SaveOutcome, error) {
	session.UpdatedAt = time.Now().UTC()
	const query = `UPDATE sessions SET title = :title, start_date = :start_date, end_date = :end_date, max_students = :max_students, updated_at = :updated_at WHERE id = :id`
	return r.saveGuarded(ctx, session, query, "update session")
}

func (r *SessionRepository) saveGuarded(ctx context.Context, session *models.Session, writeQuery, op string) (SaveOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return SaveOK, fmt.Errorf("%s: begin: %w", op, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, session.ProfessorID); err != nil {
		return SaveOK, fmt.Errorf("%s: lock professor: %w", op, err)
	}

	const overlapQuery = `SELECT COUNT(*) FROM sessions
        WHERE professor_id = $1 AND id <> $2 AND start_date < $3 AND end_date > $4`
	var overlapping int
	if err := tx.GetContext(ctx, &overlapping, overlapQuery, session.ProfessorID, session.ID, session.EndDate, session.StartDate); err != nil {
		return SaveOK, fmt.Errorf("%s: check overlap: %w", op, err)
	}
	if overlapping > 0 {
		return SaveOverlap, nil
	}

	if _, err := tx.NamedExecContext(ctx, writeQuery, session); err != nil {
		return SaveOK, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return SaveOK, fmt.Errorf("%s: commit: %w", op, err)
	}
	committed = true
	return SaveOK, nil
}

// Delete removes a session record.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM sessions WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CountRequests counts requests of any status referencing the session.
func (r *SessionRepository) CountRequests(ctx context.Context, sessionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM requests WHERE session_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, sessionID); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("count session requests: %w", err)
	}
	return count, nil
}
