package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/alessia-badea/dissertation-api/internal/models"
)

// ApproveOutcome reports the result of the transactional approval attempt.
type ApproveOutcome int

const (
	// ApproveOK means the request was flipped to APPROVED.
	ApproveOK ApproveOutcome = iota
	// ApproveSessionFull means the session had no remaining capacity at
	// the moment of the locked re-count.
	ApproveSessionFull
	// ApproveStudentTaken means the student acquired an approval elsewhere
	// between creation and decision.
	ApproveStudentTaken
	// ApproveAlreadyProcessed means the request left the pending state
	// before the row lock was taken.
	ApproveAlreadyProcessed
)

// RequestRepository handles persistence of supervision requests.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// FindByID returns a request by its ID.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*models.Request, error) {
	const query = `SELECT id, student_id, professor_id, session_id, status, document_state, thesis_title, thesis_description, reason, student_file_path, professor_file_path, created_at, updated_at FROM requests WHERE id = $1`
	var request models.Request
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// FindDetailByID returns a request with participant context.
func (r *RequestRepository) FindDetailByID(ctx context.Context, id string) (*models.RequestDetail, error) {
	const query = `SELECT r.id, r.student_id, r.professor_id, r.session_id, r.status, r.document_state, r.thesis_title, r.thesis_description, r.reason, r.student_file_path, r.professor_file_path, r.created_at, r.updated_at,
        st.full_name AS student_name, pr.full_name AS professor_name, s.title AS session_title
        FROM requests r
        LEFT JOIN users st ON st.id = r.student_id
        LEFT JOIN users pr ON pr.id = r.professor_id
        LEFT JOIN sessions s ON s.id = r.session_id
        WHERE r.id = $1`
	var detail models.RequestDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns requests filtered by the provided criteria.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.RequestDetail, int, error) {
	base := `FROM requests r
LEFT JOIN users st ON st.id = r.student_id
LEFT JOIN users pr ON pr.id = r.professor_id
LEFT JOIN sessions s ON s.id = r.session_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("r.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ProfessorID != "" {
		conditions = append(conditions, fmt.Sprintf("r.professor_id = $%d", len(args)+1))
		args = append(args, filter.ProfessorID)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("r.session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("r.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":    "r.created_at",
		"updated_at":    "r.updated_at",
		"student_name":  "st.full_name",
		"session_title": "s.title",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "r.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT r.id, r.student_id, r.professor_id, r.session_id, r.status, r.document_state, r.thesis_title, r.thesis_description, r.reason, r.student_file_path, r.professor_file_path, r.created_at, r.updated_at,
        st.full_name AS student_name, pr.full_name AS professor_name, s.title AS session_title
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var requests []models.RequestDetail
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}
	return requests, total, nil
}

// Create persists a new pending request.
func (r *RequestRepository) Create(ctx context.Context, request *models.Request) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.RequestStatusPending
	}
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now
	const query = `INSERT INTO requests (id, student_id, professor_id, session_id, status, document_state, thesis_title, thesis_description, reason, student_file_path, professor_file_path, created_at, updated_at)
        VALUES (:id, :student_id, :professor_id, :session_id, :status, :document_state, :thesis_title, :thesis_description, :reason, :student_file_path, :professor_file_path, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// Delete removes a request record.
func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM requests WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	return nil
}

// CountApprovedBySession counts approved requests for a session.
func (r *RequestRepository) CountApprovedBySession(ctx context.Context, sessionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM requests WHERE session_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, sessionID, models.RequestStatusApproved); err != nil {
		return 0, fmt.Errorf("count approved requests: %w", err)
	}
	return count, nil
}

// CountApprovedByStudent counts approved requests held by a student
// across all professors.
func (r *RequestRepository) CountApprovedByStudent(ctx context.Context, studentID string) (int, error) {
	const query = `SELECT COUNT(*) FROM requests WHERE student_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, models.RequestStatusApproved); err != nil {
		return 0, fmt.Errorf("count student approvals: %w", err)
	}
	return count, nil
}

// ExistsActiveForOffering checks whether the student already has a pending
// or approved request for the professor/session pair.
func (r *RequestRepository) ExistsActiveForOffering(ctx context.Context, studentID, professorID, sessionID string) (bool, error) {
	const query = `SELECT 1 FROM requests WHERE student_id = $1 AND professor_id = $2 AND session_id = $3 AND status IN ($4, $5) LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, professorID, sessionID, models.RequestStatusPending, models.RequestStatusApproved); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active request: %w", err)
	}
	return true, nil
}

// HasApprovedBySession reports whether any approved request references the session.
func (r *RequestRepository) HasApprovedBySession(ctx context.Context, sessionID string) (bool, error) {
	const query = `SELECT 1 FROM requests WHERE session_id = $1 AND status = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, sessionID, models.RequestStatusApproved); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check approved requests: %w", err)
	}
	return true, nil
}

// Approve flips a pending request to APPROVED inside a transaction that
// serializes on the session row. The approved count and the student's
// global exclusivity are re-checked under the lock so that concurrent
// approvals cannot overcommit the last free slot.
func (r *RequestRepository) Approve(ctx context.Context, requestID string) (outcome ApproveOutcome, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return ApproveOK, fmt.Errorf("begin approval transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var request struct {
		StudentID string `db:"student_id"`
		SessionID string `db:"session_id"`
		Status    string `db:"status"`
	}
	const requestQuery = `SELECT student_id, session_id, status FROM requests WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &request, requestQuery, requestID); err != nil {
		return ApproveOK, fmt.Errorf("lock request: %w", err)
	}
	if request.Status != string(models.RequestStatusPending) {
		return ApproveAlreadyProcessed, nil
	}

	// Advisory lock on the student serializes approvals of the same
	// student across different sessions, where the session row lock
	// alone would not conflict.
	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, request.StudentID); err != nil {
		return ApproveOK, fmt.Errorf("lock student: %w", err)
	}

	var maxStudents int
	const sessionQuery = `SELECT max_students FROM sessions WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &maxStudents, sessionQuery, request.SessionID); err != nil {
		return ApproveOK, fmt.Errorf("lock session: %w", err)
	}

	var approved int
	const capacityQuery = `SELECT COUNT(*) FROM requests WHERE session_id = $1 AND status = $2`
	if err = tx.GetContext(ctx, &approved, capacityQuery, request.SessionID, models.RequestStatusApproved); err != nil {
		return ApproveOK, fmt.Errorf("count approved under lock: %w", err)
	}
	if approved >= maxStudents {
		return ApproveSessionFull, nil
	}

	var supervised int
	const exclusivityQuery = `SELECT COUNT(*) FROM requests WHERE student_id = $1 AND status = $2`
	if err = tx.GetContext(ctx, &supervised, exclusivityQuery, request.StudentID, models.RequestStatusApproved); err != nil {
		return ApproveOK, fmt.Errorf("count student approvals under lock: %w", err)
	}
	if supervised > 0 {
		return ApproveStudentTaken, nil
	}

	const updateQuery = `UPDATE requests SET status = $2, document_state = $3, updated_at = $4 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, updateQuery, requestID, models.RequestStatusApproved, models.DocumentStateAwaitingStudent, time.Now().UTC()); err != nil {
		return ApproveOK, fmt.Errorf("approve request: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return ApproveOK, fmt.Errorf("commit approval: %w", err)
	}
	committed = true
	return ApproveOK, nil
}

// Reject marks a pending request as rejected with an optional reason. The
// update is conditional on the row still being pending; sql.ErrNoRows is
// returned when another decision landed first.
func (r *RequestRepository) Reject(ctx context.Context, id string, reason *string) error {
	const query = `UPDATE requests SET status = $2, reason = $3, updated_at = $4 WHERE id = $1 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, id, models.RequestStatusRejected, reason, time.Now().UTC(), models.RequestStatusPending)
	if err != nil {
		return fmt.Errorf("reject request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reject request: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetStudentFile attaches the student's document and advances the
// document state to professor review.
func (r *RequestRepository) SetStudentFile(ctx context.Context, id, path string) error {
	const query = `UPDATE requests SET student_file_path = $2, document_state = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, path, models.DocumentStateAwaitingProfessor, time.Now().UTC()); err != nil {
		return fmt.Errorf("set student file: %w", err)
	}
	return nil
}

// SetProfessorFile attaches the counter-signature and completes the exchange.
func (r *RequestRepository) SetProfessorFile(ctx context.Context, id, path string) error {
	const query = `UPDATE requests SET professor_file_path = $2, document_state = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, path, models.DocumentStateCompleted, time.Now().UTC()); err != nil {
		return fmt.Errorf("set professor file: %w", err)
	}
	return nil
}

// ClearStudentFile removes the student document reference after a document
// rejection, reverting the state to awaiting upload.
func (r *RequestRepository) ClearStudentFile(ctx context.Context, id, reason string) error {
	const query = `UPDATE requests SET student_file_path = NULL, reason = $2, document_state = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, reason, models.DocumentStateAwaitingStudent, time.Now().UTC()); err != nil {
		return fmt.Errorf("clear student file: %w", err)
	}
	return nil
}
