package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/alessia-badea/dissertation-api/internal/models"
	"github.com/alessia-badea/dissertation-api/internal/repository"
	appErrors "github.com/alessia-badea/dissertation-api/pkg/errors"
)

type requestRepository interface {
	FindByID(ctx context.Context, id string) (*models.Request, error)
	FindDetailByID(ctx context.Context, id string) (*models.RequestDetail, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.RequestDetail, int, error)
	Create(ctx context.Context, request *models.Request) error
	Delete(ctx context.Context, id string) error
	CountApprovedBySession(ctx context.Context, sessionID string) (int, error)
	CountApprovedByStudent(ctx context.Context, studentID string) (int, error)
	ExistsActiveForOffering(ctx context.Context, studentID, professorID, sessionID string) (bool, error)
	Approve(ctx context.Context, requestID string) (repository.ApproveOutcome, error)
	Reject(ctx context.Context, id string, reason *string) error
}

type sessionReader interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
}

type decisionRecorder interface {
	RecordDecision(outcome string)
}

// CreateRequestPayload is the student's submission.
type CreateRequestPayload struct {
	SessionID         string `json:"session_id" validate:"required,uuid4"`
	ThesisTitle       string `json:"thesis_title" validate:"required,min=3,max=255"`
	ThesisDescription string `json:"thesis_description" validate:"required,min=10"`
}

// DecideRequestPayload carries the professor's verdict.
type DecideRequestPayload struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason" validate:"omitempty,max=1000"`
}

// RequestService owns the supervision request lifecycle.
type RequestService struct {
	repo      requestRepository
	sessions  sessionReader
	users     professorReader
	cache     *CacheService
	metrics   decisionRecorder
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewRequestService constructs RequestService.
func NewRequestService(repo requestRepository, sessions sessionReader, users professorReader, cache *CacheService, metrics decisionRecorder, validate *validator.Validate, logger *zap.Logger) *RequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{
		repo:      repo,
		sessions:  sessions,
		users:     users,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Create submits a new supervision request for the student. Checks run in a
// fixed order so a single submission maps to one stable rejection cause.
func (s *RequestService) Create(ctx context.Context, studentID string, payload CreateRequestPayload) (*models.Request, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}

	session, err := s.sessions.FindByID(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	professor, err := s.users.FindByID(ctx, session.ProfessorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "professor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load professor")
	}
	if professor.Role != models.RoleProfessor {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "professor not found")
	}

	// Submissions at the exact end instant are still accepted, matching
	// the open-session listing which keeps a session visible through its
	// end date.
	now := s.now().UTC()
	if now.Before(session.StartDate) || now.After(session.EndDate) {
		return nil, appErrors.ErrSessionNotActive
	}

	approvedElsewhere, err := s.repo.CountApprovedByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check supervision status")
	}
	if approvedElsewhere > 0 {
		return nil, appErrors.ErrAlreadySupervised
	}

	duplicate, err := s.repo.ExistsActiveForOffering(ctx, studentID, session.ProfessorID, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check duplicate request")
	}
	if duplicate {
		return nil, appErrors.ErrDuplicateRequest
	}

	approved, err := s.repo.CountApprovedBySession(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count approved requests")
	}
	if approved >= session.MaxStudents {
		return nil, appErrors.ErrSessionFull
	}

	request := &models.Request{
		StudentID:         studentID,
		ProfessorID:       session.ProfessorID,
		SessionID:         session.ID,
		Status:            models.RequestStatusPending,
		ThesisTitle:       payload.ThesisTitle,
		ThesisDescription: payload.ThesisDescription,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}
	return request, nil
}

// Decide approves or rejects a pending request. Approval re-validates
// capacity and the student's exclusivity under a row lock; the submission
// time checks above are advisory only.
func (s *RequestService) Decide(ctx context.Context, requestID, professorID string, payload DecideRequestPayload) (*models.Request, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}

	request, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if request.ProfessorID != professorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "request belongs to another professor")
	}
	if request.Status != models.RequestStatusPending {
		return nil, appErrors.ErrAlreadyProcessed
	}

	if payload.Approve {
		outcome, err := s.repo.Approve(ctx, requestID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve request")
		}
		switch outcome {
		case repository.ApproveSessionFull:
			s.recordDecision("session_full")
			return nil, appErrors.ErrSessionFull
		case repository.ApproveStudentTaken:
			s.recordDecision("student_taken")
			return nil, appErrors.ErrAlreadySupervised
		case repository.ApproveAlreadyProcessed:
			return nil, appErrors.ErrAlreadyProcessed
		}
		s.recordDecision("approved")
		s.invalidateOpenSessions(ctx)
		request.Status = models.RequestStatusApproved
		request.DocumentState = models.DocumentStateAwaitingStudent
		return request, nil
	}

	var reason *string
	if trimmed := strings.TrimSpace(payload.Reason); trimmed != "" {
		reason = &trimmed
	}
	if err := s.repo.Reject(ctx, requestID, reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The row existed above, so a zero-row conditional update
			// means a concurrent decision won.
			return nil, appErrors.ErrAlreadyProcessed
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject request")
	}
	s.recordDecision("rejected")
	request.Status = models.RequestStatusRejected
	request.Reason = reason
	return request, nil
}

// Delete withdraws a pending request. Only the submitting student may
// withdraw, and only while the request is still pending.
func (s *RequestService) Delete(ctx context.Context, requestID, studentID string) error {
	request, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if request.StudentID != studentID {
		return appErrors.Clone(appErrors.ErrForbidden, "request belongs to another student")
	}
	if request.Status != models.RequestStatusPending {
		return appErrors.ErrNotPending
	}

	if err := s.repo.Delete(ctx, requestID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete request")
	}
	return nil
}

// GetByID returns a request with its participant context. Only the student,
// the professor on the request, or an admin may read it.
func (s *RequestService) GetByID(ctx context.Context, requestID string, claims *models.JWTClaims) (*models.RequestDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if !canAccessRequest(&detail.Request, claims) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this request")
	}
	return detail, nil
}

// List returns requests scoped to the caller's role. Students see their own
// submissions, professors the requests addressed to them, admins everything.
func (s *RequestService) List(ctx context.Context, claims *models.JWTClaims, filter models.RequestFilter) ([]models.RequestDetail, int, error) {
	switch claims.Role {
	case models.RoleStudent:
		filter.StudentID = claims.UserID
		filter.ProfessorID = ""
	case models.RoleProfessor:
		filter.ProfessorID = claims.UserID
		filter.StudentID = ""
	}

	requests, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return requests, total, nil
}

// An approval consumes a spot, so the cached open-session listing with
// its availability counts is stale afterwards.
func (s *RequestService) invalidateOpenSessions(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, openSessionsCacheKey); err != nil {
		s.logger.Warn("invalidate open sessions cache", zap.Error(err))
	}
}

func (s *RequestService) recordDecision(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordDecision(outcome)
	}
}

func canAccessRequest(request *models.Request, claims *models.JWTClaims) bool {
	if claims == nil {
		return false
	}
	switch claims.Role {
	case models.RoleAdmin:
		return true
	case models.RoleProfessor:
		return request.ProfessorID == claims.UserID
	case models.RoleStudent:
		return request.StudentID == claims.UserID
	}
	return false
}
