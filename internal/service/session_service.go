package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/alessia-badea/dissertation-api/internal/models"
	"github.com/alessia-badea/dissertation-api/internal/repository"
	"github.com/alessia-badea/dissertation-api/internal/schedule"
	appErrors "github.com/alessia-badea/dissertation-api/pkg/errors"
)

const openSessionsCacheKey = "sessions:open"

type sessionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	ListByProfessor(ctx context.Context, professorID string) ([]models.Session, error)
	ListOpen(ctx context.Context, now time.Time) ([]models.SessionAvailability, error)
	ListOwnedWithTallies(ctx context.Context, professorID string) ([]models.SessionTallies, error)
	Create(ctx context.Context, session *models.Session) (repository.SaveOutcome, error)
	Update(ctx context.Context, session *models.Session) (repository.SaveOutcome, error)
	Delete(ctx context.Context, id string) error
	CountRequests(ctx context.Context, sessionID string) (int, error)
}

type sessionApprovalChecker interface {
	HasApprovedBySession(ctx context.Context, sessionID string) (bool, error)
}

type professorReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// CreateSessionRequest describes the payload for opening a session.
type CreateSessionRequest struct {
	Title       string    `json:"title" validate:"required"`
	StartDate   time.Time `json:"start_date" validate:"required"`
	EndDate     time.Time `json:"end_date" validate:"required"`
	MaxStudents *int      `json:"max_students" validate:"omitempty,min=1,max=50"`
}

// UpdateSessionRequest describes a partial session update.
type UpdateSessionRequest struct {
	Title       *string    `json:"title" validate:"omitempty,min=1"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
	MaxStudents *int       `json:"max_students" validate:"omitempty,min=1,max=50"`
}

// SessionService owns the registration session lifecycle.
type SessionService struct {
	repo            sessionRepository
	requests        sessionApprovalChecker
	users           professorReader
	cache           *CacheService
	validator       *validator.Validate
	logger          *zap.Logger
	defaultCapacity int
	openListTTL     time.Duration
}

// NewSessionService constructs SessionService.
func NewSessionService(repo sessionRepository, requests sessionApprovalChecker, users professorReader, cache *CacheService, validate *validator.Validate, logger *zap.Logger, defaultCapacity int, openListTTL time.Duration) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultCapacity < models.SessionMinCapacity || defaultCapacity > models.SessionMaxCapacity {
		defaultCapacity = 5
	}
	return &SessionService{
		repo:            repo,
		requests:        requests,
		users:           users,
		cache:           cache,
		validator:       validate,
		logger:          logger,
		defaultCapacity: defaultCapacity,
		openListTTL:     openListTTL,
	}
}

// Create opens a new registration session for the professor.
func (s *SessionService) Create(ctx context.Context, professorID string, req CreateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}

	professor, err := s.users.FindByID(ctx, professorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "professor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load professor")
	}
	if professor.Role != models.RoleProfessor {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only professors can open sessions")
	}

	candidate := schedule.Window{Start: req.StartDate, End: req.EndDate}
	if err := schedule.Validate(candidate, time.Now().UTC(), true); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	existing, err := s.repo.ListByProfessor(ctx, professorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing sessions")
	}
	if schedule.Overlaps(windowsOf(existing), candidate, "") {
		return nil, appErrors.ErrSessionOverlap
	}

	capacity := s.defaultCapacity
	if professor.MaxStudents >= models.SessionMinCapacity && professor.MaxStudents <= models.SessionMaxCapacity {
		capacity = professor.MaxStudents
	}
	if req.MaxStudents != nil {
		capacity = *req.MaxStudents
	}

	session := &models.Session{
		ProfessorID: professorID,
		Title:       req.Title,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		MaxStudents: capacity,
	}
	// The in-memory check above is advisory only; the repository repeats
	// it under a per-professor lock so concurrent creates cannot both pass.
	outcome, err := s.repo.Create(ctx, session)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	if outcome == repository.SaveOverlap {
		return nil, appErrors.ErrSessionOverlap
	}

	s.invalidateOpenList(ctx)
	return session, nil
}

// ListOpen returns sessions still accepting requests, with remaining spots.
// The listing is served from cache when possible and recomputed otherwise.
func (s *SessionService) ListOpen(ctx context.Context, now time.Time) ([]models.SessionAvailability, error) {
	var cached []models.SessionAvailability
	if hit, err := s.cache.Get(ctx, openSessionsCacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	sessions, err := s.repo.ListOpen(ctx, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list open sessions")
	}
	for i := range sessions {
		spots := sessions[i].MaxStudents - sessions[i].ApprovedCount
		if spots < 0 {
			spots = 0
		}
		sessions[i].AvailableSpots = spots
	}

	if err := s.cache.Set(ctx, openSessionsCacheKey, sessions, s.openListTTL); err != nil {
		s.logger.Warn("cache open sessions", zap.Error(err))
	}
	return sessions, nil
}

// ListOwned returns the professor's sessions with request tallies.
func (s *SessionService) ListOwned(ctx context.Context, professorID string) ([]models.SessionTallies, error) {
	sessions, err := s.repo.ListOwnedWithTallies(ctx, professorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list owned sessions")
	}
	return sessions, nil
}

// Update applies a partial update to a session owned by the professor.
// Updates are refused while any referencing request is approved.
func (s *SessionService) Update(ctx context.Context, id, professorID string, req UpdateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}

	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session.ProfessorID != professorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another professor")
	}

	hasApproved, err := s.requests.HasApprovedBySession(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check approved requests")
	}
	if hasApproved {
		return nil, appErrors.ErrHasApprovedRequests
	}

	if req.Title != nil {
		session.Title = *req.Title
	}
	if req.MaxStudents != nil {
		session.MaxStudents = *req.MaxStudents
	}

	datesChanged := false
	now := time.Now().UTC()
	if req.StartDate != nil && !req.StartDate.Equal(session.StartDate) {
		// Moving the start requires it to still be in the future.
		if req.StartDate.Before(now) {
			return nil, appErrors.Clone(appErrors.ErrValidation, schedule.ErrPastStart.Error())
		}
		session.StartDate = *req.StartDate
		datesChanged = true
	}
	if req.EndDate != nil && !req.EndDate.Equal(session.EndDate) {
		session.EndDate = *req.EndDate
		datesChanged = true
	}

	if datesChanged {
		candidate := schedule.Window{ID: session.ID, Start: session.StartDate, End: session.EndDate}
		if err := schedule.Validate(candidate, now, false); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
		}
		existing, err := s.repo.ListByProfessor(ctx, professorID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing sessions")
		}
		if schedule.Overlaps(windowsOf(existing), candidate, session.ID) {
			return nil, appErrors.ErrSessionOverlap
		}
	}

	outcome, err := s.repo.Update(ctx, session)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session")
	}
	if outcome == repository.SaveOverlap {
		return nil, appErrors.ErrSessionOverlap
	}

	s.invalidateOpenList(ctx)
	return session, nil
}

// Delete removes a session that has no requests referencing it.
func (s *SessionService) Delete(ctx context.Context, id, professorID string) error {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session.ProfessorID != professorID {
		return appErrors.Clone(appErrors.ErrForbidden, "session belongs to another professor")
	}

	count, err := s.repo.CountRequests(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count session requests")
	}
	if count > 0 {
		return appErrors.ErrHasRequests
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
	}

	s.invalidateOpenList(ctx)
	return nil
}

func (s *SessionService) invalidateOpenList(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, openSessionsCacheKey); err != nil {
		s.logger.Warn("invalidate open sessions cache", zap.Error(err))
	}
}

func windowsOf(sessions []models.Session) []schedule.Window {
	windows := make([]schedule.Window, len(sessions))
	for i, session := range sessions {
		windows[i] = schedule.Window{ID: session.ID, Start: session.StartDate, End: session.EndDate}
	}
	return windows
}
