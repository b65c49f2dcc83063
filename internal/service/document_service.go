package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alessia-badea/dissertation-api/internal/models"
	appErrors "github.com/alessia-badea/dissertation-api/pkg/errors"
	"github.com/alessia-badea/dissertation-api/pkg/jobs"
)

// JobTypeDeleteBlob asks the cleanup queue to remove a stored document.
const JobTypeDeleteBlob = "delete_blob"

type documentRequestRepository interface {
	FindByID(ctx context.Context, id string) (*models.Request, error)
	SetStudentFile(ctx context.Context, id, path string) error
	SetProfessorFile(ctx context.Context, id, path string) error
	ClearStudentFile(ctx context.Context, id, reason string) error
}

type blobStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type urlSigner interface {
	Generate(requestID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (requestID, relPath string, expiresAt time.Time, err error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// DocumentUpload carries an incoming file and its declared metadata.
type DocumentUpload struct {
	Filename string
	Size     int64
	MimeType string
	Content  io.Reader
}

// SignedDownload is a time-limited handle for fetching a stored document.
type SignedDownload struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DocumentService runs the two-phase document exchange on approved requests.
type DocumentService struct {
	requests documentRequestRepository
	storage  blobStorage
	signer   urlSigner
	cleanup  jobEnqueuer
	logger   *zap.Logger

	maxFileSize  int64
	allowedMIMEs map[string]struct{}
}

// NewDocumentService constructs DocumentService.
func NewDocumentService(requests documentRequestRepository, storage blobStorage, signer urlSigner, cleanup jobEnqueuer, logger *zap.Logger, maxFileSize int64, allowedMIMEs []string) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	mimes := make(map[string]struct{}, len(allowedMIMEs))
	for _, m := range allowedMIMEs {
		mimes[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return &DocumentService{
		requests:     requests,
		storage:      storage,
		signer:       signer,
		cleanup:      cleanup,
		logger:       logger,
		maxFileSize:  maxFileSize,
		allowedMIMEs: mimes,
	}
}

// AttachStudentFile stores the student's dissertation draft. The request
// must be approved and waiting on the student.
func (s *DocumentService) AttachStudentFile(ctx context.Context, requestID, studentID string, upload DocumentUpload) (*models.Request, error) {
	request, err := s.loadApproved(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "request belongs to another student")
	}
	if request.DocumentState != models.DocumentStateAwaitingStudent {
		return nil, appErrors.ErrWrongDocumentState
	}

	path, err := s.store(requestID, "student", upload)
	if err != nil {
		return nil, err
	}
	if err := s.requests.SetStudentFile(ctx, requestID, path); err != nil {
		s.enqueueDelete(path)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach student file")
	}

	// A re-upload after a prior professor rejection replaces the old blob.
	if request.StudentFilePath != nil && *request.StudentFilePath != path {
		s.enqueueDelete(*request.StudentFilePath)
	}

	request.StudentFilePath = &path
	request.DocumentState = models.DocumentStateAwaitingProfessor
	return request, nil
}

// AttachProfessorFile stores the professor's signed review and completes the
// exchange. The student's file must already be in place.
func (s *DocumentService) AttachProfessorFile(ctx context.Context, requestID, professorID string, upload DocumentUpload) (*models.Request, error) {
	request, err := s.loadApproved(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.ProfessorID != professorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "request belongs to another professor")
	}
	if request.DocumentState != models.DocumentStateAwaitingProfessor {
		return nil, appErrors.ErrWrongDocumentState
	}

	path, err := s.store(requestID, "professor", upload)
	if err != nil {
		return nil, err
	}
	if err := s.requests.SetProfessorFile(ctx, requestID, path); err != nil {
		s.enqueueDelete(path)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach professor file")
	}

	request.ProfessorFilePath = &path
	request.DocumentState = models.DocumentStateCompleted
	return request, nil
}

// RejectDocument sends the student's upload back with a mandatory reason.
// The stored blob is removed asynchronously.
func (s *DocumentService) RejectDocument(ctx context.Context, requestID, professorID, reason string) (*models.Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}

	request, err := s.loadApproved(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.ProfessorID != professorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "request belongs to another professor")
	}
	if request.DocumentState != models.DocumentStateAwaitingProfessor {
		return nil, appErrors.ErrWrongDocumentState
	}

	if err := s.requests.ClearStudentFile(ctx, requestID, reason); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject document")
	}
	if request.StudentFilePath != nil {
		s.enqueueDelete(*request.StudentFilePath)
	}

	request.StudentFilePath = nil
	request.DocumentState = models.DocumentStateAwaitingStudent
	request.Reason = &reason
	return request, nil
}

// GetDownloadURL issues a signed, expiring URL for one of the request's
// stored documents. Only participants may request one.
func (s *DocumentService) GetDownloadURL(ctx context.Context, requestID string, claims *models.JWTClaims, which string) (*SignedDownload, error) {
	request, err := s.loadApproved(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canAccessRequest(request, claims) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this request")
	}

	var path *string
	switch which {
	case "student":
		path = request.StudentFilePath
	case "professor":
		path = request.ProfessorFilePath
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown document kind")
	}
	if path == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document not uploaded yet")
	}

	token, expiresAt, err := s.signer.Generate(requestID, *path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}
	return &SignedDownload{URL: token, ExpiresAt: expiresAt}, nil
}

// Download resolves a signed token back to the stored file.
func (s *DocumentService) Download(ctx context.Context, token string) (*os.File, string, error) {
	requestID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired download token")
	}

	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}

	// The token must still point at a live attachment.
	current := false
	if request.StudentFilePath != nil && *request.StudentFilePath == relPath {
		current = true
	}
	if request.ProfessorFilePath != nil && *request.ProfessorFilePath == relPath {
		current = true
	}
	if !current {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "document no longer available")
	}

	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open document")
	}
	return file, filepath.Base(relPath), nil
}

// DeleteBlob is the cleanup queue handler for removing stored documents.
func (s *DocumentService) DeleteBlob(ctx context.Context, job jobs.Job) error {
	path, ok := job.Payload.(string)
	if !ok || path == "" {
		return nil
	}
	if err := s.storage.Delete(path); err != nil {
		return fmt.Errorf("delete blob %s: %w", path, err)
	}
	return nil
}

func (s *DocumentService) loadApproved(ctx context.Context, requestID string) (*models.Request, error) {
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if request.Status != models.RequestStatusApproved {
		return nil, appErrors.ErrNotApproved
	}
	return request, nil
}

func (s *DocumentService) store(requestID, side string, upload DocumentUpload) (string, error) {
	if upload.Size <= 0 || (s.maxFileSize > 0 && upload.Size > s.maxFileSize) {
		return "", appErrors.Clone(appErrors.ErrValidation, "file size out of bounds")
	}
	mime := strings.ToLower(strings.TrimSpace(upload.MimeType))
	if len(s.allowedMIMEs) > 0 {
		if _, ok := s.allowedMIMEs[mime]; !ok {
			return "", appErrors.Clone(appErrors.ErrValidation, "unsupported file type")
		}
	}

	ext := filepath.Ext(upload.Filename)
	name := filepath.Join("requests", requestID, fmt.Sprintf("%s-%s%s", side, uuid.NewString(), ext))
	path, err := s.storage.SaveStream(name, upload.Content)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store document")
	}
	return path, nil
}

func (s *DocumentService) enqueueDelete(path string) {
	if s.cleanup == nil {
		return
	}
	job := jobs.Job{ID: uuid.NewString(), Type: JobTypeDeleteBlob, Payload: path}
	if err := s.cleanup.Enqueue(job); err != nil {
		s.logger.Warn("enqueue blob delete", zap.String("path", path), zap.Error(err))
	}
}
