package handler

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alessia-badea/dissertation-api/internal/middleware"
	"github.com/alessia-badea/dissertation-api/internal/models"
	"github.com/alessia-badea/dissertation-api/internal/service"
	appErrors "github.com/alessia-badea/dissertation-api/pkg/errors"
)

type documentServiceMock struct {
	attachResp *models.Request
	attachErr  error
	rejectResp *models.Request
	rejectErr  error
	urlResp    *service.SignedDownload
	urlErr     error
	lastUpload service.DocumentUpload
	lastReason string
}

func (m *documentServiceMock) AttachStudentFile(ctx context.Context, requestID, studentID string, upload service.DocumentUpload) (*models.Request, error) {
	m.lastUpload = upload
	return m.attachResp, m.attachErr
}

func (m *documentServiceMock) AttachProfessorFile(ctx context.Context, requestID, professorID string, upload service.DocumentUpload) (*models.Request, error) {
	m.lastUpload = upload
	return m.attachResp, m.attachErr
}

func (m *documentServiceMock) RejectDocument(ctx context.Context, requestID, professorID, reason string) (*models.Request, error) {
	m.lastReason = reason
	return m.rejectResp, m.rejectErr
}

func (m *documentServiceMock) GetDownloadURL(ctx context.Context, requestID string, claims *models.JWTClaims, which string) (*service.SignedDownload, error) {
	return m.urlResp, m.urlErr
}

func (m *documentServiceMock) Download(ctx context.Context, token string) (*os.File, string, error) {
	return nil, "", appErrors.ErrNotFound
}

func multipartContext(t *testing.T, target string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "thesis.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 test"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func TestDocumentHandlerUploadStudent(t *testing.T) {
	mockSvc := &documentServiceMock{attachResp: &models.Request{
		ID:            "r1",
		Status:        models.RequestStatusApproved,
		DocumentState: models.DocumentStateAwaitingProfessor,
	}}
	handler := NewDocumentHandler(mockSvc)

	c, w := multipartContext(t, "/requests/r1/documents/student", &models.JWTClaims{UserID: "stu1", Role: models.RoleStudent})
	c.Params = gin.Params{{Key: "id", Value: "r1"}}

	handler.UploadStudent(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "thesis.pdf", mockSvc.lastUpload.Filename)
	assert.Contains(t, w.Body.String(), "AWAITING_PROFESSOR_REVIEW")
}

func TestDocumentHandlerUploadMissingFile(t *testing.T) {
	handler := NewDocumentHandler(&documentServiceMock{})

	c, w := testContext(t, http.MethodPost, "/requests/r1/documents/student", nil, &models.JWTClaims{UserID: "stu1", Role: models.RoleStudent})
	c.Params = gin.Params{{Key: "id", Value: "r1"}}

	handler.UploadStudent(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandlerUploadWrongState(t *testing.T) {
	mockSvc := &documentServiceMock{attachErr: appErrors.ErrWrongDocumentState}
	handler := NewDocumentHandler(mockSvc)

	c, w := multipartContext(t, "/requests/r1/documents/professor", &models.JWTClaims{UserID: "p1", Role: models.RoleProfessor})
	c.Params = gin.Params{{Key: "id", Value: "r1"}}

	handler.UploadProfessor(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestDocumentHandlerRejectRequiresReason(t *testing.T) {
	handler := NewDocumentHandler(&documentServiceMock{})

	c, w := testContext(t, http.MethodPut, "/requests/r1/documents/reject", []byte(`{}`), &models.JWTClaims{UserID: "p1", Role: models.RoleProfessor})
	c.Params = gin.Params{{Key: "id", Value: "r1"}}

	handler.RejectDocument(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandlerReject(t *testing.T) {
	mockSvc := &documentServiceMock{rejectResp: &models.Request{
		ID:            "r1",
		Status:        models.RequestStatusApproved,
		DocumentState: models.DocumentStateAwaitingStudent,
	}}
	handler := NewDocumentHandler(mockSvc)

	c, w := testContext(t, http.MethodPut, "/requests/r1/documents/reject", []byte(`{"reason":"missing bibliography"}`), &models.JWTClaims{UserID: "p1", Role: models.RoleProfessor})
	c.Params = gin.Params{{Key: "id", Value: "r1"}}

	handler.RejectDocument(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "missing bibliography", mockSvc.lastReason)
}

func TestDocumentHandlerDownloadURL(t *testing.T) {
	mockSvc := &documentServiceMock{urlResp: &service.SignedDownload{URL: "abc.def"}}
	handler := NewDocumentHandler(mockSvc)

	c, w := testContext(t, http.MethodGet, "/requests/r1/documents/url?kind=student", nil, &models.JWTClaims{UserID: "stu1", Role: models.RoleStudent})
	c.Params = gin.Params{{Key: "id", Value: "r1"}}

	handler.DownloadURL(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "abc.def")
}
