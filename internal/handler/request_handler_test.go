package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alessia-badea/dissertation-api/internal/models"
	"github.com/alessia-badea/dissertation-api/internal/service"
	appErrors "github.com/alessia-badea/dissertation-api/pkg/errors"
)

type requestServiceMock struct {
	createResp   *models.Request
	createErr    error
	decideResp   *models.Request
	decideErr    error
	deleteErr    error
	getResp      *models.RequestDetail
	getErr       error
	listResp     []models.RequestDetail
	lastStudent  string
	lastDeciding string
	lastFilter   models.RequestFilter
	lastPayload  service.DecideRequestPayload
}

func (m *requestServiceMock) Create(ctx context.Context, studentID string, payload service.CreateRequestPayload) (*models.Request, error) {
	m.lastStudent = studentID
	return m.createResp, m.createErr
}

func (m *requestServiceMock) Decide(ctx context.Context, requestID, professorID string, payload service.DecideRequestPayload) (*models.Request, error) {
	m.lastDeciding = professorID
	m.lastPayload = payload
	return m.decideResp, m.decideErr
}

func (m *requestServiceMock) Delete(ctx context.Context, requestID, studentID string) error {
	m.lastStudent = studentID
	return m.deleteErr
}

func (m *requestServiceMock) GetByID(ctx context.Context, requestID string, claims *models.JWTClaims) (*models.RequestDetail, error) {
	return m.getResp, m.getErr
}

func (m *requestServiceMock) List(ctx context.Context, claims *models.JWTClaims, filter models.RequestFilter) ([]models.RequestDetail, int, error) {
	m.lastFilter = filter
	return m.listResp, len(m.listResp), nil
}

func TestRequestHandlerCreate(t *testing.T) {
	mockSvc := &requestServiceMock{createResp: &models.Request{ID: "r1", Status: models.RequestStatusPending}}
	handler := NewRequestHandler(mockSvc)

	payload, _ := json.Marshal(service.CreateRequestPayload{
		SessionID:         "7b8a3c9e-1f2d-4a5b-8c6d-0e1f2a3b4c5d",
		ThesisTitle:       "Consensus protocols",
		ThesisDescription: "Leader election under partial failure.",
	})
	c, w := testContext(t, http.MethodPost, "/requests", payload, &models.JWTClaims{UserID: "stu1", Role: models.RoleStudent})

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "stu1", mockSvc.lastStudent)
}

func TestRequestHandlerCreateConflicts(t *testing.T) {
	for _, svcErr := range []error{
		appErrors.ErrSessionNotActive,
		appErrors.ErrAlreadySupervised,
		appErrors.ErrDuplicateRequest,
		appErrors.ErrSessionFull,
	} {
		mockSvc := &requestServiceMock{createErr: svcErr}
		handler := NewRequestHandler(mockSvc)

		payload, _ := json.Marshal(service.CreateRequestPayload{
			SessionID:         "7b8a3c9e-1f2d-4a5b-8c6d-0e1f2a3b4c5d",
			ThesisTitle:       "Consensus protocols",
			ThesisDescription: "Leader election under partial failure.",
		})
		c, w := testContext(t, http.MethodPost, "/requests", payload, &models.JWTClaims{UserID: "stu1", Role: models.RoleStudent})

		handler.Create(c)
		require.Equal(t, http.StatusConflict, w.Code)
	}
}

func TestRequestHandlerDecideApprove(t *testing.T) {
	mockSvc := &requestServiceMock{decideResp: &models.Request{
		ID:            "r1",
		Status:        models.RequestStatusApproved,
		DocumentState: models.DocumentStateAwaitingStudent,
	}}
	handler := NewRequestHandler(mockSvc)

	c, w := testContext(t, http.MethodPut, "/requests/r1/decision", []byte(`{"approve":true}`), &models.JWTClaims{UserID: "p1", Role: models.RoleProfessor})
	c.Params = gin.Params{{Key: "id", Value: "r1"}}

	handler.Decide(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "p1", mockSvc.lastDeciding)
	assert.True(t, mockSvc.lastPayload.Approve)
	assert.Contains(t, w.Body.String(), "AWAITING_STUDENT_UPLOAD")
}

func TestRequestHandlerDecideAlreadyProcessed(t *testing.T) {
	mockSvc := &requestServiceMock{decideErr: appErrors.ErrAlreadyProcessed}
	handler := NewRequestHandler(mockSvc)

	c, w := testContext(t, http.MethodPut, "/requests/r1/decision", []byte(`{"approve":false}`), &models.JWTClaims{UserID: "p1", Role: models.RoleProfessor})
	c.Params = gin.Params{{Key: "id", Value: "r1"}}

	handler.Decide(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestRequestHandlerListPassesFilter(t *testing.T) {
	mockSvc := &requestServiceMock{}
	handler := NewRequestHandler(mockSvc)

	c, w := testContext(t, http.MethodGet, "/requests?status=pending&sessionId=s1&page=2&limit=10", nil, &models.JWTClaims{UserID: "p1", Role: models.RoleProfessor})

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RequestStatusPending, mockSvc.lastFilter.Status)
	assert.Equal(t, "s1", mockSvc.lastFilter.SessionID)
	assert.Equal(t, 2, mockSvc.lastFilter.Page)
	assert.Equal(t, 10, mockSvc.lastFilter.PageSize)
}

func TestRequestHandlerDeleteSuccess(t *testing.T) {
	mockSvc := &requestServiceMock{}
	handler := NewRequestHandler(mockSvc)

	c, w := testContext(t, http.MethodDelete, "/requests/r1", nil, &models.JWTClaims{UserID: "stu1", Role: models.RoleStudent})
	c.Params = gin.Params{{Key: "id", Value: "r1"}}

	handler.Delete(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stu1", mockSvc.lastStudent)
}

func TestRequestHandlerDeleteNotPending(t *testing.T) {
	mockSvc := &requestServiceMock{deleteErr: appErrors.ErrNotPending}
	handler := NewRequestHandler(mockSvc)

	c, w := testContext(t, http.MethodDelete, "/requests/r1", nil, &models.JWTClaims{UserID: "stu1", Role: models.RoleStudent})
	c.Params = gin.Params{{Key: "id", Value: "r1"}}

	handler.Delete(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestRequestHandlerGetForbidden(t *testing.T) {
	mockSvc := &requestServiceMock{getErr: appErrors.ErrForbidden}
	handler := NewRequestHandler(mockSvc)

	c, w := testContext(t, http.MethodGet, "/requests/r1", nil, &models.JWTClaims{UserID: "stu2", Role: models.RoleStudent})
	c.Params = gin.Params{{Key: "id", Value: "r1"}}

	handler.Get(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}
