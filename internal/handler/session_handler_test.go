package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alessia-badea/dissertation-api/internal/middleware"
	"github.com/alessia-badea/dissertation-api/internal/models"
	"github.com/alessia-badea/dissertation-api/internal/service"
	appErrors "github.com/alessia-badea/dissertation-api/pkg/errors"
)

type sessionServiceMock struct {
	createResp   *models.Session
	createErr    error
	openResp     []models.SessionAvailability
	ownedResp    []models.SessionTallies
	updateResp   *models.Session
	updateErr    error
	deleteErr    error
	createCalled bool
	lastOwner    string
}

func (m *sessionServiceMock) Create(ctx context.Context, professorID string, req service.CreateSessionRequest) (*models.Session, error) {
	m.createCalled = true
	m.lastOwner = professorID
	return m.createResp, m.createErr
}

func (m *sessionServiceMock) ListOpen(ctx context.Context, now time.Time) ([]models.SessionAvailability, error) {
	return m.openResp, nil
}

func (m *sessionServiceMock) ListOwned(ctx context.Context, professorID string) ([]models.SessionTallies, error) {
	m.lastOwner = professorID
	return m.ownedResp, nil
}

func (m *sessionServiceMock) Update(ctx context.Context, id, professorID string, req service.UpdateSessionRequest) (*models.Session, error) {
	m.lastOwner = professorID
	return m.updateResp, m.updateErr
}

func (m *sessionServiceMock) Delete(ctx context.Context, id, professorID string) error {
	m.lastOwner = professorID
	return m.deleteErr
}

func testContext(t *testing.T, method, target string, body []byte, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body != nil {
		req, _ = http.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, target, nil)
	}
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func TestSessionHandlerCreate(t *testing.T) {
	mockSvc := &sessionServiceMock{createResp: &models.Session{ID: "s1", Title: "Autumn"}}
	handler := NewSessionHandler(mockSvc)

	start := time.Now().UTC().Add(time.Hour)
	payload, _ := json.Marshal(service.CreateSessionRequest{
		Title:     "Autumn",
		StartDate: start,
		EndDate:   start.Add(24 * time.Hour),
	})
	c, w := testContext(t, http.MethodPost, "/sessions", payload, &models.JWTClaims{UserID: "p1", Role: models.RoleProfessor})

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, mockSvc.createCalled)
	assert.Equal(t, "p1", mockSvc.lastOwner)
}

func TestSessionHandlerCreateOverlapConflict(t *testing.T) {
	mockSvc := &sessionServiceMock{createErr: appErrors.ErrSessionOverlap}
	handler := NewSessionHandler(mockSvc)

	start := time.Now().UTC().Add(time.Hour)
	payload, _ := json.Marshal(service.CreateSessionRequest{
		Title:     "Autumn",
		StartDate: start,
		EndDate:   start.Add(24 * time.Hour),
	})
	c, w := testContext(t, http.MethodPost, "/sessions", payload, &models.JWTClaims{UserID: "p1", Role: models.RoleProfessor})

	handler.Create(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestSessionHandlerCreateUnauthenticated(t *testing.T) {
	handler := NewSessionHandler(&sessionServiceMock{})

	c, w := testContext(t, http.MethodPost, "/sessions", []byte(`{}`), nil)

	handler.Create(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionHandlerListOpen(t *testing.T) {
	mockSvc := &sessionServiceMock{openResp: []models.SessionAvailability{
		{Session: models.Session{ID: "s1", MaxStudents: 5}, AvailableSpots: 3},
	}}
	handler := NewSessionHandler(mockSvc)

	c, w := testContext(t, http.MethodGet, "/sessions", nil, &models.JWTClaims{UserID: "stu1", Role: models.RoleStudent})

	handler.ListOpen(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "available_spots")
}

func TestSessionHandlerDeleteSuccess(t *testing.T) {
	mockSvc := &sessionServiceMock{}
	handler := NewSessionHandler(mockSvc)

	c, w := testContext(t, http.MethodDelete, "/sessions/s1", nil, &models.JWTClaims{UserID: "p1", Role: models.RoleProfessor})
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	handler.Delete(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "p1", mockSvc.lastOwner)
}

func TestSessionHandlerDeleteConflict(t *testing.T) {
	mockSvc := &sessionServiceMock{deleteErr: appErrors.ErrHasRequests}
	handler := NewSessionHandler(mockSvc)

	c, w := testContext(t, http.MethodDelete, "/sessions/s1", nil, &models.JWTClaims{UserID: "p1", Role: models.RoleProfessor})
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	handler.Delete(c)
	require.Equal(t, http.StatusConflict, w.Code)
}
