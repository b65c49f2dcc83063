package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alessia-badea/dissertation-api/internal/models"
)

func newRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func requestColumns() []string {
	return []string{
		"id", "student_id", "professor_id", "session_id", "status", "document_state",
		"thesis_title", "thesis_description", "reason", "student_file_path",
		"professor_file_path", "created_at", "updated_at",
	}
}

func TestRequestRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(requestColumns()).
		AddRow("r1", "stu1", "p1", "s1", "PENDING", "", "Title", "Description", nil, nil, nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, professor_id, session_id, status, document_state, thesis_title, thesis_description, reason, student_file_path, professor_file_path, created_at, updated_at FROM requests WHERE id = $1")).
		WithArgs("r1").
		WillReturnRows(rows)

	request, err := repo.FindByID(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, request.Status)
	assert.Nil(t, request.StudentFilePath)
}

func TestRequestRepositoryFindByIDMissing(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRequestRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	request := &models.Request{
		StudentID:         "stu1",
		ProfessorID:       "p1",
		SessionID:         "s1",
		ThesisTitle:       "Title",
		ThesisDescription: "Description",
	}
	require.NoError(t, repo.Create(context.Background(), request))
	assert.NotEmpty(t, request.ID)
	assert.Equal(t, models.RequestStatusPending, request.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryExistsActiveForOffering(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM requests WHERE student_id = $1 AND professor_id = $2 AND session_id = $3 AND status IN ($4, $5) LIMIT 1")).
		WithArgs("stu1", "p1", "s1", string(models.RequestStatusPending), string(models.RequestStatusApproved)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsActiveForOffering(context.Background(), "stu1", "p1", "s1")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM requests")).
		WillReturnError(sql.ErrNoRows)

	exists, err = repo.ExistsActiveForOffering(context.Background(), "stu2", "p1", "s1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func expectLockedRequest(mock sqlmock.Sqlmock, status models.RequestStatus) {
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id, session_id, status FROM requests WHERE id = $1 FOR UPDATE")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "session_id", "status"}).AddRow("stu1", "s1", string(status)))
}

func expectStudentLock(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("stu1").
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestRequestRepositoryApprove(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	expectLockedRequest(mock, models.RequestStatusPending)
	expectStudentLock(mock)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max_students FROM sessions WHERE id = $1 FOR UPDATE")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"max_students"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM requests WHERE session_id = $1 AND status = $2")).
		WithArgs("s1", string(models.RequestStatusApproved)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM requests WHERE student_id = $1 AND status = $2")).
		WithArgs("stu1", string(models.RequestStatusApproved)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE requests SET status = $2, document_state = $3, updated_at = $4 WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := repo.Approve(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, ApproveOK, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApproveSessionFull(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	expectLockedRequest(mock, models.RequestStatusPending)
	expectStudentLock(mock)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max_students FROM sessions WHERE id = $1 FOR UPDATE")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"max_students"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM requests WHERE session_id = $1 AND status = $2")).
		WithArgs("s1", string(models.RequestStatusApproved)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	outcome, err := repo.Approve(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, ApproveSessionFull, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApproveStudentTaken(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	expectLockedRequest(mock, models.RequestStatusPending)
	expectStudentLock(mock)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max_students FROM sessions WHERE id = $1 FOR UPDATE")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"max_students"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM requests WHERE session_id = $1 AND status = $2")).
		WithArgs("s1", string(models.RequestStatusApproved)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM requests WHERE student_id = $1 AND status = $2")).
		WithArgs("stu1", string(models.RequestStatusApproved)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	outcome, err := repo.Approve(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, ApproveStudentTaken, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApproveAlreadyProcessed(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	expectLockedRequest(mock, models.RequestStatusRejected)
	mock.ExpectRollback()

	outcome, err := repo.Approve(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, ApproveAlreadyProcessed, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryReject(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	reason := "topic already covered"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE requests SET status = $2, reason = $3, updated_at = $4 WHERE id = $1 AND status = $5")).
		WithArgs("r1", string(models.RequestStatusRejected), &reason, sqlmock.AnyArg(), string(models.RequestStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Reject(context.Background(), "r1", &reason))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryRejectAlreadyProcessed(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE requests SET status = $2, reason = $3, updated_at = $4 WHERE id = $1 AND status = $5")).
		WithArgs("r1", string(models.RequestStatusRejected), nil, sqlmock.AnyArg(), string(models.RequestStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Reject(context.Background(), "r1", nil)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryClearStudentFile(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE requests SET student_file_path = NULL, reason = $2, document_state = $3, updated_at = $4 WHERE id = $1")).
		WithArgs("r1", "missing bibliography", string(models.DocumentStateAwaitingStudent), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ClearStudentFile(context.Background(), "r1", "missing bibliography"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryList(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	now := time.Now()
	columns := append(requestColumns(), "student_name", "professor_name", "session_title")
	rows := sqlmock.NewRows(columns).
		AddRow("r1", "stu1", "p1", "s1", "APPROVED", "COMPLETED", "Title", "Description", nil, "requests/r1/a.pdf", "requests/r1/b.pdf", now, now, "Ana Pop", "Dr. Ionescu", "Autumn supervision")

	mock.ExpectQuery("SELECT r.id").
		WithArgs("p1", string(models.RequestStatusApproved)).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("p1", string(models.RequestStatusApproved)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	requests, total, err := repo.List(context.Background(), models.RequestFilter{
		ProfessorID: "p1",
		Status:      models.RequestStatusApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, requests, 1)
	assert.Equal(t, "Ana Pop", requests[0].StudentName)
}
