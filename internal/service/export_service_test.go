package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alessia-badea/dissertation-api/internal/models"
	appErrors "github.com/alessia-badea/dissertation-api/pkg/errors"
)

type rosterListerStub struct {
	rows       []models.RequestDetail
	lastFilter models.RequestFilter
}

func (s *rosterListerStub) List(ctx context.Context, filter models.RequestFilter) ([]models.RequestDetail, int, error) {
	s.lastFilter = filter
	return s.rows, len(s.rows), nil
}

func rosterRows() []models.RequestDetail {
	return []models.RequestDetail{
		{
			Request: models.Request{
				ID:            "r1",
				Status:        models.RequestStatusApproved,
				DocumentState: models.DocumentStateCompleted,
				ThesisTitle:   "Consensus protocols",
			},
			StudentName:  "Ana Pop",
			SessionTitle: "Autumn supervision",
		},
	}
}

func TestExportServiceRosterCSV(t *testing.T) {
	lister := &rosterListerStub{rows: rosterRows()}
	svc := NewExportService(lister, zap.NewNop())

	file, err := svc.Roster(context.Background(), "p1", "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.True(t, strings.HasSuffix(file.Filename, ".csv"))
	assert.Contains(t, string(file.Data), "Ana Pop")
	assert.Contains(t, string(file.Data), "Consensus protocols")

	assert.Equal(t, "p1", lister.lastFilter.ProfessorID)
	assert.Equal(t, models.RequestStatusApproved, lister.lastFilter.Status)
}

type pagedRosterStub struct {
	rows  []models.RequestDetail
	pages []int
}

func (s *pagedRosterStub) List(ctx context.Context, filter models.RequestFilter) ([]models.RequestDetail, int, error) {
	s.pages = append(s.pages, filter.Page)
	start := (filter.Page - 1) * filter.PageSize
	if start >= len(s.rows) {
		return nil, len(s.rows), nil
	}
	end := start + filter.PageSize
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[start:end], len(s.rows), nil
}

func TestExportServiceRosterCollectsAllPages(t *testing.T) {
	rows := make([]models.RequestDetail, 130)
	for i := range rows {
		rows[i] = models.RequestDetail{
			Request:     models.Request{ID: "r", Status: models.RequestStatusApproved, ThesisTitle: "Topic"},
			StudentName: "Student",
		}
	}
	lister := &pagedRosterStub{rows: rows}
	svc := NewExportService(lister, zap.NewNop())

	file, err := svc.Roster(context.Background(), "p1", "csv")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, lister.pages)

	lines := strings.Split(strings.TrimSpace(string(file.Data)), "\n")
	assert.Len(t, lines, 131)
}

func TestExportServiceRosterPDF(t *testing.T) {
	lister := &rosterListerStub{rows: rosterRows()}
	svc := NewExportService(lister, zap.NewNop())

	file, err := svc.Roster(context.Background(), "p1", "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.NotEmpty(t, file.Data)
}

func TestExportServiceRosterUnknownFormat(t *testing.T) {
	svc := NewExportService(&rosterListerStub{}, zap.NewNop())

	_, err := svc.Roster(context.Background(), "p1", "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
