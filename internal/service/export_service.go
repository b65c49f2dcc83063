package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alessia-badea/dissertation-api/internal/models"
	appErrors "github.com/alessia-badea/dissertation-api/pkg/errors"
	"github.com/alessia-badea/dissertation-api/pkg/export"
)

type requestLister interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.RequestDetail, int, error)
}

// ExportFile is a rendered export ready for download.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders a professor's supervision roster as CSV or PDF.
type ExportService struct {
	requests requestLister
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
}

// NewExportService constructs ExportService.
func NewExportService(requests requestLister, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		requests: requests,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
	}
}

// rosterPageSize is the largest page the request listing accepts.
const rosterPageSize = 100

// Roster renders the professor's approved supervisions in the requested
// format. Supported formats are "csv" and "pdf". The underlying listing is
// paginated, so the roster pages through it until every row is collected.
func (s *ExportService) Roster(ctx context.Context, professorID, format string) (*ExportFile, error) {
	filter := models.RequestFilter{
		ProfessorID: professorID,
		Status:      models.RequestStatusApproved,
		Page:        1,
		PageSize:    rosterPageSize,
	}
	var rows []models.RequestDetail
	for {
		page, total, err := s.requests.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
		}
		rows = append(rows, page...)
		if len(page) < rosterPageSize || len(rows) >= total {
			break
		}
		filter.Page++
	}

	dataset := export.Dataset{
		Headers: []string{"Student", "Thesis Title", "Session", "Document Stage", "Approved At"},
		Rows:    make([][]string, 0, len(rows)),
	}
	for _, row := range rows {
		dataset.Rows = append(dataset.Rows, []string{
			row.StudentName,
			row.ThesisTitle,
			row.SessionTitle,
			string(row.DocumentState),
			row.UpdatedAt.Format("2006-01-02"),
		})
	}

	stamp := time.Now().UTC().Format("20060102")
	switch format {
	case "csv":
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportFile{
			Filename:    fmt.Sprintf("supervision-roster-%s.csv", stamp),
			ContentType: "text/csv",
			Data:        data,
		}, nil
	case "pdf":
		data, err := s.pdf.Render(dataset, "Supervision Roster")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportFile{
			Filename:    fmt.Sprintf("supervision-roster-%s.pdf", stamp),
			ContentType: "application/pdf",
			Data:        data,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}
