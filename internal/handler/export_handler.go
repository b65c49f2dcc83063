package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alessia-badea/dissertation-api/internal/service"
	appErrors "github.com/alessia-badea/dissertation-api/pkg/errors"
	"github.com/alessia-badea/dissertation-api/pkg/response"
)

type exportService interface {
	Roster(ctx context.Context, professorID, format string) (*service.ExportFile, error)
}

// ExportHandler exposes supervision roster exports.
type ExportHandler struct {
	service exportService
}

// NewExportHandler builds a new handler.
func NewExportHandler(service exportService) *ExportHandler {
	return &ExportHandler{service: service}
}

// Roster godoc
// @Summary Export the supervision roster
// @Tags Exports
// @Produce json
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /exports/roster [get]
func (h *ExportHandler) Roster(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	format := c.DefaultQuery("format", "csv")
	file, err := h.service.Roster(c.Request.Context(), claims.UserID, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
