package handler

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/alessia-badea/dissertation-api/internal/models"
	"github.com/alessia-badea/dissertation-api/internal/service"
	appErrors "github.com/alessia-badea/dissertation-api/pkg/errors"
	"github.com/alessia-badea/dissertation-api/pkg/response"
)

type documentService interface {
	AttachStudentFile(ctx context.Context, requestID, studentID string, upload service.DocumentUpload) (*models.Request, error)
	AttachProfessorFile(ctx context.Context, requestID, professorID string, upload service.DocumentUpload) (*models.Request, error)
	RejectDocument(ctx context.Context, requestID, professorID, reason string) (*models.Request, error)
	GetDownloadURL(ctx context.Context, requestID string, claims *models.JWTClaims, which string) (*service.SignedDownload, error)
	Download(ctx context.Context, token string) (*os.File, string, error)
}

// DocumentHandler exposes the document exchange endpoints.
type DocumentHandler struct {
	service documentService
}

// NewDocumentHandler builds a new handler.
func NewDocumentHandler(service documentService) *DocumentHandler {
	return &DocumentHandler{service: service}
}

// UploadStudent godoc
// @Summary Upload the student's dissertation file
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Request ID"
// @Param file formData file true "Document"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/documents/student [post]
func (h *DocumentHandler) UploadStudent(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	upload, err := uploadFromForm(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer upload.close()

	request, err := h.service.AttachStudentFile(c.Request.Context(), c.Param("id"), claims.UserID, upload.DocumentUpload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// UploadProfessor godoc
// @Summary Upload the professor's signed review
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Request ID"
// @Param file formData file true "Document"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/documents/professor [post]
func (h *DocumentHandler) UploadProfessor(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	upload, err := uploadFromForm(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer upload.close()

	request, err := h.service.AttachProfessorFile(c.Request.Context(), c.Param("id"), claims.UserID, upload.DocumentUpload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// RejectDocument godoc
// @Summary Reject the student's uploaded document
// @Tags Documents
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body map[string]string true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/documents/reject [put]
func (h *DocumentHandler) RejectDocument(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required"))
		return
	}
	request, err := h.service.RejectDocument(c.Request.Context(), c.Param("id"), claims.UserID, payload.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// DownloadURL godoc
// @Summary Get a signed download link for a document
// @Tags Documents
// @Produce json
// @Param id path string true "Request ID"
// @Param kind query string true "Document kind: student or professor"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/documents/url [get]
func (h *DocumentHandler) DownloadURL(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	download, err := h.service.GetDownloadURL(c.Request.Context(), c.Param("id"), claims, c.Query("kind"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, download, nil)
}

// Download godoc
// @Summary Download a document via a signed token
// @Tags Documents
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Router /documents/download [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, name, err := h.service.Download(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat document"))
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", file, nil)
}

type formUpload struct {
	service.DocumentUpload
	src interface{ Close() error }
}

func (u formUpload) close() {
	if u.src != nil {
		_ = u.src.Close()
	}
}

func uploadFromForm(c *gin.Context) (formUpload, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return formUpload{}, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return formUpload{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	return formUpload{
		DocumentUpload: service.DocumentUpload{
			Filename: fileHeader.Filename,
			Size:     fileHeader.Size,
			MimeType: fileHeader.Header.Get("Content-Type"),
			Content:  src,
		},
		src: src,
	}, nil
}
