package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/paideia-lms/Paideia-sub010/internal/dto"
	"github.com/paideia-lms/Paideia-sub010/internal/models"
	"github.com/paideia-lms/Paideia-sub010/pkg/response"
)

type finalGradeService interface {
	Compute(ctx context.Context, gradebookID, enrollmentID string) (*models.FinalGrade, error)
	Roster(ctx context.Context, gradebookID string) (*models.RosterReport, error)
}

type exportService interface {
	Generate(ctx context.Context, gradebookID string, req dto.ExportRequest) (*dto.ExportResult, error)
	Open(token string) (*os.File, string, error)
}

// ReportHandler exposes final grade, roster and export endpoints.
type ReportHandler struct {
	grades  finalGradeService
	exports exportService
}

// NewReportHandler constructs the handler. exports may be nil when exports are disabled.
func NewReportHandler(grades finalGradeService, exports exportService) *ReportHandler {
	return &ReportHandler{grades: grades, exports: exports}
}

// FinalGrade godoc
// @Summary Compute an enrollment's final grade
// @Tags Reports
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param enrollmentId path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /gradebooks/{id}/enrollments/{enrollmentId}/final-grade [get]
func (h *ReportHandler) FinalGrade(c *gin.Context) {
	result, err := h.grades.Compute(c.Request.Context(), c.Param("id"), c.Param("enrollmentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Roster godoc
// @Summary Final grades of every active enrollment
// @Tags Reports
// @Produce json
// @Param id path string true "Gradebook ID"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/report [get]
func (h *ReportHandler) Roster(c *gin.Context) {
	report, err := h.grades.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// Export godoc
// @Summary Export the roster report
// @Tags Reports
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param format query string true "csv or pdf"
// @Success 201 {object} response.Envelope
// @Router /gradebooks/{id}/exports [post]
func (h *ReportHandler) Export(c *gin.Context) {
	req := dto.ExportRequest{Format: dto.ExportFormat(c.Query("format"))}
	result, err := h.exports.Generate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download an export through its signed link
// @Tags Reports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /exports/{token} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	file, name, err := h.exports.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, err)
		return
	}
	headers := map[string]string{"Content-Disposition": fmt.Sprintf("attachment; filename=%q", name)}
	c.DataFromReader(http.StatusOK, info.Size(), contentType(name), file, headers)
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".csv":
		return "text/csv"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
