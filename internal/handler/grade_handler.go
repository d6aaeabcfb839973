package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/paideia-lms/Paideia-sub010/internal/dto"
	"github.com/paideia-lms/Paideia-sub010/internal/models"
	"github.com/paideia-lms/Paideia-sub010/pkg/response"
)

type gradeRecordService interface {
	Record(ctx context.Context, req dto.RecordGradeRequest, actorID string) (*models.GradeRecordView, error)
	Update(ctx context.Context, id string, req dto.UpdateGradeRequest, actorID string) (*models.GradeRecordView, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.GradeRecordView, error)
	ListForEnrollment(ctx context.Context, enrollmentID, gradebookID string) ([]models.GradeRecordView, error)
	Release(ctx context.Context, req dto.ReleaseGradeRequest, actorID string) (*models.GradeRecordView, error)
	AddAdjustment(ctx context.Context, recordID string, req dto.AddAdjustmentRequest, actorID string) (*models.GradeRecordView, error)
	ToggleAdjustment(ctx context.Context, recordID, adjustmentID string) (*models.GradeRecordView, error)
	RemoveAdjustment(ctx context.Context, recordID, adjustmentID string) (*models.GradeRecordView, error)
}

// GradeHandler exposes grade record and adjustment endpoints.
type GradeHandler struct {
	grades gradeRecordService
}

// NewGradeHandler constructs the handler.
func NewGradeHandler(grades gradeRecordService) *GradeHandler {
	return &GradeHandler{grades: grades}
}

// Record godoc
// @Summary Record a grade for an enrollment and item
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body dto.RecordGradeRequest true "Grade"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /grades [post]
func (h *GradeHandler) Record(c *gin.Context) {
	var req dto.RecordGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	record, err := h.grades.Record(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Get godoc
// @Summary Get a grade record
// @Tags Grades
// @Produce json
// @Param id path string true "Grade record ID"
// @Success 200 {object} response.Envelope
// @Router /grades/{id} [get]
func (h *GradeHandler) Get(c *gin.Context) {
	h.respondRecord(c)(h.grades.Get(c.Request.Context(), c.Param("id")))
}

// Update godoc
// @Summary Update a grade record
// @Tags Grades
// @Accept json
// @Produce json
// @Param id path string true "Grade record ID"
// @Param payload body dto.UpdateGradeRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Router /grades/{id} [put]
func (h *GradeHandler) Update(c *gin.Context) {
	var req dto.UpdateGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	h.respondRecord(c)(h.grades.Update(c.Request.Context(), c.Param("id"), req, actorID(c)))
}

// Delete godoc
// @Summary Delete a grade record and its adjustments
// @Tags Grades
// @Param id path string true "Grade record ID"
// @Success 204
// @Router /grades/{id} [delete]
func (h *GradeHandler) Delete(c *gin.Context) {
	if err := h.grades.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListForEnrollment godoc
// @Summary List an enrollment's grade records in a gradebook
// @Tags Grades
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param enrollmentId path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/enrollments/{enrollmentId}/grades [get]
func (h *GradeHandler) ListForEnrollment(c *gin.Context) {
	records, err := h.grades.ListForEnrollment(c.Request.Context(), c.Param("enrollmentId"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, records)
}

// Release godoc
// @Summary Release a submission grade
// @Description Creates the pair's record or overwrites its base grade with the released score.
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body dto.ReleaseGradeRequest true "Released grade"
// @Success 200 {object} response.Envelope
// @Router /grades/release [post]
func (h *GradeHandler) Release(c *gin.Context) {
	var req dto.ReleaseGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	h.respondRecord(c)(h.grades.Release(c.Request.Context(), req, actorID(c)))
}

// AddAdjustment godoc
// @Summary Add an adjustment to a grade record
// @Tags Adjustments
// @Accept json
// @Produce json
// @Param id path string true "Grade record ID"
// @Param payload body dto.AddAdjustmentRequest true "Adjustment"
// @Success 201 {object} response.Envelope
// @Router /grades/{id}/adjustments [post]
func (h *GradeHandler) AddAdjustment(c *gin.Context) {
	var req dto.AddAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	record, err := h.grades.AddAdjustment(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// ToggleAdjustment godoc
// @Summary Toggle whether an adjustment is active
// @Tags Adjustments
// @Produce json
// @Param id path string true "Grade record ID"
// @Param adjustmentId path string true "Adjustment ID"
// @Success 200 {object} response.Envelope
// @Router /grades/{id}/adjustments/{adjustmentId}/toggle [post]
func (h *GradeHandler) ToggleAdjustment(c *gin.Context) {
	h.respondRecord(c)(h.grades.ToggleAdjustment(c.Request.Context(), c.Param("id"), c.Param("adjustmentId")))
}

// RemoveAdjustment godoc
// @Summary Remove an adjustment
// @Tags Adjustments
// @Produce json
// @Param id path string true "Grade record ID"
// @Param adjustmentId path string true "Adjustment ID"
// @Success 200 {object} response.Envelope
// @Router /grades/{id}/adjustments/{adjustmentId} [delete]
func (h *GradeHandler) RemoveAdjustment(c *gin.Context) {
	h.respondRecord(c)(h.grades.RemoveAdjustment(c.Request.Context(), c.Param("id"), c.Param("adjustmentId")))
}

func (h *GradeHandler) respondRecord(c *gin.Context) func(*models.GradeRecordView, error) {
	return func(record *models.GradeRecordView, err error) {
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, record)
	}
}
