package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/paideia-lms/Paideia-sub010/internal/dto"
	"github.com/paideia-lms/Paideia-sub010/internal/gradebook"
	"github.com/paideia-lms/Paideia-sub010/internal/models"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
	"github.com/paideia-lms/Paideia-sub010/pkg/response"
)

type gradebookService interface {
	Create(ctx context.Context, req dto.CreateGradebookRequest) (*models.Gradebook, error)
	Get(ctx context.Context, id string) (*models.GradebookTree, error)
	GetByCourse(ctx context.Context, courseID string) (*models.GradebookTree, error)
	Delete(ctx context.Context, id string) error
}

type hierarchyService interface {
	Mutate(ctx context.Context, gradebookID string, ops []gradebook.Op) (*models.GradebookTree, error)
	CreateCategory(ctx context.Context, gradebookID string, req dto.CategoryRequest) (*models.GradebookTree, error)
	UpdateCategory(ctx context.Context, gradebookID, categoryID string, req dto.CategoryRequest) (*models.GradebookTree, error)
	DeleteCategory(ctx context.Context, gradebookID, categoryID string) (*models.GradebookTree, error)
	CreateItem(ctx context.Context, gradebookID string, req dto.ItemRequest) (*models.GradebookTree, error)
	UpdateItem(ctx context.Context, gradebookID, itemID string, req dto.ItemRequest) (*models.GradebookTree, error)
	DeleteItem(ctx context.Context, gradebookID, itemID string) (*models.GradebookTree, error)
	Reorder(ctx context.Context, gradebookID string, req dto.ReorderRequest) (*models.GradebookTree, error)
}

// GradebookHandler exposes gradebook and hierarchy endpoints.
type GradebookHandler struct {
	gradebooks gradebookService
	hierarchy  hierarchyService
}

// NewGradebookHandler constructs the handler.
func NewGradebookHandler(gradebooks gradebookService, hierarchy hierarchyService) *GradebookHandler {
	return &GradebookHandler{gradebooks: gradebooks, hierarchy: hierarchy}
}

func invalidPayload(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload")
}

// Create godoc
// @Summary Create the gradebook of a course
// @Tags Gradebooks
// @Accept json
// @Produce json
// @Param payload body dto.CreateGradebookRequest true "Gradebook payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /gradebooks [post]
func (h *GradebookHandler) Create(c *gin.Context) {
	var req dto.CreateGradebookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	gb, err := h.gradebooks.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gb)
}

// Get godoc
// @Summary Get a gradebook with its hierarchy
// @Tags Gradebooks
// @Produce json
// @Param id path string true "Gradebook ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /gradebooks/{id} [get]
func (h *GradebookHandler) Get(c *gin.Context) {
	tree, err := h.gradebooks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, tree)
}

// GetByCourse godoc
// @Summary Get the gradebook of a course
// @Tags Gradebooks
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/gradebook [get]
func (h *GradebookHandler) GetByCourse(c *gin.Context) {
	tree, err := h.gradebooks.GetByCourse(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, tree)
}

// Delete godoc
// @Summary Delete a gradebook with its hierarchy and grades
// @Tags Gradebooks
// @Param id path string true "Gradebook ID"
// @Success 204
// @Router /gradebooks/{id} [delete]
func (h *GradebookHandler) Delete(c *gin.Context) {
	if err := h.gradebooks.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Mutate godoc
// @Summary Apply a batch of hierarchy operations
// @Description Operations are applied in order and weight invariants are checked once, on the final state.
// @Tags Hierarchy
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.HierarchyMutationRequest true "Operations"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /gradebooks/{id}/hierarchy [post]
func (h *GradebookHandler) Mutate(c *gin.Context) {
	var req dto.HierarchyMutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	h.respondTree(c)(h.hierarchy.Mutate(c.Request.Context(), c.Param("id"), req.Ops))
}

// CreateCategory godoc
// @Summary Create a category
// @Tags Hierarchy
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.CategoryRequest true "Category"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/categories [post]
func (h *GradebookHandler) CreateCategory(c *gin.Context) {
	var req dto.CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	h.respondTree(c)(h.hierarchy.CreateCategory(c.Request.Context(), c.Param("id"), req))
}

// UpdateCategory godoc
// @Summary Update a category
// @Tags Hierarchy
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param categoryId path string true "Category ID"
// @Param payload body dto.CategoryRequest true "Category"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/categories/{categoryId} [put]
func (h *GradebookHandler) UpdateCategory(c *gin.Context) {
	var req dto.CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	h.respondTree(c)(h.hierarchy.UpdateCategory(c.Request.Context(), c.Param("id"), c.Param("categoryId"), req))
}

// DeleteCategory godoc
// @Summary Delete an empty category
// @Tags Hierarchy
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param categoryId path string true "Category ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /gradebooks/{id}/categories/{categoryId} [delete]
func (h *GradebookHandler) DeleteCategory(c *gin.Context) {
	h.respondTree(c)(h.hierarchy.DeleteCategory(c.Request.Context(), c.Param("id"), c.Param("categoryId")))
}

// CreateItem godoc
// @Summary Create an item
// @Tags Hierarchy
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.ItemRequest true "Item"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/items [post]
func (h *GradebookHandler) CreateItem(c *gin.Context) {
	var req dto.ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	h.respondTree(c)(h.hierarchy.CreateItem(c.Request.Context(), c.Param("id"), req))
}

// UpdateItem godoc
// @Summary Update an item
// @Tags Hierarchy
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param itemId path string true "Item ID"
// @Param payload body dto.ItemRequest true "Item"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/items/{itemId} [put]
func (h *GradebookHandler) UpdateItem(c *gin.Context) {
	var req dto.ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	h.respondTree(c)(h.hierarchy.UpdateItem(c.Request.Context(), c.Param("id"), c.Param("itemId"), req))
}

// DeleteItem godoc
// @Summary Delete an item and its grades
// @Tags Hierarchy
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param itemId path string true "Item ID"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/items/{itemId} [delete]
func (h *GradebookHandler) DeleteItem(c *gin.Context) {
	h.respondTree(c)(h.hierarchy.DeleteItem(c.Request.Context(), c.Param("id"), c.Param("itemId")))
}

// Reorder godoc
// @Summary Reorder the children of one scope
// @Tags Hierarchy
// @Accept json
// @Produce json
// @Param id path string true "Gradebook ID"
// @Param payload body dto.ReorderRequest true "Full ordering of the scope"
// @Success 200 {object} response.Envelope
// @Router /gradebooks/{id}/order [put]
func (h *GradebookHandler) Reorder(c *gin.Context) {
	var req dto.ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	h.respondTree(c)(h.hierarchy.Reorder(c.Request.Context(), c.Param("id"), req))
}

func (h *GradebookHandler) respondTree(c *gin.Context) func(*models.GradebookTree, error) {
	return func(tree *models.GradebookTree, err error) {
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, tree)
	}
}
