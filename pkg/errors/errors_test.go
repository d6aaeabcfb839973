package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneMatchesPredefinedByCode(t *testing.T) {
	err := Clone(ErrDuplicate, "grade already recorded")
	wrapped := fmt.Errorf("record grade: %w", err)

	assert.True(t, errors.Is(wrapped, ErrDuplicate))
	assert.False(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, "grade already recorded", err.Message)
	assert.Equal(t, http.StatusConflict, err.Status)
}

func TestFromErrorFallsBackToInternal(t *testing.T) {
	appErr := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)

	typed := Clone(ErrNotEmpty, "")
	assert.Same(t, typed, FromError(typed))
	assert.Nil(t, FromError(nil))
}
