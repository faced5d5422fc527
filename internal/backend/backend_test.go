package backend

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound("fetch", "abc"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, StatusNotFound, StatusOf(err))

	forbidden := &StatusError{Op: "fetch", Target: "abc", Status: StatusForbidden, Code: 403}
	assert.True(t, errors.Is(forbidden, ErrForbidden))
	assert.Equal(t, StatusForbidden, StatusOf(forbidden))
	assert.Contains(t, forbidden.Error(), "(403)")
}

func TestStatusOf_Plain(t *testing.T) {
	assert.Equal(t, StatusOther, StatusOf(errors.New("boom")))
	assert.Equal(t, StatusNotFound, StatusOf(fmt.Errorf("x: %w", ErrNotFound)))
	assert.Equal(t, "forbidden", StatusForbidden.String())
}
