package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	err := NewAppError("RETRY_LIMIT", "retry limit 3 reached", ErrRetryLimitExceeded)
	assert.Equal(t, "RETRY_LIMIT: retry limit 3 reached: retry limit exceeded", err.Error())
	assert.True(t, errors.Is(err, ErrRetryLimitExceeded))

	var appErr *AppError
	require.True(t, errors.As(error(err), &appErr))
	assert.Equal(t, "RETRY_LIMIT", appErr.Code)

	bare := NewAppError("CONFIG_ERROR", "dsn missing", nil)
	assert.Equal(t, "CONFIG_ERROR: dsn missing", bare.Error())
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ignored"))

	wrapped := WrapError(ErrNotFound, "load job")
	require.Error(t, wrapped)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, "load job: resource not found", wrapped.Error())
}
