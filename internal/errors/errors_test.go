package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndRetryable(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		retryable bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, false},
		{"dataset", ErrCodePathNotFound, CategoryIO, false},
		{"rate limit", ErrCodeRateLimited, CategoryProvider, true},
		{"provider", ErrCodeProviderUnavailable, CategoryProvider, false},
		{"regex", ErrCodeRegexInvalid, CategoryValidation, false},
		{"store", ErrCodeStoreError, CategoryStore, false},
		{"reducer", ErrCodeReducerMismatch, CategoryReducer, false},
		{"timeout", ErrCodeTimeout, CategoryRuntime, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestErrorString_IncludesStage(t *testing.T) {
	err := New(ErrCodeStoreError, "upload failed", nil).WithStage("store")
	assert.Equal(t, "[ERR_501_STORE_ERROR] store: upload failed", err.Error())

	bare := New(ErrCodeStoreError, "upload failed", nil)
	assert.Equal(t, "[ERR_501_STORE_ERROR] upload failed", bare.Error())
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(ErrCodeProviderUnavailable, cause)

	require.NotNil(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "connection reset", err.Message)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeStoreError, nil))
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(ErrCodeRateLimited, "429 from provider", nil)
	b := New(ErrCodeRateLimited, "different message", nil)
	c := New(ErrCodeStoreError, "store", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeRateLimited, "slow down", nil)))
	assert.False(t, IsRetryable(New(ErrCodeStoreError, "nope", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestGetCodeAndStage(t *testing.T) {
	err := New(ErrCodeTimeout, "deadline", nil).WithStage("eval")
	assert.Equal(t, ErrCodeTimeout, GetCode(err))
	assert.Equal(t, "eval", GetStage(err))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}
