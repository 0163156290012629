package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestObjectKey(t *testing.T) {
	t.Run("success - key is placed under the cache prefix", func(t *testing.T) {
		// act
		name, err := objectKey("9f86d081")

		// assert
		assert.NoError(t, err)
		assert.Equal(t, "cache/9f86d081.tar.gz", name)
	})
	t.Run("failure - key leaving the prefix is refused", func(t *testing.T) {
		// act
		name, err := objectKey("../runs/1")

		// assert
		assert.ErrorIs(t, err, ErrInvalidCacheKey)
		assert.Empty(t, name)
	})
}

func TestIsNotFound(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "missing object", err: minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}, expected: true},
		{
			name:     "wrapped missing object",
			err:      fmt.Errorf("get: %w", minio.ErrorResponse{Code: "NoSuchKey"}),
			expected: false,
		},
		{name: "access denied", err: minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, expected: false},
		{name: "transport error", err: errors.New("connection refused"), expected: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, isNotFound(tc.err))
		})
	}
}

func TestBreakerSuccess(t *testing.T) {
	assert.True(t, breakerSuccess(nil))
	assert.True(t, breakerSuccess(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, breakerSuccess(minio.ErrorResponse{Code: "InternalError", StatusCode: 500}))
	assert.False(t, breakerSuccess(errors.New("i/o timeout")))
}
