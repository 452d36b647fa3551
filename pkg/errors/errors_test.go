package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalingErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       ErrorCode
		statusCode int
	}{
		{"stale state", StaleStateError("sess-1"), ErrCodeStaleState, http.StatusConflict},
		{"already in call", AlreadyInCallError(), ErrCodeAlreadyInCall, http.StatusConflict},
		{"receiver busy", ReceiverBusyError(), ErrCodeReceiverBusy, http.StatusConflict},
		{"receiver offline", ReceiverOfflineError(), ErrCodeReceiverOffline, http.StatusNotFound},
		{"duplicate session", DuplicateSessionError("sess-1"), ErrCodeDuplicateSession, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.statusCode, tt.err.StatusCode)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestIsCode(t *testing.T) {
	err := StaleStateError("sess-1")

	assert.True(t, IsCode(err, ErrCodeStaleState))
	assert.False(t, IsCode(err, ErrCodeAlreadyInCall))
	assert.False(t, IsCode(nil, ErrCodeStaleState))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeStaleState))

	// Wrapped errors still match
	wrapped := fmt.Errorf("handling frame: %w", err)
	assert.True(t, IsCode(wrapped, ErrCodeStaleState))
}

func TestGetAppError(t *testing.T) {
	appErr := ReceiverBusyError()
	require.Equal(t, appErr, GetAppError(appErr))

	got := GetAppError(errors.New("plain"))
	require.NotNil(t, got)
	assert.Equal(t, ErrCodeInternal, got.Code)
}
