package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/septivank/aqueduct-sync/internal/apperr"
)

func TestIsConnectivity(t *testing.T) {
	wrapped := fmt.Errorf("submit: %w", &apperr.NetworkError{Op: "create", Connectivity: true, Err: errors.New("dial tcp: refused")})
	assert.True(t, apperr.IsConnectivity(wrapped))

	decode := &apperr.NetworkError{Op: "create", Connectivity: false, Err: errors.New("bad json")}
	assert.False(t, apperr.IsConnectivity(decode))

	assert.False(t, apperr.IsConnectivity(&apperr.ApplicationError{StatusCode: 400, Message: "duplicate"}))
	assert.False(t, apperr.IsConnectivity(nil))
}

func TestOfflineUnwrapsToErrOffline(t *testing.T) {
	err := apperr.Offline("update reading")
	assert.True(t, apperr.IsConnectivity(err))
	assert.ErrorIs(t, err, apperr.ErrOffline)
}

func TestStorageErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &apperr.StorageError{Op: "save offline reading", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "[STORE]")
}

func TestValidationErrorMessage(t *testing.T) {
	err := &apperr.ValidationError{Field: "lectura", Reason: "below previous reading"}
	assert.Equal(t, "validation failed: lectura: below previous reading", err.Error())
	assert.True(t, apperr.IsValidation(fmt.Errorf("wrap: %w", err)))
}
