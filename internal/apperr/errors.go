package apperr

import (
	"errors"
	"fmt"
)

// ErrSyncInProgress is returned when a sync run is requested while another one is active
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrOffline is the cause carried by NetworkError when the cached connectivity flag is down
var ErrOffline = errors.New("no network connectivity")

// ValidationError reports bad input. It never reaches the network or storage layers.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NetworkError reports a failure talking to the server.
// Connectivity is true when the server could not be reached at all (fallback to the
// local queue is allowed); false means the exchange happened but was unusable.
type NetworkError struct {
	Op           string
	Connectivity bool
	Err          error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("network error in %s", e.Op)
	}
	return fmt.Sprintf("network error in %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StorageError reports a local persistence failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("[STORE] %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ApplicationError reports a request the server received and rejected for business reasons
type ApplicationError struct {
	StatusCode int
	Message    string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("server rejected request (status %d): %s", e.StatusCode, e.Message)
}

// Offline builds the NetworkError returned when an operation needs the server but the
// device is known to be offline.
func Offline(op string) error {
	return &NetworkError{Op: op, Connectivity: true, Err: ErrOffline}
}

// IsConnectivity reports whether err is a connectivity-class NetworkError
func IsConnectivity(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr) && netErr.Connectivity
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
