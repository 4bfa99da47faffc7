package viewer

import (
	"errors"
	"fmt"
)

var (
	ErrDisposed       = errors.New("viewer disposed")
	ErrNotConnected   = errors.New("viewer socket not open")
	ErrInvalidQuality = errors.New("invalid stream quality")
)

// ErrorKind classifies a failed stream session request.
type ErrorKind int

const (
	// KindNetwork means the camera API could not be reached.
	KindNetwork ErrorKind = iota
	// KindRejected means the camera API answered and refused the stream.
	KindRejected
)

func (k ErrorKind) String() string {
	if k == KindRejected {
		return "rejected"
	}
	return "network"
}

// Messages surfaced to the host. They match what operators already see in
// the dashboard.
const (
	msgServerConnectionFailed = "Server connection failed."
	msgFailedToStart          = "Failed to start stream."
	msgSocketError            = "WebSocket connection error occurred."
	msgConnectionLost         = "Connection lost. Please refresh to reconnect."
	msgAlertFallback          = "New security alert detected"
	msgUnknownServerError     = "Unknown stream error"
)

// SessionError is returned by Start when no stream session could be obtained.
type SessionError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Err        error
}

func (e *SessionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("stream session %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("stream session %s: %s", e.Kind, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
