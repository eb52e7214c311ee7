package poolcmd

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCommand           = errors.New("invalid command")
	ErrInvalidState             = errors.New("invalid state")
	ErrDuplicateCorrelation     = errors.New("correlation id already pending")
	ErrPendingNotFound          = errors.New("pending callback not found")
	ErrPendingTableClosed       = errors.New("pending table closed")
	ErrDispatcherClosed         = errors.New("dispatcher closed")
	ErrDispatcherAlreadyStarted = errors.New("dispatcher already started")
	ErrTransportNotConfigured   = errors.New("transport not configured")
	ErrTransportNotConnected    = errors.New("transport not connected")
	ErrPublishFailed            = errors.New("failed to publish acknowledgement")
	ErrSubscribeFailed          = errors.New("failed to subscribe to channel")
)

// AckError is a close failure reported by the service through an
// acknowledgement message.
type AckError struct {
	Code    int
	Message string
}

func (e *AckError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("close failed: %s", e.Message)
	}
	return fmt.Sprintf("close failed (code %d): %s", e.Code, e.Message)
}
