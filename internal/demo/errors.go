package demo

import (
	"errors"
	"fmt"

	"github.com/example/vision-demo/internal/transport"
)

// ValidationError is raised for invalid local input before any network call.
type ValidationError = transport.ValidationError

// ErrPollCancelled is matched by the error a poll loop returns after its context is
// cancelled. The session keeps the status it had when cancellation was observed.
var ErrPollCancelled = errors.New("poll cancelled")

// InvalidStateError reports an operation invoked outside its required predecessor status.
type InvalidStateError struct {
	Operation string
	SessionID string
	Required  Status
	Actual    Status
	Reason    string
}

func (e *InvalidStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s on session %s: %s", e.Operation, e.SessionID, e.Reason)
	}
	return fmt.Sprintf("%s on session %s requires status %s, got %s", e.Operation, e.SessionID, e.Required, e.Actual)
}

// SessionCreationError wraps the transport failure of CreateSession.
type SessionCreationError struct {
	DemoType DemoType
	Err      error
}

func (e *SessionCreationError) Error() string {
	return fmt.Sprintf("create %s session: %v", e.DemoType, e.Err)
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

// UploadError wraps the transport failure of UploadFile.
type UploadError struct {
	SessionID string
	Err       error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload to session %s: %v", e.SessionID, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ProcessingTriggerError wraps the transport failure of TriggerProcessing.
type ProcessingTriggerError struct {
	SessionID string
	DemoType  DemoType
	Err       error
}

func (e *ProcessingTriggerError) Error() string {
	return fmt.Sprintf("trigger %s on session %s: %v", e.DemoType, e.SessionID, e.Err)
}

func (e *ProcessingTriggerError) Unwrap() error { return e.Err }

// PollTimeoutError reports an exhausted attempt budget.
type PollTimeoutError struct {
	SessionID  string
	Attempts   int
	LastStatus string
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("session %s not finished after %d status checks (last status %q)", e.SessionID, e.Attempts, e.LastStatus)
}

// ProcessingFailedError reports that the server marked the session failed.
type ProcessingFailedError struct {
	SessionID string
	Message   string
}

func (e *ProcessingFailedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("processing failed for session %s: %s", e.SessionID, e.Message)
	}
	return fmt.Sprintf("processing failed for session %s", e.SessionID)
}
