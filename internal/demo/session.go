package demo

import (
	"sync"
	"time"
)

// Status is the local lifecycle status of a session.
type Status int

const (
	StatusIdle Status = iota
	StatusUploading
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusTimedOut
)

var statusNames = map[Status]string{
	StatusIdle:       "idle",
	StatusUploading:  "uploading",
	StatusProcessing: "processing",
	StatusCompleted:  "completed",
	StatusFailed:     "failed",
	StatusTimedOut:   "timed_out",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the status name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimedOut
}

// allowed lists forward transitions. Anything not listed, including every transition out of
// a terminal status, is rejected.
var allowed = map[Status][]Status{
	StatusIdle:       {StatusUploading},
	StatusUploading:  {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusTimedOut},
}

func canAdvance(from, to Status) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is one server-tracked unit of work. Only the demo components mutate it.
type Session struct {
	ID        string
	DemoType  DemoType
	CreatedAt time.Time

	mu           sync.Mutex
	status       Status
	remoteStatus string
	polling      bool
	result       *ProcessingResult

	// fetchMu serializes result fetches so the remote read happens at most once.
	fetchMu sync.Mutex
}

func newSession(id string, demoType DemoType, createdAt time.Time) *Session {
	return &Session{ID: id, DemoType: demoType, CreatedAt: createdAt, status: StatusIdle}
}

// Status returns the current local status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RemoteStatus returns the last status string reported by the server, if polled.
func (s *Session) RemoteStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteStatus
}

// SessionSnapshot is a read-only copy of a session for rendering.
type SessionSnapshot struct {
	ID           string    `json:"session_id"`
	DemoType     DemoType  `json:"demo_type"`
	Status       Status    `json:"status"`
	RemoteStatus string    `json:"remote_status,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Snapshot copies the session state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		ID:           s.ID,
		DemoType:     s.DemoType,
		Status:       s.status,
		RemoteStatus: s.remoteStatus,
		CreatedAt:    s.CreatedAt,
	}
}

func (s *Session) require(operation string, want Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != want {
		return &InvalidStateError{Operation: operation, SessionID: s.ID, Required: want, Actual: s.status}
	}
	return nil
}

// advance moves from -> to atomically. It fails if the session is not in from or the
// transition would go backwards.
func (s *Session) advance(operation string, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != from || !canAdvance(from, to) {
		return &InvalidStateError{Operation: operation, SessionID: s.ID, Required: from, Actual: s.status}
	}
	s.status = to
	return nil
}

func (s *Session) observeRemote(status string) {
	s.mu.Lock()
	s.remoteStatus = status
	s.mu.Unlock()
}

// beginPoll claims the single poll slot of the session.
func (s *Session) beginPoll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.polling {
		return &InvalidStateError{
			Operation: "poll",
			SessionID: s.ID,
			Required:  StatusProcessing,
			Actual:    s.status,
			Reason:    "a poll loop is already running for this session",
		}
	}
	if s.status != StatusProcessing {
		return &InvalidStateError{Operation: "poll", SessionID: s.ID, Required: StatusProcessing, Actual: s.status}
	}
	s.polling = true
	return nil
}

func (s *Session) endPoll() {
	s.mu.Lock()
	s.polling = false
	s.mu.Unlock()
}

func (s *Session) cachedResult() *ProcessingResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) storeResult(r *ProcessingResult) {
	s.mu.Lock()
	if s.result == nil {
		s.result = r
	}
	s.mu.Unlock()
}
