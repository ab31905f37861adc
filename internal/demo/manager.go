package demo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/vision-demo/internal/logging"
	"github.com/example/vision-demo/internal/transport"
)

// API is the subset of the transport client used by the demo components.
type API interface {
	Request(ctx context.Context, method, endpoint, sessionID string, body, out any) error
	Upload(ctx context.Context, endpoint, sessionID string, file transport.File, out any) error
}

// SessionManager creates processing sessions.
type SessionManager struct {
	api    API
	logger *zap.Logger
	now    func() time.Time
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(api API, logger *zap.Logger) *SessionManager {
	return &SessionManager{api: api, logger: logger.Named("sessions"), now: time.Now}
}

type createSessionRequest struct {
	DemoType DemoType `json:"demo_type"`
}

type createSessionResponse struct {
	SessionID string          `json:"session_id"`
	ID        json.RawMessage `json:"id"`
	CreatedAt string          `json:"created_at"`
}

// id prefers the public session_id and falls back to the primary key, which the server may
// encode as a number.
func (r createSessionResponse) id() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	raw := strings.TrimSpace(string(r.ID))
	if raw == "" || raw == "null" {
		return ""
	}
	return strings.Trim(raw, `"`)
}

// CreateSession registers a new session for demoType. It makes a single attempt; callers
// may call again to get a fresh session.
func (m *SessionManager) CreateSession(ctx context.Context, demoType DemoType) (*Session, error) {
	if !demoType.Valid() {
		return nil, unknownDemoType(demoType)
	}
	opLogger := logging.WithSession(m.logger, "demo.create_session", "", string(demoType))

	var resp createSessionResponse
	if err := m.api.Request(ctx, http.MethodPost, endpointSessions, "", createSessionRequest{DemoType: demoType}, &resp); err != nil {
		opLogger.Error("session creation failed", zap.Error(err))
		return nil, &SessionCreationError{DemoType: demoType, Err: err}
	}

	id := resp.id()
	if id == "" {
		err := &transport.ParseError{Endpoint: endpointSessions, Err: errors.New("response carries no session id")}
		opLogger.Error("session creation failed", zap.Error(err))
		return nil, &SessionCreationError{DemoType: demoType, Err: err}
	}

	createdAt := m.now().UTC()
	if resp.CreatedAt != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, resp.CreatedAt); err == nil {
			createdAt = parsed
		}
	}

	opLogger.Info("session created", zap.String("session_id", id))
	return newSession(id, demoType, createdAt), nil
}
