package demo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/vision-demo/internal/credentials"
	"github.com/example/vision-demo/internal/transport"
)

func TestCreateSession(t *testing.T) {
	h := newHarness(t)

	s, err := h.client.CreateSession(context.Background(), GestureControl)
	require.NoError(t, err)
	assert.Equal(t, "abc123", s.ID)
	assert.Equal(t, GestureControl, s.DemoType)
	assert.Equal(t, StatusIdle, s.Status())
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 123456000, time.UTC), s.CreatedAt)

	var body map[string]string
	require.NoError(t, json.Unmarshal(h.api.lastBody("create"), &body))
	assert.Equal(t, map[string]string{"demo_type": "gesture_control"}, body)
	assert.Equal(t, []string{"Bearer test-token"}, h.api.authHeaders)
}

func TestCreateSessionRejectsUnknownType(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.CreateSession(context.Background(), DemoType("pose_estimation"))
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "demo_type", vErr.Field)
	assert.Zero(t, h.api.total())
}

func TestCreateSessionTransportFailure(t *testing.T) {
	h := newHarness(t)
	h.api.createStatus = http.StatusServiceUnavailable

	s, err := h.client.CreateSession(context.Background(), ObjectDetection)
	assert.Nil(t, s)
	var createErr *SessionCreationError
	require.ErrorAs(t, err, &createErr)
	assert.Equal(t, ObjectDetection, createErr.DemoType)
	var httpErr *transport.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.Equal(t, 1, h.api.count("create"), "creation is attempted once")
}

func newStubManager(t *testing.T, handler http.HandlerFunc) *SessionManager {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	api, err := transport.New(srv.URL, credentials.None, zap.NewNop())
	require.NoError(t, err)
	return NewSessionManager(api, zap.NewNop())
}

func TestCreateSessionFallsBackToPrimaryKey(t *testing.T) {
	m := newStubManager(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": 42, "status": "uploading"})
	})
	fixed := time.Date(2025, 5, 4, 3, 2, 1, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	s, err := m.CreateSession(context.Background(), ImageSegmentation)
	require.NoError(t, err)
	assert.Equal(t, "42", s.ID)
	assert.Equal(t, fixed, s.CreatedAt)
}

func TestCreateSessionWithoutIdentifier(t *testing.T) {
	m := newStubManager(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"status": "uploading"})
	})

	_, err := m.CreateSession(context.Background(), ObjectDetection)
	var createErr *SessionCreationError
	require.ErrorAs(t, err, &createErr)
	var parseErr *transport.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParseDemoType(t *testing.T) {
	got, err := ParseDemoType(" Object-Detection ")
	require.NoError(t, err)
	assert.Equal(t, ObjectDetection, got)

	_, err = ParseDemoType("pose")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)

	assert.Len(t, DemoTypes(), 4)
	for _, d := range DemoTypes() {
		assert.True(t, d.Valid())
		assert.NotEqual(t, string(d), d.Label())
	}
}
