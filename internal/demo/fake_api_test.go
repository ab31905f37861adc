package demo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/vision-demo/internal/credentials"
	"github.com/example/vision-demo/internal/transport"
)

const defaultResultsBody = `{
	"session_id": "abc123",
	"output_image_url": "http://localhost:8000/media/results/abc123.jpg",
	"result_file": "http://localhost:8000/media/results/abc123.json",
	"detections": [
		{"class": "person", "class_id": 0, "confidence": 0.91, "bbox": [10, 20, 110, 220]},
		{"class": "bicycle", "class_id": 1, "confidence": 0.66, "bbox": [30, 40, 90, 120]}
	],
	"ai_description": "A person next to a bicycle.",
	"processing_time": 0.5
}`

// fakeVisionAPI scripts the remote service and records every call it receives.
type fakeVisionAPI struct {
	mu            sync.Mutex
	sessionID     string
	createStatus  int
	uploadStatus  int
	triggerStatus int
	statuses      []string
	statusErrorAt int
	resultsBody   string
	calls         map[string]int
	bodies        map[string][]byte
	paths         map[string][]string
	authHeaders   []string
}

func newFakeVisionAPI(t *testing.T) (*fakeVisionAPI, *httptest.Server) {
	t.Helper()
	f := &fakeVisionAPI{
		sessionID:   "abc123",
		statuses:    []string{"completed"},
		resultsBody: defaultResultsBody,
		calls:       make(map[string]int),
		bodies:      make(map[string][]byte),
		paths:       make(map[string][]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/demos/{$}", func(w http.ResponseWriter, r *http.Request) {
		f.record("create", r)
		if code := f.createStatus; code != 0 {
			writeJSON(w, code, map[string]string{"error": "create failed"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"session_id": f.sessionID,
			"status":     "uploading",
			"created_at": "2025-03-01T10:00:00.123456Z",
		})
	})
	mux.HandleFunc("POST /api/v1/demos/{id}/upload_file/", func(w http.ResponseWriter, r *http.Request) {
		f.record("upload", r)
		if code := f.uploadStatus; code != 0 {
			writeJSON(w, code, map[string]string{"error": "upload rejected"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": 1, "file_type": "image"})
	})
	mux.HandleFunc("GET /api/v1/demos/{id}/status/", func(w http.ResponseWriter, r *http.Request) {
		n := f.record("status", r)
		if r.PathValue("id") != f.sessionID {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
			return
		}
		if f.statusErrorAt != 0 && n == f.statusErrorAt {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream busy"})
			return
		}
		f.mu.Lock()
		idx := n - 1
		if idx >= len(f.statuses) {
			idx = len(f.statuses) - 1
		}
		status := f.statuses[idx]
		f.mu.Unlock()
		body := map[string]string{"session_id": f.sessionID, "status": status}
		if status == "failed" {
			body["error"] = "model crashed"
		}
		writeJSON(w, http.StatusOK, body)
	})
	mux.HandleFunc("GET /api/v1/demos/{id}/results/", func(w http.ResponseWriter, r *http.Request) {
		f.record("results", r)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, f.resultsBody)
	})
	mux.HandleFunc("POST /api/v1/processing/{kind}/", func(w http.ResponseWriter, r *http.Request) {
		f.record("trigger", r)
		if code := f.triggerStatus; code != 0 {
			writeJSON(w, code, map[string]string{"error": "processing unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"session_id": f.sessionID})
	})
	mux.HandleFunc("POST /api/v1/feedback/", func(w http.ResponseWriter, r *http.Request) {
		f.record("feedback", r)
		writeJSON(w, http.StatusCreated, map[string]string{"status": "received"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeVisionAPI) record(route string, r *http.Request) int {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[route]++
	f.bodies[route] = body
	f.paths[route] = append(f.paths[route], r.URL.Path)
	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
	return f.calls[route]
}

func (f *fakeVisionAPI) count(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

func (f *fakeVisionAPI) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeVisionAPI) lastBody(route string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[route]
}

func (f *fakeVisionAPI) routePaths(route string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths[route]...)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// waitRecorder replaces the poll timer so tests never sleep.
type waitRecorder struct {
	mu        sync.Mutex
	durations []time.Duration
	hook      func(n int)
}

func (w *waitRecorder) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.durations = append(w.durations, d)
	n := len(w.durations)
	hook := w.hook
	w.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

func (w *waitRecorder) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.durations)
}

type pollRecord struct {
	demoType string
	outcome  string
	attempts int
}

type recordingPollObserver struct {
	mu      sync.Mutex
	records []pollRecord
}

func (r *recordingPollObserver) ObservePoll(demoType, outcome string, attempts int) {
	r.mu.Lock()
	r.records = append(r.records, pollRecord{demoType: demoType, outcome: outcome, attempts: attempts})
	r.mu.Unlock()
}

func (r *recordingPollObserver) all() []pollRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pollRecord(nil), r.records...)
}

type testHarness struct {
	api      *fakeVisionAPI
	client   *Client
	waits    *waitRecorder
	observer *recordingPollObserver
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	fake, srv := newFakeVisionAPI(t)
	api, err := transport.New(srv.URL, credentials.Static("test-token"), zap.NewNop())
	require.NoError(t, err)

	obs := &recordingPollObserver{}
	c := NewClient(api, zap.NewNop(), WithPollObserver(obs))
	waits := &waitRecorder{}
	c.poller.wait = waits.wait
	return &testHarness{api: fake, client: c, waits: waits, observer: obs}
}

func testArtifact() UploadArtifact {
	return UploadArtifact{FileName: "street.jpg", Payload: []byte("\xff\xd8\xff\xe0fake-jpeg"), MimeHint: "image/jpeg"}
}

// processingSession drives a fresh session up to Processing.
func (h *testHarness) processingSession(t *testing.T, demoType DemoType) *Session {
	t.Helper()
	ctx := context.Background()
	s, err := h.client.CreateSession(ctx, demoType)
	require.NoError(t, err)
	require.NoError(t, h.client.UploadFile(ctx, s, testArtifact()))
	require.NoError(t, h.client.TriggerProcessing(ctx, s))
	require.Equal(t, StatusProcessing, s.Status())
	return s
}

func repeat(status string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = status
	}
	return out
}
