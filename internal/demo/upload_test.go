package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/vision-demo/internal/transport"
)

func TestUploadFileRequiresCreatedSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var vErr *ValidationError
	require.ErrorAs(t, h.client.UploadFile(ctx, nil, testArtifact()), &vErr)
	assert.Equal(t, "session_id", vErr.Field)

	require.ErrorAs(t, h.client.UploadFile(ctx, &Session{}, testArtifact()), &vErr)
	assert.Equal(t, "session_id", vErr.Field)

	assert.Zero(t, h.api.total())
}

func TestUploadFileRejectsForeignArtifact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.client.CreateSession(ctx, ObjectDetection)
	require.NoError(t, err)

	artifact := testArtifact()
	artifact.SessionID = "other"
	var vErr *ValidationError
	require.ErrorAs(t, h.client.UploadFile(ctx, s, artifact), &vErr)
	assert.Zero(t, h.api.count("upload"))
	assert.Equal(t, StatusIdle, s.Status())
}

func TestUploadFileRejectsEmptyAndOversizedPayload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.client.CreateSession(ctx, ObjectDetection)
	require.NoError(t, err)

	var vErr *ValidationError
	require.ErrorAs(t, h.client.UploadFile(ctx, s, UploadArtifact{FileName: "empty.jpg"}), &vErr)
	assert.Equal(t, "payload", vErr.Field)

	big := UploadArtifact{FileName: "huge.mp4", Payload: make([]byte, MaxUploadSize+1), MimeHint: "video/mp4"}
	require.ErrorAs(t, h.client.UploadFile(ctx, s, big), &vErr)
	assert.Equal(t, "payload", vErr.Field)

	assert.Zero(t, h.api.count("upload"))
	assert.Equal(t, StatusIdle, s.Status(), "a rejected artifact leaves the session usable")
}

func TestUploadFileOnlyFromIdle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.client.CreateSession(ctx, ObjectDetection)
	require.NoError(t, err)
	require.NoError(t, h.client.UploadFile(ctx, s, testArtifact()))
	assert.Equal(t, StatusUploading, s.Status())

	err = h.client.UploadFile(ctx, s, testArtifact())
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StatusIdle, stateErr.Required)
	assert.Equal(t, StatusUploading, stateErr.Actual)
	assert.Equal(t, 1, h.api.count("upload"))
}

func TestUploadFileSendsMultipartWithSniffedType(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.client.CreateSession(ctx, ObjectDetection)
	require.NoError(t, err)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	require.NoError(t, h.client.UploadFile(ctx, s, UploadArtifact{Payload: png}))

	body := h.api.lastBody("upload")
	assert.True(t, bytes.Contains(body, []byte(`name="file"; filename="upload.png"`)), "body: %s", body)
	assert.True(t, bytes.Contains(body, []byte("Content-Type: image/png")), "body: %s", body)
	assert.Equal(t, []string{"/api/v1/demos/abc123/upload_file/"}, h.api.routePaths("upload"))
}

func TestUploadFailureMarksSessionFailed(t *testing.T) {
	h := newHarness(t)
	h.api.uploadStatus = 413
	ctx := context.Background()
	s, err := h.client.CreateSession(ctx, FacialRecognition)
	require.NoError(t, err)

	err = h.client.UploadFile(ctx, s, testArtifact())
	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	var httpErr *transport.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 413, httpErr.StatusCode)
	assert.Equal(t, StatusFailed, s.Status())

	var stateErr *InvalidStateError
	require.ErrorAs(t, h.client.TriggerProcessing(ctx, s), &stateErr)
	assert.Zero(t, h.api.count("trigger"))
}

func TestTriggerFailureMarksSessionFailed(t *testing.T) {
	h := newHarness(t)
	h.api.triggerStatus = 500
	ctx := context.Background()
	s, err := h.client.CreateSession(ctx, ObjectDetection)
	require.NoError(t, err)
	require.NoError(t, h.client.UploadFile(ctx, s, testArtifact()))

	err = h.client.TriggerProcessing(ctx, s)
	var triggerErr *ProcessingTriggerError
	require.ErrorAs(t, err, &triggerErr)
	assert.Equal(t, ObjectDetection, triggerErr.DemoType)
	var httpErr *transport.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 500, httpErr.StatusCode)
	assert.Equal(t, "processing unavailable", httpErr.Message)
	assert.Equal(t, StatusFailed, s.Status())

	var stateErr *InvalidStateError
	require.ErrorAs(t, h.client.Poll(ctx, s, DefaultPollConfig()), &stateErr)
	assert.Zero(t, h.api.count("status"))
}

func TestTriggerRequiresUploadingSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.client.CreateSession(ctx, ObjectDetection)
	require.NoError(t, err)

	var stateErr *InvalidStateError
	require.ErrorAs(t, h.client.TriggerProcessing(ctx, s), &stateErr)
	assert.Equal(t, StatusUploading, stateErr.Required)
	assert.Equal(t, StatusIdle, stateErr.Actual)
	assert.Zero(t, h.api.count("trigger"))
}

func TestTriggerUsesDemoSpecificEndpoint(t *testing.T) {
	cases := map[DemoType]string{
		ObjectDetection:   "/api/v1/processing/object_detection/",
		FacialRecognition: "/api/v1/processing/facial_recognition/",
		GestureControl:    "/api/v1/processing/gesture_recognition/",
		ImageSegmentation: "/api/v1/processing/image_segmentation/",
	}
	for demoType, path := range cases {
		t.Run(string(demoType), func(t *testing.T) {
			h := newHarness(t)
			h.processingSession(t, demoType)
			assert.Equal(t, []string{path}, h.api.routePaths("trigger"))

			var body map[string]any
			require.NoError(t, json.Unmarshal(h.api.lastBody("trigger"), &body))
			assert.Equal(t, "abc123", body["session_id"])
			assert.NotContains(t, body, "confidence")
		})
	}
}

func TestTriggerWithConfidence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.client.CreateSession(ctx, ObjectDetection)
	require.NoError(t, err)
	require.NoError(t, h.client.UploadFile(ctx, s, testArtifact()))

	var vErr *ValidationError
	require.ErrorAs(t, h.client.TriggerProcessing(ctx, s, WithConfidence(1.5)), &vErr)
	assert.Equal(t, "confidence", vErr.Field)
	assert.Equal(t, StatusUploading, s.Status())
	assert.Zero(t, h.api.count("trigger"))

	require.NoError(t, h.client.TriggerProcessing(ctx, s, WithConfidence(0.4)))
	var body map[string]any
	require.NoError(t, json.Unmarshal(h.api.lastBody("trigger"), &body))
	assert.InDelta(t, 0.4, body["confidence"], 1e-9)
}
