package demo

import (
	"context"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/example/vision-demo/internal/logging"
	"github.com/example/vision-demo/internal/transport"
)

// MaxUploadSize mirrors the server side limit on demo files.
const MaxUploadSize = 50 << 20

// UploadArtifact is the media handed to UploadFile. It is not retained after the call.
type UploadArtifact struct {
	SessionID string
	FileName  string
	Payload   []byte
	MimeHint  string
}

// UploadCoordinator submits artifacts and asks the server to start processing.
type UploadCoordinator struct {
	api    API
	logger *zap.Logger
}

// NewUploadCoordinator constructs an UploadCoordinator.
func NewUploadCoordinator(api API, logger *zap.Logger) *UploadCoordinator {
	return &UploadCoordinator{api: api, logger: logger.Named("uploads")}
}

func requireID(s *Session, operation string) error {
	if s == nil || s.ID == "" {
		return transport.NewValidationError("session_id", "%s needs a created session", operation)
	}
	return nil
}

// UploadFile sends the artifact for an Idle session. On success the session stays
// Uploading until TriggerProcessing is called; on failure it becomes Failed.
func (u *UploadCoordinator) UploadFile(ctx context.Context, s *Session, artifact UploadArtifact) error {
	if err := requireID(s, "upload_file"); err != nil {
		return err
	}
	if artifact.SessionID != "" && artifact.SessionID != s.ID {
		return transport.NewValidationError("session_id", "artifact belongs to session %s, not %s", artifact.SessionID, s.ID)
	}
	if err := s.require("upload_file", StatusIdle); err != nil {
		return err
	}

	file, err := artifactFile(artifact)
	if err != nil {
		return err
	}

	if err := s.advance("upload_file", StatusIdle, StatusUploading); err != nil {
		return err
	}

	opLogger := logging.WithSession(u.logger, "demo.upload_file", s.ID, string(s.DemoType))
	if err := u.api.Upload(ctx, endpointUpload, s.ID, file, nil); err != nil {
		if advErr := s.advance("upload_file", StatusUploading, StatusFailed); advErr != nil {
			opLogger.Warn("could not mark session failed", zap.Error(advErr))
		}
		opLogger.Error("upload failed", zap.Error(err))
		return &UploadError{SessionID: s.ID, Err: err}
	}

	opLogger.Info("artifact uploaded", zap.String("mime", file.ContentType), zap.Int("bytes", len(file.Data)))
	return nil
}

func artifactFile(artifact UploadArtifact) (transport.File, error) {
	size := len(artifact.Payload)
	if size == 0 {
		return transport.File{}, transport.NewValidationError("payload", "artifact is empty")
	}
	if size > MaxUploadSize {
		return transport.File{}, transport.NewValidationError("payload", "artifact is %d bytes, limit is %d", size, MaxUploadSize)
	}

	mimeHint := artifact.MimeHint
	name := artifact.FileName
	if mimeHint == "" || name == "" {
		detected := mimetype.Detect(artifact.Payload)
		if mimeHint == "" {
			mimeHint = detected.String()
		}
		if name == "" {
			name = "upload" + detected.Extension()
		}
	}
	return transport.File{Name: name, ContentType: mimeHint, Data: artifact.Payload}, nil
}

// TriggerOption customizes the processing request.
type TriggerOption func(*triggerRequest)

type triggerRequest struct {
	SessionID  string   `json:"session_id"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// WithConfidence sets the detection confidence threshold, in [0,1].
func WithConfidence(threshold float64) TriggerOption {
	return func(r *triggerRequest) {
		r.Confidence = &threshold
	}
}

// TriggerProcessing asks the server to process the uploaded artifact, using the endpoint
// registered for the session's demo type.
func (u *UploadCoordinator) TriggerProcessing(ctx context.Context, s *Session, opts ...TriggerOption) error {
	if err := requireID(s, "trigger_processing"); err != nil {
		return err
	}
	if err := s.require("trigger_processing", StatusUploading); err != nil {
		return err
	}

	req := triggerRequest{SessionID: s.ID}
	for _, opt := range opts {
		opt(&req)
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1) {
		return transport.NewValidationError("confidence", "%v is outside [0,1]", *req.Confidence)
	}
	endpoint, err := s.DemoType.triggerEndpoint()
	if err != nil {
		return err
	}

	opLogger := logging.WithSession(u.logger, "demo.trigger_processing", s.ID, string(s.DemoType))
	if err := u.api.Request(ctx, http.MethodPost, endpoint, s.ID, req, nil); err != nil {
		if advErr := s.advance("trigger_processing", StatusUploading, StatusFailed); advErr != nil {
			opLogger.Warn("could not mark session failed", zap.Error(advErr))
		}
		opLogger.Error("trigger failed", zap.Error(err))
		return &ProcessingTriggerError{SessionID: s.ID, DemoType: s.DemoType, Err: err}
	}

	if err := s.advance("trigger_processing", StatusUploading, StatusProcessing); err != nil {
		return err
	}
	opLogger.Info("processing triggered")
	return nil
}
