package demo

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/example/vision-demo/internal/transport"
)

// MaxRating is the top of the rating scale; 0 means the visitor left no rating.
const MaxRating = 5

// FeedbackRecord is a free-text comment about one demo.
type FeedbackRecord struct {
	DemoType DemoType `json:"demo_type"`
	Message  string   `json:"message"`
	Rating   int      `json:"rating"`
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Subject  string   `json:"subject,omitempty"`
}

func (r FeedbackRecord) validate() error {
	if !r.DemoType.Valid() {
		return unknownDemoType(r.DemoType)
	}
	if strings.TrimSpace(r.Message) == "" {
		return transport.NewValidationError("message", "must not be empty")
	}
	if r.Rating < 0 || r.Rating > MaxRating {
		return transport.NewValidationError("rating", "must be between 0 and %d, got %d", MaxRating, r.Rating)
	}
	return nil
}

// FeedbackSubmitter sends feedback. It has no session state.
type FeedbackSubmitter struct {
	api    API
	logger *zap.Logger
}

// NewFeedbackSubmitter constructs a FeedbackSubmitter.
func NewFeedbackSubmitter(api API, logger *zap.Logger) *FeedbackSubmitter {
	return &FeedbackSubmitter{api: api, logger: logger.Named("feedback")}
}

// Submit sends record once. Transport errors are returned unchanged.
func (f *FeedbackSubmitter) Submit(ctx context.Context, record FeedbackRecord) error {
	if err := record.validate(); err != nil {
		return err
	}
	record.Message = strings.TrimSpace(record.Message)
	if err := f.api.Request(ctx, http.MethodPost, endpointFeedback, "", record, nil); err != nil {
		f.logger.Warn("feedback submission failed", zap.String("demo_type", string(record.DemoType)), zap.Error(err))
		return err
	}
	f.logger.Info("feedback submitted", zap.String("demo_type", string(record.DemoType)), zap.Int("rating", record.Rating))
	return nil
}
