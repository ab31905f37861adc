package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/example/vision-demo/internal/logging"
	"github.com/example/vision-demo/internal/transport"
)

// Detection is one labeled object found by the remote analysis.
type Detection struct {
	ClassLabel string    `json:"class_label"`
	Confidence float64   `json:"confidence"`
	ClassID    *int      `json:"class_id,omitempty"`
	BBox       []float64 `json:"bbox,omitempty"`
	Frame      *int      `json:"frame,omitempty"`
}

// UnmarshalJSON accepts the label under class, class_label, class_name or label.
func (d *Detection) UnmarshalJSON(data []byte) error {
	var wire struct {
		Class      string    `json:"class"`
		ClassLabel string    `json:"class_label"`
		ClassName  string    `json:"class_name"`
		Label      string    `json:"label"`
		Confidence float64   `json:"confidence"`
		ClassID    *int      `json:"class_id"`
		BBox       []float64 `json:"bbox"`
		Frame      *int      `json:"frame"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	label := wire.ClassLabel
	for _, candidate := range []string{wire.Class, wire.ClassName, wire.Label} {
		if label == "" {
			label = candidate
		}
	}
	*d = Detection{
		ClassLabel: label,
		Confidence: wire.Confidence,
		ClassID:    wire.ClassID,
		BBox:       wire.BBox,
		Frame:      wire.Frame,
	}
	return nil
}

// ProcessingResult is the final output of a session. Callers always receive a copy.
type ProcessingResult struct {
	SessionID         string      `json:"session_id"`
	ResultImageRef    string      `json:"result_image_ref,omitempty"`
	ResultFileRef     string      `json:"result_file_ref,omitempty"`
	Detections        []Detection `json:"detections"`
	Description       string      `json:"description,omitempty"`
	TechnicalSummary  string      `json:"technical_summary,omitempty"`
	ProcessingSeconds float64     `json:"processing_seconds,omitempty"`
}

func (r *ProcessingResult) clone() *ProcessingResult {
	out := *r
	out.Detections = make([]Detection, len(r.Detections))
	for i, d := range r.Detections {
		if d.ClassID != nil {
			id := *d.ClassID
			d.ClassID = &id
		}
		if d.Frame != nil {
			frame := *d.Frame
			d.Frame = &frame
		}
		if d.BBox != nil {
			d.BBox = append([]float64(nil), d.BBox...)
		}
		out.Detections[i] = d
	}
	return &out
}

type resultData struct {
	Detections       []Detection `json:"detections"`
	AIDescription    string      `json:"ai_description"`
	TechnicalSummary string      `json:"technical_summary"`
}

type resultsResponse struct {
	SessionID        string      `json:"session_id"`
	OutputImageURL   string      `json:"output_image_url"`
	ResultImage      string      `json:"result_image"`
	ResultFile       string      `json:"result_file"`
	Detections       []Detection `json:"detections"`
	AIDescription    string      `json:"ai_description"`
	TechnicalSummary string      `json:"technical_summary"`
	ProcessingTime   float64     `json:"processing_time"`
	Results          []struct {
		ResultFile     string     `json:"result_file"`
		ResultData     resultData `json:"result_data"`
		ProcessingTime float64    `json:"processing_time"`
	} `json:"results"`
}

// toResult flattens the response. When the server returns the stored results list, the
// last entry is the most recent run.
func (r resultsResponse) toResult(sessionID string) *ProcessingResult {
	out := &ProcessingResult{
		SessionID:         sessionID,
		ResultImageRef:    r.OutputImageURL,
		ResultFileRef:     r.ResultFile,
		Detections:        r.Detections,
		Description:       r.AIDescription,
		TechnicalSummary:  r.TechnicalSummary,
		ProcessingSeconds: r.ProcessingTime,
	}
	if out.ResultImageRef == "" {
		out.ResultImageRef = r.ResultImage
	}
	if len(r.Results) > 0 {
		latest := r.Results[len(r.Results)-1]
		if out.Detections == nil {
			out.Detections = latest.ResultData.Detections
		}
		if out.ResultFileRef == "" {
			out.ResultFileRef = latest.ResultFile
		}
		if out.Description == "" {
			out.Description = latest.ResultData.AIDescription
		}
		if out.TechnicalSummary == "" {
			out.TechnicalSummary = latest.ResultData.TechnicalSummary
		}
		if out.ProcessingSeconds == 0 {
			out.ProcessingSeconds = latest.ProcessingTime
		}
	}
	if out.Detections == nil {
		out.Detections = []Detection{}
	}
	return out
}

func validateDetections(detections []Detection) error {
	for i, d := range detections {
		if d.Confidence < 0 || d.Confidence > 1 {
			return fmt.Errorf("detection %d has confidence %v outside [0,1]", i, d.Confidence)
		}
	}
	return nil
}

// ResultFetcher retrieves the result of a Completed session.
type ResultFetcher struct {
	api    API
	logger *zap.Logger
}

// NewResultFetcher constructs a ResultFetcher.
func NewResultFetcher(api API, logger *zap.Logger) *ResultFetcher {
	return &ResultFetcher{api: api, logger: logger.Named("results")}
}

// FetchResults returns the session result. The remote read happens once; later calls
// return a copy of the same result.
func (f *ResultFetcher) FetchResults(ctx context.Context, s *Session) (*ProcessingResult, error) {
	if err := requireID(s, "fetch_results"); err != nil {
		return nil, err
	}
	if err := s.require("fetch_results", StatusCompleted); err != nil {
		return nil, err
	}

	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()
	if cached := s.cachedResult(); cached != nil {
		return cached.clone(), nil
	}

	opLogger := logging.WithSession(f.logger, "demo.fetch_results", s.ID, string(s.DemoType))
	var resp resultsResponse
	if err := f.api.Request(ctx, http.MethodGet, endpointResults, s.ID, nil, &resp); err != nil {
		opLogger.Error("fetching results failed", zap.Error(err))
		return nil, err
	}

	result := resp.toResult(s.ID)
	if err := validateDetections(result.Detections); err != nil {
		parseErr := &transport.ParseError{Endpoint: endpointResults, Err: err}
		opLogger.Error("results rejected", zap.Error(parseErr))
		return nil, parseErr
	}

	s.storeResult(result)
	opLogger.Info("results fetched", zap.Int("detections", len(result.Detections)))
	return result.clone(), nil
}
