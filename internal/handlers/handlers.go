package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/vision-demo/internal/demo"
	"github.com/example/vision-demo/internal/logging"
	"github.com/example/vision-demo/internal/metrics"
	"github.com/example/vision-demo/internal/transport"
)

// MaxUploadSize is the largest demo file the gateway accepts.
const MaxUploadSize = demo.MaxUploadSize

// multipartOverhead leaves room for form headers and the small text fields around the file.
const multipartOverhead = 1 << 20

// DemoRunner is the part of demo.Client the gateway drives.
type DemoRunner interface {
	Run(ctx context.Context, demoType demo.DemoType, artifact demo.UploadArtifact, cfg demo.PollConfig, opts ...demo.TriggerOption) (*demo.Outcome, error)
	SubmitFeedback(ctx context.Context, record demo.FeedbackRecord) error
}

// Config wires the gateway routes.
type Config struct {
	Runner DemoRunner
	// Poll is used when a request does not set its own bounds.
	Poll   demo.PollConfig
	Auth   gin.HandlerFunc
	Logger *zap.Logger
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// Summary serves GET /api/metrics/summary when set.
	Summary func() metrics.Summary
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, cfg Config) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &handler{runner: cfg.Runner, poll: cfg.Poll, logger: cfg.Logger.Named("gateway")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	api := router.Group("/api")
	if cfg.Auth != nil {
		api.Use(cfg.Auth)
	}
	api.GET("/demos", func(c *gin.Context) {
		types := make([]gin.H, 0, len(demo.DemoTypes()))
		for _, d := range demo.DemoTypes() {
			types = append(types, gin.H{"demo_type": d, "label": d.Label()})
		}
		c.JSON(http.StatusOK, gin.H{"demos": types})
	})
	api.POST("/demos/:demo_type", h.runDemo)
	api.POST("/feedback", h.submitFeedback)
	if cfg.Summary != nil {
		api.GET("/metrics/summary", func(c *gin.Context) {
			c.JSON(http.StatusOK, cfg.Summary())
		})
	}
}

type handler struct {
	runner DemoRunner
	poll   demo.PollConfig
	logger *zap.Logger
}

func requestID(c *gin.Context) string {
	id := strings.TrimSpace(c.GetHeader("X-Request-ID"))
	if id == "" {
		id = uuid.NewString()
	}
	c.Header("X-Request-ID", id)
	return id
}

func (h *handler) runDemo(c *gin.Context) {
	reqID := requestID(c)
	logger := logging.WithOperation(h.logger, "gateway.run_demo", reqID)

	demoType, err := demo.ParseDemoType(c.Param("demo_type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)
	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds upload limit"})
		return
	}

	data, err := readFormFile(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read file"})
		return
	}

	mime, ok := acceptedMIME(data, file.Header.Get("Content-Type"))
	if !ok {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only image and video files are supported"})
		return
	}

	pollCfg, opts, err := h.flowOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	artifact := demo.UploadArtifact{FileName: file.Filename, Payload: data, MimeHint: mime}
	outcome, err := h.runner.Run(c.Request.Context(), demoType, artifact, pollCfg, opts...)
	if err != nil {
		status := statusFor(err)
		logger.Warn("demo run failed",
			zap.String("demo_type", string(demoType)),
			zap.Int("status", status),
			zap.Error(err),
		)
		body := gin.H{"error": err.Error(), "request_id": reqID}
		if outcome != nil {
			body["session"] = outcome.Session
		}
		c.JSON(status, body)
		return
	}

	logger.Info("demo run completed",
		zap.String("demo_type", string(demoType)),
		zap.String("session_id", outcome.Session.ID),
	)
	c.JSON(http.StatusOK, gin.H{
		"request_id": reqID,
		"session":    outcome.Session,
		"result":     outcome.Result,
	})
}

func readFormFile(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

// acceptedMIME prefers the sniffed type and falls back to the declared one when the content
// is not recognised.
func acceptedMIME(data []byte, declared string) (string, bool) {
	mime := mimetype.Detect(data).String()
	if mime == "application/octet-stream" && declared != "" {
		mime = declared
	}
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime, strings.HasPrefix(mime, "image/") || strings.HasPrefix(mime, "video/")
}

func (h *handler) flowOptions(c *gin.Context) (demo.PollConfig, []demo.TriggerOption, error) {
	cfg := h.poll
	var opts []demo.TriggerOption

	if raw := c.PostForm("interval_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, nil, transport.NewValidationError("interval_ms", "%q is not an integer", raw)
		}
		cfg.Interval = time.Duration(ms) * time.Millisecond
	}
	if raw := c.PostForm("max_attempts"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, nil, transport.NewValidationError("max_attempts", "%q is not an integer", raw)
		}
		cfg.MaxAttempts = n
	}
	if raw := c.PostForm("confidence"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return cfg, nil, transport.NewValidationError("confidence", "%q is not a number", raw)
		}
		opts = append(opts, demo.WithConfidence(threshold))
	}
	return cfg, opts, cfg.Validate()
}

type feedbackRequest struct {
	DemoType string `json:"demo_type" binding:"required"`
	Message  string `json:"message" binding:"required"`
	Rating   int    `json:"rating"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Subject  string `json:"subject"`
}

func (h *handler) submitFeedback(c *gin.Context) {
	reqID := requestID(c)
	logger := logging.WithOperation(h.logger, "gateway.submit_feedback", reqID)

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "demo_type and message are required"})
		return
	}
	demoType, err := demo.ParseDemoType(req.DemoType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record := demo.FeedbackRecord{
		DemoType: demoType,
		Message:  req.Message,
		Rating:   req.Rating,
		Name:     req.Name,
		Email:    req.Email,
		Subject:  req.Subject,
	}
	if err := h.runner.SubmitFeedback(c.Request.Context(), record); err != nil {
		status := statusFor(err)
		logger.Warn("feedback failed", zap.Int("status", status), zap.Error(err))
		c.JSON(status, gin.H{"error": err.Error(), "request_id": reqID})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "received", "request_id": reqID})
}

// statusFor maps the client error taxonomy onto gateway responses. Remote failures are
// reported as bad gateway regardless of which flow step saw them.
func statusFor(err error) int {
	var (
		validationErr *transport.ValidationError
		stateErr      *demo.InvalidStateError
		timeoutErr    *demo.PollTimeoutError
		failedErr     *demo.ProcessingFailedError
		httpErr       *transport.HTTPError
		networkErr    *transport.NetworkError
		parseErr      *transport.ParseError
		opErr         *logging.OperationError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &stateErr):
		return http.StatusConflict
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout
	case errors.As(err, &failedErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, demo.ErrPollCancelled):
		return http.StatusServiceUnavailable
	case errors.As(err, &httpErr), errors.As(err, &networkErr), errors.As(err, &parseErr):
		return http.StatusBadGateway
	case errors.As(err, &opErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
