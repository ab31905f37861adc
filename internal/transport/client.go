// Package transport issues requests against the vision API and normalizes its failures into
// NetworkError, HTTPError, ParseError and ValidationError.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/vision-demo/internal/credentials"
	"github.com/example/vision-demo/internal/logging"
)

// SessionIDPlaceholder is substituted with the literal session identifier before dispatch.
const SessionIDPlaceholder = "{session_id}"

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8000"

const maxResponseBytes = 16 << 20

// Observer receives one call per completed request attempt. statusCode is 0 when no
// response was received.
type Observer interface {
	ObserveRequest(method, endpoint string, statusCode int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string, int, time.Duration) {}

// File is a multipart upload body. It is only read during Upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Client talks to the vision API. It is safe for concurrent use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	credentials credentials.Provider
	logger      *zap.Logger
	observer    Observer
	now         func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every request, including reading the body.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithObserver reports request metrics to o.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// New constructs a client for baseURL. A nil provider sends every request unauthenticated.
func New(baseURL string, provider credentials.Provider, logger *zap.Logger, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, NewValidationError("base_url", "%q is not an absolute http(s) URL", baseURL)
	}
	if provider == nil {
		provider = credentials.None
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		credentials: provider,
		logger:      logger.Named("transport"),
		observer:    nopObserver{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Expand substitutes the session placeholder in template. Templates without the placeholder
// are returned unchanged.
func Expand(template, sessionID string) (string, error) {
	if !strings.Contains(template, SessionIDPlaceholder) {
		return template, nil
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", NewValidationError("session_id", "required by endpoint %s", template)
	}
	return strings.ReplaceAll(template, SessionIDPlaceholder, url.PathEscape(sessionID)), nil
}

// Request sends a JSON request. body is encoded when non-nil; the response is decoded into
// out when non-nil and otherwise only checked to be well-formed JSON.
func (c *Client) Request(ctx context.Context, method, endpoint, sessionID string, body, out any) error {
	path, err := Expand(endpoint, sessionID)
	if err != nil {
		return err
	}

	var reader io.Reader
	contentType := ""
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return NewValidationError("body", "cannot encode request: %v", err)
		}
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.do(ctx, method, endpoint, path, reader, contentType, out)
}

// Upload posts file as the "file" field of a multipart form.
func (c *Client) Upload(ctx context.Context, endpoint, sessionID string, file File, out any) error {
	path, err := Expand(endpoint, sessionID)
	if err != nil {
		return err
	}

	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	name := file.Name
	if name == "" {
		name = "upload"
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+escapeQuotes(name)+`"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return NewValidationError("file", "cannot build multipart body: %v", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return NewValidationError("file", "cannot build multipart body: %v", err)
	}
	if err := writer.Close(); err != nil {
		return NewValidationError("file", "cannot build multipart body: %v", err)
	}

	return c.do(ctx, http.MethodPost, endpoint, path, buf, writer.FormDataContentType(), out)
}

func (c *Client) do(ctx context.Context, method, endpoint, path string, body io.Reader, contentType string, out any) error {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(c.logger, "transport.request", requestID).With(
		zap.String("method", method),
		zap.String("endpoint", endpoint),
	)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return NewValidationError("request", "%v", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	token, err := c.credentials.Token(ctx)
	if err != nil {
		wrapped := logging.NewOperationError("transport.credentials", requestID, err)
		opLogger.Error("credential lookup failed", zap.Error(wrapped))
		return wrapped
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		if exp, ok := credentials.Expiry(token); ok && exp.Before(c.now()) {
			opLogger.Warn("bearer token looks expired, sending anyway", zap.Time("expired_at", exp))
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observer.ObserveRequest(method, endpoint, 0, time.Since(start))
		opLogger.Error("request failed", zap.Error(err))
		return &NetworkError{Method: method, Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	elapsed := time.Since(start)
	c.observer.ObserveRequest(method, endpoint, resp.StatusCode, elapsed)
	if err != nil {
		opLogger.Error("reading response failed", zap.Error(err))
		return &NetworkError{Method: method, Endpoint: path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Endpoint: path, Message: errorMessage(raw)}
		opLogger.Warn("non-success response", zap.Int("status", resp.StatusCode), zap.String("message", httpErr.Message))
		return httpErr
	}

	opLogger.Debug("request completed", zap.Int("status", resp.StatusCode), zap.Duration("elapsed", elapsed))
	return decode(path, raw, out)
}

func decode(endpoint string, raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		if out == nil {
			return nil
		}
		return &ParseError{Endpoint: endpoint, Err: errors.New("empty response body")}
	}
	if out == nil {
		if !json.Valid(trimmed) {
			return &ParseError{Endpoint: endpoint, Err: errors.New("body is not valid JSON")}
		}
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return &ParseError{Endpoint: endpoint, Err: err}
	}
	return nil
}

// errorMessage pulls a human readable message out of an error body.
func errorMessage(raw []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return strings.TrimSpace(truncate(string(raw), 200))
	}
	for _, key := range []string{"error", "message", "detail"} {
		if msg, ok := payload[key].(string); ok && msg != "" {
			return msg
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
