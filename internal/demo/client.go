// Package demo drives a vision demo session: create, upload, trigger, poll, fetch. One state
// machine serves every demo type; the types only differ in their trigger endpoint.
package demo

import (
	"context"

	"go.uber.org/zap"
)

// Client bundles the demo components around one API.
type Client struct {
	sessions *SessionManager
	uploads  *UploadCoordinator
	poller   *Poller
	results  *ResultFetcher
	feedback *FeedbackSubmitter
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	observer PollObserver
}

// WithPollObserver reports poll outcomes to o.
func WithPollObserver(o PollObserver) ClientOption {
	return func(c *clientConfig) {
		c.observer = o
	}
}

// NewClient constructs a Client. A nil logger disables logging.
func NewClient(api API, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := &clientConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	logger = logger.Named("demo")
	return &Client{
		sessions: NewSessionManager(api, logger),
		uploads:  NewUploadCoordinator(api, logger),
		poller:   NewPoller(api, logger, cfg.observer),
		results:  NewResultFetcher(api, logger),
		feedback: NewFeedbackSubmitter(api, logger),
	}
}

// CreateSession see SessionManager.CreateSession.
func (c *Client) CreateSession(ctx context.Context, demoType DemoType) (*Session, error) {
	return c.sessions.CreateSession(ctx, demoType)
}

// UploadFile see UploadCoordinator.UploadFile.
func (c *Client) UploadFile(ctx context.Context, s *Session, artifact UploadArtifact) error {
	return c.uploads.UploadFile(ctx, s, artifact)
}

// TriggerProcessing see UploadCoordinator.TriggerProcessing.
func (c *Client) TriggerProcessing(ctx context.Context, s *Session, opts ...TriggerOption) error {
	return c.uploads.TriggerProcessing(ctx, s, opts...)
}

// Poll see Poller.Run.
func (c *Client) Poll(ctx context.Context, s *Session, cfg PollConfig) error {
	return c.poller.Run(ctx, s, cfg)
}

// StartPoll see Poller.Start.
func (c *Client) StartPoll(ctx context.Context, s *Session, cfg PollConfig) (*PollTask, error) {
	return c.poller.Start(ctx, s, cfg)
}

// FetchResults see ResultFetcher.FetchResults.
func (c *Client) FetchResults(ctx context.Context, s *Session) (*ProcessingResult, error) {
	return c.results.FetchResults(ctx, s)
}

// SubmitFeedback see FeedbackSubmitter.Submit.
func (c *Client) SubmitFeedback(ctx context.Context, record FeedbackRecord) error {
	return c.feedback.Submit(ctx, record)
}

// Outcome is what a caller renders after Run.
type Outcome struct {
	Session SessionSnapshot   `json:"session"`
	Result  *ProcessingResult `json:"result,omitempty"`
}

// Run executes the full flow for demoType. Once a session exists the returned Outcome is
// non-nil, even on error, so the caller can show how far the session got.
func (c *Client) Run(ctx context.Context, demoType DemoType, artifact UploadArtifact, cfg PollConfig, opts ...TriggerOption) (*Outcome, error) {
	s, err := c.CreateSession(ctx, demoType)
	if err != nil {
		return nil, err
	}

	outcome := func(result *ProcessingResult) *Outcome {
		return &Outcome{Session: s.Snapshot(), Result: result}
	}

	if err := c.UploadFile(ctx, s, artifact); err != nil {
		return outcome(nil), err
	}
	if err := c.TriggerProcessing(ctx, s, opts...); err != nil {
		return outcome(nil), err
	}
	if err := c.Poll(ctx, s, cfg); err != nil {
		return outcome(nil), err
	}
	result, err := c.FetchResults(ctx, s)
	if err != nil {
		return outcome(nil), err
	}
	return outcome(result), nil
}
