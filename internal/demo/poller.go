package demo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/vision-demo/internal/logging"
	"github.com/example/vision-demo/internal/transport"
)

const (
	remoteCompleted = "completed"
	remoteFailed    = "failed"
)

// Poll outcomes reported to a PollObserver.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// PollConfig bounds one poll loop.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPollConfig checks once per second for up to 30 checks.
func DefaultPollConfig() PollConfig {
	return PollConfig{Interval: time.Second, MaxAttempts: 30}
}

// Validate rejects a non-positive attempt budget or a negative interval.
func (c PollConfig) Validate() error {
	if c.MaxAttempts <= 0 {
		return transport.NewValidationError("max_attempts", "must be positive, got %d", c.MaxAttempts)
	}
	if c.Interval < 0 {
		return transport.NewValidationError("interval", "must not be negative, got %s", c.Interval)
	}
	return nil
}

// PollObserver receives the outcome of every finished poll loop.
type PollObserver interface {
	ObservePoll(demoType, outcome string, attempts int)
}

type nopPollObserver struct{}

func (nopPollObserver) ObservePoll(string, string, int) {}

// Poller waits for a Processing session to reach a terminal status.
type Poller struct {
	api      API
	logger   *zap.Logger
	observer PollObserver
	wait     func(ctx context.Context, d time.Duration) error
}

// NewPoller constructs a Poller. observer may be nil.
func NewPoller(api API, logger *zap.Logger, observer PollObserver) *Poller {
	if observer == nil {
		observer = nopPollObserver{}
	}
	return &Poller{api: api, logger: logger.Named("poller"), observer: observer, wait: sleep}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Poller) begin(s *Session, cfg PollConfig) error {
	if err := requireID(s, "poll"); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.beginPoll()
}

// Run polls until the session is Completed, Failed or TimedOut, a status check fails, or
// ctx is cancelled. It blocks the caller.
func (p *Poller) Run(ctx context.Context, s *Session, cfg PollConfig) error {
	if err := p.begin(s, cfg); err != nil {
		return err
	}
	defer s.endPoll()
	return p.loop(ctx, s, cfg)
}

// PollTask is a poll loop running in its own goroutine.
type PollTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Cancel stops the loop from issuing further checks. It does not wait.
func (t *PollTask) Cancel() { t.cancel() }

// Done is closed once the loop has returned.
func (t *PollTask) Done() <-chan struct{} { return t.done }

// Wait blocks until the loop returns and reports its result.
func (t *PollTask) Wait() error {
	<-t.done
	return t.err
}

// Stop cancels the loop and waits for it, after which the session is no longer touched.
func (t *PollTask) Stop() error {
	t.cancel()
	return t.Wait()
}

// Start launches the loop in the background. The single-loop check happens before Start
// returns, so a second Start for the same session fails immediately.
func (p *Poller) Start(ctx context.Context, s *Session, cfg PollConfig) (*PollTask, error) {
	if err := p.begin(s, cfg); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	task := &PollTask{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(task.done)
		defer cancel()
		defer s.endPoll()
		task.err = p.loop(ctx, s, cfg)
	}()
	return task, nil
}

type statusResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (p *Poller) loop(ctx context.Context, s *Session, cfg PollConfig) error {
	opLogger := logging.WithSession(p.logger, "demo.poll", s.ID, string(s.DemoType))
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return p.cancelled(opLogger, s, attempts, err)
		}

		var resp statusResponse
		if err := p.api.Request(ctx, http.MethodGet, endpointStatus, s.ID, nil, &resp); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return p.cancelled(opLogger, s, attempts, ctxErr)
			}
			p.observer.ObservePoll(string(s.DemoType), OutcomeError, attempts+1)
			opLogger.Error("status check failed", zap.Error(err), zap.Int("attempt", attempts+1))
			return err
		}

		remote := strings.ToLower(strings.TrimSpace(resp.Status))
		s.observeRemote(remote)

		switch remote {
		case remoteCompleted:
			if err := s.advance("poll", StatusProcessing, StatusCompleted); err != nil {
				return err
			}
			p.observer.ObservePoll(string(s.DemoType), OutcomeCompleted, attempts+1)
			opLogger.Info("processing completed", zap.Int("attempts", attempts+1))
			return nil
		case remoteFailed:
			if err := s.advance("poll", StatusProcessing, StatusFailed); err != nil {
				return err
			}
			p.observer.ObservePoll(string(s.DemoType), OutcomeFailed, attempts+1)
			msg := resp.Error
			if msg == "" {
				msg = resp.Message
			}
			opLogger.Warn("server reported failure", zap.String("message", msg))
			return &ProcessingFailedError{SessionID: s.ID, Message: msg}
		}

		attempts++
		if attempts >= cfg.MaxAttempts {
			if err := s.advance("poll", StatusProcessing, StatusTimedOut); err != nil {
				return err
			}
			p.observer.ObservePoll(string(s.DemoType), OutcomeTimedOut, attempts)
			opLogger.Warn("attempt budget exhausted", zap.Int("attempts", attempts), zap.String("last_status", remote))
			return &PollTimeoutError{SessionID: s.ID, Attempts: attempts, LastStatus: remote}
		}

		if err := ctx.Err(); err != nil {
			return p.cancelled(opLogger, s, attempts, err)
		}
		opLogger.Debug("not finished yet", zap.Int("attempt", attempts), zap.String("status", remote))
		if err := p.wait(ctx, cfg.Interval); err != nil {
			return p.cancelled(opLogger, s, attempts, err)
		}
	}
}

func (p *Poller) cancelled(opLogger *zap.Logger, s *Session, attempts int, cause error) error {
	p.observer.ObservePoll(string(s.DemoType), OutcomeCancelled, attempts)
	opLogger.Info("poll cancelled", zap.Int("attempts", attempts))
	return fmt.Errorf("%w: session %s after %d status checks: %w", ErrPollCancelled, s.ID, attempts, cause)
}
