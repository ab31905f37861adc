package credentials

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/vision-demo/internal/logging"
)

// DefaultKey is the Redis key the login flow writes the demo token to.
const DefaultKey = "vision-demo:auth_token"

// KeyReader abstracts the Redis read used by the store to make testing easier.
type KeyReader interface {
	Get(ctx context.Context, key string) (string, error)
}

type redisReader struct {
	client *redis.Client
}

func (r redisReader) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

// RedisStore reads the bearer token from an external Redis store on every call, so a token
// refreshed by another process is picked up without restarting the client.
type RedisStore struct {
	reader         KeyReader
	key            string
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRedisStore constructs a store backed by go-redis.
func NewRedisStore(client *redis.Client, key string, logger *zap.Logger) *RedisStore {
	return newStore(redisReader{client: client}, key, logger)
}

func newStore(reader KeyReader, key string, logger *zap.Logger) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	return &RedisStore{
		reader:         reader,
		key:            key,
		logger:         logger.Named("credential_store"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Token implements Provider. A missing key means no credential.
func (s *RedisStore) Token(ctx context.Context) (string, error) {
	var token string
	err := s.withRetry(ctx, "credentials.redis_get", func() error {
		value, err := s.reader.Get(ctx, s.key)
		if err != nil {
			return err
		}
		token = value
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisStore) withRetry(ctx context.Context, operation string, fn func() error) error {
	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, s.key)
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, s.key, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil || errors.Is(err, redis.Nil) {
			if err == nil && attempt > 0 {
				opLogger.Info("redis read succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return err
		}

		if !isTransientError(err) || attempt == s.retryAttempts-1 {
			opLogger.Error("redis read failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, s.key, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, s.key, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
