package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/nimasrn/esim-gateway/pkg/redis"
)

var (
	ErrAlreadyDone        = errors.New("job already processed")
	ErrInFlight           = errors.New("job is being processed elsewhere")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

type Config struct {
	LockTTL    time.Duration
	DoneTTL    time.Duration
	MaxRetries int

	RetryKeyPrefix string
	LockKeyPrefix  string
	DoneKeyPrefix  string
}

func DefaultConfig() Config {
	return Config{
		LockTTL:        30 * time.Second,
		DoneTTL:        24 * time.Hour,
		MaxRetries:     3,
		RetryKeyPrefix: "job:retry:",
		LockKeyPrefix:  "job:lock:",
		DoneKeyPrefix:  "job:done:",
	}
}

// Service guards at-most-once handling of queue jobs across consumers.
// A job is claimed with a short lock, settled with a long-lived done marker,
// and its failures are counted so poison jobs stop being retried.
type Service struct {
	redis  redis.RedisAdapter
	config Config
}

func New(adapter redis.RedisAdapter, config Config) *Service {
	return &Service{redis: adapter, config: config}
}

// Claim is held by the consumer currently working on a job.
type Claim struct {
	Key      string
	Attempts int
	held     bool
}

func (c *Claim) IsRetry() bool {
	return c.Attempts > 0
}

func (s *Service) Claim(ctx context.Context, key string) (*Claim, error) {
	done, err := s.redis.Exist(s.config.DoneKeyPrefix + key)
	if err != nil {
		// not fatal, the lock below still guards concurrent consumers
		logger.Warn("failed to check job marker", "key", key, "error", err)
	} else if done > 0 {
		return nil, ErrAlreadyDone
	}

	attempts, err := s.Attempts(ctx, key)
	if err != nil {
		logger.Warn("failed to read job retry counter", "key", key, "error", err)
	}
	if attempts >= s.config.MaxRetries {
		return nil, fmt.Errorf("%w: key=%s attempts=%d", ErrMaxRetriesExceeded, key, attempts)
	}

	ok, err := s.redis.SetNX(s.config.LockKeyPrefix+key, []byte(strconv.FormatInt(time.Now().UnixNano(), 10)), s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInFlight, err)
	}
	if !ok {
		return nil, ErrInFlight
	}

	logger.Debug("job claimed", "key", key, "attempts", attempts)
	return &Claim{Key: key, Attempts: attempts, held: true}, nil
}

// Done marks the job processed and drops its lock and retry counter.
func (s *Service) Done(ctx context.Context, c *Claim) error {
	if err := s.redis.Set(s.config.DoneKeyPrefix+c.Key, []byte("1"), s.config.DoneTTL); err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	s.del(s.config.RetryKeyPrefix + c.Key)
	s.Release(ctx, c)
	return nil
}

// Failed bumps the retry counter and frees the lock so another attempt can claim it.
func (s *Service) Failed(ctx context.Context, c *Claim, reason error) int {
	attempts := c.Attempts + 1
	if err := s.redis.Set(s.config.RetryKeyPrefix+c.Key, []byte(strconv.Itoa(attempts)), s.config.DoneTTL); err != nil {
		logger.Error("failed to bump job retry counter", "key", c.Key, "error", err)
	}
	s.Release(ctx, c)

	logger.Warn("job failed", "key", c.Key, "attempts", attempts, "max_retries", s.config.MaxRetries, "reason", reason)
	return attempts
}

func (s *Service) Release(_ context.Context, c *Claim) {
	if c == nil || !c.held {
		return
	}
	s.del(s.config.LockKeyPrefix + c.Key)
	c.held = false
}

func (s *Service) Attempts(_ context.Context, key string) (int, error) {
	raw, err := s.redis.Get(s.config.RetryKeyPrefix + key)
	if errors.Is(err, redis.NilError) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("corrupt retry counter for %s: %w", key, err)
	}
	return n, nil
}

func (s *Service) IsDone(_ context.Context, key string) (bool, error) {
	n, err := s.redis.Exist(s.config.DoneKeyPrefix + key)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Service) del(key string) {
	if err := s.redis.Del(key); err != nil {
		logger.Warn("failed to delete job key", "key", key, "error", err)
	}
}
