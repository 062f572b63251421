package lib

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// ReconnectConfig controls how often an unanswered connection request is
// retried as a whole, on top of the per-SYN retries of Connect.
type ReconnectConfig struct {
	MaxRetries        int           // further Connect calls after the first (-1 for infinite)
	InitialBackoff    time.Duration // delay before the first retry
	MaxBackoff        time.Duration // backoff cap
	BackoffMultiplier float64       // e.g. 2.0
	OnReconnect       func(attempt int)
	OnFinalFailure    func(error)
}

func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxRetries:        5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ConnectWithBackoff calls Connect until it succeeds, fails with something
// other than ErrHandshakeTimeout, or the retries in cfg are exhausted.
func (s *Stack) ConnectWithBackoff(ctx context.Context, fd int, addr Address, cfg *ReconnectConfig) error {
	if cfg == nil {
		cfg = DefaultReconnectConfig()
	}

	err := s.Connect(ctx, fd, addr)
	for retry := 0; err != nil && errors.Is(err, ErrHandshakeTimeout) && (cfg.MaxRetries == -1 || retry < cfg.MaxRetries); retry++ {
		backoff := CalculateBackoffDuration(retry, cfg.InitialBackoff, cfg.MaxBackoff, cfg.BackoffMultiplier)
		log.Info().Int("fd", fd).Int("attempt", retry+1).Dur("backoff", backoff).Msg("server unreachable, retrying connect")

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.closeSignal:
			timer.Stop()
			return ErrStackClosed
		}

		if err = s.Connect(ctx, fd, addr); err == nil && cfg.OnReconnect != nil {
			cfg.OnReconnect(retry + 1)
		}
	}

	if err != nil && cfg.OnFinalFailure != nil {
		cfg.OnFinalFailure(err)
	}
	return err
}

// CalculateBackoffDuration returns the delay before retry number retryCount
// (starting at 0).
func CalculateBackoffDuration(retryCount int, initialBackoff, maxBackoff time.Duration, multiplier float64) time.Duration {
	backoff := time.Duration(float64(initialBackoff) * math.Pow(multiplier, float64(retryCount)))
	if backoff > maxBackoff || backoff < 0 {
		backoff = maxBackoff
	}
	return backoff
}
