package catalog

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RetryConfig bounds retries against a flaky provider. Only the catalog
// transient layer retries; workflow operations never do.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      3 * time.Second,
		BackoffFactor: 2,
	}
}

var retryablePatterns = []string{
	"timeout", "connection refused", "temporary failure",
	"429", "500", "502", "503", "504",
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// withRetry runs fn with exponential backoff and jitter, honoring context
// cancellation between attempts.
func withRetry[T any](ctx context.Context, cfg RetryConfig, log *zap.Logger, operation string, fn func() (*T, error)) (*T, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(attempt, cfg)
		log.Warn("retrying provider call",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", operation, cfg.MaxAttempts, lastErr)
}

func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if backoff > float64(cfg.MaxDelay) {
		backoff = float64(cfg.MaxDelay)
	}
	// 10% jitter against thundering herd
	jitter := backoff * 0.1 * (2*float64(time.Now().UnixNano()%100)/100 - 1)
	return time.Duration(backoff + jitter)
}
