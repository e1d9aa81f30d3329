package responder

import (
	"context"
	"time"

	"reflection-chat-be/internal/pkg/logger"

	"github.com/cenkalti/backoff/v5"
)

type RetryConfig struct {
	MaxAttempts     int
	AttemptTimeout  time.Duration
	InitialInterval time.Duration
}

// RetryingResponder retries failed attempts with exponential backoff. Each
// attempt gets its own timeout; cancellation of the caller's ctx is final.
type RetryingResponder struct {
	next   Responder
	cfg    RetryConfig
	logger logger.ILogger
}

func WithRetry(next Responder, cfg RetryConfig, log logger.ILogger) *RetryingResponder {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	return &RetryingResponder{next: next, cfg: cfg, logger: log}
}

func (r *RetryingResponder) Respond(ctx context.Context, req Request) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval

	attempt := 0
	operation := func() (string, error) {
		attempt++
		attemptCtx := ctx
		if r.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
			defer cancel()
		}

		reply, err := r.next.Respond(attemptCtx, req)
		if err != nil && ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		return reply, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("Responder", "AI response attempt failed, retrying", map[string]interface{}{
				"session_id": req.SessionId,
				"attempt":    attempt,
				"retry_in":   next.String(),
				"error":      err.Error(),
			})
		}),
	)
}
