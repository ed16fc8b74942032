package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy bounds the calls made by Retrying.
type RetryPolicy struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	Backoff        time.Duration // grows linearly: Backoff, 2*Backoff, ...
}

// Retrying wraps a Client with a bounded retry and a per-attempt timeout.
// The last error is returned once attempts are exhausted; the caller is
// expected to fail the surrounding transition with it.
type Retrying struct {
	inner  Client
	policy RetryPolicy
	log    *slog.Logger
}

// NewRetrying wraps inner. Zero policy fields fall back to 3 attempts, 10s and 200ms.
func NewRetrying(inner Client, policy RetryPolicy, logger *slog.Logger) *Retrying {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = 10 * time.Second
	}
	if policy.Backoff <= 0 {
		policy.Backoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{inner: inner, policy: policy, log: logger}
}

func (r *Retrying) run(ctx context.Context, op string, key string, call func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
		err = call(actx)
		cancel()
		if err == nil {
			return nil
		}
		if IsPermanent(err) || ctx.Err() != nil {
			break
		}
		r.log.Warn("gateway call failed", "op", op, "idempotency_key", key, "attempt", attempt, "error", err)
		if attempt == r.policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("gateway %s: %w", op, ctx.Err())
		case <-time.After(time.Duration(attempt) * r.policy.Backoff):
		}
	}
	return fmt.Errorf("gateway %s failed: %w", op, err)
}

func (r *Retrying) CreatePaymentSession(ctx context.Context, req PaymentSessionRequest) (PaymentSession, error) {
	var out PaymentSession
	err := r.run(ctx, "create_payment_session", req.IdempotencyKey, func(ctx context.Context) error {
		var err error
		out, err = r.inner.CreatePaymentSession(ctx, req)
		return err
	})
	return out, err
}

func (r *Retrying) CreatePayoutSession(ctx context.Context, req PayoutRequest) (string, error) {
	var out string
	err := r.run(ctx, "create_payout_session", req.IdempotencyKey, func(ctx context.Context) error {
		var err error
		out, err = r.inner.CreatePayoutSession(ctx, req)
		return err
	})
	return out, err
}

func (r *Retrying) GetPaymentSession(ctx context.Context, sessionID string) (SessionInfo, error) {
	var out SessionInfo
	err := r.run(ctx, "get_payment_session", sessionID, func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetPaymentSession(ctx, sessionID)
		return err
	})
	return out, err
}
