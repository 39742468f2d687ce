package llm

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds the exponential backoff applied to retryable provider
// errors (spec §4.14's "per-call cap"), following the doubling-delay
// pattern of the teacher's httpclient.Client.Do.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the teacher's httpclient defaults: a handful
// of attempts with a doubling delay capped well under the per-call
// timeout.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 4,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    8 * time.Second,
}

// ChatWithRetry calls provider.Chat, retrying retryable *Error failures
// with exponential backoff up to policy's cap. Non-retryable errors and
// context cancellation return immediately (spec §5 "every awaitable...
// must observe the token").
func ChatWithRetry(ctx context.Context, provider Provider, req Request, policy RetryPolicy) (Response, error) {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy
	}

	var lastErr error
	delay := policy.BaseDelay
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}

		resp, err := provider.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var llmErr *Error
		if !errors.As(err, &llmErr) || !llmErr.Retryable() {
			return Response{}, err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return Response{}, lastErr
}
