package ai

import (
	"context"
	"errors"
	"time"
)

// withRetries runs call until it succeeds, fails with a non-retryable error or
// maxRetries extra attempts are used. Backoff grows linearly and never
// undercuts a server-sent Retry-After.
func withRetries(ctx context.Context, maxRetries int, call func() (GenerateResult, error)) (GenerateResult, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := call()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == maxRetries {
			break
		}

		backoff := time.Duration(350*(attempt+1)) * time.Millisecond
		var providerErr *ProviderError
		if errors.As(err, &providerErr) && providerErr.RetryAfter > backoff {
			backoff = providerErr.RetryAfter
		}
		select {
		case <-ctx.Done():
			return GenerateResult{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown provider error")
	}
	return GenerateResult{}, lastErr
}
