package helpers

import (
	"context"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff attempts to execute the operation up to maxRetries times.
// The delay before attempt N is baseDelay*2^(N-1) when exponential is true,
// a constant baseDelay otherwise. There is no delay after the final attempt;
// the last error is returned. Context cancellation aborts the wait.
func RetryWithBackoff(ctx context.Context, operation string, maxRetries int, baseDelay time.Duration, exponential bool, fn func() (interface{}, error)) (interface{}, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		res, err := fn()
		if err == nil {
			return res, nil
		}

		lastErr = err
		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay
		if exponential {
			delay = baseDelay * (1 << attempt)
		}

		fmt.Printf("Warning: Attempt %d/%d failed for %s: %v. Retrying in %v\n",
			attempt+1, maxRetries, operation, err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, lastErr
		}
	}

	return nil, lastErr
}
