package embedder

import (
	"context"
	"time"
)

// Retry policy shared by the remote providers. Delays double per attempt
// and are capped so a flaky server cannot stall an index cycle for long.
const (
	apiAttempts  = 3
	apiBaseDelay = 100 * time.Millisecond
	apiMaxDelay  = 5 * time.Second
)

// fetchWithRetry calls fn until it succeeds or the attempt budget runs out,
// sleeping between attempts. Context cancellation cuts the loop short.
func fetchWithRetry(ctx context.Context, fn func() ([][]float32, error)) ([][]float32, error) {
	delay := apiBaseDelay
	for attempt := 1; ; attempt++ {
		vectors, err := fn()
		if err == nil {
			return vectors, nil
		}
		if attempt == apiAttempts {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > apiMaxDelay {
			delay = apiMaxDelay
		}
	}
}
