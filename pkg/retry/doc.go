// Package retry provides bounded retry logic for transient failures.
//
// # Core Functions
//
//   - Do: execute a function until it succeeds or the attempts run out
//   - DoWithResult: same, returning the function's result
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s exponential delay
//   - Fixed(n, d): one attempt plus n retries, exactly d apart
//
// # Usage
//
// Channel connection with a fixed budget:
//
//	cfg := retry.Fixed(10, 2*time.Second)
//	cfg.OnRetry = func(attempt int, err error) {
//	    logger.Warn("dial failed", "attempt", attempt, "error", err)
//	}
//	conn, err := retry.DoWithResult(ctx, cfg, func() (Conn, error) {
//	    return dialer.Dial(ctx, url)
//	})
//	if errors.Is(err, retry.ErrExhausted) {
//	    // budget spent
//	}
//
// All operations respect context cancellation, both while the function runs
// and during the delay between attempts. A cancelled run never wraps
// ErrExhausted.
package retry
