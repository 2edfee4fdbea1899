// Package optimistic retries version-guarded writes that lose a
// compare-and-swap race.
package optimistic

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrConflict signals that a guarded UPDATE matched zero rows because the
// version moved underneath the writer. Callers return it (or wrap it) from
// the function passed to Do to request another attempt.
var ErrConflict = errors.New("optimistic version conflict")

const (
	defaultAttempts  = 3
	defaultBaseDelay = 25 * time.Millisecond
)

// Do runs fn until it succeeds, fails with a non-conflict error, or exhausts
// maxAttempts. Conflicts back off exponentially starting at baseDelay.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func(ctx context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = defaultAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewExponential(baseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, ErrConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
}
