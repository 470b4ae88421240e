package fixtures

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v3"
)

// Retry calls op with exponential backoff until it succeeds, ctx is done, or d has elapsed.
// The last error from op is returned.
func Retry(ctx context.Context, d time.Duration, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = d
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
