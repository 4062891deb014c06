// Package retryx implements the single bounded-wait primitive shared by the
// bucket-creation wait and the remote metadata checks: poll a predicate at a
// fixed interval until it reports done or the wait budget runs out.
package retryx

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/beamup/internal/common"
	"github.com/sethvargo/go-retry"
)

var errNotDone = errors.New("not done")

// Poll calls fn every interval until fn returns (true, nil), fn returns an
// error, or maxWait elapses. A permanent error from fn is returned as-is;
// running out of budget returns common.ErrDeadlineExceeded.
func Poll(ctx context.Context, interval, maxWait time.Duration, fn func(ctx context.Context) (bool, error)) error {
	backoff := retry.WithMaxDuration(maxWait, retry.NewConstant(interval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if !done {
			return retry.RetryableError(errNotDone)
		}
		return nil
	})

	if errors.Is(err, errNotDone) {
		return common.ErrDeadlineExceeded
	}
	return err
}
