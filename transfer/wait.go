package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"github.com/ll2l/indexcopy/client"
)

// stableChecks is how many consecutive polls must return the same count
// before indexing is considered finished short of the expected count.
const stableChecks = 3

// waitDeleted polls until index no longer exists or timeout elapses.
func waitDeleted(ctx context.Context, b client.Backend, index string, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		_, err := b.GetSchema(ctx, index)
		if errors.Is(err, client.ErrIndexNotFound) {
			return nil
		}
		if time.Now().After(deadline) {
			return goerr.New("index still exists after settle timeout",
				goerr.V("index", index),
				goerr.V("timeout", timeout.String()),
			)
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// waitIndexed polls the document count of index until it reaches expected,
// stops changing, or timeout elapses, and returns the last count seen.
func waitIndexed(ctx context.Context, b client.Backend, logger *zap.Logger, index string, expected int64, interval, timeout time.Duration) (int64, error) {
	deadline := time.Now().Add(timeout)
	var (
		last   int64 = -1
		stable int
	)

	for {
		n, err := b.Count(ctx, index)
		if err != nil {
			return last, err
		}
		if expected >= 0 && n >= expected {
			return n, nil
		}

		if n == last {
			stable++
		} else {
			stable = 0
		}
		last = n

		if stable >= stableChecks {
			logger.Warn("document count stopped changing", zap.Int64("count", n), zap.Int64("expected", expected))
			return n, nil
		}
		if time.Now().After(deadline) {
			logger.Warn("settle timeout elapsed", zap.Int64("count", n), zap.Int64("expected", expected))
			return n, nil
		}

		logger.Debug("waiting for target to index content", zap.Int64("count", n), zap.Int64("expected", expected))
		if err := sleep(ctx, interval); err != nil {
			return n, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
