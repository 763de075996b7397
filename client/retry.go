package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (not including initial attempt).
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// IsTransient reports whether a failed call is worth repeating. Missing
// indices, cancellations and client errors other than 408 and 429 are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrIndexNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusRequestTimeout || se.Code == http.StatusTooManyRequests
	}
	return true
}

// Retry runs fn until it succeeds, fails with a non-transient error or the
// retries are exhausted. It returns the number of attempts made.
func Retry(ctx context.Context, cfg RetryConfig, logger *zap.Logger, op string, fn func() error) (int, error) {
	delay := cfg.InitialDelay
	attempts := 0

	for {
		attempts++
		err := fn()
		if err == nil {
			return attempts, nil
		}
		if !IsTransient(err) || attempts > cfg.MaxRetries {
			if attempts > 1 {
				return attempts, goerr.Wrap(err, "giving up after retries", goerr.V("op", op), goerr.V("attempts", attempts))
			}
			return attempts, err
		}

		logger.Warn("transient failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// retrying retries the index management calls of a Backend. Page and Upload
// pass through: the transfer stages retry them per batch and record the
// attempts.
type retrying struct {
	Backend
	cfg    RetryConfig
	logger *zap.Logger
}

func WithRetry(b Backend, cfg RetryConfig, logger *zap.Logger) Backend {
	return &retrying{Backend: b, cfg: cfg, logger: logger}
}

func (r *retrying) Ping(ctx context.Context) error {
	_, err := Retry(ctx, r.cfg, r.logger, "ping", func() error {
		return r.Backend.Ping(ctx)
	})
	return err
}

func (r *retrying) GetSchema(ctx context.Context, index string) (*Schema, error) {
	var s *Schema
	_, err := Retry(ctx, r.cfg, r.logger, "get schema", func() (err error) {
		s, err = r.Backend.GetSchema(ctx, index)
		return err
	})
	return s, err
}

func (r *retrying) PutSchema(ctx context.Context, schema *Schema) error {
	_, err := Retry(ctx, r.cfg, r.logger, "put schema", func() error {
		return r.Backend.PutSchema(ctx, schema)
	})
	return err
}

func (r *retrying) DeleteIndex(ctx context.Context, index string) error {
	_, err := Retry(ctx, r.cfg, r.logger, "delete index", func() error {
		return r.Backend.DeleteIndex(ctx, index)
	})
	return err
}

func (r *retrying) Count(ctx context.Context, index string) (int64, error) {
	var n int64
	_, err := Retry(ctx, r.cfg, r.logger, "count", func() (err error) {
		n, err = r.Backend.Count(ctx, index)
		return err
	})
	return n, err
}
