package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/doc-analyzer/internal/logger"
)

// ErrAttemptAbandoned marks a timed-out attempt that was still running when
// the release grace period ended.
var ErrAttemptAbandoned = errors.New("attempt abandoned after timeout")

// AttemptFunc performs one attempt using cfg. It must watch ctx and return
// once ctx is done.
type AttemptFunc[C, R any] func(ctx context.Context, cfg C) (R, error)

// ExhaustedError is returned by RunAttempts when every configuration failed.
// Errors holds one error per configuration, in order.
type ExhaustedError struct {
	Errors []error
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("all %d attempts failed: %s", len(e.Errors), strings.Join(parts, "; "))
}

func (e *ExhaustedError) Unwrap() []error {
	return e.Errors
}

// RunAttempts tries each configuration in order, one at a time, each under
// its own timeout, and returns the first successful result together with the
// index of the configuration that produced it. failures holds the errors of
// the attempts that ran before it, in order.
//
// A timed-out attempt counts as a failure and the next configuration is tried.
// Cancellation of ctx stops the loop immediately and returns ctx.Err().
func RunAttempts[C, R any](ctx context.Context, configs []C, perAttempt time.Duration, attempt AttemptFunc[C, R]) (R, int, []error, error) {
	var zero R
	failures := make([]error, 0, len(configs))

	for i, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return zero, i, failures, err
		}

		res, err := runAttempt(ctx, cfg, perAttempt, attempt)
		if err == nil {
			return res, i, failures, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, i, failures, ctxErr
		}
		failures = append(failures, err)
	}

	return zero, -1, failures, &ExhaustedError{Errors: failures}
}

// attemptReleaseGrace bounds how long a timed-out attempt may take to observe
// its cancelled context and return.
var attemptReleaseGrace = 2 * time.Second

// runAttempt runs a single attempt and gives up on it when its timer fires.
// After a timeout the attempt's context is cancelled and runAttempt waits up
// to attemptReleaseGrace for the attempt to return before moving on.
func runAttempt[C, R any](ctx context.Context, cfg C, timeout time.Duration, attempt AttemptFunc[C, R]) (R, error) {
	var (
		attemptCtx context.Context
		cancel     context.CancelFunc
	)
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		val R
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero R
				done <- result{val: zero, err: fmt.Errorf("attempt panicked: %v", r)}
			}
		}()
		val, err := attempt(attemptCtx, cfg)
		done <- result{val: val, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-attemptCtx.Done():
		err := attemptCtx.Err()
		cancel()
		var zero R
		select {
		case <-done:
			return zero, err
		case <-time.After(attemptReleaseGrace):
		}
		// The attempt ignores its context. Its goroutine finishes on its own
		// and its result is dropped.
		log := logger.FromContext(ctx)
		log.Warn().Dur("grace", attemptReleaseGrace).Msg("Attempt still running after timeout, abandoning it")
		return zero, fmt.Errorf("%w: %w", ErrAttemptAbandoned, err)
	}
}
