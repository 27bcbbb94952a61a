// Package tasks runs deferred side-effect jobs outside the request that scheduled them.
//
// A Job is an ordered list of Steps. Each step is retried on its own and a step
// that still fails is logged and skipped, so one broken side effect never
// prevents the remaining steps from running.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrClosed is returned when scheduling on a queue that has been closed.
var ErrClosed = errors.New("tasks: queue closed")

// Step is one isolated unit of a job.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Job groups steps that run in order for one triggering action.
type Job struct {
	Name   string
	UserID string
	Steps  []Step
}

// Policy controls how individual steps are retried.
type Policy struct {
	MaxRetries  uint64
	BaseBackoff time.Duration
	StepTimeout time.Duration
}

// DefaultPolicy retries a failing step three times with exponential backoff starting at 100ms.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseBackoff: 100 * time.Millisecond, StepTimeout: 30 * time.Second}
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Result reports the outcome of a job run.
type Result struct {
	Failed []string
}

func runJob(ctx context.Context, logger *slog.Logger, policy Policy, job Job) Result {
	var res Result
	for _, step := range job.Steps {
		start := time.Now()
		if err := runStep(ctx, policy, step); err != nil {
			res.Failed = append(res.Failed, step.Name)
			logger.Error("deferred step failed",
				slog.String("job", job.Name),
				slog.String("step", step.Name),
				slog.String("userId", job.UserID),
				slog.Any("error", err),
			)
			continue
		}
		logger.Debug("deferred step done",
			slog.String("job", job.Name),
			slog.String("step", step.Name),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
	return res
}

func runStep(ctx context.Context, policy Policy, step Step) error {
	base := policy.BaseBackoff
	if base <= 0 {
		base = time.Millisecond
	}
	backoff := retry.WithMaxRetries(policy.MaxRetries, retry.NewExponential(base))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := attempt(ctx, policy.StepTimeout, step)
		var perm permanentError
		if err == nil || errors.As(err, &perm) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func attempt(ctx context.Context, timeout time.Duration, step Step) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("step %s panicked: %v", step.Name, r))
		}
	}()
	return step.Run(ctx)
}
