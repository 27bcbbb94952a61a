package tasks

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Options sizes a Queue.
type Options struct {
	Workers int
	Buffer  int
	Policy  Policy
}

// Queue executes jobs on a fixed pool of worker goroutines.
type Queue struct {
	logger *slog.Logger
	policy Policy
	jobs   chan queuedJob
	group  *errgroup.Group

	mu     sync.RWMutex
	closed bool
}

type queuedJob struct {
	ctx context.Context
	job Job
}

// NewQueue starts the workers immediately; call Close to drain them.
func NewQueue(logger *slog.Logger, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}

	q := &Queue{
		logger: logger,
		policy: opts.Policy,
		jobs:   make(chan queuedJob, opts.Buffer),
		group:  new(errgroup.Group),
	}
	for i := 0; i < opts.Workers; i++ {
		q.group.Go(q.work)
	}
	return q
}

func (q *Queue) work() error {
	for item := range q.jobs {
		runJob(item.ctx, q.logger, q.policy, item.job)
	}
	return nil
}

// Schedule enqueues job. The job keeps ctx's values but not its cancellation,
// so it outlives the request that scheduled it. A free buffer slot is always
// taken, even when ctx is already done. Otherwise Schedule blocks until a
// worker frees one or ctx is done. Callers whose work has already committed
// pass a context without cancellation so the job is never dropped.
func (q *Queue) Schedule(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	item := queuedJob{ctx: context.WithoutCancel(ctx), job: job}
	select {
	case q.jobs <- item:
		return nil
	default:
	}
	select {
	case q.jobs <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued ones to finish or ctx to expire.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- q.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inline runs jobs synchronously in the caller's goroutine. The CLI and tests use it.
type Inline struct {
	Logger *slog.Logger
	Policy Policy
}

// Schedule runs every step of job before returning. Step failures are logged, never returned.
func (i Inline) Schedule(ctx context.Context, job Job) error {
	logger := i.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runJob(context.WithoutCancel(ctx), logger, i.Policy, job)
	return nil
}
