// Package tasks runs best-effort side effects off the request path. A task's
// failure is reported to a supervisor and logged, never to the caller that
// submitted it.
package tasks

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Failure describes a task that returned an error or panicked.
type Failure struct {
	Name string
	Err  error
}

// Runner executes submitted tasks with bounded concurrency.
type Runner struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	onError func(Failure)

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	failures       chan Failure
	supervisorDone chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency bounds how many tasks run at once. Default: 8.
func WithConcurrency(n int64) Option {
	return func(r *Runner) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithTimeout bounds each task. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithErrorHandler is called by the supervisor for every failure, after it
// has been logged.
func WithErrorHandler(fn func(Failure)) Option {
	return func(r *Runner) {
		r.onError = fn
	}
}

// New starts a Runner and its supervisor goroutine.
func New(opts ...Option) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		sem:            semaphore.NewWeighted(8),
		timeout:        30 * time.Second,
		ctx:            ctx,
		cancel:         cancel,
		failures:       make(chan Failure, 64),
		supervisorDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.supervise()
	return r
}

// Submit schedules fn and returns immediately. Tasks run on a context that
// is independent of the submitter's. It returns false once the runner is
// closed.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		log.Printf("[TASKS] Dropping %s: runner closed", name)
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(name, fn)
	return true
}

func (r *Runner) run(name string, fn func(ctx context.Context) error) {
	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		r.fail(name, fmt.Errorf("acquire slot: %w", err))
		return
	}
	defer r.sem.Release(1)

	if err := r.call(name, fn); err != nil {
		r.fail(name, err)
		return
	}
	r.wg.Done()
}

// call runs fn under the task timeout, converting a panic into an error.
func (r *Runner) call(name string, fn func(ctx context.Context) error) (err error) {
	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			log.Printf("[TASKS] %s panicked: %v\n%s", name, p, debug.Stack())
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

// fail hands the failure to the supervisor, which marks the task done.
func (r *Runner) fail(name string, err error) {
	r.failures <- Failure{Name: name, Err: err}
}

func (r *Runner) supervise() {
	defer close(r.supervisorDone)
	for f := range r.failures {
		log.Printf("[TASKS] %s failed: %v", f.Name, f.Err)
		if r.onError != nil {
			r.onError(f)
		}
		r.wg.Done()
	}
}

// Wait blocks until every submitted task has finished and its failure, if
// any, has been handled.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close stops accepting tasks, waits for running ones, then stops the
// supervisor. It is safe to call more than once.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.supervisorDone
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()
	close(r.failures)
	<-r.supervisorDone
}
