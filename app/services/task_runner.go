package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ErrTaskRunnerClosed = errors.New("task runner is shut down")

var (
	backgroundTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "background_tasks_total",
		Help: "Detached background tasks by name and outcome",
	}, []string{"task", "outcome"})

	backgroundTasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "background_tasks_in_flight",
		Help: "Detached background tasks currently running",
	})
)

// TaskRunner runs fire-and-forget work detached from the request that started it.
//
// Contract: Go never blocks and never reports the task's outcome to the caller.
// Errors and panics are logged and counted, nothing is retried. When maxInFlight
// tasks are already running the new task is dropped.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error) bool
	Shutdown(ctx context.Context) error
}

// BackgroundTaskRunner implements TaskRunner
type BackgroundTaskRunner struct {
	timeout time.Duration
	slots   chan struct{}
	logger  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewBackgroundTaskRunner creates a runner whose tasks get their own context with the given timeout
func NewBackgroundTaskRunner(maxInFlight int, timeout time.Duration, logger *log.Logger) *BackgroundTaskRunner {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BackgroundTaskRunner{
		timeout: timeout,
		slots:   make(chan struct{}, maxInFlight),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Go schedules fn and reports whether it was accepted
func (r *BackgroundTaskRunner) Go(name string, fn func(ctx context.Context) error) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		backgroundTasksTotal.WithLabelValues(name, "rejected").Inc()
		r.logger.Printf("tasks: %s rejected: %v", name, ErrTaskRunnerClosed)
		return false
	}

	select {
	case r.slots <- struct{}{}:
	default:
		backgroundTasksTotal.WithLabelValues(name, "dropped").Inc()
		r.logger.Printf("tasks: %s dropped: %d tasks already in flight", name, cap(r.slots))
		return false
	}

	r.wg.Add(1)
	backgroundTasksInFlight.Inc()
	go r.run(name, fn)
	return true
}

func (r *BackgroundTaskRunner) run(name string, fn func(ctx context.Context) error) {
	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			backgroundTasksTotal.WithLabelValues(name, "panic").Inc()
			r.logger.Printf("tasks: %s panicked: %v\n%s", name, p, debug.Stack())
		}
		<-r.slots
		backgroundTasksInFlight.Dec()
		r.wg.Done()
	}()

	if err := fn(ctx); err != nil {
		backgroundTasksTotal.WithLabelValues(name, "failed").Inc()
		r.logger.Printf("tasks: %s failed: %v", name, err)
		return
	}
	backgroundTasksTotal.WithLabelValues(name, "succeeded").Inc()
}

// Wait blocks until every accepted task has returned
func (r *BackgroundTaskRunner) Wait() {
	r.wg.Wait()
}

// Shutdown stops accepting tasks and waits for running ones until ctx expires,
// at which point their contexts are cancelled.
func (r *BackgroundTaskRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return fmt.Errorf("background tasks did not drain: %w", ctx.Err())
	}
}
