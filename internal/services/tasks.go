package services

import (
	"context"
	"sync"
	"time"

	"github.com/tahcohcat/fishtrip-achievements/internal/logger"
)

const drainTimeout = 10 * time.Second

type task struct {
	name string
	run  func(ctx context.Context) error
}

// TaskRunner runs best-effort side effects off the request path. Every
// failure is logged exactly once; queued tasks are drained on Stop.
type TaskRunner struct {
	queue  chan task
	logger *logger.Log

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewTaskRunner(queueSize int) *TaskRunner {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &TaskRunner{
		queue:  make(chan task, queueSize),
		logger: logger.New().WithField("component", "tasks"),
	}
}

func (r *TaskRunner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				r.drain()
				return
			case t := <-r.queue:
				r.execute(ctx, t)
			}
		}
	}()
}

// Submit queues fn without blocking. It returns false (and logs) when the
// queue is full or the runner has stopped.
func (r *TaskRunner) Submit(name string, fn func(ctx context.Context) error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		r.logger.WithField("task", name).Warn("Task runner stopped, dropping task")
		return false
	}
	select {
	case r.queue <- task{name: name, run: fn}:
		return true
	default:
		r.logger.WithField("task", name).Warn("Task queue full, dropping task")
		return false
	}
}

// Stop cancels the worker, runs whatever is still queued, and waits.
func (r *TaskRunner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	cancel := r.cancel
	started := r.started
	r.mu.Unlock()

	if !started {
		r.drain()
		return
	}
	cancel()
	r.wg.Wait()
}

func (r *TaskRunner) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case t := <-r.queue:
			r.execute(ctx, t)
		default:
			return
		}
	}
}

func (r *TaskRunner) execute(ctx context.Context, t task) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.WithField("task", t.name).WithField("panic", p).Error("Task panicked")
		}
	}()
	if err := t.run(ctx); err != nil {
		r.logger.WithField("task", t.name).WithError(err).Warn("Task failed")
	}
}
