// Package loop provides the single logical delivery thread that every
// platform callback runs on.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrStopped is returned when work is posted to a loop that has been stopped.
var ErrStopped = errors.New("callback loop stopped")

// Loop runs posted callbacks one at a time, in FIFO order, on a single goroutine.
// Each callback runs to completion before the next begins.
type Loop struct {
	queue  chan func()
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
}

// New creates a loop with the given queue depth. It does not run until Start.
func New(depth int, logger *slog.Logger) *Loop {
	if depth <= 0 {
		depth = 64
	}
	return &Loop{
		queue:  make(chan func(), depth),
		logger: logger.With("component", "CallbackLoop"),
		done:   make(chan struct{}),
	}
}

// Start launches the delivery goroutine. Calling it more than once is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	go l.run()
}

func (l *Loop) run() {
	defer close(l.done)
	for fn := range l.queue {
		l.exec(fn)
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Post queues fn and returns immediately. It blocks only while the queue is full.
func (l *Loop) Post(fn func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrStopped
	}
	l.queue <- fn
	return nil
}

// Sync queues fn and waits until it has run or ctx is done.
// It must not be called from a callback already running on the loop.
func (l *Loop) Sync(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new work and waits for already queued callbacks to drain.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	started := l.started
	l.mu.Unlock()

	if !started {
		// Nothing will drain the queue; run what is left inline.
		for fn := range l.queue {
			l.exec(fn)
		}
		return nil
	}

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("callback loop did not drain: %w", ctx.Err())
	}
}
