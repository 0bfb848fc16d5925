package actionqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the logging interface used by Queue.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

// Handler processes one item. The context is cancelled when the queue stops.
type Handler[T any] func(ctx context.Context, item T)

// Options configures a Queue.
type Options[T any] struct {
	// Handler is required.
	Handler Handler[T]

	// Name identifies the queue in logs.
	Name string

	// Logger defaults to a no-op logger.
	Logger Logger
}

// Stats holds queue counters.
type Stats struct {
	Pushed    uint64
	Handled   uint64
	Trained   uint64
	Discarded uint64
	Panics    uint64
}

// Queue is an unbounded FIFO with a single consumer goroutine.
type Queue[T any] struct {
	handler Handler[T]
	name    string
	logger  Logger

	mu       sync.Mutex
	items    []T
	busy     bool
	idle     chan struct{} // closed while empty and not busy
	wake     chan struct{}
	training bool
	trained  T
	hasTrain bool
	started  bool
	stopped  bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	pushed    atomic.Uint64
	handled   atomic.Uint64
	trainedN  atomic.Uint64
	discarded atomic.Uint64
	panics    atomic.Uint64
}

// New creates a queue. Call Start to begin consuming.
func New[T any](opts Options[T]) (*Queue[T], error) {
	if opts.Handler == nil {
		return nil, ErrNoHandler
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	idle := make(chan struct{})
	close(idle)

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue[T]{
		handler: opts.Handler,
		name:    opts.Name,
		logger:  logger,
		idle:    idle,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches the consumer goroutine. Calling it twice is a no-op.
func (q *Queue[T]) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true
	q.wg.Add(1)
	go q.consume()
}

// Stop stops the consumer and discards queued items without handling them.
// It waits for an in-flight Handler call to return and reports how many
// items were discarded.
func (q *Queue[T]) Stop() int {
	discarded := 0
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		discarded = len(q.items)
		q.items = nil
		q.hasTrain = false
		if !q.busy && !isClosed(q.idle) {
			close(q.idle)
		}
		q.mu.Unlock()

		q.cancel()
		q.wg.Wait()

		q.discarded.Add(uint64(discarded)) //nolint:gosec // non-negative
		if discarded > 0 {
			q.logger.Debug("queue stopped, items discarded", "queue", q.name, "count", discarded)
		}
	})
	return discarded
}

// Push adds an item. In training mode the item replaces the trained slot
// instead of being queued.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrStopped
	}
	q.pushed.Add(1)

	if q.training {
		q.trained = item
		q.hasTrain = true
		q.trainedN.Add(1)
		return nil
	}

	q.items = append(q.items, item)
	if !q.busy && len(q.items) == 1 {
		q.idle = make(chan struct{})
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of queued items, excluding one being handled.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Training reports whether the queue is in training mode.
func (q *Queue[T]) Training() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.training
}

// TakeTrained returns and clears the item captured in training mode.
func (q *Queue[T]) TakeTrained() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.trained, q.hasTrain
	var zero T
	q.trained = zero
	q.hasTrain = false
	return item, ok
}

// EnterTraining waits up to timeout for the queue to drain, then switches
// to training mode. On timeout the mode is unchanged.
func (q *Queue[T]) EnterTraining(ctx context.Context, timeout time.Duration) error {
	return q.switchMode(ctx, true, timeout)
}

// ExitTraining waits up to timeout for the queue to drain, then returns to
// normal mode and clears any untaken trained item.
func (q *Queue[T]) ExitTraining(ctx context.Context, timeout time.Duration) error {
	return q.switchMode(ctx, false, timeout)
}

// WaitIdle blocks until the queue is empty and the consumer is not
// handling an item, or until timeout.
func (q *Queue[T]) WaitIdle(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return ErrStopped
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: %s after %v", ErrDrainTimeout, q.name, timeout)
		}
	}
}

// Stats returns a snapshot of the counters.
func (q *Queue[T]) Stats() Stats {
	return Stats{
		Pushed:    q.pushed.Load(),
		Handled:   q.handled.Load(),
		Trained:   q.trainedN.Load(),
		Discarded: q.discarded.Load(),
		Panics:    q.panics.Load(),
	}
}

func (q *Queue[T]) switchMode(ctx context.Context, training bool, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: %s", ErrDrainTimeout, q.name)
		}
		if err := q.WaitIdle(ctx, remaining); err != nil {
			return err
		}

		q.mu.Lock()
		if len(q.items) == 0 && !q.busy {
			q.training = training
			if !training {
				var zero T
				q.trained = zero
				q.hasTrain = false
			}
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()
	}
}

func (q *Queue[T]) consume() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.busy = false
			if !isClosed(q.idle) {
				close(q.idle)
			}
			q.mu.Unlock()

			select {
			case <-q.ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		if q.ctx.Err() != nil {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.busy = true
		q.mu.Unlock()

		q.handle(item)
	}
}

func (q *Queue[T]) handle(item T) {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			q.logger.Error("queue handler panicked", "queue", q.name, "panic", r)
		}
	}()
	q.handler(q.ctx, item)
	q.handled.Add(1)
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
