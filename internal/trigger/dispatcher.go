package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/actionqueue"
)

// deliverTimeout bounds a single sink delivery.
const deliverTimeout = 5 * time.Second

// Sink receives dispatched events.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Deliver calls f(ctx, ev).
func (f SinkFunc) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Logger is the logging surface used by the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatcher fans events out to sinks from one worker goroutine.
type Dispatcher struct {
	queue  *actionqueue.Queue[Event]
	logger Logger

	mu    sync.RWMutex
	sinks []Sink
}

// NewDispatcher creates a dispatcher. Call Start before emitting.
func NewDispatcher(logger Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	d := &Dispatcher{logger: logger, sinks: sinks}
	// Handler is non-nil so New cannot fail.
	d.queue, _ = actionqueue.New(actionqueue.Options[Event]{ //nolint:errcheck // handler always set
		Name:    "trigger",
		Handler: d.deliver,
		Logger:  logger,
	})
	return d
}

// AddSink registers another sink. Safe while running.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

// Start launches the delivery goroutine.
func (d *Dispatcher) Start() {
	d.queue.Start()
}

// Stop halts delivery. Events still queued are dropped and counted in the log.
func (d *Dispatcher) Stop() {
	if n := d.queue.Stop(); n > 0 {
		d.logger.Warn("trigger events dropped on shutdown", "count", n)
	}
}

// Flush waits until every queued event has been delivered or the timeout
// expires.
func (d *Dispatcher) Flush(ctx context.Context, timeout time.Duration) error {
	return d.queue.WaitIdle(ctx, timeout)
}

// Emit queues an event. Invalid events are logged and dropped.
func (d *Dispatcher) Emit(ev Event) {
	if err := ev.Validate(); err != nil {
		d.logger.Warn("dropping trigger", "error", err)
		return
	}
	if err := d.queue.Push(ev); err != nil {
		d.logger.Debug("trigger not queued", "kind", ev.Kind, "moniker", ev.Moniker, "error", err)
	}
}

// Stats returns the underlying queue counters.
func (d *Dispatcher) Stats() actionqueue.Stats {
	return d.queue.Stats()
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	d.mu.RLock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	for _, s := range sinks {
		if err := deliverOne(ctx, s, ev); err != nil {
			d.logger.Error("trigger delivery failed",
				"kind", ev.Kind, "moniker", ev.Moniker, "field", ev.Field, "error", err)
		}
	}
}

func deliverOne(ctx context.Context, s Sink, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	sctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()
	return s.Deliver(sctx, ev)
}
