package irrecv

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-drivers/internal/driver"
	"github.com/nerrad567/gray-logic-drivers/internal/trigger"
)

// Key is a decoded key press.
type Key struct {
	Code Code

	// Action is the mapped action name, empty when the code is not mapped.
	Action string
}

// Name is the action, or the raw code for an unmapped key.
func (k Key) Name() string {
	if k.Action != "" {
		return k.Action
	}
	return k.Code.String()
}

// ActionInvoker carries out the action bound to a key. Invoke is called from
// a single goroutine, in key arrival order.
type ActionInvoker interface {
	Invoke(ctx context.Context, key Key) error
}

// InvokerFunc adapts a function to ActionInvoker.
type InvokerFunc func(ctx context.Context, key Key) error

// Invoke implements ActionInvoker.
func (f InvokerFunc) Invoke(ctx context.Context, key Key) error { return f(ctx, key) }

// TriggerInvoker raises a UserAction trigger per key.
type TriggerInvoker struct {
	Host *driver.Host
}

// Invoke implements ActionInvoker.
func (t TriggerInvoker) Invoke(_ context.Context, key Key) error {
	t.Host.Emit(trigger.KindUserAction, FieldLastKey, key.Name(), key.Code.String())
	return nil
}

// pacedInvoker holds each call until the limiter allows it.
type pacedInvoker struct {
	next    ActionInvoker
	limiter *rate.Limiter
}

func newPacedInvoker(next ActionInvoker, perSecond float64, burst int) *pacedInvoker {
	return &pacedInvoker{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (p *pacedInvoker) Invoke(ctx context.Context, key Key) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.next.Invoke(ctx, key)
}
