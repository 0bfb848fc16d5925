package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/comm"
	"github.com/nerrad567/gray-logic-drivers/internal/field"
	"github.com/nerrad567/gray-logic-drivers/internal/trigger"
)

// Built-in backdoor commands.
const (
	CommandResetConnection = "reset connection"
	CommandStatus          = "status"
)

// OpenerFunc resolves the transport for a config.
type OpenerFunc func(cfg Config) (comm.Opener, error)

// InstanceOptions configures an Instance.
type InstanceOptions struct {
	// Factory builds the driver. Required.
	Factory Factory

	// Opener overrides Config.Opener, mainly for tests.
	Opener OpenerFunc

	Triggers trigger.Emitter
	Logger   Logger

	// OnState is called from the lifecycle goroutine on every transition.
	OnState func(moniker string, s State)

	// OnFieldChange is called for every field value change.
	OnFieldChange func(moniker string, ch field.Change)
}

type request struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// Instance is one running driver.
type Instance struct {
	moniker  string
	factory  Factory
	opener   OpenerFunc
	triggers trigger.Emitter
	logger   Logger
	onState  func(string, State)

	fields *field.Registry

	// Owned by the lifecycle goroutine.
	initial   Config
	drv       Driver
	res       *comm.Resource
	timing    Timing
	next      time.Time
	idlePolls int
	timeouts  int

	requests chan request
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	start    sync.Once
	stop     sync.Once

	mu      sync.RWMutex
	state   State
	since   time.Time
	cfg     Config
	port    string
	lastErr string

	polls       atomic.Uint64
	reconnects  atomic.Uint64
	timeoutsAll atomic.Uint64
}

// NewInstance creates an instance for cfg. It does nothing until Start.
func NewInstance(cfg Config, opts InstanceOptions) (*Instance, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("%w: %s: no factory", ErrUnknownKind, cfg.Kind)
	}
	if opts.Opener == nil {
		opts.Opener = func(c Config) (comm.Opener, error) { return c.Opener() }
	}
	if opts.Triggers == nil {
		opts.Triggers = trigger.Discard
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	in := &Instance{
		moniker:  cfg.Moniker,
		factory:  opts.Factory,
		opener:   opts.Opener,
		triggers: opts.Triggers,
		logger:   opts.Logger,
		onState:  opts.OnState,
		fields:   field.NewRegistry(),
		initial:  cfg,
		requests: make(chan request),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateWaitingForConfig,
		since:    time.Now(),
		cfg:      cfg,
	}
	if opts.OnFieldChange != nil {
		notify := opts.OnFieldChange
		in.fields.OnChange(func(ch field.Change) {
			notify(in.moniker, ch)
		})
	}
	return in, nil
}

// Moniker returns the instance name.
func (in *Instance) Moniker() string { return in.moniker }

// Fields exposes the registry for reads.
func (in *Instance) Fields() *field.Registry { return in.fields }

// Start launches the lifecycle goroutine.
func (in *Instance) Start() {
	in.start.Do(func() {
		in.wg.Add(1)
		go in.run()
	})
}

// Stop terminates the instance and waits for the lifecycle goroutine. Any
// bounded wait in progress is interrupted.
func (in *Instance) Stop() {
	in.stop.Do(func() {
		in.cancel()
		in.wg.Wait()
		// No-op unless the instance was never started.
		in.setState(StateTerminated)
	})
}

// State returns the current lifecycle state.
func (in *Instance) State() State {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.state
}

// Config returns the configuration the instance is running with.
func (in *Instance) Config() Config {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.cfg
}

// Status returns a snapshot of the instance.
func (in *Instance) Status() Status {
	in.mu.RLock()
	s := Status{
		Moniker:   in.moniker,
		Kind:      in.cfg.Kind,
		State:     in.state,
		Since:     in.since,
		Port:      in.port,
		LastError: in.lastErr,
	}
	in.mu.RUnlock()
	s.Generation = in.fields.Generation()
	s.Fields = in.fields.Len()
	s.Polls = in.polls.Load()
	s.Reconnects = in.reconnects.Load()
	s.Timeouts = in.timeoutsAll.Load()
	return s
}

// Read returns the value of a field by name.
func (in *Instance) Read(name string) (field.Value, error) {
	id, ok := in.fields.Lookup(name)
	if !ok {
		return field.Value{}, fmt.Errorf("%w: %s", field.ErrNotFound, name)
	}
	return in.fields.Read(id)
}

// FieldDefs lists the registered fields.
func (in *Instance) FieldDefs() []field.Def {
	return in.fields.Defs()
}

// Write validates v and hands it to the driver. It fails with
// ErrNotConnected unless the instance is Connected.
func (in *Instance) Write(ctx context.Context, name string, v field.Value) error {
	id, ok := in.fields.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", field.ErrNotFound, name)
	}
	return in.WriteID(ctx, id, v)
}

// WriteID is Write by field id.
func (in *Instance) WriteID(ctx context.Context, id field.ID, v field.Value) error {
	if err := in.fields.Validate(id, v); err != nil {
		return err
	}
	var werr error
	err := in.submit(ctx, func(hctx context.Context) {
		port, err := in.connectedPort()
		if err != nil {
			werr = err
			return
		}
		werr = guard(func() error { return in.drv.WriteField(hctx, port, id, v) })
		if werr != nil {
			in.noteError(werr)
			in.afterIOError(werr)
		}
	})
	if err != nil {
		return err
	}
	return werr
}

// Command runs a backdoor command. "status" answers in any state; every
// other command requires Connected.
func (in *Instance) Command(ctx context.Context, cmd, arg string) (string, error) {
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	if cmd == CommandStatus {
		return in.Status().String(), nil
	}

	var (
		reply string
		cerr  error
	)
	err := in.submit(ctx, func(hctx context.Context) {
		port, err := in.connectedPort()
		if err != nil {
			cerr = err
			return
		}
		if cmd == CommandResetConnection {
			in.logger.Info("connection reset requested", "moniker", in.moniker)
			in.lose(errors.New("reset requested"))
			reply = "ok"
			return
		}
		c, ok := in.drv.(Commander)
		if !ok {
			cerr = fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
			return
		}
		cerr = guard(func() error {
			var err error
			reply, err = c.Command(hctx, port, cmd, arg)
			return err
		})
		if cerr != nil && !errors.Is(cerr, ErrUnknownCommand) {
			in.afterIOError(cerr)
		}
	})
	if err != nil {
		return "", err
	}
	return reply, cerr
}

// Reconfigure replaces the configuration. The resource is dropped, the
// driver is rebuilt and all field ids from before become stale.
func (in *Instance) Reconfigure(ctx context.Context, cfg Config) error {
	if cfg.Moniker != in.moniker {
		return fmt.Errorf("%w: moniker %q cannot change to %q", ErrConfiguration, in.moniker, cfg.Moniker)
	}
	var cerr error
	err := in.submit(ctx, func(hctx context.Context) {
		cerr = in.configure(hctx, cfg)
	})
	if err != nil {
		return err
	}
	return cerr
}

// submit runs fn on the lifecycle goroutine and waits for it. fn receives a
// context cancelled by either the caller or Stop.
func (in *Instance) submit(ctx context.Context, fn func(ctx context.Context)) error {
	req := request{
		fn: func(loopCtx context.Context) {
			hctx, cancel := context.WithCancel(loopCtx)
			defer cancel()
			unhook := context.AfterFunc(ctx, cancel)
			defer unhook()
			fn(hctx)
		},
		done: make(chan struct{}),
	}
	select {
	case in.requests <- req:
	case <-in.ctx.Done():
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-in.ctx.Done():
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (in *Instance) run() {
	defer in.wg.Done()
	if err := in.configure(in.ctx, in.initial); err != nil {
		in.logger.Error("driver configuration failed", "moniker", in.moniker, "error", err)
	}

	for {
		var fire <-chan time.Time
		var timer *time.Timer
		if !in.next.IsZero() {
			timer = time.NewTimer(time.Until(in.next))
			fire = timer.C
		}

		select {
		case <-in.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			in.shutdown()
			return
		case req := <-in.requests:
			if timer != nil {
				timer.Stop()
			}
			req.fn(in.ctx)
			close(req.done)
		case <-fire:
			in.next = time.Time{}
			in.step()
		}
	}
}

// configure (re)builds the driver from cfg. On failure the instance stays
// in WaitingForConfig and is not scheduled.
func (in *Instance) configure(ctx context.Context, cfg Config) error {
	if in.drv != nil {
		in.release()
		drv := in.drv
		in.drv = nil
		if err := guard(func() error { drv.Terminate(); return nil }); err != nil {
			in.logger.Error("driver terminate failed", "moniker", in.moniker, "error", err)
		}
		in.fields.Reset()
	}
	in.next = time.Time{}
	in.res = nil
	in.mu.Lock()
	in.cfg = cfg
	in.port = ""
	in.mu.Unlock()
	in.setState(StateWaitingForConfig)

	fail := func(err error) error {
		in.noteError(err)
		if in.fields.Len() > 0 {
			in.fields.Reset()
		}
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fail(err)
	}
	drv, err := in.factory(cfg)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrConfiguration, err))
	}
	opener, err := in.opener(cfg)
	if err != nil {
		return fail(err)
	}

	host := &Host{
		Moniker:  in.moniker,
		Config:   cfg,
		Fields:   in.fields,
		Triggers: in.triggers,
		Logger:   in.logger,
	}
	var timing Timing
	err = guard(func() error {
		var ierr error
		timing, ierr = drv.Initialize(ctx, host)
		return ierr
	})
	if err != nil {
		_ = guard(func() error { drv.Terminate(); return nil }) //nolint:errcheck // already failing
		return fail(err)
	}

	in.drv = drv
	in.res = comm.NewResource(opener)
	in.timing = timing.Apply(cfg.Timing)
	in.mu.Lock()
	in.port = opener.String()
	in.lastErr = ""
	in.mu.Unlock()
	in.logger.Info("driver configured",
		"moniker", in.moniker, "kind", cfg.Kind, "port", opener.String(),
		"fields", in.fields.Len(), "poll", in.timing.PollInterval, "watchdog", in.timing.WatchdogPolls)
	in.setState(StateWaitingForCommResource)
	in.next = time.Now()
	return nil
}

// step performs the scheduled action for the current state.
func (in *Instance) step() {
	switch in.State() {
	case StateWaitingForCommResource:
		in.tryConnect()
	case StateConnected:
		in.poll()
	}
}

func (in *Instance) tryConnect() {
	if err := in.res.Acquire(in.ctx); err != nil {
		in.noteError(fmt.Errorf("%w: %v", ErrResource, err))
		in.logger.Debug("resource not available", "moniker", in.moniker, "port", in.res.String(), "error", err)
		in.next = time.Now().Add(in.timing.ReconnectInterval)
		return
	}
	in.setState(StateConnecting)

	port, err := in.res.Port()
	if err == nil {
		err = guard(func() error { return in.drv.Connect(in.ctx, port) })
	}
	if err != nil {
		in.noteError(err)
		in.logger.Warn("connect failed", "moniker", in.moniker, "error", err)
		in.release()
		in.setState(StateWaitingForCommResource)
		in.next = time.Now().Add(in.timing.ReconnectInterval)
		return
	}

	in.idlePolls = 0
	in.timeouts = 0
	in.logger.Info("driver connected", "moniker", in.moniker, "port", in.res.String())
	in.setState(StateConnected)
	in.next = time.Now().Add(in.timing.PollInterval)
}

func (in *Instance) poll() {
	in.polls.Add(1)
	port, err := in.res.Port()
	var activity bool
	if err == nil {
		err = guard(func() error {
			var perr error
			activity, perr = in.drv.Poll(in.ctx, port)
			return perr
		})
	}

	switch {
	case err == nil:
		in.timeouts = 0
		if activity {
			in.idlePolls = 0
		} else {
			in.idlePolls++
		}
		if w := in.timing.WatchdogPolls; w > 0 && in.idlePolls >= w {
			in.logger.Warn("watchdog expired, reconnecting", "moniker", in.moniker, "idle_polls", in.idlePolls)
			in.lose(fmt.Errorf("%w: no activity for %d polls", ErrLostConnection, in.idlePolls))
			return
		}
	case isTimeout(err):
		in.timeoutsAll.Add(1)
		in.timeouts++
		in.idlePolls++
		if in.timeouts >= in.timing.TimeoutLimit {
			in.lose(err)
			return
		}
		in.logger.Debug("poll timeout", "moniker", in.moniker, "consecutive", in.timeouts)
	default:
		if Classify(err) == ResultException {
			in.logger.Error("poll raised an exception", "moniker", in.moniker, "error", err)
		}
		in.lose(err)
		return
	}
	in.next = time.Now().Add(in.timing.PollInterval)
}

// afterIOError reacts to a failed write or command the same way a failed
// poll would, except that isolated timeouts only count.
func (in *Instance) afterIOError(err error) {
	if in.State() != StateConnected {
		return
	}
	switch {
	case isTimeout(err):
		in.timeoutsAll.Add(1)
		in.timeouts++
		if in.timeouts >= in.timing.TimeoutLimit {
			in.lose(err)
		}
	case Classify(err) == ResultLostConnection:
		in.lose(err)
	case errors.Is(err, errPanic):
		in.logger.Error("driver hook panicked", "moniker", in.moniker, "error", err)
		in.lose(err)
	}
}

// lose drops the link and schedules reacquisition.
func (in *Instance) lose(reason error) {
	in.noteError(reason)
	in.reconnects.Add(1)
	in.logger.Warn("connection lost", "moniker", in.moniker, "reason", reason)
	in.setState(StateLostConnection)
	in.release()
	in.setState(StateWaitingForCommResource)
	in.next = time.Now().Add(in.timing.ReconnectInterval)
}

func (in *Instance) release() {
	if in.res == nil || !in.res.Held() {
		return
	}
	if in.drv != nil {
		if err := guard(func() error { in.drv.Disconnect(); return nil }); err != nil {
			in.logger.Error("driver disconnect failed", "moniker", in.moniker, "error", err)
		}
	}
	if err := in.res.Release(); err != nil {
		in.logger.Debug("releasing resource", "moniker", in.moniker, "error", err)
	}
}

func (in *Instance) shutdown() {
	in.release()
	if in.drv != nil {
		drv := in.drv
		if err := guard(func() error { drv.Terminate(); return nil }); err != nil {
			in.logger.Error("driver terminate failed", "moniker", in.moniker, "error", err)
		}
	}
	in.setState(StateTerminated)
	in.logger.Info("driver terminated", "moniker", in.moniker)
}

func (in *Instance) connectedPort() (comm.Port, error) {
	if in.State() != StateConnected {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotConnected, in.moniker, in.State())
	}
	return in.res.Port()
}

func (in *Instance) setState(s State) {
	in.mu.Lock()
	if in.state == s || in.state == StateTerminated {
		in.mu.Unlock()
		return
	}
	in.state = s
	in.since = time.Now()
	in.mu.Unlock()
	if in.onState != nil {
		in.onState(in.moniker, s)
	}
}

func (in *Instance) noteError(err error) {
	in.mu.Lock()
	in.lastErr = err.Error()
	in.mu.Unlock()
}
