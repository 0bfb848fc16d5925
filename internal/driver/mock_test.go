package driver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/comm"
	"github.com/nerrad567/gray-logic-drivers/internal/comm/commtest"
	"github.com/nerrad567/gray-logic-drivers/internal/field"
)

// MockDriver is a scriptable Driver.
type MockDriver struct {
	mu sync.Mutex

	InitErr   error
	Timing    Timing
	ConnectFn func(ctx context.Context, port comm.Port) error
	PollFn    func(ctx context.Context, n int) (bool, error)
	WriteErr  error

	host        *Host
	switchID    field.ID
	levelID     field.ID
	connects    int
	polls       int
	writes      int
	disconnects int
	terminated  bool
}

func (d *MockDriver) Initialize(_ context.Context, host *Host) (Timing, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.InitErr != nil {
		return Timing{}, d.InitErr
	}
	d.host = host
	var err error
	if d.switchID, err = host.Fields.Register(field.Def{Name: "Switch", Type: field.TypeBool, Access: field.AccessReadWrite}); err != nil {
		return Timing{}, err
	}
	if d.levelID, err = host.Fields.Register(field.Def{Name: "Level", Type: field.TypeCard, Access: field.AccessReadWrite, Limits: "Range: 0, 100"}); err != nil {
		return Timing{}, err
	}
	if _, err = host.Fields.Register(field.Def{Name: "Status", Type: field.TypeString, Access: field.AccessRead}); err != nil {
		return Timing{}, err
	}
	return d.Timing, nil
}

func (d *MockDriver) Connect(ctx context.Context, port comm.Port) error {
	d.mu.Lock()
	d.connects++
	fn := d.ConnectFn
	d.mu.Unlock()
	if fn != nil {
		return fn(ctx, port)
	}
	return nil
}

func (d *MockDriver) Poll(ctx context.Context, _ comm.Port) (bool, error) {
	d.mu.Lock()
	d.polls++
	n, fn := d.polls, d.PollFn
	d.mu.Unlock()
	if fn != nil {
		return fn(ctx, n)
	}
	return true, nil
}

func (d *MockDriver) WriteField(_ context.Context, _ comm.Port, id field.ID, v field.Value) error {
	d.mu.Lock()
	d.writes++
	err := d.WriteErr
	d.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = d.host.Fields.Store(id, v)
	return err
}

func (d *MockDriver) Command(_ context.Context, _ comm.Port, cmd, arg string) (string, error) {
	if cmd == "echo" {
		return arg, nil
	}
	return "", ErrUnknownCommand
}

func (d *MockDriver) Disconnect() {
	d.mu.Lock()
	d.disconnects++
	d.mu.Unlock()
}

func (d *MockDriver) Terminate() {
	d.mu.Lock()
	d.terminated = true
	d.mu.Unlock()
}

func (d *MockDriver) counts() (connects, polls, writes, disconnects int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects, d.polls, d.writes, d.disconnects
}

func (d *MockDriver) isTerminated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.terminated
}

func fastTiming() TimingConfig {
	return TimingConfig{
		PollInterval:      time.Millisecond,
		ReconnectInterval: time.Millisecond,
	}
}

func testConfig(moniker string) Config {
	return Config{
		Version: CurrentConfigVersion,
		Moniker: moniker,
		Kind:    "mock",
		Port:    PortConfig{Address: "127.0.0.1:1"},
		Timing:  fastTiming(),
	}
}

// stateRecorder collects transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(_ string, s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) seen(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.states {
		if x == s {
			n++
		}
	}
	return n
}

func newTestInstance(t *testing.T, cfg Config, drv *MockDriver, opener *commtest.Opener, rec *stateRecorder) *Instance {
	t.Helper()
	opts := InstanceOptions{
		Factory: func(Config) (Driver, error) { return drv, nil },
		Opener:  func(Config) (comm.Opener, error) { return opener, nil },
	}
	if rec != nil {
		opts.OnState = rec.record
	}
	in, err := NewInstance(cfg, opts)
	if err != nil {
		t.Fatalf("NewInstance() error = %v", err)
	}
	t.Cleanup(in.Stop)
	return in
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, in *Instance, s State) {
	t.Helper()
	waitFor(t, "state "+s.String(), func() bool { return in.State() == s })
}
