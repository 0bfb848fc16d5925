package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/comm"
	"github.com/nerrad567/gray-logic-drivers/internal/comm/commtest"
	"github.com/nerrad567/gray-logic-drivers/internal/field"
)

func TestInstanceConnectsAfterFailedAcquires(t *testing.T) {
	drv := &MockDriver{}
	opener := &commtest.Opener{Failures: 3}
	in := newTestInstance(t, testConfig("m1"), drv, opener, nil)
	in.Start()

	waitState(t, in, StateConnected)
	if got := opener.Attempts(); got != 4 {
		t.Errorf("open attempts = %d, want 4", got)
	}
}

func TestInstanceConsecutiveTimeoutsForceReconnect(t *testing.T) {
	drv := &MockDriver{
		PollFn: func(context.Context, int) (bool, error) {
			return false, fmt.Errorf("no reply: %w", comm.ErrTimeout)
		},
	}
	cfg := testConfig("m1")
	cfg.Timing.TimeoutLimit = 3
	rec := &stateRecorder{}
	opener := &commtest.Opener{}
	in := newTestInstance(t, cfg, drv, opener, rec)
	in.Start()

	waitFor(t, "reconnect", func() bool { return in.Status().Reconnects >= 1 })
	if rec.seen(StateLostConnection) == 0 {
		t.Error("LostConnection never entered")
	}
	if rec.seen(StateWaitingForCommResource) < 2 {
		t.Error("did not return to WaitingForCommResource")
	}
	waitFor(t, "second open", func() bool { return opener.Opens() >= 2 })
	if s := in.Status(); s.Timeouts < 3 {
		t.Errorf("timeouts = %d, want >= 3", s.Timeouts)
	}
}

func TestInstanceIsolatedTimeoutsAreTolerated(t *testing.T) {
	drv := &MockDriver{
		PollFn: func(_ context.Context, n int) (bool, error) {
			if n%2 == 0 {
				return false, ErrTimeout
			}
			return true, nil
		},
	}
	cfg := testConfig("m1")
	cfg.Timing.TimeoutLimit = 2
	in := newTestInstance(t, cfg, drv, &commtest.Opener{}, nil)
	in.Start()

	waitFor(t, "polls", func() bool { return in.Status().Polls >= 20 })
	if r := in.Status().Reconnects; r != 0 {
		t.Errorf("reconnects = %d, want 0", r)
	}
}

func TestInstanceWatchdog(t *testing.T) {
	drv := &MockDriver{
		Timing: Timing{WatchdogPolls: 5},
		PollFn: func(context.Context, int) (bool, error) { return false, nil },
	}
	in := newTestInstance(t, testConfig("m1"), drv, &commtest.Opener{}, nil)
	in.Start()

	waitFor(t, "watchdog reconnect", func() bool { return in.Status().Reconnects >= 1 })
	if !strings.Contains(in.Status().LastError, "no activity") {
		t.Errorf("last error = %q", in.Status().LastError)
	}
}

func TestInstanceWatchdogDisabledByConfig(t *testing.T) {
	zero := 0
	drv := &MockDriver{
		Timing: Timing{WatchdogPolls: 2},
		PollFn: func(context.Context, int) (bool, error) { return false, nil },
	}
	cfg := testConfig("m1")
	cfg.Timing.WatchdogPolls = &zero
	in := newTestInstance(t, cfg, drv, &commtest.Opener{}, nil)
	in.Start()

	waitFor(t, "polls", func() bool { return in.Status().Polls >= 10 })
	if r := in.Status().Reconnects; r != 0 {
		t.Errorf("reconnects = %d, want 0", r)
	}
}

func TestInstanceRecoversPanics(t *testing.T) {
	drv := &MockDriver{
		PollFn: func(_ context.Context, n int) (bool, error) {
			if n == 1 {
				panic("driver bug")
			}
			return true, nil
		},
	}
	in := newTestInstance(t, testConfig("m1"), drv, &commtest.Opener{}, nil)
	in.Start()

	waitFor(t, "reconnect after panic", func() bool { return in.Status().Reconnects == 1 })
	waitFor(t, "polling resumes", func() bool { return in.Status().Polls >= 3 })
	if in.State() == StateTerminated {
		t.Fatal("panic terminated the instance")
	}
}

func TestInstanceConnectFailureReleasesPort(t *testing.T) {
	calls := 0
	drv := &MockDriver{
		ConnectFn: func(context.Context, comm.Port) error {
			calls++
			if calls == 1 {
				return fmt.Errorf("%w: bad ack", ErrProtocol)
			}
			return nil
		},
	}
	opener := &commtest.Opener{}
	in := newTestInstance(t, testConfig("m1"), drv, opener, nil)
	in.Start()

	waitState(t, in, StateConnected)
	if opener.Opens() != 2 {
		t.Errorf("opens = %d, want 2", opener.Opens())
	}
	// The first port must have been closed before the second was opened.
	_, _, _, disconnects := drv.counts()
	if disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", disconnects)
	}
}

func TestInstanceConfigurationErrorWaits(t *testing.T) {
	drv := &MockDriver{InitErr: fmt.Errorf("%w: missing unit list", ErrConfiguration)}
	opener := &commtest.Opener{}
	in := newTestInstance(t, testConfig("m1"), drv, opener, nil)
	in.Start()

	waitFor(t, "last error", func() bool { return in.Status().LastError != "" })
	time.Sleep(10 * time.Millisecond)
	if in.State() != StateWaitingForConfig {
		t.Fatalf("state = %s, want WaitingForConfig", in.State())
	}
	if opener.Attempts() != 0 {
		t.Errorf("resource acquired %d times while unconfigured", opener.Attempts())
	}

	drv.mu.Lock()
	drv.InitErr = nil
	drv.mu.Unlock()
	if err := in.Reconfigure(context.Background(), testConfig("m1")); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	waitState(t, in, StateConnected)
}

func TestInstanceMissingPortWaits(t *testing.T) {
	cfg := testConfig("m1")
	cfg.Port = PortConfig{}
	in, err := NewInstance(cfg, InstanceOptions{
		Factory: func(Config) (Driver, error) { return &MockDriver{}, nil },
	})
	if err != nil {
		t.Fatalf("NewInstance() error = %v", err)
	}
	defer in.Stop()
	in.Start()

	waitFor(t, "last error", func() bool { return in.Status().LastError != "" })
	if in.State() != StateWaitingForConfig {
		t.Errorf("state = %s", in.State())
	}
}

func TestInstanceWrite(t *testing.T) {
	drv := &MockDriver{}
	in := newTestInstance(t, testConfig("m1"), drv, &commtest.Opener{}, nil)

	ctx := context.Background()
	in.Start()
	waitState(t, in, StateConnected)

	tests := []struct {
		name    string
		field   string
		value   field.Value
		wantErr error
	}{
		{"bool", "Switch", field.Bool(true), nil},
		{"card in range", "Level", field.Card(40), nil},
		{"card out of range", "Level", field.Card(101), field.ErrRange},
		{"wrong type", "Switch", field.Card(1), field.ErrTypeMismatch},
		{"read only", "Status", field.String("x"), field.ErrAccessDenied},
		{"unknown", "Nope", field.Bool(true), field.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := in.Write(ctx, tt.field, tt.value)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Write() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			got, err := in.Read(tt.field)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if !got.Equal(tt.value) {
				t.Errorf("Read() = %v, want %v", got, tt.value)
			}
		})
	}
}

func TestInstanceWriteNotConnected(t *testing.T) {
	drv := &MockDriver{}
	opener := &commtest.Opener{Failures: 1 << 30}
	in := newTestInstance(t, testConfig("m1"), drv, opener, nil)
	in.Start()
	waitFor(t, "open attempt", func() bool { return opener.Attempts() > 0 })

	err := in.Write(context.Background(), "Switch", field.Bool(true))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write() error = %v, want ErrNotConnected", err)
	}
	if _, err := in.Command(context.Background(), "echo", "x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Command() error = %v, want ErrNotConnected", err)
	}
}

func TestInstanceWriteLinkFailureReconnects(t *testing.T) {
	drv := &MockDriver{WriteErr: fmt.Errorf("write: %w", comm.ErrShortWrite)}
	in := newTestInstance(t, testConfig("m1"), drv, &commtest.Opener{}, nil)
	in.Start()
	waitState(t, in, StateConnected)

	if err := in.Write(context.Background(), "Switch", field.Bool(true)); err == nil {
		t.Fatal("Write() should fail")
	}
	if in.Status().Reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", in.Status().Reconnects)
	}
}

func TestInstanceCommands(t *testing.T) {
	drv := &MockDriver{}
	in := newTestInstance(t, testConfig("m1"), drv, &commtest.Opener{}, nil)
	ctx := context.Background()

	reply, err := in.Command(ctx, "Status", "")
	if err != nil || !strings.Contains(reply, "m1 (mock)") {
		t.Errorf("status before start = %q, %v", reply, err)
	}

	in.Start()
	waitState(t, in, StateConnected)

	if reply, err := in.Command(ctx, "echo", "hello"); err != nil || reply != "hello" {
		t.Errorf("echo = %q, %v", reply, err)
	}
	if _, err := in.Command(ctx, "frobnicate", ""); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown command error = %v", err)
	}
	if reply, err := in.Command(ctx, " Reset Connection ", ""); err != nil || reply != "ok" {
		t.Fatalf("reset = %q, %v", reply, err)
	}
	if in.Status().Reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", in.Status().Reconnects)
	}
	waitState(t, in, StateConnected)
}

func TestInstanceReconfigureInvalidatesIDs(t *testing.T) {
	drv := &MockDriver{}
	in := newTestInstance(t, testConfig("m1"), drv, &commtest.Opener{}, nil)
	in.Start()
	waitState(t, in, StateConnected)

	oldID, ok := in.Fields().Lookup("Switch")
	if !ok {
		t.Fatal("Switch not registered")
	}
	gen := in.Status().Generation

	if err := in.Reconfigure(context.Background(), testConfig("m1")); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	if in.Status().Generation == gen {
		t.Error("generation unchanged")
	}
	if _, err := in.Fields().Read(oldID); !errors.Is(err, field.ErrStaleID) {
		t.Errorf("old id read error = %v, want ErrStaleID", err)
	}
	if err := in.Reconfigure(context.Background(), testConfig("other")); !errors.Is(err, ErrConfiguration) {
		t.Errorf("moniker change error = %v", err)
	}
	waitState(t, in, StateConnected)
}

func TestInstanceStopInterruptsWait(t *testing.T) {
	drv := &MockDriver{
		ConnectFn: func(ctx context.Context, _ comm.Port) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	opener := &commtest.Opener{}
	in := newTestInstance(t, testConfig("m1"), drv, opener, nil)
	in.Start()
	waitState(t, in, StateConnecting)

	start := time.Now()
	in.Stop()
	if d := time.Since(start); d > time.Second {
		t.Errorf("Stop took %v", d)
	}
	if in.State() != StateTerminated {
		t.Errorf("state = %s, want Terminated", in.State())
	}
	if !opener.Last().Closed() {
		t.Error("port left open")
	}
	if !drv.isTerminated() {
		t.Error("driver not terminated")
	}
	if err := in.Write(context.Background(), "Switch", field.Bool(true)); !errors.Is(err, ErrTerminated) {
		t.Errorf("Write after Stop error = %v", err)
	}
}

func TestInstanceFieldChangeObserver(t *testing.T) {
	drv := &MockDriver{}
	changes := make(chan field.Change, 10)
	in, err := NewInstance(testConfig("m1"), InstanceOptions{
		Factory:       func(Config) (Driver, error) { return drv, nil },
		Opener:        func(Config) (comm.Opener, error) { return &commtest.Opener{}, nil },
		OnFieldChange: func(_ string, ch field.Change) { changes <- ch },
	})
	if err != nil {
		t.Fatalf("NewInstance() error = %v", err)
	}
	defer in.Stop()
	in.Start()
	waitState(t, in, StateConnected)

	ctx := context.Background()
	for _, v := range []bool{true, true, false} {
		if err := in.Write(ctx, "Switch", field.Bool(v)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if len(changes) != 2 {
		t.Fatalf("observed %d changes, want 2", len(changes))
	}
	ch := <-changes
	if ch.Def.Name != "Switch" || !ch.New.AsBool() {
		t.Errorf("first change = %+v", ch)
	}
}
