package irrecv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/actionqueue"
	"github.com/nerrad567/gray-logic-drivers/internal/comm"
	"github.com/nerrad567/gray-logic-drivers/internal/driver"
	"github.com/nerrad567/gray-logic-drivers/internal/field"
)

// Kind is the driver kind registered with the manager.
const Kind = "irrecv"

// Field names.
const (
	FieldTrainingMode = "TrainingMode"
	FieldLastKey      = "LastKey"
	FieldKeyCount     = "KeyCount"
)

// Backdoor commands.
const (
	CommandEnterTraining = "enter training"
	CommandExitTraining  = "exit training"
	CommandGetTrainedKey = "get trained key"
)

// Defaults, each overridable through the options of the same name.
const (
	DefaultHandshakeTimeout = 2 * time.Second
	DefaultRepeatWindow     = 250 * time.Millisecond
	DefaultActionRate       = 5.0
	DefaultDrainTimeout     = 5 * time.Second

	DefaultPollInterval  = 250 * time.Millisecond
	DefaultWatchdogPolls = 240
)

const (
	keyOptionPrefix = "key."
	receiveWindow   = 20 * time.Millisecond
	maxCodesPerPoll = 32
)

// Driver is the IR receiver driver.
type Driver struct {
	cfg     driver.Config
	invoker ActionInvoker

	host             *driver.Host
	keys             map[Code]string
	handshakeTimeout time.Duration
	drainTimeout     time.Duration
	filter           repeatFilter
	queue            *actionqueue.Queue[Key]
	count            uint32

	training field.ID
	lastKey  field.ID
	keyCount field.ID
}

// New is the driver.Factory for Kind. Keys raise UserAction triggers.
func New(cfg driver.Config) (driver.Driver, error) {
	return &Driver{cfg: cfg}, nil
}

// NewFactory returns a factory whose drivers hand keys to inv.
func NewFactory(inv ActionInvoker) driver.Factory {
	return func(cfg driver.Config) (driver.Driver, error) {
		return &Driver{cfg: cfg, invoker: inv}, nil
	}
}

func (d *Driver) Initialize(_ context.Context, host *driver.Host) (driver.Timing, error) {
	d.host = host
	d.count = 0
	d.filter = repeatFilter{}

	keys, err := ParseKeyMap(d.cfg.Options)
	if err != nil {
		return driver.Timing{}, fmt.Errorf("%w: %w", driver.ErrConfiguration, err)
	}
	d.keys = keys

	d.handshakeTimeout, err = durationOption(d.cfg, "handshake_timeout", DefaultHandshakeTimeout)
	if err != nil {
		return driver.Timing{}, err
	}
	d.drainTimeout, err = durationOption(d.cfg, "drain_timeout", DefaultDrainTimeout)
	if err != nil {
		return driver.Timing{}, err
	}
	d.filter.window, err = durationOption(d.cfg, "repeat_window", DefaultRepeatWindow)
	if err != nil {
		return driver.Timing{}, err
	}
	actionRate := DefaultActionRate
	if v := d.cfg.Option("action_rate", ""); v != "" {
		actionRate, err = strconv.ParseFloat(v, 64)
		if err != nil || actionRate <= 0 {
			return driver.Timing{}, fmt.Errorf("%w: action_rate %q is not a positive number", driver.ErrConfiguration, v)
		}
	}

	if err := d.registerFields(host.Fields); err != nil {
		return driver.Timing{}, err
	}

	inv := d.invoker
	if inv == nil {
		inv = TriggerInvoker{Host: host}
	}
	paced := newPacedInvoker(inv, actionRate, 1)
	if d.queue != nil {
		d.queue.Stop()
	}
	d.queue, err = actionqueue.New(actionqueue.Options[Key]{
		Name:   host.Moniker + "/keys",
		Logger: host.Logger,
		Handler: func(ctx context.Context, k Key) {
			if err := paced.Invoke(ctx, k); err != nil && ctx.Err() == nil {
				host.Logger.Warn("irrecv: action failed", "moniker", host.Moniker, "key", k.Name(), "error", err)
			}
		},
	})
	if err != nil {
		return driver.Timing{}, err
	}
	d.queue.Start()

	return driver.Timing{
		PollInterval:      DefaultPollInterval,
		ReconnectInterval: driver.DefaultReconnectInterval,
		WatchdogPolls:     DefaultWatchdogPolls,
		TimeoutLimit:      driver.DefaultTimeoutLimit,
	}, nil
}

func (d *Driver) registerFields(reg *field.Registry) error {
	var err error
	if d.training, err = reg.Register(field.Def{Name: FieldTrainingMode, Type: field.TypeBool, Access: field.AccessRead, Sem: field.SemIRReceiver}); err != nil {
		return err
	}
	if d.lastKey, err = reg.Register(field.Def{Name: FieldLastKey, Type: field.TypeString, Access: field.AccessRead, Sem: field.SemIRReceiver}); err != nil {
		return err
	}
	if d.keyCount, err = reg.Register(field.Def{Name: FieldKeyCount, Type: field.TypeCard, Access: field.AccessRead}); err != nil {
		return err
	}
	return nil
}

// ParseKeyMap collects the key.<code>=<action> options.
func ParseKeyMap(opts map[string]string) (map[Code]string, error) {
	keys := make(map[Code]string)
	for k, v := range opts {
		if !strings.HasPrefix(k, keyOptionPrefix) {
			continue
		}
		code, err := ParseCode(strings.TrimPrefix(k, keyOptionPrefix))
		if err != nil {
			return nil, err
		}
		action := strings.TrimSpace(v)
		if action == "" {
			return nil, fmt.Errorf("%w: %s has no action", ErrInvalidKeyMap, k)
		}
		keys[code] = action
	}
	return keys, nil
}

func durationOption(cfg driver.Config, key string, def time.Duration) (time.Duration, error) {
	v := cfg.Option(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s %q is not a positive duration", driver.ErrConfiguration, key, v)
	}
	return d, nil
}

func (d *Driver) Connect(ctx context.Context, port comm.Port) error {
	if err := handshake(ctx, port, d.handshakeTimeout); err != nil {
		return err
	}
	d.filter.reset()
	d.store(d.training, field.Bool(d.queue.Training()))
	d.store(d.keyCount, field.Card(d.count))
	d.host.Logger.Info("ir receiver ready", "moniker", d.host.Moniker)
	return nil
}

func (d *Driver) Poll(ctx context.Context, port comm.Port) (bool, error) {
	activity := false
	for range maxCodesPerPoll {
		code, ok, err := readCode(ctx, port, receiveWindow)
		if ok {
			activity = true
		}
		if err != nil {
			if errors.Is(err, driver.ErrProtocol) {
				// A torn code leaves the stream misaligned.
				d.host.Logger.Debug("irrecv: discarding partial code", "moniker", d.host.Moniker, "error", err)
				return activity, comm.Drain(port)
			}
			return activity, err
		}
		if !ok {
			break
		}
		if d.filter.accept(code, time.Now()) {
			d.press(code)
		}
	}
	return activity, nil
}

// press records a key and queues it.
func (d *Driver) press(code Code) {
	key := Key{Code: code, Action: d.keys[code]}
	d.count++
	d.store(d.lastKey, field.String(key.Name()))
	d.store(d.keyCount, field.Card(d.count))
	if err := d.queue.Push(key); err != nil {
		d.host.Logger.Warn("irrecv: dropping key", "moniker", d.host.Moniker, "key", key.Name(), "error", err)
	}
}

func (d *Driver) store(id field.ID, v field.Value) {
	if _, err := d.host.Fields.Store(id, v); err != nil {
		d.host.Logger.Warn("irrecv: storing field", "moniker", d.host.Moniker, "error", err)
	}
}

func (d *Driver) WriteField(context.Context, comm.Port, field.ID, field.Value) error {
	return driver.ErrNotWritable
}

func (d *Driver) Disconnect() {
	d.host.Fields.SetAllError()
}

func (d *Driver) Terminate() {
	if d.queue != nil {
		d.queue.Stop()
	}
}

// Command implements driver.Commander.
func (d *Driver) Command(ctx context.Context, _ comm.Port, cmd, _ string) (string, error) {
	switch cmd {
	case CommandEnterTraining:
		if err := d.queue.EnterTraining(ctx, d.drainTimeout); err != nil {
			return "", err
		}
		d.store(d.training, field.Bool(true))
		return "ok", nil
	case CommandExitTraining:
		if err := d.queue.ExitTraining(ctx, d.drainTimeout); err != nil {
			return "", err
		}
		d.store(d.training, field.Bool(false))
		return "ok", nil
	case CommandGetTrainedKey:
		if !d.queue.Training() {
			return "", ErrNotTraining
		}
		key, ok := d.queue.TakeTrained()
		if !ok {
			return "", ErrNoTrainedKey
		}
		return key.Code.String(), nil
	}
	return "", fmt.Errorf("%w: %s", driver.ErrUnknownCommand, cmd)
}

func isTimeout(err error) bool {
	return errors.Is(err, comm.ErrTimeout)
}

var (
	_ driver.Driver    = (*Driver)(nil)
	_ driver.Commander = (*Driver)(nil)
)
