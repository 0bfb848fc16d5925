package zwave

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/comm"
	"github.com/nerrad567/gray-logic-drivers/internal/driver"
	"github.com/nerrad567/gray-logic-drivers/internal/field"
)

// Kind is the driver kind registered with the manager.
const Kind = "zwave"

// Default timing for a Z-Wave instance.
const (
	DefaultPollInterval      = 250 * time.Millisecond
	DefaultReconnectInterval = 5 * time.Second

	// DefaultWatchdogPolls applies only when a unit is polled; a quiet
	// network of unpolled units is not a fault.
	DefaultWatchdogPolls = 240
)

// receiveWindow is how long a poll waits for each unsolicited frame.
const receiveWindow = 50 * time.Millisecond

// Driver is the Z-Wave controller driver.
type Driver struct {
	cfg      driver.Config
	linkOpts LinkOptions

	host    *driver.Host
	link    *Link
	units   []*Unit
	codecs  []CommandClass
	byNode  map[byte][]CommandClass
	polled  []*Unit
	next    int
	version string
}

// New is the driver.Factory for Kind.
func New(cfg driver.Config) (driver.Driver, error) {
	return &Driver{cfg: cfg}, nil
}

func (d *Driver) Initialize(_ context.Context, host *driver.Host) (driver.Timing, error) {
	d.host = host
	d.units, d.codecs, d.polled = nil, nil, nil
	d.byNode = make(map[byte][]CommandClass)
	d.next = 0

	opts, err := parseLinkOptions(d.cfg)
	if err != nil {
		return driver.Timing{}, err
	}
	opts.Logger = host.Logger
	d.linkOpts = opts

	if len(d.cfg.Units) == 0 {
		return driver.Timing{}, fmt.Errorf("%w: %s: no units configured", driver.ErrConfiguration, d.cfg.Moniker)
	}
	for _, uc := range d.cfg.Units {
		u, err := ParseUnit(uc)
		if err != nil {
			return driver.Timing{}, err
		}
		codecs, err := newCodecs(host, u)
		if err != nil {
			return driver.Timing{}, fmt.Errorf("%w: unit %q: %v", driver.ErrConfiguration, u.Name, err)
		}
		d.units = append(d.units, u)
		d.codecs = append(d.codecs, codecs...)
		d.byNode[u.Node] = append(d.byNode[u.Node], codecs...)
		if u.Readable {
			d.polled = append(d.polled, u)
		}
	}

	timing := driver.Timing{
		PollInterval:      DefaultPollInterval,
		ReconnectInterval: DefaultReconnectInterval,
		TimeoutLimit:      driver.DefaultTimeoutLimit,
	}
	if len(d.polled) > 0 {
		timing.WatchdogPolls = DefaultWatchdogPolls
	}
	return timing, nil
}

func parseLinkOptions(cfg driver.Config) (LinkOptions, error) {
	var opts LinkOptions
	if v := cfg.Option("ack_timeout", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return opts, fmt.Errorf("%w: ack_timeout %q is not a positive duration", driver.ErrConfiguration, v)
		}
		opts.AckTimeout = d
	}
	if v := cfg.Option("send_rate", ""); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 {
			return opts, fmt.Errorf("%w: send_rate %q is not a positive number", driver.ErrConfiguration, v)
		}
		opts.FramesPerSecond = r
	}
	retries, err := driver.OptionUint(cfg.Options, "retries", 0)
	if err != nil {
		return opts, err
	}
	opts.Retries = int(retries)
	return opts, nil
}

func (d *Driver) Connect(ctx context.Context, port comm.Port) error {
	d.link = NewLink(port, d.linkOpts)
	if err := d.link.Reset(); err != nil {
		return fmt.Errorf("%w: %w", driver.ErrLostConnection, err)
	}
	version, err := d.link.Version(ctx)
	if err != nil {
		return fmt.Errorf("controller handshake: %w", err)
	}
	d.version = version
	d.host.Logger.Info("zwave controller connected", "moniker", d.host.Moniker, "version", version)
	for _, c := range d.codecs {
		c.BeginCycle()
	}
	return nil
}

func (d *Driver) Poll(ctx context.Context, _ comm.Port) (bool, error) {
	for _, c := range d.codecs {
		c.BeginCycle()
	}

	activity, err := d.drain(ctx)
	if err != nil {
		return activity, err
	}

	if len(d.polled) == 0 {
		return activity, nil
	}
	u := d.polled[d.next%len(d.polled)]
	d.next++
	for _, c := range d.unitCodecs(u) {
		err := d.link.SendData(ctx, u.Node, c.EncodeGet())
		switch {
		case err == nil:
			activity = true
		case errors.Is(err, ErrTransmit), errors.Is(err, ErrRejected):
			activity = true
			d.host.Logger.Debug("zwave: query failed", "unit", u.Name, "error", err)
		default:
			return activity, err
		}
	}
	return activity, nil
}

// drain dispatches every frame already waiting.
func (d *Driver) drain(ctx context.Context) (bool, error) {
	activity := false
	for {
		f, ok, err := d.link.Receive(ctx, receiveWindow)
		if err != nil || !ok {
			return activity, err
		}
		activity = true
		d.dispatch(f)
	}
}

// inbound is a decoded report from a node.
type inbound struct {
	node     byte
	instance uint32
	cmd      []byte

	// by is the codec that claimed the report, nil if none did.
	by CommandClass
}

// dispatch hands an ApplicationCommandHandler frame to the first codec of
// the source node that claims it.
func (d *Driver) dispatch(f Frame) (inbound, bool) {
	node, cmd, ok := parseCommand(f)
	if !ok {
		d.host.Logger.Debug("zwave: ignoring frame", "frame", f.String())
		return inbound{}, false
	}
	in := inbound{node: node}
	in.instance, in.cmd = decapsulate(cmd)
	for _, c := range d.byNode[node] {
		if c.HandleReport(in.cmd, in.instance) {
			in.by = c
			return in, true
		}
	}
	d.host.Logger.Debug("zwave: unclaimed report", "node", node, "instance", in.instance, "cmd", fmt.Sprintf("% X", in.cmd))
	return in, true
}

// parseCommand extracts the source node and command bytes from an
// ApplicationCommandHandler request.
func parseCommand(f Frame) (node byte, cmd []byte, ok bool) {
	if f.Type != TypeRequest || f.Func != FuncApplicationCommandHandler || len(f.Payload) < 3 {
		return 0, nil, false
	}
	n := int(f.Payload[2])
	if n < 2 || len(f.Payload) < 3+n {
		return 0, nil, false
	}
	return f.Payload[1], f.Payload[3 : 3+n], true
}

func (d *Driver) WriteField(ctx context.Context, _ comm.Port, id field.ID, v field.Value) error {
	var codec CommandClass
	for _, c := range d.codecs {
		if c.OwnsField(id) {
			codec = c
			break
		}
	}
	if codec == nil {
		return fmt.Errorf("%w: %s", ErrFieldNotOwned, id)
	}
	u := codec.Unit()

	cmd, err := codec.EncodeSet(id, v)
	if err != nil {
		return err
	}
	// Reports already queued predate the write.
	if _, err := d.drain(ctx); err != nil {
		return err
	}
	codec.BeginCycle()
	if err := d.link.SendData(ctx, u.Node, cmd); err != nil {
		return err
	}

	switch {
	case u.HasAck():
		return d.awaitAck(ctx, codec)
	case u.Readable:
		codec.BeginCycle()
		if err := d.link.SendData(ctx, u.Node, codec.EncodeGet()); err != nil {
			return err
		}
		_, err := d.awaitReport(ctx, codec, Class(0), 0, u.AckTimeout)
		if errors.Is(err, driver.ErrTimeout) {
			d.host.Logger.Debug("zwave: no report after write", "unit", u.Name)
			return nil
		}
		return err
	default:
		return codec.StoreOptimistic(id, v)
	}
}

func (d *Driver) awaitAck(ctx context.Context, codec CommandClass) error {
	u := codec.Unit()
	_, err := d.awaitReport(ctx, codec, u.AckClass, u.AckCommand, u.AckTimeout)
	return err
}

// awaitReport dispatches incoming frames in order until the endpoint of
// codec sends a report of the given class and command. Class 0 accepts any
// report codec itself claims. Reports from other endpoints of the same
// node are applied but do not end the wait.
func (d *Driver) awaitReport(ctx context.Context, codec CommandClass, class Class, cmdID byte, timeout time.Duration) ([]byte, error) {
	u := codec.Unit()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: no report from unit %q", driver.ErrTimeout, u.Name)
		}
		f, ok, err := d.link.Receive(ctx, remaining)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		in, ok := d.dispatch(f)
		if !ok || in.node != u.Node || in.instance != codec.Instance() || len(in.cmd) < 2 {
			continue
		}
		if in.by != nil && in.by != codec {
			continue
		}
		if class == 0 {
			if in.by == codec {
				return in.cmd, nil
			}
			continue
		}
		if Class(in.cmd[0]) == class && in.cmd[1] == cmdID {
			return in.cmd, nil
		}
	}
}

func (d *Driver) unitCodecs(u *Unit) []CommandClass {
	var out []CommandClass
	for _, c := range d.byNode[u.Node] {
		if c.Unit() == u {
			out = append(out, c)
		}
	}
	return out
}

func (d *Driver) Disconnect() {
	d.link = nil
	d.host.Fields.SetAllError()
}

func (d *Driver) Terminate() {
	d.link = nil
	d.units, d.codecs, d.polled, d.byNode = nil, nil, nil, nil
}

// Command implements driver.Commander.
//
//	version          controller library version
//	query <unit>     send a state query to every endpoint of a unit
func (d *Driver) Command(ctx context.Context, _ comm.Port, cmd, arg string) (string, error) {
	switch cmd {
	case "version":
		return d.version, nil
	case "query":
		name := strings.TrimSpace(arg)
		for _, u := range d.units {
			if u.Name != name {
				continue
			}
			for _, c := range d.unitCodecs(u) {
				if err := d.link.SendData(ctx, u.Node, c.EncodeGet()); err != nil {
					return "", err
				}
			}
			return "ok", nil
		}
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, name)
	}
	return "", fmt.Errorf("%w: %s", driver.ErrUnknownCommand, cmd)
}

var (
	_ driver.Driver    = (*Driver)(nil)
	_ driver.Commander = (*Driver)(nil)
)
