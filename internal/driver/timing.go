package driver

import "time"

// Default timing used when neither the driver nor the config sets a value.
const (
	DefaultPollInterval      = time.Second
	DefaultReconnectInterval = 5 * time.Second
	DefaultTimeoutLimit      = 3
)

// Timing controls the lifecycle cadence of one instance.
type Timing struct {
	PollInterval      time.Duration
	ReconnectInterval time.Duration

	// WatchdogPolls forces a reconnect after this many consecutive polls
	// that reported no activity. Zero disables the watchdog.
	WatchdogPolls int

	// TimeoutLimit is how many consecutive poll timeouts are tolerated
	// before the link is considered lost.
	TimeoutLimit int
}

// withDefaults fills unset fields.
func (t Timing) withDefaults() Timing {
	if t.PollInterval <= 0 {
		t.PollInterval = DefaultPollInterval
	}
	if t.ReconnectInterval <= 0 {
		t.ReconnectInterval = DefaultReconnectInterval
	}
	if t.TimeoutLimit <= 0 {
		t.TimeoutLimit = DefaultTimeoutLimit
	}
	if t.WatchdogPolls < 0 {
		t.WatchdogPolls = 0
	}
	return t
}

// Apply overlays the values set in the instance configuration onto the
// driver's own defaults.
func (t Timing) Apply(c TimingConfig) Timing {
	if c.PollInterval > 0 {
		t.PollInterval = c.PollInterval
	}
	if c.ReconnectInterval > 0 {
		t.ReconnectInterval = c.ReconnectInterval
	}
	if c.WatchdogPolls != nil {
		t.WatchdogPolls = *c.WatchdogPolls
	}
	if c.TimeoutLimit > 0 {
		t.TimeoutLimit = c.TimeoutLimit
	}
	return t.withDefaults()
}
