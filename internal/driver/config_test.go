package driver

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/gray-logic-drivers/internal/comm"
)

const sampleYAML = `
version: 1
moniker: zw-main
kind: zwave
port:
  serial: /dev/ttyACM0
  baud: 115200
timing:
  poll_interval: 500ms
  watchdog_polls: 0
options:
  ack_timeout: 2s
units:
  - name: Hall
    address: 5
    class: BinSwitch
    base_class: BinSwitch
    options:
      LightSwitch: "yes"
  - name: Lounge
    address: 7
    class: MLSwitch
    endpoints: [1, 2]
`

func TestDecodeConfigYAML(t *testing.T) {
	cfg, err := DecodeConfigYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("DecodeConfigYAML() error = %v", err)
	}
	if cfg.Moniker != "zw-main" || cfg.Kind != "zwave" || cfg.Port.Baud != 115200 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Timing.PollInterval != 500*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.Timing.PollInterval)
	}
	if cfg.Timing.WatchdogPolls == nil || *cfg.Timing.WatchdogPolls != 0 {
		t.Error("explicit watchdog_polls: 0 lost")
	}
	if len(cfg.Units) != 2 || cfg.Units[1].Endpoints[1] != 2 || cfg.Units[0].Options["LightSwitch"] != "yes" {
		t.Errorf("units = %+v", cfg.Units)
	}
}

func TestConfigCBORRoundTrip(t *testing.T) {
	cfg, err := DecodeConfigYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("DecodeConfigYAML() error = %v", err)
	}
	blob, err := EncodeConfigCBOR(cfg)
	if err != nil {
		t.Fatalf("EncodeConfigCBOR() error = %v", err)
	}
	got, err := DecodeConfigCBOR(blob)
	if err != nil {
		t.Fatalf("DecodeConfigCBOR() error = %v", err)
	}
	if !got.Equal(cfg) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, cfg)
	}

	again, _ := EncodeConfigCBOR(got) //nolint:errcheck // compared below
	if string(again) != string(blob) {
		t.Error("encoding is not deterministic")
	}
}

func TestConfigVersionChecks(t *testing.T) {
	newer, err := cbor.Marshal(map[int]any{1: CurrentConfigVersion + 1, 2: "x", 3: "future"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		decode  func() error
		wantErr error
	}{
		{"yaml newer", func() error {
			_, err := DecodeConfigYAML([]byte("version: 99\nmoniker: a\nkind: b\n"))
			return err
		}, ErrUnsupportedVersion},
		{"yaml missing", func() error {
			_, err := DecodeConfigYAML([]byte("moniker: a\nkind: b\n"))
			return err
		}, ErrConfiguration},
		{"cbor newer", func() error {
			_, err := DecodeConfigCBOR(newer)
			return err
		}, ErrUnsupportedVersion},
		{"cbor garbage", func() error {
			_, err := DecodeConfigCBOR([]byte{0xff, 0x00})
			return err
		}, ErrConfiguration},
		{"encode unversioned", func() error {
			_, err := EncodeConfigCBOR(Config{Moniker: "a", Kind: "b"})
			return err
		}, ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.decode(); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	base := testConfig("ok")
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"bad moniker", func(c *Config) { c.Moniker = "has space" }, false},
		{"no kind", func(c *Config) { c.Kind = "" }, false},
		{"both ports", func(c *Config) { c.Port.Serial = "/dev/ttyS0" }, false},
		{"duplicate unit", func(c *Config) { c.Units = []UnitConfig{{Name: "a"}, {Name: "a"}} }, false},
		{"unnamed unit", func(c *Config) { c.Units = []UnitConfig{{Address: 3}} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() error = %v, ok %v", err, tt.ok)
			}
			if err != nil && !errors.Is(err, ErrConfiguration) {
				t.Errorf("error %v is not ErrConfiguration", err)
			}
		})
	}
}

func TestConfigOpener(t *testing.T) {
	c := testConfig("a")
	o, err := c.Opener()
	if err != nil {
		t.Fatalf("Opener() error = %v", err)
	}
	if _, ok := o.(comm.TCPOpener); !ok {
		t.Errorf("opener = %T, want TCPOpener", o)
	}

	c.Port = PortConfig{Serial: "/dev/ttyUSB0", Baud: 9600}
	if o, _ = c.Opener(); o.String() == "" {
		t.Error("serial opener has no description")
	}
	if _, ok := o.(comm.SerialOpener); !ok {
		t.Errorf("opener = %T, want SerialOpener", o)
	}

	c.Port = PortConfig{}
	if _, err := c.Opener(); !errors.Is(err, ErrConfiguration) {
		t.Errorf("no port error = %v", err)
	}
}

func TestOptions(t *testing.T) {
	opts := map[string]string{"a": "Yes", "b": "off", "c": "maybe", "n": "0x25", "bad": "zz"}
	if !OptionBool(opts, "a", false) || OptionBool(opts, "b", true) || !OptionBool(opts, "c", true) || OptionBool(opts, "missing", false) {
		t.Error("OptionBool")
	}
	if n, err := OptionUint(opts, "n", 0); err != nil || n != 0x25 {
		t.Errorf("OptionUint hex = %d, %v", n, err)
	}
	if _, err := OptionUint(opts, "bad", 0); !errors.Is(err, ErrConfiguration) {
		t.Errorf("OptionUint bad = %v", err)
	}
}

func TestDecodeDefinitions(t *testing.T) {
	good := `
drivers:
  - moniker: a
    kind: zwave
    port: {serial: /dev/ttyACM0}
  - moniker: b
    kind: irrecv
    port: {serial: /dev/ttyUSB0}
`
	cfgs, err := DecodeDefinitions([]byte(good))
	if err != nil {
		t.Fatalf("DecodeDefinitions() error = %v", err)
	}
	if len(cfgs) != 2 || cfgs[0].Version != CurrentConfigVersion {
		t.Errorf("cfgs = %+v", cfgs)
	}

	dup := "drivers:\n  - {moniker: a, kind: x}\n  - {moniker: a, kind: y}\n"
	if _, err := DecodeDefinitions([]byte(dup)); !errors.Is(err, ErrConfiguration) {
		t.Errorf("duplicate error = %v", err)
	}
}

func TestTimingApply(t *testing.T) {
	five := 5
	zero := 0
	drv := Timing{PollInterval: 250 * time.Millisecond, WatchdogPolls: 240}

	tests := []struct {
		name string
		cfg  TimingConfig
		want Timing
	}{
		{"driver defaults", TimingConfig{}, Timing{250 * time.Millisecond, DefaultReconnectInterval, 240, DefaultTimeoutLimit}},
		{"override", TimingConfig{PollInterval: time.Second, WatchdogPolls: &five, TimeoutLimit: 9},
			Timing{time.Second, DefaultReconnectInterval, 5, 9}},
		{"disable watchdog", TimingConfig{WatchdogPolls: &zero}, Timing{250 * time.Millisecond, DefaultReconnectInterval, 0, DefaultTimeoutLimit}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := drv.Apply(tt.cfg); got != tt.want {
				t.Errorf("Apply() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Result
	}{
		{nil, ResultSuccess},
		{fmt.Errorf("x: %w", ErrProtocol), ResultLostConnection},
		{fmt.Errorf("x: %w", comm.ErrTimeout), ResultLostConnection},
		{io.EOF, ResultLostConnection},
		{ErrLostConnection, ResultLostConnection},
		{errors.New("weird"), ResultException},
		{guard(func() error { panic("boom") }), ResultException},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if StateConnected.String() != "Connected" || State(42).String() != "Unknown" {
		t.Error("State.String")
	}
	b, _ := StateLostConnection.MarshalText() //nolint:errcheck // never fails
	if string(b) != "LostConnection" {
		t.Errorf("MarshalText = %s", b)
	}
}
