package driver

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-drivers/internal/comm"
)

// CurrentConfigVersion is the newest config format this build understands.
// Blobs with a higher version are refused rather than guessed at.
const CurrentConfigVersion = 1

var monikerPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Config is the persisted configuration of one driver instance.
type Config struct {
	Version int               `yaml:"version" cbor:"1,keyasint"`
	Moniker string            `yaml:"moniker" cbor:"2,keyasint"`
	Kind    string            `yaml:"kind" cbor:"3,keyasint"`
	Port    PortConfig        `yaml:"port" cbor:"4,keyasint"`
	Timing  TimingConfig      `yaml:"timing" cbor:"5,keyasint,omitempty"`
	Options map[string]string `yaml:"options" cbor:"6,keyasint,omitempty"`
	Units   []UnitConfig      `yaml:"units" cbor:"7,keyasint,omitempty"`
}

// PortConfig selects the transport. Exactly one of Serial and Address is set.
type PortConfig struct {
	Serial      string        `yaml:"serial" cbor:"1,keyasint,omitempty"`
	Baud        int           `yaml:"baud" cbor:"2,keyasint,omitempty"`
	DataBits    int           `yaml:"data_bits" cbor:"3,keyasint,omitempty"`
	Parity      string        `yaml:"parity" cbor:"4,keyasint,omitempty"`
	StopBits    string        `yaml:"stop_bits" cbor:"5,keyasint,omitempty"`
	Address     string        `yaml:"address" cbor:"6,keyasint,omitempty"`
	DialTimeout time.Duration `yaml:"dial_timeout" cbor:"7,keyasint,omitempty"`
}

// TimingConfig overrides the driver's default Timing. Zero values keep the
// driver default; WatchdogPolls uses a pointer so 0 can disable it.
type TimingConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval" cbor:"1,keyasint,omitempty"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval" cbor:"2,keyasint,omitempty"`
	WatchdogPolls     *int          `yaml:"watchdog_polls" cbor:"3,keyasint,omitempty"`
	TimeoutLimit      int           `yaml:"timeout_limit" cbor:"4,keyasint,omitempty"`
}

// UnitConfig describes one physical unit behind the instance's port.
type UnitConfig struct {
	Name string `yaml:"name" cbor:"1,keyasint"`

	// Address is the protocol address, e.g. the Z-Wave node id.
	Address uint32 `yaml:"address" cbor:"2,keyasint"`

	// Class is the capability the unit is driven through.
	Class string `yaml:"class" cbor:"3,keyasint"`

	// BaseClass is the capability the device reports as its own.
	BaseClass string `yaml:"base_class" cbor:"4,keyasint,omitempty"`

	// Endpoints lists multi-channel instance ids. Empty means a single,
	// non-encapsulated endpoint.
	Endpoints []uint32 `yaml:"endpoints" cbor:"5,keyasint,omitempty"`

	Options map[string]string `yaml:"options" cbor:"6,keyasint,omitempty"`
}

// Validate checks the fields every driver relies on. Driver-specific checks
// happen in Driver.Initialize.
func (c Config) Validate() error {
	var errs []string
	switch {
	case c.Version == 0:
		errs = append(errs, "version is required")
	case c.Version > CurrentConfigVersion:
		return fmt.Errorf("%w: %d (max %d)", ErrUnsupportedVersion, c.Version, CurrentConfigVersion)
	}
	if !monikerPattern.MatchString(c.Moniker) {
		errs = append(errs, fmt.Sprintf("invalid moniker %q", c.Moniker))
	}
	if c.Kind == "" {
		errs = append(errs, "kind is required")
	}
	if c.Port.Serial != "" && c.Port.Address != "" {
		errs = append(errs, "port: serial and address are mutually exclusive")
	}
	seen := make(map[string]bool, len(c.Units))
	for i, u := range c.Units {
		if u.Name == "" {
			errs = append(errs, fmt.Sprintf("units[%d]: name is required", i))
			continue
		}
		if seen[u.Name] {
			errs = append(errs, fmt.Sprintf("units[%d]: duplicate name %q", i, u.Name))
		}
		seen[u.Name] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrConfiguration, c.Moniker, strings.Join(errs, "; "))
	}
	return nil
}

// HasPort reports whether a transport is configured.
func (c Config) HasPort() bool {
	return c.Port.Serial != "" || c.Port.Address != ""
}

// Opener builds the comm opener for the configured port.
func (c Config) Opener() (comm.Opener, error) {
	switch {
	case c.Port.Serial != "":
		return comm.SerialOpener{
			Name:     c.Port.Serial,
			BaudRate: c.Port.Baud,
			DataBits: c.Port.DataBits,
			Parity:   c.Port.Parity,
			StopBits: c.Port.StopBits,
		}, nil
	case c.Port.Address != "":
		return comm.TCPOpener{Address: c.Port.Address, DialTimeout: c.Port.DialTimeout}, nil
	default:
		return nil, fmt.Errorf("%w: %s: no port configured", ErrConfiguration, c.Moniker)
	}
}

// Option returns a driver-level option or def.
func (c Config) Option(key, def string) string {
	if v, ok := c.Options[key]; ok {
		return v
	}
	return def
}

// OptionBool interprets yes/no, true/false and 1/0.
func OptionBool(opts map[string]string, key string, def bool) bool {
	v, ok := opts[key]
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1", "on":
		return true
	case "no", "false", "0", "off":
		return false
	}
	return def
}

// OptionUint parses a decimal or 0x-prefixed option value.
func OptionUint(opts map[string]string, key string, def uint64) (uint64, error) {
	v, ok := opts[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
	if err != nil {
		return def, fmt.Errorf("%w: option %s=%q: %v", ErrConfiguration, key, v, err)
	}
	return n, nil
}

// Equal reports whether two configs encode identically.
func (c Config) Equal(o Config) bool {
	a, errA := EncodeConfigCBOR(c)
	b, errB := EncodeConfigCBOR(o)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("driver: cbor encoder: %v", err))
	}
	cborDec, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("driver: cbor decoder: %v", err))
	}
}

// versionHeader reads only the version so newer blobs are refused before
// the rest is interpreted.
type versionHeader struct {
	Version int `yaml:"version" cbor:"1,keyasint"`
}

func checkVersion(v int) error {
	switch {
	case v == 0:
		return fmt.Errorf("%w: missing config version", ErrConfiguration)
	case v > CurrentConfigVersion:
		return fmt.Errorf("%w: %d (max %d)", ErrUnsupportedVersion, v, CurrentConfigVersion)
	}
	return nil
}

// EncodeConfigCBOR encodes c as a canonical CBOR blob.
func EncodeConfigCBOR(c Config) ([]byte, error) {
	if err := checkVersion(c.Version); err != nil {
		return nil, err
	}
	b, err := cborEnc.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding config %s: %w", c.Moniker, err)
	}
	return b, nil
}

// DecodeConfigCBOR decodes and validates a CBOR blob.
func DecodeConfigCBOR(data []byte) (Config, error) {
	var hdr versionHeader
	if err := cborDec.Unmarshal(data, &hdr); err != nil {
		return Config{}, fmt.Errorf("%w: decoding config blob: %v", ErrConfiguration, err)
	}
	if err := checkVersion(hdr.Version); err != nil {
		return Config{}, err
	}
	var c Config
	if err := cborDec.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("%w: decoding config blob: %v", ErrConfiguration, err)
	}
	return c, c.Validate()
}

// DecodeConfigYAML decodes and validates one instance definition.
func DecodeConfigYAML(data []byte) (Config, error) {
	var hdr versionHeader
	if err := yaml.Unmarshal(data, &hdr); err != nil {
		return Config{}, fmt.Errorf("%w: parsing config: %v", ErrConfiguration, err)
	}
	if err := checkVersion(hdr.Version); err != nil {
		return Config{}, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("%w: parsing config: %v", ErrConfiguration, err)
	}
	return c, c.Validate()
}

// Definitions is the driver definitions file.
type Definitions struct {
	Drivers []Config `yaml:"drivers"`
}

// DecodeDefinitions parses a definitions file. Entries without a version
// inherit CurrentConfigVersion. All entries are validated and monikers must
// be unique.
func DecodeDefinitions(data []byte) ([]Config, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("%w: parsing definitions: %v", ErrConfiguration, err)
	}
	seen := make(map[string]bool, len(defs.Drivers))
	var errs []string
	for i := range defs.Drivers {
		c := &defs.Drivers[i]
		if c.Version == 0 {
			c.Version = CurrentConfigVersion
		}
		if err := c.Validate(); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if seen[c.Moniker] {
			errs = append(errs, fmt.Sprintf("%s: %s", ErrDuplicateMoniker, c.Moniker))
		}
		seen[c.Moniker] = true
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(errs, "\n  "))
	}
	return defs.Drivers, nil
}
