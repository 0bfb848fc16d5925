package zwave

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/driver"
)

// Class is a Z-Wave command class id.
type Class byte

// Command classes the driver understands.
const (
	ClassBasic             Class = 0x20
	ClassSwitchBinary      Class = 0x25
	ClassSwitchMultilevel  Class = 0x26
	ClassSceneActuatorConf Class = 0x2C
	ClassMultiChannel      Class = 0x60
)

// Commands shared by the switch classes.
const (
	CmdSet    byte = 0x01
	CmdGet    byte = 0x02
	CmdReport byte = 0x03

	cmdMultiChannelEncap byte = 0x0D
)

// Native level range of the multilevel switch class.
const (
	levelMax  = 99
	levelFull = 0xFF
)

var classNames = map[Class]string{
	ClassBasic:             "Basic",
	ClassSwitchBinary:      "BinSwitch",
	ClassSwitchMultilevel:  "MLSwitch",
	ClassSceneActuatorConf: "SceneActuatorConf",
	ClassMultiChannel:      "MultiChannel",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", byte(c))
}

// ParseClass accepts a class name ("BinSwitch", "MLSwitch", "Basic", ...)
// or a numeric id such as "0x25".
func ParseClass(s string) (Class, error) {
	s = strings.TrimSpace(s)
	for c, name := range classNames {
		if strings.EqualFold(s, name) {
			return c, nil
		}
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownClass, s)
	}
	return Class(n), nil
}

// LevelToPercent rescales a native level (0-99) to 0-100.
func LevelToPercent(raw byte) uint32 {
	p := math.Round(float64(raw) * 100 / levelMax)
	return uint32(min(p, 100))
}

// PercentToLevel rescales 0-100 to the native level range.
func PercentToLevel(p uint32) byte {
	raw := math.Round(float64(min(p, 100)) * levelMax / 100)
	return byte(min(raw, levelMax))
}

// Unit is a parsed UnitConfig.
type Unit struct {
	Name      string
	Node      byte
	Class     Class
	BaseClass Class

	// Endpoints are the multi-channel instances. Empty means one
	// non-encapsulated instance.
	Endpoints []uint32

	LightSwitch  bool
	SendTriggers bool
	Readable     bool

	// AckClass and AckCommand name the report the device sends after a
	// SET. AckClass 0 means the device sends nothing useful.
	AckClass   Class
	AckCommand byte
	AckTimeout time.Duration
}

// HasAck reports whether an acknowledgement shape is configured.
func (u *Unit) HasAck() bool {
	return u.AckClass != 0
}

const defaultAckTimeout = 2 * time.Second

// ParseUnit validates a unit entry.
func ParseUnit(uc driver.UnitConfig) (*Unit, error) {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: unit %q: %s", driver.ErrConfiguration, uc.Name, fmt.Sprintf(format, args...))
	}

	if uc.Address < 1 || uc.Address > 232 {
		return nil, bad("node id %d out of range 1-232", uc.Address)
	}
	class, err := ParseClass(uc.Class)
	if err != nil {
		return nil, bad("%v", err)
	}
	if class != ClassSwitchBinary && class != ClassSwitchMultilevel {
		return nil, bad("class %s is not supported", class)
	}
	u := &Unit{
		Name:         uc.Name,
		Node:         byte(uc.Address),
		Class:        class,
		Endpoints:    uc.Endpoints,
		LightSwitch:  driver.OptionBool(uc.Options, "LightSwitch", false),
		SendTriggers: driver.OptionBool(uc.Options, "SendTriggers", false),
		Readable:     driver.OptionBool(uc.Options, "Readable", false),
		AckTimeout:   defaultAckTimeout,
	}
	if uc.BaseClass != "" {
		if u.BaseClass, err = ParseClass(uc.BaseClass); err != nil {
			return nil, bad("base class: %v", err)
		}
	}
	for _, ep := range uc.Endpoints {
		if ep < 1 || ep > 127 {
			return nil, bad("endpoint %d out of range 1-127", ep)
		}
	}

	if v := uc.Options["AckClass"]; v != "" {
		if u.AckClass, err = ParseClass(v); err != nil {
			return nil, bad("AckClass: %v", err)
		}
		cmd, err := driver.OptionUint(uc.Options, "AckCommand", uint64(CmdReport))
		if err != nil {
			return nil, bad("%v", err)
		}
		if cmd > 0xFF {
			return nil, bad("AckCommand %d out of range", cmd)
		}
		u.AckCommand = byte(cmd)
	}
	if v := uc.Options["AckTimeout"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, bad("AckTimeout %q is not a positive duration", v)
		}
		u.AckTimeout = d
	}
	return u, nil
}

// encapsulate wraps cmd for a multi-channel endpoint.
func encapsulate(endpoint uint32, cmd []byte) []byte {
	out := make([]byte, 0, len(cmd)+4)
	out = append(out, byte(ClassMultiChannel), cmdMultiChannelEncap, 0x00, byte(endpoint))
	return append(out, cmd...)
}

// decapsulate unwraps a multi-channel report. Plain reports come from
// instance 1.
func decapsulate(cmd []byte) (instance uint32, inner []byte) {
	if len(cmd) >= 4 && Class(cmd[0]) == ClassMultiChannel && cmd[1] == cmdMultiChannelEncap {
		return uint32(cmd[2]), cmd[4:]
	}
	return 1, cmd
}
