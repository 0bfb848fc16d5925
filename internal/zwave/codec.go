package zwave

import (
	"fmt"

	"github.com/nerrad567/gray-logic-drivers/internal/driver"
	"github.com/nerrad567/gray-logic-drivers/internal/field"
	"github.com/nerrad567/gray-logic-drivers/internal/trigger"
)

// CommandClass is the codec for one capability on one endpoint of a unit.
type CommandClass interface {
	Class() Class
	Unit() *Unit
	Instance() uint32

	// OwnsField reports whether id is one of the codec's fields.
	OwnsField(id field.ID) bool

	// HandleReport applies a decapsulated report sent by fromInstance. It
	// returns whether the report was recognised, even when precedence
	// meant it was not applied.
	HandleReport(cmd []byte, fromInstance uint32) bool

	// BeginCycle resets report precedence.
	BeginCycle()

	// EncodeSet builds the command for a write to one of the codec's fields.
	EncodeSet(id field.ID, v field.Value) ([]byte, error)

	// EncodeGet builds the state query.
	EncodeGet() []byte

	// StoreOptimistic records a written value without device confirmation.
	StoreOptimistic(id field.ID, v field.Value) error

	// SetError marks every owned field Error.
	SetError()
}

// Report shape ranks, best first.
const (
	rankScene = iota
	rankNative
	rankBasic
	rankNone
)

type codecBase struct {
	unit     *Unit
	class    Class
	instance uint32
	encap    bool
	host     *driver.Host
	best     int
}

func (c *codecBase) Class() Class     { return c.class }
func (c *codecBase) Unit() *Unit      { return c.unit }
func (c *codecBase) Instance() uint32 { return c.instance }
func (c *codecBase) BeginCycle()      { c.best = rankNone }

// fieldName builds Prefix#Kind_Unit[_Instance].
func (c *codecBase) fieldName(prefix, kind string) string {
	name := fmt.Sprintf("%s#%s_%s", prefix, kind, c.unit.Name)
	if c.encap {
		name += fmt.Sprintf("_%d", c.instance)
	}
	return name
}

// match finds the report shape of cmd and its raw value.
func (c *codecBase) match(cmd []byte) (raw byte, rank int, ok bool) {
	if len(cmd) < 3 || cmd[1] != CmdReport {
		return 0, rankNone, false
	}
	switch Class(cmd[0]) {
	case ClassSceneActuatorConf:
		if len(cmd) >= 4 && cmd[2] == 0 {
			return cmd[3], rankScene, true
		}
	case c.class:
		return cmd[2], rankNative, true
	case ClassBasic:
		return cmd[2], rankBasic, true
	}
	return 0, rankNone, false
}

// accept decides whether a report is claimed and whether it may be applied.
func (c *codecBase) accept(cmd []byte, fromInstance uint32) (raw byte, apply, claimed bool) {
	if fromInstance != c.instance {
		return 0, false, false
	}
	raw, rank, ok := c.match(cmd)
	if !ok {
		return 0, false, false
	}
	if rank > c.best {
		c.host.Logger.Debug("zwave: report superseded in this cycle",
			"unit", c.unit.Name, "instance", c.instance, "class", Class(cmd[0]))
		return 0, false, true
	}
	c.best = rank
	return raw, true, true
}

func (c *codecBase) command(cmd byte, args ...byte) []byte {
	class := c.class
	if c.unit.BaseClass == c.class {
		class = ClassBasic
	}
	out := append([]byte{byte(class), cmd}, args...)
	if c.encap {
		return encapsulate(c.instance, out)
	}
	return out
}

func (c *codecBase) EncodeGet() []byte {
	return c.command(CmdGet)
}

// storeState writes the on/off field and raises a load change trigger on a
// real transition of a light switch.
func (c *codecBase) storeState(id field.ID, on bool) {
	ch, err := c.host.Fields.Store(id, field.Bool(on))
	if err != nil {
		c.host.Logger.Warn("zwave: storing state", "unit", c.unit.Name, "error", err)
		return
	}
	if ch.Changed && ch.HadOld && c.unit.LightSwitch && c.unit.SendTriggers {
		c.host.Emit(trigger.KindLoadChange, ch.Name, ch.New.Format(), c.unit.Name)
	}
}

func asBool(v field.Value) (bool, error) {
	if v.Type() != field.TypeBool {
		return false, fmt.Errorf("%w: want Boolean, got %s", field.ErrTypeMismatch, v.Type())
	}
	return v.AsBool(), nil
}

// validLevel reports whether raw is 0..100 or full on.
func validLevel(raw byte) bool {
	return raw <= 100 || raw == levelFull
}

func switchByte(on bool) byte {
	if on {
		return levelFull
	}
	return 0
}

// binSwitch is the switch binary codec.
type binSwitch struct {
	codecBase
	state field.ID
}

func (b *binSwitch) OwnsField(id field.ID) bool {
	return id.Valid() && id == b.state
}

func (b *binSwitch) HandleReport(cmd []byte, fromInstance uint32) bool {
	raw, apply, claimed := b.accept(cmd, fromInstance)
	if !apply {
		return claimed
	}
	if !validLevel(raw) {
		b.host.Logger.Debug("zwave: reserved switch value", "unit", b.unit.Name, "instance", b.instance, "raw", raw)
		return true
	}
	b.storeState(b.state, raw != 0)
	return true
}

func (b *binSwitch) EncodeSet(id field.ID, v field.Value) ([]byte, error) {
	if id != b.state {
		return nil, ErrFieldNotOwned
	}
	on, err := asBool(v)
	if err != nil {
		return nil, err
	}
	return b.command(CmdSet, switchByte(on)), nil
}

func (b *binSwitch) StoreOptimistic(id field.ID, v field.Value) error {
	if id != b.state {
		return ErrFieldNotOwned
	}
	on, err := asBool(v)
	if err != nil {
		return err
	}
	b.storeState(b.state, on)
	return nil
}

func (b *binSwitch) SetError() {
	_ = b.host.Fields.SetError(b.state) //nolint:errcheck // stale ids are harmless here
}

// mlSwitch is the switch multilevel codec. It owns a state and a level field.
type mlSwitch struct {
	codecBase
	state field.ID
	level field.ID
}

func (m *mlSwitch) OwnsField(id field.ID) bool {
	return id.Valid() && (id == m.state || id == m.level)
}

// HandleReport writes the state first, then the level if the raw value is a
// real level. Reserved values mark the level in error and leave the state.
func (m *mlSwitch) HandleReport(cmd []byte, fromInstance uint32) bool {
	raw, apply, claimed := m.accept(cmd, fromInstance)
	if !apply {
		return claimed
	}
	if !validLevel(raw) {
		m.host.Logger.Debug("zwave: level out of range", "unit", m.unit.Name, "instance", m.instance, "raw", raw)
		_ = m.host.Fields.SetError(m.level) //nolint:errcheck // stale ids are harmless here
		return true
	}
	m.storeState(m.state, raw != 0)
	if raw == levelFull {
		return true
	}
	if _, err := m.host.Fields.Store(m.level, field.Card(LevelToPercent(raw))); err != nil {
		m.host.Logger.Warn("zwave: storing level", "unit", m.unit.Name, "error", err)
	}
	return true
}

func (m *mlSwitch) EncodeSet(id field.ID, v field.Value) ([]byte, error) {
	switch id {
	case m.state:
		on, err := asBool(v)
		if err != nil {
			return nil, err
		}
		return m.command(CmdSet, switchByte(on)), nil
	case m.level:
		if v.Type() != field.TypeCard {
			return nil, fmt.Errorf("%w: want Card, got %s", field.ErrTypeMismatch, v.Type())
		}
		return m.command(CmdSet, PercentToLevel(v.AsCard())), nil
	}
	return nil, ErrFieldNotOwned
}

func (m *mlSwitch) StoreOptimistic(id field.ID, v field.Value) error {
	switch id {
	case m.state:
		on, err := asBool(v)
		if err != nil {
			return err
		}
		m.storeState(m.state, on)
		if !on {
			_, err = m.host.Fields.Store(m.level, field.Card(0))
		}
		return err
	case m.level:
		if _, err := m.host.Fields.Store(m.level, v); err != nil {
			return err
		}
		m.storeState(m.state, v.AsCard() > 0)
		return nil
	}
	return ErrFieldNotOwned
}

func (m *mlSwitch) SetError() {
	_ = m.host.Fields.SetError(m.state) //nolint:errcheck // stale ids are harmless here
	_ = m.host.Fields.SetError(m.level) //nolint:errcheck // stale ids are harmless here
}

// newCodecs registers the fields of u and returns one codec per endpoint.
func newCodecs(host *driver.Host, u *Unit) ([]CommandClass, error) {
	instances := u.Endpoints
	encap := len(instances) > 0
	if !encap {
		instances = []uint32{1}
	}

	codecs := make([]CommandClass, 0, len(instances))
	for _, inst := range instances {
		base := codecBase{unit: u, class: u.Class, instance: inst, encap: encap, host: host, best: rankNone}

		prefix, sem := "SWTCH", field.SemBoolSwitch
		if u.LightSwitch {
			prefix, sem = "LGHT", field.SemLightSwitch
		}
		state, err := host.Fields.Register(field.Def{
			Name:   base.fieldName(prefix, "Sw"),
			Type:   field.TypeBool,
			Access: field.AccessReadWrite,
			Sem:    sem,
		})
		if err != nil {
			return nil, err
		}

		switch u.Class {
		case ClassSwitchBinary:
			codecs = append(codecs, &binSwitch{codecBase: base, state: state})
		case ClassSwitchMultilevel:
			level, err := host.Fields.Register(field.Def{
				Name:   base.fieldName("LGHT", "Dim"),
				Type:   field.TypeCard,
				Access: field.AccessReadWrite,
				Sem:    field.SemDimmer,
				Limits: "Range: 0, 100",
			})
			if err != nil {
				return nil, err
			}
			codecs = append(codecs, &mlSwitch{codecBase: base, state: state, level: level})
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownClass, u.Class)
		}
	}
	return codecs, nil
}
