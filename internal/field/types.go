package field

import "fmt"

// Type is the semantic data type of a field.
type Type uint8

// Field data types.
const (
	TypeBool Type = iota + 1
	TypeCard
	TypeInt
	TypeFloat
	TypeString
	TypeStringList
	TypeTime
)

var typeNames = map[Type]string{
	TypeBool:       "Boolean",
	TypeCard:       "Card",
	TypeInt:        "Int",
	TypeFloat:      "Float",
	TypeString:     "String",
	TypeStringList: "StringList",
	TypeTime:       "Time",
}

// String returns the type name.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Access describes how the platform may use a field.
//
// ReadOrWrite fields accept writes and report the written value back.
// ReadAndWrite fields accept writes but report what the device confirmed,
// which may differ from what was written.
type Access uint8

// Field access modes.
const (
	AccessRead Access = iota + 1
	AccessWrite
	AccessReadOrWrite
	AccessReadAndWrite
)

// AccessReadWrite is the common alias for ReadOrWrite.
const AccessReadWrite = AccessReadOrWrite

// CanRead reports whether the platform may read the field.
func (a Access) CanRead() bool {
	return a == AccessRead || a == AccessReadOrWrite || a == AccessReadAndWrite
}

// CanWrite reports whether the platform may write the field.
func (a Access) CanWrite() bool {
	return a == AccessWrite || a == AccessReadOrWrite || a == AccessReadAndWrite
}

// Valid reports whether a is a known access mode.
func (a Access) Valid() bool {
	return a >= AccessRead && a <= AccessReadAndWrite
}

// String returns a short code for the access mode.
func (a Access) String() string {
	switch a {
	case AccessRead:
		return "R"
	case AccessWrite:
		return "W"
	case AccessReadOrWrite:
		return "RW"
	case AccessReadAndWrite:
		return "R&W"
	default:
		return "-"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Access) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// SemType tags a field with a semantic role so user interfaces can offer
// the right affordance. It has no effect on validation.
type SemType string

// Semantic field types.
const (
	SemGeneric      SemType = "Generic"
	SemBoolSwitch   SemType = "BoolSwitch"
	SemLightSwitch  SemType = "LightSwitch"
	SemDimmer       SemType = "Dimmer"
	SemMotionSensor SemType = "MotionSensor"
	SemIRReceiver   SemType = "IRReceiver"
)

// State is the validity state of a field.
type State uint8

// Field validity states.
const (
	StateUnknown State = iota
	StateGood
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateGood:
		return "Good"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Def describes a field at registration time.
type Def struct {
	Name   string
	Type   Type
	Access Access
	Sem    SemType

	// Limits is an optional limit string, e.g. "Range: 0, 100".
	Limits string
}

// ID is the handle of a registered field. The zero ID is the null handle
// and never addresses a field.
type ID struct {
	gen uint32
	idx uint32
}

// NoID is the null handle.
var NoID = ID{}

// Valid reports whether id was issued by a registry.
func (id ID) Valid() bool {
	return id.gen != 0
}

// String returns a printable form of the handle.
func (id ID) String() string {
	if !id.Valid() {
		return "<none>"
	}
	return fmt.Sprintf("%d.%d", id.gen, id.idx)
}
