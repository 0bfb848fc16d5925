package field

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Value is a typed field value. The zero Value has no type and is never
// accepted by a registry.
type Value struct {
	typ  Type
	b    bool
	u    uint32
	i    int32
	f    float64
	s    string
	list []string
	t    time.Time
}

// Bool returns a Boolean value.
func Bool(v bool) Value { return Value{typ: TypeBool, b: v} }

// Card returns a Card (unsigned) value.
func Card(v uint32) Value { return Value{typ: TypeCard, u: v} }

// Int returns an Int value.
func Int(v int32) Value { return Value{typ: TypeInt, i: v} }

// Float returns a Float value.
func Float(v float64) Value { return Value{typ: TypeFloat, f: v} }

// String returns a String value.
func String(v string) Value { return Value{typ: TypeString, s: v} }

// StringList returns a StringList value. The slice is copied.
func StringList(v []string) Value { return Value{typ: TypeStringList, list: slices.Clone(v)} }

// Time returns a Time value.
func Time(v time.Time) Value { return Value{typ: TypeTime, t: v} }

// Type returns the value's type.
func (v Value) Type() Type { return v.typ }

// IsZero reports whether v is the untyped zero Value.
func (v Value) IsZero() bool { return v.typ == 0 }

// AsBool returns the Boolean payload. It is false for other types.
func (v Value) AsBool() bool { return v.b }

// AsCard returns the Card payload. It is zero for other types.
func (v Value) AsCard() uint32 { return v.u }

// AsInt returns the Int payload. It is zero for other types.
func (v Value) AsInt() int32 { return v.i }

// AsFloat returns the Float payload. It is zero for other types.
func (v Value) AsFloat() float64 { return v.f }

// AsString returns the String payload. It is empty for other types.
func (v Value) AsString() string { return v.s }

// AsStringList returns a copy of the StringList payload.
func (v Value) AsStringList() []string { return slices.Clone(v.list) }

// AsTime returns the Time payload. It is the zero time for other types.
func (v Value) AsTime() time.Time { return v.t }

// Equal reports whether v and o have the same type and payload.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeBool:
		return v.b == o.b
	case TypeCard:
		return v.u == o.u
	case TypeInt:
		return v.i == o.i
	case TypeFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case TypeString:
		return v.s == o.s
	case TypeStringList:
		return slices.Equal(v.list, o.list)
	case TypeTime:
		return v.t.Equal(o.t)
	default:
		return true
	}
}

// Format renders v as text. ParseValue accepts the result.
func (v Value) Format() string {
	switch v.typ {
	case TypeBool:
		if v.b {
			return "True"
		}
		return "False"
	case TypeCard:
		return strconv.FormatUint(uint64(v.u), 10)
	case TypeInt:
		return strconv.FormatInt(int64(v.i), 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeString:
		return v.s
	case TypeStringList:
		quoted := make([]string, len(v.list))
		for i, s := range v.list {
			quoted[i] = strconv.Quote(s)
		}
		return strings.Join(quoted, ", ")
	case TypeTime:
		return v.t.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if v.typ == 0 {
		return "<none>"
	}
	return v.typ.String() + "(" + v.Format() + ")"
}

// ParseValue parses text as a value of type t.
//
// Booleans accept true/false, on/off, yes/no and 1/0 in any case. Card and
// Int are decimal unless prefixed with 0x. String lists are comma
// separated; elements may be double quoted.
func ParseValue(t Type, text string) (Value, error) {
	trimmed := strings.TrimSpace(text)
	switch t {
	case TypeBool:
		switch strings.ToLower(trimmed) {
		case "true", "on", "yes", "1":
			return Bool(true), nil
		case "false", "off", "no", "0":
			return Bool(false), nil
		}
	case TypeCard:
		digits, base := intBase(trimmed)
		n, err := strconv.ParseUint(digits, base, 32)
		if err == nil {
			return Card(uint32(n)), nil
		}
	case TypeInt:
		digits, base := intBase(trimmed)
		n, err := strconv.ParseInt(digits, base, 32)
		if err == nil {
			return Int(int32(n)), nil
		}
	case TypeFloat:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err == nil {
			return Float(f), nil
		}
	case TypeString:
		return String(text), nil
	case TypeStringList:
		list, err := parseList(trimmed)
		if err == nil {
			return StringList(list), nil
		}
	case TypeTime:
		ts, err := time.Parse(time.RFC3339Nano, trimmed)
		if err == nil {
			return Time(ts), nil
		}
	default:
		return Value{}, fmt.Errorf("%w: unknown type %s", ErrInvalidValue, t)
	}
	return Value{}, fmt.Errorf("%w: %q is not a valid %s", ErrInvalidValue, text, t)
}

// intBase strips a 0x prefix. A leading zero is still decimal.
func intBase(text string) (string, int) {
	sign := ""
	if strings.HasPrefix(text, "-") {
		sign, text = "-", text[1:]
	}
	if rest, ok := strings.CutPrefix(strings.ToLower(text), "0x"); ok && rest != "" {
		return sign + rest, 16
	}
	return sign + text, 10
}

func parseList(text string) ([]string, error) {
	out := []string{}
	rest := text
	for rest != "" {
		rest = strings.TrimLeft(rest, " \t")
		var elem string
		if strings.HasPrefix(rest, `"`) {
			quoted, err := strconv.QuotedPrefix(rest)
			if err != nil {
				return nil, err
			}
			elem, _ = strconv.Unquote(quoted)
			rest = strings.TrimLeft(rest[len(quoted):], " \t")
			if rest != "" && rest[0] != ',' {
				return nil, ErrInvalidValue
			}
		} else {
			end := strings.IndexByte(rest, ',')
			if end < 0 {
				end = len(rest)
			}
			elem = strings.TrimSpace(rest[:end])
			rest = rest[end:]
		}
		out = append(out, elem)
		if rest != "" {
			rest = rest[1:]
			if strings.TrimSpace(rest) == "" {
				return nil, ErrInvalidValue
			}
		}
	}
	return out, nil
}
