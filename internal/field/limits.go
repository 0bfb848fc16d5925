package field

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Limit constrains the values a field accepts beyond its type.
type Limit interface {
	// Check returns an error wrapping ErrRange if v violates the limit.
	Check(v Value) error

	// String returns the limit in its textual form.
	String() string
}

// ParseLimit parses a limit string for a field of type t.
//
// Supported forms:
//
//	""                   no limit
//	"Range: min, max"    inclusive numeric range (Card, Int, Float)
//	"Enum: a, b, c"      allowed strings (String)
//	"MaxLen: n"          maximum length in characters (String)
func ParseLimit(t Type, def string) (Limit, error) {
	def = strings.TrimSpace(def)
	if def == "" {
		return noLimit{}, nil
	}

	kind, args, ok := strings.Cut(def, ":")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLimit, def)
	}
	args = strings.TrimSpace(args)

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "range":
		return parseRange(t, args)
	case "enum":
		if t != TypeString {
			return nil, fmt.Errorf("%w: enum requires String, got %s", ErrInvalidLimit, t)
		}
		vals, err := parseList(args)
		if err != nil || len(vals) == 0 {
			return nil, fmt.Errorf("%w: bad enum list %q", ErrInvalidLimit, args)
		}
		return enumLimit{values: vals}, nil
	case "maxlen":
		if t != TypeString {
			return nil, fmt.Errorf("%w: maxlen requires String, got %s", ErrInvalidLimit, t)
		}
		n, err := strconv.Atoi(args)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad maxlen %q", ErrInvalidLimit, args)
		}
		return maxLenLimit{n: n}, nil
	default:
		return nil, fmt.Errorf("%w: unknown limit kind %q", ErrInvalidLimit, kind)
	}
}

func parseRange(t Type, args string) (Limit, error) {
	lo, hi, ok := strings.Cut(args, ",")
	if !ok {
		return nil, fmt.Errorf("%w: range needs two bounds", ErrInvalidLimit)
	}
	switch t {
	case TypeCard, TypeInt, TypeFloat:
	default:
		return nil, fmt.Errorf("%w: range requires a numeric type, got %s", ErrInvalidLimit, t)
	}

	minV, err := ParseValue(t, lo)
	if err != nil {
		return nil, fmt.Errorf("%w: bad range minimum %q", ErrInvalidLimit, lo)
	}
	maxV, err := ParseValue(t, hi)
	if err != nil {
		return nil, fmt.Errorf("%w: bad range maximum %q", ErrInvalidLimit, hi)
	}
	r := rangeLimit{lo: minV, hi: maxV, min: numeric(minV), max: numeric(maxV)}
	if math.IsNaN(r.min) || math.IsNaN(r.max) {
		return nil, fmt.Errorf("%w: NaN range bound", ErrInvalidLimit)
	}
	if r.min > r.max {
		return nil, fmt.Errorf("%w: range minimum above maximum", ErrInvalidLimit)
	}
	return r, nil
}

// numeric widens a numeric value to float64. Card and Int values are
// exactly representable.
func numeric(v Value) float64 {
	switch v.typ {
	case TypeCard:
		return float64(v.u)
	case TypeInt:
		return float64(v.i)
	default:
		return v.f
	}
}

type noLimit struct{}

func (noLimit) Check(Value) error { return nil }
func (noLimit) String() string    { return "" }

// rangeLimit keeps the parsed bounds so String round-trips through
// ParseLimit.
type rangeLimit struct {
	lo, hi   Value
	min, max float64
}

func (r rangeLimit) Check(v Value) error {
	n := numeric(v)
	if math.IsNaN(n) || n < r.min || n > r.max {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrRange, v.Format(), r.lo.Format(), r.hi.Format())
	}
	return nil
}

func (r rangeLimit) String() string {
	return "Range: " + r.lo.Format() + ", " + r.hi.Format()
}

type enumLimit struct {
	values []string
}

func (e enumLimit) Check(v Value) error {
	if !slices.Contains(e.values, v.s) {
		return fmt.Errorf("%w: %q not one of %s", ErrRange, v.s, strings.Join(e.values, ", "))
	}
	return nil
}

func (e enumLimit) String() string {
	return "Enum: " + strings.Join(e.values, ", ")
}

type maxLenLimit struct {
	n int
}

func (m maxLenLimit) Check(v Value) error {
	if utf8.RuneCountInString(v.s) > m.n {
		return fmt.Errorf("%w: longer than %d characters", ErrRange, m.n)
	}
	return nil
}

func (m maxLenLimit) String() string {
	return fmt.Sprintf("MaxLen: %d", m.n)
}
