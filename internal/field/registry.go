package field

import (
	"fmt"
	"sync"
)

// Change describes the effect of storing a value.
type Change struct {
	ID   ID
	Name string
	Def  Def

	// Old is the previous good value. It is only meaningful when HadOld is set.
	Old    Value
	HadOld bool

	New Value

	// Changed is true when New differs from Old or the field had no value.
	Changed bool

	// Recovered is true when the field left Error or Unknown state.
	Recovered bool
}

// Observer is called for every applied change to a field value.
type Observer func(Change)

type entry struct {
	def   Def
	limit Limit
	value Value
	good  bool // value holds a previously accepted value
	state State
}

// Registry holds the fields of one driver instance.
type Registry struct {
	mu     sync.RWMutex
	gen    uint32
	fields []*entry
	byName map[string]uint32

	// notifyMu serialises observer calls so they run in apply order.
	notifyMu  sync.Mutex
	observers []Observer
}

// NewRegistry creates an empty registry in its first generation.
func NewRegistry() *Registry {
	return &Registry{
		gen:    1,
		byName: make(map[string]uint32),
	}
}

// Reset discards all fields and starts a new generation. IDs issued
// before the reset fail with ErrStaleID. Observers are kept.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.fields = nil
	r.byName = make(map[string]uint32)
}

// Generation returns the current generation number.
func (r *Registry) Generation() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// Len returns the number of registered fields.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fields)
}

// OnChange registers an observer for value changes. Observers must not
// write to the registry.
func (r *Registry) OnChange(fn Observer) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.observers = append(r.observers, fn)
}

// Register adds a field and returns its ID.
//
// Returns:
//   - ErrInvalidDef if the name is empty or the type or access is unknown
//   - ErrInvalidLimit if the limit string does not parse for the type
//   - ErrDuplicateName if the name is already registered in this generation
func (r *Registry) Register(def Def) (ID, error) {
	if def.Name == "" {
		return NoID, fmt.Errorf("%w: empty name", ErrInvalidDef)
	}
	if !def.Type.Valid() {
		return NoID, fmt.Errorf("%w: %s: unknown type", ErrInvalidDef, def.Name)
	}
	if !def.Access.Valid() {
		return NoID, fmt.Errorf("%w: %s: unknown access", ErrInvalidDef, def.Name)
	}
	if def.Sem == "" {
		def.Sem = SemGeneric
	}
	limit, err := ParseLimit(def.Type, def.Limits)
	if err != nil {
		return NoID, fmt.Errorf("%s: %w", def.Name, err)
	}
	def.Limits = limit.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[def.Name]; exists {
		return NoID, fmt.Errorf("%w: %s", ErrDuplicateName, def.Name)
	}
	idx := uint32(len(r.fields)) //nolint:gosec // bounded by registrations
	r.fields = append(r.fields, &entry{def: def, limit: limit})
	r.byName[def.Name] = idx
	return ID{gen: r.gen, idx: idx}, nil
}

// Lookup returns the ID of the named field.
func (r *Registry) Lookup(name string) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byName[name]
	if !ok {
		return NoID, false
	}
	return ID{gen: r.gen, idx: idx}, true
}

// Def returns the definition of a field.
func (r *Registry) Def(id ID) (Def, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.entryLocked(id)
	if err != nil {
		return Def{}, err
	}
	return e.def, nil
}

// Defs returns all definitions in registration order.
func (r *Registry) Defs() []Def {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Def, len(r.fields))
	for i, e := range r.fields {
		defs[i] = e.def
	}
	return defs
}

// Read returns the current value of a field.
//
// Returns ErrFieldInError if the field is in Error state and ErrNoValue if
// it has never held a value.
func (r *Registry) Read(id ID) (Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.entryLocked(id)
	if err != nil {
		return Value{}, err
	}
	switch e.state {
	case StateGood:
		return e.value, nil
	case StateError:
		return Value{}, fmt.Errorf("%w: %s", ErrFieldInError, e.def.Name)
	default:
		return Value{}, fmt.Errorf("%w: %s", ErrNoValue, e.def.Name)
	}
}

// Snapshot returns the last good value (if any) and the state of a field
// without failing on Error or Unknown.
func (r *Registry) Snapshot(id ID) (Value, State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.entryLocked(id)
	if err != nil {
		return Value{}, StateUnknown, err
	}
	return e.value, e.state, nil
}

// State returns the validity state of a field.
func (r *Registry) State(id ID) (State, error) {
	_, st, err := r.Snapshot(id)
	return st, err
}

// Validate checks a platform-originated write without applying it:
// the field must be writable and v must match its type and limits.
func (r *Registry) Validate(id ID, v Value) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.entryLocked(id)
	if err != nil {
		return err
	}
	if !e.def.Access.CanWrite() {
		return fmt.Errorf("%w: %s is %s", ErrAccessDenied, e.def.Name, e.def.Access)
	}
	return checkValue(e, v)
}

// Write applies a platform-originated write. Access, type and limits are
// checked. Drivers use Store.
func (r *Registry) Write(id ID, v Value) (Change, error) {
	return r.apply(id, v, true)
}

// Store applies a driver-originated value. Type and limits are checked;
// access is not, so drivers may update read-only fields.
func (r *Registry) Store(id ID, v Value) (Change, error) {
	return r.apply(id, v, false)
}

// SetError puts a field into Error state. The last good value is kept so
// the next Store can detect whether it actually changed.
func (r *Registry) SetError(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.entryLocked(id)
	if err != nil {
		return err
	}
	e.state = StateError
	return nil
}

// SetAllError puts every field into Error state. Drivers call it when the
// device connection is lost.
func (r *Registry) SetAllError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.fields {
		e.state = StateError
	}
}

func (r *Registry) apply(id ID, v Value, checkAccess bool) (Change, error) {
	r.mu.Lock()
	e, err := r.entryLocked(id)
	if err != nil {
		r.mu.Unlock()
		return Change{}, err
	}
	if checkAccess && !e.def.Access.CanWrite() {
		r.mu.Unlock()
		return Change{}, fmt.Errorf("%w: %s is %s", ErrAccessDenied, e.def.Name, e.def.Access)
	}
	if err := checkValue(e, v); err != nil {
		r.mu.Unlock()
		return Change{}, err
	}

	ch := Change{
		ID:        id,
		Name:      e.def.Name,
		Def:       e.def,
		Old:       e.value,
		HadOld:    e.good,
		New:       v,
		Changed:   !e.good || !e.value.Equal(v),
		Recovered: e.state != StateGood,
	}
	e.value = v
	e.good = true
	e.state = StateGood

	if !ch.Changed {
		r.mu.Unlock()
		return ch, nil
	}

	// Take notifyMu before releasing mu so observers see changes in apply order.
	r.notifyMu.Lock()
	r.mu.Unlock()
	defer r.notifyMu.Unlock()
	for _, fn := range r.observers {
		fn(ch)
	}
	return ch, nil
}

func (r *Registry) entryLocked(id ID) (*entry, error) {
	if !id.Valid() {
		return nil, ErrNotFound
	}
	if id.gen != r.gen {
		return nil, fmt.Errorf("%w: generation %d, current %d", ErrStaleID, id.gen, r.gen)
	}
	if int(id.idx) >= len(r.fields) {
		return nil, ErrNotFound
	}
	return r.fields[id.idx], nil
}

func checkValue(e *entry, v Value) error {
	if v.typ != e.def.Type {
		return fmt.Errorf("%w: %s is %s, got %s", ErrTypeMismatch, e.def.Name, e.def.Type, v.typ)
	}
	if err := e.limit.Check(v); err != nil {
		return fmt.Errorf("%s: %w", e.def.Name, err)
	}
	return nil
}
