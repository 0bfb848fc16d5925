package trigger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what an event means.
type Kind string

const (
	// KindLoadChange is raised when a light-switch field flips on or off.
	KindLoadChange Kind = "LoadChange"

	// KindUserAction is raised for an operator input such as an IR key.
	KindUserAction Kind = "UserAction"
)

// Event is one trigger. Value is the new field value in text form.
type Event struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Moniker string    `json:"moniker"`
	Field   string    `json:"field,omitempty"`
	Value   string    `json:"value,omitempty"`
	Unit    string    `json:"unit,omitempty"`
	Time    time.Time `json:"time"`
}

// New builds an event with a fresh id and the current time.
func New(kind Kind, moniker, field, value, unit string) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Moniker: moniker,
		Field:   field,
		Value:   value,
		Unit:    unit,
		Time:    time.Now().UTC(),
	}
}

// Validate checks the fields every sink relies on.
func (e Event) Validate() error {
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.Moniker == "" {
		return fmt.Errorf("%w: missing moniker", ErrInvalidEvent)
	}
	return nil
}

// Emitter accepts events from a driver. Emit must not block on I/O.
type Emitter interface {
	Emit(ev Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f(ev).
func (f EmitterFunc) Emit(ev Event) { f(ev) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})
