package driver

import (
	"fmt"
	"time"
)

// Status is a point-in-time view of an instance.
type Status struct {
	Moniker    string    `json:"moniker"`
	Kind       string    `json:"kind"`
	State      State     `json:"state"`
	Since      time.Time `json:"since"`
	Port       string    `json:"port,omitempty"`
	Generation uint32    `json:"generation"`
	Fields     int       `json:"fields"`
	Polls      uint64    `json:"polls"`
	Reconnects uint64    `json:"reconnects"`
	Timeouts   uint64    `json:"timeouts"`
	LastError  string    `json:"last_error,omitempty"`
}

// String renders the status as the reply to the "status" command.
func (s Status) String() string {
	out := fmt.Sprintf("%s (%s): %s since %s, polls=%d reconnects=%d timeouts=%d fields=%d",
		s.Moniker, s.Kind, s.State, s.Since.UTC().Format(time.RFC3339),
		s.Polls, s.Reconnects, s.Timeouts, s.Fields)
	if s.LastError != "" {
		out += ", last error: " + s.LastError
	}
	return out
}
