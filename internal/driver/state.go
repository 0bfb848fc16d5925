package driver

// State is a lifecycle state.
type State int

const (
	StateWaitingForConfig State = iota
	StateWaitingForCommResource
	StateConnecting
	StateConnected
	StateLostConnection
	StateTerminated
)

var stateNames = [...]string{
	StateWaitingForConfig:       "WaitingForConfig",
	StateWaitingForCommResource: "WaitingForCommResource",
	StateConnecting:             "Connecting",
	StateConnected:              "Connected",
	StateLostConnection:         "LostConnection",
	StateTerminated:             "Terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state name for JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
