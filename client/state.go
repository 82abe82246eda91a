package client

// State is the client's position in the coordination lifecycle.
type State int32

// Client states. Claim and Release move between Passive and Active;
// channel loss drops any state back to Disconnected.
const (
	StateDisconnected State = iota
	StateConnected
	StatePassive
	StateActive
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StatePassive:
		return "registered_passive"
	case StateActive:
		return "registered_active"
	default:
		return "unknown"
	}
}
