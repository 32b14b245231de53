package connectivity

// State is the datastore connection state as reported by the driver.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// next reports the transition the driver is expected to make from s.
// Observed transitions outside this order are accepted but logged.
func (s State) next() State {
	switch s {
	case Disconnected:
		return Connecting
	case Connecting:
		return Connected
	case Connected:
		return Disconnecting
	default:
		return Disconnected
	}
}
