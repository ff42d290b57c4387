package session

// ConnectionState is the lifecycle state of a session.
type ConnectionState uint8

const (
	// Disconnected means no link exists. It is the state before Open and after Close.
	Disconnected ConnectionState = iota
	// Connecting means the transport is dialing the controller.
	Connecting
	// Discovering means the GATT profile is being discovered.
	Discovering
	// Subscribing means notifications are being enabled.
	Subscribing
	// Ready means the link is up and commands are accepted.
	Ready
	// Reconnecting means the link dropped and a new attempt is scheduled.
	Reconnecting
	// Failed means reconnect attempts are exhausted. Only Reset leaves it.
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Discovering:
		return "discovering"
	case Subscribing:
		return "subscribing"
	case Ready:
		return "ready"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateListener observes connection state transitions.
type StateListener func(old, current ConnectionState)
