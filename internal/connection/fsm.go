package connection

// State is the lifecycle state of the session transport.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "invalid"
	}
}

// lifecycleEvent is an input to the lifecycle state machine.
type lifecycleEvent int

const (
	eventConnect        lifecycleEvent = iota // fresh dial to the primary URL
	eventReconnectURL                         // dial to a server-supplied reconnect URL
	eventDialSucceeded                        // transport opened
	eventDialFailed                           // transport could not be opened
	eventTransportClose                       // open transport closed (remote, error or forced)
	eventDisconnect                           // operator shutdown
)

func (e lifecycleEvent) String() string {
	switch e {
	case eventConnect:
		return "connect"
	case eventReconnectURL:
		return "reconnect_url"
	case eventDialSucceeded:
		return "dial_succeeded"
	case eventDialFailed:
		return "dial_failed"
	case eventTransportClose:
		return "transport_close"
	case eventDisconnect:
		return "disconnect"
	default:
		return "invalid"
	}
}

// transition is the single lifecycle transition function. It returns the
// next state and whether the event is legal in the current state. Illegal
// events leave the state untouched and must not run their side effects.
func transition(s State, e lifecycleEvent) (State, bool) {
	switch e {
	case eventConnect:
		// No-op while a dial is in flight or a transport is open.
		if s == StateConnecting || s == StateConnected {
			return s, false
		}
		return StateConnecting, true

	case eventReconnectURL:
		if s != StateDisconnected {
			return s, false
		}
		return StateReconnecting, true

	case eventDialSucceeded:
		if s != StateConnecting && s != StateReconnecting {
			return s, false
		}
		return StateConnected, true

	case eventDialFailed:
		if s != StateConnecting && s != StateReconnecting {
			return s, false
		}
		return StateDisconnected, true

	case eventTransportClose:
		if s != StateConnected {
			return s, false
		}
		return StateDisconnected, true

	case eventDisconnect:
		return StateDisconnected, true
	}

	return s, false
}
