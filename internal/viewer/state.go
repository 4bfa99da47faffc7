package viewer

import "fmt"

// ConnectionState is the single authoritative connection status of a viewer.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectionState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "disconnected":
		*s = StateDisconnected
	case "connecting":
		*s = StateConnecting
	case "connected":
		*s = StateConnected
	case "error":
		*s = StateError
	default:
		return fmt.Errorf("unknown connection state %q", b)
	}
	return nil
}

// transitions lists the legal moves out of each state. Staying put is always legal.
//
//	disconnected -> connecting  Start, reconnect timer fired
//	disconnected -> error       session request failed
//	connecting   -> connected   socket open
//	connecting   -> disconnected dial failed, backoff scheduled
//	connecting   -> error       session request failed, attempts exhausted
//	connected    -> disconnected socket closed
//	connected    -> error       server error message, attempts exhausted
//	error        -> connecting  manual Start
//	error        -> disconnected socket closed after an error, Stop
var transitions = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting, StateError},
	StateConnecting:   {StateConnected, StateDisconnected, StateError},
	StateConnected:    {StateDisconnected, StateError},
	StateError:        {StateConnecting, StateDisconnected},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to ConnectionState) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ReconnectPhase is where the backoff controller is in its cycle.
type ReconnectPhase int

const (
	ReconnectIdle ReconnectPhase = iota
	ReconnectScheduled
	ReconnectConnecting
	ReconnectExhausted
)

func (p ReconnectPhase) String() string {
	switch p {
	case ReconnectScheduled:
		return "scheduled"
	case ReconnectConnecting:
		return "connecting"
	case ReconnectExhausted:
		return "exhausted"
	default:
		return "idle"
	}
}

func (p ReconnectPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *ReconnectPhase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*p = ReconnectIdle
	case "scheduled":
		*p = ReconnectScheduled
	case "connecting":
		*p = ReconnectConnecting
	case "exhausted":
		*p = ReconnectExhausted
	default:
		return fmt.Errorf("unknown reconnect phase %q", b)
	}
	return nil
}
