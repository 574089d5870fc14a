package room

import "strconv"

// ConnectionState is the state of a room client.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateConnected
	StateClosed
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	case StateError:
		return "ERROR"
	default:
		return "ConnectionState(" + strconv.Itoa(int(s)) + ")"
	}
}
