package domain

type ConnectionState int

const (
	StateUninitialized ConnectionState = iota
	StateConnected
	StateDegraded // connected but absorbing transient errors
	StateReconnecting
	StateStopped
)

func (s ConnectionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
