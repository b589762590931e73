package store

// Status is the observable connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Indicator returns the label shown by connection indicators.
func (s Status) Indicator() string {
	if s == StatusConnected {
		return "Online"
	}
	return "Offline"
}
