package channel

// State is the connection state of a channel
type State int32

// Channel states. Terminated is final.
const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
