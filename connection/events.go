package connection

// State of one logical connection. Transitions are driven exclusively by the
// transport's lifecycle; Disconnected is terminal, a Conn is never reused.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Migrating
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Migrating:
		return "migrating"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	EventStateChanged EventKind = iota
	EventPathShouldRefresh
	EventPong
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "stateChanged"
	case EventPathShouldRefresh:
		return "pathShouldRefresh"
	case EventPong:
		return "pong"
	default:
		return "unknown"
	}
}

// SocketEvent is emitted on every lifecycle transition and on pong receipt.
// State is only meaningful for EventStateChanged.
type SocketEvent struct {
	Kind  EventKind
	State State
}
