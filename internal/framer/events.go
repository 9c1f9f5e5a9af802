package framer

import "time"

// EventKind identifies the notification carried by an Event.
type EventKind int

const (
	// EventPacket carries a dispatched packet and its config.
	EventPacket EventKind = iota + 1
	// EventError carries a transport error.
	EventError
	// EventStatus reports a connection status change.
	EventStatus
	// EventDesync carries a byte dropped by the frame parser.
	EventDesync
)

func (k EventKind) String() string {
	switch k {
	case EventPacket:
		return "packet"
	case EventError:
		return "error"
	case EventStatus:
		return "status"
	case EventDesync:
		return "desync"
	default:
		return "unknown"
	}
}

// Event is a notification published by a Reader. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind EventKind
	Time time.Time

	Packet []byte
	Config PacketConfig

	Err error

	Connected bool

	Dropped byte
}
