package client

// DeliveryStatus tracks a message from optimistic insert to its outcome.
type DeliveryStatus int

const (
	// StatusNone marks messages that were never sent from this session,
	// such as history loaded from the server.
	StatusNone DeliveryStatus = iota
	StatusPending
	StatusDelivered
	StatusFailed
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusPending:
		return "pending"
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DeliveryEvent is what the transport observed about a send.
type DeliveryEvent int

const (
	EventConfirmed DeliveryEvent = iota
	EventFailed
)

// Transition returns the status after ev. Only pending messages move;
// delivered and failed are terminal and a failed message is never retried.
func Transition(from DeliveryStatus, ev DeliveryEvent) DeliveryStatus {
	switch from {
	case StatusPending:
		switch ev {
		case EventConfirmed:
			return StatusDelivered
		case EventFailed:
			return StatusFailed
		}
		return from
	case StatusNone, StatusDelivered, StatusFailed:
		return from
	}
	return from
}
