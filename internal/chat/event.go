package chat

// EventKind enumerates the child events a feed subscription can raise.
type EventKind int

const (
	ChildAdded EventKind = iota
	ChildChanged
	ChildRemoved
	ChildMoved
	Cancelled
)

func (k EventKind) String() string {
	switch k {
	case ChildAdded:
		return "child_added"
	case ChildChanged:
		return "child_changed"
	case ChildRemoved:
		return "child_removed"
	case ChildMoved:
		return "child_moved"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Event is a single notification from a feed subscription. Err is only set
// for Cancelled events.
type Event struct {
	Kind    EventKind
	Message Message
	Err     error
}
