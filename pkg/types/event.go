package types

import "fmt"

// EventKind is the kind of a file system mutation
type EventKind int

const (
	EventCreated EventKind = iota + 1
	EventContentChanged
	EventDeleted
	EventMoved
)

// String returns the name of the event kind
func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventContentChanged:
		return "content_changed"
	case EventDeleted:
		return "deleted"
	case EventMoved:
		return "moved"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a file system mutation delivered by the host. Paths may be
// absolute or relative to the project root; the engine normalises them.
type Event struct {
	Kind    EventKind
	Path    string // Target path; the new path for EventMoved
	OldPath string // Source path, EventMoved only
}

// Validate checks that the event carries the paths its kind requires
func (e Event) Validate() error {
	switch e.Kind {
	case EventCreated, EventContentChanged, EventDeleted:
		if e.Path == "" {
			return ErrEventPathRequired
		}
	case EventMoved:
		if e.Path == "" || e.OldPath == "" {
			return ErrEventPathRequired
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownEventKind, int(e.Kind))
	}
	return nil
}

// String renders the event for logs
func (e Event) String() string {
	if e.Kind == EventMoved {
		return fmt.Sprintf("%s(%s -> %s)", e.Kind, e.OldPath, e.Path)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.Path)
}
