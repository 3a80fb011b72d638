package models

type EventKind string

const (
	ItemsUpdatedEvent    EventKind = "items_updated"
	SolutionUpdatedEvent EventKind = "solution_updated"
	ItemDeletedEvent     EventKind = "item_deleted"
)

// Event is pushed to dashboard subscribers. items_updated carries Updated,
// the other kinds carry Key.
type Event struct {
	Kind    EventKind
	Key     string
	Updated []string
}

// Payload returns the wire body for the event.
func (e Event) Payload() map[string]any {
	if e.Kind == ItemsUpdatedEvent {
		updated := e.Updated
		if updated == nil {
			updated = []string{}
		}
		return map[string]any{"updated": updated}
	}
	return map[string]any{"key": e.Key}
}
