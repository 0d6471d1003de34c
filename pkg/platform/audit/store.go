package audit

import "context"

// Store persists audit events. Events are append-only.
type Store interface {
	Append(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}
