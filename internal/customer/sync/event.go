package sync

import (
	"time"

	"github.com/mschirtzinger/custcache/internal/customer/schema"
)

// EventType identifies what changed.
type EventType string

const (
	EventCreated     EventType = "created"
	EventUpdated     EventType = "updated"
	EventDeleted     EventType = "deleted"
	EventSynced      EventType = "synced"
	EventRoleCoerced EventType = "role_coerced"
)

// Event describes a change made by the Engine.
type Event struct {
	Type EventType
	Time time.Time

	// Customer is set for created, updated and role_coerced events.
	Customer *schema.Customer
	// ID is set for deleted events.
	ID string
	// RawRole is the remote value that was coerced (role_coerced only).
	RawRole string
	// Result is set for synced events.
	Result *Result
}

// Observer receives engine events. It is called synchronously after the
// change is committed and outside the engine's lock; it must not block.
type Observer func(Event)
