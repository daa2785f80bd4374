package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "object.destroyed", "borrow.conflict")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event type identifiers.
const (
	TypeClassRegistered   = "class.registered"
	TypeObjectConstructed = "object.constructed"
	TypeObjectDestroyed   = "object.destroyed"
	TypeObjectFreed       = "object.freed"
	TypeStorageLeaked     = "storage.leaked"
	TypeBorrowConflict    = "borrow.conflict"
	TypeBorrowWaiting     = "borrow.waiting"
)

// -----------------------------------------------------------------------------
// Class Events
// -----------------------------------------------------------------------------

// ClassRegisteredEvent is emitted when an extension class is registered with the host.
type ClassRegisteredEvent struct {
	baseEvent
	Class      string
	Base       string
	RefCounted bool
}

// NewClassRegisteredEvent creates a ClassRegisteredEvent.
func NewClassRegisteredEvent(class, base string, refCounted bool) ClassRegisteredEvent {
	return ClassRegisteredEvent{
		baseEvent:  newBaseEvent(TypeClassRegistered),
		Class:      class,
		Base:       base,
		RefCounted: refCounted,
	}
}

// -----------------------------------------------------------------------------
// Object Lifecycle Events
// -----------------------------------------------------------------------------

// ObjectConstructedEvent is emitted after a payload is attached to a new object
// and its storage is registered.
type ObjectConstructedEvent struct {
	baseEvent
	InstanceID uint64
	Class      string
}

// NewObjectConstructedEvent creates an ObjectConstructedEvent.
func NewObjectConstructedEvent(instanceID uint64, class string) ObjectConstructedEvent {
	return ObjectConstructedEvent{
		baseEvent:  newBaseEvent(TypeObjectConstructed),
		InstanceID: instanceID,
		Class:      class,
	}
}

// ObjectDestroyedEvent is emitted when the host reports an object's destruction
// and its storage has been unregistered.
type ObjectDestroyedEvent struct {
	baseEvent
	InstanceID uint64
	Class      string
	Reason     string // "refcount", "free" or "host"
}

// NewObjectDestroyedEvent creates an ObjectDestroyedEvent.
func NewObjectDestroyedEvent(instanceID uint64, class, reason string) ObjectDestroyedEvent {
	return ObjectDestroyedEvent{
		baseEvent:  newBaseEvent(TypeObjectDestroyed),
		InstanceID: instanceID,
		Class:      class,
		Reason:     reason,
	}
}

// ObjectFreedEvent is emitted when a manually managed object is freed
// through an explicit Free call.
type ObjectFreedEvent struct {
	baseEvent
	InstanceID uint64
	Class      string
}

// NewObjectFreedEvent creates an ObjectFreedEvent.
func NewObjectFreedEvent(instanceID uint64, class string) ObjectFreedEvent {
	return ObjectFreedEvent{
		baseEvent:  newBaseEvent(TypeObjectFreed),
		InstanceID: instanceID,
		Class:      class,
	}
}

// StorageLeakedEvent is emitted when a payload is deliberately leaked because
// its object was destroyed while a borrow guard was alive.
type StorageLeakedEvent struct {
	baseEvent
	InstanceID uint64
	Class      string
	Reason     string
}

// NewStorageLeakedEvent creates a StorageLeakedEvent.
func NewStorageLeakedEvent(instanceID uint64, class, reason string) StorageLeakedEvent {
	return StorageLeakedEvent{
		baseEvent:  newBaseEvent(TypeStorageLeaked),
		InstanceID: instanceID,
		Class:      class,
		Reason:     reason,
	}
}

// -----------------------------------------------------------------------------
// Borrow Events
// -----------------------------------------------------------------------------

// BorrowConflictEvent is emitted when a borrow request fails fast.
type BorrowConflictEvent struct {
	baseEvent
	InstanceID uint64
	Class      string
	Requested  string // "shared" or "exclusive"
	Thread     uint64
	Err        string
}

// NewBorrowConflictEvent creates a BorrowConflictEvent.
func NewBorrowConflictEvent(instanceID uint64, class, requested string, thread uint64, err error) BorrowConflictEvent {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return BorrowConflictEvent{
		baseEvent:  newBaseEvent(TypeBorrowConflict),
		InstanceID: instanceID,
		Class:      class,
		Requested:  requested,
		Thread:     thread,
		Err:        msg,
	}
}

// BorrowWaitingEvent is emitted when a thread blocks waiting for another
// thread's guard under the blocking policy.
type BorrowWaitingEvent struct {
	baseEvent
	Class     string
	Requested string
	Thread    uint64
}

// NewBorrowWaitingEvent creates a BorrowWaitingEvent.
func NewBorrowWaitingEvent(class, requested string, thread uint64) BorrowWaitingEvent {
	return BorrowWaitingEvent{
		baseEvent: newBaseEvent(TypeBorrowWaiting),
		Class:     class,
		Requested: requested,
		Thread:    thread,
	}
}
