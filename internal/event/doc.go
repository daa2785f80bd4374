// Package event provides a pub-sub event bus for observing the hostbind runtime.
//
// The runtime publishes lifecycle and borrow events without knowing who listens.
// The CLI subscribes to render summaries, tests subscribe to assert on
// destruction and leak behavior, and the stress harness counts waits.
//
// # Main Types
//
//   - [Event]: interface providing EventType() and Timestamp()
//   - [Bus]: synchronous dispatcher, safe for concurrent use
//   - [Handler]: func(Event)
//
// # Event Types
//
//   - class.registered: [ClassRegisteredEvent]
//   - object.constructed: [ObjectConstructedEvent]
//   - object.destroyed: [ObjectDestroyedEvent]
//   - object.freed: [ObjectFreedEvent]
//   - storage.leaked: [StorageLeakedEvent]
//   - borrow.conflict: [BorrowConflictEvent]
//   - borrow.waiting: [BorrowWaitingEvent]
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//
//	bus.Subscribe(event.TypeObjectDestroyed, func(e event.Event) {
//	    d := e.(event.ObjectDestroyedEvent)
//	    fmt.Println("destroyed", d.Class, d.InstanceID)
//	})
//
//	// Glob patterns use '.' as separator.
//	id, err := bus.SubscribePattern("borrow.*", handler)
//	...
//	bus.Unsubscribe(id)
//
// Handlers are called synchronously on the publishing goroutine. A panicking
// handler is logged and does not prevent delivery to the remaining handlers.
package event
