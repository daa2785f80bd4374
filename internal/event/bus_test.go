package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/hostbind/internal/logging"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus(nil)

	called := false
	id := bus.Subscribe(TypeObjectDestroyed, func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus(nil)

	var received Event
	bus.Subscribe(TypeObjectDestroyed, func(e Event) {
		received = e
	})

	bus.Publish(NewObjectDestroyedEvent(42, "Counter", "refcount"))

	if received == nil {
		t.Fatal("Handler should have received the event")
	}
	destroyed, ok := received.(ObjectDestroyedEvent)
	if !ok {
		t.Fatalf("received %T, want ObjectDestroyedEvent", received)
	}
	if destroyed.InstanceID != 42 || destroyed.Class != "Counter" || destroyed.Reason != "refcount" {
		t.Errorf("unexpected payload: %+v", destroyed)
	}
	if destroyed.Timestamp().IsZero() {
		t.Error("Timestamp() should be set")
	}
}

func TestBus_PublishNoMatchingHandlers(t *testing.T) {
	bus := NewBus(nil)

	bus.Subscribe(TypeObjectFreed, func(e Event) {
		t.Error("Handler should not be called for non-matching event type")
	})

	bus.Publish(NewObjectConstructedEvent(1, "Player"))
}

func TestBus_SubscribePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		events  []Event
		want    []string
	}{
		{
			name:    "category wildcard",
			pattern: "object.*",
			events: []Event{
				NewObjectConstructedEvent(1, "Counter"),
				NewBorrowWaitingEvent("Counter", "exclusive", 2),
				NewObjectDestroyedEvent(1, "Counter", "refcount"),
			},
			want: []string{TypeObjectConstructed, TypeObjectDestroyed},
		},
		{
			name:    "alternatives",
			pattern: "{storage.leaked,borrow.conflict}",
			events: []Event{
				NewStorageLeakedEvent(3, "Player", "destroyed while bound"),
				NewBorrowWaitingEvent("Player", "shared", 2),
				NewBorrowConflictEvent(3, "Player", "exclusive", 1, nil),
			},
			want: []string{TypeStorageLeaked, TypeBorrowConflict},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewBus(nil)
			var got []string
			if _, err := bus.SubscribePattern(tt.pattern, func(e Event) {
				got = append(got, e.EventType())
			}); err != nil {
				t.Fatalf("SubscribePattern() error = %v", err)
			}

			for _, e := range tt.events {
				bus.Publish(e)
			}

			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("received %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBus_SubscribePatternInvalid(t *testing.T) {
	bus := NewBus(nil)
	if _, err := bus.SubscribePattern("object.[", func(Event) {}); err == nil {
		t.Error("SubscribePattern() with malformed glob should fail")
	}
	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions, got %d", bus.SubscriptionCount())
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(nil)

	var events []string
	bus.SubscribeAll(func(e Event) {
		events = append(events, e.EventType())
	})

	bus.Publish(NewClassRegisteredEvent("Counter", "RefCounted", true))
	bus.Publish(NewObjectFreedEvent(7, "Player"))
	bus.Publish(NewBorrowConflictEvent(7, "Player", "shared", 1, nil))

	expected := []string{TypeClassRegistered, TypeObjectFreed, TypeBorrowConflict}
	if len(events) != len(expected) {
		t.Fatalf("Expected %d events, got %d", len(expected), len(events))
	}
	for i, e := range expected {
		if events[i] != e {
			t.Errorf("event %d = %q, want %q", i, events[i], e)
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := make(map[string]int)
	id1 := bus.Subscribe(TypeObjectFreed, func(e Event) { calls["exact1"]++ })
	bus.Subscribe(TypeObjectFreed, func(e Event) { calls["exact2"]++ })
	pid, _ := bus.SubscribePattern("object.*", func(e Event) { calls["pattern"]++ })

	if !bus.Unsubscribe(id1) {
		t.Error("Unsubscribe should return true for an exact subscription")
	}
	if !bus.Unsubscribe(pid) {
		t.Error("Unsubscribe should return true for a pattern subscription")
	}
	if bus.Unsubscribe("sub-999") {
		t.Error("Unsubscribe should return false for non-existent ID")
	}

	bus.Publish(NewObjectFreedEvent(1, "Player"))

	if calls["exact1"] != 0 || calls["pattern"] != 0 {
		t.Errorf("removed handlers were called: %v", calls)
	}
	if calls["exact2"] != 1 {
		t.Errorf("remaining handler called %d times, want 1", calls["exact2"])
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus(nil)

	bus.Subscribe("object.freed", func(e Event) {})
	bus.Subscribe("object.destroyed", func(e Event) {})
	bus.SubscribeAll(func(e Event) {})

	if bus.SubscriptionCount() != 3 {
		t.Errorf("Expected 3 subscriptions before clear, got %d", bus.SubscriptionCount())
	}

	bus.Clear()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions after clear, got %d", bus.SubscriptionCount())
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(logging.NewWriterLogger(&buf, logging.LevelError))

	calls := 0
	bus.Subscribe(TypeStorageLeaked, func(e Event) {
		calls++
		panic("handler panic")
	})
	bus.SubscribeAll(func(e Event) {
		calls++
	})

	bus.Publish(NewStorageLeakedEvent(9, "Player", "destroyed while bound"))

	if calls != 2 {
		t.Errorf("Expected both handlers to be called despite panic, got %d calls", calls)
	}
	if !strings.Contains(buf.String(), "event handler panicked") {
		t.Errorf("panic was not logged: %s", buf.String())
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	calls := 0
	bus.Subscribe(TypeBorrowWaiting, func(e Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Go(func() {
			bus.Publish(NewBorrowWaitingEvent("Counter", "shared", uint64(i)))
		})
	}
	wg.Wait()

	if calls != 100 {
		t.Errorf("Expected 100 calls, got %d", calls)
	}
}

func TestBus_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			id := bus.Subscribe(TypeObjectDestroyed, func(e Event) {})
			bus.Unsubscribe(id)
		})
	}
	wg.Wait()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions after concurrent add/remove, got %d", bus.SubscriptionCount())
	}
}

func TestBus_UniqueIDs(t *testing.T) {
	bus := NewBus(nil)

	ids := make(map[string]bool)
	for range 100 {
		id := bus.Subscribe(TypeObjectDestroyed, func(e Event) {})
		if ids[id] {
			t.Errorf("Duplicate subscription ID: %s", id)
		}
		ids[id] = true
	}
}

func TestBorrowConflictEvent_NilError(t *testing.T) {
	e := NewBorrowConflictEvent(1, "Counter", "exclusive", 1, nil)
	if e.Err != "" {
		t.Errorf("Err = %q, want empty", e.Err)
	}
}
