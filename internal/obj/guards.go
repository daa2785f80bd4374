package obj

import (
	"context"

	"github.com/Iron-Ham/hostbind/internal/cell"
	"github.com/Iron-Ham/hostbind/internal/errors"
)

// SharedGuard is a shared borrow of a payload, returned by Handle.Bind.
type SharedGuard[T any] struct {
	guard *cell.RefGuard[T]
	st    *Storage[T]
}

// Get returns the payload. It must not be modified through a shared guard.
func (g *SharedGuard[T]) Get() *T { return g.guard.Get() }

// InstanceID returns the ID of the object the payload belongs to.
func (g *SharedGuard[T]) InstanceID() InstanceID { return g.st.id }

// Release ends the borrow.
func (g *SharedGuard[T]) Release() { g.guard.Release() }

// ExclusiveGuard is an exclusive borrow of a payload, returned by
// Handle.BindMut.
type ExclusiveGuard[T any] struct {
	guard *cell.MutGuard[T]
	st    *Storage[T]
}

// Get returns the payload. Calling it while the guard is suspended is fatal.
func (g *ExclusiveGuard[T]) Get() *T { return g.guard.Get() }

// InstanceID returns the ID of the object the payload belongs to.
func (g *ExclusiveGuard[T]) InstanceID() InstanceID { return g.st.id }

// Release ends the borrow.
func (g *ExclusiveGuard[T]) Release() { g.guard.Release() }

// Suspend makes the guard inaccessible so the same thread can bind the
// payload again, typically from a call the engine makes back into this
// object. Release the returned guard to resume.
func (g *ExclusiveGuard[T]) Suspend() *InaccessibleGuard[T] {
	ig, err := g.guard.Suspend()
	if err != nil {
		errors.Fatal(err)
	}
	return &InaccessibleGuard[T]{guard: ig}
}

// CallBase calls method on the owning object through the engine with the
// guard suspended for the duration of the call, so the engine may re-enter
// this object.
func (g *ExclusiveGuard[T]) CallBase(ctx context.Context, method string, args ...any) (any, error) {
	ig := g.Suspend()
	defer ig.Release()
	return g.st.callBase(ctx, method, args...)
}

// InaccessibleGuard keeps an ExclusiveGuard suspended until released.
type InaccessibleGuard[T any] struct {
	guard *cell.InaccessibleGuard[T]
}

// Release resumes the suspended exclusive guard. Every borrow taken in the
// meantime must already be released.
func (g *InaccessibleGuard[T]) Release() { g.guard.Release() }
