package cell

import (
	"fmt"

	"github.com/Iron-Ham/hostbind/internal/errors"
)

// RefGuard is a shared borrow of a cell's value. The value must not be
// modified through it. Release it exactly once, normally with defer.
type RefGuard[T any] struct {
	cell     *Cell[T]
	thread   ThreadID
	released bool
}

// Get returns a pointer to the borrowed value.
func (g *RefGuard[T]) Get() *T {
	if g.released {
		errors.Fatal(g.usedAfterRelease())
	}
	return &g.cell.value
}

// Thread returns the thread that holds the guard.
func (g *RefGuard[T]) Thread() ThreadID { return g.thread }

// Release ends the borrow and wakes waiting threads.
func (g *RefGuard[T]) Release() {
	c := g.cell
	c.mu.Lock()
	if g.released {
		c.mu.Unlock()
		errors.Fatal(g.usedAfterRelease())
	}
	g.released = true

	_, err := c.state.DecrementShared()
	if n := c.sharedBy[g.thread] - 1; n > 0 {
		c.sharedBy[g.thread] = n
	} else {
		delete(c.sharedBy, g.thread)
	}
	c.cond.Broadcast()
	c.mu.Unlock()

	if err != nil {
		errors.Fatal(errors.NewBorrowError("release", err).WithTypeName(c.typeName).WithThread(uint64(g.thread)))
	}
}

func (g *RefGuard[T]) usedAfterRelease() error {
	return fmt.Errorf("shared guard for %s: %w", g.cell.typeName, errors.ErrGuardReleased)
}

// MutGuard is an exclusive borrow of a cell's value.
type MutGuard[T any] struct {
	cell      *Cell[T]
	thread    ThreadID
	released  bool
	suspended bool
}

// Get returns a pointer to the borrowed value. Calling Get while the guard is
// suspended is fatal: a nested borrow may be using the value.
func (g *MutGuard[T]) Get() *T {
	if g.released {
		errors.Fatal(g.usedAfterRelease())
	}
	if g.suspended {
		errors.Fatal(fmt.Errorf("exclusive guard for %s: %w", g.cell.typeName, errors.ErrSuspended))
	}
	return &g.cell.value
}

// Thread returns the thread that holds the guard.
func (g *MutGuard[T]) Thread() ThreadID { return g.thread }

// Suspended reports whether the guard is currently made inaccessible.
func (g *MutGuard[T]) Suspended() bool { return g.suspended }

// Suspend makes the guard inaccessible until the returned InaccessibleGuard is
// released. While suspended, the holding thread may borrow the cell again,
// which is what lets an engine call made from inside an exclusive borrow
// re-enter the same object. Other threads stay excluded.
func (g *MutGuard[T]) Suspend() (*InaccessibleGuard[T], error) {
	c := g.cell
	c.mu.Lock()
	defer c.mu.Unlock()

	if g.released {
		return nil, g.usedAfterRelease()
	}
	if g.suspended {
		return nil, fmt.Errorf("exclusive guard for %s: %w", c.typeName, errors.ErrSuspended)
	}
	if _, err := c.state.SetInaccessible(); err != nil {
		return nil, errors.NewBorrowError("suspend", err).WithTypeName(c.typeName).WithThread(uint64(g.thread))
	}
	g.suspended = true
	return &InaccessibleGuard[T]{outer: g}, nil
}

// Release ends the borrow and wakes waiting threads. Releasing a suspended
// guard is fatal.
func (g *MutGuard[T]) Release() {
	c := g.cell
	c.mu.Lock()
	if g.released {
		c.mu.Unlock()
		errors.Fatal(g.usedAfterRelease())
	}
	if g.suspended {
		c.mu.Unlock()
		errors.Fatal(fmt.Errorf("release of exclusive guard for %s: %w", c.typeName, errors.ErrSuspended))
	}
	g.released = true

	_, err := c.state.DecrementMut()
	c.cond.Broadcast()
	c.mu.Unlock()

	if err != nil {
		errors.Fatal(errors.NewBorrowError("release", err).WithTypeName(c.typeName).WithThread(uint64(g.thread)))
	}
}

func (g *MutGuard[T]) usedAfterRelease() error {
	return fmt.Errorf("exclusive guard for %s: %w", g.cell.typeName, errors.ErrGuardReleased)
}

// InaccessibleGuard restores a suspended MutGuard when released. Every borrow
// taken while suspended must be released first.
type InaccessibleGuard[T any] struct {
	outer    *MutGuard[T]
	released bool
}

// Release makes the outer exclusive guard accessible again.
func (g *InaccessibleGuard[T]) Release() {
	c := g.outer.cell
	c.mu.Lock()
	if g.released {
		c.mu.Unlock()
		errors.Fatal(fmt.Errorf("inaccessible guard for %s: %w", c.typeName, errors.ErrGuardReleased))
	}

	_, err := c.state.UnsetInaccessible()
	if err == nil {
		g.released = true
		g.outer.suspended = false
		c.mutHolder = g.outer.thread
	}
	c.cond.Broadcast()
	c.mu.Unlock()

	if err != nil {
		errors.Fatal(errors.NewBorrowError("resume", err).
			WithTypeName(c.typeName).
			WithThread(uint64(g.outer.thread)).
			WithMessage("nested borrows still alive when resuming exclusive guard"))
	}
}
