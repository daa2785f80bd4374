package cell

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Iron-Ham/hostbind/internal/errors"
)

// Policy selects how a cell arbitrates conflicting borrows.
type Policy int

const (
	// PolicySingleThreaded fails every conflict immediately. The cell belongs
	// to the thread that created it; other threads are refused outright.
	PolicySingleThreaded Policy = iota
	// PolicyBlocking parks a thread whose request conflicts with borrows held
	// by other threads until they are released. Conflicts with the requesting
	// thread's own borrows still fail immediately.
	PolicyBlocking
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case PolicySingleThreaded:
		return "single_threaded"
	case PolicyBlocking:
		return "blocking"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration name into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single_threaded", "single-threaded", "single":
		return PolicySingleThreaded, nil
	case "blocking", "multi_threaded":
		return PolicyBlocking, nil
	default:
		return 0, errors.NewValidationError("unknown borrow policy").
			WithField("cell.policy").
			WithValue(s)
	}
}

// Access is the kind of borrow requested.
type Access int

const (
	AccessShared Access = iota
	AccessExclusive
)

func (a Access) String() string {
	if a == AccessExclusive {
		return "exclusive"
	}
	return "shared"
}

func (a Access) operation() string {
	if a == AccessExclusive {
		return "bind_mut"
	}
	return "bind"
}

// WaitHook is called when a thread starts waiting under the blocking policy.
// It runs without the cell lock held.
type WaitHook func(access Access, thread ThreadID)

// Option configures a Cell.
type Option func(*options)

type options struct {
	typeName string
	owner    ThreadID
	onWait   WaitHook
}

// WithTypeName sets the payload type name used in diagnostics.
func WithTypeName(name string) Option {
	return func(o *options) { o.typeName = name }
}

// WithOwner sets the owning thread of a single-threaded cell (default MainThread).
func WithOwner(t ThreadID) Option {
	return func(o *options) { o.owner = t }
}

// WithWaitHook installs a hook invoked when a blocking borrow starts waiting.
func WithWaitHook(h WaitHook) Option {
	return func(o *options) { o.onWait = h }
}

// Cell holds a value and hands out shared or exclusive guards to it.
type Cell[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	value T
	state BorrowState

	policy   Policy
	typeName string
	owner    ThreadID
	onWait   WaitHook

	// Blocking policy bookkeeping. mutHolder is meaningful while state.mut > 0.
	sharedBy  map[ThreadID]int
	mutHolder ThreadID
}

// New creates a cell holding value.
func New[T any](value T, policy Policy, opts ...Option) *Cell[T] {
	o := options{owner: MainThread}
	for _, opt := range opts {
		opt(&o)
	}
	if o.typeName == "" {
		o.typeName = fmt.Sprintf("%T", value)
	}

	c := &Cell[T]{
		value:    value,
		policy:   policy,
		typeName: o.typeName,
		owner:    o.owner,
		onWait:   o.onWait,
		sharedBy: make(map[ThreadID]int),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Policy returns the cell's policy.
func (c *Cell[T]) Policy() Policy { return c.policy }

// TypeName returns the payload type name used in diagnostics.
func (c *Cell[T]) TypeName() string { return c.typeName }

// Borrow acquires a shared guard for the thread carried by ctx.
func (c *Cell[T]) Borrow(ctx context.Context) (*RefGuard[T], error) {
	t := ThreadFrom(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkThreadLocked(AccessShared, t); err != nil {
		return nil, err
	}
	if c.policy == PolicyBlocking {
		c.waitLocked(AccessShared, t, func() bool {
			return c.state.mut > 0 && c.mutHolder != t
		})
	}

	if _, err := c.state.IncrementShared(); err != nil {
		return nil, c.borrowErrLocked(AccessShared, t, err)
	}
	c.sharedBy[t]++
	return &RefGuard[T]{cell: c, thread: t}, nil
}

// BorrowMut acquires an exclusive guard for the thread carried by ctx.
func (c *Cell[T]) BorrowMut(ctx context.Context) (*MutGuard[T], error) {
	t := ThreadFrom(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkThreadLocked(AccessExclusive, t); err != nil {
		return nil, err
	}
	if c.policy == PolicyBlocking {
		c.waitLocked(AccessExclusive, t, func() bool {
			return c.state.isBound() && !c.holdsLocked(t)
		})
	}

	if _, err := c.state.IncrementMut(); err != nil {
		return nil, c.borrowErrLocked(AccessExclusive, t, err)
	}
	c.mutHolder = t
	return &MutGuard[T]{cell: c, thread: t}, nil
}

// IsBound reports whether any guard is outstanding.
func (c *Cell[T]) IsBound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.isBound()
}

// IsMutablyBound reports whether an exclusive guard is outstanding, suspended or not.
func (c *Cell[T]) IsMutablyBound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.mut > 0
}

// IsBoundBy reports whether the thread carried by ctx holds a guard. Under the
// single-threaded policy every guard belongs to the owner, so any guard counts.
func (c *Cell[T]) IsBoundBy(ctx context.Context) bool {
	t := ThreadFrom(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holdsLocked(t) || (c.policy == PolicySingleThreaded && c.state.isBound())
}

// Dispose moves the value out of an unbound cell and leaves the zero value
// behind. It returns false, and keeps the value, while a guard is outstanding.
func (c *Cell[T]) Dispose() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if c.state.isBound() {
		return zero, false
	}
	v := c.value
	c.value = zero
	return v, true
}

// State returns a snapshot of the borrow counters.
func (c *Cell[T]) State() BorrowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AwaitUnbound returns once no guard is outstanding.
//
// Under the blocking policy it waits for guards held by other threads and
// gives up when ctx is done. A guard held by the calling thread can never be
// released while it waits, so that case fails with errors.ErrBoundByCaller
// under either policy.
func (c *Cell[T]) AwaitUnbound(ctx context.Context) error {
	t := ThreadFrom(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.holdsLocked(t) || (c.policy == PolicySingleThreaded && c.state.isBound()) {
		return errors.NewBorrowError("destroy", errors.ErrBoundByCaller).
			WithTypeName(c.typeName).
			WithHeld(c.heldLocked()).
			WithThread(uint64(t))
	}
	if !c.state.isBound() {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	for c.state.isBound() {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "waiting for %s guards to release", c.typeName)
		}
		c.cond.Wait()
	}
	return nil
}

// holdsLocked reports whether thread t owns any outstanding borrow.
func (c *Cell[T]) holdsLocked(t ThreadID) bool {
	return c.sharedBy[t] > 0 || (c.state.mut > 0 && c.mutHolder == t)
}

func (c *Cell[T]) heldLocked() string {
	switch {
	case c.state.HasAccessible():
		return "exclusive"
	case c.state.mut > 0:
		return "suspended"
	case c.state.shared > 0:
		return "shared"
	default:
		return ""
	}
}

func (c *Cell[T]) checkThreadLocked(access Access, t ThreadID) error {
	if c.policy != PolicySingleThreaded || t == c.owner {
		return nil
	}
	return errors.NewBorrowError(access.operation(), errors.ErrCrossThread).
		WithTypeName(c.typeName).
		WithThread(uint64(t)).
		WithMessage(fmt.Sprintf("%s() from thread %s on cell owned by thread %s", access.operation(), t, c.owner))
}

// waitLocked blocks while blocked() holds. The hook runs once, unlocked.
func (c *Cell[T]) waitLocked(access Access, t ThreadID, blocked func() bool) {
	if !blocked() {
		return
	}
	if c.onWait != nil {
		c.mu.Unlock()
		c.onWait(access, t)
		c.mu.Lock()
	}
	for blocked() {
		c.cond.Wait()
	}
}

func (c *Cell[T]) borrowErrLocked(access Access, t ThreadID, cause error) error {
	return errors.NewBorrowError(access.operation(), cause).
		WithTypeName(c.typeName).
		WithHeld(c.heldLocked()).
		WithThread(uint64(t)).
		WithMessage(fmt.Sprintf("%s() failed, already bound; T = %s", access.operation(), c.typeName))
}
