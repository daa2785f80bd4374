package obj

import (
	"context"
	"sync/atomic"

	"github.com/Iron-Ham/hostbind/internal/cell"
	"github.com/Iron-Ham/hostbind/internal/engine"
	"github.com/Iron-Ham/hostbind/internal/errors"
	"github.com/Iron-Ham/hostbind/internal/event"
)

// Lifecycle is the state of a storage. There is no dead state: a storage
// that finished dying is unreachable.
type Lifecycle int32

const (
	Alive Lifecycle = iota
	Dying
)

func (l Lifecycle) String() string {
	if l == Dying {
		return "dying"
	}
	return "alive"
}

// Destroyer is implemented by payloads that need to run code when their
// object is destroyed. OnDestroy runs once, after every guard is released.
type Destroyer interface {
	OnDestroy()
}

// storage is the type-erased view of a Storage kept in the registry.
type storage interface {
	InstanceID() InstanceID
	Class() engine.ClassName
	Lifecycle() Lifecycle
	IsBound() bool
	RefCountMirror() int32

	markDying() bool
	markReady()
	boundByCaller(ctx context.Context) bool
	teardown(ctx context.Context) error
	adjustRef(inc bool) int32
}

// Storage binds a Go payload to one engine object. It is created when the
// object is constructed and torn down when the engine destroys it.
//
// The storage refers back to its object by instance ID only. Holding a strong
// handle here would keep a reference-counted object alive forever.
type Storage[T any] struct {
	rt         *Runtime
	id         InstanceID
	ptr        engine.ObjectPtr
	class      engine.ClassName
	refCounted bool

	cell  *cell.Cell[T]
	state atomic.Int32
	refs  atomic.Int32
	ready atomic.Bool
}

var _ storage = (*Storage[struct{}])(nil)

// InstanceID returns the ID of the owning object.
func (s *Storage[T]) InstanceID() InstanceID { return s.id }

// Class returns the owning object's class.
func (s *Storage[T]) Class() engine.ClassName { return s.class }

// Lifecycle returns the current lifecycle state.
func (s *Storage[T]) Lifecycle() Lifecycle { return Lifecycle(s.state.Load()) }

// IsBound reports whether any guard on the payload is outstanding.
func (s *Storage[T]) IsBound() bool { return s.cell.IsBound() }

// RefCountMirror returns the engine refcount as last reported through the
// reference callback. It is for diagnostics only; the engine's count is
// authoritative.
func (s *Storage[T]) RefCountMirror() int32 { return s.refs.Load() }

// BorrowState returns a snapshot of the payload's borrow counters.
func (s *Storage[T]) BorrowState() cell.BorrowState { return s.cell.State() }

func (s *Storage[T]) markDying() bool {
	return s.state.CompareAndSwap(int32(Alive), int32(Dying))
}

func (s *Storage[T]) markReady() { s.ready.Store(true) }

func (s *Storage[T]) boundByCaller(ctx context.Context) bool {
	return s.cell.IsBoundBy(ctx)
}

func (s *Storage[T]) adjustRef(inc bool) int32 {
	if inc {
		return s.refs.Add(1)
	}
	return s.refs.Add(-1)
}

// teardown waits for outstanding guards, then drops the payload. Guards taken
// after the storage started dying give up on their own, so the loop ends.
func (s *Storage[T]) teardown(ctx context.Context) error {
	for {
		if err := s.cell.AwaitUnbound(ctx); err != nil {
			return err
		}
		if v, ok := s.cell.Dispose(); ok {
			onDestroy(v)
			return nil
		}
	}
}

func onDestroy[T any](v T) {
	if d, ok := any(v).(Destroyer); ok {
		d.OnDestroy()
		return
	}
	if d, ok := any(&v).(Destroyer); ok {
		d.OnDestroy()
	}
}

func (s *Storage[T]) bind(ctx context.Context) (*SharedGuard[T], error) {
	g, err := s.cell.Borrow(ctx)
	if err != nil {
		return nil, s.borrowFailed(ctx, cell.AccessShared, err)
	}
	if s.Lifecycle() == Dying {
		g.Release()
		return nil, s.destroyedErr("bind")
	}
	return &SharedGuard[T]{guard: g, st: s}, nil
}

func (s *Storage[T]) bindMut(ctx context.Context) (*ExclusiveGuard[T], error) {
	g, err := s.cell.BorrowMut(ctx)
	if err != nil {
		return nil, s.borrowFailed(ctx, cell.AccessExclusive, err)
	}
	if s.Lifecycle() == Dying {
		g.Release()
		return nil, s.destroyedErr("bind_mut")
	}
	return &ExclusiveGuard[T]{guard: g, st: s}, nil
}

func (s *Storage[T]) borrowFailed(ctx context.Context, access cell.Access, err error) error {
	thread := cell.ThreadFrom(ctx)
	s.rt.logger.WithClass(string(s.class)).WithThread(uint64(thread)).
		Warn("borrow refused", "instance_id", s.id.String(), "access", access.String(), "error", err.Error())
	s.rt.publish(event.NewBorrowConflictEvent(s.id.Native(), string(s.class), access.String(), uint64(thread), err))
	return err
}

func (s *Storage[T]) destroyedErr(op string) error {
	return errors.NewObjectError(op, errors.ErrDestroyedObject).
		WithInstanceID(s.id.String()).
		WithClass(string(s.class))
}

// callBase calls a method on the owning object through the engine.
func (s *Storage[T]) callBase(ctx context.Context, method string, args ...any) (any, error) {
	if !s.rt.host.IsInstanceIDValid(s.id.Native()) {
		return nil, s.destroyedErr("call " + method)
	}
	return s.rt.host.Call(ctx, s.ptr, method, args...)
}
