package obj

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/Iron-Ham/hostbind/internal/engine"
	"github.com/Iron-Ham/hostbind/internal/errors"
	"github.com/Iron-Ham/hostbind/internal/event"
)

// Strength says how a handle takes part in its object's lifetime.
type Strength int

const (
	// Strong handles hold one engine reference to a reference-counted object.
	Strong Strength = iota
	// Manual handles refer to manually managed objects and never touch a
	// refcount. The object lives until freed.
	Manual
	// Weak handles never touch a refcount and do not keep anything alive.
	Weak
)

func (s Strength) String() string {
	switch s {
	case Strong:
		return "strong"
	case Manual:
		return "manual"
	case Weak:
		return "weak"
	default:
		return "unknown"
	}
}

// Handle is a typed reference to an engine object. T is either a class
// marker such as Node or a payload type registered with RegisterClass.
//
// Many handles may refer to the same object. Only access to the payload is
// arbitrated, through Bind and BindMut. A handle itself must not be shared
// between goroutines; Clone it instead.
type Handle[T any] struct {
	rt       *Runtime
	ptr      engine.ObjectPtr
	rtti     RTTI
	strength Strength
	released atomic.Bool
}

func newHandle[T any](rt *Runtime, ptr engine.ObjectPtr, rtti RTTI, strength Strength) *Handle[T] {
	return &Handle[T]{rt: rt, ptr: ptr, rtti: rtti, strength: strength}
}

// strengthFor picks the owning strength for an object of the given kind.
func strengthFor(id InstanceID) Strength {
	if id.IsRefCounted() {
		return Strong
	}
	return Manual
}

// FromInstanceID returns a handle to a live object. A dead ID or a class that
// is not T is fatal.
func FromInstanceID[T any](rt *Runtime, id InstanceID) *Handle[T] {
	h, err := TryFromInstanceID[T](rt, id)
	if err != nil {
		errors.Fatal(err)
	}
	return h
}

// TryFromInstanceID returns a handle to a live object of class T.
func TryFromInstanceID[T any](rt *Runtime, id InstanceID) (*Handle[T], error) {
	target := mustClassNameOf[T](rt)
	ptr := rt.host.ObjectFromID(id.Native())
	if ptr.IsNull() {
		return nil, errors.NewObjectError("from_instance_id", errors.ErrDestroyedObject).
			WithInstanceID(id.String()).
			WithClass(string(target))
	}

	rtti := RTTI{ID: id, Class: rt.host.ClassOf(ptr)}
	if !rtti.Is(rt.host, target) {
		return nil, errors.NewCastError(string(rtti.Class), string(target)).WithInstanceID(id.String())
	}

	strength := strengthFor(id)
	if strength == Strong {
		rt.host.Reference(ptr)
	}
	return newHandle[T](rt, ptr, rtti, strength), nil
}

// Strength returns how the handle takes part in the object's lifetime.
func (h *Handle[T]) Strength() Strength { return h.strength }

// RTTI returns the cached dynamic type record.
func (h *Handle[T]) RTTI() RTTI { return h.rtti }

// InstanceIDUnchecked returns the cached instance ID without checking that
// the object is still alive.
func (h *Handle[T]) InstanceIDUnchecked() InstanceID { return h.rtti.ID }

// InstanceID returns the object's instance ID. It is fatal if the object has
// been destroyed.
func (h *Handle[T]) InstanceID() InstanceID {
	h.checkAlive("instance_id")
	return h.rtti.ID
}

// InstanceIDOrNone returns the instance ID, or false if the handle was
// released or the object has been destroyed. It never panics.
func (h *Handle[T]) InstanceIDOrNone() (InstanceID, bool) {
	if h.released.Load() || !h.alive() {
		return 0, false
	}
	return h.rtti.ID, true
}

// IsInstanceValid reports whether the object still exists. Another thread may
// destroy it right after this returns, so the result is informational only.
func (h *Handle[T]) IsInstanceValid() bool {
	return !h.released.Load() && h.alive()
}

func (h *Handle[T]) alive() bool {
	return h.rt.host.ObjectFromID(h.rtti.ID.Native()) == h.ptr
}

// checkAlive is fatal if the handle was released or its object destroyed.
func (h *Handle[T]) checkAlive(op string) {
	if h.released.Load() {
		errors.Fatal(errors.NewObjectError(op, errors.ErrHandleReleased).
			WithInstanceID(h.rtti.ID.String()).
			WithClass(string(h.rtti.Class)))
	}
	if !h.alive() {
		errors.Fatal(errors.NewObjectError(op, errors.ErrDestroyedObject).
			WithInstanceID(h.rtti.ID.String()).
			WithClass(string(h.rtti.Class)))
	}
}

// Clone returns another handle to the same object. Cloning a strong handle
// adds an engine reference.
func (h *Handle[T]) Clone() *Handle[T] {
	h.checkAlive("clone")
	if h.strength == Strong {
		h.rt.host.Reference(h.ptr)
	}
	return newHandle[T](h.rt, h.ptr, h.rtti, h.strength)
}

// Weak returns a non-owning alias of h. It does not keep the object alive and
// dropping it leaves the refcount alone.
func (h *Handle[T]) Weak() *Handle[T] {
	h.checkAlive("weak")
	return newHandle[T](h.rt, h.ptr, h.rtti, Weak)
}

// Drop releases the handle. Dropping the last strong handle destroys the
// object on the engine thread carried by ctx, so a guard the caller still
// holds is detected as its own. Dropping a handle twice is fatal.
func (h *Handle[T]) Drop(ctx context.Context) {
	if !h.released.CompareAndSwap(false, true) {
		errors.Fatal(errors.NewObjectError("drop", errors.ErrHandleReleased).
			WithInstanceID(h.rtti.ID.String()).
			WithClass(string(h.rtti.Class)))
	}
	if h.strength != Strong {
		return
	}
	if !h.rt.host.Unreference(h.ptr) {
		return
	}
	h.rt.lifecycleLog(h.rtti.Class, "last reference dropped", "instance_id", h.rtti.ID.String())
	if err := h.rt.host.Destroy(ctx, h.ptr); err != nil && !errors.Is(err, errors.ErrDestroyedObject) {
		h.rt.logger.Error("destroy after last reference failed", "instance_id", h.rtti.ID.String(), "error", err.Error())
	}
}

// Bind returns a shared guard on the payload. A destroyed object, a class
// without payload or a borrow conflict is fatal. Under the blocking policy a
// conflict with another thread waits instead.
func (h *Handle[T]) Bind(ctx context.Context) *SharedGuard[T] {
	g, err := h.TryBind(ctx)
	if err != nil {
		errors.Fatal(err)
	}
	return g
}

// BindMut returns an exclusive guard on the payload. Failure is fatal as for
// Bind.
func (h *Handle[T]) BindMut(ctx context.Context) *ExclusiveGuard[T] {
	g, err := h.TryBindMut(ctx)
	if err != nil {
		errors.Fatal(err)
	}
	return g
}

// TryBind is Bind returning the failure instead.
func (h *Handle[T]) TryBind(ctx context.Context) (*SharedGuard[T], error) {
	st, err := h.storage("bind")
	if err != nil {
		return nil, err
	}
	return st.bind(ctx)
}

// TryBindMut is BindMut returning the failure instead.
func (h *Handle[T]) TryBindMut(ctx context.Context) (*ExclusiveGuard[T], error) {
	st, err := h.storage("bind_mut")
	if err != nil {
		return nil, err
	}
	return st.bindMut(ctx)
}

// storage resolves the handle to its object's storage. A type mismatch
// between the cached class and T is fatal.
func (h *Handle[T]) storage(op string) (*Storage[T], error) {
	if h.released.Load() {
		return nil, errors.NewObjectError(op, errors.ErrHandleReleased).WithInstanceID(h.rtti.ID.String())
	}
	h.rtti.ValidateAs(h.rt.host, mustClassNameOf[T](h.rt))

	if !h.alive() {
		return nil, errors.NewObjectError(op, errors.ErrDestroyedObject).
			WithInstanceID(h.rtti.ID.String()).
			WithClass(string(h.rtti.Class))
	}
	st, ok := h.rt.lookup(h.ptr, h.rtti.ID)
	if !ok {
		cause := errors.ErrNotExtensionClass
		if _, registered := h.rt.classByName(h.rtti.Class); registered {
			// Alive in the engine but already torn down here.
			cause = errors.ErrDestroyedObject
		}
		return nil, errors.NewObjectError(op, cause).
			WithInstanceID(h.rtti.ID.String()).
			WithClass(string(h.rtti.Class))
	}
	typed, ok := st.(*Storage[T])
	if !ok {
		return nil, errors.NewObjectError(op, errors.ErrNotExtensionClass).
			WithInstanceID(h.rtti.ID.String()).
			WithClass(fmt.Sprintf("%s (payload %s)", h.rtti.Class, reflect.TypeFor[T]()))
	}
	return typed, nil
}

// Free destroys a manually managed object and releases the handle. Freeing a
// reference-counted object, a destroyed object or one whose payload the
// calling thread has bound is fatal.
func (h *Handle[T]) Free(ctx context.Context) {
	h.checkAlive("free")
	if h.rtti.ID.IsRefCounted() {
		errors.Fatal(errors.NewObjectError("free", errors.ErrRefCountedFree).
			WithInstanceID(h.rtti.ID.String()).
			WithClass(string(h.rtti.Class)))
	}
	if st, ok := h.rt.lookup(h.ptr, h.rtti.ID); ok && st.boundByCaller(ctx) {
		errors.Fatal(errors.NewObjectError("free", errors.ErrDestroyedWhileBound).
			WithInstanceID(h.rtti.ID.String()).
			WithClass(string(h.rtti.Class)))
	}

	h.released.Store(true)
	if err := h.rt.host.Destroy(ctx, h.ptr); err != nil {
		errors.Fatal(err)
	}
	h.rt.publish(event.NewObjectFreedEvent(h.rtti.ID.Native(), string(h.rtti.Class)))
}

// Call invokes method on the object through the engine's dynamic dispatch.
// Calling a destroyed object returns a warning-level error instead of failing.
func (h *Handle[T]) Call(ctx context.Context, method string, args ...any) (any, error) {
	if h.released.Load() || !h.alive() {
		return nil, errors.NewObjectError("call "+method, errors.ErrDestroyedObject).
			WithInstanceID(h.rtti.ID.String()).
			WithClass(string(h.rtti.Class)).
			WithSeverity(errors.SeverityWarning)
	}
	return h.rt.host.Call(ctx, h.ptr, method, args...)
}

// NotUniqueError reports that a reference-counted object has more than one
// reference.
type NotUniqueError struct {
	ID       InstanceID
	RefCount int32
}

func (e *NotUniqueError) Error() string {
	return fmt.Sprintf("object %s is not unique: refcount is %d", e.ID, e.RefCount)
}

// CheckUnique returns nil if the handle holds the only reference to its
// object.
func (h *Handle[T]) CheckUnique() error {
	h.checkAlive("check_unique")
	n, ok := h.rt.host.RefCount(h.ptr)
	if !ok {
		return errors.NewObjectError("check_unique", errors.ErrInvalidInput).
			WithInstanceID(h.rtti.ID.String()).
			WithClass(string(h.rtti.Class))
	}
	if n != 1 {
		return &NotUniqueError{ID: h.rtti.ID, RefCount: n}
	}
	return nil
}

// Equal reports whether both handles refer to the same object.
func (h *Handle[T]) Equal(other interface{ InstanceIDUnchecked() InstanceID }) bool {
	return other != nil && h.rtti.ID == other.InstanceIDUnchecked()
}

func (h *Handle[T]) String() string {
	s := fmt.Sprintf("Handle<%s>#%s", h.rtti.Class, h.rtti.ID)
	if h.released.Load() {
		s += "(released)"
	}
	return s
}

func mustClassNameOf[T any](rt *Runtime) engine.ClassName {
	name, ok := classNameOf[T](rt)
	if !ok {
		errors.Fatal(errors.NewNotFoundError("class for type", reflect.TypeFor[T]().String()).
			WithCause(errors.ErrClassNotRegistered))
	}
	return name
}
