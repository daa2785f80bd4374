package obj

import (
	"context"
	"sync/atomic"

	"github.com/Iron-Ham/hostbind/internal/engine"
	"github.com/Iron-Ham/hostbind/internal/errors"
)

// BaseField is a payload's reference to its own engine object, typed by the
// engine base class B. It is weak: it holds the instance ID and never a
// reference, so the payload does not keep its own object alive.
type BaseField[B any] struct {
	rt    *Runtime
	ptr   engine.ObjectPtr
	rtti  RTTI
	ready *atomic.Bool
}

// InstanceID returns the owning object's ID.
func (b BaseField[B]) InstanceID() InstanceID { return b.rtti.ID }

// IsInstanceValid reports whether the owning object still exists.
func (b BaseField[B]) IsInstanceValid() bool {
	return b.rt != nil && b.rt.host.ObjectFromID(b.rtti.ID.Native()) == b.ptr
}

// ToHandle returns an owning handle to the base object. It is fatal before
// the object finished construction, since the engine does not yet hold the
// first reference then.
func (b BaseField[B]) ToHandle() *Handle[B] {
	if b.rt == nil || b.ready == nil || !b.ready.Load() {
		errors.Fatal(errors.NewObjectError("to_handle", errors.ErrNotConstructed).
			WithInstanceID(b.rtti.ID.String()).
			WithClass(string(b.rtti.Class)))
	}
	if !b.IsInstanceValid() {
		errors.Fatal(errors.NewObjectError("to_handle", errors.ErrDestroyedObject).
			WithInstanceID(b.rtti.ID.String()).
			WithClass(string(b.rtti.Class)))
	}

	strength := strengthFor(b.rtti.ID)
	if strength == Strong {
		b.rt.host.Reference(b.ptr)
	}
	return newHandle[B](b.rt, b.ptr, b.rtti, strength)
}

// Call invokes method on the base object through the engine. Called while the
// payload is bound exclusively, the engine can only re-enter this object if
// the guard is suspended; ExclusiveGuard.CallBase does both.
func (b BaseField[B]) Call(ctx context.Context, method string, args ...any) (any, error) {
	if !b.IsInstanceValid() {
		return nil, errors.NewObjectError("call "+method, errors.ErrDestroyedObject).
			WithInstanceID(b.rtti.ID.String()).
			WithClass(string(b.rtti.Class))
	}
	return b.rt.host.Call(ctx, b.ptr, method, args...)
}

func (b BaseField[B]) String() string {
	return "Base<" + string(b.rtti.Class) + ">#" + b.rtti.ID.String()
}
