package obj

import (
	"github.com/Iron-Ham/hostbind/internal/errors"
)

// TryCast converts h into a handle of class U. On success h is consumed: the
// new handle takes over its reference and h must not be used again. On
// failure h is untouched, so the caller can try another target.
func TryCast[U, T any](h *Handle[T]) (*Handle[U], error) {
	if h.released.Load() {
		return nil, errors.NewObjectError("try_cast", errors.ErrHandleReleased).WithInstanceID(h.rtti.ID.String())
	}
	target := mustClassNameOf[U](h.rt)
	if !h.alive() {
		return nil, errors.NewObjectError("try_cast", errors.ErrDestroyedObject).
			WithInstanceID(h.rtti.ID.String()).
			WithClass(string(h.rtti.Class))
	}
	if !h.rtti.Is(h.rt.host, target) {
		from, _ := classNameOf[T](h.rt)
		return nil, errors.NewCastError(string(from), string(target)).
			WithInstanceID(h.rtti.ID.String()).
			WithDynamic(string(h.rtti.Class))
	}
	if !h.released.CompareAndSwap(false, true) {
		return nil, errors.NewObjectError("try_cast", errors.ErrHandleReleased).WithInstanceID(h.rtti.ID.String())
	}
	return newHandle[U](h.rt, h.ptr, h.rtti, h.strength), nil
}

// Cast is TryCast with failure being fatal. Use it where the object graph
// guarantees the class.
func Cast[U, T any](h *Handle[T]) *Handle[U] {
	u, err := TryCast[U](h)
	if err != nil {
		errors.Fatal(err)
	}
	return u
}

// Upcast returns a handle of class U sharing h's reference without consuming
// h. It is a clone followed by a cast, for callers that keep using h.
func Upcast[U, T any](h *Handle[T]) *Handle[U] {
	return Cast[U](h.Clone())
}
