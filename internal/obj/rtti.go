package obj

import (
	"github.com/Iron-Ham/hostbind/internal/engine"
	"github.com/Iron-Ham/hostbind/internal/errors"
)

// RTTI caches an object's dynamic class, recorded when a handle is first
// bound to it.
type RTTI struct {
	ID    InstanceID
	Class engine.ClassName
}

// Is reports whether the cached class is target or one of its subclasses.
func (r RTTI) Is(host engine.Host, target engine.ClassName) bool {
	return host.ClassInherits(r.Class, target)
}

// ValidateAs is fatal unless the cached class is target or a subclass. A
// mismatch here means the object graph or the engine's class data is not
// what the caller was built against.
func (r RTTI) ValidateAs(host engine.Host, target engine.ClassName) {
	if !r.Is(host, target) {
		errors.Fatal(errors.NewCastError(string(r.Class), string(target)).
			WithInstanceID(r.ID.String()).
			WithDynamic(string(r.Class)))
	}
}
