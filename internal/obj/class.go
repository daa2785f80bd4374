package obj

import (
	"reflect"

	"github.com/Iron-Ham/hostbind/internal/engine"
)

// Class is implemented by marker types standing for engine classes.
type Class interface {
	ClassName() engine.ClassName
}

// Object is the root engine class. It is manually managed.
type Object struct{}

// RefCounted is the root of the reference-counted engine classes.
type RefCounted struct{}

// Node is a manually managed engine class.
type Node struct{}

// Resource is a reference-counted engine class.
type Resource struct{}

func (Object) ClassName() engine.ClassName     { return engine.ClassObject }
func (RefCounted) ClassName() engine.ClassName { return engine.ClassRefCounted }
func (Node) ClassName() engine.ClassName       { return engine.ClassNode }
func (Resource) ClassName() engine.ClassName   { return engine.ClassResource }

// classNameOf resolves the engine class a Go type stands for: a registered
// payload type first, then a Class marker.
func classNameOf[T any](rt *Runtime) (engine.ClassName, bool) {
	if ci, ok := rt.classByType(reflect.TypeFor[T]()); ok {
		return ci.name, true
	}
	var zero T
	if c, ok := any(zero).(Class); ok {
		return c.ClassName(), true
	}
	return "", false
}
