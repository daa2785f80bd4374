// Package engine defines the contract between the binding runtime and the
// foreign engine that owns object identity, refcounts and destruction.
//
// The runtime only ever talks to the engine through [Host]. The engine talks
// back through [Callbacks], which the runtime installs with SetCallbacks.
package engine

import (
	"context"
	"fmt"
)

// ObjectPtr is an opaque engine object pointer. Zero is null.
type ObjectPtr uintptr

// IsNull reports whether p is the null pointer.
func (p ObjectPtr) IsNull() bool { return p == 0 }

// String formats the pointer in hex.
func (p ObjectPtr) String() string { return fmt.Sprintf("0x%x", uintptr(p)) }

// ClassName names an engine or extension class.
type ClassName string

// Builtin class names every host provides.
const (
	ClassObject     ClassName = "Object"
	ClassRefCounted ClassName = "RefCounted"
	ClassNode       ClassName = "Node"
	ClassResource   ClassName = "Resource"
)

// RefCountedBit is set in instance IDs of reference-counted objects.
const RefCountedBit uint64 = 1 << 63

// ClassInfo describes an extension class registered with the host.
type ClassInfo struct {
	Name   ClassName
	Parent ClassName
}

// Callbacks are the runtime's entry points, invoked by the host.
type Callbacks struct {
	// CreateInstance attaches a payload to a freshly created object of an
	// extension class. Returning an error aborts construction.
	CreateInstance func(ctx context.Context, class ClassName, ptr ObjectPtr) error
	// FreeInstance tears down the payload of an object being destroyed. The
	// object is no longer valid by the time it runs.
	FreeInstance func(ctx context.Context, class ClassName, ptr ObjectPtr)
	// CallVirtual dispatches a method call on an extension object.
	CallVirtual func(ctx context.Context, class ClassName, ptr ObjectPtr, method string, args []any) (any, error)
	// Reference reports a refcount change on an extension object.
	Reference func(ptr ObjectPtr, inc bool)
}

// Host is the foreign engine as seen by the runtime.
type Host interface {
	// InstanceIDOf returns the instance ID of a live object, or 0.
	InstanceIDOf(ptr ObjectPtr) uint64
	// ObjectFromID returns the pointer of a live object, or 0.
	ObjectFromID(id uint64) ObjectPtr
	// IsInstanceIDValid reports whether id names a live object.
	IsInstanceIDValid(id uint64) bool

	// ClassOf returns the dynamic class of a live object, or "".
	ClassOf(ptr ObjectPtr) ClassName
	// ClassInherits reports whether derived equals base or inherits from it.
	ClassInherits(derived, base ClassName) bool
	// IsRefCountedClass reports whether objects of class are reference-counted.
	IsRefCountedClass(class ClassName) bool
	// RegisterClass registers an extension class.
	RegisterClass(info ClassInfo) error

	// CreateObject constructs an object of class.
	CreateObject(ctx context.Context, class ClassName) (ObjectPtr, error)
	// Destroy destroys an object immediately.
	Destroy(ctx context.Context, ptr ObjectPtr) error
	// Call invokes a method through the engine's dynamic dispatch.
	Call(ctx context.Context, ptr ObjectPtr, method string, args ...any) (any, error)

	// InitRef takes the first reference of a new reference-counted object.
	// It returns false if the refcount was already initialized.
	InitRef(ptr ObjectPtr) bool
	// Reference increments the refcount.
	Reference(ptr ObjectPtr)
	// Unreference decrements the refcount and reports whether it reached zero.
	// The caller must then destroy the object.
	Unreference(ptr ObjectPtr) (last bool)
	// RefCount returns the current refcount of a reference-counted object.
	RefCount(ptr ObjectPtr) (int32, bool)

	// SetCallbacks installs the runtime's entry points.
	SetCallbacks(cb Callbacks)
}
