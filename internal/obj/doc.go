// Package obj binds Go payloads to objects owned by a foreign engine.
//
// A [Handle] refers to an engine object by instance ID. Strong handles to
// reference-counted objects take part in the engine's refcount; manual
// handles never touch it; weak handles are what the engine hands to method
// implementations and what a payload's [BaseField] produces internally.
//
// Objects of classes registered with [RegisterClass] carry a [Storage] that
// owns the Go payload inside a borrow cell. [Handle.Bind] and
// [Handle.BindMut] reach the payload through the object's storage, after the
// handle's cached [RTTI] and the object's liveness have been checked.
//
// The engine drives the storage lifecycle through three entry points:
// [BindNewInstance] when an object is created, [Runtime.ResolveForCall] before
// a virtual call and [Runtime.NotifyDestroyed] when the object goes away.
// A [Runtime] installs all three as the host's callbacks.
//
// Conditions that leave memory in an unknown state are fatal and panic with
// a *errors.FatalError. Probes such as [Handle.InstanceIDOrNone],
// [Handle.IsInstanceValid] and [TryCast] never panic on a dead referent.
package obj
