package obj

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/Iron-Ham/hostbind/internal/cell"
	"github.com/Iron-Ham/hostbind/internal/engine"
	"github.com/Iron-Ham/hostbind/internal/errors"
	"github.com/Iron-Ham/hostbind/internal/event"
)

// Method implements a virtual method of a registered class. It receives a
// weak handle to the object the engine called it on.
type Method[T any] func(ctx context.Context, this *Handle[T], args []any) (any, error)

// Methods is the method table of a registered class.
type Methods[T any] map[string]Method[T]

type classInfo struct {
	name       engine.ClassName
	base       engine.ClassName
	refCounted bool
	goType     reflect.Type
	methods    []string

	create func(ctx context.Context, ptr engine.ObjectPtr) error
	call   func(ctx context.Context, st storage, method string, args []any) (any, error)
}

func (rt *Runtime) classByType(t reflect.Type) (*classInfo, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	ci, ok := rt.byType[t]
	return ci, ok
}

func (rt *Runtime) classByName(name engine.ClassName) (*classInfo, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	ci, ok := rt.byName[name]
	return ci, ok
}

// Classes returns the names of the registered classes, sorted.
func (rt *Runtime) Classes() []engine.ClassName {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	names := make([]engine.ClassName, 0, len(rt.byName))
	for name := range rt.byName {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// RegisterClass registers payload type T as an engine class deriving from B.
// The class is named after T unless T implements Class. init builds the
// payload of each new object; methods become its virtual methods.
func RegisterClass[T, B any](rt *Runtime, init func(base BaseField[B]) T, methods Methods[T]) error {
	goType := reflect.TypeFor[T]()
	name := engine.ClassName(goType.Name())
	var zero T
	if c, ok := any(zero).(Class); ok {
		name = c.ClassName()
	}
	if name == "" {
		return errors.NewValidationError("payload type has no name").WithField("class").WithValue(goType.String())
	}
	if init == nil {
		return errors.NewValidationError("init function is required").WithField("init").WithValue(string(name))
	}
	base, ok := classNameOf[B](rt)
	if !ok {
		return errors.NewNotFoundError("base class for type", reflect.TypeFor[B]().String()).
			WithCause(errors.ErrClassNotRegistered)
	}
	if _, exists := rt.classByType(goType); exists {
		return errors.NewValidationError("payload type already registered").WithField("class").WithValue(goType.String())
	}

	if err := rt.host.RegisterClass(engine.ClassInfo{Name: name, Parent: base}); err != nil {
		return errors.Wrapf(err, "register %s", name)
	}

	ci := &classInfo{
		name:       name,
		base:       base,
		refCounted: rt.host.IsRefCountedClass(name),
		goType:     goType,
	}
	for m := range methods {
		ci.methods = append(ci.methods, m)
	}
	sort.Strings(ci.methods)

	ci.create = func(ctx context.Context, ptr engine.ObjectPtr) error {
		_, err := BindNewInstance(ctx, rt, ptr, init)
		return err
	}
	ci.call = func(ctx context.Context, st storage, method string, args []any) (any, error) {
		m, ok := methods[method]
		if !ok {
			return nil, errors.NewNotFoundError("method", fmt.Sprintf("%s.%s", name, method)).
				WithCause(errors.ErrUnknownMethod)
		}
		typed := st.(*Storage[T])
		this := newHandle[T](rt, typed.ptr, RTTI{ID: typed.id, Class: typed.class}, Weak)
		return m(ctx, this, args)
	}

	rt.mu.Lock()
	rt.byName[name] = ci
	rt.byType[goType] = ci
	rt.mu.Unlock()

	rt.logger.WithClass(string(name)).Info("class registered",
		"base", string(base),
		"ref_counted", ci.refCounted,
		"methods", len(ci.methods))
	rt.publish(event.NewClassRegisteredEvent(string(name), string(base), ci.refCounted))
	return nil
}

// New creates an engine object of class T and returns an owning handle.
// For registered classes the engine calls back into BindNewInstance before
// New returns.
func New[T any](ctx context.Context, rt *Runtime) (*Handle[T], error) {
	class, ok := classNameOf[T](rt)
	if !ok {
		return nil, errors.NewNotFoundError("class for type", reflect.TypeFor[T]().String()).
			WithCause(errors.ErrClassNotRegistered)
	}
	ptr, err := rt.host.CreateObject(ctx, class)
	if err != nil {
		return nil, err
	}

	id := MustInstanceID(rt.host.InstanceIDOf(ptr))
	if id.IsRefCounted() {
		rt.host.InitRef(ptr)
	}
	return newHandle[T](rt, ptr, RTTI{ID: id, Class: rt.host.ClassOf(ptr)}, strengthFor(id)), nil
}

// BindNewInstance creates the storage for a freshly created engine object and
// registers it under ptr. It runs once per object, from the engine's
// construction callback.
//
// Reference-counted objects count as constructed once the engine takes the
// first reference; manually managed ones as soon as the storage exists.
func BindNewInstance[T, B any](ctx context.Context, rt *Runtime, ptr engine.ObjectPtr, init func(base BaseField[B]) T) (*Storage[T], error) {
	id, ok := InstanceIDFromNative(rt.host.InstanceIDOf(ptr))
	if !ok {
		return nil, errors.NewObjectError("bind_new_instance", errors.ErrNullObject).WithInstanceID(ptr.String())
	}
	rtti := RTTI{ID: id, Class: rt.host.ClassOf(ptr)}
	rtti.ValidateAs(rt.host, mustClassNameOf[B](rt))

	st := &Storage[T]{
		rt:         rt,
		id:         id,
		ptr:        ptr,
		class:      rtti.Class,
		refCounted: id.IsRefCounted(),
	}
	base := BaseField[B]{rt: rt, ptr: ptr, rtti: rtti, ready: &st.ready}
	st.cell = cell.New(init(base), rt.policy,
		cell.WithTypeName(string(rtti.Class)),
		cell.WithOwner(cell.ThreadFrom(ctx)),
		cell.WithWaitHook(rt.waitHook(rtti.Class)),
	)
	if !st.refCounted {
		st.markReady()
	}

	if _, loaded := rt.storages.LoadOrStore(ptr, storage(st)); loaded {
		errors.Fatal(errors.NewObjectError("bind_new_instance", errors.ErrInvalidInput).
			WithInstanceID(id.String()).
			WithClass(string(rtti.Class)))
	}
	rt.live.Add(1)
	rt.constructed.Add(1)

	rt.lifecycleLog(rtti.Class, "storage constructed", "instance_id", id.String(), "thread", cell.ThreadFrom(ctx).String())
	rt.publish(event.NewObjectConstructedEvent(id.Native(), string(rtti.Class)))
	return st, nil
}

// ResolveForCall returns a weak handle to the extension object behind ptr,
// or false if the engine no longer knows it or it has no live storage. Cast
// the result to the concrete class.
func (rt *Runtime) ResolveForCall(ptr engine.ObjectPtr) (*Handle[Object], bool) {
	st, ok := rt.resolve(ptr)
	if !ok {
		return nil, false
	}
	return newHandle[Object](rt, ptr, RTTI{ID: st.InstanceID(), Class: st.Class()}, Weak), true
}

// resolve finds the live storage registered for ptr under the instance ID
// the engine currently reports for it.
func (rt *Runtime) resolve(ptr engine.ObjectPtr) (storage, bool) {
	id, ok := InstanceIDFromNative(rt.host.InstanceIDOf(ptr))
	if !ok {
		return nil, false
	}
	st, ok := rt.lookup(ptr, id)
	if !ok || st.Lifecycle() != Alive {
		return nil, false
	}
	return st, true
}

// NotifyDestroyed tears down the storage of a destroyed object. Unknown or
// already torn down pointers are ignored.
//
// Guards held by other threads are waited for. A guard held by the calling
// thread can never be released while this waits; that case is fatal, or leaks
// the payload when the runtime was created WithLeakOnBoundDestroy.
func (rt *Runtime) NotifyDestroyed(ctx context.Context, ptr engine.ObjectPtr) {
	v, ok := rt.storages.LoadAndDelete(ptr)
	if !ok {
		rt.logger.Debug("destroy notification for unknown object", "ptr", ptr.String())
		return
	}
	st := v.(storage)
	if !st.markDying() {
		return
	}
	rt.live.Add(-1)

	wctx, cancel := rt.destroyContext(ctx)
	defer cancel()
	if err := st.teardown(wctx); err != nil {
		rt.destroyedWhileBound(st, err)
		return
	}

	rt.destroyed.Add(1)
	rt.lifecycleLog(st.Class(), "storage destroyed", "instance_id", st.InstanceID().String())
	rt.publish(event.NewObjectDestroyedEvent(st.InstanceID().Native(), string(st.Class()), "destroyed"))
}

func (rt *Runtime) destroyedWhileBound(st storage, cause error) {
	objErr := errors.NewObjectError("destroy", errors.ErrDestroyedWhileBound).
		WithInstanceID(st.InstanceID().String()).
		WithClass(string(st.Class()))

	if !rt.leakOnBoundDestroy {
		errors.Fatal(fmt.Errorf("%w: %w", objErr, cause))
	}
	rt.leaked.Add(1)
	rt.logger.WithClass(string(st.Class())).Error("payload leaked",
		"instance_id", st.InstanceID().String(),
		"error", cause.Error())
	rt.publish(event.NewStorageLeakedEvent(st.InstanceID().Native(), string(st.Class()), cause.Error()))
}

func (rt *Runtime) lookup(ptr engine.ObjectPtr, id InstanceID) (storage, bool) {
	v, ok := rt.storages.Load(ptr)
	if !ok {
		return nil, false
	}
	st := v.(storage)
	if st.InstanceID() != id {
		return nil, false
	}
	return st, true
}

func (rt *Runtime) createInstance(ctx context.Context, class engine.ClassName, ptr engine.ObjectPtr) error {
	ci, ok := rt.classByName(class)
	if !ok {
		return errors.NewNotFoundError("class", string(class)).WithCause(errors.ErrClassNotRegistered)
	}
	return ci.create(ctx, ptr)
}

// callVirtual dispatches an engine call to a registered method. The object
// must resolve to live storage of the claimed class; anything else is fatal.
func (rt *Runtime) callVirtual(ctx context.Context, class engine.ClassName, ptr engine.ObjectPtr, method string, args []any) (any, error) {
	ci, ok := rt.classByName(class)
	if !ok {
		return nil, errors.NewNotFoundError("class", string(class)).WithCause(errors.ErrClassNotRegistered)
	}
	st, ok := rt.resolve(ptr)
	if !ok {
		errors.Fatal(errors.NewObjectError("resolve_for_call", errors.ErrDestroyedObject).
			WithInstanceID(ptr.String()).
			WithClass(string(class)))
	}
	RTTI{ID: st.InstanceID(), Class: st.Class()}.ValidateAs(rt.host, class)
	return ci.call(ctx, st, method, args)
}

func (rt *Runtime) onReference(ptr engine.ObjectPtr, inc bool) {
	v, ok := rt.storages.Load(ptr)
	if !ok {
		return
	}
	st := v.(storage)
	if n := st.adjustRef(inc); inc && n >= 1 {
		st.markReady()
	}
}

func (rt *Runtime) waitHook(class engine.ClassName) cell.WaitHook {
	return func(access cell.Access, thread cell.ThreadID) {
		rt.logger.WithClass(string(class)).WithThread(uint64(thread)).Debug("waiting for borrow", "access", access.String())
		rt.publish(event.NewBorrowWaitingEvent(string(class), access.String(), uint64(thread)))
	}
}
