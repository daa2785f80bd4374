// Package memhost is an in-process engine implementing engine.Host.
//
// It keeps an object table, a class database with single inheritance and
// atomic refcounts. Tests, scenarios and the CLI run the binding runtime
// against it.
package memhost

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/hostbind/internal/cell"
	"github.com/Iron-Ham/hostbind/internal/engine"
	"github.com/Iron-Ham/hostbind/internal/errors"
	"github.com/Iron-Ham/hostbind/internal/logging"
)

const ptrBase = 0x10000

type classEntry struct {
	parent     engine.ClassName
	refCounted bool
	extension  bool
}

type object struct {
	ptr        engine.ObjectPtr
	id         uint64
	class      engine.ClassName
	refCounted bool
	extension  bool
	refcount   atomic.Int32
	refInit    atomic.Bool
}

// Stats reports object table counters.
type Stats struct {
	Live      int
	Created   uint64
	Destroyed uint64
}

// Host is an in-memory engine. It is safe for concurrent use.
type Host struct {
	mu      sync.RWMutex
	objects map[engine.ObjectPtr]*object
	byID    map[uint64]*object
	classes map[engine.ClassName]classEntry

	callbacks atomic.Pointer[engine.Callbacks]
	nextSeq   atomic.Uint64
	created   atomic.Uint64
	destroyed atomic.Uint64

	logger *logging.Logger
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger used for engine diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a Host with the builtin classes registered.
func New(opts ...Option) *Host {
	h := &Host{
		objects: make(map[engine.ObjectPtr]*object),
		byID:    make(map[uint64]*object),
		classes: map[engine.ClassName]classEntry{
			engine.ClassObject:     {},
			engine.ClassRefCounted: {parent: engine.ClassObject, refCounted: true},
			engine.ClassNode:       {parent: engine.ClassObject},
			engine.ClassResource:   {parent: engine.ClassRefCounted, refCounted: true},
		},
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithComponent("memhost")
	h.callbacks.Store(&engine.Callbacks{})
	return h
}

var _ engine.Host = (*Host)(nil)

// SetCallbacks installs the runtime's entry points.
func (h *Host) SetCallbacks(cb engine.Callbacks) {
	h.callbacks.Store(&cb)
}

// RegisterClass registers an extension class under an existing parent.
func (h *Host) RegisterClass(info engine.ClassInfo) error {
	if info.Name == "" {
		return errors.NewValidationError("class name cannot be empty").WithField("name")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.classes[info.Name]; exists {
		return errors.NewValidationError("class already registered").WithField("name").WithValue(string(info.Name))
	}
	parent, ok := h.classes[info.Parent]
	if !ok {
		return errors.NewNotFoundError("parent class", string(info.Parent)).WithCause(errors.ErrClassNotRegistered)
	}
	h.classes[info.Name] = classEntry{parent: info.Parent, refCounted: parent.refCounted, extension: true}
	return nil
}

// ClassInherits reports whether derived equals base or inherits from it.
func (h *Host) ClassInherits(derived, base engine.ClassName) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := derived; c != ""; {
		if c == base {
			return true
		}
		entry, ok := h.classes[c]
		if !ok {
			return false
		}
		c = entry.parent
	}
	return false
}

// IsRefCountedClass reports whether objects of class are reference-counted.
func (h *Host) IsRefCountedClass(class engine.ClassName) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.classes[class].refCounted
}

// Classes returns all registered class names, sorted.
func (h *Host) Classes() []engine.ClassName {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]engine.ClassName, 0, len(h.classes))
	for name := range h.classes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// CreateObject constructs an object. Extension classes get their payload
// through the CreateInstance callback; if it fails the object is discarded.
func (h *Host) CreateObject(ctx context.Context, class engine.ClassName) (engine.ObjectPtr, error) {
	h.mu.Lock()
	entry, ok := h.classes[class]
	if !ok {
		h.mu.Unlock()
		return 0, errors.NewNotFoundError("class", string(class)).WithCause(errors.ErrClassNotRegistered)
	}

	seq := h.nextSeq.Add(1)
	obj := &object{
		ptr:        engine.ObjectPtr(ptrBase + seq*0x10),
		id:         seq,
		class:      class,
		refCounted: entry.refCounted,
		extension:  entry.extension,
	}
	if obj.refCounted {
		obj.id |= engine.RefCountedBit
	}
	h.objects[obj.ptr] = obj
	h.byID[obj.id] = obj
	h.mu.Unlock()
	h.created.Add(1)

	if obj.extension {
		if create := h.callbacks.Load().CreateInstance; create != nil {
			if err := create(ctx, class, obj.ptr); err != nil {
				h.unlink(obj)
				return 0, errors.Wrapf(err, "create %s", class)
			}
		}
	}

	h.logger.Debug("object created", "class", string(class), "ptr", obj.ptr.String(), "instance_id", obj.id)
	return obj.ptr, nil
}

// Destroy removes the object from the table, then runs FreeInstance for
// extension objects.
func (h *Host) Destroy(ctx context.Context, ptr engine.ObjectPtr) error {
	h.mu.RLock()
	obj, ok := h.objects[ptr]
	h.mu.RUnlock()
	if !ok || !h.unlink(obj) {
		return errors.NewObjectError("destroy", errors.ErrDestroyedObject).WithInstanceID(ptr.String())
	}

	h.logger.Debug("object destroyed", "class", string(obj.class), "instance_id", obj.id)
	if obj.extension {
		if free := h.callbacks.Load().FreeInstance; free != nil {
			free(ctx, obj.class, ptr)
		}
	}
	return nil
}

// unlink removes obj from the table. Only the first caller succeeds.
func (h *Host) unlink(obj *object) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.objects[obj.ptr] != obj {
		return false
	}
	delete(h.objects, obj.ptr)
	delete(h.byID, obj.id)
	h.destroyed.Add(1)
	return true
}

func (h *Host) lookup(ptr engine.ObjectPtr) *object {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.objects[ptr]
}

// InstanceIDOf returns the instance ID of a live object, or 0.
func (h *Host) InstanceIDOf(ptr engine.ObjectPtr) uint64 {
	if obj := h.lookup(ptr); obj != nil {
		return obj.id
	}
	return 0
}

// ObjectFromID returns the pointer of a live object, or 0.
func (h *Host) ObjectFromID(id uint64) engine.ObjectPtr {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if obj, ok := h.byID[id]; ok {
		return obj.ptr
	}
	return 0
}

// IsInstanceIDValid reports whether id names a live object.
func (h *Host) IsInstanceIDValid(id uint64) bool {
	return h.ObjectFromID(id) != 0
}

// ClassOf returns the dynamic class of a live object, or "".
func (h *Host) ClassOf(ptr engine.ObjectPtr) engine.ClassName {
	if obj := h.lookup(ptr); obj != nil {
		return obj.class
	}
	return ""
}

// InitRef sets the refcount of a new reference-counted object to 1.
func (h *Host) InitRef(ptr engine.ObjectPtr) bool {
	obj := h.lookup(ptr)
	if obj == nil || !obj.refCounted || !obj.refInit.CompareAndSwap(false, true) {
		return false
	}
	obj.refcount.Add(1)
	h.notifyReference(obj, true)
	return true
}

// Reference increments the refcount.
func (h *Host) Reference(ptr engine.ObjectPtr) {
	obj := h.lookup(ptr)
	if obj == nil || !obj.refCounted {
		return
	}
	obj.refcount.Add(1)
	h.notifyReference(obj, true)
}

// Unreference decrements the refcount and reports whether it reached zero.
func (h *Host) Unreference(ptr engine.ObjectPtr) bool {
	obj := h.lookup(ptr)
	if obj == nil || !obj.refCounted {
		return false
	}
	for {
		n := obj.refcount.Load()
		if n <= 0 {
			h.logger.Warn("unreference below zero", "class", string(obj.class), "instance_id", obj.id)
			return false
		}
		if obj.refcount.CompareAndSwap(n, n-1) {
			h.notifyReference(obj, false)
			return n == 1
		}
	}
}

// RefCount returns the refcount of a live reference-counted object.
func (h *Host) RefCount(ptr engine.ObjectPtr) (int32, bool) {
	obj := h.lookup(ptr)
	if obj == nil || !obj.refCounted {
		return 0, false
	}
	return obj.refcount.Load(), true
}

func (h *Host) notifyReference(obj *object, inc bool) {
	if !obj.extension {
		return
	}
	if ref := h.callbacks.Load().Reference; ref != nil {
		ref(obj.ptr, inc)
	}
}

// Call dispatches a method. Extension objects are tried first through
// CallVirtual; methods they do not define fall back to the builtin set.
func (h *Host) Call(ctx context.Context, ptr engine.ObjectPtr, method string, args ...any) (any, error) {
	obj := h.lookup(ptr)
	if obj == nil {
		return nil, errors.NewObjectError("call "+method, errors.ErrDestroyedObject).WithInstanceID(ptr.String())
	}

	if obj.extension {
		if virt := h.callbacks.Load().CallVirtual; virt != nil {
			ret, err := virt(ctx, obj.class, ptr, method, args)
			if err == nil || !errors.Is(err, errors.ErrUnknownMethod) {
				return ret, err
			}
		}
	}
	return h.callBuiltin(obj, method, args)
}

func (h *Host) callBuiltin(obj *object, method string, args []any) (any, error) {
	switch method {
	case "get_class":
		return string(obj.class), nil
	case "get_instance_id":
		return int64(obj.id), nil
	case "is_class":
		if len(args) != 1 {
			return nil, errors.NewValidationError("is_class takes one argument").WithValue(len(args))
		}
		name, ok := args[0].(string)
		if !ok {
			return nil, errors.NewValidationError("is_class argument must be a string").WithValue(args[0])
		}
		return h.ClassInherits(obj.class, engine.ClassName(name)), nil
	case "get_reference_count":
		if !obj.refCounted {
			break
		}
		return int64(obj.refcount.Load()), nil
	}
	return nil, errors.NewNotFoundError("method", fmt.Sprintf("%s.%s", obj.class, method)).
		WithCause(errors.ErrUnknownMethod)
}

// Stats returns object table counters.
func (h *Host) Stats() Stats {
	h.mu.RLock()
	live := len(h.objects)
	h.mu.RUnlock()
	return Stats{
		Live:      live,
		Created:   h.created.Load(),
		Destroyed: h.destroyed.Load(),
	}
}

// Shutdown destroys every object still alive, the way an engine tears down
// at exit. Each destruction runs on its own engine thread. Reference-counted
// objects still alive at this point were leaked by their holders and are
// reported.
func (h *Host) Shutdown(ctx context.Context) (int, error) {
	h.mu.RLock()
	remaining := make([]*object, 0, len(h.objects))
	for _, obj := range h.objects {
		remaining = append(remaining, obj)
	}
	h.mu.RUnlock()

	var destroyed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, obj := range remaining {
		if obj.refCounted {
			h.logger.Warn("leaked reference-counted object",
				"class", string(obj.class),
				"instance_id", obj.id,
				"refcount", obj.refcount.Load())
		}
		g.Go(func() error {
			tctx := cell.WithThread(gctx, cell.NewThread())
			if err := h.Destroy(tctx, obj.ptr); err != nil {
				if errors.Is(err, errors.ErrDestroyedObject) {
					return nil
				}
				return err
			}
			destroyed.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return int(destroyed.Load()), err
}
