package obj

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/hostbind/internal/cell"
	"github.com/Iron-Ham/hostbind/internal/engine"
	"github.com/Iron-Ham/hostbind/internal/errors"
	"github.com/Iron-Ham/hostbind/internal/event"
	"github.com/Iron-Ham/hostbind/internal/logging"
)

// Runtime connects registered classes to one engine host. It owns the
// pointer-to-storage registry and installs itself as the host's callbacks.
type Runtime struct {
	host   engine.Host
	policy cell.Policy
	logger *logging.Logger
	bus    *event.Bus

	leakOnBoundDestroy bool
	destroyWait        time.Duration
	traced             func(class string) bool

	mu     sync.RWMutex
	byName map[engine.ClassName]*classInfo
	byType map[reflect.Type]*classInfo

	// storages maps engine.ObjectPtr to storage. Read on every call from the
	// engine, written once per object at each end of its life.
	storages sync.Map

	live        atomic.Int64
	constructed atomic.Uint64
	destroyed   atomic.Uint64
	leaked      atomic.Uint64
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithPolicy selects the borrow policy for every storage the runtime creates.
func WithPolicy(p cell.Policy) Option {
	return func(rt *Runtime) { rt.policy = p }
}

// WithLogger sets the runtime logger.
func WithLogger(l *logging.Logger) Option {
	return func(rt *Runtime) {
		if l != nil {
			rt.logger = l
		}
	}
}

// WithBus sets the bus lifecycle events are published on.
func WithBus(b *event.Bus) Option {
	return func(rt *Runtime) { rt.bus = b }
}

// WithLeakOnBoundDestroy makes destruction of an object whose payload is
// bound by the destroying thread leak the payload instead of being fatal.
func WithLeakOnBoundDestroy(leak bool) Option {
	return func(rt *Runtime) { rt.leakOnBoundDestroy = leak }
}

// WithDestroyWait bounds how long destruction waits for other threads to
// release their guards. Zero waits indefinitely.
func WithDestroyWait(d time.Duration) Option {
	return func(rt *Runtime) { rt.destroyWait = d }
}

// WithTraceFilter raises lifecycle logging to INFO for matching classes.
func WithTraceFilter(match func(class string) bool) Option {
	return func(rt *Runtime) { rt.traced = match }
}

// NewRuntime creates a runtime for host and installs its callbacks.
func NewRuntime(host engine.Host, opts ...Option) *Runtime {
	rt := &Runtime{
		host:   host,
		policy: cell.PolicySingleThreaded,
		logger: logging.NopLogger(),
		byName: make(map[engine.ClassName]*classInfo),
		byType: make(map[reflect.Type]*classInfo),
		traced: func(string) bool { return false },
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger = rt.logger.WithComponent("runtime")

	host.SetCallbacks(engine.Callbacks{
		CreateInstance: rt.createInstance,
		FreeInstance:   rt.freeInstance,
		CallVirtual:    rt.callVirtual,
		Reference:      rt.onReference,
	})
	return rt
}

func (rt *Runtime) freeInstance(ctx context.Context, _ engine.ClassName, ptr engine.ObjectPtr) {
	rt.NotifyDestroyed(ctx, ptr)
}

// Host returns the engine host.
func (rt *Runtime) Host() engine.Host { return rt.host }

// Policy returns the borrow policy storages are created with.
func (rt *Runtime) Policy() cell.Policy { return rt.policy }

// Stats reports storage counters.
type Stats struct {
	Live        int64
	Constructed uint64
	Destroyed   uint64
	Leaked      uint64
}

// Stats returns a snapshot of the storage counters.
func (rt *Runtime) Stats() Stats {
	return Stats{
		Live:        rt.live.Load(),
		Constructed: rt.constructed.Load(),
		Destroyed:   rt.destroyed.Load(),
		Leaked:      rt.leaked.Load(),
	}
}

func (rt *Runtime) publish(e event.Event) {
	if rt.bus != nil {
		rt.bus.Publish(e)
	}
}

// lifecycleLog logs at INFO for traced classes and DEBUG otherwise.
func (rt *Runtime) lifecycleLog(class engine.ClassName, msg string, args ...any) {
	l := rt.logger.WithClass(string(class))
	if rt.traced(string(class)) {
		l.Info(msg, args...)
		return
	}
	l.Debug(msg, args...)
}

func (rt *Runtime) destroyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if rt.destroyWait > 0 {
		return context.WithTimeout(ctx, rt.destroyWait)
	}
	return ctx, func() {}
}

var installed atomic.Pointer[Runtime]

// Install makes rt the process-wide runtime returned by Current. It returns
// the previously installed runtime, if any.
func Install(rt *Runtime) *Runtime {
	return installed.Swap(rt)
}

// Current returns the installed runtime. Calling it before Install is fatal.
func Current() *Runtime {
	rt := installed.Load()
	if rt == nil {
		errors.Fatal(errors.ErrNotInstalled)
	}
	return rt
}
