package obj

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/Iron-Ham/hostbind/internal/engine/memhost"
	"github.com/Iron-Ham/hostbind/internal/errors"
)

// Counter is a reference-counted test class.
type Counter struct {
	Base  BaseField[RefCounted]
	X     int
	drops *atomic.Int32
}

func (c *Counter) OnDestroy() {
	if c.drops != nil {
		c.drops.Add(1)
	}
}

// Player is a manually managed test class.
type Player struct {
	Base BaseField[Node]
	HP   int
}

func argInt(args []any) int {
	if len(args) == 0 {
		return 1
	}
	switch v := args[0].(type) {
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

var counterMethods = Methods[Counter]{
	"get": func(ctx context.Context, this *Handle[Counter], _ []any) (any, error) {
		g := this.Bind(ctx)
		defer g.Release()
		return int64(g.Get().X), nil
	},
	"add": func(ctx context.Context, this *Handle[Counter], args []any) (any, error) {
		g := this.BindMut(ctx)
		defer g.Release()
		g.Get().X += argInt(args)
		return int64(g.Get().X), nil
	},
	// reenter_add increments once itself, then calls "add" through the
	// engine while still holding its exclusive guard.
	"reenter_add": func(ctx context.Context, this *Handle[Counter], args []any) (any, error) {
		g := this.BindMut(ctx)
		defer g.Release()
		g.Get().X++
		return g.CallBase(ctx, "add", args...)
	},
	// bad_reenter calls back into the object without suspending its guard.
	"bad_reenter": func(ctx context.Context, this *Handle[Counter], _ []any) (any, error) {
		g := this.BindMut(ctx)
		defer g.Release()
		return g.Get().Base.Call(ctx, "add", 1)
	},
}

var playerMethods = Methods[Player]{
	"hit": func(ctx context.Context, this *Handle[Player], args []any) (any, error) {
		g := this.BindMut(ctx)
		defer g.Release()
		g.Get().HP -= argInt(args)
		return int64(g.Get().HP), nil
	},
}

type fixture struct {
	rt    *Runtime
	host  *memhost.Host
	drops *atomic.Int32
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{host: memhost.New(), drops: &atomic.Int32{}}
	f.rt = NewRuntime(f.host, opts...)

	if err := RegisterClass(f.rt, func(base BaseField[RefCounted]) Counter {
		return Counter{Base: base, drops: f.drops}
	}, counterMethods); err != nil {
		t.Fatalf("RegisterClass(Counter) error = %v", err)
	}
	if err := RegisterClass(f.rt, func(base BaseField[Node]) Player {
		return Player{Base: base, HP: 100}
	}, playerMethods); err != nil {
		t.Fatalf("RegisterClass(Player) error = %v", err)
	}
	return f
}

func mustNew[T any](t *testing.T, rt *Runtime) *Handle[T] {
	t.Helper()
	h, err := New[T](context.Background(), rt)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func refCount[T any](t *testing.T, h *Handle[T]) int32 {
	t.Helper()
	n, ok := h.rt.host.RefCount(h.ptr)
	if !ok {
		t.Fatalf("RefCount(%v) not available", h)
	}
	return n
}

// mustFatal runs fn and returns the fatal error it raised.
func mustFatal(t *testing.T, fn func()) (fe *errors.FatalError) {
	t.Helper()
	defer func() {
		var ok bool
		if fe, ok = errors.AsFatal(recover()); !ok {
			t.Fatal("expected a fatal error")
		}
	}()
	fn()
	return nil
}
