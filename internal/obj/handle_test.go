package obj

import (
	"context"
	"strings"
	"testing"

	"github.com/Iron-Ham/hostbind/internal/errors"
)

// TestHandle_RefCountedLifecycle walks a reference-counted object from
// creation to destruction: clone, drop the original, mutate through the
// clone, drop the clone, then find every stale handle dangling.
func TestHandle_RefCountedLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	original := mustNew[Counter](t, f.rt)
	if got := refCount(t, original); got != 1 {
		t.Fatalf("initial refcount = %d, want 1", got)
	}

	clone := original.Clone()
	if got := refCount(t, clone); got != 2 {
		t.Fatalf("refcount after clone = %d, want 2", got)
	}
	stale := original.Weak()

	original.Drop(ctx)
	if got := refCount(t, clone); got != 1 {
		t.Fatalf("refcount after dropping original = %d, want 1", got)
	}

	g := clone.BindMut(ctx)
	if g.Get().X != 0 {
		t.Fatalf("x = %d, want 0", g.Get().X)
	}
	g.Get().X = 42
	g.Release()

	r := clone.Bind(ctx)
	if r.Get().X != 42 {
		t.Errorf("x = %d, want 42", r.Get().X)
	}
	r.Release()

	clone.Drop(ctx)
	if stale.IsInstanceValid() {
		t.Error("object still valid after last strong handle dropped")
	}
	if s := f.rt.Stats(); s.Live != 0 || s.Destroyed != 1 {
		t.Errorf("Stats() = %+v, want no live storage and one destroyed", s)
	}
	if f.drops.Load() != 1 {
		t.Errorf("payload drops = %d, want 1", f.drops.Load())
	}

	fe := mustFatal(t, func() { stale.Bind(ctx) })
	if !errors.Is(fe, errors.ErrDestroyedObject) {
		t.Errorf("Bind() on stale handle = %v, want ErrDestroyedObject", fe)
	}
	if _, err := stale.TryBindMut(ctx); !errors.Is(err, errors.ErrDestroyedObject) {
		t.Errorf("TryBindMut() on stale handle = %v, want ErrDestroyedObject", err)
	}
}

func TestHandle_CloneDropSymmetry(t *testing.T) {
	for _, n := range []int{1, 2, 10, 100} {
		f := newFixture(t)
		h := mustNew[Counter](t, f.rt)
		before := refCount(t, h)

		clones := make([]*Handle[Counter], n)
		for i := range clones {
			clones[i] = h.Clone()
		}
		if got := refCount(t, h); got != before+int32(n) {
			t.Errorf("n=%d: refcount after clones = %d, want %d", n, got, before+int32(n))
		}
		for _, c := range clones {
			c.Drop(context.Background())
		}
		if got := refCount(t, h); got != before {
			t.Errorf("n=%d: refcount after drops = %d, want %d", n, got, before)
		}
		h.Drop(context.Background())
	}
}

func TestHandle_ManualObjects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := mustNew[Player](t, f.rt)
	if p.Strength() != Manual {
		t.Fatalf("Strength() = %v, want manual", p.Strength())
	}
	alias := p.Clone()
	alias.Drop(ctx)
	if !p.IsInstanceValid() {
		t.Fatal("dropping a manual handle destroyed the object")
	}
	if err := p.CheckUnique(); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("CheckUnique() on manual object = %v, want ErrInvalidInput", err)
	}

	id := p.InstanceID()
	p.Free(ctx)
	if f.host.IsInstanceIDValid(id.Native()) {
		t.Error("object alive after Free")
	}
	if _, ok := p.InstanceIDOrNone(); ok {
		t.Error("InstanceIDOrNone() ok after Free")
	}
	if p.InstanceIDUnchecked() != id {
		t.Error("InstanceIDUnchecked() changed after Free")
	}
}

func TestHandle_FatalMisuse(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		run  func(f *fixture)
		want error
	}{
		{
			name: "free ref-counted",
			run: func(f *fixture) {
				mustNew[Counter](t, f.rt).Free(ctx)
			},
			want: errors.ErrRefCountedFree,
		},
		{
			name: "free while bound",
			run: func(f *fixture) {
				p := mustNew[Player](t, f.rt)
				g := p.Bind(ctx)
				defer g.Release()
				p.Free(ctx)
			},
			want: errors.ErrDestroyedWhileBound,
		},
		{
			name: "double drop",
			run: func(f *fixture) {
				h := mustNew[Counter](t, f.rt)
				h.Drop(ctx)
				h.Drop(ctx)
			},
			want: errors.ErrHandleReleased,
		},
		{
			name: "instance id of destroyed object",
			run: func(f *fixture) {
				p := mustNew[Player](t, f.rt)
				other := p.Clone()
				p.Free(ctx)
				other.InstanceID()
			},
			want: errors.ErrDestroyedObject,
		},
		{
			name: "clone after drop",
			run: func(f *fixture) {
				h := mustNew[Counter](t, f.rt)
				keep := h.Clone()
				defer keep.Drop(ctx)
				h.Drop(ctx)
				h.Clone()
			},
			want: errors.ErrHandleReleased,
		},
		{
			name: "bind on engine class",
			run: func(f *fixture) {
				n := mustNew[Node](t, f.rt)
				n.Bind(ctx)
			},
			want: errors.ErrNotExtensionClass,
		},
		{
			name: "bind_mut while bound on same thread",
			run: func(f *fixture) {
				h := mustNew[Counter](t, f.rt)
				g := h.Bind(ctx)
				defer g.Release()
				h.BindMut(ctx)
			},
			want: errors.ErrBorrowConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			fe := mustFatal(t, func() { tt.run(f) })
			if !errors.Is(fe, tt.want) {
				t.Errorf("fatal error = %v, want %v", fe, tt.want)
			}
		})
	}
}

func TestHandle_CheckUnique(t *testing.T) {
	f := newFixture(t)
	h := mustNew[Counter](t, f.rt)
	if err := h.CheckUnique(); err != nil {
		t.Fatalf("CheckUnique() = %v, want nil", err)
	}

	c := h.Clone()
	err := h.CheckUnique()
	var nu *NotUniqueError
	if !errors.As(err, &nu) || nu.RefCount != 2 {
		t.Fatalf("CheckUnique() = %v, want NotUniqueError with refcount 2", err)
	}
	c.Drop(context.Background())
	if err := h.CheckUnique(); err != nil {
		t.Errorf("CheckUnique() after drop = %v", err)
	}
}

func TestHandle_FromInstanceID(t *testing.T) {
	f := newFixture(t)
	h := mustNew[Counter](t, f.rt)
	id := h.InstanceID()

	got := FromInstanceID[Counter](f.rt, id)
	if !got.Equal(h) {
		t.Errorf("FromInstanceID() = %v, want %v", got, h)
	}
	if refCount(t, h) != 2 {
		t.Errorf("refcount = %d, want 2 after FromInstanceID", refCount(t, h))
	}
	got.Drop(context.Background())

	if _, err := TryFromInstanceID[Player](f.rt, id); !errors.Is(err, errors.ErrTypeMismatch) {
		t.Errorf("TryFromInstanceID[Player] = %v, want ErrTypeMismatch", err)
	}

	h.Drop(context.Background())
	if _, err := TryFromInstanceID[Counter](f.rt, id); !errors.Is(err, errors.ErrDestroyedObject) {
		t.Errorf("TryFromInstanceID() after destroy = %v, want ErrDestroyedObject", err)
	}
	fe := mustFatal(t, func() { FromInstanceID[Counter](f.rt, id) })
	if !errors.Is(fe, errors.ErrDestroyedObject) {
		t.Errorf("FromInstanceID() fatal = %v", fe)
	}
}

func TestHandle_StringAndEqual(t *testing.T) {
	f := newFixture(t)
	h := mustNew[Counter](t, f.rt)
	c := h.Clone()
	other := mustNew[Counter](t, f.rt)

	if !h.Equal(c) {
		t.Error("clone should equal original")
	}
	if h.Equal(other) {
		t.Error("distinct objects compare equal")
	}
	want := "Handle<Counter>#" + h.InstanceID().String()
	if got := h.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	c.Drop(context.Background())
	if got := c.String(); !strings.HasSuffix(got, "(released)") {
		t.Errorf("String() after drop = %q", got)
	}
}

func TestHandle_Call(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := mustNew[Counter](t, f.rt)

	if got, err := h.Call(ctx, "add", 5); err != nil || got != int64(5) {
		t.Fatalf("Call(add, 5) = %v, %v", got, err)
	}
	if got, err := h.Call(ctx, "get_class"); err != nil || got != "Counter" {
		t.Errorf("Call(get_class) = %v, %v", got, err)
	}
	if _, err := h.Call(ctx, "nope"); !errors.Is(err, errors.ErrUnknownMethod) {
		t.Errorf("Call(nope) = %v, want ErrUnknownMethod", err)
	}
	h.Drop(ctx)
	_, err := h.Call(ctx, "get")
	if !errors.Is(err, errors.ErrDestroyedObject) {
		t.Errorf("Call() after drop = %v, want ErrDestroyedObject", err)
	}
	if got := errors.GetSeverity(err); got != errors.SeverityWarning {
		t.Errorf("GetSeverity(Call() after drop) = %v, want warning", got)
	}
}
