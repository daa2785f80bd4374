package scenario

import (
	"context"
	"fmt"
	"slices"

	"github.com/Iron-Ham/hostbind/internal/demo"
	"github.com/Iron-Ham/hostbind/internal/errors"
	"github.com/Iron-Ham/hostbind/internal/obj"
)

// slot is a named handle in a running scenario, with its static class erased.
type slot interface {
	class() string
	handle() string
	clone() slot
	weak() slot
	drop(ctx context.Context)
	free(ctx context.Context)
	withPayload(ctx context.Context, mut bool, fn func(demo.Fielder) error) error
	hold(ctx context.Context, mut bool) (release func(), err error)
	call(ctx context.Context, method string, args []any) (any, error)
	refCount() (int32, bool)
	valid() bool
	object() *obj.Handle[obj.Object]
}

type handleSlot[T any] struct {
	name string
	rt   *obj.Runtime
	h    *obj.Handle[T]
}

func (s *handleSlot[T]) class() string  { return s.name }
func (s *handleSlot[T]) handle() string { return s.h.String() }

func (s *handleSlot[T]) clone() slot {
	return &handleSlot[T]{name: s.name, rt: s.rt, h: s.h.Clone()}
}

func (s *handleSlot[T]) weak() slot {
	return &handleSlot[T]{name: s.name, rt: s.rt, h: s.h.Weak()}
}

func (s *handleSlot[T]) drop(ctx context.Context) { s.h.Drop(ctx) }
func (s *handleSlot[T]) free(ctx context.Context) { s.h.Free(ctx) }

func (s *handleSlot[T]) withPayload(ctx context.Context, mut bool, fn func(demo.Fielder) error) error {
	if mut {
		g, err := s.h.TryBindMut(ctx)
		if err != nil {
			return err
		}
		defer g.Release()
		return applyFielder(g.Get(), fn)
	}
	g, err := s.h.TryBind(ctx)
	if err != nil {
		return err
	}
	defer g.Release()
	return applyFielder(g.Get(), fn)
}

func applyFielder(payload any, fn func(demo.Fielder) error) error {
	f, ok := payload.(demo.Fielder)
	if !ok {
		return errors.NewValidationError("payload has no fields").
			WithValue(fmt.Sprintf("%T", payload)).
			WithCause(errors.ErrInvalidInput)
	}
	return fn(f)
}

func (s *handleSlot[T]) hold(ctx context.Context, mut bool) (func(), error) {
	if mut {
		g, err := s.h.TryBindMut(ctx)
		if err != nil {
			return nil, err
		}
		return g.Release, nil
	}
	g, err := s.h.TryBind(ctx)
	if err != nil {
		return nil, err
	}
	return g.Release, nil
}

func (s *handleSlot[T]) call(ctx context.Context, method string, args []any) (any, error) {
	return s.h.Call(ctx, method, args...)
}

func (s *handleSlot[T]) refCount() (int32, bool) {
	id, ok := s.h.InstanceIDOrNone()
	if !ok {
		return 0, false
	}
	host := s.rt.Host()
	return host.RefCount(host.ObjectFromID(id.Native()))
}

func (s *handleSlot[T]) valid() bool { return s.h.IsInstanceValid() }

func (s *handleSlot[T]) object() *obj.Handle[obj.Object] {
	return obj.Upcast[obj.Object](s.h)
}

// classKind creates and casts handles of one class.
type classKind struct {
	newSlot func(ctx context.Context, rt *obj.Runtime) (slot, error)
	cast    func(rt *obj.Runtime, h *obj.Handle[obj.Object]) (slot, error)
}

func kindOf[T any](name string) classKind {
	return classKind{
		newSlot: func(ctx context.Context, rt *obj.Runtime) (slot, error) {
			h, err := obj.New[T](ctx, rt)
			if err != nil {
				return nil, err
			}
			return &handleSlot[T]{name: name, rt: rt, h: h}, nil
		},
		cast: func(rt *obj.Runtime, h *obj.Handle[obj.Object]) (slot, error) {
			u, err := obj.TryCast[T](h)
			if err != nil {
				return nil, err
			}
			return &handleSlot[T]{name: name, rt: rt, h: u}, nil
		},
	}
}

var classKinds = map[string]classKind{
	"Object":     kindOf[obj.Object]("Object"),
	"RefCounted": kindOf[obj.RefCounted]("RefCounted"),
	"Node":       kindOf[obj.Node]("Node"),
	"Resource":   kindOf[obj.Resource]("Resource"),
	"Counter":    kindOf[demo.Counter]("Counter"),
	"Player":     kindOf[demo.Player]("Player"),
}

// Classes returns the class names a scenario may instantiate or cast to.
func Classes() []string {
	names := make([]string, 0, len(classKinds))
	for n := range classKinds {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func lookupKind(class string) (classKind, error) {
	k, ok := classKinds[class]
	if !ok {
		return classKind{}, errors.NewNotFoundError("class", class).WithCause(errors.ErrClassNotRegistered)
	}
	return k, nil
}

// castSlot converts s to class. On success s is released and the returned
// slot takes its place. On failure s is left as it was.
func castSlot(ctx context.Context, rt *obj.Runtime, s slot, class string) (slot, error) {
	k, err := lookupKind(class)
	if err != nil {
		return nil, err
	}
	base := s.object()
	out, err := k.cast(rt, base)
	if err != nil {
		base.Drop(ctx)
		return nil, err
	}
	s.drop(ctx)
	return out, nil
}
