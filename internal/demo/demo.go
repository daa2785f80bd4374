// Package demo provides the sample classes that scenarios and the stress
// harness exercise: a reference-counted Counter and a manually managed Player.
package demo

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/hostbind/internal/errors"
	"github.com/Iron-Ham/hostbind/internal/obj"
)

// PlayerMaxHP is the hit points a new Player starts with.
const PlayerMaxHP = 100

// Fielder exposes a payload's integer fields by name.
type Fielder interface {
	Field(name string) (int64, bool)
	SetField(name string, v int64) bool
}

// Counter is a reference-counted object holding a single integer.
type Counter struct {
	Base obj.BaseField[obj.RefCounted]
	X    int64
}

func (c *Counter) Field(name string) (int64, bool) {
	if name == "x" {
		return c.X, true
	}
	return 0, false
}

func (c *Counter) SetField(name string, v int64) bool {
	if name != "x" {
		return false
	}
	c.X = v
	return true
}

// Player is a manually managed node with hit points.
type Player struct {
	Base obj.BaseField[obj.Node]
	HP   int64
}

func (p *Player) Field(name string) (int64, bool) {
	if name == "hp" {
		return p.HP, true
	}
	return 0, false
}

func (p *Player) SetField(name string, v int64) bool {
	if name != "hp" {
		return false
	}
	p.HP = v
	return true
}

// Register registers Counter and Player with rt.
func Register(rt *obj.Runtime) error {
	if err := obj.RegisterClass(rt, func(base obj.BaseField[obj.RefCounted]) Counter {
		return Counter{Base: base}
	}, CounterMethods()); err != nil {
		return err
	}
	return obj.RegisterClass(rt, func(base obj.BaseField[obj.Node]) Player {
		return Player{Base: base, HP: PlayerMaxHP}
	}, PlayerMethods())
}

// CounterMethods returns the virtual methods of Counter.
//
//	get              current value
//	add n            adds n (default 1), returns the new value
//	reenter_add n    adds 1, then calls add n on itself through the engine
func CounterMethods() obj.Methods[Counter] {
	return obj.Methods[Counter]{
		"get": func(ctx context.Context, this *obj.Handle[Counter], _ []any) (any, error) {
			g := this.Bind(ctx)
			defer g.Release()
			return g.Get().X, nil
		},
		"add": func(ctx context.Context, this *obj.Handle[Counter], args []any) (any, error) {
			n, err := intArg(args, 1)
			if err != nil {
				return nil, err
			}
			g := this.BindMut(ctx)
			defer g.Release()
			g.Get().X += n
			return g.Get().X, nil
		},
		"reenter_add": func(ctx context.Context, this *obj.Handle[Counter], args []any) (any, error) {
			g := this.BindMut(ctx)
			defer g.Release()
			g.Get().X++
			return g.CallBase(ctx, "add", args...)
		},
	}
}

// PlayerMethods returns the virtual methods of Player.
//
//	hit n              subtracts n from hp, returns the new hp
//	heal_via_engine n  heals by calling hit -n on itself through the engine
func PlayerMethods() obj.Methods[Player] {
	return obj.Methods[Player]{
		"hit": func(ctx context.Context, this *obj.Handle[Player], args []any) (any, error) {
			n, err := intArg(args, 1)
			if err != nil {
				return nil, err
			}
			g := this.BindMut(ctx)
			defer g.Release()
			g.Get().HP -= n
			return g.Get().HP, nil
		},
		"heal_via_engine": func(ctx context.Context, this *obj.Handle[Player], args []any) (any, error) {
			n, err := intArg(args, 1)
			if err != nil {
				return nil, err
			}
			g := this.BindMut(ctx)
			defer g.Release()
			if _, err := g.CallBase(ctx, "hit", -n); err != nil {
				return nil, err
			}
			if g.Get().HP > PlayerMaxHP {
				g.Get().HP = PlayerMaxHP
			}
			return g.Get().HP, nil
		},
	}
}

func intArg(args []any, def int64) (int64, error) {
	if len(args) == 0 {
		return def, nil
	}
	switch v := args[0].(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
	}
	return 0, errors.NewValidationError("expected an integer argument").WithValue(fmt.Sprintf("%v", args[0]))
}
