// Package stress hammers one shared object from many engine threads under the
// blocking borrow policy and checks that no exclusive write was lost.
package stress

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/hostbind/internal/cell"
	"github.com/Iron-Ham/hostbind/internal/config"
	"github.com/Iron-Ham/hostbind/internal/demo"
	"github.com/Iron-Ham/hostbind/internal/engine/memhost"
	"github.com/Iron-Ham/hostbind/internal/errors"
	"github.com/Iron-Ham/hostbind/internal/event"
	"github.com/Iron-Ham/hostbind/internal/logging"
	"github.com/Iron-Ham/hostbind/internal/obj"
)

// Options controls a run.
type Options struct {
	Workers        int
	Iterations     int
	ReadersPercent int
	// Hold is how long each guard is kept before release.
	Hold time.Duration
	// CallEvery routes every n-th write through the engine's method dispatch
	// instead of binding directly. Zero disables engine calls.
	CallEvery int
	Seed      uint64
}

// OptionsFromConfig builds Options from the stress section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:        cfg.Stress.Workers,
		Iterations:     cfg.Stress.Iterations,
		ReadersPercent: cfg.Stress.ReadersPercent,
		Hold:           cfg.Stress.Hold(),
		CallEvery:      4,
		Seed:           uint64(time.Now().UnixNano()),
	}
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	switch {
	case o.Workers < 1:
		return errors.NewValidationError("workers must be at least 1").WithField("stress.workers").WithValue(o.Workers)
	case o.Iterations < 0:
		return errors.NewValidationError("iterations must not be negative").WithField("stress.iterations").WithValue(o.Iterations)
	case o.ReadersPercent < 0 || o.ReadersPercent > 100:
		return errors.NewValidationError("readers_percent must be between 0 and 100").WithField("stress.readers_percent").WithValue(o.ReadersPercent)
	case o.Hold < 0:
		return errors.NewValidationError("hold must not be negative").WithField("stress.hold_micros").WithValue(o.Hold)
	}
	return nil
}

// Result reports what a run observed.
type Result struct {
	Workers  int
	Reads    int64
	Writes   int64
	Calls    int64
	Waits    int64
	Final    int64
	Elapsed  time.Duration
	Runtime  obj.Stats
	Host     memhost.Stats
	Canceled bool
}

// OK reports whether every write is reflected in the final value and the
// shared object was torn down.
func (r *Result) OK() bool {
	return r.Final == r.Writes && r.Runtime.Live == 0 && r.Runtime.Leaked == 0
}

// Run performs a stress run. A fatal runtime error inside a worker is
// returned as an error.
func Run(ctx context.Context, logger *logging.Logger, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithComponent("stress")

	var waits atomic.Int64
	bus := event.NewBus(logger)
	bus.Subscribe(event.TypeBorrowWaiting, func(event.Event) { waits.Add(1) })

	host := memhost.New(memhost.WithLogger(logger))
	rt := obj.NewRuntime(host,
		obj.WithPolicy(cell.PolicyBlocking),
		obj.WithLogger(logger),
		obj.WithBus(bus))
	if err := demo.Register(rt); err != nil {
		return nil, fmt.Errorf("registering demo classes: %w", err)
	}

	counter, err := obj.New[demo.Counter](ctx, rt)
	if err != nil {
		return nil, fmt.Errorf("creating shared counter: %w", err)
	}

	logger.Info("stress run started",
		"workers", opts.Workers,
		"iterations", opts.Iterations,
		"readers_percent", opts.ReadersPercent,
		"hold", opts.Hold.String())

	res := &Result{Workers: opts.Workers}
	var reads, writes, calls atomic.Int64
	start := time.Now()

	var wg conc.WaitGroup
	for w := range opts.Workers {
		h := counter.Clone()
		wg.Go(func() {
			tctx := cell.WithThread(ctx, cell.NewThread())
			defer h.Drop(tctx)
			rng := rand.New(rand.NewPCG(opts.Seed, uint64(w)))

			for i := 0; i < opts.Iterations; i++ {
				if ctx.Err() != nil {
					return
				}
				if rng.IntN(100) < opts.ReadersPercent {
					read(tctx, h, opts.Hold)
					reads.Add(1)
					continue
				}
				n := writes.Add(1)
				if opts.CallEvery > 0 && n%int64(opts.CallEvery) == 0 {
					if _, err := h.Call(tctx, "add", 1); err != nil {
						errors.Fatal(err)
					}
					calls.Add(1)
					continue
				}
				write(tctx, h, opts.Hold)
			}
		})
	}
	if rec := wg.WaitAndRecover(); rec != nil {
		return nil, fmt.Errorf("stress worker failed: %w", rec.AsError())
	}

	res.Elapsed = time.Since(start)
	res.Reads = reads.Load()
	res.Writes = writes.Load()
	res.Calls = calls.Load()
	res.Canceled = ctx.Err() != nil

	g := counter.Bind(ctx)
	res.Final = g.Get().X
	g.Release()
	counter.Drop(ctx)

	res.Waits = waits.Load()
	res.Runtime = rt.Stats()
	res.Host = host.Stats()

	logger.Info("stress run finished",
		"reads", res.Reads,
		"writes", res.Writes,
		"calls", res.Calls,
		"waits", res.Waits,
		"final", res.Final,
		"elapsed", res.Elapsed.String(),
		"ok", res.OK())
	return res, nil
}

func read(ctx context.Context, h *obj.Handle[demo.Counter], hold time.Duration) {
	g := h.Bind(ctx)
	defer g.Release()
	_ = g.Get().X
	if hold > 0 {
		time.Sleep(hold)
	}
}

func write(ctx context.Context, h *obj.Handle[demo.Counter], hold time.Duration) {
	g := h.BindMut(ctx)
	defer g.Release()
	g.Get().X++
	if hold > 0 {
		time.Sleep(hold)
	}
}
