package scenario

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/hostbind/internal/cell"
	"github.com/Iron-Ham/hostbind/internal/demo"
	"github.com/Iron-Ham/hostbind/internal/engine/memhost"
	"github.com/Iron-Ham/hostbind/internal/errors"
	"github.com/Iron-Ham/hostbind/internal/event"
	"github.com/Iron-Ham/hostbind/internal/logging"
	"github.com/Iron-Ham/hostbind/internal/obj"
)

// DefaultStepTimeout bounds a single step. A step that blocks longer, such as
// a borrow waiting on a guard the scenario itself holds on another thread,
// fails and ends the run.
const DefaultStepTimeout = 5 * time.Second

// Outcome is the verdict on one step.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeExpectedError Outcome = "expected_error"
	OutcomeFailed        Outcome = "failed"
	OutcomeSkipped       Outcome = "skipped"
)

// StepResult records what one step did.
type StepResult struct {
	Index    int
	Op       string
	Target   string
	Thread   int
	Outcome  Outcome
	Err      string
	Severity string
	Fatal    bool
	Duration time.Duration
}

// Report summarizes a scenario run.
type Report struct {
	Name     string
	Policy   string
	Steps    []StepResult
	Runtime  obj.Stats
	Host     memhost.Stats
	Events   map[string]int
	Shutdown int
	Passed   bool
}

// Failed returns the number of failed steps.
func (r *Report) Failed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}

// MismatchError reports a step whose observation differed from its
// expectation. It always fails the step, even under expect_error.
type MismatchError struct {
	What string
	Want any
	Got  any
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: want %v, got %v", e.What, e.Want, e.Got)
}

// Runner executes scenarios, each against a fresh engine and runtime.
type Runner struct {
	logger      *logging.Logger
	bus         *event.Bus
	rtOpts      []obj.Option
	stepTimeout time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRuntimeOptions passes options to every runtime the runner creates.
func WithRuntimeOptions(opts ...obj.Option) RunnerOption {
	return func(r *Runner) { r.rtOpts = append(r.rtOpts, opts...) }
}

// WithStepTimeout overrides DefaultStepTimeout.
func WithStepTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.stepTimeout = d
		}
	}
}

// NewRunner creates a Runner. A nil logger discards logs and a nil bus gets
// replaced by a private one.
func NewRunner(logger *logging.Logger, bus *event.Bus, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if bus == nil {
		bus = event.NewBus(logger)
	}
	r := &Runner{
		logger:      logger.WithComponent("scenario"),
		bus:         bus,
		stepTimeout: DefaultStepTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run is the mutable state of one scenario execution.
type run struct {
	rt   *obj.Runtime
	host *memhost.Host

	mu      sync.Mutex
	slots   map[string]slot
	guards  map[string]func()
	threads map[int]cell.ThreadID
}

// Run executes sc. The returned error covers setup problems only; step
// failures are recorded in the report.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	opts := slices.Clone(r.rtOpts)
	opts = append(opts, obj.WithLogger(r.logger), obj.WithBus(r.bus))
	if sc.Policy != "" {
		p, err := cell.ParsePolicy(sc.Policy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, obj.WithPolicy(p))
	}

	host := memhost.New(memhost.WithLogger(r.logger))
	rt := obj.NewRuntime(host, opts...)
	if err := demo.Register(rt); err != nil {
		return nil, fmt.Errorf("registering demo classes: %w", err)
	}

	var evMu sync.Mutex
	events := make(map[string]int)
	subID := r.bus.SubscribeAll(func(e event.Event) {
		evMu.Lock()
		events[e.EventType()]++
		evMu.Unlock()
	})
	defer r.bus.Unsubscribe(subID)

	s := &run{
		rt:      rt,
		host:    host,
		slots:   make(map[string]slot),
		guards:  make(map[string]func()),
		threads: make(map[int]cell.ThreadID),
	}
	report := &Report{Name: sc.Name, Policy: rt.Policy().String()}
	r.logger.Info("scenario started", "name", sc.Name, "policy", report.Policy, "steps", len(sc.Steps))

	aborted := false
	for i, st := range sc.Steps {
		if aborted {
			report.Steps = append(report.Steps, StepResult{Index: i, Op: st.Op, Target: target(st), Thread: st.Thread, Outcome: OutcomeSkipped})
			continue
		}
		res, timedOut := r.step(ctx, s, i, st)
		report.Steps = append(report.Steps, res)
		aborted = timedOut || ctx.Err() != nil
	}

	s.cleanup(ctx, r.logger)
	n, err := host.Shutdown(ctx)
	if err != nil {
		r.logger.Warn("engine shutdown failed", "error", err.Error())
	}

	report.Shutdown = n
	report.Runtime = rt.Stats()
	report.Host = host.Stats()
	evMu.Lock()
	report.Events = events
	evMu.Unlock()
	report.Passed = report.Failed() == 0 && !aborted
	r.logger.Info("scenario finished",
		"name", sc.Name,
		"passed", report.Passed,
		"failed", report.Failed(),
		"destroyed", report.Runtime.Destroyed,
		"leaked", report.Runtime.Leaked)
	return report, nil
}

// step runs one step on its own goroutine so that a step stuck waiting for
// a borrow can be abandoned. It reports whether the step timed out.
func (r *Runner) step(ctx context.Context, s *run, i int, st Step) (StepResult, bool) {
	res := StepResult{Index: i, Op: st.Op, Target: target(st), Thread: st.Thread}
	tctx := cell.WithThread(ctx, s.thread(st.Thread))

	var abandoned atomic.Bool
	done := make(chan error, 1)
	start := time.Now()
	go func() {
		done <- s.exec(tctx, st, &abandoned)
	}()

	timer := time.NewTimer(r.stepTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		abandoned.Store(true)
		res.Duration = time.Since(start)
		res.Outcome = OutcomeFailed
		res.Err = fmt.Sprintf("step timed out after %s", r.stepTimeout)
		r.logger.Error("scenario step timed out", "index", i, "op", st.Op, "thread", st.Thread)
		return res, true
	case <-ctx.Done():
		abandoned.Store(true)
		res.Outcome = OutcomeFailed
		res.Err = ctx.Err().Error()
		return res, true
	}

	res.Duration = time.Since(start)
	res.Outcome, res.Err = judge(st, err)
	res.Fatal = errors.IsFatal(err)
	if err != nil {
		res.Severity = errors.GetSeverity(err).String()
	}
	r.logger.Debug("scenario step",
		"index", i,
		"op", st.Op,
		"target", res.Target,
		"outcome", string(res.Outcome),
		"severity", res.Severity,
		"fatal", res.Fatal)
	return res, false
}

func target(st Step) string {
	switch {
	case st.Args.Handle != "":
		return st.Args.Handle
	case st.Args.Guard != "":
		return st.Args.Guard
	default:
		return st.Args.Class
	}
}

// judge compares a step's error with its expectation.
func judge(st Step, err error) (Outcome, string) {
	var mm *MismatchError
	if errors.As(err, &mm) {
		return OutcomeFailed, err.Error()
	}
	if st.ExpectError == "" {
		if err != nil {
			return OutcomeFailed, err.Error()
		}
		return OutcomeOK, ""
	}
	if err == nil {
		return OutcomeFailed, fmt.Sprintf("expected %s error, step succeeded", st.ExpectError)
	}
	want := errorKinds[st.ExpectError]
	if want == nil || errors.Is(err, want) {
		return OutcomeExpectedError, err.Error()
	}
	return OutcomeFailed, fmt.Sprintf("expected %s error, got: %v", st.ExpectError, err)
}

func (s *run) thread(label int) cell.ThreadID {
	if label <= int(cell.MainThread) {
		return cell.MainThread
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[label]
	if !ok {
		t = cell.NewThread()
		s.threads[label] = t
	}
	return t
}

func (s *run) get(name string) (slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[name]
	if !ok {
		return nil, errors.NewNotFoundError("handle", name).WithCause(errors.ErrInvalidInput)
	}
	return sl, nil
}

// put stores sl under name. A handle it replaces is dropped first.
func (s *run) put(ctx context.Context, name string, sl slot) {
	s.mu.Lock()
	old, ok := s.slots[name]
	s.slots[name] = sl
	s.mu.Unlock()
	if ok && old != sl {
		dropQuietly(ctx, old)
	}
}

// exec runs a step. Fatal errors are recovered and returned.
func (s *run) exec(ctx context.Context, st Step, abandoned *atomic.Bool) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			fe, ok := errors.AsFatal(rec)
			if !ok {
				panic(rec)
			}
			err = fe
		}
	}()

	a := st.Args
	if st.Op == OpNew {
		k, err := lookupKind(a.Class)
		if err != nil {
			return err
		}
		sl, err := k.newSlot(ctx, s.rt)
		if err != nil {
			return err
		}
		s.put(ctx, a.As, sl)
		return nil
	}
	if st.Op == OpRelease {
		s.mu.Lock()
		release, ok := s.guards[a.Guard]
		delete(s.guards, a.Guard)
		s.mu.Unlock()
		if !ok {
			return errors.NewNotFoundError("guard", a.Guard).WithCause(errors.ErrInvalidInput)
		}
		release()
		return nil
	}

	sl, err := s.get(a.Handle)
	if err != nil {
		return err
	}

	switch st.Op {
	case OpClone:
		s.put(ctx, a.As, sl.clone())
	case OpWeak:
		s.put(ctx, a.As, sl.weak())
	case OpDrop:
		sl.drop(ctx)
	case OpFree:
		sl.free(ctx)
	case OpBind:
		return sl.withPayload(ctx, a.Mut, func(demo.Fielder) error { return nil })
	case OpHold:
		release, err := sl.hold(ctx, a.Mut)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if abandoned.Load() {
			s.mu.Unlock()
			release()
			return nil
		}
		prev, ok := s.guards[a.As]
		s.guards[a.As] = release
		s.mu.Unlock()
		if ok {
			prev()
		}
	case OpSet:
		return sl.withPayload(ctx, true, func(f demo.Fielder) error {
			if !f.SetField(a.Field, *a.Value) {
				return unknownField(sl, a.Field)
			}
			return nil
		})
	case OpAdd:
		return sl.withPayload(ctx, true, func(f demo.Fielder) error {
			v, ok := f.Field(a.Field)
			if !ok {
				return unknownField(sl, a.Field)
			}
			f.SetField(a.Field, v+*a.Value)
			return nil
		})
	case OpExpectField:
		return sl.withPayload(ctx, false, func(f demo.Fielder) error {
			v, ok := f.Field(a.Field)
			if !ok {
				return unknownField(sl, a.Field)
			}
			if v != *a.Value {
				return &MismatchError{What: a.Field, Want: *a.Value, Got: v}
			}
			return nil
		})
	case OpCall:
		got, err := sl.call(ctx, a.Method, a.Args)
		if err != nil {
			return err
		}
		if a.Expect != nil && fmt.Sprint(got) != fmt.Sprint(a.Expect) {
			return &MismatchError{What: a.Method + " result", Want: a.Expect, Got: got}
		}
	case OpCast, OpTryCast:
		out, err := castSlot(ctx, s.rt, sl, a.Class)
		if err != nil {
			if st.Op == OpCast {
				errors.Fatal(err)
			}
			return err
		}
		s.mu.Lock()
		if cur, ok := s.slots[a.Handle]; ok && cur == sl && a.As != a.Handle {
			// The source handle was consumed by the cast.
			delete(s.slots, a.Handle)
		}
		s.mu.Unlock()
		s.put(ctx, a.As, out)
	case OpExpectRefCount:
		n, ok := sl.refCount()
		if !ok {
			return errors.NewObjectError("expect_refcount", errors.ErrDestroyedObject).WithClass(sl.class())
		}
		if n != *a.Count {
			return &MismatchError{What: "refcount of " + a.Handle, Want: *a.Count, Got: n}
		}
	case OpExpectValid:
		if got := sl.valid(); got != *a.Valid {
			return &MismatchError{What: "validity of " + a.Handle, Want: *a.Valid, Got: got}
		}
	default:
		return errors.NewValidationError("unknown operation").WithValue(st.Op).WithCause(errors.ErrInvalidInput)
	}
	return nil
}

func unknownField(sl slot, field string) error {
	return errors.NewValidationError("unknown field").
		WithField(sl.class() + "." + field).
		WithCause(errors.ErrInvalidInput)
}

// cleanup releases every held guard and drops every remaining handle so the
// engine can tear objects down.
func (s *run) cleanup(ctx context.Context, logger *logging.Logger) {
	s.mu.Lock()
	guards := s.guards
	slots := s.slots
	s.guards = make(map[string]func())
	s.slots = make(map[string]slot)
	s.mu.Unlock()

	for _, name := range sortedKeys(guards) {
		guards[name]()
	}
	for _, name := range sortedKeys(slots) {
		if err := dropQuietly(ctx, slots[name]); err != nil {
			logger.Debug("handle already released", "handle", name, "error", err.Error())
		}
	}
}

// dropQuietly drops sl, returning instead of raising a fatal error for a
// handle that was already released.
func dropQuietly(ctx context.Context, sl slot) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			fe, ok := errors.AsFatal(rec)
			if !ok {
				panic(rec)
			}
			err = fe
		}
	}()
	sl.drop(ctx)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
