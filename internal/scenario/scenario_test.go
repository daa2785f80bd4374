package scenario

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/hostbind/internal/errors"
	"github.com/Iron-Ham/hostbind/internal/event"
	"github.com/Iron-Ham/hostbind/internal/obj"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "valid",
			yaml: `
name: ok
steps:
  - new: {class: Counter, as: o}
  - drop: o
`,
		},
		{
			name:    "missing name",
			yaml:    "steps:\n  - drop: o\n",
			wantErr: "name",
		},
		{
			name:    "no steps",
			yaml:    "name: empty\n",
			wantErr: "no steps",
		},
		{
			name:    "unknown operation",
			yaml:    "name: x\nsteps:\n  - explode: o\n",
			wantErr: "unknown operation",
		},
		{
			name:    "two operations",
			yaml:    "name: x\nsteps:\n  - drop: o\n    free: o\n",
			wantErr: "two operations",
		},
		{
			name:    "unknown error kind",
			yaml:    "name: x\nsteps:\n  - drop: o\n    expect_error: melted\n",
			wantErr: "unknown error kind",
		},
		{
			name:    "missing class",
			yaml:    "name: x\nsteps:\n  - new: {as: o}\n",
			wantErr: "class is required",
		},
		{
			name:    "missing value",
			yaml:    "name: x\nsteps:\n  - set: {handle: o, field: x}\n",
			wantErr: "value is required",
		},
		{
			name:    "bad policy",
			yaml:    "name: x\npolicy: optimistic\nsteps:\n  - drop: o\n",
			wantErr: "optimistic",
		},
		{
			name:    "step not a mapping",
			yaml:    "name: x\nsteps:\n  - drop\n",
			wantErr: "must be a mapping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Parse() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_Shorthand(t *testing.T) {
	sc, err := Parse([]byte(`
name: shorthand
steps:
  - drop: o
  - release: g
    thread: 2
  - hold: {handle: o, as: g, mut: true}
    expect_error: borrow
`))
	if err != nil {
		t.Fatal(err)
	}

	want := []Step{
		{Op: OpDrop, Args: Args{Handle: "o"}},
		{Op: OpRelease, Args: Args{Guard: "g"}, Thread: 2},
		{Op: OpHold, Args: Args{Handle: "o", As: "g", Mut: true}, ExpectError: "borrow"},
	}
	if diff := cmp.Diff(want, sc.Steps); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
}

func outcomes(r *Report) []Outcome {
	out := make([]Outcome, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Outcome
	}
	return out
}

func TestRun_RefcountExample(t *testing.T) {
	sc, err := Load("testdata/refcount_example.yaml")
	if err != nil {
		t.Fatal(err)
	}
	bus := event.NewBus(nil)
	report, err := NewRunner(nil, bus).Run(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}

	for _, s := range report.Steps {
		if s.Outcome == OutcomeFailed {
			t.Errorf("step %d (%s %s) failed: %s", s.Index, s.Op, s.Target, s.Err)
		}
	}
	if !report.Passed {
		t.Fatal("report not passed")
	}
	last := report.Steps[len(report.Steps)-1]
	if last.Outcome != OutcomeExpectedError || last.Fatal || last.Severity != "error" {
		t.Errorf("final bind = %+v, want a non-fatal expected error", last)
	}
	if first := report.Steps[0]; first.Severity != "" {
		t.Errorf("successful step severity = %q, want none", first.Severity)
	}
	if report.Runtime.Destroyed != 1 || report.Runtime.Live != 0 {
		t.Errorf("runtime stats = %+v, want one destroyed and none live", report.Runtime)
	}
	if report.Shutdown != 0 {
		t.Errorf("shutdown destroyed %d objects, want 0", report.Shutdown)
	}
	if report.Events[event.TypeObjectDestroyed] != 1 {
		t.Errorf("events = %v, want one %s", report.Events, event.TypeObjectDestroyed)
	}
}

func TestRun_Threads(t *testing.T) {
	sc, err := Load("testdata/threads.yaml")
	if err != nil {
		t.Fatal(err)
	}
	report, err := NewRunner(nil, nil).Run(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	if report.Policy != "blocking" {
		t.Errorf("Policy = %q, want blocking", report.Policy)
	}
	want := []Outcome{OutcomeOK, OutcomeOK, OutcomeExpectedError, OutcomeOK, OutcomeOK, OutcomeOK, OutcomeOK}
	if diff := cmp.Diff(want, outcomes(report)); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_Misuse(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want []Outcome
		// wantFatal lists the indexes of steps whose error must be fatal.
		wantFatal []int
	}{
		{
			name: "free reference-counted object",
			yaml: `
name: free rc
steps:
  - new: {class: Counter, as: o}
  - free: o
    expect_error: refcounted_free
`,
			want:      []Outcome{OutcomeOK, OutcomeExpectedError},
			wantFatal: []int{1},
		},
		{
			name: "double drop",
			yaml: `
name: double drop
steps:
  - new: {class: Counter, as: o}
  - drop: o
  - drop: o
    expect_error: released
`,
			want:      []Outcome{OutcomeOK, OutcomeOK, OutcomeExpectedError},
			wantFatal: []int{2},
		},
		{
			name: "free while bound",
			yaml: `
name: free bound
steps:
  - new: {class: Player, as: p}
  - hold: {handle: p, as: g}
  - free: p
    expect_error: bound
  - release: g
  - free: p
  - expect_valid: {handle: p, valid: false}
`,
			want:      []Outcome{OutcomeOK, OutcomeOK, OutcomeExpectedError, OutcomeOK, OutcomeOK, OutcomeOK},
			wantFatal: []int{2},
		},
		{
			name: "casts",
			yaml: `
name: casts
steps:
  - new: {class: Counter, as: o}
  - try_cast: {handle: o, class: Player, as: p}
    expect_error: type
  - expect_refcount: {handle: o, count: 1}
  - try_cast: {handle: o, class: RefCounted, as: r}
  - expect_refcount: {handle: r, count: 1}
  - cast: {handle: r, class: Counter, as: o2}
  - call: {handle: o2, method: add, args: [5], expect: 5}
  - cast: {handle: o2, class: Node, as: n}
    expect_error: type
`,
			want: []Outcome{
				OutcomeOK, OutcomeExpectedError, OutcomeOK, OutcomeOK,
				OutcomeOK, OutcomeOK, OutcomeOK, OutcomeExpectedError,
			},
			wantFatal: []int{7},
		},
		{
			name: "engine class has no payload",
			yaml: `
name: engine class
steps:
  - new: {class: Node, as: n}
  - bind: n
    expect_error: not_extension
  - call: {handle: n, method: get_class, expect: Node}
  - free: n
`,
			want: []Outcome{OutcomeOK, OutcomeExpectedError, OutcomeOK, OutcomeOK},
		},
		{
			name: "unknown method",
			yaml: `
name: unknown method
steps:
  - new: {class: Counter, as: o}
  - call: {handle: o, method: nope}
    expect_error: unknown_method
`,
			want: []Outcome{OutcomeOK, OutcomeExpectedError},
		},
		{
			name: "exclusive bind while shared on the same thread",
			yaml: `
name: same thread conflict
steps:
  - new: {class: Counter, as: o}
  - hold: {handle: o, as: g}
  - bind: {handle: o, mut: true}
    expect_error: borrow
  - release: g
  - bind: {handle: o, mut: true}
`,
			want: []Outcome{OutcomeOK, OutcomeOK, OutcomeExpectedError, OutcomeOK, OutcomeOK},
		},
		{
			name: "single-threaded refuses other threads",
			yaml: `
name: cross thread
policy: single-threaded
steps:
  - new: {class: Counter, as: o}
  - bind: o
    thread: 2
    expect_error: cross_thread
`,
			want: []Outcome{OutcomeOK, OutcomeExpectedError},
		},
		{
			name: "re-entrant engine calls",
			yaml: `
name: reentry
steps:
  - new: {class: Player, as: p}
  - call: {handle: p, method: hit, args: [30], expect: 70}
  - call: {handle: p, method: heal_via_engine, args: [50], expect: 100}
  - new: {class: Counter, as: c}
  - call: {handle: c, method: reenter_add, args: [4], expect: 5}
`,
			want: []Outcome{OutcomeOK, OutcomeOK, OutcomeOK, OutcomeOK, OutcomeOK},
		},
		{
			name: "mismatch fails even with expect_error",
			yaml: `
name: mismatch
steps:
  - new: {class: Counter, as: o}
  - expect_refcount: {handle: o, count: 3}
    expect_error: any
  - expect_field: {handle: o, field: x, value: 1}
`,
			want: []Outcome{OutcomeOK, OutcomeFailed, OutcomeFailed},
		},
		{
			name: "unknown handle",
			yaml: `
name: unknown handle
steps:
  - drop: ghost
    expect_error: invalid
  - clone: {handle: ghost, as: g}
`,
			want: []Outcome{OutcomeExpectedError, OutcomeFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			report, err := NewRunner(nil, nil).Run(context.Background(), sc)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, outcomes(report)); diff != "" {
				for _, s := range report.Steps {
					t.Logf("step %d %s: %s %s", s.Index, s.Op, s.Outcome, s.Err)
				}
				t.Fatalf("outcomes mismatch (-want +got):\n%s", diff)
			}
			for _, i := range tt.wantFatal {
				if !report.Steps[i].Fatal {
					t.Errorf("step %d error not fatal: %s", i, report.Steps[i].Err)
				}
				if got := report.Steps[i].Severity; got != "critical" {
					t.Errorf("step %d severity = %q, want critical", i, got)
				}
			}
			wantPassed := !containsOutcome(tt.want, OutcomeFailed)
			if report.Passed != wantPassed {
				t.Errorf("Passed = %v, want %v", report.Passed, wantPassed)
			}
			if report.Runtime.Live != 0 {
				t.Errorf("live storages after run = %d, want 0", report.Runtime.Live)
			}
		})
	}
}

func containsOutcome(outs []Outcome, o Outcome) bool {
	for _, x := range outs {
		if x == o {
			return true
		}
	}
	return false
}

func TestRun_LeakOnBoundDestroy(t *testing.T) {
	sc, err := Parse([]byte(`
name: leak
steps:
  - new: {class: Counter, as: o}
  - hold: {handle: o, as: g}
  - drop: o
  - release: g
`))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("fatal by default", func(t *testing.T) {
		report, err := NewRunner(nil, nil).Run(context.Background(), sc)
		if err != nil {
			t.Fatal(err)
		}
		drop := report.Steps[2]
		if drop.Outcome != OutcomeFailed || !drop.Fatal || !strings.Contains(drop.Err, errors.ErrDestroyedWhileBound.Error()) {
			t.Errorf("drop step = %+v, want fatal destroyed-while-bound", drop)
		}
	})

	t.Run("leaked when enabled", func(t *testing.T) {
		runner := NewRunner(nil, nil, WithRuntimeOptions(obj.WithLeakOnBoundDestroy(true)))
		report, err := runner.Run(context.Background(), sc)
		if err != nil {
			t.Fatal(err)
		}
		if !report.Passed {
			t.Fatalf("report failed: %+v", report.Steps)
		}
		if report.Runtime.Leaked != 1 {
			t.Errorf("Leaked = %d, want 1", report.Runtime.Leaked)
		}
		if report.Events[event.TypeStorageLeaked] != 1 {
			t.Errorf("events = %v, want one %s", report.Events, event.TypeStorageLeaked)
		}
	})
}

func TestRun_StepTimeoutAborts(t *testing.T) {
	sc, err := Parse([]byte(`
name: stuck
policy: blocking
steps:
  - new: {class: Counter, as: o}
  - hold: {handle: o, as: g, mut: true}
    thread: 2
  - bind: o
    thread: 3
  - release: g
    thread: 2
`))
	if err != nil {
		t.Fatal(err)
	}

	runner := NewRunner(nil, nil, WithStepTimeout(50*time.Millisecond))
	report, err := runner.Run(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	want := []Outcome{OutcomeOK, OutcomeOK, OutcomeFailed, OutcomeSkipped}
	if diff := cmp.Diff(want, outcomes(report)); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if report.Passed {
		t.Error("aborted run reported as passed")
	}
	if !strings.Contains(report.Steps[2].Err, "timed out") {
		t.Errorf("step 2 error = %q", report.Steps[2].Err)
	}
}

func TestClassesAndErrorKinds(t *testing.T) {
	if diff := cmp.Diff([]string{"Counter", "Node", "Object", "Player", "RefCounted", "Resource"}, Classes()); diff != "" {
		t.Errorf("Classes() mismatch (-want +got):\n%s", diff)
	}
	for _, k := range ErrorKinds() {
		sc := &Scenario{Name: "k", Steps: []Step{{Op: OpDrop, Args: Args{Handle: "o"}, ExpectError: k}}}
		if err := sc.Validate(); err != nil {
			t.Errorf("Validate() with expect_error %q = %v", k, err)
		}
	}
}
