// Package scenario runs declarative object-lifecycle scripts against the
// in-memory engine.
//
// A scenario is a YAML file listing steps. Each step names one operation
// and its arguments, and may declare the error it expects:
//
//	name: refcount example
//	steps:
//	  - new: {class: Counter, as: o}
//	  - clone: {handle: o, as: c}
//	  - drop: o
//	  - set: {handle: c, field: x, value: 42}
//	  - weak: {handle: c, as: stale}
//	  - drop: c
//	  - bind: stale
//	    expect_error: destroyed
//
// Fatal errors raised by a step are recovered and judged like ordinary
// errors, so a scenario can assert that misuse is caught.
package scenario

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/hostbind/internal/cell"
	"github.com/Iron-Ham/hostbind/internal/errors"
)

// Operations a step may name.
const (
	OpNew            = "new"
	OpClone          = "clone"
	OpWeak           = "weak"
	OpDrop           = "drop"
	OpFree           = "free"
	OpBind           = "bind"
	OpHold           = "hold"
	OpRelease        = "release"
	OpSet            = "set"
	OpAdd            = "add"
	OpCall           = "call"
	OpCast           = "cast"
	OpTryCast        = "try_cast"
	OpExpectRefCount = "expect_refcount"
	OpExpectValid    = "expect_valid"
	OpExpectField    = "expect_field"
)

var validOps = []string{
	OpNew, OpClone, OpWeak, OpDrop, OpFree, OpBind, OpHold, OpRelease, OpSet, OpAdd,
	OpCall, OpCast, OpTryCast, OpExpectRefCount, OpExpectValid, OpExpectField,
}

// Scenario is a parsed scenario file.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Policy overrides the configured borrow policy when set.
	Policy string `yaml:"policy,omitempty"`
	Steps  []Step `yaml:"steps"`
}

// Step is one operation. In YAML it is a mapping with exactly one operation
// key plus the optional expect_error and thread keys.
type Step struct {
	Op          string
	Args        Args
	ExpectError string
	// Thread runs the step on a numbered engine thread. 0 and 1 are the main
	// thread; other numbers get a thread of their own for the whole run.
	Thread int
}

// Args are the arguments of a step. Which fields matter depends on Op.
type Args struct {
	Class  string `yaml:"class"`
	Handle string `yaml:"handle"`
	As     string `yaml:"as"`
	Guard  string `yaml:"guard"`
	Field  string `yaml:"field"`
	Value  *int64 `yaml:"value"`
	Count  *int32 `yaml:"count"`
	Valid  *bool  `yaml:"valid"`
	Mut    bool   `yaml:"mut"`
	Method string `yaml:"method"`
	Args   []any  `yaml:"args"`
	Expect any    `yaml:"expect"`
}

// UnmarshalYAML decodes the single-operation mapping form of a step. A scalar
// operation value is shorthand for its handle (or guard, for release).
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: step must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "expect_error":
			s.ExpectError = val.Value
		case "thread":
			if err := val.Decode(&s.Thread); err != nil {
				return fmt.Errorf("line %d: thread: %w", val.Line, err)
			}
		default:
			if s.Op != "" {
				return fmt.Errorf("line %d: step has two operations (%s, %s)", node.Line, s.Op, key)
			}
			s.Op = key
			if val.Kind == yaml.ScalarNode {
				if key == OpRelease {
					s.Args.Guard = val.Value
				} else {
					s.Args.Handle = val.Value
				}
				continue
			}
			if err := val.Decode(&s.Args); err != nil {
				return fmt.Errorf("line %d: %s: %w", val.Line, key, err)
			}
		}
	}
	if s.Op == "" {
		return fmt.Errorf("line %d: step has no operation", node.Line)
	}
	return nil
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// Validate checks operations, required arguments and expected error kinds.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return errors.NewValidationError("scenario name is required").WithField("name")
	}
	if sc.Policy != "" {
		if _, err := cell.ParsePolicy(sc.Policy); err != nil {
			return err
		}
	}
	if len(sc.Steps) == 0 {
		return errors.NewValidationError("scenario has no steps").WithField("steps")
	}

	for i, st := range sc.Steps {
		field := fmt.Sprintf("steps[%d].%s", i, st.Op)
		if !slices.Contains(validOps, st.Op) {
			return errors.NewValidationError("unknown operation").
				WithField(field).
				WithValue(fmt.Sprintf("%s (valid: %s)", st.Op, strings.Join(validOps, ", ")))
		}
		if st.ExpectError != "" {
			if _, ok := errorKinds[st.ExpectError]; !ok {
				return errors.NewValidationError("unknown error kind").
					WithField(fmt.Sprintf("steps[%d].expect_error", i)).
					WithValue(fmt.Sprintf("%s (valid: %s)", st.ExpectError, strings.Join(ErrorKinds(), ", ")))
			}
		}
		if err := st.validateArgs(); err != nil {
			return errors.NewValidationError(err.Error()).WithField(field)
		}
	}
	return nil
}

func (st Step) validateArgs() error {
	a := st.Args
	need := func(ok bool, what string) error {
		if !ok {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
	switch st.Op {
	case OpNew:
		if err := need(a.Class != "", "class"); err != nil {
			return err
		}
		return need(a.As != "", "as")
	case OpClone, OpWeak, OpCast, OpTryCast, OpHold:
		if err := need(a.Handle != "", "handle"); err != nil {
			return err
		}
		if st.Op == OpCast || st.Op == OpTryCast {
			if err := need(a.Class != "", "class"); err != nil {
				return err
			}
		}
		return need(a.As != "", "as")
	case OpRelease:
		return need(a.Guard != "", "guard")
	case OpSet, OpAdd, OpExpectField:
		if err := need(a.Handle != "", "handle"); err != nil {
			return err
		}
		if err := need(a.Field != "", "field"); err != nil {
			return err
		}
		return need(a.Value != nil, "value")
	case OpCall:
		if err := need(a.Handle != "", "handle"); err != nil {
			return err
		}
		return need(a.Method != "", "method")
	case OpExpectRefCount:
		if err := need(a.Handle != "", "handle"); err != nil {
			return err
		}
		return need(a.Count != nil, "count")
	case OpExpectValid:
		if err := need(a.Handle != "", "handle"); err != nil {
			return err
		}
		return need(a.Valid != nil, "valid")
	default:
		return need(a.Handle != "", "handle")
	}
}

// errorKinds maps expect_error names to the sentinel errors they match.
var errorKinds = map[string]error{
	"destroyed":       errors.ErrDestroyedObject,
	"released":        errors.ErrHandleReleased,
	"borrow":          errors.ErrBorrowConflict,
	"cross_thread":    errors.ErrCrossThread,
	"type":            errors.ErrTypeMismatch,
	"refcounted_free": errors.ErrRefCountedFree,
	"bound":           errors.ErrDestroyedWhileBound,
	"not_extension":   errors.ErrNotExtensionClass,
	"not_constructed": errors.ErrNotConstructed,
	"unknown_method":  errors.ErrUnknownMethod,
	"unknown_class":   errors.ErrClassNotRegistered,
	"invalid":         errors.ErrInvalidInput,
	"any":             nil,
}

// ErrorKinds returns the accepted expect_error names, sorted.
func ErrorKinds() []string {
	kinds := make([]string, 0, len(errorKinds))
	for k := range errorKinds {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
