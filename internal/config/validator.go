package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "stress.workers")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Borrow cell policy names accepted by cell.policy.
const (
	PolicySingleThreaded = "single_threaded"
	PolicyBlocking       = "blocking"
)

// ValidPolicies returns the list of valid cell policies
func ValidPolicies() []string {
	return []string{PolicySingleThreaded, PolicyBlocking}
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateCell()...)
	errors = append(errors, c.validateRuntime()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateDebug()...)
	errors = append(errors, c.validateStress()...)
	errors = append(errors, c.validateOutput()...)

	return errors
}

func (c *Config) validateCell() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidPolicies(), strings.ToLower(c.Cell.Policy)) {
		errors = append(errors, ValidationError{
			Field:   "cell.policy",
			Value:   c.Cell.Policy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidPolicies(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateRuntime() []ValidationError {
	var errors []ValidationError

	if c.Runtime.DestroyWaitMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "runtime.destroy_wait_ms",
			Value:   c.Runtime.DestroyWaitMs,
			Message: "must be non-negative (0 waits indefinitely)",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

// validateDebug rejects trace patterns that do not compile as globs.
func (c *Config) validateDebug() []ValidationError {
	var errors []ValidationError

	for i, pattern := range c.Debug.TraceClasses {
		if strings.TrimSpace(pattern) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("debug.trace_classes[%d]", i),
				Value:   pattern,
				Message: "cannot be empty",
			})
			continue
		}
		if _, err := glob.Compile(pattern); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("debug.trace_classes[%d]", i),
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}

	return errors
}

func (c *Config) validateStress() []ValidationError {
	var errors []ValidationError

	const maxWorkers = 1024
	if c.Stress.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "stress.workers",
			Value:   c.Stress.Workers,
			Message: "must be at least 1",
		})
	}
	if c.Stress.Workers > maxWorkers {
		errors = append(errors, ValidationError{
			Field:   "stress.workers",
			Value:   c.Stress.Workers,
			Message: fmt.Sprintf("exceeds maximum of %d", maxWorkers),
		})
	}

	if c.Stress.Iterations < 1 {
		errors = append(errors, ValidationError{
			Field:   "stress.iterations",
			Value:   c.Stress.Iterations,
			Message: "must be at least 1",
		})
	}

	if c.Stress.ReadersPercent < 0 || c.Stress.ReadersPercent > 100 {
		errors = append(errors, ValidationError{
			Field:   "stress.readers_percent",
			Value:   c.Stress.ReadersPercent,
			Message: "must be between 0 and 100",
		})
	}

	if c.Stress.HoldMicros < 0 {
		errors = append(errors, ValidationError{
			Field:   "stress.hold_micros",
			Value:   c.Stress.HoldMicros,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateOutput() []ValidationError {
	var errors []ValidationError

	// 0 means detect from the terminal
	const minWidth = 40
	if c.Output.Width != 0 && c.Output.Width < minWidth {
		errors = append(errors, ValidationError{
			Field:   "output.width",
			Value:   c.Output.Width,
			Message: fmt.Sprintf("must be 0 or at least %d columns", minWidth),
		})
	}

	return errors
}
