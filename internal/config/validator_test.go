package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "stress.workers",
		Value:   0,
		Message: "must be at least 1",
	}

	expected := "stress.workers: must be at least 1 (got: 0)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "cell.policy", Value: "x", Message: "is invalid"},
		}
		expected := "cell.policy: is invalid (got: x)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got errors: %v", errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{"unknown policy", func(c *Config) { c.Cell.Policy = "optimistic" }, "cell.policy"},
		{"empty policy", func(c *Config) { c.Cell.Policy = "" }, "cell.policy"},
		{"negative destroy wait", func(c *Config) { c.Runtime.DestroyWaitMs = -1 }, "runtime.destroy_wait_ms"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"empty trace pattern", func(c *Config) { c.Debug.TraceClasses = []string{" "} }, "debug.trace_classes[0]"},
		{"malformed trace pattern", func(c *Config) { c.Debug.TraceClasses = []string{"Player", "[a-"} }, "debug.trace_classes[1]"},
		{"zero workers", func(c *Config) { c.Stress.Workers = 0 }, "stress.workers"},
		{"too many workers", func(c *Config) { c.Stress.Workers = 5000 }, "stress.workers"},
		{"zero iterations", func(c *Config) { c.Stress.Iterations = 0 }, "stress.iterations"},
		{"readers over 100", func(c *Config) { c.Stress.ReadersPercent = 101 }, "stress.readers_percent"},
		{"negative hold", func(c *Config) { c.Stress.HoldMicros = -5 }, "stress.hold_micros"},
		{"narrow output", func(c *Config) { c.Output.Width = 10 }, "output.width"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), errs)
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestConfig_Validate_AcceptsMixedCase(t *testing.T) {
	cfg := Default()
	cfg.Cell.Policy = "Blocking"
	cfg.Logging.Level = "DEBUG"
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestValidPolicies(t *testing.T) {
	got := ValidPolicies()
	if len(got) != 2 || got[0] != PolicySingleThreaded || got[1] != PolicyBlocking {
		t.Errorf("ValidPolicies() = %v", got)
	}
}
