package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "capture.timeout_seconds",
		Value:   0,
		Message: "must be positive",
	}

	expected := "capture.timeout_seconds: must be positive (got: 0)"
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
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
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
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got errors: %v", errs)
	}
}

func TestConfig_Validate_Capture(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{"unknown content flag", func(c *Config) { c.Capture.ContentFlags = "core|bogus" }, "capture.content_flags"},
		{"unknown vma filter", func(c *Config) { c.Capture.VMAFilters = "heap" }, "capture.vma_filters"},
		{"unknown mode", func(c *Config) { c.Capture.Mode = "fork" }, "capture.mode"},
		{"zero timeout", func(c *Config) { c.Capture.TimeoutSeconds = 0 }, "capture.timeout_seconds"},
		{"negative timeout", func(c *Config) { c.Capture.TimeoutSeconds = -5 }, "capture.timeout_seconds"},
		{"negative size limit", func(c *Config) { c.Capture.SizeLimitBytes = -1 }, "capture.size_limit_bytes"},
		{"empty command", func(c *Config) { c.Capture.Command = " " }, "capture.command"},
		{"numeric flags", func(c *Config) { c.Capture.ContentFlags = "0x11" }, ""},
		{"numeric mode clamps", func(c *Config) { c.Capture.Mode = "64" }, ""},
		{"zero size limit", func(c *Config) { c.Capture.SizeLimitBytes = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			errs := cfg.Validate()

			if tt.wantField == "" {
				if len(errs) != 0 {
					t.Errorf("expected no errors, got %v", errs)
				}
				return
			}
			if len(errs) != 1 {
				t.Fatalf("expected 1 error, got %d: %v", len(errs), errs)
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestConfig_Validate_Logging(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{"uppercase level", func(c *Config) { c.Logging.Level = "INFO" }, "logging.level"},
		{"unknown level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"zero max size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
		{"huge max size", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
		{"empty level", func(c *Config) { c.Logging.Level = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			errs := cfg.Validate()

			if tt.wantField == "" {
				if len(errs) != 0 {
					t.Errorf("expected no errors, got %v", errs)
				}
				return
			}
			if len(errs) != 1 || errs[0].Field != tt.wantField {
				t.Errorf("expected single %s error, got %v", tt.wantField, errs)
			}
		})
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Capture.TimeoutSeconds = 0
	cfg.Capture.Mode = "fork"
	cfg.Logging.MaxBackups = -2

	if errs := cfg.Validate(); len(errs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(errs), errs)
	}
}

func TestValidModes(t *testing.T) {
	for _, name := range ValidModes() {
		cfg := Default()
		cfg.Capture.Mode = name
		if errs := cfg.Validate(); len(errs) != 0 {
			t.Errorf("mode %q should be valid, got %v", name, errs)
		}
	}
}
