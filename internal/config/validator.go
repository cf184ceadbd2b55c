package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/opencore/internal/engine"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "capture.timeout_seconds")
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

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidModes returns the list of capture mode names
func ValidModes() []string {
	return []string{"ptrace", "copy", "copy2"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateCapture()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateCapture() []ValidationError {
	var errors []ValidationError

	if _, err := engine.ParseContentFlags(c.Capture.ContentFlags); err != nil {
		errors = append(errors, ValidationError{
			Field:   "capture.content_flags",
			Value:   c.Capture.ContentFlags,
			Message: err.Error(),
		})
	}

	if _, err := engine.ParseVMAFilter(c.Capture.VMAFilters); err != nil {
		errors = append(errors, ValidationError{
			Field:   "capture.vma_filters",
			Value:   c.Capture.VMAFilters,
			Message: err.Error(),
		})
	}

	if _, err := engine.ParseMode(c.Capture.Mode); err != nil {
		errors = append(errors, ValidationError{
			Field:   "capture.mode",
			Value:   c.Capture.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidModes(), ", ")),
		})
	}

	if c.Capture.TimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "capture.timeout_seconds",
			Value:   c.Capture.TimeoutSeconds,
			Message: "must be positive",
		})
	}

	if c.Capture.SizeLimitBytes < 0 {
		errors = append(errors, ValidationError{
			Field:   "capture.size_limit_bytes",
			Value:   c.Capture.SizeLimitBytes,
			Message: "must be non-negative",
		})
	}

	if strings.TrimSpace(c.Capture.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "capture.command",
			Value:   c.Capture.Command,
			Message: "must not be empty",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
