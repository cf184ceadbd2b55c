// Package settings caches capture configuration and forwards every change
// to the capture engine.
package settings

import (
	"fmt"
	"sync"

	"github.com/Iron-Ham/opencore/internal/engine"
	"github.com/Iron-Ham/opencore/internal/errors"
	"github.com/Iron-Ham/opencore/internal/logging"
)

// Values is a snapshot of the capture configuration.
type Values struct {
	// Directory is where relative and default dump names are placed.
	// Empty means unset.
	Directory      string
	ContentFlags   engine.ContentFlag
	VMAFilter      engine.VMAFilter
	TimeoutSeconds int
	SizeLimitBytes int64
	Mode           engine.Mode
}

// Defaults returns the configuration a freshly loaded engine reports.
func Defaults() Values {
	return Values{
		ContentFlags:   engine.DefaultContentFlags,
		TimeoutSeconds: engine.DefaultTimeoutSeconds,
		SizeLimitBytes: engine.DefaultSizeLimitBytes,
		Mode:           engine.DefaultMode,
	}
}

// Readiness is the subset of the readiness gate the store needs.
type Readiness interface {
	IsReady() bool
}

// Store holds the cached configuration. Setters are no-ops returning
// ErrNotReady until the gate is ready; getters report defaults until then.
// Setters forward to the engine synchronously and never touch a lane, so a
// change is visible to the next capture but not to one already admitted.
type Store struct {
	gate   Readiness
	eng    engine.Engine
	logger *logging.Logger

	mu     sync.RWMutex
	values Values
}

// New creates a store over eng. A nil logger discards output.
func New(gate Readiness, eng engine.Engine, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Store{
		gate:   gate,
		eng:    eng,
		logger: logger.WithComponent("settings"),
		values: Defaults(),
	}
}

// update applies fn to the cache and the engine under the write lock.
func (s *Store) update(field string, value any, fn func(v *Values)) error {
	if !s.gate.IsReady() {
		s.logger.Debug("setting ignored before ready", "field", field)
		return errors.Wrapf(errors.ErrNotReady, "set %s", field)
	}

	s.mu.Lock()
	fn(&s.values)
	s.mu.Unlock()

	s.logger.Debug("setting updated", "field", field, "value", fmt.Sprint(value))
	return nil
}

func (s *Store) SetDirectory(dir string) error {
	return s.update("directory", dir, func(v *Values) {
		v.Directory = dir
		s.eng.SetDirectory(dir)
	})
}

func (s *Store) SetContentFlags(flags engine.ContentFlag) error {
	return s.update("content_flags", flags, func(v *Values) {
		v.ContentFlags = flags
		s.eng.SetContentFlags(flags)
	})
}

func (s *Store) SetVMAFilter(filter engine.VMAFilter) error {
	return s.update("vma_filter", filter, func(v *Values) {
		v.VMAFilter = filter
		s.eng.SetVMAFilter(filter)
	})
}

// SetTimeout sets the engine-side capture timeout. It must be positive.
func (s *Store) SetTimeout(seconds int) error {
	if seconds <= 0 {
		return errors.NewValidationError("must be positive").
			WithField("timeout_seconds").WithValue(seconds)
	}
	return s.update("timeout_seconds", seconds, func(v *Values) {
		v.TimeoutSeconds = seconds
		s.eng.SetTimeout(seconds)
	})
}

// SetSizeLimit caps dump size. Zero means no limit.
func (s *Store) SetSizeLimit(bytes int64) error {
	if bytes < 0 {
		return errors.NewValidationError("must not be negative").
			WithField("size_limit_bytes").WithValue(bytes)
	}
	return s.update("size_limit_bytes", bytes, func(v *Values) {
		v.SizeLimitBytes = bytes
		s.eng.SetSizeLimit(bytes)
	})
}

// SetMode selects the capture mode. Modes beyond ModeMax are clamped.
func (s *Store) SetMode(mode engine.Mode) error {
	mode = mode.Clamp()
	return s.update("mode", mode, func(v *Values) {
		v.Mode = mode
		s.eng.SetMode(mode)
	})
}

// Apply sets every field of next, stopping at the first error.
func (s *Store) Apply(next Values) error {
	if err := s.SetDirectory(next.Directory); err != nil {
		return err
	}
	if err := s.SetContentFlags(next.ContentFlags); err != nil {
		return err
	}
	if err := s.SetVMAFilter(next.VMAFilter); err != nil {
		return err
	}
	if err := s.SetTimeout(next.TimeoutSeconds); err != nil {
		return err
	}
	if err := s.SetSizeLimit(next.SizeLimitBytes); err != nil {
		return err
	}
	return s.SetMode(next.Mode)
}

// Snapshot returns the cached configuration, or Defaults before ready.
func (s *Store) Snapshot() Values {
	if !s.gate.IsReady() {
		return Defaults()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values
}

func (s *Store) Directory() string { return s.Snapshot().Directory }
func (s *Store) ContentFlags() engine.ContentFlag { return s.Snapshot().ContentFlags }
func (s *Store) VMAFilter() engine.VMAFilter { return s.Snapshot().VMAFilter }
func (s *Store) Timeout() int { return s.Snapshot().TimeoutSeconds }
func (s *Store) SizeLimit() int64 { return s.Snapshot().SizeLimitBytes }
func (s *Store) Mode() engine.Mode { return s.Snapshot().Mode }

// Verify reads every setting back from the engine and compares it with the
// cache. Disagreement means the engine lost or rejected a setting.
func (s *Store) Verify() error {
	if !s.gate.IsReady() {
		return errors.Wrap(errors.ErrNotReady, "verify settings")
	}

	s.mu.RLock()
	cached := s.values
	s.mu.RUnlock()

	actual := Values{
		Directory:      s.eng.Directory(),
		ContentFlags:   s.eng.ContentFlags(),
		VMAFilter:      s.eng.VMAFilter(),
		TimeoutSeconds: s.eng.Timeout(),
		SizeLimitBytes: s.eng.SizeLimit(),
		Mode:           s.eng.Mode(),
	}

	var errs []error
	check := func(field string, want, got any) {
		if want != got {
			errs = append(errs, errors.NewEngineError(
				fmt.Sprintf("cached %v, engine reports %v", want, got),
				errors.ErrEngineMismatch,
			).WithOperation(field))
		}
	}
	check("directory", cached.Directory, actual.Directory)
	check("content_flags", cached.ContentFlags, actual.ContentFlags)
	check("vma_filter", cached.VMAFilter, actual.VMAFilter)
	check("timeout_seconds", cached.TimeoutSeconds, actual.TimeoutSeconds)
	check("size_limit_bytes", cached.SizeLimitBytes, actual.SizeLimitBytes)
	check("mode", cached.Mode, actual.Mode)

	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.logger.Error("engine settings diverged from cache", "error", err.Error())
		return err
	}
	return nil
}
