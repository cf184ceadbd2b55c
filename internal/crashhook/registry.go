// Package crashhook installs the two crash triggers, an uncaught Go panic
// and a native fault signal, and runs the capture-then-exit sequence when
// the managed one fires.
package crashhook

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync"

	"github.com/Iron-Ham/opencore/internal/errors"
	"github.com/Iron-Ham/opencore/internal/event"
	"github.com/Iron-Ham/opencore/internal/logging"
)

// ExitStatus is the process exit code after the managed hook fires.
const ExitStatus = 10

// Kind selects a crash trigger.
type Kind int

const (
	// Managed fires on a panic escaping a goroutine guarded by the Slot.
	Managed Kind = iota + 1
	// Native fires on a fault signal and is implemented by the engine.
	Native
)

func (k Kind) String() string {
	switch k {
	case Managed:
		return "managed"
	case Native:
		return "native"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts "managed" or "native".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "managed":
		return Managed, nil
	case "native":
		return Native, nil
	}
	return 0, errors.NewValidationError("unknown hook kind").WithField("kind").WithValue(s)
}

// Readiness is the subset of the readiness gate the registry needs.
type Readiness interface {
	IsReady() bool
}

// Capturer performs a synchronous capture.
type Capturer interface {
	Capture(filename string) bool
}

// NativeHooks is the engine's fault-signal hook.
type NativeHooks interface {
	EnableNative() bool
	DisableNative() bool
	NativeEnabled() bool
}

// Config holds the registry's collaborators.
type Config struct {
	Gate     Readiness
	Slot     *Slot
	Capturer Capturer
	Native   NativeHooks

	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)
	// Bus is optional.
	Bus *event.Bus
	// Logger is optional.
	Logger *logging.Logger
}

// Registry toggles the crash hooks.
type Registry struct {
	gate     Readiness
	slot     *Slot
	capturer Capturer
	native   NativeHooks
	exit     func(int)
	bus      *event.Bus
	logger   *logging.Logger

	self *managedHandler

	mu       sync.Mutex
	previous Handler // handler displaced by the most recent enable
}

// New creates a registry.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	exit := cfg.Exit
	if exit == nil {
		exit = os.Exit
	}
	r := &Registry{
		gate:     cfg.Gate,
		slot:     cfg.Slot,
		capturer: cfg.Capturer,
		native:   cfg.Native,
		exit:     exit,
		bus:      cfg.Bus,
		logger:   logger.WithComponent("crashhook"),
	}
	r.self = &managedHandler{r: r}
	return r
}

// Enable installs a hook. It fails with ErrNotReady before initialization.
func (r *Registry) Enable(kind Kind) error {
	if !r.gate.IsReady() {
		return errors.Wrapf(errors.ErrNotReady, "enable %s hook", kind)
	}

	switch kind {
	case Managed:
		r.mu.Lock()
		// A repeated enable keeps the handler recorded by the first one.
		if r.slot.Handler() != Handler(r.self) {
			r.previous = r.slot.Swap(r.self)
		}
		r.mu.Unlock()
	case Native:
		if !r.native.EnableNative() {
			return errors.Wrap(errors.ErrNativeHook, "enable")
		}
	default:
		return errors.NewValidationError("unknown hook kind").WithField("kind").WithValue(int(kind))
	}

	r.logger.WithHook(kind.String()).Info("crash hook enabled")
	r.publish(event.NewHookChangedEvent(kind.String(), true))
	return nil
}

// Disable removes a hook. For Managed it restores the handler that was
// installed right before the most recent Enable, unless another handler
// has since been layered on top, which is left in place.
func (r *Registry) Disable(kind Kind) error {
	if !r.gate.IsReady() {
		return errors.Wrapf(errors.ErrNotReady, "disable %s hook", kind)
	}

	switch kind {
	case Managed:
		r.disableManaged()
	case Native:
		if !r.native.DisableNative() {
			return errors.Wrap(errors.ErrNativeHook, "disable")
		}
	default:
		return errors.NewValidationError("unknown hook kind").WithField("kind").WithValue(int(kind))
	}

	r.logger.WithHook(kind.String()).Info("crash hook disabled")
	r.publish(event.NewHookChangedEvent(kind.String(), false))
	return nil
}

func (r *Registry) disableManaged() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slot.Handler() != Handler(r.self) {
		return
	}
	r.slot.Swap(r.previous)
	r.previous = nil
}

// IsEnabled reports whether a hook is installed. It does not require
// readiness.
func (r *Registry) IsEnabled(kind Kind) bool {
	switch kind {
	case Managed:
		return r.slot.Handler() == Handler(r.self)
	case Native:
		return r.gate.IsReady() && r.native.NativeEnabled()
	default:
		return false
	}
}

// Handler returns the registry's managed handler, for identity checks.
func (r *Registry) Handler() Handler {
	return r.self
}

// fire runs when a guarded panic reaches the managed hook. It always ends
// in exit(ExitStatus), whatever the capture does.
func (r *Registry) fire(v any) {
	logger := r.logger.WithHook(Managed.String())
	defer r.exit(ExitStatus)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("capture from crash hook panicked", "panic", fmt.Sprintf("%v", rec))
		}
	}()

	r.disableManaged()

	reason := fmt.Sprintf("%v", v)
	logger.Error("uncaught panic", "panic", reason, "stack", string(debug.Stack()))
	r.publish(event.NewHookFiredEvent(Managed.String(), reason))

	if !r.capturer.Capture("") {
		logger.Error("crash capture failed", "error", errors.ErrCaptureFailed.Error())
	}
}

func (r *Registry) publish(e event.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

type managedHandler struct {
	r *Registry
}

func (h *managedHandler) HandlePanic(v any) { h.r.fire(v) }
