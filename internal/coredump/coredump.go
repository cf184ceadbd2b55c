// Package coredump is the application-facing entry point. A Coredump wires
// the readiness gate, settings store, coordinator, notifier and crash hooks
// around one capture engine.
//
// Typical use:
//
//	cd := coredump.New(coredump.Options{Engine: execengine.New(cfg, logger), Logger: logger})
//	if !cd.Initialize() {
//	    return errors.ErrEngineLoad
//	}
//	cd.SetDirectory("/var/crash")
//	cd.Enable(crashhook.Native)
//	cd.Capture("")
package coredump

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Iron-Ham/opencore/internal/coordinator"
	"github.com/Iron-Ham/opencore/internal/crashhook"
	"github.com/Iron-Ham/opencore/internal/engine"
	"github.com/Iron-Ham/opencore/internal/errors"
	"github.com/Iron-Ham/opencore/internal/event"
	"github.com/Iron-Ham/opencore/internal/lane"
	"github.com/Iron-Ham/opencore/internal/logging"
	"github.com/Iron-Ham/opencore/internal/notify"
	"github.com/Iron-Ham/opencore/internal/readiness"
	"github.com/Iron-Ham/opencore/internal/settings"
)

// Lane names.
const (
	CaptureLane    = "capture"
	CompletionLane = "completion"
)

// Options configures a Coredump. Engine is required.
type Options struct {
	Engine engine.Engine

	// Slot receives the managed crash hook. A new slot is created if nil.
	Slot *crashhook.Slot
	// Exit terminates the process after the managed hook fires.
	Exit   func(code int)
	Bus    *event.Bus
	Logger *logging.Logger
}

// Coredump is the capture subsystem for one process.
type Coredump struct {
	eng    engine.Engine
	slot   *crashhook.Slot
	bus    *event.Bus
	logger *logging.Logger

	gate     *readiness.Gate
	store    *settings.Store
	notifier *notify.Notifier
	coord    *coordinator.Coordinator
	hooks    *crashhook.Registry

	lanesMu    sync.Mutex
	capture    *lane.Lane
	completion *lane.Lane
}

// New builds an uninitialized Coredump. Nothing touches the engine until
// Initialize.
func New(opts Options) *Coredump {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	slot := opts.Slot
	if slot == nil {
		slot = crashhook.NewSlot()
	}

	c := &Coredump{
		eng:    opts.Engine,
		slot:   slot,
		bus:    opts.Bus,
		logger: logger,
		gate:   readiness.New(logger),
	}
	c.store = settings.New(c.gate, c.eng, logger)
	c.notifier = notify.New(c.bus, logger)
	c.coord = coordinator.New(coordinator.Config{
		Gate:     c.gate,
		Engine:   c.eng,
		Notifier: c.notifier,
		Bus:      c.bus,
		Logger:   logger,
	})
	c.hooks = crashhook.New(crashhook.Config{
		Gate:     c.gate,
		Slot:     slot,
		Capturer: c.coord,
		Native:   c.eng,
		Exit:     opts.Exit,
		Bus:      c.bus,
		Logger:   logger,
	})
	return c
}

// Initialize loads the engine and starts the lanes, once. Later calls
// return the settled result without side effects.
func (c *Coredump) Initialize() bool {
	state, settled := c.gate.Initialize(c.load, c.startLanes)
	if settled && c.bus != nil {
		c.bus.Publish(event.NewReadinessChangedEvent(state.String()))
	}
	return state == readiness.Ready
}

func (c *Coredump) load() error {
	if c.eng == nil {
		return errors.NewEngineError("no engine configured", errors.ErrEngineLoad)
	}
	if err := c.eng.Load(); err != nil {
		return errors.NewEngineError("load", errors.Join(errors.ErrEngineLoad, err)).
			WithOperation("load")
	}
	c.eng.SetCompletion(c.coord.Complete)
	c.eng.SetFaultCompletion(c.coord.CompleteUnsolicited)
	c.logger.Info("capture engine loaded", "version", c.eng.Version())
	return nil
}

func (c *Coredump) startLanes() {
	c.lanesMu.Lock()
	defer c.lanesMu.Unlock()

	c.capture = lane.New(CaptureLane, c.logger)
	c.completion = lane.New(CompletionLane, c.logger)
	c.coord.Attach(c.capture)
	c.notifier.Attach(c.completion)
}

// Lanes returns the capture and completion lanes, nil before ready.
func (c *Coredump) Lanes() (capture, completion *lane.Lane) {
	c.lanesMu.Lock()
	defer c.lanesMu.Unlock()
	return c.capture, c.completion
}

// IsReady reports whether Initialize succeeded.
func (c *Coredump) IsReady() bool { return c.gate.IsReady() }

// State returns the readiness state.
func (c *Coredump) State() readiness.State { return c.gate.State() }

// Version returns the engine version, or "" before ready.
func (c *Coredump) Version() string {
	if !c.gate.IsReady() {
		return ""
	}
	return c.eng.Version()
}

// SetListener registers fn to receive every capture outcome on the
// completion lane. nil unregisters.
func (c *Coredump) SetListener(fn notify.Listener) {
	c.notifier.SetListener(fn)
}

// Enable installs a crash hook. It returns false before ready.
func (c *Coredump) Enable(kind crashhook.Kind) bool {
	return c.logged(c.hooks.Enable(kind), "enable hook", "kind", kind.String())
}

// Disable removes a crash hook. It returns false before ready.
func (c *Coredump) Disable(kind crashhook.Kind) bool {
	return c.logged(c.hooks.Disable(kind), "disable hook", "kind", kind.String())
}

// IsEnabled reports whether a crash hook is installed.
func (c *Coredump) IsEnabled(kind crashhook.Kind) bool {
	return c.hooks.IsEnabled(kind)
}

// Slot returns the panic slot the managed hook is installed into.
// Guard goroutines with Go or `defer cd.Slot().Recover()`.
func (c *Coredump) Slot() *crashhook.Slot { return c.slot }

// Go runs fn on a goroutine whose panics reach the managed hook.
func (c *Coredump) Go(fn func()) { c.slot.Go(fn) }

// Capture requests a dump and blocks until it is captured and delivered.
// It returns false before ready or when no dump was produced.
func (c *Coredump) Capture(filename string) bool {
	return c.coord.Capture(filename)
}

// CaptureContext is Capture with a cancellable wait.
func (c *Coredump) CaptureContext(ctx context.Context, filename string) bool {
	return c.coord.CaptureContext(ctx, filename)
}

// Stats returns capture counters.
func (c *Coredump) Stats() coordinator.Stats { return c.coord.Stats() }

// Settings exposes the settings store for bulk updates and verification.
func (c *Coredump) Settings() *settings.Store { return c.store }

func (c *Coredump) SetDirectory(dir string) bool {
	return c.logged(c.store.SetDirectory(dir), "set directory")
}

func (c *Coredump) SetContentFlags(flags engine.ContentFlag) bool {
	return c.logged(c.store.SetContentFlags(flags), "set content flags")
}

func (c *Coredump) SetVMAFilter(filter engine.VMAFilter) bool {
	return c.logged(c.store.SetVMAFilter(filter), "set vma filter")
}

func (c *Coredump) SetTimeout(seconds int) bool {
	return c.logged(c.store.SetTimeout(seconds), "set timeout")
}

func (c *Coredump) SetSizeLimit(bytes int64) bool {
	return c.logged(c.store.SetSizeLimit(bytes), "set size limit")
}

func (c *Coredump) SetMode(mode engine.Mode) bool {
	return c.logged(c.store.SetMode(mode), "set mode")
}

func (c *Coredump) Directory() string { return c.store.Directory() }
func (c *Coredump) ContentFlags() engine.ContentFlag { return c.store.ContentFlags() }
func (c *Coredump) VMAFilter() engine.VMAFilter { return c.store.VMAFilter() }
func (c *Coredump) Timeout() int { return c.store.Timeout() }
func (c *Coredump) SizeLimit() int64 { return c.store.SizeLimit() }
func (c *Coredump) Mode() engine.Mode { return c.store.Mode() }

// Close drains and stops both lanes. Captures after Close return false.
func (c *Coredump) Close() {
	capture, completion := c.Lanes()
	if capture != nil {
		capture.Close()
	}
	if completion != nil {
		completion.Close()
	}
}

// logged converts an error into the boolean result of a public operation.
func (c *Coredump) logged(err error, op string, args ...any) bool {
	if err == nil {
		return true
	}
	level := errors.GetSeverity(err).Level()
	if errors.Is(err, errors.ErrNotReady) {
		level = slog.LevelDebug
	}
	c.logger.Log(level, op+" failed", append(args, "error", err.Error())...)
	return false
}
