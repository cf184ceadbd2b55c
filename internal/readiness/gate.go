// Package readiness tracks whether the capture engine is loaded and gates
// every other opencore operation on it.
package readiness

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/opencore/internal/errors"
	"github.com/Iron-Ham/opencore/internal/logging"
)

// State is the lifecycle of the capture subsystem.
type State int32

const (
	Unloaded State = iota
	Loading
	Ready
	// LoadFailed is permanent for the lifetime of the gate.
	LoadFailed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case LoadFailed:
		return "load_failed"
	default:
		return "unknown"
	}
}

// Settled reports whether the state can no longer change.
func (s State) Settled() bool {
	return s == Ready || s == LoadFailed
}

// Gate runs engine bootstrap once and publishes the result.
type Gate struct {
	state  atomic.Int32
	initMu sync.Mutex // serializes bootstrap
	logger *logging.Logger
}

// New creates a gate in the Unloaded state. A nil logger discards output.
func New(logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Gate{logger: logger.WithComponent("readiness")}
}

// IsReady is a lock-free read, safe from any goroutine including a crash
// hook.
func (g *Gate) IsReady() bool {
	return State(g.state.Load()) == Ready
}

// State returns the current state.
func (g *Gate) State() State {
	return State(g.state.Load())
}

// Initialize runs load, then onReady, exactly once across all callers.
// Concurrent callers block until the first one settles the gate. Once Ready
// or LoadFailed, later calls return immediately without running anything.
//
// A load error or panic leaves the gate LoadFailed. A load that returns
// context.Canceled is treated as abandoned and the gate returns to Unloaded
// so a later call may retry.
//
// settled is true only for the call that moved the gate to Ready or
// LoadFailed.
func (g *Gate) Initialize(load func() error, onReady func()) (state State, settled bool) {
	if s := g.State(); s.Settled() {
		return s, false
	}

	g.initMu.Lock()
	defer g.initMu.Unlock()

	if s := g.State(); s.Settled() {
		return s, false
	}

	g.state.Store(int32(Loading))
	g.logger.Info("loading capture engine")

	err := g.run(load)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		g.logger.Warn("capture engine load abandoned", "error", err.Error())
		g.state.Store(int32(Unloaded))
		return Unloaded, false
	default:
		g.logger.Error("capture engine failed to load", "error", err.Error())
		g.state.Store(int32(LoadFailed))
		return LoadFailed, true
	}

	if onReady != nil {
		if err := g.run(func() error { onReady(); return nil }); err != nil {
			g.logger.Error("capture subsystem setup failed", "error", err.Error())
			g.state.Store(int32(LoadFailed))
			return LoadFailed, true
		}
	}

	g.state.Store(int32(Ready))
	g.logger.Info("capture subsystem ready")
	return Ready, true
}

// run calls fn, converting a panic into an ErrEngineLoad error.
func (g *Gate) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(errors.ErrEngineLoad, fmt.Sprintf("panic: %v", r))
		}
	}()
	if fn == nil {
		return nil
	}
	return fn()
}
