package execengine

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// EnableNative starts handling FaultSignals. Only asynchronously delivered
// signals reach the hook: faults raised by Go code itself become runtime
// panics, which the managed hook covers.
func (e *Engine) EnableNative() bool {
	e.nativeMu.Lock()
	defer e.nativeMu.Unlock()

	if e.sigCh != nil {
		return true
	}
	e.sigCh = make(chan os.Signal, 1)
	e.stop = make(chan struct{})
	signal.Notify(e.sigCh, FaultSignals...)
	go e.watch(e.sigCh, e.stop)

	e.logger.Info("native fault hook installed")
	return true
}

// DisableNative restores the default disposition of FaultSignals.
func (e *Engine) DisableNative() bool {
	e.nativeMu.Lock()
	defer e.nativeMu.Unlock()

	if e.sigCh == nil {
		return true
	}
	signal.Stop(e.sigCh)
	signal.Reset(FaultSignals...)
	close(e.stop)
	e.sigCh, e.stop = nil, nil

	e.logger.Info("native fault hook removed")
	return true
}

func (e *Engine) NativeEnabled() bool {
	e.nativeMu.Lock()
	defer e.nativeMu.Unlock()
	return e.sigCh != nil
}

func (e *Engine) watch(ch <-chan os.Signal, stop <-chan struct{}) {
	select {
	case sig := <-ch:
		e.handleFault(sig)
	case <-stop:
	}
}

// handleFault disables the hook, dumps, and re-raises sig so the process
// dies the way it would have without the hook. The dump is reported through
// the fault completion, never the one serving Capture callers.
func (e *Engine) handleFault(sig os.Signal) {
	logger := e.logger.WithHook("native").With("signal", sig.String())
	logger.Error("fault signal received")

	e.DisableNative()
	e.mu.Lock()
	complete := e.faultCompletion
	e.mu.Unlock()
	if !e.capture(unix.Gettid(), "", complete) {
		logger.Error("native capture could not start")
	}
	e.cfg.Raise(sig)
}

func raise(sig os.Signal) {
	signal.Reset(sig)
	if s, ok := sig.(unix.Signal); ok {
		_ = unix.Kill(os.Getpid(), s)
	}
}
