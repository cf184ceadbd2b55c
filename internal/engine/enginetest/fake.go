// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/Iron-Ham/opencore/internal/engine"
)

// Call records one Capture invocation.
type Call struct {
	TID      int
	Filename string
	Start    time.Time
	End      time.Time
}

// Engine is a fake capture engine. By default Capture completes
// synchronously with <dir>/<filename> (or a default name) and returns true.
// Hooks change that per test. All methods are safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	// LoadErr is returned from Load.
	LoadErr error
	// CaptureHook, when set, replaces the default capture behaviour. It
	// receives the completion func so it can signal from any goroutine.
	CaptureHook func(tid int, filename string, complete engine.CompletionFunc) bool
	// Delay is slept inside Capture before completing.
	Delay time.Duration

	loads           int
	native          bool
	completion      engine.CompletionFunc
	faultCompletion engine.CompletionFunc

	dir     string
	flags   engine.ContentFlag
	filter  engine.VMAFilter
	timeout int
	limit   int64
	mode    engine.Mode

	calls         []Call
	active        int
	maxConcurrent int
}

// New returns a fake with the engine defaults applied.
func New() *Engine {
	return &Engine{
		flags:   engine.DefaultContentFlags,
		timeout: engine.DefaultTimeoutSeconds,
		limit:   engine.DefaultSizeLimitBytes,
		mode:    engine.DefaultMode,
	}
}

func (e *Engine) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads++
	return e.LoadErr
}

// Loads returns how many times Load ran.
func (e *Engine) Loads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}

func (e *Engine) Version() string { return "fake-1.0" }

func (e *Engine) EnableNative() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.native = true
	return true
}

func (e *Engine) DisableNative() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.native = false
	return true
}

func (e *Engine) NativeEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.native
}

func (e *Engine) Capture(tid int, filename string) bool {
	e.mu.Lock()
	e.active++
	if e.active > e.maxConcurrent {
		e.maxConcurrent = e.active
	}
	idx := len(e.calls)
	e.calls = append(e.calls, Call{TID: tid, Filename: filename, Start: time.Now()})
	hook, delay, complete, dir := e.CaptureHook, e.Delay, e.completion, e.dir
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.calls[idx].End = time.Now()
		e.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}
	if complete == nil {
		complete = func(string) {}
	}
	if hook != nil {
		return hook(tid, filename, complete)
	}

	path := filename
	if path == "" {
		path = "core.fake"
	}
	if dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	complete(path)
	return true
}

// Calls returns a copy of the recorded captures.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// MaxConcurrent is the highest number of simultaneous Capture calls seen.
func (e *Engine) MaxConcurrent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxConcurrent
}

// Complete fires the Capture completion func outside of any Capture call.
func (e *Engine) Complete(path string) {
	e.mu.Lock()
	fn := e.completion
	e.mu.Unlock()
	if fn != nil {
		fn(path)
	}
}

func (e *Engine) SetCompletion(fn engine.CompletionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completion = fn
}

// Fault fires the fault completion func as if the engine had finished a
// capture started by its own fault hook.
func (e *Engine) Fault(path string) {
	e.mu.Lock()
	fn := e.faultCompletion
	e.mu.Unlock()
	if fn != nil {
		fn(path)
	}
}

func (e *Engine) SetFaultCompletion(fn engine.CompletionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faultCompletion = fn
}

func (e *Engine) SetDirectory(dir string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dir = dir
}

func (e *Engine) SetContentFlags(flags engine.ContentFlag) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flags = flags
}

func (e *Engine) SetVMAFilter(filter engine.VMAFilter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filter = filter
}

func (e *Engine) SetTimeout(seconds int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seconds > 0 {
		e.timeout = seconds
	}
}

func (e *Engine) SetSizeLimit(bytes int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limit = bytes
}

func (e *Engine) SetMode(mode engine.Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode.Clamp()
}

func (e *Engine) Directory() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir
}

func (e *Engine) ContentFlags() engine.ContentFlag {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flags
}

func (e *Engine) VMAFilter() engine.VMAFilter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filter
}

func (e *Engine) Timeout() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeout
}

func (e *Engine) SizeLimit() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limit
}

func (e *Engine) Mode() engine.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

var _ engine.Engine = (*Engine)(nil)
