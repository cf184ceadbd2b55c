// Package execengine is a capture engine that snapshots the current
// process by running gdb's gcore against it.
//
// Around each capture the process is made dumpable and traceable by any
// process, and its /proc coredump_filter is narrowed to honour the
// configured VMA filters. Everything is restored afterwards. Dumps larger
// than the size limit are discarded. With compression on, dumps are
// written as zstd streams with a ".zst" suffix.
package execengine

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/opencore/internal/engine"
	"github.com/Iron-Ham/opencore/internal/errors"
	"github.com/Iron-Ham/opencore/internal/logging"
)

// DefaultCommand is the dump tool looked up on PATH.
const DefaultCommand = "gcore"

// FaultSignals are the signals the native hook handles.
var FaultSignals = []os.Signal{unix.SIGSEGV, unix.SIGABRT, unix.SIGBUS, unix.SIGILL, unix.SIGFPE}

// Runner executes the dump tool. It must honour ctx cancellation.
type Runner func(ctx context.Context, name string, args ...string) error

// Config configures the engine.
type Config struct {
	// Command is the dump tool. Defaults to DefaultCommand.
	Command string
	// Compress writes dumps through zstd.
	Compress bool

	// Run replaces process execution, for tests.
	Run Runner
	// Raise re-delivers a fault signal after the native hook captured.
	// Defaults to resetting the handler and signalling the process.
	Raise func(sig os.Signal)
}

// Engine implements engine.Engine with an external dump tool.
type Engine struct {
	cfg    Config
	logger *logging.Logger

	mu              sync.Mutex
	path            string // resolved command, set by Load
	completion      engine.CompletionFunc
	faultCompletion engine.CompletionFunc
	dir             string
	flags           engine.ContentFlag
	filter          engine.VMAFilter
	timeout         int
	limit           int64
	mode            engine.Mode

	captureMu sync.Mutex // one dump at a time, including native captures

	nativeMu sync.Mutex
	sigCh    chan os.Signal
	stop     chan struct{}
}

// New creates an unloaded engine.
func New(cfg Config, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.Run == nil {
		cfg.Run = runCommand
	}
	if cfg.Raise == nil {
		cfg.Raise = raise
	}
	return &Engine{
		cfg:     cfg,
		logger:  logger.WithComponent("execengine"),
		flags:   engine.DefaultContentFlags,
		timeout: engine.DefaultTimeoutSeconds,
		limit:   engine.DefaultSizeLimitBytes,
		mode:    engine.DefaultMode,
	}
}

// Load resolves the dump tool on PATH.
func (e *Engine) Load() error {
	path, err := exec.LookPath(e.cfg.Command)
	if err != nil {
		return errors.NewEngineError("dump tool not found", err).
			WithEngine(e.cfg.Command).WithOperation("load")
	}
	e.mu.Lock()
	e.path = path
	e.mu.Unlock()
	return nil
}

func (e *Engine) Version() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.path == "" {
		return "execengine"
	}
	return "execengine (" + e.path + ")"
}

func (e *Engine) SetCompletion(fn engine.CompletionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completion = fn
}

func (e *Engine) SetFaultCompletion(fn engine.CompletionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faultCompletion = fn
}

// Capture writes a dump and always signals completion once it has started.
// It returns false only when the engine is not loaded.
func (e *Engine) Capture(tid int, filename string) bool {
	e.mu.Lock()
	complete := e.completion
	e.mu.Unlock()
	return e.capture(tid, filename, complete)
}

// capture writes a dump and reports it to complete.
func (e *Engine) capture(tid int, filename string, complete engine.CompletionFunc) bool {
	e.mu.Lock()
	loaded := e.path != ""
	cfg := captureConfig{
		command: e.path,
		dir:     e.dir,
		flags:   e.flags,
		filter:  e.filter,
		timeout: time.Duration(e.timeout) * time.Second,
		limit:   e.limit,
	}
	e.mu.Unlock()

	if !loaded {
		e.logger.Warn("capture requested before load")
		return false
	}
	if complete == nil {
		complete = func(string) {}
	}

	e.captureMu.Lock()
	defer e.captureMu.Unlock()

	path := engine.ResolvePath(cfg.dir, filename, cfg.flags, engine.CurrentNameInfo(tid))
	logger := e.logger.With("tid", tid, "path", path)

	final, err := e.dump(cfg, path, logger)
	if err != nil {
		logger.Log(errors.GetSeverity(err).Level(), "capture failed",
			"error", err.Error(), "retryable", errors.IsRetryable(err))
		complete("")
		return true
	}

	logger.Info("capture written", "file", final)
	complete(final)
	return true
}

type captureConfig struct {
	command string
	dir     string
	flags   engine.ContentFlag
	filter  engine.VMAFilter
	timeout time.Duration
	limit   int64
}

func (e *Engine) dump(cfg captureConfig, path string, logger *logging.Logger) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.Wrap(err, "create dump directory")
	}

	restore := preparePermissions(logger)
	defer restore()
	restoreFilter := applyFilter(cfg.filter, logger)
	defer restoreFilter()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	pid := os.Getpid()
	prefix := path + ".tmp"
	produced := prefix + "." + strconv.Itoa(pid)
	defer os.Remove(produced)

	start := time.Now()
	err := e.cfg.Run(ctx, cfg.command, "-o", prefix, strconv.Itoa(pid))
	if ctx.Err() == context.DeadlineExceeded {
		return "", errors.NewTimeoutError(cfg.command, cfg.timeout).WithCause(err)
	}
	if err != nil {
		return "", errors.NewCaptureError("dump tool failed", err).WithFilename(path)
	}
	logger.Debug("dump tool finished", "duration_ms", time.Since(start).Milliseconds())

	info, err := os.Stat(produced)
	if err != nil {
		return "", errors.NewCaptureError("dump tool produced no file", errors.ErrCaptureFailed).WithFilename(produced)
	}
	if cfg.limit > 0 && info.Size() > cfg.limit {
		return "", errors.NewCaptureError(
			fmt.Sprintf("dump is %d bytes, limit %d", info.Size(), cfg.limit),
			errors.ErrSizeLimit,
		).WithFilename(path).WithSeverity(errors.SeverityWarning)
	}

	if !e.cfg.Compress {
		if err := os.Rename(produced, path); err != nil {
			return "", errors.Wrap(err, "move dump into place")
		}
		return path, nil
	}

	final := path + ".zst"
	if err := compressFile(produced, final); err != nil {
		os.Remove(final)
		return "", errors.Wrap(err, "compress dump")
	}
	return final, nil
}

// compressFile streams src into a zstd-compressed dst.
func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		out.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil && len(out) > 0 {
		return fmt.Errorf("%w: %s", err, lastLine(out))
	}
	return err
}

func lastLine(out []byte) string {
	end := len(out)
	for end > 0 && (out[end-1] == '\n' || out[end-1] == '\r') {
		end--
	}
	start := end
	for start > 0 && out[start-1] != '\n' {
		start--
	}
	return string(out[start:end])
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

// SetTimeout ignores non-positive values.
func (e *Engine) SetTimeout(seconds int) {
	if seconds <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeout = seconds
}

func (e *Engine) SetSizeLimit(bytes int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limit = bytes
}

// SetMode records the mode. gcore always attaches with ptrace, so the mode
// is informational for this engine.
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
