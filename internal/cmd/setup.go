package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/Iron-Ham/opencore/internal/config"
	"github.com/Iron-Ham/opencore/internal/coredump"
	"github.com/Iron-Ham/opencore/internal/engine"
	"github.com/Iron-Ham/opencore/internal/engine/execengine"
	"github.com/Iron-Ham/opencore/internal/errors"
	"github.com/Iron-Ham/opencore/internal/event"
	"github.com/Iron-Ham/opencore/internal/logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// Wrapper functions to allow testing
var (
	newEngine = func(cfg *config.Config, logger *logging.Logger) engine.Engine {
		return execengine.New(execengine.Config{
			Command:  cfg.Capture.Command,
			Compress: cfg.Capture.Compress,
		}, logger)
	}
	exitProcess = os.Exit
)

// captureFlags returns the flags shared by commands that capture. Each flag
// maps onto a capture.* config key.
func captureFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("capture", pflag.ContinueOnError)
	fs.String("dir", "", "directory for dumps")
	fs.String("content", "", "content flags, e.g. core|pid|timestamp")
	fs.String("vma", "", "VMA filters, e.g. file|shared")
	fs.Int("timeout", 0, "dump timeout in seconds")
	fs.Int64("size-limit", 0, "discard dumps larger than this many bytes")
	fs.String("mode", "", "capture mode (ptrace, copy, copy2)")
	fs.Bool("compress", false, "compress dumps with zstd")
	return fs
}

var captureFlagKeys = map[string]string{
	"dir":        "capture.directory",
	"content":    "capture.content_flags",
	"vma":        "capture.vma_filters",
	"timeout":    "capture.timeout_seconds",
	"size-limit": "capture.size_limit_bytes",
	"mode":       "capture.mode",
	"compress":   "capture.compress",
}

// applyCaptureFlags copies explicitly set capture flags over the loaded
// configuration.
func applyCaptureFlags(fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		// Visit also walks flags set by an earlier Execute on the same command.
		if !f.Changed {
			return
		}
		if key, ok := captureFlagKeys[f.Name]; ok {
			viper.Set(key, f.Value.String())
		}
	})
}

// createLogger creates the logger for a command. With logging enabled it
// writes a rotated opencore.log, otherwise it writes to stderr, as text when
// stderr is a terminal.
func createLogger(cfg *config.Config, stderr io.Writer) *logging.Logger {
	if !cfg.Logging.Enabled {
		return logging.NewWriterLogger(stderr, cfg.Logging.Level, isTerminal(stderr))
	}

	rotationConfig := logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	}

	logger, err := logging.NewLoggerWithRotation(cfg.LogDir(), cfg.Logging.Level, rotationConfig)
	if err != nil {
		// Log creation failure shouldn't prevent a capture
		fmt.Fprintf(stderr, "Warning: failed to create logger: %v\n", err)
		return logging.NopLogger()
	}
	return logger
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the column count of w, or 0 when w is not a terminal.
func terminalWidth(w io.Writer) int {
	if !isTerminal(w) {
		return 0
	}
	width, _, err := term.GetSize(int(w.(*os.File).Fd()))
	if err != nil {
		return 0
	}
	return width
}

// loadConfig returns the validated configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openCoredump initializes the capture subsystem for this process and
// applies the capture section of cfg.
func openCoredump(cfg *config.Config, bus *event.Bus, logger *logging.Logger) (*coredump.Coredump, error) {
	cd := coredump.New(coredump.Options{
		Engine: newEngine(cfg, logger),
		Exit:   exitProcess,
		Bus:    bus,
		Logger: logger,
	})
	if !cd.Initialize() {
		return nil, fmt.Errorf("capture engine unavailable (state: %s)", cd.State())
	}

	values, err := cfg.CaptureValues()
	if err != nil {
		cd.Close()
		return nil, err
	}
	if err := cd.Settings().Apply(values); err != nil {
		cd.Close()
		if errors.IsUserFacing(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to apply capture settings: %w", err)
	}
	return cd, nil
}
