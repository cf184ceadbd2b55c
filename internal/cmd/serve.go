package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/Iron-Ham/opencore/internal/config"
	"github.com/Iron-Ham/opencore/internal/coredump"
	"github.com/Iron-Ham/opencore/internal/crashhook"
	"github.com/Iron-Ham/opencore/internal/engine"
	"github.com/Iron-Ham/opencore/internal/event"
	"github.com/Iron-Ham/opencore/internal/logging"
	"github.com/Iron-Ham/opencore/internal/settings"
	"github.com/Iron-Ham/opencore/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run with crash hooks installed until interrupted",
	Long: `Run in the foreground with the crash hooks from the config installed.

While serving:
  - SIGUSR2 requests a capture of this process
  - changes to the config file are applied to the next capture
  - SIGINT or SIGTERM removes the hooks and exits`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().AddFlagSet(captureFlags())
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	applyCaptureFlags(cmd.Flags())
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := createLogger(cfg, cmd.ErrOrStderr())
	defer func() { _ = logger.Close() }()

	bus := event.NewBus(logger)
	cd, err := openCoredump(cfg, bus, logger)
	if err != nil {
		return err
	}
	defer cd.Close()

	out := cmd.OutOrStdout()
	cd.SetListener(func(o engine.Outcome) { printOutcome(out, o) })
	bus.Subscribe(event.TypeHookChanged, func(e event.Event) {
		if hc, ok := e.(event.HookChangedEvent); ok {
			fmt.Fprintln(out, field("hook", fmt.Sprintf("%s enabled=%v", hc.Kind, hc.Enabled)))
		}
	})

	return withHooks(cd, cfg.Hooks, func() error {
		config.Watch(func(next *config.Config, err error) {
			reloadConfig(cd, bus, next, err, logger)
		})
		return serveLoop(cmd, cd)
	})
}

func serveLoop(cmd *cobra.Command, cd *coredump.Coredump) error {
	out := cmd.OutOrStdout()

	usr2 := make(chan os.Signal, 1)
	signal.Notify(usr2, unix.SIGUSR2)
	defer signal.Stop(usr2)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
	defer stop()

	fmt.Fprintln(out, successStyle.Render("● Serving"),
		mutedStyle.Render(fmt.Sprintf("pid %d, send SIGUSR2 to capture", os.Getpid())))

	for {
		select {
		case <-ctx.Done():
			printStats(out, cd)
			return nil
		case <-usr2:
			cd.Go(func() { cd.CaptureContext(ctx, "") })
		}
	}
}

// withHooks installs hooks, runs fn and removes the hooks again. A panic in
// fn reaches the managed hook while it is still installed.
func withHooks(cd *coredump.Coredump, hooks config.HooksConfig, fn func() error) error {
	if err := applyHooks(cd, hooks); err != nil {
		return err
	}
	defer func() { _ = applyHooks(cd, config.HooksConfig{}) }()
	defer cd.Slot().Recover()

	return fn()
}

// applyHooks brings the installed hooks in line with hooks.
func applyHooks(cd *coredump.Coredump, hooks config.HooksConfig) error {
	var failed []string
	set := func(kind crashhook.Kind, on bool) {
		if on == cd.IsEnabled(kind) {
			return
		}
		var ok bool
		if on {
			ok = cd.Enable(kind)
		} else {
			ok = cd.Disable(kind)
		}
		if !ok {
			failed = append(failed, kind.String())
		}
	}
	set(crashhook.Managed, hooks.Managed)
	set(crashhook.Native, hooks.Native)

	if len(failed) > 0 {
		return fmt.Errorf("failed to update crash hooks: %s", strings.Join(failed, ", "))
	}
	return nil
}

// reloadConfig applies a reloaded configuration. Captures already admitted
// keep the settings they started with.
func reloadConfig(cd *coredump.Coredump, bus *event.Bus, next *config.Config, loadErr error, logger *logging.Logger) {
	path := viper.ConfigFileUsed()
	err := loadErr
	if err == nil {
		var values settings.Values
		if values, err = next.CaptureValues(); err == nil {
			err = cd.Settings().Apply(values)
		}
		if err == nil {
			err = applyHooks(cd, next.Hooks)
		}
	}

	if err != nil {
		logger.Warn("config reload rejected", "path", path, "error", err.Error())
	} else {
		logger.Info("config reloaded", "path", path)
	}
	bus.Publish(event.NewConfigReloadedEvent(path, err))
}

func printOutcome(w io.Writer, o engine.Outcome) {
	source := fmt.Sprintf("seq %d", o.Seq)
	if o.Unsolicited() {
		source = "native hook"
	}
	line := errorStyle.Render("✗ Capture failed") + " " + mutedStyle.Render("("+source+")")
	if o.Succeeded {
		line = successStyle.Render("✓ Captured") + " " + o.FilePath + " " + mutedStyle.Render("("+source+")")
	}
	if width := terminalWidth(w); width > 0 {
		line = util.TruncateANSI(line, width)
	}
	fmt.Fprintln(w, line)
}

func printStats(w io.Writer, cd *coredump.Coredump) {
	s := cd.Stats()
	fmt.Fprintln(w, field("requests", s.Requests))
	fmt.Fprintln(w, field("succeeded", s.Succeeded))
	fmt.Fprintln(w, field("failed", s.Failed))
	fmt.Fprintln(w, field("interrupted", s.Interrupted))
	fmt.Fprintln(w, field("unsolicited", s.Unsolicited))
}
