package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/Iron-Ham/opencore/internal/engine"
	"github.com/Iron-Ham/opencore/internal/util"
	"github.com/spf13/cobra"
)

var captureCmd = &cobra.Command{
	Use:   "capture [filename]",
	Short: "Capture a coredump of this process",
	Long: `Capture a coredump of the opencore process itself and report where it
was written. Without a filename the dump is named from the content flags
and placed in the capture directory. A relative filename is resolved
against the capture directory.

Useful to check that the dump tool, permissions and settings work on this
host before relying on crash hooks.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCapture,
}

var captureWait time.Duration

func init() {
	captureCmd.Flags().AddFlagSet(captureFlags())
	captureCmd.Flags().DurationVar(&captureWait, "wait", 0, "stop waiting after this long (0 waits for the engine timeout)")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	applyCaptureFlags(cmd.Flags())
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := createLogger(cfg, cmd.ErrOrStderr())
	defer func() { _ = logger.Close() }()

	cd, err := openCoredump(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer cd.Close()

	outcomes := make(chan engine.Outcome, 1)
	cd.SetListener(func(o engine.Outcome) {
		select {
		case outcomes <- o:
		default:
		}
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if captureWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, captureWait)
		defer cancel()
	}

	filename := ""
	if len(args) > 0 {
		filename = args[0]
	}

	out := cmd.OutOrStdout()
	start := time.Now()
	if !cd.CaptureContext(ctx, filename) {
		if ctx.Err() != nil {
			fmt.Fprintln(out, errorStyle.Render("✗ Stopped waiting for the capture"))
			return fmt.Errorf("capture interrupted: %w", ctx.Err())
		}
		fmt.Fprintln(out, errorStyle.Render("✗ Capture failed"))
		return fmt.Errorf("no coredump was produced (see log for details)")
	}

	outcome := <-outcomes
	path := outcome.FilePath
	if width := terminalWidth(out); width > 0 {
		path = util.TruncatePath(path, width-labelStyle.GetWidth()-1)
	}
	fmt.Fprintln(out, successStyle.Render("✓ Captured coredump"))
	fmt.Fprintln(out, field("path", path))
	fmt.Fprintln(out, field("seq", outcome.Seq))
	fmt.Fprintln(out, field("engine", cd.Version()))
	fmt.Fprintln(out, field("elapsed", time.Since(start).Round(time.Millisecond)))
	return nil
}
