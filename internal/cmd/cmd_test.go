package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/opencore/internal/config"
	"github.com/Iron-Ham/opencore/internal/crashhook"
	"github.com/Iron-Ham/opencore/internal/engine"
	"github.com/Iron-Ham/opencore/internal/engine/enginetest"
	"github.com/Iron-Ham/opencore/internal/event"
	"github.com/Iron-Ham/opencore/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// setupTestEnvironment isolates config lookup and swaps in a fake engine.
func setupTestEnvironment(t *testing.T, fake *enginetest.Engine) {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	viper.Reset()
	resetFlags(rootCmd)

	origEngine, origExit := newEngine, exitProcess
	newEngine = func(*config.Config, *logging.Logger) engine.Engine { return fake }
	exitProcess = func(int) {}
	t.Cleanup(func() {
		newEngine, exitProcess = origEngine, origExit
		viper.Reset()
		resetFlags(rootCmd)
	})
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "opencore" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "opencore")
	}

	expectedCmds := []string{"capture", "serve", "flags", "config", "version"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, name := range expectedCmds {
		if !cmdMap[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestCaptureCommand(t *testing.T) {
	t.Run("captures into the directory flag", func(t *testing.T) {
		fake := enginetest.New()
		setupTestEnvironment(t, fake)
		dir := t.TempDir()

		out, err := executeCommand(rootCmd, "capture", "--dir", dir, "--timeout", "30", "app.core")
		if err != nil {
			t.Fatalf("capture failed: %v\n%s", err, out)
		}
		if !strings.Contains(out, "Captured coredump") {
			t.Errorf("output missing success line:\n%s", out)
		}
		if !strings.Contains(out, filepath.Join(dir, "app.core")) {
			t.Errorf("output missing dump path:\n%s", out)
		}
		if fake.Timeout() != 30 {
			t.Errorf("engine timeout = %d, want 30", fake.Timeout())
		}
		if calls := fake.Calls(); len(calls) != 1 || calls[0].Filename != "app.core" {
			t.Errorf("unexpected engine calls: %+v", calls)
		}
	})

	t.Run("engine declines", func(t *testing.T) {
		fake := enginetest.New()
		fake.CaptureHook = func(int, string, engine.CompletionFunc) bool { return false }
		setupTestEnvironment(t, fake)

		out, err := executeCommand(rootCmd, "capture")
		if err == nil {
			t.Fatal("expected error when no dump is produced")
		}
		if !strings.Contains(out, "Capture failed") {
			t.Errorf("output missing failure line:\n%s", out)
		}
	})

	t.Run("engine unavailable", func(t *testing.T) {
		fake := enginetest.New()
		fake.LoadErr = errors.New("gcore not found")
		setupTestEnvironment(t, fake)

		_, err := executeCommand(rootCmd, "capture")
		if err == nil || !strings.Contains(err.Error(), "capture engine unavailable") {
			t.Errorf("err = %v, want engine unavailable", err)
		}
	})

	t.Run("flags from an earlier run are not reapplied", func(t *testing.T) {
		fake := enginetest.New()
		setupTestEnvironment(t, fake)

		if out, err := executeCommand(rootCmd, "capture", "--timeout", "30"); err != nil {
			t.Fatalf("first capture failed: %v\n%s", err, out)
		}
		resetFlags(rootCmd)
		viper.Reset()

		if out, err := executeCommand(rootCmd, "capture"); err != nil {
			t.Fatalf("second capture failed: %v\n%s", err, out)
		}
		if fake.Timeout() != engine.DefaultTimeoutSeconds {
			t.Errorf("engine timeout = %d, want %d", fake.Timeout(), engine.DefaultTimeoutSeconds)
		}
	})

	t.Run("invalid flag value", func(t *testing.T) {
		setupTestEnvironment(t, enginetest.New())

		_, err := executeCommand(rootCmd, "capture", "--mode", "fork")
		if err == nil || !strings.Contains(err.Error(), "capture.mode") {
			t.Errorf("err = %v, want capture.mode validation error", err)
		}
	})
}

func TestFlagsCommand(t *testing.T) {
	setupTestEnvironment(t, enginetest.New())

	tests := []struct {
		args []string
		want []string
	}{
		{[]string{"flags", "content", "core|tid"}, []string{"core|tid", "0x11", "core._"}},
		{[]string{"flags", "vma", "0x6"}, []string{"file|shared", "0x6"}},
		{[]string{"flags", "mode", "7"}, []string{"copy2", "4"}},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args[1:], " "), func(t *testing.T) {
			out, err := executeCommand(rootCmd, tt.args...)
			if err != nil {
				t.Fatalf("flags failed: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}

	t.Run("unknown kind", func(t *testing.T) {
		if _, err := executeCommand(rootCmd, "flags", "color", "red"); err == nil {
			t.Error("expected error for unknown kind")
		}
	})

	t.Run("unknown name", func(t *testing.T) {
		if _, err := executeCommand(rootCmd, "flags", "content", "core|bogus"); err == nil {
			t.Error("expected error for unknown flag name")
		}
	})
}

func TestConfigCommands(t *testing.T) {
	setupTestEnvironment(t, enginetest.New())

	out, err := executeCommand(rootCmd, "config", "init")
	if err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(out, config.ConfigFile()) {
		t.Errorf("init output missing path:\n%s", out)
	}

	data, err := os.ReadFile(config.ConfigFile())
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "timeout_seconds: 120") {
		t.Errorf("config file missing defaults:\n%s", data)
	}

	if _, err := executeCommand(rootCmd, "config", "init"); err == nil {
		t.Error("second init should fail when the file exists")
	}

	out, err = executeCommand(rootCmd, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, config.ConfigFile()) || !strings.Contains(out, "mode: copy2") {
		t.Errorf("unexpected show output:\n%s", out)
	}

	out, err = executeCommand(rootCmd, "config", "path")
	if err != nil {
		t.Fatalf("config path failed: %v", err)
	}
	if !strings.Contains(out, "Active config") {
		t.Errorf("unexpected path output:\n%s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	t.Run("engine loaded", func(t *testing.T) {
		setupTestEnvironment(t, enginetest.New())
		out, err := executeCommand(rootCmd, "version")
		if err != nil {
			t.Fatalf("version failed: %v", err)
		}
		if !strings.Contains(out, Version) || !strings.Contains(out, "fake-1.0") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("engine unavailable", func(t *testing.T) {
		fake := enginetest.New()
		fake.LoadErr = errors.New("missing")
		setupTestEnvironment(t, fake)
		out, err := executeCommand(rootCmd, "version")
		if err != nil {
			t.Fatalf("version failed: %v", err)
		}
		if !strings.Contains(out, "unavailable") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})
}

func TestApplyHooks(t *testing.T) {
	fake := enginetest.New()
	setupTestEnvironment(t, fake)

	cd, err := openCoredump(config.Default(), nil, logging.NopLogger())
	if err != nil {
		t.Fatalf("openCoredump failed: %v", err)
	}
	defer cd.Close()

	if err := applyHooks(cd, config.HooksConfig{Managed: true, Native: true}); err != nil {
		t.Fatalf("applyHooks failed: %v", err)
	}
	if !cd.IsEnabled(crashhook.Managed) || !fake.NativeEnabled() {
		t.Error("both hooks should be enabled")
	}

	if err := applyHooks(cd, config.HooksConfig{Managed: true}); err != nil {
		t.Fatalf("applyHooks failed: %v", err)
	}
	if !cd.IsEnabled(crashhook.Managed) || fake.NativeEnabled() {
		t.Error("only the managed hook should remain")
	}

	if err := applyHooks(cd, config.HooksConfig{}); err != nil {
		t.Fatalf("applyHooks failed: %v", err)
	}
	if cd.IsEnabled(crashhook.Managed) {
		t.Error("managed hook should be disabled")
	}
}

func TestWithHooksPanic(t *testing.T) {
	fake := enginetest.New()
	setupTestEnvironment(t, fake)

	var mu sync.Mutex
	var exits []int
	exitProcess = func(code int) {
		mu.Lock()
		exits = append(exits, code)
		mu.Unlock()
	}

	cd, err := openCoredump(config.Default(), nil, logging.NopLogger())
	if err != nil {
		t.Fatalf("openCoredump failed: %v", err)
	}
	defer cd.Close()

	err = withHooks(cd, config.HooksConfig{Managed: true}, func() error {
		panic("serve loop failed")
	})
	if err != nil {
		t.Fatalf("withHooks returned %v", err)
	}

	if n := len(fake.Calls()); n != 1 {
		t.Errorf("engine captured %d times, want 1", n)
	}
	mu.Lock()
	if len(exits) != 1 || exits[0] != crashhook.ExitStatus {
		t.Errorf("exit codes = %v, want [%d]", exits, crashhook.ExitStatus)
	}
	mu.Unlock()
	if cd.IsEnabled(crashhook.Managed) {
		t.Error("managed hook should be removed afterwards")
	}
}

func TestReloadConfig(t *testing.T) {
	fake := enginetest.New()
	setupTestEnvironment(t, fake)

	bus := event.NewBus(logging.NopLogger())
	cd, err := openCoredump(config.Default(), bus, logging.NopLogger())
	if err != nil {
		t.Fatalf("openCoredump failed: %v", err)
	}
	defer cd.Close()

	var mu sync.Mutex
	var reloads []event.ConfigReloadedEvent
	bus.Subscribe(event.TypeConfigReloaded, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		reloads = append(reloads, e.(event.ConfigReloadedEvent))
	})

	next := config.Default()
	next.Capture.TimeoutSeconds = 45
	next.Capture.Directory = "/tmp/dumps"
	next.Hooks.Native = true
	reloadConfig(cd, bus, next, nil, logging.NopLogger())

	if cd.Timeout() != 45 || fake.Timeout() != 45 {
		t.Errorf("timeout not applied: store=%d engine=%d", cd.Timeout(), fake.Timeout())
	}
	if cd.Directory() != "/tmp/dumps" {
		t.Errorf("Directory() = %q", cd.Directory())
	}
	if !fake.NativeEnabled() {
		t.Error("native hook should be enabled by reload")
	}

	reloadConfig(cd, bus, nil, errors.New("bad yaml"), logging.NopLogger())
	if cd.Timeout() != 45 {
		t.Errorf("failed reload changed timeout to %d", cd.Timeout())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reloads) != 2 {
		t.Fatalf("expected 2 reload events, got %d", len(reloads))
	}
	if reloads[0].Err != nil || reloads[1].Err == nil {
		t.Errorf("unexpected reload errors: %v, %v", reloads[0].Err, reloads[1].Err)
	}
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	printOutcome(&buf, engine.Outcome{Seq: 3, FilePath: "/tmp/core.1", Succeeded: true})
	printOutcome(&buf, engine.Outcome{Seq: 0, Succeeded: false})

	out := buf.String()
	if !strings.Contains(out, "/tmp/core.1") || !strings.Contains(out, "seq 3") {
		t.Errorf("missing success details:\n%s", out)
	}
	if !strings.Contains(out, "Capture failed") || !strings.Contains(out, "native hook") {
		t.Errorf("missing unsolicited failure details:\n%s", out)
	}
}
