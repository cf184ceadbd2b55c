package readiness

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Iron-Ham/opencore/internal/errors"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Unloaded, "unloaded"},
		{Loading, "loading"},
		{Ready, "ready"},
		{LoadFailed, "load_failed"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInitialize(t *testing.T) {
	t.Run("success runs load and onReady once", func(t *testing.T) {
		g := New(nil)
		if g.IsReady() {
			t.Fatal("new gate should not be ready")
		}

		var loads, readies int
		load := func() error { loads++; return nil }
		onReady := func() { readies++ }

		if got, _ := g.Initialize(load, onReady); got != Ready {
			t.Fatalf("Initialize() = %v, want ready", got)
		}
		if got, _ := g.Initialize(load, onReady); got != Ready {
			t.Fatalf("second Initialize() = %v, want ready", got)
		}
		if loads != 1 || readies != 1 {
			t.Errorf("loads = %d, readies = %d, want 1 and 1", loads, readies)
		}
		if !g.IsReady() {
			t.Error("IsReady() = false after success")
		}
	})

	t.Run("load error is permanent", func(t *testing.T) {
		g := New(nil)
		loads := 0
		load := func() error { loads++; return errors.ErrEngineLoad }

		if got, _ := g.Initialize(load, nil); got != LoadFailed {
			t.Fatalf("Initialize() = %v, want load_failed", got)
		}
		if got, _ := g.Initialize(func() error { return nil }, nil); got != LoadFailed {
			t.Errorf("retry Initialize() = %v, want load_failed", got)
		}
		if loads != 1 {
			t.Errorf("loads = %d, want 1", loads)
		}
		if g.IsReady() {
			t.Error("IsReady() = true after failure")
		}
	})

	t.Run("panicking load fails", func(t *testing.T) {
		g := New(nil)
		if got, _ := g.Initialize(func() error { panic("no engine") }, nil); got != LoadFailed {
			t.Errorf("Initialize() = %v, want load_failed", got)
		}
	})

	t.Run("panicking onReady fails", func(t *testing.T) {
		g := New(nil)
		if got, _ := g.Initialize(nil, func() { panic("lanes") }); got != LoadFailed {
			t.Errorf("Initialize() = %v, want load_failed", got)
		}
	})

	t.Run("abandoned load can be retried", func(t *testing.T) {
		g := New(nil)
		if got, _ := g.Initialize(func() error { return context.Canceled }, nil); got != Unloaded {
			t.Fatalf("Initialize() = %v, want unloaded", got)
		}
		if got, _ := g.Initialize(func() error { return nil }, nil); got != Ready {
			t.Errorf("retry Initialize() = %v, want ready", got)
		}
	})
}

func TestInitializeConcurrent(t *testing.T) {
	g := New(nil)
	var loads, readies, settlers atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, settled := g.Initialize(
				func() error { loads.Add(1); return nil },
				func() { readies.Add(1) },
			)
			if state != Ready {
				t.Errorf("Initialize() = %v, want ready", state)
			}
			if settled {
				settlers.Add(1)
			}
		}()
	}
	wg.Wait()

	if loads.Load() != 1 || readies.Load() != 1 {
		t.Errorf("loads = %d, readies = %d, want 1 and 1", loads.Load(), readies.Load())
	}
	if settlers.Load() != 1 {
		t.Errorf("%d calls reported settling the gate, want 1", settlers.Load())
	}
}
