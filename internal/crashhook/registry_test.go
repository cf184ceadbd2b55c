package crashhook

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/opencore/internal/engine/enginetest"
	"github.com/Iron-Ham/opencore/internal/errors"
	"github.com/Iron-Ham/opencore/internal/event"
)

type fakeGate struct{ ready atomic.Bool }

func (g *fakeGate) IsReady() bool { return g.ready.Load() }

// mockCapturer records captures and can fail or panic.
type mockCapturer struct {
	mu     sync.Mutex
	calls  []string
	result bool
	panics bool
}

func (m *mockCapturer) Capture(filename string) bool {
	m.mu.Lock()
	m.calls = append(m.calls, filename)
	result, panics := m.result, m.panics
	m.mu.Unlock()
	if panics {
		panic("capture exploded")
	}
	return result
}

func (m *mockCapturer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type exitRecorder struct {
	codes chan int
}

func (e *exitRecorder) Exit(code int) { e.codes <- code }

func newRegistry(ready bool) (*Registry, *Slot, *mockCapturer, *exitRecorder, *enginetest.Engine) {
	gate := &fakeGate{}
	gate.ready.Store(ready)
	slot := NewSlot()
	capt := &mockCapturer{result: true}
	exit := &exitRecorder{codes: make(chan int, 1)}
	eng := enginetest.New()
	r := New(Config{
		Gate:     gate,
		Slot:     slot,
		Capturer: capt,
		Native:   eng,
		Exit:     exit.Exit,
	})
	return r, slot, capt, exit, eng
}

func TestKind(t *testing.T) {
	if Managed.String() != "managed" || Native.String() != "native" {
		t.Errorf("unexpected names %q %q", Managed, Native)
	}
	k, err := ParseKind("native")
	if err != nil || k != Native {
		t.Errorf("ParseKind(native) = %v, %v", k, err)
	}
	if _, err := ParseKind("java"); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("ParseKind(java) error = %v", err)
	}
}

func TestEnableRequiresReady(t *testing.T) {
	r, slot, _, _, eng := newRegistry(false)

	if err := r.Enable(Managed); !errors.Is(err, errors.ErrNotReady) {
		t.Errorf("Enable(Managed) = %v, want ErrNotReady", err)
	}
	if err := r.Enable(Native); !errors.Is(err, errors.ErrNotReady) {
		t.Errorf("Enable(Native) = %v, want ErrNotReady", err)
	}
	if slot.Handler() != nil || eng.NativeEnabled() {
		t.Error("nothing should be installed before ready")
	}
}

func TestManagedRestoresPreviousHandler(t *testing.T) {
	r, slot, _, _, _ := newRegistry(true)

	previous := NewFuncHandler(func(any) {})
	slot.Swap(previous)

	if err := r.Enable(Managed); err != nil {
		t.Fatalf("Enable() = %v", err)
	}
	if !r.IsEnabled(Managed) || slot.Handler() != r.Handler() {
		t.Fatal("managed hook should be installed")
	}

	// A repeated enable must not record the hook itself as previous.
	if err := r.Enable(Managed); err != nil {
		t.Fatalf("second Enable() = %v", err)
	}

	if err := r.Disable(Managed); err != nil {
		t.Fatalf("Disable() = %v", err)
	}
	if got := slot.Handler(); got != Handler(previous) {
		t.Errorf("slot holds %v after disable, want the previous handler", got)
	}
	if r.IsEnabled(Managed) {
		t.Error("IsEnabled(Managed) = true after disable")
	}
}

func TestManagedRestoresEmptySlot(t *testing.T) {
	r, slot, _, _, _ := newRegistry(true)

	_ = r.Enable(Managed)
	_ = r.Disable(Managed)
	if slot.Handler() != nil {
		t.Error("slot should be empty again")
	}
}

func TestManagedDisableLeavesLayeredHandler(t *testing.T) {
	r, slot, _, _, _ := newRegistry(true)

	_ = r.Enable(Managed)
	above := NewFuncHandler(func(any) {})
	slot.Swap(above)

	_ = r.Disable(Managed)
	if slot.Handler() != Handler(above) {
		t.Error("a handler installed above the hook must stay in place")
	}
}

func TestNativeDelegatesToEngine(t *testing.T) {
	r, _, _, _, eng := newRegistry(true)

	if err := r.Enable(Native); err != nil {
		t.Fatalf("Enable(Native) = %v", err)
	}
	if !eng.NativeEnabled() || !r.IsEnabled(Native) {
		t.Error("native hook should be enabled in the engine")
	}
	if err := r.Disable(Native); err != nil {
		t.Fatalf("Disable(Native) = %v", err)
	}
	if eng.NativeEnabled() {
		t.Error("native hook should be disabled in the engine")
	}
}

func TestManagedHookFiring(t *testing.T) {
	tests := []struct {
		name   string
		result bool
		panics bool
	}{
		{"capture succeeds", true, false},
		{"capture fails", false, false},
		{"capture panics", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, slot, capt, exit, _ := newRegistry(true)
			capt.result, capt.panics = tt.result, tt.panics

			bus := event.NewBus(nil)
			r.bus = bus
			var fired atomic.Bool
			bus.Subscribe(event.TypeHookFired, func(event.Event) { fired.Store(true) })

			if err := r.Enable(Managed); err != nil {
				t.Fatalf("Enable() = %v", err)
			}

			slot.Go(func() { panic("unhandled") })

			select {
			case code := <-exit.codes:
				if code != ExitStatus {
					t.Errorf("exit code = %d, want %d", code, ExitStatus)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("process was not terminated")
			}

			if n := capt.Calls(); n != 1 {
				t.Errorf("capture attempted %d times, want 1", n)
			}
			if r.IsEnabled(Managed) {
				t.Error("hook should disable itself before capturing")
			}
			if !fired.Load() {
				t.Error("hook fired event not published")
			}
		})
	}
}

func TestSlotWithoutHandlerRepanics(t *testing.T) {
	slot := NewSlot()
	defer func() {
		if r := recover(); r != "boom" {
			t.Errorf("recovered %v, want boom", r)
		}
	}()
	func() {
		defer slot.Recover()
		panic("boom")
	}()
	t.Error("panic should have propagated")
}
