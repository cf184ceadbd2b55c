package crashhook

import "sync"

// Handler receives a panic value that escaped a guarded goroutine.
// Implementations are compared by identity, so use pointer types.
type Handler interface {
	HandlePanic(v any)
}

// FuncHandler adapts a function to Handler. Each *FuncHandler is a
// distinct identity.
type FuncHandler struct {
	fn func(v any)
}

// NewFuncHandler wraps fn.
func NewFuncHandler(fn func(v any)) *FuncHandler {
	return &FuncHandler{fn: fn}
}

func (h *FuncHandler) HandlePanic(v any) { h.fn(v) }

// Slot is a process-level handler for uncaught panics. Go has no global
// uncaught-panic hook, so goroutines opt in with Go or a deferred Recover.
// The slot is passed explicitly to whoever installs handlers.
type Slot struct {
	mu      sync.Mutex
	handler Handler
}

// NewSlot returns an empty slot. With no handler installed, guarded panics
// propagate as usual.
func NewSlot() *Slot {
	return &Slot{}
}

// Handler returns the installed handler, or nil.
func (s *Slot) Handler() Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// Swap installs h and returns the handler it replaced.
func (s *Slot) Swap(h Handler) Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.handler
	s.handler = h
	return prev
}

// Recover forwards a panic to the installed handler. It must be deferred
// directly:
//
//	defer slot.Recover()
//
// Without a handler the panic is re-raised.
func (s *Slot) Recover() {
	r := recover()
	if r == nil {
		return
	}
	h := s.Handler()
	if h == nil {
		panic(r)
	}
	h.HandlePanic(r)
}

// Go runs fn on a new goroutine guarded by Recover.
func (s *Slot) Go(fn func()) {
	go func() {
		defer s.Recover()
		fn()
	}()
}
