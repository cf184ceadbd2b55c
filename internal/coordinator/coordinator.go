// Package coordinator implements the capture state machine: it admits one
// capture request at a time, runs it on the capture lane, blocks the caller
// until the engine reports completion and the outcome has been delivered,
// then admits the next caller.
package coordinator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/opencore/internal/engine"
	"github.com/Iron-Ham/opencore/internal/errors"
	"github.com/Iron-Ham/opencore/internal/event"
	"github.com/Iron-Ham/opencore/internal/lane"
	"github.com/Iron-Ham/opencore/internal/logging"
)

// Phase is the coordinator's position in the capture cycle.
type Phase int

const (
	Idle Phase = iota
	Admitted
	Dispatched
	Captured
	Resolved
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Admitted:
		return "admitted"
	case Dispatched:
		return "dispatched"
	case Captured:
		return "captured"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Request is one admitted capture.
type Request struct {
	Seq      uint64
	ThreadID int
	// Filename is passed to the engine as given. Empty asks for a default
	// name.
	Filename string
}

// Stats counts capture cycles since construction.
type Stats struct {
	Requests    uint64
	Succeeded   uint64
	Failed      uint64
	Interrupted uint64
	// Unsolicited counts completions that arrived with no pending request.
	Unsolicited uint64
}

// Readiness is the subset of the readiness gate the coordinator needs.
type Readiness interface {
	IsReady() bool
}

// Deliverer hands outcomes to application code. done must be called
// exactly once per Deliver.
type Deliverer interface {
	Deliver(outcome engine.Outcome, done func())
}

// Config holds the coordinator's collaborators.
type Config struct {
	Gate     Readiness
	Engine   engine.Engine
	Notifier Deliverer

	// Bus is optional.
	Bus *event.Bus
	// Logger is optional.
	Logger *logging.Logger
	// ThreadID reports the calling thread. Defaults to unix.Gettid.
	ThreadID func() int
}

// cycle is the completion condition for one request.
type cycle struct {
	req       Request
	captured  bool
	delivered bool
	outcome   engine.Outcome
}

func (c *cycle) resolved() bool { return c.captured && c.delivered }

// Coordinator serializes capture requests. It must be attached to a capture
// lane before captures can be dispatched.
type Coordinator struct {
	gate     Readiness
	eng      engine.Engine
	notifier Deliverer
	bus      *event.Bus
	logger   *logging.Logger
	tid      func() int

	// admit is the admission lock. A channel rather than a mutex so a
	// waiting CaptureContext can give up.
	admit chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	lane    *lane.Lane
	pending []*cycle // dispatched, not yet captured, oldest first
	current *cycle   // cycle of the admitted caller
	phase   Phase
	nextSeq uint64
	stats   Stats
}

// New creates a coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	tid := cfg.ThreadID
	if tid == nil {
		tid = unix.Gettid
	}
	c := &Coordinator{
		gate:     cfg.Gate,
		eng:      cfg.Engine,
		notifier: cfg.Notifier,
		bus:      cfg.Bus,
		logger:   logger.WithComponent("coordinator"),
		tid:      tid,
		admit:    make(chan struct{}, 1),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Attach sets the capture lane.
func (c *Coordinator) Attach(l *lane.Lane) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lane = l
}

// Phase returns the phase of the currently admitted request.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Stats returns a snapshot of the counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Capture requests a dump and blocks until it has been captured and, if a
// listener is registered, delivered. It returns true iff the engine
// produced a dump. It never panics.
//
// Capture does not bound its wait; an engine that accepts a capture and
// never signals completion blocks the caller. Use CaptureContext to bound
// it.
func (c *Coordinator) Capture(filename string) bool {
	return c.CaptureContext(context.Background(), filename)
}

// CaptureContext is Capture with a cancellable wait. When ctx ends before
// the cycle resolves it returns false and releases admission. The capture
// still runs to completion and its outcome is delivered with its Seq.
func (c *Coordinator) CaptureContext(ctx context.Context, filename string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("capture panicked",
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			ok = false
		}
	}()

	tid := c.tid()

	select {
	case c.admit <- struct{}{}:
	case <-ctx.Done():
		c.logger.Debug("gave up waiting for admission", "error", ctx.Err().Error())
		return false
	}
	defer func() { <-c.admit }()

	if !c.gate.IsReady() {
		c.logger.Debug("capture rejected", "error", errors.ErrNotReady.Error())
		return false
	}

	c.mu.Lock()
	l := c.lane
	if l == nil {
		c.mu.Unlock()
		c.logger.Warn("capture rejected, no capture lane attached")
		return false
	}
	c.nextSeq++
	cyc := &cycle{req: Request{Seq: c.nextSeq, ThreadID: tid, Filename: filename}}
	c.current = cyc
	c.phase = Admitted
	c.stats.Requests++
	c.pending = append(c.pending, cyc)
	c.mu.Unlock()

	logger := c.logger.WithRequest(cyc.req.Seq)
	c.publish(event.NewCaptureRequestedEvent(cyc.req.Seq, tid, filename))

	if err := l.Post(func() { c.dispatch(cyc) }); err != nil {
		logger.Error("capture lane rejected request", "error", err.Error())
		c.mu.Lock()
		c.removePending(cyc)
		c.stats.Failed++
		c.finish(cyc)
		c.mu.Unlock()
		return false
	}

	c.mu.Lock()
	if c.current == cyc && c.phase == Admitted {
		c.phase = Dispatched
	}
	c.mu.Unlock()
	logger.Info("capture dispatched", "tid", tid, "filename", filename)

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	for !cyc.resolved() {
		if err := ctx.Err(); err != nil {
			c.stats.Interrupted++
			c.finish(cyc)
			c.mu.Unlock()

			logger.Warn("capture wait interrupted",
				"error", errors.Wrap(errors.ErrWaitInterrupted, err.Error()).Error())
			c.publish(event.NewCaptureInterruptedEvent(cyc.req.Seq, err.Error()))
			return false
		}
		c.cond.Wait()
	}
	c.phase = Resolved
	succeeded := cyc.outcome.Succeeded
	c.finish(cyc)
	c.mu.Unlock()

	logger.Info("capture resolved", "succeeded", succeeded, "path", cyc.outcome.FilePath)
	return succeeded
}

// finish returns to Idle if cyc is still the admitted cycle. Requires mu.
func (c *Coordinator) finish(cyc *cycle) {
	if c.current == cyc {
		c.current = nil
		c.phase = Idle
	}
}

// dispatch runs on the capture lane.
func (c *Coordinator) dispatch(cyc *cycle) {
	logger := c.logger.WithRequest(cyc.req.Seq)

	if c.runEngine(cyc.req, logger) {
		return
	}

	// The engine will not signal this cycle. Resolve it as failed unless a
	// completion already arrived.
	c.mu.Lock()
	stillPending := c.removePending(cyc)
	c.mu.Unlock()
	if stillPending {
		err := errors.NewCaptureError("engine declined capture", errors.ErrCaptureFailed).
			WithSeq(cyc.req.Seq).WithThread(cyc.req.ThreadID).WithFilename(cyc.req.Filename)
		logger.Warn("capture failed", "error", err.Error())
		c.resolve(cyc, "")
	}
}

func (c *Coordinator) runEngine(req Request, logger *logging.Logger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("engine capture panicked",
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			ok = false
		}
	}()
	return c.eng.Capture(req.ThreadID, req.Filename)
}

// Complete is the engine's completion func. It may be called from any
// goroutine. The signal is attributed to the oldest dispatched cycle; with
// none pending it is delivered as an unsolicited outcome.
func (c *Coordinator) Complete(path string) {
	c.mu.Lock()
	var cyc *cycle
	if len(c.pending) > 0 {
		cyc = c.pending[0]
		c.pending = c.pending[1:]
	}
	if cyc == nil {
		c.stats.Unsolicited++
	}
	c.mu.Unlock()

	if cyc == nil {
		c.deliverUnsolicited(path)
		return
	}
	c.resolve(cyc, path)
}

// CompleteUnsolicited is the engine's fault completion func. The outcome
// never resolves a pending cycle.
func (c *Coordinator) CompleteUnsolicited(path string) {
	c.mu.Lock()
	c.stats.Unsolicited++
	c.mu.Unlock()
	c.deliverUnsolicited(path)
}

func (c *Coordinator) deliverUnsolicited(path string) {
	c.logger.Info("unsolicited capture completed", "path", path)
	c.notifier.Deliver(engine.NewOutcome(0, path), nil)
}

// resolve marks cyc captured, wakes its caller and starts delivery. cyc
// must already be out of the pending list.
func (c *Coordinator) resolve(cyc *cycle, path string) {
	outcome := engine.NewOutcome(cyc.req.Seq, path)

	c.mu.Lock()
	cyc.outcome = outcome
	cyc.captured = true
	if outcome.Succeeded {
		c.stats.Succeeded++
	} else {
		c.stats.Failed++
	}
	if c.current == cyc {
		c.phase = Captured
	}
	c.cond.Broadcast()
	c.mu.Unlock()

	c.logger.WithRequest(cyc.req.Seq).Debug("capture signalled", "path", path)

	c.notifier.Deliver(outcome, func() {
		c.mu.Lock()
		cyc.delivered = true
		c.cond.Broadcast()
		c.mu.Unlock()
	})
}

// removePending drops cyc from the pending list. Requires mu.
func (c *Coordinator) removePending(cyc *cycle) bool {
	for i, p := range c.pending {
		if p == cyc {
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Coordinator) publish(e event.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}
