// Package notify delivers capture outcomes to application code on the
// completion lane, away from the capture lane and from whatever goroutine
// the engine signalled completion on.
package notify

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/Iron-Ham/opencore/internal/engine"
	"github.com/Iron-Ham/opencore/internal/event"
	"github.com/Iron-Ham/opencore/internal/lane"
	"github.com/Iron-Ham/opencore/internal/logging"
)

// Listener receives every capture outcome, in admission order.
// It runs on the completion lane. A listener must not call Capture
// synchronously: the capture would wait on the lane the listener occupies.
type Listener func(engine.Outcome)

// Notifier owns the listener registration and the completion lane.
type Notifier struct {
	bus    *event.Bus
	logger *logging.Logger

	mu       sync.RWMutex
	listener Listener
	lane     *lane.Lane
}

// New creates a notifier. bus and logger are optional.
func New(bus *event.Bus, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Notifier{
		bus:    bus,
		logger: logger.WithComponent("notifier"),
	}
}

// Attach sets the completion lane. Until a lane is attached, deliveries to
// a registered listener are dropped with a warning.
func (n *Notifier) Attach(l *lane.Lane) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lane = l
}

// SetListener replaces the listener. nil unregisters it. The change applies
// to captures admitted afterwards.
func (n *Notifier) SetListener(fn Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listener = fn
}

// HasListener reports whether a listener is registered.
func (n *Notifier) HasListener() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.listener != nil
}

// Deliver hands outcome to the listener on the completion lane and calls
// done once the listener has returned, even if it panicked. Without a
// listener done is called immediately and the lane is only used to publish
// the completion event when someone is subscribed.
//
// Deliver never blocks on the lane and is safe to call from any goroutine.
func (n *Notifier) Deliver(outcome engine.Outcome, done func()) {
	if done == nil {
		done = func() {}
	}

	n.mu.RLock()
	fn, l := n.listener, n.lane
	n.mu.RUnlock()

	logger := n.logger.WithRequest(outcome.Seq)

	if fn == nil {
		done()
		if n.bus != nil && n.bus.SubscriptionCount() > 0 && l != nil {
			if err := l.Post(func() { n.publish(outcome) }); err != nil {
				logger.Warn("dropped completion event", "error", err.Error())
			}
		}
		return
	}

	if l == nil {
		logger.Warn("no completion lane, dropping delivery", "path", outcome.FilePath)
		done()
		return
	}

	err := l.Post(func() {
		defer done()
		n.invoke(fn, outcome, logger)
		n.publish(outcome)
	})
	if err != nil {
		logger.Warn("completion lane rejected delivery", "error", err.Error())
		done()
	}
}

func (n *Notifier) invoke(fn Listener, outcome engine.Outcome, logger *logging.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("capture listener panicked",
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	logger.Debug("delivering capture outcome",
		"path", outcome.FilePath,
		"succeeded", outcome.Succeeded,
		"unsolicited", outcome.Unsolicited(),
	)
	fn(outcome)
}

func (n *Notifier) publish(outcome engine.Outcome) {
	if n.bus == nil {
		return
	}
	n.bus.Publish(event.NewCaptureCompletedEvent(outcome.Seq, outcome.FilePath, outcome.Succeeded))
}
