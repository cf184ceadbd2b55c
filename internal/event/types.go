package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns "category.action", e.g. "capture.completed".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event type identifiers.
const (
	TypeCaptureRequested   = "capture.requested"
	TypeCaptureCompleted   = "capture.completed"
	TypeCaptureInterrupted = "capture.interrupted"
	TypeHookChanged        = "hook.changed"
	TypeHookFired          = "hook.fired"
	TypeReadinessChanged   = "readiness.changed"
	TypeConfigReloaded     = "config.reloaded"
)

// -----------------------------------------------------------------------------
// Capture Events
// -----------------------------------------------------------------------------

// CaptureRequestedEvent is emitted when a capture request is admitted and
// posted to the capture lane.
type CaptureRequestedEvent struct {
	baseEvent
	Seq      uint64
	ThreadID int
	Filename string // empty for a default name
}

func NewCaptureRequestedEvent(seq uint64, tid int, filename string) CaptureRequestedEvent {
	return CaptureRequestedEvent{
		baseEvent: newBaseEvent(TypeCaptureRequested),
		Seq:       seq,
		ThreadID:  tid,
		Filename:  filename,
	}
}

// CaptureCompletedEvent is emitted on the completion lane for every outcome,
// including unsolicited ones (Seq 0).
type CaptureCompletedEvent struct {
	baseEvent
	Seq       uint64
	FilePath  string
	Succeeded bool
}

func NewCaptureCompletedEvent(seq uint64, path string, succeeded bool) CaptureCompletedEvent {
	return CaptureCompletedEvent{
		baseEvent: newBaseEvent(TypeCaptureCompleted),
		Seq:       seq,
		FilePath:  path,
		Succeeded: succeeded,
	}
}

// CaptureInterruptedEvent is emitted when a caller stops waiting before its
// capture resolves. The capture still completes and is delivered later.
type CaptureInterruptedEvent struct {
	baseEvent
	Seq    uint64
	Reason string
}

func NewCaptureInterruptedEvent(seq uint64, reason string) CaptureInterruptedEvent {
	return CaptureInterruptedEvent{
		baseEvent: newBaseEvent(TypeCaptureInterrupted),
		Seq:       seq,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Hook Events
// -----------------------------------------------------------------------------

// HookChangedEvent is emitted when a crash hook is enabled or disabled.
type HookChangedEvent struct {
	baseEvent
	Kind    string
	Enabled bool
}

func NewHookChangedEvent(kind string, enabled bool) HookChangedEvent {
	return HookChangedEvent{
		baseEvent: newBaseEvent(TypeHookChanged),
		Kind:      kind,
		Enabled:   enabled,
	}
}

// HookFiredEvent is emitted when a crash hook starts its capture-and-exit
// sequence.
type HookFiredEvent struct {
	baseEvent
	Kind   string
	Reason string
}

func NewHookFiredEvent(kind, reason string) HookFiredEvent {
	return HookFiredEvent{
		baseEvent: newBaseEvent(TypeHookFired),
		Kind:      kind,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Lifecycle Events
// -----------------------------------------------------------------------------

// ReadinessChangedEvent is emitted once initialization settles.
type ReadinessChangedEvent struct {
	baseEvent
	State string
}

func NewReadinessChangedEvent(state string) ReadinessChangedEvent {
	return ReadinessChangedEvent{
		baseEvent: newBaseEvent(TypeReadinessChanged),
		State:     state,
	}
}

// ConfigReloadedEvent is emitted after a configuration file change has been
// applied. Err is set when the new file could not be applied.
type ConfigReloadedEvent struct {
	baseEvent
	Path string
	Err  error
}

func NewConfigReloadedEvent(path string, err error) ConfigReloadedEvent {
	return ConfigReloadedEvent{
		baseEvent: newBaseEvent(TypeConfigReloaded),
		Path:      path,
		Err:       err,
	}
}
