// Package event provides a pub-sub event bus for observing opencore
// without coupling to its internals.
//
// Components publish events as captures are requested and resolved, as
// crash hooks change or fire, and as configuration is reloaded. The CLI
// subscribes to print progress; tests subscribe to assert ordering.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Capture:
//   - [CaptureRequestedEvent]: a request was admitted and posted to the capture lane
//   - [CaptureCompletedEvent]: an outcome was delivered on the completion lane
//   - [CaptureInterruptedEvent]: a caller stopped waiting before its capture resolved
//
// Hooks:
//   - [HookChangedEvent]: a crash hook was enabled or disabled
//   - [HookFiredEvent]: a crash hook began its capture-and-exit sequence
//
// Lifecycle:
//   - [ReadinessChangedEvent]: initialization settled
//   - [ConfigReloadedEvent]: a configuration file change was applied
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine. A handler that panics is recovered and logged so it
// cannot stop delivery to the others.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeCaptureCompleted, func(e event.Event) {
//	    done := e.(event.CaptureCompletedEvent)
//	    fmt.Println(done.FilePath)
//	})
package event
