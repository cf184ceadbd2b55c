// Package engine defines the boundary between opencore's capture
// orchestration and the component that actually writes a coredump.
//
// The orchestration packages never inspect process memory themselves. They
// drive an [Engine]: configure it, ask it to capture on behalf of a thread,
// and wait for it to report completion through the [CompletionFunc] they
// registered. The engine may report completion from any goroutine,
// including one of its own.
package engine

// DefaultTimeoutSeconds is the engine-side capture timeout used until one is
// configured.
const DefaultTimeoutSeconds = 120

// DefaultSizeLimitBytes caps a single dump at 10 GiB unless configured.
const DefaultSizeLimitBytes int64 = 10 << 30

// CompletionFunc is called by an engine when a capture finishes. path is the
// written dump, or empty when nothing usable was produced.
type CompletionFunc func(path string)

// Outcome is the immutable result of one capture cycle.
type Outcome struct {
	// Seq identifies the capture request the outcome belongs to.
	// Zero marks an unsolicited outcome, for example a capture the engine
	// started from its own fault handler.
	Seq uint64

	// FilePath is the written dump, empty on failure.
	FilePath string

	Succeeded bool
}

// NewOutcome builds an Outcome from an engine completion signal. A capture
// succeeded iff the engine reported a non-empty path.
func NewOutcome(seq uint64, path string) Outcome {
	return Outcome{Seq: seq, FilePath: path, Succeeded: path != ""}
}

// Unsolicited reports whether the outcome arrived without a pending request.
func (o Outcome) Unsolicited() bool {
	return o.Seq == 0
}

// Engine is the capture engine consumed by the orchestration core.
//
// Implementations must be safe for concurrent use: setters may race with a
// capture running on the capture lane.
type Engine interface {
	// Load binds the engine. A non-nil error is permanent.
	Load() error
	Version() string

	// EnableNative installs the engine's own fault-signal hook.
	EnableNative() bool
	DisableNative() bool
	NativeEnabled() bool

	// Capture writes a dump on behalf of thread tid. It may block up to the
	// configured timeout. The engine reports the result through the
	// registered CompletionFunc; a false return means no completion will
	// follow.
	Capture(tid int, filename string) bool

	SetDirectory(dir string)
	SetContentFlags(flags ContentFlag)
	SetVMAFilter(filter VMAFilter)
	SetTimeout(seconds int)
	SetSizeLimit(bytes int64)
	SetMode(mode Mode)

	Directory() string
	ContentFlags() ContentFlag
	VMAFilter() VMAFilter
	Timeout() int
	SizeLimit() int64
	Mode() Mode

	// SetCompletion registers the function the engine calls after each
	// Capture call it performs.
	SetCompletion(fn CompletionFunc)
	// SetFaultCompletion registers the function the engine calls after a
	// capture it started itself, such as one from its native fault hook.
	SetFaultCompletion(fn CompletionFunc)
}
