// Package lane provides single-worker FIFO task lanes.
//
// A Lane runs posted tasks one at a time, strictly in the order they were
// posted, on a goroutine it owns. Posting never blocks on the running task,
// so it is safe from contexts that must not wait, such as a crash hook
// that is about to terminate the process.
package lane

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/eapache/queue"

	"github.com/Iron-Ham/opencore/internal/errors"
	"github.com/Iron-Ham/opencore/internal/logging"
)

// Task is a unit of work run on a lane.
type Task func()

// Lane is a single-goroutine FIFO executor backed by an unbounded ring
// buffer.
type Lane struct {
	name   string
	logger *logging.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   *queue.Queue
	running bool // worker is executing a task
	closed  bool

	done chan struct{}
}

// New creates a lane and starts its worker. A nil logger discards output.
func New(name string, logger *logging.Logger) *Lane {
	if logger == nil {
		logger = logging.NopLogger()
	}
	l := &Lane{
		name:   name,
		logger: logger.WithLane(name),
		tasks:  queue.New(),
		done:   make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Name returns the lane's name.
func (l *Lane) Name() string { return l.name }

// Post enqueues task behind everything already posted.
// It returns ErrLaneClosed once Close has been called.
func (l *Lane) Post(task Task) error {
	if task == nil {
		return errors.Wrapf(errors.ErrInvalidInput, "post nil task to %s lane", l.name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.Wrapf(errors.ErrLaneClosed, "post to %s lane", l.name)
	}
	l.tasks.Add(task)
	l.cond.Signal()
	return nil
}

// Pending returns the number of queued tasks, excluding one that is running.
func (l *Lane) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tasks.Length()
}

// Idle reports whether nothing is queued or running.
func (l *Lane) Idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.running && l.tasks.Length() == 0
}

// Close stops accepting work, runs what is already queued and waits for
// the worker to exit. Calling Close from a task on the same lane deadlocks.
func (l *Lane) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.cond.Broadcast()
	}
	l.mu.Unlock()

	<-l.done
}

func (l *Lane) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		for l.tasks.Length() == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.tasks.Length() == 0 {
			l.mu.Unlock()
			return
		}
		task := l.tasks.Remove().(Task)
		l.running = true
		l.mu.Unlock()

		l.safeCall(task)

		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}
}

// safeCall runs a task, recovering from panics so one bad task cannot stop
// the lane.
func (l *Lane) safeCall(task Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("lane task panicked",
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	task()
}
