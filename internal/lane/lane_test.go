package lane

import (
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/opencore/internal/errors"
)

func TestLaneRunsTasksInOrder(t *testing.T) {
	l := New("test", nil)
	defer l.Close()

	const n = 200
	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	for i := 0; i < n; i++ {
		i := i
		if err := l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == n-1 {
				close(done)
			}
		}); err != nil {
			t.Fatalf("Post(%d) failed: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestLaneRunsOneTaskAtATime(t *testing.T) {
	l := New("serial", nil)
	defer l.Close()

	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			_ = l.Post(func() {
				defer wg.Done()
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent tasks = %d, want 1", maxActive)
	}
}

func TestLaneRecoversFromPanic(t *testing.T) {
	l := New("panicky", nil)
	defer l.Close()

	ran := make(chan struct{})
	_ = l.Post(func() { panic("boom") })
	_ = l.Post(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("lane stopped after a panicking task")
	}
}

func TestLaneClose(t *testing.T) {
	t.Run("drains queued work", func(t *testing.T) {
		l := New("drain", nil)
		var mu sync.Mutex
		count := 0
		for i := 0; i < 10; i++ {
			_ = l.Post(func() {
				time.Sleep(time.Millisecond)
				mu.Lock()
				count++
				mu.Unlock()
			})
		}
		l.Close()

		mu.Lock()
		defer mu.Unlock()
		if count != 10 {
			t.Errorf("ran %d tasks before close returned, want 10", count)
		}
		if !l.Idle() {
			t.Error("lane should be idle after Close")
		}
	})

	t.Run("rejects posts after close", func(t *testing.T) {
		l := New("closed", nil)
		l.Close()
		l.Close()

		err := l.Post(func() {})
		if !errors.Is(err, errors.ErrLaneClosed) {
			t.Errorf("Post after Close = %v, want ErrLaneClosed", err)
		}
	})

	t.Run("rejects nil task", func(t *testing.T) {
		l := New("nil", nil)
		defer l.Close()
		if err := l.Post(nil); !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("Post(nil) = %v, want ErrInvalidInput", err)
		}
	})
}

func TestLanePending(t *testing.T) {
	l := New("pending", nil)
	defer l.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	_ = l.Post(func() {
		close(started)
		<-block
	})
	<-started
	_ = l.Post(func() {})
	_ = l.Post(func() {})

	if got := l.Pending(); got != 2 {
		t.Errorf("Pending() = %d, want 2", got)
	}
	if l.Idle() {
		t.Error("Idle() = true while a task is running")
	}
	close(block)
}
