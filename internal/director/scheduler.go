package director

import (
	"sync"
	"time"
)

// Task is a scheduled callback that can be cancelled.
type Task interface {
	// Stop cancels the task and reports whether it was still pending.
	Stop() bool
}

// Scheduler arms one-shot and periodic callbacks without blocking the
// caller. Callbacks run on the scheduler's goroutines.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Task
	Every(d time.Duration, f func()) Task
}

// WallClock schedules against real time.
type WallClock struct{}

func (WallClock) AfterFunc(d time.Duration, f func()) Task {
	return time.AfterFunc(d, f)
}

func (WallClock) Every(d time.Duration, f func()) Task {
	t := &ticker{ticker: time.NewTicker(d), done: make(chan struct{})}
	go t.run(f)
	return t
}

type ticker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *ticker) run(f func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			f()
		}
	}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
		stopped = true
	})
	return stopped
}
