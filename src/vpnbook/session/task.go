package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// Task is a goroutine owned by the orchestrator. Cancel only raises a
// flag: the task checks it at its own iteration boundaries and is never
// interrupted in the middle of a probe or a request.
type Task struct {
	name      string
	cancelled atomic.Bool
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func startTask(name string, wg *sync.WaitGroup, fn func(t *Task)) *Task {
	t := &Task{
		name: name,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(t.done)
		fn(t)
	}()
	return t
}

// finishedTask is a cancelled task whose goroutine never ran.
func finishedTask(name string) *Task {
	t := &Task{
		name: name,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	t.Cancel()
	close(t.done)
	return t
}

func (t *Task) Name() string {
	return t.name
}

func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Task) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}

// Alive reports whether the goroutine has not returned yet, cancelled or not.
func (t *Task) Alive() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) Wait() {
	if t != nil {
		<-t.done
	}
}

// Sleep waits d and returns false if the task was cancelled meanwhile.
func (t *Task) Sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !t.Cancelled()
	case <-t.stop:
		return false
	}
}
