package util

import (
	"container/heap"
	"sync"
	"time"
)

// Task is a handle to one scheduled callback.
type Task struct {
	when      time.Time
	fn        func()
	index     int // heap position, -1 once popped
	cancelled bool
}

type taskHeap []*Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x any)         { t := x.(*Task); t.index = len(*h); *h = append(*h, t) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler runs callbacks at absolute times. A single timer is armed
// for the earliest task; when it fires every task whose time has come
// runs, then the timer rearms for the next. Insertions that move the
// earliest deadline reset the timer.
type Scheduler struct {
	mu      sync.Mutex
	tasks   taskHeap
	timer   *time.Timer
	stopped bool
}

// NewScheduler returns an idle scheduler.
func NewScheduler() *Scheduler { return &Scheduler{} }

// At schedules fn to run at t.
func (s *Scheduler) At(t time.Time, fn func()) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &Task{when: t, fn: fn, index: -1}
	if s.stopped {
		task.cancelled = true
		return task
	}
	heap.Push(&s.tasks, task)
	s.rearmLocked()
	return task
}

// After schedules fn to run d from now.
func (s *Scheduler) After(d time.Duration, fn func()) *Task {
	return s.At(time.Now().Add(d), fn)
}

// Cancel removes the task if it has not run yet.
func (s *Scheduler) Cancel(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.cancelled = true
	if t.index >= 0 {
		heap.Remove(&s.tasks, t.index)
		s.rearmLocked()
	}
}

// Stop cancels every pending task and stops the timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, t := range s.tasks {
		t.cancelled = true
		t.index = -1
	}
	s.tasks = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// rearmLocked points the single timer at the earliest pending task.
func (s *Scheduler) rearmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.tasks) == 0 || s.stopped {
		return
	}
	d := time.Until(s.tasks[0].when)
	if d < 0 {
		d = 0
	}
	s.timer = time.AfterFunc(d, s.fire)
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	now := time.Now()
	var due []*Task
	for len(s.tasks) > 0 && !s.tasks[0].when.After(now) {
		due = append(due, heap.Pop(&s.tasks).(*Task))
	}
	s.rearmLocked()
	s.mu.Unlock()

	for _, t := range due {
		if !t.cancelled {
			t.fn()
		}
	}
}
