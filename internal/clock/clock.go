// Package clock abstracts wall time and one-shot timers so components that
// expire or delay work (typing indicators, auto-responder replies) can be
// tested against virtual time instead of racing real timers.
package clock

import (
	"sort"
	"sync"
	"time"
)

// CancelFunc cancels a scheduled callback. Calling it after the callback has
// fired is a no-op.
type CancelFunc func()

// Clock provides current time and one-shot scheduling.
type Clock interface {
	Now() time.Time
	Schedule(d time.Duration, fn func()) CancelFunc
}

// System returns a Clock backed by the runtime timers.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Schedule(d time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Fake is a manually advanced Clock for tests. Scheduled callbacks run
// synchronously inside Advance, in due-time order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*fakeTimer
}

type fakeTimer struct {
	due time.Time
	fn  func()
}

// NewFake creates a fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, timers: make(map[int]*fakeTimer)}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Schedule registers fn to run when the fake clock advances past d.
func (f *Fake) Schedule(d time.Duration, fn func()) CancelFunc {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.timers[id] = &fakeTimer{due: f.now.Add(d), fn: fn}
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.timers, id)
		f.mu.Unlock()
	}
}

// Advance moves the clock forward and fires every callback that came due,
// in order. Callbacks may schedule further callbacks; those fire too if
// they fall within the advanced window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		var due []int
		for id, t := range f.timers {
			if !t.due.After(target) {
				due = append(due, id)
			}
		}
		if len(due) == 0 {
			f.now = target
			f.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			return f.timers[due[i]].due.Before(f.timers[due[j]].due)
		})
		id := due[0]
		t := f.timers[id]
		delete(f.timers, id)
		f.now = t.due
		f.mu.Unlock()
		t.fn()
	}
}
