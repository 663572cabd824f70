package core

import (
	"fmt"
	"sync"
	"time"
)

type dummyEvent struct {
	t time.Time
	f func()
}

// DummyTimer is a manually advanced Timer for tests.
type DummyTimer struct {
	now    time.Time
	events []dummyEvent
	lock   sync.Mutex
}

func NewDummyTimer() *DummyTimer {
	now, err := time.Parse(time.RFC3339, "1970-01-01T00:00:00Z")
	if err != nil {
		return nil
	}
	return &DummyTimer{
		now:    now,
		events: make([]dummyEvent, 0),
	}
}

func (tm *DummyTimer) Now() time.Time {
	tm.lock.Lock()
	defer tm.lock.Unlock()
	return tm.now
}

// MoveForward advances the clock by d and fires every event whose due
// time has passed.
func (tm *DummyTimer) MoveForward(d time.Duration) {
	events := func() []dummyEvent {
		tm.lock.Lock()
		defer tm.lock.Unlock()
		tm.now = tm.now.Add(d)
		ret := make([]dummyEvent, len(tm.events))
		copy(ret, tm.events)
		return ret
	}()

	for i := range events {
		tm.lock.Lock()
		e := tm.events[i]
		due := e.f != nil && e.t.Before(tm.now)
		if due {
			tm.events[i].f = nil
		}
		tm.lock.Unlock()

		if due {
			e.f()
		}
	}
}

func (tm *DummyTimer) Schedule(d time.Duration, f func()) func() error {
	tm.lock.Lock()
	defer tm.lock.Unlock()

	t := tm.now.Add(d)
	idx := len(tm.events)
	for i := range tm.events {
		if tm.events[i].f == nil {
			idx = i
			break
		}
	}
	if idx == len(tm.events) {
		tm.events = append(tm.events, dummyEvent{})
	}
	tm.events[idx] = dummyEvent{t: t, f: f}

	return func() error {
		tm.lock.Lock()
		defer tm.lock.Unlock()
		if tm.events[idx].f == nil {
			return fmt.Errorf("event has already been canceled")
		}
		tm.events[idx].f = nil
		return nil
	}
}
