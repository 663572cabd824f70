// Package trickle implements the RFC 6206 Trickle algorithm in the
// plain transmit-always mode used by the DHCPv6 client: the interval
// starts at Imin, doubles after every firing up to Imax, and resets
// to Imin whenever an inconsistency is indicated.
package trickle

import (
	"math/rand"
	"time"

	"github.com/thread-mesh/tmnd/core"
)

// Timer is a Trickle timer. Not safe for concurrent use; drive it
// from the event loop like every other piece of stack state.
type Timer struct {
	timer   core.Timer
	handler func()

	imin     time.Duration
	imax     time.Duration
	interval time.Duration

	cancel  func() error
	running bool
}

// NewTimer creates a Trickle timer firing handler on every interval
// expiration.
func NewTimer(timer core.Timer, handler func()) *Timer {
	return &Timer{timer: timer, handler: handler}
}

// Start begins trickling with the given interval bounds. A running
// timer is restarted.
func (t *Timer) Start(imin, imax time.Duration) {
	t.stopEvent()
	t.imin = imin
	t.imax = imax
	t.interval = imin
	t.running = true
	t.schedule()
}

// Stop halts the timer.
func (t *Timer) Stop() {
	t.stopEvent()
	t.running = false
}

func (t *Timer) IsRunning() bool {
	return t.running
}

// IndicateInconsistent resets the interval to Imin. The next firing
// is rescheduled within the new interval.
func (t *Timer) IndicateInconsistent() {
	if !t.running {
		return
	}
	t.interval = t.imin
	t.stopEvent()
	t.schedule()
}

func (t *Timer) stopEvent() {
	if t.cancel != nil {
		_ = t.cancel()
		t.cancel = nil
	}
}

// schedule arms the next firing at a uniform random point in the
// second half of the current interval.
func (t *Timer) schedule() {
	d := t.interval/2 + time.Duration(rand.Int63n(int64(t.interval/2)+1))
	t.cancel = t.timer.Schedule(d, t.fire)
}

func (t *Timer) fire() {
	if !t.running {
		return
	}
	t.cancel = nil

	t.handler()

	// The handler may have stopped or re-armed the timer.
	if !t.running || t.cancel != nil {
		return
	}

	t.interval *= 2
	if t.interval > t.imax {
		t.interval = t.imax
	}
	t.schedule()
}
