package trickle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thread-mesh/tmnd/core"
)

func TestTimerFiresAndDoubles(t *testing.T) {
	tm := core.NewDummyTimer()
	fired := 0
	tr := NewTimer(tm, func() { fired++ })

	tr.Start(1*time.Second, 4*time.Second)
	require.True(t, tr.IsRunning())

	// First firing within Imin.
	tm.MoveForward(1100 * time.Millisecond)
	assert.Equal(t, 1, fired)

	// Interval doubled to 2s.
	tm.MoveForward(2100 * time.Millisecond)
	assert.Equal(t, 2, fired)

	// And again to 4s, where it caps at Imax.
	tm.MoveForward(4100 * time.Millisecond)
	assert.Equal(t, 3, fired)
	tm.MoveForward(4100 * time.Millisecond)
	assert.Equal(t, 4, fired)
}

func TestTimerInconsistentResetsInterval(t *testing.T) {
	tm := core.NewDummyTimer()
	fired := 0
	tr := NewTimer(tm, func() { fired++ })

	tr.Start(1*time.Second, 60*time.Second)
	tm.MoveForward(1100 * time.Millisecond)
	tm.MoveForward(2100 * time.Millisecond)
	require.Equal(t, 2, fired)

	// The interval is 4s now; after an inconsistency it must fire
	// within Imin again.
	tr.IndicateInconsistent()
	tm.MoveForward(1100 * time.Millisecond)
	assert.Equal(t, 3, fired)
}

func TestTimerStop(t *testing.T) {
	tm := core.NewDummyTimer()
	fired := 0
	tr := NewTimer(tm, func() { fired++ })

	tr.Start(1*time.Second, 4*time.Second)
	tr.Stop()
	assert.False(t, tr.IsRunning())

	tm.MoveForward(time.Minute)
	assert.Zero(t, fired)
}

func TestTimerStopFromHandler(t *testing.T) {
	tm := core.NewDummyTimer()
	var tr *Timer
	fired := 0
	tr = NewTimer(tm, func() {
		fired++
		tr.Stop()
	})

	tr.Start(1*time.Second, 4*time.Second)
	tm.MoveForward(2 * time.Second)
	tm.MoveForward(time.Minute)
	assert.Equal(t, 1, fired)
}

func TestTimerRestartFromHandler(t *testing.T) {
	tm := core.NewDummyTimer()
	var tr *Timer
	fired := 0
	tr = NewTimer(tm, func() {
		fired++
		if fired == 1 {
			tr.IndicateInconsistent()
		}
	})

	tr.Start(1*time.Second, 64*time.Second)
	tm.MoveForward(1100 * time.Millisecond)
	require.Equal(t, 1, fired)

	// The handler re-armed at Imin; exactly one more firing within it.
	tm.MoveForward(1100 * time.Millisecond)
	assert.Equal(t, 2, fired)
}
