package timingwheel

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedule_FiresAfterDelay(t *testing.T) {
	w := New(5*time.Millisecond, 16)
	w.Start()
	defer w.Stop()

	var fired atomic.Bool
	w.Schedule(20*time.Millisecond, func() {
		fired.Store(true)
	})

	time.Sleep(60 * time.Millisecond)
	assert.True(t, fired.Load())
}

func TestCancel_PreventsFiring(t *testing.T) {
	w := New(5*time.Millisecond, 16)
	w.Start()
	defer w.Stop()

	var fired atomic.Bool
	task := w.Schedule(20*time.Millisecond, func() {
		fired.Store(true)
	})
	task.Cancel()

	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestSchedule_MultipleRevolutions(t *testing.T) {
	w := New(2*time.Millisecond, 4)
	w.Start()
	defer w.Stop()

	var fired atomic.Bool
	w.Schedule(20*time.Millisecond, func() {
		fired.Store(true)
	})

	time.Sleep(10 * time.Millisecond)
	assert.False(t, fired.Load())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, fired.Load())
}

func TestStop_HaltsTicking(t *testing.T) {
	w := New(2*time.Millisecond, 4)
	w.Start()

	var count atomic.Int32
	w.Schedule(4*time.Millisecond, func() {
		count.Add(1)
	})

	w.Stop()
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, count.Load(), int32(1))
}
