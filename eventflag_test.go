package seqrt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFlagSet_SetTestClear(t *testing.T) {
	flags := NewEventFlagSet(4)
	assert.False(t, flags.Test(1))

	flags.Set(1)
	assert.True(t, flags.Test(1))
	assert.False(t, flags.Test(2))

	flags.Clear(1)
	assert.False(t, flags.Test(1))
}

func TestEventFlagSet_TestAndClear(t *testing.T) {
	flags := NewEventFlagSet(4)
	flags.Set(2)
	assert.True(t, flags.TestAndClear(2))
	assert.False(t, flags.TestAndClear(2))
}

func TestEventFlagSet_OutOfRangeIsNoop(t *testing.T) {
	flags := NewEventFlagSet(2)
	flags.Set(0)
	flags.Set(99)
	assert.False(t, flags.Test(0))
	assert.False(t, flags.Test(99))
}

func TestEventFlagSet_AnySet(t *testing.T) {
	flags := NewEventFlagSet(4)
	assert.False(t, flags.AnySet([]int{1, 2, 3}))
	flags.Set(3)
	assert.True(t, flags.AnySet([]int{1, 2, 3}))
}

func TestEventFlagSet_EnrollWakesOnMatchingBit(t *testing.T) {
	flags := NewEventFlagSet(8)
	var mu sync.Mutex
	var woken []int

	remove1 := flags.enroll([]int{1, 2}, func() {
		mu.Lock()
		woken = append(woken, 1)
		mu.Unlock()
	})
	defer remove1()

	remove2 := flags.enroll([]int{5}, func() {
		mu.Lock()
		woken = append(woken, 2)
		mu.Unlock()
	})
	defer remove2()

	flags.Set(2)

	mu.Lock()
	assert.Equal(t, []int{1}, woken)
	mu.Unlock()

	flags.Set(5)
	mu.Lock()
	assert.Equal(t, []int{1, 2}, woken)
	mu.Unlock()
}

func TestEventFlagSet_RemoveEnrollmentStopsWakes(t *testing.T) {
	flags := NewEventFlagSet(4)
	calls := 0
	remove := flags.enroll([]int{1}, func() { calls++ })
	remove()
	flags.Set(1)
	assert.Equal(t, 0, calls)
}

func TestEventFlagSet_RemoveIsStableAcrossConcurrentEnrollments(t *testing.T) {
	flags := NewEventFlagSet(4)
	var removers []func()
	for i := 0; i < 5; i++ {
		removers = append(removers, flags.enroll([]int{1}, func() {}))
	}
	// Remove the middle one; the others must still be removable cleanly
	// (regression test for a prior index-capture bug).
	removers[2]()
	for i, remove := range removers {
		if i == 2 {
			continue
		}
		require.NotPanics(t, remove)
	}
}

func TestEventFlagSet_Names(t *testing.T) {
	flags := NewEventFlagSet(4)
	assert.Equal(t, "", flags.Name(1))
	flags.SetName(1, "evStart")
	assert.Equal(t, "evStart", flags.Name(1))
}
