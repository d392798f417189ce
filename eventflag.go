package seqrt

import "sync"

// EventFlagSet is a bitset of N flags, 1-indexed per spec §4.2 (bit index 0
// is unused so a zero eventFlag field on a Channel reads as "unbound").
// set/clear/test are atomic; Set additionally wakes every state-set fiber
// whose enrolled mask (see enroll) intersects the newly-set bit.
type EventFlagSet struct {
	mu    sync.Mutex
	bits  []bool   // index 1..n
	names []string // index 1..n, optional source-level names for diagnostics only

	waiters  []efWaiter
	nextWait uint64
}

type efWaiter struct {
	id   uint64
	mask uint64 // bit i -> (1 << i) for i in [1,62]; every i >= 63 shares bit 63, see maskBit
	wake func()
}

// NewEventFlagSet creates a set with n usable bits (indices 1..n).
func NewEventFlagSet(n int) *EventFlagSet {
	return &EventFlagSet{bits: make([]bool, n+1), names: make([]string, n+1)}
}

func (e *EventFlagSet) valid(i int) bool { return i >= 1 && i < len(e.bits) }

// SetName attaches a source-level diagnostic name to flag i (supplemented
// feature, grounded on original_source/src/snc/analysis.c's
// pvEventFlagName: purely informational, consulted only by Program.Show,
// never by any wake/test decision).
func (e *EventFlagSet) SetName(i int, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.valid(i) {
		e.names[i] = name
	}
}

// Name returns the diagnostic name attached to flag i, or "" if none was
// set.
func (e *EventFlagSet) Name(i int) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.valid(i) {
		return e.names[i]
	}
	return ""
}

// Set atomically sets bit i, then wakes every enrolled waiter whose mask
// contains i (spec §4.2 "set wakes all SSes whose event-mask intersects").
func (e *EventFlagSet) Set(i int) {
	e.mu.Lock()
	if !e.valid(i) {
		e.mu.Unlock()
		return
	}
	e.bits[i] = true
	wakes := make([]func(), 0, len(e.waiters))
	bit := maskBit(i)
	for _, w := range e.waiters {
		if w.mask&bit != 0 {
			wakes = append(wakes, w.wake)
		}
	}
	e.mu.Unlock()

	for _, wake := range wakes {
		wake()
	}
}

// Clear atomically clears bit i.
func (e *EventFlagSet) Clear(i int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.valid(i) {
		e.bits[i] = false
	}
}

// Test returns the current value of bit i.
func (e *EventFlagSet) Test(i int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.valid(i) && e.bits[i]
}

// TestAndClear atomically reads then clears bit i, used by the queue-backed
// sync consumer side (spec §4.7) and by racing-waiter tests (spec §8: "two
// SSes race, exactly one observes the bit as having been set" — callers
// achieve that by both calling TestAndClear under the same flag).
func (e *EventFlagSet) TestAndClear(i int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid(i) {
		return false
	}
	v := e.bits[i]
	e.bits[i] = false
	return v
}

// AnySet reports whether any bit in mask (a set of bit indices) is
// currently set, used by a fiber re-examining its guards after a wake.
func (e *EventFlagSet) AnySet(indices []int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, i := range indices {
		if e.valid(i) && e.bits[i] {
			return true
		}
	}
	return false
}

// maskBit converts a bit index into a waiter-mask bit. Programs with more
// than 63 event flags still function correctly (waiters for flags beyond
// the 63rd simply coalesce into the high/overflow slot 63 for wake
// purposes), trading a slightly higher chance of a spurious wake for
// avoiding a big.Int-sized mask on the fiber wake path; guards are
// idempotent under spurious wakeup by spec §4.2.
func maskBit(i int) uint64 {
	if i >= 63 {
		return 1 << 63
	}
	return 1 << uint(i)
}

// maskFromIndices builds a waiter mask from the set of flag indices a
// state's event-mask names.
func maskFromIndices(indices []int) uint64 {
	var m uint64
	for _, i := range indices {
		m |= maskBit(i)
	}
	return m
}

// enroll registers wake as interested in any bit in indices, returning a
// function that removes the registration. Used by runFiber (fiber.go) to
// participate in Set()'s wake fan-out while block waits on the state set's
// own wake channel.
func (e *EventFlagSet) enroll(indices []int, wake func()) (remove func()) {
	e.mu.Lock()
	id := e.nextWait
	e.nextWait++
	e.waiters = append(e.waiters, efWaiter{id: id, mask: maskFromIndices(indices), wake: wake})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, w := range e.waiters {
			if w.id == id {
				e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
				break
			}
		}
	}
}
