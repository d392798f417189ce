package seqrt

import (
	"time"

	"github.com/ctlseq/seqrt/internal/goroutineid"
)

// runFiber is the state-set fiber main loop (spec §4.5), one goroutine per
// StateSet, adapted from the teacher event loop's run/tick structure: a CAS
// state machine instead of raw booleans, a channel-based wake instead of an
// I/O poller, and a termination signal checked cooperatively at the same
// points the teacher's Loop checks its context.
func runFiber(ss *StateSet) {
	ss.fiberState.TryTransition(StateAwake, StateRunning)
	if ss.program.Options.Debug {
		ss.ownerGID = goroutineid.Current()
	}
	defer ss.deathWG.Done()
	defer ss.fiberState.Store(StateTerminated)

	s := ss.currentState
	entering := true      // a state change just occurred (spec §4.5 step 1); unconditional
	fireEntryHook := true // step 2's additionally self/suppress-gated condition

	var removeEnroll func()
	defer func() {
		if removeEnroll != nil {
			removeEnroll()
		}
	}()

	for {
		state := &ss.states[s]

		if entering || state.Options.ResetTimersOnEntry {
			ss.timeEntered = time.Now()
			ss.delay = make([]float64, state.MaxDelays)
			ss.delayExpired = make([]bool, state.MaxDelays)
			if state.DelayInit != nil {
				state.DelayInit(ss.varContext(), ss.delay)
			}
		}

		if fireEntryHook && state.EntryHook != nil {
			state.EntryHook(ss.varContext())
		}

		if removeEnroll != nil {
			removeEnroll()
		}
		removeEnroll = ss.program.Flags.enroll(state.EventMask, ss.signalWake)

		entering = false

		for {
			ss.commitDirtyChannels(s)
			now := time.Now()
			for d := range ss.delayExpired {
				if !ss.delayExpired[d] {
					elapsed := now.Sub(ss.timeEntered).Seconds()
					ss.delayExpired[d] = elapsed >= ss.delay[d]
				}
			}

			var transition, target int
			var ok bool
			if state.Evaluator != nil {
				transition, target, ok = state.Evaluator(ss.varContext())
			}

			if ok {
				selfTransition := target == s
				if !(selfTransition && state.Options.SuppressExitToSelf) && state.ExitHook != nil {
					state.ExitHook(ss.varContext())
				}
				if state.ActionDisp != nil {
					state.ActionDisp(ss.varContext(), transition)
				}
				ss.prevState = s
				ss.nextState = target
				ss.currentState = target
				s = target
				entering = true
				fireEntryHook = !(selfTransition && state.Options.SuppressEntryFromSelf)
				break
			}

			if ss.program.term.Requested() {
				return
			}

			wait := ss.minDelayWait(now)
			if !ss.block(wait) {
				return
			}
		}
	}
}

// varContext builds the opaque callback context passed to every compiler
// callable (spec §9). In safe mode the shadow buffer is handed to action
// code instead of the program's shared Vars.
func (ss *StateSet) varContext() *VarContext {
	vars := ss.program.Vars
	if ss.shadow != nil {
		vars = ss.shadow
	}
	return &VarContext{Program: ss.program, StateSet: ss, Vars: vars}
}

// commitDirtyChannels bulk-commits every channel with a pending update for
// this SS into its shadow buffer (spec §4.5 step 3a, safe mode only — in
// non-safe mode channels write the shared Vars directly from
// monitorCallback and there is nothing to commit here).
func (ss *StateSet) commitDirtyChannels(_ int) {
	if ss.shadow == nil {
		return
	}
	ssIdx := ss.index()
	for _, chIdx := range ss.channelIdx {
		ch := ss.program.Channels[chIdx]
		ch.commitDirty(ssIdx, ss.shadow)
	}
}

func (ss *StateSet) index() int {
	for i, other := range ss.program.StateSets {
		if other == ss {
			return i
		}
	}
	return -1
}

// signalWake wakes the fiber from block (spec §4.2 "set enqueues a signal
// to each interested SS's syncSem"); it is non-blocking so a burst of
// sets/pushes while the fiber is busy running a transition body never stalls
// the producer.
func (ss *StateSet) signalWake() {
	select {
	case ss.wake <- struct{}{}:
	default:
	}
}

// minDelayWait computes the minimum remaining time until the next unexpired
// delay fires, or -1 if there is no pending delay (spec §4.5 step 3e).
func (ss *StateSet) minDelayWait(now time.Time) time.Duration {
	min := time.Duration(-1)
	for d, expired := range ss.delayExpired {
		if expired {
			continue
		}
		deadline := ss.timeEntered.Add(time.Duration(ss.delay[d] * float64(time.Second)))
		remaining := deadline.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		if min < 0 || remaining < min {
			min = remaining
		}
	}
	return min
}

// block suspends the fiber on its wake channel, with timeout wait if
// non-negative (spec §4.5 step 3e "block on syncSem with timeout D-now, or
// infinite if no pending delays"). Returns false if termination was
// requested while waiting.
func (ss *StateSet) block(wait time.Duration) bool {
	ss.fiberState.Store(StateSleeping)
	defer ss.fiberState.Store(StateRunning)

	if wait < 0 {
		select {
		case <-ss.wake:
		case <-ss.program.term.done():
		}
		return !ss.program.term.Requested()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ss.wake:
	case <-timer.C:
	case <-ss.program.term.done():
	}
	return !ss.program.term.Requested()
}
