package seqrt

import "sync/atomic"

// FiberState is the lifecycle of a state-set fiber (spec §4.5, §5).
//
//	StateAwake (0)    -> StateRunning (3)     [fiber starts its main loop]
//	StateRunning (3)  -> StateSleeping (2)    [enters block with no transition ready]
//	StateSleeping (2) -> StateRunning (3)     [woken by an event, delay, or sync]
//	StateRunning/Sleeping -> StateTerminated  [termination requested; fiber finished its current body and returns]
//
// StateTerminating is defined and named by String, but nothing in this
// package stores it: a terminating fiber goes straight to StateTerminated.
//
// Values are intentionally non-sequential (mirroring the runtime this
// engine replaces, which numbered its own states this way) so a
// zero-valued fiberState reads as StateAwake.
type FiberState uint32

const (
	StateAwake FiberState = iota
	StateTerminated
	StateSleeping
	StateRunning
	StateTerminating
)

func (s FiberState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fiberState is a lock-free state machine for one state-set fiber. It is
// written only by the fiber's own goroutine and may be read from any
// goroutine. TryTransition is a CAS; Store is a plain atomic store, which
// runFiber and block use for every move except the initial Awake->Running.
type fiberState struct {
	v atomic.Uint32
}

func newFiberState() *fiberState {
	s := &fiberState{}
	s.v.Store(uint32(StateAwake))
	return s
}

func (s *fiberState) Load() FiberState { return FiberState(s.v.Load()) }

func (s *fiberState) Store(state FiberState) { s.v.Store(uint32(state)) }

// TryTransition attempts an atomic from->to move, reporting success.
func (s *fiberState) TryTransition(from, to FiberState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// IsTerminal reports whether the fiber has fully shut down.
func (s *fiberState) IsTerminal() bool { return s.Load() == StateTerminated }

// CanAcceptWork reports whether the fiber is still willing to be woken
// (Awake, Running or Sleeping). Channels and event flags signal a fiber
// without consulting it.
func (s *fiberState) CanAcceptWork() bool {
	switch s.Load() {
	case StateAwake, StateRunning, StateSleeping:
		return true
	default:
		return false
	}
}
