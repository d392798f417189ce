// Package seqrt is the runtime engine for a state-notation language used in
// distributed control systems: a program is one or more concurrent state
// sets, each a finite-state machine whose transitions depend on
// process-variable (PV) values, event flags, time delays and user
// predicates.
//
// # Architecture
//
// A [Program] owns a table of [Channel] bindings, event flags, sync queues
// and state-set descriptors, produced by a separate compiler (modeled here
// as a [Descriptor], consumed by [Seq]). The [Supervisor] spawns one
// goroutine-backed fiber per state set plus a single process-wide auxiliary
// fiber that owns the [PVProvider] context, and coordinates startup and
// shutdown across all of them.
//
// Each state-set fiber runs the loop in runFiber: evaluate the current
// state's transition guards, take the first whose guard holds, run its
// body, change state, then block on an event-flag wait (bounded by the
// state's pending delays) until a monitor callback, event-flag set, queued
// sync payload, or termination request wakes it again.
//
// # Concurrency model
//
// PV provider callbacks arrive on provider-owned goroutines and serialize
// through per-channel locks ([Channel]); they either mark a channel dirty
// (committed into the fiber's variable view at the next transition-cycle
// boundary, in safe mode) or push into a [RingQueue] bound to an event
// flag. State-set fibers never block inside a transition-guard evaluation
// or a transition body, except for explicit synchronous pvGet/pvPut calls,
// which block on a per-channel semaphore released by the provider's
// completion callback.
//
// # Platform support
//
// Thread-priority clamping ([Supervisor.spawnStateSetFiber]) uses native OS
// priority calls on linux/darwin; on other platforms it is a no-op, the
// same per-OS split the teacher event loop used for its I/O poller.
//
// # Non-goals
//
// seqrt does not interpret user action code (actions are opaque callables
// supplied by the compiler output), does not implement any PV wire
// protocol, and does not persist state across restarts.
package seqrt
