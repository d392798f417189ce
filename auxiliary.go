package seqrt

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// auxiliaryFiber is the single process-wide fiber that owns every PV
// provider's context (spec §4.6 step 5, §9 "Global auxiliary fiber...
// becomes a singleton registry with explicit init guarded by a one-shot
// initialization primitive"). Channel-access-style providers require their
// context calls to originate from one consistent OS thread, so this fiber
// locks itself to a thread for its entire life and every program's
// CreateContext call is routed through its work queue.
//
// Its poll loop follows the teacher event loop's tick/poll split combined
// with an adaptive-interval idiom (in the spirit of the smartpoll module in
// the same example pack): the sleep between idle ticks doubles up to a
// ceiling when there is no work, and resets to the floor the moment work
// arrives, so an idle runtime does not busy-poll yet a busy one stays
// responsive.
type auxiliaryFiber struct {
	work chan func()

	mu       sync.Mutex
	programs map[*Program]struct{}
}

const (
	auxPollFloor = 2 * time.Millisecond
	auxPollCeil  = 200 * time.Millisecond
)

var (
	auxFiberOnce sync.Once
	auxFiberInst *auxiliaryFiber
)

// ensureAuxFiber returns the process-wide auxiliary fiber, starting its
// goroutine on first use.
func ensureAuxFiber() *auxiliaryFiber {
	auxFiberOnce.Do(func() {
		auxFiberInst = &auxiliaryFiber{
			work:     make(chan func(), 64),
			programs: make(map[*Program]struct{}),
		}
		go auxFiberInst.run()
	})
	return auxFiberInst
}

// registerProgram enrolls p for periodic housekeeping (registry scavenge,
// provider Flush) and asks its provider to stand up its context on the aux
// fiber's own thread, per the channel-access-style requirement in spec §6.
func (a *auxiliaryFiber) registerProgram(p *Program) {
	a.mu.Lock()
	a.programs[p] = struct{}{}
	a.mu.Unlock()

	done := make(chan error, 1)
	a.submit(func() {
		done <- p.provider.CreateContext(context.Background())
	})
	if err := <-done; err != nil {
		p.logger.Error().Err(err).Msg("PV provider context creation failed")
	}
}

// unregisterProgram tears down p's provider context on the aux fiber's
// thread and drops it from the housekeeping set.
func (a *auxiliaryFiber) unregisterProgram(p *Program) {
	a.mu.Lock()
	delete(a.programs, p)
	a.mu.Unlock()

	done := make(chan error, 1)
	a.submit(func() {
		done <- p.provider.DestroyContext()
	})
	if err := <-done; err != nil {
		p.logger.Warn().Err(err).Msg("PV provider context teardown failed")
	}
}

// submit schedules fn to run on the aux fiber's own goroutine/thread.
func (a *auxiliaryFiber) submit(fn func()) {
	a.work <- fn
}

func (a *auxiliaryFiber) run() {
	runtime.LockOSThread()

	interval := auxPollFloor
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-a.work:
			fn()
			// drain any further work queued alongside fn before going
			// back to idle polling, batching like the teacher's runAux.
			a.drainAvailable()
			interval = auxPollFloor
			ticker.Reset(interval)

		case <-ticker.C:
			a.houseKeep()
			if interval < auxPollCeil {
				interval *= 2
				if interval > auxPollCeil {
					interval = auxPollCeil
				}
				ticker.Reset(interval)
			}
		}
	}
}

func (a *auxiliaryFiber) drainAvailable() {
	for {
		select {
		case fn := <-a.work:
			fn()
		default:
			return
		}
	}
}

// houseKeep runs the aux fiber's periodic duties: scavenge the program
// registry's weak-pointer ring and flush any provider that supports it
// (pvprovider.go's Flusher), mirroring the original runtime's periodic
// ca_flush_io call from its own auxiliary thread.
func (a *auxiliaryFiber) houseKeep() {
	globalRegistry.scavenge(32)

	a.mu.Lock()
	programs := make([]*Program, 0, len(a.programs))
	for p := range a.programs {
		programs = append(programs, p)
	}
	a.mu.Unlock()

	for _, p := range programs {
		if f, ok := p.provider.(Flusher); ok {
			if err := f.Flush(); err != nil {
				p.logger.Warn().Err(err).Msg("PV provider flush failed")
			}
		}
	}
}
