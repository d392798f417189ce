package seqrt

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/ctlseq/seqrt/internal/procaffinity"
)

// Supervisor owns one Program's startup and shutdown sequence (spec §4.6),
// adapted from the teacher event loop's Run/Shutdown pair: a context
// watcher for external cancellation, and a deterministic teardown that
// waits for every spawned fiber before returning. Start is not guarded
// against being called more than once.
type Supervisor struct {
	program *Program
}

func newSupervisor(p *Program) *Supervisor {
	return &Supervisor{program: p}
}

// Start performs spec §4.6 steps 4-8: the auxiliary fiber is already a
// process-wide singleton (ensureAuxFiber), so this invokes the program
// init hook, then spawns one fiber per state set, each of which assigns
// its channels, registers monitors, optionally awaits the program-wide
// connect-and-monitor barrier, and enters its main loop.
func (sv *Supervisor) Start() error {
	p := sv.program
	ensureAuxFiber().registerProgram(p)

	if p.initHook != nil {
		p.initHook(&VarContext{Program: p, Vars: p.Vars})
	}

	for _, ss := range p.StateSets {
		go sv.spawnStateSetFiber(ss)
	}

	if p.opts.ctx != nil {
		go sv.watchContext(p.opts.ctx)
	}
	return nil
}

// watchContext implements the optional exit-on-cancellation convenience
// (spec §12): when ctx is done, shut down exactly as a direct Stop call
// would, bounded by a generous fixed timeout since nothing else is left to
// hand the caller a deadline at that point.
func (sv *Supervisor) watchContext(ctx context.Context) {
	<-ctx.Done()
	_ = sv.StopTimeout(shutdownOnContextDoneTimeout)
}

const shutdownOnContextDoneTimeout = 30 * time.Second

// spawnStateSetFiber is one goroutine's entire lifetime: assign + monitor
// every channel the SS cares about, optionally wait at the barrier, set the
// fiber's OS thread priority, then run the main loop until termination
// (spec §4.6 step 8, §4.5).
func (sv *Supervisor) spawnStateSetFiber(ss *StateSet) {
	p := sv.program
	log := p.fiberNamedLogger(ss.Name)

	seen := make(map[int]struct{})
	for _, chIdx := range ss.channelIdx {
		if _, ok := seen[chIdx]; ok {
			continue
		}
		seen[chIdx] = struct{}{}
		ch := p.Channels[chIdx]
		if ch.Assigned() {
			continue
		}
		if err := ch.Assign(); err != nil {
			log.Error().Err(err).Str("channel", ch.resolvedName).Msg("channel assign failed")
		}
	}

	if p.Options.ConnectBeforeStart {
		select {
		case <-p.barrierCh:
		case <-p.term.done():
			ss.deathWG.Done()
			return
		}
	}

	if p.opts.priority > MinThreadPriority {
		lockAndSetPriority(p.opts.priority, log)
	}

	log.Info().Msg("state set entering run loop")
	runFiber(ss)
	log.Info().Msg("state set terminated")
}

// lockAndSetPriority locks the calling goroutine to its OS thread (required
// by SetThreadPriority's per-thread semantics on linux/darwin) and clamps
// priority; best-effort, a failure is logged but never fatal to program
// startup (spec §9 "Thread priority is clamped at most to THREAD_PRIORITY").
// The thread is never explicitly unlocked: the fiber owns it for the
// process's life, and Go retires the thread when the goroutine exits.
func lockAndSetPriority(priority int, log zerolog.Logger) {
	runtime.LockOSThread()
	if err := procaffinity.SetThreadPriority(priority); err != nil {
		log.Warn().Err(err).Msg("failed to set fiber thread priority")
	}
}

// Stop requests shutdown of the program (spec §4.6 "Shutdown"): signals
// every SS fiber's termination flag, waits (bounded by ctx) for each
// fiber's death semaphore, then cancels monitors, disconnects channels,
// runs the program exit hook, tears down the provider context, and removes
// the program from the global registry. It does not close the log file
// opened for the logfile macro.
func (sv *Supervisor) Stop(ctx context.Context) error {
	p := sv.program
	p.term.Fire()

	done := make(chan struct{})
	go func() {
		for _, ss := range p.StateSets {
			ss.deathWG.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, ch := range p.Channels {
		ch.mu.Lock()
		handle, assigned := ch.handle, ch.assigned
		ch.mu.Unlock()
		if !assigned {
			continue
		}
		if ch.desc.Monitor || ch.desc.Queued {
			_ = p.provider.VarMonitorOff(handle)
		}
		_ = p.provider.VarDestroy(handle)
	}

	if p.exitHook != nil {
		p.exitHook(&VarContext{Program: p, Vars: p.Vars})
	}

	ensureAuxFiber().unregisterProgram(p)
	globalRegistry.unregister(p.registry)
	return nil
}

// StopTimeout is a convenience wrapper over Stop using a fixed deadline,
// for callers that do not otherwise need a context.
func (sv *Supervisor) StopTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return sv.Stop(ctx)
}
