package seqrt

import (
	"fmt"
	"os"
)

// Seq is the runtime's single host-facing entry point (spec §6
// "seq(program, macroString, stackSize)"): it validates descriptor,
// resolves options, builds the Program's runtime tables, and starts its
// Supervisor. stackSize is accepted for source-compatibility with the
// macroString's own "stack" key; when both are given, stackSize (the
// explicit parameter) loses to a "stack" macro, matching the override rule
// spec §4.4 assigns to macroString entries generally.
func Seq(descriptor *Descriptor, macroString string, stackSize int, opts ...ProgramOption) (*Program, error) {
	if descriptor == nil {
		return nil, &StructuralError{Cause: fmt.Errorf("seqrt: nil descriptor")}
	}
	if descriptor.Magic != DescriptorMagic {
		return nil, &StructuralError{Program: descriptor.Name, Cause: ErrMagicMismatch}
	}

	cfg, err := resolveProgramOptions(descriptor.Name, macroString, opts)
	if err != nil {
		return nil, &StructuralError{Program: descriptor.Name, Cause: err}
	}
	if stackSize > 0 && cfg.stack == DefaultStackSize {
		cfg.stack = clampInt(stackSize, MinStackSize, MaxStackSize)
	}

	p, err := buildProgram(descriptor, cfg)
	if err != nil {
		return nil, &StructuralError{Program: descriptor.Name, Cause: err}
	}

	sv := newSupervisor(p)
	if err := sv.Start(); err != nil {
		return nil, &StructuralError{Program: p.Name, Cause: err}
	}
	return p, nil
}

// buildProgram allocates the Program's runtime tables from the compiler
// Descriptor (spec §4.6 step 1: "Allocate program, SS, channel, queue,
// event-flag tables") and resolves every channel's PV-name template
// through the macro scope assembled from the compiler's program-statement
// macros and the caller's macroString (spec §4.6 steps 2-3).
func buildProgram(d *Descriptor, cfg programOptions) (*Program, error) {
	provider, err := lookupPVProvider(cfg.pvsys)
	if err != nil {
		return nil, err
	}

	var logOut *os.File
	if cfg.logfile != "" {
		f, err := os.OpenFile(cfg.logfile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, WrapError("seqrt: open logfile", err)
		}
		logOut = f
	}
	baseLogger := newProgramLogger(logWriterOrStdout(logOut), LogFormatText, cfg.debugLevel)

	p := &Program{
		Name:       cfg.name,
		Options:    d.Options,
		Vars:       make([]byte, d.VarAreaSize),
		Flags:      NewEventFlagSet(d.NumFlags),
		baseLogger: baseLogger,
		logger:     fiberLogger(baseLogger, cfg.name),
		term:       newTerminationSignal(),
		opts:       cfg,
		provider:   provider,
		barrierCh:  make(chan struct{}),
		initHook:   d.InitHook,
		exitHook:   d.ExitHook,
	}
	for _, cd := range d.Channels {
		if cd.Monitor || cd.Queued {
			p.firstMonitorsLeft++
		}
	}
	for idx, name := range d.FlagNames {
		p.Flags.SetName(idx, name)
	}

	// cfg.macros (the command-line macroString) wins ties over the
	// compiler's program-statement macros (spec §4.4, §4.6 steps 2-3).
	macros := newMacroScope(cfg.macros, d.ProgramMacros)

	p.Channels = make([]*Channel, len(d.Channels))
	for i, cd := range d.Channels {
		resolved := expandMacros(cd.NameTmpl, macros)
		p.Channels[i] = newChannel(p, provider, cd, resolved)
	}

	p.StateSets = make([]*StateSet, len(d.States))
	for i, ssd := range d.States {
		ss := &StateSet{
			Name:         ssd.Name,
			program:      p,
			states:       ssd.States,
			currentState: 0,
			nextState:    0,
			prevState:    -1,
			wake:         make(chan struct{}, 1),
			fiberState:   newFiberState(),
			channelIdx:   ssd.ChannelIdx,
		}
		if d.Options.SafeMode {
			ss.shadow = make([]byte, d.VarAreaSize)
			copy(ss.shadow, p.Vars)
		}
		ss.deathWG.Add(1)
		p.StateSets[i] = ss

		for _, chIdx := range ssd.ChannelIdx {
			ch := p.Channels[chIdx]
			ch.subscribers = append(ch.subscribers, i)
		}
	}

	for i, cd := range d.Channels {
		if cd.Queued && cd.EventFlag != 0 {
			sq := NewSyncQueue(p.Channels[i], cd.EventFlag, cd.QueueSize, p.Flags)
			if sq == nil {
				return nil, fmt.Errorf("seqrt: channel %q: invalid queue size %d", cd.VarName, cd.QueueSize)
			}
			p.SyncQs = append(p.SyncQs, sq)
		}
	}

	p.registry = globalRegistry.register(p)
	return p, nil
}

func logWriterOrStdout(f *os.File) *os.File {
	if f != nil {
		return f
	}
	return os.Stdout
}
