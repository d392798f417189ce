package seqrt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Thread priority and stack size bounds enforced when resolving
// programOptions (spec §10.3; the upper stack bound is new relative to the
// runtime this engine replaces — see DESIGN.md Open Questions).
const (
	MinThreadPriority = 0
	MaxThreadPriority = 99

	MinStackSize = 16 * 1024
	MaxStackSize = 64 * 1024 * 1024

	DefaultStackSize = 256 * 1024
)

// programOptions is the resolved configuration for one Program, assembled
// from the compiler-emitted program-statement macros and the caller's
// macroString, generalizing the teacher's loopOptions/LoopOption pattern to
// seqrt's key/value macro surface instead of a fixed option struct.
type programOptions struct {
	name     string
	priority int
	stack    int
	logfile  string
	pvsys    string

	// debugLevel is the zerolog verbosity selector (spec §6 "debug (integer
	// level)", SPEC_FULL.md §10.1): 0 logs at Info, 1 at Debug, 2 or higher
	// at Trace.
	debugLevel int

	// macros is the full parsed macroString key/value set, including keys
	// beyond the six recognized option names — these are the {name} tokens
	// available for channel PV-name template expansion (spec §4.4).
	macros map[string]string

	// ctx is an optional host-supplied cancellation context (supplemented
	// feature, spec §12 "exit-on-signal convenience"): when non-nil, its
	// cancellation triggers the same shutdown Supervisor.Stop would. nil
	// means the caller manages shutdown entirely through Stop.
	ctx context.Context
}

func defaultProgramOptions() programOptions {
	return programOptions{
		priority: MinThreadPriority,
		stack:    DefaultStackSize,
	}
}

// ProgramOption configures program startup, mirroring the teacher's
// LoopOption but operating on the resolved macro set rather than being the
// sole configuration surface — a macroString always takes precedence ties
// per spec §4.4.
type ProgramOption interface {
	applyProgram(*programOptions) error
}

type programOptionFunc func(*programOptions) error

func (f programOptionFunc) applyProgram(o *programOptions) error { return f(o) }

// WithName overrides the program instance name (default: the descriptor's
// compiled-in name).
func WithName(name string) ProgramOption {
	return programOptionFunc(func(o *programOptions) error {
		o.name = name
		return nil
	})
}

// WithThreadPriority sets every state-set fiber's OS thread priority,
// clamped to [MinThreadPriority, MaxThreadPriority].
func WithThreadPriority(priority int) ProgramOption {
	return programOptionFunc(func(o *programOptions) error {
		o.priority = clampInt(priority, MinThreadPriority, MaxThreadPriority)
		return nil
	})
}

// WithStackSize sets the program's stack-size option, clamped to
// [MinStackSize, MaxStackSize]. The value is recorded in the resolved
// options only; it sizes no buffer, and Go goroutine stacks grow on demand.
func WithStackSize(bytes int) ProgramOption {
	return programOptionFunc(func(o *programOptions) error {
		o.stack = clampInt(bytes, MinStackSize, MaxStackSize)
		return nil
	})
}

// WithLogFile directs the program logger at a named file instead of stdout.
func WithLogFile(path string) ProgramOption {
	return programOptionFunc(func(o *programOptions) error {
		o.logfile = path
		return nil
	})
}

// WithPVSystem selects which registered PVProvider factory a program binds
// its channels to.
func WithPVSystem(name string) ProgramOption {
	return programOptionFunc(func(o *programOptions) error {
		o.pvsys = name
		return nil
	})
}

// WithContext supplies a cancellation context the running program should
// watch: when ctx is done, the program begins shutting down exactly as if
// Stop had been called, without the host needing to wire its own signal
// handler through to Stop. The CLI-level signal-to-context translation
// itself stays outside this package's scope.
func WithContext(ctx context.Context) ProgramOption {
	return programOptionFunc(func(o *programOptions) error {
		o.ctx = ctx
		return nil
	})
}

// WithDebug raises the program logger to debug level (equivalent to a
// "debug=1" macro). Use WithDebugLevel for the finer-grained integer scale.
func WithDebug(enabled bool) ProgramOption {
	return programOptionFunc(func(o *programOptions) error {
		if enabled {
			o.debugLevel = 1
		} else {
			o.debugLevel = 0
		}
		return nil
	})
}

// WithDebugLevel sets the program logger's verbosity directly, matching the
// macro string's integer "debug" level (spec §6): 0 disables it, 1 selects
// zerolog.DebugLevel, 2 or higher selects zerolog.TraceLevel.
func WithDebugLevel(level int) ProgramOption {
	return programOptionFunc(func(o *programOptions) error {
		o.debugLevel = level
		return nil
	})
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// resolveProgramOptions applies ProgramOption instances over the defaults,
// then lets parseMacroString override anything it names, matching the
// precedence spec §4.4 assigns to the runtime macroString.
func resolveProgramOptions(descriptorName, macroString string, opts []ProgramOption) (programOptions, error) {
	cfg := defaultProgramOptions()
	cfg.name = descriptorName

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyProgram(&cfg); err != nil {
			return programOptions{}, err
		}
	}

	macros, err := parseMacroString(macroString)
	if err != nil {
		return programOptions{}, err
	}
	for _, key := range []string{"name", "priority", "stack", "logfile", "pvsys", "debug"} {
		val, ok := macros[key]
		if !ok {
			continue
		}
		if err := applyMacroOption(&cfg, key, val); err != nil {
			return programOptions{}, err
		}
	}
	cfg.macros = macros
	return cfg, nil
}

// applyMacroOption interprets one recognized top-level macro key as a
// programOptions override. These keys also stay in programOptions.macros,
// so a `{name}`-style token for one of them still expands in a channel's
// PV name template.
func applyMacroOption(cfg *programOptions, key, val string) error {
	switch key {
	case "name":
		cfg.name = val
	case "priority":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("seqrt: macro %q: %w", key, err)
		}
		cfg.priority = clampInt(n, MinThreadPriority, MaxThreadPriority)
	case "stack":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("seqrt: macro %q: %w", key, err)
		}
		cfg.stack = clampInt(n, MinStackSize, MaxStackSize)
	case "logfile":
		cfg.logfile = val
	case "pvsys":
		cfg.pvsys = val
	case "debug":
		// spec §6: "debug (integer level)", not a boolean — seq_main.c's
		// auxArgs.debug = atol(pValue) treats it the same way.
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("seqrt: macro %q: %w", key, err)
		}
		cfg.debugLevel = n
	}
	return nil
}

// parseMacroString parses the runtime's "key1=value1,key2=value2" macro
// surface (spec §4.4), used both for top-level program options and as the
// override layer in macro.go's PV-name expansion.
func parseMacroString(s string) (map[string]string, error) {
	out := make(map[string]string)
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("seqrt: malformed macro entry %q, want key=value", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
