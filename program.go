package seqrt

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DescriptorMagic is the ABI version stamp a compiler-emitted Descriptor
// must carry (spec §6: "guards ABI skew between compiler and runtime").
const DescriptorMagic uint32 = 0x53514e32 // "SQN2"

// VarContext is the opaque context handle passed to every compiler-emitted
// callable (spec §9 "model these as an abstract callable taking the
// variable area and a context handle"). The runtime never inspects it; it
// exists so action code can reach back into the owning Program/StateSet
// without the runtime hard-coding a concrete signature per callback kind.
type VarContext struct {
	Program  *Program
	StateSet *StateSet
	Vars     []byte
}

// TransitionEvaluator is compiler-emitted: given the current variable view
// it reports either no match (ok=false) or the index of the first
// satisfied transition and its target state.
type TransitionEvaluator func(ctx *VarContext) (transition int, target int, ok bool)

// ActionBody runs a transition's body (spec §4.5 step 3d). It is opaque
// user/compiler code; the runtime does not introspect it, only invokes it
// between exit-hook and the state change becoming visible.
type ActionBody func(ctx *VarContext, transition int)

// DelayInitializer populates a state's delay table on entry (spec §4.5
// step 1).
type DelayInitializer func(ctx *VarContext, delay []float64)

// Hook is an entry/exit/init/exit-program callable.
type Hook func(ctx *VarContext)

// StateOptions are the per-state flags from spec §3 "State options".
type StateOptions struct {
	ResetTimersOnEntry    bool
	SuppressEntryFromSelf bool
	SuppressExitToSelf    bool
}

// State is the compiler's immutable description of one state-set state
// (spec §3 "State").
type State struct {
	Name string

	Evaluator   TransitionEvaluator
	DelayInit   DelayInitializer
	ActionDisp  ActionBody
	EntryHook   Hook
	ExitHook    Hook
	EventMask   []int // event-flag indices this state cares about
	MaxDelays   int
	Options     StateOptions
}

// ChannelDescriptor is the compiler's immutable description of one PV
// channel (spec §3 "Channel", §6).
type ChannelDescriptor struct {
	VarName    string
	VarType    PVType
	VarOffset  int
	VarCount   int
	NameTmpl   string // may contain {macro} tokens
	Monitor    bool
	Queued     bool
	EventFlag  int // 0 = unbound
	QueueSize  int
	AssignedAt int // index into Program.Channels this binds to — self for simple tables
}

// ProgramOptionBits are the compiler-emitted whole-program option bits (spec
// §3 "Program... options bitset").
type ProgramOptionBits struct {
	Reentrant            bool
	SafeMode             bool
	Main                 bool
	ConnectBeforeStart   bool
	Async                bool
	Debug                bool
	InitRegisterAsRecord bool
}

// Descriptor is the compiler's output contract (spec §6): an in-memory,
// already-validated table the runtime consumes to build a Program. The
// compiler itself is out of scope; this struct is the boundary.
type Descriptor struct {
	Magic uint32

	Name    string
	Options ProgramOptionBits

	States     []stateSetDescriptor
	Channels   []ChannelDescriptor
	NumFlags   int
	QueueSizes []int // parallel to sync-queue-bound channels, in declaration order

	// FlagNames are optional source-level names for event flag indices,
	// compiler diagnostics only (spec §12 "pvEventFlagName").
	FlagNames map[int]string

	VarAreaSize int

	// ProgramMacros are the program-statement macros parsed by the
	// compiler (spec §4.4/§4.6 step 2), consulted before the caller's
	// macroString, which wins ties.
	ProgramMacros map[string]string

	InitHook Hook
	ExitHook Hook
}

type stateSetDescriptor struct {
	Name       string
	States     []State
	ChannelIdx []int // indices into Descriptor.Channels this SS's monitors map to
}

// Program is the runtime's mutable execution context for one compiled
// program instance (spec §3 "Program"). Fields are fixed after Start; only
// the counters and logger are written post-startup.
type Program struct {
	mu sync.Mutex

	Name    string
	Options ProgramOptionBits

	StateSets []*StateSet
	Channels  []*Channel
	Flags     *EventFlagSet
	SyncQs    []*SyncQueue

	// Vars is the authoritative, program-scope variable area (spec §3
	// "user-variable area"). In safe mode each StateSet additionally
	// carries a shadow copy (StateSet.shadow), seeded from Vars at build
	// time and then committed into from each subscribed channel's latest
	// value at cycle boundaries. In non-safe mode monitor callbacks write
	// Vars under mu; fiber callables receive Vars through VarContext and
	// the runtime takes no lock around their reads or writes.
	Vars []byte

	connectCount      int
	assignCount       int
	firstMonitorsLeft int

	barrierOnce sync.Once
	barrierCh   chan struct{}

	baseLogger zerolog.Logger // unTagged program logger; fiberLogger(baseLogger, name) tags each fiber
	logger     zerolog.Logger // baseLogger tagged with the program name, used by the supervisor/aux fiber
	registry   uint64         // id under globalRegistry

	term *terminationSignal

	opts programOptions

	provider PVProvider

	initHook Hook
	exitHook Hook

	startedAt time.Time
}

// fiberNamedLogger returns a logger tagged "<program-name>:<ssName>" (spec
// §10.1), used by each state-set fiber.
func (p *Program) fiberNamedLogger(ssName string) zerolog.Logger {
	return fiberLogger(p.baseLogger, p.Name+":"+ssName)
}

// ConnectCount returns the number of currently-connected channels (spec §3
// invariant connectCount ≤ assignCount ≤ len(channels)).
func (p *Program) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectCount
}

// AssignCount returns the number of successfully assigned channels.
func (p *Program) AssignCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.assignCount
}

func (p *Program) incConnect(delta int) {
	p.mu.Lock()
	p.connectCount += delta
	p.mu.Unlock()
}

func (p *Program) incAssign(delta int) {
	p.mu.Lock()
	p.assignCount += delta
	p.mu.Unlock()
}

// onFirstMonitor is called exactly once per channel, the first time its
// monitor delivers a value, feeding the program-wide "all connected and all
// first monitors delivered" startup barrier (spec §4.3 connectedCallback,
// §4.6 step 8).
func (p *Program) onFirstMonitor() {
	p.mu.Lock()
	p.firstMonitorsLeft--
	p.mu.Unlock()
	p.checkBarrier()
}

// checkBarrier closes barrierCh the first time every channel is connected
// and every monitored channel has delivered its first value.
func (p *Program) checkBarrier() {
	p.mu.Lock()
	ready := p.connectCount >= len(p.Channels) && p.firstMonitorsLeft <= 0
	p.mu.Unlock()
	if ready {
		p.barrierOnce.Do(func() { close(p.barrierCh) })
	}
}

// StateSet is the runtime's mutable execution context for one state set
// (spec §3 "State set (SS)"). Only the owning fiber goroutine reads/writes
// currentState/nextState/prevState/delay*/timeEntered; no lock guards them
// (spec §5 shared-resource table: "state-set state... SS fiber only").
type StateSet struct {
	Name string

	program *Program
	states  []State

	currentState int
	nextState    int
	prevState    int

	delay        []float64
	delayExpired []bool
	timeEntered  time.Time

	// shadow is the per-SS safe-mode overlay of the variable area (spec §9
	// Open Question: "safe-mode should allocate one per-SS buffer", and
	// DESIGN.md's resolution of that ambiguity). nil when SafeMode is off.
	shadow []byte

	wake       chan struct{}
	fiberState *fiberState

	channelIdx []int

	deathWG sync.WaitGroup

	// ownerGID is the runtime goroutine id of the fiber's own goroutine,
	// recorded once runFiber starts. In debug builds, Channel.Get/Put
	// asserts it is called from this goroutine (spec §5: synchronous
	// pvGet/pvPut are issued by the owning SS's own fiber, never a
	// different one), catching a compiler-output bug that dispatches an
	// action body onto the wrong goroutine.
	ownerGID uint64
}

// Show writes a human-readable dump of p and its state sets/channels to w,
// the data SeqShow (registry.go) surfaces (spec §6 "seqShow").
func (p *Program) Show(w io.Writer) {
	p.mu.Lock()
	connectCount, assignCount := p.connectCount, p.assignCount
	p.mu.Unlock()

	fmt.Fprintf(w, "program %q: %d state set(s), %d channel(s), assigned=%d connected=%d\n",
		p.Name, len(p.StateSets), len(p.Channels), assignCount, connectCount)
	for _, ss := range p.StateSets {
		cur := ss.states[ss.currentState].Name
		prev := "-"
		if ss.prevState >= 0 && ss.prevState < len(ss.states) {
			prev = ss.states[ss.prevState].Name
		}
		fmt.Fprintf(w, "  state set %q: state=%s prev=%s\n", ss.Name, cur, prev)
	}
	for _, ch := range p.Channels {
		flagDesc := ""
		if ch.eventFlag != 0 {
			if name := p.Flags.Name(ch.eventFlag); name != "" {
				flagDesc = fmt.Sprintf(" flag=%s", name)
			} else {
				flagDesc = fmt.Sprintf(" flag=%d", ch.eventFlag)
			}
		}
		fmt.Fprintf(w, "  channel %q -> %q connected=%v assigned=%v status=%d severity=%d%s\n",
			ch.VarName, ch.resolvedName, ch.Connected(), ch.Assigned(), ch.lastStatus, ch.lastSeverity, flagDesc)
	}
}
