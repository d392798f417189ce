package seqrt

import (
	"sync"
	"time"

	"github.com/ctlseq/seqrt/internal/goroutineid"
	"github.com/ctlseq/seqrt/internal/ratelimit"
)

// Channel is the runtime's mutable PV binding for one compiler-declared
// variable (spec §3 "Channel (PV binding)", §4.3). Every field below is
// guarded by mu; the provider may call back on its own goroutine, so every
// read or write of connection/value/status state goes through the lock
// (spec §5 shared-resource table: "channel metadata... channel mutex").
type Channel struct {
	desc ChannelDescriptor

	VarName      string
	resolvedName string
	count        int

	mu              sync.Mutex
	handle          PVHandle
	connected       bool
	assigned        bool
	gotFirstMonitor bool

	value []byte

	lastStatus   int
	lastSeverity int
	lastTime     time.Time
	lastErr      error

	dirty       map[int]struct{} // SS index -> pending commit
	getComplete map[int]bool
	subscribers []int // SS indices with a variable bound to this channel, set by the supervisor during wiring

	eventFlag int // 0 = unbound
	syncQ     *SyncQueue

	getSem chan getResult
	putSem chan putResult

	lostUpdates int

	program  *Program
	provider PVProvider

	// reconnectLimiter paces background reconnect retries after a failed
	// Assign, so a permanently-down PV cannot busy-loop the goroutine
	// retrying it (idiom grounded on the pack's catrate sliding-window
	// limiter, scoped down in internal/ratelimit).
	reconnectLimiter *ratelimit.Limiter
}

type getResult struct {
	value []byte
	meta  PVMeta
	err   error
}

type putResult struct {
	meta PVMeta
	err  error
}

func newChannel(p *Program, provider PVProvider, desc ChannelDescriptor, resolvedName string) *Channel {
	return &Channel{
		desc:         desc,
		VarName:      desc.VarName,
		resolvedName: resolvedName,
		count:        desc.VarCount,
		value:        make([]byte, pvTypeSize(desc.VarType)*maxInt(desc.VarCount, 1)),
		dirty:        make(map[int]struct{}),
		getComplete:  make(map[int]bool),
		eventFlag:    desc.EventFlag,
		getSem:           make(chan getResult, 1),
		putSem:           make(chan putResult, 1),
		program:          p,
		provider:         provider,
		reconnectLimiter: ratelimit.New(time.Second, 5),
	}
}

func pvTypeSize(t PVType) int {
	switch t {
	case PVChar, PVUnsignedChar, PVString:
		return 1
	case PVShort, PVUnsignedShort:
		return 2
	case PVInt, PVUnsignedInt, PVFloat:
		return 4
	case PVLong, PVUnsignedLong, PVDouble:
		return 8
	default:
		return 1
	}
}

// Assign binds (or rebinds) the channel to its resolved PV name (spec §4.3
// "assign"), issuing a provider VarCreate and, on success, incrementing the
// program's assignCount. A failed VarCreate is not fatal to the supervisor:
// it schedules a rate-limited background retry (reconnectRetryLoop) instead
// of returning a permanent failure, since a PV that is briefly unreachable
// at startup should still connect once it appears.
func (c *Channel) Assign() error {
	h, err := c.provider.VarCreate(c.resolvedName, c.connectedCallback)
	if err != nil {
		go c.reconnectRetryLoop()
		return WrapError("seqrt: assign "+c.resolvedName, err)
	}
	c.mu.Lock()
	c.handle = h
	c.assigned = true
	c.mu.Unlock()
	c.program.incAssign(1)

	if c.desc.Monitor || c.desc.Queued {
		if err := c.provider.VarMonitorOn(h, c.desc.VarType, c.monitorCallback); err != nil {
			return WrapError("seqrt: monitor-on "+c.resolvedName, err)
		}
	}
	return nil
}

// reconnectRetryLoop retries a failed Assign, paced by reconnectLimiter, until
// it succeeds or the program's termination signal fires. Each retry attempt
// still costs a token, so a PV that keeps failing immediately is throttled
// to the limiter's rate rather than spinning the goroutine.
func (c *Channel) reconnectRetryLoop() {
	for {
		if c.program.term.Requested() {
			return
		}
		if !c.reconnectLimiter.Wait(time.Second) {
			continue
		}
		if c.Assigned() {
			return
		}
		h, err := c.provider.VarCreate(c.resolvedName, c.connectedCallback)
		if err != nil {
			continue
		}
		c.mu.Lock()
		c.handle = h
		c.assigned = true
		c.mu.Unlock()
		c.program.incAssign(1)

		if c.desc.Monitor || c.desc.Queued {
			if err := c.provider.VarMonitorOn(h, c.desc.VarType, c.monitorCallback); err != nil {
				c.program.logger.Warn().Err(err).Str("channel", c.resolvedName).Msg("reconnect monitor-on failed")
			}
		}
		return
	}
}

// connectedCallback is invoked by the provider on connection-state changes
// (spec §4.3 "connectedCallback"). It drives the program's connectCount and
// (when every channel has connected and delivered its first monitor) the
// program's startup barrier via Program.checkBarrier.
func (c *Channel) connectedCallback(connected bool, meta PVMeta) {
	c.mu.Lock()
	was := c.connected
	c.connected = connected
	c.lastStatus, c.lastSeverity, c.lastTime = meta.Status, meta.Severity, meta.Timestamp
	c.mu.Unlock()

	switch {
	case connected && !was:
		c.program.incConnect(1)
	case !connected && was:
		c.program.incConnect(-1)
	}
	c.program.checkBarrier()
}

// monitorCallback delivers an asynchronous PV update (spec §4.3
// "monitorCallback"). In safe mode it marks the channel dirty for every
// subscribed SS (c.subscribers) so each such fiber commits the value into its own shadow at its next cycle
// boundary; in non-safe mode it writes the shared variable area directly
// (through the program lock). A queue-bound channel instead pushes into its
// SyncQueue and never marks dirty.
func (c *Channel) monitorCallback(value []byte, meta PVMeta) {
	c.mu.Lock()
	copy(c.value, value)
	c.lastStatus, c.lastSeverity, c.lastTime = meta.Status, meta.Severity, meta.Timestamp
	firstMonitor := !c.gotFirstMonitor
	c.gotFirstMonitor = true

	if c.syncQ != nil {
		c.mu.Unlock()
		c.syncQ.push(value, meta)
		if firstMonitor {
			c.program.onFirstMonitor()
		}
		return
	}

	if c.program.Options.SafeMode {
		for _, ssIdx := range c.subscribers {
			c.dirty[ssIdx] = struct{}{}
		}
	} else {
		c.program.mu.Lock()
		writeVar(c.program.Vars, c.desc.VarOffset, value)
		c.program.mu.Unlock()
	}
	flag := c.eventFlag
	c.mu.Unlock()

	if firstMonitor {
		c.program.onFirstMonitor()
	}
	if flag != 0 {
		c.program.Flags.Set(flag)
	}
}

func writeVar(vars []byte, offset int, value []byte) {
	if offset < 0 || offset+len(value) > len(vars) {
		return
	}
	copy(vars[offset:offset+len(value)], value)
}

// commitDirty copies the channel's latest value into dst (an SS's shadow
// or the program's variable area) if it has a pending update for ssIdx,
// clearing the dirty bit (spec §4.5 step 3a, §4.3 "safe mode").
func (c *Channel) commitDirty(ssIdx int, dst []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dirty[ssIdx]; !ok {
		return false
	}
	delete(c.dirty, ssIdx)
	writeVar(dst, c.desc.VarOffset, c.value)
	return true
}

// Get issues a provider get, blocking the calling fiber on the channel's
// semaphore until the completion callback fires or timeout elapses (spec
// §4.3 "get"). Zero timeout means block forever.
func (c *Channel) Get(ssIdx int, timeout time.Duration) ([]byte, error) {
	c.assertFiberAffinity(ssIdx)
	c.mu.Lock()
	if !c.assigned {
		c.mu.Unlock()
		return nil, ErrChannelUnassigned
	}
	handle := c.handle
	c.mu.Unlock()

	if err := c.provider.VarGet(handle, c.desc.VarType, c.count, func(value []byte, meta PVMeta, err error) {
		c.getSem <- getResult{value: value, meta: meta, err: err}
	}, timeout); err != nil {
		return nil, WrapError("seqrt: pvGet "+c.resolvedName, err)
	}

	if timeout <= 0 {
		res := <-c.getSem
		return c.finishGet(ssIdx, res)
	}
	select {
	case res := <-c.getSem:
		return c.finishGet(ssIdx, res)
	case <-time.After(timeout):
		return nil, &OperationError{Channel: c.resolvedName, Cause: ErrTimeout}
	}
}

func (c *Channel) finishGet(ssIdx int, res getResult) ([]byte, error) {
	c.mu.Lock()
	c.getComplete[ssIdx] = true
	if res.err == nil {
		c.lastStatus, c.lastSeverity, c.lastTime = res.meta.Status, res.meta.Severity, res.meta.Timestamp
	}
	c.mu.Unlock()
	if res.err != nil {
		return nil, &OperationError{Channel: c.resolvedName, Status: res.meta.Status, Severity: res.meta.Severity, Cause: res.err}
	}
	return res.value, nil
}

// GetComplete reports whether a Get issued for ssIdx has received its
// completion callback (spec §4.3 "complete?"). Get always blocks; there is
// no asynchronous Get, and the flag is never cleared once set.
func (c *Channel) GetComplete(ssIdx int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getComplete[ssIdx]
}

// Put issues a provider put, blocking until acknowledged or timeout (spec
// §4.3 "put"). ssIdx identifies the calling state set, used only for the
// debug fiber-affinity assertion below.
func (c *Channel) Put(ssIdx int, value []byte, timeout time.Duration) error {
	c.assertFiberAffinity(ssIdx)
	c.mu.Lock()
	if !c.assigned {
		c.mu.Unlock()
		return ErrChannelUnassigned
	}
	handle := c.handle
	c.mu.Unlock()

	if err := c.provider.VarPut(handle, c.desc.VarType, value, func(meta PVMeta, err error) {
		c.putSem <- putResult{meta: meta, err: err}
	}, timeout); err != nil {
		return WrapError("seqrt: pvPut "+c.resolvedName, err)
	}

	var res putResult
	if timeout <= 0 {
		res = <-c.putSem
	} else {
		select {
		case res = <-c.putSem:
		case <-time.After(timeout):
			return &OperationError{Channel: c.resolvedName, Cause: ErrTimeout}
		}
	}
	if res.err != nil {
		return &OperationError{Channel: c.resolvedName, Status: res.meta.Status, Severity: res.meta.Severity, Cause: res.err}
	}
	c.mu.Lock()
	c.lastStatus, c.lastSeverity, c.lastTime = res.meta.Status, res.meta.Severity, res.meta.Timestamp
	c.mu.Unlock()
	return nil
}

// assertFiberAffinity logs (never panics — an assertion firing should be
// loud but not take down a running control program) if a synchronous
// pvGet/pvPut for ssIdx is issued from a goroutine other than that state
// set's own fiber (spec §5 shared-resource table: synchronous pv ops are
// issued by the owning SS fiber only). Only checked when the program's
// Debug option is set, since goroutineid.Current() parses a stack trace and
// is not something every pvGet/pvPut call should pay for in production.
func (c *Channel) assertFiberAffinity(ssIdx int) {
	if !c.program.Options.Debug {
		return
	}
	if ssIdx < 0 || ssIdx >= len(c.program.StateSets) {
		return
	}
	ss := c.program.StateSets[ssIdx]
	if ss.ownerGID == 0 {
		return
	}
	if got := goroutineid.Current(); got != ss.ownerGID {
		c.program.logger.Warn().
			Str("channel", c.resolvedName).
			Uint64("expected_goroutine", ss.ownerGID).
			Uint64("actual_goroutine", got).
			Msg("pvGet/pvPut issued off the owning state set's fiber")
	}
}

// Connected reports whether the channel currently has a live PV connection.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Assigned reports whether Assign has completed successfully.
func (c *Channel) Assigned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assigned
}

// Status, Severity and Timestamp are the last-reported provider metadata
// for this channel (spec §4.3 "pvStatus/severity/timestamp"), snapshot-read
// under the channel lock.
func (c *Channel) Status() int { c.mu.Lock(); defer c.mu.Unlock(); return c.lastStatus }

func (c *Channel) Severity() int { c.mu.Lock(); defer c.mu.Unlock(); return c.lastSeverity }

func (c *Channel) Timestamp() time.Time { c.mu.Lock(); defer c.mu.Unlock(); return c.lastTime }

// Value copies out the channel's current raw value under lock.
func (c *Channel) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.value))
	copy(out, c.value)
	return out
}

// LostUpdates returns the number of monitor payloads this channel dropped
// because its bound SyncQueue was full (spec §4.7).
func (c *Channel) LostUpdates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lostUpdates
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
