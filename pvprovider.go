package seqrt

import (
	"context"
	"time"
)

// PVType enumerates the scalar/array element types a Channel can bind to
// (spec §4.3, §6: "variable type string from a fixed set").
type PVType int

const (
	PVChar PVType = iota
	PVShort
	PVInt
	PVLong
	PVUnsignedChar
	PVUnsignedShort
	PVUnsignedInt
	PVUnsignedLong
	PVFloat
	PVDouble
	PVString
)

// PVMeta carries the status/severity/timestamp triple every provider
// callback reports alongside a value (spec §6).
type PVMeta struct {
	Status    int
	Severity  int
	Timestamp time.Time
}

// ConnectionCallback is invoked by the provider when a channel's connection
// state changes.
type ConnectionCallback func(connected bool, meta PVMeta)

// GetCallback completes an asynchronous pvVarGet.
type GetCallback func(value []byte, meta PVMeta, err error)

// PutCallback completes an asynchronous pvVarPut.
type PutCallback func(meta PVMeta, err error)

// MonitorCallback delivers an asynchronous PV update.
type MonitorCallback func(value []byte, meta PVMeta)

// PVHandle identifies one provider-side variable binding.
type PVHandle interface{}

// PVProvider is the narrow capability set the runtime consumes from a PV
// transport client (spec §6: "channel-access-style"); the runtime never
// speaks any wire format itself, only this interface.
type PVProvider interface {
	// CreateContext establishes the provider's process-wide (or
	// program-wide, depending on the provider) connection context. It is
	// called once, from the auxiliary fiber's own goroutine, since
	// channel-access-style clients require calls to originate from a
	// single, consistent thread.
	CreateContext(ctx context.Context) error
	// DestroyContext tears down the context created by CreateContext.
	DestroyContext() error

	// VarCreate binds name, invoking cb on every connection-state change.
	VarCreate(name string, cb ConnectionCallback) (PVHandle, error)
	// VarDestroy releases a handle obtained from VarCreate.
	VarDestroy(h PVHandle) error

	// VarGet issues an asynchronous get; cb fires from a provider-owned
	// goroutine no later than timeout after the call (or with a timeout
	// error).
	VarGet(h PVHandle, typ PVType, count int, cb GetCallback, timeout time.Duration) error
	// VarPut issues an asynchronous put of value.
	VarPut(h PVHandle, typ PVType, value []byte, cb PutCallback, timeout time.Duration) error

	// VarMonitorOn subscribes to asynchronous updates.
	VarMonitorOn(h PVHandle, typ PVType, cb MonitorCallback) error
	// VarMonitorOff cancels a subscription established by VarMonitorOn.
	VarMonitorOff(h PVHandle) error
}

// Flusher is an optional capability a PVProvider may additionally implement:
// a provider whose transport batches outbound traffic (gets/puts/monitor
// acks) can expose Flush so the auxiliary fiber can force a send instead of
// waiting for the transport's own batching interval — this is not named in
// spec.md's interface list but is present in the original sequencer's PV
// provider contract (ca_flush_io) and is worth carrying forward since the
// auxiliary fiber's poll loop (auxiliary.go) already has a natural place
// to call it periodically.
type Flusher interface {
	Flush() error
}

// providerRegistry maps a pvsys macro name ("ca", "test", ...) to a factory
// producing a fresh PVProvider for one program, mirroring the original
// runtime's provider-name lookup (spec §6 "pvsys (provider name, default
// ca)").
var providerRegistry = struct {
	factories map[string]func() PVProvider
}{factories: make(map[string]func() PVProvider)}

// RegisterPVProvider makes a PVProvider factory available under name, for
// later selection via the pvsys macro / WithPVSystem.
func RegisterPVProvider(name string, factory func() PVProvider) {
	providerRegistry.factories[name] = factory
}

// lookupPVProvider resolves name (defaulting to "ca", the channel-access
// provider name the original runtime defaults to) to a fresh provider
// instance.
func lookupPVProvider(name string) (PVProvider, error) {
	if name == "" {
		name = "ca"
	}
	factory, ok := providerRegistry.factories[name]
	if !ok {
		return nil, WrapError("pvsys "+name, ErrUnknownPVSystem)
	}
	return factory(), nil
}
